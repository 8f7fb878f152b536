package icon

// SoundControlLogo is the tray and notification icon
var SoundControlLogo = []byte{
	0x00, 0x00, 0x01, 0x00, 0x01, 0x00, 0x10, 0x10, 0x00, 0x00, 0x01, 0x00, 0x20, 0x00, 0x66, 0x00,
	0x00, 0x00, 0x16, 0x00, 0x00, 0x00, 0x89, 0x50, 0x4e, 0x47, 0x0d, 0x0a, 0x1a, 0x0a, 0x00, 0x00,
	0x00, 0x0d, 0x49, 0x48, 0x44, 0x52, 0x00, 0x00, 0x00, 0x10, 0x00, 0x00, 0x00, 0x10, 0x08, 0x06,
	0x00, 0x00, 0x00, 0x1f, 0xf3, 0xff, 0x61, 0x00, 0x00, 0x00, 0x2d, 0x49, 0x44, 0x41, 0x54, 0x78,
	0xda, 0x63, 0x60, 0x18, 0xb9, 0xe0, 0x3f, 0x10, 0x50, 0xa4, 0x98, 0x68, 0x03, 0xfe, 0x43, 0x01,
	0xba, 0x46, 0x9c, 0x06, 0xfc, 0xc7, 0x01, 0xd0, 0x0d, 0x1b, 0xce, 0x06, 0x50, 0x1c, 0x88, 0x54,
	0x8f, 0x46, 0xaa, 0x24, 0xa4, 0xc1, 0x0d, 0x00, 0x3a, 0xc1, 0xc7, 0x39, 0xae, 0xc9, 0x96, 0x11,
	0x00, 0x00, 0x00, 0x00, 0x49, 0x45, 0x4e, 0x44, 0xae, 0x42, 0x60, 0x82,
}

// EditConfig is the menu icon of the edit configuration item
var EditConfig = []byte{
	0x00, 0x00, 0x01, 0x00, 0x01, 0x00, 0x10, 0x10, 0x00, 0x00, 0x01, 0x00, 0x20, 0x00, 0x5f, 0x00,
	0x00, 0x00, 0x16, 0x00, 0x00, 0x00, 0x89, 0x50, 0x4e, 0x47, 0x0d, 0x0a, 0x1a, 0x0a, 0x00, 0x00,
	0x00, 0x0d, 0x49, 0x48, 0x44, 0x52, 0x00, 0x00, 0x00, 0x10, 0x00, 0x00, 0x00, 0x10, 0x08, 0x06,
	0x00, 0x00, 0x00, 0x1f, 0xf3, 0xff, 0x61, 0x00, 0x00, 0x00, 0x26, 0x49, 0x44, 0x41, 0x54, 0x78,
	0xda, 0x63, 0x60, 0x18, 0x08, 0xf0, 0xec, 0xd9, 0xb3, 0xff, 0x14, 0x69, 0x26, 0xdb, 0x00, 0x98,
	0x66, 0xb2, 0x0c, 0x18, 0xd5, 0x3c, 0xaa, 0x99, 0xf6, 0x49, 0x94, 0xe2, 0x0c, 0x42, 0x09, 0x00,
	0x00, 0xfd, 0xad, 0x84, 0xe5, 0x52, 0xc1, 0x58, 0x22, 0x00, 0x00, 0x00, 0x00, 0x49, 0x45, 0x4e,
	0x44, 0xae, 0x42, 0x60, 0x82,
}

// RefreshSessions is the menu icon of the re-scan item
var RefreshSessions = []byte{
	0x00, 0x00, 0x01, 0x00, 0x01, 0x00, 0x10, 0x10, 0x00, 0x00, 0x01, 0x00, 0x20, 0x00, 0x78, 0x00,
	0x00, 0x00, 0x16, 0x00, 0x00, 0x00, 0x89, 0x50, 0x4e, 0x47, 0x0d, 0x0a, 0x1a, 0x0a, 0x00, 0x00,
	0x00, 0x0d, 0x49, 0x48, 0x44, 0x52, 0x00, 0x00, 0x00, 0x10, 0x00, 0x00, 0x00, 0x10, 0x08, 0x06,
	0x00, 0x00, 0x00, 0x1f, 0xf3, 0xff, 0x61, 0x00, 0x00, 0x00, 0x3f, 0x49, 0x44, 0x41, 0x54, 0x78,
	0xda, 0x63, 0x60, 0xa0, 0x05, 0x78, 0xf6, 0xec, 0xd9, 0x7f, 0x64, 0x4c, 0x91, 0x66, 0x92, 0x0c,
	0x20, 0xdb, 0x56, 0x64, 0xcd, 0x14, 0xfb, 0x99, 0x22, 0x03, 0x28, 0x0e, 0x75, 0xb2, 0xd5, 0x0f,
	0x1e, 0x03, 0x88, 0x31, 0x04, 0xa7, 0x5a, 0x52, 0x0d, 0x20, 0x39, 0x3a, 0x89, 0x76, 0x25, 0xb6,
	0xa4, 0x4c, 0x72, 0x3a, 0xa1, 0x48, 0x33, 0xa9, 0x00, 0x00, 0x3f, 0x12, 0xe1, 0x2e, 0xdc, 0x8c,
	0x8f, 0x21, 0x00, 0x00, 0x00, 0x00, 0x49, 0x45, 0x4e, 0x44, 0xae, 0x42, 0x60, 0x82,
}
