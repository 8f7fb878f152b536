package soundcontrol

import (
	"fmt"
	"syscall"
	"unsafe"

	ole "github.com/go-ole/go-ole"
)

// IPolicyConfig is undocumented; the CLSID and IID below are the ones every
// Windows release since Vista answers to
var (
	clsidPolicyConfigClient = ole.NewGUID("{870af99c-171d-4f9e-af0d-e63df40c2bc9}")
	iidPolicyConfig         = ole.NewGUID("{f8679f50-850a-41cf-9c72-430f290290c8}")
)

type iPolicyConfig struct {
	ole.IUnknown
}

type iPolicyConfigVtbl struct {
	ole.IUnknownVtbl
	GetMixFormat          uintptr
	GetDeviceFormat       uintptr
	ResetDeviceFormat     uintptr
	SetDeviceFormat       uintptr
	GetProcessingPeriod   uintptr
	SetProcessingPeriod   uintptr
	GetShareMode          uintptr
	SetShareMode          uintptr
	GetPropertyValue      uintptr
	SetPropertyValue      uintptr
	SetDefaultEndpoint    uintptr
	SetEndpointVisibility uintptr
}

func (v *iPolicyConfig) VTable() *iPolicyConfigVtbl {
	return (*iPolicyConfigVtbl)(unsafe.Pointer(v.RawVTable))
}

func (v *iPolicyConfig) SetDefaultEndpoint(endpointID string, role uint32) error {
	id, err := syscall.UTF16PtrFromString(endpointID)
	if err != nil {
		return fmt.Errorf("encode endpoint id: %w", err)
	}

	hr, _, _ := syscall.SyscallN(
		v.VTable().SetDefaultEndpoint,
		uintptr(unsafe.Pointer(v)),
		uintptr(unsafe.Pointer(id)),
		uintptr(role),
	)
	if hr != 0 {
		return ole.NewError(hr)
	}

	return nil
}

// setDefaultEndpoint must be called from a thread with COM initialized
func setDefaultEndpoint(endpointID string, role uint32) error {
	unk, err := ole.CreateInstance(clsidPolicyConfigClient, iidPolicyConfig)
	if err != nil {
		return fmt.Errorf("create policy config client: %w", err)
	}

	policyConfig := (*iPolicyConfig)(unsafe.Pointer(unk))
	defer policyConfig.Release()

	return policyConfig.SetDefaultEndpoint(endpointID, role)
}
