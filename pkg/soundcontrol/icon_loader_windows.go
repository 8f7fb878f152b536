package soundcontrol

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/png"
	"os"
	"syscall"
	"unsafe"

	"github.com/lxn/win"
	"go.uber.org/zap"

	"github.com/stalexteam/soundcontrol/pkg/soundcontrol/mixer"
	"github.com/stalexteam/soundcontrol/pkg/soundcontrol/util"
)

// ExtractIcon returns 1 for files that are not executables, DLLs or icon files
const extractIconNotAnImage = 1

var errIconBitmap = errors.New("read icon bitmap")

type shellIconLoader struct {
	logger *zap.SugaredLogger
}

func newIconLoader(logger *zap.SugaredLogger) mixer.IconLoader {
	return &shellIconLoader{logger: logger.Named("icon_loader")}
}

// LoadIcon renders the first icon of a file as PNG
func (l *shellIconLoader) LoadIcon(path string) (mixer.Icon, error) {
	if !util.FileExists(path) {
		return nil, fmt.Errorf("load icon from %s: %w", path, os.ErrNotExist)
	}

	fileName, err := syscall.UTF16PtrFromString(path)
	if err != nil {
		return nil, fmt.Errorf("encode icon path: %w", err)
	}

	hIcon := win.ExtractIcon(0, fileName, 0)
	if hIcon == 0 || uintptr(hIcon) == extractIconNotAnImage {
		return nil, nil
	}
	defer win.DestroyIcon(hIcon)

	img, err := iconImage(hIcon)
	if err != nil {
		l.logger.Debugw("Failed to read icon bitmap", "path", path, "error", err)
		return nil, err
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encode icon png: %w", err)
	}

	return mixer.Icon(buf.Bytes()), nil
}

func iconImage(hIcon win.HICON) (*image.NRGBA, error) {
	var info win.ICONINFO
	if !win.GetIconInfo(hIcon, &info) {
		return nil, fmt.Errorf("%w: GetIconInfo failed", errIconBitmap)
	}
	defer win.DeleteObject(win.HGDIOBJ(info.HbmMask))
	defer win.DeleteObject(win.HGDIOBJ(info.HbmColor))

	if info.HbmColor == 0 {
		return nil, fmt.Errorf("%w: monochrome icon", errIconBitmap)
	}

	var bitmap win.BITMAP
	if win.GetObject(win.HGDIOBJ(info.HbmColor), unsafe.Sizeof(bitmap), unsafe.Pointer(&bitmap)) == 0 {
		return nil, fmt.Errorf("%w: GetObject failed", errIconBitmap)
	}

	width, height := int(bitmap.BmWidth), int(bitmap.BmHeight)
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("%w: empty bitmap", errIconBitmap)
	}

	var bmi win.BITMAPINFO
	bmi.BmiHeader.BiSize = uint32(unsafe.Sizeof(bmi.BmiHeader))
	bmi.BmiHeader.BiWidth = int32(width)
	bmi.BmiHeader.BiHeight = -int32(height) // top-down rows
	bmi.BmiHeader.BiPlanes = 1
	bmi.BmiHeader.BiBitCount = 32
	bmi.BmiHeader.BiCompression = win.BI_RGB

	pixels := make([]byte, width*height*4)

	hdc := win.GetDC(0)
	defer win.ReleaseDC(0, hdc)

	if win.GetDIBits(hdc, info.HbmColor, 0, uint32(height), &pixels[0], &bmi, win.DIB_RGB_COLORS) == 0 {
		return nil, fmt.Errorf("%w: GetDIBits failed", errIconBitmap)
	}

	return bgraToNRGBA(pixels, width, height), nil
}

// bgraToNRGBA converts a 32 bit DIB. Icons without an alpha channel report
// every alpha byte as zero and are treated as opaque
func bgraToNRGBA(pixels []byte, width, height int) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, width, height))

	hasAlpha := false
	for i := 3; i < len(pixels); i += 4 {
		if pixels[i] != 0 {
			hasAlpha = true
			break
		}
	}

	for i := 0; i+3 < len(pixels) && i+3 < len(img.Pix); i += 4 {
		img.Pix[i] = pixels[i+2]
		img.Pix[i+1] = pixels[i+1]
		img.Pix[i+2] = pixels[i]

		if hasAlpha {
			img.Pix[i+3] = pixels[i+3]
		} else {
			img.Pix[i+3] = 0xff
		}
	}

	return img
}
