//go:build windows

package emulator

import (
	"fmt"
	"image"
	"syscall"
	"unsafe"

	"github.com/disintegration/gift"
	"github.com/lxn/win"
)

// Missing from lxn/win.
var (
	user32           = syscall.NewLazyDLL("user32.dll")
	procFindWindowEx = user32.NewProc("FindWindowExW")
	procIsWindow     = user32.NewProc("IsWindow")

	shcore                     = syscall.NewLazyDLL("shcore.dll")
	procSetProcessDpiAwareness = shcore.NewProc("SetProcessDpiAwareness")
)

const processPerMonitorDPIAware = 2

func init() {
	// Without this a scaled desktop reports shrunken client rects and the
	// capture comes out cropped.
	procSetProcessDpiAwareness.Call(processPerMonitorDPIAware)
}

func findWindow(name string) (win.HWND, error) {
	hwnd := win.FindWindow(nil, syscall.StringToUTF16Ptr(name))
	if hwnd == 0 {
		return 0, fmt.Errorf("window %q not found, is the emulator running?", name)
	}
	return hwnd, nil
}

// findChild returns the first child of parent with the given window class.
func findChild(parent win.HWND, class string) win.HWND {
	ret, _, _ := procFindWindowEx.Call(
		uintptr(parent), 0,
		uintptr(unsafe.Pointer(syscall.StringToUTF16Ptr(class))), 0)
	return win.HWND(ret)
}

// isWindow is false once the window has been destroyed.
func isWindow(hwnd win.HWND) bool {
	ret, _, _ := procIsWindow.Call(uintptr(hwnd))
	return ret != 0
}

func clientRect(hwnd win.HWND) (image.Rectangle, error) {
	var rect win.RECT
	if !win.GetClientRect(hwnd, &rect) {
		return image.Rectangle{}, fmt.Errorf("cannot get client area of window %x", hwnd)
	}
	return image.Rect(int(rect.Left), int(rect.Top), int(rect.Right), int(rect.Bottom)), nil
}

// captureWindow copies rect of the window's client area into an RGBA image.
func captureWindow(hwnd win.HWND, rect image.Rectangle) (image.Image, error) {
	width, height := rect.Dx(), rect.Dy()
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("window has no area (%dx%d)", width, height)
	}

	src := win.GetDC(hwnd)
	if src == 0 {
		return nil, fmt.Errorf("cannot get device context of window %x", hwnd)
	}
	defer win.ReleaseDC(hwnd, src)

	dst := win.CreateCompatibleDC(src)
	if dst == 0 {
		return nil, fmt.Errorf("cannot create memory device context")
	}
	defer win.DeleteDC(dst)

	header := win.BITMAPINFOHEADER{
		BiWidth:       int32(width),
		BiHeight:      int32(height),
		BiPlanes:      1,
		BiBitCount:    32,
		BiCompression: win.BI_RGB,
	}
	header.BiSize = uint32(unsafe.Sizeof(header))

	var bits unsafe.Pointer
	bitmap := win.CreateDIBSection(dst, &header, win.DIB_RGB_COLORS, &bits, 0, 0)
	if bitmap == 0 {
		return nil, fmt.Errorf("cannot create %dx%d bitmap", width, height)
	}
	defer win.DeleteObject(win.HGDIOBJ(bitmap))

	old := win.SelectObject(dst, win.HGDIOBJ(bitmap))
	defer win.SelectObject(dst, old)

	if !win.BitBlt(dst, 0, 0, int32(width), int32(height), src, int32(rect.Min.X), int32(rect.Min.Y), win.SRCCOPY) {
		return nil, fmt.Errorf("cannot copy window %x", hwnd)
	}

	return fromDIB(unsafe.Slice((*byte)(bits), width*height*4), width, height), nil
}

// fromDIB turns bottom-up BGRA rows into an upright opaque RGBA image.
func fromDIB(bgra []byte, width, height int) *image.RGBA {
	pix := make([]byte, len(bgra))
	for i := 0; i < len(pix); i += 4 {
		pix[i], pix[i+1], pix[i+2], pix[i+3] = bgra[i+2], bgra[i+1], bgra[i], 0xff
	}
	upside := &image.RGBA{Pix: pix, Stride: 4 * width, Rect: image.Rect(0, 0, width, height)}
	img := image.NewRGBA(upside.Bounds())
	gift.New(gift.FlipVertical()).Draw(img, upside)
	return img
}
