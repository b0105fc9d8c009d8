//go:build windows

package emulator

import (
	"context"
	"errors"
	"fmt"
	"image"
	"time"

	"github.com/lxn/win"
	"gocv.io/x/gocv"

	"github.com/lkarlslund/orasidsync/internal/capture"
	"github.com/lkarlslund/orasidsync/internal/input"
)

type Config struct {
	MainWindowName string
	// Child window classes, empty means the main window itself.
	InputWindowClass  string
	ScreenWindowClass string

	Keys map[input.Key]uintptr
}

// Citra uses the emulator's default keyboard layout.
var Citra = Config{
	MainWindowName: "Citra",

	Keys: map[input.Key]uintptr{
		input.A:      'X',
		input.B:      'Z',
		input.X:      'S',
		input.Y:      'A',
		input.L:      'Q',
		input.R:      'W',
		input.Start:  'M',
		input.Select: 'N',
		input.Up:     'T',
		input.Down:   'G',
		input.Left:   'F',
		input.Right:  'H',
		input.Home:   win.VK_HOME,
	},
}

type Emulator struct {
	Config Config

	mainwnd, inputwnd, screenwnd win.HWND
}

var ErrWindowGone = errors.New("emulator window is gone")

func Open(ec Config) (*Emulator, error) {
	e := &Emulator{Config: ec}

	hwnd, err := findWindow(e.Config.MainWindowName)
	if err != nil {
		return nil, fmt.Errorf("could not find emulator: %w", err)
	}
	e.mainwnd = hwnd
	e.inputwnd, e.screenwnd = hwnd, hwnd

	if e.Config.InputWindowClass != "" {
		if e.inputwnd = findChild(hwnd, e.Config.InputWindowClass); e.inputwnd == 0 {
			return nil, errors.New("input window not found")
		}
	}

	if e.Config.ScreenWindowClass != "" {
		if e.screenwnd = findChild(hwnd, e.Config.ScreenWindowClass); e.screenwnd == 0 {
			return nil, errors.New("screen window not found")
		}
	}

	return e, nil
}

func (e *Emulator) IsForeground() bool {
	return win.GetForegroundWindow() == e.mainwnd
}

func (e *Emulator) Rect() (image.Rectangle, error) {
	return clientRect(e.screenwnd)
}

func (e *Emulator) Capture() (image.Image, error) {
	if !isWindow(e.screenwnd) {
		return nil, ErrWindowGone
	}
	r, err := e.Rect()
	if err != nil {
		return nil, err
	}
	return captureWindow(e.screenwnd, r)
}

// CurrentFrame captures the emulator screen as a BGR Mat.
func (e *Emulator) CurrentFrame() (gocv.Mat, error) {
	img, err := e.Capture()
	if err != nil {
		if errors.Is(err, ErrWindowGone) {
			return gocv.NewMat(), capture.ErrDisconnected
		}
		return gocv.NewMat(), err
	}
	return gocv.ImageToMatRGB(img)
}

func (e *Emulator) vk(k input.Key) (uintptr, error) {
	vk, found := e.Config.Keys[k]
	if !found {
		return 0, fmt.Errorf("no key bound to %s", k)
	}
	return vk, nil
}

func (e *Emulator) KeyDown(key uintptr) {
	win.PostMessage(e.inputwnd, win.WM_KEYDOWN, key, 0)
}

func (e *Emulator) KeyUp(key uintptr) {
	win.PostMessage(e.inputwnd, win.WM_KEYUP, key, 0)
}

// Run presses every operation of seq, holding its keys down for Hold. The
// emulator ignores input while it is in the background, so it is brought
// back first.
func (e *Emulator) Run(ctx context.Context, seq input.Sequence) error {
	for _, o := range seq {
		if !isWindow(e.inputwnd) {
			return ErrWindowGone
		}
		if !e.IsForeground() {
			e.Activate()
		}

		keys := make([]uintptr, 0, len(o.Keys))
		for _, k := range o.Keys {
			vk, err := e.vk(k)
			if err != nil {
				return err
			}
			keys = append(keys, vk)
		}

		for _, vk := range keys {
			e.KeyDown(vk)
		}
		err := input.Sleep(ctx, o.Hold)
		for _, vk := range keys {
			e.KeyUp(vk)
		}
		if err != nil {
			return err
		}
		if err := input.Sleep(ctx, o.Gap); err != nil {
			return err
		}
	}
	return nil
}

func (e *Emulator) Activate() {
	win.SetForegroundWindow(e.mainwnd)
	win.SendMessage(e.mainwnd, win.WM_ACTIVATE, win.WA_CLICKACTIVE, 0)
	win.SendMessage(e.mainwnd, win.WM_ACTIVATE, win.WA_ACTIVE, 0)
	time.Sleep(time.Millisecond * 5)
}
