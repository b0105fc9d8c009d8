// Package capture supplies the latest video frame from the console.
package capture

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"gocv.io/x/gocv"
)

var (
	ErrDisconnected = errors.New("capture device disconnected")
	ErrNoFrame      = errors.New("no frame captured yet")
)

// Source hands out the most recent frame. The returned Mat belongs to the
// caller, who must Close it.
type Source interface {
	CurrentFrame() (gocv.Mat, error)
}

// WithFrame acquires a frame, runs fn on it and releases it on every path.
func WithFrame(src Source, fn func(frame gocv.Mat) error) error {
	frame, err := src.CurrentFrame()
	if err != nil {
		return err
	}
	defer frame.Close()
	return fn(frame)
}

// StallTimeout is how long a device may deliver no usable frame before it is
// considered gone. Capture cards drop frames, mostly right after opening.
const StallTimeout = 3 * time.Second

// grabber is the part of gocv.VideoCapture the grab loop uses.
type grabber interface {
	Read(m *gocv.Mat) bool
	Close() error
}

// Video keeps grabbing frames from a capture device in the background so
// CurrentFrame never waits on the device.
type Video struct {
	device grabber
	log    *zap.Logger
	stall  time.Duration

	lock      sync.Mutex
	last      gocv.Mat
	lastTime  time.Time
	err       error
	closing   chan struct{}
	finished  chan struct{}
	closeOnce sync.Once
}

// OpenVideo opens a capture device and starts reading from it.
func OpenVideo(device, width, height int, log *zap.Logger) (*Video, error) {
	if log == nil {
		log = zap.NewNop()
	}
	vc, err := gocv.OpenVideoCapture(device)
	if err != nil {
		return nil, fmt.Errorf("opening capture device %d: %w", device, err)
	}
	if width > 0 && height > 0 {
		vc.Set(gocv.VideoCaptureFrameWidth, float64(width))
		vc.Set(gocv.VideoCaptureFrameHeight, float64(height))
	}

	return newVideo(vc, StallTimeout, log), nil
}

func newVideo(device grabber, stall time.Duration, log *zap.Logger) *Video {
	v := &Video{
		device:   device,
		log:      log,
		stall:    stall,
		last:     gocv.NewMat(),
		closing:  make(chan struct{}),
		finished: make(chan struct{}),
	}
	go v.run()
	return v
}

func (v *Video) run() {
	defer close(v.finished)

	frame := gocv.NewMat()
	defer frame.Close()

	lastGood := time.Now()
	dropped := 0
	for {
		select {
		case <-v.closing:
			return
		default:
		}

		if ok := v.device.Read(&frame); !ok || frame.Empty() {
			dropped++
			if time.Since(lastGood) > v.stall {
				v.lock.Lock()
				v.err = ErrDisconnected
				v.lock.Unlock()
				v.log.Warn("Capture device stopped delivering frames", zap.Int("dropped", dropped))
				return
			}
			time.Sleep(10 * time.Millisecond)
			continue
		}
		if dropped > 0 {
			v.log.Debug("Capture device dropped frames", zap.Int("dropped", dropped))
			dropped = 0
		}
		lastGood = time.Now()

		v.lock.Lock()
		old := v.last
		v.last = frame.Clone()
		v.lastTime = time.Now()
		v.lock.Unlock()
		old.Close()
	}
}

// CurrentFrame returns a copy of the latest frame.
func (v *Video) CurrentFrame() (gocv.Mat, error) {
	v.lock.Lock()
	defer v.lock.Unlock()

	if v.err != nil {
		return gocv.NewMat(), v.err
	}
	if v.lastTime.IsZero() {
		return gocv.NewMat(), ErrNoFrame
	}
	return v.last.Clone(), nil
}

// LastFrameTime is when the newest frame arrived.
func (v *Video) LastFrameTime() time.Time {
	v.lock.Lock()
	defer v.lock.Unlock()
	return v.lastTime
}

// WaitReady blocks until the first frame has arrived or timeout passes.
func (v *Video) WaitReady(timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		v.lock.Lock()
		ready, err := !v.lastTime.IsZero(), v.err
		v.lock.Unlock()
		if err != nil {
			return err
		}
		if ready {
			return nil
		}
		time.Sleep(20 * time.Millisecond)
	}
	return ErrNoFrame
}

func (v *Video) Close() error {
	var err error
	v.closeOnce.Do(func() {
		close(v.closing)
		<-v.finished
		err = v.device.Close()

		v.lock.Lock()
		v.last.Close()
		v.lock.Unlock()
	})
	return err
}

// Static always returns the same picture, for offline diagnosis of saved frames.
type Static struct {
	frame gocv.Mat
}

// NewStatic takes ownership of frame.
func NewStatic(frame gocv.Mat) *Static {
	return &Static{frame: frame}
}

// LoadStatic reads an image file as a Source.
func LoadStatic(path string) (*Static, error) {
	frame := gocv.IMRead(path, gocv.IMReadColor)
	if frame.Empty() {
		frame.Close()
		return nil, fmt.Errorf("could not read image %s", path)
	}
	return NewStatic(frame), nil
}

func (s *Static) CurrentFrame() (gocv.Mat, error) {
	if s.frame.Empty() {
		return gocv.NewMat(), ErrNoFrame
	}
	return s.frame.Clone(), nil
}

func (s *Static) Close() error {
	return s.frame.Close()
}
