// Package vision reads the trainer ID and the loading ring from captured frames.
package vision

import (
	"errors"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gocv.io/x/gocv"

	"github.com/lkarlslund/orasidsync/internal/capture"
)

// Recognizer turns a binarized single channel image into text.
type Recognizer interface {
	Recognize(img gocv.Mat) (string, error)
}

// Sample is one identifier read. A sample with OK false carries no value and
// must not be used as an observation.
type Sample struct {
	Value uint16
	OK    bool

	// Text is what the recognizer returned, Artifact where the frame was saved
	// when the read failed.
	Text     string
	Artifact string
}

func (s Sample) String() string {
	if !s.OK {
		return fmt.Sprintf("failed(%q)", s.Text)
	}
	return strconv.Itoa(int(s.Value))
}

var errNotNumeric = errors.New("not a 16 bit number")

// ErrRegion means the identifier region does not fit the picture, which no
// retry can cure.
var ErrRegion = errors.New("identifier region outside the picture")

func fits(rect image.Rectangle, frame gocv.Mat) error {
	bounds := image.Rect(0, 0, frame.Cols(), frame.Rows())
	if rect.Empty() || !rect.In(bounds) {
		return fmt.Errorf("%w: region %v, picture %v", ErrRegion, rect, bounds)
	}
	return nil
}

// CheckRegion grabs one frame from src and makes sure rect lies inside it.
func CheckRegion(src capture.Source, rect image.Rectangle) error {
	return capture.WithFrame(src, func(frame gocv.Mat) error {
		return fits(rect, frame)
	})
}

// Reader crops the identifier out of a frame and recognizes it.
type Reader struct {
	Rect image.Rectangle
	OCR  Recognizer
	// FailureDir receives the frames that could not be read. Empty disables it.
	FailureDir string
	Log        *zap.Logger

	now func() time.Time
}

func NewReader(rect image.Rectangle, ocr Recognizer, failureDir string, log *zap.Logger) *Reader {
	if log == nil {
		log = zap.NewNop()
	}
	return &Reader{Rect: rect, OCR: ocr, FailureDir: failureDir, Log: log, now: time.Now}
}

// Read takes the current frame from src and reads it. An unreadable
// identifier is a failed sample; a lost device or a region that does not fit
// the picture is an error.
func (r *Reader) Read(src capture.Source) (Sample, error) {
	var sample Sample
	err := capture.WithFrame(src, func(frame gocv.Mat) error {
		if !frame.Empty() {
			if err := fits(r.Rect, frame); err != nil {
				return err
			}
		}
		sample = r.ReadFrame(frame)
		return nil
	})
	switch {
	case err == nil:
		return sample, nil
	case errors.Is(err, ErrRegion), errors.Is(err, capture.ErrDisconnected):
		return Sample{}, err
	}
	r.Log.Warn("Cannot get frame", zap.Error(err))
	return Sample{}, nil
}

// ReadFrame never fails loudly; a bad read comes back with OK false and the
// source frame saved for later inspection.
func (r *Reader) ReadFrame(frame gocv.Mat) Sample {
	text, err := r.recognize(frame)
	if err == nil {
		var value uint16
		value, err = parseID(text)
		if err == nil {
			return Sample{Value: value, OK: true, Text: text}
		}
	}

	sample := Sample{Text: text}
	sample.Artifact = r.saveFailure(frame)
	r.Log.Warn("Cannot get ID from current frame",
		zap.String("text", text),
		zap.String("artifact", sample.Artifact),
		zap.Error(err))
	return sample
}

func (r *Reader) recognize(frame gocv.Mat) (string, error) {
	if frame.Empty() {
		return "", capture.ErrNoFrame
	}
	if err := fits(r.Rect, frame); err != nil {
		return "", err
	}

	id := frame.Region(r.Rect)
	defer id.Close()

	gray := gocv.NewMat()
	defer gray.Close()
	if id.Channels() == 1 {
		id.CopyTo(&gray)
	} else {
		gocv.CvtColor(id, &gray, gocv.ColorBGRToGray)
	}

	binary := gocv.NewMat()
	defer binary.Close()
	gocv.Threshold(gray, &binary, 0, 255, gocv.ThresholdBinary|gocv.ThresholdOtsu)

	invert := gocv.NewMat()
	defer invert.Close()
	gocv.BitwiseNot(binary, &invert)

	return r.OCR.Recognize(invert)
}

func parseID(text string) (uint16, error) {
	text = strings.TrimSpace(text)
	if text == "" || len(text) > 5 {
		return 0, errNotNumeric
	}
	for _, c := range text {
		if c < '0' || c > '9' {
			return 0, errNotNumeric
		}
	}
	v, err := strconv.ParseUint(text, 10, 16)
	if err != nil {
		return 0, errNotNumeric
	}
	return uint16(v), nil
}

func (r *Reader) saveFailure(frame gocv.Mat) string {
	if r.FailureDir == "" || frame.Empty() {
		return ""
	}
	if err := os.MkdirAll(r.FailureDir, 0o755); err != nil {
		r.Log.Warn("Cannot create failure directory", zap.Error(err))
		return ""
	}
	now := r.now()
	name := fmt.Sprintf("failed%s%03d-%s.png",
		now.Format("20060102150405"), now.Nanosecond()/int(time.Millisecond), uuid.NewString()[:8])
	path := filepath.Join(r.FailureDir, name)
	if !gocv.IMWrite(path, frame) {
		r.Log.Warn("Cannot save failed frame", zap.String("path", path))
		return ""
	}
	return path
}
