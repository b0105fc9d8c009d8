package vision

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"strconv"

	"gocv.io/x/gocv"
)

// MaskCount is the number of sectors of the loading ring.
const MaskCount = 8

var ErrMasks = errors.New("mask images must exist from 0.png to 7.png")

var (
	// PrimaryReference is the pink leading segment of the loading ring.
	PrimaryReference = color.RGBA{0xc7, 0x2a, 0x74, 0xff}
	// SecondaryReference is the orange segment trailing it.
	SecondaryReference = color.RGBA{0xa8, 0x60, 0x20, 0xff}
)

// PrimaryWeight is the share of the primary colour distance in the score.
const PrimaryWeight = 0.95

// Classifier tells which of the eight sectors of the loading ring currently
// holds the pink segment.
type Classifier struct {
	size      image.Point
	masks     []gocv.Mat
	primary   []gocv.Mat
	secondary []gocv.Mat
}

// NewClassifier takes ownership of masks, which must be MaskCount equally
// sized images. They are closed when it fails.
func NewClassifier(masks []gocv.Mat) (*Classifier, error) {
	if err := checkMasks(masks); err != nil {
		for i := range masks {
			masks[i].Close()
		}
		return nil, err
	}
	size := image.Pt(masks[0].Cols(), masks[0].Rows())
	for i, m := range masks {
		if m.Channels() == 1 {
			bgr := gocv.NewMat()
			gocv.CvtColor(m, &bgr, gocv.ColorGrayToBGR)
			m.Close()
			masks[i] = bgr
		}
	}

	c := &Classifier{size: size, masks: masks}
	c.primary = c.maskedReferences(PrimaryReference)
	c.secondary = c.maskedReferences(SecondaryReference)
	return c, nil
}

func checkMasks(masks []gocv.Mat) error {
	if len(masks) != MaskCount {
		return fmt.Errorf("%w: got %d", ErrMasks, len(masks))
	}
	size := image.Pt(masks[0].Cols(), masks[0].Rows())
	for i, m := range masks {
		if m.Empty() || m.Cols() != size.X || m.Rows() != size.Y {
			return fmt.Errorf("%w: mask %d is %dx%d, want %dx%d", ErrMasks, i, m.Cols(), m.Rows(), size.X, size.Y)
		}
	}
	return nil
}

func (c *Classifier) maskedReferences(col color.RGBA) []gocv.Mat {
	ref := solid(c.size, col)
	defer ref.Close()

	out := make([]gocv.Mat, len(c.masks))
	for i, mask := range c.masks {
		out[i] = gocv.NewMat()
		gocv.BitwiseAnd(ref, mask, &out[i])
	}
	return out
}

func solid(size image.Point, col color.RGBA) gocv.Mat {
	return gocv.NewMatWithSizeFromScalar(gocv.NewScalar(float64(col.B), float64(col.G), float64(col.R), 0), size.Y, size.X, gocv.MatTypeCV8UC3)
}

// Size is the canonical size frames are scaled to.
func (c *Classifier) Size() image.Point {
	return c.size
}

// Classify returns the sector closest in colour to the references together
// with the score of every sector (lower is closer).
func (c *Classifier) Classify(frame gocv.Mat) (int, []float64, error) {
	if frame.Empty() || frame.Channels() != 3 {
		return 0, nil, errors.New("classifier needs a colour frame")
	}

	resized := gocv.NewMat()
	defer resized.Close()
	gocv.Resize(frame, &resized, c.size, 0, 0, gocv.InterpolationLinear)

	masked := gocv.NewMat()
	defer masked.Close()

	scores := make([]float64, len(c.masks))
	best := 0
	for i, mask := range c.masks {
		gocv.BitwiseAnd(resized, mask, &masked)

		primary, err := CompareColor(masked, c.primary[i])
		if err != nil {
			return 0, nil, err
		}
		secondary, err := CompareColor(masked, c.secondary[i])
		if err != nil {
			return 0, nil, err
		}
		scores[i] = primary*PrimaryWeight + secondary*(1-PrimaryWeight)
		if scores[i] < scores[best] {
			best = i
		}
	}
	return best, scores, nil
}

func (c *Classifier) Close() {
	for _, set := range [][]gocv.Mat{c.masks, c.primary, c.secondary} {
		for _, m := range set {
			m.Close()
		}
	}
}

// CompareColor is the mean over all pixels of the squared RGB distance, with
// channels scaled to [0,1] and averaged. Identical images give 0.
func CompareColor(a, b gocv.Mat) (float64, error) {
	if a.Rows() != b.Rows() || a.Cols() != b.Cols() {
		return 0, errors.New("attempted to compare images of different sizes")
	}
	if a.Type() != gocv.MatTypeCV8UC3 || b.Type() != gocv.MatTypeCV8UC3 {
		return 0, errors.New("attempted to compare images that are not 8 bit colour")
	}

	pa, pb := a.ToBytes(), b.ToBytes()
	total := 0.0
	for i := 0; i+2 < len(pa); i += 3 {
		d0 := float64(pa[i])/255 - float64(pb[i])/255
		d1 := float64(pa[i+1])/255 - float64(pb[i+1])/255
		d2 := float64(pa[i+2])/255 - float64(pb[i+2])/255
		total += (d0*d0 + d1*d1 + d2*d2) / 3
	}
	return total / float64(a.Rows()*a.Cols()), nil
}

// LoadMasks reads 0.png to 7.png from dir.
func LoadMasks(dir string) ([]gocv.Mat, error) {
	masks := make([]gocv.Mat, 0, MaskCount)
	fail := func(err error) ([]gocv.Mat, error) {
		for _, m := range masks {
			m.Close()
		}
		return nil, err
	}
	for i := 0; i < MaskCount; i++ {
		path := filepath.Join(dir, strconv.Itoa(i)+".png")
		if _, err := os.Stat(path); err != nil {
			return fail(fmt.Errorf("%w: %v", ErrMasks, err))
		}
		m := gocv.IMRead(path, gocv.IMReadColor)
		if m.Empty() {
			m.Close()
			return fail(fmt.Errorf("%w: cannot decode %s", ErrMasks, path))
		}
		masks = append(masks, m)
	}
	return masks, nil
}

// SectorMasks draws the canonical mask set: eight 45 degree slices of a ring
// of the given diameter, slice 0 starting at twelve o'clock and going clockwise.
func SectorMasks(size int) []gocv.Mat {
	center := image.Pt(size/2, size/2)
	outer := size / 2
	inner := outer / 2

	white := color.RGBA{0xff, 0xff, 0xff, 0}
	black := color.RGBA{0, 0, 0, 0}

	masks := make([]gocv.Mat, MaskCount)
	for i := range masks {
		m := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(0, 0, 0, 0), size, size, gocv.MatTypeCV8UC3)
		start := float64(i*360/MaskCount) - 90
		gocv.Ellipse(&m, center, image.Pt(outer, outer), 0, start, start+360/MaskCount, white, -1)
		gocv.Circle(&m, center, inner, black, -1)
		masks[i] = m
	}
	return masks
}

// SaveMasks writes masks as 0.png, 1.png, ... into dir.
func SaveMasks(dir string, masks []gocv.Mat) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	for i, m := range masks {
		path := filepath.Join(dir, strconv.Itoa(i)+".png")
		if !gocv.IMWrite(path, m) {
			return fmt.Errorf("could not write %s", path)
		}
	}
	return nil
}
