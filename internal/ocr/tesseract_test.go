package ocr

import (
	"image"
	"image/color"
	"testing"

	"github.com/otiai10/gosseract/v2"
	"github.com/stretchr/testify/assert"
	"gocv.io/x/gocv"

	"github.com/lkarlslund/orasidsync/internal/config"
)

func TestDefaultsReadOneLineOfDigits(t *testing.T) {
	cfg := config.Default().OCR
	assert.Equal(t, int(gosseract.PSM_SINGLE_LINE), cfg.PageSegMode)
	assert.Equal(t, config.Digits, cfg.Whitelist)
}

func TestRecognizeDigits(t *testing.T) {
	tess, err := NewTesseract(config.Default().OCR)
	if err != nil {
		t.Skipf("tesseract not usable here: %v", err)
	}
	defer tess.Close()

	img := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(255, 0, 0, 0), 80, 240, gocv.MatTypeCV8U)
	defer img.Close()
	gocv.PutText(&img, "1234", image.Pt(20, 60), gocv.FontHersheySimplex, 1.6, color.RGBA{0, 0, 0, 0}, 3)

	text, err := tess.Recognize(img)
	if err != nil {
		// Missing traineddata only shows up once the engine initializes.
		t.Skipf("tesseract not usable here: %v", err)
	}
	assert.Equal(t, "1234", text)
}
