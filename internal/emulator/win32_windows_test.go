//go:build windows

package emulator

import (
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/lkarlslund/orasidsync/internal/input"
)

func TestFromDIB(t *testing.T) {
	// Two rows, bottom one first: blue then red, in BGRA.
	bgra := []byte{
		255, 0, 0, 0, 255, 0, 0, 0,
		0, 0, 255, 0, 0, 0, 255, 0,
	}
	img := fromDIB(bgra, 2, 2)
	assert.Equal(t, color.RGBA{255, 0, 0, 255}, img.RGBAAt(1, 0))
	assert.Equal(t, color.RGBA{0, 0, 255, 255}, img.RGBAAt(0, 1))
}

func TestCitraKeys(t *testing.T) {
	e := &Emulator{Config: Citra}
	for _, k := range []input.Key{input.A, input.B, input.Start, input.Up, input.Home} {
		_, err := e.vk(k)
		assert.NoError(t, err, k)
	}
	_, err := e.vk("Z")
	assert.Error(t, err)
}
