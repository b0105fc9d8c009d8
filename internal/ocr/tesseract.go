// Package ocr recognizes digits with Tesseract.
package ocr

import (
	"fmt"
	"strings"
	"sync"

	"github.com/otiai10/gosseract/v2"
	"gocv.io/x/gocv"

	"github.com/lkarlslund/orasidsync/internal/config"
)

// Tesseract wraps one engine instance. It is safe for concurrent use, calls are
// serialized.
type Tesseract struct {
	lock   sync.Mutex
	client *gosseract.Client
}

func NewTesseract(cfg config.OCR) (*Tesseract, error) {
	client := gosseract.NewClient()
	if cfg.TessdataPrefix != "" {
		if err := client.SetTessdataPrefix(cfg.TessdataPrefix); err != nil {
			client.Close()
			return nil, err
		}
	}
	if err := client.SetLanguage(cfg.Language); err != nil {
		client.Close()
		return nil, fmt.Errorf("tesseract language %q: %w", cfg.Language, err)
	}
	if cfg.Whitelist != "" {
		if err := client.SetWhitelist(cfg.Whitelist); err != nil {
			client.Close()
			return nil, fmt.Errorf("tesseract whitelist: %w", err)
		}
	}
	if err := client.SetPageSegMode(gosseract.PageSegMode(cfg.PageSegMode)); err != nil {
		client.Close()
		return nil, fmt.Errorf("tesseract page segmentation mode %d: %w", cfg.PageSegMode, err)
	}
	return &Tesseract{client: client}, nil
}

// Recognize encodes img as PNG and hands it to the engine.
func (t *Tesseract) Recognize(img gocv.Mat) (string, error) {
	buf, err := gocv.IMEncode(gocv.PNGFileExt, img)
	if err != nil {
		return "", fmt.Errorf("encoding image for OCR: %w", err)
	}
	defer buf.Close()

	t.lock.Lock()
	defer t.lock.Unlock()

	if err := t.client.SetImageFromBytes(buf.GetBytes()); err != nil {
		return "", err
	}
	text, err := t.client.Text()
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(text), nil
}

func (t *Tesseract) Close() error {
	t.lock.Lock()
	defer t.lock.Unlock()
	return t.client.Close()
}
