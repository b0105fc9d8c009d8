// Package config holds the tunables of a sync run. Everything has a compiled in
// default; a YAML file may override any of it.
package config

import (
	"errors"
	"fmt"
	"image"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/lkarlslund/orasidsync/internal/input"
)

// Rect is an image.Rectangle spelled the way people write crop boxes.
type Rect struct {
	X      int `yaml:"x"`
	Y      int `yaml:"y"`
	Width  int `yaml:"width"`
	Height int `yaml:"height"`
}

func (r Rect) Rectangle() image.Rectangle {
	return image.Rect(r.X, r.Y, r.X+r.Width, r.Y+r.Height)
}

type Capture struct {
	Device int `yaml:"device"`
	Width  int `yaml:"width"`
	Height int `yaml:"height"`
}

type Target struct {
	TID uint16 `yaml:"tid"`
	SID uint16 `yaml:"sid"`
}

type Discovery struct {
	// Interval between two identifier samples.
	Interval time.Duration `yaml:"interval"`
	// Samples taken per discovery attempt.
	Samples int `yaml:"samples"`
	// Attempts is how many failed discoveries are tolerated in a row.
	Attempts int `yaml:"attempts"`
	// Radius of counters searched either side of the pivot.
	Radius uint32 `yaml:"radius"`
}

type Search struct {
	// Window is the number of advances considered per counter.
	Window int `yaml:"window"`
	// MaxWait caps how far ahead the target counter may be.
	MaxWait time.Duration `yaml:"max_wait"`
	// GapRadius bounds the post mortem gap table.
	GapRadius uint32 `yaml:"gap_radius"`
	Workers   int    `yaml:"workers"`
}

type Timing struct {
	// CounterRate is the real time one counter step takes.
	CounterRate time.Duration `yaml:"counter_rate"`
	// SafeMargin is how long before the fire the console is sent home.
	SafeMargin time.Duration `yaml:"safe_margin"`
	// Lead arms the fire timer early and spins the rest.
	Lead time.Duration `yaml:"lead"`
}

// OCR configures the text recognizer.
type OCR struct {
	// TessdataPrefix points at the tessdata directory, empty uses the default.
	TessdataPrefix string `yaml:"tessdata"`
	Language       string `yaml:"language"`
	Whitelist      string `yaml:"whitelist"`
	// PageSegMode is a Tesseract page segmentation mode, 7 is a single line.
	PageSegMode    int    `yaml:"page_seg_mode"`
}

// Digits is the only character set ever expected on the trainer card.
const Digits = "0123456789"

type Config struct {
	Capture    Capture         `yaml:"capture"`
	Region     Rect            `yaml:"region"`
	Target     Target          `yaml:"target"`
	Pivot      uint32          `yaml:"pivot"`
	Discovery  Discovery       `yaml:"discovery"`
	Search     Search          `yaml:"search"`
	Timing     Timing          `yaml:"timing"`
	OCR        OCR             `yaml:"ocr"`
	Masks      string          `yaml:"masks"`
	FailureDir string          `yaml:"failure_dir"`
	Sequences  input.Sequences `yaml:"sequences"`
}

// Default is a run for TID 00354 / SID 28394 on a 1080p capture card.
func Default() Config {
	return Config{
		Capture: Capture{Device: 1, Width: 1920, Height: 1080},
		Region:  Rect{X: 1112, Y: 40, Width: 112, Height: 35},
		Target:  Target{TID: 354, SID: 28394},
		Pivot:   0x7DA0B3A0,
		Discovery: Discovery{
			Interval: 3 * time.Minute,
			Samples:  4,
			Attempts: 10,
			Radius:   1 << 24,
		},
		Search: Search{
			Window:    500,
			MaxWait:   800 * time.Second,
			GapRadius: 500,
		},
		Timing: Timing{
			CounterRate: time.Millisecond,
			SafeMargin:  30 * time.Second,
			Lead:        20 * time.Millisecond,
		},
		OCR:        OCR{Language: "eng", Whitelist: Digits, PageSegMode: 7},
		Masks:      "masks",
		FailureDir: "failed",
		Sequences:  input.DefaultSequences(),
	}
}

// Load reads path over the defaults. Sequences given in the file replace the
// default sequence of the same name only.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}

	defaults := cfg.Sequences
	cfg.Sequences = input.Sequences{}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parsing %s: %w", path, err)
	}
	cfg.Sequences = defaults.Merge(cfg.Sequences)
	return cfg, cfg.Validate()
}

// Spacing is the counter distance between two discovery samples.
func (c Config) Spacing() uint32 {
	return uint32(c.Discovery.Interval / c.Timing.CounterRate)
}

// MaxWaitCounters is the search horizon in counter steps.
func (c Config) MaxWaitCounters() uint32 {
	return uint32(c.Search.MaxWait / c.Timing.CounterRate)
}

func (c Config) Validate() error {
	var errs []error
	if c.Region.Width <= 0 || c.Region.Height <= 0 {
		errs = append(errs, errors.New("region must have a size"))
	}
	if c.Discovery.Samples < 1 {
		errs = append(errs, errors.New("discovery needs at least one sample"))
	}
	if c.Discovery.Attempts < 1 {
		errs = append(errs, errors.New("discovery needs at least one attempt"))
	}
	if c.Discovery.Interval <= 0 {
		errs = append(errs, errors.New("discovery interval must be positive"))
	}
	if c.Search.Window < 1 {
		errs = append(errs, errors.New("search window must be positive"))
	}
	if c.Timing.CounterRate <= 0 {
		errs = append(errs, errors.New("counter rate must be positive"))
	}
	if c.Search.MaxWait <= c.Timing.SafeMargin {
		errs = append(errs, errors.New("max wait must exceed the safe margin"))
	}
	if c.Timing.SafeMargin < c.Sequences.Reset.Duration() {
		errs = append(errs, errors.New("safe margin must leave time for the reset sequence"))
	}
	if c.Timing.Lead < 0 {
		errs = append(errs, errors.New("lead cannot be negative"))
	}
	return errors.Join(errs...)
}
