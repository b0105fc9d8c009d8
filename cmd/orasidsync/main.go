package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gocv.io/x/gocv"
	"gopkg.in/yaml.v3"

	"github.com/lkarlslund/orasidsync/internal/capture"
	"github.com/lkarlslund/orasidsync/internal/config"
	"github.com/lkarlslund/orasidsync/internal/controller"
	"github.com/lkarlslund/orasidsync/internal/input"
	"github.com/lkarlslund/orasidsync/internal/ocr"
	"github.com/lkarlslund/orasidsync/internal/search"
	"github.com/lkarlslund/orasidsync/internal/vision"
)

func newLogger(debug bool) *zap.Logger {
	cfg := zap.NewDevelopmentConfig()
	if !debug {
		cfg.Level = zap.NewAtomicLevelAt(zapcore.InfoLevel)
		cfg.DisableStacktrace = true
		cfg.DisableCaller = true
	}
	cfg.EncoderConfig.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05.000")
	log, err := cfg.Build()
	if err != nil {
		panic(err)
	}
	return log
}

func main() {
	var (
		configPath = flag.String("config", "", "YAML file overriding the built in settings")
		mode       = flag.String("mode", "run", "run, read, position, watch or genmasks")
		debug      = flag.Bool("debug", false, "verbose logging")
		imagePath  = flag.String("image", "", "use this picture instead of the capture device")
		emu        = flag.String("emulator", "", "drive the emulator window with this title instead of a console")
		dryRun     = flag.Bool("dry-run", false, "log button presses instead of sending them")
		rounds     = flag.Int("rounds", 0, "give up after this many missed rounds, 0 keeps going")
		debugDir   = flag.String("debugdir", "", "save the frame read after every save creation here")
		maskSize   = flag.Int("masksize", 341, "diameter of generated masks")
		dumpConfig = flag.Bool("dumpconfig", false, "print the effective configuration and exit")
	)
	flag.Parse()

	log := newLogger(*debug)
	defer log.Sync()

	cfg := config.Default()
	if *configPath != "" {
		var err error
		cfg, err = config.Load(*configPath)
		if err != nil {
			log.Fatal("Bad configuration", zap.String("file", *configPath), zap.Error(err))
		}
	}

	if *dumpConfig {
		out, err := yaml.Marshal(cfg)
		if err != nil {
			log.Fatal("Cannot encode configuration", zap.Error(err))
		}
		os.Stdout.Write(out)
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if *mode == "genmasks" {
		masks := vision.SectorMasks(*maskSize)
		defer func() {
			for _, m := range masks {
				m.Close()
			}
		}()
		if err := vision.SaveMasks(cfg.Masks, masks); err != nil {
			log.Fatal("Cannot save masks", zap.Error(err))
		}
		log.Info("Masks written", zap.String("dir", cfg.Masks), zap.Int("size", *maskSize))
		return
	}

	src, seq, closeSource, err := openSource(cfg, *imagePath, *emu, log)
	if err != nil {
		log.Fatal("No picture source", zap.Error(err))
	}
	defer closeSource()

	switch *mode {
	case "read":
		reader, closeReader := newReader(cfg, log)
		defer closeReader()
		sample, err := reader.Read(src)
		if err != nil {
			log.Fatal("Cannot read identifier", zap.Error(err))
		}
		fmt.Println(sample)

	case "position":
		classifier := newClassifier(cfg, log)
		defer classifier.Close()
		err := capture.WithFrame(src, func(frame gocv.Mat) error {
			bucket, scores, err := classifier.Classify(frame)
			if err != nil {
				return err
			}
			log.Info("Loading ring", zap.Int("position", bucket), zap.Float64s("scores", scores))
			return nil
		})
		if err != nil {
			log.Fatal("Cannot classify", zap.Error(err))
		}

	case "watch":
		reader, closeReader := newReader(cfg, log)
		defer closeReader()
		watch(ctx, src, reader, log)

	case "run":
		classifier := newClassifier(cfg, log)
		defer classifier.Close()
		reader, closeReader := newReader(cfg, log)
		defer closeReader()

		name := *emu
		if *dryRun || seq == nil {
			if !*dryRun {
				log.Warn("No button sequencer available, only logging presses")
			}
			seq, name = input.DryRun{}, "dry-run"
		}

		c := controller.New(cfg, controller.Deps{
			Input:     input.Logged{Name: name, Next: seq, Log: log},
			Source:    src,
			Reader:    reader,
			Model:     search.MT{},
			Indicator: classifier,
			Log:       log,
			DebugDir:  *debugDir,
		})
		c.MaxRounds = *rounds

		log.Info("Starting",
			zap.Uint16("tid", cfg.Target.TID),
			zap.Uint16("sid", cfg.Target.SID),
			zap.String("pivot", search.Counter(cfg.Pivot).String()))
		res, err := c.Run(ctx)
		switch {
		case err == nil:
			log.Info("Done", zap.Stringer("counter", res.Plan.Target), zap.Int("rounds", res.Rounds))
		case errors.Is(err, context.Canceled):
			log.Info("Interrupted", zap.String("state", string(c.State())))
		default:
			log.Fatal("Run failed", zap.String("state", string(c.State())), zap.Error(err))
		}

	default:
		log.Fatal("Unknown mode", zap.String("mode", *mode))
	}
}

// openSource picks the picture source in order of preference: a still image,
// the emulator window, the capture device. The sequencer is only set for the
// emulator. The identifier region must fit inside the first picture.
func openSource(cfg config.Config, imagePath, emu string, log *zap.Logger) (capture.Source, input.Sequencer, func(), error) {
	src, seq, closeSource, err := pickSource(cfg, imagePath, emu, log)
	if err != nil {
		return nil, nil, nil, err
	}
	if err := vision.CheckRegion(src, cfg.Region.Rectangle()); err != nil {
		closeSource()
		return nil, nil, nil, err
	}
	return src, seq, closeSource, nil
}

func pickSource(cfg config.Config, imagePath, emu string, log *zap.Logger) (capture.Source, input.Sequencer, func(), error) {
	if imagePath != "" {
		s, err := capture.LoadStatic(imagePath)
		if err != nil {
			return nil, nil, nil, err
		}
		return s, nil, func() { s.Close() }, nil
	}

	if emu != "" {
		src, seq, err := openEmulator(emu)
		if err != nil {
			return nil, nil, nil, err
		}
		return src, seq, func() {}, nil
	}

	v, err := capture.OpenVideo(cfg.Capture.Device, cfg.Capture.Width, cfg.Capture.Height, log)
	if err != nil {
		return nil, nil, nil, err
	}
	if err := v.WaitReady(5 * time.Second); err != nil {
		v.Close()
		return nil, nil, nil, fmt.Errorf("capture device %d: %w", cfg.Capture.Device, err)
	}
	return v, nil, func() { v.Close() }, nil
}

func newReader(cfg config.Config, log *zap.Logger) (*vision.Reader, func()) {
	tess, err := ocr.NewTesseract(cfg.OCR)
	if err != nil {
		log.Fatal("Cannot start OCR", zap.Error(err))
	}
	return vision.NewReader(cfg.Region.Rectangle(), tess, cfg.FailureDir, log), func() { tess.Close() }
}

func newClassifier(cfg config.Config, log *zap.Logger) *vision.Classifier {
	masks, err := vision.LoadMasks(cfg.Masks)
	if err != nil {
		log.Fatal("Cannot load masks, generate them with -mode genmasks", zap.String("dir", cfg.Masks), zap.Error(err))
	}
	classifier, err := vision.NewClassifier(masks)
	if err != nil {
		log.Fatal("Bad masks", zap.Error(err))
	}
	return classifier
}
