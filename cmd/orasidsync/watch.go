package main

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"time"

	"go.uber.org/zap"
	"gocv.io/x/gocv"

	"github.com/lkarlslund/orasidsync/internal/capture"
	"github.com/lkarlslund/orasidsync/internal/vision"
)

// watch shows the live picture with the identifier region outlined and the
// last reading on top, so the region can be lined up with the trainer card.
// Escape closes it.
func watch(ctx context.Context, src capture.Source, reader *vision.Reader, log *zap.Logger) {
	// Unreadable frames are expected while lining up, don't keep them.
	quiet := *reader
	quiet.FailureDir = ""
	reader = &quiet

	live, _ := src.(interface{ LastFrameTime() time.Time })

	window := gocv.NewWindow("Debug Window")
	defer window.Close()

	var (
		lastread time.Time
		sample   vision.Sample
		lastsize image.Point
	)

	for ctx.Err() == nil {
		frame, err := src.CurrentFrame()
		if err != nil {
			log.Warn("No frame", zap.Error(err))
			frame.Close()
			time.Sleep(time.Millisecond * 250)
			continue
		}

		if size := image.Pt(frame.Cols(), frame.Rows()); size != lastsize {
			log.Info("Picture size", zap.Int("width", size.X), zap.Int("height", size.Y))
			window.ResizeWindow(size.X, size.Y)
			lastsize = size
		}

		if time.Since(lastread) > time.Millisecond*500 {
			sample = reader.ReadFrame(frame)
			lastread = time.Now()
		}

		col := color.RGBA{255, 128, 128, 0}
		if sample.OK {
			col = color.RGBA{128, 255, 128, 0}
		}
		gocv.Rectangle(&frame, reader.Rect, col, 2)
		gocv.PutText(&frame, sample.String(), reader.Rect.Min.Add(image.Pt(0, -8)), gocv.FontHersheyPlain, 1.5, col, 2)
		if live != nil {
			gocv.PutText(&frame, frameAge(live.LastFrameTime(), time.Now()), image.Pt(8, 24), gocv.FontHersheyPlain, 1.5, col, 2)
		}

		window.IMShow(frame)
		key := window.WaitKey(5)
		frame.Close()
		if key == 27 {
			return
		}

		time.Sleep(time.Millisecond * 25)
	}
}

// frameAge tells how stale the device picture is, a frozen capture card
// otherwise looks just like a still game screen.
func frameAge(last, now time.Time) string {
	if last.IsZero() {
		return "no frame yet"
	}
	return fmt.Sprintf("frame age %dms", now.Sub(last).Milliseconds())
}
