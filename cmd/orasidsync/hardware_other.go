//go:build !windows

package main

import (
	"errors"

	"github.com/lkarlslund/orasidsync/internal/capture"
	"github.com/lkarlslund/orasidsync/internal/input"
)

func openEmulator(string) (capture.Source, input.Sequencer, error) {
	return nil, nil, errors.New("emulator control needs Windows")
}
