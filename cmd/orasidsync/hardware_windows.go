//go:build windows

package main

import (
	"github.com/lkarlslund/orasidsync/internal/capture"
	"github.com/lkarlslund/orasidsync/internal/emulator"
	"github.com/lkarlslund/orasidsync/internal/input"
)

func openEmulator(title string) (capture.Source, input.Sequencer, error) {
	ec := emulator.Citra
	ec.MainWindowName = title
	e, err := emulator.Open(ec)
	if err != nil {
		return nil, nil, err
	}
	e.Activate()
	return e, e, nil
}
