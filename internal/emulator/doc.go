// Package emulator drives a 3DS emulator window on Windows: it finds the
// window, captures its screen through GDI and presses buttons by posting key
// messages to it. The same value serves as capture.Source and input.Sequencer.
package emulator
