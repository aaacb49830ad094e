// Package sink implements the audio sink scheduler (spec §4.1-§4.2): a
// single task that owns the decoder chip bus and delivers exactly one
// stream to it at a time, handling interruption and seek via the
// fill-byte/cancel-bit protocol. Grounded on
// bell/main/audio-sinks/esp/VS1053.cpp's Stream/run_feed state machine.
package sink

import (
	"runtime"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/spi"
)

// ChipBus is the decoder chip's bus contract: an SPI data connection
// plus the two control lines the VS1053-family protocol depends on
// (DREQ for flow control, xRESET for a hard reset on a stuck cancel
// bit). Typed directly against periph.io/x/conn/v3 so a real ESP32/RPi
// build can satisfy it without an adapter layer. VS1053Bus (vs1053.go)
// implements it over periph.io's SPI and GPIO registries.
type ChipBus interface {
	SPI() spi.Conn
	DataRequest() gpio.PinIO
	Reset() gpio.PinIO
	// AudioFormat reads the chip's current decode format (sample rate,
	// channels) and the seekable bit that signals frames are now
	// parseable, via chip-specific status registers.
	AudioFormat() (sampleRate uint32, channels uint8, seekable bool, err error)
	// CancelBit reports the chip's current SM_CANCEL state.
	CancelBit() (bool, error)
	// SetCancelBit sets or clears SM_CANCEL.
	SetCancelBit(set bool) error
	// ResetDecodeTime clears the chip's internal decode-time counter,
	// done at the start of every new stream (spec §4.1 step 2).
	ResetDecodeTime() error
}

// writeChunk sends up to 16 bytes (the chip's bus-chunk limit) to the chip's
// data port, blocking until DataRequest is asserted.
func writeChunk(bus ChipBus, chunk []byte) error {
	for bus.DataRequest().Read() != gpio.High {
		runtime.Gosched()
	}
	return bus.SPI().Tx(chunk, nil)
}
