package sink

import (
	"time"

	"periph.io/x/conn/v3"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"
)

// fakePin is a minimal gpio.PinIO used only to satisfy DataRequest/Reset
// in tests; it never changes level on its own.
type fakePin struct {
	name  string
	level gpio.Level
}

func (p *fakePin) String() string                                { return p.name }
func (p *fakePin) Name() string                                  { return p.name }
func (p *fakePin) Number() int                                   { return 0 }
func (p *fakePin) Function() string                              { return "" }
func (p *fakePin) Halt() error                                   { return nil }
func (p *fakePin) In(gpio.Pull, gpio.Edge) error                  { return nil }
func (p *fakePin) Read() gpio.Level                               { return p.level }
func (p *fakePin) WaitForEdge(time.Duration) bool                 { return false }
func (p *fakePin) Pull() gpio.Pull                                { return gpio.PullNoChange }
func (p *fakePin) DefaultPull() gpio.Pull                         { return gpio.PullNoChange }
func (p *fakePin) Out(l gpio.Level) error                         { p.level = l; return nil }
func (p *fakePin) PWM(gpio.Duty, physic.Frequency) error          { return nil }

// fakeSPI records every Tx call's payload for assertions.
type fakeSPI struct {
	writes [][]byte
	failAt int // fail the call at this index (negative disables)
}

func (f *fakeSPI) String() string       { return "fake-spi" }
func (f *fakeSPI) Duplex() conn.Duplex  { return conn.Full }
func (f *fakeSPI) TxPackets([]spi.Packet) error {
	return nil
}
func (f *fakeSPI) Tx(w, r []byte) error {
	idx := len(f.writes)
	cp := append([]byte(nil), w...)
	f.writes = append(f.writes, cp)
	if f.failAt >= 0 && idx == f.failAt {
		return errFakeSPI
	}
	return nil
}

var errFakeSPI = fakeErr("fake spi transaction failure")

type fakeErr string

func (e fakeErr) Error() string { return string(e) }

// fakeBus is a ChipBus test double with scripted format/cancel responses.
type fakeBus struct {
	spi        *fakeSPI
	dreq       *fakePin
	resetPin   *fakePin
	seekable   bool
	sampleRate uint32
	channels   uint8
	cancelSet  bool
	formatErr  error
}

func newFakeBus() *fakeBus {
	return &fakeBus{
		spi:        &fakeSPI{failAt: -1},
		dreq:       &fakePin{name: "dreq", level: gpio.High},
		resetPin:   &fakePin{name: "reset", level: gpio.High},
		sampleRate: 44100,
		channels:   2,
	}
}

func (b *fakeBus) SPI() spi.Conn             { return b.spi }
func (b *fakeBus) DataRequest() gpio.PinIO   { return b.dreq }
func (b *fakeBus) Reset() gpio.PinIO         { return b.resetPin }
func (b *fakeBus) ResetDecodeTime() error    { return nil }

func (b *fakeBus) AudioFormat() (uint32, uint8, bool, error) {
	return b.sampleRate, b.channels, b.seekable, b.formatErr
}

func (b *fakeBus) CancelBit() (bool, error) { return b.cancelSet, nil }
func (b *fakeBus) SetCancelBit(set bool) error {
	b.cancelSet = set
	return nil
}
