package sink

import (
	"encoding/binary"
	"fmt"
	"time"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"
	"periph.io/x/conn/v3/spi/spireg"
	"periph.io/x/host/v3"
)

// VS1053 SCI register addresses and mode bits, from the bell driver's
// write_register/read_register call sites (bell/main/audio-sinks/esp/VS1053.cpp).
const (
	sciMode       = 0x00
	sciStatus     = 0x01
	sciClockF     = 0x03
	sciDecodeTime = 0x04
	sciHDAT0      = 0x08
	sciHDAT1      = 0x09
	sciVol        = 0x0B

	smReset  = 0x0004
	smCancel = 0x0008

	sciReadOp  = 0x03
	sciWriteOp = 0x02

	slowClockHz = 1_400_000
	fastClockHz = 6_670_000
)

// vs1053SampleRates is the chip's fixed sample-rate table (VS1053
// datasheet table 10-2), indexed by the four bits SCI_HDAT0 reports for
// a non-PCM stream. The bell driver never needed this table directly
// since it parses it via the ESP-IDF driver's own helper. The table
// covers sample rates only; the datasheet's other bitstream-format fields
// are not decoded.
var vs1053SampleRates = [16]uint32{
	0, 11025, 12000, 8000, 0, 22050, 24000, 16000,
	0, 44100, 48000, 32000, 0, 44100, 48000, 32000,
}

// VS1053Bus wires the decoder's SCI/SDI protocol over a real periph.io
// SPI port and two GPIO lines, grounded on the bell driver's register
// sequence. SCI register traffic and audio data share one SPI
// connection and chip select, opened at slowClockHz; writing SCI_CLOCKF
// raises the chip's clock multiplier, but the connection is not reopened
// at fastClockHz, so all traffic stays at the slow clock (periph.io's
// registry does not expose the bell driver's dual-devcfg trick of two
// separate spi_device handles at different clock speeds sharing one bus).
type VS1053Bus struct {
	conn  spi.Conn
	dreq  gpio.PinIO
	reset gpio.PinIO
}

// OpenVS1053Bus initializes the periph.io host drivers, opens busName at
// the chip's slow command clock, and resolves the DREQ/RESET GPIO lines
// by name. Construction is the hardware-integration seam spec's device
// layer crosses but this module's tests never do: a build without the
// named bus/pins gets a constructor error, not a fabricated pass-through.
func OpenVS1053Bus(busName, dreqPin, resetPin string) (*VS1053Bus, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("sink: periph host init: %w", err)
	}

	port, err := spireg.Open(busName)
	if err != nil {
		return nil, fmt.Errorf("sink: open spi %q: %w", busName, err)
	}
	conn, err := port.Connect(slowClockHz*physic.Hertz, spi.Mode0, 8)
	if err != nil {
		return nil, fmt.Errorf("sink: spi connect: %w", err)
	}

	dreq := gpioreg.ByName(dreqPin)
	if dreq == nil {
		return nil, fmt.Errorf("sink: gpio pin %q not found", dreqPin)
	}
	if err := dreq.In(gpio.PullDown, gpio.NoEdge); err != nil {
		return nil, fmt.Errorf("sink: configure dreq pin %q: %w", dreqPin, err)
	}

	reset := gpioreg.ByName(resetPin)
	if reset == nil {
		return nil, fmt.Errorf("sink: gpio pin %q not found", resetPin)
	}
	if err := reset.Out(gpio.High); err != nil {
		return nil, fmt.Errorf("sink: configure reset pin %q: %w", resetPin, err)
	}

	bus := &VS1053Bus{conn: conn, dreq: dreq, reset: reset}
	if err := bus.hardReset(); err != nil {
		return nil, err
	}
	if err := bus.writeRegister(sciMode, smReset); err != nil {
		return nil, fmt.Errorf("sink: initial SM_RESET: %w", err)
	}
	if err := bus.writeRegister(sciClockF, 0x9800); err != nil {
		return nil, fmt.Errorf("sink: SCI_CLOCKF: %w", err)
	}
	return bus, nil
}

func (b *VS1053Bus) SPI() spi.Conn           { return b.conn }
func (b *VS1053Bus) DataRequest() gpio.PinIO { return b.dreq }
func (b *VS1053Bus) Reset() gpio.PinIO       { return b.reset }

func (b *VS1053Bus) hardReset() error {
	if err := b.reset.Out(gpio.Low); err != nil {
		return err
	}
	time.Sleep(100 * time.Millisecond)
	return b.reset.Out(gpio.High)
}

func (b *VS1053Bus) writeRegister(addr byte, value uint16) error {
	buf := [4]byte{sciWriteOp, addr}
	binary.BigEndian.PutUint16(buf[2:], value)
	return b.conn.Tx(buf[:], nil)
}

func (b *VS1053Bus) readRegister(addr byte) (uint16, error) {
	out := []byte{sciReadOp, addr, 0x00, 0x00}
	in := make([]byte, len(out))
	if err := b.conn.Tx(out, in); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(in[2:]), nil
}

// AudioFormat reports the current decode sample rate and the seekable
// bit carried in SCI_HDAT1 (non-zero once the decoder has parsed enough
// of the stream to report a format), per VS1053.cpp's read_register(SCI_HDAT1)
// gate before reporting format to callers.
func (b *VS1053Bus) AudioFormat() (sampleRate uint32, channels uint8, seekable bool, err error) {
	hdat1, err := b.readRegister(sciHDAT1)
	if err != nil {
		return 0, 0, false, err
	}
	hdat0, err := b.readRegister(sciHDAT0)
	if err != nil {
		return 0, 0, false, err
	}
	rate := vs1053SampleRates[(hdat0>>2)&0x0f]
	channels = 2
	if hdat0&0x0001 != 0 {
		channels = 1
	}
	return rate, channels, hdat1 != 0, nil
}

func (b *VS1053Bus) CancelBit() (bool, error) {
	mode, err := b.readRegister(sciMode)
	if err != nil {
		return false, err
	}
	return mode&smCancel != 0, nil
}

func (b *VS1053Bus) SetCancelBit(set bool) error {
	mode, err := b.readRegister(sciMode)
	if err != nil {
		return err
	}
	if set {
		mode |= smCancel
	} else {
		mode &^= smCancel
	}
	return b.writeRegister(sciMode, mode)
}

// ResetDecodeTime clears SCI_DECODE_TIME, done at the start of every new
// stream (spec §4.1 step 2; VS1053.cpp's write_register(SCI_DECODE_TIME, 0)).
func (b *VS1053Bus) ResetDecodeTime() error {
	return b.writeRegister(sciDecodeTime, 0)
}
