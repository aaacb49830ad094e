package probe

import (
	"bytes"
	"encoding/binary"
	"errors"

	"github.com/tobiasguyer/streamcore32/internal/model"
)

const (
	flacMagic      = "fLaC"
	streamInfoLen  = 34
	headerlessScan = 3072 // bytes to scan for frame sync when no fLaC magic is present
)

var frameSyncFirstByte = byte(0xFF)

// ProbeFLAC implements the provider-B path: if window begins with the
// native "fLaC" marker, its metadata blocks up to and including
// STREAMINFO are copied verbatim (reduced to just STREAMINFO, spec's
// "42-byte reduced header": 4-byte magic + 4-byte block header + 34-byte
// body). Otherwise the file is headerless FLAC: scan up to
// headerlessScan bytes for a frame sync, parse its header fields, and
// synthesize a STREAMINFO block to prepend.
func ProbeFLAC(window []byte) (Result, error) {
	if bytes.HasPrefix(window, []byte(flacMagic)) {
		return probeNativeFLAC(window)
	}
	return probeHeaderlessFLAC(window)
}

func probeNativeFLAC(window []byte) (Result, error) {
	pos := len(flacMagic)
	for {
		if pos+4 > len(window) {
			return Result{}, errors.New("probe: truncated flac metadata block header")
		}
		header := window[pos]
		isLast := header&0x80 != 0
		blockType := header & 0x7f
		length := int(window[pos+1])<<16 | int(window[pos+2])<<8 | int(window[pos+3])
		bodyStart := pos + 4
		if bodyStart+length > len(window) {
			return Result{}, errors.New("probe: flac metadata block exceeds probe window")
		}
		if blockType == 0 { // STREAMINFO
			body := window[bodyStart : bodyStart+length]
			meta := parseStreamInfoBody(body)
			reduced := make([]byte, 0, 4+4+streamInfoLen)
			reduced = append(reduced, []byte(flacMagic)...)
			reduced = append(reduced, 0x80, 0x00, byte(streamInfoLen>>8), byte(streamInfoLen))
			reduced = append(reduced, body...)
			return Result{Header: reduced, BaseOffset: int64(bodyStart + length), Meta: meta}, nil
		}
		pos = bodyStart + length
		if isLast {
			return Result{}, errors.New("probe: flac stream has no STREAMINFO block")
		}
	}
}

func probeHeaderlessFLAC(window []byte) (Result, error) {
	limit := len(window)
	if limit > headerlessScan {
		limit = headerlessScan
	}
	for i := 0; i+1 < limit; i++ {
		if window[i] != frameSyncFirstByte {
			continue
		}
		b1 := window[i+1]
		if b1 < 0xF8 || b1 > 0xFB {
			continue
		}
		_, meta, ok := parseFrameHeader(window[i:])
		if !ok {
			continue
		}
		synth := synthesizeStreamInfo(meta)
		return Result{Header: synth, BaseOffset: int64(i), Meta: meta}, nil
	}
	return Result{}, errNoSync
}

// fixedBlockSizes maps the 4-bit block size code to its fixed sample
// count; codes 0x6/0x7 are absent here since they read an 8/16-bit
// extended value from the trailing header bytes instead.
var fixedBlockSizes = map[byte]uint16{
	0x1: 192,
	0x2: 576, 0x3: 1152, 0x4: 2304, 0x5: 4608,
	0x8: 256, 0x9: 512, 0xA: 1024, 0xB: 2048,
	0xC: 4096, 0xD: 8192, 0xE: 16384, 0xF: 32768,
}

var fixedSampleRates = map[byte]uint32{
	0x1: 88200, 0x2: 176400, 0x3: 192000,
	0x4: 8000, 0x5: 16000, 0x6: 22050, 0x7: 24000,
	0x8: 32000, 0x9: 44100, 0xA: 48000, 0xB: 96000,
}

var sampleSizes = map[byte]uint8{
	0x1: 8, 0x2: 12, 0x4: 16, 0x5: 20, 0x6: 24,
}

// parseFrameHeader decodes the fixed portion of a FLAC frame header per
// the format spec, including the 8/16-bit extended blocksize and
// sample-rate fields when the fixed tables don't cover the code.
// Returns ok=false for reserved/invalid codes rather than erroring, so
// the caller can keep scanning for a real sync.
func parseFrameHeader(b []byte) (headerLen int, meta model.TrackMeta, ok bool) {
	if len(b) < 4 {
		return 0, model.TrackMeta{}, false
	}
	blockSizeCode := b[2] >> 4
	sampleRateCode := b[2] & 0x0f
	channelCode := b[3] >> 4
	sampleSizeCode := (b[3] >> 1) & 0x07

	channels, ok := channelAssignment(channelCode)
	if !ok {
		return 0, model.TrackMeta{}, false
	}
	bits, ok := sampleSizes[sampleSizeCode]
	if !ok {
		return 0, model.TrackMeta{}, false
	}

	pos := 4
	var blockSize uint16
	if fixed, ok := fixedBlockSizes[blockSizeCode]; ok {
		blockSize = fixed
	} else {
		switch blockSizeCode {
		case 0x6:
			if len(b) < pos+1 {
				return 0, model.TrackMeta{}, false
			}
			blockSize = uint16(b[pos]) + 1
			pos++
		case 0x7:
			if len(b) < pos+2 {
				return 0, model.TrackMeta{}, false
			}
			blockSize = binary.BigEndian.Uint16(b[pos:pos+2]) + 1
			pos += 2
		default:
			return 0, model.TrackMeta{}, false
		}
	}

	var sampleRate uint32
	if fixed, known := fixedSampleRates[sampleRateCode]; known {
		sampleRate = fixed
	} else {
		switch sampleRateCode {
		case 0xC:
			if len(b) < pos+1 {
				return 0, model.TrackMeta{}, false
			}
			sampleRate = uint32(b[pos]) * 1000
			pos++
		case 0xD:
			if len(b) < pos+2 {
				return 0, model.TrackMeta{}, false
			}
			sampleRate = uint32(binary.BigEndian.Uint16(b[pos : pos+2]))
			pos += 2
		case 0xE:
			if len(b) < pos+2 {
				return 0, model.TrackMeta{}, false
			}
			sampleRate = uint32(binary.BigEndian.Uint16(b[pos:pos+2])) * 10
			pos += 2
		case 0x0:
			sampleRate = 0 // deferred to STREAMINFO, unknown here
		default:
			return 0, model.TrackMeta{}, false
		}
	}

	meta = model.TrackMeta{SampleRate: sampleRate, Channels: channels, BitDepth: bits, BlockSize: blockSize}
	return pos, meta, true
}

func channelAssignment(code byte) (channels uint8, ok bool) {
	switch {
	case code <= 0x7:
		return code + 1, true
	case code >= 0x8 && code <= 0xA:
		return 2, true
	default:
		return 0, false
	}
}

func parseStreamInfoBody(body []byte) model.TrackMeta {
	if len(body) < 18 {
		return model.TrackMeta{}
	}
	packed := binary.BigEndian.Uint64(body[10:18])
	sampleRate := uint32(packed >> 44)
	channels := uint8((packed>>41)&0x7) + 1
	bits := uint8((packed>>36)&0x1f) + 1
	return model.TrackMeta{SampleRate: sampleRate, Channels: channels, BitDepth: bits}
}

// synthesizeStreamInfo builds a minimal STREAMINFO metadata block
// (magic + is_last|type byte + 3-byte length + 34-byte body) from the
// geometry recovered off the wire, per spec §4.6 step 4. min_block_size
// and max_block_size are both set to the probed frame's block size (a
// single frame gives no wider bound); min/max framesize and the MD5
// signature are left at zero since they cannot be known from one frame
// header.
func synthesizeStreamInfo(meta model.TrackMeta) []byte {
	body := make([]byte, streamInfoLen)
	blockSize := meta.BlockSize
	if blockSize == 0 {
		blockSize = 4096
	}
	binary.BigEndian.PutUint16(body[0:2], blockSize)
	binary.BigEndian.PutUint16(body[2:4], blockSize)
	// body[4:7]=min framesize, [7:10]=max framesize left zero (unknown).
	var packed uint64
	packed |= uint64(meta.SampleRate&0xfffff) << 44
	channels := meta.Channels
	if channels == 0 {
		channels = 1
	}
	packed |= uint64((channels-1)&0x7) << 41
	bits := meta.BitDepth
	if bits == 0 {
		bits = 16
	}
	packed |= uint64((bits-1)&0x1f) << 36
	// total samples (36 bits) left zero: unknown up front.
	binary.BigEndian.PutUint64(body[10:18], packed)

	out := make([]byte, 0, 4+4+streamInfoLen)
	out = append(out, []byte(flacMagic)...)
	out = append(out, 0x80, 0x00, byte(streamInfoLen>>8), byte(streamInfoLen))
	out = append(out, body...)
	return out
}
