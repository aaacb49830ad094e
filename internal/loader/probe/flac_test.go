package probe

import (
	"encoding/binary"
	"testing"
)

func buildStreamInfoBody(sampleRate uint32, channels, bits uint8) []byte {
	body := make([]byte, streamInfoLen)
	var packed uint64
	packed |= uint64(sampleRate&0xfffff) << 44
	packed |= uint64((channels-1)&0x7) << 41
	packed |= uint64((bits-1)&0x1f) << 36
	binary.BigEndian.PutUint64(body[10:18], packed)
	return body
}

func TestProbeFLAC_NativeHeaderCopiesStreamInfo(t *testing.T) {
	body := buildStreamInfoBody(44100, 2, 16)
	window := []byte(flacMagic)
	window = append(window, 0x80, 0x00, byte(streamInfoLen>>8), byte(streamInfoLen))
	window = append(window, body...)
	window = append(window, []byte("trailing-frame-bytes")...)

	res, err := ProbeFLAC(window)
	if err != nil {
		t.Fatalf("ProbeFLAC: %v", err)
	}
	if res.Meta.SampleRate != 44100 || res.Meta.Channels != 2 || res.Meta.BitDepth != 16 {
		t.Fatalf("want sample_rate=44100 channels=2 bits=16, got %+v", res.Meta)
	}
	wantOffset := int64(len(flacMagic) + 4 + streamInfoLen)
	if res.BaseOffset != wantOffset {
		t.Fatalf("want base offset %d, got %d", wantOffset, res.BaseOffset)
	}
	if len(res.Header) != 4+4+streamInfoLen {
		t.Fatalf("want reduced header len %d, got %d", 4+4+streamInfoLen, len(res.Header))
	}
}

func TestProbeFLAC_NativeHeaderSkipsNonStreamInfoBlocks(t *testing.T) {
	vorbisComment := []byte("hello vorbis comment padding")
	window := []byte(flacMagic)
	// non-last VORBIS_COMMENT block (type 4), not last.
	window = append(window, 0x04, 0x00, 0x00, byte(len(vorbisComment)))
	window = append(window, vorbisComment...)
	body := buildStreamInfoBody(48000, 2, 24)
	window = append(window, 0x80, 0x00, byte(streamInfoLen>>8), byte(streamInfoLen))
	window = append(window, body...)

	res, err := ProbeFLAC(window)
	if err != nil {
		t.Fatalf("ProbeFLAC: %v", err)
	}
	if res.Meta.SampleRate != 48000 || res.Meta.BitDepth != 24 {
		t.Fatalf("want sample_rate=48000 bits=24 from the STREAMINFO block found after skipping, got %+v", res.Meta)
	}
}

func buildHeaderlessFrame(blockSizeCode, sampleRateCode, channelCode, sampleSizeCode byte) []byte {
	b2 := (blockSizeCode << 4) | sampleRateCode
	b3 := (channelCode << 4) | (sampleSizeCode << 1)
	return []byte{0xFF, 0xF8, b2, b3, 0x00, 0x00, 0x00}
}

func TestProbeFLAC_HeaderlessScansForFrameSync(t *testing.T) {
	frame := buildHeaderlessFrame(0x9, 0x9, 0x1, 0x4) // 512 samples, 44100Hz, 2ch, 16-bit
	garbage := make([]byte, 200)
	for i := range garbage {
		garbage[i] = 0xAB
	}
	window := append(garbage, frame...)

	res, err := ProbeFLAC(window)
	if err != nil {
		t.Fatalf("ProbeFLAC: %v", err)
	}
	if res.BaseOffset != int64(len(garbage)) {
		t.Fatalf("want base offset at frame start %d, got %d", len(garbage), res.BaseOffset)
	}
	if res.Meta.SampleRate != 44100 || res.Meta.Channels != 2 || res.Meta.BitDepth != 16 {
		t.Fatalf("want sample_rate=44100 channels=2 bits=16, got %+v", res.Meta)
	}
	if len(res.Header) != 4+4+streamInfoLen {
		t.Fatalf("want synthesized header len %d, got %d", 4+4+streamInfoLen, len(res.Header))
	}
}

func TestProbeFLAC_HeaderlessHandlesExtendedBlockSizeAndSampleRate(t *testing.T) {
	// blockSizeCode 0x7 -> 16-bit extended blocksize; sampleRateCode 0xD -> 16-bit Hz.
	b2 := (byte(0x7) << 4) | byte(0xD)
	b3 := (byte(0x1) << 4) | (byte(0x4) << 1)
	frame := []byte{0xFF, 0xF8, b2, b3, 0x10, 0x00, 0xAC, 0x44, 0x00}
	window := frame

	res, err := ProbeFLAC(window)
	if err != nil {
		t.Fatalf("ProbeFLAC: %v", err)
	}
	if res.Meta.SampleRate != 0xAC44 {
		t.Fatalf("want extended sample rate 0x%x, got %d", 0xAC44, res.Meta.SampleRate)
	}
}

func TestProbeFLAC_HeaderlessSynthesizesBlockSizeFromExtendedByte(t *testing.T) {
	// bs_code=6 (8-bit extended), sr_code=9 (44100Hz), ch_code=1 (2ch), sz_code=4 (16-bit).
	b2 := (byte(0x6) << 4) | byte(0x9)
	b3 := (byte(0x1) << 4) | (byte(0x4) << 1)
	extByte := byte(0x63) // ext_byte+1 == 100
	frame := []byte{0xFF, 0xF8, b2, b3, extByte, 0x00, 0x00}
	garbage := make([]byte, 317)
	for i := range garbage {
		garbage[i] = byte(i)
	}
	window := append(garbage, frame...)

	res, err := ProbeFLAC(window)
	if err != nil {
		t.Fatalf("ProbeFLAC: %v", err)
	}
	if res.BaseOffset != 317 {
		t.Fatalf("want base offset 317, got %d", res.BaseOffset)
	}
	if res.Meta.SampleRate != 44100 || res.Meta.Channels != 2 || res.Meta.BitDepth != 16 {
		t.Fatalf("want sample_rate=44100 channels=2 bits=16, got %+v", res.Meta)
	}
	wantBlockSize := uint16(extByte) + 1
	minBlock := binary.BigEndian.Uint16(res.Header[4+4+0 : 4+4+2])
	maxBlock := binary.BigEndian.Uint16(res.Header[4+4+2 : 4+4+4])
	if minBlock != wantBlockSize || maxBlock != wantBlockSize {
		t.Fatalf("want min=max=block_size=%d, got min=%d max=%d", wantBlockSize, minBlock, maxBlock)
	}
}

func TestProbeFLAC_HeaderlessReturnsErrorWhenNoSyncFound(t *testing.T) {
	window := make([]byte, 4096)
	if _, err := ProbeFLAC(window); err == nil {
		t.Fatal("want error when no frame sync appears in the scan window")
	}
}
