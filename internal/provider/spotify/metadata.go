package spotify

import (
	"encoding/hex"
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/tobiasguyer/streamcore32/internal/model"
)

// Field numbers for the subset of Track metadata this loader needs
// (name, artist, album, duration, file list). The real schema carries
// far more (markets, alternatives, popularity); only what spec §4.6
// step 1 names is decoded here (Open Question decision, see DESIGN.md).
const (
	fieldTrackName       = 1
	fieldTrackArtist     = 2 // first artist's name, nested message flattened to a string
	fieldTrackAlbum      = 3 // album name, same flattening
	fieldTrackDurationMs = 4
	fieldTrackFile       = 5 // repeated {format tier (1), file id (2)}

	fieldFileFormat = 1
	fieldFileID     = 2
)

// resolvedFile is one entry from the track's file list.
type resolvedFile struct {
	Tier   model.FormatTier
	FileID []byte
}

type decodedTrack struct {
	Meta  model.TrackMeta
	Files []resolvedFile
}

func decodeTrackMetadata(b []byte) (decodedTrack, error) {
	var out decodedTrack
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return out, fmt.Errorf("spotify: metadata tag: %w", protowire.ParseError(n))
		}
		b = b[n:]
		switch {
		case num == fieldTrackName && typ == protowire.BytesType:
			v, m := protowire.ConsumeBytes(b)
			if m < 0 {
				return out, protowire.ParseError(m)
			}
			out.Meta.Title = string(v)
			b = b[m:]
		case num == fieldTrackArtist && typ == protowire.BytesType:
			v, m := protowire.ConsumeBytes(b)
			if m < 0 {
				return out, protowire.ParseError(m)
			}
			out.Meta.Artist = string(v)
			b = b[m:]
		case num == fieldTrackAlbum && typ == protowire.BytesType:
			v, m := protowire.ConsumeBytes(b)
			if m < 0 {
				return out, protowire.ParseError(m)
			}
			out.Meta.Album = string(v)
			b = b[m:]
		case num == fieldTrackDurationMs && typ == protowire.VarintType:
			v, m := protowire.ConsumeVarint(b)
			if m < 0 {
				return out, protowire.ParseError(m)
			}
			out.Meta.DurationMs = uint32(v)
			b = b[m:]
		case num == fieldTrackFile && typ == protowire.BytesType:
			v, m := protowire.ConsumeBytes(b)
			if m < 0 {
				return out, protowire.ParseError(m)
			}
			f, err := decodeFileEntry(v)
			if err != nil {
				return out, err
			}
			out.Files = append(out.Files, f)
			b = b[m:]
		default:
			m := protowire.ConsumeFieldValue(num, typ, b)
			if m < 0 {
				return out, protowire.ParseError(m)
			}
			b = b[m:]
		}
	}
	return out, nil
}

func decodeFileEntry(b []byte) (resolvedFile, error) {
	var f resolvedFile
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return f, protowire.ParseError(n)
		}
		b = b[n:]
		switch {
		case num == fieldFileFormat && typ == protowire.VarintType:
			v, m := protowire.ConsumeVarint(b)
			if m < 0 {
				return f, protowire.ParseError(m)
			}
			f.Tier = model.FormatTier(v)
			b = b[m:]
		case num == fieldFileID && typ == protowire.BytesType:
			v, m := protowire.ConsumeBytes(b)
			if m < 0 {
				return f, protowire.ParseError(m)
			}
			f.FileID = append([]byte(nil), v...)
			b = b[m:]
		default:
			m := protowire.ConsumeFieldValue(num, typ, b)
			if m < 0 {
				return f, protowire.ParseError(m)
			}
			b = b[m:]
		}
	}
	return f, nil
}

// pickFile selects the file whose tier matches preferred, falling back
// to the closest available lower tier (spec §4.6 step 1 "pick an audio
// file whose format matches the configured preference ... fall through
// to alternatives").
func pickFile(files []resolvedFile, preferred model.FormatTier) (resolvedFile, bool) {
	for tier := preferred; ; tier++ {
		for _, f := range files {
			if f.Tier == tier {
				return f, true
			}
		}
		if tier >= model.FormatLossy {
			break
		}
	}
	if len(files) > 0 {
		return files[0], true
	}
	return resolvedFile{}, false
}

// metadataURI builds the mercury GET path for a track's metadata (spec
// §4.6 step 1: "hm://metadata/3/{track|episode}/{hex(gid)}").
func metadataURI(gid []byte) string {
	return "hm://metadata/3/track/" + hex.EncodeToString(gid)
}
