package queue

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/tobiasguyer/streamcore32/internal/control"
	"github.com/tobiasguyer/streamcore32/internal/model"
)

// Kind values tag which concrete Message a control.Message's Payload
// decodes to. No protobuf schema ships with this protocol's public
// description (spec §6 "typed message kinds enumerate renderer/
// controller/server actions"), so these are assigned in the order
// spec §4.5's table lists them, mirroring the same "Open Question,
// chosen in listed order" decision already taken for provider A's
// handshake messages.
const (
	KindSessionState Kind = iota + 1
	KindActiveRendererChanged
	KindQueueState
	KindQueueTracksLoaded
	KindQueueTracksInserted
	KindQueueTracksAdded
	KindQueueTracksRemoved
	KindAutoplayTracksLoaded
	KindRendererStateUpdated
	KindSetState
	KindSetLoopMode
	KindVolumeChanged
)

// Kind is the control-envelope message kind this package's Decode/Encode
// pair translates against.
type Kind = uint32

// Field numbers shared by every message's hand-rolled schema below.
const (
	fTracks          = 1
	fAutoplayTracks  = 2
	fShuffledIndexes = 3
	fVersionMajor     = 4
	fVersionMinor     = 5
	fContextUUID     = 6
	fRendererID      = 1
	fSessionID       = 2
	fInsertAfter     = 3
	fAutoplayReset   = 4
	fQueueItemIDs    = 1
	fIndex           = 1
	fPositionMS      = 2
	fTargetQueueItem = 3
	fNextQueueItem   = 4
	fPlayingState    = 5
	fLoopMode        = 1
	fVolume          = 2
	fMaxVolume       = 3

	// TrackRef sub-message fields.
	tProvider      = 1
	tURI           = 2
	tUID           = 3
	tQueueItemID   = 4
	tOriginalIndex = 5
	tContextUUID   = 6
)

func encodeTrackRef(ref model.TrackRef) []byte {
	var b []byte
	b = protowire.AppendTag(b, tProvider, protowire.BytesType)
	b = protowire.AppendBytes(b, []byte(ref.Provider))
	b = protowire.AppendTag(b, tURI, protowire.BytesType)
	b = protowire.AppendBytes(b, []byte(ref.URI))
	b = protowire.AppendTag(b, tUID, protowire.BytesType)
	b = protowire.AppendBytes(b, []byte(ref.UID))
	b = protowire.AppendTag(b, tQueueItemID, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(ref.QueueItemID))
	b = protowire.AppendTag(b, tOriginalIndex, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(int64(ref.OriginalIndex)))
	b = protowire.AppendTag(b, tContextUUID, protowire.BytesType)
	b = protowire.AppendBytes(b, ref.ContextUUID[:])
	return b
}

func decodeTrackRef(b []byte) (model.TrackRef, error) {
	var ref model.TrackRef
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return ref, protowire.ParseError(n)
		}
		b = b[n:]
		switch {
		case num == tProvider && typ == protowire.BytesType:
			v, m := protowire.ConsumeBytes(b)
			ref.Provider = string(v)
			b = b[consumedOrAll(m, b):]
		case num == tURI && typ == protowire.BytesType:
			v, m := protowire.ConsumeBytes(b)
			ref.URI = string(v)
			b = b[consumedOrAll(m, b):]
		case num == tUID && typ == protowire.BytesType:
			v, m := protowire.ConsumeBytes(b)
			ref.UID = string(v)
			b = b[consumedOrAll(m, b):]
		case num == tQueueItemID && typ == protowire.VarintType:
			v, m := protowire.ConsumeVarint(b)
			ref.QueueItemID = uint32(v)
			b = b[consumedOrAll(m, b):]
		case num == tOriginalIndex && typ == protowire.VarintType:
			v, m := protowire.ConsumeVarint(b)
			ref.OriginalIndex = int(int64(v))
			b = b[consumedOrAll(m, b):]
		case num == tContextUUID && typ == protowire.BytesType:
			v, m := protowire.ConsumeBytes(b)
			copy(ref.ContextUUID[:], v)
			b = b[consumedOrAll(m, b):]
		default:
			m := protowire.ConsumeFieldValue(num, typ, b)
			if m < 0 {
				return ref, protowire.ParseError(m)
			}
			b = b[m:]
		}
	}
	return ref, nil
}

func consumedOrAll(n int, b []byte) int {
	if n < 0 {
		return len(b)
	}
	return n
}

func encodeTrackRefs(refs []model.TrackRef, field int) []byte {
	var b []byte
	for _, ref := range refs {
		b = protowire.AppendTag(b, protowire.Number(field), protowire.BytesType)
		b = protowire.AppendBytes(b, encodeTrackRef(ref))
	}
	return b
}

func encodeVersion(v model.QueueVersion) []byte {
	var b []byte
	b = protowire.AppendTag(b, fVersionMajor, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(v.Major))
	b = protowire.AppendTag(b, fVersionMinor, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(v.Minor))
	return b
}

// Decode turns one control.Message into the concrete queue.Message its
// Kind names, the step spec §4.5's data flow calls "a typed message is
// decoded upstream" of Reduce.
func Decode(msg control.Message) (Message, error) {
	b := msg.Payload
	switch msg.Kind {
	case KindSessionState:
		var out SessionState
		return out, forEachField(b, func(num protowire.Number, typ protowire.Type, rest []byte) (int, error) {
			switch {
			case num == fVersionMajor && typ == protowire.VarintType:
				v, n := protowire.ConsumeVarint(rest)
				out.QueueVersion.Major = uint32(v)
				return n, nil
			case num == fVersionMinor && typ == protowire.VarintType:
				v, n := protowire.ConsumeVarint(rest)
				out.QueueVersion.Minor = uint32(v)
				return n, nil
			case num == fSessionID && typ == protowire.BytesType:
				v, n := protowire.ConsumeBytes(rest)
				out.SessionID = string(v)
				return n, nil
			default:
				return 0, nil
			}
		})
	case KindActiveRendererChanged:
		var out ActiveRendererChanged
		return out, forEachField(b, func(num protowire.Number, typ protowire.Type, rest []byte) (int, error) {
			if num == fRendererID && typ == protowire.BytesType {
				v, n := protowire.ConsumeBytes(rest)
				out.RendererID = string(v)
				return n, nil
			}
			return 0, nil
		})
	case KindQueueState:
		var out QueueState
		err := forEachField(b, func(num protowire.Number, typ protowire.Type, rest []byte) (int, error) {
			switch {
			case num == fTracks && typ == protowire.BytesType:
				v, n := protowire.ConsumeBytes(rest)
				ref, derr := decodeTrackRef(v)
				if derr != nil {
					return n, derr
				}
				out.Tracks = append(out.Tracks, ref)
				return n, nil
			case num == fAutoplayTracks && typ == protowire.BytesType:
				v, n := protowire.ConsumeBytes(rest)
				ref, derr := decodeTrackRef(v)
				if derr != nil {
					return n, derr
				}
				out.AutoplayTracks = append(out.AutoplayTracks, ref)
				return n, nil
			case num == fShuffledIndexes && typ == protowire.VarintType:
				v, n := protowire.ConsumeVarint(rest)
				out.ShuffledIndexes = append(out.ShuffledIndexes, int(v))
				return n, nil
			case num == fVersionMajor && typ == protowire.VarintType:
				v, n := protowire.ConsumeVarint(rest)
				out.Version.Major = uint32(v)
				return n, nil
			case num == fVersionMinor && typ == protowire.VarintType:
				v, n := protowire.ConsumeVarint(rest)
				out.Version.Minor = uint32(v)
				return n, nil
			default:
				return 0, nil
			}
		})
		return out, err
	case KindQueueTracksLoaded:
		var out QueueTracksLoaded
		err := forEachField(b, func(num protowire.Number, typ protowire.Type, rest []byte) (int, error) {
			switch {
			case num == fTracks && typ == protowire.BytesType:
				v, n := protowire.ConsumeBytes(rest)
				ref, derr := decodeTrackRef(v)
				if derr != nil {
					return n, derr
				}
				out.Tracks = append(out.Tracks, ref)
				return n, nil
			case num == fVersionMajor && typ == protowire.VarintType:
				v, n := protowire.ConsumeVarint(rest)
				out.Version.Major = uint32(v)
				return n, nil
			case num == fVersionMinor && typ == protowire.VarintType:
				v, n := protowire.ConsumeVarint(rest)
				out.Version.Minor = uint32(v)
				return n, nil
			case num == fContextUUID && typ == protowire.BytesType:
				v, n := protowire.ConsumeBytes(rest)
				copy(out.ContextUUID[:], v)
				return n, nil
			default:
				return 0, nil
			}
		})
		return out, err
	case KindQueueTracksInserted:
		var out QueueTracksInserted
		err := forEachField(b, func(num protowire.Number, typ protowire.Type, rest []byte) (int, error) {
			switch {
			case num == fTracks && typ == protowire.BytesType:
				v, n := protowire.ConsumeBytes(rest)
				ref, derr := decodeTrackRef(v)
				if derr != nil {
					return n, derr
				}
				out.Tracks = append(out.Tracks, ref)
				return n, nil
			case num == fInsertAfter && typ == protowire.VarintType:
				v, n := protowire.ConsumeVarint(rest)
				out.InsertAfter = uint32(v)
				return n, nil
			case num == fAutoplayReset && typ == protowire.VarintType:
				v, n := protowire.ConsumeVarint(rest)
				out.AutoplayReset = v != 0
				return n, nil
			default:
				return 0, nil
			}
		})
		return out, err
	case KindQueueTracksAdded:
		var out QueueTracksAdded
		err := forEachField(b, func(num protowire.Number, typ protowire.Type, rest []byte) (int, error) {
			switch {
			case num == fTracks && typ == protowire.BytesType:
				v, n := protowire.ConsumeBytes(rest)
				ref, derr := decodeTrackRef(v)
				if derr != nil {
					return n, derr
				}
				out.Tracks = append(out.Tracks, ref)
				return n, nil
			case num == fAutoplayReset && typ == protowire.VarintType:
				v, n := protowire.ConsumeVarint(rest)
				out.AutoplayReset = v != 0
				return n, nil
			default:
				return 0, nil
			}
		})
		return out, err
	case KindQueueTracksRemoved:
		var out QueueTracksRemoved
		err := forEachField(b, func(num protowire.Number, typ protowire.Type, rest []byte) (int, error) {
			if num == fQueueItemIDs && typ == protowire.VarintType {
				v, n := protowire.ConsumeVarint(rest)
				out.QueueItemIDs = append(out.QueueItemIDs, uint32(v))
				return n, nil
			}
			return 0, nil
		})
		return out, err
	case KindAutoplayTracksLoaded:
		var out AutoplayTracksLoaded
		err := forEachField(b, func(num protowire.Number, typ protowire.Type, rest []byte) (int, error) {
			switch {
			case num == fTracks && typ == protowire.BytesType:
				v, n := protowire.ConsumeBytes(rest)
				ref, derr := decodeTrackRef(v)
				if derr != nil {
					return n, derr
				}
				out.Tracks = append(out.Tracks, ref)
				return n, nil
			case num == fContextUUID && typ == protowire.BytesType:
				v, n := protowire.ConsumeBytes(rest)
				copy(out.ContextUUID[:], v)
				return n, nil
			default:
				return 0, nil
			}
		})
		return out, err
	case KindRendererStateUpdated:
		var out RendererStateUpdated
		err := forEachField(b, func(num protowire.Number, typ protowire.Type, rest []byte) (int, error) {
			switch {
			case num == fIndex && typ == protowire.VarintType:
				v, n := protowire.ConsumeVarint(rest)
				out.Index = int(v)
				return n, nil
			case num == fPositionMS && typ == protowire.VarintType:
				v, n := protowire.ConsumeVarint(rest)
				out.PositionMS = int64(v)
				return n, nil
			default:
				return 0, nil
			}
		})
		return out, err
	case KindSetState:
		var out SetState
		err := forEachField(b, func(num protowire.Number, typ protowire.Type, rest []byte) (int, error) {
			switch {
			case num == fTargetQueueItem && typ == protowire.VarintType:
				v, n := protowire.ConsumeVarint(rest)
				out.TargetQueueItem = uint32(v)
				return n, nil
			case num == fNextQueueItem && typ == protowire.VarintType:
				v, n := protowire.ConsumeVarint(rest)
				out.NextQueueItem = uint32(v)
				return n, nil
			case num == fPositionMS && typ == protowire.VarintType:
				v, n := protowire.ConsumeVarint(rest)
				out.PositionMS = int64(v)
				return n, nil
			case num == fPlayingState && typ == protowire.VarintType:
				v, n := protowire.ConsumeVarint(rest)
				out.PlayingState = PlayingState(v)
				return n, nil
			default:
				return 0, nil
			}
		})
		return out, err
	case KindSetLoopMode:
		var out SetLoopMode
		err := forEachField(b, func(num protowire.Number, typ protowire.Type, rest []byte) (int, error) {
			if num == fLoopMode && typ == protowire.VarintType {
				v, n := protowire.ConsumeVarint(rest)
				out.Mode = model.LoopMode(v)
				return n, nil
			}
			return 0, nil
		})
		return out, err
	case KindVolumeChanged:
		var out VolumeChanged
		err := forEachField(b, func(num protowire.Number, typ protowire.Type, rest []byte) (int, error) {
			switch {
			case num == fRendererID && typ == protowire.BytesType:
				v, n := protowire.ConsumeBytes(rest)
				out.RendererID = string(v)
				return n, nil
			case num == fVolume && typ == protowire.VarintType:
				v, n := protowire.ConsumeVarint(rest)
				out.Volume = int(v)
				return n, nil
			case num == fMaxVolume && typ == protowire.VarintType:
				v, n := protowire.ConsumeVarint(rest)
				out.MaxVolume = int(v)
				return n, nil
			default:
				return 0, nil
			}
		})
		return out, err
	default:
		return nil, fmt.Errorf("queue: unknown message kind %d", msg.Kind)
	}
}

// forEachField walks b's tag-length-value fields, delegating each to fn.
// fn returns the number of bytes its field value consumed (protowire's
// Consume* "n", which is the whole encoded value including any nested
// length prefix) so the caller can advance in lock-step; fn returning 0
// with a nil error skips an unrecognized field via ConsumeFieldValue.
func forEachField(b []byte, fn func(num protowire.Number, typ protowire.Type, rest []byte) (int, error)) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]
		consumed, err := fn(num, typ, b)
		if err != nil {
			return err
		}
		if consumed == 0 {
			m := protowire.ConsumeFieldValue(num, typ, b)
			if m < 0 {
				return protowire.ParseError(m)
			}
			consumed = m
		}
		b = b[consumed:]
	}
	return nil
}

// Encode serializes msg into the control.Message kind/payload pair
// Decode reverses, used to push renderer-state updates and volume acks
// back out over the control plane (spec §5 "serialize outbound").
func Encode(msg Message) (control.Message, error) {
	var b []byte
	var kind Kind

	switch v := msg.(type) {
	case SessionState:
		kind = KindSessionState
		b = append(b, encodeVersion(v.QueueVersion)...)
		b = protowire.AppendTag(b, fSessionID, protowire.BytesType)
		b = protowire.AppendBytes(b, []byte(v.SessionID))
	case ActiveRendererChanged:
		kind = KindActiveRendererChanged
		b = protowire.AppendTag(b, fRendererID, protowire.BytesType)
		b = protowire.AppendBytes(b, []byte(v.RendererID))
	case QueueState:
		kind = KindQueueState
		b = append(b, encodeTrackRefs(v.Tracks, fTracks)...)
		b = append(b, encodeTrackRefs(v.AutoplayTracks, fAutoplayTracks)...)
		for _, idx := range v.ShuffledIndexes {
			b = protowire.AppendTag(b, fShuffledIndexes, protowire.VarintType)
			b = protowire.AppendVarint(b, uint64(idx))
		}
		b = append(b, encodeVersion(v.Version)...)
	case QueueTracksLoaded:
		kind = KindQueueTracksLoaded
		b = append(b, encodeTrackRefs(v.Tracks, fTracks)...)
		b = append(b, encodeVersion(v.Version)...)
		b = protowire.AppendTag(b, fContextUUID, protowire.BytesType)
		b = protowire.AppendBytes(b, v.ContextUUID[:])
	case RendererStateUpdated:
		kind = KindRendererStateUpdated
		b = protowire.AppendTag(b, fIndex, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(v.Index))
		b = protowire.AppendTag(b, fPositionMS, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(v.PositionMS))
	case VolumeChanged:
		kind = KindVolumeChanged
		b = protowire.AppendTag(b, fRendererID, protowire.BytesType)
		b = protowire.AppendBytes(b, []byte(v.RendererID))
		b = protowire.AppendTag(b, fVolume, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(v.Volume))
		b = protowire.AppendTag(b, fMaxVolume, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(v.MaxVolume))
	default:
		return control.Message{}, fmt.Errorf("queue: encode: unsupported message type %T", msg)
	}

	return control.Message{Kind: kind, Payload: b}, nil
}
