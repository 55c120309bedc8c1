package bgm

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"log/slog"

	"github.com/pkg/errors"
)

const (
	maxTrackOffset      = 0xFFFF
	maxSubroutineOffset = 0xFFFF
)

// encoder lays a song out before writing it, since header pointers refer to
// bodies written later and subroutines may refer forward.
type encoder struct {
	song     *Song
	segments [NumSegments]int
	// banks holds the offset of every Tracks subsegment, indexed by slot and
	// subsegment; other subsegments hold 0.
	banks [NumSegments][]int
	// offsets holds, per non-empty track, the offset of each command followed
	// by the offset of the end marker.
	offsets map[trackKey][]int
	size    int
	scratch []byte
}

/*
Encode serializes a song into a BGM file. Every pointer, subroutine offset and
padding byte is recomputed from the song's current contents. On error no
output is returned and the error is an *EncodeError.
*/
func Encode(s *Song) ([]byte, error) {
	if s == nil {
		return nil, errors.New("bgm: nil song")
	}
	e := &encoder{song: s, offsets: make(map[trackKey][]int)}
	index, err := encodeIndex(s.Index)
	if err != nil {
		return nil, err
	}
	if err := e.validate(); err != nil {
		return nil, err
	}
	if err := e.layout(); err != nil {
		return nil, err
	}
	out, err := e.write(index)
	if err != nil {
		return nil, err
	}
	slog.Debug("bgm: encoded song", "index", s.Index, "size", len(out))
	return out, nil
}

// MarshalBinary satisfies the encoding.BinaryMarshaler interface.
func (s *Song) MarshalBinary() ([]byte, error) {
	return Encode(s)
}

// WriteTo encodes the song and writes it to w. Nothing is written if the song
// cannot be encoded.
func (s *Song) WriteTo(w io.Writer) (int64, error) {
	data, err := Encode(s)
	if err != nil {
		return 0, err
	}
	n, err := w.Write(data)
	if err != nil {
		return int64(n), errors.Wrap(err, "bgm: write")
	}
	return int64(n), nil
}

func encodeIndex(index string) ([IndexSize]byte, error) {
	var out [IndexSize]byte
	if len(index) > IndexSize {
		return out, encodeErrorf(ErrIndexTooLong, "index",
			"%q is %d bytes, at most %d fit", index, len(index), IndexSize)
	}
	for i := 0; i < len(index); i++ {
		if index[i] >= 0x80 {
			return out, encodeErrorf(ErrInvalidIndex, "index",
				"byte %d of %q is not ASCII", i, index)
		}
	}
	copy(out[:], index)
	for i := len(index); i < IndexSize; i++ {
		out[i] = IndexFill
	}
	return out, nil
}

func subsegmentPath(slot, i int) string {
	return fmt.Sprintf("segment %d subsegment %d", slot, i)
}

// validate rejects subsegments that would not decode back to the same kind.
func (e *encoder) validate() error {
	for slot, segment := range e.song.Segments {
		if segment == nil {
			continue
		}
		for i, sub := range segment.Subsegments {
			switch sub := sub.(type) {
			case *Tracks:
				if sub == nil {
					break
				}
				if !IsTracksFlags(sub.Flags) {
					return encodeErrorf(ErrInvalidFlags, subsegmentPath(slot, i),
						"tracks flags 0x%02X lack the tracks tag", sub.Flags)
				}
				continue
			case *Unknown:
				if sub == nil {
					break
				}
				if sub.Flags == 0 || IsTracksFlags(sub.Flags) {
					return encodeErrorf(ErrInvalidFlags, subsegmentPath(slot, i),
						"unknown subsegment flags 0x%02X read back as another kind", sub.Flags)
				}
				continue
			}
			return encodeErrorf(ErrCommandEncode, subsegmentPath(slot, i), "missing subsegment")
		}
	}
	return nil
}

// layout assigns an offset to every structure: the header, the subsegment word
// lists of all present segments, then each track bank followed by its tracks.
func (e *encoder) layout() error {
	pos := HeaderSize
	for slot, segment := range e.song.Segments {
		if segment == nil {
			continue
		}
		pos = alignInt(pos)
		if pos > maxShiftedPointer {
			return encodeErrorf(ErrOffsetOverflow, fmt.Sprintf("segment %d", slot),
				"segment starts at 0x%X", pos)
		}
		e.segments[slot] = pos
		pos += (len(segment.Subsegments) + 1) * subsegmentWord
	}

	for slot, segment := range e.song.Segments {
		if segment == nil {
			continue
		}
		e.banks[slot] = make([]int, len(segment.Subsegments))
		for i, sub := range segment.Subsegments {
			tracks, ok := sub.(*Tracks)
			if !ok {
				continue
			}
			pos = alignInt(pos)
			if pos-e.segments[slot] > maxShiftedPointer {
				return encodeErrorf(ErrOffsetOverflow, subsegmentPath(slot, i),
					"track bank is 0x%X bytes past its segment", pos-e.segments[slot])
			}
			e.banks[slot][i] = pos
			bank := pos
			pos += trackBankSize

			for t := range tracks.Tracks {
				track := &tracks.Tracks[t]
				if track.Empty() {
					continue
				}
				if pos-bank > maxTrackOffset {
					return encodeErrorf(ErrOffsetOverflow, fmt.Sprintf("%s track %d", subsegmentPath(slot, i), t),
						"track is 0x%X bytes past its bank", pos-bank)
				}
				offsets := make([]int, 0, len(track.Commands)+1)
				for c, command := range track.Commands {
					encoded, err := appendCommand(e.scratch[:0], command, 0, 0)
					if err != nil {
						return commandError(slot, i, t, c, err)
					}
					e.scratch = encoded
					offsets = append(offsets, pos)
					pos += len(encoded)
				}
				offsets = append(offsets, pos)
				pos++
				e.offsets[trackKey{slot, i, t}] = offsets
			}
		}
	}
	e.size = alignInt(pos)
	return nil
}

func (e *encoder) write(index [IndexSize]byte) ([]byte, error) {
	out := bytes.Repeat([]byte{PadByte}, e.size)
	copy(out, Magic)
	binary.BigEndian.PutUint32(out[sizeOffset:], uint32(e.size))
	copy(out[indexOffset:], index[:])
	for i := indexOffset + IndexSize; i < HeaderSize; i++ {
		out[i] = 0
	}
	out[segmentCountOff] = NumSegments

	for slot, segment := range e.song.Segments {
		if segment == nil {
			continue
		}
		start := e.segments[slot]
		binary.BigEndian.PutUint16(out[segmentTableOff+2*slot:], uint16(start>>offsetShift))

		for i, sub := range segment.Subsegments {
			word := out[start+i*subsegmentWord : start+(i+1)*subsegmentWord]
			switch sub := sub.(type) {
			case *Tracks:
				word[0] = sub.Flags
				word[1] = 0
				binary.BigEndian.PutUint16(word[2:], uint16((e.banks[slot][i]-start)>>offsetShift))
				if err := e.writeTracks(out, slot, i, sub); err != nil {
					return nil, err
				}
			case *Unknown:
				word[0] = sub.Flags
				copy(word[1:], sub.Data[:])
			}
		}
		end := start + len(segment.Subsegments)*subsegmentWord
		copy(out[end:end+subsegmentWord], []byte{0, 0, 0, 0})
	}
	return out, nil
}

func (e *encoder) writeTracks(out []byte, slot, sub int, tracks *Tracks) error {
	bank := e.banks[slot][sub]
	for t := range tracks.Tracks {
		track := &tracks.Tracks[t]
		header := out[bank+t*trackHeaderSize:]
		binary.BigEndian.PutUint16(header[2:], track.Flags)

		offsets, ok := e.offsets[trackKey{slot, sub, t}]
		if !ok {
			binary.BigEndian.PutUint16(header, 0)
			continue
		}
		binary.BigEndian.PutUint16(header, uint16(offsets[0]-bank))

		for c, command := range track.Commands {
			var start, length int
			if s, ok := command.(*Subroutine); ok {
				var err error
				if start, length, err = e.resolve(s); err != nil {
					return commandError(slot, sub, t, c, err)
				}
			}
			encoded, err := appendCommand(e.scratch[:0], command, start, length)
			if err != nil {
				return commandError(slot, sub, t, c, err)
			}
			e.scratch = encoded
			copy(out[offsets[c]:], encoded)
		}
		out[offsets[len(offsets)-1]] = byte(OpEnd)
	}
	return nil
}

// resolve finds the byte range a subroutine covers in the final layout.
func (e *encoder) resolve(s *Subroutine) (start, length int, err error) {
	ref := s.Start
	offsets, ok := e.offsets[ref.track()]
	if !ok || ref.Command < 0 || ref.Command >= len(offsets)-1 {
		return 0, 0, fmt.Errorf("subroutine target %v does not exist", ref)
	}
	if s.Count < 0 || ref.Command+s.Count > len(offsets)-1 {
		return 0, 0, fmt.Errorf("subroutine of %d commands from %v runs past its track", s.Count, ref)
	}
	start = offsets[ref.Command]
	if start > maxSubroutineOffset {
		return 0, 0, &EncodeError{
			Err:    ErrOffsetOverflow,
			Detail: fmt.Sprintf("subroutine target %v is at 0x%X", ref, start),
		}
	}
	return start, offsets[ref.Command+s.Count] - start, nil
}

func commandError(slot, sub, track, command int, err error) *EncodeError {
	path := fmt.Sprintf("%s track %d command %d", subsegmentPath(slot, sub), track, command)
	if ee, ok := err.(*EncodeError); ok {
		ee.Path = path
		return ee
	}
	return &EncodeError{Err: ErrCommandEncode, Path: path, Detail: err.Error()}
}

func alignInt(pos int) int {
	return int(align(uint32(pos), Alignment))
}
