package bgm

import (
	"encoding/binary"
	"io"
	"log/slog"

	"github.com/pkg/errors"
)

// trackKey identifies a track by its position in the song tree.
type trackKey struct {
	segment, subsegment, track int
}

func (r CommandRef) track() trackKey {
	return trackKey{r.Segment, r.Subsegment, r.Track}
}

// pendingSubroutine is a subroutine whose raw operands are resolved once every
// track has been decoded, since targets may lie in tracks further on.
type pendingSubroutine struct {
	cmd    *Subroutine
	at     int
	start  int
	length int
}

type decoder struct {
	data []byte
	// starts maps the offset of every decoded command to its address. When
	// tracks share bytes the first track decoded owns the command.
	starts map[int]CommandRef
	// offsets holds, per track, the offset of each command followed by the
	// offset of the end marker.
	offsets map[trackKey][]int
	pending []pendingSubroutine
}

/*
Decode parses a BGM file. It either returns a fully populated Song or a
*DecodeError; no partial song is ever returned.
*/
func Decode(data []byte) (*Song, error) {
	d := &decoder{
		data:    data,
		starts:  make(map[int]CommandRef),
		offsets: make(map[trackKey][]int),
	}
	song, err := d.decodeSong()
	if err != nil {
		return nil, err
	}
	return song, nil
}

// Read decodes a BGM file from r.
func Read(r io.Reader) (*Song, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, errors.Wrap(err, "bgm: read")
	}
	return Decode(data)
}

/*
UnmarshalBinary decodes data into the receiver. This method satisfies the
encoding.BinaryUnmarshaler interface. The receiver is left untouched on error.
*/
func (s *Song) UnmarshalBinary(data []byte) error {
	song, err := Decode(data)
	if err != nil {
		return err
	}
	*s = *song
	return nil
}

func (d *decoder) decodeSong() (*Song, error) {
	if len(d.data) < len(Magic) || string(d.data[:len(Magic)]) != Magic {
		n := len(Magic)
		if len(d.data) < n {
			n = len(d.data)
		}
		return nil, &DecodeError{
			Err: ErrBadMagic,
			Got: append([]byte(nil), d.data[:n]...),
		}
	}

	index, err := d.decodeIndex()
	if err != nil {
		return nil, err
	}
	if len(d.data) < HeaderSize {
		return nil, decodeError(ErrUnexpectedEOF, len(d.data))
	}

	song := &Song{Index: index}
	for slot := range song.Segments {
		ptr := binary.BigEndian.Uint16(d.data[segmentTableOff+2*slot:])
		if ptr == 0 {
			continue
		}
		start := int(ptr) << offsetShift
		if start >= len(d.data) {
			return nil, decodeError(ErrOffsetOutOfBounds, start)
		}
		segment, err := d.decodeSegment(slot, start)
		if err != nil {
			return nil, err
		}
		slog.Debug("bgm: decoded segment",
			"slot", slot, "offset", start, "subsegments", len(segment.Subsegments))
		song.Segments[slot] = segment
	}

	if err := d.resolveSubroutines(); err != nil {
		return nil, err
	}
	return song, nil
}

func (d *decoder) decodeIndex() (string, error) {
	raw, err := d.bytes(indexOffset, IndexSize)
	if err != nil {
		return "", decodeError(ErrInvalidIndex, indexOffset)
	}
	for i, b := range raw {
		if b >= 0x80 {
			return "", decodeError(ErrInvalidIndex, indexOffset+i)
		}
	}
	return string(raw), nil
}

func (d *decoder) decodeSegment(slot, start int) (*Segment, error) {
	segment := &Segment{}
	for pos := start; ; pos += subsegmentWord {
		word, err := d.bytes(pos, subsegmentWord)
		if err != nil {
			return nil, err
		}
		flags := word[0]
		if flags == 0 {
			return segment, nil
		}

		if !IsTracksFlags(flags) {
			unknown := &Unknown{Flags: flags}
			copy(unknown.Data[:], word[1:])
			segment.Subsegments = append(segment.Subsegments, unknown)
			continue
		}

		bank := start + int(binary.BigEndian.Uint16(word[2:]))<<offsetShift
		if bank >= len(d.data) {
			return nil, decodeError(ErrOffsetOutOfBounds, bank)
		}
		tracks, err := d.decodeTracks(slot, len(segment.Subsegments), bank)
		if err != nil {
			return nil, err
		}
		tracks.Flags = flags
		segment.Subsegments = append(segment.Subsegments, tracks)
	}
}

func (d *decoder) decodeTracks(slot, subsegment, bank int) (*Tracks, error) {
	tracks := &Tracks{}
	for i := range tracks.Tracks {
		header, err := d.bytes(bank+i*trackHeaderSize, trackHeaderSize)
		if err != nil {
			return nil, err
		}
		track := &tracks.Tracks[i]
		track.Flags = binary.BigEndian.Uint16(header[2:])

		rel := binary.BigEndian.Uint16(header)
		if rel == 0 {
			continue
		}
		start := bank + int(rel)
		if start >= len(d.data) {
			return nil, decodeError(ErrOffsetOutOfBounds, start)
		}
		commands, err := d.decodeCommands(trackKey{slot, subsegment, i}, start)
		if err != nil {
			return nil, err
		}
		track.Commands = commands
	}
	return tracks, nil
}

// decodeCommands walks a track's commands up to the end marker.
func (d *decoder) decodeCommands(key trackKey, start int) (CommandSeq, error) {
	var commands CommandSeq
	var offsets []int
	pos := start
	for {
		op, err := d.u8(pos)
		if err != nil {
			return nil, err
		}
		offsets = append(offsets, pos)
		if Opcode(op) == OpEnd {
			break
		}

		command, size, err := d.decodeCommand(pos)
		if err != nil {
			return nil, err
		}
		if _, seen := d.starts[pos]; !seen {
			d.starts[pos] = CommandRef{key.segment, key.subsegment, key.track, len(commands)}
		}
		commands = append(commands, command)
		pos += size
	}
	d.offsets[key] = offsets
	return commands, nil
}

// decodeCommand decodes the command at pos and returns its encoded size.
func (d *decoder) decodeCommand(pos int) (Command, int, error) {
	op := Opcode(d.data[pos])
	switch {
	case op <= MaxShortDelay:
		return &Delay{Ticks: int(op)}, 1, nil

	case op < OpNote:
		low, err := d.u8(pos + 1)
		if err != nil {
			return nil, 0, err
		}
		ticks := int(op-OpDelayLong)<<8 + int(low) + int(OpDelayLong)
		return &Delay{Ticks: ticks}, 2, nil

	case op <= OpNoteMax:
		args, err := d.bytes(pos+1, 2)
		if err != nil {
			return nil, 0, err
		}
		note := &Note{Pitch: byte(op - OpNote), Velocity: args[0], Length: int(args[1])}
		if note.Length < noteLongLength {
			return note, 3, nil
		}
		low, err := d.u8(pos + 3)
		if err != nil {
			return nil, 0, err
		}
		note.Length = (note.Length-noteLongLength)<<8 + int(low) + noteLongLength
		return note, 4, nil

	case op == OpSubroutine:
		args, err := d.bytes(pos+1, 3)
		if err != nil {
			return nil, 0, err
		}
		sub := &Subroutine{}
		d.pending = append(d.pending, pendingSubroutine{
			cmd:    sub,
			at:     pos,
			start:  int(binary.BigEndian.Uint16(args)),
			length: int(args[2]),
		})
		return sub, 4, nil
	}

	n, ok := controlArgs[op]
	if !ok {
		return nil, 0, &DecodeError{Err: ErrUnknownCommand, Offset: pos, Opcode: byte(op)}
	}
	args, err := d.bytes(pos+1, n)
	if err != nil {
		return nil, 0, err
	}
	control := &Control{Op: op}
	if n > 0 {
		control.Args = append([]byte(nil), args...)
	}
	return control, 1 + n, nil
}

// resolveSubroutines turns raw subroutine offsets into command addresses. The
// range must start and end on command boundaries of a single track.
func (d *decoder) resolveSubroutines() error {
	for _, p := range d.pending {
		ref, ok := d.starts[p.start]
		if !ok {
			slog.Debug("bgm: subroutine target is not a command",
				"at", p.at, "target", p.start)
			return decodeError(ErrOffsetOutOfBounds, p.start)
		}
		offsets := d.offsets[ref.track()]
		end := p.start + p.length
		count := -1
		for i := ref.Command; i < len(offsets) && offsets[i] <= end; i++ {
			if offsets[i] == end {
				count = i - ref.Command
				break
			}
		}
		if count < 0 {
			return decodeError(ErrOffsetOutOfBounds, end)
		}
		p.cmd.Start = ref
		p.cmd.Count = count
	}
	return nil
}

func (d *decoder) u8(off int) (byte, error) {
	if off < 0 || off >= len(d.data) {
		return 0, decodeError(ErrUnexpectedEOF, off)
	}
	return d.data[off], nil
}

func (d *decoder) bytes(off, n int) ([]byte, error) {
	if off < 0 || off+n > len(d.data) {
		return nil, decodeError(ErrUnexpectedEOF, off)
	}
	return d.data[off : off+n], nil
}
