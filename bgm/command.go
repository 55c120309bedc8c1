package bgm

import (
	"fmt"
)

// Opcode is the leading byte of an encoded command.
type Opcode byte

const (
	OpEnd Opcode = 0x00

	// 0x01-0x77 are short delays, 0x78-0x7F long delays.
	OpDelayLong Opcode = 0x78
	// 0x80-0xD3 are notes; the low 7 bits hold the pitch.
	OpNote    Opcode = 0x80
	OpNoteMax Opcode = 0xD3

	OpMasterTempo        Opcode = 0xE0
	OpMasterVolume       Opcode = 0xE1
	OpMasterPitchShift   Opcode = 0xE2
	OpE3                 Opcode = 0xE3
	OpMasterTempoFade    Opcode = 0xE4
	OpMasterVolumeFade   Opcode = 0xE5
	OpMasterEffect       Opcode = 0xE6
	OpTrackOverridePatch Opcode = 0xE8
	OpSubTrackVolume     Opcode = 0xE9
	OpSubTrackPan        Opcode = 0xEA
	OpSubTrackReverb     Opcode = 0xEB
	OpSegTrackVolume     Opcode = 0xEC
	OpSubTrackCoarseTune Opcode = 0xED
	OpSubTrackFineTune   Opcode = 0xEE
	OpSegTrackTune       Opcode = 0xEF
	OpTrackTremolo       Opcode = 0xF0
	OpTrackTremoloSpeed  Opcode = 0xF1
	OpTrackTremoloTime   Opcode = 0xF2
	OpTrackTremoloStop   Opcode = 0xF3
	OpF4                 Opcode = 0xF4
	OpSetTrackVoice      Opcode = 0xF5
	OpTrackVolumeFade    Opcode = 0xF6
	OpSubTrackReverbType Opcode = 0xF7
	OpFC                 Opcode = 0xFC
	OpEventTrigger       Opcode = 0xFD
	OpSubroutine         Opcode = 0xFE
	OpSpecial            Opcode = 0xFF
)

const (
	MaxShortDelay = 0x77
	MaxDelay      = 0x7FF + 0x78
	MaxPitch      = uint8(OpNoteMax - OpNote)
	// Note lengths below noteLongLength take one byte.
	noteLongLength = 0xC0
	MaxNoteLength  = 0x3FFF + noteLongLength

	maxSubroutine = 0xFF
)

// controlArgs maps every 0xE0-0xFF opcode to its argument byte count. Opcodes
// missing from the table are not understood by the engine.
var controlArgs = map[Opcode]int{
	OpMasterTempo:        2,
	OpMasterVolume:       1,
	OpMasterPitchShift:   1,
	OpE3:                 1,
	OpMasterTempoFade:    4,
	OpMasterVolumeFade:   3,
	OpMasterEffect:       2,
	OpTrackOverridePatch: 2,
	OpSubTrackVolume:     1,
	OpSubTrackPan:        1,
	OpSubTrackReverb:     1,
	OpSegTrackVolume:     1,
	OpSubTrackCoarseTune: 1,
	OpSubTrackFineTune:   1,
	OpSegTrackTune:       2,
	OpTrackTremolo:       3,
	OpTrackTremoloSpeed:  1,
	OpTrackTremoloTime:   1,
	OpTrackTremoloStop:   0,
	OpF4:                 2,
	OpSetTrackVoice:      1,
	OpTrackVolumeFade:    3,
	OpSubTrackReverbType: 1,
	OpFC:                 3,
	OpEventTrigger:       3,
	OpSpecial:            3,
}

// ControlArgCount returns the number of argument bytes a control opcode takes.
// ok is false for opcodes that are not control commands.
func ControlArgCount(op Opcode) (n int, ok bool) {
	n, ok = controlArgs[op]
	return
}

// CommandSeq is the list of commands of one track, without the end marker.
type CommandSeq []Command

/*
Command is one event of a track. The variants are Delay, Note, Control and
Subroutine.
*/
type Command interface {
	isCommand()
}

// Delay waits for Ticks ticks, 1 to MaxDelay.
type Delay struct {
	Ticks int
}

// Note plays Pitch (0 to MaxPitch) for Length ticks (0 to MaxNoteLength).
type Note struct {
	Pitch    uint8
	Velocity uint8
	Length   int
}

// Control is any fixed-arity engine command. Its argument bytes are opaque.
type Control struct {
	Op   Opcode
	Args []byte
}

/*
Subroutine plays Count commands starting at Start and then returns. Start
addresses a command anywhere in the song and the whole range must lie in one
track. The byte offset and length written to the file are derived from the
final layout whenever the song is encoded.
*/
type Subroutine struct {
	Start CommandRef
	Count int
}

// CommandRef addresses a command by its position in the song tree.
type CommandRef struct {
	Segment    int
	Subsegment int
	Track      int
	Command    int
}

func (r CommandRef) String() string {
	return fmt.Sprintf("segment %d subsegment %d track %d command %d",
		r.Segment, r.Subsegment, r.Track, r.Command)
}

func (*Delay) isCommand()      {}
func (*Note) isCommand()       {}
func (*Control) isCommand()    {}
func (*Subroutine) isCommand() {}

// appendCommand validates c and appends its encoding to buf. Subroutine
// operands are taken from start and length, which the caller derives from the
// layout.
func appendCommand(buf []byte, c Command, start, length int) ([]byte, error) {
	switch c := c.(type) {
	case *Delay:
		if c == nil {
			break
		}
		if c.Ticks < 1 || c.Ticks > MaxDelay {
			return nil, fmt.Errorf("delay of %d ticks outside 1..%d", c.Ticks, MaxDelay)
		}
		if c.Ticks <= MaxShortDelay {
			return append(buf, byte(c.Ticks)), nil
		}
		v := c.Ticks - int(OpDelayLong)
		return append(buf, byte(OpDelayLong)|byte(v>>8), byte(v)), nil
	case *Note:
		if c == nil {
			break
		}
		if c.Pitch > MaxPitch {
			return nil, fmt.Errorf("pitch %d above %d", c.Pitch, MaxPitch)
		}
		if c.Length < 0 || c.Length > MaxNoteLength {
			return nil, fmt.Errorf("note length %d outside 0..%d", c.Length, MaxNoteLength)
		}
		buf = append(buf, byte(OpNote)+c.Pitch, c.Velocity)
		if c.Length < noteLongLength {
			return append(buf, byte(c.Length)), nil
		}
		v := c.Length - noteLongLength
		return append(buf, noteLongLength|byte(v>>8), byte(v)), nil
	case *Control:
		if c == nil {
			break
		}
		n, ok := controlArgs[c.Op]
		if !ok {
			return nil, fmt.Errorf("opcode 0x%02X is not a control command", byte(c.Op))
		}
		if len(c.Args) != n {
			return nil, fmt.Errorf("opcode 0x%02X takes %d argument bytes, got %d", byte(c.Op), n, len(c.Args))
		}
		buf = append(buf, byte(c.Op))
		return append(buf, c.Args...), nil
	case *Subroutine:
		if c == nil {
			break
		}
		if length < 0 || length > maxSubroutine {
			return nil, fmt.Errorf("subroutine spans %d bytes, at most %d fit", length, maxSubroutine)
		}
		return append(buf, byte(OpSubroutine), byte(start>>8), byte(start), byte(length)), nil
	case nil:
	default:
		return nil, fmt.Errorf("unsupported command %T", c)
	}
	return nil, fmt.Errorf("nil command")
}
