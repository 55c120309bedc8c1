/*
The bgm package reads and writes BGM files, the sequenced music format played
by the N64 audio engine. A BGM file holds up to four segments; each segment is
a list of subsegments and each subsegment is either a bank of 16 tracks or a
small opaque block. Tracks carry variable-length encoded commands.

Decode turns bytes into a Song and Encode turns a Song back into bytes,
recomputing every pointer and padding the layout the way the engine expects.
*/
package bgm

const (
	// Magic is the signature found at the start of every BGM file.
	Magic = "BGM "

	// DefaultIndex is the song index given to newly created songs.
	DefaultIndex = "xxx "

	// IndexFill pads song indices shorter than IndexSize.
	IndexFill byte = ' '
	IndexSize      = 4

	// PadByte fills the gaps left by alignment.
	PadByte   byte   = 0
	Alignment uint32 = 4

	NumSegments = 4
	NumTracks   = 16
	UnknownSize = 3

	HeaderSize = 0x24

	sizeOffset        = 0x04
	indexOffset       = 0x08
	segmentCountOff   = 0x10
	segmentTableOff   = 0x14
	trackHeaderSize   = 4
	trackBankSize     = NumTracks * trackHeaderSize
	subsegmentWord    = 4
	tracksTagMask     = 0x70
	tracksTag         = 0x10
	offsetShift       = 2
	maxShiftedPointer = 0xFFFF << offsetShift
)

// Song is a decoded BGM file.
type Song struct {
	// Index is the ASCII song index. It is at most 4 bytes long and is padded
	// with IndexFill when written.
	Index string

	// A nil slot means the segment is absent, which is not the same as a
	// present segment without subsegments.
	Segments [NumSegments]*Segment
}

// NewSong returns a song with the default index and no segments.
func NewSong() *Song {
	return &Song{Index: DefaultIndex}
}

// Segment is an ordered list of subsegments.
type Segment struct {
	Subsegments []Subsegment
}

/*
Subsegment is one entry of a segment. It is either a Tracks bank or an Unknown
block. The set of variants is closed.
*/
type Subsegment interface {
	flags() uint8
}

// Tracks is a subsegment holding 16 parallel tracks. Flags must carry the
// tracks tag (flags&0x70 == 0x10); the remaining bits are passed through.
type Tracks struct {
	Flags  uint8
	Tracks [NumTracks]Track
}

// Unknown is a subsegment the codec does not interpret. Its payload is copied
// through unchanged.
type Unknown struct {
	Flags uint8
	Data  [UnknownSize]byte
}

func (t *Tracks) flags() uint8  { return t.Flags }
func (u *Unknown) flags() uint8 { return u.Flags }

// SubsegmentFlags returns the flags byte shared by both subsegment variants.
func SubsegmentFlags(s Subsegment) uint8 {
	return s.flags()
}

// IsTracksFlags reports whether a subsegment flags byte marks a track bank.
func IsTracksFlags(flags uint8) bool {
	return flags&tracksTagMask == tracksTag
}

// Track is one lane of a Tracks subsegment. A track without commands is empty.
type Track struct {
	Flags    uint16
	Commands CommandSeq
}

// Empty reports whether the track has no commands.
func (t *Track) Empty() bool {
	return len(t.Commands) == 0
}
