package bgm_test

import (
	"math/rand"
	"testing"

	. "github.com/fewffwa/mamar/bgm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var controlOps = []Opcode{
	OpMasterTempo, OpMasterVolume, OpMasterTempoFade, OpMasterEffect,
	OpSubTrackPan, OpSegTrackTune, OpTrackTremolo, OpTrackTremoloStop,
	OpSetTrackVoice, OpTrackVolumeFade, OpFC, OpEventTrigger, OpSpecial,
}

func randomCommand(r *rand.Rand) Command {
	switch r.Intn(3) {
	case 0:
		return &Delay{Ticks: 1 + r.Intn(MaxDelay)}
	case 1:
		return &Note{
			Pitch:    uint8(r.Intn(int(MaxPitch) + 1)),
			Velocity: uint8(r.Intn(256)),
			Length:   r.Intn(MaxNoteLength + 1),
		}
	}
	op := controlOps[r.Intn(len(controlOps))]
	n, _ := ControlArgCount(op)
	control := &Control{Op: op}
	for i := 0; i < n; i++ {
		control.Args = append(control.Args, byte(r.Intn(256)))
	}
	return control
}

func randomTracks(r *rand.Rand) *Tracks {
	tracks := &Tracks{Flags: 0x10 | uint8(r.Intn(256))&0x8F}
	for i := range tracks.Tracks {
		track := &tracks.Tracks[i]
		track.Flags = uint16(r.Intn(0x10000))
		if r.Intn(3) == 0 {
			continue
		}
		for n := 1 + r.Intn(12); n > 0; n-- {
			track.Commands = append(track.Commands, randomCommand(r))
		}
	}
	return tracks
}

func randomUnknown(r *rand.Rand) *Unknown {
	for {
		flags := uint8(r.Intn(256))
		if flags != 0 && !IsTracksFlags(flags) {
			unknown := &Unknown{Flags: flags}
			r.Read(unknown.Data[:])
			return unknown
		}
	}
}

// addSubroutines appends subroutines pointing at random ranges of the song.
func addSubroutines(r *rand.Rand, song *Song) {
	var targets []CommandRef
	var lengths []int
	for s, segment := range song.Segments {
		if segment == nil {
			continue
		}
		for i, sub := range segment.Subsegments {
			tracks, ok := sub.(*Tracks)
			if !ok {
				continue
			}
			for t, track := range tracks.Tracks {
				if len(track.Commands) > 0 {
					targets = append(targets, CommandRef{Segment: s, Subsegment: i, Track: t})
					lengths = append(lengths, len(track.Commands))
				}
			}
		}
	}
	for i, ref := range targets {
		if r.Intn(2) == 0 {
			continue
		}
		ref.Command = r.Intn(lengths[i])
		// At most 8 commands of at most 5 bytes keep the range under 256 bytes.
		count := r.Intn(lengths[i] - ref.Command + 1)
		if count > 8 {
			count = 8
		}
		host := targets[r.Intn(len(targets))]
		tracks := song.Segments[host.Segment].Subsegments[host.Subsegment].(*Tracks)
		track := &tracks.Tracks[host.Track]
		track.Commands = append(track.Commands, &Subroutine{Start: ref, Count: count})
	}
}

func randomSong(r *rand.Rand) *Song {
	const letters = "abcdefghijklmnopqrstuvwxyz0123456789 "
	index := make([]byte, IndexSize)
	for i := range index {
		index[i] = letters[r.Intn(len(letters))]
	}
	song := &Song{Index: string(index)}
	for slot := range song.Segments {
		if r.Intn(4) == 0 {
			continue
		}
		segment := &Segment{}
		for n := r.Intn(4); n > 0; n-- {
			if r.Intn(3) == 0 {
				segment.Subsegments = append(segment.Subsegments, randomUnknown(r))
			} else {
				segment.Subsegments = append(segment.Subsegments, randomTracks(r))
			}
		}
		song.Segments[slot] = segment
	}
	addSubroutines(r, song)
	return song
}

func TestRoundTrip(t *testing.T) {
	r := rand.New(rand.NewSource(1))
	for i := 0; i < 200; i++ {
		song := randomSong(r)
		data, err := Encode(song)
		require.Nil(t, err, "song %d", i)

		decoded, err := Decode(data)
		require.Nil(t, err, "song %d", i)
		assert.Equal(t, song, decoded, "song %d", i)

		// Encoding is deterministic, so an untouched song encodes identically.
		again, err := Encode(decoded)
		require.Nil(t, err)
		assert.Equal(t, data, again)
	}
}

func TestRoundTripSegmentOffsets(t *testing.T) {
	r := rand.New(rand.NewSource(2))
	for i := 0; i < 50; i++ {
		song := randomSong(r)
		data, err := Encode(song)
		require.Nil(t, err)

		// Each pointer leads to the first subsegment word of its own segment.
		for slot, segment := range song.Segments {
			ptr := int(data[0x14+2*slot])<<8 | int(data[0x15+2*slot])
			if segment == nil {
				assert.Zero(t, ptr)
				continue
			}
			start := ptr << 2
			assert.Zero(t, start%4)
			if len(segment.Subsegments) == 0 {
				assert.Equal(t, byte(0), data[start])
				continue
			}
			assert.Equal(t, SubsegmentFlags(segment.Subsegments[0]), data[start])
		}
	}
}
