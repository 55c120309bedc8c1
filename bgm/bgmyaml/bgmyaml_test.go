package bgmyaml_test

import (
	"regexp"
	"strings"
	"testing"

	"github.com/fewffwa/mamar/bgm"
	. "github.com/fewffwa/mamar/bgm/bgmyaml"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func getSong() *bgm.Song {
	tracks := &bgm.Tracks{Flags: 0x10}
	tracks.Tracks[0] = bgm.Track{
		Flags: 0x1234,
		Commands: bgm.CommandSeq{
			&bgm.Control{Op: bgm.OpMasterTempo, Args: []byte{0x00, 0x78}},
			&bgm.Note{Pitch: 0x10, Velocity: 0x64, Length: 0x30},
			&bgm.Delay{Ticks: 0x30},
			&bgm.Control{Op: bgm.OpTrackTremoloStop},
			&bgm.Subroutine{Start: bgm.CommandRef{Command: 1}, Count: 2},
		},
	}
	tracks.Tracks[5] = bgm.Track{Flags: 1}

	song := &bgm.Song{Index: "117 "}
	song.Segments[0] = &bgm.Segment{Subsegments: []bgm.Subsegment{
		tracks,
		&bgm.Unknown{Flags: 0x20, Data: [3]byte{1, 2, 3}},
	}}
	song.Segments[2] = &bgm.Segment{}
	return song
}

const trackList = `
    tracks: [{flags: 0}, {flags: 0}, {flags: 0}, {flags: 0},
             {flags: 0}, {flags: 0}, {flags: 0}, {flags: 0},
             {flags: 0}, {flags: 0}, {flags: 0}, {flags: 0},
             {flags: 0}, {flags: 0}, {flags: 0}, {flags: 0}]
`

func TestRoundTrip(t *testing.T) {
	song := getSong()
	out, err := Marshal(song)
	require.Nil(t, err)

	parsed, err := Unmarshal(out)
	require.Nil(t, err)
	assert.Equal(t, song, parsed)
}

func TestRoundTripThroughBinary(t *testing.T) {
	data, err := bgm.Encode(getSong())
	require.Nil(t, err)
	song, err := bgm.Decode(data)
	require.Nil(t, err)

	out, err := Marshal(song)
	require.Nil(t, err)
	parsed, err := Unmarshal(out)
	require.Nil(t, err)

	again, err := bgm.Encode(parsed)
	require.Nil(t, err)
	assert.Equal(t, data, again)
}

func TestMarshalShape(t *testing.T) {
	out, err := Marshal(getSong())
	require.Nil(t, err)
	text := string(out)
	assert.Regexp(t, `index: .117 .`, text)
	assert.Contains(t, text, "kind: tracks")
	assert.Contains(t, text, "kind: unknown")
	assert.Contains(t, text, "op: subroutine")
	assert.Equal(t, 2, strings.Count(text, "- null"))
}

func TestMarshalNilSong(t *testing.T) {
	out, err := Marshal(nil)
	assert.Nil(t, out)
	assert.NotNil(t, err)
}

func TestMarshalMissingSubsegment(t *testing.T) {
	song := getSong()
	song.Segments[0].Subsegments[1] = nil
	_, err := Marshal(song)
	require.NotNil(t, err)
	re := regexp.MustCompile("segment 0 subsegment 1: missing subsegment")
	assert.NotEqual(t, "", re.FindString(err.Error()))
}

func TestUnmarshalHandWritten(t *testing.T) {
	doc := `
index: "abcd"
segments:
- null
- subsegments:
  - kind: unknown
    flags: 0x30
    data: [7, 8, 9]
- null
- null
`
	song, err := Unmarshal([]byte(doc))
	require.Nil(t, err)
	assert.Equal(t, "abcd", song.Index)
	assert.Nil(t, song.Segments[0])
	require.NotNil(t, song.Segments[1])
	assert.Equal(t, []bgm.Subsegment{&bgm.Unknown{Flags: 0x30, Data: [3]byte{7, 8, 9}}}, song.Segments[1].Subsegments)
}

func TestUnmarshalCommands(t *testing.T) {
	doc := `
index: "abcd"
segments:
- subsegments:
  - kind: tracks
    flags: 16
    tracks:
    - flags: 0
      commands:
      - {op: delay, ticks: 300}
      - {op: note, pitch: 60, velocity: 127, length: 200}
      - {op: control, opcode: 0xEC, args: [3]}
      - {op: subroutine, start: {segment: 0, subsegment: 0, track: 0, command: 0}, count: 1}
    - {flags: 0}
    - {flags: 0}
    - {flags: 0}
    - {flags: 0}
    - {flags: 0}
    - {flags: 0}
    - {flags: 0}
    - {flags: 0}
    - {flags: 0}
    - {flags: 0}
    - {flags: 0}
    - {flags: 0}
    - {flags: 0}
    - {flags: 0}
    - {flags: 0}
- null
- null
- null
`
	song, err := Unmarshal([]byte(doc))
	require.Nil(t, err)
	tracks := song.Segments[0].Subsegments[0].(*bgm.Tracks)
	assert.Equal(t, bgm.CommandSeq{
		&bgm.Delay{Ticks: 300},
		&bgm.Note{Pitch: 60, Velocity: 127, Length: 200},
		&bgm.Control{Op: bgm.OpSegTrackVolume, Args: []byte{3}},
		&bgm.Subroutine{Count: 1},
	}, tracks.Tracks[0].Commands)

	_, err = bgm.Encode(song)
	assert.Nil(t, err)
}

func TestUnmarshalErrors(t *testing.T) {
	cases := []struct {
		name string
		doc  string
		err  string
	}{
		{"segment count", "index: abcd\nsegments: [null, null]\n", "want 4 segments, got 2"},
		{"track count",
			"index: abcd\nsegments:\n- subsegments:\n  - kind: tracks\n    flags: 16\n    tracks: [{flags: 0}]\n- null\n- null\n- null\n",
			"segment 0 subsegment 0: want 16 tracks, got 1"},
		{"unknown data size",
			"index: abcd\nsegments:\n- subsegments:\n  - {kind: unknown, flags: 32, data: [1, 2]}\n- null\n- null\n- null\n",
			"want 3 data bytes, got 2"},
		{"unknown data byte",
			"index: abcd\nsegments:\n- subsegments:\n  - {kind: unknown, flags: 32, data: [1, 2, 256]}\n- null\n- null\n- null\n",
			"data 2: 256 is not a byte"},
		{"subsegment kind",
			"index: abcd\nsegments:\n- subsegments:\n  - {kind: drums, flags: 32}\n- null\n- null\n- null\n",
			`unknown subsegment kind "drums"`},
		{"command op",
			"index: abcd\nsegments:\n- subsegments:\n  - kind: tracks\n    flags: 16" + strings.Replace(trackList, "[{flags: 0},", "[{flags: 0, commands: [{op: bend}]},", 1) + "- null\n- null\n- null\n",
			`track 0 command 0: unknown command op "bend"`},
		{"subroutine start",
			"index: abcd\nsegments:\n- subsegments:\n  - kind: tracks\n    flags: 16" + strings.Replace(trackList, "[{flags: 0},", "[{flags: 0, commands: [{op: subroutine, count: 1}]},", 1) + "- null\n- null\n- null\n",
			"subroutine without start"},
		{"unknown field", "index: abcd\ntempo: 3\nsegments: [null, null, null, null]\n", "bgmyaml: parse"},
		{"malformed", "index: [", "bgmyaml: parse"},
	}
	for _, c := range cases {
		song, err := Unmarshal([]byte(c.doc))
		assert.Nil(t, song, c.name)
		if assert.NotNil(t, err, c.name) {
			assert.Contains(t, err.Error(), c.err, c.name)
		}
	}
}
