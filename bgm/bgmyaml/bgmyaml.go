/*
The bgmyaml package converts songs to and from a YAML document, for fixtures,
diffs and editing songs by hand. The document mirrors the bgm value tree:

	index: "117 "
	segments:
	- subsegments:
	  - kind: tracks
	    flags: 16
	    tracks:
	    - flags: 4660
	      commands:
	      - {op: note, pitch: 16, velocity: 100, length: 48}
	      - {op: subroutine, start: {segment: 0, subsegment: 0, track: 0, command: 0}, count: 1}
	    ...
	  - kind: unknown
	    flags: 32
	    data: [1, 2, 3]
	- null
	- null
	- null

Documents are checked for shape only; Encode validates the values.
*/
package bgmyaml

import (
	"github.com/fewffwa/mamar/bgm"
	"github.com/pkg/errors"
	yaml "gopkg.in/yaml.v2"
)

const (
	KindTracks  = "tracks"
	KindUnknown = "unknown"

	OpDelay      = "delay"
	OpNote       = "note"
	OpControl    = "control"
	OpSubroutine = "subroutine"
)

type songDoc struct {
	Index    string        `yaml:"index"`
	Segments []*segmentDoc `yaml:"segments"`
}

type segmentDoc struct {
	Subsegments []subsegmentDoc `yaml:"subsegments"`
}

type subsegmentDoc struct {
	Kind   string     `yaml:"kind"`
	Flags  uint8      `yaml:"flags"`
	Tracks []trackDoc `yaml:"tracks,omitempty"`
	Data   []int      `yaml:"data,omitempty"`
}

type trackDoc struct {
	Flags    uint16       `yaml:"flags"`
	Commands []commandDoc `yaml:"commands,omitempty"`
}

type commandDoc struct {
	Op       string  `yaml:"op"`
	Ticks    int     `yaml:"ticks,omitempty"`
	Pitch    uint8   `yaml:"pitch,omitempty"`
	Velocity uint8   `yaml:"velocity,omitempty"`
	Length   int     `yaml:"length,omitempty"`
	Opcode   uint8   `yaml:"opcode,omitempty"`
	Args     []int   `yaml:"args,omitempty"`
	Start    *refDoc `yaml:"start,omitempty"`
	Count    int     `yaml:"count,omitempty"`
}

type refDoc struct {
	Segment    int `yaml:"segment"`
	Subsegment int `yaml:"subsegment"`
	Track      int `yaml:"track"`
	Command    int `yaml:"command"`
}

// Marshal renders a song as YAML.
func Marshal(song *bgm.Song) ([]byte, error) {
	if song == nil {
		return nil, errors.New("bgmyaml: nil song")
	}
	doc, err := fromSong(song)
	if err != nil {
		return nil, err
	}
	out, err := yaml.Marshal(doc)
	if err != nil {
		return nil, errors.Wrap(err, "bgmyaml: marshal")
	}
	return out, nil
}

// Unmarshal parses a YAML document produced by Marshal, or written by hand.
func Unmarshal(data []byte) (*bgm.Song, error) {
	var doc songDoc
	if err := yaml.UnmarshalStrict(data, &doc); err != nil {
		return nil, errors.Wrap(err, "bgmyaml: parse")
	}
	return doc.toSong()
}

func fromSong(song *bgm.Song) (*songDoc, error) {
	doc := &songDoc{Index: song.Index, Segments: make([]*segmentDoc, bgm.NumSegments)}
	for slot, segment := range song.Segments {
		if segment == nil {
			continue
		}
		segDoc := &segmentDoc{Subsegments: []subsegmentDoc{}}
		for i, sub := range segment.Subsegments {
			subDoc, err := fromSubsegment(sub)
			if err != nil {
				return nil, errors.Wrapf(err, "bgmyaml: segment %d subsegment %d", slot, i)
			}
			segDoc.Subsegments = append(segDoc.Subsegments, subDoc)
		}
		doc.Segments[slot] = segDoc
	}
	return doc, nil
}

func fromSubsegment(sub bgm.Subsegment) (subsegmentDoc, error) {
	switch sub := sub.(type) {
	case *bgm.Tracks:
		if sub == nil {
			break
		}
		doc := subsegmentDoc{Kind: KindTracks, Flags: sub.Flags}
		for t, track := range sub.Tracks {
			trackDoc := trackDoc{Flags: track.Flags}
			for c, command := range track.Commands {
				commandDoc, err := fromCommand(command)
				if err != nil {
					return doc, errors.Wrapf(err, "track %d command %d", t, c)
				}
				trackDoc.Commands = append(trackDoc.Commands, commandDoc)
			}
			doc.Tracks = append(doc.Tracks, trackDoc)
		}
		return doc, nil
	case *bgm.Unknown:
		if sub == nil {
			break
		}
		doc := subsegmentDoc{Kind: KindUnknown, Flags: sub.Flags}
		for _, b := range sub.Data {
			doc.Data = append(doc.Data, int(b))
		}
		return doc, nil
	}
	return subsegmentDoc{}, errors.New("missing subsegment")
}

func fromCommand(command bgm.Command) (commandDoc, error) {
	switch c := command.(type) {
	case *bgm.Delay:
		if c != nil {
			return commandDoc{Op: OpDelay, Ticks: c.Ticks}, nil
		}
	case *bgm.Note:
		if c != nil {
			return commandDoc{Op: OpNote, Pitch: c.Pitch, Velocity: c.Velocity, Length: c.Length}, nil
		}
	case *bgm.Control:
		if c != nil {
			doc := commandDoc{Op: OpControl, Opcode: uint8(c.Op)}
			for _, b := range c.Args {
				doc.Args = append(doc.Args, int(b))
			}
			return doc, nil
		}
	case *bgm.Subroutine:
		if c != nil {
			start := refDoc(c.Start)
			return commandDoc{Op: OpSubroutine, Start: &start, Count: c.Count}, nil
		}
	}
	return commandDoc{}, errors.Errorf("unsupported command %T", command)
}

func (doc *songDoc) toSong() (*bgm.Song, error) {
	if len(doc.Segments) != bgm.NumSegments {
		return nil, errors.Errorf("bgmyaml: want %d segments, got %d", bgm.NumSegments, len(doc.Segments))
	}
	song := &bgm.Song{Index: doc.Index}
	for slot, segDoc := range doc.Segments {
		if segDoc == nil {
			continue
		}
		segment := &bgm.Segment{}
		for i, subDoc := range segDoc.Subsegments {
			sub, err := subDoc.toSubsegment()
			if err != nil {
				return nil, errors.Wrapf(err, "bgmyaml: segment %d subsegment %d", slot, i)
			}
			segment.Subsegments = append(segment.Subsegments, sub)
		}
		song.Segments[slot] = segment
	}
	return song, nil
}

func (doc *subsegmentDoc) toSubsegment() (bgm.Subsegment, error) {
	switch doc.Kind {
	case KindTracks:
		if len(doc.Tracks) != bgm.NumTracks {
			return nil, errors.Errorf("want %d tracks, got %d", bgm.NumTracks, len(doc.Tracks))
		}
		tracks := &bgm.Tracks{Flags: doc.Flags}
		for t, trackDoc := range doc.Tracks {
			track := &tracks.Tracks[t]
			track.Flags = trackDoc.Flags
			for c, commandDoc := range trackDoc.Commands {
				command, err := commandDoc.toCommand()
				if err != nil {
					return nil, errors.Wrapf(err, "track %d command %d", t, c)
				}
				track.Commands = append(track.Commands, command)
			}
		}
		return tracks, nil
	case KindUnknown:
		if len(doc.Data) != bgm.UnknownSize {
			return nil, errors.Errorf("want %d data bytes, got %d", bgm.UnknownSize, len(doc.Data))
		}
		unknown := &bgm.Unknown{Flags: doc.Flags}
		for i, v := range doc.Data {
			b, err := toByte(v)
			if err != nil {
				return nil, errors.Wrapf(err, "data %d", i)
			}
			unknown.Data[i] = b
		}
		return unknown, nil
	}
	return nil, errors.Errorf("unknown subsegment kind %q", doc.Kind)
}

func (doc *commandDoc) toCommand() (bgm.Command, error) {
	switch doc.Op {
	case OpDelay:
		return &bgm.Delay{Ticks: doc.Ticks}, nil
	case OpNote:
		return &bgm.Note{Pitch: doc.Pitch, Velocity: doc.Velocity, Length: doc.Length}, nil
	case OpControl:
		control := &bgm.Control{Op: bgm.Opcode(doc.Opcode)}
		for i, v := range doc.Args {
			b, err := toByte(v)
			if err != nil {
				return nil, errors.Wrapf(err, "arg %d", i)
			}
			control.Args = append(control.Args, b)
		}
		return control, nil
	case OpSubroutine:
		if doc.Start == nil {
			return nil, errors.New("subroutine without start")
		}
		return &bgm.Subroutine{Start: bgm.CommandRef(*doc.Start), Count: doc.Count}, nil
	}
	return nil, errors.Errorf("unknown command op %q", doc.Op)
}

func toByte(v int) (byte, error) {
	if v < 0 || v > 0xFF {
		return 0, errors.Errorf("%d is not a byte", v)
	}
	return byte(v), nil
}
