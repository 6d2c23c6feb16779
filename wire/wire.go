// Package wire encodes the commands and messages which cross the message
// boundary between the sources and their clients.
//
// Commands arrive as JSON text:
//
//	{"type": "seek", "id": 1, "args": {"requestId": 4, "count": 2, "time": 12.5}}
//
// Outbound messages are either JSON text (headers only) or binary
// envelopes:
//
//	uint32 LE   length n of the header
//	n bytes     proto encoded google.protobuf.Struct with the fields
//	            type, id, args, channels and frames
//	rest        channels * frames float32 LE samples, planar
package wire

import (
	"encoding/binary"
	"encoding/json"
	"math"

	"github.com/dh1tw/gaplessAudio/source"
	"github.com/pkg/errors"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

// Types of the inbound commands.
const (
	TypeLoadInitialAudioData = "loadInitialAudioData"
	TypeSeek                 = "seek"
	TypeFillBuffers          = "fillBuffers"
	TypeLoadReplacement      = "loadReplacement"
	TypeDestroy              = "destroy"
)

const headerLenSize = 4

type inbound struct {
	Type string          `json:"type"`
	ID   source.SourceID `json:"id"`
	Args json.RawMessage `json:"args,omitempty"`
}

// DecodeCommand parses a JSON command.
func DecodeCommand(data []byte) (source.SourceID, source.Command, error) {
	var in inbound
	if err := json.Unmarshal(data, &in); err != nil {
		return 0, nil, errors.Wrap(err, "invalid command")
	}

	var cmd source.Command
	var err error

	switch in.Type {
	case TypeLoadInitialAudioData:
		var c source.LoadInitialAudioData
		err = unmarshalArgs(in.Args, &c)
		cmd = c
	case TypeSeek:
		var c source.Seek
		err = unmarshalArgs(in.Args, &c)
		cmd = c
	case TypeFillBuffers:
		var c source.FillBuffers
		err = unmarshalArgs(in.Args, &c)
		cmd = c
	case TypeLoadReplacement:
		var c source.LoadReplacement
		err = unmarshalArgs(in.Args, &c)
		cmd = c
	case TypeDestroy:
		cmd = source.Destroy{}
	default:
		return in.ID, nil, errors.Errorf("unknown command type %q", in.Type)
	}

	if err != nil {
		return in.ID, nil, errors.Wrapf(err, "invalid arguments of %s", in.Type)
	}
	return in.ID, cmd, nil
}

func unmarshalArgs(args json.RawMessage, v interface{}) error {
	if len(args) == 0 {
		return nil
	}
	return json.Unmarshal(args, v)
}

// EncodeCommand renders cmd for the source id as JSON.
func EncodeCommand(id source.SourceID, cmd source.Command) ([]byte, error) {
	var t string
	switch cmd.(type) {
	case source.LoadInitialAudioData:
		t = TypeLoadInitialAudioData
	case source.Seek:
		t = TypeSeek
	case source.FillBuffers:
		t = TypeFillBuffers
	case source.LoadReplacement:
		t = TypeLoadReplacement
	case source.Destroy:
		t = TypeDestroy
	default:
		return nil, errors.Errorf("command %T can not be encoded", cmd)
	}

	args, err := json.Marshal(cmd)
	if err != nil {
		return nil, errors.Wrapf(err, "encode %s", t)
	}
	return json.Marshal(inbound{Type: t, ID: id, Args: args})
}

type outbound struct {
	Type string          `json:"type"`
	ID   source.SourceID `json:"id"`
	Args interface{}     `json:"args"`
}

// EncodeJSON renders the headers of m as JSON. Channel data is dropped.
func EncodeJSON(id source.SourceID, m source.Message) ([]byte, error) {
	return json.Marshal(outbound{Type: m.Name, ID: id, Args: m.Args})
}

// Envelope is a decoded binary message.
type Envelope struct {
	Type        string
	ID          source.SourceID
	Args        map[string]interface{}
	ChannelData [][]float32
}

// Encode renders m as a binary envelope.
func Encode(id source.SourceID, m source.Message) ([]byte, error) {
	args, err := argsToMap(m.Args)
	if err != nil {
		return nil, errors.Wrapf(err, "encode arguments of %s", m.Name)
	}

	frames := 0
	if len(m.ChannelData) > 0 {
		frames = len(m.ChannelData[0])
	}
	for _, ch := range m.ChannelData {
		if len(ch) != frames {
			return nil, errors.Errorf("channels of %s differ in length", m.Name)
		}
	}

	header, err := structpb.NewStruct(map[string]interface{}{
		"type":     m.Name,
		"id":       float64(id),
		"args":     args,
		"channels": float64(len(m.ChannelData)),
		"frames":   float64(frames),
	})
	if err != nil {
		return nil, errors.Wrap(err, "build header")
	}
	hdr, err := proto.Marshal(header)
	if err != nil {
		return nil, errors.Wrap(err, "marshal header")
	}

	data := make([]byte, headerLenSize+len(hdr)+4*frames*len(m.ChannelData))
	binary.LittleEndian.PutUint32(data, uint32(len(hdr)))
	copy(data[headerLenSize:], hdr)

	off := headerLenSize + len(hdr)
	for _, ch := range m.ChannelData {
		for _, s := range ch {
			binary.LittleEndian.PutUint32(data[off:], math.Float32bits(s))
			off += 4
		}
	}
	return data, nil
}

// argsToMap turns the payload of a message into the generic form a
// structpb.Struct can hold.
func argsToMap(args interface{}) (map[string]interface{}, error) {
	if args == nil {
		return map[string]interface{}{}, nil
	}
	b, err := json.Marshal(args)
	if err != nil {
		return nil, err
	}
	m := map[string]interface{}{}
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, err
	}
	return m, nil
}

// DecodeOutbound parses a binary envelope.
func DecodeOutbound(data []byte) (Envelope, error) {
	var env Envelope

	if len(data) < headerLenSize {
		return env, errors.New("envelope too short")
	}
	n := int(binary.LittleEndian.Uint32(data))
	if len(data) < headerLenSize+n {
		return env, errors.Errorf("header length %d exceeds envelope", n)
	}

	var header structpb.Struct
	if err := proto.Unmarshal(data[headerLenSize:headerLenSize+n], &header); err != nil {
		return env, errors.Wrap(err, "invalid header")
	}
	fields := header.AsMap()

	var ok bool
	if env.Type, ok = fields["type"].(string); !ok {
		return env, errors.New("header without type")
	}
	id, _ := fields["id"].(float64)
	env.ID = source.SourceID(id)
	env.Args, _ = fields["args"].(map[string]interface{})

	channels, _ := fields["channels"].(float64)
	frames, _ := fields["frames"].(float64)
	payload := data[headerLenSize+n:]
	if len(payload) != 4*int(channels)*int(frames) {
		return env, errors.Errorf("payload of %d bytes does not hold %v channels of %v frames",
			len(payload), channels, frames)
	}

	if channels > 0 {
		env.ChannelData = make([][]float32, int(channels))
		off := 0
		for c := range env.ChannelData {
			ch := make([]float32, int(frames))
			for i := range ch {
				ch[i] = math.Float32frombits(binary.LittleEndian.Uint32(payload[off:]))
				off += 4
			}
			env.ChannelData[c] = ch
		}
	}
	return env, nil
}
