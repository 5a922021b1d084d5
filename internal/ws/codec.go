package ws

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// Codec selects the frame encoding used for a client.
type Codec uint32

const (
	CodecJSON Codec = iota
	CodecMsgpack
)

func (c Codec) String() string {
	switch c {
	case CodecMsgpack:
		return "msgpack"
	default:
		return "json"
	}
}

// ParseCodec maps a codec name to a Codec. Unknown names fall back to JSON.
func ParseCodec(name string) Codec {
	if name == "msgpack" {
		return CodecMsgpack
	}
	return CodecJSON
}

type msgpackFrame struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}

// Encode serializes msg with the codec.
func (c Codec) Encode(msg Message) ([]byte, error) {
	if c != CodecMsgpack {
		return json.Marshal(msg)
	}

	data := msg.payload
	if data == nil && len(msg.Data) > 0 {
		if err := json.Unmarshal(msg.Data, &data); err != nil {
			return nil, fmt.Errorf("decode message data: %w", err)
		}
	}

	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	enc.SetCustomStructTag("json")
	if err := enc.Encode(msgpackFrame{Type: msg.Type, Data: data}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
