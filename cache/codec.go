package cache

import (
	"encoding/json"

	"github.com/vmihailenco/msgpack/v5"
)

// Codec encodes cache payloads and envelopes. Both the entry envelope and the
// data it carries are encoded with the same codec, so switching codecs
// effectively versions the whole cache namespace.
type Codec interface {
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
	Name() string
}

// MsgpackCodec is the default codec. MessagePack is compact and fast to
// decode, which matters on the pipelined batch read path.
type MsgpackCodec struct{}

// NewMsgpackCodec creates a MessagePack codec.
func NewMsgpackCodec() MsgpackCodec { return MsgpackCodec{} }

func (MsgpackCodec) Marshal(v any) ([]byte, error) { return msgpack.Marshal(v) }

func (MsgpackCodec) Unmarshal(data []byte, v any) error { return msgpack.Unmarshal(data, v) }

func (MsgpackCodec) Name() string { return "msgpack" }

// JSONCodec trades space for human-readable entries. Useful when cached
// values need to be inspected directly in the store.
type JSONCodec struct{}

// NewJSONCodec creates a JSON codec.
func NewJSONCodec() JSONCodec { return JSONCodec{} }

func (JSONCodec) Marshal(v any) ([]byte, error) { return json.Marshal(v) }

func (JSONCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }

func (JSONCodec) Name() string { return "json" }
