package wire

import (
	"encoding/json"

	"google.golang.org/grpc/encoding"
)

// Name is the registered encoding.Codec name; transports select it
// with grpc.ForceCodec/grpc.ForceServerCodec rather than the default
// "proto" subtype, since Envelope is a plain Go struct.
const Name = "openagents-json"

type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error) { return json.Marshal(v) }

func (jsonCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }

func (jsonCodec) Name() string { return Name }

// Codec is the shared encoding.Codec instance both the server and
// client sides force via grpc.ForceServerCodec / grpc.ForceCodec.
var Codec encoding.Codec = jsonCodec{}

func init() {
	encoding.RegisterCodec(Codec)
}
