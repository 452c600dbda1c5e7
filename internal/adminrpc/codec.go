package adminrpc

import (
	"encoding/json"
	"fmt"

	"google.golang.org/grpc/encoding"
)

// jsonCodecName is registered as the "json" content-subtype so both server
// and client dial options exchange wire messages as JSON and not protobuf.
// The admin surface is a handful of simple request/response structs with
// no streaming, so hand-declared JSON messages read far more plainly than
// a generated protobuf API would for the same shapes. Messages are plain
// structs with no methods; they pass through grpc.Codec's empty-interface
// methods as pointers, which encoding/json needs for Unmarshal.
const jsonCodecName = "json"

type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("adminrpc: marshal %T: %w", v, err)
	}
	return data, nil
}

func (jsonCodec) Unmarshal(data []byte, v any) error {
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("adminrpc: unmarshal into %T: %w", v, err)
	}
	return nil
}

func (jsonCodec) Name() string { return jsonCodecName }

func init() {
	encoding.RegisterCodec(jsonCodec{})
}
