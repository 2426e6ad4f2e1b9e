package wire

import (
	"github.com/vmihailenco/msgpack/v5"
	"google.golang.org/grpc"
	"google.golang.org/grpc/encoding"
)

// CodecName is the gRPC content-subtype under which Codec is registered.
const CodecName = "msgpack"

// Codec encodes gRPC messages with msgpack.
// Implementations must be safe for concurrent use.
type Codec struct{}

func (Codec) Marshal(v any) ([]byte, error)      { return msgpack.Marshal(v) }
func (Codec) Unmarshal(data []byte, v any) error { return msgpack.Unmarshal(data, v) }
func (Codec) Name() string                       { return CodecName }

func init() {
	encoding.RegisterCodec(Codec{})
}

func withCodec(opts []grpc.CallOption) []grpc.CallOption {
	return append([]grpc.CallOption{grpc.CallContentSubtype(CodecName)}, opts...)
}
