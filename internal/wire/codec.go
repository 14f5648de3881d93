package wire

import (
	"fmt"
)

// CodecName is registered as the gRPC content subtype. The bytes are plain
// protobuf, so generated clients for the same schema interoperate.
const CodecName = "proto"

// Codec marshals wire Messages for gRPC
type Codec struct{}

func (Codec) Marshal(v interface{}) ([]byte, error) {
	m, ok := v.(Message)
	if !ok {
		return nil, fmt.Errorf("wire: cannot marshal %T", v)
	}
	return m.Marshal()
}

func (Codec) Unmarshal(data []byte, v interface{}) error {
	m, ok := v.(Message)
	if !ok {
		return fmt.Errorf("wire: cannot unmarshal into %T", v)
	}
	return m.Unmarshal(data)
}

func (Codec) Name() string {
	return CodecName
}
