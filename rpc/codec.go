package rpc

import "github.com/chazu/kairos/vm"

// CodecName is the content subtype used on the wire ("application/cbor",
// "application/grpc+cbor").
const CodecName = "cbor"

// Codec marshals transport messages as canonical CBOR. It satisfies both
// connect.Codec and grpc's encoding.Codec.
type Codec struct{}

// Name returns the codec's content subtype.
func (Codec) Name() string { return CodecName }

// Marshal encodes v.
func (Codec) Marshal(v any) ([]byte, error) { return vm.Marshal(v) }

// Unmarshal decodes data into v.
func (Codec) Unmarshal(data []byte, v any) error { return vm.Unmarshal(data, v) }
