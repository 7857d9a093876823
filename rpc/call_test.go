package rpc

import (
	"context"
	"errors"
	"testing"

	"github.com/chazu/kairos/vm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dispatch(t *testing.T, reg *Registry, target string, args ...vm.Value) CallResponse {
	t.Helper()
	req, err := NewCallRequest(target, args)
	require.NoError(t, err)
	return reg.Dispatch(context.Background(), req)
}

func TestDispatchValue(t *testing.T) {
	reg := NewRegistry()
	reg.MustRegister("double", func(ctx context.Context, args []vm.Value) (vm.Value, error) {
		return vm.Binary("*", args[0], int64(2))
	})
	v, err := dispatch(t, reg, "double", int64(21)).Result()
	require.NoError(t, err)
	assert.Equal(t, int64(42), v)
}

func TestDispatchNoneResult(t *testing.T) {
	reg := NewRegistry()
	reg.MustRegister("nothing", nop)
	resp := dispatch(t, reg, "nothing")
	v, err := resp.Result()
	require.NoError(t, err)
	assert.Nil(t, v)
}

func TestDispatchFailures(t *testing.T) {
	reg := NewRegistry()
	reg.MustRegister("boom", func(ctx context.Context, args []vm.Value) (vm.Value, error) {
		panic("exploded")
	})
	reg.MustRegister("plain", func(ctx context.Context, args []vm.Value) (vm.Value, error) {
		return nil, errors.New("disk full")
	})
	reg.MustRegister("typed", func(ctx context.Context, args []vm.Value) (vm.Value, error) {
		return nil, vm.NewException(vm.KeyError, "k")
	})
	reg.MustRegister("unencodable", func(ctx context.Context, args []vm.Value) (vm.Value, error) {
		return vm.KeyError, nil
	})

	tests := []struct {
		target string
		typ    string
		args   []vm.Value
	}{
		{"missing", "TargetUnreachableError", []vm.Value{"missing"}},
		{"boom", "RuntimeError", []vm.Value{"exploded"}},
		{"plain", "RuntimeError", []vm.Value{"disk full"}},
		{"typed", "KeyError", []vm.Value{"k"}},
	}
	for _, tt := range tests {
		t.Run(tt.target, func(t *testing.T) {
			resp := dispatch(t, reg, tt.target)
			require.NotNil(t, resp.Exception)
			assert.Nil(t, resp.Value)

			_, err := resp.Result()
			var remote *vm.RemoteError
			require.ErrorAs(t, err, &remote)
			exc := vm.NewRegistry().FromRecord(remote.Record)
			assert.Equal(t, tt.typ, exc.Type.Name)
			assert.Equal(t, tt.args, exc.Args)
		})
	}

	resp := dispatch(t, reg, "unencodable")
	require.NotNil(t, resp.Exception)
	assert.Equal(t, "UnmarshalableArgumentError", resp.Exception.Type)
}

func TestNewCallRequestRejectsUnencodable(t *testing.T) {
	_, err := NewCallRequest("echo", []vm.Value{int64(1), vm.KeyError})
	exc := vm.AsException(err)
	require.NotNil(t, exc)
	assert.Equal(t, "UnmarshalableArgumentError", exc.Type.Name)
}

func TestDispatchBytes(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, NewHostLib().Register(reg))

	req, err := NewCallRequest("echo", []vm.Value{"hi"})
	require.NoError(t, err)
	payload, err := vm.Marshal(req)
	require.NoError(t, err)

	reply, err := reg.DispatchBytes(context.Background(), payload)
	require.NoError(t, err)
	v, err := decodeResponse(reply)
	require.NoError(t, err)
	assert.Equal(t, "hi", v)

	_, err = reg.DispatchBytes(context.Background(), []byte{0xFF})
	assert.Error(t, err)
	_, err = decodeResponse([]byte{0xFF})
	assert.Error(t, err)
}

func TestCodec(t *testing.T) {
	var c Codec
	assert.Equal(t, "cbor", c.Name())

	in := CallRequest{Target: "t", Args: []vm.WireValue{{Kind: vm.WireInt, I: 7}}}
	data, err := c.Marshal(in)
	require.NoError(t, err)
	var out CallRequest
	require.NoError(t, c.Unmarshal(data, &out))
	assert.Equal(t, in, out)
}
