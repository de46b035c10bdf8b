package remote

import (
	"bytes"
	"context"
	"errors"
	"net"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protowire"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/types/dynamicpb"

	"github.com/san-kum/cadsim/internal/bundle"
	"github.com/san-kum/cadsim/internal/config"
	"github.com/san-kum/cadsim/internal/dynamo"
	"github.com/san-kum/cadsim/internal/logger"
)

type echoRunner struct {
	mu     sync.Mutex
	params bundle.RemoteParams
	err    error
}

func (r *echoRunner) RunBundle(ctx context.Context, payload []byte, params bundle.RemoteParams) ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.params = params
	if r.err != nil {
		return nil, r.err
	}
	return bytes.ToUpper(payload), nil
}

func startServer(t *testing.T, runner bundle.Runner, token string) string {
	t.Helper()
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	srv := NewServer(runner, token, logger.Discard())
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)
	return lis.Addr().String()
}

func TestExecuteBundle(t *testing.T) {
	runner := &echoRunner{}
	addr := startServer(t, runner, "")

	c, err := Dial(addr, "")
	require.NoError(t, err)
	defer c.Close()

	params := bundle.RemoteParams{Backend: config.SingleProcess, Deepcopy: true}
	out, err := c.RunBundle(context.Background(), []byte("payload"), params)
	require.NoError(t, err)
	require.Equal(t, "PAYLOAD", string(out))
	runner.mu.Lock()
	defer runner.mu.Unlock()
	require.Equal(t, params, runner.params)
}

func TestExecuteBundleToken(t *testing.T) {
	addr := startServer(t, &echoRunner{}, "secret")

	bad, err := Dial(addr, "wrong")
	require.NoError(t, err)
	defer bad.Close()

	_, err = bad.RunBundle(context.Background(), []byte("x"), bundle.RemoteParams{})
	require.ErrorIs(t, err, dynamo.ErrTransport)
	require.Equal(t, codes.Unauthenticated, status.Code(err))

	good, err := Dial(addr, "secret")
	require.NoError(t, err)
	defer good.Close()

	_, err = good.RunBundle(context.Background(), []byte("x"), bundle.RemoteParams{})
	require.NoError(t, err)
}

func TestExecuteBundleErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code codes.Code
	}{
		{"configuration", &dynamo.ConfigError{Option: "backend", Reason: "bad"}, codes.InvalidArgument},
		{"run failure", &dynamo.RunError{Err: errors.New("boom")}, codes.Aborted},
		{"other", errors.New("disk full"), codes.Internal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			addr := startServer(t, &echoRunner{err: tt.err}, "")
			c, err := Dial(addr, "")
			require.NoError(t, err)
			defer c.Close()

			_, err = c.RunBundle(context.Background(), []byte("x"), bundle.RemoteParams{})
			var te *dynamo.TransportError
			require.ErrorAs(t, err, &te)
			require.Equal(t, addr, te.Provider)
			require.Equal(t, tt.code, status.Code(err))
		})
	}
}

func TestExecuteBundleRequiresPayload(t *testing.T) {
	addr := startServer(t, &echoRunner{}, "")
	c, err := Dial(addr, "")
	require.NoError(t, err)
	defer c.Close()

	_, err = c.RunBundle(context.Background(), nil, bundle.RemoteParams{})
	require.Equal(t, codes.InvalidArgument, status.Code(err))
}

func TestExecuteRequestWireFormat(t *testing.T) {
	var raw []byte
	raw = protowire.AppendTag(raw, 1, protowire.BytesType)
	raw = protowire.AppendString(raw, "w#1")
	raw = protowire.AppendTag(raw, 2, protowire.BytesType)
	raw = protowire.AppendBytes(raw, []byte{0x1f, 0x8b})
	raw = protowire.AppendTag(raw, 3, protowire.BytesType)
	raw = protowire.AppendString(raw, "multiprocessing")
	raw = protowire.AppendTag(raw, 6, protowire.VarintType)
	raw = protowire.AppendVarint(raw, 1)

	m := dynamicpb.NewMessage(requestType)
	require.NoError(t, proto.Unmarshal(raw, m))
	req, err := requestFromProto(m)
	require.NoError(t, err)
	require.Equal(t, &ExecuteRequest{
		Task:   "w#1",
		Bundle: []byte{0x1f, 0x8b},
		Params: bundle.RemoteParams{Backend: config.Multiprocessing, Deepcopy: true},
	}, req)

	out, err := proto.Marshal(req.toProto())
	require.NoError(t, err)
	back := dynamicpb.NewMessage(requestType)
	require.NoError(t, proto.Unmarshal(out, back))
	again, err := requestFromProto(back)
	require.NoError(t, err)
	require.Equal(t, req, again)
}

func TestWorkerSchema(t *testing.T) {
	require.Equal(t, "cadsim.v1.Worker", serviceName)
	require.Equal(t, "/cadsim.v1.Worker/ExecuteBundle", executeMethod)

	fields := requestType.Fields()
	for name, num := range map[string]int{
		"task":               1,
		"bundle":             2,
		"backend":            3,
		"process_exceptions": 4,
		"raise_exceptions":   5,
		"deepcopy":           6,
		"drop_substeps":      7,
	} {
		f := fields.ByName(protoreflect.Name(name))
		require.NotNil(t, f, name)
		require.EqualValues(t, num, f.Number(), name)
	}
	require.EqualValues(t, 1, responseType.Fields().ByName("outcomes").Number())
}

func TestExecuteBundleRejectsUnknownBackend(t *testing.T) {
	addr := startServer(t, &echoRunner{}, "")
	c, err := Dial(addr, "")
	require.NoError(t, err)
	defer c.Close()

	_, err = c.RunBundle(context.Background(), []byte("x"), bundle.RemoteParams{Backend: "threads"})
	require.Equal(t, codes.InvalidArgument, status.Code(err))
}
