package watchwire

import (
	"context"
	"errors"
	"io"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// brokenClient returns a client whose server hangs up after reading one request.
func brokenClient() *TransportClient {
	serverConn, clientConn := net.Pipe()

	go func() {
		var buf Buffer
		_, _ = buf.Decode(serverConn)
		_ = serverConn.Close()
	}()

	return NewTransportClient(NewConnStream(clientConn))
}

// pipeDialer dials in-memory StreamServers. The first broken dials return
// clients that fail with io.EOF.
type pipeDialer struct {
	reg    *CommandRegistry
	broken int32
	dials  atomic.Int32
}

func (d *pipeDialer) dial(ctx context.Context, uri string) (*TransportClient, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if uri == "" {
		return nil, errors.New("no uri")
	}

	if d.dials.Add(1) <= d.broken {
		return brokenClient(), nil
	}

	serverConn, clientConn := net.Pipe()
	ss := NewStreamServer(NewConnStream(serverConn), d.reg)

	go func() { _ = ss.Run(context.Background()) }()

	return NewTransportClient(NewConnStream(clientConn)), nil
}

func newTestPool(t *testing.T, d *pipeDialer, config ClientPoolConfig) *ClientPool {
	t.Helper()

	if config.URI == "" {
		config.URI = "unix:///tmp/test.sock"
	}

	pool, err := NewClientPoolWithDialer(t.Context(), config, d.dial)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	return pool
}

func TestNewClientPool(t *testing.T) {
	t.Parallel()

	t.Run("AcquireOnCreate", func(t *testing.T) {
		t.Parallel()

		d := &pipeDialer{reg: testRegistry(t)}
		pool := newTestPool(t, d, ClientPoolConfig{AcquireOnCreate: true})

		assert.Equal(t, int32(1), d.dials.Load())
		assert.Equal(t, int32(1), pool.Stat().IdleResources())
	})

	t.Run("AcquireOnCreateFails", func(t *testing.T) {
		t.Parallel()

		d := &pipeDialer{reg: testRegistry(t)}

		_, err := NewClientPoolWithDialer(t.Context(), ClientPoolConfig{AcquireOnCreate: true}, d.dial)
		require.ErrorContains(t, err, "no uri")
	})

	t.Run("Lazy", func(t *testing.T) {
		t.Parallel()

		d := &pipeDialer{reg: testRegistry(t)}
		pool := newTestPool(t, d, ClientPoolConfig{MaxSize: 2})

		assert.Zero(t, d.dials.Load())
		assert.Equal(t, int32(2), pool.Stat().MaxResources())
	})

	t.Run("DefaultDialer", func(t *testing.T) {
		t.Parallel()

		_, err := NewClientPool(t.Context(), ClientPoolConfig{URI: "bogus:nowhere", AcquireOnCreate: true})
		require.ErrorIs(t, err, ErrUnknownScheme)
	})
}

func TestClientPool_Call(t *testing.T) {
	t.Parallel()

	d := &pipeDialer{reg: testRegistry(t)}
	pool := newTestPool(t, d, ClientPoolConfig{ServerType: JSONCompact})

	for range 3 {
		resp, err := pool.Call(t.Context(), NewCommand("echo", String("x")))
		require.NoError(t, err)
		requireValue(t, Object(M("echo", Strings("x")), M("version", String(Version))), resp)
	}

	assert.Equal(t, int32(1), d.dials.Load(), "sequential calls reuse one connection")

	resp, err := pool.CallWithTimeout(t.Context(), time.Second, NewCommand("version"))
	require.NoError(t, err)
	requireValue(t, Object(M("version", String(Version))), resp)
}

func TestClientPool_ServerErrorKeepsConnection(t *testing.T) {
	t.Parallel()

	d := &pipeDialer{reg: testRegistry(t)}
	pool := newTestPool(t, d, ClientPoolConfig{})

	_, err := pool.Call(t.Context(), NewCommand("fail"))

	var serverErr *ServerError
	require.ErrorAs(t, err, &serverErr)

	_, err = pool.Call(t.Context(), NewCommand("version"))
	require.NoError(t, err)

	assert.Equal(t, int32(1), d.dials.Load())
	assert.Equal(t, int32(1), pool.Stat().TotalResources())
}

func TestClientPool_RetryOnBrokenConnection(t *testing.T) {
	t.Parallel()

	d := &pipeDialer{reg: testRegistry(t), broken: 1}
	pool := newTestPool(t, d, ClientPoolConfig{Retries: 1})

	resp, err := pool.Call(t.Context(), NewCommand("version"))
	require.NoError(t, err)
	requireValue(t, Object(M("version", String(Version))), resp)

	assert.Equal(t, int32(2), d.dials.Load(), "one fresh connection per attempt")
}

func TestClientPool_RetriesExceeded(t *testing.T) {
	t.Parallel()

	d := &pipeDialer{reg: testRegistry(t), broken: 100}
	pool := newTestPool(t, d, ClientPoolConfig{Retries: 2})

	_, err := pool.Call(t.Context(), NewCommand("version"))
	require.ErrorIs(t, err, ErrRetriesExceeded)
	require.ErrorIs(t, err, io.EOF)

	assert.Equal(t, int32(3), d.dials.Load())
	assert.Zero(t, pool.Stat().TotalResources(), "broken connections are destroyed")
}

func TestClientPool_ContextCancel(t *testing.T) {
	t.Parallel()

	d := &pipeDialer{reg: testRegistry(t)}
	pool := newTestPool(t, d, ClientPoolConfig{})

	ctx, cancel := context.WithCancel(t.Context())
	cancel()

	_, err := pool.Call(ctx, NewCommand("version"))
	require.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, d.dials.Load())
}

func TestClientPool_IdleTimeout(t *testing.T) {
	t.Parallel()

	d := &pipeDialer{reg: testRegistry(t)}
	pool := newTestPool(t, d, ClientPoolConfig{IdleTimeout: 50 * time.Millisecond})

	_, err := pool.Call(t.Context(), NewCommand("version"))
	require.NoError(t, err)
	assert.Equal(t, int32(1), pool.Stat().TotalResources())

	require.Eventually(t, func() bool {
		return pool.Stat().TotalResources() == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestClientPool_ResetAndClose(t *testing.T) {
	t.Parallel()

	d := &pipeDialer{reg: testRegistry(t)}
	pool := newTestPool(t, d, ClientPoolConfig{IdleTimeout: -1})

	_, err := pool.Call(t.Context(), NewCommand("version"))
	require.NoError(t, err)

	pool.Reset()
	require.Eventually(t, func() bool {
		return pool.Stat().TotalResources() == 0
	}, 2*time.Second, 10*time.Millisecond)

	_, err = pool.Call(t.Context(), NewCommand("version"))
	require.NoError(t, err)
	assert.Equal(t, int32(2), d.dials.Load())

	pool.Close()
	pool.Close()

	_, err = pool.Call(t.Context(), NewCommand("version"))
	require.Error(t, err)
}
