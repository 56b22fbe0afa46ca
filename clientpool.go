package watchwire

import (
	"context"
	"errors"
	"io"
	"net"
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/jackc/puddle/v2"
)

const (
	// DefaultPoolDialTimeout is the default [ClientPoolConfig.DialTimeout] in seconds.
	DefaultPoolDialTimeout = 30
	// DefaultPoolIdleTimeout is the default [ClientPoolConfig.IdleTimeout] in seconds.
	DefaultPoolIdleTimeout = 300
)

// ErrRetriesExceeded is returned by [ClientPool.Call] when every attempt failed
// on a broken connection. The last error is joined with it.
var ErrRetriesExceeded = errors.New("watchwire: retries exceeded")

// ClientPoolConfig holds configuration parameters for creating a [ClientPool].
type ClientPoolConfig struct {
	// URI of the server, see [Dial] for supported schemes.
	URI string

	// ServerType and ServerCapabilities select the format commands are sent in.
	// The zero ServerType means [BSERv2] with [DefaultCapabilities].
	ServerType         PduType
	ServerCapabilities Capability

	// IdleTimeout closes connections left idle for this long. Defaults to
	// [DefaultPoolIdleTimeout] seconds if zero; a negative value disables it.
	IdleTimeout time.Duration

	// DialTimeout bounds establishing a new connection. Defaults to
	// [DefaultPoolDialTimeout] seconds if zero or negative.
	DialTimeout time.Duration

	// Retries is how many times a call is retried on a fresh connection after
	// the previous one broke. The minimum is 1.
	Retries int

	// MaxSize caps the number of connections. If zero or negative it defaults
	// to min(runtime.NumCPU(), runtime.GOMAXPROCS(-1)) * 2.
	MaxSize int32

	// AcquireOnCreate dials one connection up front so that a bad URI fails
	// [NewClientPool] instead of the first call.
	AcquireOnCreate bool
}

// ClientPool manages a pool of [*TransportClient] connections to one server,
// so that many goroutines can issue commands at once.
//
// Use [NewClientPool] or [NewClientPoolWithDialer] to create instances.
type ClientPool struct {
	pool    *puddle.Pool[*TransportClient]
	idle    *time.Timer
	retries int
	closed  bool
	mu      sync.Mutex
}

// NewClientPool creates a [ClientPool] that connects with [DialTransport].
//
// Example:
//
//	pool, err := watchwire.NewClientPool(ctx, watchwire.ClientPoolConfig{
//		URI:     "unix:///var/run/watchwire.sock",
//		MaxSize: 4,
//	})
//	if err != nil {
//		log.Fatalf("Failed to create client pool: %v", err)
//	}
//	defer pool.Close()
func NewClientPool(nctx context.Context, config ClientPoolConfig) (*ClientPool, error) {
	return NewClientPoolWithDialer(nctx, config, DialTransport)
}

// NewClientPoolWithDialer creates a [ClientPool] that connects with dialFunc.
func NewClientPoolWithDialer(nctx context.Context, config ClientPoolConfig, dialFunc func(ctx context.Context, uri string) (*TransportClient, error)) (*ClientPool, error) {
	if config.IdleTimeout == 0 {
		config.IdleTimeout = time.Duration(DefaultPoolIdleTimeout) * time.Second
	}

	if config.DialTimeout <= 0 {
		config.DialTimeout = time.Duration(DefaultPoolDialTimeout) * time.Second
	}

	if config.MaxSize <= 0 {
		//nolint:gosec,mnd //How many cpus do you think we have? Puddle requires int32.
		config.MaxSize = int32(min(runtime.NumCPU(), runtime.GOMAXPROCS(-1)) * 2)
	}

	if config.ServerType == NeedData {
		config.ServerType = BSERv2
		config.ServerCapabilities = DefaultCapabilities
	}

	pool, err := puddle.NewPool(&puddle.Config[*TransportClient]{
		Constructor: func(ctx context.Context) (*TransportClient, error) {
			dialCtx, stop := context.WithTimeout(ctx, config.DialTimeout)
			defer stop()

			client, err := dialFunc(dialCtx, config.URI)
			if err != nil {
				return nil, err
			}

			client.SetServerFormat(config.ServerType, config.ServerCapabilities)

			return client, nil
		},
		Destructor: func(client *TransportClient) { _ = client.Close() },
		MaxSize:    config.MaxSize,
	})
	if err != nil {
		return nil, err
	}

	if config.AcquireOnCreate {
		res, err := pool.Acquire(nctx)
		if err != nil {
			defer pool.Close()
			return nil, err
		}

		defer res.Release()
	}

	cpool := &ClientPool{pool: pool}
	// config.Retries=1 -> 2 attempts; config.Retries=2 -> 3 attempts etc.
	cpool.retries = max(config.Retries, 1) + 1

	if config.IdleTimeout > 0 {
		cpool.idle = time.AfterFunc(config.IdleTimeout, func() {
			cpool.mu.Lock()
			defer cpool.mu.Unlock()

			if cpool.closed {
				return
			}

			nextWait := config.IdleTimeout

			for _, res := range cpool.pool.AcquireAllIdle() {
				idleTime := res.IdleDuration()
				if idleTime >= config.IdleTimeout {
					res.Destroy()
				} else {
					res.ReleaseUnused()

					nextWait = min(nextWait, config.IdleTimeout-idleTime)
				}
			}

			cpool.idle.Reset(nextWait)
		})
	}

	return cpool, nil
}

// Close stops idle reaping and closes every connection, waiting for acquired
// ones to be released first. It is safe to call Close multiple times.
func (cp *ClientPool) Close() {
	cp.mu.Lock()
	if cp.closed {
		cp.mu.Unlock()
		return
	}

	cp.closed = true

	if cp.idle != nil {
		cp.idle.Stop()
	}
	cp.mu.Unlock()

	cp.pool.Close()
}

// Reset closes idle connections and marks acquired ones to be closed on release.
func (cp *ClientPool) Reset() {
	cp.pool.Reset()
}

// Stat returns the current pool statistics.
func (cp *ClientPool) Stat() *puddle.Stat {
	return cp.pool.Stat()
}

// releaseMaybeRetry releases or destroys res after a call and reports whether
// the error suggests a fresh connection could succeed.
func releaseMaybeRetry(res *puddle.Resource[*TransportClient], err error) (needsRetry bool) {
	var serverErr *ServerError

	// The connection is still in sync after an error reply.
	if err == nil || errors.As(err, &serverErr) {
		res.Release()
		return false
	}

	res.Destroy()

	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return false
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF), errors.Is(err, net.ErrClosed), errors.Is(err, os.ErrClosed):
		return true
	}

	return false
}

// Call runs cmd on a pooled connection, retrying on a new connection when
// the old one turns out to be broken.
//
// Example:
//
//	resp, err := pool.Call(ctx, watchwire.NewCommand("watch-list"))
//	if errors.Is(err, watchwire.ErrRetriesExceeded) {
//		log.Printf("Server unreachable: %v", err)
//	}
func (cp *ClientPool) Call(ctx context.Context, cmd *Command) (resp Value, err error) {
	for range cp.retries {
		if cerr := ctx.Err(); cerr != nil {
			return Value{}, cerr
		}

		client, cerr := cp.pool.Acquire(ctx)
		if cerr != nil {
			return Value{}, cerr
		}

		resp, err = client.Value().Call(ctx, cmd)

		if needsRetry := releaseMaybeRetry(client, err); needsRetry {
			continue
		}

		return resp, err
	}

	return Value{}, errors.Join(ErrRetriesExceeded, err)
}

// CallWithTimeout is [ClientPool.Call] bounded by timeout.
func (cp *ClientPool) CallWithTimeout(ctx context.Context, timeout time.Duration, cmd *Command) (Value, error) {
	tctx, stop := context.WithTimeout(ctx, timeout)
	defer stop()

	return cp.Call(tctx, cmd)
}
