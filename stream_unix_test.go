//go:build unix

package watchwire

import (
	"io"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func unixPair(t *testing.T) (client, server net.Conn) {
	t.Helper()

	ln, err := net.Listen("unix", filepath.Join(t.TempDir(), "s.sock"))
	require.NoError(t, err)
	defer ln.Close()

	accepted := make(chan net.Conn, 1)

	go func() {
		c, _ := ln.Accept()
		accepted <- c
	}()

	client, err = net.Dial("unix", ln.Addr().String())
	require.NoError(t, err)

	server = <-accepted
	require.NotNil(t, server)

	t.Cleanup(func() {
		_ = client.Close()
		_ = server.Close()
	})

	return client, server
}

func TestConnStream_NonBlock(t *testing.T) {
	t.Parallel()

	client, server := unixPair(t)

	stm := NewConnStream(client)
	require.NoError(t, stm.SetNonBlock(true))

	p := make([]byte, 16)

	_, err := stm.Read(p)
	require.ErrorIs(t, err, ErrWouldBlock)

	_, err = server.Write([]byte("hello"))
	require.NoError(t, err)

	var got []byte

	require.Eventually(t, func() bool {
		n, err := stm.Read(p)
		if err == nil {
			got = append(got, p[:n]...)
		}

		return len(got) == 5
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, "hello", string(got))

	n, err := stm.Write([]byte("back"))
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	require.NoError(t, server.Close())

	require.Eventually(t, func() bool {
		_, err := stm.Read(p)
		return err == io.EOF
	}, 2*time.Second, 5*time.Millisecond)

	// Back to blocking mode, the Buffer sees a normal stream.
	require.NoError(t, stm.SetNonBlock(false))
}

func TestConnStream_NonBlockDecode(t *testing.T) {
	t.Parallel()

	client, server := unixPair(t)

	stm := NewConnStream(client)
	require.NoError(t, stm.SetNonBlock(true))

	var buf Buffer

	_, err := buf.Decode(stm)
	require.ErrorIs(t, err, ErrWouldBlock)

	_, err = server.Write(encodeAll(t, BSERv2, CapCompactInts, Strings("ok")))
	require.NoError(t, err)

	require.NoError(t, stm.SetNonBlock(false))

	v, err := buf.Decode(stm)
	require.NoError(t, err)
	requireValue(t, Strings("ok"), v)
}

func TestFileStream_NonBlock(t *testing.T) {
	t.Parallel()

	var fds [2]int
	require.NoError(t, unix.Pipe(fds[:]))

	r := os.NewFile(uintptr(fds[0]), "pipe-r")
	w := os.NewFile(uintptr(fds[1]), "pipe-w")

	stm := NewFileStream(r, w)
	defer stm.Close()

	require.NoError(t, stm.SetNonBlock(true))

	_, err := stm.Read(make([]byte, 4))
	require.ErrorIs(t, err, ErrWouldBlock)

	n, err := stm.Write([]byte("ping"))
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	p := make([]byte, 4)
	n, err = stm.Read(p)
	require.NoError(t, err)
	assert.Equal(t, "ping", string(p[:n]))

	require.NoError(t, stm.SetNonBlock(false))
}
