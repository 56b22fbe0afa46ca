//go:build unix

package watchwire

import (
	"errors"
	"io"
	"net"
	"os"
	"syscall"

	"golang.org/x/sys/unix"
)

func supportsNonBlock(conn net.Conn) bool {
	_, ok := conn.(syscall.Conn)
	return ok
}

// readNonBlock reads straight from the descriptor, bypassing the runtime
// poller, so an empty socket reports EAGAIN instead of parking the goroutine.
func readNonBlock(conn net.Conn, p []byte) (int, error) {
	n, err := rawIO(conn, func(fd int) (int, error) { return unix.Read(fd, p) })
	if n == 0 && err == nil && len(p) > 0 {
		return 0, io.EOF
	}

	return n, err
}

func writeNonBlock(conn net.Conn, p []byte) (int, error) {
	return rawIO(conn, func(fd int) (int, error) { return unix.Write(fd, p) })
}

func rawIO(conn net.Conn, op func(fd int) (int, error)) (int, error) {
	sc, ok := conn.(syscall.Conn)
	if !ok {
		return 0, errors.ErrUnsupported
	}

	rc, err := sc.SyscallConn()
	if err != nil {
		return 0, err
	}

	var (
		n     int
		opErr error
	)

	ctlErr := rc.Control(func(fd uintptr) {
		n, opErr = op(int(fd))
	})
	if ctlErr != nil {
		return 0, ctlErr
	}

	if isWouldBlock(opErr) {
		return 0, ErrWouldBlock
	}

	if opErr != nil {
		return 0, &os.SyscallError{Syscall: "read/write", Err: opErr}
	}

	return max(n, 0), nil
}

func setFileNonBlock(f *os.File, nonBlock bool) error {
	rc, err := f.SyscallConn()
	if err != nil {
		return err
	}

	var opErr error

	if err := rc.Control(func(fd uintptr) {
		opErr = unix.SetNonblock(int(fd), nonBlock)
	}); err != nil {
		return err
	}

	return opErr
}

func isWouldBlock(err error) bool {
	return errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EWOULDBLOCK)
}
