//go:build !unix

package watchwire

import (
	"errors"
	"net"
	"os"
)

func supportsNonBlock(net.Conn) bool { return false }

func readNonBlock(net.Conn, []byte) (int, error) { return 0, errors.ErrUnsupported }

func writeNonBlock(net.Conn, []byte) (int, error) { return 0, errors.ErrUnsupported }

func setFileNonBlock(_ *os.File, nonBlock bool) error {
	if nonBlock {
		return errors.ErrUnsupported
	}

	return nil
}

func isWouldBlock(error) bool { return false }
