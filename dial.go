package watchwire

import (
	"context"
	"crypto/tls"
	"net"
	"net/url"
	"strings"
)

// Dial connects to the server at destURI and returns the connection as a
// [*ConnStream].
//
// The destURI format is `scheme:address`.
//
// Supported Schemes:
//   - `unix`: Connects to a Unix domain socket. Address is the socket file path.
//   - `tcp`, `tcp4`, `tcp6`: Establishes a TCP connection. Address is `host:port`.
//   - `tls`, `tls4`, `tls6`: Establishes a TLS connection over TCP. Address is `host:port`. Uses default [*tls.Config].
//
// Examples:
//   - `unix:///var/run/watchwire.sock`
//   - `tcp:127.0.0.1:9090`
//   - `tls:watch.example.com:9443`
//
// Returns [ErrUnknownScheme] if the scheme is not supported.
func Dial(ctx context.Context, destURI string) (*ConnStream, error) {
	uri, err := url.Parse(destURI)
	if err != nil {
		return nil, err
	}

	var conn net.Conn

	switch uri.Scheme {
	case "tcp", "tcp4", "tcp6":
		conn, err = new(net.Dialer).DialContext(ctx, uri.Scheme, strings.TrimPrefix(destURI, uri.Scheme+":"))
	case "tls", "tls4", "tls6":
		conn, err = dialTLS(ctx, uri.Scheme, strings.TrimPrefix(destURI, uri.Scheme+":"))
	case "unix":
		conn, err = new(net.Dialer).DialContext(ctx, uri.Scheme, uri.Path)
	default:
		return nil, ErrUnknownScheme
	}

	if err != nil {
		return nil, err
	}

	return NewConnStream(conn), nil
}

// dialTLS maps "tls", "tls4" and "tls6" onto the matching TCP network.
func dialTLS(ctx context.Context, network, addr string) (net.Conn, error) {
	tcpNetwork := "tcp"

	switch {
	case strings.HasSuffix(network, "6"):
		tcpNetwork = "tcp6"
	case strings.HasSuffix(network, "4"):
		tcpNetwork = "tcp4"
	}

	return new(tls.Dialer).DialContext(ctx, tcpNetwork, addr)
}

// DialTransport is [Dial] wrapped in a [*TransportClient]. It is the default
// dialer of [NewClientPool].
func DialTransport(ctx context.Context, destURI string) (*TransportClient, error) {
	stm, err := Dial(ctx, destURI)
	if err != nil {
		return nil, err
	}

	return NewTransportClient(stm), nil
}
