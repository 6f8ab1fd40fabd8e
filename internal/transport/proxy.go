package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"time"

	"golang.org/x/net/proxy"
)

// checkProxyTimeout is the timeout for checking if the proxy is available.
const checkProxyTimeout = 2 * time.Second

// ProxyStatus is the result of CheckProxy.
type ProxyStatus int

const (
	// ProxyStatusOK indicates the address speaks SOCKS5 without authentication.
	ProxyStatusOK ProxyStatus = iota
	// ProxyStatusWrongType indicates something answered that is not a usable SOCKS5 proxy.
	ProxyStatusWrongType
	// ProxyStatusCannotConnect indicates nothing is listening.
	ProxyStatusCannotConnect
	// ProxyStatusTimeout indicates the proxy did not answer in time.
	ProxyStatusTimeout
)

// String returns a human-readable description of the status.
func (s ProxyStatus) String() string {
	switch s {
	case ProxyStatusOK:
		return "ok"
	case ProxyStatusWrongType:
		return "not a SOCKS5 proxy"
	case ProxyStatusCannotConnect:
		return "cannot connect"
	case ProxyStatusTimeout:
		return "timeout"
	default:
		return "unknown"
	}
}

// SOCKS5 protocol constants
const (
	socks5Version      = 0x05
	socks5AuthNone     = 0x00
	socks5AuthNoAccept = 0xFF
)

// isValidProxyAddress checks if the address is in valid "host:port" format.
func isValidProxyAddress(address string) bool {
	host, port, err := net.SplitHostPort(address)
	if err != nil || host == "" {
		return false
	}
	n, err := strconv.Atoi(port)
	return err == nil && n >= 1 && n <= 65535
}

// newProxyDialer returns a SOCKS5 dialer for address.
func newProxyDialer(address string, timeout time.Duration) (proxy.ContextDialer, error) {
	if !isValidProxyAddress(address) {
		return nil, ErrInvalidProxyAddress
	}
	forward := &net.Dialer{Timeout: timeout}
	d, err := proxy.SOCKS5("tcp", address, nil, forward)
	if err != nil {
		return nil, fmt.Errorf("failed to create SOCKS5 dialer: %w", err)
	}
	cd, ok := d.(proxy.ContextDialer)
	if !ok {
		return nil, fmt.Errorf("SOCKS5 dialer does not support contexts")
	}
	return cd, nil
}

// CheckProxy performs a SOCKS5 greeting with address and reports whether
// it can be used without authentication. Only the method negotiation is
// exercised; no connection to a target is requested.
func CheckProxy(ctx context.Context, address string) ProxyStatus {
	ctx, cancel := context.WithTimeout(ctx, checkProxyTimeout)
	defer cancel()

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", address)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return ProxyStatusTimeout
		}
		return ProxyStatusCannotConnect
	}
	defer conn.Close()

	if err := conn.SetDeadline(time.Now().Add(checkProxyTimeout)); err != nil {
		return ProxyStatusCannotConnect
	}

	// version, one method, "no authentication"
	if _, err := conn.Write([]byte{socks5Version, 0x01, socks5AuthNone}); err != nil {
		return ProxyStatusCannotConnect
	}

	resp := make([]byte, 2)
	if _, err := io.ReadFull(conn, resp); err != nil {
		var ne net.Error
		if errors.As(err, &ne) && ne.Timeout() {
			return ProxyStatusTimeout
		}
		return ProxyStatusWrongType
	}
	if resp[0] != socks5Version || resp[1] == socks5AuthNoAccept || resp[1] != socks5AuthNone {
		return ProxyStatusWrongType
	}
	return ProxyStatusOK
}
