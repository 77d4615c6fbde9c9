// Package proxy builds HTTP clients that tunnel through a SOCKS5 proxy.
package proxy

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/net/proxy"
)

// NewSocksClient returns a client dialing through socksAddr. socksAddr is
// host:port or a socks5:// URL carrying optional credentials.
func NewSocksClient(socksAddr string, timeout time.Duration) (*http.Client, error) {
	addr, auth, err := parseAddr(socksAddr)
	if err != nil {
		return nil, err
	}

	dialer, err := proxy.SOCKS5("tcp", addr, auth, proxy.Direct)
	if err != nil {
		return nil, err
	}

	dial := func(ctx context.Context, network, addr string) (net.Conn, error) {
		if cd, ok := dialer.(proxy.ContextDialer); ok {
			return cd.DialContext(ctx, network, addr)
		}
		return dialer.Dial(network, addr)
	}

	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &http.Client{
		Transport: &http.Transport{DialContext: dial},
		Timeout:   timeout,
	}, nil
}

func parseAddr(s string) (string, *proxy.Auth, error) {
	u, err := url.Parse(s)
	if err != nil || u.Host == "" {
		// bare host:port
		if _, _, splitErr := net.SplitHostPort(s); splitErr != nil {
			return "", nil, fmt.Errorf("invalid socks address %q", s)
		}
		return s, nil, nil
	}
	if u.Scheme != "socks5" && u.Scheme != "socks5h" {
		return "", nil, fmt.Errorf("unsupported proxy scheme %q", u.Scheme)
	}

	var auth *proxy.Auth
	if u.User != nil {
		pass, _ := u.User.Password()
		auth = &proxy.Auth{User: u.User.Username(), Password: pass}
	}
	return u.Host, auth, nil
}
