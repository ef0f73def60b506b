package relay

import (
	"context"
	"net"
	"net/http"

	"golang.org/x/net/proxy"
)

func newSOCKSTransport(addr string) (*http.Transport, error) {
	dialer, err := proxy.SOCKS5("tcp", addr, nil, proxy.Direct)
	if err != nil {
		return nil, err
	}
	cd, hasContext := dialer.(proxy.ContextDialer)

	return &http.Transport{
		Proxy: nil,
		DialContext: func(ctx context.Context, network, target string) (net.Conn, error) {
			if hasContext {
				return cd.DialContext(ctx, network, target)
			}
			return dialer.Dial(network, target)
		},
	}, nil
}
