package probe

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"slices"

	"github.com/AreTaj/Migraine-Navigator/internal/config"
)

const userAgent = "migraine-navigator-shell"

type httpProber struct {
	client *http.Client
	url    string
	expect []int
}

func newHTTPProber(spec *config.HTTPProbeSpec) Prober {
	// The backend may restart between attempts; never reuse connections.
	transport := &http.Transport{DisableKeepAlives: true, Proxy: nil}
	return &httpProber{
		client: &http.Client{
			Transport: transport,
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		url:    spec.URL,
		expect: append([]int(nil), spec.ExpectStatus...),
	}
}

func (p *httpProber) Probe(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url, nil)
	if err != nil {
		return fmt.Errorf("request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64*1024))

	if len(p.expect) > 0 {
		if !slices.Contains(p.expect, resp.StatusCode) {
			return fmt.Errorf("status=%d", resp.StatusCode)
		}
		return nil
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 400 {
		return fmt.Errorf("status=%d", resp.StatusCode)
	}
	return nil
}

type tcpProber struct {
	address string
	dialer  func(ctx context.Context, network, address string) (net.Conn, error)
}

func newTCPProber(spec *config.TCPProbeSpec) Prober {
	return &tcpProber{
		address: spec.Address,
		dialer:  (&net.Dialer{KeepAlive: -1}).DialContext,
	}
}

func (p *tcpProber) Probe(ctx context.Context) error {
	conn, err := p.dialer(ctx, "tcp", p.address)
	if err != nil {
		return fmt.Errorf("dial %s: %w", p.address, err)
	}
	return conn.Close()
}
