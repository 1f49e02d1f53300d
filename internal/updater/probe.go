package updater

import (
	"context"
	"fmt"
	"net"
	"time"
)

// DialProber treats a host as reachable when a TCP connection to its HTTPS
// port succeeds.
type DialProber struct {
	Timeout time.Duration
	Port    string
}

// Probe implements Prober.
func (p DialProber) Probe(ctx context.Context, host string) error {
	timeout := p.Timeout
	if timeout == 0 {
		timeout = DefaultProbeTimeout
	}
	port := p.Port
	if port == "" {
		port = "443"
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", net.JoinHostPort(host, port))
	if err != nil {
		return fmt.Errorf("probe %s: %w", host, err)
	}
	return conn.Close()
}
