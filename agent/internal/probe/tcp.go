package probe

import (
	"context"
	"net"
	"strconv"
	"time"

	"github.com/speedscope/speedscope/agent/internal/config"
)

// tcpDialer times a TCP handshake to cfg.Host:cfg.Port.
func tcpDialer(cfg config.ProbeConfig) sampleFunc {
	addr := net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))
	var d net.Dialer
	return func(ctx context.Context, _ int) (time.Duration, error) {
		start := time.Now()
		conn, err := d.DialContext(ctx, "tcp", addr)
		if err != nil {
			return 0, err
		}
		rtt := time.Since(start)
		conn.Close()
		return rtt, nil
	}
}
