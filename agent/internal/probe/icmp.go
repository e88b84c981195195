package probe

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"time"

	"golang.org/x/net/icmp"
	"golang.org/x/net/ipv4"

	"github.com/speedscope/speedscope/agent/internal/config"
	"github.com/speedscope/speedscope/pkg/analysis"
)

// protocolICMP is the IANA protocol number of ICMP for IPv4.
const protocolICMP = 1

var errNoIPv4 = errors.New("probe: host has no IPv4 address")

// icmpProber sends ICMP echo requests over an unprivileged datagram socket.
// On Linux this needs the process group inside net.ipv4.ping_group_range.
type icmpProber struct {
	cfg config.ProbeConfig
}

func (p *icmpProber) Probe(ctx context.Context) (analysis.Probe, error) {
	dst, err := resolveIPv4(ctx, p.cfg.Host)
	if err != nil {
		return analysis.Probe{}, err
	}

	conn, err := icmp.ListenPacket("udp4", "0.0.0.0")
	if err != nil {
		return analysis.Probe{}, fmt.Errorf("probe: icmp listen: %w", err)
	}
	defer conn.Close()

	id := os.Getpid() & 0xffff
	return run(ctx, p.cfg, func(ctx context.Context, seq int) (time.Duration, error) {
		return echo(ctx, conn, dst, id, seq)
	})
}

// echo sends one request and waits for the matching reply. Datagram sockets
// rewrite the echo ID, so replies are matched on sequence number only.
func echo(ctx context.Context, conn *icmp.PacketConn, dst *net.UDPAddr, id, seq int) (time.Duration, error) {
	msg := icmp.Message{
		Type: ipv4.ICMPTypeEcho,
		Code: 0,
		Body: &icmp.Echo{ID: id, Seq: seq & 0xffff, Data: []byte("speedscope")},
	}
	wb, err := msg.Marshal(nil)
	if err != nil {
		return 0, err
	}

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(time.Second)
	}
	if err := conn.SetReadDeadline(deadline); err != nil {
		return 0, err
	}

	start := time.Now()
	if _, err := conn.WriteTo(wb, dst); err != nil {
		return 0, err
	}

	rb := make([]byte, 1500)
	for {
		n, _, err := conn.ReadFrom(rb)
		if err != nil {
			return 0, err
		}
		reply, err := icmp.ParseMessage(protocolICMP, rb[:n])
		if err != nil {
			continue
		}
		if reply.Type != ipv4.ICMPTypeEchoReply {
			continue
		}
		if body, ok := reply.Body.(*icmp.Echo); ok && body.Seq == seq&0xffff {
			return time.Since(start), nil
		}
	}
}

func resolveIPv4(ctx context.Context, host string) (*net.UDPAddr, error) {
	if ip := net.ParseIP(host); ip != nil {
		if ip4 := ip.To4(); ip4 != nil {
			return &net.UDPAddr{IP: ip4}, nil
		}
		return nil, errNoIPv4
	}
	addrs, err := net.DefaultResolver.LookupIPAddr(ctx, host)
	if err != nil {
		return nil, fmt.Errorf("probe: resolve %s: %w", host, err)
	}
	for _, a := range addrs {
		if ip4 := a.IP.To4(); ip4 != nil {
			return &net.UDPAddr{IP: ip4}, nil
		}
	}
	return nil, errNoIPv4
}
