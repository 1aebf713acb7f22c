// Package transport wraps the single UDP socket each endpoint owns:
// bind, send-to-address, and a cancellable receive loop that decodes
// one envelope per datagram.
package transport

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"time"

	"github.com/chatnet/chatapp/pkg/protocol"
)

const (
	// ReadBufferSize bounds a single datagram payload.
	ReadBufferSize = 4096

	// PollInterval is the read-deadline granularity of the receive
	// loop and therefore the worst-case shutdown latency.
	PollInterval = 1 * time.Second
)

// Handler consumes one decoded inbound envelope. It runs on the
// receive-loop goroutine and must not block.
type Handler func(env *protocol.Envelope, from *net.UDPAddr)

// Conn is a bound UDP socket.
type Conn struct {
	sock *net.UDPConn
}

// Listen binds a UDP socket on ip:port. Port 0 picks a free port.
func Listen(ip string, port int) (*Conn, error) {
	addr := &net.UDPAddr{IP: net.ParseIP(ip), Port: port}
	sock, err := net.ListenUDP("udp4", addr)
	if err != nil {
		return nil, fmt.Errorf("bind udp %s:%d: %w", ip, port, err)
	}
	return &Conn{sock: sock}, nil
}

// LocalAddr returns the bound address.
func (c *Conn) LocalAddr() *net.UDPAddr {
	return c.sock.LocalAddr().(*net.UDPAddr)
}

// Close releases the socket. The receive loop, if running, unblocks
// and returns.
func (c *Conn) Close() error {
	return c.sock.Close()
}

// Send encodes the envelope and writes it as one datagram to addr.
func (c *Conn) Send(env *protocol.Envelope, addr *net.UDPAddr) error {
	data, err := env.Encode()
	if err != nil {
		return err
	}
	if len(data) > ReadBufferSize {
		return fmt.Errorf("send %s to %s: envelope is %d bytes, limit %d", env.Type, addr, len(data), ReadBufferSize)
	}
	if _, err := c.sock.WriteToUDP(data, addr); err != nil {
		return fmt.Errorf("send %s to %s: %w", env.Type, addr, err)
	}
	return nil
}

// Serve reads datagrams until ctx is cancelled, decoding each into an
// envelope and passing it to handle. Malformed datagrams are dropped
// and logged; the loop keeps running. Socket readiness is polled at
// PollInterval so cancellation is observed within one interval.
// A read failure other than a deadline is fatal and returned.
func (c *Conn) Serve(ctx context.Context, handle Handler) error {
	buf := make([]byte, ReadBufferSize)
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		if err := c.sock.SetReadDeadline(time.Now().Add(PollInterval)); err != nil {
			return fmt.Errorf("set read deadline: %w", err)
		}
		n, from, err := c.sock.ReadFromUDP(buf)
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("receive: %w", err)
		}

		env, err := protocol.Decode(buf[:n])
		if err != nil {
			log.Printf("⚠️  Dropping bad datagram from %s: %v", from, err)
			continue
		}
		handle(env, from)
	}
}

// Resolve turns an ip/port pair into a UDP address.
func Resolve(ip string, port int) (*net.UDPAddr, error) {
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return nil, fmt.Errorf("resolve %s:%d: not an IP address", ip, port)
	}
	return &net.UDPAddr{IP: parsed, Port: port}, nil
}

// LocalIP reports the local interface address the OS would use to
// reach remote. Used by clients to fill the client_ip metadata field
// without binding to a specific interface.
func LocalIP(remote *net.UDPAddr) string {
	probe, err := net.DialUDP("udp4", nil, remote)
	if err != nil {
		return "127.0.0.1"
	}
	defer probe.Close()
	return probe.LocalAddr().(*net.UDPAddr).IP.String()
}
