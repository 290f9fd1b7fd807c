package tcpsend

import (
	"context"
	"fmt"
	"net"
	"time"
)

// DefaultTimeout bounds dialing and writing one message.
const DefaultTimeout = 2 * time.Second

// Sender writes one payload per connection: dial, write, close.
type Sender struct {
	addr    string
	timeout time.Duration
	dialer  net.Dialer
}

// NewSender returns a sender for addr ("host:port").
func NewSender(addr string, timeout time.Duration) *Sender {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Sender{addr: addr, timeout: timeout}
}

// Addr returns the target address.
func (s *Sender) Addr() string {
	return s.addr
}

// Send delivers payload. It does not wait for a reply.
func (s *Sender) Send(ctx context.Context, payload []byte) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	conn, err := s.dialer.DialContext(ctx, "tcp", s.addr)
	if err != nil {
		return fmt.Errorf("dial %s: %w", s.addr, err)
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		if err := conn.SetWriteDeadline(deadline); err != nil {
			return fmt.Errorf("set deadline: %w", err)
		}
	}
	if _, err := conn.Write(payload); err != nil {
		return fmt.Errorf("write %s: %w", s.addr, err)
	}
	return nil
}
