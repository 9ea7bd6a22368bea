package management

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/yllada/vpnctl/common"
)

// Channel is the line oriented transport to the management interface.
//
// ReadLine blocks until a full line arrives; any error, io.EOF included,
// means the channel is closed or broken. WriteLine must be safe to call
// from several goroutines. Close is idempotent.
type Channel interface {
	ReadLine() (string, error)
	WriteLine(line string) error
	Close() error
}

const (
	passwordAccepted = "SUCCESS: password is correct"
	passwordRejected = "ERROR: bad password"
)

// DialFunc opens a Channel to the management interface listening on the
// loopback port and authenticates with secret.
type DialFunc func(ctx context.Context, port int, secret string) (Channel, error)

// TCPChannel is a Channel over a TCP connection.
type TCPChannel struct {
	conn   net.Conn
	reader *bufio.Reader

	writeMu   sync.Mutex
	closeOnce sync.Once
	closeErr  error
	closed    atomic.Bool
}

// NewTCPChannel wraps an established connection.
func NewTCPChannel(conn net.Conn) *TCPChannel {
	return &TCPChannel{
		conn:   conn,
		reader: bufio.NewReader(conn),
	}
}

// DialTCP connects to the management interface on 127.0.0.1:port. The
// engine prompts for the password without a line terminator, so the
// secret is written right away instead of waiting for the prompt. The
// engine's verdict is read before the channel is returned; a rejected
// secret yields common.ErrManagementAuth.
func DialTCP(ctx context.Context, port int, secret string) (Channel, error) {
	addr := net.JoinHostPort(common.ManagementHost, strconv.Itoa(port))

	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial management interface %s: %w: %w", addr, common.ErrConnectionFailed, err)
	}

	ch := NewTCPChannel(conn)
	if secret == "" {
		return ch, nil
	}
	if err := ch.authenticate(ctx, secret); err != nil {
		ch.Close()
		return nil, err
	}
	return ch, nil
}

func (c *TCPChannel) authenticate(ctx context.Context, secret string) error {
	// Unblock the verdict read when ctx ends.
	stop := context.AfterFunc(ctx, func() {
		c.conn.SetReadDeadline(time.Now())
	})
	defer stop()

	if err := c.WriteLine(secret); err != nil {
		return fmt.Errorf("send management password: %w: %w", common.ErrConnectionFailed, err)
	}
	for {
		line, err := c.ReadLine()
		if err != nil {
			if ctx.Err() != nil {
				err = ctx.Err()
			}
			return fmt.Errorf("read management password verdict: %w: %w", common.ErrConnectionFailed, err)
		}
		// The verdict follows the unterminated prompt on the same line.
		switch {
		case strings.Contains(line, passwordAccepted):
			if !stop() {
				// ctx ended as the verdict arrived; the read deadline is spent.
				return fmt.Errorf("read management password verdict: %w: %w", common.ErrConnectionFailed, ctx.Err())
			}
			return nil
		case strings.Contains(line, passwordRejected):
			return common.ErrManagementAuth
		}
	}
}

// ReadLine returns the next line without its terminator.
func (c *TCPChannel) ReadLine() (string, error) {
	line, err := c.reader.ReadString('\n')
	if err != nil {
		if c.closed.Load() {
			return "", common.ErrChannelClosed
		}
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// WriteLine sends one line.
func (c *TCPChannel) WriteLine(line string) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_, err := c.conn.Write([]byte(line + "\n"))
	return err
}

// Close closes the connection. Calling it again returns the first result.
func (c *TCPChannel) Close() error {
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		c.closeErr = c.conn.Close()
	})
	return c.closeErr
}
