package ftp

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"

	"github.com/telebroad/vfsftpd/tools"
)

// maxLineLength bounds a single command line, longer lines end the session
const maxLineLength = 8 * 1024

var (
	// ErrControlClosed is returned once the control connection is closed or the peer went away
	ErrControlClosed = errors.New("control connection closed")
	// ErrLineTooLong is returned when a command line exceeds maxLineLength
	ErrLineTooLong = errors.New("command line too long")
)

// ControlChannel frames CRLF terminated command lines and replies over the control connection.
type ControlChannel struct {
	conn   net.Conn
	reader *bufio.Reader
	writer io.Writer
	mu     sync.Mutex
	closed bool
}

// NewControlChannel wraps an accepted control connection, traffic is logged at debug level
func NewControlChannel(conn net.Conn, logger *slog.Logger) *ControlChannel {
	rw := tools.NewLogReadWriter(conn, logger)
	return &ControlChannel{
		conn:   conn,
		reader: bufio.NewReader(rw),
		writer: rw,
	}
}

// ReadLine reads bytes up to CRLF and returns the line without the terminator.
// A closed peer, a reset or an oversized line closes the channel and returns ErrControlClosed.
func (c *ControlChannel) ReadLine() (string, error) {
	if c.Closed() {
		return "", ErrControlClosed
	}
	line := make([]byte, 0, 64)
	for {
		b, err := c.reader.ReadByte()
		if err != nil {
			c.Close()
			return "", fmt.Errorf("%w: %v", ErrControlClosed, err)
		}
		line = append(line, b)
		if n := len(line); n >= 2 && line[n-2] == '\r' && line[n-1] == '\n' {
			return string(line[:n-2]), nil
		}
		if len(line) > maxLineLength {
			c.Close()
			return "", fmt.Errorf("%w: %w", ErrControlClosed, ErrLineTooLong)
		}
	}
}

// Reply sends "<code> <message>\r\n" in a single write.
// A failed write, such as a broken pipe or a reset, closes the channel.
func (c *ControlChannel) Reply(code StatusCode, message string) error {
	if c.Closed() {
		return ErrControlClosed
	}
	_, err := fmt.Fprintf(c.writer, "%03d %s%s", code, message, crlf)
	if err != nil {
		c.Close()
		return fmt.Errorf("%w: %v", ErrControlClosed, err)
	}
	return nil
}

// Close closes the connection. Closing an already closed channel returns ErrControlClosed
// and does nothing else.
func (c *ControlChannel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrControlClosed
	}
	c.closed = true
	_ = c.conn.Close()
	return nil
}

// Closed reports whether the channel has been closed
func (c *ControlChannel) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// LocalAddr returns the local address of the control connection
func (c *ControlChannel) LocalAddr() net.Addr {
	return c.conn.LocalAddr()
}

// RemoteAddr returns the remote address of the control connection
func (c *ControlChannel) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}
