package ftp

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"net"
	"sync"
	"time"

	"github.com/telebroad/vfsftpd/filesystem"
)

// DefaultAcceptTimeout is how long PASV waits for the client to open the data connection
const DefaultAcceptTimeout = 500 * time.Millisecond

// DefaultMaxUploadSize is the most a single STOR may send
const DefaultMaxUploadSize = filesystem.MaxFileSize

// listenAttempts is how many random ports PASV tries before giving up
const listenAttempts = 8

var (
	// ErrDataClosed is returned when the data channel is not in the state an operation needs
	ErrDataClosed = errors.New("data connection closed")
	// ErrAcceptTimeout is returned when no client connected to the passive listener in time
	ErrAcceptTimeout = errors.New("timed out waiting for data connection")
	// ErrInvalidPortRange is returned for an empty or out of range passive port range
	ErrInvalidPortRange = errors.New("invalid passive port range")
	// ErrUploadTooLarge is returned by Receive when the client sends more than the limit
	ErrUploadTooLarge = errors.New("upload exceeds size limit")
)

// DataState is the state of the passive data channel
type DataState int

const (
	DataClosed DataState = iota
	DataListening
	DataConnected
)

func (s DataState) String() string {
	switch s {
	case DataClosed:
		return "CLOSED"
	case DataListening:
		return "LISTENING"
	case DataConnected:
		return "CONNECTED"
	}
	return "UNKNOWN"
}

// DataChannel manages the passive data connection of one session:
// CLOSED -> LISTENING (Listen) -> CONNECTED (Accept) -> CLOSED (Close, after one transfer).
// At most one socket, the listener or the accepted connection, is open at any time.
// Close may be called from another goroutine to abort a blocked Accept, Send or Receive.
type DataChannel struct {
	host          [4]byte
	minPort       int // inclusive
	maxPort       int // exclusive
	acceptTimeout time.Duration
	maxReceive    int64
	logger        *slog.Logger

	mu       sync.Mutex
	listener *net.TCPListener
	conn     net.Conn
}

// NewDataChannel creates a closed data channel that listens on host with ports from [minPort, maxPort)
func NewDataChannel(host [4]byte, minPort, maxPort int, acceptTimeout time.Duration, logger *slog.Logger) *DataChannel {
	if acceptTimeout <= 0 {
		acceptTimeout = DefaultAcceptTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &DataChannel{
		host:          host,
		minPort:       minPort,
		maxPort:       maxPort,
		acceptTimeout: acceptTimeout,
		maxReceive:    DefaultMaxUploadSize,
		logger:        logger,
	}
}

// SetMaxReceive bounds how many bytes Receive accepts, n <= 0 keeps the current limit
func (d *DataChannel) SetMaxReceive(n int64) {
	if n > 0 {
		d.maxReceive = n
	}
}

// State returns the current state
func (d *DataChannel) State() DataState {
	d.mu.Lock()
	defer d.mu.Unlock()
	switch {
	case d.conn != nil:
		return DataConnected
	case d.listener != nil:
		return DataListening
	}
	return DataClosed
}

// Listen closes any existing data socket and listens on a pseudo randomly chosen port of the range.
// It returns the port the client has to connect to.
func (d *DataChannel) Listen() (int, error) {
	d.Close()
	if d.minPort < 1 || d.maxPort > 65536 || d.minPort >= d.maxPort {
		return 0, fmt.Errorf("%w: [%d, %d)", ErrInvalidPortRange, d.minPort, d.maxPort)
	}
	ip := net.IPv4(d.host[0], d.host[1], d.host[2], d.host[3])

	var lastErr error
	for i := 0; i < listenAttempts; i++ {
		port := d.minPort + rand.IntN(d.maxPort-d.minPort)
		listener, err := net.ListenTCP("tcp4", &net.TCPAddr{IP: ip, Port: port})
		if err != nil {
			lastErr = err
			d.logger.Debug("passive port unavailable", "port", port, "error", err)
			continue
		}
		d.mu.Lock()
		d.listener = listener
		d.mu.Unlock()
		return port, nil
	}
	return 0, fmt.Errorf("error listening for data connection: %w", lastErr)
}

// Accept waits up to the accept timeout for the client to connect.
// On success the connection replaces the listener, on timeout the channel is closed.
func (d *DataChannel) Accept() error {
	d.mu.Lock()
	listener := d.listener
	d.mu.Unlock()
	if listener == nil {
		return ErrDataClosed
	}
	if err := listener.SetDeadline(time.Now().Add(d.acceptTimeout)); err != nil {
		d.Close()
		return fmt.Errorf("error setting accept deadline: %w", err)
	}
	conn, err := listener.Accept()
	if err != nil {
		d.Close()
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return ErrAcceptTimeout
		}
		return fmt.Errorf("error accepting data connection: %w", err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	_ = listener.Close()
	if d.listener != listener {
		// closed while accepting
		_ = conn.Close()
		return ErrDataClosed
	}
	d.listener = nil
	d.conn = conn
	return nil
}

func (d *DataChannel) connected() net.Conn {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.conn
}

// Send writes payload to the connected client using the framing of mode.
// ASCII appends CRLF, Binary sends the bytes unmodified.
func (d *DataChannel) Send(payload []byte, mode TransferMode) (int64, error) {
	conn := d.connected()
	if conn == nil {
		return 0, ErrDataClosed
	}
	if mode == ModeASCII {
		payload = append(payload[:len(payload):len(payload)], crlf...)
	}
	n, err := conn.Write(payload)
	if err != nil {
		return int64(n), fmt.Errorf("error sending data: %w", err)
	}
	return int64(n), nil
}

// Receive reads everything the client sends until it closes its side.
// ASCII strips one trailing CRLF, the inverse of the Send framing.
// More than the receive limit fails with ErrUploadTooLarge.
func (d *DataChannel) Receive(mode TransferMode) ([]byte, error) {
	conn := d.connected()
	if conn == nil {
		return nil, ErrDataClosed
	}
	data, err := io.ReadAll(io.LimitReader(conn, d.maxReceive+1))
	if err != nil {
		return nil, fmt.Errorf("error receiving data: %w", err)
	}
	if int64(len(data)) > d.maxReceive {
		return nil, fmt.Errorf("%w: more than %d bytes", ErrUploadTooLarge, d.maxReceive)
	}
	if mode == ModeASCII {
		data = bytes.TrimSuffix(data, []byte(crlf))
	}
	return data, nil
}

// Close closes whichever socket is open. It returns ErrDataClosed when nothing was open.
func (d *DataChannel) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.listener == nil && d.conn == nil {
		return ErrDataClosed
	}
	if d.listener != nil {
		_ = d.listener.Close()
		d.listener = nil
	}
	if d.conn != nil {
		_ = d.conn.Close()
		d.conn = nil
	}
	return nil
}

// Host returns the advertised passive host
func (d *DataChannel) Host() [4]byte {
	return d.host
}

// pasvAddress formats host and port as h1,h2,h3,h4,p1,p2
func pasvAddress(host [4]byte, port int) string {
	return fmt.Sprintf("%d,%d,%d,%d,%d,%d", host[0], host[1], host[2], host[3], port/256, port%256)
}
