package ftp

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/telebroad/vfsftpd/filesystem"
	"github.com/telebroad/vfsftpd/users"
)

// ErrServerClosed is returned by Serve and ListenAndServe after Close
var ErrServerClosed = errors.New("ftp: server closed")

// Server accepts control connections and runs one Session per connection.
// Sessions share the directory tree and the authenticator, nothing else.
type Server struct {
	// Addr specifies the TCP address for the server to listen on, in the form "host:port"
	Addr string

	// PasvHost is the IPv4 address announced in the 227 reply, see SetPasvHost
	PasvHost [4]byte
	// PasvMinPort and PasvMaxPort give the passive port range [min, max)
	PasvMinPort int
	PasvMaxPort int
	// AcceptTimeout bounds the wait for the data connection after PASV
	AcceptTimeout time.Duration
	// MaxUploadSize bounds a single STOR, DefaultMaxUploadSize when zero
	MaxUploadSize int64

	WelcomeMessage string
	Auth           users.Authenticator
	Root           filesystem.Directory
	Metrics        MetricsCollector

	logger   *slog.Logger
	sessions *SessionManager

	mu       sync.Mutex
	listener net.Listener
	closed   error
	wg       sync.WaitGroup
}

// NewServer creates a server for the tree under root, logins are checked with auth
func NewServer(addr string, root filesystem.Directory, auth users.Authenticator) (*Server, error) {
	if root == nil {
		return nil, fmt.Errorf("error creating ftp server: root directory is nil")
	}
	if auth == nil {
		return nil, fmt.Errorf("error creating ftp server: authenticator is nil")
	}
	return &Server{
		Addr:          addr,
		PasvHost:      [4]byte{127, 0, 0, 1},
		PasvMinPort:   1024,
		PasvMaxPort:   65536,
		AcceptTimeout: DefaultAcceptTimeout,
		Auth:          auth,
		Root:          root,
		sessions:      NewSessionManager(),
	}, nil
}

// SetPasvHost sets the IPv4 address announced and bound in passive mode
func (s *Server) SetPasvHost(ip string) error {
	host, err := ParseIPv4(ip)
	if err != nil {
		return err
	}
	s.PasvHost = host
	return nil
}

// SetLogger sets the logger for the server.
func (s *Server) SetLogger(l *slog.Logger) {
	s.logger = l
}

// Logger returns the logger for the server.
func (s *Server) Logger() *slog.Logger {
	if s.logger == nil {
		return slog.Default()
	}
	return s.logger
}

// Sessions returns the active sessions
func (s *Server) Sessions() *SessionManager {
	return s.sessions
}

// ListenAndServe listens on Addr and serves until Close
func (s *Server) ListenAndServe() error {
	listener, err := net.Listen("tcp", s.Addr)
	if err != nil {
		return fmt.Errorf("error listening on %s: %w", s.Addr, err)
	}
	return s.Serve(listener)
}

// TryListenAndServe starts the server in the background.
// It returns the error ListenAndServe fails with within d, or nil if it is still running after d.
func (s *Server) TryListenAndServe(d time.Duration) error {
	errC := make(chan error, 1)
	go func() {
		err := s.ListenAndServe()
		if err != nil {
			errC <- err
		}
	}()

	select {
	case err := <-errC:
		return err
	case <-time.After(d):
		return nil
	}
}

// Serve accepts connections on listener, each connection gets its own goroutine.
// It takes ownership of the listener and closes it on return.
func (s *Server) Serve(listener net.Listener) error {
	s.mu.Lock()
	if s.closed != nil {
		s.mu.Unlock()
		_ = listener.Close()
		return ErrServerClosed
	}
	s.listener = listener
	s.mu.Unlock()
	defer listener.Close()

	s.Logger().Info("ftp server listening", "addr", listener.Addr().String())
	for {
		conn, err := listener.Accept()
		if err != nil {
			if s.isClosed() {
				return ErrServerClosed
			}
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				s.Logger().Warn("temporary error accepting connection", "error", err)
				time.Sleep(10 * time.Millisecond)
				continue
			}
			return fmt.Errorf("error accepting connection: %w", err)
		}
		s.mu.Lock()
		if s.closed != nil {
			s.mu.Unlock()
			_ = conn.Close()
			return ErrServerClosed
		}
		s.wg.Add(1)
		s.mu.Unlock()
		go s.handleConnection(conn)
	}
}

func (s *Server) handleConnection(conn net.Conn) {
	defer s.wg.Done()
	s.Logger().Info("new control connection", "remote", conn.RemoteAddr().String())

	session := NewSession(conn, SessionConfig{
		PasvHost:       s.PasvHost,
		PasvMinPort:    s.PasvMinPort,
		PasvMaxPort:    s.PasvMaxPort,
		AcceptTimeout:  s.AcceptTimeout,
		MaxUploadSize:  s.MaxUploadSize,
		Auth:           s.Auth,
		Root:           s.Root,
		WelcomeMessage: s.WelcomeMessage,
		Logger:         s.Logger(),
		Metrics:        s.Metrics,
	})
	s.sessions.Add(session.ID(), session)
	defer s.sessions.Remove(session.ID())

	// Close may have run between Accept and Add
	if s.isClosed() {
		session.Shutdown()
	}
	session.Serve()
	s.Logger().Info("control connection closed", "remote", session.ID())
}

func (s *Server) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed != nil
}

// Close stops accepting connections, ends every active session and waits for them to return.
// cause is logged, a nil cause is replaced with ErrServerClosed.
func (s *Server) Close(cause error) error {
	if cause == nil {
		cause = ErrServerClosed
	}
	s.mu.Lock()
	if s.closed != nil {
		s.mu.Unlock()
		return nil
	}
	s.closed = cause
	listener := s.listener
	s.mu.Unlock()

	s.Logger().Info("closing ftp server", "cause", cause)
	var err error
	if listener != nil {
		err = listener.Close()
	}
	s.sessions.CloseAll()
	s.wg.Wait()
	return err
}

// ListenerAddr returns the listener address once Serve runs, nil before
func (s *Server) ListenerAddr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}
