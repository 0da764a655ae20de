package sftp

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"sync"
	"time"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"

	"github.com/telebroad/vfsftpd/filesystem"
	"github.com/telebroad/vfsftpd/users"
)

// ErrServerClosed is returned by Serve and ListenAndServe after Close
var ErrServerClosed = errors.New("sftp: server closed")

// Server exposes a directory tree over SFTP, logins are checked with the same
// authenticator the ftp server uses.
type Server struct {
	Addr       string
	logger     *slog.Logger
	root       filesystem.Directory
	PrivateKey []byte
	sshConfig  *ssh.ServerConfig
	users      users.Authenticator

	mu       sync.Mutex
	listener net.Listener
	conns    map[net.Conn]struct{}
	closed   bool
	wg       sync.WaitGroup
}

func NewSFTPServer(addr string, root filesystem.Directory, auth users.Authenticator) *Server {
	s := &Server{
		Addr:  addr,
		root:  root,
		users: auth,
		conns: make(map[net.Conn]struct{}),
	}

	return s
}

// SetPrivateKey sets the private key for the server.
// if not called the server will generate a new key
func (s *Server) SetPrivateKey(pk []byte) {
	s.PrivateKey = pk
}

func (s *Server) SetPrivateKeyFile(pk string) error {
	file, err := os.ReadFile(pk)
	if err != nil {
		err = fmt.Errorf("error reading private key file: %w", err)
		return err
	}

	s.PrivateKey = file
	return nil
}

// setup builds the ssh configuration, generating an ed25519 host key when none was set
func (s *Server) setup() error {
	if s.PrivateKey == nil {
		pk, err := GenerateHostKey(KeyEd25519, 0)
		if err != nil {
			return fmt.Errorf("error generating host key: %w", err)
		}
		s.PrivateKey = pk
	}

	// Configure the SSH server settings.
	s.sshConfig = &ssh.ServerConfig{
		PasswordCallback: s.AuthHandler,
	}

	signer, err := parseSigner(s.PrivateKey)
	if err != nil {
		s.Logger().Error("Error parsing private key", "error", err)
		return err
	}

	s.sshConfig.AddHostKey(signer)
	return nil
}

func (s *Server) ListenAndServe() error {
	// Start the SSH server.
	listener, err := net.Listen("tcp", s.Addr)
	if err != nil {
		s.Logger().Error("Failed to listen", "error", err)
		err = fmt.Errorf("failed to listen: %w", err)
		return err
	}
	return s.Serve(listener)
}

// Serve accepts ssh connections on listener until Close
func (s *Server) Serve(listener net.Listener) error {
	if err := s.setup(); err != nil {
		_ = listener.Close()
		return err
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		_ = listener.Close()
		return ErrServerClosed
	}
	s.listener = listener
	s.mu.Unlock()
	defer listener.Close()

	s.Logger().Info("Listening on " + listener.Addr().String())

	for {
		// Accept incoming connections.
		conn, err := listener.Accept()
		if err != nil {
			if s.isClosed() {
				return ErrServerClosed
			}
			s.Logger().Error("Failed to accept incoming connection", "error", err)
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			return fmt.Errorf("error accepting connection: %w", err)
		}

		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			_ = conn.Close()
			return ErrServerClosed
		}
		s.conns[conn] = struct{}{}
		s.wg.Add(1)
		s.mu.Unlock()

		// Handle each connection in a new goroutine.
		go s.sshHandler(conn)
	}
}

// TryListenAndServe tries to start the SFTP server if there isn't an error after a certain time it returns nil
func (s *Server) TryListenAndServe(d time.Duration) (err error) {
	errC := make(chan error, 1)

	go func() {
		err := s.ListenAndServe()
		if err != nil {
			errC <- err
		}
	}()

	select {
	case err = <-errC:
		return err
	case <-time.After(d):
		return nil
	}
}

func (s *Server) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Close closes the listener and every ssh connection, then waits for the handlers to return.
func (s *Server) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	var err error
	if s.listener != nil {
		err = s.listener.Close()
	}
	for conn := range s.conns {
		_ = conn.Close()
	}
	s.mu.Unlock()

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

// SetLogger sets the logger for the server.
func (s *Server) SetLogger(l *slog.Logger) {
	s.logger = l
}

// Logger returns the logger for the server.
func (s *Server) Logger() *slog.Logger {
	if s.logger == nil {
		return slog.Default().With("module", "sftp-server")
	}
	return s.logger
}

// AuthHandler is called by the SSH server when a client attempts to authenticate.
func (s *Server) AuthHandler(c ssh.ConnMetadata, pass []byte) (*ssh.Permissions, error) {
	s.Logger().Debug("Login attempt", "user", c.User(), "RemoteAddr", c.RemoteAddr().String())
	if s.users != nil && s.users.Authenticate(c.User(), string(pass)) {
		return nil, nil
	}

	return nil, fmt.Errorf("password rejected for %q", c.User())
}

func (s *Server) sshHandler(conn net.Conn) {
	defer s.wg.Done()
	defer func() {
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
	}()
	defer conn.Close()

	// Upgrade the connection to an SSH connection.
	sshConn, chans, reqs, err := ssh.NewServerConn(conn, s.sshConfig)
	if err != nil {
		s.Logger().Info("Failed to handshake", "error", err)
		return
	}
	defer sshConn.Close()

	s.Logger().Info(
		"New SSH connection",
		"RemoteAddr", sshConn.RemoteAddr().String(),
		"ClientVersion", string(sshConn.ClientVersion()),
		"ServerVersion", string(sshConn.ServerVersion()),
		"ssh-User", sshConn.User(),
	)
	// The incoming Request channel must be serviced.
	go ssh.DiscardRequests(reqs)

	var channels sync.WaitGroup
	defer channels.Wait()

	// Service the incoming Channel channel.
	for newChannel := range chans {
		// Channels have a type, depending on the application level protocol intended. In the case of an SFTP
		// server, we expect a channel type of "session". The SFTP server operates over a single channel.

		s.Logger().Debug("Incoming channel", "channelType", newChannel.ChannelType())
		if newChannel.ChannelType() != "session" {
			_ = newChannel.Reject(ssh.UnknownChannelType, "unknown channel type")
			continue
		}

		channel, requests, err := newChannel.Accept()
		if err != nil {
			s.Logger().Error("Could not accept channel", "error", err)
			return
		}

		channels.Add(1)
		go func() {
			defer channels.Done()
			s.serveChannel(channel, requests, sshConn.User())
		}()
	}
}

// serveChannel runs one sftp subsystem over an accepted session channel
func (s *Server) serveChannel(channel ssh.Channel, requests <-chan *ssh.Request, username string) {
	defer channel.Close()

	subsystem := make(chan bool, 1)
	go s.filterHandler(requests, subsystem)
	if ok := <-subsystem; !ok {
		return
	}

	handlers := NewFileSys(s.root, username, s.Logger())
	server := sftp.NewRequestServer(channel, handlers)
	defer server.Close()

	if err := server.Serve(); err == io.EOF {
		s.Logger().Info("sftp client exited session.", "user", username)
	} else if err != nil {
		s.Logger().Error("sftp server completed with error", "error", err)
	}
}

// filterHandler accepts only the "sftp" subsystem request and reports on subsystem
// whether it arrived before the channel's requests ended
func (s *Server) filterHandler(in <-chan *ssh.Request, subsystem chan<- bool) {
	reported := false
	for req := range in {
		s.Logger().Debug("Request", "type", req.Type, "payload", string(req.Payload))

		ok := false
		switch req.Type {
		case "subsystem":
			if len(req.Payload) > 4 && string(req.Payload[4:]) == "sftp" {
				ok = true
			}
		}
		if req.WantReply {
			if err := req.Reply(ok, nil); err != nil {
				s.Logger().Error("Failed to reply", "error", err)
			}
		}
		if ok && !reported {
			reported = true
			subsystem <- true
		}
	}
	if !reported {
		subsystem <- false
	}
}
