package ftp

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"runtime/debug"
	"sort"
	"strings"
	"time"

	"github.com/telebroad/vfsftpd/filesystem"
	"github.com/telebroad/vfsftpd/users"
)

// DefaultWelcomeMessage is sent with the 220 greeting when SessionConfig.WelcomeMessage is empty
const DefaultWelcomeMessage = "Welcome to the FTP server"

// SessionConfig holds everything a session needs besides its connection
type SessionConfig struct {
	// PasvHost is the IPv4 address advertised in the 227 reply and bound by the data listener
	PasvHost [4]byte
	// PasvMinPort and PasvMaxPort give the half open passive port range [min, max)
	PasvMinPort int
	PasvMaxPort int
	// AcceptTimeout bounds the wait for the client to open the data connection, DefaultAcceptTimeout when zero
	AcceptTimeout time.Duration
	// MaxUploadSize bounds a single STOR, DefaultMaxUploadSize when zero
	MaxUploadSize int64

	Auth users.Authenticator
	// Root is the directory tree's root, sessions start there
	Root filesystem.Directory

	WelcomeMessage string
	Logger         *slog.Logger
	Metrics        MetricsCollector
}

// handlerMap maps an upper case verb to its handler.
// A handler returning an error ends the session.
type handlerMap map[string]func(cmd string, args []string) error

// commands that are accepted before PASS succeeded
var publicCommands = map[string]bool{
	USER: true,
	PASS: true,
	QUIT: true,
	SYST: true,
	NOOP: true,
	HELP: true,
	TYPE: true,
}

// Session represents an individual client FTP session.
// A session is driven by a single goroutine, Serve, and is not safe for concurrent use
// except for Shutdown.
type Session struct {
	id       string
	control  *ControlChannel
	data     *DataChannel
	nav      *filesystem.Navigator
	auth     users.Authenticator
	handlers handlerMap
	logger   *slog.Logger
	metrics  MetricsCollector

	username        string       // Username of the client
	isAuthenticated bool         // Authentication status
	mode            TransferMode // TYPE A or TYPE I
	lastCode        StatusCode   // code of the last reply, 0 when the command did not reply
	argLine         string       // the command's argument text as sent, without surrounding space
	helpCommands    string
}

// NewSession wraps an accepted control connection and sends the 220 greeting
func NewSession(conn net.Conn, cfg SessionConfig) *Session {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	metrics := cfg.Metrics
	if metrics == nil {
		metrics = nopMetrics{}
	}
	id := generateSessionID(conn)
	logger = logger.With("session", id)

	s := &Session{
		id:      id,
		control: NewControlChannel(conn, logger),
		data:    NewDataChannel(cfg.PasvHost, cfg.PasvMinPort, cfg.PasvMaxPort, cfg.AcceptTimeout, logger),
		nav:     filesystem.NewNavigator(cfg.Root),
		auth:    cfg.Auth,
		logger:  logger,
		metrics: metrics,
		mode:    ModeASCII,
	}
	s.data.SetMaxReceive(cfg.MaxUploadSize)
	if s.auth == nil {
		s.auth = users.SharedSecret("")
	}
	s.handlers = handlerMap{
		USER: s.UserCommand,                    // USER is used to specify the username
		PASS: s.PassCommand,                    // PASS is used to specify the password
		QUIT: s.CloseCommand,                   // QUIT is used to terminate the connection
		PASV: s.PassiveModeCommand,             // PASV is used to enter passive mode
		TYPE: s.TypeCommand,                    // TYPE is used to specify ASCII (A) or binary (I) transfers
		PWD:  s.PrintWorkingDirectoryCommand,   // PWD is used to print the current working directory
		CWD:  s.ChangeDirectoryCommand,         // CWD is used to change the working directory
		CDUP: s.ChangeDirectoryToParentCommand, // CDUP is used to change to the parent directory
		LIST: s.ListCommand,                    // LIST is used to list the current directory like $ls -l
		NLST: s.NameListCommand,                // NLST is used to list names only
		RETR: s.RetrieveCommand,                // RETR is used to retrieve a file from the server
		STOR: s.SaveCommand,                    // STOR is used to store a file on the server
		MKD:  s.MakeDirectoryCommand,           // MKD is used to create a directory
		SIZE: s.SizeCommand,                    // SIZE is used to get the size of a file
		SYST: s.SystemCommand,                  // SYST is used to get the system type
		HELP: s.HelpCommand,                    // HELP is used to get help
		NOOP: s.NoopCommand,                    // NOOP is used to keep the connection alive
	}
	helpCommands := make([]string, 0, len(s.handlers))
	for k := range s.handlers {
		helpCommands = append(helpCommands, k)
	}
	sort.Strings(helpCommands)
	s.helpCommands = strings.Join(helpCommands, " ")

	welcome := cfg.WelcomeMessage
	if welcome == "" {
		welcome = DefaultWelcomeMessage
	}
	s.metrics.RecordSession(true)
	s.reply(StatusServiceReadyForNewUser, welcome)
	return s
}

func generateSessionID(conn net.Conn) string {
	return conn.RemoteAddr().String()
}

// Serve reads command lines and dispatches them until the control connection closes.
// Both channels are closed when Serve returns.
func (s *Session) Serve() {
	defer s.metrics.RecordSession(false)
	defer s.close()
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("recovered from panic", "panic", r, "stack", string(debug.Stack()))
		}
	}()

	for !s.control.Closed() {
		line, err := s.control.ReadLine()
		if err != nil {
			s.logger.Debug("control connection ended", "error", err)
			return
		}
		if err := s.handleLine(line); err != nil {
			s.logger.Warn("ending session", "error", err)
			return
		}
	}
}

// handleLine parses one command line and runs its handler
func (s *Session) handleLine(line string) error {
	cmd, rest, _ := strings.Cut(line, " ")
	cmd = strings.ToUpper(cmd)
	args := strings.Fields(rest)
	s.argLine = strings.TrimSpace(rest)

	handler, ok := s.handlers[cmd]
	if !ok {
		return s.UnknownCommand(cmd, args)
	}
	if !s.isAuthenticated && !publicCommands[cmd] {
		s.reply(StatusNotLoggedIn, "Not logged in.")
		s.metrics.RecordCommand(cmd, false, 0)
		return nil
	}

	s.lastCode = 0
	start := time.Now()
	err := handler(cmd, args)
	s.metrics.RecordCommand(cmd, s.lastCode != 0 && s.lastCode < 400, time.Since(start))
	return err
}

// reply sends one reply line, a failed write has already closed the control channel
func (s *Session) reply(code StatusCode, message string) {
	s.lastCode = code
	if err := s.control.Reply(code, message); err != nil {
		s.logger.Debug("error sending reply", "code", code, "error", err)
	}
}

// requireData replies 425 unless a client is connected to the data channel
func (s *Session) requireData() bool {
	if s.data.State() != DataConnected {
		s.reply(StatusCantOpenDataConnection, "Can't open data connection.")
		return false
	}
	return true
}

// transfer sends payload over the data channel with the 150/226 framing and closes the
// data channel afterwards, one transfer per PASV
func (s *Session) transfer(operation string, payload []byte) bool {
	if !s.requireData() {
		return false
	}
	s.reply(StatusFileStatusOK, "Opening data connection.")
	start := time.Now()
	n, err := s.data.Send(payload, s.mode)
	s.data.Close()
	s.metrics.RecordTransfer(operation, n, err == nil, time.Since(start))
	if err != nil {
		s.logger.Warn("transfer aborted", "operation", operation, "error", err)
		s.reply(StatusConnectionClosedTransferAborted, "Connection closed; transfer aborted.")
		return false
	}
	s.logger.Info("transfer complete", "operation", operation, "bytes", n, "mode", s.mode.String())
	s.reply(StatusClosingDataConnection, "Transfer complete.")
	return true
}

// receive reads one upload from the data channel, it sends the 150 and, on failure, the 426 reply.
// The caller sends the 226 once the payload is stored.
func (s *Session) receive(operation string) ([]byte, bool) {
	if !s.requireData() {
		return nil, false
	}
	s.reply(StatusFileStatusOK, "Opening data connection.")
	start := time.Now()
	payload, err := s.data.Receive(s.mode)
	s.data.Close()
	s.metrics.RecordTransfer(operation, int64(len(payload)), err == nil, time.Since(start))
	if errors.Is(err, ErrUploadTooLarge) {
		s.logger.Warn("transfer aborted", "operation", operation, "error", err)
		s.reply(StatusExceededStorageAllocation, "Exceeded storage allocation; transfer aborted.")
		return nil, false
	}
	if err != nil {
		s.logger.Warn("transfer aborted", "operation", operation, "error", err)
		s.reply(StatusConnectionClosedTransferAborted, "Connection closed; transfer aborted.")
		return nil, false
	}
	return payload, true
}

func (s *Session) close() {
	_ = s.control.Close()
	_ = s.data.Close()
}

// Shutdown closes the control connection and aborts a running transfer, which makes Serve return.
// It is safe to call from another goroutine.
func (s *Session) Shutdown() {
	_ = s.control.Close()
	_ = s.data.Close()
}

// ID returns the session id, the client's remote address
func (s *Session) ID() string {
	return s.id
}

// Username returns the name given by the last USER command
func (s *Session) Username() string {
	return s.username
}

// Authenticated reports whether PASS succeeded
func (s *Session) Authenticated() bool {
	return s.isAuthenticated
}

// TransferMode returns the current TYPE
func (s *Session) TransferMode() TransferMode {
	return s.mode
}

// DataState returns the state of the data channel
func (s *Session) DataState() DataState {
	return s.data.State()
}

// WorkingDir returns the current directory as an absolute path
func (s *Session) WorkingDir() string {
	return s.nav.Path()
}

func (s *Session) String() string {
	return fmt.Sprintf("session %s user=%q authed=%t dir=%s", s.id, s.username, s.isAuthenticated, s.nav.Path())
}
