package ftp

import (
	"errors"
	"fmt"
	"strings"

	"github.com/telebroad/vfsftpd/filesystem"
)

// pathArg returns the argument text as the client sent it, inner spaces are part of the path
func (s *Session) pathArg() string {
	return s.argLine
}

// quotePath doubles embedded quotes for 257 replies
func quotePath(path string) string {
	return strings.ReplaceAll(path, `"`, `""`)
}

// UserCommand handles the USER command from the client.
// Any previous login is dropped until PASS succeeds again.
func (s *Session) UserCommand(cmd string, args []string) error {
	if len(args) == 0 {
		s.reply(StatusSyntaxErrorInParameters, "Missing user name argument")
		return nil
	}
	s.username = args[0]
	s.isAuthenticated = false
	s.reply(StatusUserNameOKNeedPassword, "Password required!")
	return nil
}

// PassCommand handles the PASS command from the client.
// A missing argument is checked as an empty password.
func (s *Session) PassCommand(cmd string, args []string) error {
	password := s.pathArg()
	s.isAuthenticated = s.auth.Authenticate(s.username, password)
	s.metrics.RecordAuthentication(s.isAuthenticated)
	if !s.isAuthenticated {
		s.logger.Info("login failed", "username", s.username)
		s.reply(StatusNotLoggedIn, "Incorrect password!")
		return nil
	}
	s.logger.Info("login", "username", s.username)
	s.reply(StatusUserLoggedIn, "Authed")
	return nil
}

// CloseCommand handles the QUIT command, the session ends after the reply
func (s *Session) CloseCommand(cmd string, args []string) error {
	s.reply(StatusServiceClosingControlConnection, "Goodbye!")
	s.close()
	return nil
}

// PassiveModeCommand handles the PASV command from the client.
// It listens on a random port of the range, announces it and waits for the client to connect.
// When no port can be bound nothing is sent, the client times out on its own.
func (s *Session) PassiveModeCommand(cmd string, args []string) error {
	port, err := s.data.Listen()
	if err != nil {
		s.logger.Warn("passive mode aborted", "error", err)
		return nil
	}
	s.reply(StatusEnteringPassiveMode, fmt.Sprintf("Entering Passive Mode (%s)", pasvAddress(s.data.Host(), port)))
	if err := s.data.Accept(); err != nil {
		s.logger.Info("no data connection", "port", port, "error", err)
		return nil
	}
	s.logger.Debug("data connection open", "port", port)
	return nil
}

// TypeCommand handles the TYPE command from the client.
// The two types are ASCII (A) and binary (I), "L 8" is taken as binary.
func (s *Session) TypeCommand(cmd string, args []string) error {
	if len(args) == 0 {
		s.reply(StatusSyntaxErrorInParameters, "Missing type argument")
		return nil
	}
	switch strings.ToUpper(args[0]) {
	case "A":
		s.mode = ModeASCII
	case "I":
		s.mode = ModeBinary
	case "L":
		if len(args) < 2 || args[1] != "8" {
			s.reply(StatusCommandNotImplementedForParam, "Type not supported")
			return nil
		}
		s.mode = ModeBinary
	default:
		s.reply(StatusCommandNotImplementedForParam, "Type not supported")
		return nil
	}
	s.reply(StatusCommandOK, "Type set to "+s.mode.String())
	return nil
}

// PrintWorkingDirectoryCommand handles the PWD command from the client.
func (s *Session) PrintWorkingDirectoryCommand(cmd string, args []string) error {
	s.reply(StatusPathnameCreated, fmt.Sprintf("\"%s\" is the current directory", quotePath(s.nav.Path())))
	return nil
}

// ChangeDirectoryCommand handles the CWD command from the client.
// A failed change leaves the directory unchanged.
func (s *Session) ChangeDirectoryCommand(cmd string, args []string) error {
	if len(args) == 0 {
		s.reply(StatusSyntaxErrorInParameters, "Missing directory argument")
		return nil
	}
	if err := s.nav.ChangePath(s.pathArg()); err != nil {
		s.logger.Debug("change directory failed", "error", err)
		s.reply(StatusFileUnavailable, "Directory not found")
		return nil
	}
	s.reply(StatusFileActionOK, "Directory changed successfully")
	return nil
}

// ChangeDirectoryToParentCommand handles the CDUP command, at the root it stays at the root
func (s *Session) ChangeDirectoryToParentCommand(cmd string, args []string) error {
	s.nav.Parent()
	s.reply(StatusFileActionOK, "Directory changed successfully")
	return nil
}

// listTarget resolves the entries LIST and NLST report.
// Option arguments such as "-la" are ignored, without a path the current directory is listed.
func (s *Session) listTarget() ([]filesystem.Entry, error) {
	path := s.pathArg()
	for strings.HasPrefix(path, "-") {
		_, path, _ = strings.Cut(path, " ")
		path = strings.TrimSpace(path)
	}
	if path == "" {
		return s.nav.Entries()
	}
	entry, err := s.nav.Lookup(path)
	if err != nil {
		return nil, err
	}
	if dir, ok := entry.(filesystem.Directory); ok {
		return dir.Entries()
	}
	return []filesystem.Entry{entry}, nil
}

// ListCommand handles the LIST command, the listing is sent over the data channel like $ls -l
func (s *Session) ListCommand(cmd string, args []string) error {
	entries, err := s.listTarget()
	if err != nil {
		s.logger.Debug("listing failed", "error", err)
		s.reply(StatusFileUnavailable, "Error getting directory listing.")
		return nil
	}
	s.transfer(LIST, []byte(filesystem.List(entries)))
	return nil
}

// NameListCommand handles the NLST command, one name per line
func (s *Session) NameListCommand(cmd string, args []string) error {
	entries, err := s.listTarget()
	if err != nil {
		s.logger.Debug("listing failed", "error", err)
		s.reply(StatusFileUnavailable, "Error getting directory listing.")
		return nil
	}
	s.transfer(NLST, []byte(filesystem.NameList(entries)))
	return nil
}

// RetrieveCommand handles the RETR command from the client.
// The file stays open for the duration of the transfer, readers share a file that is already open.
func (s *Session) RetrieveCommand(cmd string, args []string) error {
	if len(args) == 0 {
		s.reply(StatusSyntaxErrorInParameters, "Missing file name argument")
		return nil
	}
	f, err := s.nav.LookupFile(s.pathArg())
	if err != nil {
		s.logger.Debug("retrieve failed", "error", err)
		s.reply(StatusFileUnavailable, "File not found")
		return nil
	}
	release, err := filesystem.OpenForRead(f)
	if err != nil {
		s.reply(StatusRequestedFileActionNotTaken, "File busy")
		return nil
	}
	defer release()

	payload, err := f.Read()
	if err != nil {
		s.logger.Warn("error reading file", "file", f.Name(), "error", err)
		s.reply(StatusFileUnavailable, "Error reading the file")
		return nil
	}
	s.transfer(RETR, payload)
	return nil
}

// SaveCommand handles the STOR command from the client.
// An existing file is replaced, a missing one is created once the upload arrived,
// so an aborted transfer leaves nothing behind. A file that is open elsewhere is busy.
func (s *Session) SaveCommand(cmd string, args []string) error {
	if len(args) == 0 {
		s.reply(StatusSyntaxErrorInParameters, "Missing file name argument")
		return nil
	}
	dir, name, err := s.nav.LookupParent(s.pathArg())
	if err != nil {
		s.logger.Debug("store failed", "error", err)
		s.reply(StatusFileUnavailable, "Directory not found")
		return nil
	}
	if !s.requireData() {
		return nil
	}

	f, creator, err := s.storeTarget(dir, name)
	if err != nil {
		s.logger.Debug("store failed", "file", name, "error", err)
		s.data.Close()
		s.reply(StatusFileUnavailable, "Error creating the file")
		return nil
	}
	if f != nil {
		if err := f.Open(); err != nil {
			s.data.Close()
			s.reply(StatusRequestedFileActionNotTaken, "File busy")
			return nil
		}
		defer f.Close()
	}

	payload, ok := s.receive(STOR)
	if !ok {
		return nil
	}
	if f == nil {
		if f, err = creator.CreateFile(name); err != nil {
			s.logger.Warn("error creating file", "file", name, "error", err)
			s.reply(StatusFileUnavailable, "Error creating the file")
			return nil
		}
		if err := f.Open(); err != nil {
			s.reply(StatusRequestedFileActionNotTaken, "File busy")
			return nil
		}
		defer f.Close()
	}
	if err := f.Write(payload); err != nil {
		s.logger.Warn("error writing file", "file", name, "error", err)
		s.reply(StatusFileUnavailable, "Error writing to the file")
		return nil
	}
	s.logger.Info("transfer complete", "operation", STOR, "bytes", len(payload), "mode", s.mode.String())
	s.reply(StatusClosingDataConnection, "Transfer complete.")
	return nil
}

// storeTarget returns the existing file called name in dir, or when there is none the
// creator that will add it. Names that can never be created fail right away.
func (s *Session) storeTarget(dir filesystem.Directory, name string) (filesystem.File, filesystem.Creator, error) {
	entry, err := filesystem.Child(dir, name)
	switch {
	case err == nil:
		f, ok := entry.(filesystem.File)
		if !ok {
			return nil, nil, filesystem.ErrNotFile
		}
		return f, nil, nil
	case !errors.Is(err, filesystem.ErrNotFound):
		return nil, nil, err
	}
	if !filesystem.ValidName(name) {
		return nil, nil, filesystem.ErrInvalidName
	}
	creator, ok := dir.(filesystem.Creator)
	if !ok {
		return nil, nil, filesystem.ErrReadOnly
	}
	return nil, creator, nil
}

// MakeDirectoryCommand handles the MKD command from the client.
func (s *Session) MakeDirectoryCommand(cmd string, args []string) error {
	if len(args) == 0 {
		s.reply(StatusSyntaxErrorInParameters, "Missing directory argument")
		return nil
	}
	parent, name, err := s.nav.LookupParent(s.pathArg())
	if err != nil {
		s.reply(StatusFileUnavailable, "Directory not found")
		return nil
	}
	creator, ok := parent.(filesystem.Creator)
	if !ok {
		s.reply(StatusFileUnavailable, "Permission denied")
		return nil
	}
	dir, err := creator.MakeDirectory(name)
	if err != nil {
		s.logger.Debug("make directory failed", "name", name, "error", err)
		s.reply(StatusFileUnavailable, "Error creating directory")
		return nil
	}
	path := filesystem.NewNavigator(dir).Path()
	s.reply(StatusPathnameCreated, fmt.Sprintf("\"%s\" directory created", quotePath(path)))
	return nil
}

// SizeCommand handles the SIZE command from the client.
func (s *Session) SizeCommand(cmd string, args []string) error {
	if len(args) == 0 {
		s.reply(StatusSyntaxErrorInParameters, "Missing file name argument")
		return nil
	}
	f, err := s.nav.LookupFile(s.pathArg())
	if err != nil {
		s.reply(StatusFileUnavailable, "File not found")
		return nil
	}
	s.reply(StatusFileStatus, fmt.Sprintf("%d", f.Size()))
	return nil
}

// SystemCommand returns the system type.
func (s *Session) SystemCommand(cmd string, args []string) error {
	s.reply(StatusNameSystemType, "UNIX Type: L8")
	return nil
}

// HelpCommand handles the HELP command from the client.
func (s *Session) HelpCommand(cmd string, args []string) error {
	s.reply(StatusHelpMessage, "The following commands are recognized: "+s.helpCommands)
	return nil
}

// NoopCommand handles the NOOP command from the client.
// The NOOP command is used to keep the connection alive.
func (s *Session) NoopCommand(cmd string, args []string) error {
	s.reply(StatusCommandOK, "NOOP ok.")
	return nil
}

// UnknownCommand answers verbs that have no handler
func (s *Session) UnknownCommand(cmd string, args []string) error {
	s.logger.Debug("unknown command", "command", cmd)
	s.reply(StatusSyntaxError, "Unrecognized command!")
	s.metrics.RecordCommand("UNKNOWN", false, 0)
	return nil
}
