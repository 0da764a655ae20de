// Description: FTP package
// This package contains the FTP session engine: the control channel that frames
// command lines and replies, the passive data channel, and the per session
// dispatcher that maps verbs to handlers over a filesystem.Directory tree.
// It also contains the Server that accepts control connections and runs one
// session per connection.

package ftp

// StatusCode is a type for FTP status codes
type StatusCode = int

const (
	// Informational codes (1xx)
	StatusFileStatusOK StatusCode = 150 // File status okay; about to open data connection

	// Success codes (2xx)
	StatusCommandOK                       StatusCode = 200 // Command okay
	StatusFileStatus                      StatusCode = 213 // File status
	StatusHelpMessage                     StatusCode = 214 // Help message
	StatusNameSystemType                  StatusCode = 215 // NAME system type
	StatusServiceReadyForNewUser          StatusCode = 220 // Service ready for new user
	StatusServiceClosingControlConnection StatusCode = 221 // Service closing control connection
	StatusClosingDataConnection           StatusCode = 226 // Closing data connection; requested file action successful
	StatusEnteringPassiveMode             StatusCode = 227 // Entering Passive Mode (h1,h2,h3,h4,p1,p2)
	StatusUserLoggedIn                    StatusCode = 230 // User logged in, proceed
	StatusFileActionOK                    StatusCode = 250 // Requested file action okay, completed
	StatusPathnameCreated                 StatusCode = 257 // "PATHNAME" created

	// Positive Intermediate codes (3xx)
	StatusUserNameOKNeedPassword StatusCode = 331 // User name okay, need password

	// Transient Negative Completion codes (4xx)
	StatusCantOpenDataConnection          StatusCode = 425 // Can't open data connection
	StatusConnectionClosedTransferAborted StatusCode = 426 // Connection closed; transfer aborted
	StatusRequestedFileActionNotTaken     StatusCode = 450 // Requested file action not taken

	// Permanent Negative Completion codes (5xx)
	StatusSyntaxError                   StatusCode = 500 // Syntax error, command unrecognized
	StatusSyntaxErrorInParameters       StatusCode = 501 // Syntax error in parameters or arguments
	StatusCommandNotImplementedForParam StatusCode = 504 // Command not implemented for that parameter
	StatusNotLoggedIn                   StatusCode = 530 // Not logged in
	StatusFileUnavailable               StatusCode = 550 // Requested action not taken; File unavailable
	StatusExceededStorageAllocation     StatusCode = 552 // Requested file action aborted; Exceeded storage allocation
)

var statusText = map[StatusCode]string{
	150: "StatusFileStatusOK",
	200: "StatusCommandOK",
	213: "StatusFileStatus",
	214: "StatusHelpMessage",
	215: "StatusNameSystemType",
	220: "StatusServiceReadyForNewUser",
	221: "StatusServiceClosingControlConnection",
	226: "StatusClosingDataConnection",
	227: "StatusEnteringPassiveMode",
	230: "StatusUserLoggedIn",
	250: "StatusFileActionOK",
	257: "StatusPathnameCreated",
	331: "StatusUserNameOKNeedPassword",
	425: "StatusCantOpenDataConnection",
	426: "StatusConnectionClosedTransferAborted",
	450: "StatusRequestedFileActionNotTaken",
	500: "StatusSyntaxError",
	501: "StatusSyntaxErrorInParameters",
	504: "StatusCommandNotImplementedForParam",
	530: "StatusNotLoggedIn",
	550: "StatusFileUnavailable",
	552: "StatusExceededStorageAllocation",
}

// StatusText returns the constant name of a status code, used as a metrics label
func StatusText(code int) string {
	return statusText[code]
}

type Command = string

const (
	// Authentication and User Commands
	USER Command = "USER" // Send username
	PASS Command = "PASS" // Send password

	// Transfer Parameter Commands
	TYPE Command = "TYPE" // Set data transfer type (ASCII/Binary)
	PASV Command = "PASV" // Enter passive mode

	// FTP Service Commands
	RETR Command = "RETR" // Retrieve a file
	STOR Command = "STOR" // Store a file
	CWD  Command = "CWD"  // Change working directory
	CDUP Command = "CDUP" // Change to parent directory
	MKD  Command = "MKD"  // Make directory

	// Informational Commands
	PWD  Command = "PWD"  // Print working directory
	LIST Command = "LIST" // List directory contents
	NLST Command = "NLST" // Get concise list of filenames
	SIZE Command = "SIZE" // Get the size of a file
	SYST Command = "SYST" // Get operating system type
	HELP Command = "HELP" // Get help

	// Miscellaneous
	NOOP Command = "NOOP" // No operation (often used to keep connections alive)
	QUIT Command = "QUIT" // Disconnect from the server
)

// TransferMode is the payload framing used on the data channel
type TransferMode int

const (
	// ModeASCII appends CRLF to outgoing payloads (TYPE A)
	ModeASCII TransferMode = iota
	// ModeBinary sends payloads verbatim (TYPE I)
	ModeBinary
)

func (m TransferMode) String() string {
	switch m {
	case ModeASCII:
		return "ASCII"
	case ModeBinary:
		return "Binary"
	}
	return "Unknown"
}

const crlf = "\r\n"
