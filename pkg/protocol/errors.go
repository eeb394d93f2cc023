package protocol

import (
	"errors"
	"fmt"
	"strings"
)

// Error taxonomy shared by the server and the client library.
var (
	ErrUsernameTaken         = errors.New("username already taken")
	ErrInvalidUsername       = errors.New("invalid username")
	ErrInvalidCommand        = errors.New("invalid command")
	ErrInvalidFilename       = errors.New("invalid filename")
	ErrInvalidFileSize       = errors.New("invalid file size")
	ErrFileTooLarge          = fmt.Errorf("%w: exceeds maximum upload size", ErrInvalidFileSize)
	ErrConnectionInterrupted = errors.New("connection interrupted during transfer")
	ErrFileNotFound          = errors.New("file not found")
	ErrPermissionDenied      = errors.New("file not found or insufficient permissions")
	ErrTransferCancelled     = errors.New("transfer cancelled")
	ErrBind                  = errors.New("failed to bind listener")
	ErrServerClosed          = errors.New("server closed")
	ErrLineTooLong           = errors.New("line exceeds maximum length")
)

// CommandError reports a malformed command. Verb is empty when the command
// word itself was not recognised.
type CommandError struct {
	Verb string
}

func (e *CommandError) Error() string {
	if e.Verb == "" {
		return ErrInvalidCommand.Error()
	}
	return fmt.Sprintf("invalid %s command format", e.Verb)
}

func (e *CommandError) Unwrap() error { return ErrInvalidCommand }

// errorLines is ordered so wrapped errors match their most specific line
// first.
var errorLines = []struct {
	err  error
	line string
}{
	{ErrUsernameTaken, "Error: Username already taken!"},
	{ErrInvalidUsername, "Error: Invalid username."},
	{ErrInvalidFilename, "Error: Invalid filename."},
	{ErrFileTooLarge, "Error: File exceeds maximum upload size."},
	{ErrInvalidFileSize, "Error: Invalid file size."},
	{ErrConnectionInterrupted, "Error: Connection lost during file upload."},
	{ErrFileNotFound, "Error: File not found."},
	{ErrPermissionDenied, "Error: File not found or insufficient permissions."},
	{ErrTransferCancelled, "Error: Transfer cancelled."},
	{ErrLineTooLong, "Error: Line too long."},
}

const genericErrorLine = "Error: Operation failed."

// ErrorLine maps an error onto the single wire line that reports it.
func ErrorLine(err error) string {
	var cmdErr *CommandError
	if errors.As(err, &cmdErr) {
		if cmdErr.Verb == "" {
			return "Error: Invalid command!"
		}
		return fmt.Sprintf("Error: Invalid %s command format.", cmdErr.Verb)
	}
	for _, el := range errorLines {
		if errors.Is(err, el.err) {
			return el.line
		}
	}
	return genericErrorLine
}

// ServerError carries an error line that has no matching sentinel.
type ServerError struct {
	Message string
}

func (e *ServerError) Error() string {
	return "server error: " + e.Message
}

// ErrorFromLine converts an error line received from the server back into
// the matching sentinel so callers can use errors.Is.
func ErrorFromLine(line string) error {
	for _, el := range errorLines {
		if line == el.line {
			return el.err
		}
	}
	if line == "Error: Invalid command!" {
		return &CommandError{}
	}
	if rest, ok := strings.CutPrefix(line, "Error: Invalid "); ok {
		if verb, ok := strings.CutSuffix(rest, " command format."); ok {
			return &CommandError{Verb: verb}
		}
	}
	return &ServerError{Message: strings.TrimPrefix(line, ErrorPrefix)}
}
