// Package protocol defines the line-oriented wire format spoken between the
// fileshare server and its clients.
//
// Every control message is a single UTF-8 line terminated by '\n'. File
// payloads travel as raw bytes whose length is announced on the preceding
// line. Lines starting with NotificationPrefix and the DisconnectToken line are
// asynchronous and may arrive between any two request/response exchanges.
package protocol

import (
	"fmt"
	"strconv"
	"strings"

	"fileshare/pkg/types"
)

const (
	UsernamePrompt  = "Enter your username:"
	SizePrompt      = "Send file size:"
	ReadyToken      = "Ready"
	UploadSuccess   = "File received successfully."
	DownloadSuccess = "File sent successfully."
	DeleteSuccess   = "File deleted successfully."
	NoFiles         = "No files available."

	FilesHeaderPrefix  = "Files: "
	ErrorPrefix        = "Error: "
	NotificationPrefix = "NOTIFICATION: "
	DisconnectToken    = "DISCONNECT"

	welcomeFormat      = "Welcome to the server, %s!"
	notificationFormat = "Your file '%s' was downloaded by %s."
	ownerMarker        = " (Owner: "
)

// WelcomeLine is sent once the username claim succeeds.
func WelcomeLine(username types.Username) string {
	return fmt.Sprintf(welcomeFormat, username)
}

// IsWelcome reports whether line is a welcome line.
func IsWelcome(line string) bool {
	return strings.HasPrefix(line, "Welcome to the server")
}

// IsAsync reports whether a line is an out-of-band server push rather than a
// response to the current request.
func IsAsync(line string) bool {
	return strings.HasPrefix(line, NotificationPrefix) || line == DisconnectToken
}

// IsError reports whether line carries an error response.
func IsError(line string) bool {
	return strings.HasPrefix(line, ErrorPrefix)
}

// Notification is pushed to a file owner after another user downloads it.
type Notification struct {
	File      string
	Requester types.Username
}

// Line renders the notification as a wire line.
func (n Notification) Line() string {
	return NotificationPrefix + fmt.Sprintf(notificationFormat, n.File, n.Requester)
}

// ParseNotification decodes a notification line. The requester is matched
// from the right so filenames containing quotes still round-trip.
func ParseNotification(line string) (Notification, bool) {
	body, ok := strings.CutPrefix(line, NotificationPrefix)
	if !ok {
		return Notification{}, false
	}
	body, ok = strings.CutPrefix(body, "Your file '")
	if !ok {
		return Notification{}, false
	}
	body, ok = strings.CutSuffix(body, ".")
	if !ok {
		return Notification{}, false
	}
	idx := strings.LastIndex(body, "' was downloaded by ")
	if idx < 0 {
		return Notification{}, false
	}
	return Notification{
		File:      body[:idx],
		Requester: types.Username(body[idx+len("' was downloaded by "):]),
	}, true
}

// FilesHeader announces how many listing lines follow.
func FilesHeader(count int) string {
	return FilesHeaderPrefix + strconv.Itoa(count)
}

// ParseFilesHeader returns the entry count announced by a listing header.
func ParseFilesHeader(line string) (int, bool) {
	rest, ok := strings.CutPrefix(line, FilesHeaderPrefix)
	if !ok {
		return 0, false
	}
	n, err := strconv.Atoi(rest)
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}

// ListLine renders one listing entry as "<name> (Owner: <owner>)".
func ListLine(e types.FileEntry) string {
	return e.Name + ownerMarker + string(e.Owner) + ")"
}

// ParseListLine is the inverse of ListLine.
func ParseListLine(line string) (types.FileEntry, bool) {
	body, ok := strings.CutSuffix(line, ")")
	if !ok {
		return types.FileEntry{}, false
	}
	idx := strings.LastIndex(body, ownerMarker)
	if idx < 0 {
		return types.FileEntry{}, false
	}
	return types.FileEntry{
		Name:  body[:idx],
		Owner: types.Username(body[idx+len(ownerMarker):]),
	}, true
}

// FormatSize renders a byte count for the size handshake.
func FormatSize(size int64) string {
	return strconv.FormatInt(size, 10)
}

// ParseSize parses a decimal byte count from the size handshake.
func ParseSize(line string) (int64, error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return 0, ErrInvalidFileSize
	}
	for _, r := range line {
		if r < '0' || r > '9' {
			return 0, ErrInvalidFileSize
		}
	}
	n, err := strconv.ParseInt(line, 10, 64)
	if err != nil {
		return 0, ErrInvalidFileSize
	}
	return n, nil
}
