package types

import (
	"time"
)

// Username identifies a connected client. Claimed first-come on connect.
type Username string

// FileKey is the composite storage key: owner, separator, original filename.
type FileKey string

// SessionState tracks where a connection is in its lifecycle.
type SessionState int32

const (
	StateUnauthenticated SessionState = iota
	StateActive
	StateClosing
	StateClosed
)

func (s SessionState) String() string {
	switch s {
	case StateUnauthenticated:
		return "unauthenticated"
	case StateActive:
		return "active"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// FileEntry is one listed file: the display name with the owner prefix
// stripped, plus its owner.
type FileEntry struct {
	Name  string
	Owner Username
}

// StoredFile describes a file on the storage backend.
type StoredFile struct {
	Key      FileKey
	Name     string
	Owner    Username
	Size     int64
	Modified time.Time
}

// Entry returns the listing view of a stored file.
func (f StoredFile) Entry() FileEntry {
	return FileEntry{Name: f.Name, Owner: f.Owner}
}
