package protocol

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"fileshare/pkg/types"
)

const (
	// MaxUsernameLength bounds claimed usernames.
	MaxUsernameLength = 32
	// MaxFilenameLength bounds the original filename, leaving room for the
	// owner prefix within common filesystem name limits.
	MaxFilenameLength = 200
)

// Usernames never contain the composite key separator, which is what keeps
// "{owner}_{filename}" unambiguous.
var usernamePattern = regexp.MustCompile(`^[A-Za-z0-9-][A-Za-z0-9.-]*$`)

// ValidateUsername checks a username before it is claimed.
func ValidateUsername(name string) (types.Username, error) {
	if name == "" || len(name) > MaxUsernameLength || !usernamePattern.MatchString(name) {
		return "", fmt.Errorf("%w: %q", ErrInvalidUsername, name)
	}
	return types.Username(name), nil
}

// ValidateFilename checks a client-supplied filename before it becomes part
// of a storage key.
func ValidateFilename(name string) error {
	switch {
	case name == "", name == ".", name == "..":
		return fmt.Errorf("%w: %q", ErrInvalidFilename, name)
	case len(name) > MaxFilenameLength:
		return fmt.Errorf("%w: longer than %d bytes", ErrInvalidFilename, MaxFilenameLength)
	case !utf8.ValidString(name):
		return fmt.Errorf("%w: not valid UTF-8", ErrInvalidFilename)
	case strings.ContainsAny(name, "/\\"):
		return fmt.Errorf("%w: %q contains a path separator", ErrInvalidFilename, name)
	}
	for _, r := range name {
		if unicode.IsControl(r) {
			return fmt.Errorf("%w: %q contains a control character", ErrInvalidFilename, name)
		}
	}
	return nil
}
