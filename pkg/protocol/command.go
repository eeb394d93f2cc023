package protocol

import (
	"strings"

	"github.com/kballard/go-shellquote"
)

// Verb is the first word of a client command line.
type Verb string

const (
	VerbList     Verb = "list"
	VerbUpload   Verb = "upload"
	VerbDelete   Verb = "delete"
	VerbDownload Verb = "download"
)

// arity is the number of arguments each verb takes.
var arity = map[Verb]int{
	VerbList:     0,
	VerbUpload:   1,
	VerbDelete:   1,
	VerbDownload: 2,
}

// Command is a tokenized client request.
type Command struct {
	Verb Verb
	Args []string
}

// ParseCommand tokenizes a command line with shell-style quoting so that
// filenames and owners may contain spaces.
func ParseCommand(line string) (Command, error) {
	words, err := shellquote.Split(line)
	if err != nil {
		fields := strings.Fields(line)
		if len(fields) > 0 {
			if _, known := arity[Verb(fields[0])]; known {
				return Command{}, &CommandError{Verb: fields[0]}
			}
		}
		return Command{}, &CommandError{}
	}
	if len(words) == 0 {
		return Command{}, &CommandError{}
	}

	verb := Verb(words[0])
	want, known := arity[verb]
	if !known {
		return Command{}, &CommandError{}
	}
	if len(words)-1 != want {
		return Command{}, &CommandError{Verb: string(verb)}
	}

	return Command{Verb: verb, Args: words[1:]}, nil
}

// Quote wraps s in double quotes, escaping the characters the shell treats
// specially inside them.
func Quote(s string) string {
	var b strings.Builder
	b.Grow(len(s) + 2)
	b.WriteByte('"')
	for _, r := range s {
		switch r {
		case '"', '\\', '$', '`':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	b.WriteByte('"')
	return b.String()
}

// FormatCommand builds a command line with every argument quoted.
func FormatCommand(verb Verb, args ...string) string {
	parts := make([]string, 0, len(args)+1)
	parts = append(parts, string(verb))
	for _, a := range args {
		parts = append(parts, Quote(a))
	}
	return strings.Join(parts, " ")
}
