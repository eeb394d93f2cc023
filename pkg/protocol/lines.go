package protocol

import (
	"bufio"
	"errors"
	"io"
	"strings"
)

// MaxLineLength caps a single control line.
const MaxLineLength = 64 * 1024

// ReadLine reads one '\n'-terminated line and strips the terminator. A final
// unterminated line before EOF is returned as-is; EOF is reported on the
// following call.
func ReadLine(r *bufio.Reader) (string, error) {
	var buf []byte
	for {
		chunk, err := r.ReadSlice('\n')
		buf = append(buf, chunk...)
		if len(buf) > MaxLineLength {
			return "", ErrLineTooLong
		}
		switch {
		case err == nil:
			return strings.TrimRight(string(buf), "\r\n"), nil
		case errors.Is(err, bufio.ErrBufferFull):
			continue
		case errors.Is(err, io.EOF) && len(buf) > 0:
			return strings.TrimRight(string(buf), "\r\n"), nil
		default:
			return "", err
		}
	}
}

// WriteLine writes s followed by '\n' in a single Write call.
func WriteLine(w io.Writer, s string) error {
	_, err := io.WriteString(w, s+"\n")
	return err
}
