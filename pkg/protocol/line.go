package protocol

import (
	"bufio"
	"io"
	"strings"
)

// MaxLineSize caps a single command or chat line on the wire.
const MaxLineSize = 4096

// NewLineScanner wraps a connection in a scanner that yields one trimmed
// line per Scan, bounded by MaxLineSize.
func NewLineScanner(r io.Reader) *bufio.Scanner {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 256), MaxLineSize)
	return sc
}

// WriteLine writes one line, appending the newline delimiter.
func WriteLine(w io.Writer, line string) error {
	_, err := io.WriteString(w, line+"\n")
	return err
}

// TrimLine strips the trailing newline and surrounding whitespace from a
// received line.
func TrimLine(line string) string {
	return strings.TrimSpace(line)
}
