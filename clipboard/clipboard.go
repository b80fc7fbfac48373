package clipboard

import (
	"errors"
	"strings"

	cb "github.com/atotto/clipboard"
)

var ErrUnsupported = errors.New("clipboard: no clipboard utility available")

// Line is one speaker-tagged transcript line.
type Line interface {
	String() string
}

func Copy(text string) error {
	if cb.Unsupported {
		return ErrUnsupported
	}
	return cb.WriteAll(text)
}

func Read() (string, error) {
	if cb.Unsupported {
		return "", ErrUnsupported
	}
	return cb.ReadAll()
}

// Format joins transcript lines, one per row.
func Format[L Line](lines []L) string {
	var b strings.Builder
	for _, l := range lines {
		b.WriteString(l.String())
		b.WriteByte('\n')
	}
	return b.String()
}

// CopyTranscript puts the formatted transcript on the system clipboard.
// An empty transcript leaves the clipboard untouched.
func CopyTranscript[L Line](lines []L) error {
	if len(lines) == 0 {
		return nil
	}
	return Copy(Format(lines))
}
