package message

import (
	"strings"
	"unicode/utf8"
)

// PreviewCapture captures the first ~maxBytes characters (runes) of text content for email preview generation.
// It implements io.Writer so it can be used with io.TeeReader or io.MultiWriter.
type PreviewCapture struct {
	maxBytes int
	buf      []byte
	full     bool
}

// NewPreviewCapture creates a PreviewCapture that captures up to maxBytes characters of input.
func NewPreviewCapture(maxBytes int) *PreviewCapture {
	return &PreviewCapture{maxBytes: maxBytes}
}

// Write implements io.Writer. It always returns len(p), nil to satisfy the
// io.Writer contract, even when discarding data after the buffer is full.
func (pc *PreviewCapture) Write(p []byte) (int, error) {
	n := utf8.RuneCount(pc.buf)
	if n >= pc.maxBytes {
		pc.full = true
		return len(p), nil
	}
	for i := 0; i < len(p); {
		if n >= pc.maxBytes {
			pc.full = true
			break
		}
		_, size := utf8.DecodeRune(p[i:])
		pc.buf = append(pc.buf, p[i:i+size]...)
		i += size
		n++
	}
	return len(p), nil
}

// Full returns true if the capture buffer has reached its maximum size.
func (pc *PreviewCapture) Full() bool {
	return pc.full
}

// Preview returns the captured text, cleaned up for use as an email preview:
// - \r\n and \n replaced with spaces
// - multiple spaces collapsed
// - truncated at word boundary with "…" suffix if over maxBytes characters
func (pc *PreviewCapture) Preview() string {
	text := string(pc.buf)

	text = strings.TrimSpace(text)
	text = strings.ReplaceAll(text, "\r\n", " ")
	text = strings.ReplaceAll(text, "\n", " ")

	for strings.Contains(text, "  ") {
		text = strings.ReplaceAll(text, "  ", " ")
	}

	if pc.full || utf8.RuneCountInString(text) > pc.maxBytes {
		if r := []rune(text); len(r) > pc.maxBytes {
			text = string(r[:pc.maxBytes])
		}
		if lastSpace := strings.LastIndex(text, " "); lastSpace > len(text)-50 {
			text = text[:lastSpace]
		}
		text += "…"
	}

	return text
}
