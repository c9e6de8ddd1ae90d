// Package charset decodes non-UTF8 body parts of a parsed message into
// UTF-8 per their declared MIME charset parameter.
package charset

import (
	"bytes"
	"io"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/ianaindex"
	"golang.org/x/text/transform"
)

// DecodeReader wraps a reader with charset decoding. An empty charset
// defaults to us-ascii; an unknown charset passes the bytes through
// unchanged; content declared UTF-8/ASCII that fails validation falls
// back to a Latin-1 decode so every byte still yields a rune.
func DecodeReader(r io.Reader, charset string) (io.Reader, error) {
	if charset == "" {
		charset = "us-ascii"
	}
	charset = strings.ToLower(strings.TrimSpace(charset))

	if charset == "utf-8" || charset == "utf8" || charset == "ascii" || charset == "us-ascii" {
		return decodeUTF8WithValidation(r)
	}

	enc, err := lookupEncoding(charset)
	if err != nil {
		// Unknown charset - pass the content through as-is.
		content, readErr := io.ReadAll(r)
		if readErr != nil {
			return nil, readErr
		}
		return bytes.NewReader(content), nil
	}
	if enc == nil {
		return r, nil
	}

	return transform.NewReader(r, enc.NewDecoder()), nil
}

// lookupEncoding finds the encoding for a charset name.
func lookupEncoding(charset string) (encoding.Encoding, error) {
	// Handle common aliases that may not be in IANA index
	switch charset {
	case "latin1", "latin-1":
		return charmap.ISO8859_1, nil
	}

	enc, err := ianaindex.IANA.Encoding(charset)
	if err != nil {
		return nil, err
	}
	if enc == nil {
		// Some charsets return nil encoding (like UTF-8)
		return nil, nil
	}
	return enc, nil
}

// decodeUTF8WithValidation reads UTF-8 content and validates it.
// If invalid bytes are found, falls back to Latin-1.
func decodeUTF8WithValidation(r io.Reader) (io.Reader, error) {
	content, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}

	if utf8.Valid(content) {
		return bytes.NewReader(content), nil
	}

	decoder := charmap.ISO8859_1.NewDecoder()
	decoded, _, err := transform.Bytes(decoder, content)
	if err != nil {
		// Should not happen for Latin-1, but pass through if it does
		return bytes.NewReader(content), nil
	}
	return bytes.NewReader(decoded), nil
}
