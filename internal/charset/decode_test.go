package charset

import (
	"io"
	"strings"
	"testing"
)

func decodeAll(t *testing.T, input, charset string) string {
	t.Helper()
	decoded, err := DecodeReader(strings.NewReader(input), charset)
	if err != nil {
		t.Fatalf("DecodeReader failed for charset %q: %v", charset, err)
	}
	result, err := io.ReadAll(decoded)
	if err != nil {
		t.Fatalf("ReadAll failed: %v", err)
	}
	return string(result)
}

func TestDecodeReader_UTF8(t *testing.T) {
	input := "Hello, 世界! Привет мир!"
	if got := decodeAll(t, input, "utf-8"); got != input {
		t.Errorf("got %q, want %q", got, input)
	}
}

func TestDecodeReader_ISO88591(t *testing.T) {
	// ISO-8859-1: é = 0xE9, ñ = 0xF1
	input := string([]byte{0xE9, 0xF1})
	if got := decodeAll(t, input, "iso-8859-1"); got != "éñ" {
		t.Errorf("got %q (%x), want %q", got, got, "éñ")
	}
}

func TestDecodeReader_Windows1252(t *testing.T) {
	// Windows-1252: € = 0x80
	input := string([]byte{0x80})
	if got := decodeAll(t, input, "windows-1252"); got != "€" {
		t.Errorf("got %q (%x), want %q", got, got, "€")
	}
}

func TestDecodeReader_UnknownCharsetPassesThrough(t *testing.T) {
	input := "Hello, World!"
	if got := decodeAll(t, input, "unknown-charset-xyz"); got != input {
		t.Errorf("got %q, want %q", got, input)
	}
}

func TestDecodeReader_EmptyCharsetDefaultsToUSASCII(t *testing.T) {
	input := "Hello, World!"
	if got := decodeAll(t, input, ""); got != input {
		t.Errorf("got %q, want %q", got, input)
	}
}

func TestDecodeReader_CaseInsensitive(t *testing.T) {
	input := "Hello"
	for _, charset := range []string{"UTF-8", "utf-8", "Utf-8", "UTF8"} {
		t.Run(charset, func(t *testing.T) {
			if got := decodeAll(t, input, charset); got != input {
				t.Errorf("got %q, want %q", got, input)
			}
		})
	}
}

func TestDecodeReader_InvalidUTF8FallsBackToLatin1(t *testing.T) {
	// Continuation bytes without a lead byte are invalid UTF-8; the
	// Latin-1 fallback turns each input byte into one rune.
	input := string([]byte{0x80, 0x81, 0x82})
	got := decodeAll(t, input, "utf-8")
	if len(got) == 0 {
		t.Fatal("result should not be empty")
	}
	runeCount := 0
	for range got {
		runeCount++
	}
	if runeCount != len(input) {
		t.Errorf("rune count = %d, want %d", runeCount, len(input))
	}
}

func TestDecodeReader_EmptyInput(t *testing.T) {
	if got := decodeAll(t, "", "utf-8"); got != "" {
		t.Errorf("got %q, want empty string", got)
	}
}

func TestDecodeReader_Aliases(t *testing.T) {
	testCases := []struct {
		charset  string
		input    string
		expected string
	}{
		{"latin1", string([]byte{0xE9}), "é"},
		{"ascii", "Hello", "Hello"},
	}

	for _, tc := range testCases {
		t.Run(tc.charset, func(t *testing.T) {
			if got := decodeAll(t, tc.input, tc.charset); got != tc.expected {
				t.Errorf("got %q, want %q", got, tc.expected)
			}
		})
	}
}
