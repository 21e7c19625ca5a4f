package bridge

import (
	"encoding/binary"
	"fmt"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/htmlindex"
	xunicode "golang.org/x/text/encoding/unicode"
)

// Encoding identifies the code unit width and character set of a Text.
type Encoding int

const (
	UTF8 Encoding = iota
	Latin1
	UTF16LE
)

func (e Encoding) String() string {
	switch e {
	case UTF8:
		return "utf-8"
	case Latin1:
		return "latin1"
	case UTF16LE:
		return "utf-16le"
	default:
		return fmt.Sprintf("encoding(%d)", int(e))
	}
}

// Text is text in a producer's native representation: raw code units plus
// the encoding needed to interpret them. Embedded NUL units are content.
type Text struct {
	Encoding Encoding
	Units    []byte
}

// OneByte wraps Latin-1 code units.
func OneByte(units []byte) Text {
	return Text{Encoding: Latin1, Units: units}
}

// TwoByte wraps UTF-16 code units.
func TwoByte(units []uint16) Text {
	b := make([]byte, 2*len(units))
	for i, u := range units {
		binary.LittleEndian.PutUint16(b[2*i:], u)
	}
	return Text{Encoding: UTF16LE, Units: b}
}

// UTF8Text wraps a Go string.
func UTF8Text(s string) Text {
	return Text{Encoding: UTF8, Units: []byte(s)}
}

// Len returns the number of code units.
func (t Text) Len() int {
	if t.Encoding == UTF16LE {
		return len(t.Units) / 2
	}
	return len(t.Units)
}

// String converts the code units to a Go string.
func (t Text) String() (string, error) {
	switch t.Encoding {
	case UTF8:
		if !utf8.Valid(t.Units) {
			return "", fmt.Errorf("decode %s: invalid byte sequence", t.Encoding)
		}
		return string(t.Units), nil
	case Latin1:
		return decodeWith(charmap.ISO8859_1, t)
	case UTF16LE:
		if len(t.Units)%2 != 0 {
			return "", fmt.Errorf("decode %s: odd byte length %d", t.Encoding, len(t.Units))
		}
		return decodeWith(xunicode.UTF16(xunicode.LittleEndian, xunicode.IgnoreBOM), t)
	default:
		return "", fmt.Errorf("decode %s: unsupported encoding", t.Encoding)
	}
}

func decodeWith(enc encoding.Encoding, t Text) (string, error) {
	out, err := enc.NewDecoder().Bytes(t.Units)
	if err != nil {
		return "", fmt.Errorf("decode %s: %w", t.Encoding, err)
	}
	return string(out), nil
}

// DecodeText converts a request body in the named charset to a Go string.
// An empty charset means UTF-8. Labels are resolved the way browsers do, so
// "iso-8859-1" selects windows-1252.
func DecodeText(b []byte, charset string) (string, error) {
	label := strings.ToLower(strings.TrimSpace(charset))
	if label == "" || label == "utf-8" || label == "utf8" {
		if !utf8.Valid(b) {
			return "", fmt.Errorf("decode utf-8: invalid byte sequence")
		}
		return string(b), nil
	}

	enc, err := htmlindex.Get(label)
	if err != nil {
		return "", fmt.Errorf("unknown charset %q: %w", charset, err)
	}
	out, err := enc.NewDecoder().Bytes(b)
	if err != nil {
		return "", fmt.Errorf("decode %s: %w", label, err)
	}
	return string(out), nil
}
