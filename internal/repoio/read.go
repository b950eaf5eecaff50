package repoio

import (
	"bytes"
	"fmt"
	"os"
	"path"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"

	"github.com/dshills/repoqa/pkg/types"
)

// DefaultMaxBytes is the read_text_file size cap.
const DefaultMaxBytes = 1_500_000

const (
	sniffBytes      = 8192
	maxNonPrintable = 0.30
	utf8BOM         = "\xef\xbb\xbf"
)

// legacyDecoders are tried in order after UTF-8 and UTF-8 with BOM.
var legacyDecoders = []struct {
	name string
	enc  encoding.Encoding
}{
	{"latin-1", charmap.ISO8859_1},
	{"cp1252", charmap.Windows1252},
}

// ReadTextFile reads root/rel as text. It fails with ErrTooLarge above
// maxBytes (DefaultMaxBytes when maxBytes <= 0), ErrBinaryFile for binary
// content and ErrDecode when no supported encoding applies.
func ReadTextFile(root, rel string, maxBytes int64) (string, error) {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	abs, err := Resolve(root, rel)
	if err != nil {
		return "", err
	}
	if BinaryExtensions[strings.ToLower(path.Ext(rel))] {
		return "", fmt.Errorf("%w: %s", types.ErrBinaryFile, rel)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return "", fmt.Errorf("stat %s: %w", rel, err)
	}
	if info.IsDir() {
		return "", fmt.Errorf("%s is a directory", rel)
	}
	if info.Size() > maxBytes {
		return "", fmt.Errorf("%w: %s is %d bytes (limit %d)", types.ErrTooLarge, rel, info.Size(), maxBytes)
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", rel, err)
	}
	if LooksBinary(data) {
		return "", fmt.Errorf("%w: %s", types.ErrBinaryFile, rel)
	}
	text, err := Decode(data)
	if err != nil {
		return "", fmt.Errorf("%s: %w", rel, err)
	}
	return text, nil
}

// LooksBinary sniffs the head of data for NUL bytes or a high share of
// non-printable control characters.
func LooksBinary(data []byte) bool {
	head := data
	if len(head) > sniffBytes {
		head = head[:sniffBytes]
	}
	if len(head) == 0 {
		return false
	}
	if bytes.IndexByte(head, 0) >= 0 {
		return true
	}
	control := 0
	for _, b := range head {
		switch {
		case b == '\n', b == '\r', b == '\t', b == '\f', b == '\b':
		case b < 0x20, b == 0x7f:
			control++
		}
	}
	return float64(control)/float64(len(head)) > maxNonPrintable
}

// Decode converts data to a string, trying UTF-8, UTF-8 with BOM,
// latin-1 and cp1252 in that order.
func Decode(data []byte) (string, error) {
	if utf8.Valid(data) {
		// A leading BOM is valid UTF-8; drop it.
		return strings.TrimPrefix(string(data), utf8BOM), nil
	}
	for _, d := range legacyDecoders {
		out, err := d.enc.NewDecoder().Bytes(data)
		if err == nil {
			return string(out), nil
		}
	}
	return "", types.ErrDecode
}
