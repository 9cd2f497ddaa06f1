package parser

import (
	"bytes"
	"errors"
	"fmt"
	"strings"

	"github.com/h2non/filetype"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

var (
	ErrBinaryContent = errors.New("binary content")
	ErrUndecodable   = errors.New("content could not be decoded")
)

// filetype needs at most 261 bytes to recognise any of its signatures.
const sniffLen = 261

var newlineReplacer = strings.NewReplacer("\r\n", "\n", "\r", "\n", "\x00", "")

// Decode turns raw dump bytes into text. UTF-8 and UTF-16 (with BOM) are
// supported; invalid sequences are replaced with U+FFFD rather than failing.
// Content carrying a known binary signature (archives, images, executables)
// is refused with ErrBinaryContent.
func Decode(raw []byte) (string, error) {
	if len(raw) == 0 {
		return "", nil
	}
	if !hasBOM(raw) {
		head := raw
		if len(head) > sniffLen {
			head = head[:sniffLen]
		}
		if kind, err := filetype.Match(head); err == nil && kind != filetype.Unknown {
			return "", fmt.Errorf("%w: %s", ErrBinaryContent, kind.MIME.Value)
		}
	}

	decoder := unicode.BOMOverride(unicode.UTF8.NewDecoder())
	decoded, _, err := transform.Bytes(decoder, raw)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUndecodable, err)
	}
	return newlineReplacer.Replace(string(decoded)), nil
}

func hasBOM(raw []byte) bool {
	switch {
	case bytes.HasPrefix(raw, []byte{0xEF, 0xBB, 0xBF}):
		return true
	case bytes.HasPrefix(raw, []byte{0xFF, 0xFE}), bytes.HasPrefix(raw, []byte{0xFE, 0xFF}):
		return true
	}
	return false
}
