package document

import (
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

var utf16le = unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM)

// UTF16Len is the length of s in UTF-16 code units, the unit LSP columns
// and label offsets are expressed in.
func UTF16Len(s string) int {
	encoded, _, err := transform.String(utf16le.NewEncoder(), s)
	if err != nil {
		return len([]rune(s))
	}
	return len(encoded) / 2
}

// PrefixUTF16 returns the part of line before UTF-16 column col. Columns
// past the end clamp to the whole line; a column splitting a surrogate pair
// keeps the pair out of the prefix.
func PrefixUTF16(line string, col int) string {
	if col <= 0 {
		return ""
	}

	encoded, _, err := transform.String(utf16le.NewEncoder(), line)
	if err != nil {
		return line
	}

	n := col * 2
	if n >= len(encoded) {
		return line
	}
	if isHighSurrogate(encoded[n-2], encoded[n-1]) {
		n -= 2
	}

	prefix, _, err := transform.String(utf16le.NewDecoder(), encoded[:n])
	if err != nil {
		return line
	}
	return prefix
}

// ByteToUTF16 converts a byte offset within line to a UTF-16 column.
func ByteToUTF16(line string, offset int) int {
	if offset <= 0 {
		return 0
	}
	if offset > len(line) {
		offset = len(line)
	}
	return UTF16Len(line[:offset])
}

func isHighSurrogate(lo, hi byte) bool {
	unit := uint16(lo) | uint16(hi)<<8
	return unit >= 0xD800 && unit <= 0xDBFF
}
