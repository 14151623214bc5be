package helpers

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// SanitizeUTF8 removes invalid UTF-8 sequences and NULL bytes from a string.
// XML 1.0 cannot carry NULL bytes, so anything that ends up in a feed
// document goes through here first.
func SanitizeUTF8(s string) string {
	// Quick check: if string is valid UTF-8 and has no NULL bytes, return as-is
	if utf8.ValidString(s) && !strings.ContainsRune(s, '\x00') {
		return s
	}

	buf := make([]rune, 0, len(s))
	for i, r := range s {
		if r == '\x00' {
			continue
		}

		if r == utf8.RuneError {
			_, size := utf8.DecodeRuneInString(s[i:])
			if size == 1 {
				continue // skip invalid byte
			}
		}

		buf = append(buf, r)
	}
	return string(buf)
}

func isFieldTrimRune(r rune) bool {
	switch r {
	case '<', '>', '&', '\'', '"':
		return true
	}
	return unicode.IsSpace(r)
}

// SanitizeField strips angle brackets, ampersands, quotes and whitespace
// from both ends of a header value, e.g. "<https://x.test/p/1>" becomes
// "https://x.test/p/1" and "<id@host>" becomes "id@host".
func SanitizeField(field string) string {
	return strings.TrimFunc(field, isFieldTrimRune)
}

// SanitizeID turns an arbitrary value into an identifier component that is
// safe in URNs and storage keys: SanitizeField, then every rune outside
// [A-Za-z0-9] becomes "-".
func SanitizeID(field string) string {
	field = SanitizeField(field)
	var b strings.Builder
	b.Grow(len(field))
	for _, r := range field {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		} else {
			b.WriteByte('-')
		}
	}
	return b.String()
}

// SanitizeXMLText removes runes that XML 1.0 cannot represent at all (most
// C0 control characters, surrogates, U+FFFE/U+FFFF) along with invalid UTF-8.
// A document containing them would be rejected when it is read back.
func SanitizeXMLText(s string) string {
	s = SanitizeUTF8(s)
	if strings.IndexFunc(s, func(r rune) bool { return !isXMLChar(r) }) == -1 {
		return s
	}
	return strings.Map(func(r rune) rune {
		if isXMLChar(r) {
			return r
		}
		return -1
	}, s)
}

func isXMLChar(r rune) bool {
	return r == 0x09 || r == 0x0A || r == 0x0D ||
		(r >= 0x20 && r <= 0xD7FF) ||
		(r >= 0xE000 && r <= 0xFFFD) ||
		(r >= 0x10000 && r <= 0x10FFFF)
}
