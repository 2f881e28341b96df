package helpers

import "unicode/utf8"

const hexChars = "0123456789ABCDEF"
const firstASCII = 0x20
const lastASCII = 0x7E

func canPrintWithoutEscape(c rune, quoteChar byte) bool {
	if c <= lastASCII {
		return c >= firstASCII && c != '\\' && c != rune(quoteChar)
	}
	return c != '\uFEFF' && c != '\u2028' && c != '\u2029' && c != utf8.RuneError
}

// Returns a JavaScript string literal for "text" using double quotes. The
// result is also valid JSON.
func QuoteForJSON(text string) string {
	return Quote(text, '"')
}

// Returns a JavaScript string literal for "text" using the given quote
// character, which must be either a single or a double quote.
func Quote(text string, quoteChar byte) string {
	bytes := make([]byte, 0, len(text)+2)
	bytes = append(bytes, quoteChar)

	for i := 0; i < len(text); {
		c, width := utf8.DecodeRuneInString(text[i:])

		// Fast path: a run of characters that don't need escaping
		if canPrintWithoutEscape(c, quoteChar) {
			start := i
			i += width
			for i < len(text) {
				c, width = utf8.DecodeRuneInString(text[i:])
				if !canPrintWithoutEscape(c, quoteChar) {
					break
				}
				i += width
			}
			bytes = append(bytes, text[start:i]...)
			continue
		}

		i += width
		switch c {
		case '\b':
			bytes = append(bytes, "\\b"...)
		case '\f':
			bytes = append(bytes, "\\f"...)
		case '\n':
			bytes = append(bytes, "\\n"...)
		case '\r':
			bytes = append(bytes, "\\r"...)
		case '\t':
			bytes = append(bytes, "\\t"...)
		case '\\':
			bytes = append(bytes, "\\\\"...)
		case rune(quoteChar):
			bytes = append(bytes, '\\', quoteChar)
		default:
			if c == utf8.RuneError && width == 1 {
				c = 0xFFFD
			}
			if c > 0xFFFF {
				c -= 0x10000
				lo := 0xD800 + ((c >> 10) & 0x3FF)
				hi := 0xDC00 + (c & 0x3FF)
				bytes = appendEscape(bytes, lo)
				bytes = appendEscape(bytes, hi)
			} else {
				bytes = appendEscape(bytes, c)
			}
		}
	}

	return string(append(bytes, quoteChar))
}

func appendEscape(bytes []byte, c rune) []byte {
	return append(bytes, '\\', 'u', hexChars[c>>12], hexChars[(c>>8)&15], hexChars[(c>>4)&15], hexChars[c&15])
}
