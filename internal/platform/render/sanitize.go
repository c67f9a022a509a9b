package render

import (
	"strings"
	"unicode"
)

// Sanitize removes symbolic and pictographic code points (emoji, dingbats,
// decorative marks) that the document encoding cannot carry. Letters are
// always preserved, accented or not; stripping must never mangle clinical
// text written in Spanish.
func Sanitize(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if isPictographic(r) {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func isPictographic(r rune) bool {
	switch {
	case r >= 0x1F000 && r <= 0x1FAFF: // emoji, symbols and pictographs
		return true
	case r >= 0x2600 && r <= 0x27BF: // miscellaneous symbols, dingbats
		return true
	case r >= 0xFE00 && r <= 0xFE0F: // variation selectors
		return true
	case r == 0x200D: // zero-width joiner
		return true
	case unicode.Is(unicode.So, r): // remaining symbols-other
		return true
	}
	return false
}
