package views

import "strings"

// sanitizeForTerminal drops codepoints tcell renders as stray cells: skin
// tone modifiers, zero width joiners, variation selectors and C0 controls
// other than newline and tab.
func sanitizeForTerminal(s string) string {
	return strings.Map(func(r rune) rune {
		if dropRune(r) {
			return -1
		}
		return r
	}, s)
}

func dropRune(r rune) bool {
	switch {
	case r >= 0x1F3FB && r <= 0x1F3FF:
		return true
	case r == 0x200D:
		return true
	case r >= 0xFE00 && r <= 0xFE0F:
		return true
	case r >= 0xE0100 && r <= 0xE01EF:
		return true
	case r < 0x20 && r != '\n' && r != '\t':
		return true
	default:
		return false
	}
}
