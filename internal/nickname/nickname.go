// Package nickname validates IRC nicknames and derives valid ones from
// arbitrary IM names.
package nickname

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// MaxLength is the longest nickname we accept or generate.
const MaxLength = 29

const (
	lowerChars = "0123456789abcdefghijklmnopqrstuvwxyz{}^`-_|"
	upperChars = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ[]~`-_\\"
)

// Canonicalize converts the given nick to its canonical representation
// (which must be unique).
//
// Note: We don't check validity or strip whitespace.
func Canonicalize(n string) string {
	return strings.ToLower(n)
}

func isNickChar(c rune) bool {
	return strings.ContainsRune(lowerChars, c) || strings.ContainsRune(upperChars, c)
}

// IsValid checks if a nickname is valid.
func IsValid(n string) bool {
	if len(n) == 0 || len(n) > MaxLength {
		return false
	}

	for i, c := range n {
		if !isNickChar(c) {
			return false
		}
		// No digits or dash in first position.
		if i == 0 && ((c >= '0' && c <= '9') || c == '-') {
			return false
		}
	}

	return true
}

// Transliterate strips diacritics so that e.g. "Rémi" becomes "Remi".
func Transliterate(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		return s
	}
	return out
}

// Nickize turns an arbitrary name into a valid nickname. Characters that
// can't appear in a nick are dropped after transliteration. A leading digit
// or dash gets a "_" prefix.
//
// It returns "" if nothing usable is left. The caller picks a fallback.
func Nickize(s string) string {
	var b strings.Builder
	for _, c := range Transliterate(s) {
		if isNickChar(c) {
			b.WriteRune(c)
		}
	}
	nick := b.String()
	if nick == "" {
		return ""
	}

	if (nick[0] >= '0' && nick[0] <= '9') || nick[0] == '-' {
		nick = "_" + nick
	}

	// Every character is a nick character at this point so cutting is safe.
	if len(nick) > MaxLength {
		nick = nick[:MaxLength]
	}

	return nick
}

// Unique appends "_" to nick until inUse reports it free. When the nick is
// already at MaxLength the end is replaced instead so the result stays
// valid.
func Unique(nick string, inUse func(string) bool) string {
	for inUse(nick) {
		if len(nick) < MaxLength {
			nick += "_"
			continue
		}

		// Replace the trailing run of non underscores one at a time.
		idx := strings.LastIndexFunc(nick, func(r rune) bool { return r != '_' })
		if idx <= 0 {
			// All underscores and full. Nothing more we can do by suffixing.
			return nick
		}
		nick = nick[:idx] + nick[idx+1:] + "_"
	}
	return nick
}
