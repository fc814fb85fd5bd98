// Package mask handles nick!ident@host masks: glob matching as used by WHO
// and ban lists, and splitting ban masks into their parts.
package mask

import (
	"bytes"
	"regexp"
	"strings"
)

// Compile converts a glob (* and ?) into a case-insensitive regexp matching
// the whole string.
func Compile(glob string) (*regexp.Regexp, error) {
	var buf bytes.Buffer
	buf.WriteString("(?i)^")
	for _, r := range glob {
		switch r {
		case '*':
			buf.WriteString("(.*)")
		case '?':
			buf.WriteString("(.)")
		default:
			buf.WriteString(regexp.QuoteMeta(string(r)))
		}
	}
	buf.WriteByte('$')
	return regexp.Compile(buf.String())
}

// Match tells whether s matches glob, ignoring case. An invalid glob matches
// nothing.
func Match(glob, s string) bool {
	re, err := Compile(glob)
	if err != nil {
		return false
	}
	return re.MatchString(s)
}

// Mask is a parsed nick!ident@host:account mask. Missing parts are "".
type Mask struct {
	Nick    string
	Ident   string
	Host    string
	Account string
}

// Parse splits a ban mask. The account ID is whatever follows the last ':'.
//
//	bob                        -> Nick bob
//	bob:irc0                   -> Nick bob, Account irc0
//	*!bob@example.org:jabber0  -> Nick *, Ident bob, Host example.org, Account jabber0
//	bob@example.org            -> Ident bob, Host example.org
func Parse(s string) Mask {
	var m Mask

	if idx := strings.LastIndexByte(s, ':'); idx != -1 {
		m.Account = s[idx+1:]
		s = s[:idx]
	}

	if idx := strings.IndexByte(s, '!'); idx != -1 {
		m.Nick = s[:idx]
		s = s[idx+1:]
		if idx := strings.IndexByte(s, '@'); idx != -1 {
			m.Ident = s[:idx]
			m.Host = s[idx+1:]
		} else {
			m.Ident = s
		}
		return m
	}

	if idx := strings.IndexByte(s, '@'); idx != -1 {
		m.Ident = s[:idx]
		m.Host = s[idx+1:]
		return m
	}

	m.Nick = s
	return m
}

// BuddyName gives the IM name a mask designates: ident@host when both are
// concrete, else the ident, else the nick. "" if none is concrete.
func (m Mask) BuddyName() string {
	concrete := func(s string) bool {
		return s != "" && !strings.ContainsAny(s, "*?")
	}
	if concrete(m.Ident) && concrete(m.Host) {
		return m.Ident + "@" + m.Host
	}
	if concrete(m.Ident) {
		return m.Ident
	}
	if concrete(m.Nick) {
		return m.Nick
	}
	return ""
}

// String is the mask in nick!ident@host[:account] form with * for missing
// parts.
func (m Mask) String() string {
	or := func(s string) string {
		if s == "" {
			return "*"
		}
		return s
	}
	s := or(m.Nick) + "!" + or(m.Ident) + "@" + or(m.Host)
	if m.Account != "" {
		s += ":" + m.Account
	}
	return s
}
