// Package message holds one IRC protocol line as the gateway builds it: a
// command, an optional sender and receiver, and an ordered argument list.
//
// Wire encoding and decoding are done by github.com/horgh/irc. This package
// adds entity references and refuses to build lines that would lose data on
// the wire.
package message

import (
	"strings"

	"github.com/horgh/irc"
	"github.com/pkg/errors"
)

// ErrMalformedMessage is returned when an argument is added after one that
// contains a space. Only the last argument may contain spaces.
var ErrMalformedMessage = errors.New("malformed message")

// Entity is anything that may be the sender or receiver of a message.
type Entity interface {
	// Name is used when the entity is a receiver.
	Name() string

	// LongName is used when the entity is a sender. For a nick this is
	// nick!ident@host.
	LongName() string
}

// Raw is an Entity for a plain string with no object behind it. For example
// the sender of an error before the user has a nick.
type Raw string

// Name returns the string.
func (r Raw) Name() string { return string(r) }

// LongName returns the string.
func (r Raw) LongName() string { return string(r) }

// Message is a single IRC line.
type Message struct {
	command  string
	sender   Entity
	receiver Entity
	args     []string
}

// New creates a message with the given command. The command is uppercased.
func New(command string) *Message {
	return &Message{command: strings.ToUpper(command)}
}

// Command returns the command, uppercased.
func (m *Message) Command() string { return m.command }

// SetCommand replaces the command.
func (m *Message) SetCommand(command string) *Message {
	m.command = strings.ToUpper(command)
	return m
}

// Sender returns the sender, or nil.
func (m *Message) Sender() Entity { return m.sender }

// SetSender sets the sender.
func (m *Message) SetSender(e Entity) *Message {
	m.sender = e
	return m
}

// Receiver returns the receiver, or nil.
func (m *Message) Receiver() Entity { return m.receiver }

// SetReceiver sets the receiver.
func (m *Message) SetReceiver(e Entity) *Message {
	m.receiver = e
	return m
}

// AddArg appends an argument.
//
// If the current last argument contains a space the new argument would be
// swallowed by it on the wire, so we refuse.
func (m *Message) AddArg(arg string) error {
	if len(m.args) > 0 && strings.Contains(m.args[len(m.args)-1], " ") {
		return errors.Wrapf(ErrMalformedMessage,
			"cannot add argument %q after %q", arg, m.args[len(m.args)-1])
	}
	m.args = append(m.args, arg)
	return nil
}

// Add appends arguments, ignoring ErrMalformedMessage. It exists so replies
// can be built inline. Use AddArg when the arguments come from outside.
func (m *Message) Add(args ...string) *Message {
	for _, arg := range args {
		if err := m.AddArg(arg); err != nil {
			// Keep what we can. Merge into the last argument.
			m.args[len(m.args)-1] += " " + arg
		}
	}
	return m
}

// SetArg replaces argument i. If i is past the end, empty arguments are
// added first. Only the last argument may contain a space.
func (m *Message) SetArg(i int, arg string) error {
	if i < 0 {
		return errors.Errorf("negative argument index %d", i)
	}
	for len(m.args) <= i {
		if err := m.AddArg(""); err != nil {
			return err
		}
	}
	if i != len(m.args)-1 && strings.Contains(arg, " ") {
		return errors.Wrapf(ErrMalformedMessage,
			"argument %d (%q) is not the last one and contains a space", i, arg)
	}
	m.args[i] = arg
	return nil
}

// Arg returns argument i, or "" if there is none.
func (m *Message) Arg(i int) string {
	if i < 0 || i >= len(m.args) {
		return ""
	}
	return m.args[i]
}

// Args returns a copy of the arguments.
func (m *Message) Args() []string {
	return append([]string(nil), m.args...)
}

// CountArgs returns how many arguments there are.
func (m *Message) CountArgs() int { return len(m.args) }

// JoinArgs returns the arguments from index from joined by spaces.
func (m *Message) JoinArgs(from int) string {
	if from >= len(m.args) {
		return ""
	}
	return strings.Join(m.args[from:], " ")
}

// RebuildWithQuotes merges arguments that were split on spaces but belong
// together because they are wrapped in double quotes, e.g. a file name with
// spaces. The quotes are removed.
func (m *Message) RebuildWithQuotes() {
	var out []string
	var quoted []string
	inQuote := false

	for _, arg := range m.args {
		if !inQuote {
			if strings.HasPrefix(arg, "\"") {
				if len(arg) > 1 && strings.HasSuffix(arg, "\"") {
					out = append(out, arg[1:len(arg)-1])
					continue
				}
				inQuote = true
				quoted = []string{arg[1:]}
				continue
			}
			out = append(out, arg)
			continue
		}

		if strings.HasSuffix(arg, "\"") {
			quoted = append(quoted, arg[:len(arg)-1])
			out = append(out, strings.Join(quoted, " "))
			quoted = nil
			inQuote = false
			continue
		}
		quoted = append(quoted, arg)
	}

	// Unterminated quote. Give back what we had, quote included.
	if inQuote {
		quoted[0] = "\"" + quoted[0]
		out = append(out, quoted...)
	}

	m.args = out
}

// ToIRC converts to the wire representation.
func (m *Message) ToIRC() irc.Message {
	im := irc.Message{Command: m.command}
	if m.sender != nil {
		im.Prefix = m.sender.LongName()
	}
	if m.receiver != nil {
		im.Params = append(im.Params, m.receiver.Name())
	}
	im.Params = append(im.Params, m.args...)
	return im
}

// Format encodes the message as a wire line ending in CRLF.
func (m *Message) Format() (string, error) {
	s, err := m.ToIRC().Encode()
	if err != nil {
		return s, errors.Wrap(err, "error encoding message")
	}
	return s, nil
}

// String is the message in wire form without CRLF. Use for logging.
func (m *Message) String() string {
	s, err := m.ToIRC().Encode()
	if err != nil && s == "" {
		return m.ToIRC().String()
	}
	return strings.TrimRight(s, "\r\n")
}

// Parse decodes one line. The line may or may not end in CRLF or LF.
//
// The prefix, if any, becomes a Raw sender. All parameters become
// arguments; the receiver is not separated out since its position depends
// on the command.
func Parse(line string) (*Message, error) {
	line = strings.TrimRight(line, "\r\n")
	if line == "" {
		return nil, errors.New("empty line")
	}

	im, err := irc.ParseMessage(line + "\r\n")
	if err != nil && err != irc.ErrTruncated {
		return nil, errors.Wrap(err, "error parsing line")
	}

	m := FromIRC(im)
	return m, nil
}

// FromIRC converts from the wire representation.
func FromIRC(im irc.Message) *Message {
	m := New(im.Command)
	if im.Prefix != "" {
		m.sender = Raw(im.Prefix)
	}
	m.args = append([]string(nil), im.Params...)
	return m
}
