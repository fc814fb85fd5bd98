package message

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	tests := []struct {
		input   string
		command string
		sender  string
		args    []string
	}{
		{"nick bob", "NICK", "", []string{"bob"}},
		{"NICK bob\r\n", "NICK", "", []string{"bob"}},
		{"USER bob 0 0 :Bob Real", "USER", "", []string{"bob", "0", "0", "Bob Real"}},
		{"privmsg #chan :hi there : you", "PRIVMSG", "", []string{"#chan", "hi there : you"}},
		{":a!b@c PRIVMSG bob :x", "PRIVMSG", "a!b@c", []string{"bob", "x"}},
		{"QUIT", "QUIT", "", nil},
		{"TOPIC #a :", "TOPIC", "", []string{"#a", ""}},
	}

	for _, test := range tests {
		m, err := Parse(test.input)
		if err != nil {
			t.Errorf("Parse(%q) = error %s", test.input, err)
			continue
		}
		if m.Command() != test.command {
			t.Errorf("Parse(%q) command = %s, wanted %s", test.input, m.Command(),
				test.command)
		}
		sender := ""
		if m.Sender() != nil {
			sender = m.Sender().LongName()
		}
		if sender != test.sender {
			t.Errorf("Parse(%q) sender = %s, wanted %s", test.input, sender,
				test.sender)
		}
		assert.Equal(t, test.args, m.Args(), "Parse(%q) args", test.input)
	}
}

func TestParseEmpty(t *testing.T) {
	_, err := Parse("\r\n")
	assert.Error(t, err)
}

func TestAddArgMalformed(t *testing.T) {
	m := New("PRIVMSG")
	require.NoError(t, m.AddArg("bob"))
	require.NoError(t, m.AddArg("hello world"))

	err := m.AddArg("lost")
	require.Error(t, err)
	assert.Equal(t, ErrMalformedMessage, errors.Cause(err))
	assert.Equal(t, []string{"bob", "hello world"}, m.Args())
}

func TestSetArg(t *testing.T) {
	m := New("MODE")
	require.NoError(t, m.SetArg(1, "+o"))
	assert.Equal(t, []string{"", "+o"}, m.Args())

	require.NoError(t, m.SetArg(0, "+ov"))
	assert.Equal(t, []string{"+ov", "+o"}, m.Args())

	err := m.SetArg(0, "has space")
	require.Error(t, err)
	assert.Equal(t, ErrMalformedMessage, errors.Cause(err))
}

type testNick struct{ nick, ident, host string }

func (n testNick) Name() string     { return n.nick }
func (n testNick) LongName() string { return n.nick + "!" + n.ident + "@" + n.host }

func TestFormat(t *testing.T) {
	bob := testNick{"bob", "b", "example.org"}

	tests := []struct {
		message *Message
		output  string
	}{
		{
			New("privmsg").SetSender(bob).SetReceiver(Raw("alice")).Add("hi there"),
			":bob!b@example.org PRIVMSG alice :hi there\r\n",
		},
		{
			New("JOIN").SetSender(bob).SetReceiver(Raw("&minbif")),
			":bob!b@example.org JOIN &minbif\r\n",
		},
		{
			New("001").SetSender(Raw("irc.example.org")).SetReceiver(bob).Add("Welcome"),
			":irc.example.org 001 bob Welcome\r\n",
		},
		{
			New("PING").Add("irc.example.org"),
			"PING irc.example.org\r\n",
		},
	}

	for _, test := range tests {
		output, err := test.message.Format()
		if err != nil {
			t.Errorf("Format(%s) = error %s", test.message, err)
			continue
		}
		if output != test.output {
			t.Errorf("Format() = %q, wanted %q", output, test.output)
		}
	}
}

// Colon quoting must survive a trip through the wire format.
func TestFormatParseRoundTrip(t *testing.T) {
	argLists := [][]string{
		{"#chan", "hello world"},
		{"bob", ":starts with colon"},
		{"a", "b", "c d e  f"},
		{"only"},
		{"x", ""},
	}

	for _, args := range argLists {
		m := New("PRIVMSG").Add(args...)
		line, err := m.Format()
		require.NoError(t, err)

		parsed, err := Parse(line)
		require.NoError(t, err)
		assert.Equal(t, "PRIVMSG", parsed.Command())
		assert.Equal(t, args, parsed.Args(), "round trip of %q", line)
	}
}

func TestRebuildWithQuotes(t *testing.T) {
	tests := []struct {
		input  []string
		output []string
	}{
		{
			[]string{"DCC", "SEND", "\"my", "file.txt\"", "1", "2", "3"},
			[]string{"DCC", "SEND", "my file.txt", "1", "2", "3"},
		},
		{
			[]string{"DCC", "SEND", "\"file.txt\"", "1"},
			[]string{"DCC", "SEND", "file.txt", "1"},
		},
		{
			[]string{"a", "\"b", "c"},
			[]string{"a", "\"b", "c"},
		},
		{
			[]string{"no", "quotes"},
			[]string{"no", "quotes"},
		},
	}

	for _, test := range tests {
		m := New("X")
		for _, a := range test.input {
			m.args = append(m.args, a)
		}
		m.RebuildWithQuotes()
		assert.Equal(t, test.output, m.Args(), "RebuildWithQuotes(%q)", test.input)
	}
}

func TestJoinArgs(t *testing.T) {
	m := New("ADMIN").Add("away_idle", "10", "20")
	assert.Equal(t, "10 20", m.JoinArgs(1))
	assert.Equal(t, "", m.JoinArgs(5))
}
