package localim

import (
	"testing"

	"github.com/horgh/minbif/internal/im"
	"github.com/stretchr/testify/assert"
)

func TestPrefixFlags(t *testing.T) {
	tests := []struct {
		input string
		flags im.ChatFlags
		nick  string
	}{
		{"bob", 0, "bob"},
		{"@bob", im.ChatOp, "bob"},
		{"+bob", im.ChatVoice, "bob"},
		{"@+bob", im.ChatOp | im.ChatVoice, "bob"},
		{"~bob", im.ChatFounder, "bob"},
		{"%bob", im.ChatHalfop, "bob"},
		{"@", im.ChatOp, ""},
	}

	for _, test := range tests {
		flags, nick := prefixFlags(test.input)
		if flags != test.flags || nick != test.nick {
			t.Errorf("prefixFlags(%s) = %v, %s, wanted %v, %s", test.input, flags, nick,
				test.flags, test.nick)
		}
	}
}

func TestISONBatches(t *testing.T) {
	assert.Nil(t, isonBatches(nil, 10))
	assert.Equal(t, [][]string{{"a", "b"}}, isonBatches([]string{"a", "b"}, 10))
	assert.Equal(t, [][]string{{"aaaa", "bbbb"}, {"cccc"}},
		isonBatches([]string{"aaaa", "bbbb", "cccc"}, 10))
	assert.Equal(t, [][]string{{"a"}}, isonBatches([]string{"a", "b c", ""}, 10))
}

func TestSplitCommand(t *testing.T) {
	tests := []struct {
		input string
		verb  string
		args  string
	}{
		{"motd", "motd", ""},
		{"RAW PRIVMSG bob :hi", "raw", "PRIVMSG bob :hi"},
		{"  kick bob  bye ", "kick", "bob  bye"},
		{"", "", ""},
	}

	for _, test := range tests {
		verb, args := splitCommand(test.input)
		if verb != test.verb || args != test.args {
			t.Errorf("splitCommand(%q) = %q, %q, wanted %q, %q", test.input, verb,
				args, test.verb, test.args)
		}
	}
}

func TestModeTakesParam(t *testing.T) {
	assert.True(t, modeTakesParam('o', true))
	assert.True(t, modeTakesParam('b', false))
	assert.True(t, modeTakesParam('l', true))
	assert.False(t, modeTakesParam('l', false))
	assert.False(t, modeTakesParam('n', true))
	assert.Equal(t, im.ChatOp, modeFlag('o'))
	assert.Equal(t, im.ChatFlags(0), modeFlag('b'))
}

func TestIRCProtocol(t *testing.T) {
	p := IRCDriver{}.Protocol()
	assert.Equal(t, "irc", p.ID)
	server, ok := p.Options.Get("server")
	assert.True(t, ok)
	assert.True(t, server.Required)
}
