package gateway

import (
	"testing"

	"github.com/horgh/minbif/internal/im"
	"github.com/stretchr/testify/assert"
)

func TestParseCTCP(t *testing.T) {
	tests := []struct {
		input   string
		command string
		arg     string
		ok      bool
	}{
		{"hello", "", "", false},
		{"\x01ACTION waves\x01", "ACTION", "waves", true},
		{"\x01action waves hello\x01", "ACTION", "waves hello", true},
		{"\x01TYPING 1\x01", "TYPING", "1", true},
		{"\x01VERSION\x01", "VERSION", "", true},
		{"\x01DCC SEND f 1 2 3", "DCC", "SEND f 1 2 3", true},
		{"\x01", "", "", false},
	}

	for _, test := range tests {
		command, arg, ok := parseCTCP(test.input)
		if command != test.command || arg != test.arg || ok != test.ok {
			t.Errorf("parseCTCP(%q) = %q, %q, %v, wanted %q, %q, %v", test.input,
				command, arg, ok, test.command, test.arg, test.ok)
		}
	}
}

func TestBatchLines(t *testing.T) {
	tests := []struct {
		input  []string
		output []string
	}{
		{nil, nil},
		{[]string{"a"}, []string{"a"}},
		{[]string{"a", "b", "c"}, []string{"a\nb\nc"}},
		{
			[]string{"\x01ACTION x\x01", "a", "b", "\x01ACTION y\x01"},
			[]string{"\x01ACTION x\x01", "a\nb", "\x01ACTION y\x01"},
		},
	}

	for _, test := range tests {
		assert.Equal(t, test.output, batchLines(test.input), "batchLines(%q)",
			test.input)
	}
}

func TestConvChanName(t *testing.T) {
	tests := []struct {
		conv im.Conversation
		name string
	}{
		{im.Conversation{Name: "#go-nuts", Account: "irc0"}, "#go-nuts:irc0"},
		{im.Conversation{Name: "go-nuts", Account: "irc0"}, "#go-nuts:irc0"},
		{im.Conversation{Name: "my room", Account: "jabber1"}, "#my%20room:jabber1"},
		{im.Conversation{Name: "a,b%c", Account: "x0"}, "#a%2Cb%25c:x0"},
		{im.Conversation{Name: "room:with:colons", Account: "x0"},
			"#room:with:colons:x0"},
	}

	for _, test := range tests {
		name := convChanName(test.conv)
		if name != test.name {
			t.Errorf("convChanName(%v) = %s, wanted %s", test.conv, name, test.name)
			continue
		}

		conv, account, ok := splitConvChanName(name)
		if !ok || account != test.conv.Account {
			t.Errorf("splitConvChanName(%s) = %s, %s, %v", name, conv, account, ok)
			continue
		}
		assert.Equal(t, convChanName(im.Conversation{Name: conv,
			Account: account}), name)
	}

	for _, bad := range []string{"#", "#nocolon", "#:irc0", "#room:", "&x:y"} {
		if _, _, ok := splitConvChanName(bad); ok {
			t.Errorf("splitConvChanName(%s) succeeded", bad)
		}
	}
}

func TestModeChars(t *testing.T) {
	tests := []struct {
		status int
		mode   byte
	}{
		{StatusVoice, 'v'},
		{StatusHalfop, 'h'},
		{StatusOp, 'o'},
		{StatusFounder, 'q'},
		{StatusTyping, 't'},
	}

	for _, test := range tests {
		if c := ModeChar(test.status); c != test.mode {
			t.Errorf("ModeChar(%d) = %c, wanted %c", test.status, c, test.mode)
		}
		if s := CharMode(test.mode); s != test.status {
			t.Errorf("CharMode(%c) = %d, wanted %d", test.mode, s, test.status)
		}
	}

	assert.Equal(t, byte(0), ModeChar(StatusVoice|StatusOp))
	assert.Equal(t, 0, CharMode('b'))
}

func TestPeerNames(t *testing.T) {
	tests := []struct {
		alias, name, account string
		nick, ident, host    string
	}{
		{"", "bob@example.org", "jabber0", "bob", "bob", "example.org"},
		{"Bobby", "bob@example.org", "jabber0", "Bobby", "bob", "example.org"},
		{"", "carol", "irc0", "carol", "carol", "irc0"},
		{"", "123", "icq0", "_123", "123", "icq0"},
		{"Mister Bob", "bob@example.org", "jabber0", "bob", "bob", "example.org"},
	}

	for _, test := range tests {
		nick := peerNick(test.alias, test.name)
		ident, host := peerIdentity(test.name, test.account)
		if nick != test.nick || ident != test.ident || host != test.host {
			t.Errorf("peer names of %q/%q = %s, %s, %s, wanted %s, %s, %s",
				test.alias, test.name, nick, ident, host, test.nick, test.ident,
				test.host)
		}
	}
}

func TestCheckSetting(t *testing.T) {
	tests := []struct {
		key   string
		value string
		want  string
		ok    bool
	}{
		{SettingSendDelay, "3", "3", true},
		{SettingSendDelay, "-1", "", false},
		{SettingSendDelay, "x", "", false},
		{SettingTypingNotice, "2", "2", true},
		{SettingTypingNotice, "3", "", false},
		{SettingVoicedBuddies, "TRUE", "true", true},
		{SettingVoicedBuddies, "yes", "", false},
		{SettingLogLevel, "Debug", "debug", true},
		{SettingLogLevel, "none", "none", true},
		{SettingLogLevel, "loud", "", false},
		{SettingProxyHost, "proxy.example.org", "proxy.example.org", true},
	}

	for _, test := range tests {
		d, ok := settingByKey(test.key)
		if !ok {
			t.Errorf("setting %s does not exist", test.key)
			continue
		}
		v, err := checkSetting(d, test.value)
		if (err == nil) != test.ok || v != test.want {
			t.Errorf("checkSetting(%s, %q) = %q, %v, wanted %q, ok %v", test.key,
				test.value, v, err, test.want, test.ok)
		}
	}
}

func TestSplitLines(t *testing.T) {
	assert.Equal(t, []string{"a", "b", "c"}, splitLines("a\r\nb\n\nc\r"))
	assert.Empty(t, splitLines("\n\r\n"))
}

func TestLogFileName(t *testing.T) {
	tests := []struct {
		input, output string
	}{
		{"bob@example.org", "bob@example.org"},
		{"../../etc/passwd", ".._.._etc_passwd"},
		{"..", "_.."},
		{"", "_"},
	}
	for _, test := range tests {
		if got := logFileName(test.input); got != test.output {
			t.Errorf("logFileName(%q) = %q, wanted %q", test.input, got,
				test.output)
		}
	}
}
