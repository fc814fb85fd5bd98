package im

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testOptions() Options {
	return Options{
		{Name: OptPassword, Type: OptionPassword},
		{Name: OptStatusChannel, Type: OptionString},
		{Name: OptServerAliases, Type: OptionBool, Value: "true"},
		{Name: "port", Type: OptionInt, Value: "6667"},
		{Name: "mode", Type: OptionChoice, Choices: []string{"a", "b"}, Value: "a"},
	}
}

func TestOptionsSet(t *testing.T) {
	tests := []struct {
		name  string
		value string
		ok    bool
	}{
		{"port", "6697", true},
		{"port", "x", false},
		{OptServerAliases, "false", true},
		{OptServerAliases, "yes", false},
		{"mode", "b", true},
		{"mode", "c", false},
		{"nope", "1", false},
		{OptPassword, "secret with space", true},
	}

	for _, test := range tests {
		opts := testOptions()
		err := opts.Set(test.name, test.value)
		if test.ok {
			if err != nil {
				t.Errorf("Set(%s, %s) = %s, wanted success", test.name, test.value, err)
				continue
			}
			assert.Equal(t, test.value, opts.Value(test.name))
			continue
		}
		if err == nil {
			t.Errorf("Set(%s, %s) succeeded, wanted error", test.name, test.value)
		}
	}
}

func TestOptionsClone(t *testing.T) {
	opts := testOptions()
	clone := opts.Clone()
	require.NoError(t, clone.Set("port", "1"))
	assert.Equal(t, "6667", opts.Value("port"))
}

func TestOptionUsage(t *testing.T) {
	opts := testOptions()
	var usages []string
	for _, o := range opts {
		usages = append(usages, o.Usage())
	}
	assert.Equal(t, []string{
		"[-password value]",
		"[-status_channel value]",
		"[-[!]server_aliases]",
		"[-port int]",
		"[-mode [a|b]]",
	}, usages)
}

func TestAccountNames(t *testing.T) {
	a := Account{ID: "irc0", Username: "bob", Options: testOptions()}
	assert.Equal(t, "bob:irc0", a.ServerName())
	assert.Equal(t, DefaultStatusChannel, a.StatusChannel())
	assert.True(t, a.AutoConnect())

	require.NoError(t, a.Options.Set(OptServerAliases, "false"))
	require.NoError(t, a.Options.Set(OptStatusChannel, "&irc"))
	assert.Equal(t, "irc0", a.ServerName())
	assert.Equal(t, "&irc", a.StatusChannel())
}
