package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/docopt/docopt-go"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePortRange(t *testing.T) {
	tests := []struct {
		input   string
		low     int
		high    int
		success bool
	}{
		{"1024-65535", 1024, 65535, true},
		{"5000 - 5010", 5000, 5010, true},
		{"5000-5000", 5000, 5000, true},
		{"5010-5000", 0, 0, false},
		{"0-10", 0, 0, false},
		{"5000", 0, 0, false},
		{"a-b", 0, 0, false},
		{"1-70000", 0, 0, false},
	}

	for _, test := range tests {
		low, high, err := parsePortRange(test.input)
		if err != nil {
			if test.success {
				t.Errorf("parsePortRange(%s) = error %s, wanted %d-%d", test.input,
					err, test.low, test.high)
			}
			continue
		}
		if !test.success {
			t.Errorf("parsePortRange(%s) = %d-%d, wanted error", test.input, low,
				high)
			continue
		}
		if low != test.low || high != test.high {
			t.Errorf("parsePortRange(%s) = %d-%d, wanted %d-%d", test.input, low,
				high, test.low, test.high)
		}
	}
}

func writeFile(t *testing.T, dir, name, content string) string {
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestReadConfig(t *testing.T) {
	dir := t.TempDir()

	motd := writeFile(t, dir, "motd.txt", "Welcome\r\nto minbif\n")
	opers := writeFile(t, dir, "opers.conf",
		"admin = secret,admin@example.org\nother = pass\n")
	conf := writeFile(t, dir, "minbif.conf", `
path-users = `+filepath.Join(dir, "users")+`
path-motd = `+motd+`
irc-hostname = irc.example.org
irc-password = letmein
irc-ping = 30s
opers-config = `+opers+`
aaa-use-local = false
file-transfers-enabled = true
file-transfers-dcc = true
file-transfers-dcc-own-ip = 192.0.2.1
file-transfers-port-range = 1024-2048
logging-level = debug
logging-conv-logs = true
listen-host = 127.0.0.1
metrics-listen = 127.0.0.1:9100
`)

	c, err := readConfig(conf)
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(dir, "users"), c.UsersPath)
	assert.Equal(t, "127.0.0.1", c.ListenHost)
	assert.Equal(t, "6667", c.ListenPort)
	assert.Equal(t, "127.0.0.1:9100", c.MetricsListen)
	assert.Equal(t, logrus.DebugLevel, c.LogLevel)
	assert.False(t, c.ToSyslog)

	g := c.Gateway
	assert.Equal(t, "irc.example.org", g.ServerName)
	assert.Equal(t, "letmein", g.Password)
	assert.Equal(t, 30*time.Second, g.PingInterval)
	assert.Equal(t, []string{"Welcome", "to minbif"}, g.MOTD)
	assert.False(t, g.AllowNewIdentities)
	assert.True(t, g.FileTransfers)
	assert.True(t, g.DCC)
	assert.True(t, g.ConvLogs)
	assert.Equal(t, "192.0.2.1", g.DCCConfig.OwnIP.String())
	assert.Equal(t, 1024, g.DCCConfig.PortMin)
	assert.Equal(t, 2048, g.DCCConfig.PortMax)

	require.Len(t, g.Opers, 2)
	assert.Equal(t, "secret", g.Opers["admin"].Password)
	assert.Equal(t, "admin@example.org", g.Opers["admin"].Email)
	assert.Equal(t, "pass", g.Opers["other"].Password)
}

func TestReadConfigErrors(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"missing hostname", "path-users = /tmp/users\n"},
		{"blank path", "path-users =\nirc-hostname = irc.example.org\n"},
		{"bad ping", "path-users = /tmp/u\nirc-hostname = a\nirc-ping = often\n"},
		{"bad bool", "path-users = /tmp/u\nirc-hostname = a\naaa-use-local = maybe\n"},
		{"bad level", "path-users = /tmp/u\nirc-hostname = a\nlogging-level = loud\n"},
		{"bad ip", "path-users = /tmp/u\nirc-hostname = a\nfile-transfers-dcc-own-ip = x\n"},
		{"missing motd", "path-users = /tmp/u\nirc-hostname = a\npath-motd = /nonexistent/motd\n"},
	}

	for _, test := range tests {
		conf := writeFile(t, t.TempDir(), "minbif.conf", test.content)
		if _, err := readConfig(conf); err == nil {
			t.Errorf("readConfig(%s) succeeded, wanted error", test.name)
		}
	}
}

func TestArgsFromOpts(t *testing.T) {
	tests := []struct {
		opts    docopt.Opts
		mode    int
		pidFile string
		success bool
	}{
		{docopt.Opts{"CONFIG": "minbif.conf", "--mode": "1"}, modeDaemon, "", true},
		{docopt.Opts{"CONFIG": "minbif.conf", "--mode": "0"}, modeInetd, "", true},
		{
			docopt.Opts{"CONFIG": "minbif.conf", "--mode": "1",
				"--pidfile": "/run/minbif.pid"},
			modeDaemon, "/run/minbif.pid", true,
		},
		{docopt.Opts{"CONFIG": "minbif.conf", "--mode": "2"}, 0, "", false},
		{docopt.Opts{"--mode": "1"}, 0, "", false},
	}

	for _, test := range tests {
		args, err := argsFromOpts(test.opts)
		if err != nil {
			if test.success {
				t.Errorf("argsFromOpts(%v) = error %s", test.opts, err)
			}
			continue
		}
		if !test.success {
			t.Errorf("argsFromOpts(%v) = %+v, wanted error", test.opts, args)
			continue
		}
		assert.True(t, filepath.IsAbs(args.ConfigFile))
		assert.Equal(t, test.mode, args.Mode)
		assert.Equal(t, test.pidFile, args.PidFile)
	}
}

func TestLockPidFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "minbif.pid")

	lock, err := lockPidFile(path)
	require.NoError(t, err)
	defer func() {
		_ = lock.Unlock()
	}()

	buf, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Regexp(t, `^\d+\n$`, string(buf))

	_, err = lockPidFile(path)
	assert.Error(t, err)
}
