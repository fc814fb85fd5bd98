package gateway

import (
	"time"

	"github.com/horgh/minbif/internal/dcc"
)

// Config holds what sessions need from the configuration file.
type Config struct {
	// ServerName is the name of the local server, irc-hostname.
	ServerName string
	ServerInfo string
	Version    string

	// CreatedDate is shown in 003.
	CreatedDate string

	MOTD []string

	// Password is the global password. When set, new identities may only be
	// created by users giving it.
	Password string

	// PingInterval is how often we check the client. 0 disables pings.
	PingInterval time.Duration

	// IOWait bounds each read and write on the client connection.
	IOWait time.Duration

	// BuddyIconsURL is the base of icon URLs shown in WHOIS. Empty disables.
	BuddyIconsURL string

	// Opers is login name to oper block.
	Opers map[string]Oper

	// AllowNewIdentities permits creating identities at login.
	AllowNewIdentities bool

	// FileTransfers and DCC gate transfers. Both must be true for transfers
	// to happen.
	FileTransfers bool
	DCC           bool
	DCCConfig     dcc.Config

	// ConvLogs enables appending every IM line to per peer files.
	ConvLogs bool
}

// Oper is an operator login.
type Oper struct {
	Password string
	Email    string
}

func (c *Config) transfersEnabled() bool {
	return c.FileTransfers && c.DCC
}
