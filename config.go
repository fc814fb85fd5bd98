package main

import (
	"bufio"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/horgh/config"
	"github.com/horgh/minbif/internal/dcc"
	"github.com/horgh/minbif/internal/gateway"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Config holds the process configuration. Sessions see the Gateway part.
type Config struct {
	Gateway *gateway.Config

	// UsersPath holds the identity database and one directory per identity.
	UsersPath string

	ListenHost string
	ListenPort string

	// MetricsListen is host:port for /metrics. Empty disables it.
	MetricsListen string

	LogLevel logrus.Level
	ToSyslog bool
}

const (
	serverInfo  = "Minbif IRC gateway"
	defaultPing = 60 * time.Second
	ioWait      = 2 * time.Minute
)

// readConfig reads and checks a configuration file.
func readConfig(file string) (*Config, error) {
	configMap, err := config.ReadStringMap(file)
	if err != nil {
		return nil, errors.Wrap(err, "unable to read configuration")
	}

	requiredKeys := []string{
		"path-users",
		"irc-hostname",
	}

	for _, key := range requiredKeys {
		v, exists := configMap[key]
		if !exists {
			return nil, errors.Errorf("missing required key: %s", key)
		}

		if len(v) == 0 {
			return nil, errors.Errorf("configuration value is blank: %s", key)
		}
	}

	c := &Config{
		UsersPath:     configMap["path-users"],
		ListenHost:    configMap["listen-host"],
		ListenPort:    configMap["listen-port"],
		MetricsListen: configMap["metrics-listen"],
		LogLevel:      logrus.InfoLevel,
		Gateway: &gateway.Config{
			ServerName:         configMap["irc-hostname"],
			ServerInfo:         serverInfo,
			Version:            version,
			CreatedDate:        time.Now().Format(time.RFC1123),
			Password:           configMap["irc-password"],
			PingInterval:       defaultPing,
			IOWait:             ioWait,
			BuddyIconsURL:      configMap["irc-buddy-icons-url"],
			Opers:              map[string]gateway.Oper{},
			AllowNewIdentities: true,
		},
	}

	if c.ListenPort == "" {
		c.ListenPort = "6667"
	}

	if v := configMap["irc-ping"]; v != "" {
		ping, err := time.ParseDuration(v)
		if err != nil {
			return nil, errors.Wrap(err, "irc-ping is in invalid format")
		}
		c.Gateway.PingInterval = ping
	}

	if v := configMap["aaa-use-local"]; v != "" {
		allow, err := strconv.ParseBool(v)
		if err != nil {
			return nil, errors.Wrap(err, "aaa-use-local is not a boolean")
		}
		c.Gateway.AllowNewIdentities = allow
	}

	if v := configMap["path-motd"]; v != "" {
		motd, err := readMOTD(v)
		if err != nil {
			return nil, err
		}
		c.Gateway.MOTD = motd
	}

	if v := configMap["opers-config"]; v != "" {
		opers, err := readOpers(v)
		if err != nil {
			return nil, err
		}
		c.Gateway.Opers = opers
	}

	if err := parseTransfers(configMap, c.Gateway); err != nil {
		return nil, err
	}

	if v := configMap["logging-level"]; v != "" {
		level, err := logrus.ParseLevel(v)
		if err != nil {
			return nil, errors.Wrap(err, "logging-level is not valid")
		}
		c.LogLevel = level
	}

	for key, dst := range map[string]*bool{
		"logging-to-syslog": &c.ToSyslog,
		"logging-conv-logs": &c.Gateway.ConvLogs,
	} {
		v := configMap[key]
		if v == "" {
			continue
		}
		b, err := strconv.ParseBool(v)
		if err != nil {
			return nil, errors.Wrapf(err, "%s is not a boolean", key)
		}
		*dst = b
	}

	return c, nil
}

// readMOTD reads the MOTD file, one line per 372.
func readMOTD(file string) ([]string, error) {
	f, err := os.Open(file)
	if err != nil {
		return nil, errors.Wrap(err, "unable to open MOTD")
	}
	defer func() {
		_ = f.Close()
	}()

	var lines []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		lines = append(lines, strings.TrimRight(scanner.Text(), "\r"))
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrap(err, "unable to read MOTD")
	}
	return lines, nil
}

// readOpers reads the opers file. Format:
// <login> = <password>,<email>
func readOpers(file string) (map[string]gateway.Oper, error) {
	raw, err := config.ReadStringMap(file)
	if err != nil {
		return nil, errors.Wrap(err, "unable to load opers config")
	}

	opers := map[string]gateway.Oper{}
	for login, v := range raw {
		pieces := strings.SplitN(v, ",", 2)
		password := strings.TrimSpace(pieces[0])
		if len(password) == 0 {
			return nil, errors.Errorf("oper %s has no password", login)
		}
		oper := gateway.Oper{Password: password}
		if len(pieces) == 2 {
			oper.Email = strings.TrimSpace(pieces[1])
		}
		opers[login] = oper
	}
	return opers, nil
}

func parseTransfers(configMap map[string]string, c *gateway.Config) error {
	for key, dst := range map[string]*bool{
		"file-transfers-enabled": &c.FileTransfers,
		"file-transfers-dcc":     &c.DCC,
	} {
		v := configMap[key]
		if v == "" {
			continue
		}
		b, err := strconv.ParseBool(v)
		if err != nil {
			return errors.Wrapf(err, "%s is not a boolean", key)
		}
		*dst = b
	}

	if v := configMap["file-transfers-dcc-own-ip"]; v != "" {
		ip := net.ParseIP(v)
		if ip == nil {
			return errors.Errorf("file-transfers-dcc-own-ip is not an IP: %s", v)
		}
		c.DCCConfig.OwnIP = ip
	}

	if v := configMap["file-transfers-port-range"]; v != "" {
		low, high, err := parsePortRange(v)
		if err != nil {
			return err
		}
		c.DCCConfig.PortMin = low
		c.DCCConfig.PortMax = high
	}

	c.DCCConfig.Timeout = dcc.DefaultTimeout
	return nil
}

// parsePortRange parses <min>-<max>.
func parsePortRange(s string) (int, int, error) {
	pieces := strings.Split(s, "-")
	if len(pieces) != 2 {
		return 0, 0, errors.Errorf("invalid port range: %s", s)
	}

	low, err := strconv.Atoi(strings.TrimSpace(pieces[0]))
	if err != nil {
		return 0, 0, errors.Wrapf(err, "invalid port range: %s", s)
	}
	high, err := strconv.Atoi(strings.TrimSpace(pieces[1]))
	if err != nil {
		return 0, 0, errors.Wrapf(err, "invalid port range: %s", s)
	}

	if low < 1 || high > 65535 || low > high {
		return 0, 0, errors.Errorf("invalid port range: %s", s)
	}
	return low, high, nil
}
