package gateway

import (
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/horgh/minbif/internal/im"
	"github.com/horgh/minbif/internal/message"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Per identity settings.
const (
	SettingPassword        = "password"
	SettingTypingNotice    = "typing_notice"
	SettingAcceptNoBuddies = "accept_nobuddies_messages"
	SettingSendDelay       = "send_delay"
	SettingVoicedBuddies   = "voiced_buddies"
	SettingServerAliases   = "server_aliases"
	SettingAwayIdle        = "away_idle"
	SettingLogLevel        = "log_level"
	SettingProxy           = "proxy"
	SettingProxyHost       = "proxy_host"
	SettingProxyPort       = "proxy_port"
	SettingProxyUser       = "proxy_user"
	SettingProxyPass       = "proxy_pass"
)

type settingKind int

const (
	stringSetting settingKind = iota
	boolSetting
	intSetting
	passwordSetting
	logLevelSetting
)

type settingDef struct {
	key  string
	kind settingKind
	def  string

	// Bounds of int settings.
	min, max int
}

// settingDefs is in the order ADMIN lists them.
var settingDefs = []settingDef{
	{key: SettingPassword, kind: passwordSetting},
	{key: SettingTypingNotice, kind: intSetting, def: "1", max: 2},
	{key: SettingAcceptNoBuddies, kind: boolSetting, def: "true"},
	{key: SettingSendDelay, kind: intSetting, def: "0", max: 60},
	{key: SettingVoicedBuddies, kind: boolSetting, def: "true"},
	{key: SettingServerAliases, kind: boolSetting, def: "true"},
	{key: SettingAwayIdle, kind: intSetting, def: "0", max: 1 << 20},
	{key: SettingLogLevel, kind: logLevelSetting, def: "warning"},
	{key: SettingProxy, kind: stringSetting},
	{key: SettingProxyHost, kind: stringSetting},
	{key: SettingProxyPort, kind: intSetting, def: "0", max: 65535},
	{key: SettingProxyUser, kind: stringSetting},
	{key: SettingProxyPass, kind: passwordSetting},
}

func settingByKey(key string) (settingDef, bool) {
	for _, d := range settingDefs {
		if d.key == key {
			return d, true
		}
	}
	return settingDef{}, false
}

// checkSetting validates a value for a setting and normalizes it.
func checkSetting(d settingDef, value string) (string, error) {
	switch d.kind {
	case boolSetting:
		v := strings.ToLower(value)
		if v != "true" && v != "false" {
			return "", errors.Errorf("%s must be true or false", d.key)
		}
		return v, nil
	case intSetting:
		n, err := strconv.Atoi(value)
		if err != nil || n < d.min || n > d.max {
			return "", errors.Errorf("%s must be a number between %d and %d",
				d.key, d.min, d.max)
		}
		return strconv.Itoa(n), nil
	case logLevelSetting:
		v := strings.ToLower(value)
		if _, ok := parseLogLevel(v); !ok {
			return "", errors.Errorf("%s must be one of none, error, warning, info, debug",
				d.key)
		}
		return v, nil
	}
	return value, nil
}

// parseLogLevel maps a log_level value to the most verbose level mirrored
// to the client. none mirrors nothing.
func parseLogLevel(v string) (logrus.Level, bool) {
	if v == "none" {
		return logrus.PanicLevel, true
	}
	level, err := logrus.ParseLevel(v)
	if err != nil {
		return 0, false
	}
	return level, true
}

// setting returns a setting of the identity or its default.
func (s *Session) setting(key string) string {
	d, ok := settingByKey(key)
	if !ok {
		return ""
	}
	if s.im == nil {
		return d.def
	}
	if v := s.im.Setting(key); v != "" {
		return v
	}
	return d.def
}

func (s *Session) settingInt(key string) int {
	n, err := strconv.Atoi(s.setting(key))
	if err != nil {
		return 0
	}
	return n
}

func (s *Session) settingBool(key string) bool {
	return s.setting(key) == "true"
}

// settingValue is what ADMIN shows. Secrets are masked.
func (s *Session) settingValue(d settingDef) string {
	if d.kind == passwordSetting {
		if d.key == SettingPassword || s.setting(d.key) != "" {
			return "*******"
		}
		return ""
	}
	return s.setting(d.key)
}

// setSetting validates and stores a setting, then applies it.
func (s *Session) setSetting(key, value string) error {
	d, ok := settingByKey(key)
	if !ok {
		return errors.Errorf("Key %s does not exist.", key)
	}

	if d.key == SettingPassword {
		if problem := checkPassword(value); problem != "" {
			return errors.New(problem)
		}
		if err := s.im.SetPassword(value); err != nil {
			return errors.Wrap(err, "unable to change password")
		}
		s.password = value
		return nil
	}

	v, err := checkSetting(d, value)
	if err != nil {
		return err
	}
	if err := s.im.SetSetting(d.key, v); err != nil {
		return errors.Wrapf(err, "unable to store %s", d.key)
	}

	switch d.key {
	case SettingLogLevel:
		s.applyLogLevel(v)
	case SettingAwayIdle:
		s.scheduleAwayIdle()
	case SettingServerAliases:
		s.applyServerAliases(v)
	case SettingVoicedBuddies:
		for _, account := range s.im.Accounts() {
			if account.State != im.Connected {
				continue
			}
			for _, b := range s.im.Buddies(account.ID) {
				s.updateBuddy(b)
			}
		}
	}
	return nil
}

// applyLogLevel sets the level of records mirrored to the client.
func (s *Session) applyLogLevel(v string) {
	level, ok := parseLogLevel(v)
	if !ok {
		level = logrus.WarnLevel
	}
	atomic.StoreInt32(&s.logLevel, int32(level))
}

// applyServerAliases sets the server_aliases option of every account.
func (s *Session) applyServerAliases(v string) {
	for _, account := range s.im.Accounts() {
		opts := account.Options.Clone()
		if err := opts.Set(im.OptServerAliases, v); err != nil {
			continue
		}
		updated, err := s.im.UpdateAccount(account.ID, opts)
		if err != nil {
			s.notice("Unable to update " + account.ID + ": " + err.Error())
			continue
		}
		s.updateAccount(updated)
	}
}

// ADMIN [key [value...]]
func (s *Session) adminCommand(m *message.Message) {
	if m.CountArgs() == 0 {
		for _, d := range settingDefs {
			s.showSetting(d)
		}
		return
	}

	d, ok := settingByKey(m.Arg(0))
	if !ok {
		s.notice("Key " + m.Arg(0) + " does not exist.")
		return
	}

	if m.CountArgs() > 1 {
		if err := s.setSetting(d.key, m.JoinArgs(1)); err != nil {
			s.notice("Unable to set " + d.key + ": " + err.Error())
			return
		}
	}
	s.showSetting(d)
}

func (s *Session) showSetting(d settingDef) {
	// 256 RPL_ADMINME
	s.reply("256", "- "+d.key+" = "+s.settingValue(d))
}

// scheduleAwayIdle (re)starts the away_idle timer.
func (s *Session) scheduleAwayIdle() {
	s.awayIdle.Cancel()
	s.awayIdle = nil

	idle := s.settingInt(SettingAwayIdle)
	if idle <= 0 || s.im == nil {
		return
	}

	s.awayIdle = s.after(time.Duration(idle)*time.Second, func() {
		s.awayIdle = nil
		if s.user.away != "" {
			return
		}
		if err := s.im.SetAway("Auto-away"); err != nil {
			s.log.Debugf("Unable to set auto-away: %s", err)
			return
		}
		s.autoAway = true
		s.setUserAway("Auto-away")
	})
}

// noteActivity comes back from auto-away and restarts the idle timer.
func (s *Session) noteActivity() {
	if s.autoAway {
		s.autoAway = false
		if err := s.im.SetAway(""); err != nil {
			s.log.Debugf("Unable to clear auto-away: %s", err)
		} else {
			s.setUserAway("")
		}
	}
	s.scheduleAwayIdle()
}
