package gateway

import (
	"strings"
	"sync/atomic"

	"github.com/horgh/minbif/internal/im"
	"github.com/horgh/minbif/internal/message"
	"github.com/horgh/minbif/internal/nickname"
	"github.com/pkg/errors"
)

// MinPasswordLength is the shortest password we accept.
const MinPasswordLength = 8

// ISupport is what we announce in 005.
var ISupport = []string{
	"CHANTYPES=#&",
	"PREFIX=(qohv)~@%+",
	"CHANMODES=b,,,",
	"NETWORK=Minbif",
	"CASEMAPPING=ascii",
	"NICKLEN=29",
}

// checkPassword tells what is wrong with a password, "" if nothing.
func checkPassword(password string) string {
	if len(password) < MinPasswordLength {
		return "Password is too short (at least 8 characters)"
	}
	if strings.Contains(password, " ") {
		return "Password may not contain spaces"
	}
	return ""
}

// NICK nickname
func (s *Session) nickCommand(m *message.Message) {
	if m.CountArgs() < 1 || m.Arg(0) == "" {
		// 431 ERR_NONICKNAMEGIVEN
		s.reply("431", "No nickname given")
		return
	}
	nick := m.Arg(0)

	if s.user.HasFlag(FlagRegistered) {
		// 438 ERR_NICKTOOFAST is what ratbox uses to refuse nick changes.
		s.reply("438", nick, "The hand of the deity is upon thee, thy nick may not change")
		return
	}

	if !nickname.IsValid(nick) {
		// 432 ERR_ERRONEUSNICKNAME
		s.reply("432", nick, "This nick contains invalid characters")
		return
	}

	if other := s.nick(nick); other != nil && other != s.user {
		// 433 ERR_NICKNAMEINUSE
		s.reply("433", nick, "Nickname is already in use")
		return
	}

	s.user.rename(nick)
	s.sendWelcome()
}

// USER <user> <mode> <unused> <realname>
func (s *Session) userCommand(m *message.Message) {
	if s.user.HasFlag(FlagRegistered) {
		// 462 ERR_ALREADYREGISTRED
		s.reply("462", "Please register only once per session")
		return
	}

	ident := m.Arg(0)
	if ident == "" {
		// 461 ERR_NEEDMOREPARAMS
		s.reply("461", m.Command(), "Not enough parameters")
		return
	}
	if len(ident) > 10 {
		ident = ident[:10]
	}

	s.user.ident = ident
	s.user.realname = m.Arg(3)
	s.sendWelcome()
}

// PASS password
func (s *Session) passCommand(m *message.Message) {
	if s.user.HasFlag(FlagRegistered) {
		// 462 ERR_ALREADYREGISTRED
		s.reply("462", "Please register only once per session")
		return
	}

	password := m.JoinArgs(0)
	if problem := checkPassword(password); problem != "" {
		s.quit(problem)
		return
	}
	s.password = password
}

// QUIT [reason]
func (s *Session) quitCommand(m *message.Message) {
	reason := "Leaving..."
	if m.CountArgs() > 0 && m.Arg(0) != "" {
		reason = m.Arg(0)
	}
	s.quit("Quit: " + reason)
}

// PING [args...]
func (s *Session) pingCommand(m *message.Message) {
	s.send(message.New("PONG").SetSender(s.server).SetReceiver(s.server).
		Add(m.Args()...))
}

// PONG [args...]
func (s *Session) pongCommand(m *message.Message) {
	s.user.delFlag(FlagPing)
}

// sendWelcome completes registration once we have a nick, a USER and a
// password. It opens the identity and brings up its accounts.
func (s *Session) sendWelcome() {
	if s.user.HasFlag(FlagRegistered) || s.user.nick == "*" ||
		s.user.ident == "" {
		return
	}

	if s.password == "" {
		s.quit("Please set a password")
		return
	}

	ident, reason := s.openIdentity(s.user.nick)
	if ident == nil {
		s.quit(reason)
		return
	}
	s.im = ident

	s.user.setFlag(FlagRegistered)
	s.server.addNick(s.user)
	s.log = s.log.WithField("nick", s.user.nick)
	if s.config().ConvLogs {
		s.convLog = newConvLogger(s.im.UserPath(), s.log)
	}
	s.applyLogLevel(s.setting(SettingLogLevel))
	atomic.StoreInt32(&s.registered, 1)

	config := s.config()

	// 001 RPL_WELCOME
	s.reply("001", "Welcome to the Minbif IRC gateway, "+s.user.LongName()+"!")
	// 002 RPL_YOURHOST
	s.reply("002", "Your host is "+config.ServerName+", running "+
		config.Version)
	// 003 RPL_CREATED
	s.reply("003", "This server was created "+config.CreatedDate)
	// 004 RPL_MYINFO
	s.reply("004", config.ServerName, config.Version, "aoOw", "bhoqtv")
	// 005 RPL_ISUPPORT
	s.reply("005", append(append([]string(nil), ISupport...),
		"are supported by this server")...)

	s.sendMOTD()

	if away := s.im.Away(); away != "" {
		s.user.away = away
		// 306 RPL_NOWAWAY
		s.reply("306", "You have been marked as being away")
	}

	for _, account := range s.im.Accounts() {
		s.addAccount(account)
	}
	for _, c := range s.channels {
		if c.kind == StatusChannel {
			s.user.Join(c, StatusOp)
		}
	}
	for _, account := range s.im.Accounts() {
		if !account.AutoConnect() {
			continue
		}
		if err := s.im.Connect(account.ID); err != nil {
			s.notice("Unable to connect to " + account.ServerName() + ": " +
				err.Error())
		}
	}

	s.scheduleAwayIdle()
	s.log.Infof("Registered")
}

// openIdentity authenticates the user, creating the identity if it is new
// and we allow it. On failure it returns the reason to quit with.
func (s *Session) openIdentity(name string) (im.IM, string) {
	config := s.config()

	exists, err := s.factory.Exists(name)
	if err != nil {
		s.log.Errorf("Unable to look up identity %s: %s", name, err)
		return nil, "Unable to initialize IM"
	}

	if exists {
		ident, err := s.factory.Open(name, s.password, s.sink)
		if err != nil {
			if errors.Cause(err) == im.ErrBadPassword {
				return nil, "Incorrect password"
			}
			s.log.Errorf("Unable to open identity %s: %s", name, err)
			return nil, "Unable to initialize IM"
		}
		return ident, ""
	}

	if !config.AllowNewIdentities {
		return nil, "Unknown identity"
	}
	if config.Password != "" && config.Password != s.password {
		return nil, "Incorrect password"
	}

	ident, err := s.factory.Create(name, s.password, s.sink)
	if err != nil {
		s.log.Errorf("Unable to create identity %s: %s", name, err)
		return nil, "Unable to initialize IM"
	}
	s.log.Infof("Created identity %s", name)
	return ident, ""
}

// sink receives backend events on any goroutine.
func (s *Session) sink(ev im.Event) {
	s.enqueue(func() { s.handleIMEvent(ev) })
}
