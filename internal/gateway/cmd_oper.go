package gateway

import (
	"github.com/horgh/minbif/internal/message"
)

// OPER <login> <password>
func (s *Session) operCommand(m *message.Message) {
	if s.user.HasFlag(FlagOper) {
		// 381 RPL_YOUREOPER
		s.reply("381", "You are already an IRC Operator")
		return
	}

	oper, ok := s.config().Opers[m.Arg(0)]
	if !ok || oper.Password != m.Arg(1) {
		// 464 ERR_PASSWDMISMATCH
		s.reply("464", "Password incorrect")
		return
	}

	s.user.setFlag(FlagOper)
	s.user.Send(message.New("MODE").SetSender(s.user).SetReceiver(s.user).
		Add("+o"))
	// 381 RPL_YOUREOPER
	s.reply("381", "You are now an IRC Operator")
	s.log.Infof("%s is now an IRC Operator", s.user.nick)
}

// WALLOPS <text>
func (s *Session) wallopsCommand(m *message.Message) {
	s.hub.Wallops(s.user.LongName(), m.Arg(0))
}

// receiveWallops shows a WALLOPS from any session.
func (s *Session) receiveWallops(from, text string) {
	if !s.user.HasFlag(FlagRegistered) {
		return
	}
	s.send(message.New("WALLOPS").SetSender(message.Raw(from)).Add(text))
}

// REHASH
func (s *Session) rehashCommand(m *message.Message) {
	// 382 RPL_REHASHING
	s.reply("382", "Rehashing")

	if err := s.hub.Rehash(); err != nil {
		s.log.Errorf("Rehash failed: %s", err)
		s.notice("Rehash failed: " + err.Error())
	}
}

// DIE <reason>
func (s *Session) dieCommand(m *message.Message) {
	s.log.Infof("Shutdown requested by %s: %s", s.user.nick, m.Arg(0))
	s.hub.Die(s.user.nick, m.Arg(0))
}

// CONNECT <target>
//
// Target is an account ID, an account server name, or * for every account.
func (s *Session) connectCommand(m *message.Message) {
	target := m.Arg(0)
	found := false

	for _, account := range s.im.Accounts() {
		if target != "*" && account.ID != target &&
			account.ServerName() != target {
			continue
		}
		found = true

		s.cancelReconnect(account.ID)
		if err := s.im.Connect(account.ID); err != nil {
			s.notice("Unable to connect to " + account.ServerName() + ": " +
				err.Error())
			continue
		}
		if c := s.channel(account.StatusChannel()); c != nil {
			s.user.Join(c, StatusOp)
		}
	}

	if !found && target != "*" {
		s.notice("Error: Account " + target + " is unknown")
	}
}

// SQUIT <target>
func (s *Session) squitCommand(m *message.Message) {
	target := m.Arg(0)
	found := false

	for _, account := range s.im.Accounts() {
		if target != "*" && account.ID != target &&
			account.ServerName() != target {
			continue
		}
		found = true

		s.cancelReconnect(account.ID)
		if err := s.im.Disconnect(account.ID); err != nil {
			s.notice("Unable to disconnect " + account.ServerName() + ": " +
				err.Error())
		}
	}

	if !found && target != "*" {
		s.notice("Error: Account " + target + " is unknown")
	}
}
