package gateway

import (
	"strings"

	"github.com/horgh/minbif/internal/im"
	"github.com/horgh/minbif/internal/message"
	"github.com/horgh/minbif/internal/nickname"
)

// PRIVMSG <target>[,<target>] <text>
func (s *Session) privmsgCommand(m *message.Message) {
	text := m.Arg(1)
	if text == "" {
		// 412 ERR_NOTEXTTOSEND
		s.reply("412", "No text to send")
		return
	}

	s.noteActivity()

	for _, target := range strings.Split(m.Arg(0), ",") {
		if target == "" {
			continue
		}
		relayed := message.New("PRIVMSG").SetSender(s.user).Add(text)

		if IsChanName(target) {
			c := s.channel(target)
			if c == nil {
				s.noSuchChannel(target)
				continue
			}
			relayed.SetReceiver(c)
			c.Broadcast(relayed, s.user)
			continue
		}

		n := s.nick(target)
		if n == nil {
			// 401 ERR_NOSUCHNICK
			s.reply("401", target, "No such nick")
			continue
		}
		relayed.SetReceiver(n)
		n.Send(relayed)

		if n.IsAway() {
			// 301 RPL_AWAY
			s.reply("301", n.nick, n.AwayMessage())
		}
	}
}

// NOTICE is accepted and dropped. Relaying notices as IMs would make
// client auto replies reach buddies.
func (s *Session) noticeCommand(m *message.Message) {
}

// AWAY [message]
func (s *Session) awayCommand(m *message.Message) {
	away := m.Arg(0)
	if err := s.im.SetAway(away); err != nil {
		s.notice("Unable to change your status: " + err.Error())
		return
	}
	s.setUserAway(away)
	s.autoAway = false
}

// setUserAway records the user's away message and tells the client.
func (s *Session) setUserAway(away string) {
	s.user.away = away
	if away == "" {
		// 305 RPL_UNAWAY
		s.reply("305", "You are no longer marked as being away")
		return
	}
	// 306 RPL_NOWAWAY
	s.reply("306", "You have been marked as being away")
}

// KILL <nick> [reason]
//
// Removes a buddy from the roster.
func (s *Session) killCommand(m *message.Message) {
	n := s.nick(m.Arg(0))
	if n == nil {
		// 401 ERR_NOSUCHNICK
		s.reply("401", m.Arg(0), "No such nick")
		return
	}
	if n.kind != BuddyNick {
		// 481 ERR_NOPRIVILEGES
		s.reply("481", "Permission denied: you can only kill a buddy")
		return
	}

	reason := "Removed from buddy list"
	if m.Arg(1) != "" {
		reason += ": " + m.Arg(1)
	}

	s.notice("Received KILL message for " + n.nick + ": " + reason)
	n.quitChannels("Killed by " + s.user.nick + " (" + reason + ")")

	if err := s.im.RemoveBuddy(n.account, n.buddy.Name); err != nil {
		s.notice("Unable to remove " + n.nick + ": " + err.Error())
	}
}

// SVSNICK <nick> <new nick>
//
// Renames a buddy and keeps the new name as its alias.
func (s *Session) svsnickCommand(m *message.Message) {
	n := s.nick(m.Arg(0))
	if n == nil {
		// 401 ERR_NOSUCHNICK
		s.reply("401", m.Arg(0), "No such nick")
		return
	}
	if n.kind != BuddyNick {
		// 481 ERR_NOPRIVILEGES
		s.reply("481", "Permission denied: you can only change buddy nickname")
		return
	}

	newNick := m.Arg(1)
	if !nickname.IsValid(newNick) {
		// 432 ERR_ERRONEUSNICKNAME
		s.reply("432", newNick, "This nick contains invalid characters")
		return
	}
	if other := s.nick(newNick); other != nil && other != n {
		// 433 ERR_NICKNAMEINUSE
		s.reply("433", newNick, "Nickname is already in use")
		return
	}

	s.user.Send(message.New("NICK").SetSender(n).Add(newNick))
	s.renameNick(n, newNick)

	if err := s.im.SetBuddyAlias(n.account, n.buddy.Name, newNick); err != nil {
		s.notice("Unable to store the alias of " + newNick + ": " + err.Error())
	}
}

// CMD <target> <command> [args...]
//
// Runs a protocol command on a chat or a buddy.
func (s *Session) cmdCommand(m *message.Message) {
	target := m.Arg(0)
	command := m.JoinArgs(1)

	var status im.CmdStatus
	if IsChanName(target) {
		c := s.channel(target)
		if c == nil {
			s.noSuchChannel(target)
			return
		}
		if c.kind != ConversationChannel {
			status = im.CmdWrongType
		} else {
			status = s.im.ChatCommand(c.conv.Account, c.conv.Name, command)
		}
	} else {
		n := s.nick(target)
		if n == nil {
			// 401 ERR_NOSUCHNICK
			s.reply("401", target, "No such nick")
			return
		}
		status = n.SendCommand(command)
	}

	s.replyCmdStatus(m.Arg(1), status)
}

// replyCmdStatus tells the user how a protocol command went.
func (s *Session) replyCmdStatus(name string, status im.CmdStatus) {
	switch status {
	case im.CmdOK:
	case im.CmdNotFound:
		// 421 ERR_UNKNOWNCOMMAND
		s.reply("421", name, "Unknown command")
	case im.CmdWrongArgs:
		// 461 ERR_NEEDMOREPARAMS
		s.reply("461", name, "Not enough parameters")
	case im.CmdFailed:
		s.reply("461", name, "Command failed.")
	case im.CmdWrongType:
		// 481 ERR_NOPRIVILEGES
		s.reply("481", "Permission Denied: This command doesn't work on this kind of target")
	case im.CmdWrongProtocol:
		s.reply("481", "Permission Denied: That command doesn't work on this protocol.")
	}
}
