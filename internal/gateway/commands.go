package gateway

import (
	"time"

	"github.com/horgh/irc"
	"github.com/horgh/minbif/internal/message"
	"github.com/horgh/minbif/internal/metrics"
)

// command is an entry of the command table.
type command struct {
	name    string
	handler func(*Session, *message.Message)
	minArgs int

	// flags the user must have. FlagRegistered or FlagOper.
	flags int
}

// commands is in the order STATS m lists them. It is filled in init since
// some handlers read it.
var commands []command

var commandIndex = map[string]int{}

func init() {
	commands = []command{
		{"ADMIN", (*Session).adminCommand, 0, FlagRegistered},
		{"AWAY", (*Session).awayCommand, 0, FlagRegistered},
		{"CMD", (*Session).cmdCommand, 2, FlagRegistered},
		{"CONNECT", (*Session).connectCommand, 1, FlagRegistered},
		{"DIE", (*Session).dieCommand, 1, FlagOper},
		{"INFO", (*Session).infoCommand, 0, FlagRegistered},
		{"INVITE", (*Session).inviteCommand, 2, FlagRegistered},
		{"ISON", (*Session).isonCommand, 1, FlagRegistered},
		{"JOIN", (*Session).joinCommand, 1, FlagRegistered},
		{"KICK", (*Session).kickCommand, 2, FlagRegistered},
		{"KILL", (*Session).killCommand, 1, FlagRegistered},
		{"LIST", (*Session).listCommand, 0, FlagRegistered},
		{"MAP", (*Session).mapCommand, 0, FlagRegistered},
		{"MODE", (*Session).modeCommand, 1, FlagRegistered},
		{"MOTD", (*Session).motdCommand, 0, FlagRegistered},
		{"NAMES", (*Session).namesCommand, 1, FlagRegistered},
		{"NICK", (*Session).nickCommand, 0, 0},
		{"NOTICE", (*Session).noticeCommand, 0, FlagRegistered},
		{"OPER", (*Session).operCommand, 2, FlagRegistered},
		{"PART", (*Session).partCommand, 1, FlagRegistered},
		{"PASS", (*Session).passCommand, 1, 0},
		{"PING", (*Session).pingCommand, 0, FlagRegistered},
		{"PONG", (*Session).pongCommand, 0, FlagRegistered},
		{"PRIVMSG", (*Session).privmsgCommand, 2, FlagRegistered},
		{"QUIT", (*Session).quitCommand, 0, 0},
		{"REHASH", (*Session).rehashCommand, 0, FlagOper},
		{"SQUIT", (*Session).squitCommand, 1, FlagRegistered},
		{"STATS", (*Session).statsCommand, 0, FlagRegistered},
		{"SVSNICK", (*Session).svsnickCommand, 2, FlagRegistered},
		{"TOPIC", (*Session).topicCommand, 1, FlagRegistered},
		{"USER", (*Session).userCommand, 4, 0},
		{"VERSION", (*Session).versionCommand, 0, FlagRegistered},
		{"WALLOPS", (*Session).wallopsCommand, 1, FlagOper},
		{"WHO", (*Session).whoCommand, 0, FlagRegistered},
		{"WHOIS", (*Session).whoisCommand, 1, FlagRegistered},
		{"WHOWAS", (*Session).whowasCommand, 1, FlagRegistered},
	}

	for i, c := range commands {
		commandIndex[c.name] = i
	}
}

// handleMessage dispatches a line from the client.
func (s *Session) handleMessage(im irc.Message) {
	// Record that client said something to us just now.
	s.lastRead = time.Now()

	m := message.FromIRC(im)

	// Non-RFC command that appears to be widely supported. Ignore it.
	if m.Command() == "CAP" {
		return
	}

	idx, ok := commandIndex[m.Command()]
	if !ok {
		// 421 ERR_UNKNOWNCOMMAND
		s.reply("421", m.Command(), "Unknown command")
		return
	}
	cmd := commands[idx]

	if m.CountArgs() < cmd.minArgs {
		// 461 ERR_NEEDMOREPARAMS
		s.reply("461", m.Command(), "Not enough parameters")
		return
	}

	if cmd.flags != 0 && !s.user.HasFlag(cmd.flags) {
		if !s.user.HasFlag(FlagRegistered) {
			// 451 ERR_NOTREGISTERED
			s.reply("451", "Register first")
			return
		}
		// 481 ERR_NOPRIVILEGES
		s.reply("481", "Permission Denied: Insufficient privileges")
		return
	}

	s.counts[cmd.name]++
	metrics.Commands.WithLabelValues(cmd.name).Inc()
	cmd.handler(s, m)
}
