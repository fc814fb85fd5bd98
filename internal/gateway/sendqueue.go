package gateway

import (
	"strings"
	"time"

	"github.com/ergochat/irc-go/ircfmt"
	"github.com/horgh/minbif/internal/message"
	"github.com/horgh/minbif/internal/metrics"
)

// sendQueue holds lines for one buddy or chat while send_delay runs.
type sendQueue struct {
	lines []string
	task  *Task
}

// parseCTCP splits "\x01COMMAND arg\x01". ok is false if text is not a
// CTCP.
func parseCTCP(text string) (string, string, bool) {
	if len(text) < 2 || text[0] != '\x01' {
		return "", "", false
	}
	inner := strings.TrimSuffix(text[1:], "\x01")
	command := inner
	arg := ""
	if idx := strings.IndexByte(inner, ' '); idx != -1 {
		command = inner[:idx]
		arg = inner[idx+1:]
	}
	return strings.ToUpper(command), arg, true
}

func isCTCP(line string) bool {
	return line != "" && line[0] == '\x01'
}

// batchLines merges consecutive plain lines with newlines. CTCP lines stay
// on their own.
func batchLines(lines []string) []string {
	var out []string
	var buf []string
	for _, line := range lines {
		if isCTCP(line) {
			if len(buf) > 0 {
				out = append(out, strings.Join(buf, "\n"))
				buf = nil
			}
			out = append(out, line)
			continue
		}
		buf = append(buf, line)
	}
	if len(buf) > 0 {
		out = append(out, strings.Join(buf, "\n"))
	}
	return out
}

// sendToPeer relays a line the user wrote to a buddy.
func (s *Session) sendToPeer(n *Nick, text string) {
	command, arg, ok := parseCTCP(text)
	if !ok {
		s.queueLine(n, ircfmt.Strip(text))
		return
	}

	switch command {
	case "ACTION":
		s.queueLine(n, text)
	case "TYPING":
		s.sendTyping(n, arg)
	case "DCC":
		s.receiveOffer(n, text)
	default:
		s.log.Debugf("Dropping CTCP %s to %s", command, n.nick)
	}
}

// sendToChat relays a line the user wrote on a conversation channel.
func (s *Session) sendToChat(c *Channel, text string) {
	command, _, ok := parseCTCP(text)
	if !ok {
		s.queueLine(c, ircfmt.Strip(text))
		return
	}
	if command == "ACTION" {
		s.queueLine(c, text)
		return
	}
	s.log.Debugf("Dropping CTCP %s to %s", command, c.name)
}

// sendTyping forwards a CTCP TYPING. 0 is stopped. 1 and 2 are typing.
func (s *Session) sendTyping(n *Nick, state string) {
	if n.kind != BuddyNick && n.kind != UnknownBuddyNick {
		return
	}
	typing := strings.TrimSpace(state) != "0"
	if err := s.im.SendTyping(n.account, n.imName(), typing); err != nil {
		s.log.Debugf("Unable to send typing state to %s: %s", n.nick, err)
	}
}

// queueLine sends a line now, or after send_delay seconds together with
// whatever else was written in the meantime.
func (s *Session) queueLine(target message.Entity, line string) {
	if line == "" {
		return
	}

	delay := s.settingInt(SettingSendDelay)
	if delay <= 0 {
		s.deliver(target, line)
		return
	}

	q := s.sendQueues[target]
	if q == nil {
		q = &sendQueue{}
		s.sendQueues[target] = q
	}
	q.lines = append(q.lines, line)

	if len(q.lines) == 1 {
		q.task = s.after(time.Duration(delay)*time.Second, func() {
			s.flushQueue(target)
		})
	}
}

func (s *Session) flushQueue(target message.Entity) {
	q := s.sendQueues[target]
	if q == nil {
		return
	}
	delete(s.sendQueues, target)
	q.task.Cancel()

	for _, line := range batchLines(q.lines) {
		s.deliver(target, line)
	}
}

// deliver hands a line to the backend.
func (s *Session) deliver(target message.Entity, line string) {
	text := line
	action := false
	if command, arg, ok := parseCTCP(line); ok && command == "ACTION" {
		text = arg
		action = true
	}

	var err error
	switch t := target.(type) {
	case *Nick:
		err = s.im.SendIM(t.account, t.imName(), text, action)
		if err == nil {
			s.convLog.write(t.account, t.imName(), s.user.nick, text, action)
		}
	case *Channel:
		err = s.im.SendChat(t.conv.Account, t.conv.Name, text, action)
	default:
		return
	}

	if err != nil {
		s.notice("Unable to send message to " + target.Name() + ": " +
			err.Error())
		return
	}
	metrics.IMs.WithLabelValues("out").Inc()
}
