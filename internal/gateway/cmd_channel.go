package gateway

import (
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/horgh/minbif/internal/im"
	"github.com/horgh/minbif/internal/message"
)

// joinCheckDelay is how long a chat has to show up after a JOIN.
const joinCheckDelay = time.Second

// pendingJoin is a JOIN waiting for its account to connect.
type pendingJoin struct {
	name  string
	param string
}

var chanNameEscaper = strings.NewReplacer("%", "%25", " ", "%20", ",", "%2C",
	"\x07", "%07")

// convChanName is the IRC channel of a conversation: the conversation name
// and the account ID, e.g. #go-nuts:irc0.
func convChanName(conv im.Conversation) string {
	n := chanNameEscaper.Replace(strings.TrimPrefix(conv.Name, "#")) + ":" +
		conv.Account
	return "#" + n
}

// splitConvChanName is the reverse of convChanName.
func splitConvChanName(name string) (string, string, bool) {
	if len(name) < 2 || name[0] != '#' {
		return "", "", false
	}
	idx := strings.LastIndexByte(name, ':')
	if idx == -1 {
		return "", "", false
	}

	conv, err := url.PathUnescape(name[1:idx])
	if err != nil {
		return "", "", false
	}
	account := name[idx+1:]
	if conv == "" || account == "" {
		return "", "", false
	}
	return conv, account, true
}

func (s *Session) noSuchChannel(name string) {
	// 403 ERR_NOSUCHCHANNEL
	s.reply("403", name, "No such channel")
}

// JOIN <channel>[,<channel>] [<key>[,<key>]]
func (s *Session) joinCommand(m *message.Message) {
	var keys []string
	if m.CountArgs() > 1 {
		keys = strings.Split(m.Arg(1), ",")
	}

	for _, name := range strings.Split(m.Arg(0), ",") {
		if name == "" {
			continue
		}

		if !IsChanName(name) {
			s.noSuchChannel(name)
			continue
		}

		if name[0] == '&' {
			c := s.channel(name)
			if c == nil {
				s.noSuchChannel(name)
				continue
			}
			s.user.Join(c, StatusOp)
			continue
		}

		param := ""
		if len(keys) > 0 {
			param, _ = url.PathUnescape(keys[0])
			keys = keys[1:]
		}

		// Channel already exists. We're most likely on it.
		if s.channel(name) != nil {
			continue
		}

		conv, accid, ok := splitConvChanName(name)
		if !ok {
			s.noSuchChannel(name)
			continue
		}

		account, err := s.im.Account(accid)
		if err != nil {
			s.noSuchChannel(name)
			continue
		}

		if account.State != im.Connected {
			s.pendingJoins[accid] = append(s.pendingJoins[accid],
				pendingJoin{name: conv, param: param})
			s.notice("Joining " + name + " once " + account.ServerName() +
				" is connected")
			continue
		}

		if err := s.im.JoinChat(accid, conv, param); err != nil {
			s.log.Debugf("Unable to join %s: %s", name, err)
			s.noSuchChannel(name)
			continue
		}
		s.checkJoin(name)
	}
}

// checkJoin reports a chat join that never produced a channel.
func (s *Session) checkJoin(name string) {
	s.after(joinCheckDelay, func() {
		if s.channel(name) == nil {
			s.noSuchChannel(name)
		}
	})
}

// replayJoins runs the JOINs queued while the account was offline.
func (s *Session) replayJoins(accid string) {
	joins := s.pendingJoins[accid]
	delete(s.pendingJoins, accid)

	for _, j := range joins {
		name := convChanName(im.Conversation{Name: j.name, Account: accid})
		if err := s.im.JoinChat(accid, j.name, j.param); err != nil {
			s.log.Debugf("Unable to join %s: %s", name, err)
			s.noSuchChannel(name)
			continue
		}
		s.checkJoin(name)
	}
}

// PART <channel> [reason]
func (s *Session) partCommand(m *message.Message) {
	for _, name := range strings.Split(m.Arg(0), ",") {
		c := s.channel(name)
		if c == nil {
			s.noSuchChannel(name)
			continue
		}
		if !s.user.IsOn(c) {
			// 442 ERR_NOTONCHANNEL
			s.reply("442", c.name, "You're not on that channel")
			continue
		}
		s.partChannel(c, m.Arg(1))
	}
}

// partChannel takes the user off c. Leaving a conversation channel leaves
// the chat and drops the channel.
func (s *Session) partChannel(c *Channel, reason string) {
	s.user.Part(c, reason)

	if c.kind != ConversationChannel {
		return
	}
	if err := s.im.LeaveChat(c.conv.Account, c.conv.Name); err != nil {
		s.log.Debugf("Unable to leave %s: %s", c.name, err)
	}
	s.destroyChannel(c)
}

// destroyChannel removes every member and forgets the channel. Chat
// participants that are on no other channel go away too.
func (s *Session) destroyChannel(c *Channel) {
	for _, cu := range c.Users() {
		n := cu.nick
		c.delUser(n, nil)
		if n.kind == ChatBuddyNick && len(n.chanUsers) == 0 {
			s.removeNick(n)
		}
	}
	if q := s.sendQueues[c]; q != nil {
		q.task.Cancel()
		delete(s.sendQueues, c)
	}
	s.removeChannel(c)
}

// NAMES <channel>
func (s *Session) namesCommand(m *message.Message) {
	c := s.channel(m.Arg(0))
	if c == nil {
		s.noSuchChannel(m.Arg(0))
		return
	}
	c.sendNames(s.user)
}

// TOPIC <channel> [topic]
func (s *Session) topicCommand(m *message.Message) {
	c := s.channel(m.Arg(0))
	if c == nil {
		s.noSuchChannel(m.Arg(0))
		return
	}

	if m.CountArgs() < 2 {
		if c.topic == "" {
			// 331 RPL_NOTOPIC
			s.reply("331", c.name, "No topic set.")
			return
		}
		// 332 RPL_TOPIC
		s.reply("332", c.name, c.topic)
		return
	}

	if !c.setTopic(m.Arg(1)) {
		// 482 ERR_CHANOPRIVSNEEDED
		s.reply("482", c.name, "You have no rights to change this channel topic!")
	}
}

// LIST [account]
//
// Without an account we list our channels. With one we ask for its room
// list, which arrives as a RoomList event.
func (s *Session) listCommand(m *message.Message) {
	if m.CountArgs() == 0 {
		// 321 RPL_LISTSTART
		s.reply("321", "Channel", "Users  Name")
		for _, c := range s.sortedChannels() {
			// 322 RPL_LIST
			s.reply("322", c.name, strconv.Itoa(c.CountUsers()), c.topic)
		}
		// 323 RPL_LISTEND
		s.reply("323", "End of /LIST")
		return
	}

	accid := m.Arg(0)
	account, err := s.im.Account(accid)
	if err != nil || account.State != im.Connected {
		// 323 RPL_LISTEND
		s.reply("323", "End of /LIST")
		return
	}
	if err := s.im.RequestRoomList(accid); err != nil {
		s.notice("Unable to get the room list of " + account.ServerName() +
			": " + err.Error())
		s.reply("323", "End of /LIST")
	}
}

// MODE <target> [modes [params...]]
func (s *Session) modeCommand(m *message.Message) {
	target := m.Arg(0)

	if !IsChanName(target) {
		n := s.nick(target)
		if n == nil {
			// 401 ERR_NOSUCHNICK
			s.reply("401", target, "No such nick")
			return
		}
		if n != s.user {
			// 502 ERR_USERSDONTMATCH
			s.reply("502", "Can't change mode for other users")
			return
		}
		modes := "+"
		if s.user.HasFlag(FlagOper) {
			modes += "o"
		}
		// 221 RPL_UMODEIS
		s.reply("221", modes)
		return
	}

	c := s.channel(target)
	if c == nil {
		s.noSuchChannel(target)
		return
	}

	if m.CountArgs() < 2 {
		// 324 RPL_CHANNELMODEIS
		s.reply("324", c.name, "+")
		return
	}

	params := m.Args()[2:]
	add := true
	for _, mc := range []byte(m.Arg(1)) {
		switch mc {
		case '+':
			add = true
		case '-':
			add = false
		case 'b':
			if len(params) == 0 {
				c.showBanList(s.user)
				continue
			}
			banMask := params[0]
			params = params[1:]
			if add {
				c.addBan(s.user, banMask)
			} else {
				c.removeBan(s.user, banMask)
			}
		default:
			status := CharMode(mc)
			if status == 0 || len(params) == 0 {
				continue
			}
			who := params[0]
			params = params[1:]
			s.chatModeChange(c, add, status, who)
		}
	}
}

var chatModeCommands = map[int][2]string{
	StatusOp:     {"op", "deop"},
	StatusVoice:  {"voice", "devoice"},
	StatusHalfop: {"halfop", "dehalfop"},
}

// chatModeChange asks the chat to change a participant's status. The new
// status shows when the chat confirms it.
func (s *Session) chatModeChange(c *Channel, add bool, status int,
	who string) {
	cu := c.ChanUserByNick(who)
	if cu == nil {
		// 441 ERR_USERNOTINCHANNEL
		s.reply("441", who, c.name, "They aren't on that channel")
		return
	}

	cmds, ok := chatModeCommands[status]
	if c.kind != ConversationChannel || !ok || cu.nick.kind != ChatBuddyNick {
		// 482 ERR_CHANOPRIVSNEEDED
		s.reply("482", c.name, "You can't change modes on this channel")
		return
	}

	command := cmds[1]
	if add {
		command = cmds[0]
	}
	if s.im.ChatCommand(c.conv.Account, c.conv.Name,
		command+" "+cu.nick.peer) != im.CmdOK {
		s.reply("482", c.name, "You can't change modes on this channel")
	}
}

// INVITE <nick> <channel>
func (s *Session) inviteCommand(m *message.Message) {
	c := s.channel(m.Arg(1))
	if c == nil {
		s.noSuchChannel(m.Arg(1))
		return
	}
	if c.invite(m.Arg(0), m.Arg(2)) {
		// 341 RPL_INVITING
		s.reply("341", m.Arg(0), c.name)
	}
}

// KICK <channel> <nick> [reason]
func (s *Session) kickCommand(m *message.Message) {
	c := s.channel(m.Arg(0))
	if c == nil {
		s.noSuchChannel(m.Arg(0))
		return
	}

	if !s.user.IsOn(c) {
		// 442 ERR_NOTONCHANNEL
		s.reply("442", c.name, "You're not on that channel")
		return
	}

	cu := c.ChanUserByNick(m.Arg(1))
	if cu == nil {
		// 401 ERR_NOSUCHNICK
		s.reply("401", m.Arg(1), "No such nick")
		return
	}

	c.kick(s.user, cu, m.Arg(2))
}

func (s *Session) sortedChannels() []*Channel {
	var chans []*Channel
	for _, c := range s.channels {
		chans = append(chans, c)
	}
	sort.Slice(chans, func(i, j int) bool {
		return strings.ToLower(chans[i].name) < strings.ToLower(chans[j].name)
	})
	return chans
}
