package gateway

import (
	"strings"

	"github.com/horgh/minbif/internal/im"
	"github.com/horgh/minbif/internal/mask"
	"github.com/horgh/minbif/internal/message"
)

// Channel member statuses.
const (
	StatusVoice = 1 << iota
	StatusHalfop
	StatusOp
	StatusFounder

	// StatusTyping is internal. It is never shown as a mode of its own.
	StatusTyping
)

// statusModes maps statuses to mode characters and NAMES prefixes, highest
// first.
var statusModes = []struct {
	status int
	mode   byte
	prefix string
}{
	{StatusFounder, 'q', "~"},
	{StatusOp, 'o', "@"},
	{StatusHalfop, 'h', "%"},
	{StatusVoice, 'v', "+"},
}

// ModeChar returns the mode character of one status bit, 0 if it has none.
func ModeChar(status int) byte {
	if status == StatusTyping {
		return 't'
	}
	for _, sm := range statusModes {
		if sm.status == status {
			return sm.mode
		}
	}
	return 0
}

// CharMode returns the status bit of a mode character, 0 if it is not a
// member status.
func CharMode(c byte) int {
	if c == 't' {
		return StatusTyping
	}
	for _, sm := range statusModes {
		if sm.mode == c {
			return sm.status
		}
	}
	return 0
}

// ChanUser is a nick's membership of a channel.
type ChanUser struct {
	channel *Channel
	nick    *Nick
	status  int
}

// Channel is the channel.
func (cu *ChanUser) Channel() *Channel { return cu.channel }

// Nick is the member.
func (cu *ChanUser) Nick() *Nick { return cu.nick }

// Status is the status bits.
func (cu *ChanUser) Status() int { return cu.status }

// HasStatus tells whether every bit of status is set.
func (cu *ChanUser) HasStatus(status int) bool {
	return cu.status&status == status
}

func (cu *ChanUser) prefix() string {
	for _, sm := range statusModes {
		if cu.status&sm.status != 0 {
			return sm.prefix
		}
	}
	return ""
}

// ChannelKind is the kind of a channel.
type ChannelKind int

const (
	// StatusChannel shows the buddies of one or more accounts.
	StatusChannel ChannelKind = iota

	// ConversationChannel mirrors a chat.
	ConversationChannel
)

// Channel is an IRC channel.
type Channel struct {
	s *Session

	kind  ChannelKind
	name  string
	topic string
	users []*ChanUser

	// accounts are the account IDs of a status channel.
	accounts []string

	// conv is the chat of a conversation channel.
	conv im.Conversation

	// members maps chat participant names to memberships.
	members map[string]*ChanUser
}

func newStatusChannel(s *Session, name string) *Channel {
	return &Channel{s: s, kind: StatusChannel, name: name}
}

func newConversationChannel(s *Session, name string,
	conv im.Conversation) *Channel {
	return &Channel{s: s, kind: ConversationChannel, name: name, conv: conv,
		topic: conv.Topic, members: map[string]*ChanUser{}}
}

// IsChanName tells whether name is a channel name.
func IsChanName(name string) bool {
	return name != "" && (name[0] == '&' || name[0] == '#')
}

// Name implements message.Entity.
func (c *Channel) Name() string { return c.name }

// LongName implements message.Entity.
func (c *Channel) LongName() string { return c.name }

// Kind tells whether this is a status or conversation channel.
func (c *Channel) Kind() ChannelKind { return c.kind }

// Topic is the channel topic.
func (c *Channel) Topic() string { return c.topic }

// Users lists the members in join order.
func (c *Channel) Users() []*ChanUser {
	return append([]*ChanUser(nil), c.users...)
}

// CountUsers is the number of members.
func (c *Channel) CountUsers() int { return len(c.users) }

// ChanUserByNick finds a member by nickname.
func (c *Channel) ChanUserByNick(nick string) *ChanUser {
	n := c.s.nick(nick)
	if n == nil {
		return nil
	}
	return n.ChanUser(c)
}

func (c *Channel) hasAccount(id string) bool {
	for _, a := range c.accounts {
		if a == id {
			return true
		}
	}
	return false
}

func (c *Channel) addAccount(id string) {
	if !c.hasAccount(id) {
		c.accounts = append(c.accounts, id)
	}
}

func (c *Channel) removeAccount(id string) {
	for i, a := range c.accounts {
		if a == id {
			c.accounts = append(c.accounts[:i], c.accounts[i+1:]...)
			return
		}
	}
}

// addUser makes n a member. Everyone sees the JOIN and the initial modes.
// The new member gets the topic and NAMES.
func (c *Channel) addUser(n *Nick, status int) *ChanUser {
	cu := &ChanUser{channel: c, nick: n, status: status}
	c.users = append(c.users, cu)
	n.chanUsers = append(n.chanUsers, cu)

	c.Broadcast(message.New("JOIN").SetSender(n).SetReceiver(c), nil)

	if m := c.modeMessage(c.s.server, '+', cu, status); m != nil {
		c.Broadcast(m, n)
	}

	if c.topic != "" {
		// 332 RPL_TOPIC
		n.Send(message.New("332").SetSender(c.s.server).SetReceiver(n).
			Add(c.name, c.topic))
	}

	c.sendNames(n)
	return cu
}

// delUser removes n. If m is set it goes to the remaining members.
func (c *Channel) delUser(n *Nick, m *message.Message) {
	for i, cu := range c.users {
		if cu.nick == n {
			c.users = append(c.users[:i], c.users[i+1:]...)
			break
		}
	}
	for i, cu := range n.chanUsers {
		if cu.channel == c {
			n.chanUsers = append(n.chanUsers[:i], n.chanUsers[i+1:]...)
			break
		}
	}
	for name, cu := range c.members {
		if cu.nick == n {
			delete(c.members, name)
		}
	}

	if m != nil {
		c.Broadcast(m, nil)
	}
}

// Broadcast sends m to every member but butone, in join order.
//
// A PRIVMSG from the user to a conversation channel goes to the chat
// instead.
func (c *Channel) Broadcast(m *message.Message, butone *Nick) {
	if c.kind == ConversationChannel && m.Command() == "PRIVMSG" {
		if from, ok := m.Sender().(*Nick); ok && from == c.s.user {
			c.s.sendToChat(c, m.Arg(0))
			return
		}
	}

	for _, cu := range append([]*ChanUser(nil), c.users...) {
		if cu.nick != butone {
			cu.nick.Send(m)
		}
	}
}

// modeMessage builds a MODE line for the given status bits of cu, nil if
// none of them is visible.
func (c *Channel) modeMessage(sender message.Entity, sign byte, cu *ChanUser,
	bits int) *message.Message {
	modes := string(sign)
	var nicks []string
	for _, sm := range statusModes {
		if bits&sm.status != 0 {
			modes += string(sm.mode)
			nicks = append(nicks, cu.nick.nick)
		}
	}
	if len(nicks) == 0 {
		return nil
	}

	return message.New("MODE").SetSender(sender).SetReceiver(c).Add(modes).
		Add(nicks...)
}

// setMode sets status bits and tells the channel.
func (c *Channel) setMode(sender message.Entity, cu *ChanUser, bits int) {
	cu.status |= bits
	if m := c.modeMessage(sender, '+', cu, bits); m != nil {
		c.Broadcast(m, nil)
	}
}

// delMode clears status bits and tells the channel.
func (c *Channel) delMode(sender message.Entity, cu *ChanUser, bits int) {
	cu.status &^= bits
	if m := c.modeMessage(sender, '-', cu, bits); m != nil {
		c.Broadcast(m, nil)
	}
}

// sendNames sends the member list, as many names per line as fit.
func (c *Channel) sendNames(to *Nick) {
	var names []string
	length := 0
	flush := func() {
		if len(names) == 0 {
			return
		}
		// 353 RPL_NAMREPLY
		to.Send(message.New("353").SetSender(c.s.server).SetReceiver(to).
			Add("=", c.name, strings.Join(names, " ")))
		names = nil
		length = 0
	}

	for _, cu := range c.users {
		name := cu.prefix() + cu.nick.nick
		if length+len(name)+1 > 400 {
			flush()
		}
		names = append(names, name)
		length += len(name) + 1
	}
	flush()

	// 366 RPL_ENDOFNAMES
	to.Send(message.New("366").SetSender(c.s.server).SetReceiver(to).
		Add(c.name, "End of /NAMES list"))
}

// showBanList lists the deny lists of a status channel's accounts.
func (c *Channel) showBanList(to *Nick) {
	if c.kind == StatusChannel {
		for _, account := range c.accounts {
			for _, name := range c.s.im.DenyList(account) {
				// 367 RPL_BANLIST
				to.Send(message.New("367").SetSender(c.s.server).SetReceiver(to).
					Add(c.name, name+":"+account, to.LongName(), "0"))
			}
		}
	}

	// 368 RPL_ENDOFBANLIST
	to.Send(message.New("368").SetSender(c.s.server).SetReceiver(to).
		Add(c.name, "End of Channel Ban List"))
}

// banAccounts resolves a ban mask to the accounts and IM name it applies
// to.
func (c *Channel) banAccounts(banMask string) ([]string, string) {
	m := mask.Parse(banMask)
	name := m.BuddyName()
	if name == "" {
		return nil, ""
	}

	var accounts []string
	for _, account := range c.accounts {
		if m.Account == "" || m.Account == account {
			accounts = append(accounts, account)
		}
	}
	return accounts, name
}

// addBan puts the masked name on the deny lists of the channel's accounts.
// Conversation channels have no ban list.
func (c *Channel) addBan(from *Nick, banMask string) {
	if c.kind != StatusChannel {
		return
	}

	accounts, name := c.banAccounts(banMask)
	if len(accounts) == 0 {
		c.s.notice("Unable to ban " + banMask + ": no matching account")
		return
	}

	for _, account := range accounts {
		if err := c.s.im.AddDeny(account, name); err != nil {
			c.s.notice("Unable to ban " + name + ": " + err.Error())
			return
		}
	}

	c.Broadcast(message.New("MODE").SetSender(from).SetReceiver(c).
		Add("+b", banMask), nil)
}

// removeBan takes the masked name off the deny lists.
func (c *Channel) removeBan(from *Nick, banMask string) {
	if c.kind != StatusChannel {
		return
	}

	accounts, name := c.banAccounts(banMask)
	if len(accounts) == 0 {
		c.s.notice("Unable to unban " + banMask + ": no matching account")
		return
	}

	for _, account := range accounts {
		if err := c.s.im.RemoveDeny(account, name); err != nil {
			c.s.notice("Unable to unban " + name + ": " + err.Error())
			return
		}
	}

	c.Broadcast(message.New("MODE").SetSender(from).SetReceiver(c).
		Add("-b", banMask), nil)
}

// invite adds a buddy in a status channel (the name is buddy:accountID) or
// invites someone to the chat of a conversation channel. It returns false
// after telling the user what went wrong.
func (c *Channel) invite(who, text string) bool {
	if c.kind == ConversationChannel {
		name := who
		if n := c.s.nick(who); n != nil && n.isPeer() {
			name = n.imName()
		}
		if err := c.s.im.InviteChat(c.conv.Account, c.conv.Name, name,
			text); err != nil {
			c.s.notice("Unable to invite " + who + ": " + err.Error())
			return false
		}
		return true
	}

	name := who
	account := ""
	if idx := strings.LastIndexByte(who, ':'); idx != -1 {
		name = who[:idx]
		account = who[idx+1:]
	}
	if account == "" && len(c.accounts) == 1 {
		account = c.accounts[0]
	}
	if name == "" || account == "" {
		c.s.notice("Usage: /INVITE buddy:accountID " + c.name)
		return false
	}
	if !c.hasAccount(account) {
		// 403 ERR_NOSUCHCHANNEL
		c.s.reply("403", account, "No such account on this channel")
		return false
	}

	if err := c.s.im.AddBuddy(account, name,
		strings.TrimPrefix(c.name, "&")); err != nil {
		c.s.notice("Unable to add " + name + ": " + err.Error())
		return false
	}
	return true
}

// kick removes a member.
//
// Only buddies can be kicked. Kicking one takes it off the roster.
func (c *Channel) kick(from *Nick, target *ChanUser, reason string) {
	n := target.nick
	if n.kind != BuddyNick {
		// 481 ERR_NOPRIVILEGES
		c.s.reply("481", "Permission denied: you can only kick a buddy")
		return
	}

	m := message.New("KICK").SetSender(from).SetReceiver(c).Add(n.nick)
	if reason != "" {
		m.Add(reason)
	}

	if err := c.s.im.RemoveBuddy(n.account, n.buddy.Name); err != nil {
		c.s.notice("Unable to remove " + n.nick + ": " + err.Error())
		return
	}
	c.delUser(n, m)
}

// setTopic asks the chat to change its topic. The change shows when the
// chat confirms it. Status channels have no topic to change.
func (c *Channel) setTopic(topic string) bool {
	if c.kind != ConversationChannel {
		return false
	}
	if err := c.s.im.SetChatTopic(c.conv.Account, c.conv.Name,
		topic); err != nil {
		c.s.log.Debugf("Unable to set topic of %s: %s", c.name, err)
		return false
	}
	return true
}
