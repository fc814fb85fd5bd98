package gateway

import (
	"strings"

	"github.com/horgh/minbif/internal/im"
	"github.com/horgh/minbif/internal/message"
	"github.com/horgh/minbif/internal/nickname"
)

// NickKind is what a nick stands for.
type NickKind int

const (
	// UserNick is the IRC client of the session.
	UserNick NickKind = iota

	// BuddyNick is a roster entry of an account.
	BuddyNick

	// ChatBuddyNick is a participant of a chat.
	ChatBuddyNick

	// UnknownBuddyNick is someone who sent an IM but is not on the roster.
	UnknownBuddyNick

	// ServiceNick is the gateway itself.
	ServiceNick

	// BuddyIconNick takes DCC SENDs of the user's new buddy icon.
	BuddyIconNick
)

// Nick flags.
const (
	FlagRegistered = 1 << iota
	FlagOper
	FlagPing
)

// Nick is a participant on the IRC side.
type Nick struct {
	s *Session

	kind     NickKind
	nick     string
	ident    string
	host     string
	realname string
	flags    int
	server   *Server
	away     string

	chanUsers []*ChanUser

	// account is the IM account of buddies, chat buddies and unknown buddies.
	account string

	// buddy is the roster entry of a BuddyNick.
	buddy im.Buddy

	// peer is the IM name of a ChatBuddyNick or UnknownBuddyNick.
	peer string
}

// Name implements message.Entity.
func (n *Nick) Name() string { return n.nick }

// LongName implements message.Entity.
func (n *Nick) LongName() string {
	return n.nick + "!" + n.ident + "@" + n.host
}

// Kind tells what the nick stands for.
func (n *Nick) Kind() NickKind { return n.kind }

// Server is the server the nick belongs to.
func (n *Nick) Server() *Server { return n.server }

// HasFlag tells whether all bits of f are set.
func (n *Nick) HasFlag(f int) bool { return n.flags&f == f }

func (n *Nick) setFlag(f int) { n.flags |= f }

func (n *Nick) delFlag(f int) { n.flags &^= f }

// RealName is shown in WHO and WHOIS.
func (n *Nick) RealName() string {
	switch n.kind {
	case BuddyNick:
		if n.buddy.RealName != "" {
			return n.buddy.RealName
		}
		return n.buddy.Name
	case UnknownBuddyNick:
		return n.peer
	}
	return n.realname
}

// IsOnline tells whether the nick is reachable.
func (n *Nick) IsOnline() bool {
	if n.kind == BuddyNick {
		return n.buddy.Online
	}
	return true
}

// IsAway tells whether the nick is away. An offline buddy is away.
func (n *Nick) IsAway() bool {
	switch n.kind {
	case BuddyNick:
		return !n.buddy.Online || !n.buddy.Available
	case UserNick:
		return n.away != ""
	}
	return false
}

// AwayMessage is shown in 301.
func (n *Nick) AwayMessage() string {
	if n.kind == BuddyNick {
		if !n.buddy.Online {
			return "User is offline"
		}
		if n.buddy.StatusMessage != "" {
			return n.buddy.StatusMessage
		}
		return "Away"
	}
	return n.away
}

// StatusMessage is the buddy's free form status.
func (n *Nick) StatusMessage() string {
	if n.kind == BuddyNick {
		return n.buddy.StatusMessage
	}
	return ""
}

// Icon is the buddy icon. nil when there is none.
func (n *Nick) Icon() []byte {
	if n.kind == BuddyNick {
		return n.buddy.Icon
	}
	return nil
}

// imName is the name of the nick on the IM side.
func (n *Nick) imName() string {
	if n.kind == BuddyNick {
		return n.buddy.Name
	}
	return n.peer
}

func (n *Nick) isPeer() bool {
	return n.kind == BuddyNick || n.kind == ChatBuddyNick ||
		n.kind == UnknownBuddyNick
}

// SendCommand runs a protocol command on the buddy.
func (n *Nick) SendCommand(command string) im.CmdStatus {
	if !n.isPeer() || n.s.im == nil {
		return im.CmdWrongType
	}
	return n.s.im.BuddyCommand(n.account, n.imName(), command)
}

// RetrieveInfo asks the backend for details about the buddy. They arrive as
// a BuddyInfo event. It returns false if nothing will arrive.
func (n *Nick) RetrieveInfo() bool {
	if !n.isPeer() || n.s.im == nil {
		return false
	}
	if err := n.s.im.RequestBuddyInfo(n.account, n.imName()); err != nil {
		n.s.log.Debugf("Unable to request info on %s: %s", n.nick, err)
		return false
	}
	n.s.pendingInfo[n.account+"\x00"+n.imName()] = n.nick
	return true
}

// Send delivers a message to the nick.
//
// The user gets it on the wire. A buddy only cares about PRIVMSGs addressed
// to it, or written in a status channel and starting with "nick: ", which it
// relays as IMs. A chat participant takes PRIVMSGs addressed to it as
// private IMs. Everyone else drops messages.
func (n *Nick) Send(m *message.Message) {
	switch n.kind {
	case UserNick:
		n.s.send(m)
	case BuddyIconNick:
		if m.Command() == "PRIVMSG" {
			n.s.receiveIcon(m.Arg(0))
		}
	case BuddyNick, UnknownBuddyNick, ChatBuddyNick:
		if m.Command() != "PRIVMSG" {
			return
		}
		text := m.Arg(0)

		if to, ok := m.Receiver().(*Nick); ok && to == n {
			n.s.sendToPeer(n, text)
			return
		}

		ch, ok := m.Receiver().(*Channel)
		if n.kind == BuddyNick && ok && ch.kind == StatusChannel &&
			strings.HasPrefix(text, n.nick+": ") {
			n.s.sendToPeer(n, text[len(n.nick)+2:])
		}
	}
}

// ChanUser is the nick's membership of c, nil if it is not on it.
func (n *Nick) ChanUser(c *Channel) *ChanUser {
	for _, cu := range n.chanUsers {
		if cu.channel == c {
			return cu
		}
	}
	return nil
}

// IsOn tells whether the nick is on c.
func (n *Nick) IsOn(c *Channel) bool {
	return n.ChanUser(c) != nil
}

// Channels lists the channels the nick is on, in join order.
func (n *Nick) Channels() []*Channel {
	var chans []*Channel
	for _, cu := range n.chanUsers {
		chans = append(chans, cu.channel)
	}
	return chans
}

// Join puts the nick on c with the given status.
//
// If it is already there only the status changes and a MODE with the
// difference is broadcast. Nothing happens if the status is the same.
func (n *Nick) Join(c *Channel, status int) *ChanUser {
	cu := n.ChanUser(c)
	if cu == nil {
		return c.addUser(n, status)
	}

	add := status &^ cu.status &^ StatusTyping
	del := cu.status &^ status &^ StatusTyping
	if add != 0 {
		c.setMode(n.s.server, cu, add)
	}
	if del != 0 {
		c.delMode(n.s.server, cu, del)
	}
	return cu
}

// Part removes the nick from c.
func (n *Nick) Part(c *Channel, reason string) {
	if !n.IsOn(c) {
		return
	}

	m := message.New("PART").SetSender(n).SetReceiver(c)
	if reason != "" {
		m.Add(reason)
	}
	n.Send(m)
	c.delUser(n, m)
}

// sharesChannelWith tells whether the nick and other are on a common
// channel.
func (n *Nick) sharesChannelWith(other *Nick) bool {
	for _, cu := range n.chanUsers {
		if other.IsOn(cu.channel) {
			return true
		}
	}
	return false
}

// quitChannels takes the nick off every channel. The user sees one QUIT if
// it shared a channel with the nick.
func (n *Nick) quitChannels(reason string) {
	if len(n.chanUsers) == 0 {
		return
	}

	user := n.s.user
	tell := n != user && n.sharesChannelWith(user)

	for _, cu := range append([]*ChanUser(nil), n.chanUsers...) {
		cu.channel.delUser(n, nil)
	}

	if tell {
		user.Send(message.New("QUIT").SetSender(n).Add(reason))
	}
}

// rename changes the nickname. The user is told if it can see the nick.
func (n *Nick) rename(newNick string) {
	old := n.LongName()
	user := n.s.user
	tell := user.HasFlag(FlagRegistered) &&
		(n == user || n.sharesChannelWith(user))

	n.s.renameNick(n, newNick)

	if tell {
		user.Send(message.New("NICK").SetSender(message.Raw(old)).Add(newNick))
	}
}

// peerIdentity derives ident and host from an IM name: user@host names
// split at the @, others get the account ID as host.
func peerIdentity(name, account string) (string, string) {
	ident := name
	host := account
	if idx := strings.IndexByte(name, '@'); idx != -1 {
		ident = name[:idx]
		if name[idx+1:] != "" {
			host = name[idx+1:]
		}
	}

	ident = strings.Map(func(r rune) rune {
		if r == ' ' || r == '!' || r == '@' || r == ':' {
			return '_'
		}
		return r
	}, ident)
	if ident == "" {
		ident = "unknown"
	}
	host = strings.Replace(host, " ", "_", -1)
	return ident, host
}

// peerNick picks a nickname for an IM name, preferring the alias. Names that
// look like addresses are reduced to their user part.
func peerNick(alias, name string) string {
	preferred := alias
	if preferred == "" {
		preferred = name
	}
	if strings.ContainsAny(preferred, "@ ") {
		preferred, _ = peerIdentity(name, "")
	}

	if n := nickname.Nickize(preferred); n != "" {
		return n
	}
	if n := nickname.Nickize(name); n != "" {
		return n
	}
	return "buddy"
}
