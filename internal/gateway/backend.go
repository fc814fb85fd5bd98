package gateway

import (
	"strconv"
	"strings"

	"github.com/horgh/minbif/internal/im"
	"github.com/horgh/minbif/internal/message"
	"github.com/horgh/minbif/internal/metrics"
	"github.com/horgh/minbif/internal/nickname"
)

// handleIMEvent turns a backend event into IRC.
func (s *Session) handleIMEvent(ev im.Event) {
	if s.im == nil {
		return
	}

	switch e := ev.(type) {
	case im.AccountStateChanged:
		s.accountStateChanged(e)
	case im.BuddyUpdated:
		s.updateBuddy(e.Buddy)
	case im.BuddyRemoved:
		if n := s.buddyNick(e.Account, e.Name); n != nil {
			s.destroyNick(n, "Removed from buddy list")
		}
	case im.IMReceived:
		s.imReceived(e)
	case im.TypingChanged:
		s.typingChanged(e)
	case im.ConversationCreated:
		s.conversationChannel(e.Conversation)
	case im.ConversationDestroyed:
		if c := s.channel(convChanName(e.Conversation)); c != nil {
			s.user.Part(c, "")
			s.destroyChannel(c)
		}
	case im.ChatBuddyJoined:
		s.chatBuddyJoined(e)
	case im.ChatBuddyLeft:
		s.chatBuddyLeft(e)
	case im.ChatBuddyRenamed:
		s.chatBuddyRenamed(e)
	case im.ChatMessage:
		s.chatMessage(e)
	case im.TopicChanged:
		s.topicChanged(e)
	case im.BuddyInfo:
		s.buddyInfo(e)
	case im.RoomList:
		s.roomList(e)
	case im.FileRequested:
		s.fileRequested(e.Transfer)
	case im.FileReceived:
		s.fileReceived(e.Transfer)
	case im.Notice:
		s.backendNotice(e)
	default:
		s.log.Debugf("Ignoring backend event %T", ev)
	}
}

func peerKey(account, name string) string {
	return account + "\x00" + name
}

// buddyNick finds the nick of a buddy or unknown buddy.
func (s *Session) buddyNick(account, name string) *Nick {
	return s.peers[peerKey(account, name)]
}

// addAccount creates the server and status channel of an account.
func (s *Session) addAccount(account im.Account) *Server {
	srv := s.accountServers[account.ID]
	if srv == nil {
		info := account.Protocol
		if p, err := s.im.Protocol(account.Protocol); err == nil {
			info = p.Name
		}
		srv = newServer(account.ServerName(), info+" account "+account.Username,
			account.ID)
		s.addServer(srv)
	}

	c := s.channel(account.StatusChannel())
	if c == nil {
		c = newStatusChannel(s, account.StatusChannel())
		s.addChannel(c)
	}
	c.addAccount(account.ID)
	return srv
}

// removeAccount forgets everything about a deleted account.
func (s *Session) removeAccount(id string) {
	s.cancelReconnect(id)
	delete(s.pendingJoins, id)
	s.dropAccountNicks(id, "Account removed")

	for _, c := range s.sortedChannels() {
		switch {
		case c.kind == ConversationChannel && c.conv.Account == id:
			s.user.Part(c, "")
			s.destroyChannel(c)
		case c.kind == StatusChannel && c.hasAccount(id):
			s.leaveStatusChannel(c, id)
		}
	}

	if srv := s.accountServers[id]; srv != nil {
		s.removeServer(srv)
	}
}

// leaveStatusChannel detaches an account from a status channel. A status
// channel without accounts goes away.
func (s *Session) leaveStatusChannel(c *Channel, id string) {
	c.removeAccount(id)
	for _, cu := range c.Users() {
		if cu.nick.kind == BuddyNick && cu.nick.account == id {
			cu.nick.Part(c, "")
		}
	}
	if len(c.accounts) > 0 {
		return
	}
	s.user.Part(c, "")
	s.destroyChannel(c)
}

// updateAccount applies changed options of an account: its server name and
// status channel.
func (s *Session) updateAccount(account im.Account) {
	if srv := s.accountServers[account.ID]; srv != nil &&
		srv.name != account.ServerName() {
		s.renameServer(srv, account.ServerName())
	}

	for _, c := range s.sortedChannels() {
		if c.kind == StatusChannel && c.hasAccount(account.ID) &&
			!strings.EqualFold(c.name, account.StatusChannel()) {
			s.leaveStatusChannel(c, account.ID)
		}
	}

	s.addAccount(account)
	if c := s.channel(account.StatusChannel()); c != nil {
		s.user.Join(c, StatusOp)
	}
	if account.State == im.Connected {
		for _, b := range s.im.Buddies(account.ID) {
			s.updateBuddy(b)
		}
	}
}

func (s *Session) renameServer(srv *Server, name string) {
	s.removeServer(srv)
	srv.name = name
	s.addServer(srv)
}

// dropAccountNicks removes every buddy and unknown buddy of an account.
func (s *Session) dropAccountNicks(id, reason string) {
	for _, n := range s.sortedNicks() {
		if (n.kind == BuddyNick || n.kind == UnknownBuddyNick) &&
			n.account == id {
			s.destroyNick(n, reason)
		}
	}
}

func (s *Session) accountStateChanged(e im.AccountStateChanged) {
	account := e.Account
	srv := s.addAccount(account)

	switch account.State {
	case im.Connecting:
		s.noticeFrom(srv, "Connecting to "+account.ServerName())

	case im.Connected:
		s.cancelReconnect(account.ID)
		s.noticeFrom(srv, "Connected to "+account.ServerName())
		for _, b := range s.im.Buddies(account.ID) {
			s.updateBuddy(b)
		}
		s.replayJoins(account.ID)

	case im.Disconnected:
		text := "Disconnected from " + account.ServerName()
		if e.Err != nil {
			text += ": " + e.Err.Error()
		}
		s.noticeFrom(srv, text)

		s.dropAccountNicks(account.ID, "Signed-Off")
		for _, c := range s.sortedChannels() {
			if c.kind == ConversationChannel && c.conv.Account == account.ID {
				s.user.Part(c, "")
				s.destroyChannel(c)
			}
		}

		if e.Err != nil && e.Transient {
			s.scheduleReconnect(account.ID)
		}
	}
}

// buddyStatus is the status channel status a buddy should have.
func (s *Session) buddyStatus(b im.Buddy) int {
	if b.Available && s.settingBool(SettingVoicedBuddies) {
		return StatusVoice
	}
	return 0
}

func (s *Session) statusChannelOf(accountID string) *Channel {
	account, err := s.im.Account(accountID)
	if err != nil {
		return nil
	}
	return s.channel(account.StatusChannel())
}

// updateBuddy creates or updates the nick of a roster entry and shows its
// presence on the status channel.
func (s *Session) updateBuddy(b im.Buddy) {
	srv := s.accountServers[b.Account]
	if srv == nil {
		return
	}

	n := s.buddyNick(b.Account, b.Name)
	if n != nil && n.kind == UnknownBuddyNick {
		// Added to the roster. Keep the nick, it is who the user talked to.
		n.kind = BuddyNick
	}

	if n == nil {
		ident, host := peerIdentity(b.Name, b.Account)
		n = &Nick{
			s:       s,
			kind:    BuddyNick,
			nick:    s.uniqueNick(peerNick(b.Alias, b.Name)),
			ident:   ident,
			host:    host,
			server:  srv,
			account: b.Account,
			buddy:   b,
		}
		s.addNick(n)
		s.peers[peerKey(b.Account, b.Name)] = n
	} else {
		old := n.buddy
		n.buddy = b
		if b.Alias != old.Alias && b.Alias != "" {
			want := peerNick(b.Alias, b.Name)
			if nickname.Canonicalize(want) != nickname.Canonicalize(n.nick) {
				n.rename(s.uniqueNick(want))
			}
		}
	}

	c := s.statusChannelOf(b.Account)
	if c == nil {
		return
	}

	if !b.Online {
		n.quitChannels("Signed-Off")
		return
	}

	status := s.buddyStatus(b)
	if cu := n.ChanUser(c); cu != nil && cu.HasStatus(StatusTyping) {
		status |= StatusTyping
	}
	n.Join(c, status)
}

// unknownBuddy creates a nick for someone who is not on the roster.
func (s *Session) unknownBuddy(account, name string) *Nick {
	srv := s.accountServers[account]
	if srv == nil {
		return nil
	}
	ident, host := peerIdentity(name, account)
	n := &Nick{
		s:       s,
		kind:    UnknownBuddyNick,
		nick:    s.uniqueNick(peerNick("", name)),
		ident:   ident,
		host:    host,
		server:  srv,
		account: account,
		peer:    name,
	}
	s.addNick(n)
	s.peers[peerKey(account, name)] = n
	return n
}

// splitLines splits a message into IRC lines, skipping empty ones.
func splitLines(text string) []string {
	var lines []string
	for _, line := range strings.FieldsFunc(text, func(r rune) bool {
		return r == '\n' || r == '\r'
	}) {
		if line != "" {
			lines = append(lines, line)
		}
	}
	return lines
}

func ctcpAction(line string) string {
	return "\x01ACTION " + line + "\x01"
}

func (s *Session) imReceived(e im.IMReceived) {
	n := s.buddyNick(e.Account, e.From)
	if n == nil {
		if !s.settingBool(SettingAcceptNoBuddies) {
			s.log.Debugf("Dropping message from %s, not a buddy", e.From)
			return
		}
		if n = s.unknownBuddy(e.Account, e.From); n == nil {
			return
		}
	}

	metrics.IMs.WithLabelValues("in").Inc()
	s.convLog.write(e.Account, e.From, n.nick, e.Text, e.Action)

	for _, line := range splitLines(e.Text) {
		if e.Action {
			line = ctcpAction(line)
		}
		s.user.Send(message.New("PRIVMSG").SetSender(n).SetReceiver(s.user).
			Add(line))
	}
}

// typingChanged shows typing as configured by typing_notice: 1 sends CTCP
// TYPING, 2 voices the buddy while it types.
func (s *Session) typingChanged(e im.TypingChanged) {
	n := s.buddyNick(e.Account, e.From)
	if n == nil {
		return
	}

	switch s.settingInt(SettingTypingNotice) {
	case 1:
		state := "0"
		if e.Typing {
			state = "1"
		}
		s.user.Send(message.New("PRIVMSG").SetSender(n).SetReceiver(s.user).
			Add("\x01TYPING " + state + "\x01"))

	case 2:
		c := s.statusChannelOf(e.Account)
		if c == nil {
			return
		}
		cu := n.ChanUser(c)
		if cu == nil {
			return
		}
		if e.Typing {
			if !cu.HasStatus(StatusVoice) {
				cu.status |= StatusTyping
				c.setMode(s.server, cu, StatusVoice)
			}
			return
		}
		if cu.HasStatus(StatusTyping) {
			cu.status &^= StatusTyping
			if s.buddyStatus(n.buddy)&StatusVoice == 0 {
				c.delMode(s.server, cu, StatusVoice)
			}
		}
	}
}

// chatStatus maps chat flags to channel statuses.
func chatStatus(flags im.ChatFlags) int {
	status := 0
	if flags&im.ChatVoice != 0 {
		status |= StatusVoice
	}
	if flags&im.ChatHalfop != 0 {
		status |= StatusHalfop
	}
	if flags&im.ChatOp != 0 {
		status |= StatusOp
	}
	if flags&im.ChatFounder != 0 {
		status |= StatusFounder
	}
	return status
}

// conversationChannel returns the channel of a chat, creating it and
// joining the user if needed.
func (s *Session) conversationChannel(conv im.Conversation) *Channel {
	if conv.Kind != im.ChatConversation {
		return nil
	}
	name := convChanName(conv)
	if c := s.channel(name); c != nil {
		return c
	}

	c := newConversationChannel(s, name, conv)
	s.addChannel(c)
	s.user.Join(c, 0)
	return c
}

func (s *Session) chatBuddyJoined(e im.ChatBuddyJoined) {
	c := s.conversationChannel(e.Conversation)
	if c == nil {
		return
	}
	b := e.Buddy
	status := chatStatus(b.Flags)

	if b.IsMe {
		c.members[b.Name] = s.user.Join(c, status)
		return
	}

	if cu := c.members[b.Name]; cu != nil {
		cu.nick.Join(c, status)
		return
	}

	ident, host := peerIdentity(b.Name, c.conv.Account)
	n := &Nick{
		s:        s,
		kind:     ChatBuddyNick,
		nick:     s.uniqueNick(peerNick(b.Alias, b.Name)),
		ident:    ident,
		host:     host,
		realname: b.RealName,
		server:   s.accountServers[c.conv.Account],
		account:  c.conv.Account,
		peer:     b.Name,
	}
	if n.server == nil {
		n.server = s.addAccount(im.Account{ID: c.conv.Account})
	}
	s.addNick(n)
	c.members[b.Name] = n.Join(c, status)
}

func (s *Session) chatBuddyLeft(e im.ChatBuddyLeft) {
	c := s.channel(convChanName(e.Conversation))
	if c == nil {
		return
	}
	cu := c.members[e.Name]
	if cu == nil || cu.nick == s.user {
		return
	}
	n := cu.nick

	m := message.New("PART").SetSender(n).SetReceiver(c)
	if e.Reason != "" {
		m.Add(e.Reason)
	}
	c.delUser(n, m)

	if n.kind == ChatBuddyNick && len(n.chanUsers) == 0 {
		s.removeNick(n)
	}
}

func (s *Session) chatBuddyRenamed(e im.ChatBuddyRenamed) {
	c := s.channel(convChanName(e.Conversation))
	if c == nil {
		return
	}
	cu := c.members[e.Old]
	if cu == nil {
		return
	}
	delete(c.members, e.Old)
	c.members[e.New] = cu

	n := cu.nick
	if n.kind != ChatBuddyNick {
		return
	}
	n.peer = e.New
	want := peerNick("", e.New)
	if nickname.Canonicalize(want) != nickname.Canonicalize(n.nick) {
		n.rename(s.uniqueNick(want))
	}
}

// chatSender is who a chat line comes from. Someone we don't know gets a
// plain prefix.
func (s *Session) chatSender(c *Channel, from string) message.Entity {
	if cu := c.members[from]; cu != nil {
		return cu.nick
	}
	ident, host := peerIdentity(from, c.conv.Account)
	return message.Raw(peerNick("", from) + "!" + ident + "@" + host)
}

func (s *Session) chatMessage(e im.ChatMessage) {
	// Our own echo.
	if e.From == "" {
		return
	}
	c := s.conversationChannel(e.Conversation)
	if c == nil {
		return
	}
	metrics.IMs.WithLabelValues("in").Inc()

	from := s.chatSender(c, e.From)
	for _, line := range splitLines(e.Text) {
		if e.Action {
			line = ctcpAction(line)
		}
		c.Broadcast(message.New("PRIVMSG").SetSender(from).SetReceiver(c).
			Add(line), nil)
	}
}

func (s *Session) topicChanged(e im.TopicChanged) {
	c := s.channel(convChanName(e.Conversation))
	if c == nil {
		return
	}
	c.topic = e.Topic

	var from message.Entity = s.accountServers[c.conv.Account]
	if e.By != "" {
		from = s.chatSender(c, e.By)
	}
	if from == nil {
		from = s.server
	}
	c.Broadcast(message.New("TOPIC").SetSender(from).SetReceiver(c).
		Add(e.Topic), nil)
}

// buddyInfo completes an extended WHOIS.
func (s *Session) buddyInfo(e im.BuddyInfo) {
	key := peerKey(e.Account, e.Buddy)
	nick, ok := s.pendingInfo[key]
	if !ok {
		return
	}
	delete(s.pendingInfo, key)

	for _, line := range e.Lines {
		for _, l := range splitLines(line) {
			// 338 RPL_WHOISACTUALLY
			s.reply("338", nick, l)
		}
	}
	// 318 RPL_ENDOFWHOIS
	s.reply("318", nick, "End of /WHOIS list")
}

func (s *Session) roomList(e im.RoomList) {
	for _, r := range e.Rooms {
		name := convChanName(im.Conversation{Name: r.Name, Account: e.Account})
		// 322 RPL_LIST
		s.reply("322", name, strconv.Itoa(r.Users), r.Topic)
	}
	// 323 RPL_LISTEND
	s.reply("323", "End of /LIST")
}

func (s *Session) backendNotice(e im.Notice) {
	var from message.Entity = s.service
	if srv := s.accountServers[e.Account]; srv != nil {
		from = srv
	}
	for _, line := range splitLines(e.Text) {
		s.noticeFrom(from, line)
	}
}
