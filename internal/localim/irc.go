package localim

import (
	"fmt"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/horgh/minbif/internal/dcc"
	"github.com/horgh/minbif/internal/im"
	"github.com/lrstanley/girc"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// isonInterval is how often the roster's presence is polled.
const isonInterval = 30 * time.Second

// IRCDriver connects accounts to IRC networks. Private messages are IMs,
// channels are chats, and buddies are nicks whose presence is polled with
// ISON.
type IRCDriver struct{}

// Protocol describes the irc protocol.
func (IRCDriver) Protocol() im.Protocol {
	return im.Protocol{
		ID:   "irc",
		Name: "IRC",
		Options: im.Options{
			{Name: "server", Type: im.OptionString, Required: true, Text: "Server"},
			{Name: "port", Type: im.OptionInt, Value: "6667", Text: "Port"},
			{Name: "ssl", Type: im.OptionBool, Value: "false", Text: "Use TLS"},
			{Name: "sasl", Type: im.OptionBool, Value: "false",
				Text: "Authenticate with SASL PLAIN instead of PASS"},
			{Name: "realname", Type: im.OptionString, Value: "minbif",
				Text: "Real name"},
		},
	}
}

// ChatParameters names what a chat join takes.
func (IRCDriver) ChatParameters() map[string]string {
	return map[string]string{
		"channel":  "Channel",
		"password": "Key",
	}
}

// Dial starts a connection in the background.
func (IRCDriver) Dial(account im.Account, env Env) (Conn, error) {
	port, err := strconv.Atoi(account.Options.Value("port"))
	if err != nil || port <= 0 {
		return nil, im.OptionError{Option: "port", Reason: "is not a valid port"}
	}

	cfg := girc.Config{
		Server: account.Options.Value("server"),
		Port:   port,
		Nick:   account.Username,
		User:   account.Username,
		Name:   account.Options.Value("realname"),
		SSL:    account.Options.Value("ssl") == "true",
	}
	if pass := account.Password(); pass != "" {
		if account.Options.Value("sasl") == "true" {
			cfg.SASL = &girc.SASLPlain{User: account.Username, Pass: pass}
		} else {
			cfg.ServerPass = pass
		}
	}

	c := &ircConn{
		account:   account,
		env:       env,
		client:    girc.New(cfg),
		chats:     map[string]map[string]im.ChatFlags{},
		online:    map[string]bool{},
		whois:     map[string][]string{},
		transfers: map[string]*ircTransfer{},
		done:      make(chan struct{}),
	}
	c.watch = env.Buddies
	c.addHandlers()

	go c.run()
	return c, nil
}

type ircTransfer struct {
	info  im.Transfer
	offer dcc.Offer
	dcc   *dcc.Transfer
}

type ircConn struct {
	account im.Account
	env     Env
	client  *girc.Client

	mu        sync.Mutex
	closing   bool
	watch     []string
	online    map[string]bool
	chats     map[string]map[string]im.ChatFlags
	topics    map[string]string
	whois     map[string][]string
	rooms     []im.Room
	transfers map[string]*ircTransfer

	done     chan struct{}
	doneOnce sync.Once
}

func (c *ircConn) log() *logrus.Entry {
	if c.env.Log != nil {
		return c.env.Log
	}
	return logrus.NewEntry(logrus.StandardLogger())
}

func (c *ircConn) emit(ev im.Event) {
	if c.env.Sink != nil {
		c.env.Sink(ev)
	}
}

func (c *ircConn) run() {
	err := c.client.Connect()

	c.doneOnce.Do(func() { close(c.done) })

	c.mu.Lock()
	closing := c.closing
	c.mu.Unlock()
	if closing {
		return
	}

	if err == nil {
		err = errors.New("connection closed")
	}
	c.emit(im.AccountStateChanged{
		Account:   c.account,
		State:     im.Disconnected,
		Err:       errors.Wrap(err, "disconnected"),
		Transient: true,
	})
}

func (c *ircConn) addHandlers() {
	h := c.client.Handlers

	h.Add(girc.CONNECTED, func(cl *girc.Client, e girc.Event) {
		c.emit(im.AccountStateChanged{Account: c.account, State: im.Connected})
		if c.env.Away != "" {
			cl.Cmd.Away(c.env.Away)
		}
		c.pollISON()
		go c.isonLoop()
	})

	h.Add(girc.PRIVMSG, c.onPrivmsg)
	h.Add(girc.NOTICE, c.onNotice)
	h.Add(girc.JOIN, c.onJoin)
	h.Add(girc.PART, c.onPart)
	h.Add(girc.KICK, c.onKick)
	h.Add(girc.QUIT, c.onQuit)
	h.Add(girc.NICK, c.onNick)
	h.Add(girc.TOPIC, c.onTopic)
	h.Add(girc.MODE, c.onMode)

	// 303 RPL_ISON
	h.Add("303", c.onISON)
	// 332 RPL_TOPIC
	h.Add("332", func(_ *girc.Client, e girc.Event) {
		if len(e.Params) < 2 {
			return
		}
		c.setTopic(e.Params[1], e.Last(), "")
	})
	// 353 RPL_NAMREPLY
	h.Add("353", c.onNames)

	// WHOIS replies are collected until 318 RPL_ENDOFWHOIS.
	for _, numeric := range []string{"311", "312", "313", "317", "319", "301",
		"330", "671"} {
		h.Add(numeric, c.onWhoisLine)
	}
	h.Add("318", c.onEndOfWhois)
	// 401 ERR_NOSUCHNICK
	h.Add("401", func(_ *girc.Client, e girc.Event) {
		if len(e.Params) < 2 {
			return
		}
		c.mu.Lock()
		_, pending := c.whois[strings.ToLower(e.Params[1])]
		c.mu.Unlock()
		if pending {
			c.addWhois(e.Params[1], "No such nick")
		}
	})

	// 322 RPL_LIST, 323 RPL_LISTEND
	h.Add("322", c.onListEntry)
	h.Add("323", c.onListEnd)
}

func (c *ircConn) isonLoop() {
	ticker := time.NewTicker(isonInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.pollISON()
		}
	}
}

func (c *ircConn) pollISON() {
	c.mu.Lock()
	names := append([]string(nil), c.watch...)
	c.mu.Unlock()

	for _, batch := range isonBatches(names, 400) {
		if err := c.client.Cmd.SendRaw("ISON " + strings.Join(batch, " ")); err != nil {
			c.log().Warningf("Unable to send ISON: %s", err)
			return
		}
	}
}

// isonBatches splits names into ISON parameter lists of at most max bytes.
func isonBatches(names []string, max int) [][]string {
	var batches [][]string
	var cur []string
	size := 0
	for _, n := range names {
		if n == "" || strings.ContainsAny(n, " ,") {
			continue
		}
		if len(cur) > 0 && size+len(n)+1 > max {
			batches = append(batches, cur)
			cur = nil
			size = 0
		}
		cur = append(cur, n)
		size += len(n) + 1
	}
	if len(cur) > 0 {
		batches = append(batches, cur)
	}
	return batches
}

func (c *ircConn) onISON(_ *girc.Client, e girc.Event) {
	present := map[string]bool{}
	for _, n := range strings.Fields(e.Last()) {
		present[strings.ToLower(n)] = true
	}

	c.mu.Lock()
	var changed []im.Buddy
	for _, n := range c.watch {
		on := present[strings.ToLower(n)]
		if c.online[n] == on {
			continue
		}
		c.online[n] = on
		changed = append(changed, im.Buddy{
			Account:   c.account.ID,
			Name:      n,
			Online:    on,
			Available: on,
		})
	}
	c.mu.Unlock()

	for _, b := range changed {
		c.emit(im.BuddyUpdated{Buddy: b})
	}
}

func (c *ircConn) isChannel(target string) bool {
	return target != "" && strings.ContainsAny(target[:1], "#&+!")
}

func (c *ircConn) chat(name string) im.Conversation {
	c.mu.Lock()
	topic := c.topics[strings.ToLower(name)]
	c.mu.Unlock()
	return im.Conversation{
		Account: c.account.ID,
		Name:    name,
		Kind:    im.ChatConversation,
		Topic:   topic,
	}
}

func (c *ircConn) isMe(nick string) bool {
	return strings.EqualFold(nick, c.client.GetNick())
}

func (c *ircConn) onPrivmsg(_ *girc.Client, e girc.Event) {
	if e.Source == nil || len(e.Params) < 1 {
		return
	}
	target := e.Params[0]
	text := e.Last()
	from := e.Source.Name

	action := false
	if e.IsAction() {
		action = true
		text = e.StripAction()
	} else if strings.HasPrefix(text, "\x01") {
		c.onCTCP(from, target, text)
		return
	}

	if c.isChannel(target) {
		c.emit(im.ChatMessage{
			Conversation: c.chat(target),
			From:         from,
			Text:         text,
			Action:       action,
		})
		return
	}

	c.emit(im.IMReceived{
		Account: c.account.ID,
		From:    from,
		Text:    text,
		Action:  action,
	})
}

func (c *ircConn) onCTCP(from, target, text string) {
	if c.isChannel(target) {
		return
	}

	if offer, err := dcc.ParseSend(text); err == nil {
		t := &ircTransfer{
			info: im.Transfer{
				ID:       uuid.New().String(),
				Account:  c.account.ID,
				Buddy:    from,
				Filename: filepath.Base(offer.Filename),
				Size:     offer.Size,
			},
			offer: offer,
		}
		c.mu.Lock()
		c.transfers[t.info.ID] = t
		c.mu.Unlock()
		c.emit(im.FileRequested{Transfer: t.info})
		return
	}

	body := strings.Trim(text, "\x01")
	if strings.HasPrefix(body, "TYPING ") {
		c.emit(im.TypingChanged{
			Account: c.account.ID,
			From:    from,
			Typing:  strings.TrimPrefix(body, "TYPING ") == "1",
		})
	}
}

func (c *ircConn) onNotice(_ *girc.Client, e girc.Event) {
	if len(e.Params) < 1 {
		return
	}
	from := "*"
	if e.Source != nil && e.Source.Name != "" {
		from = e.Source.Name
	}
	if strings.HasPrefix(e.Last(), "\x01") {
		return
	}
	c.emit(im.Notice{
		Account: c.account.ID,
		Text:    fmt.Sprintf("%s: %s", from, e.Last()),
	})
}

func (c *ircConn) onJoin(_ *girc.Client, e girc.Event) {
	if e.Source == nil || len(e.Params) < 1 {
		return
	}
	channel := e.Params[0]
	key := strings.ToLower(channel)

	if c.isMe(e.Source.Name) {
		c.mu.Lock()
		c.chats[key] = map[string]im.ChatFlags{}
		c.mu.Unlock()
		c.emit(im.ConversationCreated{Conversation: c.chat(channel)})
		return
	}

	c.mu.Lock()
	members, ok := c.chats[key]
	if ok {
		members[e.Source.Name] = 0
	}
	c.mu.Unlock()
	if !ok {
		return
	}

	c.emit(im.ChatBuddyJoined{
		Conversation: c.chat(channel),
		Buddy: im.ChatBuddy{
			Name:     e.Source.Name,
			RealName: e.Source.Ident + "@" + e.Source.Host,
		},
	})
}

func (c *ircConn) leftChat(channel, nick, reason string) {
	key := strings.ToLower(channel)
	if c.isMe(nick) {
		c.mu.Lock()
		delete(c.chats, key)
		c.mu.Unlock()
		c.emit(im.ConversationDestroyed{Conversation: c.chat(channel)})
		return
	}

	c.mu.Lock()
	members, ok := c.chats[key]
	if ok {
		delete(members, nick)
	}
	c.mu.Unlock()
	if !ok {
		return
	}
	c.emit(im.ChatBuddyLeft{Conversation: c.chat(channel), Name: nick,
		Reason: reason})
}

func (c *ircConn) onPart(_ *girc.Client, e girc.Event) {
	if e.Source == nil || len(e.Params) < 1 {
		return
	}
	reason := ""
	if len(e.Params) > 1 {
		reason = e.Last()
	}
	c.leftChat(e.Params[0], e.Source.Name, reason)
}

func (c *ircConn) onKick(_ *girc.Client, e girc.Event) {
	if len(e.Params) < 2 {
		return
	}
	by := ""
	if e.Source != nil {
		by = e.Source.Name
	}
	reason := "Kicked by " + by
	if len(e.Params) > 2 {
		reason += ": " + e.Last()
	}
	c.leftChat(e.Params[0], e.Params[1], reason)
}

func (c *ircConn) onQuit(_ *girc.Client, e girc.Event) {
	if e.Source == nil {
		return
	}
	nick := e.Source.Name

	c.mu.Lock()
	var chats []string
	for key, members := range c.chats {
		if _, ok := members[nick]; ok {
			delete(members, nick)
			chats = append(chats, key)
		}
	}
	sort.Strings(chats)
	c.mu.Unlock()

	for _, ch := range chats {
		c.emit(im.ChatBuddyLeft{Conversation: c.chat(ch), Name: nick,
			Reason: e.Last()})
	}
}

func (c *ircConn) onNick(_ *girc.Client, e girc.Event) {
	if e.Source == nil || len(e.Params) < 1 {
		return
	}
	old := e.Source.Name
	nick := e.Last()

	c.mu.Lock()
	var chats []string
	for key, members := range c.chats {
		if flags, ok := members[old]; ok {
			delete(members, old)
			members[nick] = flags
			chats = append(chats, key)
		}
	}
	sort.Strings(chats)
	c.mu.Unlock()

	for _, ch := range chats {
		c.emit(im.ChatBuddyRenamed{Conversation: c.chat(ch), Old: old, New: nick})
	}
}

func (c *ircConn) setTopic(channel, topic, by string) {
	c.mu.Lock()
	if c.topics == nil {
		c.topics = map[string]string{}
	}
	c.topics[strings.ToLower(channel)] = topic
	c.mu.Unlock()

	c.emit(im.TopicChanged{Conversation: c.chat(channel), Topic: topic, By: by})
}

func (c *ircConn) onTopic(_ *girc.Client, e girc.Event) {
	if len(e.Params) < 1 {
		return
	}
	by := ""
	if e.Source != nil {
		by = e.Source.Name
	}
	topic := ""
	if len(e.Params) > 1 {
		topic = e.Last()
	}
	c.setTopic(e.Params[0], topic, by)
}

// prefixFlags splits a NAMES entry such as @nick into flags and nick.
func prefixFlags(name string) (im.ChatFlags, string) {
	var flags im.ChatFlags
	for len(name) > 0 {
		switch name[0] {
		case '~':
			flags |= im.ChatFounder
		case '&', '@':
			flags |= im.ChatOp
		case '%':
			flags |= im.ChatHalfop
		case '+':
			flags |= im.ChatVoice
		default:
			return flags, name
		}
		name = name[1:]
	}
	return flags, name
}

func (c *ircConn) onNames(_ *girc.Client, e girc.Event) {
	// 353 me = #chan :names
	if len(e.Params) < 3 {
		return
	}
	channel := e.Params[len(e.Params)-2]
	key := strings.ToLower(channel)

	var joined []im.ChatBuddy
	c.mu.Lock()
	members, ok := c.chats[key]
	if ok {
		for _, entry := range strings.Fields(e.Last()) {
			flags, nick := prefixFlags(entry)
			if nick == "" {
				continue
			}
			members[nick] = flags
			joined = append(joined, im.ChatBuddy{
				Name:  nick,
				Flags: flags,
				IsMe:  c.isMe(nick),
			})
		}
	}
	c.mu.Unlock()

	conv := c.chat(channel)
	for _, b := range joined {
		c.emit(im.ChatBuddyJoined{Conversation: conv, Buddy: b})
	}
}

// modeFlag maps a channel mode letter to a participant flag.
func modeFlag(mode byte) im.ChatFlags {
	switch mode {
	case 'q':
		return im.ChatFounder
	case 'o':
		return im.ChatOp
	case 'h':
		return im.ChatHalfop
	case 'v':
		return im.ChatVoice
	default:
		return 0
	}
}

// modeTakesParam tells whether a channel mode letter consumes an argument.
// Only the usual ones are known.
func modeTakesParam(mode byte, adding bool) bool {
	switch mode {
	case 'q', 'o', 'h', 'v', 'b', 'e', 'I', 'k':
		return true
	case 'l':
		return adding
	default:
		return false
	}
}

func (c *ircConn) onMode(_ *girc.Client, e girc.Event) {
	if len(e.Params) < 2 || !c.isChannel(e.Params[0]) {
		return
	}
	channel := e.Params[0]
	key := strings.ToLower(channel)
	modes := e.Params[1]
	args := e.Params[2:]

	var changed []im.ChatBuddy
	c.mu.Lock()
	members, ok := c.chats[key]
	adding := true
	for i := 0; ok && i < len(modes); i++ {
		switch modes[i] {
		case '+':
			adding = true
			continue
		case '-':
			adding = false
			continue
		}
		if !modeTakesParam(modes[i], adding) {
			continue
		}
		if len(args) == 0 {
			break
		}
		arg := args[0]
		args = args[1:]

		flag := modeFlag(modes[i])
		if flag == 0 {
			continue
		}
		flags, present := members[arg]
		if !present {
			continue
		}
		if adding {
			flags |= flag
		} else {
			flags &^= flag
		}
		members[arg] = flags
		changed = append(changed, im.ChatBuddy{Name: arg, Flags: flags,
			IsMe: c.isMe(arg)})
	}
	c.mu.Unlock()

	conv := c.chat(channel)
	for _, b := range changed {
		c.emit(im.ChatBuddyJoined{Conversation: conv, Buddy: b})
	}
}

func (c *ircConn) addWhois(nick, line string) {
	key := strings.ToLower(nick)
	c.mu.Lock()
	c.whois[key] = append(c.whois[key], line)
	c.mu.Unlock()
}

func (c *ircConn) onWhoisLine(_ *girc.Client, e girc.Event) {
	// All of these are: me nick ...
	if len(e.Params) < 2 {
		return
	}
	nick := e.Params[1]
	rest := e.Params[2:]

	var line string
	switch e.Command {
	case "311":
		// me nick user host * :realname
		if len(rest) >= 4 {
			line = fmt.Sprintf("%s!%s@%s (%s)", nick, rest[0], rest[1], rest[3])
		}
	case "312":
		line = "Server: " + strings.Join(rest, " ")
	case "313":
		line = "Is an IRC operator"
	case "317":
		if len(rest) >= 1 {
			idle, err := strconv.Atoi(rest[0])
			if err == nil {
				line = "Idle: " + (time.Duration(idle) * time.Second).String()
			}
		}
	case "319":
		line = "Channels: " + e.Last()
	case "301":
		line = "Away: " + e.Last()
	case "330":
		if len(rest) >= 1 {
			line = "Logged in as " + rest[0]
		}
	case "671":
		line = "Uses a secure connection"
	}
	if line != "" {
		c.addWhois(nick, line)
	}
}

func (c *ircConn) onEndOfWhois(_ *girc.Client, e girc.Event) {
	if len(e.Params) < 2 {
		return
	}
	key := strings.ToLower(e.Params[1])

	c.mu.Lock()
	lines, ok := c.whois[key]
	delete(c.whois, key)
	c.mu.Unlock()
	if !ok {
		return
	}

	c.emit(im.BuddyInfo{Account: c.account.ID, Buddy: e.Params[1], Lines: lines})
}

func (c *ircConn) onListEntry(_ *girc.Client, e girc.Event) {
	// me #chan users :topic
	if len(e.Params) < 3 {
		return
	}
	users, _ := strconv.Atoi(e.Params[2])
	topic := ""
	if len(e.Params) > 3 {
		topic = e.Last()
	}
	c.mu.Lock()
	c.rooms = append(c.rooms, im.Room{Name: e.Params[1], Users: users,
		Topic: topic})
	c.mu.Unlock()
}

func (c *ircConn) onListEnd(_ *girc.Client, e girc.Event) {
	c.mu.Lock()
	rooms := c.rooms
	c.rooms = nil
	c.mu.Unlock()

	c.emit(im.RoomList{Account: c.account.ID, Rooms: rooms})
}

func (c *ircConn) Close() error {
	c.mu.Lock()
	c.closing = true
	transfers := c.transfers
	c.transfers = map[string]*ircTransfer{}
	c.mu.Unlock()

	for _, t := range transfers {
		if t.dcc != nil {
			t.dcc.Cancel()
		}
	}

	c.client.Close()
	return nil
}

func (c *ircConn) Watch(names []string) {
	c.mu.Lock()
	c.watch = append([]string(nil), names...)
	keep := map[string]bool{}
	for _, n := range names {
		keep[n] = true
	}
	for n := range c.online {
		if !keep[n] {
			delete(c.online, n)
		}
	}
	c.mu.Unlock()

	if c.client.IsConnected() {
		c.pollISON()
	}
}

func (c *ircConn) SetAway(message string) error {
	if message == "" {
		c.client.Cmd.Back()
		return nil
	}
	c.client.Cmd.Away(message)
	return nil
}

func (c *ircConn) SendIM(to, text string, action bool) error {
	if action {
		c.client.Cmd.Action(to, text)
		return nil
	}
	c.client.Cmd.Message(to, text)
	return nil
}

// SendTyping does nothing. IRC has no typing notification most clients
// understand.
func (c *ircConn) SendTyping(to string, typing bool) error {
	return nil
}

func (c *ircConn) SendFile(to, path string) error {
	_, offer, err := dcc.SendFile(c.env.DCC, to, path,
		func(t *dcc.Transfer, err error) {
			if err != nil {
				c.emit(im.Notice{Account: c.account.ID,
					Text: fmt.Sprintf("Transfer of %s to %s failed: %s", t.Filename, to,
						err)})
				return
			}
			c.emit(im.Notice{Account: c.account.ID,
				Text: fmt.Sprintf("Transfer of %s to %s complete", t.Filename, to)})
		})
	if err != nil {
		return err
	}
	c.client.Cmd.Message(to, offer.String())
	return nil
}

func (c *ircConn) JoinChat(name, key string) error {
	if name == "" || strings.ContainsAny(name, " ,\x07") {
		return errors.Errorf("invalid channel name %s", name)
	}
	if !c.isChannel(name) {
		name = "#" + name
	}
	if key != "" {
		c.client.Cmd.JoinKey(name, key)
		return nil
	}
	c.client.Cmd.Join(name)
	return nil
}

func (c *ircConn) LeaveChat(name string) error {
	c.client.Cmd.Part(name)
	return nil
}

func (c *ircConn) SendChat(name, text string, action bool) error {
	if err := c.SendIM(name, text, action); err != nil {
		return err
	}
	// IRC servers do not echo our own messages.
	c.emit(im.ChatMessage{Conversation: c.chat(name), Text: text,
		Action: action})
	return nil
}

func (c *ircConn) SetChatTopic(name, topic string) error {
	c.client.Cmd.Topic(name, topic)
	return nil
}

func (c *ircConn) InviteChat(name, who, message string) error {
	c.client.Cmd.Invite(name, who)
	return nil
}

func (c *ircConn) RequestRoomList() error {
	c.mu.Lock()
	c.rooms = nil
	c.mu.Unlock()
	return c.client.Cmd.SendRaw("LIST")
}

func (c *ircConn) RequestBuddyInfo(name string) error {
	c.mu.Lock()
	c.whois[strings.ToLower(name)] = nil
	c.mu.Unlock()
	c.client.Cmd.Whois(name)
	return nil
}

var ircCommands = []string{"lusers", "motd", "raw", "version"}

func (c *ircConn) Commands() []string {
	return ircCommands
}

func (c *ircConn) RunCommand(command string) im.CmdStatus {
	verb, args := splitCommand(command)
	switch verb {
	case "motd", "lusers", "version":
		if err := c.client.Cmd.SendRaw(strings.ToUpper(verb)); err != nil {
			return im.CmdFailed
		}
		return im.CmdOK
	case "raw":
		if args == "" {
			return im.CmdWrongArgs
		}
		if err := c.client.Cmd.SendRaw(args); err != nil {
			return im.CmdFailed
		}
		return im.CmdOK
	default:
		return im.CmdNotFound
	}
}

func (c *ircConn) ChatCommand(chat, command string) im.CmdStatus {
	verb, args := splitCommand(command)
	var mode string
	switch verb {
	case "op":
		mode = "+o"
	case "deop":
		mode = "-o"
	case "voice":
		mode = "+v"
	case "devoice":
		mode = "-v"
	case "kick":
		if args == "" {
			return im.CmdWrongArgs
		}
		nick, reason := splitCommand(args)
		c.client.Cmd.Kick(chat, nick, reason)
		return im.CmdOK
	default:
		return im.CmdNotFound
	}
	if args == "" || strings.Contains(args, " ") {
		return im.CmdWrongArgs
	}
	if err := c.client.Cmd.SendRaw(fmt.Sprintf("MODE %s %s %s", chat, mode,
		args)); err != nil {
		return im.CmdFailed
	}
	return im.CmdOK
}

func (c *ircConn) BuddyCommand(buddy, command string) im.CmdStatus {
	verb, _ := splitCommand(command)
	switch verb {
	case "whois":
		c.client.Cmd.Whois(buddy)
		return im.CmdOK
	case "version", "ping", "time":
		c.client.Cmd.Message(buddy, "\x01"+strings.ToUpper(verb)+"\x01")
		return im.CmdOK
	default:
		return im.CmdNotFound
	}
}

// splitCommand splits off the first word, lowercased.
func splitCommand(command string) (string, string) {
	command = strings.TrimSpace(command)
	i := strings.IndexByte(command, ' ')
	if i == -1 {
		return strings.ToLower(command), ""
	}
	return strings.ToLower(command[:i]), strings.TrimSpace(command[i+1:])
}

func (c *ircConn) AcceptTransfer(id, path string) error {
	c.mu.Lock()
	t, ok := c.transfers[id]
	c.mu.Unlock()
	if !ok {
		return errors.Errorf("unknown transfer %s", id)
	}

	tr, err := dcc.Get(t.offer, t.info.Buddy, filepath.Dir(path),
		filepath.Base(path), func(_ *dcc.Transfer, err error) {
			c.mu.Lock()
			delete(c.transfers, id)
			c.mu.Unlock()

			if err != nil {
				c.emit(im.Notice{Account: c.account.ID,
					Text: fmt.Sprintf("Transfer of %s from %s failed: %s",
						t.info.Filename, t.info.Buddy, err)})
				return
			}
			info := t.info
			info.Path = path
			c.emit(im.FileReceived{Transfer: info})
		})
	if err != nil {
		return err
	}

	c.mu.Lock()
	t.dcc = tr
	c.mu.Unlock()
	return nil
}

func (c *ircConn) CancelTransfer(id string) error {
	c.mu.Lock()
	t, ok := c.transfers[id]
	delete(c.transfers, id)
	c.mu.Unlock()
	if ok && t.dcc != nil {
		t.dcc.Cancel()
	}
	return nil
}
