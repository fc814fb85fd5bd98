package gateway

import (
	"io"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/horgh/irc"
	"github.com/horgh/minbif/internal/dcc"
	"github.com/horgh/minbif/internal/im"
	"github.com/horgh/minbif/internal/message"
	"github.com/horgh/minbif/internal/metrics"
	"github.com/horgh/minbif/internal/nickname"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Session is one IRC client bridged to one identity.
//
// Everything below is owned by the goroutine running eventLoop. Other
// goroutines talk to it through events or enqueue.
type Session struct {
	id      string
	hub     *Hub
	factory im.Factory
	im      im.IM
	conn    Conn
	log     *logrus.Entry

	// WriteChan is the channel to send to to write to the client.
	writeChan chan irc.Message

	// If we exceed the send queue we cut the client off.
	sendQueueExceeded bool

	// events carries lines from the client and ping ticks.
	events chan event

	// queue holds work from other goroutines. They never block on it.
	queueMu    sync.Mutex
	queue      []func()
	queueReady chan struct{}

	// done is closed once the event loop ended.
	done    chan struct{}
	closing bool
	wg      sync.WaitGroup

	server   *Server
	user     *Nick
	service  *Nick
	iconNick *Nick

	// Keys are lowercased.
	nicks    map[string]*Nick
	channels map[string]*Channel
	servers  map[string]*Server

	// accountServers maps account IDs to their remote server.
	accountServers map[string]*Server

	// peers maps account and IM name to buddies and unknown buddies.
	peers map[string]*Nick

	password string
	lastRead time.Time
	counts   map[string]int

	tasks        map[*Task]struct{}
	reconnects   map[string]*reconnect
	pendingJoins map[string][]pendingJoin
	pendingInfo  map[string]string
	sendQueues   map[message.Entity]*sendQueue
	transfers    map[string]*dcc.Transfer

	// justAdded is the account shown as just added in the next MAP.
	justAdded string

	awayIdle *Task
	autoAway bool

	convLog *convLogger

	// For the log hook, which runs on any goroutine.
	registered int32
	logLevel   int32
}

type eventType int

const (
	nullEvent eventType = iota

	// messageEvent means the client sent a line.
	messageEvent

	// deadClientEvent means reading or writing failed.
	deadClientEvent

	// wakeUpEvent means it is time to check the client is alive.
	wakeUpEvent
)

type event struct {
	typ     eventType
	message irc.Message
	reason  string
}

// NewSession sets up a session on a client connection. Call Run to serve
// it.
func NewSession(hub *Hub, factory im.Factory, rwc io.ReadWriteCloser,
	logger *logrus.Logger) *Session {
	id := uuid.New().String()
	config := hub.Config()

	s := &Session{
		id:             id,
		hub:            hub,
		factory:        factory,
		writeChan:      make(chan irc.Message, 32768),
		events:         make(chan event),
		queueReady:     make(chan struct{}, 1),
		done:           make(chan struct{}),
		nicks:          map[string]*Nick{},
		channels:       map[string]*Channel{},
		servers:        map[string]*Server{},
		accountServers: map[string]*Server{},
		peers:          map[string]*Nick{},
		lastRead:       time.Now(),
		counts:         map[string]int{},
		tasks:          map[*Task]struct{}{},
		reconnects:     map[string]*reconnect{},
		pendingJoins:   map[string][]pendingJoin{},
		pendingInfo:    map[string]string{},
		sendQueues:     map[message.Entity]*sendQueue{},
		transfers:      map[string]*dcc.Transfer{},
		logLevel:       int32(logrus.WarnLevel),
	}

	s.log = newSessionLogger(logger, s).WithField("session", id)
	s.conn = NewConn(rwc, config.IOWait, s.log)

	s.server = newServer(config.ServerName, config.ServerInfo, "")
	s.addServer(s.server)

	host := "localhost"
	if addr := s.conn.RemoteAddr(); addr != "" {
		if h, _, err := net.SplitHostPort(addr); err == nil {
			host = h
		}
	}
	s.user = &Nick{s: s, kind: UserNick, nick: "*", host: host,
		server: s.server}

	s.service = &Nick{s: s, kind: ServiceNick, nick: "root", ident: "root",
		host: config.ServerName, realname: "User Manager", server: s.server}
	s.addNick(s.service)

	s.iconNick = &Nick{s: s, kind: BuddyIconNick, nick: "buddyicon",
		ident: "buddyicon", host: config.ServerName, realname: "Buddy Icon",
		server: s.server}
	s.addNick(s.iconNick)

	return s
}

// Run serves the client until the session ends.
func (s *Session) Run() {
	s.hub.register(s)
	defer s.hub.unregister(s)
	metrics.Sessions.Inc()
	defer metrics.Sessions.Dec()

	s.log.Infof("New client connection from %s", s.user.host)

	s.wg.Add(1)
	go s.writeLoop()

	go s.readLoop()

	if interval := s.config().PingInterval; interval > 0 {
		s.wg.Add(1)
		go s.alarm(interval)
	}

	s.eventLoop()

	s.cleanUp()
	close(s.done)
	s.wg.Wait()

	s.log.Infof("Session ended")
}

// Shutdown ends the session. Any goroutine may call it.
func (s *Session) Shutdown(reason string) {
	s.enqueue(func() { s.quit(reason) })
}

func (s *Session) config() *Config {
	return s.hub.Config()
}

// eventLoop processes events until the session closes.
func (s *Session) eventLoop() {
	for !s.closing {
		select {
		case evt := <-s.events:
			s.handleEvent(evt)
		case <-s.queueReady:
			s.runQueue()
		}

		if s.sendQueueExceeded && !s.closing {
			s.quit("SendQ exceeded")
		}
	}
}

func (s *Session) handleEvent(evt event) {
	switch evt.typ {
	case messageEvent:
		s.handleMessage(evt.message)
	case deadClientEvent:
		s.quit(evt.reason)
	case wakeUpEvent:
		s.checkPing()
	default:
		s.log.Errorf("Unexpected event: %d", evt.typ)
	}
}

// enqueue runs fn on the event loop. It never blocks.
func (s *Session) enqueue(fn func()) {
	select {
	case <-s.done:
		return
	default:
	}

	s.queueMu.Lock()
	s.queue = append(s.queue, fn)
	s.queueMu.Unlock()

	select {
	case s.queueReady <- struct{}{}:
	default:
	}
}

func (s *Session) runQueue() {
	s.queueMu.Lock()
	fns := s.queue
	s.queue = nil
	s.queueMu.Unlock()

	for _, fn := range fns {
		if s.closing {
			return
		}
		fn()
	}
}

// newEvent tells the event loop something happened. It gives up once the
// session ended. It returns whether the event was delivered.
func (s *Session) newEvent(evt event) bool {
	select {
	case s.events <- evt:
		return true
	case <-s.done:
		return false
	}
}

// readLoop reads lines from the client, parses them, and passes them to the
// event loop.
func (s *Session) readLoop() {
	for {
		buf, err := s.conn.Read()
		if err != nil {
			reason := "Connection reset by peer"
			if cause := errors.Cause(err); cause != io.EOF {
				reason = "Read error: " + cause.Error()
			}
			s.log.Debugf("Reader stopping: %s", err)
			s.newEvent(event{typ: deadClientEvent, reason: reason})
			return
		}

		if strings.TrimSpace(buf) == "" {
			continue
		}

		m, err := irc.ParseMessage(buf)
		if err != nil && err != irc.ErrTruncated {
			s.log.Debugf("Invalid message: %q: %s", buf, err)
			continue
		}

		if !s.newEvent(event{typ: messageEvent, message: m}) {
			return
		}
	}
}

// writeLoop writes queued messages until the write channel closes, then
// closes the connection. Draining first means the client sees why it was
// cut off.
func (s *Session) writeLoop() {
	defer s.wg.Done()

	for m := range s.writeChan {
		if err := s.conn.WriteMessage(m); err != nil {
			s.log.Debugf("Writer stopping: %s", err)
			s.newEvent(event{typ: deadClientEvent, reason: "Write error"})
			break
		}
	}

	if err := s.conn.Close(); err != nil {
		s.log.Debugf("Problem closing connection: %s", err)
	}
}

// alarm wakes up the event loop periodically so we can ping the client.
func (s *Session) alarm(interval time.Duration) {
	defer s.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if !s.newEvent(event{typ: wakeUpEvent}) {
				return
			}
		case <-s.done:
			return
		}
	}
}

// checkPing pings a quiet client, and cuts it off if it stayed quiet since
// the last ping.
func (s *Session) checkPing() {
	interval := s.config().PingInterval
	if interval <= 0 || time.Since(s.lastRead) < interval {
		return
	}

	if s.user.HasFlag(FlagRegistered) && !s.user.HasFlag(FlagPing) {
		s.user.setFlag(FlagPing)
		s.send(message.New("PING").Add(s.server.name))
		return
	}

	s.quit("Ping timeout")
}

// quit tells the client why it is being cut off and closes the write side.
// The event loop ends after this.
func (s *Session) quit(reason string) {
	if s.closing {
		return
	}

	s.log.Infof("Closing link: %s", reason)
	s.send(message.New("ERROR").Add("Closing Link: " + reason))
	s.closing = true
	close(s.writeChan)
}

// cleanUp releases what the session holds once the loop ended.
func (s *Session) cleanUp() {
	for t := range s.tasks {
		t.Cancel()
	}
	for _, t := range s.transfers {
		t.Cancel()
	}
	if s.im != nil {
		if err := s.im.Close(); err != nil {
			s.log.Warningf("Error closing identity: %s", err)
		}
	}
	atomic.StoreInt32(&s.registered, 0)
}

func (s *Session) send(m *message.Message) {
	s.maybeQueueMessage(m.ToIRC())
}

// maybeQueueMessage queues a message without blocking. If the queue is full
// the client is too slow and gets cut off.
func (s *Session) maybeQueueMessage(m irc.Message) {
	if s.closing || s.sendQueueExceeded {
		return
	}

	select {
	case s.writeChan <- m:
	default:
		s.sendQueueExceeded = true
	}
}

// reply sends a numeric from the server to the user.
func (s *Session) reply(numeric string, args ...string) {
	s.user.Send(message.New(numeric).SetSender(s.server).SetReceiver(s.user).
		Add(args...))
}

// notice sends a NOTICE from the server to the user.
func (s *Session) notice(text string) {
	s.user.Send(message.New("NOTICE").SetSender(s.server).SetReceiver(s.user).
		Add(text))
}

// noticeFrom sends a NOTICE to the user from someone else.
func (s *Session) noticeFrom(from message.Entity, text string) {
	s.user.Send(message.New("NOTICE").SetSender(from).SetReceiver(s.user).
		Add(text))
}

// Task is a callback run on the event loop after a delay.
type Task struct {
	s         *Session
	timer     *time.Timer
	fn        func()
	cancelled bool
}

// after runs fn on the event loop once d elapsed.
func (s *Session) after(d time.Duration, fn func()) *Task {
	t := &Task{s: s, fn: fn}
	s.tasks[t] = struct{}{}
	t.timer = time.AfterFunc(d, func() { s.enqueue(t.run) })
	return t
}

// run runs the task unless it was cancelled or already ran.
func (t *Task) run() {
	if t.cancelled {
		return
	}
	t.cancelled = true
	delete(t.s.tasks, t)
	t.fn()
}

// Cancel stops the task. It must run on the event loop. A nil task is
// fine.
func (t *Task) Cancel() {
	if t == nil {
		return
	}
	t.cancelled = true
	t.timer.Stop()
	delete(t.s.tasks, t)
}

func (s *Session) nick(name string) *Nick {
	return s.nicks[nickname.Canonicalize(name)]
}

func (s *Session) nickInUse(name string) bool {
	return s.nick(name) != nil
}

func (s *Session) insertNick(n *Nick) {
	key := nickname.Canonicalize(n.nick)
	if other, ok := s.nicks[key]; ok && other != n {
		s.log.Warningf("Desynchronization: nick %s already exists", n.nick)
	}
	s.nicks[key] = n
}

// addNick registers a nick and adds it to its server.
func (s *Session) addNick(n *Nick) {
	s.insertNick(n)
	if n.server != nil {
		n.server.addNick(n)
	}
}

// removeNick unregisters a nick.
func (s *Session) removeNick(n *Nick) {
	key := nickname.Canonicalize(n.nick)
	if s.nicks[key] == n {
		delete(s.nicks, key)
	}
	if n.server != nil {
		n.server.removeNick(n)
	}
	if n.kind == BuddyNick || n.kind == UnknownBuddyNick {
		key := peerKey(n.account, n.imName())
		if s.peers[key] == n {
			delete(s.peers, key)
		}
	}
	if q := s.sendQueues[n]; q != nil {
		q.task.Cancel()
		delete(s.sendQueues, n)
	}
}

// renameNick moves a nick to its new key. Callers iterating over the
// registry must start over afterwards.
func (s *Session) renameNick(n *Nick, newNick string) {
	key := nickname.Canonicalize(n.nick)
	if s.nicks[key] == n {
		delete(s.nicks, key)
	}
	n.nick = newNick
	if n != s.user || newNick != "*" {
		s.insertNick(n)
	}
}

// destroyNick takes a nick off every channel and out of the registry.
func (s *Session) destroyNick(n *Nick, reason string) {
	n.quitChannels(reason)
	s.removeNick(n)
}

// uniqueNick gives a free nickname based on n.
func (s *Session) uniqueNick(n string) string {
	return nickname.Unique(n, s.nickInUse)
}

func (s *Session) channel(name string) *Channel {
	return s.channels[strings.ToLower(name)]
}

func (s *Session) addChannel(c *Channel) {
	key := strings.ToLower(c.name)
	if _, ok := s.channels[key]; ok {
		s.log.Warningf("Desynchronization: channel %s already exists", c.name)
	}
	s.channels[key] = c
}

func (s *Session) removeChannel(c *Channel) {
	key := strings.ToLower(c.name)
	if s.channels[key] == c {
		delete(s.channels, key)
	}
}

func (s *Session) serverByName(name string) *Server {
	return s.servers[strings.ToLower(name)]
}

func (s *Session) addServer(srv *Server) {
	key := strings.ToLower(srv.name)
	if _, ok := s.servers[key]; ok {
		s.log.Warningf("Desynchronization: server %s already exists", srv.name)
	}
	s.servers[key] = srv
	if srv.account != "" {
		s.accountServers[srv.account] = srv
	}
}

func (s *Session) removeServer(srv *Server) {
	key := strings.ToLower(srv.name)
	if s.servers[key] == srv {
		delete(s.servers, key)
	}
	if srv.account != "" && s.accountServers[srv.account] == srv {
		delete(s.accountServers, srv.account)
	}
}
