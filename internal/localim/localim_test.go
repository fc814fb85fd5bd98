package localim

import (
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/horgh/minbif/internal/im"
	"github.com/horgh/minbif/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

type fakeDriver struct {
	mu    sync.Mutex
	conns []*fakeConn
}

func (d *fakeDriver) Protocol() im.Protocol {
	return im.Protocol{
		ID:   "fake",
		Name: "Fake",
		Options: im.Options{
			{Name: "server", Type: im.OptionString, Required: true},
			{Name: "port", Type: im.OptionInt, Value: "1"},
		},
	}
}

func (d *fakeDriver) ChatParameters() map[string]string {
	return map[string]string{"room": "Room"}
}

func (d *fakeDriver) Dial(account im.Account, env Env) (Conn, error) {
	c := &fakeConn{account: account, env: env}
	d.mu.Lock()
	d.conns = append(d.conns, c)
	d.mu.Unlock()
	return c, nil
}

func (d *fakeDriver) last() *fakeConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.conns[len(d.conns)-1]
}

type fakeConn struct {
	account im.Account
	env     Env

	mu      sync.Mutex
	closed  bool
	watched []string
	sent    []string
	away    string
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	return nil
}

func (c *fakeConn) Watch(names []string) {
	c.mu.Lock()
	c.watched = names
	c.mu.Unlock()
}

func (c *fakeConn) SetAway(message string) error {
	c.mu.Lock()
	c.away = message
	c.mu.Unlock()
	return nil
}

func (c *fakeConn) SendIM(to, text string, action bool) error {
	c.mu.Lock()
	c.sent = append(c.sent, to+": "+text)
	c.mu.Unlock()
	return nil
}

func (c *fakeConn) SendTyping(to string, typing bool) error    { return nil }
func (c *fakeConn) SendFile(to, path string) error             { return nil }
func (c *fakeConn) JoinChat(name, key string) error            { return nil }
func (c *fakeConn) LeaveChat(name string) error                { return nil }
func (c *fakeConn) SetChatTopic(name, topic string) error      { return nil }
func (c *fakeConn) InviteChat(name, who, message string) error { return nil }
func (c *fakeConn) RequestRoomList() error                     { return nil }
func (c *fakeConn) RequestBuddyInfo(name string) error         { return nil }
func (c *fakeConn) Commands() []string                         { return []string{"hello"} }
func (c *fakeConn) AcceptTransfer(id, path string) error       { return nil }
func (c *fakeConn) CancelTransfer(id string) error             { return nil }

func (c *fakeConn) SendChat(name, text string, action bool) error {
	return c.SendIM(name, text, action)
}

func (c *fakeConn) RunCommand(command string) im.CmdStatus {
	if command == "hello" {
		return im.CmdOK
	}
	return im.CmdNotFound
}

func (c *fakeConn) ChatCommand(chat, command string) im.CmdStatus {
	return im.CmdNotFound
}

func (c *fakeConn) BuddyCommand(buddy, command string) im.CmdStatus {
	return im.CmdWrongType
}

type recorder struct {
	mu     sync.Mutex
	events []im.Event
}

func (r *recorder) sink(ev im.Event) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

func (r *recorder) all() []im.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]im.Event(nil), r.events...)
}

func newTestFactory(t *testing.T) (*Factory, *fakeDriver) {
	s, err := store.Open(":memory:")
	require.NoError(t, err)
	s.BcryptCost = bcrypt.MinCost
	t.Cleanup(func() { _ = s.Close() })

	d := &fakeDriver{}
	return &Factory{
		Store:   s,
		Path:    t.TempDir(),
		Drivers: []Driver{d},
	}, d
}

func fakeOptions(server string) im.Options {
	return im.Options{{Name: "server", Value: server}}
}

func TestFactory(t *testing.T) {
	f, _ := newTestFactory(t)

	_, err := f.Open("bob", "password1", nil)
	assert.Equal(t, im.ErrNoSuchIdentity, err)

	m, err := f.Create("bob", "password1", nil)
	require.NoError(t, err)
	assert.Equal(t, "bob", m.Username())
	_, err = os.Stat(m.UserPath())
	assert.NoError(t, err)

	_, err = f.Create("bob", "password1", nil)
	assert.Equal(t, im.ErrIdentityExists, err)

	_, err = f.Open("bob", "wrongpass", nil)
	assert.Equal(t, im.ErrBadPassword, err)

	exists, err := f.Exists("bob")
	require.NoError(t, err)
	assert.True(t, exists)

	require.NoError(t, m.SetPassword("password2"))
	_, err = f.Open("bob", "password2", nil)
	assert.NoError(t, err)
}

func TestAddAccount(t *testing.T) {
	f, _ := newTestFactory(t)
	m, err := f.Create("bob", "password1", nil)
	require.NoError(t, err)

	_, err = m.AddAccount("nope", "bob", nil, false)
	assert.Equal(t, im.ErrUnknownProtocol, err)

	_, err = m.AddAccount("fake", "bob", nil, false)
	assert.Equal(t, im.OptionError{Option: "server", Reason: "is required"}, err)

	_, err = m.AddAccount("fake", "bob", im.Options{{Name: "nope", Value: "x"}}, false)
	assert.Error(t, err)

	a, err := m.AddAccount("fake", "bob", fakeOptions("example.org"), false)
	require.NoError(t, err)
	assert.Equal(t, "fake0", a.ID)
	assert.Equal(t, "bob:fake0", a.ServerName())
	assert.Equal(t, "example.org", a.Options.Value("server"))
	assert.Equal(t, "1", a.Options.Value("port"))
	assert.True(t, a.AutoConnect())

	b, err := m.AddAccount("fake", "alice", fakeOptions("example.com"), false)
	require.NoError(t, err)
	assert.Equal(t, "fake1", b.ID)

	_, err = m.UpdateAccount("fake0", im.Options{{Name: "port", Value: "x"}})
	assert.Error(t, err)
	a, err = m.UpdateAccount("fake0", im.Options{{Name: "port", Value: "2"}})
	require.NoError(t, err)
	assert.Equal(t, "2", a.Options.Value("port"))

	// Accounts survive a reopen.
	m2, err := f.Open("bob", "password1", nil)
	require.NoError(t, err)
	accounts := m2.Accounts()
	require.Len(t, accounts, 2)
	assert.Equal(t, "fake0", accounts[0].ID)
	assert.Equal(t, "2", accounts[0].Options.Value("port"))
	assert.Equal(t, "alice", accounts[1].Username)

	require.NoError(t, m2.DeleteAccount("fake1"))
	assert.Len(t, m2.Accounts(), 1)
	assert.Equal(t, im.ErrUnknownAccount, m2.DeleteAccount("fake1"))
}

func TestConnectAndEvents(t *testing.T) {
	f, d := newTestFactory(t)
	rec := &recorder{}
	m, err := f.Create("bob", "password1", rec.sink)
	require.NoError(t, err)

	a, err := m.AddAccount("fake", "bob", fakeOptions("example.org"), false)
	require.NoError(t, err)
	require.NoError(t, m.AddBuddy(a.ID, "alice", "Buddies"))

	assert.Equal(t, im.ErrNotConnected, m.SendIM(a.ID, "alice", "hi", false))

	require.NoError(t, m.Connect(a.ID))
	conn := d.last()
	assert.Equal(t, []string{"alice"}, conn.env.Buddies)

	acct, err := m.Account(a.ID)
	require.NoError(t, err)
	assert.Equal(t, im.Connecting, acct.State)

	conn.env.Sink(im.AccountStateChanged{Account: a, State: im.Connected})
	acct, err = m.Account(a.ID)
	require.NoError(t, err)
	assert.Equal(t, im.Connected, acct.State)

	require.NoError(t, m.SendIM(a.ID, "alice", "hi", false))
	assert.Equal(t, []string{"alice: hi"}, conn.sent)

	// Presence merges with the roster. Names off the roster are dropped.
	conn.env.Sink(im.BuddyUpdated{Buddy: im.Buddy{Account: a.ID, Name: "alice",
		Online: true, Available: true}})
	conn.env.Sink(im.BuddyUpdated{Buddy: im.Buddy{Account: a.ID, Name: "mallory",
		Online: true}})
	buddies := m.Buddies(a.ID)
	require.Len(t, buddies, 1)
	assert.True(t, buddies[0].Online)
	assert.Equal(t, "Buddies", buddies[0].Group)

	// Denied senders are dropped.
	require.NoError(t, m.AddDeny(a.ID, "mallory"))
	assert.Equal(t, []string{"mallory"}, m.DenyList(a.ID))
	conn.env.Sink(im.IMReceived{Account: a.ID, From: "mallory", Text: "spam"})
	conn.env.Sink(im.IMReceived{Account: a.ID, From: "alice", Text: "hello"})

	var ims []im.IMReceived
	var updates []im.BuddyUpdated
	for _, ev := range rec.all() {
		switch e := ev.(type) {
		case im.IMReceived:
			ims = append(ims, e)
		case im.BuddyUpdated:
			updates = append(updates, e)
		}
	}
	require.Len(t, ims, 1)
	assert.Equal(t, "alice", ims[0].From)
	// One from AddBuddy, one from the driver.
	require.Len(t, updates, 2)
	assert.Equal(t, "Buddies", updates[1].Buddy.Group)

	assert.Equal(t, im.CmdOK, m.RunCommand(a.ID, "hello"))
	assert.Equal(t, []string{"hello"}, m.Commands(a.ID))
	assert.Equal(t, map[string]string{"room": "Room"}, m.ChatParameters(a.ID))

	require.NoError(t, m.SetAway("gone"))
	assert.Equal(t, "gone", m.Away())
	assert.Equal(t, "gone", conn.away)

	require.NoError(t, m.RemoveBuddy(a.ID, "alice"))
	assert.Empty(t, m.Buddies(a.ID))
	assert.Empty(t, conn.watched)

	require.NoError(t, m.Disconnect(a.ID))
	assert.True(t, conn.closed)
	acct, err = m.Account(a.ID)
	require.NoError(t, err)
	assert.Equal(t, im.Disconnected, acct.State)
}

func TestDriverDisconnect(t *testing.T) {
	f, d := newTestFactory(t)
	rec := &recorder{}
	m, err := f.Create("bob", "password1", rec.sink)
	require.NoError(t, err)

	a, err := m.AddAccount("fake", "bob", fakeOptions("example.org"), true)
	require.NoError(t, err)
	conn := d.last()
	conn.env.Sink(im.AccountStateChanged{Account: a, State: im.Connected})
	conn.env.Sink(im.AccountStateChanged{Account: a, State: im.Disconnected,
		Transient: true})

	acct, err := m.Account(a.ID)
	require.NoError(t, err)
	assert.Equal(t, im.Disconnected, acct.State)

	// A new connection can be made.
	require.NoError(t, m.Connect(a.ID))
	assert.Len(t, d.conns, 2)

	require.NoError(t, m.Close())
	assert.True(t, d.last().closed)

	// Nothing is delivered after Close.
	n := len(rec.all())
	d.last().env.Sink(im.Notice{Account: a.ID, Text: "late"})
	assert.Len(t, rec.all(), n)
}

func TestSetIcon(t *testing.T) {
	f, _ := newTestFactory(t)
	m, err := f.Create("bob", "password1", nil)
	require.NoError(t, err)

	src := filepath.Join(t.TempDir(), "me.png")
	require.NoError(t, os.WriteFile(src, []byte("png"), 0o600))
	require.NoError(t, m.SetIcon(src))

	got, err := os.ReadFile(filepath.Join(m.UserPath(), "icon"))
	require.NoError(t, err)
	assert.Equal(t, []byte("png"), got)
}
