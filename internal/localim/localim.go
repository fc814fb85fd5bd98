// Package localim is the messaging backend: identities kept in the local
// store, with accounts connected through protocol drivers.
package localim

import (
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/horgh/minbif/internal/dcc"
	"github.com/horgh/minbif/internal/im"
	"github.com/horgh/minbif/internal/store"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Setting keys the IM keeps for itself.
const (
	settingAway = "away"
	settingIcon = "icon"
)

// Factory opens identities from a store.
type Factory struct {
	Store *store.Store

	// Path is the directory holding one directory per identity.
	Path string

	Drivers []Driver

	DCC dcc.Config

	Log *logrus.Entry
}

// Exists tells whether the identity exists.
func (f *Factory) Exists(username string) (bool, error) {
	return f.Store.IdentityExists(username)
}

// Open authenticates and opens an identity.
func (f *Factory) Open(username, password string, sink im.EventSink) (im.IM, error) {
	if err := f.Store.CheckPassword(username, password); err != nil {
		switch err {
		case store.ErrNotFound:
			return nil, im.ErrNoSuchIdentity
		case store.ErrBadPassword:
			return nil, im.ErrBadPassword
		default:
			return nil, err
		}
	}
	return f.open(username, sink)
}

// Create creates an identity and opens it.
func (f *Factory) Create(username, password string, sink im.EventSink) (im.IM, error) {
	if err := f.Store.CreateIdentity(username, password); err != nil {
		if err == store.ErrExists {
			return nil, im.ErrIdentityExists
		}
		return nil, err
	}
	return f.open(username, sink)
}

func (f *Factory) open(username string, sink im.EventSink) (*IM, error) {
	log := f.Log
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}

	m := &IM{
		store:    f.Store,
		username: username,
		path:     filepath.Join(f.Path, username),
		drivers:  map[string]Driver{},
		dcc:      f.DCC,
		sink:     sink,
		log:      log.WithField("identity", username),
		accounts: map[string]*accountState{},
	}
	for _, d := range f.Drivers {
		m.drivers[d.Protocol().ID] = d
	}

	if err := os.MkdirAll(m.path, 0o700); err != nil {
		return nil, errors.Wrap(err, "unable to create identity directory")
	}

	records, err := f.Store.Accounts(username)
	if err != nil {
		return nil, errors.Wrap(err, "unable to load accounts")
	}
	for _, rec := range records {
		proto, err := m.Protocol(rec.Protocol)
		if err != nil {
			m.log.Warningf("Account %s uses unknown protocol %s, skipping", rec.ID,
				rec.Protocol)
			continue
		}
		opts := proto.Options.Clone()
		for k, v := range rec.Options {
			if err := opts.Set(k, v); err != nil {
				m.log.Warningf("Account %s: %s", rec.ID, err)
			}
		}
		m.accounts[rec.ID] = &accountState{
			account: im.Account{
				ID:       rec.ID,
				Protocol: rec.Protocol,
				Username: rec.Username,
				Options:  opts,
			},
			presence: map[string]im.Buddy{},
		}
	}

	return m, nil
}

type accountState struct {
	account  im.Account
	conn     Conn
	presence map[string]im.Buddy
}

// IM is an opened identity.
type IM struct {
	store    *store.Store
	username string
	path     string
	drivers  map[string]Driver
	dcc      dcc.Config
	sink     im.EventSink
	log      *logrus.Entry

	mu        sync.Mutex
	accounts  map[string]*accountState
	transfers map[string]im.Transfer
	closed    bool
}

// Username is the identity name.
func (m *IM) Username() string { return m.username }

// SetPassword changes the identity password.
func (m *IM) SetPassword(password string) error {
	return m.store.SetPassword(m.username, password)
}

// Setting returns a stored preference.
func (m *IM) Setting(key string) string {
	v, err := m.store.Setting(m.username, key)
	if err != nil {
		m.log.Errorf("Unable to read setting %s: %s", key, err)
		return ""
	}
	return v
}

// SetSetting stores a preference.
func (m *IM) SetSetting(key, value string) error {
	return m.store.SetSetting(m.username, key, value)
}

// UserPath is the identity's directory.
func (m *IM) UserPath() string { return m.path }

func commonOptions() im.Options {
	return im.Options{
		{Name: im.OptPassword, Type: im.OptionPassword, Text: "Password"},
		{Name: im.OptStatusChannel, Type: im.OptionString, Text: "Status channel"},
		{Name: im.OptServerAliases, Type: im.OptionBool, Value: "true",
			Text: "Show the username in the server name"},
		{Name: im.OptAutoConnect, Type: im.OptionBool, Value: "true",
			Text: "Connect at login"},
	}
}

// Protocols lists the protocols sorted by ID.
func (m *IM) Protocols() []im.Protocol {
	var protos []im.Protocol
	for id := range m.drivers {
		p, _ := m.Protocol(id)
		protos = append(protos, p)
	}
	sort.Slice(protos, func(i, j int) bool { return protos[i].ID < protos[j].ID })
	return protos
}

// Protocol returns a protocol with the common options appended.
func (m *IM) Protocol(id string) (im.Protocol, error) {
	d, ok := m.drivers[id]
	if !ok {
		return im.Protocol{}, im.ErrUnknownProtocol
	}
	p := d.Protocol()
	p.Options = append(p.Options.Clone(), commonOptions()...)
	return p, nil
}

// Accounts lists the accounts sorted by ID.
func (m *IM) Accounts() []im.Account {
	m.mu.Lock()
	defer m.mu.Unlock()

	var accounts []im.Account
	for _, a := range m.accounts {
		accounts = append(accounts, copyAccount(a.account))
	}
	sort.Slice(accounts, func(i, j int) bool { return accounts[i].ID < accounts[j].ID })
	return accounts
}

// Account returns one account.
func (m *IM) Account(id string) (im.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.accounts[id]
	if !ok {
		return im.Account{}, im.ErrUnknownAccount
	}
	return copyAccount(a.account), nil
}

func copyAccount(a im.Account) im.Account {
	a.Options = a.Options.Clone()
	return a
}

func checkRequired(opts im.Options) error {
	for _, o := range opts {
		if o.Required && o.Value == "" {
			return im.OptionError{Option: o.Name, Reason: "is required"}
		}
	}
	return nil
}

// AddAccount creates an account. opts are the protocol's options with the
// user's values. With register the account connects right away.
func (m *IM) AddAccount(protocol, username string, opts im.Options,
	register bool) (im.Account, error) {
	proto, err := m.Protocol(protocol)
	if err != nil {
		return im.Account{}, err
	}
	if username == "" {
		return im.Account{}, im.OptionError{Option: "username", Reason: "is required"}
	}

	merged := proto.Options.Clone()
	for _, o := range opts {
		if err := merged.Set(o.Name, o.Value); err != nil {
			return im.Account{}, err
		}
	}
	if err := checkRequired(merged); err != nil {
		return im.Account{}, err
	}

	id, err := m.store.NextAccountID(m.username, protocol)
	if err != nil {
		return im.Account{}, errors.Wrap(err, "unable to allocate account id")
	}

	account := im.Account{
		ID:       id,
		Protocol: protocol,
		Username: username,
		Options:  merged,
	}
	if err := m.saveAccount(account); err != nil {
		return im.Account{}, err
	}

	m.mu.Lock()
	m.accounts[id] = &accountState{
		account:  account,
		presence: map[string]im.Buddy{},
	}
	m.mu.Unlock()

	if register {
		if err := m.Connect(id); err != nil {
			return account, err
		}
	}
	return copyAccount(account), nil
}

func (m *IM) saveAccount(a im.Account) error {
	rec := store.AccountRecord{
		ID:       a.ID,
		Protocol: a.Protocol,
		Username: a.Username,
		Options:  map[string]string{},
	}
	for _, o := range a.Options {
		rec.Options[o.Name] = o.Value
	}
	if err := m.store.PutAccount(m.username, rec); err != nil {
		return errors.Wrap(err, "unable to save account")
	}
	return nil
}

// UpdateAccount replaces an account's options.
func (m *IM) UpdateAccount(id string, opts im.Options) (im.Account, error) {
	m.mu.Lock()
	a, ok := m.accounts[id]
	if !ok {
		m.mu.Unlock()
		return im.Account{}, im.ErrUnknownAccount
	}
	updated := copyAccount(a.account)
	m.mu.Unlock()

	for _, o := range opts {
		if err := updated.Options.Set(o.Name, o.Value); err != nil {
			return im.Account{}, err
		}
	}
	if err := checkRequired(updated.Options); err != nil {
		return im.Account{}, err
	}
	if err := m.saveAccount(updated); err != nil {
		return im.Account{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if a, ok := m.accounts[id]; ok {
		a.account.Options = updated.Options
		updated.State = a.account.State
	}
	return copyAccount(updated), nil
}

// DeleteAccount disconnects and removes an account.
func (m *IM) DeleteAccount(id string) error {
	m.mu.Lock()
	a, ok := m.accounts[id]
	if !ok {
		m.mu.Unlock()
		return im.ErrUnknownAccount
	}
	conn := a.conn
	delete(m.accounts, id)
	m.mu.Unlock()

	if conn != nil {
		if err := conn.Close(); err != nil {
			m.log.Warningf("Error closing %s: %s", id, err)
		}
	}
	return m.store.DeleteAccount(m.username, id)
}

// Connect starts connecting an account. Connecting an account that is
// already connected or connecting does nothing.
func (m *IM) Connect(id string) error {
	m.mu.Lock()
	a, ok := m.accounts[id]
	if !ok {
		m.mu.Unlock()
		return im.ErrUnknownAccount
	}
	if a.conn != nil {
		m.mu.Unlock()
		return nil
	}
	driver, ok := m.drivers[a.account.Protocol]
	if !ok {
		m.mu.Unlock()
		return im.ErrUnknownProtocol
	}
	a.account.State = im.Connecting
	account := copyAccount(a.account)
	m.mu.Unlock()

	names, err := m.rosterNames(id)
	if err != nil {
		return err
	}

	env := Env{
		Sink:    func(ev im.Event) { m.handle(id, ev) },
		Log:     m.log.WithField("account", id),
		Buddies: names,
		Away:    m.Setting(settingAway),
		DCC:     m.dcc,
	}

	m.emit(im.AccountStateChanged{Account: account, State: im.Connecting})

	conn, err := driver.Dial(account, env)
	if err != nil {
		m.mu.Lock()
		if a, ok := m.accounts[id]; ok {
			a.account.State = im.Disconnected
		}
		m.mu.Unlock()
		return err
	}

	m.mu.Lock()
	if a, ok := m.accounts[id]; ok && a.conn == nil &&
		a.account.State != im.Disconnected {
		a.conn = conn
		m.mu.Unlock()
		return nil
	}
	m.mu.Unlock()

	// Deleted, failed or connected again meanwhile.
	return conn.Close()
}

// Disconnect disconnects an account.
func (m *IM) Disconnect(id string) error {
	m.mu.Lock()
	a, ok := m.accounts[id]
	if !ok {
		m.mu.Unlock()
		return im.ErrUnknownAccount
	}
	conn := a.conn
	a.conn = nil
	a.account.State = im.Disconnected
	a.presence = map[string]im.Buddy{}
	account := copyAccount(a.account)
	m.mu.Unlock()

	if conn == nil {
		return nil
	}
	if err := conn.Close(); err != nil {
		m.log.Warningf("Error closing %s: %s", id, err)
	}
	m.emit(im.AccountStateChanged{Account: account, State: im.Disconnected})
	return nil
}

// handle runs on driver goroutines. It updates our view of the account and
// passes the event on.
func (m *IM) handle(id string, ev im.Event) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	a, ok := m.accounts[id]
	if !ok {
		m.mu.Unlock()
		return
	}

	switch e := ev.(type) {
	case im.AccountStateChanged:
		a.account.State = e.State
		if e.State == im.Disconnected {
			a.conn = nil
			a.presence = map[string]im.Buddy{}
		}
		e.Account = copyAccount(a.account)
		ev = e
	case im.BuddyUpdated:
		a.presence[e.Buddy.Name] = e.Buddy
	case im.FileRequested:
		if m.transfers == nil {
			m.transfers = map[string]im.Transfer{}
		}
		m.transfers[e.Transfer.ID] = e.Transfer
	case im.FileReceived:
		delete(m.transfers, e.Transfer.ID)
	}
	m.mu.Unlock()

	switch e := ev.(type) {
	case im.BuddyUpdated:
		// The driver knows presence. The roster knows the rest.
		b, ok := m.rosterEntry(id, e.Buddy.Name)
		if !ok {
			return
		}
		e.Buddy.Alias = b.Alias
		e.Buddy.Group = b.Group
		ev = e
	case im.IMReceived:
		if m.denied(id, e.From) {
			return
		}
	case im.ChatMessage:
		if e.From != "" && m.denied(id, e.From) {
			return
		}
	}

	m.emit(ev)
}

func (m *IM) emit(ev im.Event) {
	if m.sink != nil {
		m.sink(ev)
	}
}

func (m *IM) denied(account, name string) bool {
	names, err := m.store.DenyList(m.username, account)
	if err != nil {
		m.log.Errorf("Unable to read deny list: %s", err)
		return false
	}
	for _, n := range names {
		if n == name {
			return true
		}
	}
	return false
}

func (m *IM) rosterNames(account string) ([]string, error) {
	recs, err := m.store.Buddies(m.username, account)
	if err != nil {
		return nil, errors.Wrap(err, "unable to load roster")
	}
	var names []string
	for _, r := range recs {
		names = append(names, r.Name)
	}
	return names, nil
}

func (m *IM) rosterEntry(account, name string) (store.BuddyRecord, bool) {
	recs, err := m.store.Buddies(m.username, account)
	if err != nil {
		m.log.Errorf("Unable to load roster: %s", err)
		return store.BuddyRecord{}, false
	}
	for _, r := range recs {
		if r.Name == name {
			return r, true
		}
	}
	return store.BuddyRecord{}, false
}

func (m *IM) conn(account string) (Conn, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.accounts[account]
	if !ok {
		return nil, im.ErrUnknownAccount
	}
	if a.conn == nil || a.account.State != im.Connected {
		return nil, im.ErrNotConnected
	}
	return a.conn, nil
}

// Buddies lists an account's roster with what we know of presence.
func (m *IM) Buddies(account string) []im.Buddy {
	recs, err := m.store.Buddies(m.username, account)
	if err != nil {
		m.log.Errorf("Unable to load roster: %s", err)
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	var presence map[string]im.Buddy
	if a, ok := m.accounts[account]; ok {
		presence = a.presence
	}

	var buddies []im.Buddy
	for _, r := range recs {
		b := presence[r.Name]
		b.Account = account
		b.Name = r.Name
		b.Alias = r.Alias
		b.Group = r.Group
		buddies = append(buddies, b)
	}
	return buddies
}

// AddBuddy adds a name to the roster.
func (m *IM) AddBuddy(account, name, group string) error {
	if _, err := m.Account(account); err != nil {
		return err
	}
	if b, ok := m.rosterEntry(account, name); ok {
		if group == "" || b.Group == group {
			return nil
		}
		b.Group = group
		return m.store.PutBuddy(m.username, account, b)
	}
	if err := m.store.PutBuddy(m.username, account,
		store.BuddyRecord{Name: name, Group: group}); err != nil {
		return err
	}

	m.emit(im.BuddyUpdated{Buddy: im.Buddy{Account: account, Name: name,
		Group: group}})
	return m.watch(account)
}

// RemoveBuddy removes a name from the roster.
func (m *IM) RemoveBuddy(account, name string) error {
	if _, ok := m.rosterEntry(account, name); !ok {
		return errors.Errorf("%s is not a buddy", name)
	}
	if err := m.store.DeleteBuddy(m.username, account, name); err != nil {
		return err
	}

	m.mu.Lock()
	if a, ok := m.accounts[account]; ok {
		delete(a.presence, name)
	}
	m.mu.Unlock()

	m.emit(im.BuddyRemoved{Account: account, Name: name})
	return m.watch(account)
}

func (m *IM) watch(account string) error {
	conn, err := m.conn(account)
	if err != nil {
		return nil
	}
	names, err := m.rosterNames(account)
	if err != nil {
		return err
	}
	conn.Watch(names)
	return nil
}

// SetBuddyAlias sets the alias of a roster entry.
func (m *IM) SetBuddyAlias(account, name, alias string) error {
	b, ok := m.rosterEntry(account, name)
	if !ok {
		return errors.Errorf("%s is not a buddy", name)
	}
	b.Alias = alias
	return m.store.PutBuddy(m.username, account, b)
}

// RequestBuddyInfo asks for details on a buddy. They arrive as BuddyInfo.
func (m *IM) RequestBuddyInfo(account, name string) error {
	conn, err := m.conn(account)
	if err != nil {
		return err
	}
	return conn.RequestBuddyInfo(name)
}

// DenyList lists blocked names.
func (m *IM) DenyList(account string) []string {
	names, err := m.store.DenyList(m.username, account)
	if err != nil {
		m.log.Errorf("Unable to read deny list: %s", err)
		return nil
	}
	return names
}

// AddDeny blocks a name.
func (m *IM) AddDeny(account, name string) error {
	if _, err := m.Account(account); err != nil {
		return err
	}
	return m.store.AddDeny(m.username, account, name)
}

// RemoveDeny unblocks a name.
func (m *IM) RemoveDeny(account, name string) error {
	if _, err := m.Account(account); err != nil {
		return err
	}
	return m.store.RemoveDeny(m.username, account, name)
}

// SendIM sends an instant message.
func (m *IM) SendIM(account, to, text string, action bool) error {
	conn, err := m.conn(account)
	if err != nil {
		return err
	}
	return conn.SendIM(to, text, action)
}

// SendTyping sends our typing state.
func (m *IM) SendTyping(account, to string, typing bool) error {
	conn, err := m.conn(account)
	if err != nil {
		return err
	}
	return conn.SendTyping(to, typing)
}

// SendFile sends a file to a buddy.
func (m *IM) SendFile(account, to, path string) error {
	conn, err := m.conn(account)
	if err != nil {
		return err
	}
	return conn.SendFile(to, path)
}

// JoinChat joins a chat.
func (m *IM) JoinChat(account, name, param string) error {
	conn, err := m.conn(account)
	if err != nil {
		return err
	}
	return conn.JoinChat(name, param)
}

// LeaveChat leaves a chat.
func (m *IM) LeaveChat(account, name string) error {
	conn, err := m.conn(account)
	if err != nil {
		return err
	}
	return conn.LeaveChat(name)
}

// SendChat sends a message to a chat.
func (m *IM) SendChat(account, name, text string, action bool) error {
	conn, err := m.conn(account)
	if err != nil {
		return err
	}
	return conn.SendChat(name, text, action)
}

// SetChatTopic changes a chat topic.
func (m *IM) SetChatTopic(account, name, topic string) error {
	conn, err := m.conn(account)
	if err != nil {
		return err
	}
	return conn.SetChatTopic(name, topic)
}

// InviteChat invites someone to a chat.
func (m *IM) InviteChat(account, name, who, message string) error {
	conn, err := m.conn(account)
	if err != nil {
		return err
	}
	return conn.InviteChat(name, who, message)
}

// ChatParameters names the parameters of a chat join on the account's
// protocol.
func (m *IM) ChatParameters(account string) map[string]string {
	a, err := m.Account(account)
	if err != nil {
		return nil
	}
	d, ok := m.drivers[a.Protocol]
	if !ok {
		return nil
	}
	return d.ChatParameters()
}

// RequestRoomList asks for the chats of the account's network. They arrive
// as RoomList.
func (m *IM) RequestRoomList(account string) error {
	conn, err := m.conn(account)
	if err != nil {
		return err
	}
	return conn.RequestRoomList()
}

// Commands lists the commands of a connected account.
func (m *IM) Commands(account string) []string {
	conn, err := m.conn(account)
	if err != nil {
		return nil
	}
	return conn.Commands()
}

// RunCommand runs an account command.
func (m *IM) RunCommand(account, command string) im.CmdStatus {
	conn, err := m.conn(account)
	if err != nil {
		return im.CmdFailed
	}
	return conn.RunCommand(command)
}

// ChatCommand runs a command in a chat.
func (m *IM) ChatCommand(account, chat, command string) im.CmdStatus {
	conn, err := m.conn(account)
	if err != nil {
		return im.CmdFailed
	}
	return conn.ChatCommand(chat, command)
}

// BuddyCommand runs a command on a buddy.
func (m *IM) BuddyCommand(account, buddy, command string) im.CmdStatus {
	conn, err := m.conn(account)
	if err != nil {
		return im.CmdFailed
	}
	return conn.BuddyCommand(buddy, command)
}

// Statuses lists the away states.
func (m *IM) Statuses() [][2]string {
	return [][2]string{
		{"available", "Available"},
		{"away", "Away"},
	}
}

// Away is the current away message, "" if available.
func (m *IM) Away() string {
	return m.Setting(settingAway)
}

// SetAway sets the away message on every connected account. "" comes back.
func (m *IM) SetAway(message string) error {
	if err := m.SetSetting(settingAway, message); err != nil {
		return err
	}

	m.mu.Lock()
	var conns []Conn
	for _, a := range m.accounts {
		if a.conn != nil && a.account.State == im.Connected {
			conns = append(conns, a.conn)
		}
	}
	m.mu.Unlock()

	for _, c := range conns {
		if err := c.SetAway(message); err != nil {
			m.log.Warningf("Unable to set away: %s", err)
		}
	}
	return nil
}

// SetIcon copies the file at path to be our icon.
func (m *IM) SetIcon(path string) error {
	src, err := os.Open(path)
	if err != nil {
		return errors.Wrap(err, "unable to open icon")
	}
	defer func() { _ = src.Close() }()

	dest := filepath.Join(m.path, "icon")
	dst, err := os.OpenFile(dest, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return errors.Wrap(err, "unable to write icon")
	}
	if _, err := io.Copy(dst, src); err != nil {
		_ = dst.Close()
		return errors.Wrap(err, "unable to write icon")
	}
	if err := dst.Close(); err != nil {
		return errors.Wrap(err, "unable to write icon")
	}
	return m.SetSetting(settingIcon, dest)
}

func (m *IM) transferConn(id string) (Conn, error) {
	m.mu.Lock()
	t, ok := m.transfers[id]
	m.mu.Unlock()
	if !ok {
		return nil, errors.Errorf("unknown transfer %s", id)
	}
	return m.conn(t.Account)
}

// AcceptTransfer accepts an offered file into path.
func (m *IM) AcceptTransfer(id, path string) error {
	conn, err := m.transferConn(id)
	if err != nil {
		return err
	}
	return conn.AcceptTransfer(id, path)
}

// CancelTransfer refuses or aborts a transfer.
func (m *IM) CancelTransfer(id string) error {
	conn, err := m.transferConn(id)
	m.mu.Lock()
	delete(m.transfers, id)
	m.mu.Unlock()
	if err != nil {
		return err
	}
	return conn.CancelTransfer(id)
}

// Close disconnects everything. No events are delivered afterwards.
func (m *IM) Close() error {
	m.mu.Lock()
	m.closed = true
	var conns []Conn
	for _, a := range m.accounts {
		if a.conn != nil {
			conns = append(conns, a.conn)
			a.conn = nil
		}
		a.account.State = im.Disconnected
	}
	m.mu.Unlock()

	for _, c := range conns {
		if err := c.Close(); err != nil {
			m.log.Warningf("Error closing connection: %s", err)
		}
	}
	return nil
}
