package gateway

import (
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/horgh/minbif/internal/im"
	"github.com/pkg/errors"
)

// fakeFactory holds identities in memory.
type fakeFactory struct {
	mu         sync.Mutex
	identities map[string]*fakeIM
}

func newFakeFactory() *fakeFactory {
	return &fakeFactory{identities: map[string]*fakeIM{}}
}

func (f *fakeFactory) add(username, password string) *fakeIM {
	f.mu.Lock()
	defer f.mu.Unlock()
	m := newFakeIM(username, password)
	f.identities[username] = m
	return m
}

func (f *fakeFactory) get(username string) *fakeIM {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.identities[username]
}

func (f *fakeFactory) Exists(username string) (bool, error) {
	return f.get(username) != nil, nil
}

func (f *fakeFactory) Open(username, password string,
	sink im.EventSink) (im.IM, error) {
	m := f.get(username)
	if m == nil {
		return nil, im.ErrNoSuchIdentity
	}
	if m.password != password {
		return nil, im.ErrBadPassword
	}
	m.sink = sink
	return m, nil
}

func (f *fakeFactory) Create(username, password string,
	sink im.EventSink) (im.IM, error) {
	if f.get(username) != nil {
		return nil, im.ErrIdentityExists
	}
	m := f.add(username, password)
	m.sink = sink
	return m, nil
}

type sentIM struct {
	account, to, text string
	action            bool
}

type chatJoin struct {
	account, name, param string
}

// fakeIM records what the session asks of it. Tests emit events through
// its sink.
type fakeIM struct {
	username string
	password string
	sink     im.EventSink

	settings map[string]string
	accounts map[string]im.Account
	buddies  map[string][]im.Buddy
	away     string
	path     string
	seq      int

	sent      []sentIM
	chats     []sentIM
	typing    []bool
	joins     []chatJoin
	left      []string
	removed   []string
	added     []string
	denied    []string
	allowed   []string
	invites   []string
	icons     []string
	aliases   map[string]string
	connected []string
	commands  []string
	closed    bool
}

func newFakeIM(username, password string) *fakeIM {
	return &fakeIM{
		username: username,
		password: password,
		settings: map[string]string{},
		accounts: map[string]im.Account{},
		buddies:  map[string][]im.Buddy{},
		aliases:  map[string]string{},
	}
}

func fakeProtocol() im.Protocol {
	return im.Protocol{
		ID:   "fake",
		Name: "Fake",
		Options: im.Options{
			{Name: im.OptPassword, Type: im.OptionPassword},
			{Name: im.OptStatusChannel, Type: im.OptionString},
			{Name: im.OptServerAliases, Type: im.OptionBool, Value: "true"},
			{Name: im.OptAutoConnect, Type: im.OptionBool, Value: "false"},
			{Name: "server", Type: im.OptionString, Required: true},
			{Name: "port", Type: im.OptionInt, Value: "6667"},
		},
	}
}

// addAccount creates an account directly, as if it was stored earlier.
func (m *fakeIM) addAccount(username string, state im.AccountState) im.Account {
	opts := fakeProtocol().Options.Clone()
	_ = opts.Set("server", "irc.example.org")
	_ = opts.Set(im.OptPassword, "secret")
	a := im.Account{
		ID:       "fake" + strconv.Itoa(m.seq),
		Protocol: "fake",
		Username: username,
		Options:  opts,
		State:    state,
	}
	m.seq++
	m.accounts[a.ID] = a
	return a
}

func (m *fakeIM) emit(ev im.Event) {
	m.sink(ev)
}

func (m *fakeIM) Username() string { return m.username }

func (m *fakeIM) SetPassword(password string) error {
	m.password = password
	return nil
}

func (m *fakeIM) Setting(key string) string { return m.settings[key] }

func (m *fakeIM) SetSetting(key, value string) error {
	m.settings[key] = value
	return nil
}

func (m *fakeIM) UserPath() string { return m.path }

func (m *fakeIM) Protocols() []im.Protocol {
	return []im.Protocol{fakeProtocol()}
}

func (m *fakeIM) Protocol(id string) (im.Protocol, error) {
	if id != "fake" {
		return im.Protocol{}, im.ErrUnknownProtocol
	}
	return fakeProtocol(), nil
}

func (m *fakeIM) Accounts() []im.Account {
	var accounts []im.Account
	for _, a := range m.accounts {
		accounts = append(accounts, a)
	}
	sort.Slice(accounts, func(i, j int) bool {
		return accounts[i].ID < accounts[j].ID
	})
	return accounts
}

func (m *fakeIM) Account(id string) (im.Account, error) {
	a, ok := m.accounts[id]
	if !ok {
		return im.Account{}, im.ErrUnknownAccount
	}
	return a, nil
}

func (m *fakeIM) AddAccount(protocol, username string, opts im.Options,
	register bool) (im.Account, error) {
	if protocol != "fake" {
		return im.Account{}, im.ErrUnknownProtocol
	}
	a := im.Account{
		ID:       "fake" + strconv.Itoa(m.seq),
		Protocol: protocol,
		Username: username,
		Options:  opts.Clone(),
	}
	m.seq++
	m.accounts[a.ID] = a
	return a, nil
}

func (m *fakeIM) UpdateAccount(id string, opts im.Options) (im.Account, error) {
	a, ok := m.accounts[id]
	if !ok {
		return im.Account{}, im.ErrUnknownAccount
	}
	a.Options = opts.Clone()
	m.accounts[id] = a
	return a, nil
}

func (m *fakeIM) DeleteAccount(id string) error {
	if _, ok := m.accounts[id]; !ok {
		return im.ErrUnknownAccount
	}
	delete(m.accounts, id)
	return nil
}

func (m *fakeIM) setState(id string, state im.AccountState) im.Account {
	a := m.accounts[id]
	a.State = state
	m.accounts[id] = a
	return a
}

func (m *fakeIM) Connect(id string) error {
	if _, ok := m.accounts[id]; !ok {
		return im.ErrUnknownAccount
	}
	m.connected = append(m.connected, id)
	return nil
}

func (m *fakeIM) Disconnect(id string) error {
	if _, ok := m.accounts[id]; !ok {
		return im.ErrUnknownAccount
	}
	return nil
}

func (m *fakeIM) Buddies(account string) []im.Buddy { return m.buddies[account] }

func (m *fakeIM) AddBuddy(account, name, group string) error {
	m.added = append(m.added, name)
	return nil
}

func (m *fakeIM) RemoveBuddy(account, name string) error {
	m.removed = append(m.removed, name)
	return nil
}

func (m *fakeIM) SetBuddyAlias(account, name, alias string) error {
	m.aliases[name] = alias
	return nil
}

func (m *fakeIM) RequestBuddyInfo(account, name string) error { return nil }

func (m *fakeIM) DenyList(account string) []string { return nil }

func (m *fakeIM) AddDeny(account, name string) error {
	m.denied = append(m.denied, name)
	return nil
}

func (m *fakeIM) RemoveDeny(account, name string) error {
	m.allowed = append(m.allowed, name)
	return nil
}

func (m *fakeIM) SendIM(account, to, text string, action bool) error {
	m.sent = append(m.sent, sentIM{account, to, text, action})
	return nil
}

func (m *fakeIM) SendTyping(account, to string, typing bool) error {
	m.typing = append(m.typing, typing)
	return nil
}

func (m *fakeIM) SendFile(account, to, path string) error { return nil }

func (m *fakeIM) JoinChat(account, name, param string) error {
	m.joins = append(m.joins, chatJoin{account, name, param})
	return nil
}

func (m *fakeIM) LeaveChat(account, name string) error {
	m.left = append(m.left, name)
	return nil
}

func (m *fakeIM) SendChat(account, name, text string, action bool) error {
	m.chats = append(m.chats, sentIM{account, name, text, action})
	return nil
}

func (m *fakeIM) SetChatTopic(account, name, topic string) error {
	return errors.New("not allowed")
}

func (m *fakeIM) InviteChat(account, name, who, message string) error {
	m.invites = append(m.invites, who)
	return nil
}

func (m *fakeIM) ChatParameters(account string) map[string]string {
	return map[string]string{"channel": "Channel"}
}

func (m *fakeIM) RequestRoomList(account string) error { return nil }

func (m *fakeIM) Commands(account string) []string { return []string{"raw"} }

func (m *fakeIM) RunCommand(account, command string) im.CmdStatus {
	m.commands = append(m.commands, command)
	if strings.HasPrefix(command, "raw") {
		return im.CmdOK
	}
	return im.CmdNotFound
}

func (m *fakeIM) ChatCommand(account, chat, command string) im.CmdStatus {
	m.commands = append(m.commands, command)
	return im.CmdOK
}

func (m *fakeIM) BuddyCommand(account, buddy, command string) im.CmdStatus {
	m.commands = append(m.commands, command)
	return im.CmdWrongProtocol
}

func (m *fakeIM) Statuses() [][2]string {
	return [][2]string{{"available", "Available"}, {"away", "Away"}}
}

func (m *fakeIM) Away() string { return m.away }

func (m *fakeIM) SetAway(message string) error {
	m.away = message
	return nil
}

func (m *fakeIM) SetIcon(path string) error {
	m.icons = append(m.icons, path)
	return nil
}

func (m *fakeIM) AcceptTransfer(id, path string) error { return nil }

func (m *fakeIM) CancelTransfer(id string) error { return nil }

func (m *fakeIM) Close() error {
	m.closed = true
	return nil
}
