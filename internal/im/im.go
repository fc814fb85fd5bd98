// Package im is the contract between the IRC session and the messaging
// backend: the values the backend owns (accounts, buddies, conversations),
// the operations the session may call, and the events the backend emits.
//
// Values are plain copies identified by stable string IDs. The session never
// holds backend pointers.
package im

import (
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

var (
	// ErrUnknownAccount means no account has the given ID.
	ErrUnknownAccount = errors.New("unknown account")

	// ErrUnknownProtocol means no protocol has the given ID.
	ErrUnknownProtocol = errors.New("unknown protocol")

	// ErrBadPassword means authentication failed.
	ErrBadPassword = errors.New("incorrect password")

	// ErrNoSuchIdentity means the identity does not exist.
	ErrNoSuchIdentity = errors.New("no such identity")

	// ErrIdentityExists means the identity already exists.
	ErrIdentityExists = errors.New("identity already exists")

	// ErrNotConnected means the account must be connected for this.
	ErrNotConnected = errors.New("account is not connected")

	// ErrNotSupported means the protocol can't do this.
	ErrNotSupported = errors.New("not supported by this protocol")
)

// OptionError describes a bad option value.
type OptionError struct {
	Option string
	Reason string
}

func (e OptionError) Error() string {
	return e.Option + ": " + e.Reason
}

// Names of options every protocol has.
const (
	OptPassword      = "password"
	OptStatusChannel = "status_channel"
	OptServerAliases = "server_aliases"
	OptAutoConnect   = "auto_connect"
)

// DefaultStatusChannel is used when an account does not name one.
const DefaultStatusChannel = "&minbif"

// OptionType is the type of an option value.
type OptionType int

// Option types.
const (
	OptionString OptionType = iota
	OptionInt
	OptionBool
	OptionPassword
	OptionChoice
)

// Option is one account setting.
type Option struct {
	Name     string
	Type     OptionType
	Value    string
	Choices  []string
	Required bool
	Text     string
}

// Bool returns the value as a boolean.
func (o Option) Bool() bool {
	return o.Value == "true"
}

// Int returns the value as an integer, 0 if it is not one.
func (o Option) Int() int {
	i, err := strconv.Atoi(o.Value)
	if err != nil {
		return 0
	}
	return i
}

// Check validates a value for this option.
func (o Option) Check(value string) error {
	switch o.Type {
	case OptionBool:
		if value != "true" && value != "false" {
			return OptionError{Option: o.Name,
				Reason: "is a boolean ('true' or 'false')"}
		}
	case OptionInt:
		if _, err := strconv.Atoi(value); err != nil {
			return OptionError{Option: o.Name, Reason: "is an integer"}
		}
	case OptionChoice:
		for _, c := range o.Choices {
			if c == value {
				return nil
			}
		}
		return OptionError{Option: o.Name,
			Reason: "must be one of " + strings.Join(o.Choices, ", ")}
	}
	return nil
}

// Usage is how the option appears in a usage line, e.g. [-ssl] or
// [-port int].
func (o Option) Usage() string {
	switch o.Type {
	case OptionBool:
		return "[-[!]" + o.Name + "]"
	case OptionInt:
		return "[-" + o.Name + " int]"
	case OptionChoice:
		return "[-" + o.Name + " [" + strings.Join(o.Choices, "|") + "]]"
	default:
		return "[-" + o.Name + " value]"
	}
}

// Options is an ordered option list.
type Options []Option

// Get finds an option by name.
func (opts Options) Get(name string) (Option, bool) {
	for _, o := range opts {
		if o.Name == name {
			return o, true
		}
	}
	return Option{}, false
}

// Value returns the value of an option, "" if there is no such option.
func (opts Options) Value(name string) string {
	o, _ := opts.Get(name)
	return o.Value
}

// Set changes the value of an existing option after checking it.
func (opts Options) Set(name, value string) error {
	for i := range opts {
		if opts[i].Name != name {
			continue
		}
		if err := opts[i].Check(value); err != nil {
			return err
		}
		opts[i].Value = value
		return nil
	}
	return OptionError{Option: name, Reason: "does not exist"}
}

// Clone returns a deep copy.
func (opts Options) Clone() Options {
	out := make(Options, len(opts))
	for i, o := range opts {
		o.Choices = append([]string(nil), o.Choices...)
		out[i] = o
	}
	return out
}

// Protocol is an IM protocol the backend supports.
type Protocol struct {
	ID      string
	Name    string
	Options Options
}

// AccountState is the connection state of an account.
type AccountState int

// Account states.
const (
	Disconnected AccountState = iota
	Connecting
	Connected
)

func (s AccountState) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	default:
		return "disconnected"
	}
}

// Account is one IM account of the identity.
type Account struct {
	// ID is the short id: protocol ID plus a sequence number, e.g. irc0.
	ID       string
	Protocol string
	Username string
	Options  Options
	State    AccountState
}

// StatusChannel is the name of the status channel showing this account's
// buddies.
func (a Account) StatusChannel() string {
	if c := a.Options.Value(OptStatusChannel); c != "" {
		return c
	}
	return DefaultStatusChannel
}

// ServerName is the name of the IRC server representing the account.
func (a Account) ServerName() string {
	if o, ok := a.Options.Get(OptServerAliases); ok && !o.Bool() {
		return a.ID
	}
	return a.Username + ":" + a.ID
}

// Password returns the account password.
func (a Account) Password() string {
	return a.Options.Value(OptPassword)
}

// AutoConnect tells whether the account connects when the user logs in.
func (a Account) AutoConnect() bool {
	o, ok := a.Options.Get(OptAutoConnect)
	return !ok || o.Bool()
}

// Buddy is a roster entry.
type Buddy struct {
	Account       string
	Name          string
	Alias         string
	Group         string
	RealName      string
	Online        bool
	Available     bool
	StatusMessage string
	Icon          []byte
}

// ConversationKind is the kind of a conversation.
type ConversationKind int

// Conversation kinds.
const (
	IMConversation ConversationKind = iota
	ChatConversation
)

// Conversation is an IM conversation or a multi user chat.
type Conversation struct {
	Account string
	Name    string
	Kind    ConversationKind
	Topic   string
}

// ChatFlags are a chat participant's privileges.
type ChatFlags int

// Chat participant flags.
const (
	ChatVoice ChatFlags = 1 << iota
	ChatHalfop
	ChatOp
	ChatFounder
	ChatTyping
)

// ChatBuddy is a participant of a chat.
type ChatBuddy struct {
	Name     string
	Alias    string
	RealName string
	Flags    ChatFlags
	IsMe     bool
}

// Room is an entry of a room list.
type Room struct {
	Name  string
	Topic string
	Users int
}

// Transfer is a file transfer from a buddy to the user.
type Transfer struct {
	ID       string
	Account  string
	Buddy    string
	Filename string
	Size     int64

	// Path is where the backend stored the file. Set once received.
	Path string
}

// CmdStatus is the outcome of a protocol command.
type CmdStatus int

// Command outcomes.
const (
	CmdOK CmdStatus = iota
	CmdNotFound
	CmdWrongArgs
	CmdFailed
	CmdWrongType
	CmdWrongProtocol
)

// EventSink receives backend events. It must be safe to call from any
// goroutine.
type EventSink func(Event)

// Factory opens identities. The session owns the IM it gets back.
type Factory interface {
	// Exists tells whether the identity exists.
	Exists(username string) (bool, error)

	// Open authenticates an existing identity.
	Open(username, password string, sink EventSink) (IM, error)

	// Create makes a new identity and opens it.
	Create(username, password string, sink EventSink) (IM, error)
}

// IM is one user's identity: its accounts and everything done through them.
//
// Calls return quickly. Results that need the network arrive later as
// events.
type IM interface {
	Username() string
	SetPassword(password string) error

	// Setting and SetSetting store per identity preferences.
	Setting(key string) string
	SetSetting(key, value string) error

	// UserPath is a directory the session may write files into.
	UserPath() string

	Protocols() []Protocol
	Protocol(id string) (Protocol, error)

	// Accounts are sorted by ID.
	Accounts() []Account
	Account(id string) (Account, error)
	AddAccount(protocol, username string, opts Options, register bool) (Account, error)
	UpdateAccount(id string, opts Options) (Account, error)
	DeleteAccount(id string) error

	Connect(id string) error
	Disconnect(id string) error

	Buddies(account string) []Buddy
	AddBuddy(account, name, group string) error
	RemoveBuddy(account, name string) error
	SetBuddyAlias(account, name, alias string) error
	RequestBuddyInfo(account, name string) error

	DenyList(account string) []string
	AddDeny(account, name string) error
	RemoveDeny(account, name string) error

	SendIM(account, to, text string, action bool) error
	SendTyping(account, to string, typing bool) error
	SendFile(account, to, path string) error

	JoinChat(account, name, param string) error
	LeaveChat(account, name string) error
	SendChat(account, name, text string, action bool) error
	SetChatTopic(account, name, topic string) error
	InviteChat(account, name, who, message string) error
	ChatParameters(account string) map[string]string
	RequestRoomList(account string) error

	// Commands lists ad-hoc commands of a connected account.
	Commands(account string) []string
	RunCommand(account, command string) CmdStatus
	ChatCommand(account, chat, command string) CmdStatus
	BuddyCommand(account, buddy, command string) CmdStatus

	// Statuses lists the away states (id and name) for STATS a.
	Statuses() [][2]string
	Away() string
	SetAway(message string) error

	SetIcon(path string) error

	AcceptTransfer(id, path string) error
	CancelTransfer(id string) error

	Close() error
}
