package localim

import (
	"github.com/horgh/minbif/internal/dcc"
	"github.com/horgh/minbif/internal/im"
	"github.com/sirupsen/logrus"
)

// Driver is a network protocol.
type Driver interface {
	// Protocol describes the protocol and its own options. The options every
	// account has are added by the IM.
	Protocol() im.Protocol

	// ChatParameters names the parameters of a chat join.
	ChatParameters() map[string]string

	// Dial starts connecting the account and returns at once. Progress is
	// reported through env.Sink.
	Dial(account im.Account, env Env) (Conn, error)
}

// Env is what a connection needs from its IM.
type Env struct {
	// Sink receives the connection's events. It is safe to call from any
	// goroutine.
	Sink func(im.Event)

	Log *logrus.Entry

	// Buddies are the roster names to watch.
	Buddies []string

	// Away is the away message to set once connected, "" if none.
	Away string

	DCC dcc.Config
}

// Conn is a connected (or connecting) account.
type Conn interface {
	// Close disconnects. No state event is reported for a Close.
	Close() error

	// Watch replaces the roster names whose presence is reported.
	Watch(names []string)

	SetAway(message string) error

	SendIM(to, text string, action bool) error
	SendTyping(to string, typing bool) error
	SendFile(to, path string) error

	JoinChat(name, key string) error
	LeaveChat(name string) error
	SendChat(name, text string, action bool) error
	SetChatTopic(name, topic string) error
	InviteChat(name, who, message string) error
	RequestRoomList() error

	RequestBuddyInfo(name string) error

	Commands() []string
	RunCommand(command string) im.CmdStatus
	ChatCommand(chat, command string) im.CmdStatus
	BuddyCommand(buddy, command string) im.CmdStatus

	AcceptTransfer(id, path string) error
	CancelTransfer(id string) error
}
