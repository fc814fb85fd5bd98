package im

// Event is something the backend tells the session about. Events arrive
// from backend goroutines through an EventSink.
type Event interface {
	// AccountID is the account the event concerns, "" if none.
	AccountID() string
}

// AccountStateChanged reports a connection state change. Err is set when
// the account was disconnected by an error. Transient errors (network
// problems) should be retried.
type AccountStateChanged struct {
	Account   Account
	State     AccountState
	Err       error
	Transient bool
}

// AccountID implements Event.
func (e AccountStateChanged) AccountID() string { return e.Account.ID }

// BuddyUpdated reports a new buddy or a presence change.
type BuddyUpdated struct {
	Buddy Buddy
}

// AccountID implements Event.
func (e BuddyUpdated) AccountID() string { return e.Buddy.Account }

// BuddyRemoved reports that a buddy left the roster.
type BuddyRemoved struct {
	Account string
	Name    string
}

// AccountID implements Event.
func (e BuddyRemoved) AccountID() string { return e.Account }

// IMReceived is an instant message to the user.
type IMReceived struct {
	Account string
	From    string
	Text    string
	Action  bool
}

// AccountID implements Event.
func (e IMReceived) AccountID() string { return e.Account }

// TypingChanged reports that a buddy started or stopped typing.
type TypingChanged struct {
	Account string
	From    string
	Typing  bool
}

// AccountID implements Event.
func (e TypingChanged) AccountID() string { return e.Account }

// ConversationCreated reports a new chat the user is in.
type ConversationCreated struct {
	Conversation Conversation
}

// AccountID implements Event.
func (e ConversationCreated) AccountID() string { return e.Conversation.Account }

// ConversationDestroyed reports the end of a chat.
type ConversationDestroyed struct {
	Conversation Conversation
}

// AccountID implements Event.
func (e ConversationDestroyed) AccountID() string { return e.Conversation.Account }

// ChatBuddyJoined reports a participant joining a chat, or a change of its
// flags if it is already there.
type ChatBuddyJoined struct {
	Conversation Conversation
	Buddy        ChatBuddy
}

// AccountID implements Event.
func (e ChatBuddyJoined) AccountID() string { return e.Conversation.Account }

// ChatBuddyLeft reports a participant leaving a chat.
type ChatBuddyLeft struct {
	Conversation Conversation
	Name         string
	Reason       string
}

// AccountID implements Event.
func (e ChatBuddyLeft) AccountID() string { return e.Conversation.Account }

// ChatBuddyRenamed reports a participant changing name.
type ChatBuddyRenamed struct {
	Conversation Conversation
	Old          string
	New          string
}

// AccountID implements Event.
func (e ChatBuddyRenamed) AccountID() string { return e.Conversation.Account }

// ChatMessage is a message in a chat. From is "" for our own echo.
type ChatMessage struct {
	Conversation Conversation
	From         string
	Text         string
	Action       bool
}

// AccountID implements Event.
func (e ChatMessage) AccountID() string { return e.Conversation.Account }

// TopicChanged reports a chat topic change.
type TopicChanged struct {
	Conversation Conversation
	Topic        string
	By           string
}

// AccountID implements Event.
func (e TopicChanged) AccountID() string { return e.Conversation.Account }

// BuddyInfo answers RequestBuddyInfo.
type BuddyInfo struct {
	Account string
	Buddy   string
	Lines   []string
}

// AccountID implements Event.
func (e BuddyInfo) AccountID() string { return e.Account }

// RoomList answers RequestRoomList.
type RoomList struct {
	Account string
	Rooms   []Room
}

// AccountID implements Event.
func (e RoomList) AccountID() string { return e.Account }

// FileRequested asks whether to accept a transfer. The session answers with
// AcceptTransfer or CancelTransfer.
type FileRequested struct {
	Transfer Transfer
}

// AccountID implements Event.
func (e FileRequested) AccountID() string { return e.Transfer.Account }

// FileReceived reports an accepted transfer is complete. Transfer.Path is
// set.
type FileReceived struct {
	Transfer Transfer
}

// AccountID implements Event.
func (e FileReceived) AccountID() string { return e.Transfer.Account }

// Notice is informational text from an account or the backend.
type Notice struct {
	Account string
	Text    string
}

// AccountID implements Event.
func (e Notice) AccountID() string { return e.Account }
