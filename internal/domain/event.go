package domain

// ScopeType distinguishes where an inbound event originated.
type ScopeType string

const (
	ScopePrivate    ScopeType = "private"
	ScopeGroup      ScopeType = "group"
	ScopeSupergroup ScopeType = "supergroup"
)

// Event is one normalized inbound update: a text message, a photo, or a
// button press, always attributed to exactly one participant and scope.
type Event struct {
	UpdateID      int64
	ParticipantID int64
	DisplayName   string
	ScopeID       int64
	ScopeType     ScopeType
	ScopeTitle    string
	MessageID     int64
	Text          string
	PhotoFileID   string
	CallbackID    string
	CallbackData  string
}

// FromGroup reports whether the event originated in a group or
// supergroup scope.
func (e Event) FromGroup() bool {
	return e.ScopeType == ScopeGroup || e.ScopeType == ScopeSupergroup
}

// IsCallback reports whether the event is a button press.
func (e Event) IsCallback() bool {
	return e.CallbackID != "" || e.CallbackData != ""
}

// Button is one inline keyboard button attached to an outbound message.
type Button struct {
	Text string
	Data string
}
