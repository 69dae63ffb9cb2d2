package domain

import "time"

// EventKind names the variant of an InboundEvent.
type EventKind string

const (
	KindCommand  EventKind = "command"
	KindDocument EventKind = "document"
	KindText     EventKind = "text"
	KindOther    EventKind = "other"
)

// Sender identifies who sent an event and where replies go.
type Sender struct {
	ID       int64
	Username string // empty when the user has none
	ChatID   int64  // chat the event arrived in
}

// Envelope carries the fields shared by every InboundEvent variant.
type Envelope struct {
	Channel    string // transport name, e.g. "telegram"
	Sender     Sender
	ReceivedAt time.Time
}

func (e Envelope) From() Sender        { return e.Sender }
func (e Envelope) Transport() string   { return e.Channel }
func (e Envelope) Received() time.Time { return e.ReceivedAt }
func (e Envelope) isInboundEvent()     {}

// InboundEvent is one received update, already classified by the transport.
// The concrete type is one of Command, DocumentUpload, TextMessage or Other.
type InboundEvent interface {
	From() Sender
	Transport() string
	// Received is when the transport saw the event; zero if unknown.
	Received() time.Time
	Kind() EventKind
	// Content is the textual content of the event, or "" if it has none.
	Content() string
	isInboundEvent()
}

// Command is a slash command such as "/start".
type Command struct {
	Envelope
	Name string   // lower-case, without "/" or "@botname"
	Args []string // whitespace-separated arguments
	Raw  string   // full message text
}

func (c Command) Kind() EventKind { return KindCommand }
func (c Command) Content() string { return c.Raw }

// FileRef describes one uploaded file.
type FileRef struct {
	ID        string
	Name      string
	SizeBytes int64
}

// DocumentUpload carries one or more uploaded files.
type DocumentUpload struct {
	Envelope
	Files   []FileRef
	Caption string
}

func (d DocumentUpload) Kind() EventKind { return KindDocument }
func (d DocumentUpload) Content() string { return d.Caption }

// TextMessage is free text that is not a command.
type TextMessage struct {
	Envelope
	Text string
}

func (t TextMessage) Kind() EventKind { return KindText }
func (t TextMessage) Content() string { return t.Text }

// Other is anything the bot has no dedicated handler for (stickers, photos, locations...).
type Other struct {
	Envelope
	RawDescription string
}

func (o Other) Kind() EventKind { return KindOther }
func (o Other) Content() string { return o.RawDescription }
