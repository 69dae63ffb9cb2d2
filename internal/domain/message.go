package domain

// Destination selects where a Reply is delivered.
type Destination int

const (
	// SenderReply goes back to the chat the event came from.
	SenderReply Destination = iota
	// FeedbackChannel goes to the fixed operator channel.
	FeedbackChannel
)

func (d Destination) String() string {
	switch d {
	case SenderReply:
		return "sender"
	case FeedbackChannel:
		return "feedback"
	default:
		return "unknown"
	}
}

// Format is the rendering mode of an outgoing text.
type Format string

const (
	FormatPlain    Format = "text"
	FormatRichText Format = "markdown"
)

// Reply is a request produced by a handler: send Text to Destination.
type Reply struct {
	To     Destination
	Text   string
	Format Format
}

// OutboundMessage is a Reply with its destination resolved to a concrete chat.
type OutboundMessage struct {
	Channel string
	ChatID  string // numeric id or "@channelname"
	Content string
	Format  Format
}
