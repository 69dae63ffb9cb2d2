package dispatch

import (
	"fmt"
	"net/url"
	"strings"

	"linkbot/internal/domain"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// DefaultFileHost serves Telegram file downloads.
const DefaultFileHost = "api.telegram.org"

// Fixed texts sent to users.
const (
	GreetingText       = "Hi! Send me any file or files, and I'll provide direct download links for them."
	FeedbackAckText    = "Thank you for your feedback!"
	UnknownCommandText = "Sorry, I didn't understand that command. Use /help to see the list of available commands."
	ApologyText        = "Oops! Something went wrong. Please try again later."

	HelpText = `*Here are the available commands:*

/start - Start the bot
/help - Show help message

Send any file to get a direct download link. Any other text is forwarded as feedback.`

	// UsernamePlaceholder stands in for users without a username.
	UsernamePlaceholder = "Not Available"
)

// Settings is the read-only configuration the handlers need.
type Settings struct {
	BotToken string
	FileHost string // host serving file downloads, DefaultFileHost if empty
}

type handlers struct {
	token    string
	fileHost string
}

func newHandlers(s Settings) handlers {
	host := strings.TrimSpace(s.FileHost)
	if host == "" {
		host = DefaultFileHost
	}
	return handlers{token: s.BotToken, fileHost: host}
}

func (h handlers) rules() []Rule {
	return []Rule{
		{Name: "start", Match: IsCommand("start"), Handle: h.start},
		{Name: "help", Match: IsCommand("help"), Handle: h.help},
		{Name: "document", Match: IsKind(domain.KindDocument), Handle: h.documentLinks},
		{Name: "feedback", Match: IsKind(domain.KindText), Handle: h.feedback},
		{Name: "unknown_command", Match: IsKind(domain.KindCommand), Handle: h.unknownCommand},
	}
}

func (h handlers) start(domain.InboundEvent) ([]domain.Reply, error) {
	return []domain.Reply{toSender(GreetingText, domain.FormatPlain)}, nil
}

func (h handlers) help(domain.InboundEvent) ([]domain.Reply, error) {
	return []domain.Reply{toSender(HelpText, domain.FormatRichText)}, nil
}

func (h handlers) unknownCommand(domain.InboundEvent) ([]domain.Reply, error) {
	return []domain.Reply{toSender(UnknownCommandText, domain.FormatPlain)}, nil
}

// documentLinks answers an upload with one "Direct Link" block per file.
func (h handlers) documentLinks(ev domain.InboundEvent) ([]domain.Reply, error) {
	doc, ok := ev.(domain.DocumentUpload)
	if !ok {
		return nil, fmt.Errorf("%w: unexpected event %T", ErrFormatting, ev)
	}
	if len(doc.Files) == 0 {
		return nil, &FormattingError{Index: -1, Field: "files", Reason: "upload carries no files"}
	}

	blocks := make([]string, 0, len(doc.Files))
	for i, f := range doc.Files {
		if err := checkFileRef(i, f); err != nil {
			return nil, err
		}
		blocks = append(blocks, fmt.Sprintf("File: %s\nSize: %d bytes\n\nDirect Link: %s",
			escapeMarkdown(f.Name), f.SizeBytes, escapeMarkdown(DirectLink(h.fileHost, h.token, f))))
	}
	return []domain.Reply{toSender(strings.Join(blocks, "\n\n"), domain.FormatRichText)}, nil
}

func checkFileRef(i int, f domain.FileRef) error {
	switch {
	case strings.TrimSpace(f.ID) == "":
		return &FormattingError{Index: i, Field: "id", Reason: "missing"}
	case f.Name == "":
		return &FormattingError{Index: i, Field: "name", Reason: "missing"}
	case f.SizeBytes < 0:
		return &FormattingError{Index: i, Field: "size", Reason: fmt.Sprintf("negative (%d)", f.SizeBytes)}
	}
	return nil
}

// escapeMarkdown protects user-controlled values inside rich-text replies.
// An underscore pair in a file name or token would otherwise become italics.
func escapeMarkdown(s string) string {
	return tgbotapi.EscapeText(tgbotapi.ModeMarkdown, s)
}

// DirectLink builds https://<host>/file/bot<token>/<fileID>/<escaped name>.
func DirectLink(host, token string, f domain.FileRef) string {
	return fmt.Sprintf("https://%s/file/bot%s/%s/%s", host, token, f.ID, url.PathEscape(f.Name))
}

// feedback thanks the sender and forwards the text to the operator channel.
func (h handlers) feedback(ev domain.InboundEvent) ([]domain.Reply, error) {
	s := ev.From()
	return []domain.Reply{
		toSender(FeedbackAckText, domain.FormatPlain),
		toFeedback(reportText("[Feedback]", s, ev.Content())),
	}, nil
}

// logEvent mirrors every event to the operator channel.
func (h handlers) logEvent(ev domain.InboundEvent) ([]domain.Reply, error) {
	return []domain.Reply{toFeedback(reportText("[Log]", ev.From(), ev.Content()))}, nil
}

func reportText(tag string, s domain.Sender, content string) string {
	return fmt.Sprintf("%s\nUser ID: %d\nUsername: %s\nMessage: %s", tag, s.ID, DisplayUsername(s.Username), content)
}

// DisplayUsername returns the username or UsernamePlaceholder when it is blank.
func DisplayUsername(username string) string {
	if strings.TrimSpace(username) == "" {
		return UsernamePlaceholder
	}
	return username
}

func toSender(text string, format domain.Format) domain.Reply {
	return domain.Reply{To: domain.SenderReply, Text: text, Format: format}
}

// Operator reports carry user text verbatim, so they are never parsed as Markdown.
func toFeedback(text string) domain.Reply {
	return domain.Reply{To: domain.FeedbackChannel, Text: text, Format: domain.FormatPlain}
}

func apology() domain.Reply {
	return toSender(ApologyText, domain.FormatPlain)
}
