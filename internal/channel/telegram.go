package channel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"linkbot/internal/domain"
	"linkbot/internal/metrics"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"golang.org/x/time/rate"
)

const (
	telegramChannelName = "telegram"
	telegramMaxMsgLen   = 4000
	telegramSendTimeout = 30 * time.Second
)

// botSender is the part of *tgbotapi.BotAPI used for delivery.
type botSender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Telegram implements domain.Channel over the Bot API with long polling.
type Telegram struct {
	token       string
	pollTimeout int
	debug       bool

	api     botSender
	bus     domain.MessageBus
	limiter *rate.Limiter
	logger  *slog.Logger
}

type TelegramConfig struct {
	Token          string
	PollTimeout    int     // seconds; 0 uses the default of 30
	SendsPerSecond float64 // 0 disables pacing
	Debug          bool
	Logger         *slog.Logger
}

func NewTelegram(cfg TelegramConfig) *Telegram {
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = 30
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Telegram{
		token:       cfg.Token,
		pollTimeout: cfg.PollTimeout,
		debug:       cfg.Debug,
		limiter:     newSendLimiter(cfg.SendsPerSecond),
		logger:      cfg.Logger,
	}
}

func newSendLimiter(perSecond float64) *rate.Limiter {
	if perSecond <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	return rate.NewLimiter(rate.Limit(perSecond), 1)
}

func (t *Telegram) Name() string { return telegramChannelName }

// Start connects to Telegram and polls for updates until ctx is cancelled.
func (t *Telegram) Start(ctx context.Context, bus domain.MessageBus) error {
	t.bus = bus

	bot, err := tgbotapi.NewBotAPI(t.token)
	if err != nil {
		return fmt.Errorf("telegram bot init: %w", err)
	}
	bot.Debug = t.debug
	t.api = bot
	t.logger.Info("telegram bot connected",
		"username", bot.Self.UserName,
		"id", bot.Self.ID,
	)

	bus.OnOutbound(telegramChannelName, func(msg domain.OutboundMessage) {
		sendCtx, cancel := context.WithTimeout(ctx, telegramSendTimeout)
		defer cancel()
		if err := t.Send(sendCtx, msg); err != nil {
			metrics.SendFailures.Inc()
			t.logger.Error("telegram send failed", "chat_id", msg.ChatID, "err", err)
		}
	})

	u := tgbotapi.NewUpdate(0)
	u.Timeout = t.pollTimeout
	updates := bot.GetUpdatesChan(u)

	t.logger.Info("telegram polling started", "timeout", t.pollTimeout)

	for {
		select {
		case <-ctx.Done():
			t.logger.Info("telegram channel stopping")
			bot.StopReceivingUpdates()
			return nil
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			ev := eventFromUpdate(update)
			if ev == nil {
				t.logger.Debug("telegram update ignored", "update_id", update.UpdateID)
				continue
			}
			t.bus.Publish(ev)
		}
	}
}

// Stop is a no-op: polling ends when Start's context is cancelled,
// and StopReceivingUpdates panics if called twice.
func (t *Telegram) Stop() error {
	return nil
}

// Send delivers msg, split into chunks Telegram accepts.
func (t *Telegram) Send(ctx context.Context, msg domain.OutboundMessage) error {
	if t.api == nil {
		return errors.New("telegram: not connected")
	}
	for _, chunk := range splitMessage(msg.Content, telegramMaxMsgLen) {
		if err := t.sendChunk(ctx, msg.ChatID, chunk, msg.Format); err != nil {
			return err
		}
	}
	return nil
}

// sendChunk sends one chunk. Rich text that Telegram cannot parse is resent
// once as plain text; any other error is returned as is.
func (t *Telegram) sendChunk(ctx context.Context, chatID, text string, format domain.Format) error {
	cfg, err := newMessageConfig(chatID, text)
	if err != nil {
		return err
	}
	if format == domain.FormatRichText {
		cfg.ParseMode = tgbotapi.ModeMarkdown
	}

	if err := t.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("telegram send to %s: %w", chatID, err)
	}
	_, err = t.api.Send(cfg)
	if err == nil {
		return nil
	}

	if cfg.ParseMode != "" && strings.Contains(err.Error(), "can't parse entities") {
		t.logger.Warn("telegram markdown parse error, resending as plain text", "chat_id", chatID, "err", err)
		cfg.ParseMode = ""
		if err := t.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("telegram send to %s: %w", chatID, err)
		}
		if _, err = t.api.Send(cfg); err == nil {
			return nil
		}
	}
	return fmt.Errorf("telegram send to %s: %w", chatID, err)
}

// newMessageConfig addresses a message by numeric chat id or @channelname.
func newMessageConfig(chatID, text string) (tgbotapi.MessageConfig, error) {
	chatID = strings.TrimSpace(chatID)
	if strings.HasPrefix(chatID, "@") {
		return tgbotapi.NewMessageToChannel(chatID, text), nil
	}
	id, err := strconv.ParseInt(chatID, 10, 64)
	if err != nil {
		return tgbotapi.MessageConfig{}, fmt.Errorf("invalid chat ID %q: %w", chatID, err)
	}
	return tgbotapi.NewMessage(id, text), nil
}

// eventFromUpdate classifies a Telegram update. Edited messages are relayed
// like new ones. It returns nil for updates the bot does not relay: channel
// posts, callbacks and the like, or a message without a user.
func eventFromUpdate(u tgbotapi.Update) domain.InboundEvent {
	m := u.Message
	if m == nil {
		m = u.EditedMessage
	}
	if m == nil || m.From == nil || m.Chat == nil {
		return nil
	}

	env := domain.Envelope{
		Channel: telegramChannelName,
		Sender: domain.Sender{
			ID:       m.From.ID,
			Username: m.From.UserName,
			ChatID:   m.Chat.ID,
		},
		ReceivedAt: time.Unix(int64(m.Date), 0),
	}

	switch {
	case m.Document != nil:
		return domain.DocumentUpload{
			Envelope: env,
			Files: []domain.FileRef{{
				ID:        m.Document.FileID,
				Name:      m.Document.FileName,
				SizeBytes: int64(m.Document.FileSize),
			}},
			Caption: m.Caption,
		}
	case m.IsCommand():
		return domain.Command{
			Envelope: env,
			Name:     strings.ToLower(m.Command()),
			Args:     strings.Fields(m.CommandArguments()),
			Raw:      m.Text,
		}
	case m.Text != "":
		return domain.TextMessage{Envelope: env, Text: m.Text}
	default:
		return domain.Other{Envelope: env, RawDescription: describeMessage(m)}
	}
}

func describeMessage(m *tgbotapi.Message) string {
	if m.Caption != "" {
		return m.Caption
	}
	switch {
	case len(m.Photo) > 0:
		return "[photo]"
	case m.Sticker != nil:
		return "[sticker]"
	case m.Voice != nil:
		return "[voice]"
	case m.Audio != nil:
		return "[audio]"
	case m.Video != nil:
		return "[video]"
	case m.VideoNote != nil:
		return "[video note]"
	case m.Animation != nil:
		return "[animation]"
	case m.Location != nil:
		return "[location]"
	case m.Contact != nil:
		return "[contact]"
	case m.Poll != nil:
		return "[poll]"
	case len(m.NewChatMembers) > 0:
		return "[new chat members]"
	default:
		return "[unsupported message]"
	}
}

// splitMessage cuts msg into chunks of at most maxLen bytes,
// preferring to break after a newline.
func splitMessage(msg string, maxLen int) []string {
	if len(msg) <= maxLen {
		return []string{msg}
	}

	var chunks []string
	for len(msg) > 0 {
		if len(msg) <= maxLen {
			chunks = append(chunks, msg)
			break
		}

		cut := maxLen
		if idx := strings.LastIndex(msg[:maxLen], "\n"); idx > maxLen/2 {
			cut = idx + 1
		} else {
			// Do not split a multi-byte rune.
			for cut > 0 && !utf8RuneStart(msg[cut]) {
				cut--
			}
		}

		chunks = append(chunks, msg[:cut])
		msg = msg[cut:]
	}
	return chunks
}

func utf8RuneStart(b byte) bool { return b&0xC0 != 0x80 }

// CheckTelegram verifies the token and that the bot can see the feedback chat.
// It returns the bot's username and the feedback chat's title.
func CheckTelegram(token, feedbackChat string) (botName, chatTitle string, err error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return "", "", fmt.Errorf("invalid token: %w", err)
	}

	var chatCfg tgbotapi.ChatConfig
	if strings.HasPrefix(feedbackChat, "@") {
		chatCfg.SuperGroupUsername = feedbackChat
	} else {
		id, err := strconv.ParseInt(feedbackChat, 10, 64)
		if err != nil {
			return bot.Self.UserName, "", fmt.Errorf("invalid feedback chat %q: %w", feedbackChat, err)
		}
		chatCfg.ChatID = id
	}

	chat, err := bot.GetChat(tgbotapi.ChatInfoConfig{ChatConfig: chatCfg})
	if err != nil {
		return bot.Self.UserName, "", fmt.Errorf("feedback chat %s: %w", feedbackChat, err)
	}
	title := chat.Title
	if title == "" {
		title = chat.UserName
	}
	return bot.Self.UserName, title, nil
}
