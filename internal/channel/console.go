package channel

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"linkbot/internal/domain"
)

const (
	consoleChannelName = "console"
	consoleUserID      = 1
)

// Console implements domain.Channel on a terminal, for trying the bot
// without Telegram. Input lines are classified like this:
//
//	/name args       command
//	!file NAME SIZE  document upload (repeatable: !file a 1 b 2)
//	!other TEXT      anything else (sticker, photo...)
//	anything else    feedback text
type Console struct {
	bus      domain.MessageBus
	logger   *slog.Logger
	in       io.Reader
	out      io.Writer
	outMu    sync.Mutex
	username string
	nextFile int
}

type ConsoleConfig struct {
	Logger   *slog.Logger
	In       io.Reader
	Out      io.Writer
	Username string // reported as the sender's username; may be empty
}

func NewConsole(cfg ConsoleConfig) *Console {
	if cfg.In == nil {
		cfg.In = os.Stdin
	}
	if cfg.Out == nil {
		cfg.Out = os.Stdout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Console{
		logger:   cfg.Logger,
		in:       cfg.In,
		out:      cfg.Out,
		username: cfg.Username,
	}
}

func (c *Console) Name() string { return consoleChannelName }

// Start reads input until EOF, /quit or ctx cancellation.
func (c *Console) Start(ctx context.Context, bus domain.MessageBus) error {
	c.bus = bus

	bus.OnOutbound(consoleChannelName, func(msg domain.OutboundMessage) {
		_ = c.Send(ctx, msg)
	})

	c.printf("linkbot console. Type /help, some text, or !file NAME SIZE. /quit exits.\n")

	scanner := bufio.NewScanner(c.in)
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		if !scanner.Scan() {
			return scanner.Err()
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line == "/quit" || line == "/exit" {
			c.logger.Info("user requested quit")
			return nil
		}

		ev, err := c.parseLine(line)
		if err != nil {
			c.printf("! %v\n", err)
			continue
		}
		c.bus.Publish(ev)
	}
}

// Stop is a no-op; the console exits when Start returns.
func (c *Console) Stop() error { return nil }

// Send prints msg, marking where it would have been delivered.
func (c *Console) Send(ctx context.Context, msg domain.OutboundMessage) error {
	target := "you"
	if msg.ChatID != strconv.Itoa(consoleUserID) {
		target = "operator " + msg.ChatID
	}
	return c.printf("--- to %s (%s) ---\n%s\n", target, msg.Format, msg.Content)
}

func (c *Console) printf(format string, args ...any) error {
	c.outMu.Lock()
	defer c.outMu.Unlock()
	_, err := fmt.Fprintf(c.out, format, args...)
	return err
}

func (c *Console) parseLine(line string) (domain.InboundEvent, error) {
	env := domain.Envelope{
		Channel: consoleChannelName,
		Sender: domain.Sender{
			ID:       consoleUserID,
			Username: c.username,
			ChatID:   consoleUserID,
		},
		ReceivedAt: time.Now(),
	}

	switch {
	case strings.HasPrefix(line, "!file"):
		files, err := c.parseFiles(strings.Fields(strings.TrimPrefix(line, "!file")))
		if err != nil {
			return nil, err
		}
		return domain.DocumentUpload{Envelope: env, Files: files}, nil
	case strings.HasPrefix(line, "!other"):
		desc := strings.TrimSpace(strings.TrimPrefix(line, "!other"))
		if desc == "" {
			desc = "[unsupported message]"
		}
		return domain.Other{Envelope: env, RawDescription: desc}, nil
	case strings.HasPrefix(line, "/"):
		parts := strings.Fields(line)
		name := strings.TrimPrefix(parts[0], "/")
		if i := strings.Index(name, "@"); i >= 0 {
			name = name[:i]
		}
		return domain.Command{
			Envelope: env,
			Name:     strings.ToLower(name),
			Args:     parts[1:],
			Raw:      line,
		}, nil
	default:
		return domain.TextMessage{Envelope: env, Text: line}, nil
	}
}

func (c *Console) parseFiles(fields []string) ([]domain.FileRef, error) {
	if len(fields) == 0 || len(fields)%2 != 0 {
		return nil, fmt.Errorf("usage: !file NAME SIZE [NAME SIZE ...]")
	}
	files := make([]domain.FileRef, 0, len(fields)/2)
	for i := 0; i < len(fields); i += 2 {
		size, err := strconv.ParseInt(fields[i+1], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("bad size %q for %s", fields[i+1], fields[i])
		}
		c.nextFile++
		files = append(files, domain.FileRef{
			ID:        fmt.Sprintf("console-%d", c.nextFile),
			Name:      fields[i],
			SizeBytes: size,
		})
	}
	return files, nil
}
