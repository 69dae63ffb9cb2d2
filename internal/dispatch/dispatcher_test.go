package dispatch

import (
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"linkbot/internal/domain"
)

const testToken = "123456:ABC-token"

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testDispatcher() *Dispatcher {
	return New(Settings{BotToken: testToken}, testLogger())
}

func envelope(id int64, username string) domain.Envelope {
	return domain.Envelope{
		Channel: "test",
		Sender:  domain.Sender{ID: id, Username: username, ChatID: id},
	}
}

func command(name string, username string) domain.Command {
	return domain.Command{Envelope: envelope(42, username), Name: name, Raw: "/" + name}
}

func countTagged(replies []domain.Reply, to domain.Destination, tag string) int {
	n := 0
	for _, r := range replies {
		if r.To == to && strings.HasPrefix(r.Text, tag) {
			n++
		}
	}
	return n
}

func TestDispatch_Start(t *testing.T) {
	res := testDispatcher().Dispatch(command("start", "alice"))

	if res.Rule != "start" {
		t.Fatalf("expected rule start, got %q", res.Rule)
	}
	if len(res.Replies) != 2 {
		t.Fatalf("expected greeting + log, got %d replies", len(res.Replies))
	}
	first := res.Replies[0]
	if first.To != domain.SenderReply || first.Text != GreetingText {
		t.Errorf("unexpected greeting reply: %+v", first)
	}
}

func TestDispatch_HelpExample(t *testing.T) {
	res := testDispatcher().Dispatch(command("help", ""))

	if len(res.Replies) != 2 {
		t.Fatalf("expected 2 replies, got %d", len(res.Replies))
	}
	help := res.Replies[0]
	if help.To != domain.SenderReply {
		t.Errorf("help should go to the sender, got %v", help.To)
	}
	if help.Format != domain.FormatRichText {
		t.Errorf("help should be rich text, got %s", help.Format)
	}
	if !strings.Contains(help.Text, "/start") || !strings.Contains(help.Text, "/help") {
		t.Errorf("help text misses commands: %q", help.Text)
	}

	logMsg := res.Replies[1]
	want := "[Log]\nUser ID: 42\nUsername: Not Available\nMessage: /help"
	if logMsg.To != domain.FeedbackChannel || logMsg.Text != want {
		t.Errorf("unexpected log reply: %+v", logMsg)
	}
}

func TestDispatch_UnknownCommand(t *testing.T) {
	for _, name := range []string{"stop", "settings", "Start2", ""} {
		res := testDispatcher().Dispatch(command(name, "bob"))
		if res.Rule != "unknown_command" {
			t.Errorf("%q: expected unknown_command, got %q", name, res.Rule)
			continue
		}
		if res.Replies[0].Text != UnknownCommandText {
			t.Errorf("%q: unexpected text %q", name, res.Replies[0].Text)
		}
		if !strings.Contains(res.Replies[0].Text, "/help") {
			t.Errorf("%q: unknown command text should point to /help", name)
		}
	}
}

func TestDispatch_Feedback(t *testing.T) {
	ev := domain.TextMessage{Envelope: envelope(7, "carol"), Text: "love it, *thanks*"}
	res := testDispatcher().Dispatch(ev)

	if res.Rule != "feedback" {
		t.Fatalf("expected feedback rule, got %q", res.Rule)
	}
	if len(res.Replies) != 3 {
		t.Fatalf("expected ack + feedback + log, got %d", len(res.Replies))
	}
	if res.Replies[0].To != domain.SenderReply || res.Replies[0].Text != FeedbackAckText {
		t.Errorf("unexpected ack: %+v", res.Replies[0])
	}
	fb := res.Replies[1]
	if fb.To != domain.FeedbackChannel {
		t.Fatalf("feedback should go to the channel, got %v", fb.To)
	}
	want := "[Feedback]\nUser ID: 7\nUsername: carol\nMessage: love it, *thanks*"
	if fb.Text != want {
		t.Errorf("feedback text = %q, want %q", fb.Text, want)
	}
	if fb.Format != domain.FormatPlain {
		t.Errorf("feedback must be plain text, got %s", fb.Format)
	}
}

func TestDispatch_LogObserverFiresOncePerEvent(t *testing.T) {
	events := []domain.InboundEvent{
		command("start", "a"),
		command("help", "a"),
		command("nope", "a"),
		domain.TextMessage{Envelope: envelope(1, "a"), Text: "hi"},
		domain.DocumentUpload{Envelope: envelope(1, "a"), Files: []domain.FileRef{{ID: "f", Name: "a.txt", SizeBytes: 3}}},
		domain.DocumentUpload{Envelope: envelope(1, "a"), Files: []domain.FileRef{{ID: "", Name: "broken"}}},
		domain.Other{Envelope: envelope(1, "a"), RawDescription: "[sticker]"},
	}
	d := testDispatcher()
	for _, ev := range events {
		res := d.Dispatch(ev)
		if n := countTagged(res.Replies, domain.FeedbackChannel, "[Log]"); n != 1 {
			t.Errorf("%T: expected exactly 1 [Log] reply, got %d", ev, n)
		}
		last := res.Replies[len(res.Replies)-1]
		if !strings.HasPrefix(last.Text, "[Log]") {
			t.Errorf("%T: log reply should come last, got %q", ev, last.Text)
		}
	}
}

func TestDispatch_OtherOnlyLogs(t *testing.T) {
	res := testDispatcher().Dispatch(domain.Other{Envelope: envelope(5, ""), RawDescription: "[location]"})

	if res.Rule != "" {
		t.Errorf("no rule should match, got %q", res.Rule)
	}
	if len(res.Replies) != 1 {
		t.Fatalf("expected only the log reply, got %d", len(res.Replies))
	}
	if !strings.HasSuffix(res.Replies[0].Text, "Message: [location]") {
		t.Errorf("log should carry the description: %q", res.Replies[0].Text)
	}
}

func TestDispatch_MissingUsernamePlaceholder(t *testing.T) {
	ev := domain.TextMessage{Envelope: envelope(9, "  "), Text: "x"}
	res := testDispatcher().Dispatch(ev)

	for _, r := range res.Replies {
		if r.To != domain.FeedbackChannel {
			continue
		}
		if !strings.Contains(r.Text, "Username: Not Available\n") {
			t.Errorf("expected placeholder in %q", r.Text)
		}
	}
}

func TestDispatch_RuleOrder(t *testing.T) {
	want := []string{"start", "help", "document", "feedback", "unknown_command"}
	got := testDispatcher().RuleNames()
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("rule order = %v, want %v", got, want)
	}
}

func TestDispatch_FirstMatchWins(t *testing.T) {
	var calls []string
	rule := func(name string) Rule {
		return Rule{
			Name:  name,
			Match: func(domain.InboundEvent) bool { return true },
			Handle: func(domain.InboundEvent) ([]domain.Reply, error) {
				calls = append(calls, name)
				return nil, nil
			},
		}
	}
	d := NewWithRules([]Rule{rule("first"), rule("second")}, nil, testLogger())

	res := d.Dispatch(command("start", ""))
	if res.Rule != "first" {
		t.Errorf("expected first, got %q", res.Rule)
	}
	if len(calls) != 1 || calls[0] != "first" {
		t.Errorf("expected only first handler, got %v", calls)
	}
}

func TestDispatch_HandlerErrorBecomesApology(t *testing.T) {
	boom := errors.New("boom")
	d := NewWithRules([]Rule{{
		Name:   "failing",
		Match:  IsKind(domain.KindText),
		Handle: func(domain.InboundEvent) ([]domain.Reply, error) { return nil, boom },
	}}, nil, testLogger())

	res := d.Dispatch(domain.TextMessage{Envelope: envelope(1, ""), Text: "x"})
	if !errors.Is(res.Err, boom) {
		t.Errorf("expected boom, got %v", res.Err)
	}
	if len(res.Replies) != 1 || res.Replies[0].Text != ApologyText {
		t.Errorf("expected a single apology, got %+v", res.Replies)
	}
}

func TestDispatch_HandlerPanicContained(t *testing.T) {
	var observed int
	d := NewWithRules([]Rule{{
		Name:   "panicky",
		Match:  IsKind(domain.KindText),
		Handle: func(domain.InboundEvent) ([]domain.Reply, error) { panic("nil map") },
	}}, func(domain.InboundEvent) ([]domain.Reply, error) {
		observed++
		return nil, nil
	}, testLogger())

	res := d.Dispatch(domain.TextMessage{Envelope: envelope(1, ""), Text: "x"})
	if res.Err == nil {
		t.Fatal("expected an error from the panicking handler")
	}
	if res.Replies[0].Text != ApologyText {
		t.Errorf("expected apology, got %q", res.Replies[0].Text)
	}
	if observed != 1 {
		t.Errorf("observer should still run, ran %d times", observed)
	}
}

func TestDispatch_ObserverPanicLoggedOnly(t *testing.T) {
	d := NewWithRules(nil, func(domain.InboundEvent) ([]domain.Reply, error) {
		panic("observer down")
	}, testLogger())

	res := d.Dispatch(domain.Other{Envelope: envelope(1, "")})
	if res.Err == nil {
		t.Error("expected observer failure to be reported")
	}
	if len(res.Replies) != 0 {
		t.Errorf("observer failure should not produce replies, got %d", len(res.Replies))
	}
}

func TestDispatch_ConcurrentUse(t *testing.T) {
	d := testDispatcher()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res := d.Dispatch(domain.TextMessage{Envelope: envelope(int64(i), ""), Text: "x"})
			if len(res.Replies) != 3 {
				t.Errorf("expected 3 replies, got %d", len(res.Replies))
			}
		}(i)
	}
	wg.Wait()
}
