package adapter

import (
	"strings"
	"testing"

	tele "gopkg.in/telebot.v4"

	logx "herdbot/pkg/logx"

	kit "herdbot/internal/transport"
)

func TestSplitTelegramTextShortPassthrough(t *testing.T) {
	t.Parallel()
	got := splitTelegramText("hello", 100, "")
	if len(got) != 1 || got[0] != "hello" {
		t.Fatalf("got %q", got)
	}
}

func TestSplitTelegramTextPrefersNewlines(t *testing.T) {
	t.Parallel()
	lines := make([]string, 0, 20)
	for i := 0; i < 20; i++ {
		lines = append(lines, strings.Repeat("a", 10))
	}
	s := strings.Join(lines, "\n")

	chunks := splitTelegramText(s, 50, "")
	if len(chunks) < 2 {
		t.Fatalf("expected multiple chunks, got %d", len(chunks))
	}
	for i, c := range chunks {
		if len([]rune(c)) > 50 {
			t.Fatalf("chunk %d exceeds limit: %d runes", i, len([]rune(c)))
		}
		// Newline-boundary splits never break a line in half.
		for _, line := range strings.Split(c, "\n") {
			if line != strings.Repeat("a", 10) {
				t.Fatalf("chunk %d contains a broken line %q", i, line)
			}
		}
	}
}

func TestSplitTelegramTextHardSplitWithoutNewlines(t *testing.T) {
	t.Parallel()
	s := strings.Repeat("x", 95)
	chunks := splitTelegramText(s, 30, "")
	total := 0
	for i, c := range chunks {
		n := len([]rune(c))
		if n > 30 {
			t.Fatalf("chunk %d exceeds limit: %d", i, n)
		}
		total += n
	}
	if total != 95 {
		t.Fatalf("content lost: %d of 95 runes survived", total)
	}
}

func TestSplitTelegramTextAvoidsDanglingHTMLTag(t *testing.T) {
	t.Parallel()
	// The window would cut in the middle of "<code>"; HTML mode moves the
	// cut to the start of the tag.
	s := strings.Repeat("y", 26) + "<code>zz</code>" + strings.Repeat("y", 30)
	chunks := splitTelegramText(s, 30, "HTML")
	for i, c := range chunks {
		opens := strings.Count(c, "<")
		closes := strings.Count(c, ">")
		if opens != closes {
			t.Fatalf("chunk %d splits inside a tag: %q", i, c)
		}
	}
}

func TestSplitTelegramTextZeroLimitUsesDefault(t *testing.T) {
	t.Parallel()
	s := strings.Repeat("z", telegramTextLimit+10)
	chunks := splitTelegramText(s, 0, "")
	if len(chunks) != 2 {
		t.Fatalf("chunks = %d, want 2", len(chunks))
	}
}

func TestMessageUpdateDropsSenderlessPosts(t *testing.T) {
	t.Parallel()
	if _, ok := messageUpdate(nil); ok {
		t.Fatal("nil message converted")
	}
	// Channel posts arrive without a Sender.
	if _, ok := messageUpdate(&tele.Message{ID: 1, Chat: &tele.Chat{ID: 5}, Text: "post"}); ok {
		t.Fatal("senderless post converted")
	}

	up, ok := messageUpdate(&tele.Message{
		ID:     7,
		Chat:   &tele.Chat{ID: -100, Type: tele.ChatGroup},
		Sender: &tele.User{ID: 42, Username: "op"},
		Text:   "/pool",
	})
	if !ok || up.Kind != kit.UpdateMessage || up.Message == nil {
		t.Fatalf("update = %+v, ok = %v", up, ok)
	}
	m := up.Message
	if m.ID != 7 || m.ChatID != -100 || m.FromID != 42 || m.FromUsername != "op" || m.Text != "/pool" || !m.IsGroup {
		t.Fatalf("message = %+v", m)
	}
}

func TestCallbackUpdateDropsSenderlessPresses(t *testing.T) {
	t.Parallel()
	msg := &tele.Message{ID: 3, Chat: &tele.Chat{ID: 9}}
	if _, ok := callbackUpdate(nil, msg); ok {
		t.Fatal("nil callback converted")
	}
	if _, ok := callbackUpdate(&tele.Callback{ID: "cb"}, msg); ok {
		t.Fatal("senderless callback converted")
	}

	up, ok := callbackUpdate(&tele.Callback{ID: "cb", Sender: &tele.User{ID: 42}, Data: "run:cancel"}, msg)
	if !ok || up.Kind != kit.UpdateCallback || up.Callback == nil {
		t.Fatalf("update = %+v, ok = %v", up, ok)
	}
	cb := up.Callback
	if cb.ID != "cb" || cb.ChatID != 9 || cb.FromID != 42 || cb.MessageID != 3 || cb.Data != "run:cancel" {
		t.Fatalf("callback = %+v", cb)
	}
}

func TestNewRequiresToken(t *testing.T) {
	t.Parallel()
	if _, err := New(Config{Token: "   "}, logx.Nop()); err == nil {
		t.Fatal("empty token accepted")
	}
}
