package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jholhewres/papelbot/pkg/papelbot/channels"
	"github.com/jholhewres/papelbot/pkg/papelbot/media"
)

// ---------- Test doubles ----------

// fakeClock returns a fixed time, adjustable per test.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock(t time.Time) *fakeClock { return &fakeClock{now: t} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

// recordingReplier captures every reply sent by the engine.
type recordingReplier struct {
	mu      sync.Mutex
	replies []string
	err     error
}

func (r *recordingReplier) Reply(_ context.Context, _ string, text string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.replies = append(r.replies, text)
	return nil
}

func (r *recordingReplier) All() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.replies))
	copy(out, r.replies)
	return out
}

func (r *recordingReplier) Last() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.replies) == 0 {
		return ""
	}
	return r.replies[len(r.replies)-1]
}

func (r *recordingReplier) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.replies = nil
}

// stubLoader returns a fixed attachment or error.
type stubLoader struct {
	att media.Attachment
	err error
}

func (l *stubLoader) Load(_ context.Context, msg *channels.IncomingMessage) (media.Attachment, error) {
	if l.err != nil {
		return media.Attachment{}, l.err
	}
	att := l.att
	att.MessageID = msg.ID
	return att, nil
}

// manualTimers records scheduled callbacks and only runs them when the
// test fires them explicitly.
type manualTimers struct {
	mu        sync.Mutex
	next      TimerHandle
	scheduled map[TimerHandle]func()
	delays    map[TimerHandle]time.Duration
	canceled  []TimerHandle
}

func newManualTimers() *manualTimers {
	return &manualTimers{
		scheduled: make(map[TimerHandle]func()),
		delays:    make(map[TimerHandle]time.Duration),
	}
}

func (m *manualTimers) ScheduleOnce(d time.Duration, fn func()) TimerHandle {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.next++
	m.scheduled[m.next] = fn
	m.delays[m.next] = d
	return m.next
}

func (m *manualTimers) Cancel(h TimerHandle) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.scheduled[h]; ok {
		delete(m.scheduled, h)
		m.canceled = append(m.canceled, h)
	}
}

// Fire runs the callback for h if it is still scheduled.
func (m *manualTimers) Fire(h TimerHandle) {
	m.mu.Lock()
	fn, ok := m.scheduled[h]
	delete(m.scheduled, h)
	m.mu.Unlock()
	if ok {
		fn()
	}
}

func (m *manualTimers) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.scheduled)
}

// captureSink records stores and can simulate failures.
type captureSink struct {
	mu     sync.Mutex
	stored []string
	err    error
}

func (s *captureSink) Store(name string, data []byte) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return "", s.err
	}
	s.stored = append(s.stored, name)
	return "/uploads/" + name, nil
}

// ---------- Harness ----------

type engineHarness struct {
	engine  *Engine
	replier *recordingReplier
	loader  *stubLoader
	timers  *manualTimers
	clock   *fakeClock
	sink    *captureSink
	store   *Store
}

// tuesday10h is a workday timestamp inside business hours.
var tuesday10h = time.Date(2026, 3, 10, 10, 0, 0, 0, time.UTC)

func newEngineHarness(t *testing.T) *engineHarness {
	t.Helper()
	return newEngineHarnessCatalog(t, DefaultCatalog())
}

func newEngineHarnessCatalog(t *testing.T, catalog Catalog) *engineHarness {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	clock := newFakeClock(tuesday10h)
	replier := &recordingReplier{}
	loader := &stubLoader{
		att: media.Attachment{Data: []byte("%PDF-1.4"), MimeType: "application/pdf"},
	}
	timers := newManualTimers()
	sink := &captureSink{}
	store := NewStore()

	engine := NewEngine(
		DefaultSettings(),
		catalog,
		DefaultCopy(),
		NewGateChain([]string{"5531000000000@s.whatsapp.net"}, DefaultBusinessHours(), clock),
		store,
		timers,
		media.NewIntake(sink, logger),
		replier,
		loader,
		clock,
		logger,
	)

	return &engineHarness{
		engine:  engine,
		replier: replier,
		loader:  loader,
		timers:  timers,
		clock:   clock,
		sink:    sink,
		store:   store,
	}
}

var msgSeq int

func textMsg(content string) *channels.IncomingMessage {
	msgSeq++
	return &channels.IncomingMessage{
		ID:       fmt.Sprintf("msg-%d", msgSeq),
		Channel:  "whatsapp",
		From:     "5531999998888@s.whatsapp.net",
		FromName: "Maria",
		ChatID:   "5531999998888@s.whatsapp.net",
		Type:     channels.MessageText,
		Content:  content,
	}
}

func mediaMsg(mime string) *channels.IncomingMessage {
	m := textMsg("")
	m.Type = channels.MessageDocument
	m.Media = &channels.MediaInfo{Type: channels.MessageDocument, MimeType: mime}
	return m
}

func (h *engineHarness) session(t *testing.T, chatID string) SessionState {
	t.Helper()
	s, ok := h.store.Peek(chatID)
	if !ok {
		t.Fatalf("no session for %s", chatID)
	}
	return s
}

// ---------- Gate tests through the engine ----------

func TestEngine_Admission(t *testing.T) {
	ctx := context.Background()

	t.Run("blocked contact gets no reply and no session", func(t *testing.T) {
		h := newEngineHarness(t)
		msg := textMsg("oi")
		msg.From = "5531000000000@s.whatsapp.net"
		msg.ChatID = "5531000000000@s.whatsapp.net"

		h.engine.HandleMessage(ctx, msg)

		if got := h.replier.All(); len(got) != 0 {
			t.Errorf("expected silence for blocked contact, got %v", got)
		}
		if h.store.Len() != 0 {
			t.Errorf("expected no session, got %d", h.store.Len())
		}
	})

	t.Run("group message gets no reply", func(t *testing.T) {
		h := newEngineHarness(t)
		msg := textMsg("oi")
		msg.IsGroup = true
		msg.ChatID = "123456789-1234@g.us"

		h.engine.HandleMessage(ctx, msg)

		if got := h.replier.All(); len(got) != 0 {
			t.Errorf("expected silence for group, got %v", got)
		}
	})

	t.Run("outside hours gets courtesy reply only", func(t *testing.T) {
		h := newEngineHarness(t)
		h.clock.Set(time.Date(2026, 3, 10, 19, 0, 0, 0, time.UTC)) // 19h, fechado

		h.engine.HandleMessage(ctx, textMsg("oi"))

		got := h.replier.All()
		if len(got) != 1 || !strings.Contains(got[0], "Fora do horário") {
			t.Errorf("expected outside-hours reply, got %v", got)
		}
		if h.store.Len() != 0 {
			t.Errorf("outside-hours message must not create a session, got %d", h.store.Len())
		}
	})

	t.Run("sunday is outside hours", func(t *testing.T) {
		h := newEngineHarness(t)
		h.clock.Set(time.Date(2026, 3, 8, 10, 0, 0, 0, time.UTC)) // domingo

		h.engine.HandleMessage(ctx, textMsg("oi"))

		got := h.replier.All()
		if len(got) != 1 || !strings.Contains(got[0], "Fora do horário") {
			t.Errorf("expected outside-hours reply on Sunday, got %v", got)
		}
	})
}

// ---------- Idle state ----------

func TestEngine_Greeting(t *testing.T) {
	ctx := context.Background()
	h := newEngineHarness(t)

	h.engine.HandleMessage(ctx, textMsg("oi"))

	got := h.replier.All()
	if len(got) != 2 {
		t.Fatalf("expected greeting + menu, got %d replies: %v", len(got), got)
	}
	if !strings.Contains(got[0], "Maria") {
		t.Errorf("greeting should address contact by name, got %q", got[0])
	}
	if !strings.Contains(got[1], "Menu Principal") {
		t.Errorf("second reply should be the menu, got %q", got[1])
	}
}

func TestEngine_ServiceKeyword(t *testing.T) {
	ctx := context.Background()
	h := newEngineHarness(t)

	h.engine.HandleMessage(ctx, textMsg("quanto custa a xerox?"))

	got := h.replier.All()
	if len(got) != 1 || !strings.Contains(got[0], "R$ 0,50") {
		t.Errorf("expected xerox price reply, got %v", got)
	}
}

func TestEngine_Feedback(t *testing.T) {
	ctx := context.Background()

	t.Run("positive token", func(t *testing.T) {
		h := newEngineHarness(t)
		h.engine.HandleMessage(ctx, textMsg("ótimo"))
		if !strings.Contains(h.replier.Last(), "felizes") {
			t.Errorf("expected thanks reply, got %q", h.replier.Last())
		}
	})

	t.Run("negative token", func(t *testing.T) {
		h := newEngineHarness(t)
		h.engine.HandleMessage(ctx, textMsg("ruim"))
		if !strings.Contains(h.replier.Last(), "Sentimos muito") {
			t.Errorf("expected apology reply, got %q", h.replier.Last())
		}
	})

	t.Run("token must match exactly", func(t *testing.T) {
		h := newEngineHarness(t)
		h.engine.HandleMessage(ctx, textMsg("muito ruim mesmo"))
		if h.replier.Last() != DefaultCopy().Fallback {
			t.Errorf("embedded token must not classify as feedback, got %q", h.replier.Last())
		}
	})
}

func TestEngine_MenuChoice(t *testing.T) {
	ctx := context.Background()

	t.Run("upload option arms pending request", func(t *testing.T) {
		h := newEngineHarness(t)
		msg := textMsg("1")
		h.engine.HandleMessage(ctx, msg)

		if !strings.Contains(h.replier.Last(), "Impressão") {
			t.Errorf("expected print instructions, got %q", h.replier.Last())
		}
		s := h.session(t, msg.ChatID)
		if s.Awaiting == nil || s.Awaiting.Option != 1 {
			t.Fatalf("expected awaiting upload for option 1, got %+v", s.Awaiting)
		}
	})

	t.Run("info option does not arm upload", func(t *testing.T) {
		h := newEngineHarness(t)
		msg := textMsg("2")
		h.engine.HandleMessage(ctx, msg)

		s := h.session(t, msg.ChatID)
		if s.Awaiting != nil {
			t.Errorf("option 2 must not await upload, got %+v", s.Awaiting)
		}
	})

	t.Run("same info option twice gives the same reply and state", func(t *testing.T) {
		h := newEngineHarness(t)
		msg := textMsg("2")
		h.engine.HandleMessage(ctx, msg)
		first := h.replier.Last()

		m2 := textMsg("2")
		m2.ChatID = msg.ChatID
		h.engine.HandleMessage(ctx, m2)

		if h.replier.Last() != first {
			t.Errorf("repeated choice must give the same reply: %q vs %q", first, h.replier.Last())
		}
		s := h.session(t, msg.ChatID)
		if s.Awaiting != nil || s.HandoffActive {
			t.Errorf("repeated info choice must leave the session idle, got %+v", s)
		}
		if h.timers.Pending() != 0 {
			t.Errorf("info choice must not schedule timers, got %d pending", h.timers.Pending())
		}
	})

	t.Run("close option replies goodbye", func(t *testing.T) {
		h := newEngineHarness(t)
		h.engine.HandleMessage(ctx, textMsg("0"))
		if !strings.Contains(h.replier.Last(), "encerrada") {
			t.Errorf("expected goodbye, got %q", h.replier.Last())
		}
	})

	t.Run("non-canonical numerals fall through", func(t *testing.T) {
		for _, input := range []string{"01", "1.0", " 1 2", "5"} {
			h := newEngineHarness(t)
			h.engine.HandleMessage(ctx, textMsg(input))
			if h.replier.Last() != DefaultCopy().Fallback {
				t.Errorf("input %q: expected fallback, got %q", input, h.replier.Last())
			}
		}
	})
}

func TestEngine_Fallback(t *testing.T) {
	ctx := context.Background()
	h := newEngineHarness(t)

	h.engine.HandleMessage(ctx, textMsg("xyzzy"))
	if h.replier.Last() != DefaultCopy().Fallback {
		t.Errorf("expected fallback, got %q", h.replier.Last())
	}
}

// ---------- AwaitingUpload state ----------

func TestEngine_AwaitingUpload(t *testing.T) {
	ctx := context.Background()

	enterAwaiting := func(t *testing.T, h *engineHarness) string {
		t.Helper()
		msg := textMsg("1")
		h.engine.HandleMessage(ctx, msg)
		h.replier.Reset()
		return msg.ChatID
	}

	t.Run("text while awaiting keeps request pending", func(t *testing.T) {
		h := newEngineHarness(t)
		chat := enterAwaiting(t, h)

		// Saudação e opção de menu não resetam o pedido pendente.
		for _, input := range []string{"oi", "menu", "2", "qualquer coisa"} {
			m := textMsg(input)
			m.ChatID = chat
			h.engine.HandleMessage(ctx, m)
			if h.replier.Last() != DefaultCopy().Fallback {
				t.Errorf("input %q: expected fallback while awaiting, got %q", input, h.replier.Last())
			}
			s := h.session(t, chat)
			if s.Awaiting == nil || s.Awaiting.Option != 1 {
				t.Fatalf("input %q: pending request must survive, got %+v", input, s.Awaiting)
			}
		}
	})

	t.Run("valid upload completes the request", func(t *testing.T) {
		h := newEngineHarness(t)
		chat := enterAwaiting(t, h)

		m := mediaMsg("application/pdf")
		m.ChatID = chat
		h.engine.HandleMessage(ctx, m)

		got := h.replier.All()
		if len(got) != 4 {
			t.Fatalf("expected received+processed+payment+feedback, got %d: %v", len(got), got)
		}
		if !strings.Contains(got[2], DefaultSettings().PixKey) {
			t.Errorf("payment reply must carry the Pix key, got %q", got[2])
		}
		s := h.session(t, chat)
		if s.Awaiting != nil {
			t.Errorf("request must be cleared after upload, got %+v", s.Awaiting)
		}
		if len(s.FollowUps) != 2 {
			t.Errorf("expected 2 follow-up timers, got %d", len(s.FollowUps))
		}
	})

	t.Run("payment is sent even without the extra confirmation", func(t *testing.T) {
		catalog := DefaultCatalog()
		entry := catalog.Entries[1]
		entry.ConfirmExtra = false
		catalog.Entries[1] = entry
		h := newEngineHarnessCatalog(t, catalog)
		chat := enterAwaiting(t, h)

		m := mediaMsg("application/pdf")
		m.ChatID = chat
		h.engine.HandleMessage(ctx, m)

		got := h.replier.All()
		if len(got) != 2 {
			t.Fatalf("expected received+payment only, got %d: %v", len(got), got)
		}
		if !strings.Contains(got[1], DefaultSettings().PixKey) {
			t.Errorf("payment reply must carry the Pix key, got %q", got[1])
		}
	})

	t.Run("audio is rejected and request survives", func(t *testing.T) {
		h := newEngineHarness(t)
		chat := enterAwaiting(t, h)
		h.loader.att = media.Attachment{Data: []byte("ogg"), MimeType: "audio/ogg; codecs=opus"}

		m := mediaMsg("audio/ogg; codecs=opus")
		m.ChatID = chat
		h.engine.HandleMessage(ctx, m)

		if !strings.Contains(h.replier.Last(), "áudio") {
			t.Errorf("expected audio rejection, got %q", h.replier.Last())
		}
		if s := h.session(t, chat); s.Awaiting == nil {
			t.Error("pending request must survive audio rejection")
		}
	})

	t.Run("disallowed subtype for the request", func(t *testing.T) {
		h := newEngineHarness(t)
		// Foto 3x4 só aceita jpeg/png.
		msg := textMsg("3")
		h.engine.HandleMessage(ctx, msg)
		h.replier.Reset()
		h.loader.att = media.Attachment{Data: []byte("%PDF-1.4"), MimeType: "application/pdf"}

		m := mediaMsg("application/pdf")
		m.ChatID = msg.ChatID
		h.engine.HandleMessage(ctx, m)

		if !strings.Contains(h.replier.Last(), "Formato inválido") {
			t.Errorf("expected invalid format reply, got %q", h.replier.Last())
		}
		if s := h.session(t, msg.ChatID); s.Awaiting == nil {
			t.Error("pending request must survive format rejection")
		}
	})

	t.Run("storage failure preserves the request", func(t *testing.T) {
		h := newEngineHarness(t)
		chat := enterAwaiting(t, h)
		h.sink.err = errors.New("disk full")

		m := mediaMsg("application/pdf")
		m.ChatID = chat
		h.engine.HandleMessage(ctx, m)

		if !strings.Contains(h.replier.Last(), "tente enviá-lo novamente") {
			t.Errorf("expected storage failure reply, got %q", h.replier.Last())
		}
		if s := h.session(t, chat); s.Awaiting == nil {
			t.Error("pending request must survive storage failure")
		}
	})

	t.Run("name collision is fatal for the request attempt", func(t *testing.T) {
		h := newEngineHarness(t)
		chat := enterAwaiting(t, h)
		h.sink.err = media.ErrNameCollision

		m := mediaMsg("application/pdf")
		m.ChatID = chat
		h.engine.HandleMessage(ctx, m)

		if !strings.Contains(h.replier.Last(), "tente enviá-lo novamente") {
			t.Errorf("expected failure reply on collision, got %q", h.replier.Last())
		}
		if s := h.session(t, chat); s.Awaiting == nil {
			t.Error("collision must not clear the pending request")
		}
	})

	t.Run("download failure preserves the request", func(t *testing.T) {
		h := newEngineHarness(t)
		chat := enterAwaiting(t, h)
		h.loader.err = errors.New("media servers unreachable")

		m := mediaMsg("application/pdf")
		m.ChatID = chat
		h.engine.HandleMessage(ctx, m)

		if !strings.Contains(h.replier.Last(), "tente enviá-lo novamente") {
			t.Errorf("expected failure reply on download error, got %q", h.replier.Last())
		}
		if s := h.session(t, chat); s.Awaiting == nil {
			t.Error("download failure must not clear the pending request")
		}
	})
}

func TestEngine_IdleUpload(t *testing.T) {
	// Upload sem pedido pendente usa a lista default de tipos.
	ctx := context.Background()
	h := newEngineHarness(t)

	m := mediaMsg("application/pdf")
	h.engine.HandleMessage(ctx, m)

	got := h.replier.All()
	if len(got) != 1 || !strings.Contains(got[0], "Arquivo recebido") {
		t.Errorf("idle upload should only confirm receipt, got %v", got)
	}
	s := h.session(t, m.ChatID)
	if len(s.FollowUps) != 2 {
		t.Errorf("expected follow-ups scheduled, got %d", len(s.FollowUps))
	}
}

// ---------- Follow-up timers ----------

func TestEngine_FollowUps(t *testing.T) {
	ctx := context.Background()

	upload := func(t *testing.T, h *engineHarness) string {
		t.Helper()
		m := mediaMsg("application/pdf")
		h.engine.HandleMessage(ctx, m)
		h.replier.Reset()
		return m.ChatID
	}

	t.Run("fire in order with configured delays", func(t *testing.T) {
		h := newEngineHarness(t)
		chat := upload(t, h)

		s := h.session(t, chat)
		if len(s.FollowUps) != 2 {
			t.Fatalf("expected 2 follow-ups, got %d", len(s.FollowUps))
		}
		if d := h.timers.delays[s.FollowUps[0]]; d != DefaultSettings().FollowUpReady {
			t.Errorf("ready delay = %v, want %v", d, DefaultSettings().FollowUpReady)
		}
		if d := h.timers.delays[s.FollowUps[1]]; d != DefaultSettings().FollowUpRate {
			t.Errorf("rate delay = %v, want %v", d, DefaultSettings().FollowUpRate)
		}

		h.timers.Fire(s.FollowUps[0])
		h.timers.Fire(s.FollowUps[1])

		got := h.replier.All()
		if len(got) != 2 ||
			!strings.Contains(got[0], "pronto para retirada") ||
			!strings.Contains(got[1], "Avalie") {
			t.Errorf("unexpected follow-up replies: %v", got)
		}
	})

	t.Run("superseded by a new upload", func(t *testing.T) {
		h := newEngineHarness(t)
		chat := upload(t, h)
		first := h.session(t, chat).FollowUps

		m := mediaMsg("application/pdf")
		m.ChatID = chat
		h.engine.HandleMessage(ctx, m)
		h.replier.Reset()

		// Os timers antigos foram cancelados: dispará-los é um no-op.
		for _, fu := range first {
			h.timers.Fire(fu)
		}
		if got := h.replier.All(); len(got) != 0 {
			t.Errorf("stale follow-ups must not fire, got %v", got)
		}
	})

	t.Run("superseded by a new upload-requiring menu pick", func(t *testing.T) {
		h := newEngineHarness(t)
		chat := upload(t, h)
		first := h.session(t, chat).FollowUps

		m := textMsg("1")
		m.ChatID = chat
		h.engine.HandleMessage(ctx, m)
		h.replier.Reset()

		for _, fu := range first {
			h.timers.Fire(fu)
		}
		if got := h.replier.All(); len(got) != 0 {
			t.Errorf("follow-ups must be canceled by a new request, got %v", got)
		}
	})

	t.Run("callback superseded while waiting for the lock is silent", func(t *testing.T) {
		// Simula a corrida: o callback do primeiro upload já disparou e
		// espera o lock enquanto um segundo upload cancela o conjunto.
		// O Cancel chega tarde; a geração detecta e o envio é suprimido.
		h := newEngineHarness(t)
		chat := upload(t, h)
		staleGen := h.session(t, chat).FollowUpGen

		m := mediaMsg("application/pdf")
		m.ChatID = chat
		h.engine.HandleMessage(ctx, m)
		h.replier.Reset()

		h.engine.fireFollowUp(chat, staleGen, DefaultCopy().FollowUpReady)
		if got := h.replier.All(); len(got) != 0 {
			t.Errorf("superseded follow-up must be silent, got %v", got)
		}

		// A geração corrente continua válida.
		current := h.session(t, chat).FollowUpGen
		h.engine.fireFollowUp(chat, current, DefaultCopy().FollowUpReady)
		if got := h.replier.All(); len(got) != 1 {
			t.Errorf("current follow-up must still fire, got %v", got)
		}
	})

	t.Run("suppressed while handoff is active", func(t *testing.T) {
		h := newEngineHarness(t)
		chat := upload(t, h)
		followUps := h.session(t, chat).FollowUps

		m := textMsg("6")
		m.ChatID = chat
		h.engine.HandleMessage(ctx, m)
		h.replier.Reset()

		for _, fu := range followUps {
			h.timers.Fire(fu)
		}
		if got := h.replier.All(); len(got) != 0 {
			t.Errorf("follow-ups must stay silent during handoff, got %v", got)
		}
	})
}

// ---------- Handoff ----------

func TestEngine_Handoff(t *testing.T) {
	ctx := context.Background()

	enterHandoff := func(t *testing.T, h *engineHarness) string {
		t.Helper()
		m := textMsg("6")
		h.engine.HandleMessage(ctx, m)
		if !strings.Contains(h.replier.Last(), "Atendimento humano ativado") {
			t.Fatalf("expected handoff confirmation, got %q", h.replier.Last())
		}
		h.replier.Reset()
		return m.ChatID
	}

	t.Run("messages are dropped silently", func(t *testing.T) {
		h := newEngineHarness(t)
		chat := enterHandoff(t, h)

		for _, input := range []string{"oi", "menu", "1", "xerox", "xyzzy"} {
			m := textMsg(input)
			m.ChatID = chat
			h.engine.HandleMessage(ctx, m)
		}
		if got := h.replier.All(); len(got) != 0 {
			t.Errorf("handoff must drop everything silently, got %v", got)
		}
	})

	t.Run("media is dropped silently too", func(t *testing.T) {
		h := newEngineHarness(t)
		chat := enterHandoff(t, h)

		m := mediaMsg("application/pdf")
		m.ChatID = chat
		h.engine.HandleMessage(ctx, m)

		if got := h.replier.All(); len(got) != 0 {
			t.Errorf("handoff must drop media silently, got %v", got)
		}
		if len(h.sink.stored) != 0 {
			t.Errorf("no file may be stored during handoff, got %v", h.sink.stored)
		}
	})

	t.Run("expiry restores the bot with a notice", func(t *testing.T) {
		h := newEngineHarness(t)
		chat := enterHandoff(t, h)
		s := h.session(t, chat)

		if d := h.timers.delays[s.HandoffTimer]; d != DefaultSettings().HandoffDuration {
			t.Errorf("handoff delay = %v, want %v", d, DefaultSettings().HandoffDuration)
		}

		h.timers.Fire(s.HandoffTimer)

		if !strings.Contains(h.replier.Last(), "encerrado") {
			t.Errorf("expected handoff-ended notice, got %q", h.replier.Last())
		}
		after := h.session(t, chat)
		if after.HandoffActive {
			t.Error("handoff must be off after expiry")
		}

		// Bot responde de novo.
		h.replier.Reset()
		m := textMsg("oi")
		m.ChatID = chat
		h.engine.HandleMessage(ctx, m)
		if len(h.replier.All()) == 0 {
			t.Error("bot must answer again after handoff expiry")
		}
	})

	t.Run("re-selecting handoff re-arms silently", func(t *testing.T) {
		h := newEngineHarness(t)
		chat := enterHandoff(t, h)
		first := h.session(t, chat).HandoffTimer

		m := textMsg("6")
		m.ChatID = chat
		h.engine.HandleMessage(ctx, m)

		if got := h.replier.All(); len(got) != 0 {
			t.Errorf("re-arm must be silent, got %v", got)
		}
		s := h.session(t, chat)
		if s.HandoffTimer == first {
			t.Error("re-arm must replace the timer handle")
		}

		// O timer antigo foi cancelado; o novo é o único vivo.
		h.timers.Fire(first)
		if got := h.replier.All(); len(got) != 0 {
			t.Errorf("stale handoff timer must not fire, got %v", got)
		}
		h.timers.Fire(s.HandoffTimer)
		if !strings.Contains(h.replier.Last(), "encerrado") {
			t.Errorf("new timer must end the handoff, got %q", h.replier.Last())
		}
	})

	t.Run("stale generation is a silent no-op", func(t *testing.T) {
		h := newEngineHarness(t)
		chat := enterHandoff(t, h)
		s := h.session(t, chat)

		// Simula a corrida: o callback antigo roda depois de um re-arm.
		h.engine.expireHandoff(chat, s.HandoffGen-1)

		if got := h.replier.All(); len(got) != 0 {
			t.Errorf("stale generation must be silent, got %v", got)
		}
		if after := h.session(t, chat); !after.HandoffActive {
			t.Error("stale callback must not end the handoff")
		}
	})

	t.Run("handoff option while awaiting upload falls through", func(t *testing.T) {
		// Aguardando arquivo, a opção de handoff é texto como qualquer
		// outro: fallback, pedido preservado, handoff não inicia.
		h := newEngineHarness(t)
		m := textMsg("1")
		h.engine.HandleMessage(ctx, m)
		h.replier.Reset()

		m2 := textMsg("6")
		m2.ChatID = m.ChatID
		h.engine.HandleMessage(ctx, m2)

		if h.replier.Last() != DefaultCopy().Fallback {
			t.Errorf("expected fallback while awaiting, got %q", h.replier.Last())
		}
		s := h.session(t, m.ChatID)
		if s.HandoffActive {
			t.Error("handoff must not start while an upload is pending")
		}
		if s.Awaiting == nil || s.Awaiting.Option != 1 {
			t.Fatalf("pending request must survive the handoff option, got %+v", s.Awaiting)
		}
	})
}

// ---------- Reply failures ----------

func TestEngine_ReplyFailureDoesNotPanic(t *testing.T) {
	ctx := context.Background()
	h := newEngineHarness(t)
	h.replier.err = errors.New("send failed")

	// Nada a assertar além de não entrar em pânico e manter o estado.
	m := textMsg("1")
	h.engine.HandleMessage(ctx, m)

	s := h.session(t, m.ChatID)
	if s.Awaiting == nil {
		t.Error("state transition must happen even if the reply fails")
	}
}
