package bot

import (
	"sync"
	"testing"
)

func TestStore_WithSession(t *testing.T) {
	st := NewStore()

	t.Run("creates on first use", func(t *testing.T) {
		st.WithSession("a@s.whatsapp.net", func(s *SessionState) {
			if s.ContactID != "a@s.whatsapp.net" {
				t.Errorf("ContactID = %q", s.ContactID)
			}
			s.HandoffGen = 7
		})
		if st.Len() != 1 {
			t.Errorf("Len() = %d, want 1", st.Len())
		}
	})

	t.Run("returns the same session", func(t *testing.T) {
		st.WithSession("a@s.whatsapp.net", func(s *SessionState) {
			if s.HandoffGen != 7 {
				t.Errorf("expected state to persist across calls, gen = %d", s.HandoffGen)
			}
		})
		if st.Len() != 1 {
			t.Errorf("Len() = %d, want 1", st.Len())
		}
	})

	t.Run("sessions are independent per contact", func(t *testing.T) {
		st.WithSession("b@s.whatsapp.net", func(s *SessionState) {
			if s.HandoffGen != 0 {
				t.Errorf("new contact must start clean, gen = %d", s.HandoffGen)
			}
		})
		if st.Len() != 2 {
			t.Errorf("Len() = %d, want 2", st.Len())
		}
	})
}

func TestStore_Peek(t *testing.T) {
	st := NewStore()

	if _, ok := st.Peek("ghost"); ok {
		t.Error("Peek must not create sessions")
	}
	if st.Len() != 0 {
		t.Errorf("Len() = %d after Peek, want 0", st.Len())
	}

	st.WithSession("a", func(s *SessionState) {
		s.HandoffActive = true
		s.FollowUps = []TimerHandle{1, 2}
	})

	cp, ok := st.Peek("a")
	if !ok || !cp.HandoffActive || len(cp.FollowUps) != 2 {
		t.Errorf("Peek copy = %+v, ok = %v", cp, ok)
	}

	// A cópia é rasa mas o slice é independente.
	cp.FollowUps[0] = 99
	again, _ := st.Peek("a")
	if again.FollowUps[0] != 1 {
		t.Error("mutating the copy must not affect the stored session")
	}
}

func TestStore_ConcurrentContacts(t *testing.T) {
	// Contatos distintos progridem em paralelo; o mesmo contato serializa.
	st := NewStore()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			st.WithSession("a", func(s *SessionState) { s.HandoffGen++ })
		}()
		go func() {
			defer wg.Done()
			st.WithSession("b", func(s *SessionState) { s.HandoffGen++ })
		}()
	}
	wg.Wait()

	a, _ := st.Peek("a")
	b, _ := st.Peek("b")
	if a.HandoffGen != 50 || b.HandoffGen != 50 {
		t.Errorf("expected 50 serialized increments each, got a=%d b=%d", a.HandoffGen, b.HandoffGen)
	}
}
