package bot

import (
	"strings"
	"testing"
	"time"
)

func TestCatalog_MenuText(t *testing.T) {
	menu := DefaultCatalog().MenuText("Papelaria BH")

	for _, want := range []string{
		"Papelaria BH",
		"Impressão",
		"Xerox",
		"Foto 3x4",
		"Plastificação",
		"Falar com humano",
		"Encerrar",
	} {
		if !strings.Contains(menu, want) {
			t.Errorf("menu missing %q:\n%s", want, menu)
		}
	}

	// As opções aparecem em ordem numérica.
	if strings.Index(menu, "Impressão") > strings.Index(menu, "Xerox") {
		t.Error("menu entries must be sorted by option number")
	}
}

func TestCatalog_ValidOption(t *testing.T) {
	cat := DefaultCatalog()

	for _, n := range []int{0, 1, 2, 3, 4, 6} {
		if !cat.ValidOption(n) {
			t.Errorf("option %d should be valid", n)
		}
	}
	for _, n := range []int{5, 7, 99, -1} {
		if cat.ValidOption(n) {
			t.Errorf("option %d should be invalid", n)
		}
	}
}

func TestCatalog_ServiceReply(t *testing.T) {
	cat := DefaultCatalog()

	t.Run("keyword matches case-insensitively", func(t *testing.T) {
		_, reply, ok := cat.ServiceReply("QUANTO CUSTA XEROX?")
		if !ok || !strings.Contains(reply, "R$ 0,50") {
			t.Errorf("expected xerox price, got (%q, %v)", reply, ok)
		}
	})

	t.Run("first configured keyword wins", func(t *testing.T) {
		key, _, ok := cat.ServiceReply("xerox ou plastificação?")
		if !ok || key != "xerox" {
			t.Errorf("expected first keyword to win, got %q", key)
		}
	})

	t.Run("no keyword", func(t *testing.T) {
		if _, _, ok := cat.ServiceReply("bom dia"); ok {
			t.Error("unexpected FAQ match")
		}
	})
}

func TestGreeting_TimeOfDay(t *testing.T) {
	tests := []struct {
		hour int
		want string
	}{
		{7, "Bom dia"},
		{11, "Bom dia"},
		{12, "Boa tarde"},
		{17, "Boa tarde"},
		{18, "Boa noite"},
		{23, "Boa noite"},
		{3, "Boa noite"},
	}

	for _, tt := range tests {
		now := time.Date(2026, 3, 10, tt.hour, 0, 0, 0, time.UTC)
		got := Greeting("Maria", now)
		if !strings.Contains(got, tt.want) || !strings.Contains(got, "Maria") {
			t.Errorf("Greeting at %dh = %q, want contains %q and the name", tt.hour, got, tt.want)
		}
	}
}
