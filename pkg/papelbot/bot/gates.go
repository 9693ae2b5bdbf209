// gates.go implementa a cadeia de admissão avaliada antes de qualquer
// intenção: bloqueio de números, exclusão de grupos e horário comercial.
// A ordem é fixa e curto-circuita na primeira rejeição — contatos bloqueados
// e grupos nunca geram resposta; apenas a rejeição por horário envia a
// mensagem de cortesia.
package bot

import (
	"strings"
	"sync"
	"time"

	"github.com/jholhewres/papelbot/pkg/papelbot/channels"
)

// RejectReason identifica o motivo de uma rejeição na cadeia de admissão.
type RejectReason string

const (
	RejectNone         RejectReason = ""
	RejectBlocked      RejectReason = "blocked"
	RejectGroup        RejectReason = "group"
	RejectOutsideHours RejectReason = "outside_hours"
)

// Clock fornece a hora atual no fuso configurado. Injetável para testes.
type Clock interface {
	Now() time.Time
}

// SystemClock lê o relógio do sistema em um fuso fixo nomeado.
type SystemClock struct {
	loc *time.Location
}

// NewSystemClock resolve o fuso uma única vez.
func NewSystemClock(timezone string) (*SystemClock, error) {
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return nil, err
	}
	return &SystemClock{loc: loc}, nil
}

// Now retorna a hora atual no fuso configurado.
func (c *SystemClock) Now() time.Time {
	return time.Now().In(c.loc)
}

// BusinessHours define a janela de atendimento.
type BusinessHours struct {
	// FirstDay e LastDay delimitam os dias de atendimento
	// (time.Weekday: 1 = segunda, 6 = sábado).
	FirstDay time.Weekday `yaml:"first_day"`
	LastDay  time.Weekday `yaml:"last_day"`

	// OpenHour é a hora de abertura (inclusiva).
	OpenHour int `yaml:"open_hour"`

	// CloseHour é a hora de fechamento (exclusiva): 18 fecha às 17:59:59.
	CloseHour int `yaml:"close_hour"`
}

// DefaultBusinessHours retorna segunda a sábado, 8h às 18h.
func DefaultBusinessHours() BusinessHours {
	return BusinessHours{
		FirstDay:  time.Monday,
		LastDay:   time.Saturday,
		OpenHour:  8,
		CloseHour: 18,
	}
}

// Contains reporta se t está dentro da janela de atendimento.
func (h BusinessHours) Contains(t time.Time) bool {
	day := t.Weekday()
	if day < h.FirstDay || day > h.LastDay {
		return false
	}
	hour := t.Hour()
	return hour >= h.OpenHour && hour < h.CloseHour
}

// GateChain aplica as verificações de admissão em ordem fixa.
type GateChain struct {
	hours BusinessHours
	clock Clock

	mu      sync.RWMutex
	blocked map[string]struct{}
}

// NewGateChain cria a cadeia com a lista de bloqueio inicial.
func NewGateChain(blocked []string, hours BusinessHours, clock Clock) *GateChain {
	g := &GateChain{
		hours:   hours,
		clock:   clock,
		blocked: make(map[string]struct{}, len(blocked)),
	}
	for _, id := range blocked {
		id = strings.TrimSpace(id)
		if id != "" {
			g.blocked[id] = struct{}{}
		}
	}
	return g
}

// Admit avalia o evento. Retorna RejectNone quando admitido; caso contrário,
// o motivo da primeira rejeição.
func (g *GateChain) Admit(msg *channels.IncomingMessage) RejectReason {
	if g.IsBlocked(msg.From) || g.IsBlocked(msg.ChatID) {
		return RejectBlocked
	}
	if msg.IsGroup {
		return RejectGroup
	}
	if !g.hours.Contains(g.clock.Now()) {
		return RejectOutsideHours
	}
	return RejectNone
}

// IsBlocked reporta se o identificador está na lista de bloqueio.
func (g *GateChain) IsBlocked(id string) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	_, ok := g.blocked[id]
	return ok
}

// Block adiciona um identificador à lista de bloqueio em runtime.
func (g *GateChain) Block(id string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.blocked[id] = struct{}{}
}

// Unblock remove um identificador da lista de bloqueio.
func (g *GateChain) Unblock(id string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.blocked, id)
}
