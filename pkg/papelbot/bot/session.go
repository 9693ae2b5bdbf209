// session.go implementa o estado de sessão por contato e o Store que o
// possui com exclusividade. O estado conversacional (upload pendente,
// atendimento humano ativo) é por contato, com serialização por chave:
// todo acesso à sessão passa por WithSession, inclusive os callbacks
// de timer.
package bot

import (
	"sync"
	"time"
)

// PendingRequest descreve o serviço escolhido que aguarda arquivo.
type PendingRequest struct {
	// Option é o número do menu escolhido.
	Option int

	// Name é o nome do serviço (diagnóstico/logs).
	Name string

	// AllowedTypes lista os subtipos MIME aceitos para este pedido.
	AllowedTypes []string

	// ConfirmExtra habilita a confirmação adicional após o processamento.
	ConfirmExtra bool
}

// SessionState guarda o estado conversacional de um contato. Os campos são
// mutados apenas sob o lock por contato do Store.
type SessionState struct {
	// ContactID é a chave imutável da sessão.
	ContactID string

	// Awaiting indica o pedido pendente de upload, se houver.
	// Nunca está preenchido enquanto HandoffActive é true.
	Awaiting *PendingRequest

	// HandoffActive suprime respostas automáticas enquanto o atendimento
	// humano está aberto.
	HandoffActive bool

	// HandoffTimer é o único timer de expiração de handoff vivo para o
	// contato. Zero quando não há handoff armado.
	HandoffTimer TimerHandle

	// HandoffGen cresce a cada handoff armado; o callback do timer compara
	// a geração para detectar corridas benignas (timer atrasado encontra a
	// sessão em outro estado) e virar no-op silencioso.
	HandoffGen uint64

	// FollowUps são as notificações atrasadas pendentes do último upload
	// aceito. Canceladas quando superadas por novo pedido/upload.
	FollowUps []TimerHandle

	// FollowUpGen cresce a cada conjunto de follow-ups agendado ou
	// cancelado; o callback compara a geração para que um timer já
	// disparado e esperando o lock vire no-op quando superado.
	FollowUpGen uint64

	// LastActivity registra o último evento admitido (apenas diagnóstico).
	LastActivity time.Time

	mu sync.Mutex
}

// Store mapeia contato → sessão e é o único dono das sessões. Fornece
// get-or-create atômico e serialização por contato: eventos e timers do
// mesmo contato nunca executam concorrentemente.
type Store struct {
	mu       sync.Mutex
	sessions map[string]*SessionState
}

// NewStore cria um Store vazio.
func NewStore() *Store {
	return &Store{sessions: make(map[string]*SessionState)}
}

// WithSession executa fn com a sessão do contato sob o lock por contato,
// criando a sessão na primeira mensagem admitida.
func (st *Store) WithSession(contactID string, fn func(*SessionState)) {
	st.mu.Lock()
	s, ok := st.sessions[contactID]
	if !ok {
		s = &SessionState{ContactID: contactID}
		st.sessions[contactID] = s
	}
	st.mu.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	fn(s)
}

// Peek retorna uma cópia rasa do estado da sessão, sem criá-la.
// Uso apenas em diagnóstico e testes.
func (st *Store) Peek(contactID string) (SessionState, bool) {
	st.mu.Lock()
	s, ok := st.sessions[contactID]
	st.mu.Unlock()
	if !ok {
		return SessionState{}, false
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	cp := SessionState{
		ContactID:     s.ContactID,
		Awaiting:      s.Awaiting,
		HandoffActive: s.HandoffActive,
		HandoffTimer:  s.HandoffTimer,
		HandoffGen:    s.HandoffGen,
		FollowUpGen:   s.FollowUpGen,
		LastActivity:  s.LastActivity,
	}
	cp.FollowUps = append(cp.FollowUps, s.FollowUps...)
	return cp, true
}

// Len retorna o número de sessões vivas.
func (st *Store) Len() int {
	st.mu.Lock()
	defer st.mu.Unlock()
	return len(st.sessions)
}
