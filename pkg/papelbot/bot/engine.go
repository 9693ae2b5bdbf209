// engine.go implementa o motor de atendimento por contato: para cada evento
// recebido aplica a cadeia de admissão, classifica a intenção, busca/cria a
// sessão e executa a transição da máquina de estados (Idle, aguardando
// arquivo, atendimento humano), emitindo respostas e armando/cancelando
// timers. Todo o trabalho de um contato roda sob o lock por contato do
// Store; os callbacks de timer readquirem o mesmo lock antes de mutar
// estado ou responder.
package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jholhewres/papelbot/pkg/papelbot/channels"
	"github.com/jholhewres/papelbot/pkg/papelbot/media"
)

// Replier envia uma resposta de texto ao contato. Entrega é fire-and-forget:
// falhas de envio são logadas e não são retransmitidas pelo motor.
type Replier interface {
	Reply(ctx context.Context, contactID, text string) error
}

// AttachmentLoader baixa o anexo de uma mensagem recebida.
type AttachmentLoader interface {
	Load(ctx context.Context, msg *channels.IncomingMessage) (media.Attachment, error)
}

// Settings agrupa os parâmetros de atendimento do motor.
type Settings struct {
	// ShopName é o nome da loja usado nas mensagens.
	ShopName string `yaml:"shop_name" envconfig:"SHOP_NAME"`

	// PixKey é a chave Pix informada após o processamento de arquivos.
	PixKey string `yaml:"pix_key" envconfig:"PIX_KEY"`

	// HandoffDuration é a duração do atendimento humano.
	HandoffDuration time.Duration `yaml:"handoff_duration" envconfig:"HANDOFF_DURATION"`

	// FollowUpReady é o atraso da notificação "pronto para retirada".
	FollowUpReady time.Duration `yaml:"follow_up_ready" envconfig:"FOLLOW_UP_READY"`

	// FollowUpRate é o atraso do pedido de avaliação.
	FollowUpRate time.Duration `yaml:"follow_up_rate" envconfig:"FOLLOW_UP_RATE"`
}

// DefaultSettings retorna os parâmetros padrão do atendimento.
func DefaultSettings() Settings {
	return Settings{
		ShopName:        "Papelaria BH",
		PixKey:          "00000000000",
		HandoffDuration: 15 * time.Minute,
		FollowUpReady:   5 * time.Minute,
		FollowUpRate:    6 * time.Minute,
	}
}

// Engine é o motor de sessões do atendimento.
type Engine struct {
	settings Settings
	catalog  Catalog
	copy     Copy
	gates    *GateChain
	store    *Store
	timers   TimerService
	intake   *media.Intake
	replier  Replier
	loader   AttachmentLoader
	clock    Clock
	logger   *slog.Logger
}

// NewEngine monta o motor com seus colaboradores.
func NewEngine(
	settings Settings,
	catalog Catalog,
	copyTexts Copy,
	gates *GateChain,
	store *Store,
	timers TimerService,
	intake *media.Intake,
	replier Replier,
	loader AttachmentLoader,
	clock Clock,
	logger *slog.Logger,
) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		settings: settings,
		catalog:  catalog,
		copy:     copyTexts,
		gates:    gates,
		store:    store,
		timers:   timers,
		intake:   intake,
		replier:  replier,
		loader:   loader,
		clock:    clock,
		logger:   logger.With("component", "engine"),
	}
}

// Store expõe o Store de sessões (diagnóstico e testes).
func (e *Engine) Store() *Store { return e.store }

// HandleMessage processa um evento recebido de ponta a ponta.
func (e *Engine) HandleMessage(ctx context.Context, msg *channels.IncomingMessage) {
	if reason := e.gates.Admit(msg); reason != RejectNone {
		e.logger.Info("evento rejeitado na admissão",
			"reason", string(reason),
			"from", msg.From,
			"chat", msg.ChatID,
		)
		if reason == RejectOutsideHours {
			e.reply(ctx, msg.ChatID, e.copy.OutsideHours)
		}
		return
	}

	intent := Classify(e.catalog, msg.Content, msg.HasMedia())

	e.store.WithSession(msg.ChatID, func(s *SessionState) {
		s.LastActivity = e.clock.Now()
		e.transition(ctx, s, msg, intent)
	})
}

// transition executa a transição da máquina de estados. Chamada sempre sob
// o lock por contato.
func (e *Engine) transition(ctx context.Context, s *SessionState, msg *channels.IncomingMessage, intent Intent) {
	// Atendimento humano: tudo é descartado em silêncio, exceto a
	// re-seleção da opção de handoff, que rearma o timer (cancelando o
	// anterior, nunca duas expirações pendentes) sem resposta.
	if s.HandoffActive {
		if intent.Kind == IntentMenuChoice && intent.Option == e.catalog.HandoffOption {
			e.armHandoff(s)
			e.logger.Debug("handoff rearmado", "contact", s.ContactID)
			return
		}
		e.logger.Info("mensagem durante atendimento humano descartada",
			"contact", s.ContactID,
			"intent", string(intent.Kind),
		)
		return
	}

	// Aguardando arquivo: apenas mídia avança; qualquer outra intenção cai
	// no fallback sem alterar o pedido pendente (saudação e menu NÃO
	// resetam o pedido).
	if s.Awaiting != nil {
		if intent.Kind == IntentMediaUpload {
			e.handleUpload(ctx, s, msg, s.Awaiting)
			return
		}
		e.reply(ctx, s.ContactID, e.copy.Fallback)
		return
	}

	switch intent.Kind {
	case IntentGreeting:
		name := msg.FromName
		if name == "" {
			name = "Cliente"
		}
		e.reply(ctx, s.ContactID, Greeting(name, e.clock.Now()))
		e.reply(ctx, s.ContactID, e.catalog.MenuText(e.settings.ShopName))

	case IntentServiceKeyword:
		e.reply(ctx, s.ContactID, intent.ServiceReply)

	case IntentFeedback:
		if intent.Positive {
			e.reply(ctx, s.ContactID, e.copy.FeedbackThanks)
		} else {
			e.reply(ctx, s.ContactID, e.copy.FeedbackSorry)
		}

	case IntentMenuChoice:
		e.handleMenuChoice(ctx, s, intent.Option)

	case IntentMediaUpload:
		e.handleUpload(ctx, s, msg, nil)

	default:
		e.reply(ctx, s.ContactID, e.copy.Fallback)
	}
}

// handleMenuChoice trata uma opção válida do menu a partir do estado Idle.
func (e *Engine) handleMenuChoice(ctx context.Context, s *SessionState, option int) {
	switch option {
	case e.catalog.HandoffOption:
		e.cancelFollowUps(s)
		e.armHandoff(s)
		e.reply(ctx, s.ContactID, e.copy.HandoffStarted)
		return

	case e.catalog.CloseOption:
		e.cancelFollowUps(s)
		e.reply(ctx, s.ContactID, e.copy.Closed)
		return
	}

	entry, ok := e.catalog.Entry(option)
	if !ok {
		e.reply(ctx, s.ContactID, e.copy.Fallback)
		return
	}

	if entry.RequiresUpload {
		// Um novo pedido supera o conjunto anterior de follow-ups.
		e.cancelFollowUps(s)
		s.Awaiting = &PendingRequest{
			Option:       entry.Option,
			Name:         entry.Name,
			AllowedTypes: entry.AllowedTypes,
			ConfirmExtra: entry.ConfirmExtra,
		}
	}
	e.reply(ctx, s.ContactID, entry.Reply)
}

// handleUpload valida e persiste um anexo. pending é nil para uploads fora
// de um pedido (estado Idle), caso em que vale a lista default de tipos.
func (e *Engine) handleUpload(ctx context.Context, s *SessionState, msg *channels.IncomingMessage, pending *PendingRequest) {
	att, err := e.loader.Load(ctx, msg)
	if err != nil {
		// Falha de download equivale a falha de processamento: o pedido
		// pendente é preservado para o cliente tentar de novo.
		e.logger.Error("falha ao baixar anexo",
			"contact", s.ContactID,
			"message_id", msg.ID,
			"error", err,
		)
		e.reply(ctx, s.ContactID, e.copy.StorageFailure)
		return
	}

	var allowed []string
	if pending != nil {
		allowed = pending.AllowedTypes
	}

	res, err := e.intake.Accept(ctx, att, allowed, e.clock.Now())
	switch {
	case err == nil:
		// aceito, segue abaixo
	case errors.Is(err, media.ErrAudioAttachment):
		e.reply(ctx, s.ContactID, e.copy.AudioRejected)
		return
	case errors.Is(err, media.ErrUnsupportedType), errors.Is(err, media.ErrUnparseable):
		e.reply(ctx, s.ContactID, e.copy.InvalidFormat)
		return
	default:
		// Falha de armazenamento (inclui colisão de nome): fatal para este
		// pedido, estado preservado — o arquivo não foi persistido.
		e.logger.Error("falha ao persistir anexo",
			"contact", s.ContactID,
			"message_id", msg.ID,
			"error", err,
		)
		e.reply(ctx, s.ContactID, e.copy.StorageFailure)
		return
	}

	e.logger.Info("pedido com arquivo concluído",
		"contact", s.ContactID,
		"intake_id", res.ID,
		"path", res.Path,
	)

	// Um novo upload aceito supera os follow-ups do anterior.
	e.cancelFollowUps(s)

	e.reply(ctx, s.ContactID, e.copy.UploadReceived)
	if pending != nil {
		// Pagamento vale para todo pedido com arquivo; a confirmação
		// extra (processado + avaliação) só para as opções que a pedem.
		if pending.ConfirmExtra {
			e.reply(ctx, s.ContactID, e.copy.UploadProcessed)
		}
		e.reply(ctx, s.ContactID, fmt.Sprintf(e.copy.Payment, e.settings.PixKey))
		if pending.ConfirmExtra {
			e.reply(ctx, s.ContactID, fmt.Sprintf(e.copy.FeedbackAsk, e.settings.ShopName))
		}
	}

	s.Awaiting = nil
	e.scheduleFollowUps(s)
}

// armHandoff entra (ou re-entra) no modo de atendimento humano, garantindo
// no máximo um timer de expiração vivo por contato. Chamado sob o lock da
// sessão.
func (e *Engine) armHandoff(s *SessionState) {
	if s.HandoffTimer != 0 {
		e.timers.Cancel(s.HandoffTimer)
	}

	s.HandoffGen++
	gen := s.HandoffGen
	contactID := s.ContactID

	s.HandoffActive = true
	s.Awaiting = nil
	s.HandoffTimer = e.timers.ScheduleOnce(e.settings.HandoffDuration, func() {
		e.expireHandoff(contactID, gen)
	})
}

// expireHandoff é o callback do timer de handoff. Readquire o lock da
// sessão; se a sessão já saiu do handoff ou o timer foi superado por outra
// geração, é um no-op silencioso (corrida benigna esperada).
func (e *Engine) expireHandoff(contactID string, gen uint64) {
	e.store.WithSession(contactID, func(s *SessionState) {
		if !s.HandoffActive || s.HandoffGen != gen {
			return
		}
		s.HandoffActive = false
		s.HandoffTimer = 0
		e.reply(context.Background(), contactID, e.copy.HandoffEnded)
		e.logger.Info("atendimento humano encerrado", "contact", contactID)
	})
}

// scheduleFollowUps agenda as notificações pós-upload (retirada e
// avaliação). Chamado sob o lock da sessão, com o conjunto anterior já
// cancelado.
func (e *Engine) scheduleFollowUps(s *SessionState) {
	contactID := s.ContactID
	s.FollowUpGen++
	gen := s.FollowUpGen

	ready := e.timers.ScheduleOnce(e.settings.FollowUpReady, func() {
		e.fireFollowUp(contactID, gen, e.copy.FollowUpReady)
	})
	rate := e.timers.ScheduleOnce(e.settings.FollowUpRate, func() {
		e.fireFollowUp(contactID, gen, e.copy.FollowUpRate)
	})
	s.FollowUps = []TimerHandle{ready, rate}
}

// fireFollowUp envia uma notificação atrasada sob o lock da sessão.
// O envio é suprimido se o contato entrou em atendimento humano ou se o
// conjunto foi superado enquanto o callback esperava o lock (um timer
// cancelado tarde demais para o Cancel surtir efeito é uma corrida
// benigna e vira no-op silencioso, como no handoff).
func (e *Engine) fireFollowUp(contactID string, gen uint64, text string) {
	e.store.WithSession(contactID, func(s *SessionState) {
		if s.HandoffActive || s.FollowUpGen != gen {
			return
		}
		e.reply(context.Background(), contactID, text)
	})
}

// cancelFollowUps cancela o conjunto pendente de notificações atrasadas.
// O avanço da geração invalida também um callback que já disparou e
// espera o lock da sessão.
func (e *Engine) cancelFollowUps(s *SessionState) {
	for _, h := range s.FollowUps {
		e.timers.Cancel(h)
	}
	s.FollowUps = nil
	s.FollowUpGen++
}

// reply envia texto ao contato, logando falhas sem repetir o envio.
func (e *Engine) reply(ctx context.Context, contactID, text string) {
	if err := e.replier.Reply(ctx, contactID, text); err != nil {
		e.logger.Error("falha ao enviar resposta",
			"contact", contactID,
			"error", err,
		)
	}
}
