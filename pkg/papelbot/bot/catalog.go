// catalog.go externaliza o catálogo de serviços e todos os textos enviados
// ao cliente como dados configuráveis. Os defaults reproduzem o atendimento
// da Papelaria BH: menu numérico, respostas fixas de preço e mensagens de
// acompanhamento.
package bot

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// CatalogEntry descreve uma opção do menu numérico.
type CatalogEntry struct {
	// Option é o número digitado pelo cliente.
	Option int `yaml:"option"`

	// Name é o nome do serviço (ex: "Impressão").
	Name string `yaml:"name"`

	// Blurb é a descrição curta exibida na linha do menu.
	Blurb string `yaml:"blurb"`

	// Reply é o texto enviado quando a opção é escolhida.
	Reply string `yaml:"reply"`

	// RequiresUpload indica se a opção aguarda o envio de um arquivo.
	RequiresUpload bool `yaml:"requires_upload"`

	// AllowedTypes lista os subtipos MIME aceitos quando RequiresUpload.
	// Vazio usa o default do intake (pdf, jpeg, png, doc, docx).
	AllowedTypes []string `yaml:"allowed_types,omitempty"`

	// ConfirmExtra habilita a confirmação adicional pós-processamento
	// (pagamento via Pix e pedido de avaliação).
	ConfirmExtra bool `yaml:"confirm_extra,omitempty"`
}

// ServiceAnswer é uma resposta FAQ de preço/serviço por palavra-chave.
// A ordem da lista define a precedência de avaliação do classificador.
type ServiceAnswer struct {
	// Keyword é o termo procurado no texto (case-insensitive, substring).
	Keyword string `yaml:"keyword"`

	// Reply é a resposta fixa enviada.
	Reply string `yaml:"reply"`
}

// Catalog agrega o menu, as opções especiais e as respostas FAQ.
type Catalog struct {
	// Entries são as opções do menu, indexadas por número.
	Entries map[int]CatalogEntry `yaml:"entries"`

	// HandoffOption é o número que ativa o atendimento humano.
	HandoffOption int `yaml:"handoff_option"`

	// CloseOption é o número que encerra a conversa.
	CloseOption int `yaml:"close_option"`

	// Services são as respostas FAQ por palavra-chave, em ordem fixa.
	Services []ServiceAnswer `yaml:"services"`

	// Greetings são as palavras-chave que disparam a saudação + menu.
	Greetings []string `yaml:"greetings"`

	// FeedbackPositive e FeedbackNegative são os tokens de feedback aceitos
	// (igualdade exata, case-insensitive).
	FeedbackPositive []string `yaml:"feedback_positive"`
	FeedbackNegative []string `yaml:"feedback_negative"`
}

// ValidOption reporta se n é uma opção existente do menu (incluindo as
// opções especiais de atendimento humano e encerramento).
func (c Catalog) ValidOption(n int) bool {
	if n == c.HandoffOption || n == c.CloseOption {
		return true
	}
	_, ok := c.Entries[n]
	return ok
}

// Entry retorna a entrada do catálogo para a opção n.
func (c Catalog) Entry(n int) (CatalogEntry, bool) {
	e, ok := c.Entries[n]
	return e, ok
}

// ServiceReply retorna a resposta FAQ cuja palavra-chave aparece no texto.
// A primeira palavra-chave configurada que casar vence.
func (c Catalog) ServiceReply(text string) (string, string, bool) {
	lower := strings.ToLower(text)
	for _, svc := range c.Services {
		if svc.Keyword != "" && strings.Contains(lower, strings.ToLower(svc.Keyword)) {
			return svc.Keyword, svc.Reply, true
		}
	}
	return "", "", false
}

// MenuText monta o texto do menu principal a partir das entradas.
func (c Catalog) MenuText(shopName string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "📋 *Menu Principal - %s* 📋\n\n", shopName)

	nums := make([]int, 0, len(c.Entries))
	for n := range c.Entries {
		nums = append(nums, n)
	}
	sort.Ints(nums)

	for _, n := range nums {
		e := c.Entries[n]
		fmt.Fprintf(&b, "%d️⃣ *%s* - %s\n", n, e.Name, e.Blurb)
	}
	fmt.Fprintf(&b, "%d️⃣ *Falar com humano* - 👩‍💼 Atendimento personalizado.\n", c.HandoffOption)
	fmt.Fprintf(&b, "%d️⃣ *Encerrar* - ❌ Finalizar conversa.\n\n", c.CloseOption)
	b.WriteString("*Escolha uma opção digitando o número correspondente.*")
	return b.String()
}

// Copy agrupa as mensagens fixas enviadas pelo bot.
type Copy struct {
	OutsideHours    string `yaml:"outside_hours"`
	UploadReceived  string `yaml:"upload_received"`
	UploadProcessed string `yaml:"upload_processed"`
	Payment         string `yaml:"payment"`
	FeedbackAsk     string `yaml:"feedback_ask"`
	FeedbackThanks  string `yaml:"feedback_thanks"`
	FeedbackSorry   string `yaml:"feedback_sorry"`
	InvalidFormat   string `yaml:"invalid_format"`
	AudioRejected   string `yaml:"audio_rejected"`
	StorageFailure  string `yaml:"storage_failure"`
	Fallback        string `yaml:"fallback"`
	HandoffStarted  string `yaml:"handoff_started"`
	HandoffEnded    string `yaml:"handoff_ended"`
	Closed          string `yaml:"closed"`
	FollowUpReady   string `yaml:"follow_up_ready"`
	FollowUpRate    string `yaml:"follow_up_rate"`
}

// Greeting monta a saudação conforme a hora local do dia.
func Greeting(name string, now time.Time) string {
	h := now.Hour()
	switch {
	case h >= 6 && h < 12:
		return fmt.Sprintf("🌅 *Bom dia, %s!* Como posso ajudar você hoje?", name)
	case h >= 12 && h < 18:
		return fmt.Sprintf("🌞 *Boa tarde, %s!* Em que posso ser útil?", name)
	default:
		return fmt.Sprintf("🌙 *Boa noite, %s!* Precisa de algo?", name)
	}
}

// DefaultCatalog retorna o catálogo padrão da Papelaria BH.
func DefaultCatalog() Catalog {
	return Catalog{
		Entries: map[int]CatalogEntry{
			1: {
				Option:         1,
				Name:           "Impressão",
				Blurb:          "🖨️ Envie seus documentos para impressão.",
				Reply:          "🖨️ *Você escolheu Impressão*. Por favor, envie o arquivo em *PDF, imagem ou DOC* para impressão.",
				RequiresUpload: true,
				AllowedTypes:   []string{"pdf", "jpeg", "png", "doc", "docx"},
				ConfirmExtra:   true,
			},
			2: {
				Option: 2,
				Name:   "Xerox",
				Blurb:  "📑 Venha até nossa loja para realizar cópias.",
				Reply:  "📑 *Você escolheu Xerox*. Por favor, venha até nossa loja para realizar as cópias.",
			},
			3: {
				Option:         3,
				Name:           "Foto 3x4",
				Blurb:          "📸 Envie sua foto do rosto.",
				Reply:          "📸 *Você escolheu Foto 3x4*. Por favor, envie uma *foto do rosto* para prosseguirmos.",
				RequiresUpload: true,
				AllowedTypes:   []string{"jpeg", "png"},
				ConfirmExtra:   true,
			},
			4: {
				Option: 4,
				Name:   "Plastificação",
				Blurb:  "📂 Envie seu arquivo ou venha à loja.",
				Reply:  "📂 *Você escolheu Plastificação*. Envie o arquivo em *PDF* ou venha à loja para plastificar seu documento.",
			},
		},
		HandoffOption: 6,
		CloseOption:   0,
		Services: []ServiceAnswer{
			{Keyword: "xerox", Reply: "📑 *Xerox*: R$ 0,50 por página (preto e branco). Venha até a loja!"},
			{Keyword: "plastificação", Reply: "📂 *Plastificação*: a partir de R$ 5,00 por documento."},
			{Keyword: "encadernação", Reply: "📚 *Encadernação*: a partir de R$ 8,00, pronta em 1 dia útil."},
		},
		Greetings:        []string{"menu", "oi", "olá", "ola", "serviços", "servicos", "bom dia", "boa tarde", "boa noite"},
		FeedbackPositive: []string{"sim", "bom", "ótimo", "otimo", "👍"},
		FeedbackNegative: []string{"não", "nao", "ruim", "👎"},
	}
}

// DefaultCopy retorna as mensagens fixas padrão.
func DefaultCopy() Copy {
	return Copy{
		OutsideHours: "⏰ *Fora do horário de atendimento*.\n" +
			"Nosso horário de atendimento é de *segunda a sábado, das 8h às 18h*.\n\n" +
			"📅 Por favor, envie sua mensagem dentro do horário comercial.",
		UploadReceived:  "📥 *Arquivo recebido.* Estamos processando seu pedido...",
		UploadProcessed: "✅ *Seu arquivo foi processado com sucesso.*",
		Payment:         "💳 *Para pagamento, use a chave Pix: %s.*",
		FeedbackAsk:     "🙏 *Obrigado por escolher a %s! Envie seu feedback para nos ajudar a melhorar.*",
		FeedbackThanks:  "😊 *Ficamos felizes que tenha gostado! Obrigado pelo feedback.*",
		FeedbackSorry:   "😔 *Sentimos muito. Vamos trabalhar para melhorar. Obrigado pelo retorno.*",
		InvalidFormat:   "⚠️ *Formato inválido.* Aceitamos apenas *PDF, imagens e DOC*.",
		AudioRejected:   "🎤 *Não aceitamos áudios como arquivo.* Envie um *PDF, imagem ou DOC*, por favor.",
		StorageFailure:  "😕 *Não conseguimos processar seu arquivo.* Por favor, tente enviá-lo novamente.",
		Fallback:        "❓ *Opção inválida.* Digite \"menu\" para ver as opções disponíveis.",
		HandoffStarted:  "👩‍💼 *Atendimento humano ativado.*\nUm atendente falará com você em até *15 minutos*. Aguarde.",
		HandoffEnded:    "⏳ *O atendimento humano foi encerrado.* O bot está ativo novamente para continuar ajudando você.",
		Closed:          "❌ *Conversa encerrada.*\nObrigado pelo contato! Até logo! 😊",
		FollowUpReady:   "📦 *Seu pedido está pronto para retirada!* Esperamos você na loja.",
		FollowUpRate:    "⭐ *Avalie nosso atendimento!* Sua opinião nos ajuda a melhorar.",
	}
}
