// Package media implementa a recepção de arquivos enviados pelos clientes:
// valida o subtipo MIME declarado contra a lista permitida do pedido
// pendente e entrega o binário ao sink de armazenamento. Áudio é sempre
// rejeitado, independente da lista configurada.
package media

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
)

// DefaultAllowedTypes são os subtipos aceitos quando o pedido não restringe.
var DefaultAllowedTypes = []string{"pdf", "jpeg", "png", "doc", "docx"}

// Erros de validação e armazenamento do intake.
var (
	// ErrAudioAttachment indica anexo de áudio, nunca aceito.
	ErrAudioAttachment = errors.New("audio attachments are not accepted")

	// ErrUnsupportedType indica subtipo fora da lista permitida.
	ErrUnsupportedType = errors.New("unsupported attachment type")

	// ErrUnparseable indica MIME declarado ilegível.
	ErrUnparseable = errors.New("unparseable attachment mime type")

	// ErrNameCollision indica que o nome gerado já existe no sink.
	// Fatal para o pedido: reportado, nunca sobrescrito ou repetido.
	ErrNameCollision = errors.New("storage name collision")
)

// Attachment é o anexo baixado do canal, com o MIME declarado.
type Attachment struct {
	Data      []byte
	MimeType  string
	Filename  string
	MessageID string
}

// Result descreve um arquivo aceito e persistido.
type Result struct {
	// ID é o identificador do intake (para logs e diagnóstico).
	ID string

	// Path é o caminho retornado pelo sink.
	Path string

	// Subtype é o subtipo MIME canonizado (ex: "pdf", "docx").
	Subtype string
}

// Sink é o destino de armazenamento dos arquivos aceitos.
type Sink interface {
	// Store grava data sob name e retorna o caminho final.
	// Nunca sobrescreve: nome existente retorna ErrNameCollision.
	Store(name string, data []byte) (string, error)
}

// Intake valida e persiste anexos.
type Intake struct {
	sink   Sink
	logger *slog.Logger
}

// NewIntake cria o intake com o sink fornecido.
func NewIntake(sink Sink, logger *slog.Logger) *Intake {
	if logger == nil {
		logger = slog.Default()
	}
	return &Intake{
		sink:   sink,
		logger: logger.With("component", "media-intake"),
	}
}

// Accept valida o anexo contra allowedTypes e o persiste. A lista vazia usa
// DefaultAllowedTypes. O nome do arquivo deriva do timestamp e do ID da
// mensagem, tornando colisões um erro fatal do pedido e não um retry.
func (i *Intake) Accept(ctx context.Context, att Attachment, allowedTypes []string, now time.Time) (*Result, error) {
	subtype, err := Subtype(att.MimeType)
	if err != nil {
		return nil, err
	}

	if IsAudio(att.MimeType) {
		i.logger.Debug("anexo de áudio rejeitado", "message_id", att.MessageID)
		return nil, ErrAudioAttachment
	}

	if len(allowedTypes) == 0 {
		allowedTypes = DefaultAllowedTypes
	}
	if !typeAllowed(subtype, allowedTypes) {
		i.logger.Debug("subtipo não permitido",
			"message_id", att.MessageID,
			"subtype", subtype,
			"allowed", allowedTypes,
		)
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedType, subtype)
	}

	name := BuildFilename(now, att.MessageID, subtype)
	path, err := i.sink.Store(name, att.Data)
	if err != nil {
		return nil, err
	}

	res := &Result{
		ID:      uuid.New().String(),
		Path:    path,
		Subtype: subtype,
	}
	i.logger.Info("arquivo recebido",
		"intake_id", res.ID,
		"path", path,
		"subtype", subtype,
		"size", len(att.Data),
	)
	return res, nil
}

// Subtype extrai e canoniza o subtipo do MIME declarado. Os subtipos longos
// de documentos Office são mapeados para "doc"/"docx".
func Subtype(mimeType string) (string, error) {
	mt := strings.TrimSpace(strings.Split(mimeType, ";")[0])
	parts := strings.SplitN(mt, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", fmt.Errorf("%w: %q", ErrUnparseable, mimeType)
	}

	sub := strings.ToLower(parts[1])
	switch sub {
	case "vnd.openxmlformats-officedocument.wordprocessingml.document":
		return "docx", nil
	case "msword":
		return "doc", nil
	case "jpg":
		return "jpeg", nil
	}
	return sub, nil
}

// IsAudio reporta se o MIME declarado é áudio (inclui video/ogg, que o
// WhatsApp usa para notas de voz).
func IsAudio(mimeType string) bool {
	mt := strings.ToLower(strings.TrimSpace(strings.Split(mimeType, ";")[0]))
	return strings.HasPrefix(mt, "audio/") || mt == "video/ogg"
}

// BuildFilename deriva o nome de arquivo do timestamp e do ID da mensagem.
func BuildFilename(t time.Time, messageID, subtype string) string {
	id := sanitizeID(messageID)
	if id == "" {
		id = "msg"
	}
	return fmt.Sprintf("%s_%s.%s", t.Format("20060102_150405"), id, subtype)
}

func typeAllowed(subtype string, allowed []string) bool {
	for _, a := range allowed {
		if strings.EqualFold(subtype, a) {
			return true
		}
	}
	return false
}

// sanitizeID mantém apenas caracteres seguros para nome de arquivo.
func sanitizeID(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		}
	}
	out := b.String()
	if len(out) > 48 {
		out = out[:48]
	}
	return out
}
