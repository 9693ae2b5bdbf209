package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/chzyer/readline"
	"github.com/spf13/cobra"

	"github.com/jholhewres/papelbot/pkg/papelbot/bot"
	"github.com/jholhewres/papelbot/pkg/papelbot/channels"
	"github.com/jholhewres/papelbot/pkg/papelbot/media"
)

// newChatCmd cria o comando `papelbot chat`: um REPL local que simula a
// conversa de um cliente com o atendente, sem conectar no WhatsApp.
func newChatCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Simula uma conversa com o atendente no terminal",
		Long: `Abre um REPL local simulando a conversa de um cliente com o
atendente, útil para testar o menu e os fluxos sem conectar no WhatsApp.

Comandos do REPL:
  /media <mime> [nome]   simula o envio de um anexo (ex: /media application/pdf tcc.pdf)
  /sair                  encerra

Exemplos:
  papelbot chat
  papelbot chat --fast   # timers de handoff/follow-up em segundos`,
		RunE: runChat,
	}

	cmd.Flags().Bool("fast", false, "encurta os timers para segundos (teste manual)")
	return cmd
}

func runChat(cmd *cobra.Command, _ []string) error {
	cfg, err := resolveConfig(cmd)
	if err != nil {
		return err
	}

	// Logs em nível warn para não poluir o REPL.
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelWarn,
	}))

	settings := cfg.Shop
	if fast, _ := cmd.Flags().GetBool("fast"); fast {
		settings.HandoffDuration = 15 * time.Second
		settings.FollowUpReady = 5 * time.Second
		settings.FollowUpRate = 6 * time.Second
	}

	clock, err := bot.NewSystemClock(cfg.Timezone)
	if err != nil {
		return fmt.Errorf("loading timezone: %w", err)
	}

	sink := media.NewFileSystemSink(cfg.Uploads, logger)
	if err := sink.EnsureDir(); err != nil {
		return fmt.Errorf("preparing upload dir: %w", err)
	}

	loader := &replLoader{}
	engine := bot.NewEngine(
		settings,
		cfg.Catalog,
		cfg.Copy,
		// Sem bloqueio, grupos ou horário no REPL: janela de 24h, todos os dias.
		bot.NewGateChain(nil, bot.BusinessHours{
			FirstDay:  time.Sunday,
			LastDay:   time.Saturday,
			OpenHour:  0,
			CloseHour: 24,
		}, clock),
		bot.NewStore(),
		bot.NewWallTimers(),
		media.NewIntake(sink, logger),
		&terminalReplier{},
		loader,
		clock,
		logger,
	)

	rl, err := readline.New("cliente> ")
	if err != nil {
		return fmt.Errorf("starting readline: %w", err)
	}
	defer rl.Close()

	fmt.Println("PapelBot chat — digite mensagens como um cliente. /sair encerra.")

	ctx := context.Background()
	msgSeq := 0

	for {
		line, err := rl.Readline()
		if err != nil { // io.EOF ou interrupt
			break
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if line == "/sair" || line == "/quit" {
			break
		}

		msgSeq++
		msg := &channels.IncomingMessage{
			ID:        fmt.Sprintf("local-%d", msgSeq),
			Channel:   "repl",
			From:      "cliente@local",
			FromName:  "Cliente",
			ChatID:    "cliente@local",
			Type:      channels.MessageText,
			Content:   line,
			Timestamp: clock.Now(),
		}

		// /media simula um anexo com o MIME informado.
		if strings.HasPrefix(line, "/media") {
			fields := strings.Fields(line)
			if len(fields) < 2 {
				fmt.Println("uso: /media <mime> [nome]  ex: /media application/pdf tcc.pdf")
				continue
			}
			mime := fields[1]
			name := ""
			if len(fields) > 2 {
				name = fields[2]
			}
			msg.Content = ""
			msg.Type = channels.MessageDocument
			msg.Media = &channels.MediaInfo{
				Type:     channels.MessageDocument,
				MimeType: mime,
				Filename: name,
			}
			loader.next = media.Attachment{
				Data:      []byte("conteúdo simulado"),
				MimeType:  mime,
				Filename:  name,
				MessageID: msg.ID,
			}
		}

		engine.HandleMessage(ctx, msg)
	}

	fmt.Println("Até mais!")
	return nil
}

// terminalReplier imprime as respostas do atendente no terminal.
type terminalReplier struct{}

func (t *terminalReplier) Reply(_ context.Context, _ string, text string) error {
	fmt.Printf("\npapelbot> %s\n\n", text)
	return nil
}

// replLoader entrega o anexo simulado pelo comando /media.
type replLoader struct {
	next media.Attachment
}

func (l *replLoader) Load(_ context.Context, msg *channels.IncomingMessage) (media.Attachment, error) {
	if l.next.MessageID == msg.ID {
		return l.next, nil
	}
	if msg.Media != nil {
		return media.Attachment{
			Data:      []byte("conteúdo simulado"),
			MimeType:  msg.Media.MimeType,
			Filename:  msg.Media.Filename,
			MessageID: msg.ID,
		}, nil
	}
	return media.Attachment{}, fmt.Errorf("no attachment staged for message %s", msg.ID)
}
