package commands

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/jholhewres/papelbot/pkg/papelbot/bot"
)

// newSetupCmd creates the `papelbot setup` command for interactive configuration.
func newSetupCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "setup",
		Short: "Interactive setup wizard",
		Long: `Starts an interactive wizard to create your initial config.yaml.
Asks for the shop name, Pix key, business hours and blocked numbers.

Examples:
  papelbot setup`,
		RunE: runSetup,
	}
}

func runSetup(_ *cobra.Command, _ []string) error {
	return runInteractiveSetup()
}

// runInteractiveSetup guides the user through config creation step by step.
func runInteractiveSetup() error {
	reader := bufio.NewReader(os.Stdin)
	cfg := bot.DefaultConfig()

	fmt.Println()
	fmt.Println("╔══════════════════════════════════════════════╗")
	fmt.Println("║           PapelBot — Setup Wizard            ║")
	fmt.Println("╚══════════════════════════════════════════════╝")
	fmt.Println()

	// ── Step 1: Shop name ──
	fmt.Printf("1. Nome da loja [%s]: ", cfg.Shop.ShopName)
	if name := readLine(reader); name != "" {
		cfg.Shop.ShopName = name
	}

	// ── Step 2: Pix key ──
	fmt.Println()
	fmt.Println("   A chave Pix é enviada ao cliente após o recebimento dos arquivos.")
	fmt.Println()
	fmt.Printf("2. Chave Pix [%s]: ", cfg.Shop.PixKey)
	if pix := readLine(reader); pix != "" {
		cfg.Shop.PixKey = pix
	}

	// ── Step 3: Business hours ──
	fmt.Println()
	fmt.Printf("3. Hora de abertura [%d]: ", cfg.Hours.OpenHour)
	if open := readLine(reader); open != "" {
		var h int
		if _, err := fmt.Sscanf(open, "%d", &h); err == nil && h >= 0 && h < 24 {
			cfg.Hours.OpenHour = h
		} else {
			fmt.Println("   [!] Valor inválido, mantendo o padrão.")
		}
	}
	fmt.Printf("   Hora de fechamento [%d]: ", cfg.Hours.CloseHour)
	if cl := readLine(reader); cl != "" {
		var h int
		if _, err := fmt.Sscanf(cl, "%d", &h); err == nil && h > cfg.Hours.OpenHour && h <= 24 {
			cfg.Hours.CloseHour = h
		} else {
			fmt.Println("   [!] Valor inválido, mantendo o padrão.")
		}
	}

	// ── Step 4: Blocked numbers ──
	fmt.Println()
	fmt.Println("   Números bloqueados são ignorados em silêncio.")
	fmt.Println("   Use o código do país, sem +, espaços ou traços. Separe por vírgula.")
	fmt.Println("   Exemplo: 5531999998888,5531888887777")
	fmt.Println()
	fmt.Print("4. Números bloqueados (opcional): ")
	if blocked := readLine(reader); blocked != "" {
		for _, n := range strings.Split(blocked, ",") {
			n = normalizePhone(n)
			if n != "" {
				cfg.Blocked = append(cfg.Blocked, n)
			}
		}
	}

	// ── Step 5: Handoff duration ──
	fmt.Println()
	fmt.Printf("5. Duração do atendimento humano em minutos [%d]: ",
		int(cfg.Shop.HandoffDuration.Minutes()))
	if d := readLine(reader); d != "" {
		var m int
		if _, err := fmt.Sscanf(d, "%d", &m); err == nil && m > 0 {
			cfg.Shop.HandoffDuration = time.Duration(m) * time.Minute
		} else {
			fmt.Println("   [!] Valor inválido, mantendo o padrão.")
		}
	}

	// ── Save ──
	const path = "config.yaml"
	if err := bot.SaveConfigToFile(cfg, path); err != nil {
		return fmt.Errorf("saving config: %w", err)
	}

	fmt.Println()
	fmt.Printf("Configuração salva em ./%s\n", path)
	fmt.Println("Rode 'papelbot serve' para conectar no WhatsApp.")
	return nil
}

// readLine lê uma linha do stdin, sem o \n final.
func readLine(reader *bufio.Reader) string {
	line, _ := reader.ReadString('\n')
	return strings.TrimSpace(line)
}

// normalizePhone remove tudo que não for dígito.
func normalizePhone(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
