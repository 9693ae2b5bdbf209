// Package commands implementa os comandos CLI do PapelBot usando cobra.
package commands

import (
	"github.com/spf13/cobra"
)

// NewRootCmd cria o comando raiz do CLI com todos os subcomandos registrados.
func NewRootCmd(version string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "papelbot",
		Short: "PapelBot - Atendente virtual de papelaria",
		Long: `PapelBot é o atendente virtual da papelaria no WhatsApp.
Responde o menu de serviços, recebe arquivos para impressão e
encaminha clientes para atendimento humano quando necessário.

Exemplos:
  papelbot serve
  papelbot chat
  papelbot config init
  papelbot setup`,
		Version: version,
	}

	// Registra subcomandos.
	rootCmd.AddCommand(
		newServeCmd(),
		newChatCmd(),
		newConfigCmd(),
		newSetupCmd(),
		newHealthCmd(),
	)

	// Flags globais.
	rootCmd.PersistentFlags().StringP("config", "c", "", "caminho para o arquivo de configuração")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "habilita logs detalhados")

	return rootCmd
}
