package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

// newHealthCmd cria o comando `papelbot health` para verificação de saúde.
// Usado pelo Docker HEALTHCHECK e monitoramento.
func newHealthCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Verifica o estado de saúde do serviço",
		Long:  `Retorna o status de saúde do PapelBot. Usado por Docker HEALTHCHECK e monitoramento.`,
		RunE: func(_ *cobra.Command, _ []string) error {
			// TODO: checar o estado real do canal WhatsApp via socket local.
			fmt.Println(`{"status":"ok","version":"dev"}`)
			return nil
		},
	}
}
