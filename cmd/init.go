package cmd

import (
	"github.com/spf13/cobra"

	"github.com/snakeclub/chat-robot/internal/config"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize chat-robot configuration with an interactive wizard",
	Long:  `Runs an interactive wizard to configure the embedding provider, the session backend and the server, and writes the config file.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		_, err := config.RunWizard(cfgFile)
		return err
	},
}

func init() {
	rootCmd.AddCommand(initCmd)
}
