// cmd/lumina/root.go
package main

import (
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"github.com/Corphon/Lumina/internal/app"
	"github.com/Corphon/Lumina/internal/client"
	"github.com/Corphon/Lumina/internal/config"
	"github.com/Corphon/Lumina/internal/llm"
)

type commandContext struct {
	serverFlag *string

	configOnce sync.Once
	config     *config.AppConfig
}

func newCommandContext(serverFlag *string) *commandContext {
	return &commandContext{serverFlag: serverFlag}
}

func (c *commandContext) ensureConfig() *config.AppConfig {
	c.configOnce.Do(func() {
		c.config = config.GetCurrentConfig()
	})
	return c.config
}

// remote reports whether commands should go through a running server
func (c *commandContext) remote() bool {
	return c.serverFlag != nil && strings.TrimSpace(*c.serverFlag) != ""
}

func (c *commandContext) client() *client.LuminaClient {
	return client.NewLuminaClient(strings.TrimSpace(*c.serverFlag))
}

// generator returns the remote client when --server is set, otherwise a local provider
func (c *commandContext) generator() (llm.Generator, error) {
	if c.remote() {
		return c.client(), nil
	}
	return app.NewGenerator(c.ensureConfig())
}

func newRootCommand() *cobra.Command {
	var serverFlag string

	ctx := newCommandContext(&serverFlag)

	rootCmd := &cobra.Command{
		Use:           "lumina",
		Short:         "Generate narrated, illustrated explainers from a topic",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	rootCmd.PersistentFlags().StringVar(&serverFlag, "server", "", "Base URL of a running Lumina server (default: call the provider directly)")

	rootCmd.AddCommand(newGenerateCommand(ctx))
	rootCmd.AddCommand(newHistoryCommand(ctx))
	rootCmd.AddCommand(newWAVCommand())

	return rootCmd
}
