// cmd/lumina/history_command.go
package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Corphon/Lumina/internal/app"
	"github.com/Corphon/Lumina/internal/services"
)

func newHistoryCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "history",
		Short: "List recently explored topics, most recent first",
		RunE: func(cmd *cobra.Command, args []string) error {
			var topics []string
			if ctx.remote() {
				list, err := ctx.client().History(cmd.Context())
				if err != nil {
					return err
				}
				topics = list
			} else {
				cfg := ctx.ensureConfig()
				store, err := app.NewTopicStore(cfg)
				if err != nil {
					return err
				}
				history := services.NewHistoryService(store, cfg.HistoryLimit)
				defer history.Close()
				if topics, err = history.List(cmd.Context()); err != nil {
					return err
				}
			}

			if len(topics) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No recent topics")
				return nil
			}
			for i, topic := range topics {
				fmt.Fprintf(cmd.OutOrStdout(), "%d. %s\n", i+1, topic)
			}
			return nil
		},
	}
}
