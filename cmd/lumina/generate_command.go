// cmd/lumina/generate_command.go
package main

import (
	"fmt"
	"io"
	"mime"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/Corphon/Lumina/internal/app"
	"github.com/Corphon/Lumina/internal/llm"
	"github.com/Corphon/Lumina/internal/models"
	"github.com/Corphon/Lumina/internal/services"
	"github.com/Corphon/Lumina/internal/storage"
	"github.com/Corphon/Lumina/internal/utils"
)

func newGenerateCommand(ctx *commandContext) *cobra.Command {
	var outDir string
	var deadline time.Duration

	cmd := &cobra.Command{
		Use:   "generate <topic>",
		Short: "Generate a script, images and voice-over for a topic",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			topic := strings.TrimSpace(strings.Join(args, " "))
			generator, err := ctx.generator()
			if err != nil {
				return err
			}
			files, err := storage.NewFileStorage(outDir)
			if err != nil {
				return err
			}

			script, err := runGeneration(cmd, generator, topic, deadline, files)
			if err != nil {
				return err
			}

			if !ctx.remote() {
				recordLocalHistory(cmd, ctx, topic)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %d scenes written to %s\n", script.Title, len(script.Scenes), outDir)
			return nil
		},
	}

	cmd.Flags().StringVarP(&outDir, "out", "o", "lumina-output", "Directory for script.json and scene assets")
	cmd.Flags().DurationVar(&deadline, "ready-deadline", services.DefaultReadyDeadline, "Maximum wait before playback could start")
	return cmd
}

// runGeneration drives the same orchestrator the server uses and writes every settled asset to disk
func runGeneration(cmd *cobra.Command, generator llm.Generator, topic string, deadline time.Duration, files *storage.FileStorage) (*models.ExplainerScript, error) {
	out := cmd.ErrOrStderr()
	fmt.Fprintln(out, services.MessageConsulting)

	script, err := generator.GenerateScript(cmd.Context(), topic)
	if err != nil {
		return nil, fmt.Errorf("script generation failed: %w", err)
	}

	assets := storage.NewAssetStore(2*len(script.Scenes)+1, "")
	orchestrator := services.NewOrchestrator(generator, generator, assets,
		services.OrchestratorConfig{ReadyDeadline: deadline}, utils.NewGenerationMetrics())

	run, err := orchestrator.Start(cmd.Context(), script, &cliObserver{out: out})
	if err != nil {
		return nil, err
	}

	select {
	case <-run.Done():
	case <-cmd.Context().Done():
		run.Discard()
		return nil, cmd.Context().Err()
	}

	final := run.Snapshot()
	if err := writeAssets(files, assets, final); err != nil {
		return nil, err
	}
	if err := files.SaveJSONFile("", "script.json", final); err != nil {
		return nil, err
	}
	return final, nil
}

// writeAssets saves scene-N.<ext> for every handle and rewrites the script to point at the files
func writeAssets(files *storage.FileStorage, assets *storage.AssetStore, script *models.ExplainerScript) error {
	for i := range script.Scenes {
		scene := &script.Scenes[i]
		for _, kind := range []models.AssetKind{models.AssetImage, models.AssetAudio} {
			url := scene.AssetURL(kind)
			if url == "" {
				continue
			}
			id, ok := assets.IDFromURL(url)
			if !ok {
				continue
			}
			entry, ok := assets.Get(id)
			if !ok {
				continue
			}

			name := fmt.Sprintf("scene-%d%s", i+1, extensionFor(entry.MediaType))
			if err := files.SaveTextFile("", name, entry.Data); err != nil {
				return fmt.Errorf("write %s: %w", name, err)
			}
			if kind == models.AssetImage {
				scene.ImageURL = name
			} else {
				scene.AudioURL = name
			}
		}
	}
	return nil
}

func extensionFor(mediaType string) string {
	switch mediaType {
	case "audio/wav":
		return ".wav"
	case "image/jpeg":
		return ".jpg"
	case "image/png":
		return ".png"
	}
	if exts, err := mime.ExtensionsByType(mediaType); err == nil && len(exts) > 0 {
		return exts[0]
	}
	return ".bin"
}

func recordLocalHistory(cmd *cobra.Command, ctx *commandContext, topic string) {
	store, err := app.NewTopicStore(ctx.ensureConfig())
	if err != nil {
		fmt.Fprintf(cmd.ErrOrStderr(), "warning: recent topics unavailable: %v\n", err)
		return
	}
	history := services.NewHistoryService(store, ctx.ensureConfig().HistoryLimit)
	defer history.Close()
	if _, err := history.Record(cmd.Context(), topic); err != nil {
		fmt.Fprintf(cmd.ErrOrStderr(), "warning: %v\n", err)
	}
}

// cliObserver prints progress lines to stderr
type cliObserver struct {
	out io.Writer
}

func (o *cliObserver) OnProgress(p models.GenerationProgress) {
	fmt.Fprintf(o.out, "[%3.0f%%] %s\n", p.Percent, p.Message)
}

func (o *cliObserver) OnSceneUpdated(int, models.Scene) {}

func (o *cliObserver) OnReady(reason models.ReadyReason) {
	fmt.Fprintf(o.out, "ready to play (%s)\n", reason)
}

func (o *cliObserver) OnComplete(summary models.RunSummary) {
	fmt.Fprintf(o.out, "assets: %d/%d succeeded\n", summary.Succeeded, summary.Requested)
}
