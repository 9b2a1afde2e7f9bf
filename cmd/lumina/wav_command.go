// cmd/lumina/wav_command.go
package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/Corphon/Lumina/internal/audio"
)

func newWAVCommand() *cobra.Command {
	var input string
	var output string

	cmd := &cobra.Command{
		Use:   "wav",
		Short: "Wrap base64 PCM (24 kHz, mono, 16-bit) in a WAV container",
		RunE: func(cmd *cobra.Command, args []string) error {
			var payload []byte
			var err error
			if input == "" || input == "-" {
				payload, err = io.ReadAll(cmd.InOrStdin())
			} else {
				payload, err = os.ReadFile(input)
			}
			if err != nil {
				return err
			}

			wav, err := audio.WAVFromBase64(string(payload))
			if err != nil {
				return err
			}

			if output == "" || output == "-" {
				_, err = cmd.OutOrStdout().Write(wav)
				return err
			}
			if err := os.WriteFile(output, wav, 0644); err != nil {
				return err
			}

			header, err := audio.ParseHeader(wav)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "wrote %s (%.2fs)\n", output, header.Duration())
			return nil
		},
	}

	cmd.Flags().StringVarP(&input, "in", "i", "-", "File holding the base64 payload (- for stdin)")
	cmd.Flags().StringVarP(&output, "out", "o", "-", "Destination WAV file (- for stdout)")
	return cmd
}
