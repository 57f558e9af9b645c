package main

import (
	"fmt"
	"time"

	"github.com/chaz8081/gostt-stream/internal/audio"
	"github.com/spf13/cobra"
)

var transcribeCmd = &cobra.Command{
	Use:   "transcribe <file.wav>",
	Short: "Transcribe a WAV file, sending every chunk at once",
	Long: `Transcribe a WAV file. Every chunk is sent as soon as the file is
loaded; the merged transcript is printed once all chunks have answered.

Example:
  gostt-stream transcribe speech.wav
  gostt-stream transcribe speech.wav --reference "the expected words" --dump-chunks ./chunks`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		opts, err := transcribeFlags(cmd)
		if err != nil {
			return err
		}

		src, err := audio.LoadWAV(args[0])
		if err != nil {
			return err
		}
		logger.Info("source loaded", "path", args[0], "duration", src.Duration(), "sample_rate", src.SampleRate)

		return transcribeSource(cmd.Context(), cmd.OutOrStdout(), src, opts)
	},
}

func init() {
	f := transcribeCmd.Flags()
	f.String("reference", "", "reference transcript; prints the word error rate against it")
	f.String("dump-chunks", "", "write each chunk as a WAV file into this directory")
	f.Duration("timeout", 2*time.Minute, "how long to wait for all chunk results")
}

func transcribeFlags(cmd *cobra.Command) (transcribeOptions, error) {
	var opts transcribeOptions
	var err error
	if opts.reference, err = cmd.Flags().GetString("reference"); err != nil {
		return opts, fmt.Errorf("failed to read 'reference' flag: %w", err)
	}
	if opts.dumpDir, err = cmd.Flags().GetString("dump-chunks"); err != nil {
		return opts, fmt.Errorf("failed to read 'dump-chunks' flag: %w", err)
	}
	if opts.timeout, err = cmd.Flags().GetDuration("timeout"); err != nil {
		return opts, fmt.Errorf("failed to read 'timeout' flag: %w", err)
	}
	if opts.timeout <= 0 {
		return opts, fmt.Errorf("--timeout must be > 0")
	}
	return opts, nil
}
