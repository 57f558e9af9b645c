package main

import (
	"fmt"
	"time"

	"github.com/chaz8081/gostt-stream/internal/audio"
	"github.com/spf13/cobra"
)

var recordCmd = &cobra.Command{
	Use:   "record",
	Short: "Record from the microphone, then transcribe the recording",
	Long: `Capture audio from the default input device for a fixed duration,
then send the recording the same way transcribe does. Ctrl+C aborts.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		d, err := cmd.Flags().GetDuration("duration")
		if err != nil {
			return fmt.Errorf("failed to read 'duration' flag: %w", err)
		}
		if d <= 0 {
			return fmt.Errorf("--duration must be > 0")
		}
		opts, err := transcribeFlags(cmd)
		if err != nil {
			return err
		}

		rec, err := audio.NewRecorder(cfg.Audio.SampleRate, cfg.Audio.Channels, logger)
		if err != nil {
			return fmt.Errorf("%w\n\nEnsure microphone access is granted to this terminal", err)
		}
		defer rec.Close()

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Recording for %s...\n", d)
		src, err := rec.Record(cmd.Context(), d)
		if err != nil {
			return err
		}
		if err := cmd.Context().Err(); err != nil {
			return err
		}
		if src.Duration() < cfg.Audio.ChunkDuration {
			logger.Warn("recording is shorter than one chunk", "duration", src.Duration())
		}

		return transcribeSource(cmd.Context(), out, src, opts)
	},
}

func init() {
	f := recordCmd.Flags()
	f.Duration("duration", 10*time.Second, "how long to record")
	f.String("reference", "", "reference transcript; prints the word error rate against it")
	f.String("dump-chunks", "", "write each chunk as a WAV file into this directory")
	f.Duration("timeout", 2*time.Minute, "how long to wait for all chunk results")
}
