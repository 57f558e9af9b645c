package main

import (
	"fmt"
	"time"

	"github.com/chaz8081/gostt-stream/internal/audio"
	"github.com/spf13/cobra"
)

// positionInterval matches how often a media element reports its time.
const positionInterval = 100 * time.Millisecond

var playCmd = &cobra.Command{
	Use:   "play <file.wav>",
	Short: "Play a WAV file while streaming its chunks",
	Long: `Play a WAV file through the default output device and print the
transcript each time it changes. With trigger.mode set to playback, each
chunk is sent when playback reaches its start offset; with immediate,
every chunk is sent as playback starts.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		timeout, err := cmd.Flags().GetDuration("timeout")
		if err != nil {
			return fmt.Errorf("failed to read 'timeout' flag: %w", err)
		}

		src, err := audio.LoadWAV(args[0])
		if err != nil {
			return err
		}

		mode, err := sessionMode(true)
		if err != nil {
			return err
		}

		ctx := cmd.Context()
		out := cmd.OutOrStdout()
		printBanner(out, string(mode))

		s, err := startStreamer(ctx, out, mode)
		if err != nil {
			return err
		}
		defer s.close()

		s.pipe.OnTranscript(func(text string) {
			if text != "" {
				fmt.Fprintf(s.out, "> %s\n", text)
			}
		})

		sess, err := s.pipe.LoadSource(src.Samples, src.SampleRate)
		if err != nil {
			return err
		}

		player, err := audio.NewPlayer(src, logger)
		if err != nil {
			return err
		}
		defer player.Close()
		if err := player.Start(); err != nil {
			return err
		}
		fmt.Fprintf(s.out, "Playing %.1fs (%d chunks, session %s)\n", src.Duration(), sess.Chunks, sess.ID)

		ticker := time.NewTicker(positionInterval)
		defer ticker.Stop()
	playback:
		for {
			select {
			case <-ticker.C:
				s.pipe.PlaybackPosition(player.Position())
			case <-player.Done():
				s.pipe.PlaybackPosition(src.Duration())
				break playback
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		err = s.wait(ctx, sess, timeout)
		s.summarize("")
		return err
	},
}

func init() {
	playCmd.Flags().Duration("timeout", 30*time.Second, "how long to wait for results after playback ends")
}
