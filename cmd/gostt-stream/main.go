// Command gostt-stream streams audio to a remote transcription service in
// overlapping chunks and prints the reconciled transcript.
//
// Usage:
//
//	gostt-stream [flags] <command> [args]
//
// Commands:
//
//	transcribe   send every chunk of a WAV file at once
//	play         play a WAV file and send chunks as playback reaches them
//	record       capture from the microphone, then transcribe
//	mock-server  run a local echo transcription service
//	config init  write the default config file
//
// Configuration is read from ~/.config/gostt-stream/config.yaml and may be
// overridden by GOSTT_* environment variables or a .env file.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		stop()
		os.Exit(1)
	}
}
