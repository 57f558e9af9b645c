package main

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"net/http"
	"time"

	"github.com/chaz8081/gostt-stream/internal/sttmock"
	"github.com/spf13/cobra"
)

var mockServerCmd = &cobra.Command{
	Use:   "mock-server",
	Short: "Run a local transcription service that echoes chunk metadata",
	Long: `Run a websocket service at ` + sttmock.Path + ` that answers each chunk with
"Transcript for chunk N (x.xs)". With --jitter, replies are delayed by a
random amount so they arrive out of order.

Example:
  gostt-stream mock-server --addr :8000 --jitter 500ms`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		addr, err := cmd.Flags().GetString("addr")
		if err != nil {
			return fmt.Errorf("failed to read 'addr' flag: %w", err)
		}
		jitter, err := cmd.Flags().GetDuration("jitter")
		if err != nil {
			return fmt.Errorf("failed to read 'jitter' flag: %w", err)
		}

		opts := []sttmock.Option{sttmock.WithLogger(logger)}
		if jitter > 0 {
			opts = append(opts, sttmock.WithDelay(func(int) time.Duration {
				return rand.N(jitter)
			}))
		}
		mock := sttmock.New(opts...)

		srv := &http.Server{Addr: addr, Handler: mock.Handler()}
		errCh := make(chan error, 1)
		go func() { errCh <- srv.ListenAndServe() }()
		fmt.Fprintf(cmd.OutOrStdout(), "Mock transcription service listening on ws://%s%s\n", addr, sttmock.Path)

		select {
		case err := <-errCh:
			return err
		case <-cmd.Context().Done():
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		mock.CloseConnections()
		if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	},
}

func init() {
	mockServerCmd.Flags().String("addr", "127.0.0.1:8000", "listen address")
	mockServerCmd.Flags().Duration("jitter", 0, "maximum random reply delay")
}
