package cmd

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/techfriendly/xpider-huelva/internal/server"
	logx "github.com/techfriendly/xpider-huelva/pkg/logger"
)

var addr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the conversation API over HTTP",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		a, err := bootstrap(ctx, false, "")
		if err != nil {
			return err
		}
		defer a.Close()

		srv := &http.Server{
			Addr:              addr,
			Handler:           server.New(a.runner, a.sessions, a.cfg.Conversation.ParsedLockTTL()).Handler(),
			ReadHeaderTimeout: 15 * time.Second,
			IdleTimeout:       60 * time.Second,
		}

		errCh := make(chan error, 1)
		go func() {
			logx.Info().Str("addr", addr).Msg("Starting HTTP server")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
			}
			close(errCh)
		}()

		select {
		case err := <-errCh:
			return err
		case <-ctx.Done():
		}

		logx.Info().Msg("Shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	},
}

func init() {
	serveCmd.Flags().StringVar(&addr, "addr", ":8080", "Listen address")
	rootCmd.AddCommand(serveCmd)
}
