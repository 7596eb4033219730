package cli

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/mailtmpl/mailtmpl/pkg/mail"
	"github.com/mailtmpl/mailtmpl/pkg/outbox"
	"github.com/mailtmpl/mailtmpl/pkg/server"
)

const shutdownTimeout = 30 * time.Second

// newServeCommand runs the HTTP API with the background mail queue, and the
// outbox consumer when configured.
func newServeCommand(rt *runtimeState) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the mailtmpl HTTP API and mail queue",
		RunE: func(cmd *cobra.Command, _ []string) error {
			log := rt.log.Sugar()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			svc := mail.NewService(rt.cfg, log)
			if err := svc.Start(ctx); err != nil {
				return err
			}

			if rt.cfg.Outbox.Enabled {
				consumer, err := outbox.NewConsumer(rt.cfg.Outbox, rt.store, svc.Sender(), log)
				if err != nil {
					return err
				}
				defer consumer.Close()
				go func() {
					if err := consumer.Run(ctx); err != nil {
						log.Errorw("Outbox consumer stopped", "error", err)
					}
				}()
			}

			srv := server.NewServer(rt.log, rt.cfg, rt.store, svc)
			errCh := make(chan error, 1)
			go func() {
				errCh <- srv.Listen()
			}()

			log.Infow("mailtmpl serving",
				"listenAddress", rt.cfg.Server.ListenAddress,
				"templatesDir", rt.cfg.Templates.Dir,
				"outboxEnabled", rt.cfg.Outbox.Enabled)

			select {
			case err := <-errCh:
				return err
			case <-ctx.Done():
			}

			stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return svc.Stop(stopCtx)
		},
	}
}
