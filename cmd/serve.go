package cmd

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/spigell/assessment-recommender/internal/httpapi"
	"go.uber.org/zap"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve recommendations over HTTP",
	Run: func(_ *cobra.Command, _ []string) {
		serve()
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringP("listen", "l", "", "address to listen on (default :8000)")

	viper.BindPFlag("server.listen", serveCmd.Flags().Lookup("listen"))
}

func serve() {
	config, log := setup()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt, err := newSession(ctx, config, log)
	if err != nil {
		log.Fatal("preparing the recommender", zap.Error(err))
	}
	defer rt.Close()

	server, err := httpapi.NewServer(config.Server, rt.pipeline, log,
		httpapi.WithReadiness(func(ctx context.Context) error {
			count, err := rt.index.Count(ctx)
			if err != nil {
				return err
			}
			if count == 0 {
				return errors.New("vector index is empty")
			}
			return nil
		}),
	)
	if err != nil {
		log.Fatal("creating the http server", zap.Error(err))
	}
	defer server.Close()

	if err := server.ListenAndServe(ctx); err != nil {
		log.Error("http server stopped", zap.Error(err))
		return
	}
	log.Info("http server stopped")
}
