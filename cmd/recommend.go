package cmd

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/manifoldco/promptui"
	"github.com/spf13/cobra"
	"github.com/spigell/assessment-recommender/internal/logger"
	"go.uber.org/zap"
)

var queryPrompt = promptui.Prompt{
	Label: "Query (empty line to exit)",
}

var recommendCmd = &cobra.Command{
	Use:   "recommend [query...]",
	Short: "Recommend assessments for a hiring query",
	Run: func(cmd *cobra.Command, args []string) {
		runRecommend(cmd, args)
	},
}

func init() {
	rootCmd.AddCommand(recommendCmd)

	recommendCmd.Flags().IntP("max-results", "n", 0, "maximum number of recommendations (default from config)")
	recommendCmd.Flags().BoolP("interactive", "i", false, "ask for queries in a loop")
}

func runRecommend(cmd *cobra.Command, args []string) {
	config, log := setup()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt, err := newSession(ctx, config, log)
	if err != nil {
		log.Fatal("preparing the recommender", zap.Error(err))
	}
	defer rt.Close()

	maxResults, _ := cmd.Flags().GetInt("max-results")
	if maxResults <= 0 {
		maxResults = config.MaxResults
	}

	interactive, _ := cmd.Flags().GetBool("interactive")
	if !interactive {
		q := strings.TrimSpace(strings.Join(args, " "))
		if q == "" {
			log.Fatal("a query is required", zap.String("hint", "pass it as arguments or use --interactive"))
		}
		if err := answer(ctx, rt, q, maxResults); err != nil {
			log.Fatal("recommending", zap.Error(err))
		}
		return
	}

	for {
		q, err := queryPrompt.Run()
		if err != nil {
			if errors.Is(err, promptui.ErrInterrupt) || errors.Is(err, promptui.ErrEOF) {
				return
			}
			log.Fatal("reading a query", zap.Error(err))
		}
		if strings.TrimSpace(q) == "" {
			log.Info("exiting", zap.String("reason", "empty query"))
			return
		}
		if err := answer(ctx, rt, q, maxResults); err != nil {
			log.Error("recommending", zap.Error(err))
		}
		if ctx.Err() != nil {
			return
		}
	}
}

func answer(ctx context.Context, rt *session, q string, maxResults int) error {
	ctx, cancel := context.WithTimeout(ctx, requestTimeout(rt.config))
	defer cancel()

	result, err := rt.pipeline.RecommendWithLogger(ctx, logger.WithRequest(rt.logger, "", q), q, maxResults)
	if err != nil {
		return err
	}

	return renderResult(os.Stdout, result)
}
