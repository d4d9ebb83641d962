package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spigell/assessment-recommender/internal/apiclient"
	"github.com/spigell/assessment-recommender/internal/evaluation"
	"go.uber.org/zap"
)

const defaultReportPath = "evaluation_results.json"

var evaluateCmd = &cobra.Command{
	Use:   "evaluate",
	Short: "Score recommendations against a labelled test set",
	Run: func(cmd *cobra.Command, _ []string) {
		evaluate(cmd)
	},
}

func init() {
	rootCmd.AddCommand(evaluateCmd)

	evaluateCmd.Flags().StringP("test-set", "t", "", "labelled queries in json or yaml")
	evaluateCmd.Flags().IntSliceP("k", "k", evaluation.DefaultKs, "cutoffs to score at")
	evaluateCmd.Flags().StringP("output", "o", defaultReportPath, "where to write the json report")
	evaluateCmd.Flags().String("api-url", "", "evaluate a running server instead of the local pipeline")

	evaluateCmd.MarkFlagRequired("test-set")
}

func evaluate(cmd *cobra.Command) {
	config, log := setup()

	testSet, _ := cmd.Flags().GetString("test-set")
	ks, _ := cmd.Flags().GetIntSlice("k")
	output, _ := cmd.Flags().GetString("output")
	apiURL, _ := cmd.Flags().GetString("api-url")

	cases, err := evaluation.LoadTestSet(testSet)
	if err != nil {
		log.Fatal("loading the test set", zap.Error(err))
	}
	log.Info("test set loaded", zap.String("path", testSet), zap.Int("queries", len(cases)))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var recommender evaluation.Recommender
	if apiURL != "" {
		client := apiclient.New(log, apiURL)
		if err := client.Health(ctx); err != nil {
			log.Fatal("recommendation api is not healthy", zap.String("url", apiURL), zap.Error(err))
		}
		recommender = client
	} else {
		rt, err := newSession(ctx, config, log)
		if err != nil {
			log.Fatal("preparing the recommender", zap.Error(err))
		}
		defer rt.Close()

		recommender = evaluation.RecommenderFunc(func(ctx context.Context, q string, maxResults int) ([]string, error) {
			ctx, cancel := context.WithTimeout(ctx, requestTimeout(config))
			defer cancel()

			result, err := rt.pipeline.Recommend(ctx, q, maxResults)
			if err != nil {
				return nil, err
			}
			return result.Names(), nil
		})
	}

	report, err := evaluation.New(recommender, log).Run(ctx, cases, ks)
	if err != nil {
		log.Fatal("evaluation interrupted", zap.Error(err))
	}

	for _, k := range report.Ks {
		fmt.Printf("Mean Recall@%d: %.4f\n", k, report.MeanRecall[k])
		fmt.Printf("MAP@%d: %.4f\n", k, report.MAP[k])
	}

	if err := evaluation.WriteReport(output, report); err != nil {
		log.Fatal("writing the report", zap.Error(err))
	}
	log.Info("evaluation report written", zap.String("path", output))
}
