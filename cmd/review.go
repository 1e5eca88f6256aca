package cmd

import (
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/manifoldco/promptui"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/spigell/apply-pilot/internal/application"
	"github.com/spigell/apply-pilot/internal/job"
	"github.com/spigell/apply-pilot/internal/ledger"
	"github.com/spigell/apply-pilot/internal/logger"
)

const (
	PromptKeep = "Keep in queue"
	PromptSkip = "Skip this posting"
	PromptQuit = "Quit review"

	reviewBatch = 100
)

var errExit = errors.New("exit requested")

var reviewCmd = &cobra.Command{
	Use:   "review",
	Short: "Review queued postings and skip the ones you do not want",
	Run: func(_ *cobra.Command, _ []string) {
		review()
	},
}

func init() {
	rootCmd.AddCommand(reviewCmd)
}

func review() {
	logger, err := logger.New(viper.GetBool("json"), viper.GetBool("debug"))
	if err != nil {
		log.Fatalf("creating a logger: %s", err)
	}

	config, err := getConfig()
	if err != nil {
		logger.Fatal("getting a config", zap.Error(err))
	}

	book, err := openLedger(config, logger)
	if err != nil {
		logger.Fatal("opening the ledger", zap.Error(err))
	}
	defer book.Close()

	now := time.Now()

	eligible, err := book.GetEligible(now, reviewBatch)
	if err != nil {
		logger.Fatal("listing the queue", zap.Error(err))
	}

	if len(eligible) == 0 {
		logger.Info("exiting", zap.String("reason", "nothing queued for review"))
		return
	}

	logger.Info("queued postings pending review", zap.Int("count", len(eligible)))

	for _, key := range eligible {
		record, err := book.Get(key)
		if err != nil {
			logger.Fatal("loading application record", zap.Error(err))
		}

		posting, err := book.GetPosting(key)
		if err != nil {
			logger.Fatal("loading posting", zap.Error(err))
		}

		prompt := promptui.Select{
			Label: fmt.Sprintf("%s / %s / score %.2f", posting.Title, posting.Company, record.Score.Combined),
			Items: []string{PromptKeep, PromptSkip, PromptQuit},
		}

		_, action, err := prompt.Run()
		if err != nil {
			logger.Fatal("exiting", zap.Error(err))
		}

		if err := handleReviewAction(action, book, key, logger); err != nil {
			if errors.Is(err, errExit) {
				return
			}
			logger.Fatal("exiting", zap.Error(err))
		}
	}
}

func handleReviewAction(action string, book *ledger.Ledger, key job.Key, logger *zap.Logger) error {
	switch action {
	case PromptKeep:
		return nil
	case PromptSkip:
		if _, err := book.Transition(key, application.Skip{Reason: application.ReasonManualSkip}, time.Now()); err != nil {
			return fmt.Errorf("skipping posting %s: %w", key, err)
		}
		logger.Info("posting skipped", zap.String("key", key.String()))
		return nil
	case PromptQuit:
		logger.Info("exiting", zap.String("reason", "review finished early"))
		return errExit
	default:
		return fmt.Errorf("invalid action: %s", action)
	}
}
