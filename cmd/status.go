package cmd

import (
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/spigell/apply-pilot/internal/application"
	"github.com/spigell/apply-pilot/internal/ledger"
	"github.com/spigell/apply-pilot/internal/logger"
	"github.com/spigell/apply-pilot/internal/pacing"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Print the current ledger snapshot",
	Run: func(_ *cobra.Command, _ []string) {
		status()
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func status() {
	logger, err := logger.New(viper.GetBool("json"), viper.GetBool("debug"))
	if err != nil {
		log.Fatalf("creating a logger: %s", err)
	}

	config, err := getConfig()
	if err != nil {
		logger.Fatal("getting a config", zap.Error(err))
	}

	book, machineErr := openLedger(config, logger)
	if machineErr != nil {
		logger.Fatal("opening the ledger", zap.Error(machineErr))
	}
	defer book.Close()

	window := 24 * time.Hour
	if config.Limits != nil && config.Limits.DailyWindow > 0 {
		window = config.Limits.DailyWindow
	}

	snapshot, err := book.Snapshot(time.Now(), window)
	if err != nil {
		logger.Fatal("taking the snapshot", zap.Error(err))
	}

	pretty, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		logger.Fatal("rendering the snapshot", zap.Error(err))
	}

	fmt.Println(string(pretty))
}

// openLedger builds the state machine from config and opens the ledger file.
// Shared by the read-mostly commands.
func openLedger(config *Config, logger *zap.Logger) (*ledger.Ledger, error) {
	limits := config.Limits
	if limits == nil {
		return nil, fmt.Errorf("limits section is required")
	}

	pace := pacing.New(pacing.Config{
		DelayMin:      limits.DelayMin,
		DelayMax:      limits.DelayMax,
		BackoffBase:   limits.BackoffBase,
		BackoffCap:    limits.BackoffCap,
		BackoffJitter: limits.BackoffJitter,
	})

	machine := application.NewMachine(limits.MaxAttempts, pace.Backoff)

	return ledger.Open(config.LedgerPath, machine, logger)
}
