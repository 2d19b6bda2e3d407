package cli

import (
	"time"

	"github.com/benbjohnson/clock"
	"github.com/spf13/cobra"

	"quiz-room-service/internal/app"
	"quiz-room-service/internal/config"
	"quiz-room-service/internal/logging"
)

// NewSweepCmd runs a single retention pass and exits.
func NewSweepCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Delete finished rooms older than the retention horizon",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadOrDefault(*configPath)
			if err != nil {
				return err
			}
			log := logging.New(cfg.Log.Level, cfg.Log.Pretty)

			store, closeStore, err := openStore(cmd.Context(), cfg, clock.New(), log)
			if err != nil {
				return err
			}
			defer closeStore()

			horizon := config.TTLDuration(cfg.Retention.Horizon, 24*time.Hour)
			deleted, err := app.NewSweeper(store, clock.New(), horizon, log).Sweep(cmd.Context())
			if err != nil {
				return err
			}
			log.Info().Int("deleted", deleted).Dur("horizon", horizon).Msg("sweep finished")
			return nil
		},
	}
}
