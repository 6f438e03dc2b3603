package main

import (
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/quantsignal/recengine/internal/scheduler"
)

func evaluateCmd() *cobra.Command {
	var asOfRaw string

	cmd := &cobra.Command{
		Use:   "evaluate",
		Short: "Run one evaluation cycle over all live recommendations",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp()
			if err != nil {
				return err
			}
			defer a.close()

			asOf := time.Now().UTC()
			if asOfRaw != "" {
				if asOf, err = parseDay(asOfRaw); err != nil {
					return err
				}
			}

			ev := scheduler.NewEvaluator(a.engine, a.prices, a.engine.Config(), a.engine.Calendar(), log.Logger)
			stats, err := ev.RunCycle(cmd.Context(), asOf)
			if err != nil {
				return err
			}
			log.Info().
				Int("evaluated", stats.Evaluated).
				Int("applied", stats.Applied).
				Int("skipped", stats.Skipped).
				Int("errors", stats.Errors).
				Msg("evaluation finished")
			return nil
		},
	}

	cmd.Flags().StringVar(&asOfRaw, "as-of", "", "evaluation date (YYYY-MM-DD, default today)")
	return cmd
}
