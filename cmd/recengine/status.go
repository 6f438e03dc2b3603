package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/quantsignal/recengine/internal/persistence"
)

func statusCmd() *cobra.Command {
	var byID bool
	var withHistory bool

	cmd := &cobra.Command{
		Use:   "status <ticker|id>",
		Short: "Show a recommendation's status, anchor, and frozen snapshots",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp()
			if err != nil {
				return err
			}
			defer a.close()

			ctx := cmd.Context()
			var rec *persistence.Recommendation
			if byID {
				rec, err = a.engine.GetByID(ctx, args[0])
			} else {
				rec, err = a.engine.CurrentByTicker(ctx, args[0])
			}
			if err != nil {
				return err
			}

			out := json.NewEncoder(os.Stdout)
			out.SetIndent("", "  ")
			if err := out.Encode(rec); err != nil {
				return err
			}

			if withHistory {
				events, err := a.engine.History(ctx, rec.ID)
				if err != nil {
					return err
				}
				fmt.Println("history:")
				if err := out.Encode(events); err != nil {
					return err
				}
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&byID, "id", false, "treat the argument as a recommendation id")
	cmd.Flags().BoolVar(&withHistory, "history", false, "include the state-event ledger")
	return cmd
}
