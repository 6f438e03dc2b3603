package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/quantsignal/recengine/internal/domain"
	"github.com/quantsignal/recengine/internal/lifecycle"
)

// scanFile is the on-disk shape of one scan cycle's output.
type scanFile struct {
	ScanDate   string          `yaml:"scan_date"`
	Candidates []scanCandidate `yaml:"candidates"`
}

type scanCandidate struct {
	Ticker     string  `yaml:"ticker"`
	Name       string  `yaml:"name"`
	Strategy   string  `yaml:"strategy"`
	Score      float64 `yaml:"score"`
	ScoreLabel string  `yaml:"score_label"`

	Indicators struct {
		RSI14       *float64 `yaml:"rsi_14"`
		MACDHist    *float64 `yaml:"macd_hist"`
		MA50        *float64 `yaml:"ma_50"`
		MA200       *float64 `yaml:"ma_200"`
		ATRPct      *float64 `yaml:"atr_pct"`
		VolumeRatio *float64 `yaml:"volume_ratio"`
	} `yaml:"indicators"`

	Flags struct {
		EarningsSoon   bool `yaml:"earnings_soon"`
		ThinVolume     bool `yaml:"thin_volume"`
		HighVolatility bool `yaml:"high_volatility"`
	} `yaml:"flags"`

	Details struct {
		Thesis   string `yaml:"thesis"`
		Sector   string `yaml:"sector"`
		Exchange string `yaml:"exchange"`
		Notes    string `yaml:"notes"`
	} `yaml:"details"`
}

func scanCmd() *cobra.Command {
	var inputPath string

	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Create recommendations from a scan cycle output file",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp()
			if err != nil {
				return err
			}
			defer a.close()

			data, err := os.ReadFile(inputPath)
			if err != nil {
				return fmt.Errorf("failed to read scan file: %w", err)
			}
			var file scanFile
			if err := yaml.Unmarshal(data, &file); err != nil {
				return fmt.Errorf("failed to parse scan file: %w", err)
			}
			scanDate, err := parseDay(file.ScanDate)
			if err != nil {
				return err
			}

			created, skipped, failed := 0, 0, 0
			for _, c := range file.Candidates {
				cand := lifecycle.Candidate{
					Ticker:     c.Ticker,
					Name:       c.Name,
					ScanDate:   scanDate,
					Strategy:   c.Strategy,
					Score:      c.Score,
					ScoreLabel: c.ScoreLabel,
					Indicators: domain.Indicators{
						RSI14:       c.Indicators.RSI14,
						MACDHist:    c.Indicators.MACDHist,
						MA50:        c.Indicators.MA50,
						MA200:       c.Indicators.MA200,
						ATRPct:      c.Indicators.ATRPct,
						VolumeRatio: c.Indicators.VolumeRatio,
					},
					Flags: domain.Flags{
						EarningsSoon:   c.Flags.EarningsSoon,
						ThinVolume:     c.Flags.ThinVolume,
						HighVolatility: c.Flags.HighVolatility,
					},
					Details: domain.Details{
						Thesis:   c.Details.Thesis,
						Sector:   c.Details.Sector,
						Exchange: c.Details.Exchange,
						Notes:    c.Details.Notes,
					},
				}

				id, err := a.engine.CreateRecommendation(cmd.Context(), cand)
				switch {
				case err == nil:
					created++
					log.Info().Str("ticker", c.Ticker).Str("id", id).Msg("created")
				case isNoAction(err):
					skipped++
					log.Info().Str("ticker", c.Ticker).Str("why", err.Error()).Msg("no action")
				default:
					failed++
					log.Error().Err(err).Str("ticker", c.Ticker).Msg("creation failed")
				}
			}

			log.Info().Int("created", created).Int("skipped", skipped).Int("failed", failed).
				Msg("scan cycle processed")
			if failed > 0 {
				return fmt.Errorf("%d candidates failed", failed)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&inputPath, "input", "", "scan output file (YAML)")
	cmd.MarkFlagRequired("input")
	return cmd
}

// isNoAction reports whether a creation outcome means "nothing to do":
// cooldown and already-active are expected, not failures.
func isNoAction(err error) bool {
	var cooldown *domain.CooldownError
	return errors.As(err, &cooldown) || errors.Is(err, domain.ErrAlreadyActive)
}
