package domain

import "time"

// Indicators holds the scan-time technical evidence behind a recommendation.
// Fields are named and optional so a missing value is visible at the type
// level instead of a silent map lookup miss.
type Indicators struct {
	RSI14       *float64 `json:"rsi_14,omitempty"`
	MACDHist    *float64 `json:"macd_hist,omitempty"`
	MA50        *float64 `json:"ma_50,omitempty"`
	MA200       *float64 `json:"ma_200,omitempty"`
	ATRPct      *float64 `json:"atr_pct,omitempty"`
	VolumeRatio *float64 `json:"volume_ratio,omitempty"`
}

// Flags carries boolean markers on a recommendation. Scan-time flags are set
// at creation; the evaluation cycle may add evaluation-derived markers
// without ever touching the committed status.
type Flags struct {
	EarningsSoon     bool `json:"earnings_soon,omitempty"`
	ThinVolume       bool `json:"thin_volume,omitempty"`
	HighVolatility   bool `json:"high_volatility,omitempty"`
	SoftWarning      bool `json:"soft_warning,omitempty"`
	AssumptionBroken bool `json:"assumption_broken,omitempty"`
	NearExpiry       bool `json:"near_expiry,omitempty"`
}

// Details carries free-text context captured at scan time.
type Details struct {
	Thesis   string `json:"thesis,omitempty"`
	Sector   string `json:"sector,omitempty"`
	Exchange string `json:"exchange,omitempty"`
	Notes    string `json:"notes,omitempty"`
}

// ArchivePhase classifies a frozen archive return by sign.
type ArchivePhase string

const (
	PhaseProfit ArchivePhase = "PROFIT"
	PhaseLoss   ArchivePhase = "LOSS"
	PhaseFlat   ArchivePhase = "FLAT"
)

// ClassifyPhase buckets a return percentage using a neutral band around
// zero, so a ±neutralBandPct move still counts as FLAT.
func ClassifyPhase(returnPct, neutralBandPct float64) ArchivePhase {
	switch {
	case returnPct > neutralBandPct:
		return PhaseProfit
	case returnPct < -neutralBandPct:
		return PhaseLoss
	default:
		return PhaseFlat
	}
}

// EvalSnapshot is the price/return input a transition decision was based on.
// It is frozen into terminal columns and into the audit log metadata.
type EvalSnapshot struct {
	Price       float64   `json:"price"`
	ReturnPct   float64   `json:"return_pct"`
	Source      string    `json:"source,omitempty"`
	EvaluatedAt time.Time `json:"evaluated_at"`
}

// ReturnPct computes the percent return of current over anchor.
func ReturnPct(anchor, current float64) float64 {
	if anchor == 0 {
		return 0
	}
	return (current - anchor) / anchor * 100.0
}
