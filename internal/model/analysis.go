package model

import (
	"time"
)

// Trend direction reported by the analyst model.
const (
	TrendBullish = "bullish"
	TrendBearish = "bearish"
	TrendNeutral = "neutral"
)

// Risk levels for a suggested trade.
const (
	RiskLow    = "low"
	RiskMedium = "medium"
	RiskHigh   = "high"
)

// Trade horizon classifications.
const (
	TradeScalp    = "SCALP"
	TradeDayTrade = "DAY_TRADE"
	TradeSwing    = "SWING"
	TradePosition = "POSITION"
)

// AnalysisRequest carries one chart image and its optional context through a
// single orchestration call. Immutable once built.
type AnalysisRequest struct {
	ImageBytes        []byte
	ImageMIME         string
	Symbol            string
	Timeframe         string
	AdditionalContext string
	UserID            string // empty for anonymous callers
}

// Authenticated reports whether the request carries a caller identity.
func (r *AnalysisRequest) Authenticated() bool {
	return r.UserID != ""
}

// AnalysisResult is the fixed-shape outcome of one chart analysis. Every field
// is populated by the normalizer; none is ever empty in a returned result.
type AnalysisResult struct {
	Symbol              string    `json:"symbol"`
	Pattern             string    `json:"pattern"`
	Trend               string    `json:"trend"`
	EntryPrice          string    `json:"entryPrice"`
	TargetPrice         string    `json:"targetPrice"`
	StopLoss            string    `json:"stopLoss"`
	Confidence          int       `json:"confidence"`
	Analysis            string    `json:"analysis"`
	RiskLevel           string    `json:"riskLevel"`
	Timeframe           string    `json:"timeframe"`
	RiskRewardRatio     float64   `json:"riskRewardRatio"`
	KeyLevels           KeyLevels `json:"keyLevels"`
	VolumeAnalysis      string    `json:"volumeAnalysis"`
	TechnicalIndicators []string  `json:"technicalIndicators"`
	Recommendations     []string  `json:"recommendations"`
	CryptoContext       string    `json:"cryptoContext"`
	RiskFactors         []string  `json:"riskFactors"`
	PositionSizing      string    `json:"positionSizing"`
	TradeType           string    `json:"tradeType"`
	IsSwap              bool      `json:"isSwap"`
	MarketDeepDive      string    `json:"marketDeepDive"`
	Note                string    `json:"note,omitempty"`
}

// StoredAnalysis is a persisted analysis in a user's history.
type StoredAnalysis struct {
	ID          string         `json:"id"`
	UserID      string         `json:"userId"`
	Symbol      string         `json:"symbol"`
	Timeframe   string         `json:"timeframe"`
	Result      AnalysisResult `json:"analysis"`
	CreditsUsed int            `json:"creditsUsed"`
	CreatedAt   time.Time      `json:"createdAt"`
}

// CreditAccount holds a user's consumable analysis balance.
type CreditAccount struct {
	UserID   string `json:"userId"`
	Balance  int    `json:"balance"`
	IsActive bool   `json:"isActive"`
}

// Credit transaction types.
const (
	TxUsed         = "used"
	TxRefund       = "refund"
	TxPurchase     = "purchase"
	TxAdminAdded   = "admin_added"
	TxAdminRemoved = "admin_removed"
)

// CreditTransaction is one immutable entry of the append-only credit log.
type CreditTransaction struct {
	ID          string    `json:"id"`
	UserID      string    `json:"userId"`
	Amount      int       `json:"amount"`
	Type        string    `json:"type"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"createdAt"`
}
