package normalize

import (
	"encoding/json"
	"errors"
	"reflect"
	"strings"
	"testing"

	"github.com/signalx/chartlens/internal/gateway"
	"github.com/signalx/chartlens/internal/model"
)

func testRequest() *model.AnalysisRequest {
	return &model.AnalysisRequest{Symbol: "ETH/USDT", Timeframe: "1H"}
}

func TestNormalizeCompleteResponse(t *testing.T) {
	raw := `{
		"isChart": true,
		"symbol": "BTC/USDT",
		"pattern": "Ascending Triangle",
		"trend": "bullish",
		"timeframe": "4H",
		"confidence": 87,
		"riskLevel": "medium",
		"riskRewardRatio": 2.5,
		"entryPrice": "43250",
		"targetPrice": "45800",
		"stopLoss": "42100",
		"analysis": "Strong ascending triangle with increasing volume.",
		"volumeAnalysis": "Volume rising on up moves.",
		"keyLevels": {"support": ["42100", "41500"], "resistance": ["43800", "44200"]},
		"technicalIndicators": ["RSI: 65"],
		"recommendations": ["Wait for breakout"],
		"cryptoContext": "ETF inflows continue.",
		"riskFactors": ["Volatility"],
		"positionSizing": "1-2% of capital",
		"tradeType": "SWING",
		"isSwap": false,
		"marketDeepDive": "Liquidity remains deep."
	}`

	res, err := New().Normalize(raw, testRequest())
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if res.Symbol != "BTC/USDT" || res.Pattern != "Ascending Triangle" {
		t.Errorf("unexpected identity fields: %+v", res)
	}
	if res.Confidence != 87 || res.RiskRewardRatio != 2.5 {
		t.Errorf("numeric fields: confidence=%d rr=%v", res.Confidence, res.RiskRewardRatio)
	}
	if !res.KeyLevels.Flat() || len(res.KeyLevels.Support) != 2 {
		t.Errorf("keyLevels = %+v", res.KeyLevels)
	}
}

func TestNormalizeStripsFencesAndCommentary(t *testing.T) {
	raw := "Here is the analysis you asked for:\n```json\n{\"symbol\": \"SOL/USDT\", \"trend\": \"bearish\"}\n```\nLet me know if you need more detail."

	res, err := New().Normalize(raw, testRequest())
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if res.Symbol != "SOL/USDT" {
		t.Errorf("symbol = %q", res.Symbol)
	}
	if res.Trend != model.TrendBearish {
		t.Errorf("trend = %q", res.Trend)
	}
}

func TestNormalizeNotChart(t *testing.T) {
	raw := `{"isChart": false, "notChartReason": "screenshot of a spreadsheet"}`

	_, err := New().Normalize(raw, testRequest())
	var notChart *gateway.NotChartError
	if !errors.As(err, &notChart) {
		t.Fatalf("err = %v, want NotChartError", err)
	}
	if notChart.Reason != "screenshot of a spreadsheet" {
		t.Errorf("reason = %q", notChart.Reason)
	}
}

func TestNormalizeNoObjectIsMalformed(t *testing.T) {
	_, err := New().Normalize("I could not analyze this image, sorry.", testRequest())
	var malformed *gateway.MalformedResponseError
	if !errors.As(err, &malformed) {
		t.Fatalf("err = %v, want MalformedResponseError", err)
	}
}

func TestNormalizeRepairsTrailingCommas(t *testing.T) {
	raw := `{"symbol": "BTC/USDT", "trend": "neutral", "recommendations": ["Hold",],}`

	res, err := New().Normalize(raw, testRequest())
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if res.Trend != model.TrendNeutral {
		t.Errorf("trend = %q", res.Trend)
	}
	if len(res.Recommendations) != 1 || res.Recommendations[0] != "Hold" {
		t.Errorf("recommendations = %v", res.Recommendations)
	}
}

// Corpus of degraded responses: whatever the model omits or mistypes, the
// result must come back fully populated.
func TestNormalizeDefaultsCorpus(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"empty object", `{}`},
		{"na prices", `{"entryPrice": "N/A", "targetPrice": "N/A", "stopLoss": "null"}`},
		{"wrong types", `{"confidence": "very high", "riskRewardRatio": "dunno", "technicalIndicators": "RSI", "isSwap": "maybe"}`},
		{"empty arrays", `{"technicalIndicators": [], "recommendations": [], "riskFactors": [], "keyLevels": {"support": [], "resistance": []}}`},
		{"out of range", `{"confidence": 250, "riskRewardRatio": -3}`},
		{"negative confidence", `{"confidence": -10}`},
		{"bad enums", `{"trend": "sideways", "riskLevel": "extreme", "tradeType": "YOLO"}`},
	}

	n := New()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := n.Normalize(tt.raw, testRequest())
			if err != nil {
				t.Fatalf("Normalize: %v", err)
			}
			assertFullyPopulated(t, res)
		})
	}
}

func assertFullyPopulated(t *testing.T, res *model.AnalysisResult) {
	t.Helper()
	if res.Confidence < 0 || res.Confidence > 100 {
		t.Errorf("confidence %d out of [0,100]", res.Confidence)
	}
	if res.RiskRewardRatio < 0.1 {
		t.Errorf("riskRewardRatio %v below floor", res.RiskRewardRatio)
	}
	for name, v := range map[string]string{
		"symbol": res.Symbol, "pattern": res.Pattern, "trend": res.Trend,
		"entryPrice": res.EntryPrice, "targetPrice": res.TargetPrice, "stopLoss": res.StopLoss,
		"analysis": res.Analysis, "riskLevel": res.RiskLevel, "timeframe": res.Timeframe,
		"volumeAnalysis": res.VolumeAnalysis, "cryptoContext": res.CryptoContext,
		"positionSizing": res.PositionSizing, "tradeType": res.TradeType,
		"marketDeepDive": res.MarketDeepDive,
	} {
		if strings.TrimSpace(v) == "" {
			t.Errorf("%s is empty", name)
		}
		if strings.EqualFold(v, "N/A") {
			t.Errorf("%s is %q", name, v)
		}
	}
	for name, l := range map[string][]string{
		"technicalIndicators": res.TechnicalIndicators,
		"recommendations":     res.Recommendations,
		"riskFactors":         res.RiskFactors,
	} {
		if len(l) == 0 {
			t.Errorf("%s is empty", name)
		}
	}
	if res.KeyLevels.Flat() {
		if len(res.KeyLevels.Support) == 0 || len(res.KeyLevels.Resistance) == 0 {
			t.Errorf("flat keyLevels has empty side: %+v", res.KeyLevels)
		}
	} else if len(res.KeyLevels.Timeframes) == 0 {
		t.Error("keyLevels holds neither accepted shape")
	}
}

func TestNormalizeNestedKeyLevelsPreserved(t *testing.T) {
	raw := `{
		"symbol": "BTC/USDT",
		"keyLevels": {
			"1H": {"support": {"s1": "42100", "s2": 41500}, "resistance": {"r1": "43800"}},
			"4H": {"support": {"s1": "41000"}, "resistance": {"r1": "45000"}}
		}
	}`

	res, err := New().Normalize(raw, testRequest())
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if res.KeyLevels.Flat() {
		t.Fatal("nested shape was flattened")
	}
	tf, ok := res.KeyLevels.Timeframes["1H"]
	if !ok {
		t.Fatalf("missing 1H timeframe: %+v", res.KeyLevels.Timeframes)
	}
	if tf.Support["s2"] != "41500" {
		t.Errorf("numeric level not coerced: %q", tf.Support["s2"])
	}
}

// Normalizing an already-normalized result must be a no-op.
func TestNormalizeIdempotent(t *testing.T) {
	inputs := []string{
		`{}`,
		`{"symbol": "BTC/USDT", "trend": "bearish", "confidence": 42, "keyLevels": {"support": ["1"], "resistance": ["2"]}}`,
		`{"keyLevels": {"1D": {"support": {"s1": "95000"}, "resistance": {"r1": "113000"}}}}`,
	}

	n := New()
	for _, raw := range inputs {
		first, err := n.Normalize(raw, testRequest())
		if err != nil {
			t.Fatalf("Normalize: %v", err)
		}
		encoded, err := json.Marshal(first)
		if err != nil {
			t.Fatalf("Marshal: %v", err)
		}
		second, err := n.Normalize(string(encoded), testRequest())
		if err != nil {
			t.Fatalf("Normalize(normalized): %v", err)
		}
		if !reflect.DeepEqual(first, second) {
			t.Errorf("normalization not idempotent:\nfirst:  %+v\nsecond: %+v", first, second)
		}
	}
}
