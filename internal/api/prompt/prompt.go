// Package prompt builds the analysis instruction block shared by the
// vision-inference providers.
package prompt

import (
	"fmt"
	"strings"

	"github.com/signalx/chartlens/internal/model"
)

// Build creates the instruction block sent alongside the chart image. It
// embeds a full exemplar document because the model follows a shown schema far
// more reliably than a described one, and it carries the
// isChart/notChartReason contract used to reject non-chart uploads.
func Build(req *model.AnalysisRequest) string {
	var sb strings.Builder

	sb.WriteString(`You are a senior crypto technical analyst with 10+ years of experience. First determine if the provided IMAGE is a TRADING CHART (candlesticks/lines, axes, indicators, exchange UI). Return ONLY valid JSON.

{
  "isChart": true,
  "notChartReason": "",
  "symbol": "BTC/USDT",
  "pattern": "Specific chart pattern identified (e.g., Bullish Consolidation, Ascending Triangle, Bullish Flag)",
  "trend": "bullish|bearish|neutral",
  "timeframe": "e.g., 15m/1H/4H/1D",
  "confidence": 85,
  "riskLevel": "low|medium|high",
  "riskRewardRatio": 1.72,
  "tradeType": "SCALP|DAY_TRADE|SWING|POSITION",
  "isSwap": true,
  "marketDeepDive": "A deep professional analysis of liquidity, order book heatmaps, and macro crypto trends relating to this chart.",

  "entryPrice": "109.000",
  "targetPrice": "112.800",
  "stopLoss": "106.800",

  "analysis": "Detailed technical explanation of the structure, breakouts and momentum visible on the chart.",
  "volumeAnalysis": "How volume confirms or contradicts the price action.",

  "keyLevels": {
    "support": ["106,800", "104,800", "96,000"],
    "resistance": ["110,800", "112,000", "113,000"]
  },

  "technicalIndicators": [
    "RSI: 65 (neutral to bullish momentum)",
    "MACD: Bullish crossover with increasing histogram",
    "Moving Averages: Price above 50MA and 200MA",
    "Volume: Increasing on upward moves"
  ],

  "cryptoContext": "Market cycle position, institutional flows, macro backdrop relevant to this asset.",

  "riskFactors": [
    "High market volatility inherent to cryptocurrencies",
    "Potential for unexpected bearish news or adverse regulatory developments",
    "Risk of a false breakout if buying volume does not sustain",
    "Influence of global macroeconomic factors on risk-on assets"
  ],

  "positionSizing": "Allocate 1-2% of total trading capital per trade. Strict adherence to the recommended stop loss is crucial.",

  "recommendations": [
    "Wait for confirmation above resistance with volume",
    "Set stop loss for risk management",
    "Target higher levels for profit taking",
    "Monitor volume for sustained buying pressure"
  ]
}

IMPORTANT RULES:
- Output ONLY valid JSON (no markdown fences, no commentary, no extra text)
- If the image is NOT a trading chart, set "isChart": false and provide a short "notChartReason". In that case, you may leave other fields default or empty.
- Always provide specific price levels (never null or "N/A")
- Ensure all arrays have content, never empty arrays
- "tradeType" definition: SCALP (minutes), DAY_TRADE (hours), SWING (days/weeks), POSITION (months)
- "isSwap" should be true if this is better handled as a simple DeFi swap/DEX trade than a CEX limit order.
- Provide detailed, professional technical analysis matching the depth of institutional trading reports
`)

	sb.WriteString(fmt.Sprintf("\nExtra context: %s\n", orUnknown(req.AdditionalContext, "None")))
	sb.WriteString(fmt.Sprintf("Symbol: %s\n", orUnknown(req.Symbol, "Unknown")))
	sb.WriteString(fmt.Sprintf("Timeframe: %s\n", orUnknown(req.Timeframe, "Unknown")))

	return sb.String()
}

func orUnknown(v, def string) string {
	if strings.TrimSpace(v) == "" {
		return def
	}
	return v
}
