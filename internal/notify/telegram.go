// Package notify posts best-effort operational notifications about finished
// analyses to a Telegram ops channel.
package notify

import (
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/signalx/chartlens/internal/model"
)

// Telegram sends analysis summaries to a configured chat. A nil *Telegram is
// a valid no-op notifier.
type Telegram struct {
	bot    *tgbotapi.BotAPI
	chatID int64
	logger zerolog.Logger
}

// NewTelegram connects the bot. Returns nil (and no error) when token or chat
// id are unset so callers can wire it unconditionally.
func NewTelegram(token string, chatID int64) (*Telegram, error) {
	if token == "" || chatID == 0 {
		return nil, nil
	}
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("connecting telegram bot: %w", err)
	}
	return &Telegram{
		bot:    bot,
		chatID: chatID,
		logger: log.With().Str("component", "telegram_notifier").Logger(),
	}, nil
}

// AnalysisCompleted posts a short summary of a finished analysis. Errors are
// logged, never propagated; notifications must not affect the caller's result.
func (t *Telegram) AnalysisCompleted(userID string, res *model.AnalysisResult) {
	if t == nil {
		return
	}
	who := userID
	if who == "" {
		who = "anonymous"
	}
	text := fmt.Sprintf(
		"📊 %s %s\nTrend: %s | Confidence: %d%%\nEntry %s → Target %s (stop %s)\nUser: %s",
		res.Symbol, res.Pattern, res.Trend, res.Confidence,
		res.EntryPrice, res.TargetPrice, res.StopLoss, who,
	)
	if _, err := t.bot.Send(tgbotapi.NewMessage(t.chatID, text)); err != nil {
		t.logger.Warn().Err(err).Msg("failed to send analysis notification")
	}
}
