// README: Operator alert channel over Telegram.
package notify

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"
	tele "gopkg.in/telebot.v3"
)

// Alerter raises operator-facing alerts; used when a driver search is
// abandoned without a match.
type Alerter interface {
	OperatorAlert(ctx context.Context, msg string, fields map[string]any)
}

// TelegramAlerter posts alerts to a fixed operator chat.
type TelegramAlerter struct {
	bot    *tele.Bot
	chatID int64
	log    *zap.Logger
}

func NewTelegramAlerter(token string, chatID int64, log *zap.Logger) (*TelegramAlerter, error) {
	bot, err := tele.NewBot(tele.Settings{
		Token:  token,
		Poller: &tele.LongPoller{Timeout: 10 * time.Second},
	})
	if err != nil {
		return nil, err
	}
	return &TelegramAlerter{bot: bot, chatID: chatID, log: log}, nil
}

func (t *TelegramAlerter) OperatorAlert(_ context.Context, msg string, fields map[string]any) {
	var sb strings.Builder
	sb.WriteString("⚠️ ")
	sb.WriteString(msg)
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&sb, "\n%s: %v", k, fields[k])
	}
	if _, err := t.bot.Send(tele.ChatID(t.chatID), sb.String()); err != nil && t.log != nil {
		t.log.Error("operator alert failed", zap.String("alert", msg), zap.Error(err))
	}
}

// LogAlerter is the fallback when no Telegram channel is configured.
type LogAlerter struct {
	Log *zap.Logger
}

func (l *LogAlerter) OperatorAlert(_ context.Context, msg string, fields map[string]any) {
	zfields := make([]zap.Field, 0, len(fields))
	for k, v := range fields {
		zfields = append(zfields, zap.Any(k, v))
	}
	l.Log.Warn("operator alert: "+msg, zfields...)
}
