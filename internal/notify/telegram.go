// Package notify implements the operator-facing notification sinks:
// Telegram command/alert delivery and Firebase Cloud Messaging push.
// Adapted from notification_service.go and push_service.go, generalized
// from whale-alert-shaped payloads and a fixed /status-/start-/stop-
// /report switch into generic eventbus.Event formatting dispatched
// through the Command Interpreter (C19).
package notify

import (
	"context"
	"fmt"
	"strings"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/sentineldesk/core/internal/commands"
	"github.com/sentineldesk/core/internal/errs"
	"github.com/sentineldesk/core/internal/eventbus"
	"github.com/sentineldesk/core/internal/logging"
	"github.com/sentineldesk/core/internal/model"
	"github.com/sentineldesk/core/internal/persist"
)

const chatIDDoc = "telegram_chat_id"

type chatIDRecord struct {
	ChatID int64 `json:"chat_id"`
}

// Formatter renders an eventbus.Event as a chat message; callers supply
// one per deployment so wording stays out of this package.
type Formatter func(eventbus.Event) (string, bool)

// CommandHandler executes an authorized model.Command and returns the
// reply text to send back to the operator.
type CommandHandler func(ctx context.Context, cmd model.Command) string

// TelegramSink relays eventbus events to a single operator chat and
// feeds incoming messages through the Command Interpreter. Chat ID
// persistence uses the shared persist.Store instead of the teacher's
// raw ioutil.WriteFile, the same atomic-rename upgrade internal/persist
// already applies everywhere else in this tree.
type TelegramSink struct {
	bot   *tgbotapi.BotAPI
	store *persist.Store

	interp  *commands.Interpreter
	handler CommandHandler
	format  Formatter

	mu     sync.RWMutex
	chatID int64
}

// NewTelegramSink constructs a sink from a bot token. A nil return with
// a nil error never happens; construction failures are always reported
// so callers can decide whether notifications are optional in their
// deployment, matching the teacher's own "disabled, not fatal" stance
// expressed one level up in the caller instead.
func NewTelegramSink(token string, store *persist.Store, interp *commands.Interpreter, handler CommandHandler, format Formatter) (*TelegramSink, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, errs.Wrap(errs.KindConfig, "TelegramInitFailed", err)
	}
	logging.Good("telegram: authorized on account %s", bot.Self.UserName)

	sink := &TelegramSink{bot: bot, store: store, interp: interp, handler: handler, format: format}
	var rec chatIDRecord
	if err := store.Load(chatIDDoc, &rec); err == nil {
		sink.chatID = rec.ChatID
		logging.Info("telegram: loaded persistent chat id %d", rec.ChatID)
	}
	return sink, nil
}

func (t *TelegramSink) setChatID(id int64) {
	t.mu.Lock()
	t.chatID = id
	t.mu.Unlock()
	if err := t.store.Save(chatIDDoc, 1, chatIDRecord{ChatID: id}); err != nil {
		logging.Warn("telegram: failed to persist chat id: %v", err)
	}
}

func (t *TelegramSink) currentChatID() int64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.chatID
}

// Listen blocks processing incoming Telegram updates until ctx is
// cancelled, parsing commands through the interpreter and replying via
// handler. Grounded on notification_service.go's StartEventListener
// update loop.
func (t *TelegramSink) Listen(ctx context.Context) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60
	updates := t.bot.GetUpdatesChan(u)

	logging.Info("telegram: listening for operator commands")
	for {
		select {
		case <-ctx.Done():
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			t.handleUpdate(ctx, update)
		}
	}
}

func (t *TelegramSink) handleUpdate(ctx context.Context, update tgbotapi.Update) {
	if update.Message == nil {
		return
	}
	if t.currentChatID() == 0 {
		t.setChatID(update.Message.Chat.ID)
		t.Send("bot connected; notifications enabled")
	}
	if !update.Message.IsCommand() && !strings.HasPrefix(update.Message.Text, "/") {
		return
	}

	userID := fmt.Sprintf("%d", update.Message.From.ID)
	cmd := t.interp.Parse(userID, update.Message.Text)
	verdict := t.interp.Authorize(cmd)
	switch verdict {
	case commands.DeniedRole:
		t.Send("denied: this command requires admin authorization")
		return
	case commands.DeniedFeatureDisabled:
		t.Send("denied: that feature is currently disabled")
		return
	}

	if t.handler != nil {
		reply := t.handler(ctx, cmd)
		if reply != "" {
			t.Send(reply)
		}
	}
}

// Send delivers msg to the bound chat, fire-and-forget, mirroring the
// teacher's Notify method.
func (t *TelegramSink) Send(msg string) {
	chatID := t.currentChatID()
	if chatID == 0 {
		return
	}
	go func() {
		msgConfig := tgbotapi.NewMessage(chatID, msg)
		msgConfig.ParseMode = "Markdown"
		if _, err := t.bot.Send(msgConfig); err != nil {
			logging.Warn("telegram: send failed: %v", err)
		}
	}()
}

// Relay subscribes to bus and forwards every event that format renders
// to a non-empty string, until ctx is cancelled.
func (t *TelegramSink) Relay(ctx context.Context, bus *eventbus.Bus) {
	ch, unsubscribe := bus.Subscribe()
	defer unsubscribe()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			if t.format == nil {
				continue
			}
			if text, send := t.format(ev); send {
				t.Send(text)
			}
		}
	}
}

// DefaultFormatter renders the common lifecycle events as terse
// one-line messages, after the teacher's whale-alert formatting; only
// margin alerts and order failures carry an emoji prefix.
func DefaultFormatter(ev eventbus.Event) (string, bool) {
	switch ev.Kind {
	case eventbus.PositionOpened:
		return fmt.Sprintf("position opened: %v", ev.Data), true
	case eventbus.PositionClosed:
		return fmt.Sprintf("position closed: %v", ev.Data), true
	case eventbus.TPHit:
		return fmt.Sprintf("take-profit hit: %v", ev.Data), true
	case eventbus.SLMoved:
		return fmt.Sprintf("stop adjusted: %v", ev.Data), true
	case eventbus.MarginAlert:
		return fmt.Sprintf("⚠️ margin alert: %v", ev.Data), true
	case eventbus.OrderFailed:
		return fmt.Sprintf("⚠️ order failed: %v", ev.Data), true
	default:
		return "", false
	}
}
