// Package editwatcher implements the Edit-on-Signal-Change Watcher
// (C18): maps a signal's originating message to the tickets it opened,
// and on a message edit, reparses, diffs, and pushes the allowed
// changes to every still-open ticket. Adapted from
// original_source/desktop-app/edit_trade_on_signal_change.py (its
// ChangeType/TradeModification shape, message_id→trade mapping, and
// content-hash idempotence check, confirmed via its test suite).
package editwatcher

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/sentineldesk/core/internal/clock"
	"github.com/sentineldesk/core/internal/errs"
	"github.com/sentineldesk/core/internal/eventbus"
	"github.com/sentineldesk/core/internal/logging"
	"github.com/sentineldesk/core/internal/model"
)

// ChangeType names one field that may differ between signal versions.
type ChangeType string

const (
	ChangeEntry     ChangeType = "entry_price"
	ChangeSL        ChangeType = "stop_loss"
	ChangeTP        ChangeType = "take_profit"
	ChangeVolume    ChangeType = "volume"
	ChangeDirection ChangeType = "direction"
)

// Parser reparses raw edited text into structured signal fields; the
// real parser lives outside this module's scope (an external
// collaborator, per spec).
type Parser func(rawText string) (model.Signal, error)

// Mutator is the narrow executor surface C18 requests modifications
// through.
type Mutator interface {
	RequestModify(ctx context.Context, ticket string, sl, tp *decimal.Decimal) error
}

// Modification records one attempted change for statistics.
type Modification struct {
	Ticket    string
	Change    ChangeType
	OldValue  decimal.Decimal
	NewValue  decimal.Decimal
	At        time.Time
	Success   bool
	Err       error
}

type mapping struct {
	tickets  []string
	versions []model.SignalVersion
	openedAt time.Time
}

// Config bounds which fields may be auto-applied and within what
// window.
type Config struct {
	AllowedChanges   map[ChangeType]bool
	MaxEditWindow    time.Duration
	PipSize          func(symbol string) decimal.Decimal
	MinChangePips    decimal.Decimal
}

// Watcher owns the message→tickets mapping and the modification
// history.
type Watcher struct {
	parser  Parser
	mutator Mutator
	clock   clock.Clock
	bus     *eventbus.Bus
	config  Config

	mu            sync.Mutex
	mappings      map[string]*mapping // keyed by MessageID
	history       []Modification
}

func New(parser Parser, mutator Mutator, clk clock.Clock, bus *eventbus.Bus, config Config) *Watcher {
	if config.AllowedChanges == nil {
		config.AllowedChanges = map[ChangeType]bool{ChangeEntry: true, ChangeSL: true, ChangeTP: true}
	}
	return &Watcher{
		parser:   parser,
		mutator:  mutator,
		clock:    clk,
		bus:      bus,
		config:   config,
		mappings: map[string]*mapping{},
	}
}

func contentHash(sig model.Signal) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s|%s|%v|%v|%v|%v", sig.Symbol, sig.Direction, sig.CandidateEntries, sig.SL, sig.TPs, sig.Volume)
	return hex.EncodeToString(h.Sum(nil))
}

// Register links messageID to ticket, recording sig as the first known
// version if none is tracked yet.
func (w *Watcher) Register(messageID, ticket string, sig model.Signal) {
	w.mu.Lock()
	defer w.mu.Unlock()

	m, ok := w.mappings[messageID]
	if !ok {
		hash := contentHash(sig)
		m = &mapping{
			tickets:  nil,
			versions: []model.SignalVersion{{ContentHash: hash, ParsedFields: sig, Timestamp: w.clock.Now()}},
			openedAt: w.clock.Now(),
		}
		w.mappings[messageID] = m
	}
	for _, t := range m.tickets {
		if t == ticket {
			return
		}
	}
	m.tickets = append(m.tickets, ticket)
}

// OnSignalEdit reparses rawText via the external parser collaborator,
// and if the resulting content differs from the latest known version,
// diffs it and requests the allowed modifications on every open ticket.
func (w *Watcher) OnSignalEdit(ctx context.Context, messageID, rawText string) error {
	w.mu.Lock()
	m, ok := w.mappings[messageID]
	if !ok {
		w.mu.Unlock()
		return nil // unknown signal; nothing to do
	}
	latest := m.versions[len(m.versions)-1]
	openedAt := m.openedAt
	tickets := append([]string(nil), m.tickets...)
	w.mu.Unlock()

	newSig, err := w.parser(rawText)
	if err != nil {
		return errs.Wrap(errs.KindInput, "EditReparseFailed", err)
	}
	newHash := contentHash(newSig)
	if newHash == latest.ContentHash {
		return nil // idempotent edit: zero broker modifications (invariant 6)
	}

	if w.config.MaxEditWindow > 0 && w.clock.Now().Sub(openedAt) > w.config.MaxEditWindow {
		logging.Warn("signal edit for message %s rejected: outside max edit window", messageID)
		return errs.New(errs.KindPolicyBlock, "EditWindowExpired", messageID)
	}

	changes := w.detectChanges(latest.ParsedFields, newSig)

	w.mu.Lock()
	m.versions = append(m.versions, model.SignalVersion{ContentHash: newHash, ParsedFields: newSig, Timestamp: w.clock.Now()})
	w.mu.Unlock()

	if _, directionChanged := changes[ChangeDirection]; directionChanged {
		logging.Alert("signal direction changed for message %s; not applied to open positions", messageID)
		w.bus.Publish(eventbus.Event{Kind: eventbus.SignalBlocked, Data: struct {
			MessageID string
			Reason    string
		}{messageID, "direction_change_alert_only"}})
		delete(changes, ChangeDirection)
	}

	for _, ticket := range tickets {
		for changeType := range changes {
			if !w.config.AllowedChanges[changeType] {
				continue
			}
			w.applyChange(ctx, ticket, changeType, latest.ParsedFields, newSig)
		}
	}
	return nil
}

func (w *Watcher) detectChanges(old, new model.Signal) map[ChangeType]struct{} {
	out := map[ChangeType]struct{}{}
	pipSize := decimal.NewFromFloat(0.0001)
	if w.config.PipSize != nil {
		pipSize = w.config.PipSize(new.Symbol)
	}
	exceeds := func(a, b decimal.Decimal) bool {
		diffPips := a.Sub(b).Abs().Div(pipSize)
		return diffPips.GreaterThan(w.config.MinChangePips)
	}

	if old.Direction != new.Direction {
		out[ChangeDirection] = struct{}{}
	}
	if len(old.CandidateEntries) > 0 && len(new.CandidateEntries) > 0 && exceeds(old.CandidateEntries[0], new.CandidateEntries[0]) {
		out[ChangeEntry] = struct{}{}
	}
	if old.SL != nil && new.SL != nil && exceeds(*old.SL, *new.SL) {
		out[ChangeSL] = struct{}{}
	}
	if len(old.TPs) > 0 && len(new.TPs) > 0 && exceeds(old.TPs[0], new.TPs[0]) {
		out[ChangeTP] = struct{}{}
	}
	if old.Volume != nil && new.Volume != nil && !old.Volume.Equal(*new.Volume) {
		out[ChangeVolume] = struct{}{}
	}
	return out
}

func (w *Watcher) applyChange(ctx context.Context, ticket string, changeType ChangeType, old, new model.Signal) {
	var err error
	var oldVal, newVal decimal.Decimal

	switch changeType {
	case ChangeSL:
		if new.SL == nil {
			return
		}
		if old.SL != nil {
			oldVal = *old.SL
		}
		newVal = *new.SL
		err = w.mutator.RequestModify(ctx, ticket, new.SL, nil)
	case ChangeTP:
		if len(new.TPs) == 0 {
			return
		}
		if len(old.TPs) > 0 {
			oldVal = old.TPs[0]
		}
		newVal = new.TPs[0]
		tp := new.TPs[0]
		err = w.mutator.RequestModify(ctx, ticket, nil, &tp)
	default:
		return // entry_price/volume edits on an already-filled position are not broker-mutable here
	}

	w.mu.Lock()
	w.history = append(w.history, Modification{
		Ticket: ticket, Change: changeType, OldValue: oldVal, NewValue: newVal,
		At: w.clock.Now(), Success: err == nil, Err: err,
	})
	w.mu.Unlock()

	if err != nil {
		logging.Warn("edit-driven %s modification failed for %s: %v", changeType, ticket, err)
	}
}

// History returns every recorded modification attempt, for statistics.
func (w *Watcher) History() []Modification {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]Modification(nil), w.history...)
}
