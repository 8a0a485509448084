// Package model defines the core data-model entities of the execution and
// lifecycle control plane: Signal, TradeIntent, Position, TPLevel,
// MarginSnapshot, ConflictGroup, RoutingDecision, Command.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Direction is a signal or position's side.
type Direction string

const (
	Buy  Direction = "BUY"
	Sell Direction = "SELL"
)

// Opposite returns the flipped direction.
func (d Direction) Opposite() Direction {
	if d == Buy {
		return Sell
	}
	return Buy
}

// Priority is a signal's configured urgency class, used by conflict
// resolution and routing escalation.
type Priority string

const (
	PriorityCritical Priority = "CRITICAL"
	PriorityHigh     Priority = "HIGH"
	PriorityMedium   Priority = "MEDIUM"
	PriorityLow      Priority = "LOW"
)

// Weight returns the priority weight used in C8 scoring.
func (p Priority) Weight() decimal.Decimal {
	switch p {
	case PriorityCritical:
		return decimal.NewFromFloat(2.0)
	case PriorityHigh:
		return decimal.NewFromFloat(1.5)
	case PriorityMedium:
		return decimal.NewFromFloat(1.0)
	case PriorityLow:
		return decimal.NewFromFloat(0.7)
	default:
		return decimal.NewFromFloat(1.0)
	}
}

// rank orders priorities for lexicographic comparisons (HIGHEST_PRIORITY
// conflict resolution).
func (p Priority) rank() int {
	switch p {
	case PriorityCritical:
		return 3
	case PriorityHigh:
		return 2
	case PriorityMedium:
		return 1
	case PriorityLow:
		return 0
	default:
		return 0
	}
}

// Less reports whether p has strictly lower rank than other.
func (p Priority) Less(other Priority) bool { return p.rank() < other.rank() }

// SignalVersion records one parsed snapshot of a signal's originating
// message, keyed by message_id, used by the edit watcher (C18) to detect
// content changes.
type SignalVersion struct {
	ContentHash  string
	ParsedFields Signal
	Timestamp    time.Time
}

// Signal is a parsed trading signal. Identity is (SignalID, MessageID,
// ProviderID, Timestamp). Versions are appended to Signal.Versions by the
// ingest pipeline and the edit watcher as the same message gets edited.
type Signal struct {
	SignalID   string
	MessageID  string
	ProviderID string
	Timestamp  time.Time

	Symbol          string
	Direction       Direction
	CandidateEntries []decimal.Decimal // length >= 1
	SL              *decimal.Decimal
	TPs             []decimal.Decimal
	Volume          *decimal.Decimal
	Confidence      float64 // [0,1]
	Priority        Priority
	OriginalText    string

	Versions []SignalVersion
}

// LatestVersionHash returns the content hash of the most recent recorded
// version, or the empty string if none has been recorded yet.
func (s *Signal) LatestVersionHash() string {
	if len(s.Versions) == 0 {
		return ""
	}
	return s.Versions[len(s.Versions)-1].ContentHash
}

// IntentMeta carries provenance flags distinguishing how a TradeIntent
// came to exist.
type IntentMeta struct {
	Reversed   bool
	MergedFrom []string // signal IDs merged into this intent
	SplitIndex int       // 0 when not a split; part of the merge key (Open Question #2)
	SplitOf    int       // total split count, 0 when not a split
	Priority   Priority
}

// EntryMode selects how the Entry Resolver (C4) picks a single entry
// price from a signal's candidate list.
type EntryMode string

const (
	EntryBest    EntryMode = "BEST"
	EntryAverage EntryMode = "AVERAGE"
	EntrySecond  EntryMode = "SECOND"
	EntryFirst   EntryMode = "FIRST"
)

// TradeIntent is a signal after the full policy pipeline, ready for
// placement by the Trade Executor (C13).
type TradeIntent struct {
	IntentID  string
	SignalID  string
	Symbol    string
	Direction Direction

	EntryMode   EntryMode
	EntryTarget decimal.Decimal
	// EntryPrices holds every split/range entry price when the intent
	// represents a range order (len > 1); EntryTarget is the primary one.
	EntryPrices []decimal.Decimal

	Volume decimal.Decimal
	SL     *decimal.Decimal
	TPPlan []TPLevel

	SmartWaitDeadline *time.Time

	Meta IntentMeta

	State IntentState
}

// IntentState is the at-most-once-fill state machine for an intent.
type IntentState string

const (
	IntentPending   IntentState = "PENDING"
	IntentExecuting IntentState = "EXECUTING"
	IntentFilled    IntentState = "FILLED"
	IntentPartial   IntentState = "PARTIAL"
	IntentFailed    IntentState = "FAILED"
)
