package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// PositionState tracks a filled position through its lifecycle.
type PositionState string

const (
	PositionOpen    PositionState = "OPEN"
	PositionClosing PositionState = "CLOSING"
	PositionClosed  PositionState = "CLOSED"
)

// TPStatus is a single take-profit level's lifecycle state.
type TPStatus string

const (
	TPPending   TPStatus = "PENDING"
	TPHit       TPStatus = "HIT"
	TPCancelled TPStatus = "CANCELLED"
)

// TPLevel is one rung of a position's fractional close plan.
type TPLevel struct {
	LevelIndex   int
	Price        decimal.Decimal
	Percentage   decimal.Decimal // of the position's volume-at-intent
	Status       TPStatus
	ClosedVolume decimal.Decimal
	ClosePrice   decimal.Decimal
}

// Position is a post-fill broker position under management by C13-C18.
// The Trade Executor (C13) creates it and carries out every broker-side
// change the other engines request; the Multi-TP Manager (C14) also sets
// VolumeRemaining and State on the struct itself as it closes TP levels.
type Position struct {
	Ticket    string
	IntentID  string
	SignalID  string
	MessageID string

	Symbol    string
	Direction Direction

	EntryPrice     decimal.Decimal
	VolumeAtIntent decimal.Decimal // original fill volume, for TP% math
	VolumeRemaining decimal.Decimal

	SL             decimal.Decimal
	TPPlanRemaining []TPLevel

	OpenTime time.Time
	State    PositionState
}

// SLBetter reports whether candidate is a strictly-better stop loss than
// the position's current SL, respecting direction (invariant 1: SL
// monotonicity — BUY SL only rises, SELL SL only falls).
func (p *Position) SLBetter(candidate decimal.Decimal) bool {
	if p.Direction == Buy {
		return candidate.GreaterThan(p.SL)
	}
	return candidate.LessThan(p.SL)
}

// MarginStatus is the derived health classification of a MarginSnapshot;
// never the source of truth, always recomputed from levels.
type MarginStatus string

const (
	MarginSafe       MarginStatus = "SAFE"
	MarginWarning    MarginStatus = "WARNING"
	MarginCritical   MarginStatus = "CRITICAL"
	MarginCall       MarginStatus = "MARGIN_CALL"
)

// MarginSnapshot is a point-in-time account margin reading.
type MarginSnapshot struct {
	Balance     decimal.Decimal
	Equity      decimal.Decimal
	UsedMargin  decimal.Decimal
	FreeMargin  decimal.Decimal
	MarginLevel decimal.Decimal // percent
	Status      MarginStatus
	AsOf        time.Time
}

// ConflictKind classifies a group of pending signals for the same symbol.
type ConflictKind string

const (
	ConflictDirectional ConflictKind = "directional_conflict"
	ConflictMergeable    ConflictKind = "mergeable"
	ConflictIndependent  ConflictKind = "independent"
)

// ConflictGroup is a set of signals for one symbol within the
// compatibility window, tagged by relationship.
type ConflictGroup struct {
	Symbol  string
	Signals []*Signal
	Kind    ConflictKind
}

// RouteAction is the outcome of the Condition Router (C10).
type RouteAction string

const (
	RouteProcessNormal    RouteAction = "PROCESS_NORMAL"
	RouteToReverse        RouteAction = "ROUTE_TO_REVERSE"
	RouteBlockSignal      RouteAction = "BLOCK_SIGNAL"
	RouteDelaySignal      RouteAction = "DELAY_SIGNAL"
	RouteSplitSignal      RouteAction = "SPLIT_SIGNAL"
	RouteEscalatePriority RouteAction = "ESCALATE_PRIORITY"
)

// RoutingDecision is C10's verdict for one signal.
type RoutingDecision struct {
	SignalID      string
	MatchedRuleID string // empty when no rule matched (default action applied)
	Action        RouteAction
	Parameters    map[string]interface{}
	ConditionsMet []string
}

// CommandKind enumerates the operator chat grammar (C19).
type CommandKind string

const (
	CmdStatus  CommandKind = "STATUS"
	CmdReplay  CommandKind = "REPLAY"
	CmdStealth CommandKind = "STEALTH"
	CmdEnable  CommandKind = "ENABLE"
	CmdDisable CommandKind = "DISABLE"
	CmdSet     CommandKind = "SET"
	CmdGet     CommandKind = "GET"
	CmdPause   CommandKind = "PAUSE"
	CmdResume  CommandKind = "RESUME"
	CmdHelp    CommandKind = "HELP"
	CmdUnknown CommandKind = "UNKNOWN"
)

// CommandScope is the target class a command applies to.
type CommandScope string

const (
	ScopeGlobal   CommandScope = "GLOBAL"
	ScopeSymbol   CommandScope = "SYMBOL"
	ScopeProvider CommandScope = "PROVIDER"
	ScopeStrategy CommandScope = "STRATEGY"
)

// Role is the operator's authorization level.
type Role string

const (
	RoleAdmin Role = "ADMIN"
	RoleUser  Role = "USER"
)

// Command is one parsed operator chat instruction.
type Command struct {
	RawText string
	UserID  string
	Role    Role
	Kind    CommandKind
	Scope   CommandScope
	Target  string
	Params  []string
}
