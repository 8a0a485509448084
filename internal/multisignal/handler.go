// Package multisignal implements the Multi-Signal Handler (C8), grounded
// on signal_aggregator.go's per-symbol bucket-and-flush pattern
// (bounded FIFO buckets, periodic flush loop, per-symbol cooldown) and
// signal_filter.go's confidence-threshold intake gate, generalized from
// a notification-noise reducer into the spec's merge/conflict engine.
package multisignal

import (
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/sentineldesk/core/internal/model"
)

// ResolutionMethod picks the winner of a directional conflict.
type ResolutionMethod string

const (
	HighestPriority  ResolutionMethod = "HIGHEST_PRIORITY"
	HighestConfidence ResolutionMethod = "HIGHEST_CONFIDENCE"
	NewestWins       ResolutionMethod = "NEWEST_WINS"
	OldestWins       ResolutionMethod = "OLDEST_WINS"
	CancelAll        ResolutionMethod = "CANCEL_ALL"
)

// ProviderProfile tracks a provider's running stats; weight is a
// configured constant, never learned at runtime in this component.
type ProviderProfile struct {
	SignalCount   int
	AvgConfidence float64
	Weight        decimal.Decimal
}

// Config configures merge tolerance, conflict resolution, bucket size,
// and the intake confidence threshold.
type Config struct {
	MergeToleragePips  decimal.Decimal
	PipSize            func(symbol string) decimal.Decimal
	Resolution         ResolutionMethod
	MaxBucketSize      int
	ConfidenceThreshold float64
}

// Bucket is the bounded FIFO of pending signals for one symbol.
type Bucket struct {
	Signals []*model.Signal
}

// Handler owns every symbol's bucket; the single-owner actor per the
// concurrency model. Safe for concurrent Ingest/Process calls.
type Handler struct {
	mu       sync.Mutex
	config   Config
	buckets  map[string]*Bucket
	profiles map[string]*ProviderProfile
}

func New(config Config) *Handler {
	return &Handler{
		config:   config,
		buckets:  map[string]*Bucket{},
		profiles: map[string]*ProviderProfile{},
	}
}

// ErrRejectedLowConfidence names the low-confidence intake rejection;
// Ingest itself reports that rejection by returning false.
var ErrRejectedLowConfidence = "rejected_low_confidence"

// Ingest appends sig to its symbol's bucket if its confidence clears the
// intake threshold, updating the provider's running profile. Returns
// false when rejected at intake.
func (h *Handler) Ingest(sig *model.Signal, providerWeight decimal.Decimal) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if sig.Confidence < h.config.ConfidenceThreshold {
		return false
	}

	profile, ok := h.profiles[sig.ProviderID]
	if !ok {
		profile = &ProviderProfile{Weight: providerWeight}
		h.profiles[sig.ProviderID] = profile
	}
	profile.SignalCount++
	profile.AvgConfidence = (profile.AvgConfidence*float64(profile.SignalCount-1) + sig.Confidence) / float64(profile.SignalCount)

	bucket, ok := h.buckets[sig.Symbol]
	if !ok {
		bucket = &Bucket{}
		h.buckets[sig.Symbol] = bucket
	}
	bucket.Signals = append(bucket.Signals, sig)
	if h.config.MaxBucketSize > 0 && len(bucket.Signals) > h.config.MaxBucketSize {
		bucket.Signals = bucket.Signals[len(bucket.Signals)-h.config.MaxBucketSize:]
	}
	return true
}

// Score computes confidence x provider_weight x priority_weight for sig.
func (h *Handler) Score(sig *model.Signal) decimal.Decimal {
	h.mu.Lock()
	profile := h.profiles[sig.ProviderID]
	h.mu.Unlock()
	weight := decimal.NewFromFloat(1.0)
	if profile != nil {
		weight = profile.Weight
	}
	return decimal.NewFromFloat(sig.Confidence).Mul(weight).Mul(sig.Priority.Weight())
}

// compatible reports whether two signals may merge: same symbol, same
// direction, and first candidate entries within tolerance. split_index
// is not part of this key: Signal carries no split field and SignalID
// is not inspected.
func (h *Handler) compatible(a, b *model.Signal) bool {
	if a.Symbol != b.Symbol || a.Direction != b.Direction {
		return false
	}
	pipSize := decimal.NewFromFloat(0.0001)
	if h.config.PipSize != nil {
		pipSize = h.config.PipSize(a.Symbol)
	}
	tolerance := h.config.MergeToleragePips.Mul(pipSize)

	aEntry := entryOf(a)
	bEntry := entryOf(b)
	return aEntry.Sub(bEntry).Abs().LessThanOrEqual(tolerance)
}

func entryOf(s *model.Signal) decimal.Decimal {
	if len(s.CandidateEntries) == 0 {
		return decimal.Zero
	}
	return s.CandidateEntries[0]
}

// Process drains and classifies symbol's bucket into ConflictGroups,
// returning zero or one synthetic output signal per independent/merged
// group, and the losers of any directional conflicts for event
// reporting. Call periodically (~200ms) per the scheduler.
func (h *Handler) Process(symbol string, now time.Time) (winners []*model.Signal, losers []*model.Signal) {
	h.mu.Lock()
	bucket, ok := h.buckets[symbol]
	if !ok || len(bucket.Signals) == 0 {
		h.mu.Unlock()
		return nil, nil
	}
	signals := bucket.Signals
	delete(h.buckets, symbol)
	h.mu.Unlock()

	groups := h.groupBySplitAndDirection(signals)
	for _, group := range groups {
		if len(group) == 1 {
			winners = append(winners, group[0])
			continue
		}

		byDirection := map[model.Direction][]*model.Signal{}
		for _, s := range group {
			byDirection[s.Direction] = append(byDirection[s.Direction], s)
		}

		if len(byDirection) > 1 {
			w, l := h.resolveConflict(byDirection, now)
			if w != nil {
				winners = append(winners, w)
			}
			losers = append(losers, l...)
			continue
		}

		// Single direction: merge all compatible pairs into one signal.
		merged := h.mergeAll(group)
		winners = append(winners, merged)
	}
	return winners, losers
}

// groupBySplitAndDirection clusters mutually-compatible signals using
// compatible's symbol/direction/entry test only; no split key is applied.
func (h *Handler) groupBySplitAndDirection(signals []*model.Signal) [][]*model.Signal {
	var groups [][]*model.Signal
	used := make([]bool, len(signals))
	for i, s := range signals {
		if used[i] {
			continue
		}
		group := []*model.Signal{s}
		used[i] = true
		for j := i + 1; j < len(signals); j++ {
			if used[j] {
				continue
			}
			if h.compatible(s, signals[j]) || s.Direction != signals[j].Direction {
				// same symbol: either compatible-for-merge or a
				// directional conflict; both belong in one group for
				// conflict/merge resolution to consider together.
				group = append(group, signals[j])
				used[j] = true
			}
		}
		groups = append(groups, group)
	}
	return groups
}

// mergeAll folds every signal in a same-direction group into one
// synthetic signal: weighted-mean entry, tightest SL, union of TPs,
// max priority, max confidence. Merge is commutative for tie-free
// priority/confidence/provider-weight tuples (invariant 8).
func (h *Handler) mergeAll(group []*model.Signal) *model.Signal {
	if len(group) == 1 {
		return group[0]
	}

	weightSum := decimal.Zero
	entrySum := decimal.Zero
	var mergedFrom []string
	best := group[0]

	for _, s := range group {
		h.mu.Lock()
		profile := h.profiles[s.ProviderID]
		h.mu.Unlock()
		w := decimal.NewFromFloat(1.0)
		if profile != nil {
			w = profile.Weight
		}
		weightSum = weightSum.Add(w)
		entrySum = entrySum.Add(entryOf(s).Mul(w))
		mergedFrom = append(mergedFrom, s.SignalID)

		if s.Confidence > best.Confidence || (s.Confidence == best.Confidence && s.Priority.Weight().GreaterThan(best.Priority.Weight())) {
			best = s
		}
	}

	mergedEntry := entryOf(best)
	if !weightSum.IsZero() {
		mergedEntry = entrySum.Div(weightSum)
	}

	tightestSL := tightestStopLoss(group, best.Direction)
	tps := unionSortedTPs(group, best.Direction)

	out := &model.Signal{
		SignalID:   best.SignalID,
		MessageID:  best.MessageID,
		ProviderID: best.ProviderID,
		Timestamp:  best.Timestamp,
		Symbol:     best.Symbol,
		Direction:  best.Direction,
		CandidateEntries: []decimal.Decimal{mergedEntry},
		SL:         tightestSL,
		TPs:        tps,
		Confidence: maxConfidence(group),
		Priority:   maxPriority(group),
		OriginalText: best.OriginalText,
	}
	return out
}

func tightestStopLoss(group []*model.Signal, dir model.Direction) *decimal.Decimal {
	var tightest *decimal.Decimal
	for _, s := range group {
		if s.SL == nil {
			continue
		}
		if tightest == nil {
			v := *s.SL
			tightest = &v
			continue
		}
		entry := entryOf(s)
		curDist := entry.Sub(*tightest).Abs()
		newDist := entry.Sub(*s.SL).Abs()
		if newDist.LessThan(curDist) {
			v := *s.SL
			tightest = &v
		}
	}
	return tightest
}

func unionSortedTPs(group []*model.Signal, dir model.Direction) []decimal.Decimal {
	seen := map[string]bool{}
	var tps []decimal.Decimal
	for _, s := range group {
		for _, tp := range s.TPs {
			key := tp.String()
			if !seen[key] {
				seen[key] = true
				tps = append(tps, tp)
			}
		}
	}
	sort.Slice(tps, func(i, j int) bool {
		if dir == model.Sell {
			return tps[i].GreaterThan(tps[j])
		}
		return tps[i].LessThan(tps[j])
	})
	return tps
}

func maxConfidence(group []*model.Signal) float64 {
	max := 0.0
	for _, s := range group {
		if s.Confidence > max {
			max = s.Confidence
		}
	}
	return max
}

func maxPriority(group []*model.Signal) model.Priority {
	best := model.PriorityLow
	for _, s := range group {
		if best.Less(s.Priority) {
			best = s.Priority
		}
	}
	return best
}

// resolveConflict applies the configured ResolutionMethod to a
// directional split of one symbol's group, returning the winner (nil
// for CANCEL_ALL) and every loser.
func (h *Handler) resolveConflict(byDirection map[model.Direction][]*model.Signal, now time.Time) (*model.Signal, []*model.Signal) {
	var all []*model.Signal
	for _, group := range byDirection {
		all = append(all, group...)
	}

	switch h.config.Resolution {
	case CancelAll:
		return nil, all

	case HighestConfidence:
		winner := all[0]
		for _, s := range all[1:] {
			if s.Confidence > winner.Confidence {
				winner = s
			}
		}
		return winner, without(all, winner)

	case NewestWins:
		winner := all[0]
		for _, s := range all[1:] {
			if s.Timestamp.After(winner.Timestamp) {
				winner = s
			}
		}
		return winner, without(all, winner)

	case OldestWins:
		winner := all[0]
		for _, s := range all[1:] {
			if s.Timestamp.Before(winner.Timestamp) {
				winner = s
			}
		}
		return winner, without(all, winner)

	case HighestPriority:
		fallthrough
	default:
		winner := all[0]
		winnerWeight := h.providerWeight(winner.ProviderID)
		for _, s := range all[1:] {
			sw := h.providerWeight(s.ProviderID)
			if winner.Priority.Less(s.Priority) ||
				(winner.Priority == s.Priority && winnerWeight.LessThan(sw)) ||
				(winner.Priority == s.Priority && winnerWeight.Equal(sw) && winner.Confidence < s.Confidence) {
				winner = s
				winnerWeight = sw
			}
		}
		return winner, without(all, winner)
	}
}

func (h *Handler) providerWeight(providerID string) decimal.Decimal {
	h.mu.Lock()
	defer h.mu.Unlock()
	if p, ok := h.profiles[providerID]; ok {
		return p.Weight
	}
	return decimal.NewFromFloat(1.0)
}

func without(all []*model.Signal, winner *model.Signal) []*model.Signal {
	out := make([]*model.Signal, 0, len(all)-1)
	for _, s := range all {
		if s != winner {
			out = append(out, s)
		}
	}
	return out
}
