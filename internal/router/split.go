package router

import (
	"strconv"

	"github.com/shopspring/decimal"

	"github.com/sentineldesk/core/internal/model"
)

// Split divides intent's volume into n equal parts, emitting n
// TradeIntents that share the original SignalID but each carry a
// distinct split_index and an IntentID suffixed "#split<i>". The
// Multi-Signal Handler groups Signals, not intents, and has no
// split_index key of its own.
func Split(intent model.TradeIntent, n int) []model.TradeIntent {
	if n <= 1 {
		return []model.TradeIntent{intent}
	}
	share := intent.Volume.Div(decimal.NewFromInt(int64(n)))
	out := make([]model.TradeIntent, 0, n)
	for i := 0; i < n; i++ {
		split := intent
		split.Volume = share
		split.Meta.SplitIndex = i
		split.Meta.SplitOf = n
		split.IntentID = intent.IntentID + "#split" + strconv.Itoa(i)
		out = append(out, split)
	}
	return out
}
