package signal

import (
	"strconv"

	"titanfabric/internal/types"
)

// Transform converts a pre-transform intent signal into the execution-core
// schema. Direction LONG maps to +1/BUY_SETUP, SHORT to -1/SELL_SETUP; the
// entry zone becomes the ordered [min, max] pair; t_signal defaults to now
// when the source supplied no timestamp. An unknown direction produces a
// zero direction that schema validation rejects downstream.
func Transform(sig types.IntentSignal, source string) types.ExecutionIntent {
	var direction int
	var intentType types.IntentType
	switch sig.Direction {
	case types.DirectionLong:
		direction = 1
		intentType = types.IntentBuySetup
	case types.DirectionShort:
		direction = -1
		intentType = types.IntentSellSetup
	}

	lo, hi := sig.EntryZone.Min, sig.EntryZone.Max
	if lo > hi {
		lo, hi = hi, lo
	}

	tSignal := sig.TSignal
	if tSignal == 0 {
		tSignal = types.NowMillis()
	}

	if source == "" {
		source = sig.Source
	}

	intent := types.ExecutionIntent{
		SchemaVersion: types.IntentSchemaVersion,
		SignalID:      sig.SignalID,
		Source:        source,
		Symbol:        sig.Symbol,
		Direction:     direction,
		Type:          intentType,
		EntryZone:     [2]float64{lo, hi},
		StopLoss:      sig.StopLoss,
		TakeProfits:   sig.TakeProfits,
		Size:          0, // execution sizes from risk
		Status:        "PENDING",
		ReceivedAt:    types.NowISO(),
		TSignal:       tSignal,
		TExchange:     sig.TExchange,
		Metadata: map[string]string{
			"source":         source,
			"confidence":     strconv.FormatFloat(sig.Confidence, 'f', -1, 64),
			"leverage":       strconv.FormatFloat(sig.Leverage, 'f', -1, 64),
			"correlation":    sig.SignalID,
			"schema_version": types.IntentSchemaVersion,
		},
	}
	return intent
}

// FillEstimate is the entry-zone midpoint: an optimistic estimate, not an
// acknowledgment of an actual fill.
func FillEstimate(zone [2]float64) float64 {
	return (zone[0] + zone[1]) / 2
}
