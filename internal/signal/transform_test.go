package signal

import (
	"testing"
	"time"

	"titanfabric/internal/types"
)

func TestTransformLong(t *testing.T) {
	sig := types.IntentSignal{
		SignalID:    "s-7",
		Symbol:      "ETH/USDT",
		Direction:   types.DirectionLong,
		EntryZone:   types.EntryZone{Min: 3000, Max: 3050},
		StopLoss:    2900,
		TakeProfits: []float64{3200},
		Confidence:  0.75,
		Leverage:    3,
		TSignal:     1700000000000,
	}

	intent := Transform(sig, "scavenger-1")

	if intent.Direction != 1 || intent.Type != types.IntentBuySetup {
		t.Errorf("LONG -> %d/%s", intent.Direction, intent.Type)
	}
	if intent.EntryZone != [2]float64{3000, 3050} {
		t.Errorf("entry_zone = %v", intent.EntryZone)
	}
	if intent.TSignal != 1700000000000 {
		t.Errorf("t_signal = %d, source timestamp lost", intent.TSignal)
	}
	if intent.Metadata["confidence"] != "0.75" || intent.Metadata["leverage"] != "3" {
		t.Errorf("metadata = %v", intent.Metadata)
	}
	if intent.Metadata["correlation"] != "s-7" {
		t.Errorf("correlation metadata = %q", intent.Metadata["correlation"])
	}
	if intent.Metadata["source"] != "scavenger-1" || intent.Source != "scavenger-1" {
		t.Errorf("source = %q / %q", intent.Source, intent.Metadata["source"])
	}
}

func TestTransformShort(t *testing.T) {
	sig := types.IntentSignal{
		SignalID:  "s-8",
		Symbol:    "BTC/USDT",
		Direction: types.DirectionShort,
		EntryZone: types.EntryZone{Min: 61000, Max: 60900}, // reversed on purpose
		StopLoss:  62000,
	}

	intent := Transform(sig, "")

	if intent.Direction != -1 || intent.Type != types.IntentSellSetup {
		t.Errorf("SHORT -> %d/%s", intent.Direction, intent.Type)
	}
	if intent.EntryZone[0] > intent.EntryZone[1] {
		t.Errorf("entry_zone not ordered: %v", intent.EntryZone)
	}
	if intent.EntryZone != [2]float64{60900, 61000} {
		t.Errorf("entry_zone = %v", intent.EntryZone)
	}
}

func TestTransformDefaultsTSignal(t *testing.T) {
	before := time.Now().UnixMilli()
	intent := Transform(types.IntentSignal{
		SignalID:  "s-9",
		Symbol:    "BTC/USDT",
		Direction: types.DirectionLong,
	}, "x")
	after := time.Now().UnixMilli()

	if intent.TSignal < before || intent.TSignal > after {
		t.Errorf("t_signal %d not defaulted to now", intent.TSignal)
	}
	if intent.ReceivedAt == "" {
		t.Error("received_at not stamped")
	}
}

func TestTransformUnknownDirectionFailsValidation(t *testing.T) {
	sig := types.IntentSignal{
		SignalID:    "s-10",
		Symbol:      "BTC/USDT",
		Direction:   "DIAG",
		EntryZone:   types.EntryZone{Min: 1, Max: 2},
		StopLoss:    1,
		TakeProfits: []float64{3},
	}
	intent := Transform(sig, "x")
	if err := ValidateIntent(intent); err == nil {
		t.Error("unknown direction must fail schema validation")
	}
}

func TestValidateIntentAcceptsWellFormed(t *testing.T) {
	intent := Transform(types.IntentSignal{
		SignalID:    "s-11",
		Symbol:      "BTC/USDT",
		Direction:   types.DirectionLong,
		EntryZone:   types.EntryZone{Min: 60000, Max: 60100},
		StopLoss:    59500,
		TakeProfits: []float64{61000, 62000},
	}, "brain")
	if err := ValidateIntent(intent); err != nil {
		t.Errorf("well-formed intent rejected: %v", err)
	}
}

func TestValidateIntentRejectsMissingFields(t *testing.T) {
	intent := Transform(types.IntentSignal{
		SignalID:  "s-12",
		Symbol:    "BTC/USDT",
		Direction: types.DirectionLong,
	}, "brain")
	// No stop loss, no take profits.
	if err := ValidateIntent(intent); err == nil {
		t.Error("intent without stop loss and take profits must fail")
	}
}

func TestFillEstimateMidpoint(t *testing.T) {
	if got := FillEstimate([2]float64{60000, 60100}); got != 60050 {
		t.Errorf("FillEstimate = %v, want 60050", got)
	}
}
