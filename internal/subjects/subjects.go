// Package subjects is the single source of truth for every subject the titan
// fabric publishes or subscribes to. Raw subject literals must never appear
// outside this package; components compose subjects through the constants and
// constructors here.
//
// Subject grammar (breaking changes require a new vN suffix):
//
//	titan . (cmd|evt|data|signal|sys|dlq) . {domain} . {action} . v{n}
//	       [. {venue} . {account} . {symbol}]
package subjects

import (
	"fmt"
	"strings"
)

// Root is the fixed first token of every titan subject.
const Root = "titan"

// Class is the second token of a standard subject.
type Class string

const (
	ClassCmd    Class = "cmd"
	ClassEvt    Class = "evt"
	ClassData   Class = "data"
	ClassSignal Class = "signal"
	ClassSys    Class = "sys"
	ClassDlq    Class = "dlq"
)

// Classes enumerates the recognized second-token classes.
var Classes = []Class{ClassCmd, ClassEvt, ClassData, ClassSignal, ClassSys, ClassDlq}

// =============================================================================
// WILDCARDS
// =============================================================================

// Family wildcards: Prefix is the bare prefix, All matches every subject in
// the family.
const (
	CmdPrefix    = "titan.cmd"
	CmdAll       = "titan.cmd.>"
	EvtPrefix    = "titan.evt"
	EvtAll       = "titan.evt.>"
	DataPrefix   = "titan.data"
	DataAll      = "titan.data.>"
	SignalPrefix = "titan.signal"
	SignalAll    = "titan.signal.>"
	SysPrefix    = "titan.sys"
	SysAll       = "titan.sys.>"
	DlqPrefix    = "titan.dlq"
	DlqAll       = "titan.dlq.>"
)

// =============================================================================
// COMMANDS
// =============================================================================

const (
	// CmdExecutionPlaceV1 is the routable order-placement command prefix.
	// Append routing tokens with CmdExecutionPlace.
	CmdExecutionPlaceV1 = "titan.cmd.execution.place.v1"

	// CmdExecutionCancelV1 is the routable order-cancellation command prefix.
	CmdExecutionCancelV1 = "titan.cmd.execution.cancel.v1"

	// CmdExecutionAll covers every execution command for durable filters.
	CmdExecutionAll = "titan.cmd.execution.>"

	// CmdSysHaltV1 halts all trading activity.
	CmdSysHaltV1 = "titan.cmd.sys.halt.v1"

	// CmdSysResumeV1 resumes trading after a halt.
	CmdSysResumeV1 = "titan.cmd.sys.resume.v1"
)

// CmdExecutionPlace returns the order-placement subject routed to
// venue/account/symbol. The symbol is normalized (slashes become
// underscores).
func CmdExecutionPlace(venue, account, symbol string) string {
	return routed(CmdExecutionPlaceV1, venue, account, symbol)
}

// CmdExecutionCancel returns the order-cancellation subject routed to
// venue/account/symbol.
func CmdExecutionCancel(venue, account, symbol string) string {
	return routed(CmdExecutionCancelV1, venue, account, symbol)
}

// =============================================================================
// EVENTS
// =============================================================================

const (
	// EvtBrainSignalV1 carries intent signals submitted to the brain. This is
	// the canonical classification of the submit path; the signal-class
	// spelling survives only in the legacy block.
	EvtBrainSignalV1 = "titan.evt.brain.signal.v1"

	// EvtExecutionOrderPlacedV1 is the routable order-placed event prefix.
	EvtExecutionOrderPlacedV1 = "titan.evt.execution.order_placed.v1"

	// EvtExecutionOrderFilledV1 is the routable order-filled event prefix.
	EvtExecutionOrderFilledV1 = "titan.evt.execution.order_filled.v1"

	// EvtExecutionOrderRejectedV1 is the routable order-rejected event prefix.
	EvtExecutionOrderRejectedV1 = "titan.evt.execution.order_rejected.v1"

	// EvtVenueStatusV1 announces venue connectivity transitions.
	EvtVenueStatusV1 = "titan.evt.venue.status.v1"
)

// EvtExecutionOrderPlaced mirrors the command routing tail so consumers can
// filter per venue.
func EvtExecutionOrderPlaced(venue, account, symbol string) string {
	return routed(EvtExecutionOrderPlacedV1, venue, account, symbol)
}

// EvtExecutionOrderFilled returns the order-filled subject routed to
// venue/account/symbol.
func EvtExecutionOrderFilled(venue, account, symbol string) string {
	return routed(EvtExecutionOrderFilledV1, venue, account, symbol)
}

// EvtExecutionOrderRejected returns the order-rejected subject routed to
// venue/account/symbol.
func EvtExecutionOrderRejected(venue, account, symbol string) string {
	return routed(EvtExecutionOrderRejectedV1, venue, account, symbol)
}

// =============================================================================
// DATA
// =============================================================================

const (
	// DataMetricsV1 is the high-frequency metrics telemetry prefix.
	DataMetricsV1 = "titan.data.metrics.v1"

	// DataConstraintsV1 carries live constraint snapshots.
	DataConstraintsV1 = "titan.data.constraints.v1"

	// DataTradeAnalyticsV1 feeds the trade-analytics consumer.
	DataTradeAnalyticsV1 = "titan.data.trade_analytics.v1"
)

// DataMetrics returns the metrics subject for a venue/symbol pair.
func DataMetrics(venue, symbol string) string {
	return DataMetricsV1 + "." + venue + "." + NormalizeSymbol(symbol)
}

// DataConstraints returns the constraints subject for a venue/symbol pair.
func DataConstraints(venue, symbol string) string {
	return DataConstraintsV1 + "." + venue + "." + NormalizeSymbol(symbol)
}

// =============================================================================
// SYSTEM
// =============================================================================

const (
	// SysHeartbeatV1 is the component liveness beacon.
	SysHeartbeatV1 = "titan.sys.heartbeat.v1"

	// SysPolicyHashV1 announces policy hash rotations.
	SysPolicyHashV1 = "titan.sys.policy_hash.v1"
)

// =============================================================================
// DLQ
// =============================================================================

const (
	// DlqExecutionCore receives intents that failed schema validation on the
	// way to the execution core.
	DlqExecutionCore = "titan.dlq.execution.core"

	// DlqUnknownPrefix prefixes dead letters whose original subject was not
	// under titan.*.
	DlqUnknownPrefix = "titan.dlq.unknown"
)

// Dlq maps an original subject to its dead-letter subject: the titan.* suffix
// is re-rooted under titan.dlq, anything else lands under titan.dlq.unknown.
func Dlq(original string) string {
	if rest, ok := strings.CutPrefix(original, Root+"."); ok {
		return DlqPrefix + "." + rest
	}
	return DlqUnknownPrefix + "." + original
}

// =============================================================================
// REQUEST/REPLY
// =============================================================================

// ReqExecPolicyHashV1 is the policy handshake request subject. Request/reply
// subjects sit outside the six stream classes and are intentionally
// non-standard: nothing durable retains them.
const ReqExecPolicyHashV1 = "titan.req.exec.policy_hash.v1"

// =============================================================================
// VALIDATION AND CONSTRUCTION
// =============================================================================

// IsStandard reports whether the subject starts with the titan root and one
// of the six recognized classes.
func IsStandard(subject string) bool {
	_, ok := ClassOf(subject)
	return ok
}

// ClassOf extracts the class token of a standard subject.
func ClassOf(subject string) (Class, bool) {
	parts := strings.SplitN(subject, ".", 3)
	if len(parts) < 3 || parts[0] != Root {
		return "", false
	}
	for _, c := range Classes {
		if parts[1] == string(c) {
			return c, true
		}
	}
	return "", false
}

// NormalizeSymbol rewrites a market symbol for use as a subject token:
// slashes become underscores (BTC/USDT -> BTC_USDT).
func NormalizeSymbol(symbol string) string {
	return strings.ReplaceAll(symbol, "/", "_")
}

func routed(prefix, venue, account, symbol string) string {
	return fmt.Sprintf("%s.%s.%s.%s", prefix, venue, account, NormalizeSymbol(symbol))
}

// Canonical enumerates every canonical literal subject and one representative
// output per constructor. The catalog test asserts totality over this list.
func Canonical() []string {
	return []string{
		CmdExecutionPlaceV1,
		CmdExecutionCancelV1,
		CmdSysHaltV1,
		CmdSysResumeV1,
		CmdExecutionPlace("auto", "main", "BTC/USDT"),
		CmdExecutionCancel("bybit", "main", "ETH/USDT"),
		EvtBrainSignalV1,
		EvtExecutionOrderPlacedV1,
		EvtExecutionOrderFilledV1,
		EvtExecutionOrderRejectedV1,
		EvtVenueStatusV1,
		EvtExecutionOrderPlaced("auto", "main", "BTC/USDT"),
		EvtExecutionOrderFilled("auto", "main", "BTC/USDT"),
		EvtExecutionOrderRejected("auto", "main", "BTC/USDT"),
		DataMetricsV1,
		DataConstraintsV1,
		DataTradeAnalyticsV1,
		DataMetrics("bybit", "BTC/USDT"),
		DataConstraints("bybit", "BTC/USDT"),
		SysHeartbeatV1,
		SysPolicyHashV1,
		DlqExecutionCore,
		Dlq(CmdExecutionPlaceV1),
	}
}
