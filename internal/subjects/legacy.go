package subjects

// =============================================================================
// LEGACY NAMESPACE
// =============================================================================
//
// Deprecated subjects retained during the migration window. Each entry names
// its replacement and the published sunset date; dual publication stops and
// the constant is removed once the date passes.

const (
	// LegacyExecutionDlq predates the dlq class. Sunset 2026-10-01.
	LegacyExecutionDlq = "titan.execution.dlq"

	// LegacySignalSubmit is the signal-class spelling of the submit path.
	// The canonical classification is EvtBrainSignalV1. Sunset 2026-10-01.
	LegacySignalSubmit = "titan.signal.submit.v1"

	// LegacyMetricsPrefix predates the data class. Sunset 2026-12-01.
	LegacyMetricsPrefix = "titan.metrics"

	// LegacyConstraintsPrefix predates the data class. Sunset 2026-12-01.
	LegacyConstraintsPrefix = "titan.constraints"
)

// Migrations maps each deprecated subject (or prefix) to its canonical
// replacement. The map is injective: two legacy subjects never collapse onto
// one replacement.
var Migrations = map[string]string{
	LegacyExecutionDlq:      DlqExecutionCore,
	LegacySignalSubmit:      EvtBrainSignalV1,
	LegacyMetricsPrefix:     DataMetricsV1,
	LegacyConstraintsPrefix: DataConstraintsV1,
}

// DualPublishTag selects a canonical/legacy subject pair for types still in
// their migration window.
type DualPublishTag string

const (
	TagMetrics     DualPublishTag = "METRICS"
	TagConstraints DualPublishTag = "CONSTRAINTS"
)

// DualPublish returns the ordered [canonical, legacy] pair for the given tag
// and routing tokens. Publishers write to both until the sunset date.
func DualPublish(tag DualPublishTag, venue, symbol string) ([2]string, bool) {
	sym := NormalizeSymbol(symbol)
	switch tag {
	case TagMetrics:
		return [2]string{
			DataMetrics(venue, symbol),
			LegacyMetricsPrefix + "." + venue + "." + sym,
		}, true
	case TagConstraints:
		return [2]string{
			DataConstraints(venue, symbol),
			LegacyConstraintsPrefix + "." + venue + "." + sym,
		}, true
	}
	return [2]string{}, false
}
