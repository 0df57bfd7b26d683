package types

// Telemetry metric names for CloudWatch.
// All components MUST use these constants.
const (
	// Metric Names
	MetricResolveOutcome       = "ResolveOutcome"
	MetricQuotaDecision        = "QuotaDecision"
	MetricCASConflict          = "CASConflict"
	MetricMigrationOutstanding = "MigrationOutstanding"
	MetricMigratedInvoices     = "MigratedInvoices"
	MetricAPILatency           = "APILatency"
	MetricAPIRequestCount      = "APIRequestCount"

	// Dimension Keys
	DimOutcome   = "Outcome"
	DimOperation = "Operation"
	DimEndpoint  = "Endpoint"
	DimMethod    = "Method"
	DimStatus    = "Status"

	// Metric Namespace
	MetricNamespace = "Invoicely"
)

// Outcome values used with DimOutcome.
const (
	OutcomeFresh     = "fresh"
	OutcomeStale     = "stale"
	OutcomeAllowed   = "allowed"
	OutcomeExceeded  = "exceeded"
	OutcomeExhausted = "exhausted"
)
