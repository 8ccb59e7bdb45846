package fraud

import "time"

// Severity boundaries on the fused 0-100 risk score
const (
	// RiskCritical is the floor of the critical tier (block and alert)
	RiskCritical = 85.0

	// RiskHigh is the floor of the high tier (flag for review)
	RiskHigh = 70.0

	// RiskMedium is the floor of the medium tier (monitor)
	RiskMedium = 50.0
)

// Alerting
const (
	// AlertingThreshold is the fused score at which an assessment
	// persists a fraud alert
	AlertingThreshold = RiskHigh

	// DescriptionFlagLimit caps how many red flags appear in an alert's
	// free-text description
	DescriptionFlagLimit = 3
)

// Cache configuration
const (
	// DefaultRiskTTL bounds cached per-actor risk scores when no TTL
	// is configured.
	DefaultRiskTTL = 5 * time.Minute
)
