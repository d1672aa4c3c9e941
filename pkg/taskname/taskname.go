package taskname

const (
	// License tasks
	LicenseExpirySweep = "license:expiry:sweep"
)

// Queues
const (
	QueueCritical = "critical"
	QueueDefault  = "default"
	QueueLow      = "low"
)
