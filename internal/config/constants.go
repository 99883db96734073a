package config

import "time"

type JobStatus string

type JobType string

const (
	QueueFileProcessing = "file-processing"
	QueueSkillGen       = "skill-generation"
	QueueBulkOperations = "bulk-operations"
	QueueAnalytics      = "analytics"
	QueueDiscovery      = "discovery"
)

const (
	JobTypeProcessFile      JobType = "process_file"
	JobTypeGenerateSkill    JobType = "generate_skill"
	JobTypeBulkOperation    JobType = "bulk_operation"
	JobTypeAggregateMetrics JobType = "aggregate_analytics"
	JobTypeDiscoverSources  JobType = "discover_sources"
)

const (
	JobStatusWaiting   JobStatus = "waiting"
	JobStatusActive    JobStatus = "active"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
)

const (
	ConnectionStatusActive   = "active"
	ConnectionStatusInactive = "inactive"
)

// Process-wide job policy defaults. A job may override attempts, backoff and
// retention at enqueue time.
const (
	DefaultMaxAttempts       = 3
	DefaultBackoffBase       = 5 * time.Second
	DefaultRetainCompleted   = 24 * time.Hour
	DefaultRetainFailed      = 7 * 24 * time.Hour
	DefaultKeepCompleted     = 1000
	DefaultQueueConcurrency  = 5
	DefaultQueueRateMax      = 10
	DefaultQueueRateDuration = time.Second
)

var (
	AllowedQueues = []string{
		QueueFileProcessing,
		QueueSkillGen,
		QueueBulkOperations,
		QueueAnalytics,
		QueueDiscovery,
	}

	// QueueJobTypes pins every job type to the queue whose workers handle it.
	QueueJobTypes = map[string][]JobType{
		QueueFileProcessing: {JobTypeProcessFile},
		QueueSkillGen:       {JobTypeGenerateSkill},
		QueueBulkOperations: {JobTypeBulkOperation},
		QueueAnalytics:      {JobTypeAggregateMetrics},
		QueueDiscovery:      {JobTypeDiscoverSources},
	}
)
