package domain

import "time"

// File permissions constants
const (
	// DirectoryPermissions is the default permission for directories (rwxr-xr-x)
	DirectoryPermissions = 0o755
	// SecureFilePermissions is the permission for sensitive files (rw-------)
	SecureFilePermissions = 0o600
	// LogFilePermissions is the permission for the audit log (rw-r-----)
	LogFilePermissions = 0o640
)

// Timeout and duration constants
const (
	// DefaultCommandTimeout bounds a single diagnostic command
	DefaultCommandTimeout = 30 * time.Second
	// DefaultModelTimeout bounds a single request to the model server
	DefaultModelTimeout = 60 * time.Second
	// DefaultProbeTimeout bounds the reachability probe against the model server
	DefaultProbeTimeout = 5 * time.Second
	// DefaultKillGrace is how long the executor waits for pipes after killing a process group
	DefaultKillGrace = 2 * time.Second
)

// Limit constants
const (
	// DefaultMaxIterations caps the diagnostic loop
	DefaultMaxIterations = 4
	// DefaultMaxOutputChars bounds captured stdout/stderr per stream
	DefaultMaxOutputChars = 4000
	// DefaultSummaryOutputChars bounds each command output quoted in the summary prompt
	DefaultSummaryOutputChars = 1500
	// DefaultMaxRetries bounds retries of a failed model request
	DefaultMaxRetries = 1
	// DefaultMemoSize is the number of distinct command results remembered within one query
	DefaultMemoSize = 32
)

// History constants
const (
	// DefaultHistoryLimit is the default number of history records to display
	DefaultHistoryLimit = 20
	// DefaultHistorySearchLimit is the default number of search results to return
	DefaultHistorySearchLimit = 50
	// DefaultHistoryRetainDays is the default number of days to retain history
	DefaultHistoryRetainDays = 30
)

// History backends
const (
	HistoryBackendSQLite = "sqlite"
	HistoryBackendBolt   = "bolt"
)

// Model defaults
const (
	DefaultModelName   = "local"
	DefaultModelID     = "mistral:latest"
	DefaultEndpoint    = "http://localhost:11434"
	DefaultTemperature = 0.1
	DefaultTopP        = 0.9
)

// Time formats
const (
	// TimestampFormat is the standard timestamp format
	TimestampFormat = time.RFC3339
)
