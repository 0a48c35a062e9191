package commands

// AnnotationNoContainer marks commands that run without loading configuration.
const AnnotationNoContainer = "sysadvisor/no-container"

// listTimestampFormat keeps history listings to one line per run.
const listTimestampFormat = "2006-01-02 15:04"

// Error messages
const (
	ErrHistoryStoreUnavailable  = "history is disabled or its store could not be opened"
	ErrDoctorServiceUnavailable = "doctor service unavailable"
)

// Success messages
const (
	MsgConfigurationValid       = "Configuration valid"
	MsgNoDifferencesFromDefault = "No differences from default configuration."
	MsgNoHistoryRecorded        = "No history recorded yet."
)
