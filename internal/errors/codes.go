package errors

// Common error codes
const (
	// System errors
	ErrInternal        ErrorCode = "internal_error"
	ErrInvalidArgument ErrorCode = "invalid_argument"
	ErrUnavailable     ErrorCode = "service_unavailable"
	ErrAlreadyRunning  ErrorCode = "already_running"

	// Configuration errors
	ErrInvalidConfig   ErrorCode = "invalid_configuration"
	ErrReadConfig      ErrorCode = "read_config_failed"
	ErrBindFlags       ErrorCode = "bind_flags_failed"
	ErrInvalidInterval ErrorCode = "invalid_interval"
	ErrInvalidLogLevel ErrorCode = "invalid_log_level"

	// Initialization errors
	ErrInitFailed     ErrorCode = "initialization_failed"
	ErrShutdownFailed ErrorCode = "shutdown_failed"

	// Sensor errors
	ErrSourceUnavailable     ErrorCode = "sensor_source_unavailable"
	ErrAllSourcesUnavailable ErrorCode = "sensor_all_sources_unavailable"

	// Control errors
	ErrInvalidValue            ErrorCode = "control_invalid_value"
	ErrUnsafeBelowFloor        ErrorCode = "control_unsafe_below_floor"
	ErrDeviceUnavailable       ErrorCode = "control_device_unavailable"
	ErrOverriddenBySafety      ErrorCode = "control_overridden_by_safety"
	ErrProfilePartiallyApplied ErrorCode = "control_profile_partially_applied"
	ErrTimeout                 ErrorCode = "control_timeout"
	ErrUnknownChannel          ErrorCode = "control_unknown_channel"
	ErrUnknownProfile          ErrorCode = "control_unknown_profile"

	// Journal errors
	ErrInitJournal  ErrorCode = "init_journal_failed"
	ErrWriteJournal ErrorCode = "write_journal_failed"
	ErrCloseJournal ErrorCode = "close_journal_failed"
)

// Common error messages
var errorMessages = map[ErrorCode]string{
	ErrInternal:                "Internal error occurred",
	ErrInvalidArgument:         "Invalid argument provided",
	ErrUnavailable:             "Service unavailable",
	ErrAlreadyRunning:          "Another instance is already running",
	ErrInvalidConfig:           "Invalid configuration",
	ErrReadConfig:              "Failed to read configuration",
	ErrBindFlags:               "Failed to bind flags",
	ErrInvalidInterval:         "Invalid interval value",
	ErrInvalidLogLevel:         "Invalid log level",
	ErrInitFailed:              "Initialization failed",
	ErrShutdownFailed:          "Shutdown failed",
	ErrSourceUnavailable:       "Sensor source unavailable",
	ErrAllSourcesUnavailable:   "All sensor sources unavailable",
	ErrInvalidValue:            "Invalid control value",
	ErrUnsafeBelowFloor:        "Fan duty below safe floor near critical temperature",
	ErrDeviceUnavailable:       "Device unavailable",
	ErrOverriddenBySafety:      "Command overridden by thermal safety",
	ErrProfilePartiallyApplied: "Profile partially applied and rolled back",
	ErrTimeout:                 "Hardware write timed out",
	ErrUnknownChannel:          "Unknown control channel",
	ErrUnknownProfile:          "Unknown profile",
	ErrInitJournal:             "Failed to initialize journal",
	ErrWriteJournal:            "Failed to write journal",
	ErrCloseJournal:            "Failed to close journal",
}

// GetErrorMessage returns the message for a given error code
func GetErrorMessage(code ErrorCode) string {
	if msg, ok := errorMessages[code]; ok {
		return msg
	}

	return string(code)
}
