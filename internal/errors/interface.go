package errors

// ErrorCode names a failure class. Sensor codes are prefixed "sensor_"
// and control codes "control_"; the API maps codes to HTTP statuses and
// the journal stores them next to each command outcome.
type ErrorCode string

// Error is a coded error. Wrapped causes stay reachable through Unwrap,
// so HasCode finds ErrDeviceUnavailable inside ErrProfilePartiallyApplied.
// Data carries structured context such as the failed channel or fan.
type Error interface {
	error
	Code() ErrorCode
	WithMessage(msg string) Error
	WithData(data any) Error
	GetData() any
	Unwrap() error
}

// Factory builds coded errors. Callers take one per function:
//
//	errFactory := errors.New()
//	return errFactory.Wrap(errors.ErrDeviceUnavailable, err)
type Factory interface {
	New(code ErrorCode) Error
	Wrap(code ErrorCode, err error) Error
	WithMessage(code ErrorCode, msg string) Error
	WithData(code ErrorCode, data any) Error
}
