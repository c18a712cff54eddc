package constants

// Failure reason codes recorded for terminal recognition failures.
const (
	ReasonTooLarge          = "TooLarge"
	ReasonInvalidImage      = "InvalidImage"
	ReasonUnsupportedFormat = "UnsupportedFormat"
	ReasonLowQuality        = "LowQuality"
	ReasonNoText            = "NoText"
	ReasonNoTable           = "NoTable"
	ReasonComplexTable      = "ComplexTable"
	ReasonQuotaExceeded     = "QuotaExceeded"
	ReasonThrottled         = "Throttled"
	ReasonTransport         = "Transport"
	ReasonTimeout           = "Timeout"
	ReasonServiceError      = "ServiceError"
	ReasonReadError         = "ReadError"
)
