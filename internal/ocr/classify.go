package ocr

import (
	"strings"

	"github.com/lss53/tencent-table-ocr-batch/constants"
)

// permanentCodes maps service error codes that must never be retried to
// the reason recorded in the failure report.
var permanentCodes = map[string]string{
	"FailedOperation.ArrearsError":                constants.ReasonQuotaExceeded,
	"FailedOperation.UnOpenError":                 constants.ReasonQuotaExceeded,
	"LimitExceeded.QuotaExceeded":                 constants.ReasonQuotaExceeded,
	"FailedOperation.OcrFailed.InvalidImage":      constants.ReasonInvalidImage,
	"FailedOperation.OcrFailed.TooLarge":          constants.ReasonTooLarge,
	"FailedOperation.OcrFailed.UnsupportedFormat": constants.ReasonUnsupportedFormat,
	"FailedOperation.OcrFailed.LowQuality":        constants.ReasonLowQuality,
	"FailedOperation.OcrFailed.NoText":            constants.ReasonNoText,
	"FailedOperation.OcrFailed.NoTable":           constants.ReasonNoTable,
	"FailedOperation.OcrFailed.ComplexTable":      constants.ReasonComplexTable,
	"FailedOperation.ImageDecodeFailed":           constants.ReasonInvalidImage,
	"FailedOperation.ImageSizeTooSmall":           constants.ReasonInvalidImage,
	"FailedOperation.ImageNoText":                 constants.ReasonNoText,
	"InvalidParameter":                            constants.ReasonInvalidImage,
	"InvalidParameterValue":                       constants.ReasonInvalidImage,
	"MissingParameter":                            constants.ReasonInvalidImage,
}

// guidance carries operator hints into the failure report for the error
// classes where the original service documents a remedy.
var guidance = map[string]string{
	constants.ReasonLowQuality:   "increase resolution and contrast, avoid glare",
	constants.ReasonComplexTable: "simplify the table, avoid nested tables and merged cells",
	constants.ReasonNoText:       "confirm the image contains text and check its orientation",
	constants.ReasonNoTable:      "make sure the table borders are visible",
	constants.ReasonInvalidImage: "re-save the image as standard JPEG or PNG",
}

// classifyServiceError turns a well-formed service error into a
// RecognitionError. Credential errors are fatal; unknown codes are treated
// as transient server trouble and retried.
func classifyServiceError(e *serviceError) *RecognitionError {
	if strings.HasPrefix(e.Code, "AuthFailure") {
		return &RecognitionError{
			Code:    e.Code,
			Reason:  constants.ReasonServiceError,
			Message: e.Message,
			Fatal:   true,
		}
	}
	if reason, ok := permanentCodes[e.Code]; ok {
		msg := e.Message
		if hint, ok := guidance[reason]; ok {
			msg += " | " + hint
		}
		return &RecognitionError{
			Code:    e.Code,
			Reason:  reason,
			Message: msg,
		}
	}
	reason := constants.ReasonServiceError
	if strings.Contains(e.Code, "LimitExceeded") {
		reason = constants.ReasonThrottled
	}
	return &RecognitionError{
		Code:      e.Code,
		Reason:    reason,
		Message:   e.Message,
		Retryable: true,
	}
}
