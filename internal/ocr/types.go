package ocr

import "fmt"

// recognizeRequest is the wire request: raw image bytes, base64-encoded.
type recognizeRequest struct {
	ImageBase64 string `json:"ImageBase64"`
}

// tableCell is one detected cell. Row/Col bounds are half-open service
// coordinates; Tl marks the top-left corner of the (possibly merged) cell.
type tableCell struct {
	RowTl int    `json:"RowTl"`
	ColTl int    `json:"ColTl"`
	RowBr int    `json:"RowBr"`
	ColBr int    `json:"ColBr"`
	Text  string `json:"Text"`
}

type tableDetection struct {
	Cells []tableCell `json:"Cells"`
}

type serviceError struct {
	Code    string `json:"Code"`
	Message string `json:"Message"`
}

// recognizeResponse is the wire response envelope.
type recognizeResponse struct {
	Response struct {
		RequestID       string           `json:"RequestId"`
		TableDetections []tableDetection `json:"TableDetections"`
		Error           *serviceError    `json:"Error"`
	} `json:"Response"`
}

// RecognitionError is a typed failure from one recognition attempt. The
// dispatcher uses Retryable to drive the bounded retry loop; Fatal marks
// credential-class errors that abort the whole run.
type RecognitionError struct {
	Code      string
	Reason    string
	Message   string
	Retryable bool
	Fatal     bool
}

func (e *RecognitionError) Error() string {
	return fmt.Sprintf("recognition failed [%s]: %s", e.Code, e.Message)
}
