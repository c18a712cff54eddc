package ocr

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/lss53/tencent-table-ocr-batch/constants"
	"github.com/lss53/tencent-table-ocr-batch/internal/entity"
)

const action = "RecognizeTableAccurateOCR"

// Config holds recognition-service client configuration.
type Config struct {
	Endpoint       string
	Region         string
	SecretID       string
	SecretKey      string
	RequestTimeout time.Duration
}

// Client is a stateless adapter around the remote table recognition
// capability. One Recognize call is one outbound request; retries are the
// caller's concern.
type Client struct {
	cfg    Config
	http   *http.Client
	logger *slog.Logger
}

func NewClient(cfg Config, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 30 * time.Second
	}
	return &Client{
		cfg:    cfg,
		http:   &http.Client{Timeout: cfg.RequestTimeout},
		logger: logger,
	}
}

// Recognize sends one image to the service and returns its table rows.
// Failures come back as *RecognitionError carrying the retryable flag;
// anything else is an I/O problem reading the source file.
func (c *Client) Recognize(ctx context.Context, task entity.ImageTask) ([]entity.TableRow, error) {
	reqID := uuid.New().String()
	start := time.Now()

	raw, err := os.ReadFile(task.SourcePath)
	if err != nil {
		return nil, &RecognitionError{
			Code:    "ReadFile",
			Reason:  constants.ReasonReadError,
			Message: err.Error(),
		}
	}

	body, err := json.Marshal(recognizeRequest{
		ImageBase64: base64.StdEncoding.EncodeToString(raw),
	})
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.Endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	c.sign(req, body)

	c.logger.Debug("ocr.request",
		"req_id", reqID,
		"identifier", task.Identifier,
		"content_length", len(body),
	)

	resp, err := c.http.Do(req)
	if err != nil {
		reason := constants.ReasonTransport
		if errors.Is(err, context.DeadlineExceeded) {
			reason = constants.ReasonTimeout
		}
		c.logger.Warn("ocr.send_error",
			"req_id", reqID,
			"identifier", task.Identifier,
			"error", err,
			"elapsed_ms", time.Since(start).Milliseconds(),
		)
		return nil, &RecognitionError{
			Code:      "Transport",
			Reason:    reason,
			Message:   err.Error(),
			Retryable: true,
		}
	}
	defer func(body io.ReadCloser) {
		if err := body.Close(); err != nil {
			c.logger.Warn("ocr.response_body_close_error", "req_id", reqID, "error", err)
		}
	}(resp.Body)

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		c.logger.Warn("ocr.read_body_error",
			"req_id", reqID,
			"identifier", task.Identifier,
			"error", err,
		)
		return nil, &RecognitionError{
			Code:      "Transport",
			Reason:    constants.ReasonTransport,
			Message:   fmt.Sprintf("read response body: %v", err),
			Retryable: true,
		}
	}

	c.logger.Info("ocr.response",
		"req_id", reqID,
		"identifier", task.Identifier,
		"status", resp.StatusCode,
		"bytes", len(payload),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)

	var decoded recognizeResponse
	if err := json.Unmarshal(payload, &decoded); err != nil {
		return nil, &RecognitionError{
			Code:      "DecodeError",
			Reason:    constants.ReasonServiceError,
			Message:   fmt.Sprintf("decode response (status %d): %v", resp.StatusCode, err),
			Retryable: resp.StatusCode/100 == 5,
		}
	}
	if decoded.Response.Error != nil {
		return nil, classifyServiceError(decoded.Response.Error)
	}
	if resp.StatusCode/100 != 2 {
		return nil, &RecognitionError{
			Code:      "HTTP" + strconv.Itoa(resp.StatusCode),
			Reason:    constants.ReasonServiceError,
			Message:   fmt.Sprintf("non-2xx status: %d", resp.StatusCode),
			Retryable: resp.StatusCode/100 == 5 || resp.StatusCode == http.StatusTooManyRequests,
		}
	}

	rows := rowsFromDetections(decoded.Response.TableDetections)
	if len(rows) == 0 {
		return nil, &RecognitionError{
			Code:    "FailedOperation.OcrFailed.NoTable",
			Reason:  constants.ReasonNoTable,
			Message: "no table detected in the response",
		}
	}
	return rows, nil
}

// sign attaches the credential headers. Signature scheme: HMAC-SHA256 of
// timestamp + body digest under the secret key.
func (c *Client) sign(req *http.Request, body []byte) {
	ts := strconv.FormatInt(time.Now().Unix(), 10)
	digest := sha256.Sum256(body)

	mac := hmac.New(sha256.New, []byte(c.cfg.SecretKey))
	mac.Write([]byte(ts))
	mac.Write(digest[:])
	sig := hex.EncodeToString(mac.Sum(nil))

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-TC-Action", action)
	req.Header.Set("X-TC-Region", c.cfg.Region)
	req.Header.Set("X-TC-Timestamp", ts)
	req.Header.Set("Authorization",
		fmt.Sprintf("TC3-HMAC-SHA256 Credential=%s, Signature=%s", c.cfg.SecretID, sig))
}
