package gemini

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

var (
	ErrNoCandidates  = errors.New("no candidates in response")
	ErrEmptyResponse = errors.New("empty response text")
)

// APIError is a non-2xx reply from the Gemini API.
type APIError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Status  string `json:"status"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("gemini api error (code %d, status %s): %s", e.Code, e.Status, e.Message)
}

// BlockedError reports a generation suppressed by the safety filters, either
// at prompt level (promptFeedback.blockReason) or on the candidate
// (finishReason SAFETY, PROHIBITED_CONTENT, BLOCKLIST or SPII).
type BlockedError struct {
	Reason  string
	Ratings []SafetyRating
}

func (e *BlockedError) Error() string {
	var b strings.Builder
	b.WriteString("response blocked by safety filters")
	if e.Reason != "" {
		b.WriteString(": ")
		b.WriteString(e.Reason)
	}
	for i, r := range e.Ratings {
		if i == 0 {
			b.WriteString(" (")
		} else {
			b.WriteString(" ")
		}
		fmt.Fprintf(&b, "%s=%s", r.Category, r.Probability)
		if i == len(e.Ratings)-1 {
			b.WriteString(")")
		}
	}
	return b.String()
}

func parseAPIError(statusCode int, status string, body []byte) error {
	var envelope struct {
		Error *APIError `json:"error"`
	}
	if err := json.Unmarshal(body, &envelope); err == nil && envelope.Error != nil {
		if envelope.Error.Code == 0 {
			envelope.Error.Code = statusCode
		}
		return envelope.Error
	}
	return &APIError{
		Code:    statusCode,
		Status:  status,
		Message: strings.TrimSpace(string(body)),
	}
}
