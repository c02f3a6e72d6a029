package fetcher

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
)

// ErrRateLimited marks an HTTP 429 response.
var ErrRateLimited = errors.New("rate limited")

// StatusError reports a non-2xx response that is not a rate limit.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected HTTP status %d", e.Code)
}

// Verdict is the closed set of per-attempt classifications.
type Verdict int

// Verdict values.
const (
	VerdictRetry Verdict = iota
	VerdictSuccess
	VerdictBlocked
)

// Reasons attached to a Classification. They double as log values and metric labels.
const (
	ReasonSuccess     = "success"
	ReasonBlocked     = "blocked"
	ReasonRateLimited = "rate_limited"
	ReasonHTTPStatus  = "http_status"
	ReasonTimeout     = "timeout"
	ReasonTransport   = "transport"
)

// Classification is the result of Classify. Err is set for VerdictRetry.
type Classification struct {
	Verdict Verdict
	Reason  string
	Err     error
}

// BlockDetector flags bodies that contain any of its markers, ignoring case.
type BlockDetector struct {
	markers [][]byte
}

// DefaultBlockMarkers are the phrases that identify a challenge or ban page.
var DefaultBlockMarkers = []string{"captcha", "blocked"}

// NewBlockDetector normalizes and deduplicates markers. Blank markers are dropped.
func NewBlockDetector(markers []string) *BlockDetector {
	lower := make([][]byte, 0, len(markers))
	seen := make(map[string]struct{}, len(markers))
	for _, m := range markers {
		m = strings.ToLower(strings.TrimSpace(m))
		if m == "" {
			continue
		}
		if _, ok := seen[m]; ok {
			continue
		}
		seen[m] = struct{}{}
		lower = append(lower, []byte(m))
	}
	return &BlockDetector{markers: lower}
}

// Blocked reports whether body matches a marker.
func (d *BlockDetector) Blocked(body []byte) bool {
	if d == nil || len(body) == 0 || len(d.markers) == 0 {
		return false
	}
	lowerBody := bytes.ToLower(body)
	for _, m := range d.markers {
		if bytes.Contains(lowerBody, m) {
			return true
		}
	}
	return false
}

// Classify maps the result of one attempt to a verdict. A non-nil err always
// means retry; otherwise the status code and body decide.
func Classify(resp Response, err error, detector *BlockDetector) Classification {
	if err != nil {
		reason := ReasonTransport
		if isTimeout(err) {
			reason = ReasonTimeout
		}
		return Classification{Verdict: VerdictRetry, Reason: reason, Err: err}
	}
	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		if detector.Blocked(resp.Body) {
			return Classification{Verdict: VerdictBlocked, Reason: ReasonBlocked}
		}
		return Classification{Verdict: VerdictSuccess, Reason: ReasonSuccess}
	case resp.StatusCode == http.StatusTooManyRequests:
		return Classification{
			Verdict: VerdictRetry,
			Reason:  ReasonRateLimited,
			Err:     fmt.Errorf("HTTP %d: %w", resp.StatusCode, ErrRateLimited),
		}
	default:
		return Classification{
			Verdict: VerdictRetry,
			Reason:  ReasonHTTPStatus,
			Err:     &StatusError{Code: resp.StatusCode},
		}
	}
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
