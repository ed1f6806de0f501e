package publisher

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// DefaultLinkedInEndpoint is the UGC Posts endpoint of the LinkedIn API.
const DefaultLinkedInEndpoint = "https://api.linkedin.com/v2/ugcPosts"

// restliVersion is required on every LinkedIn REST call.
const restliVersion = "2.0.0"

// LinkedIn publishes posts through the LinkedIn UGC Posts API.
type LinkedIn struct {
	endpoint string
	client   *http.Client
	logger   *slog.Logger
}

// LinkedInOption configures the LinkedIn adapter.
type LinkedInOption func(*LinkedIn)

// WithEndpoint overrides the API endpoint (used in tests).
func WithEndpoint(url string) LinkedInOption {
	return func(l *LinkedIn) { l.endpoint = url }
}

// WithHTTPClient sets the HTTP client used for publish calls.
func WithHTTPClient(c *http.Client) LinkedInOption {
	return func(l *LinkedIn) { l.client = c }
}

// WithLogger sets the logger for the adapter.
func WithLogger(logger *slog.Logger) LinkedInOption {
	return func(l *LinkedIn) { l.logger = logger }
}

// NewLinkedIn creates a LinkedIn publisher adapter.
func NewLinkedIn(opts ...LinkedInOption) *LinkedIn {
	l := &LinkedIn{
		endpoint: DefaultLinkedInEndpoint,
		client:   &http.Client{Timeout: 30 * time.Second},
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// ugcPost is the UGC Posts request body. Field names follow the
// com.linkedin.ugc schema.
type ugcPost struct {
	Author          string                    `json:"author"`
	LifecycleState  string                    `json:"lifecycleState"`
	SpecificContent map[string]ugcShare       `json:"specificContent"`
	Visibility      map[string]ugcVisibility  `json:"visibility"`
}

type ugcShare struct {
	ShareCommentary    ugcText `json:"shareCommentary"`
	ShareMediaCategory string  `json:"shareMediaCategory"`
}

type ugcText struct {
	Text string `json:"text"`
}

type ugcVisibility string

type ugcResponse struct {
	ID string `json:"id"`
}

// Publish posts the content as the credential's member and returns the
// platform-assigned post ID. Failures are classified per the engine's
// taxonomy: transport faults and 429/5xx are retryable, 401/403 are
// fatal auth, other 4xx are fatal content.
func (l *LinkedIn) Publish(ctx context.Context, req Request) (*Result, error) {
	if req.AuthorURN == "" {
		return nil, &FatalError{Kind: FatalAuth, Reason: "missing author identity"}
	}

	body := ugcPost{
		Author:         req.AuthorURN,
		LifecycleState: "PUBLISHED",
		SpecificContent: map[string]ugcShare{
			"com.linkedin.ugc.ShareContent": {
				ShareCommentary:    ugcText{Text: req.ContentText},
				ShareMediaCategory: "NONE",
			},
		},
		Visibility: map[string]ugcVisibility{
			"com.linkedin.ugc.MemberNetworkVisibility": "PUBLIC",
		},
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("publisher: marshal ugc post: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, l.endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("publisher: build request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+req.AuthorToken)
	httpReq.Header.Set("X-Restli-Protocol-Version", restliVersion)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := l.client.Do(httpReq)
	if err != nil {
		// Deadline and transport faults are the retryable class.
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, &RetryableError{Reason: "publish call timed out"}
		}
		return nil, &RetryableError{Reason: err.Error()}
	}
	defer resp.Body.Close()

	// Cap error body reads; LinkedIn error payloads are small.
	raw, readErr := io.ReadAll(io.LimitReader(resp.Body, 64<<10))

	if classErr := Classify(resp.StatusCode, errorReason(raw)); classErr != nil {
		l.logger.Debug("publish rejected",
			slog.Int("status", resp.StatusCode),
			slog.String("error", classErr.Error()),
		)
		return nil, classErr
	}

	if readErr != nil {
		return nil, &RetryableError{Reason: "read response: " + readErr.Error()}
	}

	var out ugcResponse
	if decErr := json.Unmarshal(raw, &out); decErr != nil {
		return nil, &RetryableError{Reason: "decode response: " + decErr.Error()}
	}

	return &Result{ExternalID: out.ID}, nil
}

// errorReason extracts the platform's error message from a response
// body, falling back to the raw body.
func errorReason(raw []byte) string {
	var e struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(raw, &e); err == nil && e.Message != "" {
		return e.Message
	}
	if len(raw) > 0 {
		return string(raw)
	}
	return "no response body"
}
