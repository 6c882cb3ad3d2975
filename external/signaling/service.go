package signaling

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/pion/webrtc/v4"
)

// SignalingError reports a failed offer/answer exchange: either a non-2xx
// status from the signaling endpoint or a response body that does not parse
// as a session description.
type SignalingError struct {
	Status int
	Body   string
}

func (e *SignalingError) Error() string {
	return fmt.Sprintf("signaling exchange failed: status %d: %s", e.Status, e.Body)
}

// Service talks to the remote signaling endpoint. One Exchange call is one
// complete offer→answer round trip; the service keeps no state between calls.
type Service struct {
	endpoint string
	client   *http.Client
	logger   *slog.Logger
}

func NewService(endpoint string, timeout time.Duration, logger *slog.Logger) *Service {
	return &Service{
		endpoint: endpoint,
		client:   &http.Client{Timeout: timeout},
		logger:   logger,
	}
}

// Exchange POSTs the offer as JSON {sdp, type} and returns the answer from
// the response body. Cancelling ctx aborts the request mid-flight.
func (s *Service) Exchange(ctx context.Context, offer webrtc.SessionDescription) (webrtc.SessionDescription, error) {
	var answer webrtc.SessionDescription

	body, err := json.Marshal(offer)
	if err != nil {
		return answer, fmt.Errorf("encode offer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(body))
	if err != nil {
		return answer, fmt.Errorf("build signaling request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return answer, fmt.Errorf("signaling request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return answer, &SignalingError{
			Status: resp.StatusCode,
			Body:   string(bytes.TrimSpace(raw)),
		}
	}

	if err := json.NewDecoder(resp.Body).Decode(&answer); err != nil {
		return answer, &SignalingError{
			Status: resp.StatusCode,
			Body:   "malformed session description: " + err.Error(),
		}
	}
	if answer.SDP == "" {
		return answer, &SignalingError{
			Status: resp.StatusCode,
			Body:   "response carries no sdp",
		}
	}

	s.logger.Info("answer received from signaling endpoint", "type", answer.Type.String())
	return answer, nil
}
