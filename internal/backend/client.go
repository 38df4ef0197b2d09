package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"assessment-session-service/internal/domain"
	"github.com/rs/zerolog/log"
)

// Submission statuses understood by the scoring backend. A plain completion
// carries no status marker.
const (
	StatusForcedEnd = "forced_end"
	StatusAbandoned = "abandoned"
)

// Submission is the shared payload for the store-score and score-zero contracts.
type Submission struct {
	CandidateID int                  `json:"candidate_id"`
	OfferID     int                  `json:"offer_id"`
	TotalScore  int                  `json:"score_total"`
	Questions   []domain.Question    `json:"questions"`
	Answers     []domain.AnswerEntry `json:"answers"`
	Status      string               `json:"status,omitempty"`
	Violations  domain.Violations    `json:"security_violations,omitempty"`
}

// AlreadyCompletedError is the backend's "déjà passé" rejection: the candidate
// already took this assessment through the normal path. Not a failure, a
// first-class terminal outcome.
type AlreadyCompletedError struct {
	Score *int
}

func (e *AlreadyCompletedError) Error() string {
	if e.Score != nil {
		return fmt.Sprintf("assessment already completed with score %d", *e.Score)
	}
	return "assessment already completed"
}

// BlockedError is the backend's cheating-class rejection: the attempt is
// blocked and no questions may be shown.
type BlockedError struct {
	Message string
}

func (e *BlockedError) Error() string {
	return "assessment blocked: " + e.Message
}

// Client talks to the external scoring service over JSON HTTP.
type Client struct {
	baseURL       string
	http          *http.Client
	beaconTimeout time.Duration
}

func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL:       strings.TrimRight(baseURL, "/"),
		http:          &http.Client{Timeout: timeout},
		beaconTimeout: timeout,
	}
}

type generateRequest struct {
	CandidateID int `json:"candidate_id"`
	OfferID     int `json:"offer_id"`
}

type generateResponse struct {
	Questions []domain.Question `json:"questions"`
}

type rejectionResponse struct {
	Error string `json:"error"`
	Score *int   `json:"score"`
}

// GenerateTest asks the backend for a fresh question set. A 403 is classified
// into the duplicate or blocked outcome by its message; anything else is a
// transport or contract error.
func (c *Client) GenerateTest(ctx context.Context, candidateID, offerID int) ([]domain.Question, error) {
	resp, err := c.postJSON(ctx, "/api/generate-test", generateRequest{CandidateID: candidateID, OfferID: offerID})
	if err != nil {
		return nil, fmt.Errorf("generate test: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusForbidden {
		var rejection rejectionResponse
		if err := json.NewDecoder(resp.Body).Decode(&rejection); err != nil {
			return nil, fmt.Errorf("decode rejection: %w", err)
		}
		if strings.Contains(rejection.Error, "triche") {
			return nil, &BlockedError{Message: rejection.Error}
		}
		if strings.Contains(rejection.Error, "déjà passé") {
			return nil, &AlreadyCompletedError{Score: rejection.Score}
		}
		return nil, fmt.Errorf("generate test rejected: %s", rejection.Error)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("generate test: unexpected status %d", resp.StatusCode)
	}

	var payload generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode questions: %w", err)
	}
	if len(payload.Questions) == 0 {
		return nil, domain.ErrNoQuestions
	}
	return payload.Questions, nil
}

// StoreScore records a normal or forced-end submission.
func (c *Client) StoreScore(ctx context.Context, sub Submission) error {
	resp, err := c.postJSON(ctx, "/api/store-score", sub)
	if err != nil {
		return fmt.Errorf("store score: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		var rejection rejectionResponse
		if err := json.NewDecoder(resp.Body).Decode(&rejection); err == nil && rejection.Error != "" {
			return fmt.Errorf("store score rejected: %s", rejection.Error)
		}
		return fmt.Errorf("store score: unexpected status %d", resp.StatusCode)
	}
	return nil
}

// ScoreZero delivers the abandonment beacon. It runs in the background with a
// bounded timeout and no completion callback; the outcome is only logged
// because the caller's page is gone by the time it matters.
func (c *Client) ScoreZero(sub Submission) {
	sub.Status = StatusAbandoned
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), c.beaconTimeout)
		defer cancel()
		resp, err := c.postJSON(ctx, "/api/score-zero", sub)
		if err != nil {
			log.Warn().Err(err).Int("candidate_id", sub.CandidateID).Int("offer_id", sub.OfferID).
				Msg("abandonment beacon not delivered")
			return
		}
		resp.Body.Close()
	}()
}

type ratingRequest struct {
	OfferID     int `json:"offer_id"`
	CandidateID int `json:"candidate_id"`
	Score       int `json:"score"`
}

// RateOffer stores the candidate's post-completion satisfaction rating.
// Independent of the scoring record.
func (c *Client) RateOffer(ctx context.Context, offerID, candidateID, score int) error {
	resp, err := c.postJSON(ctx, "/api/offre-score", ratingRequest{OfferID: offerID, CandidateID: candidateID, Score: score})
	if err != nil {
		return fmt.Errorf("rate offer: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("rate offer: unexpected status %d", resp.StatusCode)
	}
	return nil
}

func (c *Client) postJSON(ctx context.Context, path string, body any) (*http.Response, error) {
	raw, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(raw))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.http.Do(req)
}
