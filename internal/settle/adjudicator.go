package settle

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"FightEngine/internal/model"

	"github.com/google/uuid"
)

// AdjudicationRequest is the payload sent to the internal adjudication
// endpoint once a winner has been determined locally.
type AdjudicationRequest struct {
	CompetitionID      uuid.UUID  `json:"competitionId"`
	DeterminedWinnerID *uuid.UUID `json:"determinedWinnerId"`
	IsDraw             bool       `json:"isDraw"`
}

// AdjudicationResponse may override the locally determined outcome,
// e.g. to flag a violation discovered server-side.
type AdjudicationResponse struct {
	Success     bool              `json:"success"`
	FinalStatus model.FightStatus `json:"finalStatus"` // FINISHED or NO_CONTEST
	WinnerID    *uuid.UUID        `json:"winnerId"`
	IsDraw      bool              `json:"isDraw"`
	Violations  []AdjudicatedFoul `json:"violations"`
}

// AdjudicatedFoul is a server-side violation finding returned with the
// adjudication verdict.
type AdjudicatedFoul struct {
	UserID   uuid.UUID   `json:"userId"`
	TradeIDs []uuid.UUID `json:"tradeIds"`
}

// Adjudicator confirms a fight outcome with the external adjudication
// service. Implementations must treat any failure as non-retryable from
// the coordinator's perspective: the caller falls back to NO_CONTEST.
type Adjudicator interface {
	Adjudicate(ctx context.Context, req AdjudicationRequest) (*AdjudicationResponse, error)
}

// HTTPAdjudicator calls POST {base}/internal/adjudicate with a shared
// internal credential.
type HTTPAdjudicator struct {
	baseURL string
	token   string
	http    *http.Client
}

func NewHTTPAdjudicator(baseURL, token string, client *http.Client) *HTTPAdjudicator {
	return &HTTPAdjudicator{baseURL: baseURL, token: token, http: client}
}

func (a *HTTPAdjudicator) Adjudicate(ctx context.Context, req AdjudicationRequest) (*AdjudicationResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal adjudication request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		a.baseURL+"/internal/adjudicate", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("adjudication request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+a.token)

	resp, err := a.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("adjudication call: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("adjudication call: unexpected status %d", resp.StatusCode)
	}

	var decoded AdjudicationResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("decode adjudication response: %w", err)
	}

	if !decoded.Success {
		return nil, fmt.Errorf("adjudication rejected the outcome")
	}

	return &decoded, nil
}
