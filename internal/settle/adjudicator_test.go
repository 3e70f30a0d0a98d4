package settle

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"FightEngine/internal/model"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPAdjudicatorSuccess(t *testing.T) {
	fightID := uuid.New()
	winner := uuid.New()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/internal/adjudicate", r.URL.Path)
		assert.Equal(t, "Bearer secret-token", r.Header.Get("Authorization"))

		var req AdjudicationRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, fightID, req.CompetitionID)
		require.NotNil(t, req.DeterminedWinnerID)
		assert.Equal(t, winner, *req.DeterminedWinnerID)

		json.NewEncoder(w).Encode(AdjudicationResponse{
			Success:     true,
			FinalStatus: model.StatusFinished,
			WinnerID:    req.DeterminedWinnerID,
		})
	}))
	defer server.Close()

	adj := NewHTTPAdjudicator(server.URL, "secret-token", server.Client())
	resp, err := adj.Adjudicate(context.Background(), AdjudicationRequest{
		CompetitionID:      fightID,
		DeterminedWinnerID: &winner,
	})

	require.NoError(t, err)
	assert.Equal(t, model.StatusFinished, resp.FinalStatus)
	require.NotNil(t, resp.WinnerID)
	assert.Equal(t, winner, *resp.WinnerID)
}

func TestHTTPAdjudicatorNon2xxIsError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	adj := NewHTTPAdjudicator(server.URL, "tok", server.Client())
	_, err := adj.Adjudicate(context.Background(), AdjudicationRequest{CompetitionID: uuid.New()})
	assert.Error(t, err)
}

func TestHTTPAdjudicatorRejectionIsError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		json.NewEncoder(w).Encode(AdjudicationResponse{Success: false})
	}))
	defer server.Close()

	adj := NewHTTPAdjudicator(server.URL, "tok", server.Client())
	_, err := adj.Adjudicate(context.Background(), AdjudicationRequest{CompetitionID: uuid.New()})
	assert.Error(t, err)
}

func TestHTTPAdjudicatorTimeout(t *testing.T) {
	block := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		<-block
	}))
	defer server.Close()
	defer close(block)

	adj := NewHTTPAdjudicator(server.URL, "tok", &http.Client{Timeout: 50 * time.Millisecond})
	_, err := adj.Adjudicate(context.Background(), AdjudicationRequest{CompetitionID: uuid.New()})
	assert.Error(t, err)
}
