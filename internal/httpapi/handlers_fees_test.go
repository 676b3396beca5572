package httpapi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/aibtcdev/sponsor-relay/internal/chainclient"
	"github.com/aibtcdev/sponsor-relay/internal/feeservice"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandleFeesReturnsEstimatesAndSource(t *testing.T) {
	fees := feeservice.New(chainclient.NewMock(), zerolog.Nop())
	s := NewServer(nil, nil, fees, nil, nil, nil, "testnet", "", zerolog.Nop())

	rec := httptest.NewRecorder()
	s.HandleFees(rec, httptest.NewRequest(http.MethodGet, "/fees", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	var resp feesResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "hiro", resp.Source)
}
