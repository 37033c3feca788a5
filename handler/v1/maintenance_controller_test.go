package v1_test

import (
	"encoding/json"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMaintenanceControllerDeleteFailed(t *testing.T) {
	r, _ := newTestRouter(t)

	w := performRequest(r, http.MethodPost, "/v1/maintenance/failed", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Deleted int `json:"deleted"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, 1, body.Deleted)

	w = performRequest(r, http.MethodGet, "/v1/experiments/2", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	w = performRequest(r, http.MethodGet, "/v1/experiments/1", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestMaintenanceControllerClearImages(t *testing.T) {
	r, _ := newTestRouter(t)

	w := performRequest(r, http.MethodPost, "/v1/maintenance/images/clustering", nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = performRequest(r, http.MethodGet, "/v1/experiments/1/images/curve", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = performRequest(r, http.MethodPost, "/v1/maintenance/images/unknown", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}
