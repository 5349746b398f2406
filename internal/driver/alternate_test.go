package driver

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"context"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autobolt/runner/internal/interfaces"
	"github.com/autobolt/runner/internal/models"
)

func TestAlternateDriver_Submit_Success(t *testing.T) {
	var gotKey string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get("X-API-Key")
		var req submissionRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "yelp", req.DirectoryID)

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(submissionResponse{Status: "submitted", Message: "ok", FilledFieldsCount: 3})
	}))
	defer server.Close()

	d := NewAlternateDriver(server.URL, "secret-key")
	directory := models.DirectoryDescriptor{DirectoryID: "yelp", RequiresLogin: true}

	result, err := d.Submit(context.Background(), directory, models.BusinessProfile{}, nil, interfaces.SubmitOptions{})
	require.NoError(t, err)
	assert.Equal(t, models.AttemptSubmitted, result.Status)
	assert.Equal(t, 3, result.FilledFieldsCount)
	assert.Equal(t, "secret-key", gotKey)
}

func TestAlternateDriver_Submit_NonOKStatusIsFailedNotError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		w.Write([]byte("upstream unavailable"))
	}))
	defer server.Close()

	d := NewAlternateDriver(server.URL, "secret-key")
	result, err := d.Submit(context.Background(), models.DirectoryDescriptor{DirectoryID: "x"}, models.BusinessProfile{}, nil, interfaces.SubmitOptions{})
	require.NoError(t, err)
	assert.Equal(t, models.AttemptFailed, result.Status)
	assert.Contains(t, result.Message, "502")
}

func TestAlternateDriver_Submit_MalformedBodyIsFailed(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("not json"))
	}))
	defer server.Close()

	d := NewAlternateDriver(server.URL, "secret-key")
	result, err := d.Submit(context.Background(), models.DirectoryDescriptor{DirectoryID: "x"}, models.BusinessProfile{}, nil, interfaces.SubmitOptions{})
	require.NoError(t, err)
	assert.Equal(t, models.AttemptFailed, result.Status)
	assert.Equal(t, "malformed alternate driver response", result.Message)
}

func TestAlternateDriver_Capabilities(t *testing.T) {
	d := NewAlternateDriver("https://example.test", "key")
	caps := d.Capabilities()
	assert.True(t, caps.HandlesLogin)
	assert.True(t, caps.HandlesCaptcha)
}
