package ats

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/jobwell/jobwell-go/internal/errors"
)

func TestAgentClient_Submit(t *testing.T) {
	ctx := context.Background()

	t.Run("successful run yields a receipt", func(t *testing.T) {
		submittedAt := time.Date(2025, 5, 2, 11, 0, 0, 0, time.UTC)
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/runs", r.URL.Path)

			var body map[string]any
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			assert.Equal(t, "https://boards.example.com/jobs/778", body["job_url"])
			assert.Equal(t, "greenhouse", body["ats_system"])

			_ = json.NewEncoder(w).Encode(map[string]any{
				"status":       "submitted",
				"submitted_at": submittedAt,
			})
		}))
		defer server.Close()

		client, err := NewAgentClient(AgentClientOptions{BaseURL: server.URL})
		require.NoError(t, err)

		receipt, err := client.Submit(ctx, submissionRequest(false))
		require.NoError(t, err)
		assert.Equal(t, "automation_agent", receipt.Channel)
		assert.True(t, submittedAt.Equal(receipt.SubmittedAt))
	})

	t.Run("honors the agent's permanent verdict", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			_ = json.NewEncoder(w).Encode(map[string]any{
				"status":    "failed",
				"permanent": true,
				"message":   "posting no longer accepts applications",
			})
		}))
		defer server.Close()

		client, err := NewAgentClient(AgentClientOptions{BaseURL: server.URL})
		require.NoError(t, err)
		_, err = client.Submit(ctx, submissionRequest(false))
		require.Error(t, err)
		assert.True(t, apperrors.IsPermanentUpstream(err))
		assert.Contains(t, err.Error(), "no longer accepts")
	})

	t.Run("failed run without verdict is transient", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			_ = json.NewEncoder(w).Encode(map[string]any{
				"status":  "failed",
				"message": "captcha timeout",
			})
		}))
		defer server.Close()

		client, err := NewAgentClient(AgentClientOptions{BaseURL: server.URL})
		require.NoError(t, err)
		_, err = client.Submit(ctx, submissionRequest(false))
		require.Error(t, err)
		assert.True(t, apperrors.IsTransientUpstream(err))
	})

	t.Run("unknown status is transient", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			_ = json.NewEncoder(w).Encode(map[string]any{"status": "maybe"})
		}))
		defer server.Close()

		client, err := NewAgentClient(AgentClientOptions{BaseURL: server.URL})
		require.NoError(t, err)
		_, err = client.Submit(ctx, submissionRequest(false))
		require.Error(t, err)
		assert.True(t, apperrors.IsTransientUpstream(err))
	})

	t.Run("missing posting url is permanent", func(t *testing.T) {
		client, err := NewAgentClient(AgentClientOptions{BaseURL: "http://agent.invalid"})
		require.NoError(t, err)

		req := submissionRequest(false)
		req.Job.Source.URL = ""
		_, err = client.Submit(ctx, req)
		require.Error(t, err)
		assert.True(t, apperrors.IsPermanentUpstream(err))
	})

	t.Run("agent 5xx is transient", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, "agent crashed", http.StatusInternalServerError)
		}))
		defer server.Close()

		client, err := NewAgentClient(AgentClientOptions{BaseURL: server.URL})
		require.NoError(t, err)
		_, err = client.Submit(ctx, submissionRequest(false))
		require.Error(t, err)
		assert.True(t, apperrors.IsTransientUpstream(err))
	})
}
