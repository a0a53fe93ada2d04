package model

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTaskTypeUnmarshalText(t *testing.T) {
	t.Run("normalizes case and whitespace", func(t *testing.T) {
		var tt TaskType
		require.NoError(t, tt.UnmarshalText([]byte("  Ingestion ")))
		assert.Equal(t, TaskTypeIngestion, tt)
	})

	t.Run("rejects unknown type", func(t *testing.T) {
		var tt TaskType
		assert.Error(t, tt.UnmarshalText([]byte("sweeping")))
	})
}

func TestDecodeIngestionPayload(t *testing.T) {
	t.Run("valid", func(t *testing.T) {
		raw := json.RawMessage(`{"source":"adzuna","query":"golang","page":1,"per_page":50}`)
		p, err := DecodeIngestionPayload(raw)
		require.NoError(t, err)
		assert.Equal(t, "adzuna", p.Source)
		assert.Equal(t, "golang", p.Query)
		assert.Equal(t, 50, p.PerPage)
	})

	t.Run("missing source", func(t *testing.T) {
		raw := json.RawMessage(`{"query":"golang","page":1,"per_page":50}`)
		_, err := DecodeIngestionPayload(raw)
		assert.Error(t, err)
	})

	t.Run("page below one", func(t *testing.T) {
		raw := json.RawMessage(`{"source":"adzuna","query":"golang","page":0,"per_page":50}`)
		_, err := DecodeIngestionPayload(raw)
		assert.Error(t, err)
	})

	t.Run("per page above cap", func(t *testing.T) {
		raw := json.RawMessage(`{"source":"adzuna","query":"golang","page":1,"per_page":500}`)
		_, err := DecodeIngestionPayload(raw)
		assert.Error(t, err)
	})

	t.Run("not json", func(t *testing.T) {
		_, err := DecodeIngestionPayload(json.RawMessage(`{`))
		assert.Error(t, err)
	})
}

func TestDecodeSubmissionPayload(t *testing.T) {
	t.Run("valid", func(t *testing.T) {
		raw := json.RawMessage(`{"application_id":"7d444840-9dc0-41a2-8c23-02f23fcc87ee","resume_version":"v2"}`)
		p, err := DecodeSubmissionPayload(raw)
		require.NoError(t, err)
		assert.Equal(t, "7d444840-9dc0-41a2-8c23-02f23fcc87ee", p.ApplicationID)
		assert.Equal(t, "v2", p.ResumeVersion)
	})

	t.Run("application id must be a uuid", func(t *testing.T) {
		raw := json.RawMessage(`{"application_id":"app-1"}`)
		_, err := DecodeSubmissionPayload(raw)
		assert.Error(t, err)
	})

	t.Run("missing application id", func(t *testing.T) {
		raw := json.RawMessage(`{"resume_version":"v2"}`)
		_, err := DecodeSubmissionPayload(raw)
		assert.Error(t, err)
	})
}

func TestEnqueueTaskRequestValidate(t *testing.T) {
	validIngestion := json.RawMessage(`{"source":"adzuna","query":"golang","page":1,"per_page":50}`)

	t.Run("valid ingestion request", func(t *testing.T) {
		req := EnqueueTaskRequest{Type: TaskTypeIngestion, Payload: validIngestion}
		assert.NoError(t, req.Validate())
	})

	t.Run("payload must match task type", func(t *testing.T) {
		req := EnqueueTaskRequest{Type: TaskTypeSubmission, Payload: validIngestion}
		assert.Error(t, req.Validate())
	})

	t.Run("invalid type", func(t *testing.T) {
		req := EnqueueTaskRequest{Type: TaskType("sweeping"), Payload: validIngestion}
		assert.Error(t, req.Validate())
	})

	t.Run("empty payload", func(t *testing.T) {
		req := EnqueueTaskRequest{Type: TaskTypeIngestion}
		assert.Error(t, req.Validate())
	})

	t.Run("negative max attempts", func(t *testing.T) {
		req := EnqueueTaskRequest{Type: TaskTypeIngestion, Payload: validIngestion, MaxAttempts: -1}
		assert.Error(t, req.Validate())
	})
}
