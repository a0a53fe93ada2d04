package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFingerprint(t *testing.T) {
	t.Run("valid when both components present", func(t *testing.T) {
		ref := SourceRef{Name: "adzuna", NativeID: "123"}
		assert.True(t, ref.Fingerprint().Valid())
	})

	t.Run("invalid when a component is blank", func(t *testing.T) {
		assert.False(t, SourceRef{Name: "adzuna"}.Fingerprint().Valid())
		assert.False(t, SourceRef{NativeID: "123"}.Fingerprint().Valid())
		assert.False(t, SourceRef{Name: "  ", NativeID: "123"}.Fingerprint().Valid())
	})
}

func TestUpsertJobRequestValidate(t *testing.T) {
	base := func() UpsertJobRequest {
		return UpsertJobRequest{
			Title:   "Backend Engineer",
			Company: "Acme",
			Source:  SourceRef{Name: "adzuna", NativeID: "123"},
		}
	}

	t.Run("valid", func(t *testing.T) {
		req := base()
		assert.NoError(t, req.Validate())
	})

	t.Run("title required", func(t *testing.T) {
		req := base()
		req.Title = " "
		assert.Error(t, req.Validate())
	})

	t.Run("company required", func(t *testing.T) {
		req := base()
		req.Company = ""
		assert.Error(t, req.Validate())
	})

	t.Run("fingerprint required", func(t *testing.T) {
		req := base()
		req.Source.NativeID = ""
		assert.Error(t, req.Validate())
	})
}

func TestApplicationStatusUnmarshalText(t *testing.T) {
	t.Run("normalizes case", func(t *testing.T) {
		var s ApplicationStatus
		assert.NoError(t, s.UnmarshalText([]byte(" Applied ")))
		assert.Equal(t, StatusApplied, s)
	})

	t.Run("rejects unknown status", func(t *testing.T) {
		var s ApplicationStatus
		err := s.UnmarshalText([]byte("ghosted"))
		assert.ErrorContains(t, err, "invalid application status")
	})
}
