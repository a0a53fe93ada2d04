package sources

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jobwell/jobwell-go/internal/core"
	"github.com/jobwell/jobwell-go/internal/domain/model"
	apperrors "github.com/jobwell/jobwell-go/internal/errors"
)

type staticClient struct{ name string }

func (c *staticClient) Name() string { return c.name }

func (c *staticClient) Fetch(context.Context, model.IngestionPayload) (*core.FetchResult, error) {
	return &core.FetchResult{}, nil
}

func TestRegistry(t *testing.T) {
	reg := NewRegistry()

	require.NoError(t, reg.Register(&staticClient{name: "adzuna"}))
	require.NoError(t, reg.Register(&staticClient{name: "greenhouse"}))

	t.Run("rejects duplicate names", func(t *testing.T) {
		err := reg.Register(&staticClient{name: "adzuna"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "already registered")
	})

	t.Run("resolves registered sources", func(t *testing.T) {
		client, err := reg.Get("greenhouse")
		require.NoError(t, err)
		assert.Equal(t, "greenhouse", client.Name())
	})

	t.Run("unknown source is permanent", func(t *testing.T) {
		_, err := reg.Get("linkedin")
		require.Error(t, err)
		assert.True(t, apperrors.IsPermanentUpstream(err))
	})

	t.Run("names are sorted", func(t *testing.T) {
		assert.Equal(t, []string{"adzuna", "greenhouse"}, reg.Names())
	})
}
