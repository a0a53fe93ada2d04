package sources

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/jobwell/jobwell-go/internal/core"
	"github.com/jobwell/jobwell-go/internal/domain/model"
	apperrors "github.com/jobwell/jobwell-go/internal/errors"
)

const defaultFetchTimeout = 30 * time.Second

// ClientOptions groups dependencies for a REST source client.
type ClientOptions struct {
	// Name identifies the source; it becomes the fingerprint's source name.
	Name string
	// BuildURL renders the request URL for one ingestion page.
	BuildURL func(p model.IngestionPayload) (string, error)
	Mapping  Mapping
	// HTTPClient defaults to one with a 30s timeout.
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// Client fetches postings from one REST source and normalizes them through
// a JMESPath mapping. It implements core.SourceClient.
type Client struct {
	name     string
	buildURL func(p model.IngestionPayload) (string, error)
	mapping  *compiledMapping
	httpc    *http.Client
	logger   *slog.Logger
}

// NewClient constructs a source client, compiling the mapping up front so
// bad expressions fail at startup rather than mid-run.
func NewClient(opts ClientOptions) (*Client, error) {
	if strings.TrimSpace(opts.Name) == "" {
		return nil, errors.New("source name is required")
	}
	if opts.BuildURL == nil {
		return nil, errors.New("BuildURL is required")
	}
	cm, err := compileMapping(opts.Mapping)
	if err != nil {
		return nil, fmt.Errorf("source %s: %w", opts.Name, err)
	}
	httpc := opts.HTTPClient
	if httpc == nil {
		httpc = &http.Client{Timeout: defaultFetchTimeout}
	}
	return &Client{
		name:     opts.Name,
		buildURL: opts.BuildURL,
		mapping:  cm,
		httpc:    httpc,
		logger:   opts.Logger,
	}, nil
}

// Name returns the source identifier.
func (c *Client) Name() string { return c.name }

// Fetch retrieves one page of candidates. Upstream availability problems
// surface as TransientUpstream, request rejections as PermanentUpstream, and
// an unparseable response body as MalformedSource. Individual items that
// fail extraction land in FetchResult.Malformed and never fail the batch.
func (c *Client) Fetch(ctx context.Context, p model.IngestionPayload) (*core.FetchResult, error) {
	u, err := c.buildURL(p)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeValidation, "build source URL")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "jobwell/1.0")

	resp, err := c.httpc.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, apperrors.Wrapf(err, apperrors.ErrCodeTransientUpstream,
			"source %s unreachable", c.name)
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil && c.logger != nil {
			c.logger.WarnContext(ctx, "close response body", "source", c.name, "error", cerr)
		}
	}()

	if resp.StatusCode != http.StatusOK {
		// Drain a bounded amount so the message carries some upstream context.
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		msg := fmt.Sprintf("source %s returned %d: %s", c.name, resp.StatusCode, strings.TrimSpace(string(body)))
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			return nil, apperrors.TransientUpstream(msg)
		}
		return nil, apperrors.PermanentUpstream(msg)
	}

	var envelope any
	if decodeErr := json.NewDecoder(resp.Body).Decode(&envelope); decodeErr != nil {
		return nil, apperrors.Wrapf(decodeErr, apperrors.ErrCodeMalformedSource,
			"source %s returned unparseable body", c.name)
	}

	rawItems, err := c.mapping.items.Search(envelope)
	if err != nil {
		return nil, apperrors.Wrapf(err, apperrors.ErrCodeMalformedSource,
			"source %s: evaluate items expression", c.name)
	}
	items, ok := rawItems.([]any)
	if !ok {
		return nil, apperrors.MalformedSourcef(
			"source %s: items expression did not yield a list", c.name)
	}

	result := &core.FetchResult{}
	for i, item := range items {
		candidate, extractErr := c.mapping.extract(c.name, item)
		if extractErr != nil {
			result.Malformed = append(result.Malformed,
				apperrors.Wrapf(extractErr, apperrors.ErrCodeMalformedSource,
					"source %s item %d", c.name, i))
			continue
		}
		result.Candidates = append(result.Candidates, candidate)
	}
	return result, nil
}
