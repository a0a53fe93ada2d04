// Package ats provides the outbound submission channels: a programmatic
// applicant tracking system adapter and an automation agent client for
// postings with no API apply path. Both report failures through the
// transient/permanent error codes so the submission pipeline can decide
// between retry and giving up.
package ats

import (
	"bytes"
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
	apperrors "github.com/jobwell/jobwell-go/internal/errors"
)

const (
	defaultSubmitTimeout = 60 * time.Second
	maxErrorBodyBytes    = 4 * 1024
)

// HTTPAdapterOptions configures the programmatic ATS adapter.
type HTTPAdapterOptions struct {
	// BaseURL is the ATS apply API root, e.g. https://boards-api.example.com/v1.
	BaseURL string
	// APIKey is sent as a bearer token when set.
	APIKey     string
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// HTTPAdapter submits applications through an ATS apply API. It implements
// core.ATSAdapter.
type HTTPAdapter struct {
	baseURL string
	apiKey  string
	httpc   *http.Client
	logger  *slog.Logger
}

// NewHTTPAdapter creates an ATS adapter for the given API endpoint.
func NewHTTPAdapter(opts HTTPAdapterOptions) (*HTTPAdapter, error) {
	base := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if base == "" {
		return nil, errors.New("ats base URL is required")
	}
	httpc := opts.HTTPClient
	if httpc == nil {
		httpc = &http.Client{Timeout: defaultSubmitTimeout}
	}
	return &HTTPAdapter{
		baseURL: base,
		apiKey:  opts.APIKey,
		httpc:   httpc,
		logger:  opts.Logger,
	}, nil
}

type submitBody struct {
	BoardToken    string            `json:"board_token,omitempty"`
	JobNativeID   string            `json:"job_id"`
	ApplicationID string            `json:"application_id"`
	ResumeVersion string            `json:"resume_version,omitempty"`
	CoverLetter   string            `json:"cover_letter,omitempty"`
	Candidate     map[string]string `json:"candidate,omitempty"`
}

type submitResponse struct {
	SubmittedAt *time.Time `json:"submitted_at"`
	Message     string     `json:"message"`
}

// Submit sends one application to the ATS. A posting whose ATS record does
// not support API apply is a permanent failure here; the pipeline should
// have routed it to the automation agent instead.
func (a *HTTPAdapter) Submit(
	ctx context.Context,
	req *core.SubmissionRequest,
) (*core.SubmissionReceipt, error) {
	if req == nil || req.Job == nil || req.Application == nil {
		return nil, errors.New("submission request with job and application is required")
	}
	if !req.Job.ATS.SupportsAPIApply {
		return nil, apperrors.PermanentUpstreamf(
			"ats %s does not support API apply for job %s", req.Job.ATS.System, req.Job.ID)
	}

	body, err := json.Marshal(submitBody{
		BoardToken:    req.Job.ATS.BoardToken,
		JobNativeID:   req.Job.Source.NativeID,
		ApplicationID: req.Application.ID,
		ResumeVersion: req.Application.ResumeVersion,
		CoverLetter:   req.Application.CoverLetter,
		Candidate:     req.Credentials,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal submission: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(
		ctx, http.MethodPost, a.baseURL+"/applications", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build submission request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if a.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+a.apiKey)
	}

	resp, err := a.httpc.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, apperrors.Wrapf(err, apperrors.ErrCodeTransientUpstream,
			"ats %s unreachable", req.Job.ATS.System)
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil && a.logger != nil {
			a.logger.WarnContext(ctx, "close ats response body", "error", cerr)
		}
	}()

	if err := classifyStatus(resp, "ats "+req.Job.ATS.System); err != nil {
		return nil, err
	}

	var sr submitResponse
	if decodeErr := json.NewDecoder(resp.Body).Decode(&sr); decodeErr != nil {
		// The submission landed; a broken ack body should not trigger a
		// duplicate submission on retry.
		if a.logger != nil {
			a.logger.WarnContext(ctx, "unparseable ats ack body",
				"application_id", req.Application.ID, "error", decodeErr)
		}
	}
	submittedAt := time.Now().UTC()
	if sr.SubmittedAt != nil {
		submittedAt = sr.SubmittedAt.UTC()
	}
	return &core.SubmissionReceipt{SubmittedAt: submittedAt, Channel: "ats_api"}, nil
}

// classifyStatus maps an upstream response to the retry taxonomy: 429 and
// 5xx are worth retrying, other non-2xx codes are not.
func classifyStatus(resp *http.Response, who string) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
	msg := fmt.Sprintf("%s returned %d: %s", who, resp.StatusCode, strings.TrimSpace(string(body)))
	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return apperrors.TransientUpstream(msg)
	}
	return apperrors.PermanentUpstream(msg)
}
