package ats

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/jobwell/jobwell-go/internal/core"
	apperrors "github.com/jobwell/jobwell-go/internal/errors"
)

// AgentClientOptions configures the automation agent client.
type AgentClientOptions struct {
	// BaseURL is the agent service root, e.g. http://agent:8090.
	BaseURL    string
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// AgentClient drives submissions through the browser automation agent for
// postings without a programmatic apply path. The agent runs synchronously
// and reports its own permanent/transient verdict; this client trusts that
// verdict and only classifies transport failures itself. Implements
// core.AutomationAgent.
type AgentClient struct {
	baseURL string
	httpc   *http.Client
	logger  *slog.Logger
}

// NewAgentClient creates an automation agent client.
func NewAgentClient(opts AgentClientOptions) (*AgentClient, error) {
	base := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if base == "" {
		return nil, errors.New("agent base URL is required")
	}
	httpc := opts.HTTPClient
	if httpc == nil {
		// Browser runs are slow; give the agent more room than an API call.
		httpc = &http.Client{Timeout: 5 * time.Minute}
	}
	return &AgentClient{baseURL: base, httpc: httpc, logger: opts.Logger}, nil
}

type agentRunBody struct {
	ApplicationID string            `json:"application_id"`
	JobURL        string            `json:"job_url"`
	ATSSystem     string            `json:"ats_system,omitempty"`
	ResumeVersion string            `json:"resume_version,omitempty"`
	Credentials   map[string]string `json:"credentials,omitempty"`
}

type agentRunResult struct {
	Status      string     `json:"status"` // "submitted" or "failed"
	Permanent   bool       `json:"permanent"`
	Message     string     `json:"message"`
	SubmittedAt *time.Time `json:"submitted_at"`
}

// Submit asks the agent to complete one application.
func (c *AgentClient) Submit(
	ctx context.Context,
	req *core.SubmissionRequest,
) (*core.SubmissionReceipt, error) {
	if req == nil || req.Job == nil || req.Application == nil {
		return nil, errors.New("submission request with job and application is required")
	}
	if strings.TrimSpace(req.Job.Source.URL) == "" {
		return nil, apperrors.PermanentUpstreamf(
			"job %s has no posting URL for the automation agent", req.Job.ID)
	}

	body, err := json.Marshal(agentRunBody{
		ApplicationID: req.Application.ID,
		JobURL:        req.Job.Source.URL,
		ATSSystem:     req.Job.ATS.System,
		ResumeVersion: req.Application.ResumeVersion,
		Credentials:   req.Credentials,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal agent run: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(
		ctx, http.MethodPost, c.baseURL+"/runs", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build agent request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpc.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, apperrors.Wrap(err, apperrors.ErrCodeTransientUpstream,
			"automation agent unreachable")
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil && c.logger != nil {
			c.logger.WarnContext(ctx, "close agent response body", "error", cerr)
		}
	}()

	if err := classifyStatus(resp, "automation agent"); err != nil {
		return nil, err
	}

	var result agentRunResult
	if decodeErr := json.NewDecoder(resp.Body).Decode(&result); decodeErr != nil {
		return nil, apperrors.Wrap(decodeErr, apperrors.ErrCodeTransientUpstream,
			"unparseable agent run result")
	}

	switch result.Status {
	case "submitted":
		submittedAt := time.Now().UTC()
		if result.SubmittedAt != nil {
			submittedAt = result.SubmittedAt.UTC()
		}
		return &core.SubmissionReceipt{SubmittedAt: submittedAt, Channel: "automation_agent"}, nil
	case "failed":
		if result.Permanent {
			return nil, apperrors.PermanentUpstreamf("agent run failed: %s", result.Message)
		}
		return nil, apperrors.TransientUpstreamf("agent run failed: %s", result.Message)
	default:
		return nil, apperrors.TransientUpstreamf("agent reported unknown status %q", result.Status)
	}
}
