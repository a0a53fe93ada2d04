package sources

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/jobwell/jobwell-go/internal/domain/model"
)

const defaultAdzunaBaseURL = "https://api.adzuna.com/v1/api/jobs"

// AdzunaOptions configures the Adzuna source client.
type AdzunaOptions struct {
	AppID   string
	AppKey  string
	Country string
	// BaseURL overrides the production API endpoint, mainly for tests.
	BaseURL    string
	HTTPClient *http.Client
}

// adzunaMapping pulls normalized fields out of Adzuna's search response.
// Company and location are nested display_name objects in their schema.
var adzunaMapping = Mapping{
	Items:       "results",
	NativeID:    "id",
	Title:       "title",
	Company:     "company.display_name",
	Location:    "location.display_name",
	Description: "description",
	URL:         "redirect_url",
	PostedAt:    "created",
	SalaryMin:   "salary_min",
	SalaryMax:   "salary_max",
	Tags:        "category.tag && [category.tag]",
}

// NewAdzunaClient constructs a source client for the Adzuna job search API.
func NewAdzunaClient(opts AdzunaOptions) (*Client, error) {
	if opts.AppID == "" || opts.AppKey == "" {
		return nil, errors.New("adzuna app id and app key are required")
	}
	country := strings.ToLower(strings.TrimSpace(opts.Country))
	if country == "" {
		return nil, errors.New("adzuna country code is required")
	}
	base := strings.TrimRight(opts.BaseURL, "/")
	if base == "" {
		base = defaultAdzunaBaseURL
	}

	buildURL := func(p model.IngestionPayload) (string, error) {
		page := p.Page
		if page < 1 {
			page = 1
		}
		perPage := p.PerPage
		if perPage < 1 {
			perPage = 50
		}

		q := url.Values{}
		q.Set("app_id", opts.AppID)
		q.Set("app_key", opts.AppKey)
		q.Set("what", strings.TrimSpace(p.Query))
		q.Set("results_per_page", strconv.Itoa(perPage))
		q.Set("content-type", "application/json")
		if w := strings.TrimSpace(p.Where); w != "" {
			q.Set("where", w)
		}
		return fmt.Sprintf("%s/%s/search/%d?%s", base, country, page, q.Encode()), nil
	}

	return NewClient(ClientOptions{
		Name:       "adzuna",
		BuildURL:   buildURL,
		Mapping:    adzunaMapping,
		HTTPClient: opts.HTTPClient,
	})
}
