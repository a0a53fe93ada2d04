// Package sources provides clients for external job posting sources. Each
// client normalizes a source's native payloads into upsert requests; field
// extraction is driven by JMESPath expressions so per-source differences
// live in configuration, not code.
package sources

import (
	"fmt"
	"strings"
	"time"

	jmespath "github.com/jmespath-community/go-jmespath"

	"github.com/jobwell/jobwell-go/internal/domain/model"
)

// Mapping declares the JMESPath expressions that pull normalized fields out
// of one source item. Items addresses the candidate list inside the response
// envelope; the remaining expressions are evaluated against each item.
// Title, Company and NativeID are required; the rest may be empty.
type Mapping struct {
	Items       string
	NativeID    string
	Title       string
	Company     string
	Location    string
	Description string
	URL         string
	PostedAt    string
	SalaryMin   string
	SalaryMax   string
	Currency    string
	Tags        string
}

type compiledMapping struct {
	items       jmespath.JMESPath
	nativeID    jmespath.JMESPath
	title       jmespath.JMESPath
	company     jmespath.JMESPath
	location    jmespath.JMESPath
	description jmespath.JMESPath
	url         jmespath.JMESPath
	postedAt    jmespath.JMESPath
	salaryMin   jmespath.JMESPath
	salaryMax   jmespath.JMESPath
	currency    jmespath.JMESPath
	tags        jmespath.JMESPath
}

func compileMapping(m Mapping) (*compiledMapping, error) {
	cm := &compiledMapping{}
	for _, f := range []struct {
		name string
		expr string
		dst  *jmespath.JMESPath
		req  bool
	}{
		{"items", m.Items, &cm.items, true},
		{"native_id", m.NativeID, &cm.nativeID, true},
		{"title", m.Title, &cm.title, true},
		{"company", m.Company, &cm.company, true},
		{"location", m.Location, &cm.location, false},
		{"description", m.Description, &cm.description, false},
		{"url", m.URL, &cm.url, false},
		{"posted_at", m.PostedAt, &cm.postedAt, false},
		{"salary_min", m.SalaryMin, &cm.salaryMin, false},
		{"salary_max", m.SalaryMax, &cm.salaryMax, false},
		{"currency", m.Currency, &cm.currency, false},
		{"tags", m.Tags, &cm.tags, false},
	} {
		if strings.TrimSpace(f.expr) == "" {
			if f.req {
				return nil, fmt.Errorf("mapping expression %s is required", f.name)
			}
			continue
		}
		compiled, err := jmespath.Compile(f.expr)
		if err != nil {
			return nil, fmt.Errorf("compile %s expression: %w", f.name, err)
		}
		*f.dst = compiled
	}
	return cm, nil
}

// extract maps one raw item into an upsert request. Errors here mean the
// item is malformed for this source, not that the batch failed.
func (cm *compiledMapping) extract(sourceName string, item any) (*model.UpsertJobRequest, error) {
	nativeID, err := requiredString(cm.nativeID, item, "native id")
	if err != nil {
		return nil, err
	}
	title, err := requiredString(cm.title, item, "title")
	if err != nil {
		return nil, err
	}
	company, err := requiredString(cm.company, item, "company")
	if err != nil {
		return nil, err
	}

	req := &model.UpsertJobRequest{
		Title:       title,
		Company:     company,
		Location:    optionalString(cm.location, item),
		Description: optionalString(cm.description, item),
		Source: model.SourceRef{
			Name:     sourceName,
			NativeID: nativeID,
			URL:      optionalString(cm.url, item),
		},
		Salary: model.SalaryRange{
			Min:      optionalFloat(cm.salaryMin, item),
			Max:      optionalFloat(cm.salaryMax, item),
			Currency: optionalString(cm.currency, item),
		},
		Tags: optionalStrings(cm.tags, item),
	}
	if ts := optionalString(cm.postedAt, item); ts != "" {
		if t, perr := parseSourceTime(ts); perr == nil {
			req.PostedAt = &t
		}
	}
	return req, nil
}

func requiredString(p jmespath.JMESPath, item any, field string) (string, error) {
	v, err := p.Search(item)
	if err != nil {
		return "", fmt.Errorf("extract %s: %w", field, err)
	}
	s, ok := v.(string)
	if !ok || strings.TrimSpace(s) == "" {
		return "", fmt.Errorf("missing %s", field)
	}
	return strings.TrimSpace(s), nil
}

func optionalString(p jmespath.JMESPath, item any) string {
	if p == nil {
		return ""
	}
	v, err := p.Search(item)
	if err != nil {
		return ""
	}
	s, _ := v.(string)
	return strings.TrimSpace(s)
}

func optionalFloat(p jmespath.JMESPath, item any) *float64 {
	if p == nil {
		return nil
	}
	v, err := p.Search(item)
	if err != nil {
		return nil
	}
	f, ok := v.(float64)
	if !ok {
		return nil
	}
	return &f
}

func optionalStrings(p jmespath.JMESPath, item any) []string {
	if p == nil {
		return nil
	}
	v, err := p.Search(item)
	if err != nil {
		return nil
	}
	raw, ok := v.([]any)
	if !ok {
		return nil
	}
	var out []string
	for _, e := range raw {
		if s, sok := e.(string); sok && strings.TrimSpace(s) != "" {
			out = append(out, strings.TrimSpace(s))
		}
	}
	return out
}

// Source timestamps vary between full RFC 3339 and date-only forms.
func parseSourceTime(s string) (time.Time, error) {
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
}
