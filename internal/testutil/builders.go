// Package testutil provides testing utilities and helpers for the jobwell pipeline.
package testutil

import (
	"time"

	"github.com/jobwell/jobwell-go/internal/domain/model"
)

// JobRequestBuilder provides a fluent interface for building UpsertJobRequest objects for testing.
type JobRequestBuilder struct {
	req *model.UpsertJobRequest
}

// NewJobRequest creates a new JobRequestBuilder with sensible defaults.
func NewJobRequest() *JobRequestBuilder {
	return &JobRequestBuilder{
		req: &model.UpsertJobRequest{
			Title:   "Backend Engineer",
			Company: "Acme Corp",
			Source: model.SourceRef{
				Name:     "adzuna",
				NativeID: "adz-1",
				URL:      "https://example.com/jobs/adz-1",
			},
		},
	}
}

// WithTitle sets the posting title.
func (b *JobRequestBuilder) WithTitle(title string) *JobRequestBuilder {
	b.req.Title = title
	return b
}

// WithCompany sets the posting company.
func (b *JobRequestBuilder) WithCompany(company string) *JobRequestBuilder {
	b.req.Company = company
	return b
}

// WithSource sets the source fingerprint components.
func (b *JobRequestBuilder) WithSource(name, nativeID string) *JobRequestBuilder {
	b.req.Source.Name = name
	b.req.Source.NativeID = nativeID
	return b
}

// WithURL sets the posting URL.
func (b *JobRequestBuilder) WithURL(url string) *JobRequestBuilder {
	b.req.Source.URL = url
	return b
}

// WithLocation sets the posting location.
func (b *JobRequestBuilder) WithLocation(location string) *JobRequestBuilder {
	b.req.Location = location
	return b
}

// WithDescription sets the posting description.
func (b *JobRequestBuilder) WithDescription(description string) *JobRequestBuilder {
	b.req.Description = description
	return b
}

// WithSalary sets the advertised salary band.
func (b *JobRequestBuilder) WithSalary(minimum, maximum float64, currency string) *JobRequestBuilder {
	b.req.Salary = model.SalaryRange{Min: &minimum, Max: &maximum, Currency: currency}
	return b
}

// WithTags sets the posting tags.
func (b *JobRequestBuilder) WithTags(tags ...string) *JobRequestBuilder {
	b.req.Tags = tags
	return b
}

// WithPostedAt sets the source posting timestamp.
func (b *JobRequestBuilder) WithPostedAt(t time.Time) *JobRequestBuilder {
	b.req.PostedAt = &t
	return b
}

// WithAPIApply marks the posting's ATS as supporting programmatic apply.
func (b *JobRequestBuilder) WithAPIApply(system, boardToken string) *JobRequestBuilder {
	b.req.ATS = model.ATSRef{System: system, SupportsAPIApply: true, BoardToken: boardToken}
	return b
}

// Build returns the constructed UpsertJobRequest.
func (b *JobRequestBuilder) Build() *model.UpsertJobRequest {
	return b.req
}

// ApplicationRequestBuilder provides a fluent interface for building CreateApplicationRequest objects.
type ApplicationRequestBuilder struct {
	req *model.CreateApplicationRequest
}

// NewApplicationRequest creates a new ApplicationRequestBuilder with sensible defaults.
// JobID must be set by the caller once the posting exists.
func NewApplicationRequest() *ApplicationRequestBuilder {
	return &ApplicationRequestBuilder{
		req: &model.CreateApplicationRequest{
			UserID:        "user-1",
			ResumeVersion: "v1",
		},
	}
}

// WithUser sets the owning user.
func (b *ApplicationRequestBuilder) WithUser(userID string) *ApplicationRequestBuilder {
	b.req.UserID = userID
	return b
}

// WithJob sets the posting the application targets.
func (b *ApplicationRequestBuilder) WithJob(jobID string) *ApplicationRequestBuilder {
	b.req.JobID = jobID
	return b
}

// WithResumeVersion sets the resume version to submit.
func (b *ApplicationRequestBuilder) WithResumeVersion(version string) *ApplicationRequestBuilder {
	b.req.ResumeVersion = version
	return b
}

// WithCoverLetter sets the cover letter text.
func (b *ApplicationRequestBuilder) WithCoverLetter(text string) *ApplicationRequestBuilder {
	b.req.CoverLetter = text
	return b
}

// WithNotes sets free-form notes.
func (b *ApplicationRequestBuilder) WithNotes(notes string) *ApplicationRequestBuilder {
	b.req.Notes = notes
	return b
}

// Build returns the constructed CreateApplicationRequest.
func (b *ApplicationRequestBuilder) Build() *model.CreateApplicationRequest {
	return b.req
}
