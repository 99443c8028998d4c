package service

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dwiprasetyo/job-portal/internal/model"
)

func TestRender_JobMatch(t *testing.T) {
	s := NewTemplateService()
	payload, err := json.Marshal(JobMatchPayload{
		CandidateName: "Ana",
		JobTitle:      "Backend Engineer",
		CompanyName:   "Acme",
		Score:         87.5,
		JobURL:        "https://jobs.example.com/jobs/abc",
	})
	require.NoError(t, err)

	msg, err := s.Render(model.NotificationJobMatch, string(payload))
	require.NoError(t, err)
	assert.Equal(t, `New job match: Backend Engineer`, msg.Subject)
	assert.Contains(t, msg.Body, "Hi Ana,")
	assert.Contains(t, msg.Body, `at Acme`)
	assert.Contains(t, msg.Body, "88%") // score rounds for display
	assert.Contains(t, msg.Body, "https://jobs.example.com/jobs/abc")
}

func TestRender_JobMatchWithoutCompany(t *testing.T) {
	s := NewTemplateService()
	payload, err := json.Marshal(JobMatchPayload{
		CandidateName: "Ana",
		JobTitle:      "Backend Engineer",
		Score:         60,
		JobURL:        "https://jobs.example.com/jobs/abc",
	})
	require.NoError(t, err)

	msg, err := s.Render(model.NotificationJobMatch, string(payload))
	require.NoError(t, err)
	assert.NotContains(t, msg.Body, " at ", "company clause must be omitted when empty")
}

func TestRender_AllRegisteredTypes(t *testing.T) {
	s := NewTemplateService()
	cases := map[model.NotificationType]string{
		model.NotificationStatusUpdate: `{"candidate_name":"Ana","job_title":"Backend Engineer","new_status":"interview"}`,
		model.NotificationVerification: `{"name":"Ana","verify_url":"https://example.com/verify/tok"}`,
		model.NotificationReminder:     `{"name":"Ana","message":"Your application is waiting"}`,
	}
	for typ, payload := range cases {
		msg, err := s.Render(typ, payload)
		require.NoError(t, err, "type %s", typ)
		assert.NotEmpty(t, msg.Subject)
		assert.Contains(t, msg.Body, "Ana")
	}
}

func TestRender_UnknownType(t *testing.T) {
	s := NewTemplateService()
	_, err := s.Render(model.NotificationType("push"), `{}`)
	assert.ErrorIs(t, err, ErrTemplateNotFound)
}

func TestRender_InvalidPayload(t *testing.T) {
	s := NewTemplateService()
	cases := []struct {
		name    string
		payload string
	}{
		{"not json", `not json at all`},
		{"missing required fields", `{"candidate_name":"Ana"}`},
		{"score out of range", `{"candidate_name":"Ana","job_title":"X","score":140,"job_url":"https://x"}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := s.Render(model.NotificationJobMatch, tc.payload)
			assert.ErrorIs(t, err, ErrPayloadInvalid)
		})
	}
}
