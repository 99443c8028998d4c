package service

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"text/template"

	"github.com/go-playground/validator/v10"

	"github.com/dwiprasetyo/job-portal/internal/model"
)

var (
	// ErrTemplateNotFound means no template is registered for the
	// notification type. Permanent: dead-letter, do not retry.
	ErrTemplateNotFound = errors.New("notification template not found")
	// ErrPayloadInvalid means the payload does not satisfy the schema for
	// its type. Permanent as well: a malformed payload never self-heals.
	ErrPayloadInvalid = errors.New("notification payload invalid")
)

// RenderedMessage is what the delivery transport actually sends. A message is
// only produced when the payload validated cleanly, so no partial or garbled
// message ever reaches a recipient.
type RenderedMessage struct {
	Subject string
	Body    string
}

// Payload schemas, one per notification type. Validation runs before
// rendering so schema violations surface as ErrPayloadInvalid instead of a
// broken template execution.

type JobMatchPayload struct {
	CandidateName string  `json:"candidate_name" validate:"required"`
	JobTitle      string  `json:"job_title" validate:"required"`
	CompanyName   string  `json:"company_name"`
	Score         float64 `json:"score" validate:"gte=0,lte=100"`
	JobURL        string  `json:"job_url" validate:"required"`
}

type StatusUpdatePayload struct {
	CandidateName string `json:"candidate_name" validate:"required"`
	JobTitle      string `json:"job_title" validate:"required"`
	NewStatus     string `json:"new_status" validate:"required"`
}

type VerificationPayload struct {
	Name      string `json:"name" validate:"required"`
	VerifyURL string `json:"verify_url" validate:"required"`
}

type ReminderPayload struct {
	Name    string `json:"name" validate:"required"`
	Message string `json:"message" validate:"required"`
}

type templateEntry struct {
	subject *template.Template
	body    *template.Template
	decode  func(raw string) (any, error)
}

type TemplateServiceInterface interface {
	Render(notificationType model.NotificationType, payload string) (*RenderedMessage, error)
}

// TemplateService renders notification messages from type-keyed templates.
type TemplateService struct {
	validate  *validator.Validate
	templates map[model.NotificationType]templateEntry
}

func NewTemplateService() *TemplateService {
	s := &TemplateService{
		validate:  validator.New(),
		templates: make(map[model.NotificationType]templateEntry),
	}

	s.register(model.NotificationJobMatch,
		`New job match: {{.JobTitle}}`,
		`Hi {{.CandidateName}},

Your resume matches the position "{{.JobTitle}}"{{if .CompanyName}} at {{.CompanyName}}{{end}} with a compatibility score of {{printf "%.0f" .Score}}%.

View the posting: {{.JobURL}}`,
		func(raw string) (any, error) { var p JobMatchPayload; return &p, json.Unmarshal([]byte(raw), &p) })

	s.register(model.NotificationStatusUpdate,
		`Application update: {{.JobTitle}}`,
		`Hi {{.CandidateName}},

The status of your application for "{{.JobTitle}}" changed to {{.NewStatus}}.`,
		func(raw string) (any, error) { var p StatusUpdatePayload; return &p, json.Unmarshal([]byte(raw), &p) })

	s.register(model.NotificationVerification,
		`Verify your account`,
		`Hi {{.Name}},

Please verify your account: {{.VerifyURL}}`,
		func(raw string) (any, error) { var p VerificationPayload; return &p, json.Unmarshal([]byte(raw), &p) })

	s.register(model.NotificationReminder,
		`Reminder`,
		`Hi {{.Name}},

{{.Message}}`,
		func(raw string) (any, error) { var p ReminderPayload; return &p, json.Unmarshal([]byte(raw), &p) })

	return s
}

func (s *TemplateService) register(t model.NotificationType, subject, body string, decode func(string) (any, error)) {
	s.templates[t] = templateEntry{
		subject: template.Must(template.New(string(t) + ":subject").Parse(subject)),
		body:    template.Must(template.New(string(t) + ":body").Parse(body)),
		decode:  decode,
	}
}

func (s *TemplateService) Render(notificationType model.NotificationType, payload string) (*RenderedMessage, error) {
	entry, ok := s.templates[notificationType]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrTemplateNotFound, notificationType)
	}

	data, err := entry.decode(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPayloadInvalid, err)
	}
	if err := s.validate.Struct(data); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPayloadInvalid, err)
	}

	var subject, body bytes.Buffer
	if err := entry.subject.Execute(&subject, data); err != nil {
		return nil, fmt.Errorf("%w: render subject: %v", ErrPayloadInvalid, err)
	}
	if err := entry.body.Execute(&body, data); err != nil {
		return nil, fmt.Errorf("%w: render body: %v", ErrPayloadInvalid, err)
	}
	return &RenderedMessage{Subject: subject.String(), Body: body.String()}, nil
}
