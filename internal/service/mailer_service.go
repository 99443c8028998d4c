package service

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/tidwall/gjson"

	"github.com/dwiprasetyo/job-portal/internal/config"
)

// TransportError reports a delivery failure. Temporary errors go through the
// backoff path; permanent ones dead-letter the job immediately.
type TransportError struct {
	StatusCode int
	Temporary  bool
	Cause      error
}

func (e *TransportError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("delivery transport: %v", e.Cause)
	}
	return fmt.Sprintf("delivery transport: provider returned %d", e.StatusCode)
}

func (e *TransportError) Unwrap() error { return e.Cause }

// IsTemporaryTransportError reports whether err is a transport error worth
// retrying. Anything that is not a TransportError is not the transport's
// fault and the caller decides.
func IsTemporaryTransportError(err error) bool {
	te, ok := err.(*TransportError)
	return ok && te.Temporary
}

type MailerServiceInterface interface {
	Send(ctx context.Context, recipient string, msg RenderedMessage) (string, error)
}

// MailerService delivers rendered messages through an HTTP email provider.
type MailerService struct {
	client *resty.Client
	from   string
}

func NewMailerService() *MailerService {
	mailerConfig := config.LoadMailerConfig()
	client := resty.New().
		SetBaseURL(mailerConfig.BaseURL).
		SetAuthToken(mailerConfig.APIKey).
		SetTimeout(mailerConfig.Timeout).
		SetHeader("Content-Type", "application/json")

	return &MailerService{client: client, from: mailerConfig.From}
}

// Send posts the message to the provider and returns the provider message id
// used to correlate open/click callbacks later.
func (s *MailerService) Send(ctx context.Context, recipient string, msg RenderedMessage) (string, error) {
	resp, err := s.client.R().
		SetContext(ctx).
		SetBody(map[string]any{
			"from":    s.from,
			"to":      []string{recipient},
			"subject": msg.Subject,
			"html":    msg.Body,
		}).
		Post("/emails")
	if err != nil {
		// network error or client timeout, always worth retrying
		return "", &TransportError{Temporary: true, Cause: err}
	}

	code := resp.StatusCode()
	switch {
	case code >= 200 && code < 300:
		messageID := gjson.GetBytes(resp.Body(), "id").String()
		if messageID == "" {
			messageID = fmt.Sprintf("unknown-%d", time.Now().UnixNano())
		}
		return messageID, nil
	case code == 429 || code >= 500:
		return "", &TransportError{StatusCode: code, Temporary: true}
	default:
		return "", &TransportError{StatusCode: code, Temporary: false}
	}
}
