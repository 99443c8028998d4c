package config

import (
	"os"
	"sync"
	"time"
)

type MailerConfig struct {
	BaseURL string
	APIKey  string
	From    string
	Timeout time.Duration
}

var (
	mailerConfig *MailerConfig
	mailerOnce   sync.Once
)

func LoadMailerConfig() *MailerConfig {
	mailerOnce.Do(func() {
		baseURL := os.Getenv("MAILER_BASE_URL")
		if baseURL == "" {
			baseURL = "https://api.resend.com"
		}
		from := os.Getenv("MAILER_FROM")
		if from == "" {
			from = "no-reply@jobportal.local"
		}
		mailerConfig = &MailerConfig{
			BaseURL: baseURL,
			APIKey:  os.Getenv("MAILER_API_KEY"),
			From:    from,
			Timeout: 15 * time.Second,
		}
	})
	return mailerConfig
}
