// Package email sends critical alert notifications through SendGrid
package email

import (
	"context"
	"fmt"
	"strings"

	"wellpipe/config"
	"wellpipe/models"

	"github.com/apex/log"
	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
)

// Sender emails critical alerts to the configured operator addresses
type Sender struct {
	apiKey     string
	fromName   string
	fromEmail  string
	recipients []string
}

// NewSender creates a SendGrid-backed alert notifier. Returns nil when no
// API key or recipients are configured; the dispatcher treats a nil
// notifier as "no email channel".
func NewSender(cfg *config.Config) *Sender {
	if cfg.SendGridAPIKey == "" || cfg.AlertEmails == "" {
		return nil
	}
	var recipients []string
	for _, r := range strings.Split(cfg.AlertEmails, ",") {
		if r = strings.TrimSpace(r); r != "" {
			recipients = append(recipients, r)
		}
	}
	if len(recipients) == 0 {
		return nil
	}
	return &Sender{
		apiKey:     cfg.SendGridAPIKey,
		fromName:   cfg.SendGridFromName,
		fromEmail:  cfg.SendGridFromEmail,
		recipients: recipients,
	}
}

// NotifyAlert emails the alert to every configured recipient. Per-recipient
// failures are logged; the call fails only when nobody could be reached.
func (s *Sender) NotifyAlert(ctx context.Context, a *models.Alert) error {
	log.Infof("Sending alert %d email to %d recipients...", a.ID, len(s.recipients))
	sent := 0
	for _, recipient := range s.recipients {
		if err := s.sendOneEmail(recipient, a); err != nil {
			log.Warnf("Error sending alert email to %s: %v", recipient, err)
			continue
		}
		sent++
	}
	if sent == 0 {
		return fmt.Errorf("failed to deliver alert %d to any recipient", a.ID)
	}
	return nil
}

func (s *Sender) sendOneEmail(recipient string, a *models.Alert) error {
	from := mail.NewEmail(s.fromName, s.fromEmail)
	to := mail.NewEmail(recipient, recipient)
	subject := fmt.Sprintf("[%s] %s", strings.ToUpper(string(a.Severity)), a.Title)

	plainTextContent := a.Description
	htmlContent := fmt.Sprintf("<p><strong>%s</strong></p><p>%s</p>", a.Title, a.Description)
	if a.WellID != nil {
		htmlContent += fmt.Sprintf("<p>Well: %d</p>", *a.WellID)
	}
	if a.Value != nil {
		htmlContent += fmt.Sprintf("<p>Observed value: %.2f</p>", *a.Value)
	}

	message := mail.NewV3Mail()
	message.SetFrom(from)
	message.Subject = subject

	p := mail.NewPersonalization()
	p.AddTos(to)
	message.AddPersonalizations(p)

	message.AddContent(mail.NewContent("text/plain", plainTextContent))
	message.AddContent(mail.NewContent("text/html", htmlContent))

	client := sendgrid.NewSendClient(s.apiKey)
	response, err := client.Send(message)
	if err != nil {
		return err
	}
	if response.StatusCode >= 400 {
		return fmt.Errorf("sendgrid returned status %d", response.StatusCode)
	}
	return nil
}
