// Package notification delivers action-required notices to customers when a
// fulfillment precondition is missing.
package notification

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"
	"text/template"

	customerdomain "github.com/smallbiznis/entitled/internal/customer/domain"
)

// Payload is the structured notification contract handed to external
// delivery. Templates are rendered with ExtraContext.
type Payload struct {
	SubjectTemplate string            `json:"subject_template"`
	BodyTemplate    string            `json:"body_template"`
	ExtraContext    map[string]string `json:"extra_context"`
}

type Provider interface {
	Send(ctx context.Context, customer *customerdomain.Customer, payload Payload) error
}

type NoOpProvider struct{}

func (NoOpProvider) Send(ctx context.Context, customer *customerdomain.Customer, payload Payload) error {
	return nil
}

type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

type SMTPProvider struct {
	cfg SMTPConfig
}

func NewSMTP(cfg SMTPConfig) *SMTPProvider {
	return &SMTPProvider{cfg: cfg}
}

func (p *SMTPProvider) Send(ctx context.Context, customer *customerdomain.Customer, payload Payload) error {
	_ = ctx
	subject, err := render("subject", payload.SubjectTemplate, payload.ExtraContext)
	if err != nil {
		return err
	}
	body, err := render("body", payload.BodyTemplate, payload.ExtraContext)
	if err != nil {
		return err
	}

	auth := smtp.PlainAuth("", p.cfg.Username, p.cfg.Password, p.cfg.Host)
	addr := fmt.Sprintf("%s:%d", p.cfg.Host, p.cfg.Port)
	msg := []byte(fmt.Sprintf("To: %s\r\nSubject: %s\r\n\r\n%s", customer.Email, subject, body))

	return smtp.SendMail(addr, auth, p.cfg.From, []string{customer.Email}, msg)
}

func render(name, tmpl string, data map[string]string) (string, error) {
	parsed, err := template.New(name).Parse(tmpl)
	if err != nil {
		return "", fmt.Errorf("parse %s template: %w", name, err)
	}
	var out strings.Builder
	if err := parsed.Execute(&out, data); err != nil {
		return "", fmt.Errorf("render %s template: %w", name, err)
	}
	return out.String(), nil
}
