// Package mailer sends operator email through SendGrid.
package mailer

import (
	"fmt"

	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
	"go.uber.org/zap"

	"cardops/internal/apperr"
	"cardops/internal/util"
)

// Mailer sends transactional mail to the store operator.
type Mailer struct {
	client    *sendgrid.Client
	fromName  string
	fromEmail string
	toEmail   string
	logger    *zap.Logger
}

// NewMailer builds a SendGrid-backed mailer.
func NewMailer(apiKey, fromName, fromEmail, toEmail string) *Mailer {
	return &Mailer{
		client:    sendgrid.NewSendClient(apiKey),
		fromName:  fromName,
		fromEmail: fromEmail,
		toEmail:   toEmail,
		logger:    util.GetLogger(),
	}
}

// Send delivers one plain-text message to the operator address.
func (m *Mailer) Send(subject, body string) error {
	const op = "mailer.Send"

	from := mail.NewEmail(m.fromName, m.fromEmail)
	to := mail.NewEmail("", m.toEmail)
	message := mail.NewSingleEmail(from, subject, to, body, body)

	resp, err := m.client.Send(message)
	if err != nil {
		return apperr.New(apperr.KindNetwork, op, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return apperr.New(apperr.KindNetwork, op,
			fmt.Errorf("sendgrid returned status %d: %s", resp.StatusCode, resp.Body))
	}

	m.logger.Info("Sent operator email", zap.String("subject", subject))
	return nil
}
