package sendemail

import (
	"errors"
	"fmt"
	"html"

	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"

	"nftmarket/pkg/faults"
)

var ErrNoRecipient = errors.New("operator email not configured")

type EmailService interface {
	SendEmail(subject, toEmail, plainTextContent, htmlContent string) error
	SendFaultAlert(f faults.Fault) error
}

type emailService struct {
	client        *sendgrid.Client
	senderEmail   string
	senderName    string
	operatorEmail string
}

func NewEmailService(apiKey, senderEmail, senderName, operatorEmail string) EmailService {
	return &emailService{
		client:        sendgrid.NewSendClient(apiKey),
		senderEmail:   senderEmail,
		senderName:    senderName,
		operatorEmail: operatorEmail,
	}
}

func (e *emailService) SendEmail(subject, toEmail, plainTextContent, htmlContent string) error {
	from := mail.NewEmail(e.senderName, e.senderEmail)
	to := mail.NewEmail("", toEmail)
	message := mail.NewSingleEmail(from, subject, to, plainTextContent, htmlContent)
	response, err := e.client.Send(message)
	if err != nil {
		return err
	}
	if response.StatusCode >= 400 {
		return fmt.Errorf("failed to send email: status %d", response.StatusCode)
	}
	return nil
}

// SendFaultAlert mails a consistency fault to the operator.
func (e *emailService) SendFaultAlert(f faults.Fault) error {
	if e.operatorEmail == "" {
		return ErrNoRecipient
	}
	subject, plain, htmlBody := FaultAlertContent(f)
	return e.SendEmail(subject, e.operatorEmail, plain, htmlBody)
}

func FaultAlertContent(f faults.Fault) (subject, plain, htmlBody string) {
	subject = fmt.Sprintf("[nftmarket] %s on asset %d", f.Kind, f.AssetID)
	plain = fmt.Sprintf(
		"A consistency fault needs attention.\n\nKind: %s\nAsset: %d\nToken: %s\nLocal owner: %s\nOn-chain owner: %s\nDetected: %s\n\n%s\n",
		f.Kind, f.AssetID, f.TokenID, f.LocalOwner, f.OnchainOwner, f.DetectedAt.Format("2006-01-02 15:04:05 MST"), f.Detail,
	)
	htmlBody = "<pre>" + html.EscapeString(plain) + "</pre>"
	return subject, plain, htmlBody
}
