package postwhite

import (
	"bytes"
	"fmt"

	"github.com/emersion/go-message/textproto"
	"github.com/emersion/go-smtp"
)

// Mailer is the outbound SMTP collaborator of §6: plain RFC 5321
// submission to smtp-host:smtp-port. Its failures are logged by the
// caller and never change an already-computed MTA response (§7,
// MailDeliveryError).
type Mailer struct {
	addr string
}

// NewMailer targets addr ("host:port").
func NewMailer(addr string) *Mailer {
	return &Mailer{addr: addr}
}

// Build renders the named template with mail.Data and wraps it in RFC 822
// headers (From/To/Reply-To/Subject/Date/Message-Id), per §4.F. Reply-To
// defaults to From when the mail carries no explicit one.
func Build(templates *Templates, mail *OutgoingMail, from, messageID string, now func() string) ([]byte, error) {
	subject, body, err := templates.Render(mail.Template, mail.Data)
	if err != nil {
		return nil, err
	}

	replyTo := mail.ReplyTo
	if replyTo == "" {
		replyTo = from
	}

	hdr := textproto.Header{}
	hdr.Add("From", from)
	hdr.Add("To", mail.To)
	hdr.Add("Reply-To", replyTo)
	hdr.Add("Subject", subject)
	hdr.Add("Date", now())
	hdr.Add("Message-Id", messageID)
	hdr.Add("Content-Type", "text/plain; charset=utf-8")

	var buf bytes.Buffer
	if err := textproto.WriteHeader(&buf, hdr); err != nil {
		return nil, fmt.Errorf("writing mail headers: %w", err)
	}
	buf.WriteString(body)
	return buf.Bytes(), nil
}

// Send submits msg (a full RFC 822 message, headers included) to to,
// envelope-from from, over plain SMTP.
func (m *Mailer) Send(from, to string, msg []byte) error {
	c, err := smtp.Dial(m.addr)
	if err != nil {
		return &MailDeliveryError{To: to, Err: err}
	}
	defer c.Close()

	if err := c.Mail(from, nil); err != nil {
		return &MailDeliveryError{To: to, Err: err}
	}
	if err := c.Rcpt(to); err != nil {
		return &MailDeliveryError{To: to, Err: err}
	}
	w, err := c.Data()
	if err != nil {
		return &MailDeliveryError{To: to, Err: err}
	}
	if _, err := w.Write(msg); err != nil {
		w.Close()
		return &MailDeliveryError{To: to, Err: err}
	}
	if err := w.Close(); err != nil {
		return &MailDeliveryError{To: to, Err: err}
	}
	return c.Quit()
}
