package notify

import (
	"context"
	"fmt"
	"strings"
	"time"

	"golang.org/x/net/html"
	mail "gopkg.in/mail.v2"

	"nse-alerts/internal/config"
	"nse-alerts/internal/security"
)

// mailSender is satisfied by *mail.Dialer.
type mailSender interface {
	DialAndSend(m ...*mail.Message) error
}

// EmailTransport sends messages to mailto: destinations over SMTP.
type EmailTransport struct {
	from     string
	password string
	sender   mailSender
}

// NewEmailTransport creates a new EmailTransport.
func NewEmailTransport(cfg config.EmailConfig, timeout time.Duration) *EmailTransport {
	d := mail.NewDialer(cfg.SMTPHost, cfg.SMTPPort, cfg.Username, cfg.Password)
	if timeout > 0 {
		d.Timeout = timeout
	}
	return &EmailTransport{from: cfg.From, password: cfg.Password, sender: d}
}

// Send mails text to address. The HTML body carries a plain-text
// alternative and the subject is the first line of text.
func (e *EmailTransport) Send(ctx context.Context, address, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m := BuildEmail(e.from, address, text)

	done := make(chan error, 1)
	go func() { done <- e.sender.DialAndSend(m) }()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-done:
		if err != nil {
			return security.RedactError(fmt.Errorf("sending email: %w", err), e.password)
		}
		return nil
	}
}

// BuildEmail composes the message for one recipient.
func BuildEmail(from, to, text string) *mail.Message {
	plain := PlainText(text)

	m := mail.NewMessage()
	m.SetHeader("From", from)
	m.SetHeader("To", to)
	m.SetHeader("Subject", Subject(plain))
	m.SetBody("text/plain", plain)
	m.AddAlternative("text/html", `<html><body><div style="white-space: pre-wrap">`+text+`</div></body></html>`)
	return m
}

// PlainText strips Telegram HTML markup, keeping text and line breaks.
func PlainText(s string) string {
	doc, err := html.Parse(strings.NewReader(s))
	if err != nil {
		return s
	}

	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		switch n.Type {
		case html.TextNode:
			sb.WriteString(n.Data)
		case html.ElementNode:
			if n.Data == "br" {
				sb.WriteByte('\n')
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return strings.TrimSpace(sb.String())
}

// Subject returns the first non-blank line, shortened to 120 characters.
func Subject(plain string) string {
	for _, line := range strings.Split(plain, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if r := []rune(line); len(r) > 120 {
			return string(r[:117]) + "..."
		}
		return line
	}
	return "NSE announcement"
}
