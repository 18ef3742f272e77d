// Package email sends transactional mail for order and billing events.
package email

import (
	"fmt"
	"log"
	"net/smtp"
	"strings"
)

// Sender delivers one message. Implementations must be safe for concurrent
// use.
type Sender interface {
	Send(to, subject, body string) error
}

// SMTPService sends mail through a plain SMTP relay.
type SMTPService struct {
	host     string
	port     string
	username string
	password string
	from     string
}

func NewSMTPService(host, port, username, password, from string) *SMTPService {
	return &SMTPService{
		host:     host,
		port:     port,
		username: username,
		password: password,
		from:     from,
	}
}

func (s *SMTPService) Send(to, subject, body string) error {
	msg := strings.Join([]string{
		"From: " + s.from,
		"To: " + to,
		"Subject: " + subject,
		"MIME-Version: 1.0",
		"Content-Type: text/plain; charset=\"UTF-8\"",
		"",
		body,
	}, "\r\n")

	var auth smtp.Auth
	if s.username != "" {
		auth = smtp.PlainAuth("", s.username, s.password, s.host)
	}
	addr := s.host + ":" + s.port
	if err := smtp.SendMail(addr, auth, s.from, []string{to}, []byte(msg)); err != nil {
		return fmt.Errorf("failed to send email to %s: %w", to, err)
	}
	return nil
}

// LogSender writes messages to the log instead of sending them, for
// development and tests.
type LogSender struct {
	logger *log.Logger

	Sent []SentMessage
}

// SentMessage is one captured message.
type SentMessage struct {
	To      string
	Subject string
	Body    string
}

func NewLogSender() *LogSender {
	return &LogSender{logger: log.New(log.Writer(), "[Email] ", log.LstdFlags)}
}

func (s *LogSender) Send(to, subject, body string) error {
	s.Sent = append(s.Sent, SentMessage{To: to, Subject: subject, Body: body})
	s.logger.Printf("to=%s subject=%q", to, subject)
	return nil
}
