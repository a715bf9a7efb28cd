// Package email sends notification mail via SMTP.
package email

import (
	"bytes"
	"fmt"
	"html/template"
	"mime"
	"net/smtp"
	"strings"
)

type Config struct {
	Host     string
	Port     string
	Username string
	Password string
	From     string
	FromName string
}

type sendFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// Service provides email sending.
type Service struct {
	config Config
	server string
	auth   smtp.Auth
	send   sendFunc
}

func NewService(config Config) *Service {
	var auth smtp.Auth
	if config.Username != "" {
		auth = smtp.PlainAuth("", config.Username, config.Password, config.Host)
	}
	return &Service{
		config: config,
		server: config.Host + ":" + config.Port,
		auth:   auth,
		send:   smtp.SendMail,
	}
}

// IsConfigured returns true if email is configured.
func (s *Service) IsConfigured() bool {
	return s != nil && s.config.Host != "" && s.config.Port != "" && s.config.From != ""
}

// SendHTMLEmail sends a multipart/alternative message with a plain text part.
func (s *Service) SendHTMLEmail(to []string, subject, textBody, htmlBody string) error {
	if !s.IsConfigured() {
		return fmt.Errorf("email not configured")
	}

	from := s.config.From
	if s.config.FromName != "" {
		from = fmt.Sprintf("%s <%s>", mime.QEncoding.Encode("utf-8", s.config.FromName), s.config.From)
	}
	boundary := "boundary-teamulate"

	var msg bytes.Buffer
	fmt.Fprintf(&msg, "To: %s\r\n", strings.Join(to, ", "))
	fmt.Fprintf(&msg, "From: %s\r\n", from)
	fmt.Fprintf(&msg, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", subject))
	fmt.Fprintf(&msg, "MIME-Version: 1.0\r\n")
	fmt.Fprintf(&msg, "Content-Type: multipart/alternative; boundary=\"%s\"\r\n\r\n", boundary)

	fmt.Fprintf(&msg, "--%s\r\n", boundary)
	fmt.Fprintf(&msg, "Content-Type: text/plain; charset=UTF-8\r\n\r\n")
	fmt.Fprintf(&msg, "%s\r\n\r\n", textBody)

	fmt.Fprintf(&msg, "--%s\r\n", boundary)
	fmt.Fprintf(&msg, "Content-Type: text/html; charset=UTF-8\r\n\r\n")
	fmt.Fprintf(&msg, "%s\r\n\r\n", htmlBody)
	fmt.Fprintf(&msg, "--%s--\r\n", boundary)

	return s.send(s.server, s.auth, s.config.From, to, msg.Bytes())
}

// InviteData fills the member invitation template.
type InviteData struct {
	AppName     string
	UserName    string
	InviterName string
	ProjectName string
}

// SendMemberInvite tells a user they were added to a project.
func (s *Service) SendMemberInvite(to string, data InviteData) error {
	if data.AppName == "" {
		data.AppName = "Teamulate"
	}
	html, err := renderTemplate(inviteTemplate, data)
	if err != nil {
		return fmt.Errorf("render invite template: %w", err)
	}
	subject := fmt.Sprintf("%s added you to %s", data.InviterName, data.ProjectName)
	text := fmt.Sprintf("Hi %s,\r\n\r\n%s added you to the project \"%s\" on %s.",
		data.UserName, data.InviterName, data.ProjectName, data.AppName)
	return s.SendHTMLEmail([]string{to}, subject, text, html)
}

func renderTemplate(tmpl *template.Template, data any) (string, error) {
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

var inviteTemplate = template.Must(template.New("invite").Parse(`<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
    <title>You were added to {{.ProjectName}}</title>
    <style>
        body { font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif; line-height: 1.6; color: #333; max-width: 600px; margin: 0 auto; padding: 20px; }
        .header { border-bottom: 2px solid #0066cc; padding-bottom: 10px; margin-bottom: 20px; }
        .footer { margin-top: 30px; padding-top: 20px; border-top: 1px solid #eee; font-size: 12px; color: #666; }
    </style>
</head>
<body>
    <div class="header">
        <h1>{{.AppName}}</h1>
    </div>

    <p>Hi {{.UserName}},</p>

    <p><strong>{{.InviterName}}</strong> added you to the project <strong>{{.ProjectName}}</strong>.
    Its tasks, files and activity are now visible in your project list.</p>

    <div class="footer">
        <p>You received this because a project owner invited you on {{.AppName}}.</p>
    </div>
</body>
</html>`))
