package notify

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"log/slog"
	"strings"

	"housingworkshop/internal/config"
	"housingworkshop/internal/pkg/metrics"

	"gopkg.in/gomail.v2"
)

const accessSubject = "Your Workshop Access Link"

var accessTemplate = template.Must(template.New("access").Parse(`<!DOCTYPE html>
<html>
<body style="font-family: Arial, sans-serif;">
  <div style="max-width: 600px; margin: 0 auto;">
    <h1 style="color: #333;">Welcome to the Workshop!</h1>
    <p>Hi {{.Name}},</p>
    <p>Thank you for signing up for our workshop. You can now access all the learning materials.</p>
    <div style="text-align: center; margin: 30px 0;">
      <a href="{{.WorkshopURL}}" style="background-color: #007bff; color: white; padding: 12px 24px; text-decoration: none; border-radius: 5px; display: inline-block;">Start Learning</a>
    </div>
    {{- if .SetupURL}}
    <p>To log in later, <a href="{{.SetupURL}}">choose a password</a>. This link works once and expires in 72 hours.</p>
    {{- end}}
    <p>Your access will remain active for 90 days.</p>
    <p>Best regards,<br>The Workshop Team</p>
  </div>
</body>
</html>`))

// EmailNotifier 通过 SMTP 发送访问邮件；SMTP 未配置时只记录日志。
type EmailNotifier struct {
	cfg    *config.EmailConfig
	logger *slog.Logger
	send   func(*gomail.Message) error
}

// NewEmailNotifier 创建一个新的邮件通知器。
func NewEmailNotifier(cfg *config.EmailConfig, logger *slog.Logger) *EmailNotifier {
	n := &EmailNotifier{
		cfg:    cfg,
		logger: logger,
	}
	n.send = func(m *gomail.Message) error {
		d := gomail.NewDialer(n.cfg.SMTPHost, n.cfg.SMTPPort, n.cfg.SMTPUser, n.cfg.SMTPPass)
		return d.DialAndSend(m)
	}
	return n
}

func (n *EmailNotifier) configured() bool {
	return n.cfg.SMTPHost != "" && n.cfg.SMTPUser != "" && n.cfg.FromEmail != ""
}

// SendAccessEmail 发送注册访问邮件。
func (n *EmailNotifier) SendAccessEmail(ctx context.Context, msg AccessEmail) error {
	if strings.TrimSpace(msg.To) == "" {
		return fmt.Errorf("empty recipient")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if !n.configured() {
		n.logger.Info("email config missing, access email logged only",
			slog.String("to", msg.To),
			slog.String("workshop_url", msg.WorkshopURL))
		metrics.EmailsTotal.WithLabelValues("skipped").Inc()
		return nil
	}

	var body bytes.Buffer
	if err := accessTemplate.Execute(&body, msg); err != nil {
		return fmt.Errorf("render access email: %w", err)
	}

	m := gomail.NewMessage()
	m.SetHeader("From", n.cfg.FromEmail)
	m.SetHeader("To", msg.To)
	m.SetHeader("Subject", accessSubject)
	m.SetBody("text/html", body.String())

	if err := n.send(m); err != nil {
		metrics.EmailsTotal.WithLabelValues("failed").Inc()
		return fmt.Errorf("send email: %w", err)
	}

	metrics.EmailsTotal.WithLabelValues("sent").Inc()
	n.logger.Info("access email sent", slog.String("to", msg.To))
	return nil
}
