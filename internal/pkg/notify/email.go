package notify

import (
	"context"
	"fmt"
	"html"
	"log/slog"
	"strings"
	"time"

	"gopkg.in/gomail.v2"
)

// EmailConfig 邮件告警配置。
type EmailConfig struct {
	SMTPHost  string
	SMTPPort  int
	SMTPUser  string
	SMTPPass  string
	FromEmail string
	ToEmail   string
}

// EmailNotifier 实现邮件告警（Discord 之外的备用渠道）。
type EmailNotifier struct {
	cfg    EmailConfig
	logger *slog.Logger
}

// NewEmailNotifier 创建一个新的邮件通知器。
func NewEmailNotifier(cfg EmailConfig, logger *slog.Logger) *EmailNotifier {
	return &EmailNotifier{
		cfg:    cfg,
		logger: logger,
	}
}

// Error 发送错误告警邮件。
func (n *EmailNotifier) Error(ctx context.Context, message string, err error) {
	n.logger.Error(message, slog.Any("error", err))

	if n.cfg.SMTPHost == "" || n.cfg.SMTPUser == "" || n.cfg.FromEmail == "" {
		n.logger.Warn("email config missing, skip notification")
		return
	}
	if strings.TrimSpace(n.cfg.ToEmail) == "" {
		n.logger.Warn("email recipient empty, skip notification")
		return
	}

	m := gomail.NewMessage()
	m.SetHeader("From", n.cfg.FromEmail)
	m.SetHeader("To", n.cfg.ToEmail)
	m.SetHeader("Subject", "[AutoMinus] scrape failure")
	m.SetBody("text/html", n.buildHTMLBody(message, err))

	d := gomail.NewDialer(n.cfg.SMTPHost, n.cfg.SMTPPort, n.cfg.SMTPUser, n.cfg.SMTPPass)
	if sendErr := d.DialAndSend(m); sendErr != nil {
		n.logger.Warn("send alert email failed", slog.String("error", sendErr.Error()))
		return
	}
	n.logger.Info("alert email sent", slog.String("to", n.cfg.ToEmail))
}

// buildHTMLBody 构造告警邮件正文。
func (n *EmailNotifier) buildHTMLBody(message string, err error) string {
	detail := ""
	if err != nil {
		detail = fmt.Sprintf("<pre>%s</pre>", html.EscapeString(err.Error()))
	}
	return fmt.Sprintf(`
		<h3>%s</h3>
		%s
		<p>%s</p>`,
		html.EscapeString(message),
		detail,
		time.Now().Format(time.RFC3339),
	)
}
