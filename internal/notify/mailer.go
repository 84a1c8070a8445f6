// Пакет notify — отправка уведомлений владельцам продуктов.
// Письма отправляются через SMTP (gomail), тело рендерится
// из встроенного html/template.
package notify

import (
	"bytes"
	"context"
	"embed"
	"fmt"
	"html/template"
	"log/slog"

	"gopkg.in/gomail.v2"

	"github.com/bigkaa/goartstore/depot/internal/domain/model"
)

// RemovalSubject — тема письма об изменении продукта.
const RemovalSubject = "Product change warning."

//go:embed templates/*.html
var templatesFS embed.FS

var removalTemplate = template.Must(template.ParseFS(templatesFS, "templates/removal.html"))

// Dialer отправляет готовые письма. Реализуется *gomail.Dialer.
type Dialer interface {
	DialAndSend(m ...*gomail.Message) error
}

// Mailer — отправка уведомлений по SMTP.
type Mailer struct {
	dialer Dialer
	sender string
	logger *slog.Logger
}

// NewMailer создаёт Mailer поверх SMTP-сервера.
func NewMailer(host string, port int, user, password, sender string, logger *slog.Logger) *Mailer {
	return NewMailerWithDialer(gomail.NewDialer(host, port, user, password), sender, logger)
}

// NewMailerWithDialer создаёт Mailer с заданным Dialer (для тестов).
func NewMailerWithDialer(dialer Dialer, sender string, logger *slog.Logger) *Mailer {
	return &Mailer{
		dialer: dialer,
		sender: sender,
		logger: logger.With(slog.String("component", "mailer")),
	}
}

// NotifyRemoval отправляет письмо об изменении файла продукта.
func (m *Mailer) NotifyRemoval(ctx context.Context, notice model.RemovalNotice) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	body, err := RenderRemoval(notice)
	if err != nil {
		return err
	}

	msg := gomail.NewMessage()
	msg.SetHeader("From", m.sender)
	msg.SetHeader("To", notice.Email)
	msg.SetHeader("Subject", RemovalSubject)
	msg.SetBody("text/html", body)

	if err := m.dialer.DialAndSend(msg); err != nil {
		return fmt.Errorf("ошибка отправки письма: %w", err)
	}

	m.logger.Info("Письмо отправлено", slog.String("to", notice.Email))
	return nil
}

// RenderRemoval рендерит HTML-тело письма об изменении продукта.
func RenderRemoval(notice model.RemovalNotice) (string, error) {
	var buf bytes.Buffer
	if err := removalTemplate.Execute(&buf, notice); err != nil {
		return "", fmt.Errorf("ошибка рендеринга шаблона письма: %w", err)
	}
	return buf.String(), nil
}

// LogNotifier пишет уведомления в лог. Используется, когда SMTP не настроен.
type LogNotifier struct {
	logger *slog.Logger
}

// NewLogNotifier создаёт LogNotifier.
func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger.With(slog.String("component", "log_notifier"))}
}

// NotifyRemoval логирует уведомление вместо отправки.
func (n *LogNotifier) NotifyRemoval(ctx context.Context, notice model.RemovalNotice) error {
	n.logger.WarnContext(ctx, "SMTP не настроен, уведомление не отправлено",
		slog.String("to", notice.Email),
		slog.String("product_name", notice.ProductName),
	)
	return nil
}
