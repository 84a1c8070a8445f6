package notify

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"gopkg.in/gomail.v2"

	"github.com/bigkaa/goartstore/depot/internal/domain/model"
)

// fakeDialer — мок Dialer с сохранением отправленных писем.
type fakeDialer struct {
	sent []*gomail.Message
	err  error
}

func (d *fakeDialer) DialAndSend(m ...*gomail.Message) error {
	if d.err != nil {
		return d.err
	}
	d.sent = append(d.sent, m...)
	return nil
}

func testNotice() model.RemovalNotice {
	return model.RemovalNotice{
		Email:       "owner@example.com",
		ProductName: "Widget <Pro>",
		ProductLink: "https://example.com/widget",
	}
}

func TestRenderRemoval(t *testing.T) {
	body, err := RenderRemoval(testNotice())
	if err != nil {
		t.Fatalf("RenderRemoval: %v", err)
	}

	if !strings.Contains(body, `href="https://example.com/widget"`) {
		t.Error("в письме нет ссылки на продукт")
	}
	// html/template экранирует имя продукта
	if !strings.Contains(body, "Widget &lt;Pro&gt;") {
		t.Errorf("имя продукта не экранировано: %s", body)
	}
}

func TestMailer_NotifyRemoval(t *testing.T) {
	dialer := &fakeDialer{}
	m := NewMailerWithDialer(dialer, "noreply@depot.local", slog.New(slog.DiscardHandler))

	if err := m.NotifyRemoval(context.Background(), testNotice()); err != nil {
		t.Fatalf("NotifyRemoval: %v", err)
	}
	if len(dialer.sent) != 1 {
		t.Fatalf("отправлено писем: %d, ожидается 1", len(dialer.sent))
	}

	msg := dialer.sent[0]
	if got := msg.GetHeader("To"); len(got) != 1 || got[0] != "owner@example.com" {
		t.Errorf("To = %v", got)
	}
	if got := msg.GetHeader("From"); len(got) != 1 || got[0] != "noreply@depot.local" {
		t.Errorf("From = %v", got)
	}
	if got := msg.GetHeader("Subject"); len(got) != 1 || got[0] != RemovalSubject {
		t.Errorf("Subject = %v", got)
	}

	var raw bytes.Buffer
	if _, err := msg.WriteTo(&raw); err != nil {
		t.Fatalf("WriteTo: %v", err)
	}
	if !strings.Contains(raw.String(), "text/html") {
		t.Error("письмо должно быть в формате text/html")
	}
}

func TestMailer_DialError(t *testing.T) {
	errDial := errors.New("smtp недоступен")
	m := NewMailerWithDialer(&fakeDialer{err: errDial}, "noreply@depot.local", slog.New(slog.DiscardHandler))

	err := m.NotifyRemoval(context.Background(), testNotice())
	if !errors.Is(err, errDial) {
		t.Errorf("ошибка = %v, ожидается обёрнутая %v", err, errDial)
	}
}

func TestMailer_CanceledContext(t *testing.T) {
	dialer := &fakeDialer{}
	m := NewMailerWithDialer(dialer, "noreply@depot.local", slog.New(slog.DiscardHandler))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := m.NotifyRemoval(ctx, testNotice()); !errors.Is(err, context.Canceled) {
		t.Errorf("ошибка = %v, ожидается context.Canceled", err)
	}
	if len(dialer.sent) != 0 {
		t.Error("письмо не должно отправляться при отменённом контексте")
	}
}

func TestLogNotifier(t *testing.T) {
	var buf bytes.Buffer
	n := NewLogNotifier(slog.New(slog.NewTextHandler(&buf, nil)))

	if err := n.NotifyRemoval(context.Background(), testNotice()); err != nil {
		t.Fatalf("NotifyRemoval: %v", err)
	}
	if !strings.Contains(buf.String(), "owner@example.com") {
		t.Errorf("в логе нет адреса получателя: %s", buf.String())
	}
}
