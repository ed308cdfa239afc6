package notify

import (
	"context"
	"encoding/base64"
	"errors"
	"net/smtp"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/giftshop/internal/domain"
)

type capturedMail struct {
	addr string
	from string
	to   []string
	msg  string
}

func newTestNotifier(t *testing.T, send sendMailFunc) *SMTPNotifier {
	t.Helper()
	n, err := NewSMTPNotifier(SMTPConfig{Host: "smtp.example.com", Port: 2525, From: "shop@example.com", FromName: "Giftshop"}, nil)
	require.NoError(t, err)
	n.send = send
	return n
}

func decodeBody(t *testing.T, msg string) string {
	t.Helper()
	parts := strings.SplitN(msg, "\r\n\r\n", 2)
	require.Len(t, parts, 2)
	raw, err := base64.StdEncoding.DecodeString(strings.ReplaceAll(parts[1], "\r\n", ""))
	require.NoError(t, err)
	return string(raw)
}

func TestSMTPNotifier_SendBuildsMessage(t *testing.T) {
	t.Parallel()

	var got capturedMail
	n := newTestNotifier(t, func(addr string, _ smtp.Auth, from string, to []string, msg []byte) error {
		got = capturedMail{addr: addr, from: from, to: to, msg: string(msg)}
		return nil
	})

	err := n.Send(context.Background(), "Buyer <buyer@example.com>", "Steam $50", []string{"AAAA1111", "BBBB2222"})
	require.NoError(t, err)

	require.Equal(t, "smtp.example.com:2525", got.addr)
	require.Equal(t, "shop@example.com", got.from)
	require.Equal(t, []string{"buyer@example.com"}, got.to)
	require.Contains(t, got.msg, "Subject: ")
	require.Contains(t, got.msg, "Content-Type: text/html; charset=UTF-8")

	body := decodeBody(t, got.msg)
	require.Contains(t, body, "AAAA1111")
	require.Contains(t, body, "BBBB2222")
	require.Contains(t, body, "Steam $50")
}

func TestSMTPNotifier_EscapesProductName(t *testing.T) {
	t.Parallel()

	var msg string
	n := newTestNotifier(t, func(_ string, _ smtp.Auth, _ string, _ []string, m []byte) error {
		msg = string(m)
		return nil
	})

	require.NoError(t, n.Send(context.Background(), "buyer@example.com", "<script>x</script>", []string{"CODE"}))
	require.NotContains(t, decodeBody(t, msg), "<script>")
}

func TestSMTPNotifier_Errors(t *testing.T) {
	t.Parallel()

	n := newTestNotifier(t, func(string, smtp.Auth, string, []string, []byte) error {
		return errors.New("421 try later")
	})

	err := n.Send(context.Background(), "buyer@example.com", "Steam", []string{"CODE"})
	require.ErrorIs(t, err, domain.ErrDeliveryFailed)

	err = n.Send(context.Background(), "not-an-email", "Steam", []string{"CODE"})
	require.ErrorIs(t, err, domain.ErrDeliveryFailed)

	err = n.Send(context.Background(), "buyer@example.com", "Steam", nil)
	require.ErrorIs(t, err, domain.ErrDeliveryFailed)
}

func TestSMTPNotifier_ContextCancelled(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	defer close(release)
	n := newTestNotifier(t, func(string, smtp.Auth, string, []string, []byte) error {
		<-release
		return nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := n.Send(ctx, "buyer@example.com", "Steam", []string{"CODE"})
	require.ErrorIs(t, err, domain.ErrDeliveryFailed)
}

func TestNewSMTPNotifier_Validation(t *testing.T) {
	t.Parallel()

	_, err := NewSMTPNotifier(SMTPConfig{From: "shop@example.com"}, nil)
	require.Error(t, err)

	_, err = NewSMTPNotifier(SMTPConfig{Host: "smtp.example.com", From: "bad"}, nil)
	require.Error(t, err)
}

func TestSubject(t *testing.T) {
	t.Parallel()
	require.Equal(t, "Your Gift Card for Xbox - Here's Your Gift Code!", Subject("Xbox"))
}
