// Package notify доставляет купленные коды покупателю.
package notify

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"mime"
	"net"
	"net/mail"
	"net/smtp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/giftshop/internal/domain"
)

// SMTPConfig параметры почтового relay.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	FromName string
	Brand    string
}

// sendMailFunc совпадает с сигнатурой smtp.SendMail.
type sendMailFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// SMTPNotifier отправляет HTML-письмо со всеми кодами заказа.
type SMTPNotifier struct {
	cfg    SMTPConfig
	send   sendMailFunc
	logger *log.Entry
}

// NewSMTPNotifier проверяет конфигурацию и создаёт notifier.
func NewSMTPNotifier(cfg SMTPConfig, logger *log.Entry) (*SMTPNotifier, error) {
	if strings.TrimSpace(cfg.Host) == "" {
		return nil, errors.New("smtp host is required")
	}
	if _, err := mail.ParseAddress(cfg.From); err != nil {
		return nil, fmt.Errorf("smtp from address: %w", err)
	}
	if cfg.Port <= 0 {
		cfg.Port = 587
	}
	if cfg.Brand == "" {
		cfg.Brand = "Giftshop"
	}
	if logger == nil {
		logger = log.New().WithField("component", "smtp-notifier")
	}
	return &SMTPNotifier{cfg: cfg, send: smtp.SendMail, logger: logger}, nil
}

// Send отправляет письмо. net/smtp не принимает context, поэтому отмена ctx
// прекращает ожидание, но не обрывает уже начатую SMTP-сессию.
func (n *SMTPNotifier) Send(ctx context.Context, recipient, productName string, codes []string) error {
	to, err := mail.ParseAddress(recipient)
	if err != nil {
		return fmt.Errorf("%w: invalid recipient: %v", domain.ErrDeliveryFailed, err)
	}
	if len(codes) == 0 {
		return fmt.Errorf("%w: no codes to deliver", domain.ErrDeliveryFailed)
	}

	msg, err := n.buildMessage(to.Address, productName, codes)
	if err != nil {
		return err
	}

	var auth smtp.Auth
	if n.cfg.Username != "" {
		auth = smtp.PlainAuth("", n.cfg.Username, n.cfg.Password, n.cfg.Host)
	}
	addr := net.JoinHostPort(n.cfg.Host, strconv.Itoa(n.cfg.Port))

	done := make(chan error, 1)
	go func() {
		done <- n.send(addr, auth, n.cfg.From, []string{to.Address}, msg)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("%w: %v", domain.ErrDeliveryFailed, ctx.Err())
	case err := <-done:
		if err != nil {
			return fmt.Errorf("%w: smtp: %v", domain.ErrDeliveryFailed, err)
		}
	}

	n.logger.WithFields(log.Fields{
		"recipient": to.Address,
		"product":   productName,
		"codes":     len(codes),
	}).Info("delivery email sent")
	return nil
}

func (n *SMTPNotifier) buildMessage(recipient, productName string, codes []string) ([]byte, error) {
	body, err := renderBody(n.cfg.Brand, productName, codes)
	if err != nil {
		return nil, err
	}

	from := mail.Address{Name: n.cfg.FromName, Address: n.cfg.From}
	headers := []string{
		"From: " + from.String(),
		"To: " + recipient,
		"Subject: " + mime.QEncoding.Encode("utf-8", Subject(productName)),
		"Date: " + time.Now().UTC().Format(time.RFC1123Z),
		"Message-ID: <" + uuid.NewString() + "@" + n.cfg.Host + ">",
		"MIME-Version: 1.0",
		"Content-Type: text/html; charset=UTF-8",
		"Content-Transfer-Encoding: base64",
	}

	var b strings.Builder
	for _, h := range headers {
		b.WriteString(h)
		b.WriteString("\r\n")
	}
	b.WriteString("\r\n")

	encoded := base64.StdEncoding.EncodeToString([]byte(body))
	for len(encoded) > 76 {
		b.WriteString(encoded[:76])
		b.WriteString("\r\n")
		encoded = encoded[76:]
	}
	b.WriteString(encoded)
	b.WriteString("\r\n")

	return []byte(b.String()), nil
}

var _ domain.DeliveryNotifier = (*SMTPNotifier)(nil)
