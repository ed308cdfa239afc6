package notify

import (
	"context"
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/giftshop/internal/domain"
)

// Delivery — запись об отправке, которую хранит LogNotifier.
type Delivery struct {
	Recipient   string
	ProductName string
	Codes       []string
}

// LogNotifier пишет факт доставки в лог с замаскированными кодами.
// Используется в локальной разработке и тестах.
type LogNotifier struct {
	logger *log.Entry

	mu   sync.Mutex
	sent []Delivery
}

// NewLogNotifier создаёт LogNotifier.
func NewLogNotifier(logger *log.Entry) *LogNotifier {
	if logger == nil {
		logger = log.New().WithField("component", "log-notifier")
	}
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) Send(_ context.Context, recipient, productName string, codes []string) error {
	masked := make([]string, len(codes))
	for i, code := range codes {
		masked[i] = domain.MaskCode(code)
	}

	n.mu.Lock()
	n.sent = append(n.sent, Delivery{
		Recipient:   recipient,
		ProductName: productName,
		Codes:       append([]string(nil), codes...),
	})
	n.mu.Unlock()

	n.logger.WithFields(log.Fields{
		"recipient": recipient,
		"product":   productName,
		"codes":     masked,
	}).Info("codes delivered")
	return nil
}

// Sent возвращает копию всех доставок.
func (n *LogNotifier) Sent() []Delivery {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]Delivery(nil), n.sent...)
}

var _ domain.DeliveryNotifier = (*LogNotifier)(nil)
