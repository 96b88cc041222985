// Package notify рассылает уведомления о смене состояния заказа после фиксации транзакции.
// Доставка асинхронная: сервис не ждёт публикации и не зависит от её успеха.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/mmeshcher/remittance-ledger/internal/metrics"
	"github.com/mmeshcher/remittance-ledger/internal/model"
)

// EventStateChanged: тип события смены состояния заказа.
const EventStateChanged = "remittance.state_changed"

// Event: уведомление о зафиксированном переходе заказа.
type Event struct {
	ID           uuid.UUID   `json:"id"`
	Type         string      `json:"type"`
	RemittanceID int64       `json:"remittance_id"`
	TrackingCode string      `json:"tracking_code"`
	From         model.State `json:"from,omitempty"`
	To           model.State `json:"to"`
	OccurredAt   time.Time   `json:"occurred_at"`
}

// NewStateChanged формирует событие для заказа, перешедшего из from в текущее состояние.
func NewStateChanged(r *model.Remittance, from model.State, at time.Time) Event {
	return Event{
		ID:           uuid.New(),
		Type:         EventStateChanged,
		RemittanceID: r.ID,
		TrackingCode: r.TrackingCode,
		From:         from,
		To:           r.State,
		OccurredAt:   at,
	}
}

// Publisher доставляет событие во внешний канал.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
	Close() error
}

// Dispatcher буферизует события и публикует их в отдельной горутине.
type Dispatcher struct {
	events    chan Event
	publisher Publisher
	logger    *zap.Logger
	metrics   *metrics.Metrics
}

// NewDispatcher создаёт диспетчер с буфером на buffer событий.
func NewDispatcher(publisher Publisher, buffer int, logger *zap.Logger, m *metrics.Metrics) *Dispatcher {
	if buffer <= 0 {
		buffer = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		events:    make(chan Event, buffer),
		publisher: publisher,
		logger:    logger,
		metrics:   m,
	}
}

// Notify ставит событие в очередь и не блокируется. При переполненном буфере событие
// отбрасывается с предупреждением.
func (d *Dispatcher) Notify(e Event) {
	if d == nil {
		return
	}
	select {
	case d.events <- e:
	default:
		d.metrics.IncNotification("dropped")
		d.logger.Warn("notification dropped, buffer full",
			zap.String("event_id", e.ID.String()),
			zap.Int64("remittance_id", e.RemittanceID),
			zap.String("to", string(e.To)),
		)
	}
}

// Run публикует события до отмены ctx, затем дописывает накопленные за drainTimeout.
func (d *Dispatcher) Run(ctx context.Context) error {
	for {
		select {
		case e := <-d.events:
			d.publish(ctx, e)
		case <-ctx.Done():
			d.drain()
			return nil
		}
	}
}

const drainTimeout = 5 * time.Second

func (d *Dispatcher) drain() {
	ctx, cancel := context.WithTimeout(context.Background(), drainTimeout)
	defer cancel()

	for {
		select {
		case e := <-d.events:
			d.publish(ctx, e)
		default:
			return
		}
	}
}

func (d *Dispatcher) publish(ctx context.Context, e Event) {
	if err := d.publisher.Publish(ctx, e); err != nil {
		d.metrics.IncNotification("failed")
		d.logger.Error("notification publish failed",
			zap.String("event_id", e.ID.String()),
			zap.Int64("remittance_id", e.RemittanceID),
			zap.Error(err),
		)
		return
	}
	d.metrics.IncNotification("published")
}

// LogPublisher пишет события в лог. Используется, когда брокер не настроен.
type LogPublisher struct {
	logger *zap.Logger
}

// NewLogPublisher создаёт публикатор в лог.
func NewLogPublisher(logger *zap.Logger) *LogPublisher {
	return &LogPublisher{logger: logger}
}

func (p *LogPublisher) Publish(_ context.Context, e Event) error {
	p.logger.Info("remittance state changed",
		zap.String("event_id", e.ID.String()),
		zap.Int64("remittance_id", e.RemittanceID),
		zap.String("tracking_code", e.TrackingCode),
		zap.String("from", string(e.From)),
		zap.String("to", string(e.To)),
	)
	return nil
}

func (p *LogPublisher) Close() error { return nil }

// KafkaPublisher публикует события в топик Kafka; ключом сообщения служит код отслеживания,
// поэтому события одного заказа попадают в одну партицию по порядку.
type KafkaPublisher struct {
	writer *kafka.Writer
}

// NewKafkaPublisher создаёт публикатор для списка брокеров и топика.
func NewKafkaPublisher(brokers []string, topic string) (*KafkaPublisher, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("kafka publisher: brokers are required")
	}
	if topic == "" {
		return nil, fmt.Errorf("kafka publisher: topic is required")
	}
	return &KafkaPublisher{
		writer: &kafka.Writer{
			Addr:                   kafka.TCP(brokers...),
			Topic:                  topic,
			Balancer:               &kafka.Hash{},
			RequiredAcks:           kafka.RequireOne,
			AllowAutoTopicCreation: true,
		},
	}, nil
}

func (p *KafkaPublisher) Publish(ctx context.Context, e Event) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	msg := kafka.Message{
		Key:   []byte(e.TrackingCode),
		Value: data,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(e.Type)},
		},
		Time: e.OccurredAt,
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("write kafka message: %w", err)
	}
	return nil
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}
