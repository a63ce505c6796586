package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"

	"github.com/sentiric/sentiric-receptionist-service/internal/constants"
)

const (
	ExchangeName      = "telephony_events"
	ReceptionistQueue = "receptionist.telephony.events"
	connectAttempts   = 10
	connectRetryDelay = 5 * time.Second
)

// consumedRoutingKeys, resepsiyonistin dinlediği telefon olaylarıdır. Kendi yayınladığı
// call.* olayları kuyruğa geri gelmez.
var consumedRoutingKeys = []constants.EventType{
	constants.EventTypeCallInbound,
	constants.EventTypeCallStatus,
	constants.EventTypeRecordingReady,
	constants.EventTypeRedirectOutcome,
	constants.EventTypeMessageStatus,
	constants.EventTypeSMSReceived,
}

// channel, Publisher'ın amqp kanalından kullandığı kısımdır.
type channel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp091.Publishing) error
}

type Publisher struct {
	ch  channel
	log zerolog.Logger
}

func NewPublisher(ch *amqp091.Channel, log zerolog.Logger) *Publisher {
	return &Publisher{ch: ch, log: log}
}

func (p *Publisher) PublishJSON(ctx context.Context, routingKey string, body interface{}) error {
	jsonBody, err := json.Marshal(body)
	if err != nil {
		p.log.Error().Err(err).Msg("Mesaj JSON'a çevrilemedi.")
		return err
	}

	p.log.Debug().Str("routing_key", routingKey).Bytes("payload", jsonBody).Msg("RabbitMQ'ya olay yayınlanıyor...")

	err = p.ch.PublishWithContext(
		ctx,
		ExchangeName,
		routingKey,
		false,
		false,
		amqp091.Publishing{
			ContentType:  "application/json",
			Body:         jsonBody,
			DeliveryMode: amqp091.Persistent,
			Timestamp:    time.Now().UTC(),
		},
	)
	if err != nil {
		p.log.Error().Err(err).Str("routing_key", routingKey).Msg("RabbitMQ'ya mesaj yayınlanamadı.")
		return err
	}
	return nil
}

func Connect(ctx context.Context, url string, log zerolog.Logger) (*amqp091.Connection, *amqp091.Channel, <-chan *amqp091.Error, error) {
	var conn *amqp091.Connection
	var err error

	config := amqp091.Config{
		Heartbeat: 60 * time.Second,
		Locale:    "en_US",
	}

	for i := 0; i < connectAttempts; i++ {
		select {
		case <-ctx.Done():
			return nil, nil, nil, ctx.Err()
		default:
		}

		conn, err = amqp091.DialConfig(url, config)
		if err == nil {
			log.Info().Msg("RabbitMQ bağlantısı başarılı.")
			ch, chErr := conn.Channel()
			if chErr != nil {
				_ = conn.Close()
				return nil, nil, nil, fmt.Errorf("RabbitMQ kanalı oluşturulamadı: %w", chErr)
			}
			if err := DeclareExchange(ch); err != nil {
				_ = conn.Close()
				return nil, nil, nil, err
			}
			closeChan := make(chan *amqp091.Error, 1)
			conn.NotifyClose(closeChan)
			return conn, ch, closeChan, nil
		}
		log.Warn().Err(err).Int("attempt", i+1).Int("max_attempts", connectAttempts).Msg("RabbitMQ'ya bağlanılamadı, 5 saniye sonra tekrar denenecek...")

		select {
		case <-time.After(connectRetryDelay):
		case <-ctx.Done():
			return nil, nil, nil, ctx.Err()
		}
	}
	return nil, nil, nil, fmt.Errorf("maksimum deneme (%d) sonrası RabbitMQ'ya bağlanılamadı: %w", connectAttempts, err)
}

// DeclareExchange, olay exchange'ini kalıcı topic olarak tanımlar.
func DeclareExchange(ch *amqp091.Channel) error {
	if err := ch.ExchangeDeclare(ExchangeName, "topic", true, false, false, false, nil); err != nil {
		return fmt.Errorf("exchange deklare edilemedi (%s): %w", ExchangeName, err)
	}
	return nil
}

// StartConsumer, kalıcı kuyruğu telefon olaylarına bağlar ve ctx iptal edilene kadar mesajları işler.
// Her mesaj kendi goroutine'inde işlenir ve işlem bitince onaylanır.
func StartConsumer(ctx context.Context, ch *amqp091.Channel, handlerFunc func([]byte), log zerolog.Logger, wg *sync.WaitGroup) error {
	q, err := ch.QueueDeclare(
		ReceptionistQueue,
		true,
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		return fmt.Errorf("kalıcı kuyruk oluşturulamadı: %w", err)
	}

	for _, key := range consumedRoutingKeys {
		if err := ch.QueueBind(q.Name, string(key), ExchangeName, false, nil); err != nil {
			return fmt.Errorf("kuyruk %s anahtarına bağlanamadı: %w", key, err)
		}
	}
	log.Info().Str("queue", q.Name).Str("exchange", ExchangeName).Int("routing_keys", len(consumedRoutingKeys)).Msg("Kalıcı kuyruk başarıyla exchange'e bağlandı.")

	if err := ch.Qos(8, 0, false); err != nil {
		return fmt.Errorf("QoS ayarı yapılamadı: %w", err)
	}

	msgs, err := ch.Consume(
		q.Name,
		"",
		false,
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		return fmt.Errorf("mesajlar tüketilemedi: %w", err)
	}

	log.Info().Str("queue", q.Name).Msg("Kuyruk dinleniyor, mesajlar bekleniyor...")

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Tüketici döngüsü durduruluyor, yeni mesajlar alınmayacak.")
			return nil
		case d, ok := <-msgs:
			if !ok {
				log.Info().Msg("RabbitMQ mesaj kanalı kapandı.")
				return nil
			}
			wg.Add(1)
			go func(msg amqp091.Delivery) {
				defer wg.Done()
				handlerFunc(msg.Body)
				_ = msg.Ack(false)
			}(d)
		}
	}
}
