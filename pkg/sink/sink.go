package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/84hero/lockhook/internal/webhook"
	"github.com/IBM/sarama"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"
)

// Receipt is the per-item processing outcome emitted after a delivery.
// Identity data stays out on purpose; receipts are operational, not PII.
type Receipt struct {
	Network   int    `json:"network"`
	Lock      string `json:"lock"`
	TokenID   string `json:"token_id"`
	TxHash    string `json:"tx_hash,omitempty"`
	Notified  bool   `json:"notified"`
	Enrolled  bool   `json:"enrolled"`
	Skipped   string `json:"skipped,omitempty"` // reason when no notification was sent
	Timestamp int64  `json:"timestamp"`
}

// Output defines the interface for receipt output pipelines
type Output interface {
	Name() string
	Send(ctx context.Context, receipts []Receipt) error
	Close() error
}

// --- 1. Console Output ---

type ConsoleOutput struct {
	mu sync.Mutex
}

func NewConsoleOutput() *ConsoleOutput {
	return &ConsoleOutput{}
}

func (c *ConsoleOutput) Name() string { return "console" }

func (c *ConsoleOutput) Send(ctx context.Context, receipts []Receipt) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	enc := json.NewEncoder(os.Stdout)
	for _, r := range receipts {
		if err := enc.Encode(r); err != nil {
			return err
		}
	}
	return nil
}

func (c *ConsoleOutput) Close() error { return nil }

// --- 2. File Output ---

type FileOutput struct {
	path string
	mu   sync.Mutex
	file *os.File
}

func NewFileOutput(path string) (*FileOutput, error) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, err
	}
	return &FileOutput{path: path, file: f}, nil
}

func (f *FileOutput) Name() string { return "file" }

func (f *FileOutput) Send(ctx context.Context, receipts []Receipt) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	enc := json.NewEncoder(f.file)
	for _, r := range receipts {
		if err := enc.Encode(r); err != nil {
			return err
		}
	}
	return nil
}

func (f *FileOutput) Close() error {
	if f.file != nil {
		return f.file.Close()
	}
	return nil
}

// --- 3. Webhook Output ---

// webhookEnvelope is the body posted to the ops endpoint.
type webhookEnvelope struct {
	Timestamp int64     `json:"timestamp"`
	Receipts  []Receipt `json:"receipts"`
}

type WebhookOutput struct {
	client *webhook.Client
}

func NewWebhookOutput(cfg webhook.Config) *WebhookOutput {
	return &WebhookOutput{client: webhook.NewClient(cfg)}
}

func (w *WebhookOutput) Name() string { return "webhook" }

func (w *WebhookOutput) Send(ctx context.Context, receipts []Receipt) error {
	if len(receipts) == 0 {
		return nil
	}
	body, err := json.Marshal(webhookEnvelope{
		Timestamp: time.Now().Unix(),
		Receipts:  receipts,
	})
	if err != nil {
		return err
	}
	return w.client.Send(ctx, body)
}

func (w *WebhookOutput) Close() error { return nil }

// --- 4. Redis Output ---

type RedisOutput struct {
	client *redis.Client
	key    string
	mode   string
}

func NewRedisOutput(addr, password string, db int, key, mode string) (*RedisOutput, error) {
	rdb := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		return nil, err
	}
	return &RedisOutput{client: rdb, key: key, mode: mode}, nil
}

func (r *RedisOutput) Name() string { return "redis" }

func (r *RedisOutput) Send(ctx context.Context, receipts []Receipt) error {
	pipe := r.client.Pipeline()
	for _, rc := range receipts {
		data, _ := json.Marshal(rc)
		if r.mode == "pubsub" {
			pipe.Publish(ctx, r.key, data)
		} else {
			pipe.LPush(ctx, r.key, data)
		}
	}
	_, err := pipe.Exec(ctx)
	return err
}

func (r *RedisOutput) Close() error { return r.client.Close() }

// --- 5. Kafka Output ---

type KafkaOutput struct {
	producer sarama.SyncProducer
	topic    string
}

func NewKafkaOutput(brokers []string, topic, user, password string) (*KafkaOutput, error) {
	config := sarama.NewConfig()
	config.Producer.Return.Successes = true
	if user != "" {
		config.Net.SASL.Enable = true
		config.Net.SASL.User = user
		config.Net.SASL.Password = password
	}
	producer, err := sarama.NewSyncProducer(brokers, config)
	if err != nil {
		return nil, err
	}
	return &KafkaOutput{producer: producer, topic: topic}, nil
}

func (k *KafkaOutput) Name() string { return "kafka" }

func (k *KafkaOutput) Send(ctx context.Context, receipts []Receipt) error {
	var msgs []*sarama.ProducerMessage
	for _, r := range receipts {
		data, _ := json.Marshal(r)
		key := fmt.Sprintf("%s:%s", r.Lock, r.TokenID)
		msgs = append(msgs, &sarama.ProducerMessage{
			Topic: k.topic,
			Key:   sarama.StringEncoder(key),
			Value: sarama.ByteEncoder(data),
		})
	}
	if len(msgs) == 0 {
		return nil
	}
	return k.producer.SendMessages(msgs)
}

func (k *KafkaOutput) Close() error { return k.producer.Close() }

// --- 6. RabbitMQ Output ---

type RabbitMQOutput struct {
	conn       *amqp.Connection
	ch         *amqp.Channel
	exchange   string
	routingKey string
}

func NewRabbitMQOutput(url, exchange, routingKey, queueName string, durable bool) (*RabbitMQOutput, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, err
	}
	if exchange != "" {
		err = ch.ExchangeDeclare(exchange, "topic", durable, false, false, false, nil)
		if err != nil {
			ch.Close()
			conn.Close()
			return nil, err
		}
	}
	if queueName != "" {
		q, _ := ch.QueueDeclare(queueName, durable, false, false, false, nil)
		ch.QueueBind(q.Name, routingKey, exchange, false, nil)
	}
	return &RabbitMQOutput{conn: conn, ch: ch, exchange: exchange, routingKey: routingKey}, nil
}

func (r *RabbitMQOutput) Name() string { return "rabbitmq" }

func (r *RabbitMQOutput) Send(ctx context.Context, receipts []Receipt) error {
	for _, rc := range receipts {
		data, _ := json.Marshal(rc)
		err := r.ch.PublishWithContext(ctx, r.exchange, r.routingKey, false, false, amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Body:         data,
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func (r *RabbitMQOutput) Close() error {
	r.ch.Close()
	return r.conn.Close()
}
