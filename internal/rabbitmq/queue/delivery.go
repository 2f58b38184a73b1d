package queue

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/rabbitmq/amqp091-go"
	"github.com/wb-go/wbf/rabbitmq"
	"github.com/wb-go/wbf/retry"
	"github.com/wb-go/wbf/zlog"

	"github.com/advisorly/courier/internal/model"
)

const (
	ExchangeName  = "delivery-exchange"
	ReadyQueue    = "delivery-ready"
	WaitQueue     = "delivery-wait"
	DLQName       = "delivery-dlq"
	ReadyKey      = "delivery.ready"
	WaitKey       = "delivery.wait"
)

// DeliveryQueue is the durable job queue of the scheduler. Delayed
// execution uses the wait queue: messages are published there with a
// per-message TTL and dead-letter into the ready queue when the delay
// elapses. Retries travel the same path with the backoff delay as TTL.
// Messages that the ready queue rejects land in the DLQ.
type DeliveryQueue struct {
	Publisher *rabbitmq.Publisher
	Consumer  *rabbitmq.Consumer
}

// NewDeliveryQueue declares the delivery topology on the channel.
func NewDeliveryQueue(ch *rabbitmq.Channel) (*DeliveryQueue, error) {
	exchange := rabbitmq.NewExchange(ExchangeName, "direct")
	if err := exchange.BindToChannel(ch); err != nil {
		return nil, fmt.Errorf("failed to bind to exchange: %w", err)
	}

	qm := rabbitmq.NewQueueManager(ch)

	_, err := qm.DeclareQueue(DLQName, rabbitmq.QueueConfig{Durable: true})
	if err != nil {
		return nil, fmt.Errorf("failed to declare DLQ queue: %w", err)
	}

	waitArgs := map[string]interface{}{
		"x-dead-letter-exchange":    ExchangeName,
		"x-dead-letter-routing-key": ReadyKey,
	}

	_, err = qm.DeclareQueue(WaitQueue, rabbitmq.QueueConfig{
		Durable: true,
		Args:    waitArgs,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to declare wait queue: %w", err)
	}

	readyArgs := map[string]interface{}{
		"x-dead-letter-exchange":    "",
		"x-dead-letter-routing-key": DLQName,
	}

	readyQ, err := qm.DeclareQueue(ReadyQueue, rabbitmq.QueueConfig{
		Durable: true,
		Args:    readyArgs,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to declare ready queue: %w", err)
	}

	if err := ch.QueueBind(WaitQueue, WaitKey, exchange.Name(), false, nil); err != nil {
		return nil, fmt.Errorf("failed to bind the exchange to the wait queue: %w", err)
	}
	if err := ch.QueueBind(readyQ.Name, ReadyKey, exchange.Name(), false, nil); err != nil {
		return nil, fmt.Errorf("failed to bind the exchange to the ready queue: %w", err)
	}

	pub := rabbitmq.NewPublisher(ch, exchange.Name())
	cons := rabbitmq.NewConsumer(ch, rabbitmq.NewConsumerConfig(readyQ.Name))

	return &DeliveryQueue{Publisher: pub, Consumer: cons}, nil
}

// Publish enqueues a job. A positive delay routes it through the wait
// queue with the delay as per-message TTL; otherwise it goes straight to
// the ready queue.
func (q *DeliveryQueue) Publish(job model.DeliveryJob, delay time.Duration, strategy retry.Strategy) error {
	body, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}

	opts := rabbitmq.PublishingOptions{
		Headers: amqp091.Table{
			"delivery-mode": 2,
		},
	}
	key := ReadyKey
	if delay > 0 {
		key = WaitKey
		opts.Expiration = delay
	}

	return retry.Do(func() error {
		return q.Publisher.Publish(body, key, "application/json", opts)
	}, strategy)
}

// Consume decodes ready jobs into out until the underlying consumer stops.
func (q *DeliveryQueue) Consume(out chan<- model.DeliveryJob, strategy retry.Strategy) error {
	msgChan := make(chan []byte)

	go func() {
		for m := range msgChan {
			var job model.DeliveryJob
			if err := json.Unmarshal(m, &job); err != nil {
				zlog.Logger.Error().Err(err).Msg("failed to unmarshal job")
				continue
			}

			out <- job
		}
	}()

	return q.Consumer.ConsumeWithRetry(msgChan, strategy)
}
