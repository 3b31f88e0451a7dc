package rabbitmq

import (
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
)

func RetryQueue(queue string) string { return queue + ".retry" }
func DeadLetterQueue(queue string) string { return queue + ".dlq" }

// DeclareTopology declares the main queue with its retry and dead-letter
// queues. Publisher and consumer must agree on these arguments.
func DeclareTopology(ch *amqp.Channel, queue string) error {
	for _, q := range queueSpecs(queue) {
		if _, err := ch.QueueDeclare(q.name, true, false, false, false, q.args); err != nil {
			return fmt.Errorf("declare %s: %w", q.name, err)
		}
	}
	return nil
}

type queueSpec struct {
	name string
	args amqp.Table
}

// queueSpecs lists queues in declaration order: DLQ first so the others can
// dead-letter into it.
func queueSpecs(queue string) []queueSpec {
	return []queueSpec{
		{name: DeadLetterQueue(queue)},
		// message TTL -> dead-letter back to main queue
		{name: RetryQueue(queue), args: amqp.Table{
			"x-dead-letter-exchange":    "",
			"x-dead-letter-routing-key": queue,
		}},
		// reject/nack(requeue=false) -> DLQ
		{name: queue, args: amqp.Table{
			"x-dead-letter-exchange":    "",
			"x-dead-letter-routing-key": DeadLetterQueue(queue),
		}},
	}
}
