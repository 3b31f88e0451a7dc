package rabbitmq

import (
	"context"
	"errors"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestQueueSpecs(t *testing.T) {
	specs := queueSpecs("sensei_events")

	assert.Equal(t, "sensei_events.dlq", specs[0].name)
	assert.Equal(t, "sensei_events.retry", specs[1].name)
	assert.Equal(t, "sensei_events", specs[1].args["x-dead-letter-routing-key"])
	assert.Equal(t, "sensei_events", specs[2].name)
	assert.Equal(t, "sensei_events.dlq", specs[2].args["x-dead-letter-routing-key"])
}

func TestAttemptOf(t *testing.T) {
	assert.Equal(t, 0, attemptOf(nil))
	assert.Equal(t, 2, attemptOf(amqp.Table{attemptHeader: int32(2)}))
	assert.Equal(t, 3, attemptOf(amqp.Table{attemptHeader: int64(3)}))
	assert.Equal(t, 0, attemptOf(amqp.Table{attemptHeader: "x"}))
}

type fakeAck struct {
	acks, nacks int
	requeued    bool
}

func (a *fakeAck) Ack(bool) error { a.acks++; return nil }

func (a *fakeAck) Nack(_, requeue bool) error {
	a.nacks++
	a.requeued = a.requeued || requeue
	return nil
}

type sent struct {
	queue string
	msg   amqp.Publishing
}

type fakeChannel struct {
	sent []sent
	err  error
}

func (f *fakeChannel) PublishWithContext(_ context.Context, _, key string, _, _ bool, msg amqp.Publishing) error {
	f.sent = append(f.sent, sent{queue: key, msg: msg})
	return f.err
}

func TestConsumerHandle(t *testing.T) {
	boom := errors.New("provider down")
	body := []byte(`{"job_id":"01J"}`)

	tests := []struct {
		name      string
		body      []byte
		headers   amqp.Table
		handleErr error
		pubErr    error
		canceled  bool

		wantCalls   int
		wantAcks    int
		wantNacks   int
		wantRetry   bool
		wantAttempt int32
	}{
		{name: "success acks", body: body, wantCalls: 1, wantAcks: 1},
		{name: "first failure schedules retry", body: body, handleErr: boom, wantCalls: 1, wantAcks: 1, wantRetry: true, wantAttempt: 1},
		{name: "attempt header increments", body: body, headers: amqp.Table{attemptHeader: int32(2)}, handleErr: boom, wantCalls: 1, wantAcks: 1, wantRetry: true, wantAttempt: 3},
		{name: "budget spent goes to dlq", body: body, headers: amqp.Table{attemptHeader: int32(3)}, handleErr: boom, wantCalls: 1, wantNacks: 1},
		{name: "retry publish failure goes to dlq", body: body, handleErr: boom, pubErr: errors.New("closed"), wantCalls: 1, wantNacks: 1, wantRetry: true, wantAttempt: 1},
		{name: "shutdown does not retry", body: body, handleErr: boom, canceled: true, wantCalls: 1, wantNacks: 1},
		{name: "bad body", body: []byte("nope"), wantNacks: 1},
		{name: "missing job id", body: []byte(`{}`), wantNacks: 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ch := &fakeChannel{err: tt.pubErr}
			c := &Consumer{
				pub:   ch,
				queue: "sensei_events",
				cfg:   ConsumerConfig{Concurrency: 1, MaxRetries: 3, RetryDelay: 5 * time.Second},
				log:   zap.NewNop(),
			}
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			if tt.canceled {
				cancel()
			}

			var calls []string
			ack := &fakeAck{}
			c.handle(ctx, 0, tt.body, tt.headers, ack, func(_ context.Context, jobID string) error {
				calls = append(calls, jobID)
				return tt.handleErr
			})

			assert.Len(t, calls, tt.wantCalls)
			assert.Equal(t, tt.wantAcks, ack.acks)
			assert.Equal(t, tt.wantNacks, ack.nacks)
			assert.False(t, ack.requeued)

			if !tt.wantRetry {
				assert.Empty(t, ch.sent)
				return
			}
			require.Len(t, ch.sent, 1)
			assert.Equal(t, "sensei_events.retry", ch.sent[0].queue)
			assert.Equal(t, "5000", ch.sent[0].msg.Expiration)
			assert.Equal(t, tt.wantAttempt, ch.sent[0].msg.Headers[attemptHeader])
			assert.JSONEq(t, `{"job_id":"01J"}`, string(ch.sent[0].msg.Body))
		})
	}
}
