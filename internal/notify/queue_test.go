package notify

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wolfman30/smart-care-platform/pkg/logging"
)

type capturingDispatcher struct {
	mu     sync.Mutex
	emails []EmailMessage
	pushes []PushMessage
	inApps []InAppMessage
	done   chan struct{}
}

func newCapturingDispatcher(expected int) *capturingDispatcher {
	return &capturingDispatcher{done: make(chan struct{}, expected)}
}

func (c *capturingDispatcher) Email(_ context.Context, msg EmailMessage) Outcome {
	c.mu.Lock()
	c.emails = append(c.emails, msg)
	c.mu.Unlock()
	c.done <- struct{}{}
	return delivered(ChannelEmail, msg.To)
}

func (c *capturingDispatcher) Push(_ context.Context, msg PushMessage) Outcome {
	c.mu.Lock()
	c.pushes = append(c.pushes, msg)
	c.mu.Unlock()
	c.done <- struct{}{}
	return delivered(ChannelPush, msg.UserID)
}

func (c *capturingDispatcher) InApp(_ context.Context, msg InAppMessage) (string, Outcome) {
	c.mu.Lock()
	c.inApps = append(c.inApps, msg)
	c.mu.Unlock()
	c.done <- struct{}{}
	return msg.ID, delivered(ChannelInApp, msg.UserID)
}

func waitFor(t *testing.T, ch <-chan struct{}, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		select {
		case <-ch:
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for job %d of %d", i+1, n)
		}
	}
}

func TestPublisherWorkerRoundTrip(t *testing.T) {
	queue := NewMemoryQueue(8)
	pub := NewPublisher(queue, nil, logging.Nop())

	assert.Equal(t, StatusQueued, pub.Email(context.Background(), EmailMessage{To: "p@example.com", Subject: "s"}).Status)
	assert.Equal(t, StatusQueued, pub.Push(context.Background(), PushMessage{UserID: "p1", Title: "t"}).Status)
	id, out := pub.InApp(context.Background(), InAppMessage{UserID: "p1", Title: "t"})
	assert.Equal(t, StatusQueued, out.Status)
	require.NotEmpty(t, id)
	assert.Equal(t, 3, queue.Len())

	dispatcher := newCapturingDispatcher(3)
	worker := NewWorker(dispatcher, queue, logging.Nop(), WithWorkerCount(1), WithReceiveWaitSeconds(1))
	ctx, cancel := context.WithCancel(context.Background())
	worker.Start(ctx)
	waitFor(t, dispatcher.done, 3)
	cancel()
	worker.Wait()

	assert.Equal(t, "p@example.com", dispatcher.emails[0].To)
	assert.Equal(t, "p1", dispatcher.pushes[0].UserID)
	require.Len(t, dispatcher.inApps, 1)
	assert.Equal(t, id, dispatcher.inApps[0].ID, "worker persists under the id returned to the caller")
}

type failingQueue struct{ err error }

func (f failingQueue) Send(context.Context, string) error { return f.err }
func (f failingQueue) Receive(context.Context, int, int) ([]QueueMessage, error) {
	return nil, f.err
}
func (f failingQueue) Delete(context.Context, string) error { return nil }

func TestPublisherReportsEnqueueFailure(t *testing.T) {
	pub := NewPublisher(failingQueue{err: errors.New("queue down")}, nil, logging.Nop())
	out := pub.Email(context.Background(), EmailMessage{To: "p@example.com"})
	assert.Equal(t, StatusFailed, out.Status)
	assert.False(t, out.Suppressed)

	id, out := pub.InApp(context.Background(), InAppMessage{UserID: "p1"})
	assert.Empty(t, id)
	assert.Equal(t, StatusFailed, out.Status)
}

func TestWorkerDropsMalformedJobs(t *testing.T) {
	queue := NewMemoryQueue(4)
	require.NoError(t, queue.Send(context.Background(), "not json"))
	require.NoError(t, queue.Send(context.Background(), `{"id":"j1","kind":"email"}`))
	_, body, err := encodePayload(queuePayload{Kind: jobKindPush, Push: &PushMessage{UserID: "p1"}})
	require.NoError(t, err)
	require.NoError(t, queue.Send(context.Background(), body))

	dispatcher := newCapturingDispatcher(1)
	worker := NewWorker(dispatcher, queue, logging.Nop(), WithWorkerCount(1), WithReceiveBatchSize(10))
	ctx, cancel := context.WithCancel(context.Background())
	worker.Start(ctx)
	waitFor(t, dispatcher.done, 1)
	cancel()
	worker.Wait()

	assert.Empty(t, dispatcher.emails)
	assert.Len(t, dispatcher.pushes, 1)
}

func TestMemoryQueueReceiveTimesOut(t *testing.T) {
	queue := NewMemoryQueue(1)
	msgs, err := queue.Receive(context.Background(), 1, 1)
	require.NoError(t, err)
	assert.Empty(t, msgs)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = queue.Receive(ctx, 1, 0)
	assert.ErrorIs(t, err, context.Canceled)
}

type fakeSQS struct {
	sent    []*sqs.SendMessageInput
	deleted []string
}

func (f *fakeSQS) SendMessage(_ context.Context, in *sqs.SendMessageInput, _ ...func(*sqs.Options)) (*sqs.SendMessageOutput, error) {
	f.sent = append(f.sent, in)
	return &sqs.SendMessageOutput{}, nil
}

func (f *fakeSQS) ReceiveMessage(_ context.Context, in *sqs.ReceiveMessageInput, _ ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error) {
	out := &sqs.ReceiveMessageOutput{}
	for i, s := range f.sent {
		if int32(i) >= in.MaxNumberOfMessages {
			break
		}
		out.Messages = append(out.Messages, sqstypes.Message{
			MessageId:     aws.String("m"),
			Body:          s.MessageBody,
			ReceiptHandle: aws.String("rh"),
		})
	}
	return out, nil
}

func (f *fakeSQS) DeleteMessage(_ context.Context, in *sqs.DeleteMessageInput, _ ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error) {
	f.deleted = append(f.deleted, aws.ToString(in.ReceiptHandle))
	return &sqs.DeleteMessageOutput{}, nil
}

func TestSQSQueue(t *testing.T) {
	fake := &fakeSQS{}
	q := NewSQSQueue(fake, "https://sqs.local/queue")

	require.NoError(t, q.Send(context.Background(), `{"kind":"email"}`))
	assert.Equal(t, "https://sqs.local/queue", aws.ToString(fake.sent[0].QueueUrl))

	msgs, err := q.Receive(context.Background(), 5, 1)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, `{"kind":"email"}`, msgs[0].Body)

	require.NoError(t, q.Delete(context.Background(), "rh"))
	require.NoError(t, q.Delete(context.Background(), ""))
	assert.Equal(t, []string{"rh"}, fake.deleted)

	assert.Panics(t, func() { NewSQSQueue(nil, "x") })
}
