package worker

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dwiprasetyo/job-portal/internal/model"
	"github.com/dwiprasetyo/job-portal/internal/queue"
	"github.com/dwiprasetyo/job-portal/internal/service"
)

type stubMailer struct {
	mu   sync.Mutex
	sent []string // recipients, in send order
	errs map[string]error
}

func (m *stubMailer) Send(_ context.Context, recipient string, _ service.RenderedMessage) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err, ok := m.errs[recipient]; ok {
		return "", err
	}
	m.sent = append(m.sent, recipient)
	return "msg_" + recipient, nil
}

func (m *stubMailer) sentCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sent)
}

func newTestQueue() *queue.MemoryStore {
	return queue.NewMemoryStore(queue.ExponentialBackoff(time.Second, time.Minute))
}

func newTestDispatcher(q queue.Store, mailer service.MailerServiceInterface) *Dispatcher {
	return NewDispatcher(q, service.NewTemplateService(), mailer, 1, 10, 10*time.Millisecond, 5*time.Minute)
}

func enqueueMatch(t *testing.T, q queue.Store, recipient string) *model.NotificationJob {
	t.Helper()
	payload, err := json.Marshal(service.JobMatchPayload{
		CandidateName: "Ana",
		JobTitle:      "Backend Engineer",
		Score:         87.5,
		JobURL:        "https://jobs.example.com/jobs/abc",
	})
	require.NoError(t, err)
	job := &model.NotificationJob{
		Type:      model.NotificationJobMatch,
		Recipient: recipient,
		Payload:   string(payload),
	}
	require.NoError(t, q.Enqueue(context.Background(), job))
	return job
}

func TestRunOnce_DeliversAndCompletes(t *testing.T) {
	q := newTestQueue()
	mailer := &stubMailer{}
	d := newTestDispatcher(q, mailer)
	job := enqueueMatch(t, q, "ana@example.com")

	processed, err := d.runOnce(context.Background(), "worker-1")
	require.NoError(t, err)
	assert.Equal(t, 1, processed)
	assert.Equal(t, []string{"ana@example.com"}, mailer.sent)

	stored, err := q.Get(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.NotificationSent, stored.Status)
	assert.NotNil(t, stored.SentAt)
}

// A payload the renderer rejects can never succeed, so the job skips the
// retry budget and dead-letters on the first attempt.
func TestRunOnce_RenderFailureDeadLettersImmediately(t *testing.T) {
	q := newTestQueue()
	mailer := &stubMailer{}
	d := newTestDispatcher(q, mailer)

	job := &model.NotificationJob{
		Type:      model.NotificationJobMatch,
		Recipient: "ana@example.com",
		Payload:   `{"candidate_name":""}`, // fails validation
	}
	require.NoError(t, q.Enqueue(context.Background(), job))

	processed, err := d.runOnce(context.Background(), "worker-1")
	require.NoError(t, err)
	assert.Equal(t, 1, processed)
	assert.Zero(t, mailer.sentCount(), "invalid payload must never reach the transport")

	stored, err := q.Get(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.NotificationDeadLettered, stored.Status)
	assert.Equal(t, stored.MaxAttempts, stored.Attempts, "no retries remain after a permanent failure")
	assert.NotEmpty(t, stored.LastError)
}

func TestRunOnce_UnknownTypeDeadLetters(t *testing.T) {
	q := newTestQueue()
	d := newTestDispatcher(q, &stubMailer{})

	job := &model.NotificationJob{
		Type:      model.NotificationType("push"),
		Recipient: "ana@example.com",
		Payload:   `{}`,
	}
	require.NoError(t, q.Enqueue(context.Background(), job))

	_, err := d.runOnce(context.Background(), "worker-1")
	require.NoError(t, err)

	stored, err := q.Get(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.NotificationDeadLettered, stored.Status)
}

func TestRunOnce_TransientTransportFailureBacksOff(t *testing.T) {
	q := newTestQueue()
	mailer := &stubMailer{errs: map[string]error{
		"ana@example.com": &service.TransportError{StatusCode: 503, Temporary: true, Cause: errors.New("service unavailable")},
	}}
	d := newTestDispatcher(q, mailer)
	job := enqueueMatch(t, q, "ana@example.com")

	_, err := d.runOnce(context.Background(), "worker-1")
	require.NoError(t, err)

	stored, err := q.Get(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.NotificationPending, stored.Status)
	assert.Equal(t, 1, stored.Attempts)
	assert.True(t, stored.NextAttemptAt.After(time.Now()), "retry must be scheduled in the future")
}

func TestRunOnce_PermanentTransportFailureDeadLetters(t *testing.T) {
	q := newTestQueue()
	mailer := &stubMailer{errs: map[string]error{
		"ana@example.com": &service.TransportError{StatusCode: 422, Temporary: false, Cause: errors.New("invalid recipient")},
	}}
	d := newTestDispatcher(q, mailer)
	job := enqueueMatch(t, q, "ana@example.com")

	_, err := d.runOnce(context.Background(), "worker-1")
	require.NoError(t, err)

	stored, err := q.Get(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.NotificationDeadLettered, stored.Status)
}

// One malformed job inside a batch must not keep the rest from going out.
func TestRunOnce_BatchIsolatesFailures(t *testing.T) {
	q := newTestQueue()
	mailer := &stubMailer{}
	d := newTestDispatcher(q, mailer)

	first := enqueueMatch(t, q, "first@example.com")
	bad := &model.NotificationJob{
		Type:      model.NotificationJobMatch,
		Recipient: "bad@example.com",
		Payload:   `not json`,
	}
	require.NoError(t, q.Enqueue(context.Background(), bad))
	last := enqueueMatch(t, q, "last@example.com")

	processed, err := d.runOnce(context.Background(), "worker-1")
	require.NoError(t, err)
	assert.Equal(t, 3, processed)
	assert.Equal(t, []string{"first@example.com", "last@example.com"}, mailer.sent)

	for id, want := range map[*model.NotificationJob]model.NotificationStatus{
		first: model.NotificationSent,
		bad:   model.NotificationDeadLettered,
		last:  model.NotificationSent,
	} {
		stored, err := q.Get(context.Background(), id.ID)
		require.NoError(t, err)
		assert.Equal(t, want, stored.Status)
	}
}

func TestStart_DrainsQueueAndStopsOnCancel(t *testing.T) {
	q := newTestQueue()
	mailer := &stubMailer{}
	d := NewDispatcher(q, service.NewTemplateService(), mailer, 3, 5, 5*time.Millisecond, 5*time.Minute)
	for i := 0; i < 20; i++ {
		enqueueMatch(t, q, "ana@example.com")
	}

	ctx, cancel := context.WithCancel(context.Background())
	d.Start(ctx)

	deadline := time.After(2 * time.Second)
	for mailer.sentCount() < 20 {
		select {
		case <-deadline:
			t.Fatalf("only %d of 20 jobs delivered before timeout", mailer.sentCount())
		case <-time.After(5 * time.Millisecond):
		}
	}
	cancel()
	d.Wait()

	stats, err := q.Stats(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 20, stats.Sent)
	assert.Zero(t, stats.InFlight)
}
