package jobs

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wneessen/go-mail"
)

type recordingMailer struct {
	sent []Message
	err  error
}

func (r *recordingMailer) Send(ctx context.Context, msg Message) error {
	if r.err != nil {
		return r.err
	}
	r.sent = append(r.sent, msg)
	return nil
}

func TestConfirmationTaskRoundTrip(t *testing.T) {
	task, err := NewConfirmationTask(ConfirmationPayload{To: "ada@example.com", Username: "ada", Link: "https://x/confirm?token=t"})
	require.NoError(t, err)
	assert.Equal(t, TaskSendConfirmation, task.Type())

	mailer := &recordingMailer{}
	job := NewConfirmationJob(mailer, nil, nil)
	require.NoError(t, job.Handle(context.Background(), task))
	require.Len(t, mailer.sent, 1)
	assert.Equal(t, "ada@example.com", mailer.sent[0].To)
	assert.Contains(t, mailer.sent[0].Body, "Hi ada")
	assert.Contains(t, mailer.sent[0].Body, "https://x/confirm?token=t")

	_, err = NewConfirmationTask(ConfirmationPayload{To: "ada@example.com"})
	assert.Error(t, err)
}

func TestConfirmationJobSkipsRetryOnMalformedPayload(t *testing.T) {
	job := NewConfirmationJob(&recordingMailer{}, nil, nil)
	err := job.Handle(context.Background(), asynq.NewTask(TaskSendConfirmation, []byte("{")))
	assert.ErrorIs(t, err, asynq.SkipRetry)
}

func TestConfirmationJobRetriesMailFailure(t *testing.T) {
	boom := errors.New("relay down")
	job := NewConfirmationJob(&recordingMailer{err: boom}, nil, nil)
	task, err := NewConfirmationTask(ConfirmationPayload{To: "a@example.com", Link: "l"})
	require.NoError(t, err)
	err = job.Handle(context.Background(), task)
	assert.ErrorIs(t, err, boom)
	assert.NotErrorIs(t, err, asynq.SkipRetry)
}

func TestSMTPMailerBuildsMessage(t *testing.T) {
	m, err := NewSMTPMailer("127.0.0.1", 1025, "no-reply@agency.local")
	require.NoError(t, err)
	var sent []*mail.Msg
	m.send = func(ctx context.Context, msgs ...*mail.Msg) error {
		sent = append(sent, msgs...)
		return nil
	}
	require.NoError(t, m.Send(context.Background(), Message{To: "ada@example.com", Subject: "Hello", Body: "body"}))
	require.Len(t, sent, 1)

	rcpts, err := sent[0].GetRecipients()
	require.NoError(t, err)
	assert.Equal(t, []string{"ada@example.com"}, rcpts)
	assert.Equal(t, []string{"Hello"}, sent[0].GetGenHeader(mail.HeaderSubject))

	var raw bytes.Buffer
	_, err = sent[0].WriteTo(&raw)
	require.NoError(t, err)
	assert.Contains(t, raw.String(), "no-reply@agency.local")
	assert.Contains(t, raw.String(), "body")
}

func TestSMTPMailerRejectsInjectedHeaders(t *testing.T) {
	m, err := NewSMTPMailer("127.0.0.1", 1025, "no-reply@agency.local")
	require.NoError(t, err)
	calls := 0
	m.send = func(ctx context.Context, msgs ...*mail.Msg) error {
		calls++
		return nil
	}
	assert.Error(t, m.Send(context.Background(), Message{To: "a@example.com\r\nBcc: x@example.com", Subject: "s"}))
	assert.Error(t, m.Send(context.Background(), Message{To: "a@example.com", Subject: "s\r\nBcc: x@example.com"}))
	assert.Zero(t, calls)
}

func TestSMTPMailerWrapsRelayError(t *testing.T) {
	m, err := NewSMTPMailer("127.0.0.1", 1025, "no-reply@agency.local")
	require.NoError(t, err)
	boom := errors.New("relay refused")
	m.send = func(ctx context.Context, msgs ...*mail.Msg) error { return boom }
	assert.ErrorIs(t, m.Send(context.Background(), Message{To: "a@example.com", Subject: "s"}), boom)
}

type fakePruner struct {
	before time.Time
	n      int64
}

func (f *fakePruner) DeleteUnconfirmedBefore(ctx context.Context, before time.Time) (int64, error) {
	f.before = before
	return f.n, nil
}

func TestPruneJobUsesThreshold(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	pruner := &fakePruner{n: 2}
	job := NewPruneJob(pruner, nil, nil)
	job.now = func() time.Time { return now }

	task, err := NewPruneUnconfirmedTask(48)
	require.NoError(t, err)
	require.NoError(t, job.Handle(context.Background(), task))
	assert.Equal(t, now.Add(-48*time.Hour), pruner.before)

	err = job.Handle(context.Background(), asynq.NewTask(TaskPruneUnconfirmed, []byte(`{"older_than_hours":0}`)))
	assert.ErrorIs(t, err, asynq.SkipRetry)
}

func TestHealthWithoutInspector(t *testing.T) {
	r := chi.NewRouter()
	NewHandler(nil, nil).MountRoutes(r)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var body []queueStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, []queueStatus{{Queue: QueueMail}, {Queue: QueueMaintenance}}, body)
}

type fakeInspector struct {
	queues []string
	infos  map[string]*asynq.QueueInfo
	err    error
}

func (f *fakeInspector) Queues() ([]string, error) { return f.queues, f.err }

func (f *fakeInspector) GetQueueInfo(queue string) (*asynq.QueueInfo, error) {
	return f.infos[queue], nil
}

func TestHealthReportsKnownQueues(t *testing.T) {
	r := chi.NewRouter()
	NewHandler(&fakeInspector{
		queues: []string{QueueMail},
		infos:  map[string]*asynq.QueueInfo{QueueMail: {Queue: QueueMail, Pending: 2, Failed: 1}},
	}, nil).MountRoutes(r)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var body []queueStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, []queueStatus{{Queue: QueueMail, Pending: 2, Failed: 1}, {Queue: QueueMaintenance}}, body)
}

func TestHealthUnavailableWhenRedisFails(t *testing.T) {
	r := chi.NewRouter()
	NewHandler(&fakeInspector{err: errors.New("dial tcp: refused")}, nil).MountRoutes(r)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestTasksTargetTheirQueues(t *testing.T) {
	confirm, err := NewConfirmationTask(ConfirmationPayload{To: "a@b.c", Link: "l"})
	require.NoError(t, err)
	prune, err := NewPruneUnconfirmedTask(0)
	require.NoError(t, err)

	var payload PrunePayload
	require.NoError(t, json.Unmarshal(prune.Payload(), &payload))
	assert.Equal(t, 7*24, payload.OlderThanHours)
	assert.Equal(t, TaskSendConfirmation, confirm.Type())
	assert.Greater(t, Queues()[QueueMail], Queues()[QueueMaintenance])
}

func TestNewWorkerRejectsIncompleteHandler(t *testing.T) {
	_, err := NewWorker(WorkerConfig{
		RedisOpts: asynq.RedisClientOpt{Addr: "127.0.0.1:0"},
		Handlers:  []TaskHandler{{Type: TaskSendConfirmation}},
	})
	assert.Error(t, err)
}
