package scheduler

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"alarm-broker/internal/errs"
	"alarm-broker/internal/models"
	"alarm-broker/internal/resolver"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeAlarmStore struct {
	alarms    map[string]*models.Alarm
	ticketIDs map[string]int
}

func (f *fakeAlarmStore) GetByID(ctx context.Context, alarmID string) (*models.Alarm, error) {
	alarm, ok := f.alarms[alarmID]
	if !ok {
		return nil, errs.ErrNotFound
	}
	return alarm, nil
}

func (f *fakeAlarmStore) SetZammadTicketID(ctx context.Context, alarmID string, ticketID int) error {
	if f.ticketIDs == nil {
		f.ticketIDs = map[string]int{}
	}
	f.ticketIDs[alarmID] = ticketID
	return nil
}

type fakeStepSource struct {
	// step_no -> 延迟；缺失表示链条结束
	delays map[int]time.Duration
}

func (f *fakeStepSource) StepDelay(ctx context.Context, policyID string, stepNo int) (time.Duration, bool, error) {
	d, ok := f.delays[stepNo]
	return d, ok, nil
}

type sentStep struct {
	alarmID string
	stepNo  int
	ackURL  string
}

type fakeNotifier struct {
	steps    []sentStep
	ticketID int
	ackNotes int
}

func (f *fakeNotifier) SendStep(ctx context.Context, alarm *models.Alarm, ec *resolver.AlarmContext, stepNo int, ackURL string) error {
	f.steps = append(f.steps, sentStep{alarmID: alarm.ID, stepNo: stepNo, ackURL: ackURL})
	return nil
}

func (f *fakeNotifier) HandleZammadTicket(ctx context.Context, alarm *models.Alarm, ec *resolver.AlarmContext, ackURL string) int {
	return f.ticketID
}

func (f *fakeNotifier) AddAckNote(ctx context.Context, alarmID string, ticketID int, ackedBy *string, ackedAt time.Time, note *string) bool {
	f.ackNotes++
	return true
}

type fakeEnricher struct{}

func (fakeEnricher) EnrichAlarm(ctx context.Context, alarm *models.Alarm) *resolver.AlarmContext {
	return &resolver.AlarmContext{PersonName: "Herr Meier", RoomLabel: "Zimmer 12"}
}

type enqueuedJob struct {
	name    string
	payload interface{}
	delay   time.Duration
}

type fakeEnqueuer struct {
	jobs []enqueuedJob
}

func (f *fakeEnqueuer) Enqueue(ctx context.Context, name string, payload interface{}, delay time.Duration) error {
	f.jobs = append(f.jobs, enqueuedJob{name: name, payload: payload, delay: delay})
	return nil
}

func newTestScheduler(store *fakeAlarmStore, steps *fakeStepSource, notifier *fakeNotifier) (*Scheduler, *fakeEnqueuer) {
	q := &fakeEnqueuer{}
	s := New(store, steps, notifier, fakeEnricher{}, q, "http://localhost:8080", zap.NewNop())
	return s, q
}

func testAlarm(status models.Status) *models.Alarm {
	return &models.Alarm{
		ID:        "alarm-1",
		Status:    status,
		PolicyID:  "default",
		AckToken:  "tok-abc",
		CreatedAt: time.Now().UTC(),
	}
}

func TestHandleAlarmCreated(t *testing.T) {
	store := &fakeAlarmStore{alarms: map[string]*models.Alarm{"alarm-1": testAlarm(models.StatusTriggered)}}
	steps := &fakeStepSource{delays: map[int]time.Duration{1: 2 * time.Minute}}
	notifier := &fakeNotifier{ticketID: 42}
	s, q := newTestScheduler(store, steps, notifier)

	payload, _ := json.Marshal(AlarmCreatedPayload{AlarmID: "alarm-1"})
	require.NoError(t, s.HandleAlarmCreated(context.Background(), payload))

	// 工单已建并回写
	assert.Equal(t, 42, store.ticketIDs["alarm-1"])

	// 第 0 级立即发送，ack 链接拼上了 base url
	require.Len(t, notifier.steps, 1)
	assert.Equal(t, 0, notifier.steps[0].stepNo)
	assert.Equal(t, "http://localhost:8080/a/tok-abc", notifier.steps[0].ackURL)

	// 第 1 级按策略延迟调度
	require.Len(t, q.jobs, 1)
	assert.Equal(t, models.JobEscalate, q.jobs[0].name)
	assert.Equal(t, 2*time.Minute, q.jobs[0].delay)
	assert.Equal(t, EscalatePayload{AlarmID: "alarm-1", StepNo: 1}, q.jobs[0].payload)
}

func TestHandleAlarmCreated_NoSteps(t *testing.T) {
	store := &fakeAlarmStore{alarms: map[string]*models.Alarm{"alarm-1": testAlarm(models.StatusTriggered)}}
	steps := &fakeStepSource{delays: map[int]time.Duration{}}
	notifier := &fakeNotifier{}
	s, q := newTestScheduler(store, steps, notifier)

	payload, _ := json.Marshal(AlarmCreatedPayload{AlarmID: "alarm-1"})
	require.NoError(t, s.HandleAlarmCreated(context.Background(), payload))

	// 策略里没有第 1 步：发完第 0 级就结束
	require.Len(t, notifier.steps, 1)
	assert.Empty(t, q.jobs)
}

func TestHandleAlarmCreated_SkipsWhenNotTriggered(t *testing.T) {
	for _, status := range []models.Status{models.StatusAcknowledged, models.StatusResolved, models.StatusCancelled} {
		t.Run(string(status), func(t *testing.T) {
			store := &fakeAlarmStore{alarms: map[string]*models.Alarm{"alarm-1": testAlarm(status)}}
			steps := &fakeStepSource{delays: map[int]time.Duration{1: time.Minute}}
			notifier := &fakeNotifier{ticketID: 42}
			s, q := newTestScheduler(store, steps, notifier)

			payload, _ := json.Marshal(AlarmCreatedPayload{AlarmID: "alarm-1"})
			require.NoError(t, s.HandleAlarmCreated(context.Background(), payload))

			// 入队后报警已被处理：不建工单、不发第 0 级、不调度第 1 级
			assert.Empty(t, store.ticketIDs)
			assert.Empty(t, notifier.steps)
			assert.Empty(t, q.jobs)
		})
	}
}

func TestHandleAlarmCreated_Missing(t *testing.T) {
	store := &fakeAlarmStore{alarms: map[string]*models.Alarm{}}
	s, _ := newTestScheduler(store, &fakeStepSource{}, &fakeNotifier{})

	payload, _ := json.Marshal(AlarmCreatedPayload{AlarmID: "ghost"})
	// 报警不存在：丢日志返回 nil，不让任务反复报错
	assert.NoError(t, s.HandleAlarmCreated(context.Background(), payload))
}

func TestHandleEscalate(t *testing.T) {
	store := &fakeAlarmStore{alarms: map[string]*models.Alarm{"alarm-1": testAlarm(models.StatusTriggered)}}
	steps := &fakeStepSource{delays: map[int]time.Duration{2: 5 * time.Minute}}
	notifier := &fakeNotifier{}
	s, q := newTestScheduler(store, steps, notifier)

	payload, _ := json.Marshal(EscalatePayload{AlarmID: "alarm-1", StepNo: 1})
	require.NoError(t, s.HandleEscalate(context.Background(), payload))

	require.Len(t, notifier.steps, 1)
	assert.Equal(t, 1, notifier.steps[0].stepNo)

	// 下一步已链式调度
	require.Len(t, q.jobs, 1)
	assert.Equal(t, EscalatePayload{AlarmID: "alarm-1", StepNo: 2}, q.jobs[0].payload)
	assert.Equal(t, 5*time.Minute, q.jobs[0].delay)
}

func TestHandleEscalate_SkipsWhenNotTriggered(t *testing.T) {
	for _, status := range []models.Status{models.StatusAcknowledged, models.StatusResolved, models.StatusCancelled} {
		t.Run(string(status), func(t *testing.T) {
			store := &fakeAlarmStore{alarms: map[string]*models.Alarm{"alarm-1": testAlarm(status)}}
			steps := &fakeStepSource{delays: map[int]time.Duration{2: time.Minute}}
			notifier := &fakeNotifier{}
			s, q := newTestScheduler(store, steps, notifier)

			payload, _ := json.Marshal(EscalatePayload{AlarmID: "alarm-1", StepNo: 1})
			require.NoError(t, s.HandleEscalate(context.Background(), payload))

			// 报警已被处理：不发通知，也不再调度
			assert.Empty(t, notifier.steps)
			assert.Empty(t, q.jobs)
		})
	}
}

func TestHandleAlarmAcked(t *testing.T) {
	alarm := testAlarm(models.StatusAcknowledged)
	ticketID := 42
	alarm.ZammadTicketID = &ticketID
	ackedAt := time.Now().UTC()
	alarm.AckedAt = &ackedAt

	store := &fakeAlarmStore{alarms: map[string]*models.Alarm{"alarm-1": alarm}}
	notifier := &fakeNotifier{}
	s, _ := newTestScheduler(store, &fakeStepSource{}, notifier)

	ackedBy := "Schwester Anna"
	payload, _ := json.Marshal(AlarmAckedPayload{AlarmID: "alarm-1", AckedBy: &ackedBy})
	require.NoError(t, s.HandleAlarmAcked(context.Background(), payload))

	assert.Equal(t, 1, notifier.ackNotes)
}

func TestHandleAlarmAcked_NoTicket(t *testing.T) {
	store := &fakeAlarmStore{alarms: map[string]*models.Alarm{"alarm-1": testAlarm(models.StatusAcknowledged)}}
	notifier := &fakeNotifier{}
	s, _ := newTestScheduler(store, &fakeStepSource{}, notifier)

	payload, _ := json.Marshal(AlarmAckedPayload{AlarmID: "alarm-1"})
	require.NoError(t, s.HandleAlarmAcked(context.Background(), payload))

	assert.Equal(t, 0, notifier.ackNotes)
}

func TestHandlerPayloadDecodeError(t *testing.T) {
	s, _ := newTestScheduler(&fakeAlarmStore{}, &fakeStepSource{}, &fakeNotifier{})

	assert.Error(t, s.HandleAlarmCreated(context.Background(), json.RawMessage(`{bad`)))
	assert.Error(t, s.HandleEscalate(context.Background(), json.RawMessage(`{bad`)))
	assert.Error(t, s.HandleAlarmAcked(context.Background(), json.RawMessage(`{bad`)))
}
