package notify

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"

	"github.com/emilythestrangee/campusnet/backend/internal/backend"
	"github.com/emilythestrangee/campusnet/backend/internal/config"
	"github.com/emilythestrangee/campusnet/backend/internal/models"
	"github.com/emilythestrangee/campusnet/backend/internal/observability"
	"github.com/emilythestrangee/campusnet/backend/internal/service"
)

type recordingSender struct {
	mu   sync.Mutex
	sent []Message
	err  error
}

func (*recordingSender) Name() string { return "test" }

func (s *recordingSender) Send(_ context.Context, m Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	if m.Phone == "" {
		return ErrNoRecipient
	}
	s.sent = append(s.sent, m)
	return nil
}

func (s *recordingSender) messages() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Message(nil), s.sent...)
}

func setup(t *testing.T, sender Sender) (*backend.Memory, *service.Services, *observability.Metrics) {
	t.Helper()
	mem := backend.NewMemory()
	svc := service.New(mem, nil, nil)
	metrics := observability.NewMetrics(prometheus.NewRegistry())

	d := NewDispatcher(mem, svc.Profiles, sender, metrics, nil)
	require.NoError(t, d.Start())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = d.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
		assert.Zero(t, mem.Subscribers())
	})
	return mem, svc, metrics
}

func seedProfile(mem *backend.Memory, phone string) string {
	id := uuid.NewString()
	row := backend.Row{"id": id, "username": id[:8], "display_name": "x", "university": "U", "department": "D"}
	if phone != "" {
		row["phone"] = phone
	}
	mem.Seed(backend.Profiles, row)
	return id
}

func TestDispatcherSendsToPhone(t *testing.T) {
	sender := &recordingSender{}
	mem, svc, metrics := setup(t, sender)
	user := seedProfile(mem, "+15555550100")
	content := "Alice commented on your post"

	_, err := svc.Notifications.Create(context.Background(), models.Notification{
		UserID:  user,
		Type:    models.NotificationComment,
		Title:   "New comment",
		Content: &content,
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool { return len(sender.messages()) == 1 }, time.Second, 5*time.Millisecond)
	m := sender.messages()[0]
	assert.Equal(t, "+15555550100", m.Phone)
	assert.Equal(t, "New comment: Alice commented on your post", m.Text())
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.NotificationsSentTotal.WithLabelValues("test", "success")))
}

func TestDispatcherSkipsUsersWithoutPhone(t *testing.T) {
	sender := &recordingSender{}
	mem, svc, metrics := setup(t, sender)
	withPhone := seedProfile(mem, "+15555550101")
	without := seedProfile(mem, "")

	for _, id := range []string{without, withPhone} {
		_, err := svc.Notifications.Create(context.Background(), models.Notification{UserID: id, Title: "Hi"})
		require.NoError(t, err)
	}

	require.Eventually(t, func() bool { return len(sender.messages()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, withPhone, sender.messages()[0].UserID)
	assert.Equal(t, 0.0, testutil.ToFloat64(metrics.NotificationsSentTotal.WithLabelValues("test", "error")))
}

func TestDispatcherCountsFailures(t *testing.T) {
	sender := &recordingSender{err: errors.New("rejected")}
	mem, svc, metrics := setup(t, sender)
	user := seedProfile(mem, "+15555550102")

	_, err := svc.Notifications.Create(context.Background(), models.Notification{UserID: user, Title: "Hi"})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return testutil.ToFloat64(metrics.NotificationsSentTotal.WithLabelValues("test", "error")) == 1
	}, time.Second, 5*time.Millisecond)
}

func TestLogSender(t *testing.T) {
	assert.NoError(t, LogSender{}.Send(context.Background(), Message{Title: "t"}))
	assert.Equal(t, "t", Message{Title: "t"}.Text())
}

type fakeTwilio struct {
	params *twilioApi.CreateMessageParams
	err    error
}

func (f *fakeTwilio) CreateMessage(params *twilioApi.CreateMessageParams) (*twilioApi.ApiV2010Message, error) {
	f.params = params
	return &twilioApi.ApiV2010Message{}, f.err
}

func TestTwilioSender(t *testing.T) {
	api := &fakeTwilio{}
	s := &TwilioSender{api: api, from: "+15555550000"}

	assert.ErrorIs(t, s.Send(context.Background(), Message{Title: "t"}), ErrNoRecipient)
	assert.Nil(t, api.params)

	require.NoError(t, s.Send(context.Background(), Message{Phone: "+15555550103", Title: "New message", Body: "hey"}))
	require.NotNil(t, api.params)
	assert.Equal(t, "+15555550103", *api.params.To)
	assert.Equal(t, "+15555550000", *api.params.From)
	assert.Equal(t, "New message: hey", *api.params.Body)

	api.err = errors.New("20003 authenticate")
	assert.ErrorContains(t, s.Send(context.Background(), Message{Phone: "+15555550103", Title: "x"}), "failed to send sms")
}

func TestNewTwilioSender(t *testing.T) {
	s := NewTwilioSender(config.TwilioConfig{AccountSID: "AC123", AuthToken: "secret", From: "+15555550000"})
	assert.Equal(t, "twilio", s.Name())
	assert.NotNil(t, s.api)
}
