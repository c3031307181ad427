package notification_test

import (
	"context"
	"errors"
	"math"
	"strings"
	"testing"
	"time"

	"notifgate/internal/common"
	"notifgate/internal/domain/notification"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateType_Validation(t *testing.T) {
	f := newFixture(t, notification.Options{})
	ctx := context.Background()

	tests := []struct {
		name    string
		req     notification.TypeRequest
		wantErr error
	}{
		{name: "valid", req: notification.TypeRequest{Name: "News", MaxOccurrences: 1, WindowMinutes: 1440}},
		{name: "blank name", req: notification.TypeRequest{Name: "   ", MaxOccurrences: 1, WindowMinutes: 1}, wantErr: common.ErrInvalidInput},
		{name: "name too long", req: notification.TypeRequest{Name: strings.Repeat("x", 255), MaxOccurrences: 1, WindowMinutes: 1}, wantErr: common.ErrInvalidInput},
		{name: "zero max", req: notification.TypeRequest{Name: "A", MaxOccurrences: 0, WindowMinutes: 1}, wantErr: common.ErrInvalidPolicy},
		{name: "negative window", req: notification.TypeRequest{Name: "B", MaxOccurrences: 1, WindowMinutes: -5}, wantErr: common.ErrInvalidPolicy},
		{name: "window beyond duration range", req: notification.TypeRequest{Name: "C", MaxOccurrences: 1, WindowMinutes: math.MaxInt32}, wantErr: common.ErrInvalidPolicy},
		{name: "longest window", req: notification.TypeRequest{Name: "D", MaxOccurrences: 1, WindowMinutes: int(notification.MaxWindowMinutes)}},
		{name: "duplicate", req: notification.TypeRequest{Name: "News", MaxOccurrences: 3, WindowMinutes: 3}, wantErr: common.ErrDuplicateType},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.CreateType(ctx, &tt.req)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestCreateType_TrimsName(t *testing.T) {
	f := newFixture(t, notification.Options{})

	nt := f.addType(t, "  Marketing ", 3, 60)
	assert.Equal(t, "Marketing", nt.Name)
	assert.Equal(t, t0, nt.CreatedAt)

	got, err := f.svc.GetType(context.Background(), "Marketing")
	require.NoError(t, err)
	assert.Equal(t, 3, got.MaxOccurrences)
	assert.Equal(t, 60, got.WindowMinutes)
}

func TestEditType(t *testing.T) {
	f := newFixture(t, notification.Options{})
	ctx := context.Background()
	f.addType(t, "News", 1, 1440)

	f.clock.Advance(time.Minute)
	updated, err := f.svc.EditType(ctx, "News", &notification.PolicyRequest{MaxOccurrences: 2, WindowMinutes: 60})
	require.NoError(t, err)
	assert.Equal(t, 2, updated.MaxOccurrences)
	assert.Equal(t, 60, updated.WindowMinutes)
	assert.Equal(t, t0.Add(time.Minute), updated.UpdatedAt)

	_, err = f.svc.EditType(ctx, "Ghost", &notification.PolicyRequest{MaxOccurrences: 1, WindowMinutes: 1})
	assert.ErrorIs(t, err, common.ErrTypeNotFound)

	_, err = f.svc.EditType(ctx, "News", &notification.PolicyRequest{MaxOccurrences: 0, WindowMinutes: 1})
	assert.ErrorIs(t, err, common.ErrInvalidPolicy)

	_, err = f.svc.EditType(ctx, "News", &notification.PolicyRequest{MaxOccurrences: 1, WindowMinutes: math.MaxInt32})
	assert.ErrorIs(t, err, common.ErrInvalidPolicy)
}

func TestSend_LongestWindowStillLimits(t *testing.T) {
	f := newFixture(t, notification.Options{})
	c := f.addClient(t, "a@example.com")
	f.addType(t, "Forever", 1, int(notification.MaxWindowMinutes))

	_, err := f.send(c.ID, "Forever")
	require.NoError(t, err)

	f.clock.Advance(100 * 365 * 24 * time.Hour)
	_, err = f.send(c.ID, "Forever")
	assert.ErrorIs(t, err, common.ErrRateLimitExceeded)
	assert.Equal(t, 1, f.count(t, c.ID, "Forever"))
}

func TestType_WindowSaturates(t *testing.T) {
	nt := &notification.Type{WindowMinutes: math.MaxInt32}
	assert.Equal(t, time.Duration(notification.MaxWindowMinutes)*time.Minute, nt.Window())
	assert.Positive(t, nt.Window())
}

func TestSend_TrimsTypeName(t *testing.T) {
	f := newFixture(t, notification.Options{})
	c := f.addClient(t, "a@example.com")
	f.addType(t, " News ", 1, 60)

	res, err := f.send(c.ID, " News")
	require.NoError(t, err)
	assert.Equal(t, "News", res.Record.TypeName)

	_, err = f.send(c.ID, "News ")
	assert.ErrorIs(t, err, common.ErrRateLimitExceeded)
}

func TestGetType_NotFound(t *testing.T) {
	f := newFixture(t, notification.Options{})

	_, err := f.svc.GetType(context.Background(), "Ghost")
	var nf *common.NotFoundError
	require.True(t, errors.As(err, &nf))
	assert.Equal(t, "Ghost", nf.ID)
}

func TestDeleteType(t *testing.T) {
	f := newFixture(t, notification.Options{})
	ctx := context.Background()
	c := f.addClient(t, "a@example.com")
	f.addType(t, "News", 1, 1)
	f.addType(t, "Unused", 1, 1)

	_, err := f.send(c.ID, "News")
	require.NoError(t, err)

	assert.ErrorIs(t, f.svc.DeleteType(ctx, "News"), common.ErrTypeInUse)
	assert.NoError(t, f.svc.DeleteType(ctx, "Unused"))
	assert.ErrorIs(t, f.svc.DeleteType(ctx, "Unused"), common.ErrTypeNotFound)

	types, err := f.svc.ListTypes(ctx)
	require.NoError(t, err)
	require.Len(t, types, 1)
	assert.Equal(t, "News", types[0].Name)
}

func TestSend_AllowsUpToMax(t *testing.T) {
	f := newFixture(t, notification.Options{})
	c := f.addClient(t, "a@example.com")
	f.addType(t, "Status", 2, 1)

	for i := 0; i < 2; i++ {
		res, err := f.send(c.ID, "Status")
		require.NoError(t, err)
		require.True(t, res.Sent)
		assert.Equal(t, c.ID, res.Record.ClientID)
		assert.Equal(t, "Status", res.Record.TypeName)
		assert.Equal(t, t0, res.Record.SentAt)
		f.clock.Advance(10 * time.Second)
	}

	_, err := f.send(c.ID, "Status")
	assert.ErrorIs(t, err, common.ErrRateLimitExceeded)

	var limited *common.RateLimitError
	require.True(t, errors.As(err, &limited))
	assert.Equal(t, 40*time.Second, limited.RetryAfter)
	assert.Equal(t, 2, f.count(t, c.ID, "Status"), "a denied send must not append")
}

func TestSend_WindowBoundary(t *testing.T) {
	f := newFixture(t, notification.Options{})
	c := f.addClient(t, "a@example.com")
	f.addType(t, "News", 1, 1440)

	_, err := f.send(c.ID, "News")
	require.NoError(t, err)

	f.clock.Set(t0.Add(24*time.Hour - time.Nanosecond))
	_, err = f.send(c.ID, "News")
	assert.ErrorIs(t, err, common.ErrRateLimitExceeded)

	// A record exactly one window old no longer counts.
	f.clock.Set(t0.Add(24 * time.Hour))
	res, err := f.send(c.ID, "News")
	require.NoError(t, err)
	assert.True(t, res.Sent)
	assert.Equal(t, 2, f.count(t, c.ID, "News"))
}

func TestSend_CountersAreIndependent(t *testing.T) {
	f := newFixture(t, notification.Options{})
	alice := f.addClient(t, "alice@example.com")
	bob := f.addClient(t, "bob@example.com")
	f.addType(t, "News", 1, 1440)
	f.addType(t, "Status", 1, 1440)

	_, err := f.send(alice.ID, "News")
	require.NoError(t, err)

	_, err = f.send(alice.ID, "Status")
	assert.NoError(t, err, "another type has its own counter")
	_, err = f.send(bob.ID, "News")
	assert.NoError(t, err, "another client has its own counter")

	_, err = f.send(alice.ID, "News")
	assert.ErrorIs(t, err, common.ErrRateLimitExceeded)
}

func TestSend_ResolvesClientBeforeType(t *testing.T) {
	f := newFixture(t, notification.Options{})
	c := f.addClient(t, "a@example.com")

	_, err := f.send("missing-client", "MissingType")
	assert.ErrorIs(t, err, common.ErrClientNotFound)

	_, err = f.send(c.ID, "MissingType")
	assert.ErrorIs(t, err, common.ErrUnknownNotificationType)

	assert.Equal(t, 0, f.count(t, "", ""))
}

func TestSend_PolicyEditAppliesToNextSend(t *testing.T) {
	f := newFixture(t, notification.Options{})
	ctx := context.Background()
	c := f.addClient(t, "a@example.com")
	f.addType(t, "News", 1, 1440)

	_, err := f.send(c.ID, "News")
	require.NoError(t, err)
	_, err = f.send(c.ID, "News")
	require.ErrorIs(t, err, common.ErrRateLimitExceeded)

	_, err = f.svc.EditType(ctx, "News", &notification.PolicyRequest{MaxOccurrences: 2, WindowMinutes: 1440})
	require.NoError(t, err)
	_, err = f.send(c.ID, "News")
	assert.NoError(t, err)

	// Shrinking the window drops earlier records out of the count.
	_, err = f.svc.EditType(ctx, "News", &notification.PolicyRequest{MaxOccurrences: 2, WindowMinutes: 1})
	require.NoError(t, err)
	f.clock.Advance(time.Minute)
	_, err = f.send(c.ID, "News")
	assert.NoError(t, err)
}

func TestSend_PermissiveMode(t *testing.T) {
	pub := &fakePublisher{}
	f := newFixture(t, notification.Options{Mode: notification.ModePermissive, Publisher: pub})
	c := f.addClient(t, "a@example.com")
	f.addType(t, "News", 1, 1440)

	_, err := f.send(c.ID, "News")
	require.NoError(t, err)

	res, err := f.send(c.ID, "News")
	require.NoError(t, err)
	assert.False(t, res.Sent)
	assert.Nil(t, res.Record)
	assert.Contains(t, res.Reason, "rate limit exceeded")
	assert.Equal(t, 1, f.count(t, c.ID, "News"))

	require.Len(t, pub.events, 2)
	assert.Equal(t, notification.EventSent, pub.events[0].Type)
	assert.Equal(t, notification.EventDenied, pub.events[1].Type)
	assert.Empty(t, pub.events[1].RecordID)

	_, err = f.send("missing", "News")
	assert.ErrorIs(t, err, common.ErrClientNotFound, "permissive mode only softens denials")
}

func TestSend_Metrics(t *testing.T) {
	m := &fakeMetrics{}
	f := newFixture(t, notification.Options{Metrics: m})
	c := f.addClient(t, "a@example.com")
	f.addType(t, "News", 1, 1440)

	_, _ = f.send(c.ID, "News")
	_, _ = f.send(c.ID, "News")
	_, _ = f.send("missing", "News")
	_, _ = f.send(c.ID, "Ghost")

	assert.Equal(t, map[string]int{
		notification.OutcomeSent:           1,
		notification.OutcomeDenied:         1,
		notification.OutcomeClientNotFound: 1,
		notification.OutcomeUnknownType:    1,
	}, m.outcomes)
	assert.Equal(t, 2, m.checks)
}

func TestSend_QueuesDelivery(t *testing.T) {
	enq := &fakeEnqueuer{}
	f := newFixture(t, notification.Options{Enqueuer: enq})
	c := f.addClient(t, "a@example.com")
	f.addType(t, "News", 5, 60)

	res, err := f.send(c.ID, "News")
	require.NoError(t, err)
	assert.Equal(t, []string{res.Record.ID}, enq.enqueued())

	d, err := f.svc.GetDelivery(context.Background(), res.Record.ID)
	require.NoError(t, err)
	assert.Equal(t, notification.StatusQueued, d.Status)

	// An enqueue failure leaves the delivery queued for the reaper but the send stands.
	enq.err = errBoom
	res, err = f.send(c.ID, "News")
	require.NoError(t, err)
	assert.True(t, res.Sent)
	d, err = f.svc.GetDelivery(context.Background(), res.Record.ID)
	require.NoError(t, err)
	assert.Equal(t, notification.StatusQueued, d.Status)
}

func TestSend_NoDeliveryWithoutEnqueuer(t *testing.T) {
	f := newFixture(t, notification.Options{})
	c := f.addClient(t, "a@example.com")
	f.addType(t, "News", 1, 60)

	res, err := f.send(c.ID, "News")
	require.NoError(t, err)

	_, err = f.svc.GetDelivery(context.Background(), res.Record.ID)
	assert.ErrorIs(t, err, common.ErrRecordNotFound)
}

func TestGetRecord(t *testing.T) {
	f := newFixture(t, notification.Options{})
	c := f.addClient(t, "a@example.com")
	f.addType(t, "News", 1, 60)

	res, err := f.send(c.ID, "News")
	require.NoError(t, err)

	got, err := f.svc.GetRecord(context.Background(), res.Record.ID)
	require.NoError(t, err)
	assert.Equal(t, res.Record, got)

	_, err = f.svc.GetRecord(context.Background(), "missing")
	assert.ErrorIs(t, err, common.ErrRecordNotFound)
}

func TestListRecords_Pagination(t *testing.T) {
	f := newFixture(t, notification.Options{})
	c := f.addClient(t, "a@example.com")
	f.addType(t, "Status", 100, 60)

	for i := 0; i < 5; i++ {
		_, err := f.send(c.ID, "Status")
		require.NoError(t, err)
		f.clock.Advance(time.Second)
	}

	resp, err := f.svc.ListRecords(context.Background(), notification.ListFilter{Page: 2, PageSize: 2})
	require.NoError(t, err)
	assert.Equal(t, 5, resp.Total)
	assert.Equal(t, 2, resp.Page)
	require.Len(t, resp.Notifications, 2)
	assert.Equal(t, t0.Add(2*time.Second), resp.Notifications[0].SentAt, "newest first")

	resp, err = f.svc.ListRecords(context.Background(), notification.ListFilter{PageSize: 1000})
	require.NoError(t, err)
	assert.Equal(t, 1, resp.Page)
	assert.Equal(t, 20, resp.PageSize)
}

func TestHandleWebhookEvent(t *testing.T) {
	f := newFixture(t, notification.Options{Enqueuer: &fakeEnqueuer{}})
	ctx := context.Background()
	c := f.addClient(t, "a@example.com")
	f.addType(t, "News", 1, 60)

	res, err := f.send(c.ID, "News")
	require.NoError(t, err)
	require.NoError(t, f.store.UpdateDeliveryStatus(ctx, res.Record.ID, notification.StatusSent, "re_123", ""))

	assert.ErrorIs(t, f.svc.HandleWebhookEvent(ctx, "", notification.StatusDelivered), common.ErrInvalidInput)

	require.NoError(t, f.svc.HandleWebhookEvent(ctx, "re_123", notification.StatusDelivered))
	d, err := f.svc.GetDelivery(ctx, res.Record.ID)
	require.NoError(t, err)
	assert.Equal(t, notification.StatusDelivered, d.Status)
	assert.Equal(t, "re_123", d.ProviderID)
}
