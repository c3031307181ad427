package notification_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"notifgate/internal/domain/client"
	"notifgate/internal/domain/notification"
	"notifgate/internal/infra/store"

	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// clock is a manually advanced time source.
type clock struct {
	mu  sync.Mutex
	now time.Time
}

func newClock(at time.Time) *clock { return &clock{now: at} }

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Set(at time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = at
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fixture struct {
	store   *store.MemoryStore
	clients *client.Service
	svc     *notification.Service
	clock   *clock
}

// newFixture wires a service over a fresh memory store. opts.Now is always
// replaced by the fixture clock.
func newFixture(t *testing.T, opts notification.Options) *fixture {
	t.Helper()

	st := store.NewMemoryStore()
	clk := newClock(t0)
	st.SetClock(clk.Now)
	opts.Now = clk.Now

	clients := client.NewService(st, clk.Now, nil)
	return &fixture{
		store:   st,
		clients: clients,
		svc:     notification.NewService(st, clients, opts),
		clock:   clk,
	}
}

func (f *fixture) addClient(t *testing.T, email string) *client.Client {
	t.Helper()
	c, err := f.clients.Create(context.Background(), email)
	require.NoError(t, err)
	return c
}

func (f *fixture) addType(t *testing.T, name string, maxOccurrences, windowMinutes int) *notification.Type {
	t.Helper()
	nt, err := f.svc.CreateType(context.Background(), &notification.TypeRequest{
		Name:           name,
		MaxOccurrences: maxOccurrences,
		WindowMinutes:  windowMinutes,
	})
	require.NoError(t, err)
	return nt
}

func (f *fixture) send(clientID, typeName string) (*notification.SendResult, error) {
	return f.svc.Send(context.Background(), &notification.SendRequest{
		Type:     typeName,
		ClientID: clientID,
		Message:  "hello",
	})
}

func (f *fixture) count(t *testing.T, clientID, typeName string) int {
	t.Helper()
	list, err := f.svc.ListRecords(context.Background(), notification.ListFilter{ClientID: clientID, Type: typeName, PageSize: 100})
	require.NoError(t, err)
	return list.Total
}

type fakeEnqueuer struct {
	mu  sync.Mutex
	ids []string
	err error
}

func (e *fakeEnqueuer) EnqueueDelivery(recordID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.err != nil {
		return e.err
	}
	e.ids = append(e.ids, recordID)
	return nil
}

func (e *fakeEnqueuer) enqueued() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.ids...)
}

type fakePublisher struct {
	mu     sync.Mutex
	events []notification.Event
}

func (p *fakePublisher) Publish(_ context.Context, evt notification.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, evt)
	return nil
}

type fakeMetrics struct {
	mu       sync.Mutex
	outcomes map[string]int
	checks   int
}

func (m *fakeMetrics) ObserveSend(outcome string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.outcomes == nil {
		m.outcomes = make(map[string]int)
	}
	m.outcomes[outcome]++
}

func (m *fakeMetrics) ObserveRateCheck(time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checks++
}

var errBoom = errors.New("boom")
