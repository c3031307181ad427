package notification_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"notifgate/internal/common"
	"notifgate/internal/domain/client"
	"notifgate/internal/domain/notification"
	"notifgate/internal/infra/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// barrierStore holds every CountInWindow caller until n of them have counted,
// so all of them observe the log before anyone appends.
type barrierStore struct {
	*store.MemoryStore
	counted sync.WaitGroup
}

func newBarrierStore(n int) *barrierStore {
	s := &barrierStore{MemoryStore: store.NewMemoryStore()}
	s.counted.Add(n)
	return s
}

func (s *barrierStore) CountInWindow(ctx context.Context, clientID, typeName string, after, upTo time.Time) (int, error) {
	n, err := s.MemoryStore.CountInWindow(ctx, clientID, typeName, after, upTo)
	s.counted.Done()
	s.counted.Wait()
	return n, err
}

// sendConcurrently fires n sends for the same pair and returns how many succeeded.
func sendConcurrently(t *testing.T, svc *notification.Service, clientID, typeName string, n int) int {
	t.Helper()

	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		sent   int
		failed []error
	)
	start := make(chan struct{})
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := svc.Send(context.Background(), &notification.SendRequest{Type: typeName, ClientID: clientID})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				sent++
			case !assert.ErrorIs(t, err, common.ErrRateLimitExceeded):
				failed = append(failed, err)
			}
		}()
	}
	close(start)
	wg.Wait()

	assert.Empty(t, failed)
	return sent
}

func TestNoGuard_ConcurrentSendsCanOvershoot(t *testing.T) {
	const n = 5
	st := newBarrierStore(n)
	clients := client.NewService(st, nil, nil)
	svc := notification.NewService(st, clients, notification.Options{Guard: notification.NewNoGuard(st)})
	ctx := context.Background()

	c, err := clients.Create(ctx, "a@example.com")
	require.NoError(t, err)
	_, err = svc.CreateType(ctx, &notification.TypeRequest{Name: "News", MaxOccurrences: 1, WindowMinutes: 60})
	require.NoError(t, err)

	sent := sendConcurrently(t, svc, c.ID, "News", n)
	assert.Equal(t, n, sent, "every racer saw an empty log and appended")
}

func TestKeyedGuard_ConcurrentSendsRespectLimit(t *testing.T) {
	const (
		n     = 50
		limit = 3
	)
	st := store.NewMemoryStore()
	clients := client.NewService(st, nil, nil)
	svc := notification.NewService(st, clients, notification.Options{Guard: notification.NewKeyedGuard(st)})
	ctx := context.Background()

	c, err := clients.Create(ctx, "a@example.com")
	require.NoError(t, err)
	_, err = svc.CreateType(ctx, &notification.TypeRequest{Name: "News", MaxOccurrences: limit, WindowMinutes: 60})
	require.NoError(t, err)

	sent := sendConcurrently(t, svc, c.ID, "News", n)
	assert.Equal(t, limit, sent)

	list, err := svc.ListRecords(ctx, notification.ListFilter{ClientID: c.ID, Type: "News"})
	require.NoError(t, err)
	assert.Equal(t, limit, list.Total)
}

func TestKeyedGuard_PairsDoNotShareLimit(t *testing.T) {
	st := store.NewMemoryStore()
	clients := client.NewService(st, nil, nil)
	svc := notification.NewService(st, clients, notification.Options{Guard: notification.NewKeyedGuard(st)})
	ctx := context.Background()

	_, err := svc.CreateType(ctx, &notification.TypeRequest{Name: "News", MaxOccurrences: 2, WindowMinutes: 60})
	require.NoError(t, err)

	var ids []string
	for _, email := range []string{"a@example.com", "b@example.com", "c@example.com"} {
		c, err := clients.Create(ctx, email)
		require.NoError(t, err)
		ids = append(ids, c.ID)
	}

	var wg sync.WaitGroup
	results := make([]int, len(ids))
	for i, id := range ids {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i] = sendConcurrently(t, svc, id, "News", 10)
		}()
	}
	wg.Wait()

	assert.Equal(t, []int{2, 2, 2}, results)
}
