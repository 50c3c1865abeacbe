/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package valentine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2026, 2, 14, 12, 0, 0, 0, time.UTC)

// countingStore records how many claim writes reach the backend.
type countingStore struct {
	*MemoryStore

	mu     sync.Mutex
	claims int
}

func (c *countingStore) ClaimReceiver(ctx context.Context, id, visitorID string, at time.Time) (Record, bool, error) {
	c.mu.Lock()
	c.claims++
	c.mu.Unlock()

	return c.MemoryStore.ClaimReceiver(ctx, id, visitorID, at)
}

type failingStore struct {
	*MemoryStore
	err error
}

func (f *failingStore) SubmitChoice(context.Context, string, string, Choice, time.Time) (Record, bool, error) {
	return Record{}, false, Persistence("submit choice", f.err)
}

func newTestService(t *testing.T, store Store) (*Service, *Broker) {
	t.Helper()

	broker := NewBroker(8)
	t.Cleanup(broker.Close)

	svc := NewService(store, broker,
		WithClock(func() time.Time { return testNow }),
	)
	return svc, broker
}

func createAmyBo(t *testing.T, svc *Service) Record {
	t.Helper()

	rec, err := svc.Create(context.Background(), "S", Draft{
		SenderName:   "Amy",
		ReceiverName: "Bo",
		Character:    "otter",
	})
	require.NoError(t, err)
	return rec
}

func TestScenarioCreateThenFetch(t *testing.T) {
	svc, _ := newTestService(t, NewMemoryStore())
	ctx := context.Background()

	rec := createAmyBo(t, svc)

	got, err := svc.Fetch(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusSent, got.Status)
	assert.Nil(t, got.ReceiverChoice)
	assert.Nil(t, got.ReceiverVisitorID)
	assert.Equal(t, "S", got.SenderVisitorID)
	assert.Equal(t, Yes, got.SenderChoice)
}

func TestScenarioFirstVisitorClaims(t *testing.T) {
	store := &countingStore{MemoryStore: NewMemoryStore()}
	svc, _ := newTestService(t, store)
	ctx := context.Background()
	rec := createAmyBo(t, svc)

	view, err := svc.Open(ctx, rec.ID, "V1")
	require.NoError(t, err)
	assert.Equal(t, RoleReceiver, view.Role)
	assert.Equal(t, StatusOpened, view.Record.Status)

	got, err := svc.Fetch(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusOpened, got.Status)
	require.NotNil(t, got.ReceiverVisitorID)
	assert.Equal(t, "V1", *got.ReceiverVisitorID)
	require.NotNil(t, got.OpenedAt)
	assert.Equal(t, testNow, *got.OpenedAt)

	view, err = svc.Open(ctx, rec.ID, "V1")
	require.NoError(t, err)
	assert.Equal(t, RoleReceiver, view.Role)
	assert.Equal(t, 1, store.claims, "second open must not claim again")
}

func TestSenderOpenDoesNotClaim(t *testing.T) {
	store := &countingStore{MemoryStore: NewMemoryStore()}
	svc, _ := newTestService(t, store)
	rec := createAmyBo(t, svc)

	view, err := svc.Open(context.Background(), rec.ID, "S")
	require.NoError(t, err)
	assert.Equal(t, RoleSender, view.Role)
	assert.Equal(t, StatusSent, view.Record.Status)
	assert.Zero(t, store.claims)
}

func TestScenarioReceiverAnswersNo(t *testing.T) {
	svc, _ := newTestService(t, NewMemoryStore())
	ctx := context.Background()
	rec := createAmyBo(t, svc)

	_, err := svc.Open(ctx, rec.ID, "V1")
	require.NoError(t, err)

	view, err := svc.SubmitChoice(ctx, rec.ID, "V1", No)
	require.NoError(t, err)
	assert.Equal(t, RoleReceiver, view.Role)

	got, err := svc.Fetch(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusComplete, got.Status)
	require.NotNil(t, got.ReceiverChoice)
	assert.Equal(t, No, *got.ReceiverChoice)
	assert.NotNil(t, got.CompletedAt)
}

func TestSubmitChoiceRoundTripYes(t *testing.T) {
	svc, _ := newTestService(t, NewMemoryStore())
	ctx := context.Background()
	rec := createAmyBo(t, svc)

	_, err := svc.Open(ctx, rec.ID, "V1")
	require.NoError(t, err)
	_, err = svc.SubmitChoice(ctx, rec.ID, "V1", Yes)
	require.NoError(t, err)

	got, err := svc.Fetch(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusComplete, got.Status)
	assert.Equal(t, Yes, *got.ReceiverChoice)
	assert.NotNil(t, got.CompletedAt)
}

func TestScenarioStranger(t *testing.T) {
	svc, _ := newTestService(t, NewMemoryStore())
	ctx := context.Background()
	rec := createAmyBo(t, svc)

	_, err := svc.Open(ctx, rec.ID, "V1")
	require.NoError(t, err)

	view, err := svc.Open(ctx, rec.ID, "V2")
	require.NoError(t, err)
	assert.Equal(t, RoleStranger, view.Role)
	assert.Equal(t, "V1", *view.Record.ReceiverVisitorID)

	_, err = svc.SubmitChoice(ctx, rec.ID, "V2", Yes)
	assert.ErrorIs(t, err, ErrNotReceiver)
}

func TestScenarioSubscriberSeesCompletion(t *testing.T) {
	svc, _ := newTestService(t, NewMemoryStore())
	ctx := context.Background()
	rec := createAmyBo(t, svc)

	_, err := svc.Open(ctx, rec.ID, "V1")
	require.NoError(t, err)

	tab1 := svc.Watch(rec.ID)
	defer tab1.Cancel()
	tab2 := svc.Watch(rec.ID)
	defer tab2.Cancel()

	_, err = svc.SubmitChoice(ctx, rec.ID, "V1", Yes)
	require.NoError(t, err)

	a := receive(t, tab1)
	b := receive(t, tab2)
	assert.Equal(t, StatusComplete, b.Status)
	assert.Equal(t, a, b)
}

func TestSubmitChoiceIdempotent(t *testing.T) {
	svc, _ := newTestService(t, NewMemoryStore())
	ctx := context.Background()
	rec := createAmyBo(t, svc)

	_, err := svc.Open(ctx, rec.ID, "V1")
	require.NoError(t, err)

	first, err := svc.SubmitChoice(ctx, rec.ID, "V1", Yes)
	require.NoError(t, err)

	sub := svc.Watch(rec.ID)
	defer sub.Cancel()

	second, err := svc.SubmitChoice(ctx, rec.ID, "V1", Yes)
	require.NoError(t, err)
	assert.Equal(t, first.Record, second.Record)
	assertQuiet(t, sub)

	_, err = svc.SubmitChoice(ctx, rec.ID, "V1", No)
	assert.ErrorIs(t, err, ErrAlreadyDecided)
}

func TestSenderCannotAnswer(t *testing.T) {
	svc, _ := newTestService(t, NewMemoryStore())
	rec := createAmyBo(t, svc)

	_, err := svc.SubmitChoice(context.Background(), rec.ID, "S", Yes)
	assert.ErrorIs(t, err, ErrNotReceiver)
}

func TestAnswerWithoutOpenSkipsOpened(t *testing.T) {
	svc, _ := newTestService(t, NewMemoryStore())
	ctx := context.Background()
	rec := createAmyBo(t, svc)

	view, err := svc.SubmitChoice(ctx, rec.ID, "V1", Yes)
	require.NoError(t, err)
	assert.Equal(t, StatusComplete, view.Record.Status)
	assert.Equal(t, "V1", *view.Record.ReceiverVisitorID)
	assert.Nil(t, view.Record.OpenedAt)
}

func TestOpenUnknown(t *testing.T) {
	svc, _ := newTestService(t, NewMemoryStore())

	_, err := svc.Open(context.Background(), "missing", "V1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestConcurrentClaimsBindOneReceiver(t *testing.T) {
	svc, _ := newTestService(t, NewMemoryStore())
	ctx := context.Background()
	rec := createAmyBo(t, svc)

	visitors := []string{"V1", "V2", "V3", "V4", "V5", "V6", "V7", "V8"}
	roles := make([]Role, len(visitors))

	var wg sync.WaitGroup
	for i, v := range visitors {
		wg.Add(1)
		go func(i int, v string) {
			defer wg.Done()
			view, err := svc.Open(ctx, rec.ID, v)
			if err != nil {
				t.Errorf("open %s: %v", v, err)
				return
			}
			roles[i] = view.Role
		}(i, v)
	}
	wg.Wait()

	receivers := 0
	for _, r := range roles {
		if r == RoleReceiver {
			receivers++
		} else {
			assert.Equal(t, RoleStranger, r)
		}
	}
	assert.Equal(t, 1, receivers)
}

func TestSubmitChoicePersistenceError(t *testing.T) {
	store := &failingStore{MemoryStore: NewMemoryStore(), err: errors.New("connection reset")}
	svc, _ := newTestService(t, store)
	rec := createAmyBo(t, svc)

	_, err := svc.SubmitChoice(context.Background(), rec.ID, "V1", Yes)
	require.Error(t, err)
	assert.True(t, IsRetryable(err))
}

func TestCreatePublishesCount(t *testing.T) {
	svc, _ := newTestService(t, NewMemoryStore())
	cs := svc.WatchCount()
	defer cs.Cancel()

	createAmyBo(t, svc)
	createAmyBo(t, svc)

	assert.EqualValues(t, 1, <-cs.C())
	assert.EqualValues(t, 2, <-cs.C())

	n, err := svc.Count(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)
}

func TestStatusNeverRegressesAcrossSnapshots(t *testing.T) {
	svc, _ := newTestService(t, NewMemoryStore())
	ctx := context.Background()
	rec := createAmyBo(t, svc)

	sub := svc.Watch(rec.ID)
	defer sub.Cancel()

	_, err := svc.Open(ctx, rec.ID, "V1")
	require.NoError(t, err)
	_, err = svc.SubmitChoice(ctx, rec.ID, "V1", Yes)
	require.NoError(t, err)

	prev := StatusSent
	for n := 0; n < 2; n++ {
		got := receive(t, sub)
		assert.False(t, got.Status.Before(prev))
		prev = got.Status
	}
	assert.Equal(t, StatusComplete, prev)
}
