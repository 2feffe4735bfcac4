package notification

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"notifysync/internal/logging"
	"notifysync/internal/model"
)

// mockRemote is a mock implementation of the Remote interface.
type mockRemote struct {
	mu            sync.Mutex
	markReadCalls []string
	markAllCalls  []string
	MarkReadErr   error
	MarkAllErr    error
}

func (m *mockRemote) MarkRead(ctx context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.markReadCalls = append(m.markReadCalls, id)
	return m.MarkReadErr
}

func (m *mockRemote) MarkAllRead(ctx context.Context, userID string, at time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.markAllCalls = append(m.markAllCalls, userID)
	return 0, m.MarkAllErr
}

func newTestStore(t *testing.T, remote Remote) *Store {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	s := NewStore(remote, logging.Discard())
	s.now = func() time.Time { return t0.Add(time.Hour) }
	s.Start(ctx)
	return s
}

func TestStore_MarkReadIsOptimistic(t *testing.T) {
	remote := &mockRemote{MarkReadErr: assert.AnError}
	s := newTestStore(t, remote)
	require.NoError(t, s.LoadInitial([]model.Notification{rec("a", 0, false), rec("b", 1, false)}))

	err := s.MarkRead(context.Background(), "a")
	assert.ErrorIs(t, err, ErrReadStateWrite)
	assert.ErrorIs(t, err, assert.AnError)

	// No rollback on remote failure.
	records, unread := s.Snapshot()
	assert.Equal(t, 1, unread)
	assert.True(t, records[1].Read)
	require.NotNil(t, records[1].ReadAt)
	assert.True(t, records[1].ReadAt.Equal(t0.Add(time.Hour)))
	assert.Equal(t, []string{"a"}, remote.markReadCalls)
}

func TestStore_MarkReadAlreadyReadSkipsRemote(t *testing.T) {
	remote := &mockRemote{}
	s := newTestStore(t, remote)
	first := t0
	r := rec("a", 0, true)
	r.ReadAt = &first
	require.NoError(t, s.LoadInitial([]model.Notification{r}))

	require.NoError(t, s.MarkRead(context.Background(), "a"))

	records, _ := s.Snapshot()
	assert.True(t, records[0].ReadAt.Equal(first))
	assert.Empty(t, remote.markReadCalls)
}

func TestStore_MarkReadUnknown(t *testing.T) {
	remote := &mockRemote{}
	s := newTestStore(t, remote)

	err := s.MarkRead(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Empty(t, remote.markReadCalls)
}

func TestStore_MarkAllReadIssuesSingleRemoteCall(t *testing.T) {
	remote := &mockRemote{}
	s := newTestStore(t, remote)
	require.NoError(t, s.LoadInitial([]model.Notification{rec("a", 0, false), rec("b", 1, false), rec("c", 2, true)}))

	require.NoError(t, s.MarkAllRead(context.Background(), "user-1"))

	assert.Equal(t, 0, s.UnreadCount())
	assert.Equal(t, []string{"user-1"}, remote.markAllCalls)
	assert.Empty(t, remote.markReadCalls)
}

func TestStore_MarkAllReadRemoteFailureKeepsLocalState(t *testing.T) {
	remote := &mockRemote{MarkAllErr: assert.AnError}
	s := newTestStore(t, remote)
	require.NoError(t, s.LoadInitial([]model.Notification{rec("a", 0, false)}))

	err := s.MarkAllRead(context.Background(), "user-1")
	assert.ErrorIs(t, err, ErrReadStateWrite)
	assert.Equal(t, 0, s.UnreadCount())
}

func TestStore_InsertAndUpdate(t *testing.T) {
	s := newTestStore(t, &mockRemote{})

	assert.True(t, s.ApplyInsert(rec("a", 0, false)))
	assert.False(t, s.ApplyInsert(rec("a", 0, false)))
	assert.False(t, s.ApplyUpdate(rec("ghost", 0, true)))
	assert.True(t, s.ApplyUpdate(rec("a", 0, true)))

	records, unread := s.Snapshot()
	require.Len(t, records, 1)
	assert.Equal(t, 0, unread)
}

func TestStore_ConcurrentInputsAreSerialized(t *testing.T) {
	s := newTestStore(t, &mockRemote{})

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			s.ApplyInsert(rec(string(rune('A'+i%26))+"-x", i, false))
		}(i)
		go func() {
			defer wg.Done()
			_ = s.MarkAllRead(context.Background(), "user-1")
		}()
	}
	wg.Wait()

	records, unread := s.Snapshot()
	assert.Len(t, records, 26)
	assert.Equal(t, unreadByHand(records), unread)
	assertOrdered(t, records)
}

func TestStore_Reset(t *testing.T) {
	s := newTestStore(t, &mockRemote{})
	require.NoError(t, s.LoadInitial([]model.Notification{rec("a", 0, false)}))

	require.NoError(t, s.Reset())

	records, unread := s.Snapshot()
	assert.Empty(t, records)
	assert.Equal(t, 0, unread)
}

func TestStore_StoppedStore(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	s := NewStore(&mockRemote{}, logging.Discard())
	s.Start(ctx)
	cancel()
	<-s.Done()

	assert.ErrorIs(t, s.LoadInitial(nil), ErrStopped)
	assert.False(t, s.ApplyInsert(rec("a", 0, false)))
	assert.ErrorIs(t, s.MarkRead(context.Background(), "a"), ErrStopped)
	assert.Equal(t, 0, s.UnreadCount())
}
