package notification

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"notifysync/internal/model"
)

var (
	// ErrNotFound is returned by MarkRead for an id that is not in the collection.
	ErrNotFound = errors.New("notification not found")
	// ErrReadStateWrite means the local read state was applied but the remote
	// write failed. The local change is kept.
	ErrReadStateWrite = errors.New("read state not confirmed remotely")
	// ErrStopped is returned once the store's loop has exited.
	ErrStopped = errors.New("notification store stopped")
)

// Remote is the slice of the remote data collaborator the store writes to.
type Remote interface {
	MarkRead(ctx context.Context, id string, at time.Time) error
	MarkAllRead(ctx context.Context, userID string, at time.Time) (int64, error)
}

// Store owns the notification collection of the active session. All inputs
// are applied one at a time by a single goroutine, so callbacks from the
// realtime bridge, the control API and the session never race each other.
// Remote writes happen outside that goroutine.
type Store struct {
	inputs chan request
	done   chan struct{}
	coll   Collection
	remote Remote
	log    *logrus.Entry
	now    func() time.Time
}

// NewStore creates a store. Start must be called before use.
func NewStore(remote Remote, log *logrus.Entry) *Store {
	return &Store{
		inputs: make(chan request),
		done:   make(chan struct{}),
		remote: remote,
		log:    log,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Start launches the loop that applies inputs. It stops when ctx is done.
func (s *Store) Start(ctx context.Context) {
	go s.loop(ctx)
}

// Done is closed once the loop has exited.
func (s *Store) Done() <-chan struct{} {
	return s.done
}

func (s *Store) loop(ctx context.Context) {
	defer close(s.done)
	for {
		select {
		case req := <-s.inputs:
			req.reply <- req.in.apply(&s.coll)
		case <-ctx.Done():
			s.log.Debug("notification store shutting down")
			return
		}
	}
}

func (s *Store) do(in input) (result, error) {
	req := request{in: in, reply: make(chan result, 1)}
	select {
	case s.inputs <- req:
	case <-s.done:
		return result{}, ErrStopped
	}
	return <-req.reply, nil
}

// LoadInitial replaces the collection with the result of a full fetch.
func (s *Store) LoadInitial(records []model.Notification) error {
	_, err := s.do(loadInitial{records: records})
	return err
}

// ApplyInsert merges a realtime insert. It reports whether the collection grew.
func (s *Store) ApplyInsert(record model.Notification) bool {
	res, err := s.do(insert{record: record})
	if err != nil {
		return false
	}
	if !res.changed {
		s.log.WithField("id", record.ID).Debug("duplicate insert ignored")
	}
	return res.changed
}

// ApplyUpdate replaces a record in place. Updates for unknown ids are dropped.
func (s *Store) ApplyUpdate(record model.Notification) bool {
	res, err := s.do(update{record: record})
	if err != nil {
		return false
	}
	if !res.found {
		s.log.WithField("id", record.ID).Debug("update for unknown notification dropped")
	}
	return res.changed
}

// MarkRead marks one notification read locally, then asks the remote to do
// the same. A remote failure is logged and returned; the local state stays.
func (s *Store) MarkRead(ctx context.Context, id string) error {
	at := s.now()
	res, err := s.do(markRead{id: id, at: at})
	if err != nil {
		return err
	}
	if !res.found {
		return fmt.Errorf("mark %s read: %w", id, ErrNotFound)
	}
	if !res.changed || s.remote == nil {
		return nil
	}

	if err := s.remote.MarkRead(ctx, id, at); err != nil {
		s.log.WithError(err).WithField("id", id).Warn("failed to mark notification read remotely")
		return fmt.Errorf("mark %s read: %w: %w", id, ErrReadStateWrite, err)
	}
	return nil
}

// MarkAllRead marks every unread notification read locally and issues one
// conditional remote update for the user.
func (s *Store) MarkAllRead(ctx context.Context, userID string) error {
	at := s.now()
	res, err := s.do(markAllRead{at: at})
	if err != nil {
		return err
	}
	s.log.WithFields(logrus.Fields{"user_id": userID, "count": res.count}).Debug("marked all notifications read")
	if s.remote == nil || userID == "" {
		return nil
	}

	if _, err := s.remote.MarkAllRead(ctx, userID, at); err != nil {
		s.log.WithError(err).WithField("user_id", userID).Warn("failed to mark all notifications read remotely")
		return fmt.Errorf("mark all read for %s: %w: %w", userID, ErrReadStateWrite, err)
	}
	return nil
}

// Reset clears the collection. Used when the session user changes.
func (s *Store) Reset() error {
	_, err := s.do(reset{})
	return err
}

// Snapshot returns the current records (newest first) and unread count.
func (s *Store) Snapshot() ([]model.Notification, int) {
	res, err := s.do(snapshot{})
	if err != nil {
		return nil, 0
	}
	return res.records, res.unread
}

// UnreadCount returns the number of unread notifications.
func (s *Store) UnreadCount() int {
	res, err := s.do(unreadCount{})
	if err != nil {
		return 0
	}
	return res.unread
}
