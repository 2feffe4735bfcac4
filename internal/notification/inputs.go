package notification

import (
	"time"

	"notifysync/internal/model"
)

// input is one message processed by the store loop.
type input interface {
	apply(c *Collection) result
}

type result struct {
	found   bool
	changed bool
	count   int
	unread  int
	records []model.Notification
}

type request struct {
	in    input
	reply chan result
}

type loadInitial struct{ records []model.Notification }

func (in loadInitial) apply(c *Collection) result {
	c.Load(in.records)
	return result{changed: true, unread: c.UnreadCount()}
}

type insert struct{ record model.Notification }

func (in insert) apply(c *Collection) result {
	changed := c.Insert(in.record)
	return result{found: !changed, changed: changed, unread: c.UnreadCount()}
}

type update struct{ record model.Notification }

func (in update) apply(c *Collection) result {
	changed := c.Update(in.record)
	return result{found: changed, changed: changed, unread: c.UnreadCount()}
}

type markRead struct {
	id string
	at time.Time
}

func (in markRead) apply(c *Collection) result {
	found, changed := c.MarkRead(in.id, in.at)
	return result{found: found, changed: changed, unread: c.UnreadCount()}
}

type markAllRead struct{ at time.Time }

func (in markAllRead) apply(c *Collection) result {
	n := c.MarkAllRead(in.at)
	return result{changed: n > 0, count: n, unread: c.UnreadCount()}
}

type reset struct{}

func (reset) apply(c *Collection) result {
	c.Reset()
	return result{changed: true}
}

type snapshot struct{}

func (snapshot) apply(c *Collection) result {
	return result{records: c.Records(), unread: c.UnreadCount()}
}

type unreadCount struct{}

func (unreadCount) apply(c *Collection) result {
	return result{unread: c.UnreadCount()}
}
