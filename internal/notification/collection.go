package notification

import (
	"sort"
	"time"

	"notifysync/internal/model"
)

// Collection is the ordered, de-duplicated set of notifications for one user.
// Records are kept newest first; each id appears at most once.
// It is not safe for concurrent use; Store serializes access to it.
type Collection struct {
	items []model.Notification
}

// newer reports whether a sorts before b.
func newer(a, b model.Notification) bool {
	if a.CreatedAt.Equal(b.CreatedAt) {
		return a.ID > b.ID
	}
	return a.CreatedAt.After(b.CreatedAt)
}

// Load replaces the whole collection. Later duplicates win.
func (c *Collection) Load(records []model.Notification) {
	seen := make(map[string]int, len(records))
	items := make([]model.Notification, 0, len(records))
	for _, r := range records {
		if i, ok := seen[r.ID]; ok {
			items[i] = r
			continue
		}
		seen[r.ID] = len(items)
		items = append(items, r)
	}
	sort.SliceStable(items, func(i, j int) bool { return newer(items[i], items[j]) })
	c.items = items
}

// Insert merges a new record at its ordered position. A record whose id is
// already present is ignored and Insert returns false.
func (c *Collection) Insert(r model.Notification) bool {
	if c.indexOf(r.ID) >= 0 {
		return false
	}
	c.insertSorted(r)
	return true
}

// Update replaces the record with the same id. Unknown ids are dropped.
func (c *Collection) Update(r model.Notification) bool {
	i := c.indexOf(r.ID)
	if i < 0 {
		return false
	}
	if c.items[i].CreatedAt.Equal(r.CreatedAt) {
		c.items[i] = r
		return true
	}
	c.removeAt(i)
	c.insertSorted(r)
	return true
}

// MarkRead flags one record as read. An already-read record keeps its ReadAt.
func (c *Collection) MarkRead(id string, at time.Time) (found, changed bool) {
	i := c.indexOf(id)
	if i < 0 {
		return false, false
	}
	if c.items[i].Read {
		return true, false
	}
	readAt := at
	c.items[i].Read = true
	c.items[i].ReadAt = &readAt
	return true, true
}

// MarkAllRead flags every unread record and returns how many changed.
func (c *Collection) MarkAllRead(at time.Time) int {
	n := 0
	for i := range c.items {
		if c.items[i].Read {
			continue
		}
		readAt := at
		c.items[i].Read = true
		c.items[i].ReadAt = &readAt
		n++
	}
	return n
}

// UnreadCount counts records with Read == false.
func (c *Collection) UnreadCount() int {
	n := 0
	for _, r := range c.items {
		if !r.Read {
			n++
		}
	}
	return n
}

// Len returns the number of records.
func (c *Collection) Len() int {
	return len(c.items)
}

// Records returns a copy of the records, newest first.
func (c *Collection) Records() []model.Notification {
	out := make([]model.Notification, len(c.items))
	copy(out, c.items)
	return out
}

// Reset drops every record.
func (c *Collection) Reset() {
	c.items = nil
}

func (c *Collection) indexOf(id string) int {
	for i := range c.items {
		if c.items[i].ID == id {
			return i
		}
	}
	return -1
}

func (c *Collection) insertSorted(r model.Notification) {
	pos := sort.Search(len(c.items), func(i int) bool { return newer(r, c.items[i]) })
	c.items = append(c.items, model.Notification{})
	copy(c.items[pos+1:], c.items[pos:])
	c.items[pos] = r
}

func (c *Collection) removeAt(i int) {
	c.items = append(c.items[:i], c.items[i+1:]...)
}
