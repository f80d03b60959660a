package view

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/miekg/dns"
)

// List is an ordered set of views forming one configuration generation.
// It is reference counted independently of its views: the production slot
// holds one reference and every query holds one while it runs. When the count
// reaches zero every view is detached.
type List struct {
	id      uuid.UUID
	created time.Time
	views   []*View
	refs    atomic.Int32
}

// NewList returns an empty list holding one reference.
func NewList() *List {
	l := &List{id: uuid.New(), created: time.Now()}
	l.refs.Store(1)
	return l
}

// ID identifies the generation.
func (l *List) ID() uuid.UUID { return l.id }

// Created returns when the list was created.
func (l *List) Created() time.Time { return l.created }

// Append adds v, taking over the caller's reference on success. Lists are
// only appended to while being staged.
func (l *List) Append(v *View) error {
	for _, existing := range l.views {
		if existing.name == v.name && existing.class == v.class {
			return fmt.Errorf("%s: %w", v, ErrDuplicateView)
		}
	}
	l.views = append(l.views, v)
	return nil
}

// Find returns the view with the given name and class.
func (l *List) Find(name string, class uint16) (*View, error) {
	for _, v := range l.views {
		if v.name == name && v.class == class {
			return v, nil
		}
	}
	return nil, fmt.Errorf("view %s/%s: %w", name, dns.ClassToString[class], ErrNotFound)
}

// Match returns the first view serving class.
func (l *List) Match(class uint16) (*View, error) {
	for _, v := range l.views {
		if v.class == class {
			return v, nil
		}
	}
	return nil, fmt.Errorf("view for class %s: %w", dns.ClassToString[class], ErrNotFound)
}

// Views returns the views in order.
func (l *List) Views() []*View {
	out := make([]*View, len(l.views))
	copy(out, l.views)
	return out
}

// Len returns the number of views.
func (l *List) Len() int { return len(l.views) }

// Attach adds a reference and returns l.
func (l *List) Attach() *List {
	if l.refs.Add(1) <= 1 {
		panic("view: attach to released list " + l.id.String())
	}
	return l
}

// Release drops a reference; the last one detaches every view.
func (l *List) Release() {
	n := l.refs.Add(-1)
	switch {
	case n > 0:
		return
	case n < 0:
		panic("view: release of released list " + l.id.String())
	}
	for _, v := range l.views {
		v.Detach()
	}
}

// Refs returns the current reference count.
func (l *List) Refs() int { return int(l.refs.Load()) }
