package session

import (
	"context"
	"errors"
	"maps"
	"time"

	"github.com/hupe1980/groupmesh/core"
	"github.com/hupe1980/groupmesh/group"
)

// ErrNotFound is returned by Get and Delete for unknown ids.
var ErrNotFound = errors.New("session not found")

// Record is the persisted outcome of one group session.
type Record struct {
	ID          string         `json:"id"`
	Messages    []core.Message `json:"messages"`
	Context     map[string]any `json:"context,omitempty"`
	LastSpeaker string         `json:"last_speaker,omitempty"`
	Reason      string         `json:"reason,omitempty"`
	Rounds      int            `json:"rounds"`
	Created     time.Time      `json:"created"`
	Updated     time.Time      `json:"updated"`
}

// NewRecord snapshots a session result. An empty id gets a fresh one.
func NewRecord(id string, res *group.Result) *Record {
	if id == "" {
		id = core.NewID()
	}
	now := time.Now().UTC()
	r := &Record{ID: id, Created: now, Updated: now}
	if res != nil {
		r.Messages = res.Messages
		r.Context = res.Context
		r.LastSpeaker = res.LastSpeaker
		r.Reason = res.Reason
		r.Rounds = res.Rounds
	}
	return r.Clone()
}

// Clone returns a copy sharing no slices or maps with r. Context values are
// copied shallowly.
func (r *Record) Clone() *Record {
	c := *r
	c.Messages = make([]core.Message, len(r.Messages))
	for i, m := range r.Messages {
		c.Messages[i] = m.Clone()
	}
	if r.Context != nil {
		c.Context = maps.Clone(r.Context)
	}
	return &c
}

// Store persists records by id.
type Store interface {
	// Save creates or replaces a record. Created is kept from an existing
	// record; Updated is set to now.
	Save(ctx context.Context, r *Record) error
	Get(ctx context.Context, id string) (*Record, error)
	Delete(ctx context.Context, id string) error
	// List returns the stored ids in ascending order.
	List(ctx context.Context) ([]string, error)
}
