// Package events defines document change events and their transport.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Kind is the type of document write.
type Kind string

// Change kinds.
const (
	KindCreate Kind = "create"
	KindUpdate Kind = "update"
	KindDelete Kind = "delete"
)

// Change is one document write with snapshots before and after it.
// Before is nil for creates and After is nil for deletes.
type Change struct {
	ID         string          `json:"id"`
	Path       string          `json:"path"`
	Kind       Kind            `json:"kind"`
	Before     json.RawMessage `json:"before,omitempty"`
	After      json.RawMessage `json:"after,omitempty"`
	OccurredAt time.Time       `json:"occurredAt"`
}

// NewChange marshals the snapshots into a change with a fresh id. A nil
// snapshot means the document did not exist on that side.
func NewChange(path string, before, after interface{}) (Change, error) {
	c := Change{
		ID:         uuid.NewString(),
		Path:       path,
		OccurredAt: time.Now().UTC(),
	}

	var err error
	if before != nil {
		if c.Before, err = json.Marshal(before); err != nil {
			return Change{}, fmt.Errorf("failed to encode before snapshot of %s: %w", path, err)
		}
	}
	if after != nil {
		if c.After, err = json.Marshal(after); err != nil {
			return Change{}, fmt.Errorf("failed to encode after snapshot of %s: %w", path, err)
		}
	}

	switch {
	case before == nil:
		c.Kind = KindCreate
	case after == nil:
		c.Kind = KindDelete
	default:
		c.Kind = KindUpdate
	}
	return c, nil
}

// BeforeExists reports whether the document existed before the write.
func (c Change) BeforeExists() bool {
	return len(c.Before) > 0 && string(c.Before) != "null"
}

// AfterExists reports whether the document exists after the write.
func (c Change) AfterExists() bool {
	return len(c.After) > 0 && string(c.After) != "null"
}

// DecodeBefore unmarshals the before snapshot into v.
func (c Change) DecodeBefore(v interface{}) error {
	if !c.BeforeExists() {
		return fmt.Errorf("change %s has no before snapshot", c.ID)
	}
	return json.Unmarshal(c.Before, v)
}

// DecodeAfter unmarshals the after snapshot into v.
func (c Change) DecodeAfter(v interface{}) error {
	if !c.AfterExists() {
		return fmt.Errorf("change %s has no after snapshot", c.ID)
	}
	return json.Unmarshal(c.After, v)
}

// Validate checks the envelope fields a dispatcher relies on.
func (c Change) Validate() error {
	if c.ID == "" {
		return fmt.Errorf("change id is required")
	}
	if c.Path == "" {
		return fmt.Errorf("change path is required")
	}
	switch c.Kind {
	case KindCreate, KindUpdate, KindDelete:
	default:
		return fmt.Errorf("unknown change kind %q", c.Kind)
	}
	return nil
}

// Publisher emits change events for writes performed by the engine itself.
type Publisher interface {
	Publish(ctx context.Context, change Change) error
}

// PublisherFunc adapts a function to Publisher.
type PublisherFunc func(ctx context.Context, change Change) error

// Publish calls f.
func (f PublisherFunc) Publish(ctx context.Context, change Change) error {
	return f(ctx, change)
}
