package domain

import (
	"time"

	"github.com/google/uuid"
)

// BaseEntity carries the identity and audit timestamps every persisted
// domain object embeds. Identity is assigned once at construction;
// repositories restore it with RehydrateBaseEntity when loading rows.
type BaseEntity struct {
	id      uuid.UUID
	created time.Time
	updated time.Time
}

// NewBaseEntity mints a fresh identity with both timestamps at now.
func NewBaseEntity() BaseEntity {
	now := time.Now().UTC()
	return BaseEntity{id: uuid.New(), created: now, updated: now}
}

// RehydrateBaseEntity restores a persisted identity without touching
// the stored timestamps.
func RehydrateBaseEntity(id uuid.UUID, createdAt, updatedAt time.Time) BaseEntity {
	return BaseEntity{id: id, created: createdAt, updated: updatedAt}
}

func (e BaseEntity) ID() uuid.UUID        { return e.id }
func (e BaseEntity) CreatedAt() time.Time { return e.created }
func (e BaseEntity) UpdatedAt() time.Time { return e.updated }

// Touch marks the entity as modified now.
func (e *BaseEntity) Touch() {
	e.updated = time.Now().UTC()
}
