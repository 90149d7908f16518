package domain

import "github.com/google/uuid"

// AggregateRoot is the consistency boundary of a group of entities. It
// accumulates domain events between loads and saves, and carries a version
// used for optimistic concurrency checks on write.
type AggregateRoot interface {
	Entity
	DomainEvents() []DomainEvent
	ClearDomainEvents()
	Version() int
}

// BaseAggregateRoot provides event accumulation and versioning.
type BaseAggregateRoot struct {
	BaseEntity
	events  []DomainEvent
	version int
}

// NewBaseAggregateRoot creates an aggregate root with a fresh identity.
func NewBaseAggregateRoot() BaseAggregateRoot {
	return BaseAggregateRoot{BaseEntity: NewBaseEntity()}
}

// NewBaseAggregateRootWithID creates an aggregate root with a specific ID.
func NewBaseAggregateRootWithID(id uuid.UUID) BaseAggregateRoot {
	base := NewBaseAggregateRoot()
	base.BaseEntity = RehydrateBaseEntity(id, base.CreatedAt(), base.UpdatedAt())
	return base
}

// RehydrateBaseAggregateRoot recreates an aggregate from persisted state.
func RehydrateBaseAggregateRoot(entity BaseEntity, version int) BaseAggregateRoot {
	return BaseAggregateRoot{BaseEntity: entity, version: version}
}

// DomainEvents returns the uncommitted domain events.
func (a *BaseAggregateRoot) DomainEvents() []DomainEvent { return a.events }

// ClearDomainEvents discards the uncommitted domain events.
func (a *BaseAggregateRoot) ClearDomainEvents() { a.events = nil }

// AddDomainEvent records an event to be persisted with the next save.
func (a *BaseAggregateRoot) AddDomainEvent(event DomainEvent) {
	a.events = append(a.events, event)
}

// Version returns the persisted version for optimistic concurrency.
func (a *BaseAggregateRoot) Version() int { return a.version }

// SetVersion sets the version when rehydrating from storage.
func (a *BaseAggregateRoot) SetVersion(version int) { a.version = version }
