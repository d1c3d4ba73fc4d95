package domain

// BaseAggregateRoot is the embedded half of every aggregate: identity
// plus the domain events recorded since the aggregate was loaded.
// Command handlers drain the events into the outbox in the same
// transaction that saves the aggregate, then clear them.
type BaseAggregateRoot struct {
	BaseEntity
	events []DomainEvent
}

// NewBaseAggregateRoot mints an aggregate with a fresh identity and no
// recorded events.
func NewBaseAggregateRoot() BaseAggregateRoot {
	return BaseAggregateRoot{BaseEntity: NewBaseEntity()}
}

// RehydrateBaseAggregateRoot restores the embedded identity from
// persisted state. Loading never replays events, so the recorded set
// starts empty.
func RehydrateBaseAggregateRoot(entity BaseEntity) BaseAggregateRoot {
	return BaseAggregateRoot{BaseEntity: entity}
}

// AddDomainEvent records an event for publication after the aggregate
// is saved.
func (a *BaseAggregateRoot) AddDomainEvent(event DomainEvent) {
	a.events = append(a.events, event)
}

// DomainEvents returns the events recorded since load, in order.
func (a *BaseAggregateRoot) DomainEvents() []DomainEvent {
	return a.events
}

// ClearDomainEvents drops the recorded events once they are handed off.
func (a *BaseAggregateRoot) ClearDomainEvents() {
	a.events = nil
}
