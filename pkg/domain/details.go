package domain

import "time"

// ObjectDetails is the canonical command result.
type ObjectDetails struct {
	// Sequence is the aggregate version after the command.
	Sequence int64
	// ResourceOwner is the org (or instance) owning the entity.
	ResourceOwner string
	// ChangeDate is the creation time of the last emitted event.
	ChangeDate time.Time
}

// DetailsFromEvents derives ObjectDetails from the last event of a push.
func DetailsFromEvents(events []Event) *ObjectDetails {
	if len(events) == 0 {
		return &ObjectDetails{}
	}
	last := events[len(events)-1]
	return &ObjectDetails{
		Sequence:      last.Version,
		ResourceOwner: last.Owner,
		ChangeDate:    last.CreatedAt,
	}
}
