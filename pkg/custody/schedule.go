package custody

import (
	"slices"
	"time"
)

type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
)

type Schedule struct {
	Id          int
	Title       string
	Description string
	// StartDate and EndDate are civil dates at midnight UTC. A nil EndDate means the schedule never ends.
	StartDate time.Time
	EndDate   *time.Time
	Pattern   Pattern
	Active    bool
	Status    Status
	CreatedBy int
	ParentIds []int
	ChildIds  []int
	// Exclusions are dates whose materialized event was deleted and must not be generated again.
	Exclusions []time.Time
	CreatedAt  time.Time
}

func (s Schedule) Type() PatternType {
	if s.Pattern == nil {
		return ""
	}
	return s.Pattern.Type()
}

func (s Schedule) hasParent(userId int) bool {
	return slices.Contains(s.ParentIds, userId)
}

func (s Schedule) effective() bool {
	return s.Active && s.Status == StatusApproved
}

// Instance is one materialized custody day.
type Instance struct {
	Date                time.Time
	ResponsibleParentId int
}
