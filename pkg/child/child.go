package child

import "time"

type Child struct {
	Id        int
	FirstName string
	LastName  string
	BirthDate *time.Time
	Color     string
	// UserId links the child to a login account, if the child has one.
	UserId    *int
	ParentIds []int
}
