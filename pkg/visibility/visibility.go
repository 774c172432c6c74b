package visibility

import "errors"

var ErrInvalidSelection = errors.New("invalid calendar selection")

// Selection is a user's choice for one external calendar.
type Selection struct {
	UserId     int
	CalendarId string
	Selected   bool
	Color      string
}

// Item is anything shown in the agenda. Internal events return an empty source calendar.
type Item interface {
	SourceCalendar() string
	ColorOverride() string
}

type Projected[T Item] struct {
	Item    T
	Visible bool
	Color   string
}

// Project decides visibility and display color of items. An item is hidden only when its
// source calendar was explicitly deselected. The color is the item's own override, then the
// user's color for the calendar, then the provider's default color.
func Project[T Item](items []T, selections []Selection, providerColors map[string]string) []Projected[T] {
	byCalendar := make(map[string]Selection, len(selections))
	for _, s := range selections {
		byCalendar[s.CalendarId] = s
	}

	result := make([]Projected[T], 0, len(items))
	for _, item := range items {
		source := item.SourceCalendar()
		selection, selected := byCalendar[source]
		projected := Projected[T]{Item: item, Visible: true}
		if source != "" && selected && !selection.Selected {
			projected.Visible = false
		}
		switch {
		case item.ColorOverride() != "":
			projected.Color = item.ColorOverride()
		case source != "" && selection.Color != "":
			projected.Color = selection.Color
		case source != "":
			projected.Color = providerColors[source]
		}
		result = append(result, projected)
	}
	return result
}

// Visible drops the hidden items.
func Visible[T Item](projected []Projected[T]) []Projected[T] {
	result := make([]Projected[T], 0, len(projected))
	for _, p := range projected {
		if p.Visible {
			result = append(result, p)
		}
	}
	return result
}
