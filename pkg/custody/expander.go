package custody

import (
	"slices"
	"time"

	"github.com/kinsync/kinsync/internal/utils"
	"github.com/teambition/rrule-go"
)

const day = 24 * time.Hour

// Expand returns the custody instances of the schedule between from and to, both inclusive civil dates.
// The result is ordered by date and never contains a date twice. Excluded dates are skipped.
func Expand(schedule Schedule, from, to time.Time) []Instance {
	from, to, ok := clampWindow(schedule, utils.CivilDate(from), utils.CivilDate(to))
	if !ok || schedule.Pattern == nil {
		return []Instance{}
	}
	start := utils.CivilDate(schedule.StartDate)

	var instances []Instance
	switch p := schedule.Pattern.(type) {
	case WeeklyPattern:
		instances = expandWeekly(p, from, to)
	case BiweeklyPattern:
		instances = expandBiweekly(p, start, from, to)
	case MonthlyPattern:
		instances = expandMonthly(p, start, from, to)
	case CustomPattern:
		instances = expandCustom(p, start, from, to)
	}
	return normalize(instances, schedule.Exclusions)
}

func clampWindow(schedule Schedule, from, to time.Time) (time.Time, time.Time, bool) {
	start := utils.CivilDate(schedule.StartDate)
	if from.Before(start) {
		from = start
	}
	if schedule.EndDate != nil {
		end := utils.CivilDate(*schedule.EndDate)
		if to.After(end) {
			to = end
		}
	}
	return from, to, !from.After(to)
}

func expandWeekly(p WeeklyPattern, from, to time.Time) []Instance {
	instances := make([]Instance, 0, daysBetween(from, to)+1)
	for date := from; !date.After(to); date = date.Add(day) {
		if parentId, ok := p.Days[date.Weekday()]; ok {
			instances = append(instances, Instance{Date: date, ResponsibleParentId: parentId})
		}
	}
	return instances
}

// expandBiweekly aligns week parity to the schedule start date, never to the window start.
func expandBiweekly(p BiweeklyPattern, start, from, to time.Time) []Instance {
	instances := make([]Instance, 0, daysBetween(from, to)+1)
	for date := from; !date.After(to); date = date.Add(day) {
		week := p.WeekA
		if (daysBetween(start, date)/7)%2 == 1 {
			week = p.WeekB
		}
		if parentId, ok := week[date.Weekday()]; ok {
			instances = append(instances, Instance{Date: date, ResponsibleParentId: parentId})
		}
	}
	return instances
}

func expandMonthly(p MonthlyPattern, start, from, to time.Time) []Instance {
	instances := make([]Instance, 0)
	for _, rule := range p.Rules {
		r, err := rrule.NewRRule(rrule.ROption{
			Freq:       rrule.MONTHLY,
			Dtstart:    start,
			Bymonthday: []int{rule.Day},
		})
		if err != nil {
			continue
		}
		for _, occurrence := range r.Between(from, to, true) {
			instances = append(instances, Instance{Date: utils.CivilDate(occurrence), ResponsibleParentId: rule.ParentId})
		}
	}
	return instances
}

func expandCustom(p CustomPattern, start, from, to time.Time) []Instance {
	instances := make([]Instance, 0)
	if p.CycleDays <= 0 {
		for _, offset := range p.Offsets {
			date := start.AddDate(0, 0, offset.Day)
			if !date.Before(from) && !date.After(to) {
				instances = append(instances, Instance{Date: date, ResponsibleParentId: offset.ParentId})
			}
		}
		return instances
	}

	firstCycle := daysBetween(start, from) / p.CycleDays
	for cycle := firstCycle; ; cycle++ {
		cycleStart := start.AddDate(0, 0, cycle*p.CycleDays)
		if cycleStart.After(to) {
			break
		}
		for _, offset := range p.Offsets {
			date := cycleStart.AddDate(0, 0, offset.Day)
			if !date.Before(from) && !date.After(to) {
				instances = append(instances, Instance{Date: date, ResponsibleParentId: offset.ParentId})
			}
		}
	}
	return instances
}

// normalize sorts instances by date, keeps the first instance per date and drops excluded dates.
func normalize(instances []Instance, exclusions []time.Time) []Instance {
	excluded := make(map[time.Time]bool, len(exclusions))
	for _, date := range exclusions {
		excluded[utils.CivilDate(date)] = true
	}
	slices.SortStableFunc(instances, func(a, b Instance) int {
		return a.Date.Compare(b.Date)
	})
	result := make([]Instance, 0, len(instances))
	for _, instance := range instances {
		if excluded[instance.Date] {
			continue
		}
		if len(result) > 0 && result[len(result)-1].Date.Equal(instance.Date) {
			continue
		}
		result = append(result, instance)
	}
	return result
}

func daysBetween(from, to time.Time) int {
	return int(to.Sub(from) / day)
}
