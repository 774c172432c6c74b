package custody

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func date(year int, month time.Month, d int) time.Time {
	return time.Date(year, month, d, 0, 0, 0, 0, time.UTC)
}

func allDays(parentId int) WeekAssignment {
	w := make(WeekAssignment, 7)
	for d := time.Sunday; d <= time.Saturday; d++ {
		w[d] = parentId
	}
	return w
}

func weekdaysSplit(weekdayParent, weekendParent int) WeekAssignment {
	w := allDays(weekdayParent)
	w[time.Saturday] = weekendParent
	w[time.Sunday] = weekendParent
	return w
}

func parentsOf(instances []Instance) []int {
	result := make([]int, 0, len(instances))
	for _, i := range instances {
		result = append(result, i.ResponsibleParentId)
	}
	return result
}

func TestExpand_Weekly(t *testing.T) {
	t.Run("should map every date through the weekday table", func(t *testing.T) {
		// given
		schedule := Schedule{
			StartDate: date(2024, 1, 1),
			Pattern:   WeeklyPattern{Days: weekdaysSplit(1, 2)},
		}

		// when
		instances := Expand(schedule, date(2024, 1, 5), date(2024, 1, 8))

		// then
		require.Len(t, instances, 4)
		assert.Equal(t, date(2024, 1, 5), instances[0].Date)
		assert.Equal(t, []int{1, 2, 2, 1}, parentsOf(instances))
	})

	t.Run("should clamp to start and inclusive end date", func(t *testing.T) {
		// given
		end := date(2024, 1, 10)
		schedule := Schedule{
			StartDate: date(2024, 1, 8),
			EndDate:   &end,
			Pattern:   WeeklyPattern{Days: allDays(1)},
		}

		// when
		instances := Expand(schedule, date(2024, 1, 1), date(2024, 1, 31))

		// then
		require.Len(t, instances, 3)
		assert.Equal(t, date(2024, 1, 8), instances[0].Date)
		assert.Equal(t, date(2024, 1, 10), instances[2].Date)
	})

	t.Run("should return nothing for window outside the schedule", func(t *testing.T) {
		// given
		end := date(2024, 1, 10)
		schedule := Schedule{StartDate: date(2024, 1, 8), EndDate: &end, Pattern: WeeklyPattern{Days: allDays(1)}}

		// when
		instances := Expand(schedule, date(2024, 2, 1), date(2024, 2, 28))

		// then
		assert.Empty(t, instances)
	})

	t.Run("should skip excluded dates", func(t *testing.T) {
		// given
		schedule := Schedule{
			StartDate:  date(2024, 1, 1),
			Pattern:    WeeklyPattern{Days: allDays(1)},
			Exclusions: []time.Time{date(2024, 1, 3)},
		}

		// when
		instances := Expand(schedule, date(2024, 1, 1), date(2024, 1, 5))

		// then
		require.Len(t, instances, 4)
		for _, i := range instances {
			assert.NotEqual(t, date(2024, 1, 3), i.Date)
		}
	})

	t.Run("should be idempotent across split and repeated windows", func(t *testing.T) {
		// given
		schedule := Schedule{StartDate: date(2024, 1, 1), Pattern: WeeklyPattern{Days: weekdaysSplit(1, 2)}}

		// when
		whole := Expand(schedule, date(2024, 1, 1), date(2024, 1, 31))
		second := Expand(schedule, date(2024, 1, 16), date(2024, 1, 31))
		first := Expand(schedule, date(2024, 1, 1), date(2024, 1, 15))

		// then
		assert.Equal(t, whole, append(first, second...))
		assert.Equal(t, whole, Expand(schedule, date(2024, 1, 1), date(2024, 1, 31)))
	})
}

func TestExpand_Biweekly(t *testing.T) {
	schedule := Schedule{
		StartDate: date(2024, 1, 1),
		Pattern:   BiweeklyPattern{WeekA: allDays(1), WeekB: allDays(2)},
	}

	t.Run("should assign week A two weeks after start", func(t *testing.T) {
		// when
		instances := Expand(schedule, date(2024, 1, 15), date(2024, 1, 21))

		// then
		require.Len(t, instances, 7)
		assert.Equal(t, []int{1, 1, 1, 1, 1, 1, 1}, parentsOf(instances))
	})

	t.Run("should assign week B one week after start", func(t *testing.T) {
		// when
		instances := Expand(schedule, date(2024, 1, 8), date(2024, 1, 14))

		// then
		require.Len(t, instances, 7)
		assert.Equal(t, []int{2, 2, 2, 2, 2, 2, 2}, parentsOf(instances))
	})

	t.Run("should align parity to start date when window starts mid-cycle", func(t *testing.T) {
		// when
		instances := Expand(schedule, date(2024, 1, 11), date(2024, 1, 17))

		// then
		assert.Equal(t, []int{2, 2, 2, 2, 1, 1, 1}, parentsOf(instances))
	})
}

func TestExpand_Monthly(t *testing.T) {
	t.Run("should skip months without the day", func(t *testing.T) {
		// given
		schedule := Schedule{
			StartDate: date(2024, 1, 1),
			Pattern:   MonthlyPattern{Rules: []MonthDayRule{{Day: 31, ParentId: 1}}},
		}

		// when
		instances := Expand(schedule, date(2024, 1, 1), date(2024, 4, 30))

		// then
		require.Len(t, instances, 2)
		assert.Equal(t, date(2024, 1, 31), instances[0].Date)
		assert.Equal(t, date(2024, 3, 31), instances[1].Date)
	})

	t.Run("should resolve last day of month and keep first rule on collision", func(t *testing.T) {
		// given
		schedule := Schedule{
			StartDate: date(2024, 1, 1),
			Pattern: MonthlyPattern{Rules: []MonthDayRule{
				{Day: 29, ParentId: 1},
				{Day: -1, ParentId: 2},
			}},
		}

		// when
		instances := Expand(schedule, date(2024, 2, 1), date(2024, 3, 31))

		// then
		require.Len(t, instances, 3)
		assert.Equal(t, Instance{Date: date(2024, 2, 29), ResponsibleParentId: 1}, instances[0])
		assert.Equal(t, Instance{Date: date(2024, 3, 29), ResponsibleParentId: 1}, instances[1])
		assert.Equal(t, Instance{Date: date(2024, 3, 31), ResponsibleParentId: 2}, instances[2])
	})
}

func TestExpand_Custom(t *testing.T) {
	t.Run("should repeat a 2-2-3 rotation", func(t *testing.T) {
		// given
		offsets := []DayOffset{
			{Day: 0, ParentId: 1}, {Day: 1, ParentId: 1},
			{Day: 2, ParentId: 2}, {Day: 3, ParentId: 2},
			{Day: 4, ParentId: 1}, {Day: 5, ParentId: 1}, {Day: 6, ParentId: 1},
			{Day: 7, ParentId: 2}, {Day: 8, ParentId: 2},
			{Day: 9, ParentId: 1}, {Day: 10, ParentId: 1},
			{Day: 11, ParentId: 2}, {Day: 12, ParentId: 2}, {Day: 13, ParentId: 2},
		}
		schedule := Schedule{StartDate: date(2024, 1, 1), Pattern: CustomPattern{Offsets: offsets, CycleDays: 14}}

		// when
		instances := Expand(schedule, date(2024, 1, 13), date(2024, 1, 18))

		// then
		require.Len(t, instances, 6)
		assert.Equal(t, date(2024, 1, 13), instances[0].Date)
		assert.Equal(t, []int{2, 2, 1, 1, 2, 2}, parentsOf(instances))
	})

	t.Run("should enumerate one-off offsets inside window only", func(t *testing.T) {
		// given
		schedule := Schedule{
			StartDate: date(2024, 1, 1),
			Pattern:   CustomPattern{Offsets: []DayOffset{{Day: 3, ParentId: 1}, {Day: 40, ParentId: 2}}},
		}

		// when
		instances := Expand(schedule, date(2024, 1, 1), date(2024, 1, 31))

		// then
		assert.Equal(t, []Instance{{Date: date(2024, 1, 4), ResponsibleParentId: 1}}, instances)
	})
}
