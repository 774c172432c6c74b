package custody

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"
)

var (
	ErrInvalidPattern    = errors.New("invalid custody pattern")
	ErrInvalidRecurrence = errors.New("invalid custody recurrence")
)

type PatternType string

const (
	PatternWeekly   PatternType = "weekly"
	PatternBiweekly PatternType = "biweekly"
	PatternMonthly  PatternType = "monthly"
	PatternCustom   PatternType = "custom"
)

// Pattern is one of WeeklyPattern, BiweeklyPattern, MonthlyPattern or CustomPattern.
type Pattern interface {
	Type() PatternType
	validate(parentIds []int) error
}

// WeekAssignment maps each weekday to the responsible parent id.
// It is encoded as a JSON object keyed by lower-case English weekday names.
type WeekAssignment map[time.Weekday]int

func (w WeekAssignment) MarshalJSON() ([]byte, error) {
	named := make(map[string]int, len(w))
	for day, parentId := range w {
		named[strings.ToLower(day.String())] = parentId
	}
	return json.Marshal(named)
}

func (w *WeekAssignment) UnmarshalJSON(data []byte) error {
	var named map[string]int
	if err := json.Unmarshal(data, &named); err != nil {
		return err
	}
	result := make(WeekAssignment, len(named))
	for name, parentId := range named {
		day, ok := parseWeekday(name)
		if !ok {
			return fmt.Errorf("unknown weekday %q", name)
		}
		result[day] = parentId
	}
	*w = result
	return nil
}

func parseWeekday(name string) (time.Weekday, bool) {
	for day := time.Sunday; day <= time.Saturday; day++ {
		if strings.EqualFold(day.String(), name) {
			return day, true
		}
	}
	return 0, false
}

func (w WeekAssignment) validate(parentIds []int) error {
	for day := time.Sunday; day <= time.Saturday; day++ {
		parentId, ok := w[day]
		if !ok || parentId == 0 {
			return fmt.Errorf("%w: %s has no responsible parent", ErrInvalidRecurrence, day)
		}
		if !slices.Contains(parentIds, parentId) {
			return fmt.Errorf("%w: %s is assigned to %d who is not a parent of this schedule", ErrInvalidRecurrence, day, parentId)
		}
	}
	return nil
}

type WeeklyPattern struct {
	Days WeekAssignment `json:"days"`
}

func (p WeeklyPattern) Type() PatternType { return PatternWeekly }

func (p WeeklyPattern) validate(parentIds []int) error {
	return p.Days.validate(parentIds)
}

// BiweeklyPattern alternates two week tables. Week A is the week containing the schedule start date.
type BiweeklyPattern struct {
	WeekA WeekAssignment `json:"weekA"`
	WeekB WeekAssignment `json:"weekB"`
}

func (p BiweeklyPattern) Type() PatternType { return PatternBiweekly }

func (p BiweeklyPattern) validate(parentIds []int) error {
	if err := p.WeekA.validate(parentIds); err != nil {
		return fmt.Errorf("week A: %w", err)
	}
	if err := p.WeekB.validate(parentIds); err != nil {
		return fmt.Errorf("week B: %w", err)
	}
	return nil
}

// MonthDayRule assigns a day of month to a parent. Day -1 is the last day of the month.
type MonthDayRule struct {
	Day      int `json:"day"`
	ParentId int `json:"parentId"`
}

type MonthlyPattern struct {
	Rules []MonthDayRule `json:"rules"`
}

func (p MonthlyPattern) Type() PatternType { return PatternMonthly }

func (p MonthlyPattern) validate(parentIds []int) error {
	if len(p.Rules) == 0 {
		return fmt.Errorf("%w: monthly pattern has no rules", ErrInvalidRecurrence)
	}
	for _, rule := range p.Rules {
		if !slices.Contains(parentIds, rule.ParentId) {
			return fmt.Errorf("%w: day %d is assigned to %d who is not a parent of this schedule", ErrInvalidRecurrence, rule.Day, rule.ParentId)
		}
	}
	return nil
}

// DayOffset assigns the day Day days after the schedule start to a parent.
type DayOffset struct {
	Day      int `json:"day"`
	ParentId int `json:"parentId"`
}

// CustomPattern lists explicit offsets from the start date. With CycleDays > 0 the offsets repeat every CycleDays days.
type CustomPattern struct {
	Offsets   []DayOffset `json:"offsets"`
	CycleDays int         `json:"cycleDays"`
}

func (p CustomPattern) Type() PatternType { return PatternCustom }

func (p CustomPattern) validate(parentIds []int) error {
	if len(p.Offsets) == 0 {
		return fmt.Errorf("%w: custom pattern has no offsets", ErrInvalidRecurrence)
	}
	seen := make(map[int]bool, len(p.Offsets))
	for _, offset := range p.Offsets {
		if seen[offset.Day] {
			return fmt.Errorf("%w: day offset %d is assigned twice", ErrInvalidRecurrence, offset.Day)
		}
		seen[offset.Day] = true
		if !slices.Contains(parentIds, offset.ParentId) {
			return fmt.Errorf("%w: day offset %d is assigned to %d who is not a parent of this schedule", ErrInvalidRecurrence, offset.Day, offset.ParentId)
		}
	}
	return nil
}

// ParsePattern decodes the JSON pattern of the given type. Unknown types, unknown fields and out-of-range days are rejected.
func ParsePattern(patternType PatternType, raw []byte) (Pattern, error) {
	var pattern Pattern
	var err error
	switch patternType {
	case PatternWeekly:
		var p WeeklyPattern
		err = decodeStrict(raw, &p)
		pattern = p
	case PatternBiweekly:
		var p BiweeklyPattern
		err = decodeStrict(raw, &p)
		pattern = p
	case PatternMonthly:
		var p MonthlyPattern
		if err = decodeStrict(raw, &p); err == nil {
			err = p.checkShape()
		}
		pattern = p
	case PatternCustom:
		var p CustomPattern
		if err = decodeStrict(raw, &p); err == nil {
			err = p.checkShape()
		}
		pattern = p
	default:
		return nil, fmt.Errorf("%w: unknown schedule type %q", ErrInvalidPattern, patternType)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPattern, err)
	}
	return pattern, nil
}

func decodeStrict(raw []byte, target any) error {
	decoder := json.NewDecoder(bytes.NewReader(raw))
	decoder.DisallowUnknownFields()
	return decoder.Decode(target)
}

func (p MonthlyPattern) checkShape() error {
	for _, rule := range p.Rules {
		if rule.Day == 0 || rule.Day < -1 || rule.Day > 31 {
			return fmt.Errorf("day of month %d out of range", rule.Day)
		}
	}
	return nil
}

func (p CustomPattern) checkShape() error {
	if p.CycleDays < 0 {
		return fmt.Errorf("cycle length %d is negative", p.CycleDays)
	}
	for _, offset := range p.Offsets {
		if offset.Day < 0 {
			return fmt.Errorf("day offset %d is negative", offset.Day)
		}
		if p.CycleDays > 0 && offset.Day >= p.CycleDays {
			return fmt.Errorf("day offset %d is outside the %d day cycle", offset.Day, p.CycleDays)
		}
	}
	return nil
}

// EncodePattern is the inverse of ParsePattern.
func EncodePattern(p Pattern) ([]byte, error) {
	return json.Marshal(p)
}

// Validate checks that every day the pattern can produce resolves to one of the schedule's parents.
func Validate(p Pattern, parentIds []int) error {
	if p == nil {
		return fmt.Errorf("%w: missing pattern", ErrInvalidRecurrence)
	}
	return p.validate(parentIds)
}
