package odata

import (
	"fmt"
	"strings"
	"time"

	"github.com/araddon/dateparse"
)

// DatetimeRange is a half-open interval [Start, End). A zero bound is open.
type DatetimeRange struct {
	Start time.Time
	End   time.Time
}

// ParseDatetimeRange parses a datetime or an interval:
//   - a time.Time: [t, +inf)
//   - a string "start", "start/end", "start/" or "/end" (any format supported by dateparse, UTC by default)
//   - a [2]time.Time, []time.Time or []string of two components (zero or empty means open)
func ParseDatetimeRange(value interface{}) (DatetimeRange, error) {
	var components []interface{}
	switch v := value.(type) {
	case time.Time:
		components = []interface{}{v, nil}
	case *time.Time:
		components = []interface{}{*v, nil}
	case string:
		for _, s := range strings.Split(v, "/") {
			components = append(components, s)
		}
		if len(components) == 1 {
			components = append(components, nil)
		}
	case [2]time.Time:
		components = []interface{}{v[0], v[1]}
	case []time.Time:
		for _, t := range v {
			components = append(components, t)
		}
	case []string:
		for _, s := range v {
			components = append(components, s)
		}
	case DatetimeRange:
		components = []interface{}{v.Start, v.End}
	default:
		return DatetimeRange{}, fmt.Errorf("invalid datetime type: %T", value)
	}

	if len(components) != 2 {
		return DatetimeRange{}, fmt.Errorf("too many/few datetime components (expected=2, actual=%d): %v", len(components), components)
	}
	var bounds [2]time.Time
	for i, c := range components {
		switch c := c.(type) {
		case time.Time:
			if !c.IsZero() {
				bounds[i] = c.UTC()
			}
		case string:
			if c = strings.TrimSpace(c); c == "" || c == ".." {
				continue
			}
			t, err := dateparse.ParseIn(c, time.UTC)
			if err != nil {
				return DatetimeRange{}, fmt.Errorf("ParseDatetimeRange: %w", err)
			}
			bounds[i] = t.UTC()
		}
	}
	if bounds[0].IsZero() && bounds[1].IsZero() {
		return DatetimeRange{}, fmt.Errorf("cannot create a double open-ended interval")
	}
	return DatetimeRange{Start: bounds[0], End: bounds[1]}, nil
}

// Filter returns field ge Start and field lt End
func (r DatetimeRange) Filter(field string) Filter {
	var filters []Filter
	if !r.Start.IsZero() {
		filters = append(filters, Gte(field, r.Start))
	}
	if !r.End.IsZero() {
		filters = append(filters, Lt(field, r.End))
	}
	return And(filters...)
}

// DatetimeFilter parses the value with ParseDatetimeRange and returns its filter on field
func DatetimeFilter(field string, value interface{}) (Filter, error) {
	r, err := ParseDatetimeRange(value)
	if err != nil {
		return Filter{}, err
	}
	return r.Filter(field), nil
}
