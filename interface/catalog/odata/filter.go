// Package odata queries the OData catalogue of the Copernicus Data Space Ecosystem.
package odata

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Patterns of the comparison operators: field, value
const (
	PatternEq         = "%s eq %s"
	PatternGt         = "%s gt %s"
	PatternGte        = "%s ge %s"
	PatternLt         = "%s lt %s"
	PatternLte        = "%s le %s"
	PatternContains   = "contains(%s,%s)"
	PatternStartsWith = "startswith(%s,%s)"
	PatternEndsWith   = "endswith(%s,%s)"
)

// Filter is an OData $filter expression
type Filter struct {
	expr     string
	function bool
}

// RawFilter creates a filter from an expression
func RawFilter(expr string) Filter {
	return Filter{expr: expr}
}

func (f Filter) String() string {
	return f.expr
}

// IsZero returns true for an empty filter
func (f Filter) IsZero() bool {
	return f.expr == ""
}

// FormatValue formats a value as an OData literal.
// Strings are quoted, times are converted to UTC.
func FormatValue(v interface{}) string {
	switch v := v.(type) {
	case string:
		return "'" + strings.ReplaceAll(v, "'", "''") + "'"
	case time.Time:
		return v.UTC().Format("2006-01-02T15:04:05.999999Z07:00")
	case *time.Time:
		return FormatValue(*v)
	case float64:
		return formatFloat(v)
	case float32:
		return formatFloat(float64(v))
	case bool:
		return strconv.FormatBool(v)
	case fmt.Stringer:
		return FormatValue(v.String())
	}
	return fmt.Sprintf("%v", v)
}

func formatFloat(f float64) string {
	s := strconv.FormatFloat(f, 'f', -1, 64)
	if !strings.ContainsAny(s, ".eEn") {
		s += ".0"
	}
	return s
}

func build(pattern, field string, value interface{}, function bool) Filter {
	return Filter{expr: fmt.Sprintf(pattern, field, FormatValue(value)), function: function}
}

func Eq(field string, value interface{}) Filter  { return build(PatternEq, field, value, false) }
func Neq(field string, value interface{}) Filter { return Eq(field, value).Not() }
func Gt(field string, value interface{}) Filter  { return build(PatternGt, field, value, false) }
func Gte(field string, value interface{}) Filter { return build(PatternGte, field, value, false) }
func Lt(field string, value interface{}) Filter  { return build(PatternLt, field, value, false) }
func Lte(field string, value interface{}) Filter { return build(PatternLte, field, value, false) }

func Contains(field string, value interface{}) Filter {
	return build(PatternContains, field, value, true)
}

func StartsWith(field string, value interface{}) Filter {
	return build(PatternStartsWith, field, value, true)
}

func EndsWith(field string, value interface{}) Filter {
	return build(PatternEndsWith, field, value, true)
}

func join(filters []Filter, sep string) string {
	exprs := make([]string, 0, len(filters))
	for _, f := range filters {
		if !f.IsZero() {
			exprs = append(exprs, f.expr)
		}
	}
	return strings.Join(exprs, sep)
}

// And joins the filters. Empty filters are ignored.
func And(filters ...Filter) Filter {
	return Filter{expr: join(filters, " and ")}
}

// Or joins the filters between parenthesis. Empty filters are ignored.
func Or(filters ...Filter) Filter {
	expr := join(filters, " or ")
	if expr == "" {
		return Filter{}
	}
	return Filter{expr: "(" + expr + ")"}
}

// Not negates the filter
func (f Filter) Not() Filter {
	if f.function {
		return Filter{expr: "not " + f.expr}
	}
	return Filter{expr: "not (" + f.expr + ")"}
}

// AttributeType returns the OData type of the attribute holding this value
func AttributeType(value interface{}) (string, error) {
	switch value.(type) {
	case string:
		return "String", nil
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return "Integer", nil
	case float32, float64:
		return "Double", nil
	case time.Time, *time.Time:
		return "DateTimeOffset", nil
	case bool:
		return "Boolean", nil
	}
	return "", fmt.Errorf("invalid value type: %T", value)
}

// AttributeFilter creates a filter on a product attribute, given a pattern (PatternEq...)
// e.g. Attributes/OData.CSC.DoubleAttribute/any(att:att/Name eq 'cloudCover' and att/OData.CSC.DoubleAttribute/Value le 10.0)
func AttributeFilter(pattern, name string, value interface{}) (Filter, error) {
	valueType, err := AttributeType(value)
	if err != nil {
		return Filter{}, fmt.Errorf("AttributeFilter: %w", err)
	}
	attr := fmt.Sprintf("att/OData.CSC.%sAttribute/Value", valueType)
	return Filter{expr: fmt.Sprintf("Attributes/OData.CSC.%sAttribute/any(att:att/Name eq %s and %s)",
		valueType, FormatValue(name), fmt.Sprintf(pattern, attr, FormatValue(value)))}, nil
}
