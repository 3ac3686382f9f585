package imbi

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// Fact kinds and data types.
const (
	FactTypeEnum     = "enum"
	FactTypeRange    = "range"
	FactTypeFreeForm = "free-form"

	DataTypeBoolean   = "boolean"
	DataTypeDate      = "date"
	DataTypeDecimal   = "decimal"
	DataTypeInteger   = "integer"
	DataTypeString    = "string"
	DataTypeTimestamp = "timestamp"
)

// NormalizeFactName lowercases name and replaces spaces and dashes with
// underscores.
func NormalizeFactName(name string) string {
	return strings.NewReplacer(" ", "_", "-", "_").Replace(strings.ToLower(strings.TrimSpace(name)))
}

// ValidateValue coerces value to the fact's data type and checks it against
// the fact's constraints. enumValues is consulted for enum facts.
func (t *ProjectFactType) ValidateValue(value any, enumValues []string) (any, error) {
	typed, err := t.coerce(value)
	if err != nil {
		return nil, fmt.Errorf("cannot convert %v to %s: %w", value, t.DataType, err)
	}

	switch t.FactType {
	case FactTypeEnum:
		if len(enumValues) == 0 {
			return nil, fmt.Errorf("no enum values are defined for fact %s", t.Name)
		}
		s := fmt.Sprint(typed)
		for _, allowed := range enumValues {
			if allowed == s {
				return typed, nil
			}
		}
		return nil, fmt.Errorf("value must be one of: %s", strings.Join(enumValues, ", "))

	case FactTypeRange:
		if t.MinValue == nil || t.MaxValue == nil {
			return nil, fmt.Errorf("range bounds are not defined for fact %s", t.Name)
		}
		var n float64
		switch v := typed.(type) {
		case int64:
			n = float64(v)
		case float64:
			n = v
		default:
			return nil, fmt.Errorf("range fact %s requires a numeric value", t.Name)
		}
		if n < *t.MinValue || n > *t.MaxValue {
			return nil, fmt.Errorf("value must be between %v and %v", *t.MinValue, *t.MaxValue)
		}
	}
	return typed, nil
}

func (t *ProjectFactType) coerce(value any) (any, error) {
	switch t.DataType {
	case DataTypeBoolean:
		switch v := value.(type) {
		case bool:
			return v, nil
		case string:
			switch strings.ToLower(v) {
			case "true", "1", "yes":
				return true, nil
			case "false", "0", "no":
				return false, nil
			}
		}
		return nil, fmt.Errorf("not a boolean")

	case DataTypeInteger:
		switch v := value.(type) {
		case int:
			return int64(v), nil
		case int64:
			return v, nil
		case float64:
			if v != math.Trunc(v) {
				return nil, fmt.Errorf("not an integer")
			}
			return int64(v), nil
		case string:
			return strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		}
		return nil, fmt.Errorf("unsupported type %T", value)

	case DataTypeDecimal:
		switch v := value.(type) {
		case int:
			return float64(v), nil
		case int64:
			return float64(v), nil
		case float64:
			return v, nil
		case string:
			return strconv.ParseFloat(strings.TrimSpace(v), 64)
		}
		return nil, fmt.Errorf("unsupported type %T", value)

	case DataTypeString:
		return fmt.Sprint(value), nil

	case DataTypeDate, DataTypeTimestamp:
		s, ok := value.(string)
		if !ok {
			return nil, fmt.Errorf("%s must be an ISO format string", t.DataType)
		}
		layout := time.RFC3339
		if t.DataType == DataTypeDate {
			layout = time.DateOnly
		}
		if _, err := time.Parse(layout, s); err != nil {
			return nil, fmt.Errorf("invalid ISO format: %w", err)
		}
		return s, nil
	}
	return nil, fmt.Errorf("unknown data type %q", t.DataType)
}
