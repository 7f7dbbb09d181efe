// Package config loads busprobe settings from flags and an optional JSON or YAML file.
package config

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// lookupSetting finds key in settings read by viper. Keys are given in
// snake_case; the camelCase (lowercased by viper) and kebab-case spellings of
// the same key are accepted too.
func lookupSetting(settings map[string]interface{}, key string) (interface{}, bool) {
	for _, candidate := range []string{
		key,
		strings.ReplaceAll(key, "_", ""),
		strings.ReplaceAll(key, "_", "-"),
	} {
		if val, ok := settings[candidate]; ok {
			return val, true
		}
	}
	return nil, false
}

// asString accepts strings and scalars; YAML turns unquoted values such as
// 4222 or true into numbers and booleans.
func asString(value interface{}) (string, error) {
	switch v := value.(type) {
	case nil:
		return "", nil
	case string:
		return v, nil
	case []byte:
		return string(v), nil
	case bool, int, int64, uint64, float64:
		return fmt.Sprint(v), nil
	default:
		return "", fmt.Errorf("expected a string, got %T", value)
	}
}

// asInt accepts whole numbers. JSON numbers arrive as float64, so fractional
// values are rejected rather than truncated.
func asInt(value interface{}) (int, error) {
	switch v := value.(type) {
	case nil:
		return 0, nil
	case int:
		return v, nil
	case int64:
		return int(v), nil
	case uint64:
		return int(v), nil
	case float64:
		if v != math.Trunc(v) {
			return 0, fmt.Errorf("expected a whole number, got %g", v)
		}
		return int(v), nil
	case string:
		s := strings.TrimSpace(v)
		if s == "" {
			return 0, nil
		}
		return strconv.Atoi(s)
	default:
		return 0, fmt.Errorf("expected a number, got %T", value)
	}
}

func asFloat64(value interface{}) (float64, error) {
	switch v := value.(type) {
	case nil:
		return 0, nil
	case float64:
		return v, nil
	case int:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case uint64:
		return float64(v), nil
	case string:
		s := strings.TrimSpace(v)
		if s == "" {
			return 0, nil
		}
		return strconv.ParseFloat(s, 64)
	default:
		return 0, fmt.Errorf("expected a number, got %T", value)
	}
}

func asBool(value interface{}) (bool, error) {
	switch v := value.(type) {
	case nil:
		return false, nil
	case bool:
		return v, nil
	case string:
		s := strings.TrimSpace(v)
		if s == "" {
			return false, nil
		}
		return strconv.ParseBool(s)
	default:
		return false, fmt.Errorf("expected a boolean, got %T", value)
	}
}

// asDuration parses Go duration strings. Bare numbers are seconds, so
// max_wait: 60 in a file means the same as --max-wait 60s.
func asDuration(value interface{}) (time.Duration, error) {
	switch v := value.(type) {
	case time.Duration:
		return v, nil
	case string:
		s := strings.TrimSpace(v)
		if s == "" {
			return 0, nil
		}
		if secs, err := strconv.ParseFloat(s, 64); err == nil {
			return seconds(secs), nil
		}
		return time.ParseDuration(s)
	default:
		secs, err := asFloat64(value)
		if err != nil {
			return 0, fmt.Errorf("expected a duration, got %T", value)
		}
		return seconds(secs), nil
	}
}

func seconds(secs float64) time.Duration {
	return time.Duration(secs * float64(time.Second))
}

// asStringSlice accepts a list or a single comma-separated string, matching
// how --server takes several servers in one value.
func asStringSlice(value interface{}) ([]string, error) {
	switch v := value.(type) {
	case nil:
		return nil, nil
	case []string:
		return v, nil
	case []interface{}:
		result := make([]string, len(v))
		for i, item := range v {
			str, err := asString(item)
			if err != nil {
				return nil, fmt.Errorf("index %d: %w", i, err)
			}
			result[i] = str
		}
		return result, nil
	case string:
		return strings.Split(v, ","), nil
	default:
		return nil, fmt.Errorf("expected a list, got %T", value)
	}
}

// toStringKeyMap normalizes a nested section, such as tracing, to the
// lowercase keys lookupSetting expects.
func toStringKeyMap(value interface{}) (map[string]interface{}, error) {
	result := map[string]interface{}{}
	switch v := value.(type) {
	case map[string]interface{}:
		for key, val := range v {
			result[strings.ToLower(strings.TrimSpace(key))] = val
		}
	case map[interface{}]interface{}:
		for key, val := range v {
			str, err := asString(key)
			if err != nil {
				return nil, err
			}
			result[strings.ToLower(strings.TrimSpace(str))] = val
		}
	default:
		return nil, fmt.Errorf("expected a map, got %T", value)
	}
	return result, nil
}
