package testcase

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"time"
)

// Params are the per-test settings: plan `with` values layered over the
// defaults a case declares.
type Params map[string]interface{}

// Default sets key only when it has no value yet.
func (p Params) Default(key string, value interface{}) {
	if _, ok := p[key]; !ok {
		p[key] = value
	}
}

// Merge copies every value of other over p.
func (p Params) Merge(other map[string]interface{}) {
	for key, value := range other {
		p[key] = value
	}
}

// Keys returns the keys in sorted order.
func (p Params) Keys() []string {
	keys := make([]string, 0, len(p))
	for key := range p {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

func (p Params) String(key string, fallback string) string {
	if p == nil {
		return fallback
	}
	value, ok := p[key]
	if !ok || value == nil {
		return fallback
	}
	switch typed := value.(type) {
	case string:
		if typed == "" {
			return fallback
		}
		return os.ExpandEnv(typed)
	default:
		return fmt.Sprintf("%v", typed)
	}
}

func (p Params) Int(key string, fallback int) int {
	if p == nil {
		return fallback
	}
	value, ok := p[key]
	if !ok || value == nil {
		return fallback
	}
	switch typed := value.(type) {
	case int:
		return typed
	case int32:
		return int(typed)
	case int64:
		return int(typed)
	case float64:
		return int(typed)
	case string:
		parsed := fallback
		_, err := fmt.Sscanf(typed, "%d", &parsed)
		if err != nil {
			return fallback
		}
		return parsed
	default:
		return fallback
	}
}

// Duration accepts a Go duration string or a number of seconds.
func (p Params) Duration(key string, fallback time.Duration) time.Duration {
	if p == nil {
		return fallback
	}
	value, ok := p[key]
	if !ok || value == nil {
		return fallback
	}
	switch typed := value.(type) {
	case time.Duration:
		return typed
	case string:
		parsed, err := time.ParseDuration(typed)
		if err != nil {
			return fallback
		}
		return parsed
	case int:
		return time.Duration(typed) * time.Second
	case int64:
		return time.Duration(typed) * time.Second
	case float64:
		return time.Duration(typed * float64(time.Second))
	default:
		return fallback
	}
}

func (p Params) Bool(key string, fallback bool) bool {
	if p == nil {
		return fallback
	}
	value, ok := p[key]
	if !ok || value == nil {
		return fallback
	}
	switch typed := value.(type) {
	case bool:
		return typed
	case string:
		switch strings.ToLower(strings.TrimSpace(typed)) {
		case "true", "1", "yes", "y":
			return true
		case "false", "0", "no", "n":
			return false
		}
	}
	return fallback
}

// Strings accepts a YAML list or a comma separated string.
func (p Params) Strings(key string) []string {
	if p == nil {
		return nil
	}
	var raw []string
	switch typed := p[key].(type) {
	case []string:
		raw = typed
	case []interface{}:
		for _, item := range typed {
			raw = append(raw, fmt.Sprintf("%v", item))
		}
	case string:
		raw = strings.Split(typed, ",")
	}
	out := make([]string, 0, len(raw))
	for _, value := range raw {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
