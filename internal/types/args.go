package types

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Args are the "key=value,key=value" options handed to an extractor or
// scorer class.
type Args map[string]string

// ParseArgs parses an args string. Keys are lower-cased; an empty string
// yields empty args.
func ParseArgs(s string) (Args, error) {
	args := Args{}
	s = strings.TrimSpace(s)
	if s == "" {
		return args, nil
	}
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		k, v, ok := strings.Cut(part, "=")
		k = strings.ToLower(strings.TrimSpace(k))
		if !ok || k == "" {
			return nil, fmt.Errorf("malformed argument %q (want key=value)", part)
		}
		if _, dup := args[k]; dup {
			return nil, fmt.Errorf("duplicate argument %q", k)
		}
		args[k] = strings.TrimSpace(v)
	}
	return args, nil
}

// Int returns the integer value of key, or def when absent.
func (a Args) Int(key string, def int) (int, error) {
	v, ok := a[key]
	if !ok {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("argument %s: invalid integer %q", key, v)
	}
	return n, nil
}

// Bool returns the boolean value of key, or def when absent.
func (a Args) Bool(key string, def bool) (bool, error) {
	v, ok := a[key]
	if !ok {
		return def, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("argument %s: invalid boolean %q", key, v)
	}
	return b, nil
}

// Unknown returns the keys not listed in known, sorted.
func (a Args) Unknown(known ...string) []string {
	allowed := make(map[string]bool, len(known))
	for _, k := range known {
		allowed[k] = true
	}
	var out []string
	for k := range a {
		if !allowed[k] {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out
}

func (a Args) String() string {
	keys := make([]string, 0, len(a))
	for k := range a {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = k + "=" + a[k]
	}
	return strings.Join(parts, ",")
}
