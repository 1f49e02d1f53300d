package sandbox

import (
	"fmt"
	"time"
)

// Constants are the inputs handed to an operation. Only plain values are
// accepted: string, bool, int, int64, uint64, float64, time.Duration,
// time.Time, []byte and []string.
type Constants map[string]interface{}

// freeze returns a deep copy of c. Nothing in the copy aliases the caller's
// memory.
func freeze(c Constants) (Constants, error) {
	out := make(Constants, len(c))
	for k, v := range c {
		switch val := v.(type) {
		case string, bool, int, int64, uint64, float64, time.Duration, time.Time:
			out[k] = val
		case []byte:
			out[k] = append([]byte(nil), val...)
		case []string:
			out[k] = append([]string(nil), val...)
		case nil:
			out[k] = nil
		default:
			return nil, fmt.Errorf("constant %q has unsupported type %T", k, v)
		}
	}
	return out, nil
}

func (e *Env) lookup(key string) (interface{}, error) {
	v, ok := e.constants[key]
	if !ok {
		return nil, fmt.Errorf("%s: missing constant %q", e.name, key)
	}
	return v, nil
}

// Has reports whether a constant is present.
func (e *Env) Has(key string) bool {
	_, ok := e.constants[key]
	return ok
}

// Bytes returns a copy of a []byte constant.
func (e *Env) Bytes(key string) ([]byte, error) {
	v, err := e.lookup(key)
	if err != nil {
		return nil, err
	}
	b, ok := v.([]byte)
	if !ok {
		return nil, fmt.Errorf("%s: constant %q is %T, not []byte", e.name, key, v)
	}
	return append([]byte(nil), b...), nil
}

// String returns a string constant.
func (e *Env) String(key string) (string, error) {
	v, err := e.lookup(key)
	if err != nil {
		return "", err
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("%s: constant %q is %T, not string", e.name, key, v)
	}
	return s, nil
}

// Int64 returns an integer constant. int and uint64 values that fit are
// converted.
func (e *Env) Int64(key string) (int64, error) {
	v, err := e.lookup(key)
	if err != nil {
		return 0, err
	}
	switch n := v.(type) {
	case int64:
		return n, nil
	case int:
		return int64(n), nil
	case uint64:
		if n > 1<<63-1 {
			return 0, fmt.Errorf("%s: constant %q overflows int64", e.name, key)
		}
		return int64(n), nil
	default:
		return 0, fmt.Errorf("%s: constant %q is %T, not an integer", e.name, key, v)
	}
}

// Duration returns a time.Duration constant.
func (e *Env) Duration(key string) (time.Duration, error) {
	v, err := e.lookup(key)
	if err != nil {
		return 0, err
	}
	d, ok := v.(time.Duration)
	if !ok {
		return 0, fmt.Errorf("%s: constant %q is %T, not time.Duration", e.name, key, v)
	}
	return d, nil
}
