package config

import (
	"context"
	"testing"
)

func FuzzParseString(f *testing.F) {
	f.Add(minimalConfig())
	f.Add(`keel = {}`)
	f.Add(`keel = { hosts = { 1, 2 } }`)
	f.Add(`keel = { trust_stores = { [1] = { "aa" } } }`)

	f.Fuzz(func(t *testing.T, src string) {
		cfg, err := NewParser(nil, nil).ParseString(context.Background(), src)
		if err == nil && cfg.Validate() != nil {
			t.Errorf("accepted config fails validation")
		}
	})
}
