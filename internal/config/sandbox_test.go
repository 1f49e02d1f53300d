package config

import (
	"testing"
)

func TestSandboxedVM(t *testing.T) {
	tests := []struct {
		name    string
		code    string
		wantErr bool
	}{
		{"string library", `x = string.upper("hello")`, false},
		{"table library", `t = {1, 2}; table.insert(t, 3)`, false},
		{"math library", `x = math.floor(1.5)`, false},
		{"basic functions", `x = tostring(1) .. type("s")`, false},
		{"os removed", `os.execute("ls")`, true},
		{"io removed", `io.open("/etc/passwd")`, true},
		{"require removed", `require("socket")`, true},
		{"dofile removed", `dofile("/tmp/x.lua")`, true},
		{"loadstring removed", `loadstring("return 1")()`, true},
		{"load removed", `load(function() return nil end)`, true},
		{"debug removed", `debug.getinfo(1)`, true},
		{"collectgarbage removed", `collectgarbage()`, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			L := newSandboxedVM()
			defer L.Close()

			err := L.DoString(tt.code)
			if (err != nil) != tt.wantErr {
				t.Errorf("DoString(%q) error = %v, wantErr %v", tt.code, err, tt.wantErr)
			}
		})
	}
}
