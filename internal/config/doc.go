// Package config loads the client configuration from keel.lua.
//
// The file is plain Lua evaluated in a restricted gopher-lua VM: the os, io
// and debug libraries and every code loading function are removed, and a
// read-only platform table is injected so a single file can cover several
// hosts. The file must assign a global keel table:
//
//	keel = {
//	  client_version = "3.0",
//	  environment = "PRODUCTION",
//	  endpoint = "https://updates.example.com/",
//	  hosts = { "app.example.com" },
//	  check_interval = "24h",
//	  pins = { { host = "updates.example.com", sha256 = "9f86d0..." } },
//	  trust_stores = { PRODUCTION = { "ffbab1f0..." } },
//	}
//
// Type errors and failed validation are reported as *ParseError. Generator
// writes the same schema back out for `keel init`.
package config
