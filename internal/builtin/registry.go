package builtin

import "github.com/shadow-sim/shadow/internal/plugin"

// tables maps a topology's <plugin path="..."> attribute to one of the
// bundled reference plug-ins, standing in for an actual dlopen of a
// guest shared object (spec.md Non-goals).
var tables = map[string]func() plugin.Table{
	"echo": EchoTable,
	"ping": PingTable,
}

// Lookup resolves path to a bundled plug-in's function table.
func Lookup(path string) (plugin.Table, bool) {
	build, ok := tables[path]
	if !ok {
		return plugin.Table{}, false
	}
	return build(), true
}
