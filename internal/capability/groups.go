package capability

import "strings"

// GroupPrefix distinguishes group references from capability IDs.
const GroupPrefix = "group:"

// IsGroup reports whether id is a group reference.
func IsGroup(id string) bool {
	return strings.HasPrefix(id, GroupPrefix)
}

var idAliases = map[string]string{
	"output":  "print",
	"stdout":  "print",
	"json":    ModulePrefix + "json",
	"math":    ModulePrefix + "math",
	"time":    ModulePrefix + "time",
	"scratch": ModulePrefix + "scratch",
}

// NormalizeID lower-cases and trims id and resolves well-known aliases.
func NormalizeID(id string) string {
	normalized := strings.ToLower(strings.TrimSpace(id))
	if alias, ok := idAliases[normalized]; ok {
		return alias
	}
	return normalized
}

// Group is a named set of capabilities used in tier definitions.
type Group struct {
	Name    string
	Members []string
}

// DefaultGroups lists the groups registered by Defaults. Order matters: a
// group may only reference groups listed before it.
var DefaultGroups = []Group{
	// Pure numeric helpers.
	{Name: "group:arithmetic", Members: []string{
		"abs", "min", "max", "sum", "pow", "round", "int", "float", "bool",
	}},

	// Building and walking collections.
	{Name: "group:data", Members: []string{
		"dict", "list", "tuple", "set", "range", "len", "enumerate", "zip",
		"sorted", "reversed", "any", "all", "map", "filter", "struct",
	}},

	// Value conversion and formatting.
	{Name: "group:conversion", Members: []string{
		"str", "chr", "ord", "bin", "hex", "oct", "bytes", "hash",
	}},

	{Name: "group:introspection", Members: []string{"type", "repr"}},

	// Attribute access by name. Lets a fragment enumerate whatever it holds.
	{Name: "group:reflection", Members: []string{"getattr", "hasattr", "dir"}},

	{Name: "group:output", Members: []string{"print"}},

	{Name: "group:modules", Members: []string{
		"module:math", "module:json", "module:time", "module:scratch",
	}},

	// Everything with no host-visible effect.
	{Name: "group:safe", Members: []string{
		"group:arithmetic", "group:data", "group:conversion", "group:introspection", "fail",
	}},
}
