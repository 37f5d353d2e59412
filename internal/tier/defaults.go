package tier

// DefaultDefinitions returns the shipped tier mapping. Each call returns a
// fresh copy.
func DefaultDefinitions() []Definition {
	return []Definition{
		{
			Name:        Minimal,
			Rank:        10,
			Description: "pure computation over data; no output, no modules",
			Allow:       []string{"group:arithmetic", "group:data", "fail"},
		},
		{
			Name:        Standard,
			Rank:        20,
			Description: "minimal plus conversion, printing, math and json",
			Inherits:    Minimal,
			Allow: []string{
				"group:conversion",
				"group:introspection",
				"print",
				"module:math",
				"module:json",
			},
		},
		{
			Name:        Extended,
			Rank:        30,
			Description: "standard plus reflection, clock access and the scratch directory",
			Inherits:    Standard,
			Allow: []string{
				"group:reflection",
				"module:time",
				"module:scratch",
			},
		},
	}
}
