package mcp

import (
	"context"
	"fmt"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/haasonsaas/franz/internal/sandbox"
)

// ExecuteInput defines parameters for the franz_execute tool.
type ExecuteInput struct {
	Code      string         `json:"code" jsonschema:"Starlark fragment to run"`
	Tier      string         `json:"tier,omitempty" jsonschema:"trust tier; defaults to the server tier and may not exceed it"`
	Variables map[string]any `json:"variables,omitempty" jsonschema:"values bound before the fragment runs"`
	TimeoutMS int64          `json:"timeout_ms,omitempty" jsonschema:"execution timeout in milliseconds"`
	Reset     bool           `json:"reset,omitempty" jsonschema:"discard session variables first"`
}

// ExecuteOutput is the structured execution report.
type ExecuteOutput struct {
	Outcome     string             `json:"outcome"`
	Output      string             `json:"output"`
	Truncated   bool               `json:"truncated,omitempty"`
	Error       *sandbox.ExecError `json:"error,omitempty"`
	Tier        string             `json:"tier"`
	DurationMS  int64              `json:"duration_ms"`
	NewBindings []string           `json:"new_bindings,omitempty"`
	Values      map[string]any     `json:"values,omitempty"`
	Variables   []string           `json:"variables"`
}

// TiersInput is empty; franz_tiers takes no arguments.
type TiersInput struct{}

// TierInfo describes one tier.
type TierInfo struct {
	Name         string   `json:"name"`
	Rank         int      `json:"rank"`
	Description  string   `json:"description,omitempty"`
	Inherits     string   `json:"inherits,omitempty"`
	Capabilities []string `json:"capabilities"`
	Allowed      bool     `json:"allowed"`
}

// TiersOutput lists tiers by rank.
type TiersOutput struct {
	Tiers []TierInfo `json:"tiers"`
}

// CapabilitiesInput selects the tier used for the granted flag.
type CapabilitiesInput struct {
	Tier string `json:"tier,omitempty" jsonschema:"tier to check grants against; defaults to the server tier"`
}

// CapabilityInfo describes one capability.
type CapabilityInfo struct {
	ID          string `json:"id"`
	Category    string `json:"category"`
	Risk        string `json:"risk"`
	Description string `json:"description,omitempty"`
	Granted     bool   `json:"granted"`
}

// CapabilitiesOutput lists capabilities by ID.
type CapabilitiesOutput struct {
	Tier         string           `json:"tier"`
	Capabilities []CapabilityInfo `json:"capabilities"`
}

func (s *Server) handleExecute(ctx context.Context, req *mcpsdk.CallToolRequest, input ExecuteInput) (*mcpsdk.CallToolResult, ExecuteOutput, error) {
	tierName := input.Tier
	if tierName == "" {
		tierName = s.ceiling.Name()
	}
	if set, err := s.tiers.Resolve(tierName); err == nil && !set.SubsetOf(s.ceiling) {
		msg := fmt.Sprintf("tier %s exceeds the server tier %s", set.Name(), s.ceiling.Name())
		return errorResult(msg), ExecuteOutput{
			Outcome: string(sandbox.OutcomeCapabilityDenied),
			Error:   &sandbox.ExecError{Kind: sandbox.KindCapabilityDenied, Message: msg},
			Tier:    tierName,
		}, nil
	}

	seed, err := sandbox.FromGo(input.Variables)
	if err != nil {
		return nil, ExecuteOutput{}, fmt.Errorf("variables: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if input.Reset {
		s.bindings = sandbox.Bindings{}
	}
	bindings := s.bindings.Clone()
	for name, v := range seed {
		bindings[name] = v
	}

	res := s.exec.Execute(ctx, sandbox.Request{
		Code:     input.Code,
		Tier:     tierName,
		Bindings: bindings,
		Limits:   sandbox.Limits{Timeout: msDuration(input.TimeoutMS)},
	})
	if res.OK() {
		s.bindings = res.Bindings
	} else if len(seed) > 0 || input.Reset {
		// Seeded variables stick even when the fragment fails.
		s.bindings = bindings
	}
	s.logger.Debug("fragment executed", "tier", res.Tier, "outcome", res.Outcome, "duration", res.Duration)

	out := ExecuteOutput{
		Outcome:     string(res.Outcome),
		Output:      res.Output,
		Truncated:   res.Truncated,
		Error:       res.Error,
		Tier:        res.Tier,
		DurationMS:  res.Duration.Milliseconds(),
		NewBindings: res.NewBindings,
		Variables:   append([]string{}, s.bindings.Names()...),
	}
	if len(res.NewBindings) > 0 {
		changed := make(sandbox.Bindings, len(res.NewBindings))
		for _, name := range res.NewBindings {
			if v, ok := res.Bindings.Get(name); ok {
				changed[name] = v
			}
		}
		out.Values = changed.ToGo()
	}
	if !res.OK() {
		return errorResult(res.Summary()), out, nil
	}
	return nil, out, nil
}

func (s *Server) handleTiers(_ context.Context, _ *mcpsdk.CallToolRequest, _ TiersInput) (*mcpsdk.CallToolResult, TiersOutput, error) {
	out := TiersOutput{Tiers: []TierInfo{}}
	for _, def := range s.tiers.Definitions() {
		info := TierInfo{
			Name:        def.Name,
			Rank:        def.Rank,
			Description: def.Description,
			Inherits:    def.Inherits,
		}
		info.Capabilities = []string{}
		if set, err := s.tiers.Resolve(def.Name); err == nil {
			info.Capabilities = append(info.Capabilities, set.IDs()...)
			info.Allowed = set.SubsetOf(s.ceiling)
		}
		out.Tiers = append(out.Tiers, info)
	}
	return nil, out, nil
}

func (s *Server) handleCapabilities(_ context.Context, _ *mcpsdk.CallToolRequest, input CapabilitiesInput) (*mcpsdk.CallToolResult, CapabilitiesOutput, error) {
	set := s.ceiling
	if input.Tier != "" {
		resolved, err := s.tiers.Resolve(input.Tier)
		if err != nil {
			return errorResult(err.Error()), CapabilitiesOutput{Tier: input.Tier}, nil
		}
		set = resolved
	}
	out := CapabilitiesOutput{Tier: set.Name(), Capabilities: []CapabilityInfo{}}
	for _, c := range s.catalogue.List() {
		out.Capabilities = append(out.Capabilities, CapabilityInfo{
			ID:          c.ID,
			Category:    string(c.Category),
			Risk:        string(c.Risk),
			Description: c.Description,
			Granted:     set.Has(c.ID),
		})
	}
	return nil, out, nil
}

func errorResult(text string) *mcpsdk.CallToolResult {
	return &mcpsdk.CallToolResult{
		IsError: true,
		Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: text}},
	}
}

func msDuration(ms int64) time.Duration {
	if ms <= 0 {
		return 0
	}
	return time.Duration(ms) * time.Millisecond
}
