// Package mcp exposes the franz execution sandbox as Model Context Protocol
// tools, so an external agent can run fragments under a fixed trust tier.
package mcp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/haasonsaas/franz/internal/capability"
	"github.com/haasonsaas/franz/internal/sandbox"
	"github.com/haasonsaas/franz/internal/tier"
)

// Executor runs fragments.
type Executor interface {
	Execute(ctx context.Context, req sandbox.Request) sandbox.Result
}

// Tiers is the tier mapping the server reports and enforces.
type Tiers interface {
	Resolve(name string) (tier.Set, error)
	Definitions() []tier.Definition
}

// Catalogue lists registered capabilities.
type Catalogue interface {
	List() []capability.Capability
}

// Config holds MCP server configuration.
type Config struct {
	// Tier is the highest tier a caller may execute under, and the
	// default when a call names none.
	Tier    string
	Name    string
	Version string
}

// Server wraps the MCP SDK server. Calls share one set of session bindings
// and are serialized.
type Server struct {
	mcpServer *mcpsdk.Server
	exec      Executor
	tiers     Tiers
	catalogue Catalogue
	ceiling   tier.Set
	logger    *slog.Logger

	mu       sync.Mutex
	bindings sandbox.Bindings
}

// New creates a server with its tools registered.
func New(cfg Config, exec Executor, tiers Tiers, catalogue Catalogue, logger *slog.Logger) (*Server, error) {
	if exec == nil || tiers == nil || catalogue == nil {
		return nil, errors.New("mcp: executor, tiers and catalogue are required")
	}
	if cfg.Tier == "" {
		cfg.Tier = tier.Minimal
	}
	ceiling, err := tiers.Resolve(cfg.Tier)
	if err != nil {
		return nil, fmt.Errorf("mcp: %w", err)
	}
	if cfg.Name == "" {
		cfg.Name = "franz"
	}
	if cfg.Version == "" {
		cfg.Version = "dev"
	}
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		exec:      exec,
		tiers:     tiers,
		catalogue: catalogue,
		ceiling:   ceiling,
		logger:    logger.With("component", "mcp"),
		bindings:  sandbox.Bindings{},
	}
	s.mcpServer = mcpsdk.NewServer(
		&mcpsdk.Implementation{
			Name:    cfg.Name,
			Version: cfg.Version,
		},
		nil,
	)
	s.registerTools()
	return s, nil
}

// Run serves on stdio until ctx is cancelled or the client disconnects.
func (s *Server) Run(ctx context.Context) error {
	return s.mcpServer.Run(ctx, &mcpsdk.StdioTransport{})
}

// Connect serves one session over t.
func (s *Server) Connect(ctx context.Context, t mcpsdk.Transport) (*mcpsdk.ServerSession, error) {
	return s.mcpServer.Connect(ctx, t, nil)
}

// Variables returns the names bound in the shared session.
func (s *Server) Variables() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bindings.Names()
}

func (s *Server) registerTools() {
	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "franz_execute",
		Description: "Run a Starlark fragment in the franz sandbox. Variables assigned by a completed fragment stay available to later calls.",
	}, s.handleExecute)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "franz_tiers",
		Description: "List the trust tiers, their ranks and the capabilities each grants.",
	}, s.handleTiers)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "franz_capabilities",
		Description: "List registered capabilities, marking those granted to a tier.",
	}, s.handleCapabilities)
}
