package mcp

import (
	"context"
	"io"
	"log/slog"
	"time"

	"github.com/mark3labs/mcp-go/server"

	"github.com/dshills/climbrag/internal/searcher"
	"github.com/dshills/climbrag/internal/storage"
)

const (
	// ServerName is the MCP server name
	ServerName = "climbrag"
	// ServerVersion is the current server version
	ServerVersion = "1.0.0"
)

// Server wraps the MCP server with application dependencies
type Server struct {
	mcp      *server.MCPServer
	storage  storage.Storage
	searcher *searcher.Searcher
	logger   *slog.Logger
	now      func() time.Time
}

// NewServer creates a new MCP server over an opened route index. The caller
// keeps ownership of store.
func NewServer(store storage.Storage, srch *searcher.Searcher, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		mcp:      server.NewMCPServer(ServerName, ServerVersion, server.WithToolCapabilities(false)),
		storage:  store,
		searcher: srch,
		logger:   logger,
		now:      time.Now,
	}
	s.registerTools()
	return s
}

// Serve speaks MCP over in/out until ctx is cancelled or in is closed
func (s *Server) Serve(ctx context.Context, in io.Reader, out io.Writer) error {
	stdio := server.NewStdioServer(s.mcp)
	stdio.SetErrorLogger(slog.NewLogLogger(s.logger.Handler(), slog.LevelError))

	s.logger.Info("mcp server listening", "name", ServerName, "version", ServerVersion)
	err := stdio.Listen(ctx, in, out)
	if ctx.Err() != nil {
		return nil
	}
	return err
}

// registerTools registers all MCP tools
func (s *Server) registerTools() {
	s.mcp.AddTool(searchClimbsTool(), s.handleSearchClimbs)
	s.mcp.AddTool(getStatusTool(), s.handleGetStatus)
}
