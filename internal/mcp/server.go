// Package mcp exposes the QA engine as Model Context Protocol tools.
package mcp

import (
	"github.com/mark3labs/mcp-go/server"

	"github.com/snakeclub/chat-robot/internal/embeddings"
	"github.com/snakeclub/chat-robot/internal/qa"
	"github.com/snakeclub/chat-robot/internal/session"
	"github.com/snakeclub/chat-robot/internal/vectordb"
)

// Version is set via ldflags at build time.
var Version = "dev"

// Server wraps an MCP server over the QA engine.
type Server struct {
	engine   *qa.Engine
	sessions session.Store
	vectors  *vectordb.Adapter
	embedder embeddings.Embedder
	mcp      *server.MCPServer
}

// NewServer creates a new MCP server with the given dependencies.
func NewServer(engine *qa.Engine, sessions session.Store, vectors *vectordb.Adapter, embedder embeddings.Embedder) *Server {
	s := &Server{
		engine:   engine,
		sessions: sessions,
		vectors:  vectors,
		embedder: embedder,
	}

	s.mcp = server.NewMCPServer(
		"chat-robot",
		Version,
		server.WithToolCapabilities(false),
	)

	s.registerTools()

	return s
}

func (s *Server) registerTools() {
	s.mcp.AddTool(createSessionTool, s.handleCreateSession)
	s.mcp.AddTool(askQuestionTool, s.handleAskQuestion)
	s.mcp.AddTool(searchQuestionsTool, s.handleSearchQuestions)
}

// Serve starts the MCP server on stdio. Stdout is used for MCP protocol
// messages; all logging must go to stderr.
func (s *Server) Serve() error {
	return server.ServeStdio(s.mcp)
}
