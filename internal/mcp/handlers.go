package mcp

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/snakeclub/chat-robot/internal/embeddings"
	"github.com/snakeclub/chat-robot/internal/qa"
	"github.com/snakeclub/chat-robot/internal/session"
	"github.com/snakeclub/chat-robot/internal/vectordb"
)

func (s *Server) handleCreateSession(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var info map[string]any
	if args, ok := request.GetArguments()["info"].(map[string]any); ok {
		info = args
	}
	id, err := s.sessions.Create(ctx, info)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("creating session: %v", err)), nil
	}
	return mcp.NewToolResultText(id), nil
}

func (s *Server) handleAskQuestion(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	question, err := request.RequireString("question")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: question"), nil
	}

	res, err := s.engine.Search(ctx, qa.Request{
		SessionID:  request.GetString("session_id", ""),
		Question:   question,
		Collection: request.GetString("collection", ""),
	})
	switch {
	case errors.Is(err, session.ErrNotFound):
		return mcp.NewToolResultError("Session not found or expired. Call create_session to start a new one."), nil
	case errors.Is(err, qa.ErrSessionRequired):
		return mcp.NewToolResultError("This answer continues the dialogue. Call create_session and pass its session_id."), nil
	case err != nil:
		return mcp.NewToolResultError(fmt.Sprintf("answering failed: %v", err)), nil
	}

	parts := make([]string, 0, len(res.Replies))
	for _, r := range res.Replies {
		parts = append(parts, r.String())
	}
	return mcp.NewToolResultText(strings.Join(parts, "\n\n")), nil
}

func (s *Server) handleSearchQuestions(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query, err := request.RequireString("query")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: query"), nil
	}

	limit := request.GetInt("limit", 5)
	if limit <= 0 {
		limit = 5
	}

	collections := s.vectors.Index().Collections()
	if c := request.GetString("collection", ""); c != "" {
		collections = []string{c}
	}
	if len(collections) == 0 {
		return mcp.NewToolResultText("No results found. The questions may not be indexed yet. Run `chat-robot import` to load them."), nil
	}

	vec, err := embeddings.EmbedOne(ctx, s.embedder, query)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("embedding query: %v", err)), nil
	}

	partition := request.GetString("partition", "")
	var results []vectordb.Candidate
	for _, c := range collections {
		found, err := s.vectors.Candidates(ctx, c, partition, vec, limit)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("search failed: %v", err)), nil
		}
		results = append(results, found...)
	}
	sort.SliceStable(results, func(i, j int) bool { return results[i].Similarity > results[j].Similarity })

	return mcp.NewToolResultText(vectordb.FormatResults(results)), nil
}
