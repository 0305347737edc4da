// Package mcpserver provides an MCP (Model Context Protocol) server that
// exposes read-only vault tools to LLM clients over stdio.
package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/starford/steward/internal/apperr"
	"github.com/starford/steward/internal/command"
	"github.com/starford/steward/internal/vault"
)

const (
	commandsURI       = "steward://commands"
	defaultMaxResults = 50
)

// Server wraps the MCP server with steward tools.
type Server struct {
	mcp    *server.MCPServer
	vault  vault.Provider
	router *command.Router
	recent int
}

// New creates a new MCP server with all tools registered. recentLimit is the
// default for recent_notes.
func New(v vault.Provider, router *command.Router, version string, recentLimit int) *Server {
	if recentLimit <= 0 {
		recentLimit = 10
	}
	s := &Server{vault: v, router: router, recent: recentLimit}

	s.mcp = server.NewMCPServer(
		"steward",
		version,
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
	)

	s.mcp.AddTool(mcp.NewTool("list_notes",
		mcp.WithDescription("List markdown notes in the vault, optionally limited to one folder."),
		mcp.WithString("folder", mcp.Description("Optional folder prefix (e.g. Projects)")),
	), s.listNotes)

	s.mcp.AddTool(mcp.NewTool("read_note",
		mcp.WithDescription("Read the full content of a markdown note."),
		mcp.WithString("path", mcp.Required(), mcp.Description("Path relative to the vault root (e.g. folder/note.md)")),
	), s.readNote)

	s.mcp.AddTool(mcp.NewTool("recent_notes",
		mcp.WithDescription("List the most recently modified notes, newest first."),
		mcp.WithNumber("limit", mcp.Description("Maximum number of notes to return")),
	), s.recentNotes)

	s.mcp.AddTool(mcp.NewTool("search_vault",
		mcp.WithDescription("Case-insensitive text search through every note. Returns file, line number and excerpt per match."),
		mcp.WithString("query", mcp.Required(), mcp.Description("Text to look for")),
		mcp.WithNumber("max_results", mcp.Description("Maximum number of matches to return")),
	), s.searchVault)

	s.mcp.AddTool(mcp.NewTool("run_command",
		mcp.WithDescription("Run an assistant slash command such as \"/search milk\" or \"/today\" and return its text output."),
		mcp.WithString("command", mcp.Required(), mcp.Description("Command line starting with /")),
	), s.runCommand)

	s.mcp.AddResource(
		mcp.NewResource(commandsURI, "Assistant commands",
			mcp.WithResourceDescription("Slash commands understood by run_command."),
			mcp.WithMIMEType("text/plain"),
		),
		s.readCommandsResource,
	)

	return s
}

// ServeStdio starts the MCP server on stdin/stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcp)
}

func toolError(err error, path string) *mcp.CallToolResult {
	switch {
	case errors.Is(err, apperr.ErrNotFound):
		return mcp.NewToolResultError(fmt.Sprintf("not found: %s", path))
	case errors.Is(err, apperr.ErrAccessDenied):
		return mcp.NewToolResultError(fmt.Sprintf("access denied: %s", path))
	default:
		return mcp.NewToolResultError(err.Error())
	}
}

func jsonResult(v any) *mcp.CallToolResult {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(err.Error())
	}
	return mcp.NewToolResultText(string(out))
}

func (s *Server) listNotes(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	folder := strings.Trim(req.GetString("folder", ""), "/")

	files, err := s.vault.List(ctx)
	if err != nil {
		return toolError(err, ""), nil
	}

	var paths []string
	for _, f := range files {
		if folder != "" && f.Folder != folder && !strings.HasPrefix(f.Folder, folder+"/") {
			continue
		}
		paths = append(paths, f.Path)
	}
	if len(paths) == 0 {
		return mcp.NewToolResultText("no notes found"), nil
	}
	return mcp.NewToolResultText(strings.Join(paths, "\n")), nil
}

func (s *Server) readNote(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, err := req.RequireString("path")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	content, err := s.vault.Read(ctx, path)
	if err != nil {
		return toolError(err, path), nil
	}
	return mcp.NewToolResultText(content), nil
}

func (s *Server) recentNotes(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	limit := req.GetInt("limit", s.recent)
	files, err := s.vault.Recent(ctx, limit)
	if err != nil {
		return toolError(err, ""), nil
	}
	return jsonResult(files), nil
}

func (s *Server) searchVault(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query, err := req.RequireString("query")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	hits, err := s.vault.Search(ctx, query)
	if err != nil {
		return toolError(err, ""), nil
	}
	if limit := req.GetInt("max_results", defaultMaxResults); limit > 0 && len(hits) > limit {
		hits = hits[:limit]
	}
	return jsonResult(hits), nil
}

func (s *Server) runCommand(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	line, err := req.RequireString("command")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	cmd := command.Parse(line)
	if cmd == nil {
		return mcp.NewToolResultError("not a command: expected /name [args]"), nil
	}
	reply, err := s.router.Execute(ctx, *cmd)
	if err != nil {
		return toolError(err, ""), nil
	}
	if reply.Err != nil {
		return mcp.NewToolResultError(reply.Text), nil
	}
	return mcp.NewToolResultText(reply.Text), nil
}

func (s *Server) readCommandsResource(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      commandsURI,
			MIMEType: "text/plain",
			Text:     command.RenderHelp(s.router.Definitions()),
		},
	}, nil
}
