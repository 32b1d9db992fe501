package mcp

import (
	"context"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/DevRickLin/chat-digest/internal/api"
	"github.com/DevRickLin/chat-digest/internal/biz/usecase"
	"github.com/DevRickLin/chat-digest/internal/logger"
)

// Server exposes the read-only report queries as MCP tools
type Server struct {
	server  *mcp.Server
	queries api.Queries
	now     func() time.Time
}

// NewServer creates a new MCP query server
func NewServer(queries api.Queries, version string) *Server {
	server := mcp.NewServer(&mcp.Implementation{
		Name:    "chat-digest",
		Version: version,
	}, nil)

	s := &Server{
		server:  server,
		queries: queries,
		now:     time.Now,
	}
	s.registerTools()
	return s
}

func (s *Server) registerTools() {
	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "list_runs",
		Description: "List recent pipeline runs, newest first, with their window and status.",
	}, s.handleListRuns)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "get_run_reports",
		Description: "Get every chat report and chat outcome produced by one run.",
	}, s.handleGetRunReports)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "get_chat_reports",
		Description: "Get the reports of one chat for runs whose window starts in a date range.",
	}, s.handleGetChatReports)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "get_chat_messages",
		Description: "Get the stored messages of one chat with timestamps in a range, oldest first.",
	}, s.handleGetChatMessages)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "get_token_usage",
		Description: "Get summarizer token usage aggregated per UTC day.",
	}, s.handleGetTokenUsage)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "list_chats",
		Description: "List known chats with their work classification and active flag.",
	}, s.handleListChats)
}

// Run serves the tools over stdio until ctx is done
func (s *Server) Run(ctx context.Context) error {
	log := logger.Component("MCP")
	log.Info().Msg("Serving MCP tools on stdio")
	return s.server.Run(ctx, &mcp.StdioTransport{})
}

// ListRunsInput is the input for list_runs
type ListRunsInput struct {
	Limit int `json:"limit,omitempty" jsonschema:"Maximum number of runs to return (default 20)"`
}

// ListRunsOutput is the output for list_runs
type ListRunsOutput struct {
	Runs []api.RunView `json:"runs"`
}

func (s *Server) handleListRuns(ctx context.Context, req *mcp.CallToolRequest, input ListRunsInput) (*mcp.CallToolResult, ListRunsOutput, error) {
	runs, err := s.queries.ListRuns(ctx, input.Limit)
	if err != nil {
		return nil, ListRunsOutput{}, err
	}
	return nil, ListRunsOutput{Runs: api.NewRunViews(runs)}, nil
}

// GetRunReportsInput is the input for get_run_reports
type GetRunReportsInput struct {
	RunID string `json:"run_id" jsonschema:"The run id as returned by list_runs"`
}

func (s *Server) handleGetRunReports(ctx context.Context, req *mcp.CallToolRequest, input GetRunReportsInput) (*mcp.CallToolResult, api.RunReportsView, error) {
	rr, err := s.queries.RunReports(ctx, input.RunID)
	if err != nil {
		return nil, api.RunReportsView{}, err
	}
	return nil, api.NewRunReportsView(rr), nil
}

// RangeInput is a date range, RFC 3339 or YYYY-MM-DD in UTC
type RangeInput struct {
	From string `json:"from,omitempty" jsonschema:"Range start, RFC 3339 or YYYY-MM-DD (default 7 days ago)"`
	To   string `json:"to,omitempty" jsonschema:"Range end exclusive, RFC 3339 or YYYY-MM-DD (default tomorrow)"`
}

// GetChatReportsInput is the input for get_chat_reports
type GetChatReportsInput struct {
	ChatID string `json:"chat_id" jsonschema:"The platform chat id"`
	RangeInput
}

// GetChatReportsOutput is the output for get_chat_reports
type GetChatReportsOutput struct {
	From    time.Time        `json:"from"`
	To      time.Time        `json:"to"`
	Reports []api.ReportView `json:"reports"`
}

func (s *Server) handleGetChatReports(ctx context.Context, req *mcp.CallToolRequest, input GetChatReportsInput) (*mcp.CallToolResult, GetChatReportsOutput, error) {
	from, to, err := usecase.ResolveRange(input.From, input.To, s.now())
	if err != nil {
		return nil, GetChatReportsOutput{}, err
	}

	reports, err := s.queries.ChatReports(ctx, input.ChatID, from, to)
	if err != nil {
		return nil, GetChatReportsOutput{}, err
	}
	return nil, GetChatReportsOutput{From: from, To: to, Reports: api.NewReportViews(reports)}, nil
}

// GetChatMessagesInput is the input for get_chat_messages
type GetChatMessagesInput struct {
	ChatID string `json:"chat_id" jsonschema:"The platform chat id"`
	RangeInput
}

// GetChatMessagesOutput is the output for get_chat_messages
type GetChatMessagesOutput struct {
	From     time.Time         `json:"from"`
	To       time.Time         `json:"to"`
	Messages []api.MessageView `json:"messages"`
}

func (s *Server) handleGetChatMessages(ctx context.Context, req *mcp.CallToolRequest, input GetChatMessagesInput) (*mcp.CallToolResult, GetChatMessagesOutput, error) {
	from, to, err := usecase.ResolveRange(input.From, input.To, s.now())
	if err != nil {
		return nil, GetChatMessagesOutput{}, err
	}

	msgs, err := s.queries.ChatMessages(ctx, input.ChatID, from, to)
	if err != nil {
		return nil, GetChatMessagesOutput{}, err
	}
	return nil, GetChatMessagesOutput{From: from, To: to, Messages: api.NewMessageViews(msgs)}, nil
}

// GetTokenUsageOutput is the output for get_token_usage
type GetTokenUsageOutput struct {
	From  time.Time       `json:"from"`
	To    time.Time       `json:"to"`
	Usage []api.UsageView `json:"usage"`
}

func (s *Server) handleGetTokenUsage(ctx context.Context, req *mcp.CallToolRequest, input RangeInput) (*mcp.CallToolResult, GetTokenUsageOutput, error) {
	from, to, err := usecase.ResolveRange(input.From, input.To, s.now())
	if err != nil {
		return nil, GetTokenUsageOutput{}, err
	}

	usage, err := s.queries.TokenUsage(ctx, from, to)
	if err != nil {
		return nil, GetTokenUsageOutput{}, err
	}
	return nil, GetTokenUsageOutput{From: from, To: to, Usage: api.NewUsageViews(usage)}, nil
}

// ListChatsInput is the input for list_chats
type ListChatsInput struct {
	ActiveOnly bool `json:"active_only,omitempty" jsonschema:"Only return chats that are still being ingested"`
}

// ListChatsOutput is the output for list_chats
type ListChatsOutput struct {
	Chats []api.ChatView `json:"chats"`
}

func (s *Server) handleListChats(ctx context.Context, req *mcp.CallToolRequest, input ListChatsInput) (*mcp.CallToolResult, ListChatsOutput, error) {
	chats, err := s.queries.ListChats(ctx, input.ActiveOnly)
	if err != nil {
		return nil, ListChatsOutput{}, err
	}
	return nil, ListChatsOutput{Chats: api.NewChatViews(chats)}, nil
}
