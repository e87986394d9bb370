// Package mcpserver exposes notebooks and the reading transcript as Model
// Context Protocol tools, so an external assistant can browse saved readings
// and file new ones.
//
// Tools:
//
//	list_notebooks   name, id and totals of every notebook
//	get_notebook     one notebook with its entries
//	create_notebook  {"name", "description"}
//	add_entry        {"notebook_id", "title", "content"}
//	get_transcript   the current transcript text
package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/MrWong99/voxnode/internal/notebook"
)

// Notebooks is the store surface the tools use. It is satisfied by
// *notebook.Store.
type Notebooks interface {
	Create(ctx context.Context, name, description string) (notebook.Notebook, error)
	AddEntry(ctx context.Context, id, title, content string) (bool, error)
	Get(ctx context.Context, id string) (notebook.Notebook, bool, error)
	List(ctx context.Context) ([]notebook.Notebook, error)
}

// TranscriptFunc returns the transcript served by get_transcript.
type TranscriptFunc func(ctx context.Context) (string, error)

// Summary is one row of list_notebooks.
type Summary struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Description  string    `json:"description,omitempty"`
	TotalEntries int       `json:"totalEntries"`
	TotalWords   int       `json:"totalWords"`
	UpdatedAt    time.Time `json:"updated"`
}

type getNotebookInput struct {
	ID string `json:"id" jsonschema:"the notebook id, as returned by list_notebooks"`
}

type createNotebookInput struct {
	Name        string `json:"name" jsonschema:"display name of the notebook"`
	Description string `json:"description,omitempty" jsonschema:"optional free-form description"`
}

type addEntryInput struct {
	NotebookID string `json:"notebook_id" jsonschema:"the notebook to append to"`
	Title      string `json:"title" jsonschema:"entry title"`
	Content    string `json:"content" jsonschema:"entry text"`
}

// New returns an MCP server with the notebook and transcript tools
// registered. transcript may be nil, in which case get_transcript reports an
// empty transcript.
func New(nbs Notebooks, transcript TranscriptFunc, version string) *mcpsdk.Server {
	if transcript == nil {
		transcript = func(context.Context) (string, error) { return "", nil }
	}
	if version == "" {
		version = "dev"
	}
	srv := mcpsdk.NewServer(&mcpsdk.Implementation{Name: "voxnode", Version: version}, nil)

	mcpsdk.AddTool(srv, &mcpsdk.Tool{
		Name:        "list_notebooks",
		Description: "List every notebook with its id, name and entry/word totals.",
	}, func(ctx context.Context, _ *mcpsdk.CallToolRequest, _ struct{}) (*mcpsdk.CallToolResult, any, error) {
		all, err := nbs.List(ctx)
		if err != nil {
			return nil, nil, fmt.Errorf("mcpserver: list notebooks: %w", err)
		}
		rows := make([]Summary, 0, len(all))
		for _, nb := range all {
			rows = append(rows, Summary{
				ID:           nb.ID,
				Name:         nb.Name,
				Description:  nb.Description,
				TotalEntries: nb.TotalEntries,
				TotalWords:   nb.TotalWords,
				UpdatedAt:    nb.UpdatedAt,
			})
		}
		return jsonResult(rows)
	})

	mcpsdk.AddTool(srv, &mcpsdk.Tool{
		Name:        "get_notebook",
		Description: "Return one notebook with all its saved entries.",
	}, func(ctx context.Context, _ *mcpsdk.CallToolRequest, in getNotebookInput) (*mcpsdk.CallToolResult, any, error) {
		nb, ok, err := nbs.Get(ctx, in.ID)
		if err != nil {
			return nil, nil, fmt.Errorf("mcpserver: get notebook: %w", err)
		}
		if !ok {
			return nil, nil, fmt.Errorf("%w: %s", notebook.ErrNotFound, in.ID)
		}
		return jsonResult(nb)
	})

	mcpsdk.AddTool(srv, &mcpsdk.Tool{
		Name:        "create_notebook",
		Description: "Create an empty notebook and return it.",
	}, func(ctx context.Context, _ *mcpsdk.CallToolRequest, in createNotebookInput) (*mcpsdk.CallToolResult, any, error) {
		nb, err := nbs.Create(ctx, in.Name, in.Description)
		if err != nil {
			return nil, nil, err
		}
		slog.Info("mcpserver: notebook created", "id", nb.ID)
		return jsonResult(nb)
	})

	mcpsdk.AddTool(srv, &mcpsdk.Tool{
		Name:        "add_entry",
		Description: "Append a titled text entry to a notebook and return the updated notebook.",
	}, func(ctx context.Context, _ *mcpsdk.CallToolRequest, in addEntryInput) (*mcpsdk.CallToolResult, any, error) {
		if strings.TrimSpace(in.Content) == "" {
			return nil, nil, errors.New("mcpserver: entry content must not be empty")
		}
		ok, err := nbs.AddEntry(ctx, in.NotebookID, in.Title, in.Content)
		if err != nil {
			return nil, nil, fmt.Errorf("mcpserver: add entry: %w", err)
		}
		if !ok {
			return nil, nil, fmt.Errorf("%w: %s", notebook.ErrNotFound, in.NotebookID)
		}
		nb, _, err := nbs.Get(ctx, in.NotebookID)
		if err != nil {
			return nil, nil, fmt.Errorf("mcpserver: get notebook: %w", err)
		}
		return jsonResult(nb)
	})

	mcpsdk.AddTool(srv, &mcpsdk.Tool{
		Name:        "get_transcript",
		Description: "Return the text read aloud in the current session.",
	}, func(ctx context.Context, _ *mcpsdk.CallToolRequest, _ struct{}) (*mcpsdk.CallToolResult, any, error) {
		text, err := transcript(ctx)
		if err != nil {
			return nil, nil, fmt.Errorf("mcpserver: transcript: %w", err)
		}
		return &mcpsdk.CallToolResult{
			Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: strings.TrimSpace(text)}},
		}, nil, nil
	})

	return srv
}

// HTTPHandler serves srv over the streamable HTTP transport.
func HTTPHandler(srv *mcpsdk.Server) http.Handler {
	return mcpsdk.NewStreamableHTTPHandler(func(*http.Request) *mcpsdk.Server { return srv }, nil)
}

// ServeStdio runs srv on stdin/stdout until ctx is done or the client
// disconnects.
func ServeStdio(ctx context.Context, srv *mcpsdk.Server) error {
	if err := srv.Run(ctx, &mcpsdk.StdioTransport{}); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("mcpserver: stdio: %w", err)
	}
	return nil
}

func jsonResult(v any) (*mcpsdk.CallToolResult, any, error) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, nil, fmt.Errorf("mcpserver: encode result: %w", err)
	}
	return &mcpsdk.CallToolResult{
		Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: string(b)}},
	}, nil, nil
}
