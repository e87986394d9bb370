package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"slices"
	"strings"
	"testing"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/MrWong99/voxnode/internal/notebook"
	"github.com/MrWong99/voxnode/pkg/kv/memory"
)

func connect(t *testing.T, nbs Notebooks, transcript TranscriptFunc) *mcpsdk.ClientSession {
	t.Helper()
	ctx := context.Background()
	clientT, serverT := mcpsdk.NewInMemoryTransports()

	ss, err := New(nbs, transcript, "test").Connect(ctx, serverT, nil)
	if err != nil {
		t.Fatalf("server connect: %v", err)
	}
	t.Cleanup(func() { ss.Close() })

	client := mcpsdk.NewClient(&mcpsdk.Implementation{Name: "test-client", Version: "1.0.0"}, nil)
	cs, err := client.Connect(ctx, clientT, nil)
	if err != nil {
		t.Fatalf("client connect: %v", err)
	}
	t.Cleanup(func() { cs.Close() })
	return cs
}

func call(t *testing.T, cs *mcpsdk.ClientSession, name string, args map[string]any) (string, bool) {
	t.Helper()
	res, err := cs.CallTool(context.Background(), &mcpsdk.CallToolParams{Name: name, Arguments: args})
	if err != nil {
		t.Fatalf("CallTool(%s): %v", name, err)
	}
	var b strings.Builder
	for _, c := range res.Content {
		if tc, ok := c.(*mcpsdk.TextContent); ok {
			b.WriteString(tc.Text)
		}
	}
	return b.String(), res.IsError
}

func TestListTools(t *testing.T) {
	t.Parallel()
	cs := connect(t, notebook.New(memory.New()), nil)
	res, err := cs.ListTools(context.Background(), nil)
	if err != nil {
		t.Fatalf("ListTools: %v", err)
	}
	var names []string
	for _, tool := range res.Tools {
		names = append(names, tool.Name)
	}
	slices.Sort(names)
	want := []string{"add_entry", "create_notebook", "get_notebook", "get_transcript", "list_notebooks"}
	if !slices.Equal(names, want) {
		t.Errorf("tools = %v, want %v", names, want)
	}
}

func TestNotebookTools(t *testing.T) {
	t.Parallel()
	cs := connect(t, notebook.New(memory.New()), nil)

	text, isErr := call(t, cs, "create_notebook", map[string]any{"name": "Manzoni"})
	if isErr {
		t.Fatalf("create_notebook: %s", text)
	}
	var nb notebook.Notebook
	if err := json.Unmarshal([]byte(text), &nb); err != nil {
		t.Fatalf("decode notebook: %v", err)
	}

	text, isErr = call(t, cs, "add_entry", map[string]any{
		"notebook_id": nb.ID, "title": "Capitolo 1", "content": "Quel ramo del lago di Como",
	})
	if isErr {
		t.Fatalf("add_entry: %s", text)
	}
	if err := json.Unmarshal([]byte(text), &nb); err != nil {
		t.Fatal(err)
	}
	if nb.TotalEntries != 1 || nb.TotalWords != 6 {
		t.Errorf("totals = %d/%d", nb.TotalEntries, nb.TotalWords)
	}

	text, _ = call(t, cs, "list_notebooks", map[string]any{})
	var rows []Summary
	if err := json.Unmarshal([]byte(text), &rows); err != nil {
		t.Fatalf("decode list: %v (%s)", err, text)
	}
	if len(rows) != 1 || rows[0].Name != "Manzoni" || rows[0].TotalWords != 6 {
		t.Errorf("rows = %+v", rows)
	}

	text, isErr = call(t, cs, "get_notebook", map[string]any{"id": nb.ID})
	if isErr || !strings.Contains(text, "Quel ramo del lago di Como") {
		t.Errorf("get_notebook = %s (error %v)", text, isErr)
	}
}

func TestToolErrors(t *testing.T) {
	t.Parallel()
	cs := connect(t, notebook.New(memory.New()), nil)

	tests := []struct {
		tool string
		args map[string]any
		want string
	}{
		{"get_notebook", map[string]any{"id": "ghost"}, "not found"},
		{"add_entry", map[string]any{"notebook_id": "ghost", "title": "t", "content": "c"}, "not found"},
		{"add_entry", map[string]any{"notebook_id": "ghost", "title": "t", "content": " "}, "must not be empty"},
		{"create_notebook", map[string]any{"name": "   "}, "name"},
	}
	for _, tt := range tests {
		text, isErr := call(t, cs, tt.tool, tt.args)
		if !isErr || !strings.Contains(text, tt.want) {
			t.Errorf("%s(%v) = %q (error %v), want error containing %q", tt.tool, tt.args, text, isErr, tt.want)
		}
	}
}

func TestGetTranscript(t *testing.T) {
	t.Parallel()
	cs := connect(t, notebook.New(memory.New()), func(context.Context) (string, error) {
		return "Nel mezzo del cammin ", nil
	})
	if text, isErr := call(t, cs, "get_transcript", map[string]any{}); isErr || text != "Nel mezzo del cammin" {
		t.Errorf("get_transcript = %q (error %v)", text, isErr)
	}

	failing := connect(t, notebook.New(memory.New()), func(context.Context) (string, error) {
		return "", errors.New("draft unreadable")
	})
	if text, isErr := call(t, failing, "get_transcript", map[string]any{}); !isErr || !strings.Contains(text, "draft unreadable") {
		t.Errorf("failing transcript = %q (error %v)", text, isErr)
	}
}
