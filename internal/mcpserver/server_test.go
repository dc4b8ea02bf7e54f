package mcpserver

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/starford/laguz/internal/models"
	"github.com/starford/laguz/internal/noteservice"
	"github.com/starford/laguz/internal/testutil"
)

func testServer(t *testing.T) *Server {
	t.Helper()
	db := testutil.TestDB(t)
	return New(noteservice.NewService(db))
}

func callTool(t *testing.T, srv *Server, name string, args map[string]interface{}) *mcp.CallToolResult {
	t.Helper()
	ctx := context.Background()
	req := mcp.CallToolRequest{}
	req.Method = "tools/call"
	req.Params.Name = name
	req.Params.Arguments = args

	// mcp-go doesn't expose a direct "call tool" test helper, so we call
	// the handler functions directly.
	var result *mcp.CallToolResult
	var err error

	switch name {
	case "add_note":
		result, err = srv.addNote(ctx, req)
	case "get_note":
		result, err = srv.getNote(ctx, req)
	case "list_notes":
		result, err = srv.listNotes(ctx, req)
	case "search_notes":
		result, err = srv.searchNotes(ctx, req)
	case "update_note":
		result, err = srv.updateNote(ctx, req)
	case "delete_note":
		result, err = srv.deleteNote(ctx, req)
	default:
		t.Fatalf("unknown tool: %s", name)
	}

	if err != nil {
		t.Fatalf("tool %s error: %v", name, err)
	}
	return result
}

func resultText(r *mcp.CallToolResult) string {
	if len(r.Content) > 0 {
		if tc, ok := r.Content[0].(mcp.TextContent); ok {
			return tc.Text
		}
	}
	return ""
}

func resultNote(t *testing.T, r *mcp.CallToolResult) models.Note {
	t.Helper()
	var n models.Note
	if err := json.Unmarshal([]byte(resultText(r)), &n); err != nil {
		t.Fatalf("decode note result: %v: %s", err, resultText(r))
	}
	return n
}

func TestAddAndGetNote(t *testing.T) {
	srv := testServer(t)

	r := callTool(t, srv, "add_note", map[string]interface{}{
		"title":   "Reading list",
		"content": "The Go Programming Language",
		"color":   "blue",
	})
	if r.IsError {
		t.Fatalf("add_note failed: %s", resultText(r))
	}
	created := resultNote(t, r)
	if created.ID == 0 || created.Color != "blue" {
		t.Errorf("created = %+v", created)
	}

	r = callTool(t, srv, "get_note", map[string]interface{}{
		"id": strconv.FormatInt(created.ID, 10),
	})
	if r.IsError {
		t.Fatalf("get_note failed: %s", resultText(r))
	}
	got := resultNote(t, r)
	if got.Title != "Reading list" || got.Content != "The Go Programming Language" {
		t.Errorf("got = %+v", got)
	}
}

func TestAddNoteRejectsBadColor(t *testing.T) {
	srv := testServer(t)
	r := callTool(t, srv, "add_note", map[string]interface{}{
		"title": "x",
		"color": "octarine",
	})
	if !r.IsError {
		t.Error("expected error result for unknown color")
	}
}

func TestGetNoteMissing(t *testing.T) {
	srv := testServer(t)
	r := callTool(t, srv, "get_note", map[string]interface{}{"id": "9999"})
	if !r.IsError {
		t.Error("expected error result for missing note")
	}
}

func TestGetNoteBadID(t *testing.T) {
	srv := testServer(t)
	r := callTool(t, srv, "get_note", map[string]interface{}{"id": "not-a-number"})
	if !r.IsError {
		t.Error("expected error result for unparsable id")
	}
}

func TestListNotesFiltersByColor(t *testing.T) {
	srv := testServer(t)
	callTool(t, srv, "add_note", map[string]interface{}{"title": "a", "color": "green"})
	callTool(t, srv, "add_note", map[string]interface{}{"title": "b", "color": "pink"})

	r := callTool(t, srv, "list_notes", map[string]interface{}{"color": "green"})
	if r.IsError {
		t.Fatalf("list_notes failed: %s", resultText(r))
	}
	var notes []models.Note
	if err := json.Unmarshal([]byte(resultText(r)), &notes); err != nil {
		t.Fatal(err)
	}
	if len(notes) != 1 || notes[0].Title != "a" {
		t.Errorf("notes = %+v", notes)
	}
}

func TestSearchNotes(t *testing.T) {
	srv := testServer(t)
	callTool(t, srv, "add_note", map[string]interface{}{"title": "Grocery run", "content": "eggs"})
	callTool(t, srv, "add_note", map[string]interface{}{"title": "Misc", "content": "nothing"})

	r := callTool(t, srv, "search_notes", map[string]interface{}{"query": "grocery"})
	if r.IsError {
		t.Fatalf("search_notes failed: %s", resultText(r))
	}
	var notes []models.Note
	if err := json.Unmarshal([]byte(resultText(r)), &notes); err != nil {
		t.Fatal(err)
	}
	if len(notes) != 1 {
		t.Errorf("got %d matches, want 1", len(notes))
	}
}

func TestUpdateNotePartial(t *testing.T) {
	srv := testServer(t)
	created := resultNote(t, callTool(t, srv, "add_note", map[string]interface{}{
		"title": "draft", "content": "v1", "color": "yellow",
	}))

	r := callTool(t, srv, "update_note", map[string]interface{}{
		"id":    strconv.FormatInt(created.ID, 10),
		"color": "purple",
	})
	if r.IsError {
		t.Fatalf("update_note failed: %s", resultText(r))
	}
	got := resultNote(t, r)
	if got.Title != "draft" || got.Content != "v1" || got.Color != "purple" {
		t.Errorf("got = %+v", got)
	}
}

func TestUpdateNoteMissing(t *testing.T) {
	srv := testServer(t)
	r := callTool(t, srv, "update_note", map[string]interface{}{"id": "4242", "title": "x"})
	if !r.IsError {
		t.Error("expected error result for missing note")
	}
}

func TestDeleteNote(t *testing.T) {
	srv := testServer(t)
	created := resultNote(t, callTool(t, srv, "add_note", map[string]interface{}{"title": "bye"}))

	id := strconv.FormatInt(created.ID, 10)
	r := callTool(t, srv, "delete_note", map[string]interface{}{"id": id})
	if r.IsError {
		t.Fatalf("delete_note failed: %s", resultText(r))
	}
	if got := resultText(r); got != "deleted: "+id {
		t.Errorf("delete result = %q", got)
	}

	// Deleting again succeeds; the store treats absent ids as no-ops.
	r = callTool(t, srv, "delete_note", map[string]interface{}{"id": id})
	if r.IsError {
		t.Errorf("repeat delete errored: %s", resultText(r))
	}
}

func TestPaletteResource(t *testing.T) {
	srv := testServer(t)
	contents, err := srv.readPaletteResource(context.Background(), mcp.ReadResourceRequest{})
	if err != nil {
		t.Fatal(err)
	}
	if len(contents) != 1 {
		t.Fatalf("got %d contents", len(contents))
	}
	tc, ok := contents[0].(mcp.TextResourceContents)
	if !ok {
		t.Fatalf("contents[0] is %T", contents[0])
	}
	for _, color := range models.Palette {
		if !strings.Contains(tc.Text, color) {
			t.Errorf("palette resource missing %q", color)
		}
	}
}
