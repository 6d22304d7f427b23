package console

import (
	"errors"
	"testing"
)

func TestCommandHistorySearchAndAutocomplete(t *testing.T) {
	history := newTestHistory(t)

	commands := []struct {
		user string
		cmd  string
		err  error
	}{
		{"admin", "whitelist add steve", nil},
		{"admin", "whitelist list", nil},
		{"mod", "weather clear", nil},
		{"mod", "whitelist remove alex", errors.New("server is not running")},
	}
	for _, c := range commands {
		if err := history.Record("inst-1", c.user, c.cmd, c.err); err != nil {
			t.Fatalf("failed to record: %v", err)
		}
	}

	found, err := history.SearchCommands("whitelist", 10)
	if err != nil {
		t.Fatalf("search failed: %v", err)
	}
	if len(found) != 3 {
		t.Fatalf("expected 3 matches, got %d", len(found))
	}

	byUser, err := history.GetUserCommands("mod", 10)
	if err != nil {
		t.Fatalf("user query failed: %v", err)
	}
	if len(byUser) != 2 {
		t.Fatalf("expected 2 commands for mod, got %d", len(byUser))
	}

	suggestions, err := history.GetAutocomplete("white", 10)
	if err != nil {
		t.Fatalf("autocomplete failed: %v", err)
	}
	if len(suggestions) != 2 {
		t.Fatalf("expected only successful commands, got %v", suggestions)
	}
}

func TestCommandHistoryNilIsNoop(t *testing.T) {
	var history *CommandHistory
	if err := history.Record("", "admin", "list", nil); err != nil {
		t.Fatalf("expected nil history to ignore records, got %v", err)
	}
}
