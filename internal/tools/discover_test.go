package tools

import (
	"context"
	"testing"
)

func discoveryRegistry(t *testing.T) *Registry {
	t.Helper()
	r := NewRegistry()
	defs := []*Definition{
		{Path: "email.send", Description: "Send an email to a recipient.", Run: noopRun},
		{Path: "email.list", Description: "List recent emails in the inbox.", Run: noopRun},
		{Path: "crm.contacts.list", Description: "List CRM contacts.", Run: noopRun},
		{Path: "math.add", Description: "Add two numbers.", Run: noopRun},
	}
	for _, def := range defs {
		if err := r.Register(def); err != nil {
			t.Fatalf("register %s: %v", def.Path, err)
		}
	}
	if err := r.Register(NewDiscoverTool(r)); err != nil {
		t.Fatalf("register discover: %v", err)
	}
	return r
}

func TestRank_PathSegmentsBeatDescription(t *testing.T) {
	r := discoveryRegistry(t)
	results := Rank(r.List(), "send email")
	if len(results) == 0 {
		t.Fatal("no results")
	}
	if results[0].Path != "email.send" {
		t.Errorf("expected email.send first, got %s", results[0].Path)
	}
}

func TestRank_TiesBreakLexicographically(t *testing.T) {
	r := discoveryRegistry(t)
	results := Rank(r.List(), "email")
	if len(results) < 2 {
		t.Fatalf("expected both email tools, got %d results", len(results))
	}
	if results[0].Score == results[1].Score && results[0].Path > results[1].Path {
		t.Errorf("tie not broken lexicographically: %s before %s", results[0].Path, results[1].Path)
	}
}

func TestRank_Deterministic(t *testing.T) {
	r := discoveryRegistry(t)
	first := Rank(r.List(), "list")
	for i := 0; i < 5; i++ {
		again := Rank(r.List(), "list")
		if len(again) != len(first) {
			t.Fatalf("result count changed between runs")
		}
		for j := range again {
			if again[j].Path != first[j].Path {
				t.Fatalf("order changed between runs at %d: %s vs %s", j, again[j].Path, first[j].Path)
			}
		}
	}
}

func TestRank_NoMatches(t *testing.T) {
	r := discoveryRegistry(t)
	if results := Rank(r.List(), "zzzz"); len(results) != 0 {
		t.Errorf("expected no results, got %+v", results)
	}
}

func TestDiscoverTool_RunShape(t *testing.T) {
	r := discoveryRegistry(t)
	def, err := r.Resolve("discover")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}

	out, err := def.Run(context.Background(), map[string]any{"query": "add numbers"}, &RunContext{})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	m, ok := out.(map[string]any)
	if !ok {
		t.Fatalf("unexpected result type %T", out)
	}
	results, ok := m["results"].([]DiscoverResult)
	if !ok {
		t.Fatalf("unexpected results type %T", m["results"])
	}
	if len(results) == 0 || results[0].Path != "math.add" {
		t.Errorf("expected math.add first, got %+v", results)
	}
	if results[0].Example == "" {
		t.Error("expected example invocation in results")
	}
}
