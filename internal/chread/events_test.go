package chread

import (
	"strings"
	"testing"
	"time"
)

func TestListEventsParams_Normalize(t *testing.T) {
	p := ListEventsParams{}
	p.Normalize()
	if p.Page != 1 || p.PageSize != 50 {
		t.Fatalf("unexpected defaults: page=%d size=%d", p.Page, p.PageSize)
	}

	p = ListEventsParams{Page: 3, PageSize: 10_000}
	p.Normalize()
	if p.Page != 3 || p.PageSize != 500 {
		t.Fatalf("expected page size clamped to 500, got %d", p.PageSize)
	}
}

func TestListEventsParams_BuildWhere_NoFilters(t *testing.T) {
	where, args := ListEventsParams{}.buildWhere()
	if where != "1 = 1" {
		t.Fatalf("unexpected where %q", where)
	}
	if len(args) != 0 {
		t.Fatalf("expected no args, got %d", len(args))
	}
}

func TestListEventsParams_BuildWhere_AllFilters(t *testing.T) {
	tool := "createTodo"
	success := false
	kind := "unknown_tool"
	start := time.Now().Add(-time.Hour)
	end := time.Now()

	where, args := ListEventsParams{
		Tool:        &tool,
		Success:     &success,
		FailureKind: &kind,
		StartTime:   &start,
		EndTime:     &end,
	}.buildWhere()

	for _, cond := range []string{
		"selected_tool = @tool",
		"success = @success",
		"failure_kind = @failure_kind",
		"timestamp >= @start_time",
		"timestamp <= @end_time",
	} {
		if !strings.Contains(where, cond) {
			t.Errorf("expected %q in %q", cond, where)
		}
	}
	if len(args) != 5 {
		t.Fatalf("expected 5 named args, got %d", len(args))
	}
}
