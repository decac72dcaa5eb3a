package reporting

import (
	"strings"
	"testing"
)

func TestPredefinedMeasures(t *testing.T) {
	expectedIDs := []string{
		"session-volume-by-status",
		"usage-minutes-by-practice",
		"recording-rate",
		"guest-link-funnel",
	}
	if len(PredefinedMeasures) != len(expectedIDs) {
		t.Fatalf("expected %d predefined measures, got %d", len(expectedIDs), len(PredefinedMeasures))
	}
	for i, expectedID := range expectedIDs {
		if PredefinedMeasures[i].ID != expectedID {
			t.Errorf("expected measure[%d].ID = %s, got %s", i, expectedID, PredefinedMeasures[i].ID)
		}
	}
}

func TestPredefinedMeasures_HaveSQL(t *testing.T) {
	for _, m := range PredefinedMeasures {
		if m.SQL == "" {
			t.Errorf("measure %s has empty SQL", m.ID)
		}
		if m.Name == "" {
			t.Errorf("measure %s has empty name", m.ID)
		}
		if m.Description == "" {
			t.Errorf("measure %s has empty description", m.ID)
		}
	}
}

func TestPredefinedMeasures_QueryLedgerTables(t *testing.T) {
	tables := map[string]string{
		"session-volume-by-status":  "video_session",
		"usage-minutes-by-practice": "usage_record",
		"recording-rate":            "video_session",
		"guest-link-funnel":         "guest_access_token",
	}
	for id, table := range tables {
		m := FindMeasure(id)
		if m == nil {
			t.Fatalf("measure %s not found", id)
		}
		if !strings.Contains(m.SQL, table) {
			t.Errorf("measure %s should query %s, SQL: %s", id, table, m.SQL)
		}
	}
}

func TestFindMeasure_Exists(t *testing.T) {
	m := FindMeasure("usage-minutes-by-practice")
	if m == nil {
		t.Fatal("expected to find usage-minutes-by-practice measure")
	}
	if m.Name != "Usage Minutes by Practice" {
		t.Errorf("expected 'Usage Minutes by Practice', got %s", m.Name)
	}
}

func TestFindMeasure_NotFound(t *testing.T) {
	if m := FindMeasure("nonexistent"); m != nil {
		t.Error("expected nil for nonexistent measure")
	}
}

func TestFindMeasure_AllPredefined(t *testing.T) {
	for _, def := range PredefinedMeasures {
		found := FindMeasure(def.ID)
		if found == nil {
			t.Errorf("expected to find measure %s", def.ID)
			continue
		}
		if found.ID != def.ID {
			t.Errorf("ID mismatch: expected %s, got %s", def.ID, found.ID)
		}
	}
}
