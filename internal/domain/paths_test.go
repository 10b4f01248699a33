package domain

import "testing"

func TestRelativeClassificationPath(t *testing.T) {
	cases := []struct {
		path string
		want string
	}{
		{"Proj\\Team A", "Team A"},
		{"Proj\\Team A\\Sprint Crew", "Team A\\Sprint Crew"},
		{"Proj/Team A/Sprint Crew", "Team A\\Sprint Crew"},
		{"Proj", ""},
		{"", ""},
	}
	for _, tc := range cases {
		if got := RelativeClassificationPath(tc.path); got != tc.want {
			t.Errorf("RelativeClassificationPath(%q) = %q, want %q", tc.path, got, tc.want)
		}
	}
}

func TestRerootPath(t *testing.T) {
	cases := []struct {
		path string
		root string
		want string
	}{
		{"SourceProj\\Team X", "TargetProj", "TargetProj\\Team X"},
		{"SourceProj\\Team X\\Inner", "TargetProj", "TargetProj\\Team X\\Inner"},
		{"SourceProj", "TargetProj", "TargetProj"},
		{"SourceProj\\Team X", "", "SourceProj\\Team X"},
		{"", "TargetProj", ""},
	}
	for _, tc := range cases {
		if got := RerootPath(tc.path, tc.root); got != tc.want {
			t.Errorf("RerootPath(%q, %q) = %q, want %q", tc.path, tc.root, got, tc.want)
		}
	}
}

func TestRerootWorkItemPaths(t *testing.T) {
	item := WorkItem{
		ID:            7,
		Title:         "Task",
		AreaPath:      "Src\\Team X",
		IterationPath: "Src\\Sprint 1",
	}
	out := RerootWorkItemPaths(item, "Tgt")
	if out.AreaPath != "Tgt\\Team X" || out.IterationPath != "Tgt\\Sprint 1" {
		t.Errorf("rerooted paths = %q, %q", out.AreaPath, out.IterationPath)
	}
	if out.ID != 7 || out.Title != "Task" {
		t.Error("fields other than paths must be untouched")
	}
	if item.AreaPath != "Src\\Team X" {
		t.Error("input item must not be mutated")
	}
}
