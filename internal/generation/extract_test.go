package generation

import "testing"

func TestExtractDrafts(t *testing.T) {
	schema, err := compileTaskSchema()
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	tests := []struct {
		name    string
		text    string
		titles  []string
		skipped int
	}{
		{
			name:   "fenced json",
			text:   "Here you go:\n```json\n[{\"title\":\"A\"},{\"title\":\"B\",\"status\":\"COMPLETED\"}]\n```\n",
			titles: []string{"A", "B"},
		},
		{
			name:   "bare array after prose",
			text:   `Updated the list. [{"title":"A","priority":2,"deadline":null}]`,
			titles: []string{"A"},
		},
		{
			name:   "generic fence",
			text:   "```\n[{\"title\":\"A\"}]\n```",
			titles: []string{"A"},
		},
		{
			name:    "invalid entries skipped",
			text:    `[{"title":"ok"},{"description":"no title"},{"title":"bad","status":"DONE"},{"title":"neg","duration_seconds":-5},"str",{"title":"  "}]`,
			titles:  []string{"ok"},
			skipped: 5,
		},
		{name: "no array", text: "I could not find any tasks."},
		{name: "malformed", text: `[{"title": "A",]`},
		{name: "object not array", text: `{"title":"A"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			drafts, skipped := extractDrafts(tt.text, schema)
			if skipped != tt.skipped {
				t.Errorf("skipped = %d, want %d", skipped, tt.skipped)
			}
			if len(drafts) != len(tt.titles) {
				t.Fatalf("drafts = %+v, want titles %v", drafts, tt.titles)
			}
			for i, d := range drafts {
				if d.Title != tt.titles[i] {
					t.Errorf("drafts[%d] = %q, want %q", i, d.Title, tt.titles[i])
				}
			}
		})
	}
}
