package protocol

import (
	"testing"

	"github.com/riskinsure/fileretrieval/internal/domain"
)

func TestNewMatcher_RootAndRecursion(t *testing.T) {
	tests := []struct {
		pattern   string
		root      string
		recursive bool
	}{
		{pattern: "/in/*.csv", root: "/in", recursive: false},
		{pattern: "in/*.csv", root: "/in", recursive: false},
		{pattern: "/in", root: "/in", recursive: false},
		{pattern: "", root: "/", recursive: false},
		{pattern: "/*.csv", root: "/", recursive: false},
		{pattern: "/in/**", root: "/in", recursive: true},
		{pattern: "/in/**/*.csv", root: "/in", recursive: true},
		{pattern: "/data/*/incoming", root: "/data", recursive: true},
		{pattern: "/a/b/c/", root: "/a/b/c", recursive: false},
	}

	for _, tt := range tests {
		t.Run(tt.pattern, func(t *testing.T) {
			m, err := NewMatcher(Query{PathPattern: tt.pattern})
			if err != nil {
				t.Fatalf("NewMatcher() error: %v", err)
			}
			if m.Root() != tt.root {
				t.Errorf("Root() = %q, want %q", m.Root(), tt.root)
			}
			if m.Recursive() != tt.recursive {
				t.Errorf("Recursive() = %v, want %v", m.Recursive(), tt.recursive)
			}
		})
	}
}

func TestMatcher_Match(t *testing.T) {
	tests := []struct {
		name  string
		query Query
		path  string
		want  bool
	}{
		{name: "glob in last segment", query: Query{PathPattern: "/in/*.csv"}, path: "/in/a.csv", want: true},
		{name: "glob excludes subdir", query: Query{PathPattern: "/in/*.csv"}, path: "/in/sub/a.csv", want: false},
		{name: "glob excludes other ext", query: Query{PathPattern: "/in/*.csv"}, path: "/in/a.txt", want: false},
		{name: "plain directory child", query: Query{PathPattern: "/in"}, path: "/in/a.txt", want: true},
		{name: "plain directory grandchild", query: Query{PathPattern: "/in"}, path: "/in/x/a.txt", want: false},
		{name: "directory glob", query: Query{PathPattern: "/data/*/incoming"}, path: "/data/acme/incoming/f.dat", want: true},
		{name: "directory glob wrong leaf", query: Query{PathPattern: "/data/*/incoming"}, path: "/data/acme/outgoing/f.dat", want: false},
		{name: "double star", query: Query{PathPattern: "/in/**"}, path: "/in/2024/03/a.csv", want: true},
		{name: "filename pattern", query: Query{PathPattern: "/in", FilenamePattern: "claims_*"}, path: "/in/claims_01.csv", want: true},
		{name: "filename pattern miss", query: Query{PathPattern: "/in", FilenamePattern: "claims_*"}, path: "/in/policy_01.csv", want: false},
		{name: "extension with dot", query: Query{PathPattern: "/in", Extension: ".csv"}, path: "/in/a.CSV", want: true},
		{name: "extension without dot", query: Query{PathPattern: "/in", Extension: "csv"}, path: "/in/a.csv", want: true},
		{name: "extension miss", query: Query{PathPattern: "/in", Extension: "csv"}, path: "/in/a.csv.gz", want: false},
		{name: "relative file path", query: Query{PathPattern: "/in/*.csv"}, path: "in/a.csv", want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := NewMatcher(tt.query)
			if err != nil {
				t.Fatalf("NewMatcher() error: %v", err)
			}
			if got := m.Match(tt.path); got != tt.want {
				t.Errorf("Match(%q) = %v, want %v", tt.path, got, tt.want)
			}
		})
	}
}

func TestNewMatcher_InvalidPatterns(t *testing.T) {
	if _, err := NewMatcher(Query{PathPattern: "/in/[a"}); err == nil {
		t.Error("expected error for invalid path pattern")
	}
	if _, err := NewMatcher(Query{PathPattern: "/in", FilenamePattern: "[a"}); err == nil {
		t.Error("expected error for invalid filename pattern")
	}
}

func TestMatcher_Filter(t *testing.T) {
	m, err := NewMatcher(Query{PathPattern: "/in/*.csv"})
	if err != nil {
		t.Fatal(err)
	}
	files := []domain.RemoteFile{{Path: "/in/a.csv"}, {Path: "/in/b.txt"}, {Path: "/in/c.csv"}}
	got := m.Filter(files)
	if len(got) != 2 || got[0].Path != "/in/a.csv" || got[1].Path != "/in/c.csv" {
		t.Errorf("Filter() = %+v", got)
	}
	if len(files) != 3 || files[1].Path != "/in/b.txt" {
		t.Error("Filter() modified its input")
	}
}
