package rag

import (
	"os"
	"path/filepath"
	"testing"
)

func TestCorpusFilterExcludes(t *testing.T) {
	f := newCorpusFilter([]string{"md", ".TXT"}, []string{"drafts/**", "**/*.tmp.md", " "})
	cases := []struct {
		path string
		want bool
	}{
		{"/srv/corpus/guide.md", true},
		{"/srv/corpus/notes.txt", true},
		{"/srv/corpus/image.png", false},
		{"/srv/corpus/drafts/wip.md", false},
		{"/srv/corpus/team/drafts/deep/wip.md", false},
		{"/srv/corpus/scratch.tmp.md", false},
		{"/srv/corpus/draftsman.md", true},
	}
	for _, tc := range cases {
		if got := f.accepts(tc.path); got != tc.want {
			t.Fatalf("accepts(%q) = %v, want %v", tc.path, got, tc.want)
		}
	}
}

func TestMatchSegments(t *testing.T) {
	cases := []struct {
		pattern, segs []string
		want          bool
	}{
		{[]string{"**"}, nil, true},
		{[]string{"**", "a"}, []string{"x", "y", "a"}, true},
		{[]string{"a", "**", "c"}, []string{"a", "c"}, true},
		{[]string{"a", "**", "c"}, []string{"a", "b", "d"}, false},
		{[]string{"*.md"}, []string{"dir", "x.md"}, false},
	}
	for _, tc := range cases {
		if got := matchSegments(tc.pattern, tc.segs); got != tc.want {
			t.Fatalf("matchSegments(%q, %q) = %v, want %v", tc.pattern, tc.segs, got, tc.want)
		}
	}
}

func TestCorpusFilterWalkSkipsExcludedDirs(t *testing.T) {
	root := t.TempDir()
	for _, rel := range []string{"b.md", "a.md", "drafts/c.md", "sub/d.txt", "sub/e.pdf"} {
		p := filepath.Join(root, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			t.Fatalf("mkdir: %v", err)
		}
		if err := os.WriteFile(p, []byte("text"), 0o644); err != nil {
			t.Fatalf("write: %v", err)
		}
	}

	files, err := newCorpusFilter([]string{".md", ".txt"}, []string{"drafts/**"}).walk(root)
	if err != nil {
		t.Fatalf("walk: %v", err)
	}
	want := []string{filepath.Join(root, "a.md"), filepath.Join(root, "b.md"), filepath.Join(root, "sub", "d.txt")}
	if len(files) != len(want) {
		t.Fatalf("expected %v, got %v", want, files)
	}
	for i := range want {
		if files[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, files)
		}
	}
}
