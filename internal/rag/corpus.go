package rag

import (
	"io/fs"
	"path"
	"path/filepath"
	"strings"
)

// corpusFilter decides which files under a corpus directory are indexed.
//
// Exclude globs use slash-separated paths and may match at any depth. "**"
// matches any number of path segments, so "drafts/**" and "**/drafts/**"
// both exclude every drafts directory.
type corpusFilter struct {
	exts    map[string]bool
	exclude [][]string
}

func newCorpusFilter(allowedExtensions, excludeGlobs []string) corpusFilter {
	f := corpusFilter{exts: make(map[string]bool, len(allowedExtensions))}
	for _, ext := range allowedExtensions {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if ext == "" {
			continue
		}
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		f.exts[ext] = true
	}
	for _, glob := range excludeGlobs {
		glob = filepath.ToSlash(strings.TrimSpace(glob))
		if glob == "" {
			continue
		}
		segs := strings.Split(strings.Trim(glob, "/"), "/")
		if segs[0] != "**" {
			segs = append([]string{"**"}, segs...)
		}
		f.exclude = append(f.exclude, segs)
	}
	return f
}

// excluded reports whether p matches an exclude glob.
func (f corpusFilter) excluded(p string) bool {
	segs := strings.Split(strings.Trim(filepath.ToSlash(p), "/"), "/")
	for _, pattern := range f.exclude {
		if matchSegments(pattern, segs) {
			return true
		}
	}
	return false
}

// accepts reports whether the file at p should be indexed.
func (f corpusFilter) accepts(p string) bool {
	if f.excluded(p) {
		return false
	}
	return len(f.exts) == 0 || f.exts[strings.ToLower(filepath.Ext(p))]
}

// walk returns the accepted files under root in lexical order, skipping
// excluded directories.
func (f corpusFilter) walk(root string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		switch {
		case err != nil:
			return err
		case d.IsDir():
			if p != root && f.excluded(p) {
				return filepath.SkipDir
			}
		case d.Type().IsRegular() && f.accepts(p):
			files = append(files, p)
		}
		return nil
	})
	return files, err
}

func matchSegments(pattern, segs []string) bool {
	for len(pattern) > 0 {
		if pattern[0] == "**" {
			for i := 0; i <= len(segs); i++ {
				if matchSegments(pattern[1:], segs[i:]) {
					return true
				}
			}
			return false
		}
		if len(segs) == 0 {
			return false
		}
		if ok, _ := path.Match(pattern[0], segs[0]); !ok {
			return false
		}
		pattern, segs = pattern[1:], segs[1:]
	}
	return len(segs) == 0
}
