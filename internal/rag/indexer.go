package rag

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/mwiater/ragguard/internal/appconfig"
	"github.com/mwiater/ragguard/internal/logging"
)

// IndexerOptions configures chunking and corpus discovery.
type IndexerOptions struct {
	ChunkSize         int
	ChunkOverlap      int
	AllowedExtensions []string
	ExcludeGlobs      []string
}

// Validate checks the chunk window: size positive, overlap in [0, size).
func (o IndexerOptions) Validate() error {
	if o.ChunkSize <= 0 {
		return &appconfig.ConfigurationError{Field: "rag.chunkSize", Reason: "must be greater than zero"}
	}
	if o.ChunkOverlap < 0 || o.ChunkOverlap >= o.ChunkSize {
		return &appconfig.ConfigurationError{Field: "rag.chunkOverlap", Reason: "must be zero or greater and smaller than rag.chunkSize"}
	}
	return nil
}

// Indexer turns documents into chunk sets and writes them to an Index.
type Indexer struct {
	index Index
	cfg   atomic.Pointer[indexerConfig]
}

// indexerConfig pairs the options with the corpus filter built from them so
// both are swapped together.
type indexerConfig struct {
	opts   IndexerOptions
	filter corpusFilter
}

// IngestReport summarizes a corpus run.
type IngestReport struct {
	Files    int
	Skipped  int
	Chunks   int
	Duration time.Duration
}

// NewIndexer validates opts and returns an Indexer writing to index.
func NewIndexer(index Index, opts IndexerOptions) (*Indexer, error) {
	if index == nil {
		return nil, fmt.Errorf("index is nil")
	}
	x := &Indexer{index: index}
	if err := x.Reconfigure(opts); err != nil {
		return nil, err
	}
	return x, nil
}

// Reconfigure installs opts. Documents already being chunked keep the window
// they started with. On error the previous options stay active.
func (x *Indexer) Reconfigure(opts IndexerOptions) error {
	if err := opts.Validate(); err != nil {
		return err
	}
	opts.AllowedExtensions = append([]string(nil), opts.AllowedExtensions...)
	opts.ExcludeGlobs = append([]string(nil), opts.ExcludeGlobs...)
	x.cfg.Store(&indexerConfig{opts: opts, filter: newCorpusFilter(opts.AllowedExtensions, opts.ExcludeGlobs)})
	return nil
}

// Options returns the active options.
func (x *Indexer) Options() IndexerOptions {
	opts := x.cfg.Load().opts
	opts.AllowedExtensions = append([]string(nil), opts.AllowedExtensions...)
	opts.ExcludeGlobs = append([]string(nil), opts.ExcludeGlobs...)
	return opts
}

func (x *Indexer) filter() corpusFilter { return x.cfg.Load().filter }

// DocumentIDForPath derives a stable document id from a file path so that
// re-ingesting the same file replaces its previous chunk set.
func DocumentIDForPath(path string) string {
	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte("file://"+filepath.ToSlash(path))).String()
}

// IngestText chunks text and replaces documentID's chunk set. An empty
// documentID gets a fresh random id. It returns the id and chunk count.
func (x *Indexer) IngestText(ctx context.Context, documentID, source, text string, metadata map[string]string) (string, int, error) {
	if strings.TrimSpace(documentID) == "" {
		documentID = uuid.NewString()
	}
	opts := x.cfg.Load().opts
	pieces, err := Chunk(text, opts.ChunkSize, opts.ChunkOverlap)
	if err != nil {
		return "", 0, err
	}
	if len(pieces) == 0 {
		return "", 0, fmt.Errorf("document %s has no content", documentID)
	}

	created := time.Now().UTC()
	chunks := make([]DocumentChunk, len(pieces))
	for i, piece := range pieces {
		meta := make(map[string]string, len(metadata)+2)
		for k, v := range metadata {
			meta[k] = v
		}
		if source != "" {
			meta[MetaSource] = source
		}
		meta[MetaChunkCount] = strconv.Itoa(len(pieces))
		chunks[i] = DocumentChunk{
			ID:         uuid.NewString(),
			DocumentID: documentID,
			Text:       piece,
			Ordinal:    i,
			CreatedAt:  created,
			Metadata:   meta,
		}
	}

	if err := x.index.ReplaceDocument(ctx, documentID, chunks); err != nil {
		return "", 0, fmt.Errorf("index document %s: %w", documentID, err)
	}
	return documentID, len(chunks), nil
}

// IngestFile reads path and replaces its chunk set.
func (x *Indexer) IngestFile(ctx context.Context, path string) (int, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("read corpus file %s: %w", path, err)
	}
	text := strings.TrimSpace(string(raw))
	if text == "" {
		return 0, nil
	}
	_, n, err := x.IngestText(ctx, DocumentIDForPath(path), filepath.Base(path), text, map[string]string{"path": filepath.ToSlash(path)})
	return n, err
}

// RemoveFile deletes the chunk set that belongs to path.
func (x *Indexer) RemoveFile(ctx context.Context, path string) (int, error) {
	return x.index.DeleteDocument(ctx, DocumentIDForPath(path))
}

// IngestCorpus ingests every accepted file under root. Empty files are
// counted as skipped.
func (x *Indexer) IngestCorpus(ctx context.Context, root string) (IngestReport, error) {
	if strings.TrimSpace(root) == "" {
		return IngestReport{}, fmt.Errorf("corpus path is required")
	}

	start := time.Now()
	cfg := x.cfg.Load()
	files, err := cfg.filter.walk(root)
	if err != nil {
		return IngestReport{}, fmt.Errorf("scan corpus %s: %w", root, err)
	}
	if len(files) == 0 {
		return IngestReport{}, fmt.Errorf("no corpus files found under %s", root)
	}
	logging.LogEvent("[RAG] indexing %d files from %s (chunk %d, overlap %d)", len(files), root, cfg.opts.ChunkSize, cfg.opts.ChunkOverlap)

	var report IngestReport
	for _, path := range files {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		n, err := x.IngestFile(ctx, path)
		if err != nil {
			return report, err
		}
		if n == 0 {
			logging.LogDebug("[RAG] skipped empty file %s", path)
			report.Skipped++
			continue
		}
		report.Files++
		report.Chunks += n
		logging.LogDebug("[RAG] %s: %d chunks", path, n)
	}

	report.Duration = time.Since(start)
	logging.LogEvent("[RAG] indexed %d files into %d chunks in %s", report.Files, report.Chunks, report.Duration.Truncate(time.Millisecond))
	return report, nil
}

// Accepts reports whether path passes the extension and exclude filters.
func (x *Indexer) Accepts(path string) bool {
	return x.filter().accepts(path)
}
