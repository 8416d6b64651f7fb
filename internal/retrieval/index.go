package retrieval

import (
	"context"
	"fmt"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/tmc/langchaingo/documentloaders"
	"github.com/tmc/langchaingo/schema"
	"github.com/tmc/langchaingo/textsplitter"
	"gorm.io/gorm"

	"smart-mail-reply-go/internal/config"
	"smart-mail-reply-go/internal/model"
)

// Embedder turns text into a vector
type Embedder interface {
	Embed(ctx context.Context, model, text string) ([]float64, error)
}

// Index stores embedded policy document chunks and returns the closest ones to a query
type Index struct {
	db       *gorm.DB
	embedder Embedder
	model    string
	topK     int
	splitter textsplitter.TextSplitter
}

// NewIndex creates an index over the document_chunks table
func NewIndex(db *gorm.DB, embedder Embedder, cfg config.RetrievalConfig) *Index {
	if cfg.TopK <= 0 {
		cfg.TopK = 3
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = 1000
	}
	if cfg.ChunkOverlap < 0 || cfg.ChunkOverlap >= cfg.ChunkSize {
		cfg.ChunkOverlap = cfg.ChunkSize / 5
	}
	return &Index{
		db:       db,
		embedder: embedder,
		model:    cfg.EmbeddingModel,
		topK:     cfg.TopK,
		splitter: textsplitter.NewRecursiveCharacter(
			textsplitter.WithChunkSize(cfg.ChunkSize),
			textsplitter.WithChunkOverlap(cfg.ChunkOverlap),
		),
	}
}

func supported(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".pdf", ".txt", ".md":
		return true
	}
	return false
}

// IngestDir indexes every supported file under dir that has no chunks yet.
// A file that fails to load is logged and skipped.
func (x *Index) IngestDir(ctx context.Context, dir string) (int, error) {
	added := 0
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if d.IsDir() || !supported(path) {
			return nil
		}

		n, err := x.IngestFile(ctx, path)
		if err != nil {
			logrus.Warnf("Failed to index %s: %v", path, err)
			return nil
		}
		added += n
		return nil
	})
	if err != nil {
		return added, fmt.Errorf("failed to index %s: %w", dir, err)
	}
	return added, nil
}

// IngestFile splits, embeds and stores one document. Already indexed sources are skipped.
func (x *Index) IngestFile(ctx context.Context, path string) (int, error) {
	var existing int64
	if err := x.db.WithContext(ctx).Model(&model.DocumentChunk{}).Where("source = ?", path).Count(&existing).Error; err != nil {
		return 0, fmt.Errorf("failed to check index: %w", err)
	}
	if existing > 0 {
		logrus.Debugf("Skipping %s, already indexed", path)
		return 0, nil
	}

	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	var loader documentloaders.Loader
	if strings.EqualFold(filepath.Ext(path), ".pdf") {
		info, err := f.Stat()
		if err != nil {
			return 0, err
		}
		loader = documentloaders.NewPDF(f, info.Size())
	} else {
		loader = documentloaders.NewText(f)
	}

	docs, err := loader.LoadAndSplit(ctx, x.splitter)
	if err != nil {
		return 0, fmt.Errorf("failed to load %s: %w", path, err)
	}
	return x.store(ctx, path, docs)
}

func (x *Index) store(ctx context.Context, source string, docs []schema.Document) (int, error) {
	chunks := make([]model.DocumentChunk, 0, len(docs))
	for _, doc := range docs {
		content := strings.TrimSpace(doc.PageContent)
		if content == "" {
			continue
		}
		vec, err := x.embedder.Embed(ctx, x.model, content)
		if err != nil {
			return 0, fmt.Errorf("failed to embed chunk %d of %s: %w", len(chunks), source, err)
		}
		chunks = append(chunks, model.DocumentChunk{
			Source:    source,
			Seq:       len(chunks),
			Content:   content,
			Embedding: vec,
		})
	}
	if len(chunks) == 0 {
		return 0, nil
	}

	if err := x.db.WithContext(ctx).CreateInBatches(&chunks, 100).Error; err != nil {
		return 0, fmt.Errorf("failed to store chunks of %s: %w", source, err)
	}
	logrus.Infof("Indexed %d chunks from %s", len(chunks), source)
	return len(chunks), nil
}

type scored struct {
	content string
	score   float64
}

// Retrieve returns up to topK chunk texts, most similar first
func (x *Index) Retrieve(ctx context.Context, query string) ([]string, error) {
	if strings.TrimSpace(query) == "" {
		return nil, nil
	}

	var total int64
	if err := x.db.WithContext(ctx).Model(&model.DocumentChunk{}).Count(&total).Error; err != nil {
		return nil, fmt.Errorf("failed to count chunks: %w", err)
	}
	if total == 0 {
		return nil, nil
	}

	q, err := x.embedder.Embed(ctx, x.model, query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	best := make([]scored, 0, x.topK+1)
	var batch []model.DocumentChunk
	res := x.db.WithContext(ctx).FindInBatches(&batch, 200, func(*gorm.DB, int) error {
		for _, c := range batch {
			s, ok := cosine(q, c.Embedding)
			if !ok {
				continue
			}
			best = append(best, scored{content: c.Content, score: s})
			sort.SliceStable(best, func(i, j int) bool { return best[i].score > best[j].score })
			if len(best) > x.topK {
				best = best[:x.topK]
			}
		}
		return nil
	})
	if res.Error != nil {
		return nil, fmt.Errorf("failed to scan chunks: %w", res.Error)
	}

	out := make([]string, 0, len(best))
	for _, b := range best {
		out = append(out, b.content)
	}
	return out, nil
}

// cosine is false for vectors of different length or zero magnitude
func cosine(a, b []float64) (float64, bool) {
	if len(a) == 0 || len(a) != len(b) {
		return 0, false
	}
	var dot, na, nb float64
	for i := range a {
		dot += a[i] * b[i]
		na += a[i] * a[i]
		nb += b[i] * b[i]
	}
	if na == 0 || nb == 0 {
		return 0, false
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb)), true
}
