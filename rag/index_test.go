package rag

import (
	"context"
	"math"
	"sync"
	"testing"

	"go.uber.org/zap"

	"github.com/BaSui01/docqa/config"
)

// countingEmbedder 统计批量嵌入调用次数，查询向量可指定
type countingEmbedder struct {
	mu          sync.Mutex
	batchCalls  int
	queryVector []float64
	queryText   string
}

func (e *countingEmbedder) EmbedQuery(ctx context.Context, query string) ([]float64, error) {
	if e.queryText != "" && query == e.queryText {
		return e.queryVector, nil
	}
	return []float64{1, 0}, nil
}

func (e *countingEmbedder) EmbedDocuments(ctx context.Context, documents []string) ([][]float64, error) {
	e.mu.Lock()
	e.batchCalls++
	e.mu.Unlock()

	out := make([][]float64, len(documents))
	for i := range documents {
		out[i] = []float64{1, 0}
	}
	return out, nil
}

func testRAGConfig() config.RAGConfig {
	return config.RAGConfig{
		SimilarityThreshold: 0.72,
		MinScore:            0.7,
		TopK:                8,
		EvidenceCharBudget:  12000,
		MaxCachedIndexes:    16,
	}
}

func newTestIndexManager(t *testing.T, emb Embedder) *IndexManager {
	t.Helper()
	m, err := NewIndexManager(testRAGConfig(), emb, nil, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	return m
}

const indexTestDoc = `第一段内容，介绍背景。

第二段内容，补充细节。

第三段内容，给出结论。`

func TestIndex_BuildIsIdempotent(t *testing.T) {
	emb := &countingEmbedder{}
	m := newTestIndexManager(t, emb)

	first, err := m.GetOrCreateVectorStore(context.Background(), "doc-1", indexTestDoc)
	if err != nil {
		t.Fatal(err)
	}
	second, err := m.GetOrCreateVectorStore(context.Background(), "doc-1", indexTestDoc)
	if err != nil {
		t.Fatal(err)
	}

	if first != second {
		t.Error("second call must return the cached entry")
	}
	if emb.batchCalls != 1 {
		t.Errorf("embedding service called %d times, want exactly 1", emb.batchCalls)
	}
}

func TestIndex_ConcurrentFirstBuildsCoalesce(t *testing.T) {
	emb := &countingEmbedder{}
	m := newTestIndexManager(t, emb)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := m.GetOrCreateVectorStore(context.Background(), "doc-1", indexTestDoc); err != nil {
				t.Error(err)
			}
		}()
	}
	wg.Wait()

	if emb.batchCalls != 1 {
		t.Errorf("concurrent first builds ran %d embed batches, want 1", emb.batchCalls)
	}
}

func TestIndex_UnknownDocumentReturnsEmpty(t *testing.T) {
	m := newTestIndexManager(t, &countingEmbedder{})

	evidences, err := m.FindRelevantSegments(context.Background(), "missing", "问题", 8, 0.7)
	if err != nil {
		t.Fatal(err)
	}
	if len(evidences) != 0 {
		t.Errorf("expected empty result for unknown document, got %d", len(evidences))
	}
}

func TestIndex_RetrievalFallbackAtFloor(t *testing.T) {
	// 查询向量与片段向量的余弦约 0.55：低于 0.7 阈值，高于 0.5 下限
	theta := math.Acos(0.55)
	emb := &countingEmbedder{
		queryText:   "目标查询",
		queryVector: []float64{math.Cos(theta), math.Sin(theta)},
	}
	m := newTestIndexManager(t, emb)

	if _, err := m.GetOrCreateVectorStore(context.Background(), "doc-1", indexTestDoc); err != nil {
		t.Fatal(err)
	}

	evidences, err := m.FindRelevantSegments(context.Background(), "doc-1", "目标查询", 8, 0.7)
	if err != nil {
		t.Fatal(err)
	}
	if len(evidences) == 0 {
		t.Fatal("expected fallback retry at threshold 0.5 to return matches")
	}
	for _, ev := range evidences {
		if ev.Score < 0.5 {
			t.Errorf("score %f below retry floor", ev.Score)
		}
	}
}

func TestIndex_EvidenceCarriesMetadata(t *testing.T) {
	emb := &countingEmbedder{}
	m := newTestIndexManager(t, emb)

	doc := `1. 评分标准
| 指标 | 得分 |
| 质量 | 95% |
| 速度 | 88% |`

	if _, err := m.GetOrCreateVectorStore(context.Background(), "doc-meta", doc); err != nil {
		t.Fatal(err)
	}

	evidences, err := m.FindRelevantSegments(context.Background(), "doc-meta", "评分", 8, 0.5)
	if err != nil {
		t.Fatal(err)
	}
	if len(evidences) == 0 {
		t.Fatal("expected at least one evidence")
	}
	if evidences[0].DocumentID != "doc-meta" {
		t.Errorf("document id = %q", evidences[0].DocumentID)
	}
	if evidences[0].ContentType == "" {
		t.Error("content type must be set")
	}
}

func TestAnnotateSegment_ContentTypePriority(t *testing.T) {
	profile := &DocumentProfile{Type: DocTypeStructured}

	tests := []struct {
		text string
		want string
	}{
		{"1.2 实现细节\n正文内容。", "section_header"},
		{"| 指标 | 数值 |\n| 得分 | 95% |", "table"},
		{"func handler() {\n	return nil\n}", "code"},
		{"- 第一项说明\n- 第二项说明\n- 第三项说明", "list"},
		{"语义分块是指按语义边界切分文本。", "definition"},
		{"综上，本方案可行。", "summary"},
		{"例如，用户可以上传 PDF。", "example"},
		{"这是一段没有特殊结构的叙述。", "prose"},
	}

	for _, tt := range tests {
		seg := Segment{Text: tt.text}
		annotateSegment(&seg, "doc", profile)
		if got := seg.Metadata["content_type"]; got != tt.want {
			t.Errorf("content_type(%q) = %s, want %s", tt.text, got, tt.want)
		}
	}
}

func TestAnnotateSegment_TableSubTypeAndNumerics(t *testing.T) {
	profile := &DocumentProfile{Type: DocTypeStructured}
	seg := Segment{Text: "| 项目 | 得分 |\n| 质量 | 95% |\n| 速度 | 88.5% |"}
	annotateSegment(&seg, "doc", profile)

	if seg.Metadata["table_type"] != "score_table" {
		t.Errorf("table_type = %s", seg.Metadata["table_type"])
	}
	if seg.Metadata["has_numeric_data"] != "true" {
		t.Error("expected numeric data flag")
	}
	if seg.Metadata["numeric_values"] == "" {
		t.Error("expected numeric values to be extracted")
	}
}

func TestAdaptScore_OnlyLowersThreshold(t *testing.T) {
	tests := []struct {
		complexity Complexity
		minScore   float64
		want       float64
	}{
		{ComplexityHigh, 0.7, 0.6},
		{ComplexityHigh, 0.65, 0.6},
		{ComplexityHigh, 0.55, 0.55},
		{ComplexityHigh, 0.4, 0.4},
		{ComplexityLow, 0.7, 0.7},
		{ComplexityMedium, 0.7, 0.7},
	}

	for _, tt := range tests {
		got := adaptScore(tt.complexity, tt.minScore)
		if math.Abs(got-tt.want) > 1e-9 {
			t.Errorf("adaptScore(%s, %.2f) = %.2f, want %.2f", tt.complexity, tt.minScore, got, tt.want)
		}
		if got > tt.minScore {
			t.Errorf("adaptScore(%s, %.2f) = %.2f raised the threshold", tt.complexity, tt.minScore, got)
		}
	}
}
