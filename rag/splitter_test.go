package rag

import (
	"context"
	"errors"
	"strings"
	"testing"

	"go.uber.org/zap"
)

// mapEmbedder 按文本前缀查表返回向量，未命中时报错
type mapEmbedder struct {
	vectors map[string][]float64
	fail    bool
	queries int
	batches int
}

func (m *mapEmbedder) EmbedQuery(ctx context.Context, query string) ([]float64, error) {
	m.queries++
	if m.fail {
		return nil, errors.New("embedding backend down")
	}
	for prefix, vec := range m.vectors {
		if strings.HasPrefix(query, prefix) {
			return vec, nil
		}
	}
	return []float64{1, 0}, nil
}

func (m *mapEmbedder) EmbedDocuments(ctx context.Context, documents []string) ([][]float64, error) {
	m.batches++
	if m.fail {
		return nil, errors.New("embedding backend down")
	}
	out := make([][]float64, len(documents))
	for i, doc := range documents {
		vec, err := m.EmbedQuery(ctx, doc)
		if err != nil {
			return nil, err
		}
		out[i] = vec
		m.queries--
	}
	return out, nil
}

func TestSplitter_MergesSimilarBlocks(t *testing.T) {
	emb := &mapEmbedder{vectors: map[string][]float64{
		"主题A": {1, 0},
	}}
	s := NewSemanticSplitter(SplitterConfig{
		SimilarityThreshold: 0.8,
		MaxChunkSize:        500,
	}, emb, zap.NewNop())

	segments := s.Split(context.Background(), "主题A 第一段。\n\n主题A 第二段。\n\n主题A 第三段。")

	if len(segments) != 1 {
		t.Fatalf("expected 1 merged segment, got %d", len(segments))
	}
	if !strings.Contains(segments[0].Text, "第三段") {
		t.Error("merged segment should contain all blocks")
	}
}

func TestSplitter_SplitsDissimilarBlocks(t *testing.T) {
	emb := &mapEmbedder{vectors: map[string][]float64{
		"主题A": {1, 0},
		"主题B": {0, 1}, // 与 A 正交
	}}
	s := NewSemanticSplitter(SplitterConfig{
		SimilarityThreshold: 0.8,
		MaxChunkSize:        500,
	}, emb, zap.NewNop())

	segments := s.Split(context.Background(), "主题A 的内容。\n\n主题B 的内容。")

	if len(segments) != 2 {
		t.Fatalf("expected 2 segments, got %d", len(segments))
	}
}

func TestSplitter_OversizedBlockEmittedAlone(t *testing.T) {
	emb := &mapEmbedder{}
	s := NewSemanticSplitter(SplitterConfig{
		SimilarityThreshold: 0.8,
		MaxChunkSize:        100,
	}, emb, zap.NewNop())

	big := strings.Repeat("x", 300)
	segments := s.Split(context.Background(), "短段落。\n\n"+big+"\n\n结尾段落。")

	found := false
	for _, seg := range segments {
		if seg.Text == big {
			found = true
		}
	}
	if !found {
		t.Error("oversized block must be emitted as its own segment")
	}
}

func TestSplitter_EmbeddingFailureMergesByDefault(t *testing.T) {
	emb := &mapEmbedder{fail: true}
	s := NewSemanticSplitter(SplitterConfig{
		SimilarityThreshold: 0.9,
		MaxChunkSize:        500,
	}, emb, zap.NewNop())

	segments := s.Split(context.Background(), "第一段。\n\n第二段。\n\n第三段。")

	// 相似度不可用时按大小合并，三个小段并成一块
	if len(segments) != 1 {
		t.Fatalf("expected merge-by-default into 1 segment, got %d", len(segments))
	}
}

func TestSplitter_SizeLimitStillAppliesOnFailure(t *testing.T) {
	emb := &mapEmbedder{fail: true}
	s := NewSemanticSplitter(SplitterConfig{
		SimilarityThreshold: 0.9,
		MaxChunkSize:        40,
	}, emb, zap.NewNop())

	segments := s.Split(context.Background(), "这是第一个段落内容。\n\n这是第二个段落内容。")

	if len(segments) < 2 {
		t.Fatalf("size constraint must hold even when embedding fails, got %d segments", len(segments))
	}
}

func TestOverlapTail_AlignsToWhitespace(t *testing.T) {
	tail := overlapTail("alpha beta gamma delta", 7)
	// 7 个字符落在 delta 中间，回退到前一个空白处
	if tail != "delta" && tail != "gamma delta" {
		t.Errorf("tail %q should start at a word boundary", tail)
	}
	if strings.HasPrefix(tail, "a delta") {
		t.Errorf("tail %q cut mid-word", tail)
	}
}

func TestOverlapTail_SpacelessTextCapsAtSize(t *testing.T) {
	// 无空格的中文文本不能触发无限回退，重叠就是末尾 size 个字符
	tail := overlapTail(strings.Repeat("语", 1200), 250)
	if got := len([]rune(tail)); got != 250 {
		t.Errorf("overlap of spaceless text has %d runes, want 250", got)
	}
}

func TestOverlapTail_ShortChunkReturnedWhole(t *testing.T) {
	if got := overlapTail("short", 100); got != "short" {
		t.Errorf("got %q", got)
	}
	if got := overlapTail("anything", 0); got != "" {
		t.Errorf("zero overlap must return empty, got %q", got)
	}
}

func TestHasConceptCentrality(t *testing.T) {
	tests := []struct {
		text string
		want bool
	}{
		{"语义分块是指按含义切分文本的方法。", true},
		{"该系统包括以下三个组件。", true},
		{"Key Performance Indicator (KPI) drives the review.", true},
		{"这只是普通的叙述文本。", false},
	}
	for _, tt := range tests {
		if got := hasConceptCentrality(tt.text); got != tt.want {
			t.Errorf("hasConceptCentrality(%q) = %v, want %v", tt.text, got, tt.want)
		}
	}
}

func TestCosineSimilarity(t *testing.T) {
	if got := cosineSimilarity([]float64{1, 0}, []float64{1, 0}); got < 0.999 {
		t.Errorf("identical vectors: %f", got)
	}
	if got := cosineSimilarity([]float64{1, 0}, []float64{0, 1}); got != 0 {
		t.Errorf("orthogonal vectors: %f", got)
	}
	if got := cosineSimilarity([]float64{1, 0}, []float64{1}); got != 0 {
		t.Errorf("dimension mismatch must be 0, got %f", got)
	}
	if got := cosineSimilarity(nil, nil); got != 0 {
		t.Errorf("empty vectors must be 0, got %f", got)
	}
}
