package rag

import (
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"
)

// SearchResult 向量搜索结果
type SearchResult struct {
	Segment Segment `json:"segment"`
	Score   float64 `json:"score"`
}

// InMemoryVectorStore 内存向量存储。
// 每个文档一个实例，进程生命周期内有效，不落盘。
type InMemoryVectorStore struct {
	mu         sync.RWMutex
	segments   []Segment
	embeddings [][]float64
	logger     *zap.Logger
}

// NewInMemoryVectorStore 创建内存向量存储
func NewInMemoryVectorStore(logger *zap.Logger) *InMemoryVectorStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &InMemoryVectorStore{logger: logger}
}

// Add 批量添加片段及其嵌入，两者必须一一对应。
func (s *InMemoryVectorStore) Add(segments []Segment, embeddings [][]float64) error {
	if len(segments) != len(embeddings) {
		return fmt.Errorf("segment/embedding count mismatch: %d vs %d", len(segments), len(embeddings))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.segments = append(s.segments, segments...)
	s.embeddings = append(s.embeddings, embeddings...)

	s.logger.Debug("segments added to vector store",
		zap.Int("count", len(segments)),
		zap.Int("total", len(s.segments)))

	return nil
}

// Search 余弦相似度最近邻搜索，过滤低于 minScore 的结果。
func (s *InMemoryVectorStore) Search(queryEmbedding []float64, topK int, minScore float64) []SearchResult {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.segments) == 0 || topK <= 0 {
		return nil
	}

	results := make([]SearchResult, 0, len(s.segments))
	for i, emb := range s.embeddings {
		score := cosineSimilarity(queryEmbedding, emb)
		if score < minScore {
			continue
		}
		results = append(results, SearchResult{Segment: s.segments[i], Score: score})
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})

	if topK < len(results) {
		results = results[:topK]
	}
	return results
}

// Count 返回已索引的片段数
func (s *InMemoryVectorStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.segments)
}
