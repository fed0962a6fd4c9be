package rag

import (
	"context"
	"fmt"
	"math"
	"regexp"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/BaSui01/docqa/config"
	"github.com/BaSui01/docqa/types"
)

// 高复杂度文档的检索阈值下调量与下限
const (
	highComplexityScoreDelta = 0.1
	adaptedScoreFloor        = 0.6
	retryScoreFloor          = 0.5
)

// IndexEntry 单个文档的索引项：向量存储 + 画像 + 分块参数。
// 首次访问时构建，之后只读。
type IndexEntry struct {
	Store    *InMemoryVectorStore
	Profile  *DocumentProfile
	Chunking ChunkingConfig
}

// IndexObserver 接收索引层的观测数据（可选注入）。
type IndexObserver interface {
	ObserveIndexCache(hit bool)
	ObserveIndexBuild(docType string, segments int)
}

// IndexManager 管理按文档 ID 索引的临时向量库。
//
// 索引在首次访问某文档时构建，进程内常驻，LRU 淘汰。
// 同一文档的并发首次构建通过 singleflight 合并成一次，
// 嵌入服务对每个文档只会被调用一次。
type IndexManager struct {
	embedder Embedder
	glossary *Glossary
	cfg      config.RAGConfig
	logger   *zap.Logger

	cache    *lru.Cache[string, *IndexEntry]
	group    singleflight.Group
	observer IndexObserver
}

// NewIndexManager 创建索引管理器。
func NewIndexManager(cfg config.RAGConfig, embedder Embedder, glossary *Glossary, logger *zap.Logger) (*IndexManager, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	size := cfg.MaxCachedIndexes
	if size <= 0 {
		size = 256
	}

	cache, err := lru.New[string, *IndexEntry](size)
	if err != nil {
		return nil, fmt.Errorf("failed to create index cache: %w", err)
	}

	return &IndexManager{
		embedder: embedder,
		glossary: glossary,
		cfg:      cfg,
		logger:   logger,
		cache:    cache,
	}, nil
}

// SetObserver 注入指标观测器（可选）。
func (m *IndexManager) SetObserver(o IndexObserver) { m.observer = o }

// Profile 返回已索引文档的缓存画像。
func (m *IndexManager) Profile(documentID string) (*DocumentProfile, bool) {
	entry, ok := m.cache.Get(documentID)
	if !ok {
		return nil, false
	}
	return entry.Profile, true
}

// GetOrCreateVectorStore 按文档 ID 幂等地获取或构建索引。
// 已存在的索引原样返回，不会重新嵌入。
func (m *IndexManager) GetOrCreateVectorStore(ctx context.Context, documentID, text string) (*IndexEntry, error) {
	if entry, ok := m.cache.Get(documentID); ok {
		m.observeCache(true)
		return entry, nil
	}
	m.observeCache(false)

	// 并发首建合并：同一文档同时到达的构建请求只执行一次
	v, err, _ := m.group.Do(documentID, func() (any, error) {
		if entry, ok := m.cache.Get(documentID); ok {
			return entry, nil
		}

		entry, err := m.build(ctx, documentID, text)
		if err != nil {
			return nil, err
		}
		m.cache.Add(documentID, entry)
		return entry, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*IndexEntry), nil
}

func (m *IndexManager) build(ctx context.Context, documentID, text string) (*IndexEntry, error) {
	profile := ProfileDocument(text)

	enriched := text
	if m.glossary != nil {
		enriched = m.glossary.EnrichText(text, profile.Type)
	}

	chunking := PlanChunking(profile)
	splitter := NewSemanticSplitter(SplitterConfig{
		SimilarityThreshold: m.cfg.SimilarityThreshold,
		MaxChunkSize:        chunking.ChunkSize,
		Overlap:             chunking.Overlap,
	}, m.embedder, m.logger)

	segments := splitter.Split(ctx, enriched)
	if len(segments) == 0 {
		return nil, types.NewError(types.ErrInvalidRequest, "document produced no segments")
	}

	texts := make([]string, len(segments))
	for i := range segments {
		annotateSegment(&segments[i], documentID, profile)
		texts[i] = segments[i].Text
	}

	embeddings, err := m.embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		return nil, types.NewError(types.ErrEmbeddingFailure, "failed to embed document segments").WithCause(err)
	}

	store := NewInMemoryVectorStore(m.logger.Named("store"))
	if err := store.Add(segments, embeddings); err != nil {
		return nil, err
	}

	m.logger.Info("vector index built",
		zap.String("document_id", documentID),
		zap.String("type", string(profile.Type)),
		zap.String("complexity", string(profile.Complexity)),
		zap.Int("segments", len(segments)))

	if m.observer != nil {
		m.observer.ObserveIndexBuild(string(profile.Type), len(segments))
	}

	return &IndexEntry{Store: store, Profile: profile, Chunking: chunking}, nil
}

// FindRelevantSegments 检索与查询最相关的片段。
// 文档未索引时返回空。高复杂度文档下调阈值（下限 0.6）；
// 下调后仍零命中且阈值高于 0.5 时，按 0.5 再检索一次。
func (m *IndexManager) FindRelevantSegments(ctx context.Context, documentID, query string, maxResults int, minScore float64) ([]types.Evidence, error) {
	entry, ok := m.cache.Get(documentID)
	if !ok {
		return nil, nil
	}

	adapted := adaptScore(entry.Profile.Complexity, minScore)

	queryEmbedding, err := m.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, types.NewError(types.ErrEmbeddingFailure, "failed to embed query").WithCause(err)
	}

	results := entry.Store.Search(queryEmbedding, maxResults, adapted)
	if len(results) == 0 && adapted > retryScoreFloor {
		m.logger.Debug("no matches at adapted threshold, retrying at floor",
			zap.String("document_id", documentID),
			zap.Float64("adapted", adapted))
		results = entry.Store.Search(queryEmbedding, maxResults, retryScoreFloor)
	}

	evidences := make([]types.Evidence, 0, len(results))
	for _, r := range results {
		evidences = append(evidences, types.Evidence{
			DocumentID:  documentID,
			Section:     r.Segment.Metadata["section"],
			Excerpt:     r.Segment.Text,
			Score:       r.Score,
			ContentType: r.Segment.Metadata["content_type"],
		})
	}
	return evidences, nil
}

// adaptScore 高复杂度文档下调检索阈值，下限 adaptedScoreFloor。
// 只会下调：调用方配置的阈值低于下限时原样保留。
func adaptScore(complexity Complexity, minScore float64) float64 {
	if complexity != ComplexityHigh {
		return minScore
	}
	adapted := math.Max(adaptedScoreFloor, minScore-highComplexityScoreDelta)
	if adapted > minScore {
		adapted = minScore
	}
	return adapted
}

func (m *IndexManager) observeCache(hit bool) {
	if m.observer != nil {
		m.observer.ObserveIndexCache(hit)
	}
}

// ============================================================
// 片段结构元数据
// ============================================================

var (
	headerLinePattern = regexp.MustCompile(`^\s{0,4}(\d+(?:\.\d+)*)[.)、]?\s+\S`)
	listLinePattern   = regexp.MustCompile(`(?m)^\s*([-*•]|\d+[.)、])\s+\S`)
	definitionPattern = regexp.MustCompile(`(是指|定义为|指的是|is defined as|refers to)`)
	summaryPattern    = regexp.MustCompile(`(综上|总结|总之|小结|in summary|in conclusion|to summarize)`)
	examplePattern    = regexp.MustCompile(`(例如|举例|比如|for example|for instance|e\.g\.)`)
	numericPattern    = regexp.MustCompile(`\d+(?:\.\d+)?%?`)
)

// annotateSegment 为片段补全结构元数据：内容类型、表格子类、
// 数值摘要与结构标志位。内容类型按固定优先级判定。
func annotateSegment(seg *Segment, documentID string, profile *DocumentProfile) {
	meta := seg.Metadata
	if meta == nil {
		meta = make(map[string]string)
		seg.Metadata = meta
	}

	meta["document_id"] = documentID
	meta["document_type"] = string(profile.Type)

	text := seg.Text
	hasTable := pipeTablePattern.MatchString(text) || len(percentagePattern.FindAllString(text, 3)) >= 2
	hasCode := containsAny(text, codeKeywords, 1)
	hasList := len(listLinePattern.FindAllString(text, 3)) >= 2
	hasDefinition := definitionPattern.MatchString(text)
	numericTokens := numericPattern.FindAllString(text, 5)

	setFlag(meta, "has_table", hasTable)
	setFlag(meta, "has_code", hasCode)
	setFlag(meta, "has_list", hasList)
	setFlag(meta, "has_definition", hasDefinition)
	setFlag(meta, "has_numeric_data", len(numericTokens) > 0)

	if len(numericTokens) > 0 {
		meta["numeric_values"] = strings.Join(numericTokens, ",")
	}

	// 内容类型优先级：章节头 > 表格 > 代码 > 列表 > 定义 > 总结 > 示例 > 正文
	firstLine := text
	if idx := strings.IndexByte(text, '\n'); idx >= 0 {
		firstLine = text[:idx]
	}

	switch {
	case headerLinePattern.MatchString(firstLine):
		meta["content_type"] = "section_header"
		if sub := headerLinePattern.FindStringSubmatch(firstLine); len(sub) > 1 {
			meta["section"] = sub[1]
		}
	case hasTable:
		meta["content_type"] = "table"
		meta["table_type"] = classifyTable(text)
	case hasCode:
		meta["content_type"] = "code"
	case hasList:
		meta["content_type"] = "list"
	case hasDefinition:
		meta["content_type"] = "definition"
	case summaryPattern.MatchString(text):
		meta["content_type"] = "summary"
	case examplePattern.MatchString(text):
		meta["content_type"] = "example"
	default:
		meta["content_type"] = "prose"
	}
}

// classifyTable 判定表格子类
func classifyTable(text string) string {
	lower := strings.ToLower(text)
	switch {
	case strings.Contains(lower, "score") || strings.Contains(text, "得分") || strings.Contains(text, "评分"):
		return "score_table"
	case strings.Contains(lower, "allocation") || strings.Contains(text, "占比") || strings.Contains(text, "分配"):
		return "allocation_table"
	case strings.Contains(lower, "metric") || strings.Contains(text, "指标"):
		return "metrics_table"
	default:
		return "generic_table"
	}
}

func setFlag(meta map[string]string, key string, v bool) {
	if v {
		meta[key] = "true"
	}
}
