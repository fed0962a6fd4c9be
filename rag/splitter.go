package rag

import (
	"context"
	"math"
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"go.uber.org/zap"
)

// Segment 文档片段
type Segment struct {
	Text     string            `json:"text"`
	Metadata map[string]string `json:"metadata"`
}

// Embedder 嵌入服务的窄接口
type Embedder interface {
	EmbedQuery(ctx context.Context, query string) ([]float64, error)
	EmbedDocuments(ctx context.Context, documents []string) ([][]float64, error)
}

// SplitterConfig 语义分块参数
type SplitterConfig struct {
	SimilarityThreshold float64 // 块内语义相似度阈值
	MaxChunkSize        int     // 最大块大小（字符）
	MinChunkSize        int     // 最小块大小（字符）
	Overlap             int     // 重叠尾部大小（字符）
}

// SemanticSplitter 基于锚点嵌入的语义分块器。
//
// 每个块以第一个段落的嵌入为锚点，后续段落只有与锚点
// 足够相似且合并后不超限时才并入当前块。嵌入失败时退化
// 为"默认合并"（跳过相似度判断，大小约束仍然生效）。
type SemanticSplitter struct {
	config   SplitterConfig
	embedder Embedder
	logger   *zap.Logger
}

// NewSemanticSplitter 创建语义分块器
func NewSemanticSplitter(config SplitterConfig, embedder Embedder, logger *zap.Logger) *SemanticSplitter {
	if config.MaxChunkSize <= 0 {
		config.MaxChunkSize = 1000
	}
	if config.SimilarityThreshold <= 0 {
		config.SimilarityThreshold = 0.72
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SemanticSplitter{
		config:   config,
		embedder: embedder,
		logger:   logger,
	}
}

// Split 将文本切分为语义连贯的片段。
func (s *SemanticSplitter) Split(ctx context.Context, text string) []Segment {
	blocks := splitBlocks(text)
	if len(blocks) == 0 {
		return nil
	}

	var segments []Segment
	var current strings.Builder
	var anchor []float64

	flush := func() string {
		chunk := strings.TrimSpace(current.String())
		if chunk != "" {
			segments = append(segments, s.newSegment(chunk, len(segments)))
		}
		current.Reset()
		anchor = nil
		return chunk
	}

	for _, block := range blocks {
		// 超大段落：不再递归切分，作为独立片段直接输出
		if len(block) > s.config.MaxChunkSize {
			flush()
			segments = append(segments, s.newSegment(block, len(segments)))
			continue
		}

		if current.Len() == 0 {
			current.WriteString(block)
			anchor = s.embedBlock(ctx, block)
			continue
		}

		blockEmb := s.embedBlock(ctx, block)
		merged := current.Len()+len(block)+2 <= s.config.MaxChunkSize

		// 嵌入不可用时跳过相似度判断，默认合并
		if merged && anchor != nil && blockEmb != nil {
			merged = cosineSimilarity(anchor, blockEmb) >= s.config.SimilarityThreshold
		}

		if merged {
			current.WriteString("\n\n")
			current.WriteString(block)
			continue
		}

		finalized := flush()

		// 新块以上一块的重叠尾部开头，在空白处截断避免断词
		if tail := overlapTail(finalized, s.config.Overlap); tail != "" {
			current.WriteString(tail)
			current.WriteString("\n\n")
		}
		current.WriteString(block)
		anchor = blockEmb
	}
	flush()

	s.logger.Debug("semantic split completed",
		zap.Int("blocks", len(blocks)),
		zap.Int("segments", len(segments)))

	return segments
}

func (s *SemanticSplitter) embedBlock(ctx context.Context, block string) []float64 {
	if s.embedder == nil {
		return nil
	}
	emb, err := s.embedder.EmbedQuery(ctx, block)
	if err != nil {
		s.logger.Warn("block embedding failed, merging by default", zap.Error(err))
		return nil
	}
	return emb
}

func (s *SemanticSplitter) newSegment(text string, index int) Segment {
	meta := map[string]string{
		"chunk_index": strconv.Itoa(index),
	}
	if hasConceptCentrality(text) {
		meta["concept_centrality"] = "true"
	}
	return Segment{Text: text, Metadata: meta}
}

// splitBlocks 按段落边界（空行）切分原始文本
func splitBlocks(text string) []string {
	raw := regexp.MustCompile(`\n\s*\n`).Split(text, -1)
	blocks := make([]string, 0, len(raw))
	for _, b := range raw {
		if b = strings.TrimSpace(b); b != "" {
			blocks = append(blocks, b)
		}
	}
	return blocks
}

// 对齐空白时向前回看的上限。中文正文通常没有空格，
// 超出上限就直接按 size 截断，避免重叠膨胀成整个块。
const overlapAlignScanLimit = 24

// overlapTail 取 chunk 末尾约 size 个字符作为重叠，
// 在附近的前置空白处切断，不从词中间断开。
func overlapTail(chunk string, size int) string {
	if size <= 0 || chunk == "" {
		return ""
	}
	runes := []rune(chunk)
	if len(runes) <= size {
		return chunk
	}

	start := len(runes) - size
	for cut := start; cut > 0 && start-cut < overlapAlignScanLimit; cut-- {
		if unicode.IsSpace(runes[cut-1]) {
			start = cut
			break
		}
	}
	return strings.TrimSpace(string(runes[start:]))
}

var (
	definitionCentralPattern = regexp.MustCompile(`(是指|定义为|指的是|称为|is defined as|refers to|means that)`)
	enumerationPattern       = regexp.MustCompile(`(包括以下|包含以下|由以下|分为|consists of|comprises|includes the following)`)
)

// hasConceptCentrality 判断片段是否承载概念定义：
// 定义句式、组成枚举、或带括号释义的缩写。
func hasConceptCentrality(text string) bool {
	return definitionCentralPattern.MatchString(text) ||
		enumerationPattern.MatchString(text) ||
		acronymAfterPattern.MatchString(text)
}

// cosineSimilarity 余弦相似度，维度不一致或零向量时返回 0。
func cosineSimilarity(a, b []float64) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
