package rag

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/BaSui01/docqa/config"
	"github.com/BaSui01/docqa/types"
)

// Generator 是生成网关的窄接口。
type Generator interface {
	Generate(ctx context.Context, req *types.GenerationRequest) *types.GenerationResponse
}

// NotFoundSentinel 抽取模型在证据不足时输出的字面量。
const NotFoundSentinel = "NO_ANSWER_FOUND"

// notFoundMessage 证据不足时给用户的固定回答
const notFoundMessage = "未能在文档中找到与该问题相关的信息。"

// extractionTemperature 抽取调用使用的低温度
const extractionTemperature = 0.2

// 证据摘录在引用里的截断长度
const refExcerptLimit = 200

// RAGPipeline 两步抽取/审计流程：
// 第一步在证据块上做低温度抽取，第二步把抽取结果
// 组装为带编号引用的审计答案。
type RAGPipeline struct {
	gateway  Generator
	glossary *Glossary
	cfg      config.RAGConfig
	logger   *zap.Logger
}

// NewRAGPipeline 创建 RAG 流程。
func NewRAGPipeline(cfg config.RAGConfig, gateway Generator, glossary *Glossary, logger *zap.Logger) *RAGPipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.EvidenceCharBudget <= 0 {
		cfg.EvidenceCharBudget = 12000
	}
	return &RAGPipeline{
		gateway:  gateway,
		glossary: glossary,
		cfg:      cfg,
		logger:   logger,
	}
}

// ProcessWithRAG 对检索到的证据执行两步抽取/审计。
// 证据为空或抽取落空时返回固定的"未找到"答案，永不返回空指针。
func (p *RAGPipeline) ProcessWithRAG(ctx context.Context, documentID, query, backend string, evidences []types.Evidence, profile *DocumentProfile) (*types.AuditedAnswer, error) {
	if len(evidences) == 0 {
		return notFoundAnswer(), nil
	}

	block, kept := p.formatEvidences(evidences)
	if len(kept) == 0 {
		return notFoundAnswer(), nil
	}

	systemPrompt := p.buildExtractionSystemPrompt(query, profile)
	userPrompt := buildExtractionUserPrompt(block, query)

	resp := p.gateway.Generate(ctx, &types.GenerationRequest{
		Prompt:            userPrompt,
		SystemMessage:     systemPrompt,
		Temperature:       extractionTemperature,
		PreferredProvider: backend,
	})
	if resp.Error != "" {
		return nil, types.NewError(types.ErrProviderUnavailable, resp.Error)
	}

	extracted := strings.TrimSpace(resp.Content)
	if extracted == "" || strings.EqualFold(extracted, NotFoundSentinel) {
		p.logger.Debug("extraction returned no answer",
			zap.String("document_id", documentID))
		return notFoundAnswer(), nil
	}

	answer := buildAuditedAnswer(extracted, kept)
	if !answer.Valid(len(kept)) {
		// 引用越界的答案按无效丢弃，不原样透出
		p.logger.Warn("audited answer had out-of-range references, discarded",
			zap.String("document_id", documentID))
		return notFoundAnswer(), nil
	}
	return answer, nil
}

// formatEvidences 在字符预算内选出证据并渲染为编号文本块。
// 表格/数值类证据优先入选；最终块按证据的原始相对顺序
// 重新排列后再做 1..N 编号。返回编号顺序对应的证据切片。
func (p *RAGPipeline) formatEvidences(evidences []types.Evidence) (string, []types.Evidence) {
	var priority, standard []int
	for i, ev := range evidences {
		if isPriorityEvidence(ev) {
			priority = append(priority, i)
		} else {
			standard = append(standard, i)
		}
	}

	budget := p.cfg.EvidenceCharBudget
	used := 0
	var keptIdx []int
	for _, i := range append(priority, standard...) {
		cost := len(evidences[i].Excerpt) + 64 // 渲染头部的粗略开销
		if used+cost > budget {
			continue
		}
		used += cost
		keptIdx = append(keptIdx, i)
	}

	// 恢复原始相对顺序后编号
	sort.Ints(keptIdx)

	var sb strings.Builder
	kept := make([]types.Evidence, 0, len(keptIdx))
	for n, i := range keptIdx {
		ev := evidences[i]
		kept = append(kept, ev)

		sb.WriteString(fmt.Sprintf("[证据 %d]", n+1))
		if ev.Section != "" {
			sb.WriteString(" (章节 " + ev.Section + ")")
		}
		sb.WriteString("\n")
		sb.WriteString(ev.Excerpt)
		sb.WriteString("\n\n")
	}

	return strings.TrimSpace(sb.String()), kept
}

// isPriorityEvidence 表格或数值密集的证据在预算内优先保留
func isPriorityEvidence(ev types.Evidence) bool {
	if ev.ContentType == "table" {
		return true
	}
	return len(percentagePattern.FindAllString(ev.Excerpt, 2)) >= 2
}

func (p *RAGPipeline) buildExtractionSystemPrompt(query string, profile *DocumentProfile) string {
	var sb strings.Builder
	sb.WriteString("你是一个文档问答助手。只依据给出的证据回答问题，")
	sb.WriteString("不得编造证据之外的内容。若证据不足以回答，只输出 ")
	sb.WriteString(NotFoundSentinel)
	sb.WriteString(" 一词。")

	terms := make(map[string]string)
	docType := DocTypeSimple
	if profile != nil {
		docType = profile.Type
	}
	if p.glossary != nil {
		for k, v := range p.glossary.MatchingEntries(query, docType) {
			terms[k] = v
		}
	}
	if profile != nil {
		for acro, def := range profile.DynamicGlossary {
			if strings.Contains(query, acro) {
				terms[acro] = def
			}
		}
	}

	if len(terms) > 0 {
		keys := make([]string, 0, len(terms))
		for k := range terms {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		sb.WriteString("\n\n术语说明：\n")
		for _, k := range keys {
			sb.WriteString("- " + k + ": " + terms[k] + "\n")
		}
	}

	return sb.String()
}

func buildExtractionUserPrompt(block, query string) string {
	var sb strings.Builder
	sb.WriteString("以下是从文档中检索到的证据：\n\n")
	sb.WriteString(block)
	sb.WriteString("\n\n问题：")
	sb.WriteString(query)
	return sb.String()
}

// buildAuditedAnswer 把抽取文本包装为审计答案。
// 展示给模型的全部证据都视为被引用，编号 1..N。
func buildAuditedAnswer(extracted string, kept []types.Evidence) *types.AuditedAnswer {
	refs := make([]types.EvidenceRef, 0, len(kept))
	for i, ev := range kept {
		refs = append(refs, types.EvidenceRef{
			EvidenceID: i + 1,
			Excerpt:    truncateRunes(ev.Excerpt, refExcerptLimit),
		})
	}

	return &types.AuditedAnswer{
		Answer: types.AnswerBody{
			Markdown:  extracted,
			PlainText: stripMarkdown(extracted),
		},
		References: refs,
	}
}

func notFoundAnswer() *types.AuditedAnswer {
	return &types.AuditedAnswer{
		Answer: types.AnswerBody{
			Markdown:  notFoundMessage,
			PlainText: notFoundMessage,
		},
		References: []types.EvidenceRef{},
	}
}

// MarshalAnswer 序列化审计答案为最终输出的 JSON 文本。
func MarshalAnswer(answer *types.AuditedAnswer) string {
	data, err := json.Marshal(answer)
	if err != nil {
		return notFoundMessage
	}
	return string(data)
}

var (
	mdEmphasisPattern = regexp.MustCompile(`(\*\*|__|\*|_|` + "`" + `)`)
	mdHeaderPattern   = regexp.MustCompile(`(?m)^#{1,6}\s*`)
	mdLinkPattern     = regexp.MustCompile(`\[([^]]*)\]\([^)]*\)`)
)

// stripMarkdown 去掉常见 Markdown 标记得到纯文本
func stripMarkdown(text string) string {
	text = mdLinkPattern.ReplaceAllString(text, "$1")
	text = mdHeaderPattern.ReplaceAllString(text, "")
	text = mdEmphasisPattern.ReplaceAllString(text, "")
	return strings.TrimSpace(text)
}

func truncateRunes(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit])
}
