package rag

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/BaSui01/docqa/config"
)

// Glossary 启动时加载的静态术语表。
// 通用表对所有文档生效，学术/技术表按文档类型选用。
// 加载完成后只读，可被多个 goroutine 并发查询。
type Glossary struct {
	common    map[string]string
	academic  map[string]string
	technical map[string]string
	logger    *zap.Logger
}

// NewGlossary 按配置加载术语表。内联条目与文件条目合并，文件优先。
func NewGlossary(cfg config.GlossaryConfig, logger *zap.Logger) (*Glossary, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	g := &Glossary{
		common:    mergeTerms(cfg.Common, nil),
		academic:  mergeTerms(cfg.Academic, nil),
		technical: mergeTerms(cfg.Technical, nil),
		logger:    logger,
	}

	for _, src := range []struct {
		path string
		dst  map[string]string
	}{
		{cfg.CommonPath, g.common},
		{cfg.AcademicPath, g.academic},
		{cfg.TechnicalPath, g.technical},
	} {
		if src.path == "" {
			continue
		}
		loaded, err := loadTermFile(src.path)
		if err != nil {
			return nil, err
		}
		for k, v := range loaded {
			src.dst[k] = v
		}
	}

	logger.Info("glossary loaded",
		zap.Int("common", len(g.common)),
		zap.Int("academic", len(g.academic)),
		zap.Int("technical", len(g.technical)))

	return g, nil
}

func mergeTerms(src, extra map[string]string) map[string]string {
	out := make(map[string]string, len(src)+len(extra))
	for k, v := range src {
		out[k] = v
	}
	for k, v := range extra {
		out[k] = v
	}
	return out
}

func loadTermFile(path string) (map[string]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read glossary file %s: %w", path, err)
	}
	terms := make(map[string]string)
	if err := yaml.Unmarshal(data, &terms); err != nil {
		return nil, fmt.Errorf("failed to parse glossary file %s: %w", path, err)
	}
	return terms, nil
}

// tablesFor 返回适用于给定文档类型的术语表（通用表 + 领域表）。
func (g *Glossary) tablesFor(docType DocumentType) []map[string]string {
	tables := []map[string]string{g.common}
	switch docType {
	case DocTypeAcademic:
		tables = append(tables, g.academic)
	case DocTypeTechnical:
		tables = append(tables, g.technical)
	}
	return tables
}

// EnrichText 将文中已知术语的首次独立出现替换为"术语 (释义)"，
// 使嵌入向量携带术语的展开语义。
func (g *Glossary) EnrichText(text string, docType DocumentType) string {
	for _, table := range g.tablesFor(docType) {
		for term, expansion := range table {
			if strings.Contains(text, term+" (") || strings.Contains(text, term+"（") {
				continue // 原文已带释义
			}
			text = replaceFirstStandalone(text, term, term+" ("+expansion+")")
		}
	}
	return text
}

// MatchingEntries 返回键出现在查询中的术语条目，用于系统提示词补充。
func (g *Glossary) MatchingEntries(query string, docType DocumentType) map[string]string {
	lower := strings.ToLower(query)
	matched := make(map[string]string)
	for _, table := range g.tablesFor(docType) {
		for term, expansion := range table {
			if strings.Contains(lower, strings.ToLower(term)) {
				matched[term] = expansion
			}
		}
	}
	if len(matched) == 0 {
		return nil
	}
	return matched
}

// ExpandQueryWithDynamicTerms 用文档的动态术语表展开查询：
// 查询中出现的缩写在其释义缺席时，替换为"缩写 (释义)"。
func ExpandQueryWithDynamicTerms(query string, profile *DocumentProfile) string {
	if profile == nil || len(profile.DynamicGlossary) == 0 {
		return query
	}

	lower := strings.ToLower(query)
	for acro, definition := range profile.DynamicGlossary {
		if !strings.Contains(query, acro) {
			continue
		}
		if strings.Contains(lower, strings.ToLower(definition)) {
			continue // 释义已在查询里
		}
		query = replaceFirstStandalone(query, acro, acro+" ("+definition+")")
		lower = strings.ToLower(query)
	}
	return query
}

// replaceFirstStandalone 替换 term 的首次独立出现。
// ASCII 术语带词边界匹配，中文术语直接按子串替换。
func replaceFirstStandalone(text, term, replacement string) string {
	if isASCIIWord(term) {
		re, err := regexp.Compile(`\b` + regexp.QuoteMeta(term) + `\b`)
		if err != nil {
			return text
		}
		loc := re.FindStringIndex(text)
		if loc == nil {
			return text
		}
		return text[:loc[0]] + replacement + text[loc[1]:]
	}

	idx := strings.Index(text, term)
	if idx < 0 {
		return text
	}
	return text[:idx] + replacement + text[idx+len(term):]
}

func isASCIIWord(s string) bool {
	for _, r := range s {
		if r > 127 {
			return false
		}
	}
	return s != ""
}
