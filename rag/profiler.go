// Package rag 实现自适应检索增强生成引擎：
// 文档画像、语义分块、向量索引、策略路由与两步抽取/审计流程。
package rag

import (
	"regexp"
	"strings"
)

// DocumentType 文档类型
type DocumentType string

const (
	DocTypeSimple     DocumentType = "SIMPLE"     // 普通文本
	DocTypeTechnical  DocumentType = "TECHNICAL"  // 技术文档
	DocTypeAcademic   DocumentType = "ACADEMIC"   // 学术文献
	DocTypeStructured DocumentType = "STRUCTURED" // 结构化报告
)

// Complexity 文档复杂度
type Complexity string

const (
	ComplexityLow    Complexity = "LOW"
	ComplexityMedium Complexity = "MEDIUM"
	ComplexityHigh   Complexity = "HIGH"
)

// DocumentProfile 文档画像，所有下游决策的依据。
// 每个文档只计算一次，与索引一起缓存，创建后不再修改。
type DocumentProfile struct {
	Type                  DocumentType      `json:"type"`
	Length                int               `json:"length"`
	HasCode               bool              `json:"has_code"`
	HasTables             bool              `json:"has_tables"`
	HasSections           bool              `json:"has_sections"`
	EstimatedSectionCount int               `json:"estimated_section_count"`
	Complexity            Complexity        `json:"complexity"`
	DynamicGlossary       map[string]string `json:"dynamic_glossary,omitempty"`
}

var (
	// 编号章节：行首形如 "1."、"2.3"、"3)" 后跟正文
	sectionPattern = regexp.MustCompile(`(?m)^\s{0,4}\d+(\.\d+)*[.)、]?\s+\S`)

	// 表格：管道符分隔行，或含百分数的数据行
	pipeTablePattern  = regexp.MustCompile(`(?m)^\s*\|.*\|\s*$`)
	percentagePattern = regexp.MustCompile(`\d+(\.\d+)?\s*%`)

	// 缩写定义："Full Name (ACRO)" 与 "ACRO (定义)"
	acronymAfterPattern  = regexp.MustCompile(`([A-Z][A-Za-z-]+(?:\s+[A-Za-z-]+){1,5})\s*[（(]([A-Z]{2,8})[)）]`)
	acronymBeforePattern = regexp.MustCompile(`\b([A-Z]{2,8})\s*[（(]([^()（）]{3,60})[)）]`)
)

// codeKeywords 代码特征关键词
var codeKeywords = []string{
	"func ", "def ", "class ", "import ", "return ", "public ", "private ",
	"const ", "var ", "#include", "package ", "=> {", "});", "SELECT ", "INSERT ",
}

// technicalKeywords 技术文档关键词，命中三个以上判为技术文档
var technicalKeywords = []string{
	"api", "接口", "配置", "部署", "架构", "协议", "数据库", "算法",
	"server", "database", "protocol", "deployment", "configuration",
	"latency", "throughput", "编译", "调用", "参数",
}

// academicKeywords 学术文献关键词
var academicKeywords = []string{
	"abstract", "methodology", "hypothesis", "et al", "references",
	"литература", "摘要", "研究方法", "实验结果", "参考文献", "假设", "样本",
	"显著性", "结论", "文献综述",
}

// ProfileDocument 对原始文本做结构探测，产出文档画像。
// 纯函数，无副作用。
func ProfileDocument(text string) *DocumentProfile {
	lower := strings.ToLower(text)

	sectionCount := len(sectionPattern.FindAllString(text, -1))
	hasSections := sectionCount >= 2

	hasTables := len(pipeTablePattern.FindAllString(text, 3)) >= 2 ||
		len(percentagePattern.FindAllString(text, 4)) >= 3

	hasCode := containsAny(text, codeKeywords, 1)
	hasAcademic := containsAny(lower, academicKeywords, 2)
	hasTechnical := hasCode || containsAny(lower, technicalKeywords, 3)

	// 类型判定优先级：学术 > 技术 > 结构化 > 普通
	docType := DocTypeSimple
	switch {
	case hasAcademic && hasSections:
		docType = DocTypeAcademic
	case hasTechnical:
		docType = DocTypeTechnical
	case hasSections && hasTables:
		docType = DocTypeStructured
	}

	// 复杂度为加性评分
	score := 0
	if hasSections {
		score += 2
	}
	if hasTables {
		score += 2
	}
	if hasCode {
		score++
	}
	if sectionCount > 10 {
		score += 2
	}
	if len(text) > 50000 {
		score += 2
	}

	complexity := ComplexityLow
	switch {
	case score >= 6:
		complexity = ComplexityHigh
	case score >= 3:
		complexity = ComplexityMedium
	}

	return &DocumentProfile{
		Type:                  docType,
		Length:                len(text),
		HasCode:               hasCode,
		HasTables:             hasTables,
		HasSections:           hasSections,
		EstimatedSectionCount: sectionCount,
		Complexity:            complexity,
		DynamicGlossary:       mineDynamicGlossary(text),
	}
}

// mineDynamicGlossary 从文中挖掘"全称 (缩写)"和"缩写 (定义)"两种模式，
// 构建文档专属的动态术语表。
func mineDynamicGlossary(text string) map[string]string {
	glossary := make(map[string]string)

	for _, m := range acronymAfterPattern.FindAllStringSubmatch(text, 50) {
		full, acro := strings.TrimSpace(m[1]), m[2]
		if _, exists := glossary[acro]; !exists && full != acro {
			glossary[acro] = full
		}
	}

	for _, m := range acronymBeforePattern.FindAllStringSubmatch(text, 50) {
		acro, def := m[1], strings.TrimSpace(m[2])
		if _, exists := glossary[acro]; !exists && def != acro {
			glossary[acro] = def
		}
	}

	if len(glossary) == 0 {
		return nil
	}
	return glossary
}

func containsAny(text string, keywords []string, min int) bool {
	hits := 0
	for _, kw := range keywords {
		if strings.Contains(text, kw) {
			hits++
			if hits >= min {
				return true
			}
		}
	}
	return false
}
