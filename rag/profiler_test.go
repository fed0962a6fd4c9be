package rag

import (
	"strings"
	"testing"
)

func TestProfileDocument_Academic(t *testing.T) {
	text := `Abstract

This study proposes a retrieval methodology. The hypothesis is evaluated
against baseline systems, et al.

1. Introduction
Prior work on retrieval is reviewed in the 文献综述.

2. Methodology
We describe the 研究方法 and experimental setup.

3. Results
Significance tests confirm the 实验结果.

References
[1] Smith et al., 2023.`

	profile := ProfileDocument(text)
	if profile.Type != DocTypeAcademic {
		t.Fatalf("type = %s, want ACADEMIC", profile.Type)
	}
	if !profile.HasSections {
		t.Error("expected sections to be detected")
	}
}

func TestProfileDocument_Technical(t *testing.T) {
	text := `本文档描述服务部署流程。

接口通过 api 网关暴露，数据库连接配置见下。

func main() {
	startServer()
}

调用方需要设置超时参数。`

	profile := ProfileDocument(text)
	if profile.Type != DocTypeTechnical {
		t.Fatalf("type = %s, want TECHNICAL", profile.Type)
	}
	if !profile.HasCode {
		t.Error("expected code to be detected")
	}
}

func TestProfileDocument_Structured(t *testing.T) {
	text := `1. 季度概览
销售额同比增长 12.5%，利润率 8.3%，成本占比 41.2%。

2. 区域分布
| 区域 | 销售额 | 占比 |
| 华东 | 120 | 40% |
| 华南 | 90 | 30% |

3. 展望
下季度预期增长 5%。`

	profile := ProfileDocument(text)
	if profile.Type != DocTypeStructured {
		t.Fatalf("type = %s, want STRUCTURED", profile.Type)
	}
	if !profile.HasTables {
		t.Error("expected tables to be detected")
	}
}

func TestProfileDocument_SimpleDefault(t *testing.T) {
	profile := ProfileDocument("今天天气不错，我们去公园散步，聊了很多关于旅行的计划。")
	if profile.Type != DocTypeSimple {
		t.Fatalf("type = %s, want SIMPLE", profile.Type)
	}
	if profile.Complexity != ComplexityLow {
		t.Fatalf("complexity = %s, want LOW", profile.Complexity)
	}
}

func TestProfileDocument_ComplexityScoring(t *testing.T) {
	// 章节(+2) + 表格(+2) + 超长(+2) = 6 → HIGH
	var sb strings.Builder
	for i := 1; i <= 8; i++ {
		sb.WriteString("| 指标 | 数值 |\n| 得分 | 95% |\n\n")
	}
	sb.WriteString("1. 概述\n正文。\n\n2. 细节\n正文。\n\n3. 附录\n正文。\n")
	sb.WriteString(strings.Repeat("填充文本。", 12000))

	profile := ProfileDocument(sb.String())
	if profile.Complexity != ComplexityHigh {
		t.Fatalf("complexity = %s, want HIGH", profile.Complexity)
	}
	if profile.Length <= 50000 {
		t.Fatalf("test document too short: %d", profile.Length)
	}
}

func TestProfileDocument_PureFunction(t *testing.T) {
	text := "1. 概述\n内容 12% 和 34% 以及 56%。\n\n2. 细节\n| a | b |\n| c | d |"
	a := ProfileDocument(text)
	b := ProfileDocument(text)
	if a.Type != b.Type || a.Complexity != b.Complexity || a.EstimatedSectionCount != b.EstimatedSectionCount {
		t.Error("profiling must be deterministic")
	}
}

func TestMineDynamicGlossary(t *testing.T) {
	text := `The system uses Retrieval Augmented Generation (RAG) throughout.
KPI (关键绩效指标) 在第三章定义。`

	glossary := mineDynamicGlossary(text)
	if got := glossary["RAG"]; got != "Retrieval Augmented Generation" {
		t.Errorf("RAG = %q", got)
	}
	if got := glossary["KPI"]; got != "关键绩效指标" {
		t.Errorf("KPI = %q", got)
	}
}

func TestMineDynamicGlossary_EmptyIsNil(t *testing.T) {
	if g := mineDynamicGlossary("没有任何缩写定义的普通文本。"); g != nil {
		t.Errorf("expected nil glossary, got %v", g)
	}
}
