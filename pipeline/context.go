// Package pipeline 将一次问答请求串成五个有序步骤：
// 会话校验 → 上下文检索 → 提示词构建 → 执行 → 审计。
package pipeline

import (
	"github.com/BaSui01/docqa/rag"
	"github.com/BaSui01/docqa/types"
)

// Request 是进入处理链的原始请求。
type Request struct {
	SessionID string `json:"session_id,omitempty"`
	UserID    string `json:"user_id,omitempty"`
	TenantID  string `json:"tenant_id,omitempty"`
	// 绑定的文档 ID（可选）
	DocumentID string `json:"document_id,omitempty"`
	// 文档原文。提供时按需构建索引；省略时只使用已有索引。
	DocumentText string `json:"document_text,omitempty"`
	// 用户问题
	Query string `json:"query"`
	// 请求级系统提示词附加段（可选）
	SystemOverride string `json:"system_override,omitempty"`
	// 首选后端（可选）
	PreferredBackend string `json:"preferred_backend,omitempty"`
}

// ProcessingContext 在步骤间传递的不可变上下文。
// 每个步骤对值做拷贝再修改，后续步骤不可能观察到前一步
// 的中间状态；With* 方法都返回新值。
type ProcessingContext struct {
	Request           *Request
	UserID            string
	TenantID          string
	Session           *types.Session
	UserMessage       string
	ExpandedQuery     string
	Evidences         []types.Evidence
	FinalSystemPrompt string
	Response          *types.GenerationResponse
	ShouldAudit       bool
	Strategy          rag.Strategy
}

// NewProcessingContext 由请求构造初始上下文。
func NewProcessingContext(req *Request) ProcessingContext {
	return ProcessingContext{
		Request:  req,
		UserID:   req.UserID,
		TenantID: req.TenantID,
	}
}

func (c ProcessingContext) WithSession(s *types.Session) ProcessingContext {
	c.Session = s
	return c
}

func (c ProcessingContext) WithUserMessage(msg string) ProcessingContext {
	c.UserMessage = msg
	return c
}

func (c ProcessingContext) WithExpandedQuery(q string) ProcessingContext {
	c.ExpandedQuery = q
	return c
}

func (c ProcessingContext) WithEvidences(evidences []types.Evidence) ProcessingContext {
	c.Evidences = evidences
	return c
}

func (c ProcessingContext) WithSystemPrompt(prompt string) ProcessingContext {
	c.FinalSystemPrompt = prompt
	return c
}

func (c ProcessingContext) WithResponse(resp *types.GenerationResponse) ProcessingContext {
	c.Response = resp
	return c
}

func (c ProcessingContext) WithShouldAudit(v bool) ProcessingContext {
	c.ShouldAudit = v
	return c
}

func (c ProcessingContext) WithStrategy(s rag.Strategy) ProcessingContext {
	c.Strategy = s
	return c
}
