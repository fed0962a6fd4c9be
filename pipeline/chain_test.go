package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"go.uber.org/zap"

	"github.com/BaSui01/docqa/config"
	"github.com/BaSui01/docqa/rag"
	"github.com/BaSui01/docqa/types"
)

// recordingGenerator 记录请求并按 respond 函数应答。
type recordingGenerator struct {
	mu       sync.Mutex
	requests []*types.GenerationRequest
	respond  func(req *types.GenerationRequest) *types.GenerationResponse
}

func (g *recordingGenerator) Generate(ctx context.Context, req *types.GenerationRequest) *types.GenerationResponse {
	g.mu.Lock()
	g.requests = append(g.requests, req)
	g.mu.Unlock()
	if g.respond != nil {
		return g.respond(req)
	}
	return &types.GenerationResponse{Content: "好的。"}
}

func (g *recordingGenerator) calls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.requests)
}

func (g *recordingGenerator) request(i int) *types.GenerationRequest {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.requests[i]
}

type constEmbedder struct{}

func (constEmbedder) EmbedQuery(ctx context.Context, query string) ([]float64, error) {
	return []float64{1, 0}, nil
}

func (constEmbedder) EmbedDocuments(ctx context.Context, docs []string) ([][]float64, error) {
	out := make([][]float64, len(docs))
	for i := range docs {
		out[i] = []float64{1, 0}
	}
	return out, nil
}

type testHarness struct {
	chain    *Chain
	chat     *InMemoryChatStore
	profiles *InMemoryProfileStore
	index    *rag.IndexManager
	audit    *AuditStep
}

// newTestChain 组装完整五步链。titleGen 为 nil 时禁用后台标题生成，
// 便于精确断言后端调用次数。
func newTestChain(t *testing.T, gen *recordingGenerator, titleGen rag.Generator) *testHarness {
	t.Helper()
	logger := zap.NewNop()

	cfg := config.RAGConfig{
		SimilarityThreshold: 0.75,
		MinScore:            0.3,
		TopK:                5,
		EvidenceCharBudget:  6000,
		MaxCachedIndexes:    8,
	}

	glossary, err := rag.NewGlossary(config.GlossaryConfig{}, logger)
	if err != nil {
		t.Fatalf("NewGlossary: %v", err)
	}
	index, err := rag.NewIndexManager(cfg, constEmbedder{}, glossary, logger)
	if err != nil {
		t.Fatalf("NewIndexManager: %v", err)
	}
	ragPipe := rag.NewRAGPipeline(cfg, gen, glossary, logger)

	chat := NewInMemoryChatStore(logger)
	profiles := NewInMemoryProfileStore(logger)

	audit := NewAuditStep(chat, profiles, titleGen, logger)
	audit.profileDelay = 0

	chain := NewChain([]Step{
		NewValidationStep(chat, logger),
		NewContextRetrievalStep(index, cfg, logger),
		NewPromptBuildingStep(profiles, glossary, logger),
		NewExecutionStep(gen, ragPipe, index, logger),
		audit,
	}, logger)

	return &testHarness{chain: chain, chat: chat, profiles: profiles, index: index, audit: audit}
}

// 短笔记：全文直接进提示词，单次后端调用，回复落库。
func TestChain_ShortNoteOneShot(t *testing.T) {
	marker := "会议决定第三季度预算上调 15%。"
	doc := marker + strings.Repeat("这是一份普通的工作笔记内容。", 200)
	if len(doc) > 10000 {
		t.Fatalf("test document too long for one-shot: %d", len(doc))
	}

	gen := &recordingGenerator{
		respond: func(req *types.GenerationRequest) *types.GenerationResponse {
			return &types.GenerationResponse{Content: "预算上调了 15%。"}
		},
	}
	h := newTestChain(t, gen, nil)

	resp := h.chain.Process(context.Background(), &Request{
		UserID:       "u-1",
		DocumentID:   "doc-note",
		DocumentText: doc,
		Query:        "预算调整了多少？",
	})

	if resp.Error != "" {
		t.Fatalf("unexpected error: %s", resp.Error)
	}
	if resp.Content != "预算上调了 15%。" {
		t.Errorf("content = %q", resp.Content)
	}
	if resp.InteractionType != InteractionChat {
		t.Errorf("interaction type = %q, want %q", resp.InteractionType, InteractionChat)
	}
	if resp.SessionID == "" {
		t.Error("response missing session id")
	}
	if gen.calls() != 1 {
		t.Fatalf("backend calls = %d, want 1", gen.calls())
	}
	if req := gen.request(0); !strings.Contains(req.SystemMessage, marker) {
		t.Error("one-shot system prompt must carry the full document text")
	}

	session, ok := h.chat.FindSession(context.Background(), resp.SessionID)
	if !ok {
		t.Fatal("session was not persisted")
	}
	if len(session.Messages) != 2 {
		t.Fatalf("persisted messages = %d, want user + assistant", len(session.Messages))
	}
	if session.Messages[1].Content != "预算上调了 15%。" {
		t.Errorf("assistant reply = %q", session.Messages[1].Content)
	}
}

// 长学术文档：走 RAG，抽取请求携带编号证据块，问题中的缩写被扩写。
func TestChain_LongAcademicDocRAG(t *testing.T) {
	var sb strings.Builder
	sb.WriteString("摘要：本文研究大规模检索系统的吞吐能力。QPS (每秒查询数) 是核心评估指标。\n\n")
	for i := 1; i <= 12; i++ {
		fmt.Fprintf(&sb, "%d. 实验与分析\n", i)
		sb.WriteString(strings.Repeat("实验结果表明，系统在高负载下保持稳定，参考文献中的方法得到验证。", 110))
		sb.WriteString("\n\n")
	}
	doc := sb.String()
	if len(doc) <= 100000 {
		t.Fatalf("test document too short to force retrieval: %d", len(doc))
	}

	gen := &recordingGenerator{
		respond: func(req *types.GenerationRequest) *types.GenerationResponse {
			return &types.GenerationResponse{Content: "QPS 峰值达到 1200。"}
		},
	}
	h := newTestChain(t, gen, nil)

	resp := h.chain.Process(context.Background(), &Request{
		UserID:       "u-2",
		DocumentID:   "doc-paper",
		DocumentText: doc,
		Query:        "QPS 峰值是多少？",
	})

	if resp.Error != "" {
		t.Fatalf("unexpected error: %s", resp.Error)
	}
	if resp.InteractionType != InteractionRAG {
		t.Fatalf("interaction type = %q, want %q", resp.InteractionType, InteractionRAG)
	}
	if !strings.Contains(resp.Content, "QPS 峰值达到 1200") {
		t.Errorf("content = %q", resp.Content)
	}
	if len(resp.Evidences) == 0 {
		t.Error("response should carry retrieved evidences")
	}

	if gen.calls() != 1 {
		t.Fatalf("backend calls = %d, want 1", gen.calls())
	}
	req := gen.request(0)
	if !strings.Contains(req.Prompt, "[证据 1]") {
		t.Error("extraction prompt must contain numbered evidence blocks")
	}
	// 动态术语表把缩写扩写进抽取问题
	if !strings.Contains(req.Prompt, "QPS (每秒查询数)") {
		t.Errorf("query was not expanded with mined glossary: %q", req.Prompt)
	}

	profile, ok := h.index.Profile("doc-paper")
	if !ok {
		t.Fatal("document index was not built")
	}
	if profile.Type != rag.DocTypeAcademic {
		t.Errorf("document type = %s, want ACADEMIC", profile.Type)
	}
}

// 无文档的纯聊天请求走标准调用。
func TestChain_PlainChatWithoutDocument(t *testing.T) {
	gen := &recordingGenerator{}
	h := newTestChain(t, gen, nil)

	resp := h.chain.Process(context.Background(), &Request{
		UserID: "u-3",
		Query:  "你好",
	})

	if resp.Error != "" {
		t.Fatalf("unexpected error: %s", resp.Error)
	}
	if resp.InteractionType != InteractionChat {
		t.Errorf("interaction type = %q", resp.InteractionType)
	}
	if gen.calls() != 1 {
		t.Errorf("backend calls = %d, want 1", gen.calls())
	}
}

type failingStep struct{ name string }

func (s failingStep) Name() string { return s.name }
func (s failingStep) Execute(ctx context.Context, pc ProcessingContext) (ProcessingContext, error) {
	return pc, errors.New("store unavailable")
}

type panickingStep struct{}

func (panickingStep) Name() string { return "panicking" }
func (panickingStep) Execute(ctx context.Context, pc ProcessingContext) (ProcessingContext, error) {
	panic("nil map write")
}

// 步骤出错或 panic 都降级为道歉回复，绝不向调用方抛出。
func TestChain_FailureYieldsApology(t *testing.T) {
	logger := zap.NewNop()

	for name, step := range map[string]Step{
		"error": failingStep{name: "broken"},
		"panic": panickingStep{},
	} {
		t.Run(name, func(t *testing.T) {
			chain := NewChain([]Step{step}, logger)
			resp := chain.Process(context.Background(), &Request{Query: "hi"})
			if resp == nil {
				t.Fatal("chain must never return nil")
			}
			if resp.Content != apologyMessage {
				t.Errorf("content = %q, want apology", resp.Content)
			}
			if resp.Error == "" {
				t.Error("apology response should flag the error")
			}
		})
	}
}

func TestChain_ProcessAsync(t *testing.T) {
	gen := &recordingGenerator{}
	h := newTestChain(t, gen, nil)

	resp := <-h.chain.ProcessAsync(context.Background(), &Request{Query: "你好"})
	if resp == nil || resp.Error != "" {
		t.Fatalf("async response = %+v", resp)
	}
}

func TestProcessingContext_Immutable(t *testing.T) {
	base := NewProcessingContext(&Request{Query: "q", UserID: "u"})

	modified := base.WithUserMessage("changed").
		WithEvidences([]types.Evidence{{Excerpt: "e"}}).
		WithShouldAudit(true)

	if base.UserMessage != "" || base.ShouldAudit || base.Evidences != nil {
		t.Error("With* methods must not mutate the receiver")
	}
	if modified.UserMessage != "changed" || !modified.ShouldAudit {
		t.Error("With* methods must carry the new values")
	}
}
