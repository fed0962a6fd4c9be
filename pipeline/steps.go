package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/BaSui01/docqa/config"
	"github.com/BaSui01/docqa/rag"
	"github.com/BaSui01/docqa/types"
)

// Step 处理链中的一步：消费一个上下文，产出一个新上下文。
type Step interface {
	Name() string
	Execute(ctx context.Context, pc ProcessingContext) (ProcessingContext, error)
}

const (
	// 会话 ID 的合理性上限，超长视为非法
	maxSessionIDLength = 128
	// 空消息占位符
	emptyMessagePlaceholder = "[空消息]"
	// map-reduce 的分块大小（字符）
	mapReduceChunkSize = 10000
	// map 阶段的并发上限
	mapReduceParallelism = 4
	// 画像后台更新前的预分析延迟
	profileUpdateDelay = 2 * time.Second
)

// interactionType 取值
const (
	InteractionChat      = "chat"
	InteractionRAG       = "rag"
	InteractionMapReduce = "map_reduce"
)

// ============================================================
// 1. Validation — 会话解析与消息落库
// ============================================================

type ValidationStep struct {
	chat   ChatStore
	logger *zap.Logger
}

func NewValidationStep(chat ChatStore, logger *zap.Logger) *ValidationStep {
	return &ValidationStep{chat: chat, logger: logger}
}

func (s *ValidationStep) Name() string { return "validation" }

func (s *ValidationStep) Execute(ctx context.Context, pc ProcessingContext) (ProcessingContext, error) {
	req := pc.Request

	var session *types.Session
	switch {
	case req.SessionID == "" || len(req.SessionID) > maxSessionIDLength:
		session = s.emergencySession(ctx, req)
	default:
		if found, ok := s.chat.FindSession(ctx, req.SessionID); ok {
			session = found
		} else {
			s.logger.Warn("session not found, creating emergency session",
				zap.String("session_id", req.SessionID))
			session = s.emergencySession(ctx, req)
		}
	}

	// 用户消息立即落库，空消息用占位符兜底
	userMessage := strings.TrimSpace(req.Query)
	if userMessage == "" {
		userMessage = emptyMessagePlaceholder
	}
	if err := s.chat.AppendMessage(ctx, session.ID, types.NewUserMessage(userMessage)); err != nil {
		return pc, fmt.Errorf("failed to persist user message: %w", err)
	}

	// 会话缺文档绑定而请求带了文档时就地修正
	if session.DocumentID == "" && req.DocumentID != "" {
		session.DocumentID = req.DocumentID
		if err := s.chat.BindDocument(ctx, session.ID, req.DocumentID); err != nil {
			return pc, fmt.Errorf("failed to bind document: %w", err)
		}
	}

	return pc.WithSession(session).WithUserMessage(userMessage), nil
}

func (s *ValidationStep) emergencySession(ctx context.Context, req *Request) *types.Session {
	session := &types.Session{
		ID:         uuid.NewString(),
		UserID:     req.UserID,
		TenantID:   req.TenantID,
		DocumentID: req.DocumentID,
		Title:      types.DefaultSessionTitle,
		CreatedAt:  time.Now(),
	}
	if err := s.chat.SaveSession(ctx, session); err != nil {
		s.logger.Error("failed to save emergency session", zap.Error(err))
	}
	return session
}

// ============================================================
// 2. ContextRetrieval — 策略路由与证据检索
// ============================================================

type ContextRetrievalStep struct {
	index  *rag.IndexManager
	cfg    config.RAGConfig
	logger *zap.Logger
}

func NewContextRetrievalStep(index *rag.IndexManager, cfg config.RAGConfig, logger *zap.Logger) *ContextRetrievalStep {
	return &ContextRetrievalStep{index: index, cfg: cfg, logger: logger}
}

func (s *ContextRetrievalStep) Name() string { return "context_retrieval" }

func (s *ContextRetrievalStep) Execute(ctx context.Context, pc ProcessingContext) (ProcessingContext, error) {
	if pc.Session == nil || pc.Session.DocumentID == "" {
		return pc, nil
	}
	documentID := pc.Session.DocumentID

	// 策略由文档长度决定；只有 RAG 策略的文档才建索引
	strategy := rag.StrategyOneShot
	if pc.Request.DocumentText != "" {
		strategy = rag.DecideStrategy(len(pc.Request.DocumentText))
		if strategy == rag.StrategyRAG {
			if _, err := s.index.GetOrCreateVectorStore(ctx, documentID, pc.Request.DocumentText); err != nil {
				return pc, fmt.Errorf("failed to build document index: %w", err)
			}
		}
	} else if profile, ok := s.index.Profile(documentID); ok {
		strategy = rag.DecideStrategy(profile.Length)
	} else {
		// 无原文也无索引：按纯聊天处理
		return pc, nil
	}

	profile, _ := s.index.Profile(documentID)
	expanded := rag.ExpandQueryWithDynamicTerms(pc.UserMessage, profile)
	pc = pc.WithExpandedQuery(expanded).WithStrategy(strategy)

	if strategy != rag.StrategyRAG {
		return pc, nil
	}

	evidences, err := s.index.FindRelevantSegments(ctx, documentID, expanded, s.cfg.TopK, s.cfg.MinScore)
	if err != nil {
		return pc, fmt.Errorf("evidence retrieval failed: %w", err)
	}

	s.logger.Debug("evidence retrieved",
		zap.String("document_id", documentID),
		zap.Int("count", len(evidences)))

	return pc.WithEvidences(evidences).WithShouldAudit(true), nil
}

// ============================================================
// 3. PromptBuilding — 系统提示词组装
// ============================================================

type PromptBuildingStep struct {
	profiles ProfileStore
	glossary *rag.Glossary
	logger   *zap.Logger
}

func NewPromptBuildingStep(profiles ProfileStore, glossary *rag.Glossary, logger *zap.Logger) *PromptBuildingStep {
	return &PromptBuildingStep{profiles: profiles, glossary: glossary, logger: logger}
}

func (s *PromptBuildingStep) Name() string { return "prompt_building" }

func (s *PromptBuildingStep) Execute(ctx context.Context, pc ProcessingContext) (ProcessingContext, error) {
	var sb strings.Builder
	sb.WriteString("你是一个严谨的文档问答助手，回答要准确、简洁。")

	if s.profiles != nil && pc.UserID != "" {
		if profile, ok := s.profiles.GetProfile(ctx, pc.UserID); ok && profile.Summary != "" {
			sb.WriteString("\n\n用户背景：")
			sb.WriteString(profile.Summary)
		}
	}

	if s.glossary != nil {
		if terms := s.glossary.MatchingEntries(pc.UserMessage, rag.DocTypeSimple); len(terms) > 0 {
			sb.WriteString("\n\n术语说明：")
			for k, v := range terms {
				sb.WriteString("\n- " + k + ": " + v)
			}
		}
	}

	// ONE_SHOT：全文直接进入提示词
	if pc.Strategy == rag.StrategyOneShot && pc.Request.DocumentText != "" {
		sb.WriteString("\n\n请依据以下文档内容回答问题。\n\n文档内容：\n")
		sb.WriteString(pc.Request.DocumentText)
	}

	if pc.Request.SystemOverride != "" {
		sb.WriteString("\n\n")
		sb.WriteString(pc.Request.SystemOverride)
	}

	return pc.WithSystemPrompt(sb.String()), nil
}

// ============================================================
// 4. Execution — RAG 或标准调用
// ============================================================

type ExecutionStep struct {
	gateway rag.Generator
	ragPipe *rag.RAGPipeline
	index   *rag.IndexManager
	logger  *zap.Logger
}

func NewExecutionStep(gateway rag.Generator, ragPipe *rag.RAGPipeline, index *rag.IndexManager, logger *zap.Logger) *ExecutionStep {
	return &ExecutionStep{gateway: gateway, ragPipe: ragPipe, index: index, logger: logger}
}

func (s *ExecutionStep) Name() string { return "execution" }

func (s *ExecutionStep) Execute(ctx context.Context, pc ProcessingContext) (ProcessingContext, error) {
	// 检索落空时退回标准调用，不能让用户空手而归
	if pc.ShouldAudit && len(pc.Evidences) > 0 {
		return s.executeRAG(ctx, pc)
	}
	if pc.Strategy == rag.StrategyMapReduce && pc.Request.DocumentText != "" {
		return s.executeMapReduce(ctx, pc)
	}
	return s.executeStandard(ctx, pc)
}

func (s *ExecutionStep) executeRAG(ctx context.Context, pc ProcessingContext) (ProcessingContext, error) {
	documentID := pc.Session.DocumentID
	profile, _ := s.index.Profile(documentID)

	answer, err := s.ragPipe.ProcessWithRAG(ctx, documentID, pc.ExpandedQuery, pc.Request.PreferredBackend, pc.Evidences, profile)
	if err != nil {
		return pc, err
	}

	return pc.WithResponse(&types.GenerationResponse{
		Content:         rag.MarshalAnswer(answer),
		Evidences:       pc.Evidences,
		InteractionType: InteractionRAG,
	}), nil
}

func (s *ExecutionStep) executeStandard(ctx context.Context, pc ProcessingContext) (ProcessingContext, error) {
	resp := s.gateway.Generate(ctx, &types.GenerationRequest{
		Prompt:            pc.UserMessage,
		SystemMessage:     pc.FinalSystemPrompt,
		PreferredProvider: pc.Request.PreferredBackend,
	})
	resp.InteractionType = InteractionChat
	return pc.WithResponse(resp), nil
}

// executeMapReduce 分块摘要后合并作答。
// map 阶段并发摘要各分块，reduce 阶段基于全部摘要回答问题。
func (s *ExecutionStep) executeMapReduce(ctx context.Context, pc ProcessingContext) (ProcessingContext, error) {
	chunks := splitFixed(pc.Request.DocumentText, mapReduceChunkSize)
	summaries := make([]string, len(chunks))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(mapReduceParallelism)
	for i, chunk := range chunks {
		i, chunk := i, chunk
		g.Go(func() error {
			resp := s.gateway.Generate(gctx, &types.GenerationRequest{
				Prompt:            "请为以下文档片段写一段忠实的摘要：\n\n" + chunk,
				SystemMessage:     "你是文档摘要助手。",
				Temperature:       0.3,
				PreferredProvider: pc.Request.PreferredBackend,
			})
			if resp.Error != "" {
				return types.NewError(types.ErrProviderUnavailable, resp.Error)
			}
			summaries[i] = resp.Content
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return pc, fmt.Errorf("map phase failed: %w", err)
	}

	var sb strings.Builder
	for i, summary := range summaries {
		sb.WriteString(fmt.Sprintf("[片段 %d 摘要]\n%s\n\n", i+1, summary))
	}
	sb.WriteString("问题：")
	sb.WriteString(pc.UserMessage)

	resp := s.gateway.Generate(ctx, &types.GenerationRequest{
		Prompt:            sb.String(),
		SystemMessage:     pc.FinalSystemPrompt,
		PreferredProvider: pc.Request.PreferredBackend,
	})
	resp.InteractionType = InteractionMapReduce
	return pc.WithResponse(resp), nil
}

func splitFixed(text string, size int) []string {
	runes := []rune(text)
	var out []string
	for start := 0; start < len(runes); start += size {
		end := start + size
		if end > len(runes) {
			end = len(runes)
		}
		out = append(out, string(runes[start:end]))
	}
	return out
}

// ============================================================
// 5. Audit — 回复落库、画像更新、标题生成
// ============================================================

type AuditStep struct {
	chat     ChatStore
	profiles ProfileStore
	gateway  rag.Generator
	logger   *zap.Logger

	// 可调的后台延迟，测试中设为 0
	profileDelay time.Duration
}

func NewAuditStep(chat ChatStore, profiles ProfileStore, gateway rag.Generator, logger *zap.Logger) *AuditStep {
	return &AuditStep{
		chat:         chat,
		profiles:     profiles,
		gateway:      gateway,
		logger:       logger,
		profileDelay: profileUpdateDelay,
	}
}

func (s *AuditStep) Name() string { return "audit" }

func (s *AuditStep) Execute(ctx context.Context, pc ProcessingContext) (ProcessingContext, error) {
	if pc.Response == nil || pc.Session == nil {
		return pc, nil
	}

	if pc.Response.Content != "" {
		if err := s.chat.AppendMessage(ctx, pc.Session.ID, types.NewAssistantMessage(pc.Response.Content)); err != nil {
			s.logger.Error("failed to persist assistant reply", zap.Error(err))
		}
	}

	// 画像更新在后台执行，先等一段预分析延迟
	if s.profiles != nil && pc.UserID != "" {
		userID, userMsg, reply := pc.UserID, pc.UserMessage, pc.Response.Content
		go func() {
			time.Sleep(s.profileDelay)
			s.profiles.UpdateFromExchange(context.Background(), userID, userMsg, reply)
		}()
	}

	// 标题仍是默认占位时触发后台生成，尽力而为
	if pc.Session.Title == types.DefaultSessionTitle && s.gateway != nil {
		sessionID, question := pc.Session.ID, pc.UserMessage
		go s.generateTitle(sessionID, question)
	}

	stamped := *pc.Response
	stamped.SessionID = pc.Session.ID
	if stamped.InteractionType == "" {
		stamped.InteractionType = InteractionChat
	}
	return pc.WithResponse(&stamped), nil
}

// generateTitle 请求模型给会话起标题。
// 模型输出要求为 {"title": "..."}，解析失败时退回问题前缀，
// 绝不让坏输出向上传播。
func (s *AuditStep) generateTitle(sessionID, question string) {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	resp := s.gateway.Generate(ctx, &types.GenerationRequest{
		Prompt:        "为下面的对话起一个不超过 12 个字的标题，输出 JSON：{\"title\": \"...\"}\n\n" + question,
		SystemMessage: "你只输出 JSON，不要任何其他内容。",
		Temperature:   0.5,
		MaxTokens:     60,
	})
	if resp.Error != "" {
		s.logger.Debug("title generation skipped", zap.String("reason", resp.Error))
		return
	}

	title := parseTitle(resp.Content)
	if title == "" {
		title = fallbackTitle(question)
	}
	if title == "" {
		return
	}

	if err := s.chat.SetTitle(ctx, sessionID, title); err != nil {
		s.logger.Debug("failed to set session title", zap.Error(err))
	}
}

func parseTitle(content string) string {
	content = strings.TrimSpace(content)
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(content, "```")

	var parsed struct {
		Title string `json:"title"`
	}
	if err := json.Unmarshal([]byte(strings.TrimSpace(content)), &parsed); err != nil {
		return ""
	}
	return strings.TrimSpace(parsed.Title)
}

func fallbackTitle(question string) string {
	question = strings.TrimSpace(question)
	runes := []rune(question)
	if len(runes) > 12 {
		return string(runes[:12])
	}
	return question
}
