package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/BaSui01/docqa/config"
	"github.com/BaSui01/docqa/internal/metrics"
	"github.com/BaSui01/docqa/internal/server"
	"github.com/BaSui01/docqa/llm"
	"github.com/BaSui01/docqa/llm/embedding"
	"github.com/BaSui01/docqa/llm/tokenizer"
	"github.com/BaSui01/docqa/pipeline"
	"github.com/BaSui01/docqa/rag"
)

// 观测器接口的编译期校验
var (
	_ llm.UsageObserver = (*metrics.Collector)(nil)
	_ rag.IndexObserver = (*metrics.Collector)(nil)
)

// =============================================================================
// 🖥️ Server 结构
// =============================================================================

// Server 是 docqa 的主服务器
type Server struct {
	cfg    *config.Config
	logger *zap.Logger

	collector *metrics.Collector
	gateway   *llm.ProviderGateway
	index     *rag.IndexManager
	chain     *pipeline.Chain

	httpManager       *server.Manager
	rateLimiterCancel context.CancelFunc
}

// NewServer 创建新的服务器实例
func NewServer(cfg *config.Config, logger *zap.Logger) *Server {
	return &Server{cfg: cfg, logger: logger}
}

// =============================================================================
// 🚀 启动流程
// =============================================================================

// Start 组装处理链并启动 HTTP 服务
func (s *Server) Start() error {
	s.collector = metrics.NewCollector("docqa", s.logger)

	if err := s.initPipeline(); err != nil {
		return fmt.Errorf("failed to init pipeline: %w", err)
	}

	if err := s.startHTTPServer(); err != nil {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}

	s.logger.Info("server started",
		zap.Int("http_port", s.cfg.Server.HTTPPort),
		zap.Int("backends", len(s.cfg.Backends)),
	)
	return nil
}

// initPipeline 组装从网关到处理链的全部组件
func (s *Server) initPipeline() error {
	// 术语表
	glossary, err := rag.NewGlossary(s.cfg.Glossary, s.logger)
	if err != nil {
		return fmt.Errorf("failed to load glossary: %w", err)
	}

	// 生成后端注册表。每个后端按配置包一层速率限制。
	registry := llm.NewRegistry()
	defaultModel := ""
	for _, bc := range s.cfg.Backends {
		var backend llm.Backend = llm.NewOpenAIBackend(bc)
		if bc.RequestsPerSecond > 0 {
			backend = llm.WithRateLimit(backend, bc.RequestsPerSecond, 1)
		}
		if err := registry.Register(bc.Name, backend); err != nil {
			return fmt.Errorf("failed to register backend %s: %w", bc.Name, err)
		}
		if bc.Name == s.cfg.DefaultBackend {
			defaultModel = bc.Model
		}
	}

	// 网关。分词器按默认后端的模型选择编码。
	tok := tokenizer.NewTiktokenTokenizer(defaultModel)
	s.gateway = llm.NewProviderGateway(s.cfg, registry, tok, s.logger)
	s.gateway.SetObserver(s.collector)

	// 嵌入与索引
	embedder := embedding.NewOpenAIProvider(s.cfg.Embedding)
	s.index, err = rag.NewIndexManager(s.cfg.RAG, embedder, glossary, s.logger)
	if err != nil {
		return fmt.Errorf("failed to create index manager: %w", err)
	}
	s.index.SetObserver(s.collector)

	ragPipe := rag.NewRAGPipeline(s.cfg.RAG, s.gateway, glossary, s.logger)

	// 存储层
	chat := pipeline.NewInMemoryChatStore(s.logger)
	profiles := pipeline.NewInMemoryProfileStore(s.logger)

	s.chain = pipeline.NewChain([]pipeline.Step{
		pipeline.NewValidationStep(chat, s.logger),
		pipeline.NewContextRetrievalStep(s.index, s.cfg.RAG, s.logger),
		pipeline.NewPromptBuildingStep(profiles, glossary, s.logger),
		pipeline.NewExecutionStep(s.gateway, ragPipe, s.index, s.logger),
		pipeline.NewAuditStep(chat, profiles, s.gateway, s.logger),
	}, s.logger)

	return nil
}

// startHTTPServer 挂载路由并启动监听
func (s *Server) startHTTPServer() error {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/ask", s.handleAsk)
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /version", s.handleVersion)
	mux.Handle("GET /metrics", promhttp.Handler())

	ctx, cancel := context.WithCancel(context.Background())
	s.rateLimiterCancel = cancel

	middlewares := []Middleware{
		Recovery(s.logger),
		RequestID(),
		SecurityHeaders(),
		RequestLogger(s.logger),
		MetricsMiddleware(s.collector),
	}
	if s.cfg.Server.RateLimitRPS > 0 {
		middlewares = append(middlewares,
			RateLimiter(ctx, s.cfg.Server.RateLimitRPS, s.cfg.Server.RateLimitBurst, s.logger))
	}

	serverCfg := server.DefaultConfig()
	serverCfg.Addr = fmt.Sprintf(":%d", s.cfg.Server.HTTPPort)
	if s.cfg.Server.ReadTimeout > 0 {
		serverCfg.ReadTimeout = s.cfg.Server.ReadTimeout
	}
	if s.cfg.Server.WriteTimeout > 0 {
		serverCfg.WriteTimeout = s.cfg.Server.WriteTimeout
	}
	if s.cfg.Server.ShutdownTimeout > 0 {
		serverCfg.ShutdownTimeout = s.cfg.Server.ShutdownTimeout
	}

	s.httpManager = server.NewManager(Chain(mux, middlewares...), serverCfg, s.logger)
	return s.httpManager.Start()
}

// =============================================================================
// 🎯 HTTP Handlers
// =============================================================================

func (s *Server) handleAsk(w http.ResponseWriter, r *http.Request) {
	var req pipeline.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error":   "invalid_request",
			"message": "request body must be valid JSON",
		})
		return
	}

	resp := s.chain.Process(r.Context(), &req)

	status := http.StatusOK
	if resp.Error != "" {
		status = http.StatusInternalServerError
	}
	writeJSON(w, status, resp)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"version":    Version,
		"build_time": BuildTime,
		"git_commit": GitCommit,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// =============================================================================
// 🛑 优雅关闭
// =============================================================================

// WaitForShutdown 阻塞直至收到终止信号，然后优雅关闭
func (s *Server) WaitForShutdown() {
	s.httpManager.WaitForShutdown()

	if s.rateLimiterCancel != nil {
		s.rateLimiterCancel()
	}
}
