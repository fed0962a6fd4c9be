package llm

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/BaSui01/docqa/config"
	"github.com/BaSui01/docqa/llm/budget"
	"github.com/BaSui01/docqa/llm/circuitbreaker"
	"github.com/BaSui01/docqa/llm/retry"
	"github.com/BaSui01/docqa/llm/tokenizer"
	"github.com/BaSui01/docqa/types"
)

// UnavailableMessage 所有后端不可用时返回给用户的降级文案。
const UnavailableMessage = "服务暂时不可用，请稍后重试。"

// 预算估算时为补全部分预留的令牌数（请求未指定 MaxTokens 时）
const defaultCompletionReserve = 1024

// UsageObserver 接收网关的调用与令牌观测数据。
type UsageObserver interface {
	ObserveBackendCall(backend string, outcome string)
	ObserveTokens(backend string, tokens int)
}

// ProviderGateway 是所有生成调用的唯一入口。
//
// 每个后端独立持有一套弹性组件：令牌预算、熔断器、重试器、
// 速率限制（在注册时以装饰器包裹）。调用失败时最多降级一层
// 到配置的备用后端；全部失败时返回降级响应而不是错误——
// 上层永远拿到一个可展示的结果。
type ProviderGateway struct {
	registry  *Registry
	cfg       *config.Config
	budgets   map[string]*budget.TokenBudgetManager
	breakers  map[string]circuitbreaker.CircuitBreaker
	retryers  map[string]retry.Retryer
	tokenizer tokenizer.Tokenizer
	observer  UsageObserver
	logger    *zap.Logger
}

// NewProviderGateway 根据配置为每个已注册后端装配弹性组件。
func NewProviderGateway(cfg *config.Config, registry *Registry, tok tokenizer.Tokenizer, logger *zap.Logger) *ProviderGateway {
	if logger == nil {
		logger = zap.NewNop()
	}

	g := &ProviderGateway{
		registry:  registry,
		cfg:       cfg,
		budgets:   make(map[string]*budget.TokenBudgetManager),
		breakers:  make(map[string]circuitbreaker.CircuitBreaker),
		retryers:  make(map[string]retry.Retryer),
		tokenizer: tok,
		logger:    logger,
	}

	for _, bc := range cfg.Backends {
		if !registry.Has(bc.Name) {
			logger.Warn("backend configured but not registered", zap.String("backend", bc.Name))
			continue
		}

		g.budgets[bc.Name] = budget.NewTokenBudgetManager(budget.BudgetConfig{
			Backend:         bc.Name,
			TokensPerMinute: bc.TokensPerMinute,
			SafetyMargin:    bc.TokenSafetyMargin,
		}, logger.Named("budget"))

		cbConfig := circuitbreaker.DefaultConfig()
		cbConfig.MinCalls = bc.CircuitThreshold
		cbConfig.ResetTimeout = bc.CircuitResetTimeout
		cbConfig.Timeout = bc.Timeout
		g.breakers[bc.Name] = circuitbreaker.NewCircuitBreaker(cbConfig, logger.Named("breaker").With(zap.String("backend", bc.Name)))

		g.retryers[bc.Name] = retry.NewBackoffRetryer(&retry.RetryPolicy{
			MaxRetries:   bc.MaxRetries,
			InitialDelay: bc.RetryBackoff,
			MaxDelay:     bc.RetryBackoff,
			Multiplier:   1.0,
			RetryIf:      isRetryableForGateway,
		}, logger.Named("retry"))
	}

	return g
}

// SetObserver 注入指标观测器（可选）。
func (g *ProviderGateway) SetObserver(o UsageObserver) { g.observer = o }

// BudgetStatus 返回指定后端的预算快照。
func (g *ProviderGateway) BudgetStatus(backend string) (budget.BudgetStatus, bool) {
	b, ok := g.budgets[backend]
	if !ok {
		return budget.BudgetStatus{}, false
	}
	return b.GetStatus(), true
}

// BreakerState 返回指定后端的熔断器状态。
func (g *ProviderGateway) BreakerState(backend string) (circuitbreaker.State, bool) {
	cb, ok := g.breakers[backend]
	if !ok {
		return circuitbreaker.StateClosed, false
	}
	return cb.State(), true
}

// Generate 执行生成调用，失败时最多降级一层到备用后端。
// 返回的响应总是可直接展示：全部后端失败时 Content 为空、
// Error 携带用户可见的降级文案，底层原因只进日志。
func (g *ProviderGateway) Generate(ctx context.Context, req *types.GenerationRequest) *types.GenerationResponse {
	primary := g.resolvePrimary(req)

	result, err := g.callBackend(ctx, primary, req)
	if err == nil {
		return &types.GenerationResponse{
			Content:       result.Content,
			ProviderLabel: primary,
		}
	}

	g.logger.Warn("primary backend failed",
		zap.String("backend", primary),
		zap.Error(err))

	// 仅降级一层：备用后端失败时不再继续递归
	if fallback, ok := g.cfg.Fallbacks[primary]; ok && fallback != primary {
		result, fbErr := g.callBackend(ctx, fallback, req)
		if fbErr == nil {
			g.logger.Info("fallback backend succeeded",
				zap.String("primary", primary),
				zap.String("fallback", fallback))
			return &types.GenerationResponse{
				Content:       result.Content,
				ProviderLabel: fallback,
			}
		}
		g.logger.Error("fallback backend failed",
			zap.String("primary", primary),
			zap.String("fallback", fallback),
			zap.Error(fbErr))
	} else {
		g.logger.Error("no fallback configured", zap.String("backend", primary))
	}

	return &types.GenerationResponse{
		Error: UnavailableMessage,
	}
}

func (g *ProviderGateway) resolvePrimary(req *types.GenerationRequest) string {
	if req.PreferredProvider != "" && g.registry.Has(req.PreferredProvider) {
		return req.PreferredProvider
	}
	return g.cfg.DefaultBackend
}

// callBackend 对单个后端执行一次完整调用：
// 预算检查 → 重试(含退避) → 熔断(含超时) → 实际请求 → 记录用量。
func (g *ProviderGateway) callBackend(ctx context.Context, name string, req *types.GenerationRequest) (*BackendResult, error) {
	backend, err := g.registry.Get(name)
	if err != nil {
		return nil, err
	}

	estimated := g.estimateTokens(req)
	if bm, ok := g.budgets[name]; ok {
		if err := bm.CanConsume(estimated); err != nil {
			g.observe(name, "budget_exceeded")
			return nil, err
		}
	}

	var result *BackendResult
	call := func() error {
		var callErr error
		result, callErr = backend.Generate(ctx, req)
		return callErr
	}

	cb, hasBreaker := g.breakers[name]
	retryer, hasRetryer := g.retryers[name]

	switch {
	case hasRetryer && hasBreaker:
		err = retryer.Do(ctx, func() error {
			return cb.Call(ctx, call)
		})
	case hasBreaker:
		err = cb.Call(ctx, call)
	case hasRetryer:
		err = retryer.Do(ctx, call)
	default:
		err = call()
	}

	if err != nil {
		g.observe(name, "error")
		return nil, fmt.Errorf("backend %s: %w", name, err)
	}

	g.observe(name, "success")
	g.recordUsage(name, req, result)
	return result, nil
}

// estimateTokens 估算本次调用的总令牌消耗（提示词 + 补全预留）。
func (g *ProviderGateway) estimateTokens(req *types.GenerationRequest) int {
	prompt := tokenizer.EstimateTokens(g.tokenizer, req.SystemMessage+req.Prompt)

	reserve := req.MaxTokens
	if reserve <= 0 {
		reserve = defaultCompletionReserve
	}
	return prompt + reserve
}

func (g *ProviderGateway) recordUsage(name string, req *types.GenerationRequest, result *BackendResult) {
	bm, ok := g.budgets[name]
	if !ok {
		return
	}

	tokens := result.Usage.TotalTokens
	if tokens <= 0 {
		// 后端未报告用量时回退到本地估算
		tokens = tokenizer.EstimateTokens(g.tokenizer, req.SystemMessage+req.Prompt+result.Content)
	}

	bm.RecordUsage(budget.UsageRecord{
		Tokens: tokens,
		Model:  result.Model,
	})
	if g.observer != nil {
		g.observer.ObserveTokens(name, tokens)
	}
}

func (g *ProviderGateway) observe(backend, outcome string) {
	if g.observer != nil {
		g.observer.ObserveBackendCall(backend, outcome)
	}
}

// isRetryableForGateway 判定网关层面错误是否值得重试。
// 熔断打开、预算超限和明确不可重试的上游错误直接放弃。
func isRetryableForGateway(err error) bool {
	if errors.Is(err, circuitbreaker.ErrCircuitOpen) ||
		errors.Is(err, circuitbreaker.ErrTooManyCallsInHalfOpen) {
		return false
	}

	var budgetErr *types.BudgetError
	if errors.As(err, &budgetErr) {
		return false
	}

	var typedErr *types.Error
	if errors.As(err, &typedErr) {
		return typedErr.Retryable
	}

	return true
}
