package circuitbreaker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// State 熔断器状态
type State int

const (
	// StateClosed 关闭状态（正常工作）
	StateClosed State = iota
	// StateOpen 打开状态（熔断中）
	StateOpen
	// StateHalfOpen 半开状态（试探性恢复）
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "Closed"
	case StateOpen:
		return "Open"
	case StateHalfOpen:
		return "HalfOpen"
	default:
		return "Unknown"
	}
}

// Config 熔断器配置
type Config struct {
	// FailureRateThreshold 滑动窗口内失败率阈值（0-1，触发熔断）
	FailureRateThreshold float64

	// WindowSize 滑动窗口内统计的调用次数
	WindowSize int

	// MinCalls 窗口内最少调用数，低于该值不评估失败率
	MinCalls int

	// Timeout 单次调用超时时间
	Timeout time.Duration

	// ResetTimeout 熔断恢复等待时间（从 Open -> HalfOpen）
	ResetTimeout time.Duration

	// HalfOpenMaxCalls 半开状态下允许的最大请求数
	HalfOpenMaxCalls int

	// OnStateChange 状态变更回调
	OnStateChange func(from State, to State)
}

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		FailureRateThreshold: 0.5,
		WindowSize:           20,
		MinCalls:             5,
		Timeout:              30 * time.Second,
		ResetTimeout:         60 * time.Second,
		HalfOpenMaxCalls:     3,
	}
}

// CircuitBreaker 熔断器接口
type CircuitBreaker interface {
	// Call 执行调用，如果熔断器打开则返回错误
	Call(ctx context.Context, fn func() error) error

	// State 获取当前状态
	State() State

	// Reset 重置熔断器（手动恢复）
	Reset()
}

// breaker 熔断器实现
type breaker struct {
	config *Config
	logger *zap.Logger

	mu                sync.RWMutex
	state             State
	outcomes          []bool // 滑动窗口：最近调用结果，true=失败
	next              int    // 环形写入位置
	filled            int    // 窗口已填充数量
	lastFailureTime   time.Time
	halfOpenCallCount int
}

// NewCircuitBreaker 创建熔断器
func NewCircuitBreaker(config *Config, logger *zap.Logger) CircuitBreaker {
	if config == nil {
		config = DefaultConfig()
	}

	// 参数校验
	if config.FailureRateThreshold <= 0 || config.FailureRateThreshold > 1 {
		config.FailureRateThreshold = 0.5
	}
	if config.WindowSize <= 0 {
		config.WindowSize = 20
	}
	if config.MinCalls <= 0 {
		config.MinCalls = 5
	}
	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}
	if config.ResetTimeout <= 0 {
		config.ResetTimeout = 60 * time.Second
	}
	if config.HalfOpenMaxCalls <= 0 {
		config.HalfOpenMaxCalls = 3
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &breaker{
		config:   config,
		logger:   logger,
		state:    StateClosed,
		outcomes: make([]bool, config.WindowSize),
	}
}

// Call 实现 CircuitBreaker.Call
// 核心逻辑：状态机转换 + 滑动窗口失败率 + 超时控制
func (b *breaker) Call(ctx context.Context, fn func() error) error {
	if err := b.beforeCall(); err != nil {
		return err
	}

	callCtx, cancel := context.WithTimeout(ctx, b.config.Timeout)
	defer cancel()

	resultCh := make(chan error, 1)
	go func() {
		resultCh <- fn()
	}()

	select {
	case <-callCtx.Done():
		// 超时按失败处理，喂给失败率统计
		b.afterCall(false)
		return fmt.Errorf("call timed out after %s: %w", b.config.Timeout, callCtx.Err())

	case err := <-resultCh:
		b.afterCall(err == nil)
		return err
	}
}

// beforeCall 调用前检查
func (b *breaker) beforeCall() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return nil

	case StateOpen:
		// 冷却结束后进入半开状态
		if time.Since(b.lastFailureTime) > b.config.ResetTimeout {
			b.setState(StateHalfOpen)
			b.halfOpenCallCount = 0
			b.logger.Info("circuit breaker entering half-open state")
			return nil
		}
		return ErrCircuitOpen

	case StateHalfOpen:
		if b.halfOpenCallCount >= b.config.HalfOpenMaxCalls {
			return ErrTooManyCallsInHalfOpen
		}
		b.halfOpenCallCount++
		return nil

	default:
		return fmt.Errorf("unknown circuit breaker state: %v", b.state)
	}
}

// afterCall 调用后处理
func (b *breaker) afterCall(success bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.record(!success)

	if success {
		b.onSuccess()
	} else {
		b.onFailure()
	}
}

// record 写入滑动窗口
func (b *breaker) record(failed bool) {
	b.outcomes[b.next] = failed
	b.next = (b.next + 1) % len(b.outcomes)
	if b.filled < len(b.outcomes) {
		b.filled++
	}
}

// failureRate 计算窗口内失败率
func (b *breaker) failureRate() float64 {
	if b.filled == 0 {
		return 0
	}
	failures := 0
	for i := 0; i < b.filled; i++ {
		if b.outcomes[i] {
			failures++
		}
	}
	return float64(failures) / float64(b.filled)
}

// onSuccess 处理成功调用
func (b *breaker) onSuccess() {
	switch b.state {
	case StateClosed:
		// 正常状态无需处理，窗口已更新

	case StateHalfOpen:
		b.logger.Info("circuit breaker recovered",
			zap.Int("half_open_calls", b.halfOpenCallCount),
		)
		b.setState(StateClosed)
		b.resetWindow()
		b.halfOpenCallCount = 0

	case StateOpen:
		b.logger.Warn("circuit breaker got success while open")
	}
}

// onFailure 处理失败调用
func (b *breaker) onFailure() {
	b.lastFailureTime = time.Now()

	switch b.state {
	case StateClosed:
		rate := b.failureRate()
		if b.filled >= b.config.MinCalls && rate >= b.config.FailureRateThreshold {
			b.logger.Warn("circuit breaker opened",
				zap.Float64("failure_rate", rate),
				zap.Float64("threshold", b.config.FailureRateThreshold),
				zap.Int("window", b.filled),
			)
			b.setState(StateOpen)
		}

	case StateHalfOpen:
		// 半开状态失败立即重新熔断
		b.logger.Warn("circuit breaker failed in half-open, reopening",
			zap.Int("half_open_calls", b.halfOpenCallCount),
		)
		b.setState(StateOpen)
		b.halfOpenCallCount = 0

	case StateOpen:
		b.logger.Warn("circuit breaker got failure while open")
	}
}

// resetWindow 清空滑动窗口
func (b *breaker) resetWindow() {
	for i := range b.outcomes {
		b.outcomes[i] = false
	}
	b.next = 0
	b.filled = 0
}

// setState 设置状态并触发回调
func (b *breaker) setState(newState State) {
	oldState := b.state
	b.state = newState

	if b.config.OnStateChange != nil {
		go b.config.OnStateChange(oldState, newState)
	}
}

// State 实现 CircuitBreaker.State
func (b *breaker) State() State {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.state
}

// Reset 实现 CircuitBreaker.Reset
func (b *breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()

	oldState := b.state
	b.state = StateClosed
	b.resetWindow()
	b.halfOpenCallCount = 0

	b.logger.Info("circuit breaker reset",
		zap.String("from_state", oldState.String()),
	)

	if b.config.OnStateChange != nil {
		go b.config.OnStateChange(oldState, StateClosed)
	}
}

// 错误定义
var (
	ErrCircuitOpen            = errors.New("circuit breaker is open")
	ErrTooManyCallsInHalfOpen = errors.New("too many calls in half-open state")
)
