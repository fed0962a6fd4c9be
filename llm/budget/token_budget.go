// Package budget 提供基于滑动窗口的令牌预算管理。
package budget

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/docqa/types"
)

// BudgetConfig 配置单个后端的令牌预算。
type BudgetConfig struct {
	Backend         string        `json:"backend"`
	TokensPerMinute int           `json:"tokens_per_minute"`
	SafetyMargin    int           `json:"safety_margin"`
	Window          time.Duration `json:"window"`
	AlertThreshold  float64       `json:"alert_threshold"` // 0.0-1.0, alert when usage exceeds this
}

// DefaultBudgetConfig 返回合理的默认值。
func DefaultBudgetConfig(backend string) BudgetConfig {
	return BudgetConfig{
		Backend:         backend,
		TokensPerMinute: 90000,
		SafetyMargin:    2000,
		Window:          time.Minute,
		AlertThreshold:  0.8,
	}
}

// UsageRecord 代表单次请求的令牌消耗记录。
type UsageRecord struct {
	Timestamp time.Time `json:"timestamp"`
	Tokens    int       `json:"tokens"`
	Model     string    `json:"model"`
	RequestID string    `json:"request_id,omitempty"`
}

// BudgetStatus 是当前预算状况。
type BudgetStatus struct {
	Backend     string  `json:"backend"`
	TokensUsed  int64   `json:"tokens_used"`
	Available   int     `json:"available"`
	Utilization float64 `json:"utilization"`
	Records     int     `json:"records"`
}

// Alert 代表预算警报。
type Alert struct {
	Backend   string    `json:"backend"`
	Message   string    `json:"message"`
	Threshold float64   `json:"threshold"`
	Current   float64   `json:"current"`
	Timestamp time.Time `json:"timestamp"`
}

// AlertHandler 处理预算警报。
type AlertHandler func(alert Alert)

// TokenBudgetManager 管理单个后端在滑动时间窗口内的令牌预算。
//
// 窗口是真正滑动的：每条使用记录带有时间戳，
// 超过窗口期的记录在每次查询时惰性清除，
// 不存在固定窗口边界上的计数突然归零。
type TokenBudgetManager struct {
	config        BudgetConfig
	logger        *zap.Logger
	alertHandlers []AlertHandler

	mu      sync.Mutex
	records []UsageRecord
	total   int64 // 窗口内令牌总量的运行和，与 records 同步维护

	alerted bool

	// 可注入时钟，便于测试
	now func() time.Time
}

// NewTokenBudgetManager 创建新的令牌预算管理器。
func NewTokenBudgetManager(config BudgetConfig, logger *zap.Logger) *TokenBudgetManager {
	if config.TokensPerMinute <= 0 {
		config.TokensPerMinute = 90000
	}
	if config.SafetyMargin < 0 {
		config.SafetyMargin = 0
	}
	if config.Window <= 0 {
		config.Window = time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &TokenBudgetManager{
		config: config,
		logger: logger,
		now:    time.Now,
	}
}

// OnAlert 登记一个警报处理器。
func (m *TokenBudgetManager) OnAlert(handler AlertHandler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.alertHandlers = append(m.alertHandlers, handler)
}

// CanConsume 检查预计消耗是否在预算范围内。
// 超出预算时返回 *types.BudgetError。
func (m *TokenBudgetManager) CanConsume(estimatedTokens int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.purgeLocked()

	available := m.availableLocked()
	if estimatedTokens > available {
		m.logger.Warn("token budget exceeded",
			zap.String("backend", m.config.Backend),
			zap.Int("requested", estimatedTokens),
			zap.Int("remaining", available))
		return &types.BudgetError{
			Provider:  m.config.Backend,
			Requested: estimatedTokens,
			Remaining: available,
		}
	}

	return nil
}

// RecordUsage 记录实际消耗的令牌数。
func (m *TokenBudgetManager) RecordUsage(record UsageRecord) {
	if record.Tokens <= 0 {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if record.Timestamp.IsZero() {
		record.Timestamp = m.now()
	}

	m.purgeLocked()
	m.records = append(m.records, record)
	m.total += int64(record.Tokens)

	m.checkAlertLocked()

	m.logger.Debug("usage recorded",
		zap.String("backend", m.config.Backend),
		zap.Int("tokens", record.Tokens),
		zap.String("model", record.Model))
}

// GetAvailableBudget 返回窗口内当前可用的令牌数。
// 计算公式：max(0, (limit - safetyMargin) - 窗口内消耗)。
func (m *TokenBudgetManager) GetAvailableBudget() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.purgeLocked()
	return m.availableLocked()
}

// GetStatus 返回当前预算状况。
func (m *TokenBudgetManager) GetStatus() BudgetStatus {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.purgeLocked()

	effective := m.config.TokensPerMinute - m.config.SafetyMargin
	util := 0.0
	if effective > 0 {
		util = float64(m.total) / float64(effective)
	}

	return BudgetStatus{
		Backend:     m.config.Backend,
		TokensUsed:  m.total,
		Available:   m.availableLocked(),
		Utilization: util,
		Records:     len(m.records),
	}
}

// Reset 清空所有使用记录（用于测试）。
func (m *TokenBudgetManager) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.records = nil
	m.total = 0
	m.alerted = false
}

// purgeLocked 惰性清除窗口外的过期记录。
// records 按时间戳递增排列，从最旧一端向前扫描即可。
func (m *TokenBudgetManager) purgeLocked() {
	cutoff := m.now().Add(-m.config.Window)

	i := 0
	for i < len(m.records) && !m.records[i].Timestamp.After(cutoff) {
		m.total -= int64(m.records[i].Tokens)
		i++
	}
	if i > 0 {
		m.records = append(m.records[:0], m.records[i:]...)
		if len(m.records) == 0 {
			m.alerted = false
		}
	}
}

func (m *TokenBudgetManager) availableLocked() int {
	effective := int64(m.config.TokensPerMinute - m.config.SafetyMargin)
	remaining := effective - m.total
	if remaining < 0 {
		return 0
	}
	return int(remaining)
}

func (m *TokenBudgetManager) checkAlertLocked() {
	if m.config.AlertThreshold <= 0 || m.alerted {
		return
	}

	effective := m.config.TokensPerMinute - m.config.SafetyMargin
	if effective <= 0 {
		return
	}

	util := float64(m.total) / float64(effective)
	if util < m.config.AlertThreshold {
		return
	}

	m.alerted = true
	alert := Alert{
		Backend:   m.config.Backend,
		Message:   "token usage threshold exceeded",
		Threshold: m.config.AlertThreshold,
		Current:   util,
		Timestamp: m.now(),
	}

	m.logger.Warn("budget alert",
		zap.String("backend", alert.Backend),
		zap.Float64("threshold", alert.Threshold),
		zap.Float64("current", alert.Current))

	for _, handler := range m.alertHandlers {
		go handler(alert)
	}
}
