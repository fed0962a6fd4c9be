package budget

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"pgregory.net/rapid"

	"github.com/BaSui01/docqa/types"
)

// fakeClock 可手动推进的时钟
type fakeClock struct {
	t time.Time
}

func (c *fakeClock) Now() time.Time { return c.t }

func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestManager(limit, margin int) (*TokenBudgetManager, *fakeClock) {
	clock := &fakeClock{t: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	m := NewTokenBudgetManager(BudgetConfig{
		Backend:         "test",
		TokensPerMinute: limit,
		SafetyMargin:    margin,
		Window:          time.Minute,
	}, zap.NewNop())
	m.now = clock.Now
	return m, clock
}

func TestBudget_AvailableReflectsSafetyMargin(t *testing.T) {
	m, _ := newTestManager(10000, 2000)
	assert.Equal(t, 8000, m.GetAvailableBudget())
}

func TestBudget_CanConsumeWithinLimit(t *testing.T) {
	m, _ := newTestManager(10000, 0)

	require.NoError(t, m.CanConsume(5000))

	m.RecordUsage(UsageRecord{Tokens: 5000})
	require.NoError(t, m.CanConsume(5000))
	assert.Equal(t, 5000, m.GetAvailableBudget())
}

func TestBudget_RejectsOverLimit(t *testing.T) {
	m, _ := newTestManager(10000, 2000)

	m.RecordUsage(UsageRecord{Tokens: 7000})

	err := m.CanConsume(2000)
	require.Error(t, err)

	var budgetErr *types.BudgetError
	require.True(t, errors.As(err, &budgetErr))
	assert.Equal(t, "test", budgetErr.Provider)
	assert.Equal(t, 2000, budgetErr.Requested)
	assert.Equal(t, 1000, budgetErr.Remaining)
}

func TestBudget_SlidingWindowExpiry(t *testing.T) {
	m, clock := newTestManager(10000, 0)

	m.RecordUsage(UsageRecord{Tokens: 6000})
	clock.Advance(30 * time.Second)
	m.RecordUsage(UsageRecord{Tokens: 3000})

	assert.Equal(t, 1000, m.GetAvailableBudget())

	// 第一条记录过期，第二条仍在窗口内
	clock.Advance(31 * time.Second)
	assert.Equal(t, 7000, m.GetAvailableBudget())

	// 全部过期
	clock.Advance(31 * time.Second)
	assert.Equal(t, 10000, m.GetAvailableBudget())
}

func TestBudget_NoHardResetAtWindowBoundary(t *testing.T) {
	m, clock := newTestManager(10000, 0)

	// 记录分散在窗口各处，逐条过期而非整体归零
	for i := 0; i < 6; i++ {
		m.RecordUsage(UsageRecord{Tokens: 1000})
		clock.Advance(10 * time.Second)
	}

	// 此刻最早一条已过期（60s 前）
	assert.Equal(t, 5000, m.GetAvailableBudget())

	clock.Advance(10 * time.Second)
	assert.Equal(t, 6000, m.GetAvailableBudget())
}

func TestBudget_IgnoresNonPositiveTokens(t *testing.T) {
	m, _ := newTestManager(10000, 0)

	m.RecordUsage(UsageRecord{Tokens: 0})
	m.RecordUsage(UsageRecord{Tokens: -5})

	assert.Equal(t, 10000, m.GetAvailableBudget())
	assert.Equal(t, 0, m.GetStatus().Records)
}

func TestBudget_Reset(t *testing.T) {
	m, _ := newTestManager(10000, 0)

	m.RecordUsage(UsageRecord{Tokens: 9000})
	m.Reset()

	assert.Equal(t, 10000, m.GetAvailableBudget())
}

// 属性：任意使用序列之后，可用预算恒等于
// max(0, (limit - margin) - 窗口内记录的令牌总和)。
func TestBudget_AvailableInvariant(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		limit := rapid.IntRange(1000, 100000).Draw(t, "limit")
		margin := rapid.IntRange(0, 500).Draw(t, "margin")

		m, clock := newTestManager(limit, margin)

		type stamped struct {
			at     time.Time
			tokens int
		}
		var history []stamped

		n := rapid.IntRange(1, 40).Draw(t, "ops")
		for i := 0; i < n; i++ {
			advance := time.Duration(rapid.IntRange(0, 20000).Draw(t, "advance")) * time.Millisecond
			clock.Advance(advance)

			tokens := rapid.IntRange(1, 5000).Draw(t, "tokens")
			m.RecordUsage(UsageRecord{Tokens: tokens})
			history = append(history, stamped{at: clock.Now(), tokens: tokens})
		}

		cutoff := clock.Now().Add(-time.Minute)
		var inWindow int
		for _, h := range history {
			if h.at.After(cutoff) {
				inWindow += h.tokens
			}
		}

		want := limit - margin - inWindow
		if want < 0 {
			want = 0
		}

		if got := m.GetAvailableBudget(); got != want {
			t.Fatalf("available = %d, want %d (in-window usage %d)", got, want, inWindow)
		}
	})
}

func TestBudget_AlertFiresOnce(t *testing.T) {
	clock := &fakeClock{t: time.Now()}
	m := NewTokenBudgetManager(BudgetConfig{
		Backend:         "test",
		TokensPerMinute: 10000,
		SafetyMargin:    0,
		Window:          time.Minute,
		AlertThreshold:  0.8,
	}, zap.NewNop())
	m.now = clock.Now

	fired := make(chan Alert, 4)
	m.OnAlert(func(a Alert) { fired <- a })

	m.RecordUsage(UsageRecord{Tokens: 8500})
	m.RecordUsage(UsageRecord{Tokens: 500})

	select {
	case a := <-fired:
		assert.Equal(t, "test", a.Backend)
		assert.GreaterOrEqual(t, a.Current, 0.8)
	case <-time.After(time.Second):
		t.Fatal("expected alert to fire")
	}

	select {
	case <-fired:
		t.Fatal("alert should fire only once per window")
	case <-time.After(50 * time.Millisecond):
	}
}
