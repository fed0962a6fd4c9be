package rag

import (
	"testing"

	"pgregory.net/rapid"
)

func TestDecideStrategy(t *testing.T) {
	tests := []struct {
		length int
		want   Strategy
	}{
		{0, StrategyOneShot},
		{5000, StrategyOneShot},
		{10000, StrategyOneShot},
		{10001, StrategyMapReduce}, // 4 块，远低于上限
		{30000, StrategyMapReduce}, // 12 块
		{40000, StrategyRAG},       // 16 块超过上限
		{50000, StrategyRAG},
		{60000, StrategyRAG},
		{100001, StrategyRAG},
		{150000, StrategyRAG},
	}

	for _, tt := range tests {
		if got := DecideStrategy(tt.length); got != tt.want {
			t.Errorf("DecideStrategy(%d) = %s, want %s", tt.length, got, tt.want)
		}
	}
}

// 属性：策略只依赖长度，结果确定且总落在三个取值之内。
func TestDecideStrategy_Deterministic(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		length := rapid.IntRange(0, 2000000).Draw(t, "length")

		first := DecideStrategy(length)
		for i := 0; i < 3; i++ {
			if got := DecideStrategy(length); got != first {
				t.Fatalf("DecideStrategy(%d) not deterministic: %s vs %s", length, first, got)
			}
		}

		switch first {
		case StrategyOneShot, StrategyMapReduce, StrategyRAG:
		default:
			t.Fatalf("unexpected strategy %q", first)
		}

		if length <= oneShotMaxLength && first != StrategyOneShot {
			t.Fatalf("short document %d must be ONE_SHOT, got %s", length, first)
		}
		if length > ragForcedLength && first != StrategyRAG {
			t.Fatalf("huge document %d must be RAG, got %s", length, first)
		}
	})
}
