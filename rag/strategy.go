package rag

// Strategy 文档处理策略
type Strategy string

const (
	StrategyOneShot   Strategy = "ONE_SHOT"   // 全文一次送入
	StrategyMapReduce Strategy = "MAP_REDUCE" // 分块摘要后合并
	StrategyRAG       Strategy = "RAG"        // 检索后作答
)

const (
	oneShotMaxLength  = 10000
	ragForcedLength   = 100000
	ragPreferLength   = 50000
	maxMapReduceParts = 15
)

// DecideStrategy 按文档长度选择处理策略。长度的纯函数。
// 大文档走 RAG，避免用大量分块调用淹没小预算后端。
func DecideStrategy(length int) Strategy {
	if length <= oneShotMaxLength {
		return StrategyOneShot
	}
	if length > ragForcedLength {
		return StrategyRAG
	}

	// 估算 map-reduce 需要的分块数：每 10k 字符约 4 块
	estimatedChunks := length / 10000 * 4
	if length >= ragPreferLength || estimatedChunks > maxMapReduceParts {
		return StrategyRAG
	}
	return StrategyMapReduce
}
