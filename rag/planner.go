package rag

// ChunkingConfig 分块配置，由文档画像确定性推导。
type ChunkingConfig struct {
	ChunkSize int    `json:"chunk_size"`
	Overlap   int    `json:"overlap"`
	Label     string `json:"label"`
}

// PlanChunking 按文档类型查表得到分块参数。
// 学术文献块更大以保留论证上下文，高复杂度时进一步加大。
func PlanChunking(profile *DocumentProfile) ChunkingConfig {
	switch profile.Type {
	case DocTypeAcademic:
		size := 1200
		if profile.Complexity == ComplexityHigh {
			size = 1400
		}
		return ChunkingConfig{ChunkSize: size, Overlap: 250, Label: "academic"}
	case DocTypeTechnical:
		return ChunkingConfig{ChunkSize: 1000, Overlap: 200, Label: "technical"}
	case DocTypeStructured:
		return ChunkingConfig{ChunkSize: 1200, Overlap: 220, Label: "structured"}
	default:
		return ChunkingConfig{ChunkSize: 800, Overlap: 150, Label: "simple"}
	}
}
