package rag

import "testing"

func TestPlanChunking(t *testing.T) {
	cases := []struct {
		name     string
		profile  DocumentProfile
		wantSize int
		wantOver int
	}{
		{"simple", DocumentProfile{Type: DocTypeSimple}, 800, 150},
		{"technical", DocumentProfile{Type: DocTypeTechnical}, 1000, 200},
		{"structured", DocumentProfile{Type: DocTypeStructured}, 1200, 220},
		{"academic", DocumentProfile{Type: DocTypeAcademic}, 1200, 250},
		{"academic high complexity", DocumentProfile{Type: DocTypeAcademic, Complexity: ComplexityHigh}, 1400, 250},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := PlanChunking(&tc.profile)
			if got.ChunkSize != tc.wantSize || got.Overlap != tc.wantOver {
				t.Errorf("PlanChunking(%s) = %+v, want size %d overlap %d",
					tc.profile.Type, got, tc.wantSize, tc.wantOver)
			}
		})
	}
}

func TestPlanChunking_Deterministic(t *testing.T) {
	p := &DocumentProfile{Type: DocTypeTechnical, Complexity: ComplexityMedium}
	a, b := PlanChunking(p), PlanChunking(p)
	if a != b {
		t.Errorf("same profile must yield same plan: %+v vs %+v", a, b)
	}
}
