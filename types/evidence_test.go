package types

import (
	"encoding/json"
	"testing"
)

func TestAuditedAnswer_Valid(t *testing.T) {
	tests := []struct {
		name  string
		refs  []EvidenceRef
		count int
		want  bool
	}{
		{"empty references", nil, 3, true},
		{"all in range", []EvidenceRef{{EvidenceID: 1}, {EvidenceID: 3}}, 3, true},
		{"zero index", []EvidenceRef{{EvidenceID: 0}}, 3, false},
		{"negative index", []EvidenceRef{{EvidenceID: -1}}, 3, false},
		{"past end", []EvidenceRef{{EvidenceID: 4}}, 3, false},
		{"no evidences shown", []EvidenceRef{{EvidenceID: 1}}, 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := AuditedAnswer{References: tt.refs}
			if got := a.Valid(tt.count); got != tt.want {
				t.Errorf("Valid(%d) = %v, want %v", tt.count, got, tt.want)
			}
		})
	}
}

func TestAuditedAnswer_WireShape(t *testing.T) {
	a := AuditedAnswer{
		Answer:     AnswerBody{Markdown: "**x**", PlainText: "x"},
		References: []EvidenceRef{{EvidenceID: 1, Excerpt: "sample"}},
	}

	data, err := json.Marshal(a)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	want := `{"answer":{"markdown":"**x**","plainText":"x"},"references":[{"evidenceId":1,"excerpt":"sample"}]}`
	if string(data) != want {
		t.Errorf("wire shape mismatch:\n got %s\nwant %s", data, want)
	}
}
