package types

// Evidence is a retrieved passage with its source location and similarity
// score. Consumers identify evidences only by their 1-based ordinal position
// in the list they were presented in.
type Evidence struct {
	DocumentID  string  `json:"document_id"`
	Section     string  `json:"section,omitempty"`
	Page        int     `json:"page,omitempty"`
	Excerpt     string  `json:"excerpt"`
	Score       float64 `json:"score"`
	ContentType string  `json:"content_type,omitempty"`
}

// EvidenceRef is an index-based citation into the evidence list shown to the
// model. EvidenceID is 1-based.
type EvidenceRef struct {
	EvidenceID int    `json:"evidenceId"`
	Excerpt    string `json:"excerpt"`
}

// AnswerBody holds the generated answer in both renderings.
type AnswerBody struct {
	Markdown  string `json:"markdown"`
	PlainText string `json:"plainText"`
}

// AuditedAnswer pairs a generated answer with explicit citations into the
// evidence it was derived from. Every EvidenceID must be a valid 1-based
// index into the evidence list shown to the model for that call; the answer
// is malformed and discarded otherwise.
type AuditedAnswer struct {
	Answer     AnswerBody    `json:"answer"`
	References []EvidenceRef `json:"references"`
}

// Valid reports whether every reference index falls inside [1, evidenceCount].
func (a *AuditedAnswer) Valid(evidenceCount int) bool {
	for _, ref := range a.References {
		if ref.EvidenceID < 1 || ref.EvidenceID > evidenceCount {
			return false
		}
	}
	return true
}
