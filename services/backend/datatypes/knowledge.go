package datatypes

// KnowledgeDocument is one write-once entry of the seeded dental
// knowledge base (guidelines, protocols, drug interactions).
type KnowledgeDocument struct {
	Id string `json:"id"`

	// Source names where the passage came from (e.g. "Protocole clinique").
	Source string `json:"source"`

	// Section is the clinical category ("Urgences", "Pharmacologie", ...).
	Section string `json:"section,omitempty"`

	Body string `json:"body"`
}

// Passage is a retrieved knowledge snippet handed to the prompt builder.
type Passage struct {
	Source  string  `json:"source"`
	Section string  `json:"section,omitempty"`
	Body    string  `json:"body"`
	Score   float64 `json:"score"`
}
