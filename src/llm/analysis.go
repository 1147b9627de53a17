package llm

// Analysis is the structured reply for one image. A reply with NoText set
// carries no other fields.
type Analysis struct {
	OriginalText string          `json:"originalText,omitempty"`
	Reading      string          `json:"reading,omitempty"`
	Translation  string          `json:"translation,omitempty"`
	Breakdown    []BreakdownItem `json:"breakdown,omitempty"`
	Notes        string          `json:"notes,omitempty"`
	NoText       bool            `json:"noText,omitempty"`

	Timing Timing `json:"-"`
}

type BreakdownItem struct {
	Word    string `json:"word"`
	Reading string `json:"reading,omitempty"`
	Meaning string `json:"meaning"`
	Type    string `json:"type,omitempty"`
}

type Timing struct {
	APIMs   int64 `json:"apiMs"`
	ImageKB int   `json:"imageSizeKB"`
	TotalMs int64 `json:"totalMs,omitempty"`
}
