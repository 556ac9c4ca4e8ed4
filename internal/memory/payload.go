package memory

// WriteType tags the kind of content in a write request.
type WriteType string

const (
	WriteFact        WriteType = "fact"
	WriteEpisode     WriteType = "episode"
	WriteLearning    WriteType = "learning"
	WriteWin         WriteType = "win"
	WriteDecision    WriteType = "decision"
	WriteGoal        WriteType = "goal"
	WriteImprovement WriteType = "improvement"
)

// Valid reports whether t is one of the known write types.
func (t WriteType) Valid() bool {
	switch t {
	case WriteFact, WriteEpisode, WriteLearning, WriteWin, WriteDecision, WriteGoal, WriteImprovement:
		return true
	}
	return false
}

// WritePayload is a single write request.
type WritePayload struct {
	Type     WriteType              `json:"type"`
	Content  string                 `json:"content"`
	Key      string                 `json:"key,omitempty"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`

	// Destinations overrides type-based routing when non-empty.
	Destinations []Source `json:"destinations,omitempty"`
}
