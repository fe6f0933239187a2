package costguard

// TokenUsage is the per-run accumulator. It is a value type: every
// update returns a new TokenUsage and the receiver is never modified.
type TokenUsage struct {
	Input       int64   `json:"input"`
	Output      int64   `json:"output"`
	CachedInput int64   `json:"cached_input"`
	Total       int64   `json:"total"`
	Cost        float64 `json:"cost"`
}

// Delta is the token count reported by a single generation call.
type Delta struct {
	Input       int64
	Output      int64
	CachedInput int64
}

// Add returns the sum of u and other.
func (u TokenUsage) Add(other TokenUsage) TokenUsage {
	return TokenUsage{
		Input:       u.Input + other.Input,
		Output:      u.Output + other.Output,
		CachedInput: u.CachedInput + other.CachedInput,
		Total:       u.Total + other.Total,
		Cost:        u.Cost + other.Cost,
	}
}
