package agent

// Result is the structured outcome of one command run.
type Result struct {
	Success bool `json:"success"`
	// ResultText is the terminal result payload, when the runtime produced one.
	ResultText string `json:"result_text,omitempty"`
	// Error describes the failure for unsuccessful runs.
	Error string `json:"error,omitempty"`
	// SessionID is captured from the stream's init message so follow-up
	// commands can resume the same runtime session.
	SessionID string `json:"session_id,omitempty"`
	// DurationMS is wall-clock time measured around the whole run.
	DurationMS int64   `json:"duration_ms"`
	CostUSD    float64 `json:"cost_usd,omitempty"`
	NumTurns   int     `json:"num_turns,omitempty"`
}
