package chat

// AgentStatistics summarizes one agent's workload. The response-time and
// satisfaction fields are pointers so that "no data" is distinguishable
// from a legitimate zero.
type AgentStatistics struct {
	TotalChats  int `json:"totalChats"`
	ActiveChats int `json:"activeChats"`
	ClosedToday int `json:"closedToday"`

	// AvgResponseSeconds is the per-session median customer-to-agent
	// response interval, averaged over the agent's sessions.
	AvgResponseSeconds *float64 `json:"avgResponseSeconds,omitempty"`

	// SatisfactionRating comes from an external rating system; absent
	// until one is wired in.
	SatisfactionRating *float64 `json:"satisfactionRating,omitempty"`
}
