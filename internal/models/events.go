package models

import "encoding/json"

// Envelope is the wire format shared by every upstream event and outbound
// intent: a type tag plus an opaque payload decoded per type.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Inbound event kinds produced by the upstream pipeline.
const (
	EventIncidentDetected = "incident:detected"
	EventStatusChange     = "status:change"
	EventAgentUpdate      = "agent:update"
	EventTimelineAdd      = "timeline:add"
	EventLogsStream       = "logs:stream"
	EventSolutionProposed = "solution:proposed"
	EventChatMessage      = "chat:message"
	EventMetricsUpdate    = "metrics:update"
)

// Outbound intent kinds. Fire-and-forget; the transport layer tracks no
// acknowledgment.
const (
	IntentIncidentTrigger = "incident:trigger"
	IntentSolutionExecute = "solution:execute"
	IntentChatMessage     = "chat:message"
	IntentAgentStop       = "agent:stop"
)

// IncidentDetectedPayload announces a new incident. ProjectID scopes the
// event to a monitored target.
type IncidentDetectedPayload struct {
	Incident  Incident `json:"incident"`
	ProjectID string   `json:"project_id,omitempty"`
}

// StatusChangePayload names the target lifecycle status. Incident, when
// present, carries field updates alongside the transition.
type StatusChangePayload struct {
	Status    Status    `json:"status"`
	Incident  *Incident `json:"incident,omitempty"`
	ProjectID string    `json:"project_id,omitempty"`
}

// AgentUpdatePayload signals agent activity within a pipeline phase. It
// drives the transient composing indicator.
type AgentUpdatePayload struct {
	Phase     Phase       `json:"phase"`
	Status    EntryStatus `json:"status"`
	Message   string      `json:"message,omitempty"`
	ProjectID string      `json:"project_id,omitempty"`
}

// TimelineAddPayload delivers one timeline entry.
type TimelineAddPayload struct {
	Entry     TimelineEntry `json:"entry"`
	ProjectID string        `json:"project_id,omitempty"`
}

// LogsStreamPayload delivers a batch of log entries.
type LogsStreamPayload struct {
	Logs      []LogEntry `json:"logs"`
	ProjectID string     `json:"project_id,omitempty"`
}

// SolutionProposedPayload carries a generated remediation proposal.
type SolutionProposedPayload struct {
	Solution  Solution `json:"solution"`
	RootCause string   `json:"root_cause,omitempty"`
	ProjectID string   `json:"project_id,omitempty"`
}

// ChatMessagePayload delivers one transcript message, inbound or outbound.
type ChatMessagePayload struct {
	Message ChatMessage `json:"message"`
}

// MetricsUpdatePayload refreshes the system gauges.
type MetricsUpdatePayload struct {
	Metrics   SystemMetrics `json:"metrics"`
	ProjectID string        `json:"project_id,omitempty"`
}

// SolutionExecutePayload names the solution to run.
type SolutionExecutePayload struct {
	SolutionID string `json:"solution_id"`
}
