package model

// DraftState is the state of the document-draft planner.
type DraftState string

const (
	DraftAssessing             DraftState = "ASSESSING"
	DraftAwaitingClarification DraftState = "AWAITING_CLARIFICATION"
	DraftReady                 DraftState = "READY"
)

// DraftPlan is the planner verdict for one invocation.
type DraftPlan struct {
	NeedClarification bool     `json:"need_clarification"`
	Questions         []string `json:"questions"`
	NormalizedRequest string   `json:"normalized_request"`
}

// Attachment is a rendered file returned with the answer.
type Attachment struct {
	Filename    string `json:"filename"`
	ContentType string `json:"content_type"`
	Data        []byte `json:"data"`
}

// QueryPlan is a generated read query; never persisted.
type QueryPlan struct {
	Query  string         `json:"cypher"`
	Params map[string]any `json:"params"`
	Safe   bool           `json:"safe"`
	RowCap int            `json:"row_cap"`
}

// QueryOutcome is what the structured query path hands back to the state machine.
type QueryOutcome struct {
	Answer string
	Plan   QueryPlan
	Rows   []map[string]any
	// Columns is the RETURN order when the reader knows it.
	Columns []string
	Sidebar string
	// Attempts counts generated plans, original included.
	Attempts int
}

// Sidebar is the evidence summary shown next to the answer.
type Sidebar struct {
	Title    string         `json:"title,omitempty"`
	Markdown string         `json:"markdown,omitempty"`
	Props    map[string]any `json:"props,omitempty"`
}

// StreamSink receives answer chunks as they are produced.
type StreamSink func(chunk string)

// TurnState is the explicit state object passed into and returned from every node.
type TurnState struct {
	TurnID   string
	Original string
	Question string
	Session  *Session
	// Memory is the staged router memory; PostProcess commits it to Session.
	Memory RouterMemory
	Intent IntentResult

	ForceRetrieval bool
	PlainFallbacks int
	CypherFallback bool

	Answer      string
	Streamed    bool
	Aggregation bool
	Evidence    *EvidenceBundle
	Sidebar     Sidebar
	Draft       *DraftPlan
	DraftState  DraftState
	Attachment  *Attachment
	Suggestions []string

	// Failure is set for upstream-unavailable and unsafe-query conditions.
	Failure error

	Sink StreamSink
	// Route is copied from the graph trace when the turn reaches PostProcess.
	Route []string
}

// NewTurnState builds the state for a fresh turn over a working copy of the session.
func NewTurnState(turnID, utterance string, session *Session, sink StreamSink) *TurnState {
	return &TurnState{
		TurnID:   turnID,
		Original: utterance,
		Question: utterance,
		Session:  session,
		Memory:   session.Memory,
		Sink:     sink,
	}
}

// Emit forwards a chunk to the stream sink when one is attached.
func (s *TurnState) Emit(chunk string) {
	if s.Sink != nil && chunk != "" {
		s.Sink(chunk)
	}
}

// Fail records an upstream or unsafe-query failure with its user-visible answer.
func (s *TurnState) Fail(err error, answer string) {
	s.Failure = err
	s.Answer = answer
}

// TurnTrace is per-invocation graph local state used to report the route.
// It is only touched inside eino state handlers.
type TurnTrace struct {
	Visited []string
}

// TurnResult is returned to the front-end.
type TurnResult struct {
	Answer      string          `json:"answer"`
	Streamed    bool            `json:"streamed"`
	Sidebar     Sidebar         `json:"sidebar"`
	Evidence    *EvidenceBundle `json:"evidence,omitempty"`
	Suggestions []string        `json:"suggestions,omitempty"`
	Attachment  *Attachment     `json:"attachment,omitempty"`
	Session     *Session        `json:"session"`
	Route       []string        `json:"route,omitempty"`
	Intent      IntentResult    `json:"intent"`
	CostUSD     float64         `json:"cost_usd,omitempty"`
	Failed      bool            `json:"failed,omitempty"`
}
