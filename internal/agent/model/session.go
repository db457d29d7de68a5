package model

import "strings"

// Speaker of a history turn.
type Speaker string

const (
	SpeakerUser      Speaker = "user"
	SpeakerAssistant Speaker = "assistant"
)

// Turn is one history entry.
type Turn struct {
	Speaker Speaker `json:"speaker"`
	Text    string  `json:"text"`
}

// RouterMemory is what the router remembers from the previous turns.
type RouterMemory struct {
	LastCategory     Category   `json:"last_category,omitempty"`
	LastFocus        Focus      `json:"last_focus,omitempty"`
	LastCompanyQuery string     `json:"last_company_query,omitempty"`
	LastCompanyTaxID string     `json:"last_company_tax_id,omitempty"`
	LastContracts    []Contract `json:"last_contracts,omitempty"`
	LastChapters     []Chapter  `json:"last_chapters,omitempty"`
	LastExtracts     []Extract  `json:"last_extracts,omitempty"`
	LastDocType      string     `json:"last_doc_type,omitempty"`
	LastClauseTypes  []string   `json:"last_clause_types,omitempty"`

	DraftPending bool   `json:"draft_pending,omitempty"`
	DraftRequest string `json:"draft_request,omitempty"`
	DraftRounds  int    `json:"draft_rounds,omitempty"`
}

// Empty reports whether nothing has been remembered yet.
func (m RouterMemory) Empty() bool {
	return m.LastCategory == "" && m.LastFocus == "" && m.LastCompanyQuery == "" &&
		len(m.LastContracts) == 0 && !m.DraftPending
}

// HasContracts reports whether a prior contract set is available for reuse.
func (m RouterMemory) HasContracts() bool {
	return len(m.LastContracts) > 0
}

// ClearEvidence drops cached retrieval results (entity switch).
func (m *RouterMemory) ClearEvidence() {
	m.LastContracts = nil
	m.LastChapters = nil
	m.LastExtracts = nil
}

// ClearDraft cancels a pending draft.
func (m *RouterMemory) ClearDraft() {
	m.DraftPending = false
	m.DraftRequest = ""
	m.DraftRounds = 0
}

// Bundle returns the cached evidence as a bundle.
func (m RouterMemory) Bundle() *EvidenceBundle {
	return &EvidenceBundle{Contracts: m.LastContracts, Chapters: m.LastChapters, Extracts: m.LastExtracts}
}

// Session is the per-conversation state handed back and forth with the front-end.
type Session struct {
	ID      string       `json:"id"`
	History []Turn       `json:"history"`
	Memory  RouterMemory `json:"memory"`
}

// NewSession returns an empty session.
func NewSession(id string) *Session {
	return &Session{ID: id, History: []Turn{}}
}

// Clone returns a deep copy so a turn can work without touching the caller's session.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	out := &Session{ID: s.ID, Memory: s.Memory}
	out.History = append([]Turn{}, s.History...)
	out.Memory.LastContracts = append([]Contract(nil), s.Memory.LastContracts...)
	out.Memory.LastChapters = append([]Chapter(nil), s.Memory.LastChapters...)
	out.Memory.LastExtracts = append([]Extract(nil), s.Memory.LastExtracts...)
	out.Memory.LastClauseTypes = append([]string(nil), s.Memory.LastClauseTypes...)
	return out
}

// AppendExchange adds a user/assistant pair and keeps at most max entries.
func (s *Session) AppendExchange(question, answer string, max int) {
	s.History = append(s.History,
		Turn{Speaker: SpeakerUser, Text: question},
		Turn{Speaker: SpeakerAssistant, Text: answer},
	)
	if max > 0 && len(s.History) > max {
		s.History = append([]Turn{}, s.History[len(s.History)-max:]...)
	}
}

// Tail returns the last n turns.
func Tail(turns []Turn, n int) []Turn {
	if n <= 0 || len(turns) <= n {
		out := make([]Turn, len(turns))
		copy(out, turns)
		return out
	}
	out := make([]Turn, n)
	copy(out, turns[len(turns)-n:])
	return out
}

// Clip returns s cut to max runes with " […]" appended when cut.
func Clip(s string, max int) string {
	r := []rune(s)
	if max <= 0 || len(r) <= max {
		return s
	}
	return string(r[:max]) + " […]"
}

// Label returns the Spanish role label used in prompts.
func (t Turn) Label() string {
	if t.Speaker == SpeakerUser {
		return "Usuario"
	}
	return "Asistente"
}

// FormatTurns renders turns as "Usuario: ..." lines, each clipped to maxChars.
func FormatTurns(turns []Turn, maxChars int, suffix string) string {
	var sb strings.Builder
	for _, t := range turns {
		text := t.Text
		if maxChars > 0 && len([]rune(text)) > maxChars {
			text = string([]rune(text)[:maxChars]) + suffix
		}
		sb.WriteString(t.Label())
		sb.WriteString(": ")
		sb.WriteString(text)
		sb.WriteString("\n")
	}
	return sb.String()
}
