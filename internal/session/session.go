// Package session holds the per-patient intake state that lives between
// webhook events. A session exists in the store only while an intake is in
// progress; terminal outcomes delete it.
package session

import "time"

// State is the conversation state token. The set is closed: any value outside
// it is treated as corruption and forces a reset.
type State string

const (
	StateNone                  State = ""
	StateMenu                  State = "menu"
	StateMenuTurno             State = "menu_turno"
	StateResultsName           State = "results_name"
	StateResultsDoc            State = "results_doc"
	StateResultsLocality       State = "results_locality"
	StateFieldName             State = "field_name"
	StateFieldAddress          State = "field_address"
	StateFieldLocality         State = "field_locality"
	StateFieldBirthDate        State = "field_birthdate"
	StateFieldInsurance        State = "field_insurance"
	StateFieldMemberID         State = "field_memberid"
	StateAwaitingOrder         State = "awaiting_order"
	StateAwaitingStudiesManual State = "awaiting_studies_manual"
	StateAwaitingStudiesConfirm State = "awaiting_studies_confirm"
	StateExtracting            State = "extracting"
)

var validStates = map[State]struct{}{
	StateNone:                   {},
	StateMenu:                   {},
	StateMenuTurno:              {},
	StateResultsName:            {},
	StateResultsDoc:             {},
	StateResultsLocality:        {},
	StateFieldName:              {},
	StateFieldAddress:           {},
	StateFieldLocality:          {},
	StateFieldBirthDate:         {},
	StateFieldInsurance:         {},
	StateFieldMemberID:          {},
	StateAwaitingOrder:          {},
	StateAwaitingStudiesManual:  {},
	StateAwaitingStudiesConfirm: {},
	StateExtracting:             {},
}

// Valid reports whether s belongs to the closed state set.
func (s State) Valid() bool {
	_, ok := validStates[s]
	return ok
}

// AttentionType selects the scheduling branch and the required-field subset.
// It is set exactly once per session lifecycle.
type AttentionType string

const (
	AttentionUnset   AttentionType = ""
	AttentionBranch  AttentionType = "branch"
	AttentionHome    AttentionType = "home"
	AttentionResults AttentionType = "results"
)

// Session is the per-identity intake record.
type Session struct {
	Identity      string        `json:"identity"`
	State         State         `json:"state"`
	AttentionType AttentionType `json:"attention_type"`

	FullName      string `json:"full_name,omitempty"`
	Address       string `json:"address,omitempty"`
	Locality      string `json:"locality,omitempty"`
	BirthDate     string `json:"birth_date,omitempty"`
	InsurancePlan string `json:"insurance_plan,omitempty"`
	MemberID      string `json:"member_id,omitempty"`
	DocumentID    string `json:"document_id,omitempty"`

	Studies      []string `json:"studies,omitempty"`
	ImagePayload string   `json:"image_payload,omitempty"`
	OCRFailures  int      `json:"ocr_failures,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// New creates an empty session for a caller identity.
func New(identity string) *Session {
	return &Session{
		Identity:  identity,
		State:     StateNone,
		CreatedAt: time.Now().UTC(),
	}
}
