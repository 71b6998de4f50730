package memory

import "fmt"

// RejectReason explains why an Add or Update was not accepted.
type RejectReason string

const (
	ReasonValidation        RejectReason = "validation_error"
	ReasonExactDuplicate    RejectReason = "exact_duplicate"
	ReasonSemanticDuplicate RejectReason = "semantic_duplicate"
)

// Rejection describes a write that was deliberately not stored.
type Rejection struct {
	Reason  RejectReason `json:"reason"`
	Detail  string       `json:"detail,omitempty"`
	MatchID string       `json:"match_id,omitempty"`
	Score   float64      `json:"score,omitempty"`
}

// AddOutcome is either a stored record or a rejection, never both. The zero
// value is neither and reports Stored() == false.
type AddOutcome struct {
	record    *Record
	rejection *Rejection
}

func storedOutcome(rec Record) AddOutcome {
	r := rec.clone()
	return AddOutcome{record: &r}
}

func rejectedOutcome(rej Rejection) AddOutcome {
	return AddOutcome{rejection: &rej}
}

// Stored reports whether the memory was persisted.
func (o AddOutcome) Stored() bool { return o.record != nil }

// ID returns the new record id. ok is false for rejections.
func (o AddOutcome) ID() (id string, ok bool) {
	if o.record == nil {
		return "", false
	}
	return o.record.ID, true
}

// Record returns the stored record. ok is false for rejections.
func (o AddOutcome) Record() (Record, bool) {
	if o.record == nil {
		return Record{}, false
	}
	return o.record.clone(), true
}

// Rejection returns the rejection details. ok is false when stored.
func (o AddOutcome) Rejection() (Rejection, bool) {
	if o.rejection == nil {
		return Rejection{}, false
	}
	return *o.rejection, true
}

// RejectedError carries a rejection out of Update, which has no tagged result.
type RejectedError struct {
	Rejection Rejection
}

func (e *RejectedError) Error() string {
	if e.Rejection.Detail != "" {
		return fmt.Sprintf("memory rejected: %s: %s", e.Rejection.Reason, e.Rejection.Detail)
	}
	return fmt.Sprintf("memory rejected: %s", e.Rejection.Reason)
}

// Unwrap maps validation rejections onto ErrValidation.
func (e *RejectedError) Unwrap() error {
	if e.Rejection.Reason == ReasonValidation {
		return ErrValidation
	}
	return nil
}
