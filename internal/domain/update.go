package domain

import "fmt"

// SubjectUpdate carries the fields extracted for one subject from a
// conversational turn. Nil pointers mean "not mentioned this turn" so the
// store can apply last-write-wins per field instead of clobbering sheets.
type SubjectUpdate struct {
	Name        string   `json:"name"`
	Description *string  `json:"description,omitempty"`
	PoseHint    *string  `json:"pose_hint,omitempty"`
	Confidence  *float64 `json:"confidence,omitempty"`
}

// EnvironmentUpdate replaces the active environment sheet wholesale.
type EnvironmentUpdate struct {
	Description string `json:"description"`
}

// StyleUpdate replaces the active visual style wholesale.
type StyleUpdate struct {
	Description string `json:"description"`
}

// Update is the tagged variant produced by the extraction adapter: exactly
// one branch must be set.
type Update struct {
	Subject     *SubjectUpdate     `json:"subject,omitempty"`
	Environment *EnvironmentUpdate `json:"environment,omitempty"`
	Style       *StyleUpdate       `json:"style,omitempty"`
}

// Validate enforces the exactly-one-branch contract.
func (u Update) Validate() error {
	count := 0
	if u.Subject != nil {
		count++
	}
	if u.Environment != nil {
		count++
	}
	if u.Style != nil {
		count++
	}
	if count != 1 {
		return fmt.Errorf("update must carry exactly one of subject, environment, style (got %d)", count)
	}
	if u.Subject != nil && u.Subject.Name == "" {
		return fmt.Errorf("subject update requires a name")
	}
	return nil
}
