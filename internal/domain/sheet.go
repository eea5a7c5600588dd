package domain

import "time"

// SubjectSheet tracks one recurring character, person, or product whose
// appearance must read as identical across every generated frame and clip.
type SubjectSheet struct {
	ID                string    `json:"id"`
	Name              string    `json:"name"`
	Description       string    `json:"description"`
	PoseHint          string    `json:"pose_hint,omitempty"`
	ReferenceImageURL string    `json:"reference_image_url,omitempty"`
	Confidence        float64   `json:"confidence"`
	LastUpdatedAt     time.Time `json:"last_updated_at"`
}

// EnvironmentSheet tracks the single active setting for a session: location,
// lighting, and camera framing conventions. Replacing it is a full overwrite.
type EnvironmentSheet struct {
	ID            string    `json:"id"`
	Description   string    `json:"description"`
	LastUpdatedAt time.Time `json:"last_updated_at"`
}

// VisualStyle tracks global aesthetic constraints (palette, rendering style,
// mood). Same overwrite semantics as EnvironmentSheet.
type VisualStyle struct {
	ID            string    `json:"id"`
	Description   string    `json:"description"`
	LastUpdatedAt time.Time `json:"last_updated_at"`
}

// ConsistencyState is the aggregate owned by one session. Subjects keep
// insertion order so prompt assembly stays deterministic.
type ConsistencyState struct {
	SessionID   string            `json:"session_id"`
	Subjects    []SubjectSheet    `json:"subjects"`
	Environment *EnvironmentSheet `json:"environment,omitempty"`
	Style       *VisualStyle      `json:"style,omitempty"`
	Version     int               `json:"version"`
	UpdatedAt   time.Time         `json:"updated_at"`
}

// SubjectByID returns the subject with the given id, or nil.
func (s *ConsistencyState) SubjectByID(id string) *SubjectSheet {
	for i := range s.Subjects {
		if s.Subjects[i].ID == id {
			return &s.Subjects[i]
		}
	}
	return nil
}

// Clone returns a deep copy safe to hand to readers.
func (s ConsistencyState) Clone() ConsistencyState {
	out := s
	out.Subjects = append([]SubjectSheet(nil), s.Subjects...)
	if s.Environment != nil {
		env := *s.Environment
		out.Environment = &env
	}
	if s.Style != nil {
		style := *s.Style
		out.Style = &style
	}
	return out
}
