package consistency

import (
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/text/cases"

	"demoforge/internal/domain"
)

const defaultConfidence = 0.5

var nameFolder = cases.Fold()

// foldName normalizes a subject name for matching. Two names that fold
// to the same string refer to the same subject.
func foldName(name string) string {
	return nameFolder.String(strings.TrimSpace(name))
}

// Store holds the consistency state for one session. All mutations are
// serialized and bump Version; reads hand out deep copies so callers can
// never alias live state.
type Store struct {
	mu    sync.Mutex
	state domain.ConsistencyState
	now   func() time.Time
}

func NewStore(sessionID string) *Store {
	return &Store{
		state: domain.ConsistencyState{SessionID: sessionID},
		now:   time.Now,
	}
}

// Restore rebuilds a store from a persisted snapshot.
func Restore(state domain.ConsistencyState) *Store {
	return &Store{state: state.Clone(), now: time.Now}
}

// Snapshot returns a deep copy of the current state.
func (s *Store) Snapshot() domain.ConsistencyState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Clone()
}

// Apply routes a tagged update to the matching sheet operation.
func (s *Store) Apply(u domain.Update) error {
	if err := u.Validate(); err != nil {
		return err
	}
	switch {
	case u.Subject != nil:
		_, err := s.UpsertSubject(*u.Subject)
		return err
	case u.Environment != nil:
		s.SetEnvironment(u.Environment.Description)
		return nil
	default:
		s.SetStyle(u.Style.Description)
		return nil
	}
}

// UpsertSubject merges an update into the subject whose name matches
// case-insensitively, or creates a new sheet when none does. Only fields
// present in the update are written; the rest keep their prior values.
// When extraction is ambiguous, callers should send distinct names so
// subjects stay separate rather than fusing.
func (s *Store) UpsertSubject(u domain.SubjectUpdate) (domain.SubjectSheet, error) {
	name := strings.TrimSpace(u.Name)
	if name == "" {
		return domain.SubjectSheet{}, &domain.ValidationError{Msg: "subject name is required"}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	folded := foldName(name)
	for i := range s.state.Subjects {
		if foldName(s.state.Subjects[i].Name) != folded {
			continue
		}
		sheet := &s.state.Subjects[i]
		applySubjectUpdate(sheet, u, now)
		s.bump(now)
		return *sheet, nil
	}

	sheet := domain.SubjectSheet{
		ID:         uuid.NewString(),
		Name:       name,
		Confidence: defaultConfidence,
	}
	applySubjectUpdate(&sheet, u, now)
	s.state.Subjects = append(s.state.Subjects, sheet)
	s.bump(now)
	return sheet, nil
}

func applySubjectUpdate(sheet *domain.SubjectSheet, u domain.SubjectUpdate, now time.Time) {
	if u.Description != nil {
		sheet.Description = *u.Description
	}
	if u.PoseHint != nil {
		sheet.PoseHint = *u.PoseHint
	}
	if u.Confidence != nil {
		sheet.Confidence = *u.Confidence
	}
	sheet.LastUpdatedAt = now
}

// SetEnvironment replaces the environment description wholesale. The
// sheet ID stays stable across overwrites.
func (s *Store) SetEnvironment(description string) domain.EnvironmentSheet {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if s.state.Environment == nil {
		s.state.Environment = &domain.EnvironmentSheet{ID: uuid.NewString()}
	}
	s.state.Environment.Description = description
	s.state.Environment.LastUpdatedAt = now
	s.bump(now)
	return *s.state.Environment
}

// SetStyle replaces the style description wholesale.
func (s *Store) SetStyle(description string) domain.VisualStyle {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if s.state.Style == nil {
		s.state.Style = &domain.VisualStyle{ID: uuid.NewString()}
	}
	s.state.Style.Description = description
	s.state.Style.LastUpdatedAt = now
	s.bump(now)
	return *s.state.Style
}

// SetReferenceURL attaches a generated reference image to a subject.
func (s *Store) SetReferenceURL(subjectID, url string) error {
	if strings.TrimSpace(url) == "" {
		return &domain.ValidationError{Msg: "reference url is required"}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.state.Subjects {
		if s.state.Subjects[i].ID != subjectID {
			continue
		}
		now := s.now()
		s.state.Subjects[i].ReferenceImageURL = url
		s.state.Subjects[i].LastUpdatedAt = now
		s.bump(now)
		return nil
	}
	return domain.ErrNotFound
}

// Subject returns a copy of the sheet with the given ID.
func (s *Store) Subject(subjectID string) (domain.SubjectSheet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.state.Subjects {
		if s.state.Subjects[i].ID == subjectID {
			return s.state.Subjects[i], nil
		}
	}
	return domain.SubjectSheet{}, domain.ErrNotFound
}

func (s *Store) bump(now time.Time) {
	s.state.Version++
	s.state.UpdatedAt = now
}
