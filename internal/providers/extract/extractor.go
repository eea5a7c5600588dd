// Package extract turns conversational text into structured sheet
// updates for the consistency store.
package extract

import (
	"context"
	"regexp"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"demoforge/internal/domain"
)

// Request is one conversational turn to mine for visual facts.
type Request struct {
	Text   string
	Locale string
}

// Extractor produces zero or more partial updates from a turn. An
// empty slice is a normal outcome for turns that carry no visual
// information.
type Extractor interface {
	Extract(ctx context.Context, req Request) ([]domain.Update, error)
}

// StaticExtractor is the offline fallback. It applies a handful of
// phrasing heuristics so the system stays usable without credentials.
type StaticExtractor struct{}

func NewStaticExtractor() *StaticExtractor {
	return &StaticExtractor{}
}

var (
	subjectPattern = regexp.MustCompile(`^\s*([A-Z][\w']*(?:\s+[A-Z][\w']*)*)\s*(?:,|:| is | wears | wearing )\s*(.+)$`)
	envKeywords    = []string{"scene", "setting", "location", "background", "environment", "takes place"}
	styleKeywords  = []string{"style", "aesthetic", "palette", "look and feel", "mood", "tone"}
)

func (s *StaticExtractor) Extract(ctx context.Context, req Request) ([]domain.Update, error) {
	var updates []domain.Update
	titler := cases.Title(language.Und)

	for _, line := range strings.Split(req.Text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		lower := strings.ToLower(line)
		if matchesAny(lower, envKeywords) {
			updates = append(updates, domain.Update{Environment: &domain.EnvironmentUpdate{Description: line}})
			continue
		}
		if matchesAny(lower, styleKeywords) {
			updates = append(updates, domain.Update{Style: &domain.StyleUpdate{Description: line}})
			continue
		}
		if m := subjectPattern.FindStringSubmatch(line); m != nil {
			name := titler.String(strings.TrimSpace(m[1]))
			desc := strings.TrimSpace(m[2])
			updates = append(updates, domain.Update{Subject: &domain.SubjectUpdate{
				Name:        name,
				Description: &desc,
			}})
		}
	}
	return updates, nil
}

func matchesAny(s string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(s, kw) {
			return true
		}
	}
	return false
}

var _ Extractor = (*StaticExtractor)(nil)
