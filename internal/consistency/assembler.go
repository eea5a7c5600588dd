package consistency

import (
	"regexp"
	"sort"
	"strings"

	"demoforge/internal/domain"
)

// DefaultVideoPromptBudget is the hard character cap video providers
// enforce per prompt.
const DefaultVideoPromptBudget = 800

const (
	referenceBackground = "plain white background"
	referenceSuffix     = "clear lighting, full visibility, reference sheet style"
)

// fillerPatterns are removed, in order, when a prompt runs over budget.
// Removing them never changes which subjects the prompt describes.
var fillerPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\bvery\s+`),
	regexp.MustCompile(`(?i)\breally\s+`),
	regexp.MustCompile(`(?i)\bextremely\s+`),
	regexp.MustCompile(`(?i)\bquite\s+`),
	regexp.MustCompile(`(?i)\bsomewhat\s+`),
	regexp.MustCompile(`(?i)\ba bit\s+`),
	regexp.MustCompile(`(?i)\bslightly\s+`),
	regexp.MustCompile(`(?i)\bin the style of\b`),
	regexp.MustCompile(`(?i)\bthat is\s+`),
	regexp.MustCompile(`(?i)\bwhich is\s+`),
	regexp.MustCompile(`(?i)\band also\b`),
	regexp.MustCompile(`(?i)\bas well as\b`),
}

var commaRuns = regexp.MustCompile(`\s*,(\s*,)*\s*`)

// Assembler renders consistency state into provider-ready prompts.
// Reference prompts are uncapped; video prompts are compressed and
// truncated deterministically to stay under the budget.
type Assembler struct {
	budget int
}

func NewAssembler(budget int) *Assembler {
	if budget <= 0 {
		budget = DefaultVideoPromptBudget
	}
	return &Assembler{budget: budget}
}

// ReferencePrompt builds a full-detail prompt for a subject's reference
// image. The subject may be addressed by ID or by name, matched
// case-insensitively. Returns domain.ErrNotFound when neither matches.
func (a *Assembler) ReferencePrompt(state domain.ConsistencyState, subjectRef, pose string) (string, error) {
	subject := resolveSubject(state, subjectRef)
	if subject == nil {
		return "", domain.ErrNotFound
	}

	var parts []string
	if state.Style != nil && state.Style.Description != "" {
		parts = append(parts, state.Style.Description)
	}
	parts = append(parts, subjectBlock(*subject, true))
	if pose = strings.TrimSpace(pose); pose != "" {
		parts = append(parts, pose)
	} else if subject.PoseHint != "" {
		parts = append(parts, subject.PoseHint)
	}
	if state.Environment != nil && state.Environment.Description != "" {
		parts = append(parts, state.Environment.Description)
	}
	parts = append(parts, referenceBackground, referenceSuffix)
	return joinParts(parts), nil
}

// VideoPrompt builds a compressed prompt for the referenced subjects
// plus environment and style, never exceeding the budget. Subjects are
// ranked by confidence descending, ties broken by their order in the
// state, and dropped from the low end of the ranking until the prompt
// fits. Environment and style go only after every subject is gone.
// Unknown subject IDs are skipped. Output is deterministic for a given
// state and ID list.
func (a *Assembler) VideoPrompt(state domain.ConsistencyState, subjectIDs []string, includeEnvironment bool) string {
	subjects := rankedSubjects(state, subjectIDs)

	style := ""
	if state.Style != nil {
		style = strings.TrimSpace(state.Style.Description)
	}
	env := ""
	if includeEnvironment && state.Environment != nil {
		env = strings.TrimSpace(state.Environment.Description)
	}

	compose := func(keep int, withEnv, withStyle bool) string {
		var parts []string
		if withStyle && style != "" {
			parts = append(parts, style)
		}
		for _, s := range subjects[:keep] {
			parts = append(parts, subjectBlock(s, false))
		}
		if withEnv && env != "" {
			parts = append(parts, env)
		}
		return joinParts(parts)
	}

	// Drop the lowest-ranked subject, then environment, then style,
	// compressing at each step before giving anything up.
	for keep := len(subjects); keep >= 0; keep-- {
		prompt := a.compress(compose(keep, true, true))
		if len(prompt) <= a.budget {
			if prompt == "" && len(subjects) > 0 {
				// Nothing fits whole. Keep a truncated cut of the
				// top-ranked subject rather than an empty prompt.
				return truncateAtWord(a.compress(compose(1, false, false)), a.budget)
			}
			return prompt
		}
	}
	styleOnly := a.compress(compose(0, false, true))
	if len(styleOnly) <= a.budget {
		return styleOnly
	}

	// A single oversized block remains. Cut at a word boundary.
	return truncateAtWord(styleOnly, a.budget)
}

// PrimaryReference returns the reference image URL of the
// highest-ranked referenced subject that has one, or "". Video
// submissions carry it so the provider keeps that subject's face
// consistent with the still reference.
func (a *Assembler) PrimaryReference(state domain.ConsistencyState, subjectIDs []string) string {
	for _, s := range rankedSubjects(state, subjectIDs) {
		if s.ReferenceImageURL != "" {
			return s.ReferenceImageURL
		}
	}
	return ""
}

// Fit compresses and, if still over budget, word-boundary truncates an
// arbitrary prompt so it can be submitted as-is.
func (a *Assembler) Fit(prompt string) string {
	return truncateAtWord(a.compress(prompt), a.budget)
}

// Budget reports the video prompt character cap.
func (a *Assembler) Budget() int {
	return a.budget
}

func resolveSubject(state domain.ConsistencyState, ref string) *domain.SubjectSheet {
	if s := state.SubjectByID(ref); s != nil {
		return s
	}
	folded := foldName(ref)
	for i := range state.Subjects {
		if foldName(state.Subjects[i].Name) == folded {
			return &state.Subjects[i]
		}
	}
	return nil
}

// rankedSubjects walks the state's subjects in insertion order keeping
// only the requested ids, then sorts by confidence descending. The
// stable sort means ties keep insertion order no matter how the caller
// ordered its id list.
func rankedSubjects(state domain.ConsistencyState, ids []string) []domain.SubjectSheet {
	requested := make(map[string]bool, len(ids))
	for _, id := range ids {
		requested[id] = true
	}
	var out []domain.SubjectSheet
	for _, s := range state.Subjects {
		if requested[s.ID] {
			out = append(out, s)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Confidence > out[j].Confidence
	})
	return out
}

func subjectBlock(s domain.SubjectSheet, full bool) string {
	parts := []string{s.Name}
	if s.Description != "" {
		parts = append(parts, s.Description)
	}
	if full && s.PoseHint != "" {
		parts = append(parts, s.PoseHint)
	}
	return joinParts(parts)
}

func joinParts(parts []string) string {
	var kept []string
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, ", ")
}

// compress shrinks a prompt without changing which entities it covers:
// first whitespace normalization, then filler-phrase removal. It stops
// as soon as the prompt fits.
func (a *Assembler) compress(prompt string) string {
	if len(prompt) <= a.budget {
		return prompt
	}
	prompt = normalizeWhitespace(prompt)
	if len(prompt) <= a.budget {
		return prompt
	}
	for _, pat := range fillerPatterns {
		prompt = pat.ReplaceAllString(prompt, "")
		if len(normalizeWhitespace(prompt)) <= a.budget {
			break
		}
	}
	return normalizeWhitespace(prompt)
}

func normalizeWhitespace(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	s = commaRuns.ReplaceAllString(s, ", ")
	s = strings.Trim(s, ", ")
	return s
}

// truncateAtWord cuts s to at most limit characters, preferring the
// last comma boundary and falling back to the last space. Never cuts
// mid-word.
func truncateAtWord(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	cut := s[:limit]
	if i := strings.LastIndex(cut, ","); i > limit*7/10 {
		cut = cut[:i]
	} else if i := strings.LastIndex(cut, " "); i > 0 {
		cut = cut[:i]
	}
	return strings.Trim(cut, ", ")
}
