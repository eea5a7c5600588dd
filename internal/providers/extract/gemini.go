package extract

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"demoforge/internal/domain"
)

type GeminiOptions struct {
	APIKey     string
	Model      string
	BaseURL    string
	HTTPClient *http.Client
	Fallback   Extractor
}

// GeminiExtractor asks Gemini for structured sheet updates in JSON
// mode. Any transport or parsing problem falls back to the static
// extractor, so extraction never hard-fails a conversational turn.
type GeminiExtractor struct {
	apiKey   string
	model    string
	baseURL  string
	client   *http.Client
	fallback Extractor
}

const geminiDefaultTimeout = 15 * time.Second

type geminiRequest struct {
	Contents         []geminiContent         `json:"contents"`
	GenerationConfig *geminiGenerationConfig `json:"generationConfig,omitempty"`
}

type geminiContent struct {
	Role  string       `json:"role"`
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text string `json:"text,omitempty"`
}

type geminiGenerationConfig struct {
	Temperature      float64 `json:"temperature,omitempty"`
	CandidateCount   int     `json:"candidateCount,omitempty"`
	ResponseMimeType string  `json:"responseMimeType,omitempty"`
}

type geminiResponse struct {
	Candidates []struct {
		Content geminiContent `json:"content"`
	} `json:"candidates"`
}

type geminiExtractPayload struct {
	Subjects []struct {
		Name        string   `json:"name"`
		Description string   `json:"description"`
		PoseHint    string   `json:"pose_hint"`
		Confidence  *float64 `json:"confidence"`
	} `json:"subjects"`
	Environment string `json:"environment"`
	Style       string `json:"style"`
}

func NewGeminiExtractor(opts GeminiOptions) (*GeminiExtractor, error) {
	if opts.APIKey == "" {
		return nil, errors.New("gemini api key is required")
	}
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://generativelanguage.googleapis.com/v1beta"
	}
	model := strings.TrimSpace(opts.Model)
	if model == "" {
		model = "gemini-1.5-flash"
	}
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: geminiDefaultTimeout}
	}
	return &GeminiExtractor{
		apiKey:   opts.APIKey,
		model:    model,
		baseURL:  baseURL,
		client:   client,
		fallback: opts.Fallback,
	}, nil
}

func (g *GeminiExtractor) Extract(ctx context.Context, req Request) ([]domain.Update, error) {
	payload := geminiRequest{
		Contents: []geminiContent{{
			Role: "user",
			Parts: []geminiPart{{
				Text: g.buildExtractPrompt(req),
			}},
		}},
		GenerationConfig: &geminiGenerationConfig{
			Temperature:      0.2,
			CandidateCount:   1,
			ResponseMimeType: "application/json",
		},
	}
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(payload); err != nil {
		return g.useFallback(ctx, req)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.endpoint(), &buf)
	if err != nil {
		return g.useFallback(ctx, req)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-goog-api-key", g.apiKey)
	resp, err := g.client.Do(httpReq)
	if err != nil {
		return g.useFallback(ctx, req)
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode >= 300 {
		return g.useFallback(ctx, req)
	}
	var out geminiResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return g.useFallback(ctx, req)
	}
	text := extractText(out)
	if text == "" {
		return g.useFallback(ctx, req)
	}
	parsed, err := parsePayload(text)
	if err != nil {
		return g.useFallback(ctx, req)
	}
	return payloadToUpdates(parsed), nil
}

func payloadToUpdates(parsed geminiExtractPayload) []domain.Update {
	var updates []domain.Update
	for _, s := range parsed.Subjects {
		name := strings.TrimSpace(s.Name)
		if name == "" {
			continue
		}
		u := &domain.SubjectUpdate{Name: name, Confidence: s.Confidence}
		if desc := strings.TrimSpace(s.Description); desc != "" {
			u.Description = &desc
		}
		if pose := strings.TrimSpace(s.PoseHint); pose != "" {
			u.PoseHint = &pose
		}
		updates = append(updates, domain.Update{Subject: u})
	}
	if env := strings.TrimSpace(parsed.Environment); env != "" {
		updates = append(updates, domain.Update{Environment: &domain.EnvironmentUpdate{Description: env}})
	}
	if style := strings.TrimSpace(parsed.Style); style != "" {
		updates = append(updates, domain.Update{Style: &domain.StyleUpdate{Description: style}})
	}
	return updates
}

func (g *GeminiExtractor) endpoint() string {
	base := strings.TrimRight(g.baseURL, "/")
	model := url.PathEscape(g.model)
	return fmt.Sprintf("%s/models/%s:generateContent?key=%s", base, model, url.QueryEscape(g.apiKey))
}

func (g *GeminiExtractor) buildExtractPrompt(req Request) string {
	sb := &strings.Builder{}
	sb.WriteString("You extract visual continuity facts from film production chat. Respond strictly with JSON matching this schema: ")
	sb.WriteString(`{"subjects":[{"name":string,"description":string,"pose_hint":string,"confidence":number}],"environment":string,"style":string}`)
	sb.WriteString(". Only include fields the text actually supports; leave environment/style empty strings otherwise. Keep descriptions under 40 words, appearance only. If two people share a name, report them as separate subjects with distinguishing names.")
	if req.Locale != "" {
		fmt.Fprintf(sb, " The text is written in the %q locale; answer in English regardless.", req.Locale)
	}
	fmt.Fprintf(sb, " Text: %q", req.Text)
	return sb.String()
}

func (g *GeminiExtractor) useFallback(ctx context.Context, req Request) ([]domain.Update, error) {
	if g.fallback != nil {
		return g.fallback.Extract(ctx, req)
	}
	return NewStaticExtractor().Extract(ctx, req)
}

func extractText(resp geminiResponse) string {
	for _, cand := range resp.Candidates {
		for _, part := range cand.Content.Parts {
			if strings.TrimSpace(part.Text) != "" {
				return part.Text
			}
		}
	}
	return ""
}

func parsePayload(raw string) (geminiExtractPayload, error) {
	var zero geminiExtractPayload
	cleaned := extractJSONFragment(raw)
	if cleaned == "" {
		return zero, errors.New("empty payload")
	}
	var decoded geminiExtractPayload
	if err := json.Unmarshal([]byte(cleaned), &decoded); err != nil {
		return zero, err
	}
	return decoded, nil
}

func extractJSONFragment(raw string) string {
	text := strings.TrimSpace(raw)
	if text == "" {
		return ""
	}
	text = trimCodeFence(text)
	start := strings.IndexAny(text, "{[")
	end := strings.LastIndexAny(text, "]}")
	if start >= 0 && end >= start {
		text = text[start : end+1]
	}
	return strings.TrimSpace(text)
}

func trimCodeFence(text string) string {
	trimmed := strings.TrimSpace(text)
	if !strings.HasPrefix(trimmed, "```") {
		return trimmed
	}
	trimmed = strings.TrimPrefix(trimmed, "```json")
	trimmed = strings.TrimPrefix(trimmed, "```JSON")
	trimmed = strings.TrimPrefix(trimmed, "```")
	trimmed = strings.TrimSpace(trimmed)
	if idx := strings.LastIndex(trimmed, "```"); idx >= 0 {
		trimmed = trimmed[:idx]
	}
	return strings.TrimSpace(trimmed)
}

var _ Extractor = (*GeminiExtractor)(nil)
