package generation

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"demoforge/internal/domain"
	"demoforge/internal/infra"
)

// ErrMissingAPIKey indicates that the client was configured without credentials.
var ErrMissingAPIKey = errors.New("wan: api key is required")

// DefaultNegativePrompt is applied to video jobs that do not supply
// their own.
const DefaultNegativePrompt = "blurry, low quality, distorted, deformed, ugly, bad anatomy"

// DefaultArtifactTTL is how long DashScope keeps result URLs fetchable.
const DefaultArtifactTTL = 24 * time.Hour

// WanOptions configures the DashScope Wan client.
type WanOptions struct {
	APIKey         string
	BaseURL        string
	ImageModel     string
	VideoModel     string
	HTTPClient     *http.Client
	Logger         *infra.Logger
	RequestTimeout time.Duration
	ArtifactTTL    time.Duration
}

// Wan performs HTTP calls to the DashScope generation API. Image jobs
// go through the synchronous multimodal endpoint; video jobs go through
// the asynchronous video-synthesis endpoint and are tracked by task id.
type Wan struct {
	apiKey      string
	baseURL     string
	imageModel  string
	videoModel  string
	artifactTTL time.Duration
	httpClient  *http.Client
	logger      *infra.Logger
}

type wanRequest struct {
	Model      string        `json:"model"`
	Input      wanInput      `json:"input"`
	Parameters wanParameters `json:"parameters,omitempty"`
}

type wanInput struct {
	Prompt         string       `json:"prompt,omitempty"`
	NegativePrompt string       `json:"negative_prompt,omitempty"`
	ImgURL         string       `json:"img_url,omitempty"`
	Messages       []wanMessage `json:"messages,omitempty"`
}

type wanMessage struct {
	Role    string       `json:"role"`
	Content []wanContent `json:"content"`
}

type wanContent struct {
	Text  string `json:"text,omitempty"`
	Image string `json:"image,omitempty"`
}

type wanParameters struct {
	NegativePrompt string `json:"negative_prompt,omitempty"`
	Size           string `json:"size,omitempty"`
	Duration       int    `json:"duration,omitempty"`
}

type wanResponse struct {
	Output struct {
		TaskID     string `json:"task_id"`
		TaskStatus string `json:"task_status"`
		VideoURL   string `json:"video_url"`
		Message    string `json:"message"`
		Results    []struct {
			URL string `json:"url"`
		} `json:"results"`
		Choices []struct {
			Message struct {
				Content []struct {
					Image string `json:"image"`
				} `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	} `json:"output"`
	RequestID string `json:"request_id"`
	Code      string `json:"code"`
	Message   string `json:"message"`
}

// NewWan constructs a client with sane defaults and injected dependencies.
func NewWan(opts WanOptions) (*Wan, error) {
	if strings.TrimSpace(opts.APIKey) == "" {
		return nil, ErrMissingAPIKey
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := opts.RequestTimeout
		if timeout <= 0 {
			timeout = 45 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://dashscope-intl.aliyuncs.com/api/v1"
	}
	imageModel := strings.TrimSpace(opts.ImageModel)
	if imageModel == "" {
		imageModel = "wan2.6-image"
	}
	videoModel := strings.TrimSpace(opts.VideoModel)
	if videoModel == "" {
		videoModel = "wan2.6-t2v"
	}
	ttl := opts.ArtifactTTL
	if ttl <= 0 {
		ttl = DefaultArtifactTTL
	}
	var logger *infra.Logger
	if opts.Logger != nil {
		logger = opts.Logger
	} else {
		discard := zerolog.New(io.Discard)
		l := infra.Logger(discard)
		logger = &l
	}
	return &Wan{
		apiKey:      strings.TrimSpace(opts.APIKey),
		baseURL:     baseURL,
		imageModel:  imageModel,
		videoModel:  videoModel,
		artifactTTL: ttl,
		httpClient:  httpClient,
		logger:      logger,
	}, nil
}

func (w *Wan) Name() string { return "wan" }

// Submit sends one generation request. Video jobs set the
// X-DashScope-Async header and return a task id to poll; image jobs
// resolve in the same call.
func (w *Wan) Submit(ctx context.Context, sub Submission) (*SubmitResult, error) {
	prompt := strings.TrimSpace(sub.Prompt)
	if prompt == "" {
		return nil, &domain.ValidationError{Msg: "prompt is required"}
	}

	var payload wanRequest
	async := sub.Kind == domain.TaskKindVideo
	endpoint := ""
	if async {
		neg := strings.TrimSpace(sub.NegativePrompt)
		if neg == "" {
			neg = DefaultNegativePrompt
		}
		payload = wanRequest{
			Model: w.videoModel,
			Input: wanInput{
				Prompt:         prompt,
				NegativePrompt: neg,
				ImgURL:         strings.TrimSpace(sub.ReferenceImageURL),
			},
		}
		endpoint = w.baseURL + "/services/aigc/video-generation/video-synthesis"
	} else {
		content := []wanContent{{Text: prompt}}
		if ref := strings.TrimSpace(sub.ReferenceImageURL); ref != "" {
			content = append(content, wanContent{Image: ref})
		}
		payload = wanRequest{
			Model: w.imageModel,
			Input: wanInput{
				Messages: []wanMessage{{Role: "user", Content: content}},
			},
			Parameters: wanParameters{NegativePrompt: strings.TrimSpace(sub.NegativePrompt)},
		}
		endpoint = w.baseURL + "/services/aigc/multimodal-generation/generation"
	}

	decoded, err := w.do(ctx, http.MethodPost, endpoint, &payload, async)
	if err != nil {
		return nil, err
	}

	if async {
		taskID := strings.TrimSpace(decoded.Output.TaskID)
		if taskID == "" {
			return nil, &domain.ProviderError{Code: decoded.Code, Message: "missing task id in response"}
		}
		w.logger.Debug().
			Str("model", w.videoModel).
			Str("task_id", taskID).
			Msg("wan: video task accepted")
		return &SubmitResult{
			TaskID:      taskID,
			State:       mapTaskStatus(decoded.Output.TaskStatus),
			ArtifactTTL: w.artifactTTL,
		}, nil
	}

	resultURL := firstResultURL(decoded)
	if resultURL == "" {
		return nil, &domain.ProviderError{Code: decoded.Code, Message: "empty result url"}
	}
	w.logger.Debug().
		Str("model", w.imageModel).
		Str("request_id", decoded.RequestID).
		Msg("wan: image generated")
	return &SubmitResult{
		TaskID:      decoded.RequestID,
		State:       StateSucceeded,
		ResultURL:   resultURL,
		ArtifactTTL: w.artifactTTL,
	}, nil
}

// Status queries one task. DashScope reports PENDING, RUNNING,
// SUCCEEDED, FAILED or CANCELED.
func (w *Wan) Status(ctx context.Context, taskID string) (*StatusResult, error) {
	decoded, err := w.do(ctx, http.MethodGet, w.baseURL+"/tasks/"+taskID, nil, false)
	if err != nil {
		return nil, err
	}

	state := mapTaskStatus(decoded.Output.TaskStatus)
	res := &StatusResult{
		State:       state,
		Message:     decoded.Output.Message,
		Code:        decoded.Code,
		ArtifactTTL: w.artifactTTL,
	}
	if res.Message == "" {
		res.Message = decoded.Message
	}
	if state == StateSucceeded {
		res.ResultURL = firstResultURL(decoded)
		if res.ResultURL == "" {
			return nil, &domain.ProviderError{Message: "succeeded task without a result url"}
		}
	}
	return res, nil
}

// Cancel is best effort; the remote job may already be past the point
// of no return.
func (w *Wan) Cancel(ctx context.Context, taskID string) error {
	_, err := w.do(ctx, http.MethodPost, w.baseURL+"/tasks/"+taskID+"/cancel", nil, false)
	return err
}

func (w *Wan) do(ctx context.Context, method, endpoint string, payload *wanRequest, async bool) (*wanResponse, error) {
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("wan: encode request: %w", err)
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("wan: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+w.apiKey)
	if async {
		req.Header.Set("X-DashScope-Async", "enable")
	}

	resp, err := w.httpClient.Do(req)
	if err != nil {
		return nil, &domain.TransientError{Op: "wan: http request", Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &domain.TransientError{Op: "wan: read response", Err: err}
	}

	if resp.StatusCode >= 300 {
		var decoded wanResponse
		_ = json.Unmarshal(raw, &decoded)
		msg := decoded.Message
		if msg == "" {
			msg = strings.TrimSpace(string(raw))
		}
		switch {
		case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
			return nil, &domain.TransientError{
				Op:  "wan: " + endpoint,
				Err: fmt.Errorf("status %d: %s", resp.StatusCode, msg),
			}
		case resp.StatusCode == http.StatusBadRequest:
			return nil, &domain.ValidationError{Msg: fmt.Sprintf("%s (%s)", msg, decoded.Code)}
		default:
			return nil, &domain.ProviderError{Code: decoded.Code, Message: fmt.Sprintf("status %d: %s", resp.StatusCode, msg)}
		}
	}

	var decoded wanResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, fmt.Errorf("wan: decode response: %w", err)
	}
	return &decoded, nil
}

func mapTaskStatus(s string) TaskState {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "SUCCEEDED":
		return StateSucceeded
	case "FAILED":
		return StateFailed
	case "CANCELED":
		return StateCanceled
	case "RUNNING":
		return StateRunning
	default:
		return StatePending
	}
}

func firstResultURL(resp *wanResponse) string {
	if url := strings.TrimSpace(resp.Output.VideoURL); url != "" {
		return url
	}
	for _, r := range resp.Output.Results {
		if url := strings.TrimSpace(r.URL); url != "" {
			return url
		}
	}
	for _, choice := range resp.Output.Choices {
		for _, content := range choice.Message.Content {
			if url := strings.TrimSpace(content.Image); url != "" {
				return url
			}
		}
	}
	return ""
}

var _ Provider = (*Wan)(nil)
