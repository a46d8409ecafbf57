package generators

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	defaultComfyTimeout = 300 * time.Second
	defaultPollInterval = time.Second
)

// ComfyUIClient queues SDXL workflows on a ComfyUI server and downloads the
// resulting image.
type ComfyUIClient struct {
	httpClient   *http.Client
	baseURL      string
	clientID     string
	pollInterval time.Duration
	log          *zap.Logger
}

// Workflow is a ComfyUI API-format graph keyed by node id.
type Workflow map[string]*WorkflowNode

// WorkflowNode is one node of a workflow.
type WorkflowNode struct {
	ClassType string         `json:"class_type"`
	Inputs    map[string]any `json:"inputs"`
}

// PromptRequest is the body of POST /prompt.
type PromptRequest struct {
	Prompt   Workflow `json:"prompt"`
	ClientID string   `json:"client_id"`
}

type promptResponse struct {
	PromptID   string         `json:"prompt_id"`
	Error      any            `json:"error,omitempty"`
	NodeErrors map[string]any `json:"node_errors,omitempty"`
}

// HistoryItem is one finished prompt in GET /history/{id}.
type HistoryItem struct {
	Outputs map[string]struct {
		Images []ImageInfo `json:"images"`
	} `json:"outputs"`
	Status struct {
		StatusStr string `json:"status_str"`
		Completed bool   `json:"completed"`
	} `json:"status"`
}

// ImageInfo locates an output image on the server.
type ImageInfo struct {
	Filename  string `json:"filename"`
	Subfolder string `json:"subfolder"`
	Type      string `json:"type"`
}

// GenerateOptions holds the sampler settings for one render.
type GenerateOptions struct {
	Prompt         string
	NegativePrompt string
	Width          int
	Height         int
	Steps          int
	CFGScale       float64
	Seed           int64
	Checkpoint     string
	SamplerName    string
	Scheduler      string
}

// GenerateResult is a rendered image.
type GenerateResult struct {
	PromptID  string
	Filename  string
	ImageData []byte
	Duration  time.Duration
}

// NewComfyUIClient creates a client for the server at baseURL.
func NewComfyUIClient(baseURL string, timeout time.Duration, log *zap.Logger) *ComfyUIClient {
	if timeout <= 0 {
		timeout = defaultComfyTimeout
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &ComfyUIClient{
		httpClient:   &http.Client{Timeout: timeout},
		baseURL:      strings.TrimRight(baseURL, "/"),
		clientID:     "bedtime-" + uuid.NewString(),
		pollInterval: defaultPollInterval,
		log:          log,
	}
}

// SetPollInterval changes how often the history endpoint is polled.
func (c *ComfyUIClient) SetPollInterval(d time.Duration) {
	if d > 0 {
		c.pollInterval = d
	}
}

// ApplyDefaults fills the sampler settings left unset.
func ApplyDefaults(opts *GenerateOptions) {
	if opts.Width == 0 {
		opts.Width = 1024
	}
	if opts.Height == 0 {
		opts.Height = 1024
	}
	if opts.Steps == 0 {
		opts.Steps = 25
	}
	if opts.CFGScale == 0 {
		opts.CFGScale = 5.0
	}
	if opts.SamplerName == "" {
		opts.SamplerName = "euler_ancestral"
	}
	if opts.Scheduler == "" {
		opts.Scheduler = "normal"
	}
}

// GenerateImage renders opts and blocks until the image is available or ctx
// is done.
func (c *ComfyUIClient) GenerateImage(ctx context.Context, opts *GenerateOptions) (*GenerateResult, error) {
	start := time.Now()
	ApplyDefaults(opts)

	promptID, err := c.queuePrompt(ctx, buildSDXLWorkflow(opts))
	if err != nil {
		return nil, fmt.Errorf("failed to queue prompt: %w", err)
	}
	c.log.Debug("Queued ComfyUI prompt", zap.String("prompt_id", promptID))

	info, err := c.waitForImage(ctx, promptID)
	if err != nil {
		return nil, err
	}
	data, err := c.GetImage(ctx, info)
	if err != nil {
		return nil, fmt.Errorf("failed to download image: %w", err)
	}

	return &GenerateResult{
		PromptID:  promptID,
		Filename:  info.Filename,
		ImageData: data,
		Duration:  time.Since(start),
	}, nil
}

// GetImage downloads an output image.
func (c *ComfyUIClient) GetImage(ctx context.Context, info *ImageInfo) ([]byte, error) {
	query := url.Values{}
	query.Set("filename", info.Filename)
	query.Set("subfolder", info.Subfolder)
	query.Set("type", info.Type)

	resp, err := c.get(ctx, "/view?"+query.Encode())
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	return io.ReadAll(resp.Body)
}

// HealthCheck reports whether the server answers.
func (c *ComfyUIClient) HealthCheck(ctx context.Context) error {
	resp, err := c.get(ctx, "/queue")
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

func (c *ComfyUIClient) queuePrompt(ctx context.Context, workflow Workflow) (string, error) {
	body, err := json.Marshal(&PromptRequest{Prompt: workflow, ClientID: c.clientID})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/prompt", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var result promptResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("failed to decode prompt response (status %d): %w", resp.StatusCode, err)
	}
	if resp.StatusCode != http.StatusOK || result.Error != nil {
		return "", fmt.Errorf("ComfyUI rejected prompt (status %d): %v", resp.StatusCode, result.Error)
	}
	if result.PromptID == "" {
		return "", errors.New("invalid response: missing prompt_id")
	}
	return result.PromptID, nil
}

// waitForImage polls the prompt's history until it has an image output.
func (c *ComfyUIClient) waitForImage(ctx context.Context, promptID string) (*ImageInfo, error) {
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("timeout waiting for image: %w", ctx.Err())
		case <-ticker.C:
		}

		item, err := c.history(ctx, promptID)
		if err != nil {
			c.log.Debug("History poll failed", zap.String("prompt_id", promptID), zap.Error(err))
			continue
		}
		if item == nil {
			continue
		}
		if item.Status.StatusStr == "error" {
			return nil, fmt.Errorf("prompt %s failed on the server", promptID)
		}
		for _, output := range item.Outputs {
			if len(output.Images) > 0 {
				img := output.Images[0]
				return &img, nil
			}
		}
		if item.Status.Completed {
			return nil, fmt.Errorf("prompt %s finished without an image", promptID)
		}
	}
}

// history returns the prompt's entry, or nil while it is still queued.
func (c *ComfyUIClient) history(ctx context.Context, promptID string) (*HistoryItem, error) {
	resp, err := c.get(ctx, "/history/"+url.PathEscape(promptID))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var items map[string]HistoryItem
	if err := json.NewDecoder(resp.Body).Decode(&items); err != nil {
		return nil, err
	}
	item, ok := items[promptID]
	if !ok {
		return nil, nil
	}
	return &item, nil
}

func (c *ComfyUIClient) get(ctx context.Context, path string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("ComfyUI returned status %d for %s", resp.StatusCode, path)
	}
	return resp, nil
}

// buildSDXLWorkflow wires checkpoint, prompts and sampler into a text-to-image graph.
func buildSDXLWorkflow(opts *GenerateOptions) Workflow {
	return Workflow{
		"4": {
			ClassType: "CheckpointLoaderSimple",
			Inputs:    map[string]any{"ckpt_name": opts.Checkpoint},
		},
		"5": {
			ClassType: "EmptyLatentImage",
			Inputs: map[string]any{
				"width":      opts.Width,
				"height":     opts.Height,
				"batch_size": 1,
			},
		},
		"6": {
			ClassType: "CLIPTextEncode",
			Inputs:    map[string]any{"text": opts.Prompt, "clip": []any{"4", 1}},
		},
		"7": {
			ClassType: "CLIPTextEncode",
			Inputs:    map[string]any{"text": opts.NegativePrompt, "clip": []any{"4", 1}},
		},
		"3": {
			ClassType: "KSampler",
			Inputs: map[string]any{
				"seed":         opts.Seed,
				"steps":        opts.Steps,
				"cfg":          opts.CFGScale,
				"sampler_name": opts.SamplerName,
				"scheduler":    opts.Scheduler,
				"denoise":      1,
				"model":        []any{"4", 0},
				"positive":     []any{"6", 0},
				"negative":     []any{"7", 0},
				"latent_image": []any{"5", 0},
			},
		},
		"8": {
			ClassType: "VAEDecode",
			Inputs:    map[string]any{"samples": []any{"3", 0}, "vae": []any{"4", 2}},
		},
		"9": {
			ClassType: "SaveImage",
			Inputs:    map[string]any{"images": []any{"8", 0}, "filename_prefix": "bedtime"},
		},
	}
}
