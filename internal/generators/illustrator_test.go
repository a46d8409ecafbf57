package generators

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bedtime-stories/server/internal/interfaces"
)

// fakeComfyUI answers the first history poll with an empty body, then with
// a finished image.
type fakeComfyUI struct {
	t       *testing.T
	prompts atomic.Int32
	polls   atomic.Int32

	mu   sync.Mutex
	last PromptRequest
}

func (f *fakeComfyUI) lastPrompt() Workflow {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.last.Prompt
}

func (f *fakeComfyUI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch {
	case r.Method == http.MethodPost && r.URL.Path == "/prompt":
		f.prompts.Add(1)
		f.mu.Lock()
		err := json.NewDecoder(r.Body).Decode(&f.last)
		f.mu.Unlock()
		assert.NoError(f.t, err)
		_, _ = w.Write([]byte(`{"prompt_id":"p-1","number":0,"node_errors":{}}`))
	case r.URL.Path == "/history/p-1":
		if f.polls.Add(1) == 1 {
			_, _ = w.Write([]byte(`{}`))
			return
		}
		_, _ = w.Write([]byte(`{"p-1":{"outputs":{"9":{"images":[{"filename":"bedtime_00001_.png","subfolder":"","type":"output"}]}},"status":{"status_str":"success","completed":true}}}`))
	case r.URL.Path == "/view":
		assert.Equal(f.t, "bedtime_00001_.png", r.URL.Query().Get("filename"))
		assert.Equal(f.t, "output", r.URL.Query().Get("type"))
		_, _ = w.Write([]byte("PNGDATA"))
	case r.URL.Path == "/queue":
		_, _ = w.Write([]byte(`{"queue_running":[],"queue_pending":[]}`))
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func newIllustrationService(t *testing.T, fake http.Handler) *IllustrationService {
	t.Helper()
	server := httptest.NewServer(fake)
	t.Cleanup(server.Close)

	client := NewComfyUIClient(server.URL, 5*time.Second, nil)
	client.SetPollInterval(5 * time.Millisecond)

	cache := NewImageCache(t.TempDir(), 10, time.Hour, nil)
	require.NoError(t, cache.Load())

	queue := NewRenderQueue(1, 4, nil)
	queue.Start(context.Background())
	t.Cleanup(queue.Stop)

	return NewIllustrationService(client, cache, queue, nil, "sd_xl_base_1.0.safetensors", nil)
}

func TestIllustrationService_Illustrate(t *testing.T) {
	fake := &fakeComfyUI{t: t}
	svc := newIllustrationService(t, fake)

	req := &interfaces.ImageRequest{
		Cues:      []string{"purple-unicorn", "lantern"},
		Character: "Mira",
		Place:     "a moonlit forest",
		Style:     "Fantasy art",
		Seed:      42,
	}
	resp, err := svc.Illustrate(context.Background(), req)
	require.NoError(t, err)
	assert.False(t, resp.Cached)
	assert.Equal(t, int64(42), resp.Seed)
	assert.True(t, strings.HasPrefix(resp.Prompt, "ethereal fantasy concept art of "))
	assert.Contains(t, resp.Prompt, "purple unicorn, lantern, with Mira in a moonlit forest")
	assert.Contains(t, resp.Prompt, "dreamy mood")

	data, err := os.ReadFile(resp.ImagePath)
	require.NoError(t, err)
	assert.Equal(t, "PNGDATA", string(data))

	workflow := fake.lastPrompt()
	sampler := workflow["3"]
	require.NotNil(t, sampler)
	assert.EqualValues(t, 42, sampler.Inputs["seed"])
	assert.EqualValues(t, 25, sampler.Inputs["steps"])
	assert.Equal(t, "sd_xl_base_1.0.safetensors", workflow["4"].Inputs["ckpt_name"])
	assert.Contains(t, workflow["7"].Inputs["text"], "photographic")

	again, err := svc.Illustrate(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, again.Cached)
	assert.Equal(t, int32(1), fake.prompts.Load())
}

func TestIllustrationService_RandomSeed(t *testing.T) {
	svc := newIllustrationService(t, &fakeComfyUI{t: t})

	resp, err := svc.Illustrate(context.Background(), &interfaces.ImageRequest{Cues: []string{"owl"}, RandomSeed: true, Seed: -1})
	require.NoError(t, err)
	assert.GreaterOrEqual(t, resp.Seed, int64(0))
}

func TestIllustrationService_Errors(t *testing.T) {
	svc := newIllustrationService(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"type":"prompt_outputs_failed_validation"},"node_errors":{}}`))
	}))

	_, err := svc.Illustrate(context.Background(), &interfaces.ImageRequest{})
	assert.ErrorIs(t, err, interfaces.ErrValidation)

	_, err = svc.Illustrate(context.Background(), &interfaces.ImageRequest{Cues: []string{"owl"}})
	assert.ErrorIs(t, err, interfaces.ErrAssetUnavailable)
}

func TestComfyUIClient_HealthCheck(t *testing.T) {
	server := httptest.NewServer(&fakeComfyUI{t: t})
	defer server.Close()
	assert.NoError(t, NewComfyUIClient(server.URL, time.Second, nil).HealthCheck(context.Background()))
}

func TestBuildSDXLWorkflow(t *testing.T) {
	opts := &GenerateOptions{Prompt: "owl", NegativePrompt: "scary", Checkpoint: "base.safetensors"}
	ApplyDefaults(opts)
	wf := buildSDXLWorkflow(opts)

	assert.Len(t, wf, 7)
	assert.Equal(t, "KSampler", wf["3"].ClassType)
	assert.Equal(t, 1024, wf["5"].Inputs["width"])
	assert.Equal(t, "euler_ancestral", wf["3"].Inputs["sampler_name"])
	assert.Equal(t, []any{"4", 2}, wf["8"].Inputs["vae"])
}
