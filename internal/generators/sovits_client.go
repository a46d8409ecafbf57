package generators

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"bedtime-stories/server/internal/interfaces"
)

const (
	defaultSoVITSTimeout = 60 * time.Second
	defaultSpeechLang    = "en"
)

// ErrUnknownVoice is returned for a voice that is not in the voice directory.
var ErrUnknownVoice = fmt.Errorf("%w: unknown voice", interfaces.ErrValidation)

// voiceExtensions lists the reference audio formats GPT-SoVITS accepts.
var voiceExtensions = map[string]bool{
	".wav":  true,
	".mp3":  true,
	".flac": true,
	".ogg":  true,
}

// SoVITSClient talks to a GPT-SoVITS v2 api server.
type SoVITSClient struct {
	httpClient *http.Client
	baseURL    string
	language   string
}

// TTSRequest is the body of POST /tts.
type TTSRequest struct {
	Text         string  `json:"text"`
	TextLang     string  `json:"text_lang"`
	RefAudioPath string  `json:"ref_audio_path"`
	PromptLang   string  `json:"prompt_lang"`
	SpeedFactor  float64 `json:"speed_factor"`
	MediaType    string  `json:"media_type"`
}

// ttsError is the JSON body GPT-SoVITS returns on failure.
type ttsError struct {
	Message string `json:"message"`
}

// NewSoVITSClient creates a client for the server at baseURL.
func NewSoVITSClient(baseURL, language string, timeout time.Duration) *SoVITSClient {
	if timeout <= 0 {
		timeout = defaultSoVITSTimeout
	}
	if language == "" {
		language = defaultSpeechLang
	}
	return &SoVITSClient{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    strings.TrimRight(baseURL, "/"),
		language:   language,
	}
}

// Synthesize reads text aloud in the voice of the reference recording and
// returns the wav bytes.
func (c *SoVITSClient) Synthesize(ctx context.Context, text, refAudioPath string, speed float64) ([]byte, error) {
	if speed <= 0 {
		speed = 1.0
	}
	body, err := json.Marshal(&TTSRequest{
		Text:         text,
		TextLang:     c.language,
		RefAudioPath: refAudioPath,
		PromptLang:   c.language,
		SpeedFactor:  speed,
		MediaType:    "wav",
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/tts", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("tts request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read tts response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		var apiErr ttsError
		if json.Unmarshal(data, &apiErr) == nil && apiErr.Message != "" {
			return nil, fmt.Errorf("tts returned status %d: %s", resp.StatusCode, apiErr.Message)
		}
		return nil, fmt.Errorf("tts returned status %d", resp.StatusCode)
	}
	if len(data) == 0 {
		return nil, errors.New("tts returned no audio")
	}
	return data, nil
}

// HealthCheck reports whether the server answers. GPT-SoVITS rejects a bare
// GET /tts with 400, which still proves it is up.
func (c *SoVITSClient) HealthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/tts", nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusInternalServerError {
		return fmt.Errorf("GPT-SoVITS returned status %d", resp.StatusCode)
	}
	return nil
}

// VoiceLibrary is a directory of reference recordings. A voice is named by
// its file name.
type VoiceLibrary struct {
	dir string
}

// NewVoiceLibrary creates a library over dir.
func NewVoiceLibrary(dir string) *VoiceLibrary {
	return &VoiceLibrary{dir: dir}
}

// List returns the voice names in the directory, sorted.
func (l *VoiceLibrary) List() ([]string, error) {
	entries, err := os.ReadDir(l.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("failed to read voice directory: %w", err)
	}

	voices := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !voiceExtensions[strings.ToLower(filepath.Ext(entry.Name()))] {
			continue
		}
		voices = append(voices, entry.Name())
	}
	sort.Strings(voices)
	return voices, nil
}

// Path resolves a voice name to the absolute path of its recording.
func (l *VoiceLibrary) Path(voice string) (string, error) {
	if voice == "" || voice != filepath.Base(voice) || strings.ContainsAny(voice, `/\`) || strings.HasPrefix(voice, ".") {
		return "", ErrUnknownVoice
	}
	path := filepath.Join(l.dir, voice)
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return "", ErrUnknownVoice
	}
	return filepath.Abs(path)
}
