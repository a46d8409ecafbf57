package web

import (
	"fmt"
	"net/http"
	"path/filepath"
	"strconv"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"bedtime-stories/server/internal/generators"
	"bedtime-stories/server/internal/interfaces"
)

// AudioRequest asks for text to be narrated.
type AudioRequest struct {
	Text  string  `json:"text"`
	Voice string  `json:"voice"`
	Speed float64 `json:"speed,omitempty"`
}

// Validate requires text and keeps speed within what GPT-SoVITS accepts.
func (r AudioRequest) Validate() error {
	err := validation.ValidateStruct(&r,
		validation.Field(&r.Text, validation.Required),
		validation.Field(&r.Voice, validation.Required),
		validation.Field(&r.Speed, validation.Min(0.0), validation.Max(maxSpeed)),
	)
	if err != nil {
		return fmt.Errorf("%w: %v", interfaces.ErrValidation, err)
	}
	return nil
}

const (
	maxSpeed     = 2.0
	minDimension = 256
	maxDimension = 2048
)

// ImageRequest asks for an illustration.
type ImageRequest struct {
	Cues           []string `json:"cues"`
	Character      string   `json:"character,omitempty"`
	Place          string   `json:"place,omitempty"`
	Mood           string   `json:"mood,omitempty"`
	Style          string   `json:"style,omitempty"`
	NegativePrompt string   `json:"negative_prompt,omitempty"`
	Seed           int64    `json:"seed,omitempty"`
	RandomSeed     bool     `json:"random_seed,omitempty"`
	Width          int      `json:"width,omitempty"`
	Height         int      `json:"height,omitempty"`
}

// Validate requires something to draw. Zero width and height use the
// renderer's default.
func (r ImageRequest) Validate() error {
	err := validation.ValidateStruct(&r,
		validation.Field(&r.Cues, validation.Required.When(r.Character == "").Error("cues or a character are required")),
		validation.Field(&r.Width, validation.Min(minDimension), validation.Max(maxDimension)),
		validation.Field(&r.Height, validation.Min(minDimension), validation.Max(maxDimension)),
		validation.Field(&r.Seed, validation.Min(int64(0))),
	)
	if err != nil {
		return fmt.Errorf("%w: %v", interfaces.ErrValidation, err)
	}
	return nil
}

// ListVoices returns the reference voices available for narration.
func (h *Handlers) ListVoices(w http.ResponseWriter, r *http.Request) {
	if h.narrator == nil {
		writeMessage(w, http.StatusServiceUnavailable, "narration is not configured")
		return
	}
	voices, err := h.narrator.Voices(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, voices)
}

// GenerateAudio narrates text and serves the wav file.
func (h *Handlers) GenerateAudio(w http.ResponseWriter, r *http.Request) {
	if h.narrator == nil {
		writeMessage(w, http.StatusServiceUnavailable, "narration is not configured")
		return
	}
	var req AudioRequest
	if err := decodeJSON(r, &req); err != nil {
		writeMessage(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if err := req.Validate(); err != nil {
		h.writeError(w, r, err)
		return
	}

	resp, err := h.narrator.Narrate(r.Context(), &interfaces.AudioRequest{
		Text:  req.Text,
		Voice: req.Voice,
		Speed: req.Speed,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "audio/wav")
	w.Header().Set("X-Cache", cacheHeader(resp.Cached))
	http.ServeFile(w, r, resp.AudioPath)
}

// ListStyles returns the illustration style presets.
func (h *Handlers) ListStyles(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, generators.Styles())
}

// GenerateImage illustrates cues and serves the png file.
func (h *Handlers) GenerateImage(w http.ResponseWriter, r *http.Request) {
	if h.illustrator == nil {
		writeMessage(w, http.StatusServiceUnavailable, "illustration is not configured")
		return
	}
	var req ImageRequest
	if err := decodeJSON(r, &req); err != nil {
		writeMessage(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if err := req.Validate(); err != nil {
		h.writeError(w, r, err)
		return
	}

	resp, err := h.illustrator.Illustrate(r.Context(), &interfaces.ImageRequest{
		Cues:           req.Cues,
		Character:      req.Character,
		Place:          req.Place,
		Mood:           req.Mood,
		Style:          req.Style,
		NegativePrompt: req.NegativePrompt,
		Seed:           req.Seed,
		RandomSeed:     req.RandomSeed,
		Width:          req.Width,
		Height:         req.Height,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("X-Cache", cacheHeader(resp.Cached))
	w.Header().Set("X-Seed", strconv.FormatInt(resp.Seed, 10))
	w.Header().Set("Content-Disposition", "inline; filename="+strconv.Quote(filepath.Base(resp.ImagePath)))
	http.ServeFile(w, r, resp.ImagePath)
}

func cacheHeader(hit bool) string {
	if hit {
		return "HIT"
	}
	return "MISS"
}
