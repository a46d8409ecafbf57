package interfaces

import "context"

// AudioRequest asks for a segment to be read aloud.
type AudioRequest struct {
	Text  string
	Voice string // reference speaker
	Speed float64
}

// AudioResponse points at the synthesized audio on disk.
type AudioResponse struct {
	AudioPath string
	Cached    bool
}

// ImageRequest asks for an illustration of a segment's cues.
type ImageRequest struct {
	Cues           []string
	Character      string
	Place          string
	Mood           string
	Style          string
	NegativePrompt string
	Seed           int64
	RandomSeed     bool
	Width          int
	Height         int
}

// ImageResponse points at the generated image on disk.
type ImageResponse struct {
	ImagePath string
	Prompt    string
	Seed      int64
	Cached    bool
}

// Narrator renders story text as speech.
type Narrator interface {
	Narrate(ctx context.Context, req *AudioRequest) (*AudioResponse, error)
	Voices(ctx context.Context) ([]string, error)
}

// Illustrator renders illustration cues as an image.
type Illustrator interface {
	Illustrate(ctx context.Context, req *ImageRequest) (*ImageResponse, error)
}
