package generators

import (
	"math"
	"math/rand/v2"
	"strings"
)

// DefaultStyle leaves the prompt untouched.
const DefaultStyle = "(No style)"

// MaxSeed bounds random sampler seeds.
const MaxSeed = math.MaxInt32

// StylePreset wraps a prompt in a named art style.
type StylePreset struct {
	Name     string `json:"name"`
	Prompt   string `json:"prompt"`
	Negative string `json:"negative_prompt"`
}

var stylePresets = []StylePreset{
	{
		Name:   DefaultStyle,
		Prompt: "{prompt}",
	},
	{
		Name:     "3D Model",
		Prompt:   "3d style {prompt} . professional 3d model, smooth surfaces, cartoon character, highly detailed, vibrant colors, dramatic lighting, cute, whimsical, octane render, playful design, volumetric, key visual",
		Negative: "ugly, deformed, disfigured, noisy, low poly, blurry, painting, photo, black and white, realism, low contrast, harsh shadows, photorealistic",
	},
	{
		Name:     "Anime",
		Prompt:   "anime artwork {prompt} . anime style, key visual, vibrant, studio anime, highly detailed",
		Negative: "photo, deformed, black and white, realism, disfigured, low contrast",
	},
	{
		Name:     "Digital Art",
		Prompt:   "concept art {prompt} . digital artwork, illustrative, painterly, matte painting, highly detailed",
		Negative: "photo, photorealistic, realism, ugly",
	},
	{
		Name:     "Photographic",
		Prompt:   "cinematic photo {prompt} . 35mm photograph, film, bokeh, professional, 4k, highly detailed",
		Negative: "drawing, painting, crayon, sketch, graphite, impressionist, noisy, blurry, soft, deformed, ugly",
	},
	{
		Name:     "Pixel art",
		Prompt:   "pixel-art {prompt} . low-res, blocky, pixel art style, 8-bit graphics",
		Negative: "sloppy, messy, blurry, noisy, highly detailed, ultra textured, photo, realistic",
	},
	{
		Name:     "Fantasy art",
		Prompt:   "ethereal fantasy concept art of {prompt} . magnificent, celestial, ethereal, painterly, epic, majestic, magical, fantasy art, cover art, dreamy",
		Negative: "photographic, realistic, realism, 35mm film, dslr, cropped, frame, text, deformed, glitch, noise, noisy, off-center, cross-eyed, closed eyes, bad anatomy, ugly, disfigured, sloppy, duplicate, mutated, black and white",
	},
	{
		Name:     "Neonpunk",
		Prompt:   "neonpunk style {prompt} . cyberpunk, vaporwave, neon, vibes, vibrant, stunningly beautiful, crisp, detailed, sleek, ultramodern, magenta highlights, dark purple shadows, high contrast, cinematic, ultra detailed, intricate, professional",
		Negative: "painting, drawing, illustration, glitch, deformed, mutated, cross-eyed, ugly, disfigured",
	},
	{
		Name:     "Manga",
		Prompt:   "manga style {prompt} . vibrant, high-energy, detailed, iconic, Japanese comic style",
		Negative: "ugly, deformed, noisy, blurry, low contrast, realism, photorealistic, Western comic style",
	},
}

// Styles returns the presets in display order.
func Styles() []StylePreset {
	return append([]StylePreset(nil), stylePresets...)
}

// StyleNames returns the preset names in display order.
func StyleNames() []string {
	names := make([]string, len(stylePresets))
	for i, s := range stylePresets {
		names[i] = s.Name
	}
	return names
}

// ApplyStyle wraps positive in the named style and appends negative to the
// style's negative prompt. Unknown names use DefaultStyle.
func ApplyStyle(style, positive, negative string) (string, string) {
	preset := stylePresets[0]
	for _, s := range stylePresets {
		if s.Name == style {
			preset = s
			break
		}
	}
	return strings.ReplaceAll(preset.Prompt, "{prompt}", positive),
		strings.TrimSpace(preset.Negative + " " + negative)
}

// RandomSeed picks a seed in [0, MaxSeed].
func RandomSeed() int64 {
	return rand.Int64N(MaxSeed + 1)
}
