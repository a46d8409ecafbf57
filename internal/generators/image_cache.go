package generators

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// ImageCache stores rendered illustrations as png files.
type ImageCache struct {
	*FileCache
}

// NewImageCache creates an image cache under dir.
func NewImageCache(dir string, maxEntries int, ttl time.Duration, log *zap.Logger) *ImageCache {
	return &ImageCache{FileCache: NewFileCache(dir, ".png", maxEntries, ttl, log)}
}

// ImageKey identifies a render by everything that changes its pixels.
func ImageKey(opts *GenerateOptions) string {
	raw := fmt.Sprintf("%s|%s|%d|%dx%d|%d|%.2f|%s",
		opts.Prompt, opts.NegativePrompt, opts.Seed, opts.Width, opts.Height, opts.Steps, opts.CFGScale, opts.Checkpoint)
	sum := md5.Sum([]byte(raw))
	return hex.EncodeToString(sum[:])
}
