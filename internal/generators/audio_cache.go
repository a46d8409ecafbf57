package generators

import (
	"crypto/md5"
	"encoding/hex"
	"strconv"
	"time"

	"go.uber.org/zap"
)

// AudioCache stores narrated segments as wav files.
type AudioCache struct {
	*FileCache
}

// NewAudioCache creates an audio cache under dir.
func NewAudioCache(dir string, maxEntries int, ttl time.Duration, log *zap.Logger) *AudioCache {
	return &AudioCache{FileCache: NewFileCache(dir, ".wav", maxEntries, ttl, log)}
}

// AudioKey identifies a narration by its text, voice and speed.
func AudioKey(text, voice string, speed float64) string {
	sum := md5.Sum([]byte(text + "|" + voice + "|" + strconv.FormatFloat(speed, 'f', 2, 64)))
	return hex.EncodeToString(sum[:])
}
