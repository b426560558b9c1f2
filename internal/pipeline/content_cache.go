package pipeline

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/lexiqai/audio-translator/internal/apperr"
	"github.com/lexiqai/audio-translator/internal/cache"
	"github.com/lexiqai/audio-translator/internal/observability"
)

// TranscriptKey is the cache key of a transcript
func TranscriptKey(fingerprint string) string {
	return "audio:transcription:" + fingerprint
}

// AudioKey is the cache key of a translated-audio record
func AudioKey(fingerprint, language string) string {
	return fmt.Sprintf("audio:translation:%s:%s", fingerprint, language)
}

// ContentCache stores transcripts and translated-audio records by content.
// Cache failures are logged and read as misses.
type ContentCache struct {
	store         cache.Store
	transcriptTTL time.Duration
	audioTTL      time.Duration
}

// NewContentCache wraps a cache store
func NewContentCache(store cache.Store, transcriptTTL, audioTTL time.Duration) *ContentCache {
	return &ContentCache{store: store, transcriptTTL: transcriptTTL, audioTTL: audioTTL}
}

// GetTranscript returns the cached transcript for a fingerprint
func (c *ContentCache) GetTranscript(ctx context.Context, fingerprint string) (*Transcript, bool) {
	var t Transcript
	hit, err := c.store.GetJSON(ctx, TranscriptKey(fingerprint), &t)
	if err != nil {
		log.Warn().Err(err).Str("fingerprint", fingerprint).Msg("Transcript cache read failed")
		hit = false
	}
	if !hit || t.Text == "" {
		observability.RecordCacheLookup("transcript", "miss")
		return nil, false
	}
	observability.RecordCacheLookup("transcript", "hit")
	return &t, true
}

// PutTranscript stores a transcript
func (c *ContentCache) PutTranscript(ctx context.Context, fingerprint string, t *Transcript) {
	if err := c.store.SetJSON(ctx, TranscriptKey(fingerprint), t, c.transcriptTTL); err != nil {
		log.Warn().Err(err).Str("fingerprint", fingerprint).Msg("Transcript cache write failed")
	}
}

// GetAudio returns the cached record for (fingerprint, language). A record
// whose audio file is gone is deleted and reported as a miss.
func (c *ContentCache) GetAudio(ctx context.Context, fingerprint, language string) (*TranslatedAudioVersion, bool) {
	v, err := c.lookupAudio(ctx, fingerprint, language)
	switch {
	case err == nil && v != nil:
		observability.RecordCacheLookup("translated_audio", "hit")
		return v, true
	case apperr.IsCode(err, apperr.CodeCacheCorruption):
		observability.RecordCacheLookup("translated_audio", "corrupt")
		log.Warn().Err(err).Str("language", language).Msg("Discarding corrupt translated-audio cache entry")
		if err := c.store.Del(ctx, AudioKey(fingerprint, language)); err != nil {
			log.Warn().Err(err).Msg("Failed to delete corrupt cache entry")
		}
	case err != nil:
		log.Warn().Err(err).Str("language", language).Msg("Translated-audio cache read failed")
	}
	observability.RecordCacheLookup("translated_audio", "miss")
	return nil, false
}

func (c *ContentCache) lookupAudio(ctx context.Context, fingerprint, language string) (*TranslatedAudioVersion, error) {
	var v TranslatedAudioVersion
	hit, err := c.store.GetJSON(ctx, AudioKey(fingerprint, language), &v)
	if err != nil || !hit {
		return nil, err
	}
	if v.AudioPath == "" {
		return nil, apperr.E(apperr.CodeCacheCorruption, "ContentCache.GetAudio", "record has no audio path", nil)
	}
	if _, err := os.Stat(v.AudioPath); err != nil {
		return nil, apperr.E(apperr.CodeCacheCorruption, "ContentCache.GetAudio", "cached audio missing", err)
	}
	return &v, nil
}

// PutAudio writes v unless another worker already stored a record for the
// key, in which case the stored record is returned instead.
func (c *ContentCache) PutAudio(ctx context.Context, fingerprint, language string, v *TranslatedAudioVersion) *TranslatedAudioVersion {
	if v.CachedAt.IsZero() {
		v.CachedAt = time.Now().UTC()
	}

	key := AudioKey(fingerprint, language)
	stored, err := c.store.SetJSONIfAbsent(ctx, key, v, c.audioTTL)
	if err != nil {
		log.Warn().Err(err).Str("language", language).Msg("Translated-audio cache write failed")
		return v
	}
	if stored {
		return v
	}

	winner, err := c.lookupAudio(ctx, fingerprint, language)
	if err != nil || winner == nil {
		// The stored entry is unusable; replace it with ours.
		if err := c.store.SetJSON(ctx, key, v, c.audioTTL); err != nil {
			log.Warn().Err(err).Str("language", language).Msg("Translated-audio cache overwrite failed")
		}
		return v
	}
	log.Debug().Str("language", language).Str("audio_path", winner.AudioPath).Msg("Adopting concurrently cached translation")
	return winner
}
