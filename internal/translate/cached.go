package translate

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/lexiqai/audio-translator/internal/cache"
	"github.com/lexiqai/audio-translator/internal/capability"
	"github.com/lexiqai/audio-translator/internal/observability"
)

// Cached memoizes translations in a cache.Store
type Cached struct {
	next  capability.Translator
	store cache.Store
	tier  string
	ttl   time.Duration
}

var _ capability.Translator = (*Cached)(nil)

// NewCached wraps next. Entries are keyed by tier, language pair and text hash.
func NewCached(next capability.Translator, store cache.Store, tier string, ttl time.Duration) *Cached {
	return &Cached{next: next, store: store, tier: NormalizeTier(tier), ttl: ttl}
}

// Key returns the cache key of one translation
func Key(tier, src, dst, text string) string {
	sum := sha256.Sum256([]byte(text))
	return fmt.Sprintf("text:translation:%s:%s:%s:%s", NormalizeTier(tier), src, dst, hex.EncodeToString(sum[:]))
}

type cachedText struct {
	Text string `json:"text"`
}

func (c *Cached) Translate(ctx context.Context, text, srcLang, dstLang string) (string, error) {
	key := Key(c.tier, srcLang, dstLang, text)

	var hit cachedText
	found, err := c.store.GetJSON(ctx, key, &hit)
	if err != nil {
		log.Warn().Err(err).Str("key", key).Msg("Translation cache read failed")
	}
	if found && hit.Text != "" {
		observability.RecordCacheLookup("text_translation", "hit")
		return hit.Text, nil
	}
	observability.RecordCacheLookup("text_translation", "miss")

	out, err := c.next.Translate(ctx, text, srcLang, dstLang)
	if err != nil {
		return "", err
	}
	if err := c.store.SetJSON(ctx, key, cachedText{Text: out}, c.ttl); err != nil {
		log.Warn().Err(err).Str("key", key).Msg("Translation cache write failed")
	}
	return out, nil
}
