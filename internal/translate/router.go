package translate

import (
	"strings"

	"github.com/lexiqai/audio-translator/internal/capability"
)

// Model tiers accepted on requests
const (
	TierBasic   = "basic"
	TierPremium = "premium"
)

// Router resolves a model tier to a translator
type Router struct {
	basic   capability.Translator
	premium capability.Translator
}

// NewRouter creates a router. A nil premium translator serves premium
// requests from the basic one.
func NewRouter(basic, premium capability.Translator) *Router {
	if premium == nil {
		premium = basic
	}
	return &Router{basic: basic, premium: premium}
}

// ForTier returns the translator for tier; unknown tiers get basic
func (r *Router) ForTier(tier string) capability.Translator {
	if NormalizeTier(tier) == TierPremium {
		return r.premium
	}
	return r.basic
}

// NormalizeTier lowercases tier and maps unknown values to basic
func NormalizeTier(tier string) string {
	if strings.EqualFold(strings.TrimSpace(tier), TierPremium) {
		return TierPremium
	}
	return TierBasic
}
