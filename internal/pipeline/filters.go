package pipeline

import (
	"strings"
	"unicode"

	"golang.org/x/text/language"

	"github.com/lexiqai/audio-translator/internal/capability"
)

// Phrases transcription backends emit on silence, music or noise.
var defaultHallucinations = map[string][]string{
	"*":  {"[music]", "[musique]", "[silence]", "[applause]", "[laughter]", "♪", "..."},
	"en": {"thank you for watching", "thanks for watching", "please subscribe", "like and subscribe", "subtitles by the amara.org community", "you", "bye"},
	"fr": {"merci d'avoir regardé", "merci d'avoir regardé cette vidéo", "sous-titres réalisés par la communauté d'amara.org", "abonnez-vous", "merci"},
	"es": {"gracias por ver", "gracias por ver el video", "subtítulos realizados por la comunidad de amara.org", "suscríbete"},
	"de": {"vielen dank fürs zuschauen", "untertitel der amara.org-community", "untertitel im auftrag des zdf"},
	"pt": {"obrigado por assistir", "legendas pela comunidade amara.org"},
	"it": {"grazie per la visione", "sottotitoli creati dalla comunità amara.org"},
	"ru": {"продолжение следует", "спасибо за просмотр"},
	"ja": {"ご視聴ありがとうございました"},
	"zh": {"谢谢观看", "字幕由amara.org社区提供"},
}

// ISO 15924 codes to the unicode tables that count as a match
var scriptTables = map[string][]*unicode.RangeTable{
	"Latn": {unicode.Latin},
	"Cyrl": {unicode.Cyrillic},
	"Grek": {unicode.Greek},
	"Arab": {unicode.Arabic},
	"Hebr": {unicode.Hebrew},
	"Deva": {unicode.Devanagari},
	"Beng": {unicode.Bengali},
	"Taml": {unicode.Tamil},
	"Thai": {unicode.Thai},
	"Geor": {unicode.Georgian},
	"Armn": {unicode.Armenian},
	"Ethi": {unicode.Ethiopic},
	"Hans": {unicode.Han},
	"Hant": {unicode.Han},
	"Hani": {unicode.Han},
	"Jpan": {unicode.Han, unicode.Hiragana, unicode.Katakana},
	"Kore": {unicode.Hangul, unicode.Han},
}

const minScriptRatio = 0.5

// artifactFilter drops segments that are provider artifacts rather than speech
type artifactFilter struct {
	phrases       map[string]map[string]struct{}
	scripts       map[string]string
	maxDurationMs int
	minConfidence float64
}

func newArtifactFilter(opts Options) *artifactFilter {
	f := &artifactFilter{
		phrases:       make(map[string]map[string]struct{}),
		scripts:       opts.Scripts,
		maxDurationMs: opts.ArtifactMaxDurationMs,
		minConfidence: opts.ArtifactMinConfidence,
	}
	add := func(src map[string][]string) {
		for lang, list := range src {
			lang = baseLanguage(lang)
			if f.phrases[lang] == nil {
				f.phrases[lang] = make(map[string]struct{})
			}
			for _, p := range list {
				f.phrases[lang][normalizePhrase(p)] = struct{}{}
			}
		}
	}
	add(defaultHallucinations)
	add(opts.Hallucinations)
	return f
}

// Filter returns the segments worth keeping and the number dropped
func (f *artifactFilter) Filter(segments []capability.Segment, lang string) ([]capability.Segment, int) {
	kept := make([]capability.Segment, 0, len(segments))
	for _, seg := range segments {
		segLang := seg.Language
		if segLang == "" {
			segLang = lang
		}
		if strings.TrimSpace(seg.Text) == "" || f.isHallucination(seg, segLang) || f.scriptMismatch(seg.Text, segLang) {
			continue
		}
		kept = append(kept, seg)
	}
	return kept, len(segments) - len(kept)
}

// isHallucination matches denylisted phrases, but only on near-zero or
// low-confidence segments so genuine short replies survive.
func (f *artifactFilter) isHallucination(seg capability.Segment, lang string) bool {
	if seg.DurationMs() > f.maxDurationMs && seg.Confidence >= f.minConfidence {
		return false
	}
	text := normalizePhrase(seg.Text)
	if _, ok := f.phrases["*"][text]; ok {
		return true
	}

	base := baseLanguage(lang)
	if base == "" {
		for _, set := range f.phrases {
			if _, ok := set[text]; ok {
				return true
			}
		}
		return false
	}
	_, ok := f.phrases[base][text]
	return ok
}

// scriptMismatch reports whether most letters fall outside the script
// expected for lang
func (f *artifactFilter) scriptMismatch(text, lang string) bool {
	tables := f.expectedScript(lang)
	if tables == nil {
		return false
	}

	letters, matching := 0, 0
	for _, r := range text {
		if !unicode.IsLetter(r) {
			continue
		}
		letters++
		if unicode.In(r, tables...) {
			matching++
		}
	}
	if letters == 0 {
		return false
	}
	return float64(matching)/float64(letters) < minScriptRatio
}

func (f *artifactFilter) expectedScript(lang string) []*unicode.RangeTable {
	if lang == "" {
		return nil
	}
	if code, ok := f.scripts[lang]; ok {
		return scriptTables[code]
	}
	if code, ok := f.scripts[baseLanguage(lang)]; ok {
		return scriptTables[code]
	}

	tag, err := language.Parse(lang)
	if err != nil {
		return nil
	}
	script, conf := tag.Script()
	if conf == language.No {
		return nil
	}
	return scriptTables[script.String()]
}

func baseLanguage(lang string) string {
	if lang == "" || lang == "*" {
		return lang
	}
	tag, err := language.Parse(lang)
	if err != nil {
		return strings.ToLower(lang)
	}
	base, _ := tag.Base()
	return base.String()
}

func normalizePhrase(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.Trim(s, " .,!?¡¿\"'«»“”…")
	return strings.Join(strings.Fields(s), " ")
}
