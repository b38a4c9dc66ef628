package recommend

import (
	"strings"
	"unicode"
)

// NormalizeGenre lowers, trims, and hyphenates a raw genre label so that
// "Hip Hop", "hip-hop" and "HIP HOP " aggregate into one bucket key.
func NormalizeGenre(raw string) string {
	cleaned := strings.TrimSpace(strings.ToLower(raw))
	if cleaned == "" {
		return ""
	}
	cleaned = stripDiacritics(cleaned)
	return strings.ReplaceAll(cleaned, " ", "-")
}

// NormalizeArtistKey reduces an artist name to a lowercase alphanumeric
// key for fuzzy matching across sources.
func NormalizeArtistKey(name string) string {
	var b strings.Builder
	for _, r := range stripDiacritics(strings.ToLower(name)) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// stripDiacritics drops combining marks and non-ASCII letters that have
// an obvious ASCII base, keeping the rest untouched.
func stripDiacritics(s string) string {
	var b strings.Builder
	for _, r := range s {
		if unicode.Is(unicode.Mn, r) {
			continue
		}
		if base, ok := asciiBase[r]; ok {
			b.WriteRune(base)
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// asciiBase covers the Latin-1 letters that show up in artist and genre
// names often enough to matter for matching.
var asciiBase = map[rune]rune{
	'à': 'a', 'á': 'a', 'â': 'a', 'ã': 'a', 'ä': 'a', 'å': 'a',
	'ç': 'c',
	'è': 'e', 'é': 'e', 'ê': 'e', 'ë': 'e',
	'ì': 'i', 'í': 'i', 'î': 'i', 'ï': 'i',
	'ñ': 'n',
	'ò': 'o', 'ó': 'o', 'ô': 'o', 'õ': 'o', 'ö': 'o', 'ø': 'o',
	'ù': 'u', 'ú': 'u', 'û': 'u', 'ü': 'u',
	'ý': 'y', 'ÿ': 'y',
}

// GenreVariants returns the permutations of a normalized genre used for
// fuzzy matching against artist genre tags.
func GenreVariants(normalized string) map[string]struct{} {
	if normalized == "" {
		return nil
	}
	spaced := strings.ReplaceAll(normalized, "-", " ")
	compact := strings.ReplaceAll(spaced, " ", "")
	variants := map[string]struct{}{
		normalized: {},
		spaced:     {},
		compact:    {},
	}
	if strings.HasSuffix(normalized, "-music") {
		variants[strings.TrimSuffix(normalized, "-music")] = struct{}{}
	}
	switch normalized {
	case "r-b", "r&b":
		variants["r&b"] = struct{}{}
		variants["rb"] = struct{}{}
		variants["r-b"] = struct{}{}
	case "hip-hop":
		variants["hiphop"] = struct{}{}
	}
	delete(variants, "")
	return variants
}

// GenreMatches reports whether any of the candidate's genre tags line up
// with the target genre or one of its variants.
func GenreMatches(target string, variants map[string]struct{}, genres []string) bool {
	if target == "" {
		return true
	}
	compactTarget := strings.ReplaceAll(target, "-", "")
	for _, g := range genres {
		normalized := strings.ToLower(g)
		canonical := strings.ReplaceAll(strings.ReplaceAll(normalized, " ", ""), "-", "")
		if compactTarget != "" && strings.Contains(canonical, compactTarget) {
			return true
		}
		for alias := range variants {
			if alias == normalized || alias == canonical || strings.Contains(canonical, alias) {
				return true
			}
		}
	}
	return false
}

// IsMostlyLatin reports whether at least 40% of a string's letters are
// Latin. Strings without letters pass.
func IsMostlyLatin(text string) bool {
	letters, latin := 0, 0
	for _, r := range text {
		if !unicode.IsLetter(r) {
			continue
		}
		letters++
		if unicode.Is(unicode.Latin, r) {
			latin++
		}
	}
	if letters == 0 {
		return true
	}
	return float64(latin)/float64(letters) >= 0.4
}

// PromptKeywords extracts lowercase alphanumeric keywords of length > 2
// from a prompt, for the title keyword-match factor.
func PromptKeywords(prompt string) map[string]struct{} {
	keywords := make(map[string]struct{})
	var word strings.Builder
	flush := func() {
		if word.Len() > 2 {
			keywords[word.String()] = struct{}{}
		}
		word.Reset()
	}
	for _, r := range strings.ToLower(prompt) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			word.WriteRune(r)
			continue
		}
		flush()
	}
	flush()
	return keywords
}

// PrimaryArtistHint extracts the lead artist from a formatted credit
// string such as "Artist feat. Guest" or "A, B & C".
func PrimaryArtistHint(artist string) string {
	if artist == "" {
		return ""
	}
	lower := strings.ToLower(artist)
	cut := len(artist)
	for _, sep := range []string{",", "&", " feat.", " feat ", " ft.", " ft ", " with "} {
		if idx := strings.Index(lower, sep); idx >= 0 && idx < cut {
			cut = idx
		}
	}
	return strings.TrimSpace(artist[:cut])
}

// dedupSet holds the identities used for cross-source deduplication. A
// track registers under both its catalog ID and its normalized title +
// primary artist key, so the same song surfacing from two sources under
// two different IDs still collapses to one entry.
type dedupSet map[string]struct{}

func (s dedupSet) has(t Track) bool {
	if t.ID != "" {
		if _, ok := s[t.ID]; ok {
			return true
		}
	}
	if t.Title == "" {
		return false
	}
	_, ok := s[TitleArtistKey(t.Title, t.PrimaryArtist())]
	return ok
}

func (s dedupSet) add(t Track) {
	if t.ID != "" {
		s[t.ID] = struct{}{}
	}
	if t.Title != "" {
		s[TitleArtistKey(t.Title, t.PrimaryArtist())] = struct{}{}
	}
}

// TitleArtistKey builds the fallback dedup key for tracks whose IDs
// differ across sources.
func TitleArtistKey(title, artist string) string {
	return NormalizeArtistKey(title) + "::" + NormalizeArtistKey(artist)
}
