package scheduling

import (
	"strings"

	"github.com/antzucaro/matchr"
)

const (
	defaultPhoneticThreshold = 0.70
	defaultFuzzyThreshold    = 0.85
)

// ResolverOption is a functional option for configuring a [Resolver].
type ResolverOption func(*Resolver)

// WithPhoneticThreshold sets the minimum Jaro-Winkler score required for a
// phonetically-matched resource to be accepted. Default: 0.70.
func WithPhoneticThreshold(threshold float64) ResolverOption {
	return func(r *Resolver) {
		r.phoneticThreshold = threshold
	}
}

// WithFuzzyThreshold sets the minimum Jaro-Winkler score required when no
// phonetic match is found and the resolver falls back to pure string
// similarity. Default: 0.85.
func WithFuzzyThreshold(threshold float64) ResolverOption {
	return func(r *Resolver) {
		r.fuzzyThreshold = threshold
	}
}

// Resolver maps spoken resource names onto backend resource ids. Callers say
// "the blue room"; the backend knows "blue-room". Speech transcription adds
// its own distortions ("court won" for "Court 1"), so exact matching is not
// enough.
//
// Resolution proceeds in three stages:
//
//  1. Exact or normalized-exact match against each resource's id and name.
//  2. Phonetic candidate filtering: Double Metaphone codes are computed for
//     each word of the input and of each resource. A shared code makes the
//     resource a candidate; candidates are ranked by Jaro-Winkler similarity
//     and accepted above the phonetic threshold.
//  3. Pure Jaro-Winkler fallback with a stricter threshold when no phonetic
//     candidate qualifies.
//
// Unresolvable names fall through to the raw input; the backend owns the
// authoritative identity mapping and may still recognize the name.
//
// All methods are safe for concurrent use; the Resolver is read-only after
// construction.
type Resolver struct {
	phoneticThreshold float64
	fuzzyThreshold    float64
}

// NewResolver returns a Resolver configured with the supplied options.
// Default thresholds are 0.70 for phonetic matches and 0.85 for fuzzy
// fallback matches.
func NewResolver(opts ...ResolverOption) *Resolver {
	r := &Resolver{
		phoneticThreshold: defaultPhoneticThreshold,
		fuzzyThreshold:    defaultFuzzyThreshold,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Resolve attempts to map spoken onto one of the given resources.
//
// When resolved is true, id is the matched resource's backend id and
// confidence is the similarity score (1.0 for exact matches). When resolved
// is false, id equals spoken unchanged and confidence is 0.
func (r *Resolver) Resolve(spoken string, resources []Resource) (id string, confidence float64, resolved bool) {
	if len(resources) == 0 || strings.TrimSpace(spoken) == "" {
		return spoken, 0, false
	}

	spokenNorm := normalizeName(spoken)
	spokenTokens := strings.Fields(spokenNorm)

	// Stage 1: exact and normalized-exact short-circuits.
	for _, res := range resources {
		if spokenNorm == normalizeName(res.ID) || spokenNorm == normalizeName(res.Name) {
			return res.ID, 1, true
		}
	}

	inputCodes := codesForTokens(spokenTokens)

	type candidate struct {
		id       string
		score    float64
		phonetic bool
	}

	var best candidate

	for _, res := range resources {
		// Both the display name and the id are matchable surfaces.
		for _, surface := range []string{res.Name, res.ID} {
			surfaceNorm := normalizeName(surface)
			if surfaceNorm == "" {
				continue
			}
			surfaceTokens := strings.Fields(surfaceNorm)

			surfaceCodes := codesForTokens(surfaceTokens)
			phoneticMatch := codesOverlap(inputCodes, surfaceCodes)

			jwScore := bestJWScore(spokenTokens, surfaceTokens, spokenNorm, surfaceNorm)

			if phoneticMatch {
				if jwScore >= r.phoneticThreshold {
					if !best.phonetic || jwScore > best.score {
						best = candidate{id: res.ID, score: jwScore, phonetic: true}
					}
				}
			} else if !best.phonetic {
				if jwScore >= r.fuzzyThreshold && jwScore > best.score {
					best = candidate{id: res.ID, score: jwScore, phonetic: false}
				}
			}
		}
	}

	if best.id != "" {
		return best.id, best.score, true
	}
	return spoken, 0, false
}

// normalizeName lowercases a resource name and folds separator punctuation
// into single spaces, so "Blue-Room", "blue_room" and "Blue Room" compare
// equal.
func normalizeName(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.NewReplacer("-", " ", "_", " ", ".", " ").Replace(s)
	return strings.Join(strings.Fields(s), " ")
}

// codesForTokens returns the union of all Double Metaphone codes for the
// given tokens. Empty codes (produced when the word is too short or contains
// no consonants) are excluded.
func codesForTokens(tokens []string) map[string]struct{} {
	codes := make(map[string]struct{}, len(tokens)*2)
	for _, t := range tokens {
		p, s := matchr.DoubleMetaphone(t)
		if p != "" {
			codes[p] = struct{}{}
		}
		if s != "" {
			codes[s] = struct{}{}
		}
	}
	return codes
}

// codesOverlap returns true if the two code sets share at least one code.
func codesOverlap(a, b map[string]struct{}) bool {
	// Iterate over the smaller set for efficiency.
	if len(a) > len(b) {
		a, b = b, a
	}
	for code := range a {
		if _, ok := b[code]; ok {
			return true
		}
	}
	return false
}

// bestJWScore computes the highest Jaro-Winkler similarity between the input
// and the resource surface using three strategies:
//
//  1. Full-string comparison (e.g., "blue rum" vs "blue room").
//  2. Space-stripped comparison (e.g., "bluerum" vs "blueroom").
//  3. Best pairwise word comparison: the maximum JW score between any input
//     token and any surface token (useful when one spoken word corresponds to
//     one name word).
//
// longTolerance is passed as false to use standard Jaro-Winkler scoring.
func bestJWScore(inputTokens, surfaceTokens []string, inputFull, surfaceFull string) float64 {
	// Strategy 1: full strings.
	score := matchr.JaroWinkler(inputFull, surfaceFull, false)

	// Strategy 2: concatenated (no spaces).
	if len(inputTokens) > 1 || len(surfaceTokens) > 1 {
		concat1 := strings.Join(inputTokens, "")
		concat2 := strings.Join(surfaceTokens, "")
		if s := matchr.JaroWinkler(concat1, concat2, false); s > score {
			score = s
		}
	}

	// Strategy 3: best pairwise token score.
	for _, it := range inputTokens {
		for _, st := range surfaceTokens {
			if s := matchr.JaroWinkler(it, st, false); s > score {
				score = s
			}
		}
	}

	return score
}
