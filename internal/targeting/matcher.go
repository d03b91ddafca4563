// Package targeting decides whether an advertiser's geo rules cover a
// screen's location. The matcher is a pure function so the engine can
// log exactly why an ad was or wasn't included on a screen.
package targeting

import (
	"fmt"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Result carries the verdict plus the rule that produced it. The
// reason string ends up in reconciliation reports and audit logs.
type Result struct {
	Match  bool   `json:"match"`
	Reason string `json:"reason"`
}

// prefixes that alias spellings of the same Dutch place name start with
var strippedPrefixes = []string{"de ", "het ", "den ", "'s-", "'s "}

var deaccent = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// Normalize folds a place name into its comparable form: lowercase,
// trimmed, diacritics stripped, leading articles removed.
func Normalize(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	if folded, _, err := transform.String(deaccent, s); err == nil {
		s = folded
	}
	for _, p := range strippedPrefixes {
		if strings.HasPrefix(s, p) {
			s = strings.TrimSpace(strings.TrimPrefix(s, p))
			break
		}
	}
	return s
}

// Match evaluates an advertiser's targeting rules against a screen's
// location. Rules fire in priority order; the first hit wins:
//
//  1. no targeting configured -> nationwide default, match
//  2. no screen location -> cannot geo-target, no match
//  3. exact city, city-as-region-code, exact region
//  4. substring match in either direction (alias spellings)
func Match(screenCity, screenRegion string, targetRegions, targetCities []string) Result {
	regions := normalizeAll(targetRegions)
	cities := normalizeAll(targetCities)

	if len(regions) == 0 && len(cities) == 0 {
		return Result{Match: true, Reason: "nationwide_default"}
	}

	city := Normalize(screenCity)
	region := Normalize(screenRegion)
	if city == "" && region == "" {
		return Result{Match: false, Reason: "no_screen_location"}
	}

	for _, c := range cities {
		if city != "" && city == c {
			return Result{Match: true, Reason: fmt.Sprintf("city_match: %s", strings.TrimSpace(screenCity))}
		}
	}
	// a city rule can name what the screen stored as its region code
	for _, c := range cities {
		if region != "" && region == c {
			return Result{Match: true, Reason: fmt.Sprintf("city_as_region: %s", c)}
		}
	}
	for _, r := range regions {
		if region != "" && region == r {
			return Result{Match: true, Reason: fmt.Sprintf("region_match: %s", r)}
		}
	}

	// partial match catches alias spellings ("den haag" / "'s-gravenhage"
	// won't hit here, but "rotterdam zuid" / "rotterdam" will)
	for _, c := range cities {
		if city != "" && (strings.Contains(city, c) || strings.Contains(c, city)) {
			return Result{Match: true, Reason: fmt.Sprintf("partial_match: %s~%s", city, c)}
		}
	}
	for _, r := range regions {
		if region != "" && (strings.Contains(region, r) || strings.Contains(r, region)) {
			return Result{Match: true, Reason: fmt.Sprintf("partial_match: %s~%s", region, r)}
		}
	}

	return Result{Match: false, Reason: "no_match"}
}

func normalizeAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if n := Normalize(s); n != "" {
			out = append(out, n)
		}
	}
	return out
}
