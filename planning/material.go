package planning

import "strings"

// ResolveMaterial maps free-text material input ("6061 aluminum billet") to a
// cutting-speed catalog key. Every key that appears as a substring of the
// lowercased input is a candidate and the longest one wins, so "stainless
// steel" resolves to "stainless" rather than "steel". Among equal-length
// matches the pick is arbitrary; keys are scanned in sorted order so it is at
// least stable, but callers must not depend on which one wins.
func (c *Catalog) ResolveMaterial(text string) (string, bool) {
	text = strings.ToLower(strings.TrimSpace(text))
	if text == "" {
		return "", false
	}

	var best string
	for _, key := range c.Materials() {
		if strings.Contains(text, key) && len(key) > len(best) {
			best = key
		}
	}
	if best == "" {
		return "", false
	}
	return best, true
}
