package credentials

import "strings"

// ParseScope splits a space-delimited scope string.
func ParseScope(s string) []string {
	return strings.Fields(s)
}

// Missing returns the scopes in required that granted lacks, in required
// order.
func Missing(required, granted []string) []string {
	have := make(map[string]struct{}, len(granted))
	for _, s := range granted {
		have[s] = struct{}{}
	}
	var missing []string
	for _, s := range required {
		if _, ok := have[s]; !ok {
			missing = append(missing, s)
			have[s] = struct{}{}
		}
	}
	return missing
}

// Union returns granted followed by the scopes of required not already in
// it, without duplicates.
func Union(granted, required []string) []string {
	seen := make(map[string]struct{}, len(granted)+len(required))
	out := make([]string, 0, len(granted)+len(required))
	for _, list := range [][]string{granted, required} {
		for _, s := range list {
			if _, ok := seen[s]; ok {
				continue
			}
			seen[s] = struct{}{}
			out = append(out, s)
		}
	}
	return out
}
