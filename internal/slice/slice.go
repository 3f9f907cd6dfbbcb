// Package slice provides small, allocation-conscious helpers for the
// string slices scattered through configuration validation (ALPN
// protocol lists, rate-limit whitelist/blacklist entries).
package slice

// RemoveString returns a new slice with every occurrence of s removed
// from in. The input is left unmodified.
func RemoveString(in []string, s string) []string {
	var out []string
	for _, v := range in {
		if v == s {
			continue
		}
		out = append(out, v)
	}
	return out
}

// ContainsString reports whether s appears anywhere in in.
func ContainsString(in []string, s string) bool {
	for _, v := range in {
		if v == s {
			return true
		}
	}
	return false
}
