package providers

import "strings"

// Legal suffixes stripped when guessing a domain, checked in order.
var domainSuffixes = []string{"inc", "llc", "corp", "ltd", "company", "co", "group"}

// GuessDomain derives a likely website domain from a company name:
// lowercase, punctuation and spaces removed, trailing legal suffixes
// stripped, ".com" appended. Heuristic only; contact sources use it when
// no domain was discovered.
func GuessDomain(company string) string {
	clean := strings.ToLower(company)
	clean = strings.NewReplacer(" ", "", ",", "", ".", "", "'", "").Replace(clean)
	for _, suffix := range domainSuffixes {
		clean = strings.TrimSuffix(clean, suffix)
	}
	if clean == "" {
		return ""
	}
	return clean + ".com"
}

// MatchesRole reports whether a job title matches any of the target
// roles, case-insensitive substring match.
func MatchesRole(title string, roles []string) bool {
	if title == "" {
		return false
	}
	lower := strings.ToLower(title)
	for _, role := range roles {
		if role == "" {
			continue
		}
		if strings.Contains(lower, strings.ToLower(role)) {
			return true
		}
	}
	return false
}
