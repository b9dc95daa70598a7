package pagination

import (
	"strings"

	"github.com/uniauth/identity-core/pkg/identity"
)

// SearchTags is the raw search input as the admin surface receives it: one
// ";"-separated list of substrings per identifier kind.
type SearchTags struct {
	Email    string
	Phone    string
	Provider string
}

// Filter parses the tags into a normalized identity.SearchFilter. Terms are
// trimmed and lowercased; a tag consisting only of separators or whitespace
// degrades to no filter on that field, the same as omitting it. This is
// deliberately permissive: an empty token never means "match nothing".
func (t SearchTags) Filter() identity.SearchFilter {
	return identity.SearchFilter{
		Emails:    splitTerms(t.Email),
		Phones:    splitTerms(t.Phone),
		Providers: splitTerms(t.Provider),
	}
}

func splitTerms(tag string) []string {
	var terms []string
	for _, part := range strings.Split(tag, ";") {
		part = strings.ToLower(strings.TrimSpace(part))
		if part != "" {
			terms = append(terms, part)
		}
	}
	return terms
}
