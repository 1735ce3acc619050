package routing

// Hint is the result of evaluating static rules for one request
type Hint struct {
	// Allowed are the candidates surviving filters, in input order
	Allowed []string `json:"allowed"`
	// Filtered are the candidates removed by filters
	Filtered []string `json:"filtered,omitempty"`
	// Restricted is set when at least one filter rule applied
	Restricted bool `json:"restricted"`
	// RankKeys holds one component per applied preference rule, highest priority first
	RankKeys map[string][]int `json:"rank_keys,omitempty"`
	// RuleHits lists the rules that matched each candidate's rank key or filter
	RuleHits map[string][]string `json:"rule_hits,omitempty"`

	Matched   []RuleMatch   `json:"matched,omitempty"`
	Conflicts []RuleMatch   `json:"conflicts,omitempty"`
	Skipped   []SkippedRule `json:"skipped,omitempty"`
}

// Compare orders two candidates by rank key: negative when a comes first,
// zero when the rules leave them tied.
func (h Hint) Compare(a, b string) int {
	ka, kb := h.RankKeys[a], h.RankKeys[b]
	for i := 0; i < len(ka) && i < len(kb); i++ {
		if ka[i] != kb[i] {
			return ka[i] - kb[i]
		}
	}
	return 0
}

// TopTier returns the candidates of ordered that tie with the first one
func (h Hint) TopTier(ordered []string) []string {
	if len(ordered) == 0 {
		return nil
	}
	tier := []string{ordered[0]}
	for _, c := range ordered[1:] {
		if h.Compare(ordered[0], c) != 0 {
			break
		}
		tier = append(tier, c)
	}
	return tier
}

// IsAllowed reports whether candidate survived every applied filter
func (h Hint) IsAllowed(candidate string) bool {
	return SliceContains(h.Allowed, candidate)
}
