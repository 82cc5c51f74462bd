package match

import "strings"

// nicknameRankBase is the first rank used by nickname-substituted candidates.
const nicknameRankBase = 6

// GenerateOptions controls candidate generation.
type GenerateOptions struct {
	Domain       string
	UseNicknames bool
	Nicknames    Nicknames
}

// GenerateCandidates returns the ordered, de-duplicated candidate keys for a
// principal:
//
//	0 localPart@domain
//	1 first@domain
//	2 f + last@domain
//	3 f + m + last@domain (middle name present)
//	4 first + l@domain
//	5 first.last@domain
//
// With nicknames enabled, ranks 1-5 repeat for each synonym of the first
// name in table order, starting at rank 6. A key produced twice keeps the
// rank of its first occurrence. Rules whose inputs are empty are skipped.
// Rank 0 keeps the local part as written apart from case; only the
// name-derived ranks are folded to [a-z0-9._-].
func GenerateCandidates(p Principal, opts GenerateOptions) []CandidateIdentity {
	domain := NormalizeDomain(opts.Domain)
	if domain == "" {
		return nil
	}

	var out []CandidateIdentity
	seen := make(map[string]struct{})
	add := func(local string, rule Rule, rank int, given string, nickname bool) {
		if local == "" {
			return
		}
		key := local + "@" + domain
		if _, dup := seen[key]; dup {
			return
		}
		seen[key] = struct{}{}
		out = append(out, CandidateIdentity{Key: key, Rule: rule, Rank: rank, GivenName: given, Nickname: nickname})
	}

	add(strings.ToLower(strings.TrimSpace(p.LocalPart())), RuleExact, 0, p.GivenName, false)

	last := foldKey(p.Surname)
	middle := foldKey(p.MiddleName)
	first := foldKey(p.GivenName)
	for r, rule := range nameRules {
		add(nameKey(rule, first, middle, last), rule, r+1, p.GivenName, false)
	}

	if !opts.UseNicknames {
		return out
	}
	for i, synonym := range opts.Nicknames.Synonyms(p.GivenName) {
		for r, rule := range nameRules {
			add(nameKey(rule, synonym, middle, last), rule, nicknameRankBase+i*len(nameRules)+r, synonym, true)
		}
	}
	return out
}

func nameKey(rule Rule, first, middle, last string) string {
	if first == "" {
		return ""
	}
	switch rule {
	case RuleFirstName:
		return first
	case RuleFirstInitialLast:
		if last == "" {
			return ""
		}
		return initial(first) + last
	case RuleInitialsLast:
		if last == "" || middle == "" {
			return ""
		}
		return initial(first) + initial(middle) + last
	case RuleFirstLastInitial:
		if last == "" {
			return ""
		}
		return first + initial(last)
	case RuleFirstDotLast:
		if last == "" {
			return ""
		}
		return first + "." + last
	}
	return ""
}
