package match

import "sort"

// Nicknames maps a folded first name to its synonyms in preference order.
type Nicknames map[string][]string

var builtinNicknames = map[string][]string{
	"alexander":   {"alex", "sasha"},
	"alexandra":   {"alex", "sandra"},
	"andrew":      {"andy", "drew"},
	"anthony":     {"tony"},
	"benjamin":    {"ben"},
	"catherine":   {"cathy", "kate"},
	"charles":     {"charlie", "chuck"},
	"christopher": {"chris"},
	"daniel":      {"dan", "danny"},
	"david":       {"dave"},
	"deborah":     {"debbie", "deb"},
	"edward":      {"ed", "ted"},
	"elizabeth":   {"liz", "beth", "betty"},
	"francois":    {"frank"},
	"gregory":     {"greg"},
	"james":       {"jim", "jimmy"},
	"jennifer":    {"jen", "jenny"},
	"john":        {"jack", "johnny"},
	"jonathan":    {"jon"},
	"joseph":      {"joe"},
	"katherine":   {"kathy", "kate"},
	"margaret":    {"maggie", "peggy"},
	"matthew":     {"matt"},
	"michael":     {"mike"},
	"nicholas":    {"nick"},
	"patricia":    {"pat", "patty"},
	"patrick":     {"pat"},
	"rebecca":     {"becky"},
	"richard":     {"rick", "dick"},
	"robert":      {"rob", "bob"},
	"samuel":      {"sam"},
	"stephen":     {"steve"},
	"steven":      {"steve"},
	"susan":       {"sue"},
	"thomas":      {"tom"},
	"timothy":     {"tim"},
	"william":     {"will", "bill"},
}

// DefaultNicknames returns a copy of the built-in synonym table.
func DefaultNicknames() Nicknames {
	return NewNicknames(builtinNicknames)
}

// NewNicknames folds names and synonyms, dropping empty entries and
// duplicate synonyms while preserving order.
func NewNicknames(raw map[string][]string) Nicknames {
	table := make(Nicknames, len(raw))
	for name, synonyms := range raw {
		key := foldKey(name)
		if key == "" {
			continue
		}
		table[key] = appendUnique(table[key], key, synonyms)
	}
	return table
}

// Merge returns a table where entries from overrides replace entries of the
// same name.
func (n Nicknames) Merge(overrides Nicknames) Nicknames {
	merged := make(Nicknames, len(n)+len(overrides))
	for k, v := range n {
		merged[k] = append([]string(nil), v...)
	}
	for k, v := range overrides {
		merged[k] = append([]string(nil), v...)
	}
	return merged
}

// Synonyms returns the folded synonyms for a given name.
func (n Nicknames) Synonyms(givenName string) []string {
	if n == nil {
		return nil
	}
	return append([]string(nil), n[foldKey(givenName)]...)
}

// Names returns the table keys in sorted order.
func (n Nicknames) Names() []string {
	names := make([]string, 0, len(n))
	for k := range n {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

func appendUnique(dst []string, self string, synonyms []string) []string {
	seen := make(map[string]struct{}, len(dst)+1)
	seen[self] = struct{}{}
	for _, s := range dst {
		seen[s] = struct{}{}
	}
	for _, s := range synonyms {
		folded := foldKey(s)
		if folded == "" {
			continue
		}
		if _, ok := seen[folded]; ok {
			continue
		}
		seen[folded] = struct{}{}
		dst = append(dst, folded)
	}
	return dst
}
