package match

import (
	"fmt"
	"strings"
)

// Rule identifies how a candidate key was generated.
type Rule string

const (
	RuleExact            Rule = "exact"
	RuleFirstName        Rule = "first_name"
	RuleFirstInitialLast Rule = "first_initial_last"
	RuleInitialsLast     Rule = "first_middle_initial_last"
	RuleFirstLastInitial Rule = "first_last_initial"
	RuleFirstDotLast     Rule = "first_dot_last"
)

// nameRules are the rules repeated for every nickname synonym, in order.
var nameRules = []Rule{
	RuleFirstName,
	RuleFirstInitialLast,
	RuleInitialsLast,
	RuleFirstLastInitial,
	RuleFirstDotLast,
}

// CandidateIdentity is one generated guess for a remote key. Candidates live
// for a single resolution and are never persisted.
type CandidateIdentity struct {
	Key  string
	Rule Rule
	// Rank orders candidates; lower ranks are tried first.
	Rank int
	// GivenName is the first name the key was built from. It differs from the
	// principal's given name for nickname-substituted candidates.
	GivenName string
	Nickname  bool
}

func (c CandidateIdentity) String() string {
	if c.Nickname {
		return fmt.Sprintf("%d:%s(%s, nickname %s)", c.Rank, c.Key, c.Rule, c.GivenName)
	}
	return fmt.Sprintf("%d:%s(%s)", c.Rank, c.Key, c.Rule)
}

// Principal is an on-premises directory record.
type Principal struct {
	SamAccountName string
	UPN            string
	GivenName      string
	Surname        string
	MiddleName     string
	ObjectID       string
	Enabled        bool
}

// Key identifies the principal in reports, preferring the UPN.
func (p Principal) Key() string {
	if p.UPN != "" {
		return p.UPN
	}
	return p.SamAccountName
}

// LocalPart returns the part of the UPN before the '@', falling back to the
// sAMAccountName.
func (p Principal) LocalPart() string {
	if p.UPN != "" {
		local, _, _ := strings.Cut(p.UPN, "@")
		return local
	}
	return p.SamAccountName
}

// RemotePrincipal is a cloud directory record.
type RemotePrincipal struct {
	ID          string
	UPN         string
	GivenName   string
	Surname     string
	ImmutableID string
}

// Verifies reports whether the remote record confirms the local principal.
// Both name fields must match exactly; a key match alone is not enough.
func (r RemotePrincipal) Verifies(p Principal) bool {
	return r.GivenName != "" && r.Surname != "" &&
		r.GivenName == p.GivenName && r.Surname == p.Surname
}
