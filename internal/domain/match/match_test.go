package match

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alexisbeaulieu97/convergo/internal/domain/reconcile"
)

func johnSmith() Principal {
	return Principal{SamAccountName: "jsmith", UPN: "jsmith@corp.local", GivenName: "John", Surname: "Smith"}
}

func keys(candidates []CandidateIdentity) []string {
	out := make([]string, 0, len(candidates))
	for _, c := range candidates {
		out = append(out, c.Key)
	}
	return out
}

type fakeLookup struct {
	records map[string][]RemotePrincipal
	errs    map[string]error
	calls   []string
}

func (f *fakeLookup) LookupByKey(_ context.Context, key string) ([]RemotePrincipal, error) {
	f.calls = append(f.calls, key)
	if err := f.errs[key]; err != nil {
		return nil, err
	}
	recs, ok := f.records[key]
	if !ok {
		return nil, reconcile.ErrNotFound
	}
	return recs, nil
}

func TestGenerateCandidatesOrdering(t *testing.T) {
	got := GenerateCandidates(johnSmith(), GenerateOptions{Domain: "example.com"})

	require.Equal(t, []string{
		"jsmith@example.com",
		"john@example.com",
		"johns@example.com",
		"john.smith@example.com",
	}, keys(got))
	assert.Equal(t, []int{0, 1, 4, 5}, []int{got[0].Rank, got[1].Rank, got[2].Rank, got[3].Rank})
	assert.Equal(t, RuleExact, got[0].Rule)
	assert.Equal(t, RuleFirstLastInitial, got[2].Rule)
}

func TestGenerateCandidatesDeterministic(t *testing.T) {
	opts := GenerateOptions{Domain: "example.com", UseNicknames: true, Nicknames: DefaultNicknames()}
	first := GenerateCandidates(johnSmith(), opts)
	for i := 0; i < 20; i++ {
		require.Equal(t, first, GenerateCandidates(johnSmith(), opts))
	}
}

func TestGenerateCandidatesMiddleName(t *testing.T) {
	p := Principal{UPN: "mary.jones@corp.local", GivenName: "Mary", MiddleName: "Anne", Surname: "Jones"}
	got := GenerateCandidates(p, GenerateOptions{Domain: "@Example.COM"})

	assert.Equal(t, []string{
		"mary.jones@example.com",
		"mary@example.com",
		"mjones@example.com",
		"majones@example.com",
		"maryj@example.com",
	}, keys(got))
	assert.Equal(t, RuleInitialsLast, got[3].Rule)
	assert.Equal(t, 3, got[3].Rank)
}

func TestGenerateCandidatesNicknamesAppendAfterPrimary(t *testing.T) {
	nicknames := NewNicknames(map[string][]string{"William": {"Will", "Bill"}})
	p := Principal{SamAccountName: "wturner", GivenName: "William", Surname: "Turner"}
	got := GenerateCandidates(p, GenerateOptions{Domain: "example.com", UseNicknames: true, Nicknames: nicknames})

	require.Equal(t, []string{
		"wturner@example.com",
		"william@example.com",
		"williamt@example.com",
		"william.turner@example.com",
		"will@example.com",
		"willt@example.com",
		"will.turner@example.com",
		"bill@example.com",
		"bturner@example.com",
		"billt@example.com",
		"bill.turner@example.com",
	}, keys(got))

	will := got[4]
	assert.True(t, will.Nickname)
	assert.Equal(t, "will", will.GivenName)
	assert.Equal(t, 6, will.Rank)
	bill := got[7]
	assert.Equal(t, 11, bill.Rank)
	assert.Equal(t, 12, got[8].Rank)
}

func TestGenerateCandidatesFoldsDiacritics(t *testing.T) {
	p := Principal{GivenName: "Zoë", Surname: "O'Brien-Lefèvre"}
	got := GenerateCandidates(p, GenerateOptions{Domain: "example.com"})
	assert.Equal(t, []string{
		"zoe@example.com",
		"zobrien-lefevre@example.com",
		"zoeo@example.com",
		"zoe.obrien-lefevre@example.com",
	}, keys(got))
}

func TestGenerateCandidatesKeepsLocalPartVerbatim(t *testing.T) {
	cases := map[string]struct {
		upn  string
		want string
	}{
		"apostrophe": {upn: "john.o'neil@corp.local", want: "john.o'neil@example.com"},
		"plus":       {upn: "j+smith@corp.local", want: "j+smith@example.com"},
		"accent":     {upn: " Jöhn@corp.local", want: "jöhn@example.com"},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			p := Principal{UPN: tc.upn, GivenName: "John", Surname: "O'Neil"}
			got := GenerateCandidates(p, GenerateOptions{Domain: "example.com"})
			require.NotEmpty(t, got)
			assert.Equal(t, tc.want, got[0].Key)
			assert.Equal(t, RuleExact, got[0].Rule)
			assert.Equal(t, 0, got[0].Rank)
			assert.Equal(t, "john@example.com", got[1].Key)
			assert.Equal(t, "joneil@example.com", got[2].Key)
		})
	}
}

func TestGenerateCandidatesWithoutDomain(t *testing.T) {
	assert.Empty(t, GenerateCandidates(johnSmith(), GenerateOptions{}))
}

func TestResolveStopsAtFirstVerifiedCandidate(t *testing.T) {
	lookup := &fakeLookup{records: map[string][]RemotePrincipal{
		"jsmith@example.com":     {{ID: "other", UPN: "jsmith@example.com", GivenName: "Jane", Surname: "Smith"}},
		"john@example.com":       {{ID: "r-1", UPN: "john@example.com", GivenName: "John", Surname: "Smith"}},
		"john.smith@example.com": {{ID: "r-2", UPN: "john.smith@example.com", GivenName: "John", Surname: "Smith"}},
	}}
	resolver := NewResolver(lookup, GenerateOptions{Domain: "example.com"})

	res, err := resolver.Resolve(context.Background(), johnSmith())

	require.NoError(t, err)
	assert.True(t, res.Matched())
	assert.Equal(t, "r-1", res.Record.ID)
	assert.Equal(t, RuleFirstName, res.Candidate.Rule)
	assert.Equal(t, []string{"jsmith@example.com", "john@example.com"}, lookup.calls)
	require.Len(t, res.Rejected, 1)
	assert.Equal(t, "other", res.Rejected[0].Record.ID)
}

func TestResolveRequiresExactNames(t *testing.T) {
	lookup := &fakeLookup{records: map[string][]RemotePrincipal{
		"jsmith@example.com": {{ID: "r-1", GivenName: "john", Surname: "smith"}},
	}}
	resolver := NewResolver(lookup, GenerateOptions{Domain: "example.com"})

	res, err := resolver.Resolve(context.Background(), johnSmith())

	require.Error(t, err)
	assert.True(t, errors.Is(err, reconcile.ErrNoMatchFound))
	assert.False(t, res.Matched())
	assert.Equal(t, 4, res.Tried)
}

func TestResolveAmbiguousMatch(t *testing.T) {
	lookup := &fakeLookup{records: map[string][]RemotePrincipal{
		"john@example.com": {
			{ID: "r-1", GivenName: "John", Surname: "Smith"},
			{ID: "r-2", GivenName: "John", Surname: "Smith"},
		},
	}}
	resolver := NewResolver(lookup, GenerateOptions{Domain: "example.com"})

	res, err := resolver.Resolve(context.Background(), johnSmith())

	require.Error(t, err)
	assert.True(t, errors.Is(err, reconcile.ErrAmbiguousMatch))
	assert.False(t, errors.Is(err, reconcile.ErrNoMatchFound))
	assert.False(t, res.Matched())
	assert.Equal(t, "john@example.com", res.Candidate.Key)
}

func TestResolveDuplicateRecordIsNotAmbiguous(t *testing.T) {
	rec := RemotePrincipal{ID: "r-1", GivenName: "John", Surname: "Smith"}
	lookup := &fakeLookup{records: map[string][]RemotePrincipal{"john@example.com": {rec, rec}}}
	resolver := NewResolver(lookup, GenerateOptions{Domain: "example.com"})

	res, err := resolver.Resolve(context.Background(), johnSmith())

	require.NoError(t, err)
	assert.Equal(t, "r-1", res.Record.ID)
}

func TestResolveLookupFailure(t *testing.T) {
	lookup := &fakeLookup{errs: map[string]error{"jsmith@example.com": errors.New("503 service unavailable")}}
	resolver := NewResolver(lookup, GenerateOptions{Domain: "example.com"})

	_, err := resolver.Resolve(context.Background(), johnSmith())

	require.Error(t, err)
	assert.True(t, errors.Is(err, reconcile.ErrSourceUnavailable))
}

func TestResolveCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	resolver := NewResolver(&fakeLookup{}, GenerateOptions{Domain: "example.com"})

	_, err := resolver.Resolve(ctx, johnSmith())

	assert.True(t, errors.Is(err, reconcile.ErrCancelled))
}

func TestCollisions(t *testing.T) {
	a := Resolution{Principal: Principal{UPN: "a@corp"}, Record: RemotePrincipal{ID: "r-1"}, Verified: true}
	b := Resolution{Principal: Principal{UPN: "b@corp"}, Record: RemotePrincipal{ID: "r-1"}, Verified: true}
	c := Resolution{Principal: Principal{UPN: "c@corp"}, Record: RemotePrincipal{ID: "r-2"}, Verified: true}
	d := Resolution{Principal: Principal{UPN: "d@corp"}}

	got := Collisions([]Resolution{a, b, c, d})

	assert.Equal(t, map[string][]string{"r-1": {"a@corp", "b@corp"}}, got)
}

func TestImmutableIDRoundTrip(t *testing.T) {
	id, err := ImmutableID("00112233-4455-6677-8899-aabbccddeeff")
	require.NoError(t, err)
	assert.Equal(t, "MyIRAFVEd2aImaq7zN3u/w==", id)

	id, err = ImmutableID("5C1D3C1F-8B7A-4F52-9C3E-2A4B6D8E0F11")
	require.NoError(t, err)
	assert.Equal(t, "HzwdXHqLUk+cPipLbY4PEQ==", id)

	guid, err := ObjectGUID(id)
	require.NoError(t, err)
	assert.Equal(t, "5c1d3c1f-8b7a-4f52-9c3e-2a4b6d8e0f11", guid)

	_, err = ImmutableID("not-a-guid")
	require.Error(t, err)
	_, err = ObjectGUID("AAAA")
	require.Error(t, err)
}

func TestNicknames(t *testing.T) {
	table := DefaultNicknames()
	assert.Equal(t, []string{"jack", "johnny"}, table.Synonyms("John"))
	assert.Empty(t, table.Synonyms("Zebulon"))

	merged := table.Merge(NewNicknames(map[string][]string{"John": {"Jon", "john", "jon"}}))
	assert.Equal(t, []string{"jon"}, merged.Synonyms("JOHN"))
	assert.Equal(t, []string{"jack", "johnny"}, table.Synonyms("john"), "merge must not mutate the receiver")
	assert.Contains(t, merged.Names(), "william")
}
