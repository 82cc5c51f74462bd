package match

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/alexisbeaulieu97/convergo/internal/domain/reconcile"
)

// Lookup finds remote records by key. A missing key is reported either as an
// empty slice or as an error matching reconcile.ErrNotFound.
type Lookup interface {
	LookupByKey(ctx context.Context, key string) ([]RemotePrincipal, error)
}

// LookupFunc adapts a function to Lookup.
type LookupFunc func(ctx context.Context, key string) ([]RemotePrincipal, error)

// LookupByKey calls f.
func (f LookupFunc) LookupByKey(ctx context.Context, key string) ([]RemotePrincipal, error) {
	return f(ctx, key)
}

// Rejection records a remote record that was found for a candidate but
// failed name verification.
type Rejection struct {
	Candidate CandidateIdentity
	Record    RemotePrincipal
}

// Resolution is the result of resolving one principal.
type Resolution struct {
	Principal  Principal
	Candidate  CandidateIdentity
	Record     RemotePrincipal
	Candidates []CandidateIdentity
	// Tried counts candidates looked up before resolution stopped.
	Tried    int
	Rejected []Rejection
	Verified bool
}

// Matched reports whether a verified record was found.
func (r Resolution) Matched() bool {
	return r.Verified
}

// Resolver walks generated candidates and stops at the first verified match.
type Resolver struct {
	lookup Lookup
	opts   GenerateOptions
}

// NewResolver creates a resolver for one target domain.
func NewResolver(lookup Lookup, opts GenerateOptions) *Resolver {
	return &Resolver{lookup: lookup, opts: opts}
}

// Resolve returns the first candidate whose remote record verifies against
// the principal. It returns an error coded NO_MATCH_FOUND when no candidate
// verifies, AMBIGUOUS_MATCH when one key yields more than one verified
// record, and SOURCE_UNAVAILABLE when a lookup fails. The returned
// Resolution is populated in every case.
func (r *Resolver) Resolve(ctx context.Context, p Principal) (Resolution, error) {
	res := Resolution{Principal: p}
	if r == nil || r.lookup == nil {
		return res, reconcile.NewError(reconcile.ErrCodeInternal, "resolver has no lookup", nil, nil)
	}
	if NormalizeDomain(r.opts.Domain) == "" {
		return res, reconcile.NewError(reconcile.ErrCodeValidation, "target domain is required", nil, nil)
	}

	res.Candidates = GenerateCandidates(p, r.opts)
	errCtx := map[string]interface{}{"principal": p.Key()}

	for _, candidate := range res.Candidates {
		if err := ctx.Err(); err != nil {
			return res, reconcile.NewError(reconcile.ErrCodeCancelled, "resolution cancelled", err, errCtx)
		}
		res.Tried++

		records, err := r.lookup.LookupByKey(ctx, candidate.Key)
		if err != nil {
			if errors.Is(err, reconcile.ErrNotFound) {
				continue
			}
			return res, reconcile.NewError(reconcile.ErrCodeSourceUnavailable,
				fmt.Sprintf("lookup %s failed", candidate.Key), err, errCtx)
		}

		verified := make(map[string]RemotePrincipal)
		for _, rec := range records {
			if rec.Verifies(p) {
				verified[rec.Ref()] = rec
				continue
			}
			res.Rejected = append(res.Rejected, Rejection{Candidate: candidate, Record: rec})
		}

		switch len(verified) {
		case 0:
			continue
		case 1:
			for _, rec := range verified {
				res.Candidate = candidate
				res.Record = rec
				res.Verified = true
			}
			return res, nil
		default:
			res.Candidate = candidate
			return res, reconcile.NewError(reconcile.ErrCodeAmbiguousMatch,
				fmt.Sprintf("%d remote records verify for %s", len(verified), candidate.Key), nil,
				mergeContext(errCtx, map[string]interface{}{"candidate": candidate.Key, "records": sortedIDs(verified)}))
		}
	}

	return res, reconcile.NewError(reconcile.ErrCodeNoMatch,
		fmt.Sprintf("no candidate verified after %d lookup(s)", res.Tried), nil, errCtx)
}

// Collisions groups resolved principals by remote record id and returns the
// ids claimed by more than one principal, mapped to the claiming principal
// keys in input order.
func Collisions(resolutions []Resolution) map[string][]string {
	claims := make(map[string][]string)
	for _, res := range resolutions {
		if !res.Matched() {
			continue
		}
		id := res.Record.Ref()
		claims[id] = append(claims[id], res.Principal.Key())
	}
	for id, keys := range claims {
		if len(keys) < 2 {
			delete(claims, id)
		}
	}
	return claims
}

// AmbiguousError builds the error reported for a principal whose match is
// shared with other principals.
func AmbiguousError(principal, remoteID string, claimants []string) error {
	return reconcile.NewError(reconcile.ErrCodeAmbiguousMatch,
		fmt.Sprintf("remote record %s is claimed by %d principals", remoteID, len(claimants)), nil,
		map[string]interface{}{"principal": principal, "remote_id": remoteID, "claimants": claimants})
}

// Ref returns the record id, falling back to the UPN.
func (rec RemotePrincipal) Ref() string {
	if rec.ID != "" {
		return rec.ID
	}
	return rec.UPN
}

func sortedIDs(records map[string]RemotePrincipal) []string {
	ids := make([]string, 0, len(records))
	for id := range records {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func mergeContext(base, extra map[string]interface{}) map[string]interface{} {
	merged := make(map[string]interface{}, len(base)+len(extra))
	for k, v := range base {
		merged[k] = v
	}
	for k, v := range extra {
		merged[k] = v
	}
	return merged
}
