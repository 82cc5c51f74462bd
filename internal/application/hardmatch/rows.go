package hardmatch

import (
	"strconv"

	"github.com/alexisbeaulieu97/convergo/internal/domain/reconcile"
	"github.com/alexisbeaulieu97/convergo/internal/ports"
)

// Row columns of the hard-match export.
var Columns = []string{
	"principal",
	"sam_account_name",
	"given_name",
	"surname",
	"status",
	"candidate",
	"rule",
	"rank",
	"tried",
	"remote_id",
	"remote_upn",
	"immutable_id",
	"outcome",
	"error_code",
	"error",
}

// ResultRecord renders a result as an export row in Columns order.
func ResultRecord(r Result) ports.Record {
	var (
		candidate, rule, rank  string
		remoteID, remoteUPN    string
		outcome, code, message string
	)
	if r.Resolution.Verified {
		candidate = r.Resolution.Candidate.Key
		rule = string(r.Resolution.Candidate.Rule)
		rank = strconv.Itoa(r.Resolution.Candidate.Rank)
		remoteID = r.Resolution.Record.ID
		remoteUPN = r.Resolution.Record.UPN
	}
	if r.Outcome != nil {
		outcome = string(r.Outcome.Kind)
	}
	if r.Err != nil {
		code = string(reconcile.CodeOf(r.Err))
		message = r.Err.Error()
	}

	values := []string{
		r.Key,
		r.Principal.SamAccountName,
		r.Principal.GivenName,
		r.Principal.Surname,
		string(r.Status),
		candidate,
		rule,
		rank,
		strconv.Itoa(r.Resolution.Tried),
		remoteID,
		remoteUPN,
		r.ImmutableID,
		outcome,
		code,
		message,
	}
	record := make(ports.Record, len(Columns))
	for i, name := range Columns {
		record[i] = ports.Field{Name: name, Value: values[i]}
	}
	return record
}
