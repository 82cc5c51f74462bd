// Package directory reads on-premises principals from a CSV export, such as
// the output of Get-ADUser | Export-Csv.
package directory

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"iter"
	"os"
	"strconv"
	"strings"

	"github.com/alexisbeaulieu97/convergo/internal/domain/match"
	"github.com/alexisbeaulieu97/convergo/internal/domain/reconcile"
	"github.com/alexisbeaulieu97/convergo/internal/ports"
	convergoerrors "github.com/alexisbeaulieu97/convergo/pkg/errors"
)

type column int

const (
	colSam column = iota
	colUPN
	colGiven
	colSurname
	colMiddle
	colObjectID
	colEnabled
)

var headerAliases = map[string]column{
	"samaccountname":    colSam,
	"sam":               colSam,
	"userprincipalname": colUPN,
	"upn":               colUPN,
	"givenname":         colGiven,
	"firstname":         colGiven,
	"surname":           colSurname,
	"sn":                colSurname,
	"lastname":          colSurname,
	"middlename":        colMiddle,
	"objectguid":        colObjectID,
	"objectid":          colObjectID,
	"enabled":           colEnabled,
}

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// CSV is an in-memory DirectoryClient loaded from a CSV export.
type CSV struct {
	source     string
	principals []match.Principal
	index      map[string]int
}

// Load reads a principals file.
func Load(path string) (*CSV, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, reconcile.NewError(reconcile.ErrCodeNotFound, "principals file not found", err, map[string]interface{}{"path": path})
		}
		return nil, reconcile.NewError(reconcile.ErrCodeInternal, "read principals file", err, map[string]interface{}{"path": path})
	}
	return Parse(path, bytes.NewReader(bytes.TrimPrefix(data, utf8BOM)))
}

// Parse reads principals from r. Column headers are matched
// case-insensitively; sAMAccountName or UserPrincipalName, GivenName and
// Surname are required. Rows without an Enabled column count as enabled.
func Parse(source string, r io.Reader) (*CSV, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return nil, convergoerrors.NewParseError(source, 1, fmt.Errorf("read header: %w", err))
	}
	cols := make(map[column]int, len(header))
	for i, h := range header {
		if c, ok := headerAliases[strings.ToLower(strings.TrimSpace(h))]; ok {
			if _, dup := cols[c]; !dup {
				cols[c] = i
			}
		}
	}
	_, hasSam := cols[colSam]
	_, hasUPN := cols[colUPN]
	if !hasSam && !hasUPN {
		return nil, convergoerrors.NewParseError(source, 1, fmt.Errorf("header needs SamAccountName or UserPrincipalName"))
	}
	for _, required := range []column{colGiven, colSurname} {
		if _, ok := cols[required]; !ok {
			return nil, convergoerrors.NewParseError(source, 1, fmt.Errorf("header needs GivenName and Surname"))
		}
	}

	d := &CSV{source: source, index: make(map[string]int)}
	line := 1
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		line++
		if err != nil {
			return nil, convergoerrors.NewParseError(source, line, err)
		}
		get := func(c column) string {
			i, ok := cols[c]
			if !ok || i >= len(record) {
				return ""
			}
			return strings.TrimSpace(record[i])
		}

		p := match.Principal{
			SamAccountName: get(colSam),
			UPN:            get(colUPN),
			GivenName:      get(colGiven),
			Surname:        get(colSurname),
			MiddleName:     get(colMiddle),
			ObjectID:       get(colObjectID),
			Enabled:        true,
		}
		if p.SamAccountName == "" && p.UPN == "" {
			continue
		}
		if raw := get(colEnabled); raw != "" {
			enabled, err := strconv.ParseBool(raw)
			if err != nil {
				return nil, convergoerrors.NewParseError(source, line, fmt.Errorf("enabled: %w", err))
			}
			p.Enabled = enabled
		}

		pos := len(d.principals)
		d.principals = append(d.principals, p)
		for _, key := range []string{p.SamAccountName, p.UPN} {
			if key == "" {
				continue
			}
			k := strings.ToLower(key)
			if _, exists := d.index[k]; !exists {
				d.index[k] = pos
			}
		}
	}
	return d, nil
}

// Len returns the number of principals loaded.
func (d *CSV) Len() int { return len(d.principals) }

// LookupBySamAccountNameOrUPN implements ports.DirectoryClient.
func (d *CSV) LookupBySamAccountNameOrUPN(ctx context.Context, key string) (match.Principal, error) {
	if err := ctx.Err(); err != nil {
		return match.Principal{}, err
	}
	pos, ok := d.index[strings.ToLower(strings.TrimSpace(key))]
	if !ok {
		return match.Principal{}, reconcile.NewError(reconcile.ErrCodeNotFound, "principal not found", nil,
			map[string]interface{}{"key": key, "source": d.source})
	}
	return d.principals[pos], nil
}

// ListAllPrincipals implements ports.DirectoryClient. With filter keys set,
// principals are yielded in key order and unknown keys yield an error.
func (d *CSV) ListAllPrincipals(ctx context.Context, filter ports.PrincipalFilter) iter.Seq2[match.Principal, error] {
	return func(yield func(match.Principal, error) bool) {
		emit := func(p match.Principal) bool {
			if filter.EnabledOnly && !p.Enabled {
				return true
			}
			return yield(p, nil)
		}

		if len(filter.Keys) > 0 {
			for _, key := range filter.Keys {
				if err := ctx.Err(); err != nil {
					yield(match.Principal{}, err)
					return
				}
				p, err := d.LookupBySamAccountNameOrUPN(ctx, key)
				if err != nil {
					if !yield(match.Principal{}, err) {
						return
					}
					continue
				}
				if !emit(p) {
					return
				}
			}
			return
		}

		for _, p := range d.principals {
			if err := ctx.Err(); err != nil {
				yield(match.Principal{}, err)
				return
			}
			if !emit(p) {
				return
			}
		}
	}
}

var _ ports.DirectoryClient = (*CSV)(nil)
