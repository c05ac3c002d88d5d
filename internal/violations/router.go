// Package violations implements the ViolationRouter (spec §4.5, C5): writes
// rejected rows to a parallel violations zone with a reason column, rather
// than dropping them. Grounded on DataStorageService's violations-zone
// helpers, which tag each rejected row with its zone of origin and an error
// message column before appending.
package violations

import (
	"context"
	"fmt"
	"time"

	"github.com/arkilian/cdcflow/internal/model"
	"github.com/arkilian/cdcflow/internal/tablestore"
)

// errorColumn is the fixed column name the router attaches to every rejected
// row, per spec §4.5 ("append invalid rows to the violations zone with
// column error").
const errorColumn = "error"

// zoneColumn tags a rejected batch with the zone it was rejected from
// (e.g. "STRUCTURED_CDC"), so operators can distinguish load-time from
// CDC-time rejections in one violations table.
const zoneColumn = "zone"

// Router appends rejected rows, annotated with a reason, to the violations
// table for a given source.
type Router struct {
	store tablestore.TableStore
	root  string
}

// New creates a Router that writes under root (spec §6's violations.s3.path).
func New(store tablestore.TableStore, root string) *Router {
	return &Router{store: store, root: root}
}

// Rejection pairs a raw CDC event with the reason it was rejected.
type Rejection struct {
	Row    model.Event
	Reason string
}

// path derives the violations-zone table path for (source, table).
func (r *Router) path(source, table string) string {
	return fmt.Sprintf("%s/%s/%s", r.root, source, table)
}

// Route appends rejections for (source, table) tagged with zone (e.g.
// "STRUCTURED_LOAD", "STRUCTURED_CDC"). It never returns an error the caller
// should treat as fatal to the streaming query — a failure to write to the
// violations zone is itself infrastructure I/O and propagates as such,
// consistent with spec §4.5's "only infrastructure failures propagate."
func (r *Router) Route(ctx context.Context, source, table, zone string, rejections []Rejection) error {
	if len(rejections) == 0 {
		return nil
	}
	return r.store.Append(ctx, r.path(source, table), rejectionRows(source, table, zone, rejections))
}

// RouteToPath appends rejections tagged with zone directly to path, for
// callers whose violations-zone location isn't derived from a (source,
// table) pair under the router's root — e.g. DomainRefreshEngine routing a
// failed transform evaluation to a domain table's own configured violations
// location (spec §6's per-table "violations" entry).
func (r *Router) RouteToPath(ctx context.Context, path, zone string, rejections []Rejection) error {
	if len(rejections) == 0 {
		return nil
	}
	return r.store.Append(ctx, path, rejectionRows("", "", zone, rejections))
}

// rejectionRows builds the violations-zone row shape shared by Route and
// RouteToPath: the original row's data plus an error reason and zone tag.
func rejectionRows(source, table, zone string, rejections []Rejection) []model.Event {
	rows := make([]model.Event, len(rejections))
	for i, rej := range rejections {
		data := make(map[string]interface{}, len(rej.Row.Data)+2)
		for k, v := range rej.Row.Data {
			data[k] = v
		}
		data[errorColumn] = rej.Reason
		data[zoneColumn] = zone
		rowSource, rowTable := source, table
		if rowSource == "" {
			rowSource = rej.Row.Source
		}
		if rowTable == "" {
			rowTable = rej.Row.Table
		}
		rows[i] = model.Event{
			Data:      data,
			Source:    rowSource,
			Table:     rowTable,
			Operation: model.OperationInsert,
			CommitTS:  time.Now(),
		}
	}
	return rows
}

// RouteReason is a convenience for routing a whole sub-batch under one
// uniform reason, e.g. "Schema does not exist for src/tbl".
func (r *Router) RouteReason(ctx context.Context, source, table, zone, reason string, rows []model.Event) error {
	rejections := make([]Rejection, len(rows))
	for i, row := range rows {
		rejections[i] = Rejection{Row: row, Reason: reason}
	}
	return r.Route(ctx, source, table, zone, rejections)
}
