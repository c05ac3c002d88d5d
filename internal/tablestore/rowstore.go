package tablestore

import (
	"bufio"
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/golang/snappy"

	"github.com/arkilian/cdcflow/internal/cdcerrors"
	"github.com/arkilian/cdcflow/internal/model"
	"github.com/arkilian/cdcflow/internal/storage"
	"github.com/arkilian/cdcflow/pkg/types"
)

// currentPointerName is the sidecar object naming the active version of a
// table, the unit ConditionalPut contends on.
const currentPointerName = "_current.json"

// manifestName is the external-query-engine-facing sidecar RefreshManifest writes.
const manifestName = "_manifest.json"

// pointerBody is the JSON payload written to a table's current-pointer object.
type pointerBody struct {
	Version    int64 `json:"version"`
	ObjectPath string `json:"objectPath"`
	RowCount   int64 `json:"rowCount"`
}

// manifestBody is the JSON sidecar external query engines read to discover a
// table's current data object without touching the catalog.
type manifestBody struct {
	Path       string `json:"path"`
	Version    int64  `json:"version"`
	ObjectPath string `json:"objectPath"`
	RowCount   int64  `json:"rowCount"`
	UpdatedAt  string `json:"updatedAt"`
}

// RowStore is the concrete TableStore (spec §4.2, C2): row payloads are
// newline-delimited JSON, snappy-compressed, held on an
// internal/storage.ObjectStorage backend; commits are optimistic, gated by
// ConditionalPut against the table's current-pointer object; version
// history and the last-known pointer ETag are tracked in a SQLite catalog
// adapted from the teacher's internal/manifest.Catalog.
type RowStore struct {
	objects storage.ObjectStorage
	cat     *catalog
	ulids   *types.ULIDGenerator
	tmpDir  string
}

// Open creates a RowStore backed by objects, with version bookkeeping in the
// SQLite database at catalogPath. tmpDir stages local files before upload,
// mirroring the teacher's storage implementations' use of a local staging
// path ahead of Upload/ConditionalPut.
func Open(objects storage.ObjectStorage, catalogPath, tmpDir string) (*RowStore, error) {
	cat, err := newCatalog(catalogPath)
	if err != nil {
		return nil, err
	}
	return &RowStore{
		objects: objects,
		cat:     cat,
		ulids:   types.NewULIDGenerator(),
		tmpDir:  tmpDir,
	}, nil
}

func (s *RowStore) Close() error {
	return s.cat.close()
}

func (s *RowStore) pointerPath(tablePath string) string {
	return path.Join(tablePath, currentPointerName)
}

func (s *RowStore) manifestPath(tablePath string) string {
	return path.Join(tablePath, manifestName)
}

func (s *RowStore) Exists(ctx context.Context, tablePath string) (bool, error) {
	rec, err := s.cat.currentPointer(ctx, tablePath)
	if err != nil {
		return false, wrapIO("check table existence", err)
	}
	return rec != nil, nil
}

func (s *RowStore) HasRows(ctx context.Context, tablePath string) (bool, error) {
	rec, err := s.cat.currentPointer(ctx, tablePath)
	if err != nil {
		return false, wrapIO("check table existence", err)
	}
	return rec != nil && rec.RowCount > 0, nil
}

func (s *RowStore) Rows(ctx context.Context, tablePath string) ([]model.Event, error) {
	rec, err := s.cat.currentPointer(ctx, tablePath)
	if err != nil {
		return nil, wrapIO("read current pointer", err)
	}
	if rec == nil {
		return nil, nil
	}
	return s.readObject(ctx, rec.ObjectPath)
}

// Append writes rows as a brand-new version, growing the row count without
// reconciling keys. Used for the raw zone, which is unvalidated and unkeyed.
func (s *RowStore) Append(ctx context.Context, tablePath string, rows []model.Event) error {
	if len(rows) == 0 {
		return nil
	}
	existing, err := s.Rows(ctx, tablePath)
	if err != nil {
		return err
	}
	return s.commit(ctx, tablePath, append(existing, rows...))
}

// Overwrite replaces a table's entire contents. replaceSchema is accepted for
// interface symmetry with Delta-style overwrite semantics; this store has no
// separate schema object to swap, so it is a no-op beyond the data swap.
func (s *RowStore) Overwrite(ctx context.Context, tablePath string, rows []model.Event, replaceSchema bool) error {
	return s.commit(ctx, tablePath, rows)
}

func (s *RowStore) Delete(ctx context.Context, tablePath string) error {
	rec, err := s.cat.currentPointer(ctx, tablePath)
	if err != nil {
		return wrapIO("read current pointer", err)
	}
	if rec == nil {
		return nil
	}
	if err := s.objects.Delete(ctx, rec.ObjectPath); err != nil && err != storage.ErrObjectNotFound {
		return wrapIO("delete table object", err)
	}
	if err := s.objects.Delete(ctx, s.pointerPath(tablePath)); err != nil && err != storage.ErrObjectNotFound {
		return wrapIO("delete current pointer", err)
	}
	if err := s.cat.deleteTable(ctx, tablePath); err != nil {
		return wrapIO("delete catalog entry", err)
	}
	return nil
}

// Vacuum removes version history older than the current version, retaining
// only what RefreshManifest and readers need to resolve the current pointer,
// then regenerates the manifest.
func (s *RowStore) Vacuum(ctx context.Context, tablePath string) error {
	rec, err := s.cat.currentPointer(ctx, tablePath)
	if err != nil {
		return wrapIO("read current pointer", err)
	}
	if rec == nil {
		return nil
	}
	versions, err := s.cat.listVersions(ctx, tablePath)
	if err != nil {
		return wrapIO("list versions", err)
	}
	for _, v := range versions {
		if v.Version == rec.Version {
			continue
		}
		if err := s.objects.Delete(ctx, v.ObjectPath); err != nil && err != storage.ErrObjectNotFound {
			return wrapIO("delete superseded version", err)
		}
	}
	if err := s.cat.pruneVersions(ctx, tablePath, rec.Version); err != nil {
		return err
	}
	return s.RefreshManifest(ctx, tablePath)
}

// Compact consolidates version history into a single current version object,
// rewriting the data object with the current row set and retiring prior
// versions from the catalog. For a row-store there is no small-file problem
// to solve beyond this: the current version is already a single object.
func (s *RowStore) Compact(ctx context.Context, tablePath string) error {
	rows, err := s.Rows(ctx, tablePath)
	if err != nil {
		return err
	}
	if rows == nil {
		return nil
	}
	if err := s.commit(ctx, tablePath, rows); err != nil {
		return err
	}
	return s.Vacuum(ctx, tablePath)
}

// RefreshManifest writes a small sidecar JSON document naming the current
// version's data object, so an external query engine can resolve a table
// without reading the SQLite catalog.
func (s *RowStore) RefreshManifest(ctx context.Context, tablePath string) error {
	rec, err := s.cat.currentPointer(ctx, tablePath)
	if err != nil {
		return wrapIO("read current pointer", err)
	}
	if rec == nil {
		return cdcerrors.New(cdcerrors.CategoryInfrastructureFailure, cdcerrors.CodeStorageIO,
			fmt.Sprintf("refreshManifest: table %s has no current version", tablePath))
	}
	body := manifestBody{
		Path:       tablePath,
		Version:    rec.Version,
		ObjectPath: rec.ObjectPath,
		RowCount:   rec.RowCount,
		UpdatedAt:  time.Now().UTC().Format(time.RFC3339),
	}
	data, err := json.MarshalIndent(body, "", "  ")
	if err != nil {
		return fmt.Errorf("tablestore: marshal manifest: %w", err)
	}
	tmp, err := s.stageTemp(data)
	if err != nil {
		return err
	}
	defer os.Remove(tmp)
	if err := s.objects.Upload(ctx, tmp, s.manifestPath(tablePath)); err != nil {
		return wrapIO("upload manifest", err)
	}
	return nil
}

// ListTables recursively enumerates real tables below root — any path with a
// registered current pointer — pruning recursion at the first table found on
// a branch (a table cannot itself contain a table) and never descending
// past depthLimit segments below root.
func (s *RowStore) ListTables(ctx context.Context, root string, depthLimit int) ([]string, error) {
	if depthLimit < 1 {
		depthLimit = 1
	}
	all, err := s.cat.knownPaths(ctx)
	if err != nil {
		return nil, wrapIO("list known tables", err)
	}

	rootPrefix := strings.TrimSuffix(root, "/") + "/"
	var candidates []string
	for _, p := range all {
		if !strings.HasPrefix(p+"/", rootPrefix) && p != strings.TrimSuffix(root, "/") {
			continue
		}
		rel := strings.TrimPrefix(strings.TrimPrefix(p, root), "/")
		if rel == "" {
			continue
		}
		if depth := len(strings.Split(rel, "/")); depth > depthLimit {
			continue
		}
		candidates = append(candidates, p)
	}
	sort.Strings(candidates)

	var tables []string
	for _, p := range candidates {
		if hasAncestor(tables, p) {
			continue
		}
		tables = append(tables, p)
	}
	return tables, nil
}

// hasAncestor reports whether found already contains a strict ancestor
// directory of p, meaning p sits inside an already-reported table.
func hasAncestor(found []string, p string) bool {
	for _, f := range found {
		if strings.HasPrefix(p, f+"/") {
			return true
		}
	}
	return false
}

// commit writes rows as a new version and atomically advances the current
// pointer, translating an ETag mismatch into spec §7's concurrent-
// modification error.
func (s *RowStore) commit(ctx context.Context, tablePath string, rows []model.Event) error {
	current, err := s.cat.currentPointer(ctx, tablePath)
	if err != nil {
		return wrapIO("read current pointer", err)
	}

	id, err := s.ulids.Generate()
	if err != nil {
		return fmt.Errorf("tablestore: generate version id: %w", err)
	}
	nextVersion := int64(1)
	expectedETag := ""
	if current != nil {
		nextVersion = current.Version + 1
		expectedETag = current.ETag
	}

	objectPath := path.Join(tablePath, fmt.Sprintf("v%020d-%s.ndjson.snappy", nextVersion, id.String()))

	payload, err := encodeRows(rows)
	if err != nil {
		return err
	}
	dataTmp, err := s.stageTemp(payload)
	if err != nil {
		return err
	}
	defer os.Remove(dataTmp)

	if err := s.objects.Upload(ctx, dataTmp, objectPath); err != nil {
		return wrapIO("upload table version", err)
	}

	body := pointerBody{Version: nextVersion, ObjectPath: objectPath, RowCount: int64(len(rows))}
	pointerData, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("tablestore: marshal current pointer: %w", err)
	}
	pointerTmp, err := s.stageTemp(pointerData)
	if err != nil {
		return err
	}
	defer os.Remove(pointerTmp)

	// A single PutObject's resulting ETag is the content's MD5 hex digest
	// for both backing stores (LocalStorage computes it that way directly;
	// S3's non-multipart PutObject does the same per AWS convention), so the
	// value to persist as "last known etag" is computable before the write
	// completes rather than read back afterward.
	newETag := md5Hex(pointerData)

	if err := s.objects.ConditionalPut(ctx, pointerTmp, s.pointerPath(tablePath), expectedETag); err != nil {
		if err == storage.ErrPreconditionFailed {
			return cdcerrors.NewConcurrentModification(err)
		}
		return wrapIO("commit current pointer", err)
	}

	rec := VersionRecord{
		Path:       tablePath,
		Version:    nextVersion,
		ObjectPath: objectPath,
		RowCount:   int64(len(rows)),
		ETag:       newETag,
		CreatedAt:  time.Now(),
	}
	if err := s.cat.commit(ctx, rec); err != nil {
		return wrapIO("record committed version", err)
	}
	return nil
}

// Merge implements the clause-ordered upsert/delete primitive (spec §4.2,
// §4.4): matched clauses evaluate in declaration order and the first whose
// predicate holds wins; unmatched source rows fall through to the single
// whenNotMatched clause. The whole batch commits as one new version, so
// readers observe either the full effect of the batch or none of it.
func (s *RowStore) Merge(ctx context.Context, tablePath string, sourceRows []model.Event, spec MergeSpec) error {
	current, err := s.Rows(ctx, tablePath)
	if err != nil {
		return err
	}

	target := make(map[string]model.Event, len(current))
	order := make([]string, 0, len(current))
	for _, row := range current {
		key := mergeKey(row.Data, spec.PrimaryKey)
		if _, exists := target[key]; !exists {
			order = append(order, key)
		}
		target[key] = row
	}

	for _, src := range sourceRows {
		key := mergeKey(src.Data, spec.PrimaryKey)
		if _, matched := target[key]; matched {
			for _, clause := range spec.WhenMatched {
				if !clause.Predicate(src) {
					continue
				}
				switch clause.Action {
				case ActionDelete:
					delete(target, key)
				case ActionUpdateAll:
					target[key] = applyExclusions(src, spec.ExcludeColumns)
				}
				break
			}
			continue
		}

		if spec.WhenNotMatched.Predicate(src) && spec.WhenNotMatched.Action == ActionInsertAll {
			target[key] = applyExclusions(src, spec.ExcludeColumns)
			order = append(order, key)
		}
	}

	merged := make([]model.Event, 0, len(target))
	for _, key := range order {
		if row, ok := target[key]; ok {
			merged = append(merged, row)
			delete(target, key)
		}
	}
	return s.commit(ctx, tablePath, merged)
}

// mergeKey builds the join key for a row from its primary-key columns.
func mergeKey(data map[string]interface{}, primaryKey []string) string {
	var b strings.Builder
	for i, k := range primaryKey {
		if i > 0 {
			b.WriteByte('\x1f')
		}
		fmt.Fprintf(&b, "%v", data[k])
	}
	return b.String()
}

// applyExclusions returns a copy of row with ExcludeColumns stripped from its
// data, keeping bookkeeping columns like the op code out of the destination.
func applyExclusions(row model.Event, exclude []string) model.Event {
	if len(exclude) == 0 {
		return row
	}
	data := make(map[string]interface{}, len(row.Data))
	for k, v := range row.Data {
		data[k] = v
	}
	for _, k := range exclude {
		delete(data, k)
	}
	row.Data = data
	return row
}

func (s *RowStore) readObject(ctx context.Context, objectPath string) ([]model.Event, error) {
	tmp, err := s.stageTempPath()
	if err != nil {
		return nil, err
	}
	defer os.Remove(tmp)

	if err := s.objects.Download(ctx, objectPath, tmp); err != nil {
		return nil, wrapIO("download table version", err)
	}
	return decodeRows(tmp)
}

func encodeRows(rows []model.Event) ([]byte, error) {
	var buf bytes.Buffer
	for _, r := range rows {
		line, err := json.Marshal(wireEvent{
			Data:      r.Data,
			Source:    r.Source,
			Table:     r.Table,
			Operation: string(r.Operation.Code()),
			CommitTS:  r.CommitTS.UTC().Format(time.RFC3339Nano),
		})
		if err != nil {
			return nil, fmt.Errorf("tablestore: encode row: %w", err)
		}
		buf.Write(line)
		buf.WriteByte('\n')
	}
	return snappy.Encode(nil, buf.Bytes()), nil
}

func decodeRows(path string) ([]model.Event, error) {
	compressed, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("tablestore: read staged download: %w", err)
	}
	raw, err := snappy.Decode(nil, compressed)
	if err != nil {
		return nil, fmt.Errorf("tablestore: decompress table version: %w", err)
	}
	var rows []model.Event
	scanner := bufio.NewScanner(bytes.NewReader(raw))
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var w wireEvent
		if err := json.Unmarshal(line, &w); err != nil {
			return nil, fmt.Errorf("tablestore: decode row: %w", err)
		}
		op, err := model.ParseOperation(w.Operation[0])
		if err != nil {
			return nil, err
		}
		ts, err := time.Parse(time.RFC3339Nano, w.CommitTS)
		if err != nil {
			return nil, fmt.Errorf("tablestore: parse commit timestamp: %w", err)
		}
		rows = append(rows, model.Event{
			Data:      w.Data,
			Source:    w.Source,
			Table:     w.Table,
			Operation: op,
			CommitTS:  ts,
		})
	}
	return rows, scanner.Err()
}

// wireEvent is the on-disk row representation: a CDC event flattened to a
// single-character operation code per CommonDataFields.java.
type wireEvent struct {
	Data      map[string]interface{} `json:"data"`
	Source    string                 `json:"source"`
	Table     string                 `json:"table"`
	Operation string                 `json:"op"`
	CommitTS  string                 `json:"commitTs"`
}

func (s *RowStore) stageTemp(data []byte) (string, error) {
	f, err := os.CreateTemp(s.tmpDir, "tablestore-*.tmp")
	if err != nil {
		return "", fmt.Errorf("tablestore: stage temp file: %w", err)
	}
	defer f.Close()
	if _, err := f.Write(data); err != nil {
		os.Remove(f.Name())
		return "", fmt.Errorf("tablestore: write temp file: %w", err)
	}
	return f.Name(), nil
}

func (s *RowStore) stageTempPath() (string, error) {
	f, err := os.CreateTemp(s.tmpDir, "tablestore-dl-*.tmp")
	if err != nil {
		return "", fmt.Errorf("tablestore: stage download path: %w", err)
	}
	defer f.Close()
	return f.Name(), nil
}

func md5Hex(data []byte) string {
	sum := md5.Sum(data)
	return hex.EncodeToString(sum[:])
}

func wrapIO(op string, err error) error {
	return cdcerrors.Wrap(cdcerrors.CategoryInfrastructureFailure, cdcerrors.CodeStorageIO,
		fmt.Sprintf("tablestore: %s", op), err)
}
