package zone

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/arkilian/cdcflow/internal/cdcerrors"
	"github.com/arkilian/cdcflow/internal/model"
)

// decode parses a raw JSON payload into a model.Event carrying the real
// (uncoerced) values. StructuredLoad calls it for every row, valid or not,
// so rejected rows reach the violations zone with their decoded data too.
func decode(data string, ref model.SourceReference, source, table string, op model.Operation) (model.Event, error) {
	var payload map[string]interface{}
	if err := json.Unmarshal([]byte(data), &payload); err != nil {
		return model.Event{}, fmt.Errorf("decode: %w", err)
	}
	return model.Event{
		Data:      payload,
		Source:    source,
		Table:     table,
		Operation: op,
		CommitTS:  time.Now(),
	}, nil
}

// retriesExhaustedCategory reports whether err is (or wraps) a
// RetriesExhausted error.
func retriesExhaustedCategory(err error) bool {
	return cdcerrors.GetCategory(err) == cdcerrors.CategoryRetriesExhausted
}

// schemaDriftCategory reports whether err is (or wraps) a SchemaDrift error.
func schemaDriftCategory(err error) bool {
	return cdcerrors.GetCategory(err) == cdcerrors.CategorySchemaDrift
}
