package types

import "github.com/arkilian/cdcflow/internal/cdcerrors"

// ULID parse failures, surfaced as the pipeline's structured error taxonomy
// rather than a package-local sentinel, so a malformed version id is
// reported the same way as any other corrupt-metadata read.
var (
	ErrInvalidULIDLength    = cdcerrors.New(cdcerrors.CategoryInfrastructureFailure, cdcerrors.CodeStorageIO, "invalid ULID length")
	ErrInvalidULIDCharacter = cdcerrors.New(cdcerrors.CategoryInfrastructureFailure, cdcerrors.CodeStorageIO, "invalid ULID character")
)
