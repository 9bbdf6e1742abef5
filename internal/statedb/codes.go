package statedb

import (
	"errors"

	"github.com/hashforge/statetried/internal/core/flush"
	"github.com/hashforge/statetried/internal/core/smt"
	"github.com/hashforge/statetried/internal/storage/treestore"
)

// ResultCode classifies the outcome of every service operation. Operations
// report codes instead of raising; callers own retry policy.
type ResultCode int

const (
	// CodeSuccess means the operation completed
	CodeSuccess ResultCode = iota
	// CodeDBKeyNotFound means a root or hash could not be resolved
	CodeDBKeyNotFound
	// CodeDBError means a durable-store I/O failure, transient or not
	CodeDBError
	// CodeInternalError means an invariant violation inside the engine
	CodeInternalError
	// CodeInvalidDataSize means malformed data: a stored node or program
	// failed decode bounds, or a request carried a value that does not
	// parse as a 256-bit quantity
	CodeInvalidDataSize
)

// String returns the wire name of the code.
func (c ResultCode) String() string {
	switch c {
	case CodeSuccess:
		return "SUCCESS"
	case CodeDBKeyNotFound:
		return "DB_KEY_NOT_FOUND"
	case CodeDBError:
		return "DB_ERROR"
	case CodeInternalError:
		return "INTERNAL_ERROR"
	case CodeInvalidDataSize:
		return "SMT_INVALID_DATA_SIZE"
	default:
		return "UNKNOWN"
	}
}

// codeForError maps an engine or store error onto the result taxonomy.
func codeForError(err error) ResultCode {
	switch {
	case err == nil:
		return CodeSuccess
	case errors.Is(err, smt.ErrInvalidDataSize):
		return CodeInvalidDataSize
	case errors.Is(err, smt.ErrInternal):
		return CodeInternalError
	case treestore.IsNotFound(err), errors.Is(err, flush.ErrUnknownFlushID):
		return CodeDBKeyNotFound
	default:
		return CodeDBError
	}
}
