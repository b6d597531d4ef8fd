package broker

import (
	"context"
	"time"
)

// Method identifies an operation a request routes to (spec.md §6 lists
// open, exec, bulk_insert, search, generate_embedding, batch_generate,
// create_collection, collection_status, export, import, version, stats,
// close).
type Method string

// Supported methods.
const (
	MethodOpen              Method = "open"
	MethodExec              Method = "exec"
	MethodBulkInsert        Method = "bulk_insert"
	MethodSearch            Method = "search"
	MethodGenerateEmbedding Method = "generate_embedding"
	MethodBatchGenerate     Method = "batch_generate"
	MethodCreateCollection  Method = "create_collection"
	MethodCollectionStatus  Method = "collection_status"
	MethodExport            Method = "export"
	MethodImport            Method = "import"
	MethodVersion           Method = "version"
	MethodStats             Method = "stats"
	MethodClose             Method = "close"
	MethodBegin             Method = "begin"
	MethodCommit            Method = "commit"
	MethodRollback          Method = "rollback"
)

// Request is one message submitted to the broker (spec.md §4.5 "Protocol":
// `{id, method, params}`). Message ids are monotonically increasing,
// assigned by the broker at submission time.
type Request struct {
	ID      uint64
	Method  Method
	Params  any
	Timeout time.Duration // 0 means DefaultTimeout
	// TxToken, if non-zero, routes this request into an already-open
	// transaction bracket (spec.md §4.5 "A begin/commit bracket implicitly
	// serializes all operations between them").
	TxToken uint64
}

// Response is the result of a processed Request (spec.md §4.5 "Protocol":
// `{id, ok: result} | {id, err: {kind, message, details}}`).
type Response struct {
	ID     uint64
	Result any
	Err    *ResponseError
}

// ResponseError mirrors the closed error taxonomy's wire shape.
type ResponseError struct {
	Kind    string
	Message string
	Details map[string]any
}

// Ok reports whether the response carries a result rather than an error.
func (r Response) Ok() bool { return r.Err == nil }

// Handler executes one method against its params, returning a result or an
// error. Handlers are registered per Method and run on the broker's worker
// pool; the storage engine's own handle is the sole serialization point
// (spec.md §5).
type Handler func(ctx context.Context, params any) (any, error)
