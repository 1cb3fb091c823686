// Package protocol is the message contract between a session controller and
// its execution context. Commands flow in, responses flow out; both are
// closed sets of value types, so a type switch over them is exhaustive.
package protocol

import "duckq/internal/domain"

// BatchSize is the largest number of rows carried by one query response.
// Results above it are split into QueryResultBatch responses.
const BatchSize = 500

// Command tags.
const (
	TagLoadData     = "loadData"
	TagExecuteQuery = "executeQuery"
	TagGetSchema    = "getSchema"
	TagResetSession = "resetSession"

	// tagClearCache is the legacy name of resetSession, accepted on decode.
	tagClearCache = "clearCache"
)

// Response tags.
const (
	TagLoaded           = "loaded"
	TagQueryResult      = "queryResult"
	TagQueryResultBatch = "queryResultBatch"
	TagSchema           = "schema"
	TagCleared          = "cleared"
	TagError            = "error"
)

// Command is a message sent to an execution context.
type Command interface {
	CommandType() string
	isCommand()
}

// LoadData asks the worker to load a stored file into a table.
type LoadData struct {
	Key string `json:"key"`
}

// ExecuteQuery asks the worker to run SQL against the loaded tables.
type ExecuteQuery struct {
	SQL string `json:"sql"`
}

// GetSchema asks the worker for the names of its tables.
type GetSchema struct{}

// ResetSession asks the worker to drop its engine and connection.
type ResetSession struct{}

// Unrecognized carries a decoded command whose tag is not part of the
// protocol. Workers answer it with an UnknownCommand error.
type Unrecognized struct {
	Type string
}

func (LoadData) CommandType() string     { return TagLoadData }
func (ExecuteQuery) CommandType() string { return TagExecuteQuery }
func (GetSchema) CommandType() string    { return TagGetSchema }
func (ResetSession) CommandType() string { return TagResetSession }
func (u Unrecognized) CommandType() string {
	return u.Type
}

func (LoadData) isCommand()     {}
func (ExecuteQuery) isCommand() {}
func (GetSchema) isCommand()    {}
func (ResetSession) isCommand() {}
func (Unrecognized) isCommand() {}

// Response is a message emitted by an execution context.
type Response interface {
	ResponseType() string
	isResponse()
}

// Loaded reports that a file is ready to query under Table.
type Loaded struct {
	Table string `json:"table"`
}

// QueryResult carries a complete result of at most BatchSize rows.
type QueryResult struct {
	Columns []string     `json:"columns"`
	Result  []domain.Row `json:"result"`
}

// QueryResultBatch carries one chunk of a result larger than BatchSize.
// Index is 1-based; chunks of one result are emitted in increasing Index
// order with nothing in between.
type QueryResultBatch struct {
	Columns      []string     `json:"columns"`
	Batch        []domain.Row `json:"batch"`
	Index        int          `json:"index"`
	TotalBatches int          `json:"totalBatches"`
}

// Schema lists the table names known to the engine.
type Schema struct {
	Schema []string `json:"schema"`
}

// Cleared acknowledges a ResetSession.
type Cleared struct{}

// Error reports a failed command.
type Error struct {
	Message string           `json:"message"`
	Code    domain.ErrorKind `json:"code,omitempty"`
}

func (Loaded) ResponseType() string           { return TagLoaded }
func (QueryResult) ResponseType() string      { return TagQueryResult }
func (QueryResultBatch) ResponseType() string { return TagQueryResultBatch }
func (Schema) ResponseType() string           { return TagSchema }
func (Cleared) ResponseType() string          { return TagCleared }
func (Error) ResponseType() string            { return TagError }

func (Loaded) isResponse()           {}
func (QueryResult) isResponse()      {}
func (QueryResultBatch) isResponse() {}
func (Schema) isResponse()           {}
func (Cleared) isResponse()          {}
func (Error) isResponse()            {}

// ErrorFrom converts err into an Error response carrying its kind.
func ErrorFrom(err error) Error {
	return Error{Message: err.Error(), Code: domain.KindOf(err)}
}

// Batches splits rows into consecutive chunks of at most size rows. It
// returns nil when rows fit in a single response.
func Batches(rows []domain.Row, size int) [][]domain.Row {
	if size <= 0 || len(rows) <= size {
		return nil
	}
	out := make([][]domain.Row, 0, (len(rows)+size-1)/size)
	for start := 0; start < len(rows); start += size {
		end := min(start+size, len(rows))
		out = append(out, rows[start:end:end])
	}
	return out
}
