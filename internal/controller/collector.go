package controller

import (
	"fmt"

	"duckq/internal/domain"
	"duckq/internal/protocol"
)

// Collector reassembles the query responses of one executeQuery command
// into a complete result.
type Collector struct {
	columns []string
	rows    []domain.Row
	next    int // index of the next expected batch, 1-based; 0 before any
	total   int
	done    bool
}

// Add feeds one response. It reports true once the result is complete.
// Batches must arrive with contiguous 1-based indices and a constant total.
func (c *Collector) Add(r protocol.Response) (bool, error) {
	if c.done {
		return true, fmt.Errorf("result already complete, got %s", r.ResponseType())
	}

	switch v := r.(type) {
	case protocol.QueryResult:
		if c.next != 0 {
			return false, fmt.Errorf("queryResult inside a batch sequence at batch %d/%d", c.next, c.total)
		}
		c.columns = v.Columns
		c.rows = v.Result
		c.done = true
	case protocol.QueryResultBatch:
		if v.TotalBatches <= 0 {
			return false, fmt.Errorf("batch %d has invalid total %d", v.Index, v.TotalBatches)
		}
		if c.next == 0 {
			c.total = v.TotalBatches
			c.columns = v.Columns
			c.rows = make([]domain.Row, 0, len(v.Batch))
		}
		if v.TotalBatches != c.total {
			return false, fmt.Errorf("batch %d reports total %d, expected %d", v.Index, v.TotalBatches, c.total)
		}
		if v.Index != c.next+1 {
			return false, fmt.Errorf("batch %d out of order, expected %d", v.Index, c.next+1)
		}
		c.next = v.Index
		c.rows = append(c.rows, v.Batch...)
		c.done = c.next == c.total
	default:
		return false, fmt.Errorf("unexpected %s response while collecting a query result", r.ResponseType())
	}
	return c.done, nil
}

// Result returns the collected result set. It is complete only after Add
// reported true.
func (c *Collector) Result() *domain.ResultSet {
	rows := c.rows
	if rows == nil {
		rows = []domain.Row{}
	}
	cols := c.columns
	if cols == nil {
		cols = []string{}
	}
	return &domain.ResultSet{Columns: cols, Rows: rows}
}

// Reset prepares the Collector for another result.
func (c *Collector) Reset() {
	*c = Collector{}
}
