package reportclient

import (
	"context"
	"sync"
	"time"

	"github.com/pharmadb/pharmadb/pkg/reportdef"
)

const DefaultDebounce = 300 * time.Millisecond

// DistinctData accumulates pages of a distinct-data query. Filter changes
// are debounced and restart paging from offset zero.
type DistinctData struct {
	client   *Client
	debounce time.Duration
	onLoad   func(error)

	mu      sync.Mutex
	req     reportdef.DistinctDataRequest
	gen     int
	rows    []map[string]interface{}
	columns []reportdef.ColumnMeta
	total   int
	hasMore bool
	loaded  bool
	err     error
	timer   *time.Timer
}

type LoaderOption func(*DistinctData)

// WithDebounce sets how long SetFilters waits for further changes.
func WithDebounce(d time.Duration) LoaderOption {
	return func(dd *DistinctData) { dd.debounce = d }
}

// OnLoad is called after every debounced reload with its error, if any.
func OnLoad(fn func(error)) LoaderOption {
	return func(dd *DistinctData) { dd.onLoad = fn }
}

func NewDistinctData(c *Client, req reportdef.DistinctDataRequest, opts ...LoaderOption) *DistinctData {
	d := &DistinctData{client: c, req: req, debounce: DefaultDebounce}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Load discards accumulated rows and fetches the first page.
func (d *DistinctData) Load(ctx context.Context) error {
	d.mu.Lock()
	d.gen++
	gen := d.gen
	req := d.req
	req.Offset = 0
	d.rows = nil
	d.total = 0
	d.hasMore = false
	d.loaded = false
	d.mu.Unlock()

	return d.fetch(ctx, gen, req)
}

// FetchMore appends the next page. It is a no-op when nothing is left.
func (d *DistinctData) FetchMore(ctx context.Context) error {
	d.mu.Lock()
	if !d.loaded || !d.hasMore {
		d.mu.Unlock()
		return nil
	}
	gen := d.gen
	req := d.req
	req.Offset = len(d.rows)
	d.mu.Unlock()

	return d.fetch(ctx, gen, req)
}

func (d *DistinctData) fetch(ctx context.Context, gen int, req reportdef.DistinctDataRequest) error {
	resp, err := d.client.DistinctPage(ctx, req)

	d.mu.Lock()
	defer d.mu.Unlock()
	// A newer Load or filter change owns the state now.
	if gen != d.gen {
		return err
	}
	if err != nil {
		d.err = err
		return err
	}
	// Pages that do not continue the accumulated rows are stale duplicates.
	if resp.Offset != len(d.rows) {
		return nil
	}
	d.err = nil
	d.rows = append(d.rows, resp.Data...)
	d.columns = resp.Columns
	d.total = resp.TotalRows
	// An empty page ends paging even if the count says otherwise: rows can be
	// deleted between the count and the page query.
	d.hasMore = len(resp.Data) > 0 && resp.Offset+len(resp.Data) < resp.TotalRows
	d.loaded = true
	return nil
}

// SetFilters replaces the filters and reloads after the debounce delay.
// Only the last of several rapid calls triggers a request. Until the reload
// lands FetchMore does nothing, so rows of the old and new filters never mix.
func (d *DistinctData) SetFilters(filters map[string]interface{}) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.req.Filters = filters
	d.gen++
	d.loaded = false
	d.hasMore = false
	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.debounce, func() {
		err := d.Load(context.Background())
		if d.onLoad != nil {
			d.onLoad(err)
		}
	})
}

// Stop cancels a pending debounced reload.
func (d *DistinctData) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.timer != nil {
		d.timer.Stop()
	}
}

func (d *DistinctData) Rows() []map[string]interface{} {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]map[string]interface{}, len(d.rows))
	copy(out, d.rows)
	return out
}

func (d *DistinctData) Columns() []reportdef.ColumnMeta {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.columns
}

func (d *DistinctData) TotalRows() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.total
}

func (d *DistinctData) HasMore() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.hasMore
}

// Err is the error of the last fetch, cleared by the next successful one.
func (d *DistinctData) Err() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.err
}
