package tasks

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"
)

// Report collects the per-exchange outcome of one unit run.
type Report struct {
	Unit     string
	Started  time.Time
	Finished time.Time

	mu     sync.Mutex
	done   []string
	errors map[string]error
}

func newReport(unit string, started time.Time) *Report {
	return &Report{Unit: unit, Started: started, errors: map[string]error{}}
}

func (r *Report) record(exchange string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err != nil {
		r.errors[exchange] = err
		return
	}
	r.done = append(r.done, exchange)
}

// Succeeded lists the exchanges the unit completed on, sorted.
func (r *Report) Succeeded() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := append([]string(nil), r.done...)
	sort.Strings(out)
	return out
}

// Errors returns a copy of the per-exchange errors.
func (r *Report) Errors() map[string]error {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]error, len(r.errors))
	for k, v := range r.errors {
		out[k] = v
	}
	return out
}

// Err joins the per-exchange errors, nil when every exchange succeeded.
func (r *Report) Err() error {
	errs := r.Errors()
	if len(errs) == 0 {
		return nil
	}
	names := make([]string, 0, len(errs))
	for name := range errs {
		names = append(names, name)
	}
	sort.Strings(names)

	joined := make([]error, 0, len(names))
	for _, name := range names {
		joined = append(joined, fmt.Errorf("%s: %w", name, errs[name]))
	}
	return fmt.Errorf("%s: %w", r.Unit, errors.Join(joined...))
}
