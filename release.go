package transcode

import (
	"fmt"
	"sync"

	"github.com/hashicorp/go-multierror"
	"github.com/sirupsen/logrus"
)

// Release categories, in teardown order.
const (
	ReleaseExtractor = "extractor"
	ReleaseDecoder   = "decoder"
	ReleaseEncoder   = "encoder"
	ReleaseSink      = "sink"
	ReleaseAux       = "aux"
)

// ReleaseError is a failure while releasing one resource.
type ReleaseError struct {
	Category string
	Resource string
	Err      error
}

func (e *ReleaseError) Error() string {
	return fmt.Sprintf("releasing %s: %v", e.Resource, e.Err)
}

// Unwrap exposes both ErrRelease and the cause to errors.Is/As.
func (e *ReleaseError) Unwrap() []error {
	return []error{ErrRelease, e.Err}
}

// ReleaseAggregator attempts a sequence of releases, keeps going after
// failures and remembers the first error overall and per category.
type ReleaseAggregator struct {
	log logrus.FieldLogger

	mu         sync.Mutex
	first      error
	byCategory map[string]error
	all        *multierror.Error
	attempted  []string
}

// NewReleaseAggregator creates an aggregator logging to log.
func NewReleaseAggregator(log logrus.FieldLogger) *ReleaseAggregator {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &ReleaseAggregator{
		log:        log,
		byCategory: make(map[string]error),
	}
}

// Release runs fn once. A returned error or a panic is recorded and does
// not stop later releases.
func (a *ReleaseAggregator) Release(category, resource string, fn func() error) {
	err := a.call(fn)

	a.mu.Lock()
	defer a.mu.Unlock()

	a.attempted = append(a.attempted, resource)
	if err == nil {
		a.log.WithFields(logrus.Fields{"resource": resource}).Debug("Released")
		return
	}

	rerr := &ReleaseError{Category: category, Resource: resource, Err: err}
	a.log.WithFields(logrus.Fields{
		"resource": resource,
		"error":    err,
	}).Error("Error while releasing")

	a.all = multierror.Append(a.all, rerr)
	if a.first == nil {
		a.first = rerr
	}
	if _, seen := a.byCategory[category]; !seen {
		a.byCategory[category] = rerr
	}
}

func (a *ReleaseAggregator) call(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn()
}

// Err returns the first recorded failure.
func (a *ReleaseAggregator) Err() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.first
}

// CategoryErr returns the first failure recorded for category.
func (a *ReleaseAggregator) CategoryErr(category string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.byCategory[category]
}

// Errors returns every recorded failure, or nil.
func (a *ReleaseAggregator) Errors() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.all.ErrorOrNil()
}

// Attempted returns the resources released so far, in order.
func (a *ReleaseAggregator) Attempted() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, len(a.attempted))
	copy(out, a.attempted)
	return out
}
