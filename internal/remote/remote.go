// Package remote defines the contract of the rate-limited inventory API that
// scan tasks call, plus a deterministic in-process implementation of it.
package remote

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Target is one (account, region, service) tuple. Each target gets its own worker.
type Target struct {
	Account string `json:"account"`
	Region  string `json:"region"`
	Service string `json:"service"`
}

// Key is a stable identifier usable as a map or storage key.
func (t Target) Key() string {
	return t.Account + "/" + t.Region + "/" + t.Service
}

func (t Target) String() string { return t.Key() }

// Valid reports whether every field is set.
func (t Target) Valid() bool {
	return strings.TrimSpace(t.Account) != "" && strings.TrimSpace(t.Region) != "" && strings.TrimSpace(t.Service) != ""
}

// ParseTarget is the inverse of Key.
func ParseTarget(key string) (Target, error) {
	parts := strings.Split(key, "/")
	if len(parts) != 3 {
		return Target{}, fmt.Errorf("remote: invalid target key %q", key)
	}
	t := Target{Account: parts[0], Region: parts[1], Service: parts[2]}
	if !t.Valid() {
		return Target{}, fmt.Errorf("remote: invalid target key %q", key)
	}
	return t, nil
}

// Resource is one scanned resource descriptor as handed to the result sink.
type Resource struct {
	ID          string             `json:"id"`
	Type        string             `json:"type"`
	Name        string             `json:"name,omitempty"`
	Target      Target             `json:"target"`
	Attributes  map[string]string  `json:"attributes,omitempty"`
	Metrics     map[string]float64 `json:"metrics,omitempty"`
	MonthlyCost float64            `json:"monthly_cost,omitempty"`
	ScannedAt   time.Time          `json:"scanned_at"`
}

// ListRequest asks for one page of resources. An empty Cursor means the first page.
type ListRequest struct {
	Target   Target
	Cursor   string
	PageSize int
}

// ListPage is one page of a listing. HasMore without a NextCursor is a
// protocol violation on the server side.
type ListPage struct {
	Resources  []Resource
	NextCursor string
	HasMore    bool
}

type Lister interface {
	ListResources(ctx context.Context, req ListRequest) (ListPage, error)
}

type MetricSource interface {
	Metric(ctx context.Context, target Target, resourceID, name string) (float64, error)
}

// Pricer turns an enriched resource into a monthly cost estimate.
type Pricer interface {
	MonthlyCost(r Resource) (float64, error)
}

// ErrThrottled is matched by every ThrottledError.
var ErrThrottled = errors.New("remote: throttled")

// ErrNotFound is returned for unknown resources.
var ErrNotFound = errors.New("remote: not found")

// ThrottledError reports that the caller exceeded the target's request rate.
type ThrottledError struct {
	Target Target
	After  time.Duration
}

func (e *ThrottledError) Error() string {
	return fmt.Sprintf("remote: throttled on %s, retry after %s", e.Target, e.After)
}

func (e *ThrottledError) Is(target error) bool { return target == ErrThrottled }

// RetryAfter lets retry.Do wait exactly as long as the API asked.
func (e *ThrottledError) RetryAfter() time.Duration { return e.After }
