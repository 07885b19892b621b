// Package api is the client for the napwatch schedule backend. It exposes
// the schedule snapshot and the shared reminder lead setting; all other
// mutations happen elsewhere and reach the engine only through the next
// snapshot refresh.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/marcus/napwatch/internal/timeline"
)

// ErrNotFound means no schedule exists yet for the requested date.
var ErrNotFound = errors.New("api: schedule not found")

// StatusError reports an unexpected HTTP status.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("api: unexpected status %d", e.Code)
}

// Snapshot is the schedule state as served by the backend.
type Snapshot struct {
	Day          *timeline.Day
	Naps         []timeline.Nap
	SleepSession *timeline.SleepSession
}

// Client talks to the schedule backend. One request per purpose is in
// flight at a time; overlapping callers share the pending request's result.
type Client struct {
	baseURL string
	http    *http.Client

	snapshotFlight flight[*Snapshot]
	leadFlight     flight[int]
}

// New creates a Client for the given base URL.
func New(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
	}
}

// flight collapses concurrent calls for the same purpose into one request.
type flight[T any] struct {
	mu      sync.Mutex
	pending chan struct{}
	result  T
	err     error
}

func (f *flight[T]) do(fn func() (T, error)) (T, error) {
	f.mu.Lock()
	if f.pending != nil {
		ch := f.pending
		f.mu.Unlock()
		<-ch
		f.mu.Lock()
		defer f.mu.Unlock()
		return f.result, f.err
	}
	ch := make(chan struct{})
	f.pending = ch
	f.mu.Unlock()

	result, err := fn()

	f.mu.Lock()
	f.result = result
	f.err = err
	f.pending = nil
	f.mu.Unlock()
	close(ch)
	return result, err
}

// wire types

type wireSnapshot struct {
	Day          *wireDay          `json:"day"`
	Naps         []wireNap         `json:"naps"`
	SleepSession *wireSleepSession `json:"sleep_session"`
}

type wireDay struct {
	Date                string `json:"date"`
	FirstWakeAt         string `json:"first_wake_at"`
	DailyAwakeBudgetSec int    `json:"daily_awake_budget_sec"`
}

type wireNap struct {
	Index               int    `json:"index"`
	Status              string `json:"status"`
	PlannedDurationSec  int    `json:"planned_duration_sec"`
	AdjustedDurationSec *int   `json:"adjusted_duration_sec"`
	PlannedStartAt      string `json:"planned_start_at"`
	ActualStartAt       string `json:"actual_start_at"`
	ActualEndAt         string `json:"actual_end_at"`
}

type wireSleepSession struct {
	StartAt string `json:"start_at"`
	EndAt   string `json:"end_at"`
}

type wireLead struct {
	LeadTimeSec int `json:"lead_time_sec"`
}

// Schedule fetches the snapshot for a date (YYYY-MM-DD). Returns ErrNotFound
// when no schedule exists yet.
func (c *Client) Schedule(ctx context.Context, date string) (*Snapshot, error) {
	return c.snapshotFlight.do(func() (*Snapshot, error) {
		u := fmt.Sprintf("%s/api/schedule?date=%s", c.baseURL, url.QueryEscape(date))
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
		if err != nil {
			return nil, fmt.Errorf("building request: %w", err)
		}

		resp, err := c.http.Do(req)
		if err != nil {
			return nil, fmt.Errorf("fetching schedule: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode == http.StatusNotFound {
			return nil, ErrNotFound
		}
		if resp.StatusCode != http.StatusOK {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
			return nil, &StatusError{Code: resp.StatusCode, Body: string(body)}
		}

		var wire wireSnapshot
		if err := json.NewDecoder(resp.Body).Decode(&wire); err != nil {
			return nil, fmt.Errorf("decoding schedule: %w", err)
		}
		return decodeSnapshot(&wire), nil
	})
}

// LeadTime fetches the shared reminder lead in seconds.
func (c *Client) LeadTime(ctx context.Context) (int, error) {
	return c.leadFlight.do(func() (int, error) {
		u := c.baseURL + "/api/settings/reminder-lead"
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
		if err != nil {
			return 0, fmt.Errorf("building request: %w", err)
		}

		resp, err := c.http.Do(req)
		if err != nil {
			return 0, fmt.Errorf("fetching lead time: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return 0, &StatusError{Code: resp.StatusCode}
		}

		var wire wireLead
		if err := json.NewDecoder(resp.Body).Decode(&wire); err != nil {
			return 0, fmt.Errorf("decoding lead time: %w", err)
		}
		return wire.LeadTimeSec, nil
	})
}

// SetLeadTime patches the shared reminder lead.
func (c *Client) SetLeadTime(ctx context.Context, sec int) error {
	_, err := c.leadFlight.do(func() (int, error) {
		body, err := json.Marshal(wireLead{LeadTimeSec: sec})
		if err != nil {
			return 0, err
		}

		u := c.baseURL + "/api/settings/reminder-lead"
		req, err := http.NewRequestWithContext(ctx, http.MethodPatch, u, bytes.NewReader(body))
		if err != nil {
			return 0, fmt.Errorf("building request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.http.Do(req)
		if err != nil {
			return 0, fmt.Errorf("updating lead time: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
			return 0, &StatusError{Code: resp.StatusCode}
		}
		return sec, nil
	})
	return err
}

// decodeSnapshot converts wire records to timeline types. Timestamps that do
// not parse are treated as absent, never as errors.
func decodeSnapshot(wire *wireSnapshot) *Snapshot {
	snap := &Snapshot{Naps: make([]timeline.Nap, 0, len(wire.Naps))}

	if wire.Day != nil {
		snap.Day = &timeline.Day{
			Date:                wire.Day.Date,
			FirstWakeAt:         parseTime(wire.Day.FirstWakeAt),
			DailyAwakeBudgetSec: wire.Day.DailyAwakeBudgetSec,
		}
	}

	for _, n := range wire.Naps {
		snap.Naps = append(snap.Naps, timeline.Nap{
			Index:               n.Index,
			Status:              parseStatus(n.Status),
			PlannedDurationSec:  n.PlannedDurationSec,
			AdjustedDurationSec: n.AdjustedDurationSec,
			PlannedStartAt:      parseTime(n.PlannedStartAt),
			ActualStartAt:       parseTime(n.ActualStartAt),
			ActualEndAt:         parseTime(n.ActualEndAt),
		})
	}

	if wire.SleepSession != nil {
		snap.SleepSession = &timeline.SleepSession{
			StartAt: parseTime(wire.SleepSession.StartAt),
			EndAt:   parseTime(wire.SleepSession.EndAt),
		}
	}

	return snap
}

func parseStatus(s string) timeline.NapStatus {
	switch timeline.NapStatus(s) {
	case timeline.NapInProgress:
		return timeline.NapInProgress
	case timeline.NapFinished:
		return timeline.NapFinished
	default:
		return timeline.NapUpcoming
	}
}

// parseTime parses an RFC3339 timestamp, returning nil for empty or
// malformed values.
func parseTime(s string) *time.Time {
	if s == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil || t.IsZero() {
		return nil
	}
	return &t
}
