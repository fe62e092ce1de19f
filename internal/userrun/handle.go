package userrun

import (
	"context"
	"net/http"
	"time"

	"stampede.dev/stampede/internal/errs"
	"stampede.dev/stampede/internal/logsink"
	"stampede.dev/stampede/internal/taskset"
)

// Get implements taskset.UserHandle.
func (u *User) Get(ctx context.Context, name, path string) (*taskset.Response, error) {
	return u.issueRequest(ctx, name, http.MethodGet, path, nil)
}

// Post implements taskset.UserHandle.
func (u *User) Post(ctx context.Context, name, path string, body []byte) (*taskset.Response, error) {
	return u.issueRequest(ctx, name, http.MethodPost, path, body)
}

// Do implements taskset.UserHandle.
func (u *User) Do(ctx context.Context, name, method, path string, body []byte) (*taskset.Response, error) {
	return u.issueRequest(ctx, name, method, path, body)
}

// SetFailure implements taskset.UserHandle: it marks the most recently
// issued (and not yet flushed) request as failed, and emits a Debug Record
// carrying label, honoring NoDebugBody.
func (u *User) SetFailure(label string, resp *taskset.Response) {
	if u.pending == nil {
		return
	}
	u.pending.Success = false
	u.pending.Error = label

	var body string
	if resp != nil && !u.cfg.NoDebugBody {
		body = string(resp.Body)
	}
	u.sink.Send(logsink.Event{Kind: logsink.KindDebug, Debug: &logsink.DebugRecord{Tag: label, Body: body}})
}

// LogDebug implements taskset.UserHandle.
func (u *User) LogDebug(tag string) {
	u.sink.Send(logsink.Event{Kind: logsink.KindDebug, Debug: &logsink.DebugRecord{Tag: tag}})
}

// issueRequest flushes any previously pending request (so SetFailure only
// ever applies to the request the task function just made), checks the
// cadence tracker for a coordinated-omission stall, performs the HTTP call,
// and stages the resulting Request Metric as pending rather than sending it
// immediately — SetFailure needs the chance to amend it before it's logged.
func (u *User) issueRequest(ctx context.Context, name, method, path string, body []byte) (*taskset.Response, error) {
	u.flushPending()

	now := time.Now()
	if gap, slots, stalled := u.cad.observe(now); stalled {
		u.emitBackfill(name, gap, slots)
	}

	resp, elapsed, err := u.doRequest(ctx, method, u.baseURL, path, body)

	var statusCode int
	var finalURL string
	var redirected bool
	if resp != nil {
		statusCode, finalURL, redirected = resp.StatusCode, resp.FinalURL, resp.Redirected
	}
	success := err == nil && statusCode > 0 && statusCode < 400

	var errLabel string
	switch {
	case err != nil:
		errLabel = err.Error()
	case !success:
		errLabel = (&errs.BadStatus{Code: statusCode}).Error()
	}

	u.pending = &logsink.RequestRecord{
		Elapsed:        time.Since(u.start).Milliseconds(),
		Raw:            method + " " + path,
		Name:           name,
		FinalURL:       finalURL,
		Redirected:     redirected,
		ResponseTimeMs: elapsed.Milliseconds(),
		StatusCode:     statusCode,
		Success:        success,
		User:           u.ID,
		Error:          errLabel,
		UserCadence:    u.cad.current(),
	}
	u.pendingRaw = resp

	return resp, err
}

// flushPending sends the staged Request Metric (and, if it ended up marked
// failed, a matching Error Record) to the Logger Sink and the Aggregator.
// Called before every new request and once more at the end of each task.
func (u *User) flushPending() {
	if u.pending == nil {
		return
	}
	rec := u.pending
	u.pending, u.pendingRaw = nil, nil

	u.sink.Send(logsink.Event{Kind: logsink.KindRequest, Request: rec})
	if !rec.Success {
		u.sink.Send(logsink.Event{Kind: logsink.KindError, Error: &logsink.ErrorRecord{
			Elapsed: rec.Elapsed, Raw: rec.Raw, Name: rec.Name, FinalURL: rec.FinalURL,
			Redirected: rec.Redirected, ResponseTimeMs: rec.ResponseTimeMs, StatusCode: rec.StatusCode,
			User: rec.User, Error: rec.Error,
		}})
	}
	u.sendMetric(rec.Name, rec.StatusCode, rec.Success, rec.ResponseTimeMs)
}

// emitBackfill synthesises one back-filled Request Metric per missed slot
// for a detected coordinated-omission stall (spec §4.4). Every synthetic
// sample carries the full observed gap, per spec's "whose
// coordinated_omission_elapsed is set to the gap".
func (u *User) emitBackfill(name string, gap time.Duration, slots int) {
	co := gap.Milliseconds()
	for i := 0; i < slots; i++ {
		u.sink.Send(logsink.Event{Kind: logsink.KindRequest, Request: &logsink.RequestRecord{
			Elapsed:                    time.Since(u.start).Milliseconds(),
			Raw:                        "synthetic",
			Name:                       name,
			Success:                    false,
			User:                       u.ID,
			Error:                      "CO",
			CoordinatedOmissionElapsed: &co,
			UserCadence:                u.cad.current(),
		}})
		u.sendMetric(name, 0, false, co)
	}
}

// sendMetric is a non-blocking send to the bounded per-user metrics
// channel; on a full channel the sample is dropped and counted, never
// blocking the measurement path (spec §5).
func (u *User) sendMetric(endpoint string, status int, success bool, responseTimeMs int64) {
	select {
	case u.metricsCh <- metricEvent{endpoint: endpoint, statusCode: status, success: success, responseTimeMs: responseTimeMs}:
	default:
		u.droppedMetrics++
	}
}
