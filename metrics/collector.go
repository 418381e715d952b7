// Package metrics provides process-lifetime counters for the upload pipeline.
//
// The Collector is a leaf package with no internal dependencies. It is shared
// by all in-flight requests and logged as a Snapshot at shutdown.
package metrics

import "sync"

// Snapshot is an immutable point-in-time view of all counters.
type Snapshot struct {
	// Requests
	FormsServed      int64 `json:"forms_served"`
	UploadsStarted   int64 `json:"uploads_started"`
	UploadsSucceeded int64 `json:"uploads_succeeded"`
	UploadsFailed    int64 `json:"uploads_failed"`

	// Failure kinds
	FilesystemErrors int64 `json:"filesystem_errors"`
	ParseErrors      int64 `json:"parse_errors"`
	PublishErrors    int64 `json:"publish_errors"`

	// Intake volume
	FilesReceived  int64 `json:"files_received"`
	FieldsReceived int64 `json:"fields_received"`
	BytesReceived  int64 `json:"bytes_received"`

	// Workspace cleanup
	WorkspacesReleased int64 `json:"workspaces_released"`
	ReleaseFailures    int64 `json:"release_failures"`

	// Post-publish tasks
	ArchiveSuccess int64 `json:"archive_success"`
	ArchiveFailure int64 `json:"archive_failure"`
	NotifySuccess  int64 `json:"notify_success"`
	NotifyFailure  int64 `json:"notify_failure"`
}

// Collector accumulates counters across requests.
// Thread-safe via sync.Mutex. All methods are nil-receiver safe.
type Collector struct {
	mu sync.Mutex
	s  Snapshot
}

// NewCollector creates an empty Collector.
func NewCollector() *Collector {
	return &Collector{}
}

func (c *Collector) add(fn func(s *Snapshot)) {
	if c == nil {
		return
	}
	c.mu.Lock()
	fn(&c.s)
	c.mu.Unlock()
}

// IncFormServed records a rendered upload form.
func (c *Collector) IncFormServed() { c.add(func(s *Snapshot) { s.FormsServed++ }) }

// IncUploadStarted records an accepted POST upload.
func (c *Collector) IncUploadStarted() { c.add(func(s *Snapshot) { s.UploadsStarted++ }) }

// IncUploadSucceeded records a published upload.
func (c *Collector) IncUploadSucceeded() { c.add(func(s *Snapshot) { s.UploadsSucceeded++ }) }

// IncUploadFailed records an upload that ended in an error response.
func (c *Collector) IncUploadFailed() { c.add(func(s *Snapshot) { s.UploadsFailed++ }) }

// IncFilesystemError records a workspace allocation failure.
func (c *Collector) IncFilesystemError() { c.add(func(s *Snapshot) { s.FilesystemErrors++ }) }

// IncParseError records a multipart parse failure.
func (c *Collector) IncParseError() { c.add(func(s *Snapshot) { s.ParseErrors++ }) }

// IncPublishError records a publish failure.
func (c *Collector) IncPublishError() { c.add(func(s *Snapshot) { s.PublishErrors++ }) }

// AddIntake records the volume of one completed intake.
func (c *Collector) AddIntake(fields, files int, bytes int64) {
	c.add(func(s *Snapshot) {
		s.FieldsReceived += int64(fields)
		s.FilesReceived += int64(files)
		s.BytesReceived += bytes
	})
}

// IncWorkspaceReleased records a successful workspace removal.
func (c *Collector) IncWorkspaceReleased() { c.add(func(s *Snapshot) { s.WorkspacesReleased++ }) }

// IncReleaseFailure records a failed workspace removal.
func (c *Collector) IncReleaseFailure() { c.add(func(s *Snapshot) { s.ReleaseFailures++ }) }

// IncArchiveSuccess records an archived workspace.
func (c *Collector) IncArchiveSuccess() { c.add(func(s *Snapshot) { s.ArchiveSuccess++ }) }

// IncArchiveFailure records a failed archive attempt.
func (c *Collector) IncArchiveFailure() { c.add(func(s *Snapshot) { s.ArchiveFailure++ }) }

// IncNotifySuccess records a delivered notification.
func (c *Collector) IncNotifySuccess() { c.add(func(s *Snapshot) { s.NotifySuccess++ }) }

// IncNotifyFailure records a notification that exhausted its retries.
func (c *Collector) IncNotifyFailure() { c.add(func(s *Snapshot) { s.NotifyFailure++ }) }

// Snapshot returns a copy of the current counters.
func (c *Collector) Snapshot() Snapshot {
	if c == nil {
		return Snapshot{}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.s
}

// Fields returns the snapshot as a log field bag.
func (s Snapshot) Fields() map[string]any {
	return map[string]any{
		"forms_served":        s.FormsServed,
		"uploads_started":     s.UploadsStarted,
		"uploads_succeeded":   s.UploadsSucceeded,
		"uploads_failed":      s.UploadsFailed,
		"filesystem_errors":   s.FilesystemErrors,
		"parse_errors":        s.ParseErrors,
		"publish_errors":      s.PublishErrors,
		"files_received":      s.FilesReceived,
		"fields_received":     s.FieldsReceived,
		"bytes_received":      s.BytesReceived,
		"workspaces_released": s.WorkspacesReleased,
		"release_failures":    s.ReleaseFailures,
		"archive_success":     s.ArchiveSuccess,
		"archive_failure":     s.ArchiveFailure,
		"notify_success":      s.NotifySuccess,
		"notify_failure":      s.NotifyFailure,
	}
}
