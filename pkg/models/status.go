package models

// PageStatus represents the archive status of a page in the journal
type PageStatus string

const (
	PageStatusUnset    PageStatus = ""          // Zero value = unset/unknown
	PageStatusPending  PageStatus = "pending"   // Page in the frontier but not saved yet
	PageStatusSuccess  PageStatus = "success"   // Page rendered, rewritten and written to disk
	PageStatusFailure  PageStatus = "failure"   // Last attempt failed; may be requeued
	PageStatusNotFound PageStatus = "not_found" // Page not in journal
	PageStatusDBError  PageStatus = "db_error"  // Database error occurred
)

// String implements fmt.Stringer for logging
func (s PageStatus) String() string {
	if s == "" {
		return "unset"
	}
	return string(s)
}

// IsValid returns true if the status is a known operational value
func (s PageStatus) IsValid() bool {
	switch s {
	case PageStatusPending, PageStatusSuccess, PageStatusFailure:
		return true
	}
	return false
}

// ResourceStatus represents the fetch status of a page resource in the journal
type ResourceStatus string

const (
	ResourceStatusUnset    ResourceStatus = ""          // Zero value = unset/unknown
	ResourceStatusSuccess  ResourceStatus = "success"   // Resource written to disk
	ResourceStatusFailure  ResourceStatus = "failure"   // Fetch or write failed; not retried this run
	ResourceStatusSkipped  ResourceStatus = "skipped"   // Already on disk, oversized or disallowed
	ResourceStatusNotFound ResourceStatus = "not_found" // Resource not in journal
	ResourceStatusDBError  ResourceStatus = "db_error"  // Database error occurred
)

// String implements fmt.Stringer for logging
func (s ResourceStatus) String() string {
	if s == "" {
		return "unset"
	}
	return string(s)
}

// IsValid returns true if the status is a known operational value
func (s ResourceStatus) IsValid() bool {
	switch s {
	case ResourceStatusSuccess, ResourceStatusFailure, ResourceStatusSkipped:
		return true
	}
	return false
}
