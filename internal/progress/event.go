// Package progress defines the event structures emitted during a crawl run.
package progress

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Stage denotes the type of milestone represented by an Event.
type Stage string

// Supported progress stages.
const (
	StageRunStart        Stage = "RUN_START"
	StageListingDone     Stage = "LISTING_DONE"
	StageReviewsPageDone Stage = "REVIEWS_PAGE_DONE"
	StageFetchFailed     Stage = "FETCH_FAILED"
	StageFlushDone       Stage = "FLUSH_DONE"
	StageFlushFailed     Stage = "FLUSH_FAILED"
	StageRunDone         Stage = "RUN_DONE"
)

// StatusClass is a coarse HTTP response grouping.
type StatusClass string

// Supported HTTP status classes.
const (
	Status2xx   StatusClass = "2xx"
	Status3xx   StatusClass = "3xx"
	Status4xx   StatusClass = "4xx"
	Status5xx   StatusClass = "5xx"
	StatusOther StatusClass = "other"
)

// Event captures a single milestone of a crawl run.
type Event struct {
	// RunID identifies the crawl run using the 16-byte UUID form.
	RunID [16]byte
	// TS is the UTC timestamp recorded by the emitter.
	TS time.Time
	// Stage denotes which milestone occurred.
	Stage Stage
	// Site scopes fetch events to a host label.
	Site string
	// URL is the listing or reviews page involved, if any.
	URL string
	// AppID is set on listing and reviews events.
	AppID string
	// Table names the store table of flush events.
	Table string
	// Page is the 1-based reviews page index.
	Page int
	// Records counts the records extracted or flushed.
	Records int64
	// Bytes carries the response size of the fetch.
	Bytes int64
	// StatusClass groups the HTTP response code of the fetch.
	StatusClass StatusClass
	// Dur captures fetch, flush or run latency.
	Dur time.Duration
	// Note carries low-volume context such as error text.
	Note string
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.RunID == [16]byte{} {
		return errors.New("run id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Stage {
	case StageRunStart, StageRunDone:
	case StageListingDone:
		if e.URL == "" || e.AppID == "" {
			return errors.New("listing done requires url and app id")
		}
	case StageReviewsPageDone:
		if e.AppID == "" {
			return errors.New("reviews page done requires app id")
		}
		if e.Page < 1 {
			return errors.New("reviews page index must be >= 1")
		}
	case StageFetchFailed:
		if e.URL == "" {
			return errors.New("fetch failed requires url")
		}
	case StageFlushDone, StageFlushFailed:
		if e.Table == "" {
			return errors.New("flush events require table")
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	if e.Records < 0 {
		return errors.New("records must be >= 0")
	}
	return nil
}

// RunUUID converts the binary run id to uuid.UUID.
func (e Event) RunUUID() uuid.UUID {
	return uuid.UUID(e.RunID)
}

// UUIDToBytes encodes a uuid.UUID into the Event form.
func UUIDToBytes(id uuid.UUID) [16]byte {
	var dest [16]byte
	copy(dest[:], id[:])
	return dest
}

// ClassifyStatus groups HTTP status codes for fetch events.
func ClassifyStatus(code int) StatusClass {
	switch {
	case code >= 200 && code < 300:
		return Status2xx
	case code >= 300 && code < 400:
		return Status3xx
	case code >= 400 && code < 500:
		return Status4xx
	case code >= 500 && code < 600:
		return Status5xx
	default:
		return StatusOther
	}
}
