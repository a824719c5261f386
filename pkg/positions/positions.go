// Package positions persists resolved tracker positions. The position log is
// append only; the latest position per tracker is additionally kept in a
// presence cache for cheap current-state reads.
package positions

import (
	"context"
	"time"

	"github.com/illmade-knight/go-trackflow/pkg/h02"
)

// Position is one appended position-log row.
type Position struct {
	TrackerID int64      `bigquery:"tracker_id" json:"tracker_id"`
	Lat       float64    `bigquery:"lat" json:"lat"`
	Lng       float64    `bigquery:"lng" json:"lng"`
	Speed     float64    `bigquery:"speed" json:"speed"`
	Direction int        `bigquery:"direction" json:"direction"`
	Status    h02.Status `bigquery:"status" json:"status"`
	// EventTime is the GPS fix instant reported by the device.
	EventTime time.Time `bigquery:"event_time" json:"event_time"`
	// IngestTime is when the pipeline processed the event.
	IngestTime time.Time `bigquery:"ingest_time" json:"ingest_time"`
}

// BatchInserter appends batches of position rows to the log.
type BatchInserter interface {
	InsertBatch(ctx context.Context, rows []*Position) error
	Close() error
}
