package sheetsim

import (
	"context"
	"io"
	"time"
)

// JobStore persists job lifecycle records.
type JobStore interface {
	CreateJob(ctx context.Context, id string, meta JobMetadata) (Job, error)
	GetJob(ctx context.Context, id string) (Job, error)
	UpdateJob(ctx context.Context, id string, update JobUpdate) error
	ListJobs(ctx context.Context, limit int) ([]Job, error)
	EvictJobs(ctx context.Context, maxAge time.Duration) (int, error)
}

// BlobStore writes raw artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}

// Publisher pushes completion events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// PageFetcher fetches a URL and returns the body plus metadata.
type PageFetcher interface {
	Fetch(ctx context.Context, request FetchRequest) (FetchResponse, error)
}

// Extractor pulls the main text out of an HTML document. An empty string
// with a nil error means nothing usable was found.
type Extractor interface {
	Extract(html []byte, pageURL string) (string, error)
}

// Embedder encodes text into a fixed-length vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// ProgressReporter receives progress snapshots synchronously while a job runs.
type ProgressReporter interface {
	Report(ctx context.Context, jobID string, progress Progress)
}

// Queue provides enqueue/dequeue semantics for jobs.
type Queue interface {
	Enqueue(ctx context.Context, item QueueItem) error
	Dequeue(ctx context.Context) (QueueItem, error)
}

// Hasher computes digests used in archive paths.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces job IDs.
type IDGenerator interface {
	NewID() (string, error)
}
