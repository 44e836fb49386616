package report

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"path"
	"time"

	"go.uber.org/zap"
)

// BlobStore writes report documents and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}

// Publisher pushes run-complete events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Completed is the event published after a run is archived.
type Completed struct {
	RunID             string    `json:"runId"`
	Mode              string    `json:"mode"`
	ReportURI         string    `json:"reportUri,omitempty"`
	FinishedAt        time.Time `json:"finishedAt"`
	ProductLinksFound int       `json:"productLinksFound"`
	Products          int       `json:"products"`
	Failures          int       `json:"failures"`
	Error             string    `json:"error,omitempty"`
}

// Archiver stores run reports and announces them. Either dependency may be nil.
type Archiver struct {
	blobs     BlobStore
	publisher Publisher
	topic     string
	prefix    string
	logger    *zap.Logger
}

// NewArchiver builds an Archiver.
func NewArchiver(blobs BlobStore, publisher Publisher, topic, prefix string, logger *zap.Logger) *Archiver {
	if logger == nil {
		logger = zap.NewNop()
	}
	if prefix == "" {
		prefix = "reports"
	}
	return &Archiver{blobs: blobs, publisher: publisher, topic: topic, prefix: prefix, logger: logger}
}

// Archive writes run as JSON and publishes a Completed event. Archiving is
// best effort: failures are returned for logging but never alter the run.
func (a *Archiver) Archive(ctx context.Context, run Run, finishedAt time.Time) (string, error) {
	if a == nil {
		return "", nil
	}
	var uri string
	if a.blobs != nil {
		data, err := json.MarshalIndent(run, "", "  ")
		if err != nil {
			return "", fmt.Errorf("marshal report: %w", err)
		}
		key := ObjectPath(a.prefix, run, finishedAt)
		uri, err = a.blobs.PutObject(ctx, key, "application/json", bytes.NewReader(data))
		if err != nil {
			return "", fmt.Errorf("store report: %w", err)
		}
		a.logger.Info("report archived", zap.String("run_id", run.RunID.String()), zap.String("uri", uri))
	}
	if a.publisher != nil && a.topic != "" {
		event := completedEvent(run, uri, finishedAt)
		id, err := a.publisher.Publish(ctx, a.topic, event)
		if err != nil {
			return uri, fmt.Errorf("publish run completed: %w", err)
		}
		a.logger.Info("run completed event published", zap.String("message_id", id))
	}
	return uri, nil
}

// ObjectPath lays reports out as prefix/YYYY/MM/DD/<run id>.json.
func ObjectPath(prefix string, run Run, finishedAt time.Time) string {
	day := finishedAt.UTC().Format("2006/01/02")
	return path.Join(prefix, day, run.RunID.String()+".json")
}

func completedEvent(run Run, uri string, finishedAt time.Time) Completed {
	ev := Completed{
		RunID:      run.RunID.String(),
		Mode:       run.Mode,
		ReportURI:  uri,
		FinishedAt: finishedAt.UTC(),
		Error:      run.Error,
	}
	if run.Discovery != nil {
		ev.ProductLinksFound = run.Discovery.ProductLinksFound
		ev.Failures += len(run.Discovery.Failures)
	}
	if run.Ingestion != nil {
		ev.Products = run.Ingestion.Products
		ev.Failures += len(run.Ingestion.Failures)
	}
	return ev
}
