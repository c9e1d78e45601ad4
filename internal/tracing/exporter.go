package tracing

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// spanRecord is the JSONL shape written by the file exporter. The
// runtime's well-known attributes are promoted to top-level fields so
// reconfiguration cycles and tier loads can be grepped directly;
// anything else lands in Attrs.
type spanRecord struct {
	Name       string            `json:"name"`
	TraceID    string            `json:"trace_id"`
	SpanID     string            `json:"span_id"`
	ParentID   string            `json:"parent_id,omitempty"`
	Start      time.Time         `json:"start"`
	End        time.Time         `json:"end"`
	DurationMS float64           `json:"duration_ms"`
	Status     string            `json:"status"`
	StatusMsg  string            `json:"status_msg,omitempty"`
	Cycle      string            `json:"cycle,omitempty"`
	Generation string            `json:"generation,omitempty"`
	Feature    string            `json:"feature,omitempty"`
	Tier       string            `json:"tier,omitempty"`
	Modules    string            `json:"modules,omitempty"`
	Attrs      map[string]string `json:"attrs,omitempty"`
}

// FileExporter writes completed spans as JSON lines to a local file.
// It exists so the runtime can be traced in development without an
// OTLP collector running.
type FileExporter struct {
	mu      sync.Mutex
	file    *os.File
	encoder *json.Encoder
	stopped bool
}

// NewFileExporter opens (or creates) the output file in append mode.
func NewFileExporter(path string) (*FileExporter, error) {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open trace file: %w", err)
	}
	return &FileExporter{
		file:    file,
		encoder: json.NewEncoder(file),
	}, nil
}

// ExportSpans writes one record per span. Called by the batch processor.
func (e *FileExporter) ExportSpans(_ context.Context, spans []sdktrace.ReadOnlySpan) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.stopped {
		return nil
	}

	for _, span := range spans {
		rec := spanRecord{
			Name:       span.Name(),
			TraceID:    span.SpanContext().TraceID().String(),
			SpanID:     span.SpanContext().SpanID().String(),
			Start:      span.StartTime(),
			End:        span.EndTime(),
			DurationMS: float64(span.EndTime().Sub(span.StartTime()).Microseconds()) / 1000.0,
			Status:     span.Status().Code.String(),
			StatusMsg:  span.Status().Description,
		}
		if span.Parent().IsValid() {
			rec.ParentID = span.Parent().SpanID().String()
		}

		for _, kv := range span.Attributes() {
			val := kv.Value.Emit()
			switch string(kv.Key) {
			case AttrCycleID:
				rec.Cycle = val
			case AttrGeneration:
				rec.Generation = val
			case AttrFeatureName:
				rec.Feature = val
			case AttrTier:
				rec.Tier = val
			case AttrModuleCount:
				rec.Modules = val
			default:
				if rec.Attrs == nil {
					rec.Attrs = make(map[string]string)
				}
				rec.Attrs[string(kv.Key)] = val
			}
		}

		if err := e.encoder.Encode(rec); err != nil {
			return fmt.Errorf("encode span: %w", err)
		}
	}
	return nil
}

// Shutdown flushes and closes the output file. Subsequent exports are
// silently dropped.
func (e *FileExporter) Shutdown(_ context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.stopped {
		return nil
	}
	e.stopped = true
	return e.file.Close()
}
