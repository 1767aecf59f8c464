// Package report delivers invocation records to a collector on a best
// effort basis. Report has no error result: a missing collector, a full
// socket buffer or a slow peer costs at most the transport timeouts and a
// debug log line.
package report

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/mbrock/shimtrace/internal/transport"
	"github.com/mbrock/shimtrace/internal/wire"
)

// ResponseCapacity caps how much of a collector's reply is drained.
const ResponseCapacity = 1024

// Reporter sends records over the configured channel.
type Reporter struct {
	cfg    transport.Config
	logger *slog.Logger
}

// New returns a Reporter using cfg. A nil logger discards diagnostics.
func New(cfg transport.Config, logger *slog.Logger) *Reporter {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Reporter{cfg: cfg, logger: logger}
}

// Report sends rec once. Failures are logged at debug level and dropped.
func (r *Reporter) Report(ctx context.Context, rec wire.InvocationRecord) {
	start := time.Now()
	n, err := r.send(ctx, rec)
	if err != nil {
		r.logger.Debug("report dropped",
			"kind", r.cfg.Kind,
			"endpoint", r.cfg.Endpoint(),
			"elapsed", time.Since(start),
			"error", err)
		return
	}
	r.logger.Debug("report sent",
		"kind", r.cfg.Kind,
		"endpoint", r.cfg.Endpoint(),
		"response_bytes", n,
		"elapsed", time.Since(start))
}

func (r *Reporter) send(ctx context.Context, rec wire.InvocationRecord) (int, error) {
	data, err := wire.Marshal(rec)
	if err != nil {
		return 0, err
	}

	ch, err := transport.Open(ctx, r.cfg)
	if err != nil {
		return 0, err
	}
	defer ch.Close()

	if err := ch.Send(data); err != nil {
		return 0, err
	}

	// The reply is never interpreted; reading it just lets the collector
	// finish its side before we go away.
	n, err := ch.TryReceive(ResponseCapacity)
	if err != nil {
		return n, fmt.Errorf("after sending %d bytes: %w", len(data), err)
	}
	return n, nil
}
