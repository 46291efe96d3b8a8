package pipeline

import (
	"context"
)

// stage runs one step of the tile state machine inside a span, logging
// its duration with the standard run/tile/attempt fields.
func (p *Processor) stage(ctx context.Context, name, runID, tileID string, attempt int, fn func(ctx context.Context) error) error {
	ctx, span := p.telemetry.StartSpan(ctx, "pipeline.stage."+name)
	defer span.End()
	span.SetAttribute("run_id", runID)
	span.SetAttribute("tile_id", tileID)
	if attempt > 0 {
		span.SetAttribute("attempt", attempt)
	}

	start := p.now()
	err := fn(ctx)
	durMS := p.now().Sub(start).Milliseconds()

	fields := map[string]interface{}{
		"operation": "stage",
		"stage":     name,
		"run_id":    runID,
		"tile_id":   tileID,
		"dur_ms":    durMS,
	}
	if attempt > 0 {
		fields["attempt"] = attempt
	}

	if err != nil {
		span.RecordError(err)
		fields["error"] = err.Error()
		p.logger.Warn("Stage failed", fields)
		return err
	}

	p.logger.Debug("Stage completed", fields)
	return nil
}
