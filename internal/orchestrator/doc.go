// Package orchestrator drives one repository session through the
// ingest, size, index and query stages.
//
// Each host-facing operation returns a result embedding types.Record:
// Status carries progress lines in order and Error is set instead of
// returning a Go error. With auto-drive on, an operation that needs a
// later stage runs the missing stages first.
//
//	o, err := orchestrator.New(ctx, cfg, orchestrator.Deps{Logger: logger})
//	if err != nil {
//		return err
//	}
//	defer o.Close()
//	res := o.Ask(ctx, "how does login work?", orchestrator.DefaultK, false)
//
// Pipeline stages are serialized by a non-blocking lock; a second run
// started while one is in progress fails with InvalidState.
package orchestrator
