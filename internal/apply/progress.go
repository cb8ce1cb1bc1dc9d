// Copyright 2025 James Ross
package apply

import "go.uber.org/zap"

// Progress is a sink for apply-engine events, passed explicitly into
// long-running operations rather than observed as an ambient side
// effect (Design Note "Progress reporting"). Implementations must be
// safe for concurrent use; acquire fans out across goroutines.
type Progress interface {
	OnFile(path string, clean bool)
	OnBlock(blockID string, source SourceKind)
	OnBundleFetch(bundleID string, bytes int, attempt int)
	OnPrune(path string)
}

// NopProgress discards every event.
type NopProgress struct{}

func (NopProgress) OnFile(string, bool)            {}
func (NopProgress) OnBlock(string, SourceKind)     {}
func (NopProgress) OnBundleFetch(string, int, int) {}
func (NopProgress) OnPrune(string)                 {}

// LogProgress reports every event as a structured debug-level log
// line, for CLI invocations run with verbose logging.
type LogProgress struct {
	Log *zap.Logger
}

func (p LogProgress) OnFile(path string, clean bool) {
	p.Log.Debug("file planned", zap.String("path", path), zap.Bool("clean", clean))
}

func (p LogProgress) OnBlock(blockID string, source SourceKind) {
	p.Log.Debug("block acquired", zap.String("block_id", blockID), zap.Int("source", int(source)))
}

func (p LogProgress) OnBundleFetch(bundleID string, bytes int, attempt int) {
	p.Log.Debug("bundle fetch attempt", zap.String("bundle_id", bundleID), zap.Int("bytes", bytes), zap.Int("attempt", attempt))
}

func (p LogProgress) OnPrune(path string) {
	p.Log.Debug("pruned orphan", zap.String("path", path))
}
