package tracing

// Attribute keys attached to runtime spans. The file exporter promotes
// these to top-level fields in its output records.
const (
	AttrCycleID     = "cycle.id"
	AttrGeneration  = "registry.generation"
	AttrTier        = "loader.tier"
	AttrFeatureName = "feature.name"
	AttrModuleCount = "module.count"
)

// Span names used by the runtime.
const (
	SpanBoot         = "boot"
	SpanCriticalTier = "loader.critical"
	SpanSharedTier   = "loader.shared"
	SpanFeatureLoad  = "loader.feature"
	SpanReconfigure  = "reconfigure.cycle"
)
