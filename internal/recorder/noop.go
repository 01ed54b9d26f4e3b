package recorder

// NoopRecorder is a no-op implementation used when history is not configured.
type NoopRecorder struct{}

func NewNoopRecorder() *NoopRecorder { return &NoopRecorder{} }

func (n *NoopRecorder) RecordRun(_ *RunEvent) error                      { return nil }
func (n *NoopRecorder) RecordPromotionFailure(_ *PromotionFailure) error { return nil }
func (n *NoopRecorder) RecordSweep(_ *SweepEvent) error                  { return nil }
func (n *NoopRecorder) Close() error                                     { return nil }
