package analyzer

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"safevision/internal/dao"
)

var ErrAnalysis = errors.New("analysis failed")

// Result is either an AnalysisResult or the error that prevented one.
type Result struct {
	Analysis dao.AnalysisResult
	Err      error
}

func Ok(a dao.AnalysisResult) Result {
	return Result{Analysis: a}
}

func Err(err error) Result {
	return Result{Err: fmt.Errorf("%w: %v", ErrAnalysis, err)}
}

// OrNeutral returns the analysis, or a no-detection result when the
// analysis failed.
func (r Result) OrNeutral() dao.AnalysisResult {
	if r.Err != nil {
		return dao.NeutralAnalysis()
	}
	return r.Analysis
}

// Analyzer runs person/behavior detection on one encoded frame. Implementations
// are not required to be safe for concurrent use.
type Analyzer interface {
	Analyze(ctx context.Context, frame []byte) Result
}

// Serialized guards an Analyzer so at most one Analyze call runs at a time.
type Serialized struct {
	mu    sync.Mutex
	inner Analyzer
}

func NewSerialized(inner Analyzer) *Serialized {
	return &Serialized{inner: inner}
}

func (s *Serialized) Analyze(ctx context.Context, frame []byte) (res Result) {
	s.mu.Lock()
	defer s.mu.Unlock()
	defer func() {
		if r := recover(); r != nil {
			res = Err(fmt.Errorf("analyzer panic: %v", r))
		}
	}()
	return s.inner.Analyze(ctx, frame)
}

// Neutral reports no people for every frame. It stands in when no inference
// backend is configured.
type Neutral struct{}

func (Neutral) Analyze(ctx context.Context, frame []byte) Result {
	return Ok(dao.NeutralAnalysis())
}
