package pipeline

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/suite"

	"verity/internal/audit/models"
	dErrors "verity/pkg/domain-errors"
)

// fakeStage records the loop count of every pass it observes and returns a
// scripted update.
type fakeStage struct {
	name      models.Stage
	run       func(state models.AuditState) (models.StageUpdate, error)
	seenLoops []int
}

func (f *fakeStage) Name() models.Stage { return f.name }

func (f *fakeStage) Run(_ context.Context, state models.AuditState) (models.StageUpdate, error) {
	f.seenLoops = append(f.seenLoops, state.LoopCount)
	if f.run == nil {
		return models.StageUpdate{}, nil
	}
	return f.run(state)
}

// fakePublisher captures published entries in arrival order.
type fakePublisher struct {
	auditID string
	entries []models.AgentLogEntry
}

func (f *fakePublisher) Publish(auditID string, entries ...models.AgentLogEntry) {
	f.auditID = auditID
	f.entries = append(f.entries, entries...)
}

type PipelineSuite struct {
	suite.Suite
	ctx context.Context
}

func (s *PipelineSuite) SetupTest() {
	s.ctx = context.Background()
}

func TestPipelineSuite(t *testing.T) {
	suite.Run(t, new(PipelineSuite))
}

func (s *PipelineSuite) request() RunRequest {
	return RunRequest{BatchID: "B-001", SupplierID: "SUP-001", SupplierName: "GreenTextile GmbH"}
}

// stages builds a correlator and mapper that pass through, plus a resolver
// that keeps continuing until the default ceiling rule trips.
func (s *PipelineSuite) stages(resolve func(state models.AuditState) (models.StageUpdate, error)) (*fakeStage, *fakeStage, *fakeStage) {
	correlator := &fakeStage{name: models.StageCorrelator}
	mapper := &fakeStage{name: models.StageRegulatory}
	resolver := &fakeStage{name: models.StageResolution, run: resolve}
	return correlator, mapper, resolver
}

func resolveWith(decision models.LoopDecision) func(models.AuditState) (models.StageUpdate, error) {
	return func(models.AuditState) (models.StageUpdate, error) {
		return models.StageUpdate{LoopDecision: decision, AdvanceLoop: true}, nil
	}
}

// escalateAtCeiling mirrors the resolution engine's default routing: continue
// below the final permitted pass, escalate on it.
func escalateAtCeiling(state models.AuditState) (models.StageUpdate, error) {
	decision := models.LoopContinue
	if state.LoopCount >= state.MaxLoops-1 {
		decision = models.LoopEscalate
	}
	return models.StageUpdate{LoopDecision: decision, AdvanceLoop: true}, nil
}

// =============================================================================
// Request Validation
// =============================================================================

func (s *PipelineSuite) TestValidate() {
	s.Run("missing fields are rejected", func() {
		for _, req := range []RunRequest{
			{SupplierID: "SUP-001", SupplierName: "X"},
			{BatchID: "B-001", SupplierName: "X"},
			{BatchID: "B-001", SupplierID: "SUP-001"},
		} {
			err := req.Validate()
			s.Require().Error(err)
			s.Equal(dErrors.CodeBadRequest, dErrors.CodeOf(err))
		}
	})

	s.Run("loop ceiling out of bounds is rejected", func() {
		for _, max := range []int{-1, 11} {
			req := s.request()
			req.MaxLoops = max
			err := req.Validate()
			s.Require().Error(err)
			s.Equal(dErrors.CodeBadRequest, dErrors.CodeOf(err))
		}
	})

	s.Run("zero ceiling takes the default", func() {
		req := s.request()
		s.Require().NoError(req.Validate())
		s.Equal(DefaultMaxLoops, req.MaxLoops)
	})
}

func (s *PipelineSuite) TestConfiguredDefaultMaxLoops() {
	correlator, mapper, resolver := s.stages(escalateAtCeiling)
	p := New(correlator, mapper, resolver, WithDefaultMaxLoops(5))

	state, err := p.Run(s.ctx, s.request())
	s.Require().NoError(err)
	s.Equal(5, state.MaxLoops)
	s.Equal(5, state.LoopCount)
}

// =============================================================================
// Loop Invariants
// =============================================================================

func (s *PipelineSuite) TestResolvedStopsAfterOnePass() {
	correlator, mapper, resolver := s.stages(resolveWith(models.LoopResolved))
	p := New(correlator, mapper, resolver)

	state, err := p.Run(s.ctx, s.request())
	s.Require().NoError(err)

	s.Equal(models.LoopResolved, state.LoopDecision)
	s.Equal(1, state.LoopCount)
	s.Len(correlator.seenLoops, 1)
}

func (s *PipelineSuite) TestEscalateStopsAfterOnePass() {
	correlator, _, resolver := s.stages(resolveWith(models.LoopEscalate))
	p := New(correlator, &fakeStage{name: models.StageRegulatory}, resolver)

	state, err := p.Run(s.ctx, s.request())
	s.Require().NoError(err)
	s.Equal(models.LoopEscalate, state.LoopDecision)
	s.Equal(1, state.LoopCount)
}

// TestLoopCeiling drives the loop with a resolver that keeps continuing and
// checks the counter invariants: the loop count after N full passes is N, and
// no stage ever observes a pass with loop count at or past the ceiling.
func (s *PipelineSuite) TestLoopCeiling() {
	correlator, mapper, resolver := s.stages(escalateAtCeiling)
	p := New(correlator, mapper, resolver)

	state, err := p.Run(s.ctx, s.request())
	s.Require().NoError(err)

	s.Equal(DefaultMaxLoops, state.LoopCount)
	s.Equal([]int{0, 1, 2}, correlator.seenLoops)
	for _, stage := range []*fakeStage{correlator, mapper, resolver} {
		for _, loop := range stage.seenLoops {
			s.Less(loop, DefaultMaxLoops)
		}
	}
}

// TestRunawayContinueIsBounded covers a resolver that never terminates on its
// own: the orchestrator's ceiling still stops the run.
func (s *PipelineSuite) TestRunawayContinueIsBounded() {
	correlator, mapper, resolver := s.stages(resolveWith(models.LoopContinue))
	p := New(correlator, mapper, resolver)

	state, err := p.Run(s.ctx, s.request())
	s.Require().NoError(err)
	s.Equal(DefaultMaxLoops, state.LoopCount)
	s.Len(correlator.seenLoops, DefaultMaxLoops)
}

// =============================================================================
// Stage Failure
// =============================================================================

func (s *PipelineSuite) TestStageFailure() {
	correlator, mapper, resolver := s.stages(nil)
	mapper.run = func(models.AuditState) (models.StageUpdate, error) {
		return models.StageUpdate{}, errors.New("knowledge base corrupt")
	}
	p := New(correlator, mapper, resolver)

	_, err := p.Run(s.ctx, s.request())
	s.Require().Error(err)
	s.Equal(dErrors.CodeInternal, dErrors.CodeOf(err))
	s.Contains(err.Error(), "REGULATORY_MAPPER")
	s.Empty(resolver.seenLoops)
}

// =============================================================================
// Log Publication
// =============================================================================

func (s *PipelineSuite) TestPublisherReceivesLogInOrder() {
	stamp := func(stage models.Stage, action string) func(models.AuditState) (models.StageUpdate, error) {
		return func(state models.AuditState) (models.StageUpdate, error) {
			update := models.StageUpdate{Log: []models.AgentLogEntry{
				models.NewLogEntry(stage, action, "pass", models.LogInfo),
			}}
			if stage == models.StageResolution {
				update.LoopDecision = models.LoopResolved
				update.AdvanceLoop = true
			}
			return update, nil
		}
	}

	correlator := &fakeStage{name: models.StageCorrelator, run: stamp(models.StageCorrelator, "SCAN_COMPLETE")}
	mapper := &fakeStage{name: models.StageRegulatory, run: stamp(models.StageRegulatory, "COMPLIANCE_VERDICT")}
	resolver := &fakeStage{name: models.StageResolution, run: stamp(models.StageResolution, "RESOLUTION_COMPLETE")}

	publisher := &fakePublisher{}
	p := New(correlator, mapper, resolver, WithPublisher(publisher))

	state, err := p.Run(s.ctx, s.request())
	s.Require().NoError(err)

	s.Equal(state.AuditID, publisher.auditID)

	actions := make([]string, 0, len(publisher.entries))
	for _, entry := range publisher.entries {
		actions = append(actions, entry.Action)
	}
	s.Equal([]string{
		"AUDIT_STARTED",
		"SCAN_COMPLETE",
		"COMPLIANCE_VERDICT",
		"RESOLUTION_COMPLETE",
		"AUDIT_COMPLETE",
	}, actions)

	// The published stream mirrors the state's own log.
	s.Require().Len(state.AgentLog, len(publisher.entries))
	for i, entry := range state.AgentLog {
		s.Equal(entry.Action, publisher.entries[i].Action)
	}
}
