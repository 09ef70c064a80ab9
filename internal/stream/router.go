package stream

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/yungbote/hatchery-backend/internal/data/repos"
	"github.com/yungbote/hatchery-backend/internal/domain"
	"github.com/yungbote/hatchery-backend/internal/platform/dbctx"
	"github.com/yungbote/hatchery-backend/internal/platform/logger"
)

// JobEnqueuer is the slice of the job service the router needs.
type JobEnqueuer interface {
	Enqueue(ctx context.Context, jobType string, entityType string, entityID uuid.UUID, payload map[string]any) (*domain.JobRun, error)
}

// Router turns egg change events into enrichment and consolidation jobs.
//
// Insert events only feed the pending gauge. Routing happens on modify
// events that carry a hatch likelihood and touch no media column: scores at
// or above the viable threshold go to the chick media worker, the rest to
// the comfort song worker. Consolidation is enqueued whenever a clutch's
// pending gauge drains to zero; duplicate enqueues are tolerated because the
// consolidator bails out on terminal clutches.
type Router struct {
	log     *logger.Logger
	eggs    repos.EggRepo
	enqueue JobEnqueuer

	mu      sync.Mutex
	pending map[uuid.UUID]*clutchGauge
}

type clutchGauge struct {
	open int
	seen int
}

func NewRouter(log *logger.Logger, eggs repos.EggRepo, enqueue JobEnqueuer) *Router {
	return &Router{
		log:     log.With("service", "EggRouter"),
		eggs:    eggs,
		enqueue: enqueue,
		pending: map[uuid.UUID]*clutchGauge{},
	}
}

// Start subscribes the router to the bus. Events are handled on the bus
// forwarder goroutine.
func (r *Router) Start(ctx context.Context, bus Bus) error {
	return bus.StartForwarder(ctx, func(ev EggEvent) {
		r.Handle(ctx, ev)
	})
}

func (r *Router) Handle(ctx context.Context, ev EggEvent) {
	switch ev.Kind {
	case KindEggInsert:
		r.handleInsert(ctx, ev)
	case KindEggModify:
		r.handleModify(ctx, ev)
	case KindEggCompleted:
		r.settle(ctx, ev.ClutchID)
	default:
		r.log.Warn("Unknown egg event kind", "kind", string(ev.Kind))
	}
}

func (r *Router) handleInsert(ctx context.Context, ev EggEvent) {
	if ev.HatchLikelihood == nil {
		r.log.Warn("Insert event without hatch likelihood", "egg_id", ev.EggID.String())
		return
	}
	class := domain.ClassifyHatchLikelihood(*ev.HatchLikelihood)

	r.mu.Lock()
	g := r.pending[ev.ClutchID]
	if g == nil {
		g = &clutchGauge{}
		r.pending[ev.ClutchID] = g
	}
	g.seen++
	// Viable-low eggs receive no media, so nothing will ever settle them.
	if class != domain.RoutingViableLow {
		g.open++
	}
	drained := g.open == 0
	r.mu.Unlock()

	if drained {
		r.enqueueConsolidate(ctx, ev.ClutchID)
	}
}

func (r *Router) handleModify(ctx context.Context, ev EggEvent) {
	if ev.TouchesMedia() {
		r.settle(ctx, ev.ClutchID)
		return
	}
	if ev.HatchLikelihood == nil {
		return
	}

	// Check before route: a redelivered event must not re-enrich an egg
	// that already has media.
	egg, err := r.eggs.GetByID(dbctx.Context{Ctx: ctx}, ev.EggID)
	if err != nil {
		r.log.Error("Route lookup failed", "egg_id", ev.EggID.String(), "error", err)
		return
	}
	if egg == nil || egg.Enriched() {
		return
	}

	jobType := domain.JobTypeChickMedia
	if *ev.HatchLikelihood < domain.ViableThreshold {
		jobType = domain.JobTypeComfortSong
	}
	if _, err := r.enqueue.Enqueue(ctx, jobType, "egg", ev.EggID, map[string]any{
		"egg_id":    ev.EggID.String(),
		"clutch_id": ev.ClutchID.String(),
	}); err != nil {
		r.log.Error("Enqueue enrichment failed",
			"egg_id", ev.EggID.String(),
			"job_type", jobType,
			"error", err,
		)
	}
}

func (r *Router) settle(ctx context.Context, clutchID uuid.UUID) {
	r.mu.Lock()
	g := r.pending[clutchID]
	if g == nil {
		r.mu.Unlock()
		return
	}
	if g.open > 0 {
		g.open--
	}
	drained := g.open == 0 && g.seen > 0
	r.mu.Unlock()

	if drained {
		r.enqueueConsolidate(ctx, clutchID)
	}
}

func (r *Router) enqueueConsolidate(ctx context.Context, clutchID uuid.UUID) {
	if _, err := r.enqueue.Enqueue(ctx, domain.JobTypeClutchConsolidate, "clutch", clutchID, map[string]any{
		"clutch_id": clutchID.String(),
	}); err != nil {
		r.log.Error("Enqueue consolidation failed", "clutch_id", clutchID.String(), "error", err)
	}
}
