package runtime

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/yungbote/hatchery-backend/internal/data/repos"
	"github.com/yungbote/hatchery-backend/internal/domain"
	"github.com/yungbote/hatchery-backend/internal/platform/dbctx"
)

/*
The execution contract between the job system and all pipeline code.
runtime.Context is a capability-scoped execution handle for a single job run.
It wraps:
	- the mutable job_run row,
	- the decoded job payload,
	- and the only sanctioned ways to report progress or terminate execution.
Pipelines never touch job_run directly. They go through this object, and all
writes are guarded so a canceled job is never overwritten.
*/

type Context struct {
	Ctx     context.Context
	DB      *gorm.DB
	Job     *domain.JobRun
	Repo    repos.JobRunRepo
	payload map[string]any
}

// NewContext constructs a runtime.Context for a claimed job execution. The
// payload JSON is decoded eagerly; decode failures are non-fatal here because
// handlers validate their required fields anyway.
func NewContext(ctx context.Context, db *gorm.DB, job *domain.JobRun, repo repos.JobRunRepo) *Context {
	c := &Context{
		Ctx:  ctx,
		DB:   db,
		Job:  job,
		Repo: repo,
	}
	_ = c.decodePayload()
	return c
}

func (c *Context) decodePayload() error {
	if c.Job == nil {
		return nil
	}
	if len(c.Job.Payload) == 0 {
		c.payload = map[string]any{}
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal(c.Job.Payload, &m); err != nil {
		c.payload = map[string]any{}
		return err
	}
	c.payload = m
	return nil
}

// Payload returns the decoded payload map. Never nil.
func (c *Context) Payload() map[string]any {
	if c.payload == nil {
		c.payload = map[string]any{}
	}
	return c.payload
}

// PayloadUUID reads a payload field and parses it as a UUID.
func (c *Context) PayloadUUID(key string) (uuid.UUID, bool) {
	v, ok := c.Payload()[key]
	if !ok || v == nil {
		return uuid.Nil, false
	}
	id, err := uuid.Parse(fmt.Sprint(v))
	if err != nil {
		return uuid.Nil, false
	}
	return id, true
}

// PayloadString reads a payload field as a string.
func (c *Context) PayloadString(key string) (string, bool) {
	v, ok := c.Payload()[key]
	if !ok || v == nil {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// Update applies arbitrary field updates to the job_run row, guarded by
// UnlessStatus(canceled). Prefer Progress/Fail/Succeed for lifecycle moves.
func (c *Context) Update(updates map[string]any) error {
	if c.Job == nil || c.Job.ID == uuid.Nil {
		return nil
	}
	_, err := c.Repo.UpdateFieldsUnlessStatus(dbctx.Context{Ctx: c.Ctx}, c.Job.ID, []string{domain.JobStatusCanceled}, toIfaceMap(updates))
	return err
}

/*
Progress publishes a non-terminal status update for this job run.
Persists stage/progress/message plus heartbeat into job_run, guarded so
canceled jobs are not overwritten, then mirrors the fields in memory.
*/
func (c *Context) Progress(stage string, pct int, msg string) {
	if c == nil {
		return
	}
	ctx := c.Ctx
	if ctx == nil {
		ctx = context.Background()
	}
	now := time.Now()

	if c.Repo != nil && c.Job != nil && c.Job.ID != uuid.Nil {
		ok, _ := c.Repo.UpdateFieldsUnlessStatus(dbctx.Context{Ctx: ctx}, c.Job.ID, []string{domain.JobStatusCanceled}, map[string]interface{}{
			"stage":        stage,
			"progress":     pct,
			"message":      msg,
			"heartbeat_at": now,
			"updated_at":   now,
		})
		if !ok {
			return
		}
	}

	if c.Job != nil {
		c.Job.Stage = stage
		c.Job.Progress = pct
		c.Job.Message = msg
		c.Job.HeartbeatAt = &now
		c.Job.UpdatedAt = now
	}
}

/*
Fail marks this job run as terminally failed and records an error message.
Clears locked_at so other workers won't treat it as in-progress. Guarded by
UnlessStatus(canceled); if the update is rejected the in-memory job is left
untouched.
*/
func (c *Context) Fail(stage string, err error) {
	if c == nil {
		return
	}
	ctx := c.Ctx
	if ctx == nil {
		ctx = context.Background()
	}
	now := time.Now()
	msg := ""
	if err != nil {
		msg = err.Error()
	}

	if c.Repo != nil && c.Job != nil && c.Job.ID != uuid.Nil {
		ok, _ := c.Repo.UpdateFieldsUnlessStatus(dbctx.Context{Ctx: ctx}, c.Job.ID, []string{domain.JobStatusCanceled}, map[string]interface{}{
			"status":        domain.JobStatusFailed,
			"stage":         stage,
			"message":       "",
			"error":         msg,
			"last_error_at": now,
			"locked_at":     nil,
			"updated_at":    now,
		})
		if !ok {
			return
		}
	}

	if c.Job != nil {
		c.Job.Status = domain.JobStatusFailed
		c.Job.Stage = stage
		c.Job.Message = ""
		c.Job.Error = msg
		c.Job.LastErrorAt = &now
		c.Job.LockedAt = nil
		c.Job.UpdatedAt = now
	}
}

/*
Succeed marks this job run as terminally succeeded and persists a result
payload. Clears error/message and locked_at, sets progress to 100. Guarded by
UnlessStatus(canceled).
*/
func (c *Context) Succeed(finalStage string, result any) {
	if c == nil {
		return
	}
	ctx := c.Ctx
	if ctx == nil {
		ctx = context.Background()
	}
	now := time.Now()
	var res datatypes.JSON
	if result != nil {
		b, _ := json.Marshal(result)
		res = datatypes.JSON(b)
	}

	if c.Repo != nil && c.Job != nil && c.Job.ID != uuid.Nil {
		ok, _ := c.Repo.UpdateFieldsUnlessStatus(dbctx.Context{Ctx: ctx}, c.Job.ID, []string{domain.JobStatusCanceled}, map[string]interface{}{
			"status":       domain.JobStatusSucceeded,
			"stage":        finalStage,
			"progress":     100,
			"message":      "",
			"error":        "",
			"result":       res,
			"locked_at":    nil,
			"heartbeat_at": now,
			"updated_at":   now,
		})
		if !ok {
			return
		}
	}

	if c.Job != nil {
		c.Job.Status = domain.JobStatusSucceeded
		c.Job.Stage = finalStage
		c.Job.Progress = 100
		c.Job.Message = ""
		c.Job.Error = ""
		c.Job.Result = res
		c.Job.LockedAt = nil
		c.Job.HeartbeatAt = &now
		c.Job.UpdatedAt = now
	}
}

func toIfaceMap(in map[string]any) map[string]interface{} {
	out := make(map[string]interface{}, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
