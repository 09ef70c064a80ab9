package comfort_song

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/yungbote/hatchery-backend/internal/domain"
	jobrt "github.com/yungbote/hatchery-backend/internal/jobs/runtime"
	"github.com/yungbote/hatchery-backend/internal/platform/dbctx"
	"github.com/yungbote/hatchery-backend/internal/platform/elevenlabs"
	"github.com/yungbote/hatchery-backend/internal/platform/gcs"
	"github.com/yungbote/hatchery-backend/internal/stream"
)

const songDuration = 30 * time.Second

/*
Run composes a short comfort song for one non-viable egg. Generation is
best-effort: a missing API key or a composer failure never fails the job.
Storage and record writes are not; their errors fail the run so the queue
redelivers it. The completion event is published no matter what so clutch
consolidation is not held hostage by the music service.
*/
func (p *Pipeline) Run(jc *jobrt.Context) error {
	if jc == nil || jc.Job == nil {
		return nil
	}
	eggID, ok := jc.PayloadUUID("egg_id")
	if !ok || eggID == uuid.Nil {
		jc.Fail("validate", fmt.Errorf("missing egg_id"))
		return nil
	}
	dbc := dbctx.Context{Ctx: jc.Ctx}

	egg, err := p.eggs.GetByID(dbc, eggID)
	if err != nil {
		jc.Fail("load", err)
		return nil
	}
	if egg == nil {
		jc.Fail("load", fmt.Errorf("egg %s not found", eggID))
		return nil
	}

	// Completion always goes out, including on skip and failure paths.
	defer func() {
		if err := p.bus.Publish(jc.Ctx, stream.EggEvent{
			Kind:     stream.KindEggCompleted,
			ClutchID: egg.ClutchID,
			EggID:    eggID,
		}); err != nil {
			p.log.Warn("Egg completed event publish failed", "egg_id", eggID.String(), "error", err)
		}
	}()

	if egg.HatchLikelihood >= domain.ViableThreshold {
		jc.Succeed("skipped", map[string]any{
			"egg_id":  eggID.String(),
			"skipped": true,
			"reason":  "egg is viable",
		})
		return nil
	}
	if egg.ComfortSongKey != "" {
		jc.Succeed("skipped", map[string]any{
			"egg_id":  eggID.String(),
			"skipped": true,
			"reason":  "song already present",
		})
		return nil
	}

	prompt := songPrompt(egg)

	jc.Progress("compose", 30, "Composing comfort song")
	clip, err := p.audio.Compose(jc.Ctx, prompt, songDuration)
	if errors.Is(err, elevenlabs.ErrDisabled) {
		p.log.Debug("Comfort song composer disabled, skipping", "egg_id", eggID.String())
		jc.Succeed("skipped", map[string]any{
			"egg_id":         eggID.String(),
			"song_generated": false,
			"reason":         "composer disabled",
		})
		return nil
	}
	if err != nil {
		p.log.Error("Comfort song composition failed", "egg_id", eggID.String(), "error", err)
		jc.Succeed("degraded", map[string]any{
			"egg_id":         eggID.String(),
			"song_generated": false,
			"error":          err.Error(),
		})
		return nil
	}

	key := fmt.Sprintf("%s/songs/%s.mp3", egg.ClutchID, egg.ID)
	if err := p.buckets.UploadFile(dbc, gcs.BucketCategoryMedia, key, "audio/mpeg", bytes.NewReader(clip)); err != nil {
		jc.Fail("store", err)
		return nil
	}

	now := time.Now().UTC()
	if err := p.eggs.UpdateFields(dbc, eggID, map[string]any{
		"comfort_song_key":          key,
		"comfort_song_prompt":       prompt,
		"comfort_song_generated_at": now,
	}); err != nil {
		jc.Fail("store", err)
		return nil
	}

	jc.Succeed("done", map[string]any{
		"egg_id":           eggID.String(),
		"song_generated":   true,
		"comfort_song_key": key,
	})
	return nil
}

func songPrompt(egg *domain.Egg) string {
	var traits []string
	for _, t := range []string{egg.Color, egg.Size, egg.SpotsMarkings} {
		if t != "" {
			traits = append(traits, t)
		}
	}
	desc := "a quiet little egg"
	if len(traits) > 0 {
		desc = "a " + strings.Join(traits, ", ") + " egg"
	}
	return "A gentle, melancholy lullaby to comfort " + desc +
		" that will never hatch. Soft acoustic guitar and humming, slow tempo, warm and tender."
}
