package chick_media

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/yungbote/hatchery-backend/internal/domain"
	jobrt "github.com/yungbote/hatchery-backend/internal/jobs/runtime"
	"github.com/yungbote/hatchery-backend/internal/platform/dbctx"
	"github.com/yungbote/hatchery-backend/internal/platform/elevenlabs"
	"github.com/yungbote/hatchery-backend/internal/platform/gcs"
	"github.com/yungbote/hatchery-backend/internal/stream"
)

const chickAudioDuration = 15 * time.Second

/*
Run generates hatched-chick media for one high-likelihood egg: a portrait
image from the predicted breed and appearance, and a short chirp clip. The
two artifacts are produced independently so one failing does not block the
other, but any failure still fails the job for queue redelivery; the
per-artifact presence guards make the redelivery regenerate only what is
missing. A single modify event covering everything written goes out either
way.
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

	if egg.HatchLikelihood < domain.ChickMediaThreshold {
		jc.Succeed("skipped", map[string]any{
			"egg_id":  eggID.String(),
			"skipped": true,
			"reason":  "hatch likelihood below media threshold",
		})
		return nil
	}
	if egg.ChickImageKey != "" && egg.ChickAudioKey != "" {
		jc.Succeed("skipped", map[string]any{
			"egg_id":  eggID.String(),
			"skipped": true,
			"reason":  "media already present",
		})
		return nil
	}

	var (
		imageErr, audioErr         error
		imageWritten, audioWritten bool
	)
	now := time.Now().UTC()

	jc.Progress("generate", 40, "Generating chick media")
	g := new(errgroup.Group)
	g.Go(func() error {
		if egg.ChickImageKey != "" {
			return nil
		}
		key, err := p.generateImage(jc.Ctx, egg)
		if err != nil {
			imageErr = err
			return nil
		}
		if err := p.eggs.UpdateFields(dbc, eggID, map[string]any{
			"chick_image_key":    key,
			"media_generated_at": now,
		}); err != nil {
			imageErr = err
			return nil
		}
		imageWritten = true
		return nil
	})
	g.Go(func() error {
		if egg.ChickAudioKey != "" {
			return nil
		}
		key, err := p.generateAudio(jc.Ctx, egg)
		if errors.Is(err, elevenlabs.ErrDisabled) {
			return nil
		}
		if err != nil {
			audioErr = err
			return nil
		}
		if err := p.eggs.UpdateFields(dbc, eggID, map[string]any{
			"chick_audio_key":    key,
			"media_generated_at": now,
		}); err != nil {
			audioErr = err
			return nil
		}
		audioWritten = true
		return nil
	})
	_ = g.Wait()

	var changed []string
	if imageWritten {
		changed = append(changed, "chick_image_key")
	}
	if audioWritten {
		changed = append(changed, "chick_audio_key")
	}

	if len(changed) > 0 {
		if err := p.bus.Publish(jc.Ctx, stream.EggEvent{
			Kind:          stream.KindEggModify,
			ClutchID:      egg.ClutchID,
			EggID:         eggID,
			ChangedFields: changed,
		}); err != nil {
			p.log.Warn("Egg media event publish failed", "egg_id", eggID.String(), "error", err)
		}
	}

	if imageErr != nil || audioErr != nil {
		jc.Fail("generate", fmt.Errorf("chick media incomplete: image=%v audio=%v", imageErr, audioErr))
		return nil
	}

	jc.Succeed("done", map[string]any{
		"egg_id":          eggID.String(),
		"fields_written":  changed,
		"image_generated": imageWritten,
		"audio_generated": audioWritten,
	})
	return nil
}

func (p *Pipeline) generateImage(ctx context.Context, egg *domain.Egg) (string, error) {
	gen, err := p.ai.GenerateImage(ctx, chickPrompt(egg))
	if err != nil {
		return "", err
	}
	key := fmt.Sprintf("chicks/%s/%s.png", egg.ClutchID, egg.ID)
	if err := p.buckets.UploadFile(dbctx.Context{Ctx: ctx}, gcs.BucketCategoryMedia, key, "image/png", bytes.NewReader(gen.Bytes)); err != nil {
		return "", err
	}
	return key, nil
}

func (p *Pipeline) generateAudio(ctx context.Context, egg *domain.Egg) (string, error) {
	clip, err := p.audio.Compose(ctx, "Soft newborn chick chirping sounds, close-up, gentle and high-pitched.", chickAudioDuration)
	if err != nil {
		return "", err
	}
	key := fmt.Sprintf("chicks/%s/%s.mp3", egg.ClutchID, egg.ID)
	if err := p.buckets.UploadFile(dbctx.Context{Ctx: ctx}, gcs.BucketCategoryMedia, key, "audio/mpeg", bytes.NewReader(clip)); err != nil {
		return "", err
	}
	return key, nil
}

// chickPrompt is deterministic for a given egg record so a redelivered job
// renders the same portrait.
func chickPrompt(egg *domain.Egg) string {
	prompt := "A warm studio photograph of a newly hatched chick"
	if egg.PredictedChickBreed != "" {
		prompt += ", a " + egg.PredictedChickBreed
	}
	var appearance domain.ChickAppearance
	if len(egg.ChickAppearance) > 0 {
		_ = json.Unmarshal(egg.ChickAppearance, &appearance)
	}
	if appearance.PlumageColor != "" {
		prompt += " with " + appearance.PlumageColor + " plumage"
	}
	if appearance.CombType != "" {
		prompt += " and a " + appearance.CombType + " comb"
	}
	prompt += ", standing on straw, soft natural lighting."
	return prompt
}
