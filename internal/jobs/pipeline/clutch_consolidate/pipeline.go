package clutch_consolidate

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/yungbote/hatchery-backend/internal/domain"
	jobrt "github.com/yungbote/hatchery-backend/internal/jobs/runtime"
	"github.com/yungbote/hatchery-backend/internal/platform/dbctx"
	"github.com/yungbote/hatchery-backend/internal/platform/gcs"
)

/*
Run closes out a clutch once enrichment has settled. It re-reads the egg set
from storage rather than trusting any event payloads, computes the flock
counts, renders a grouped flock portrait, records a consolidation attestation
and then writes everything back in one final update that also moves the
clutch to Completed.

The portrait and the attestation are both best-effort: either failing still
leaves the clutch Completed with counts intact.
*/
func (p *Pipeline) Run(jc *jobrt.Context) error {
	if jc == nil || jc.Job == nil {
		return nil
	}
	clutchID, ok := jc.PayloadUUID("clutch_id")
	if !ok || clutchID == uuid.Nil {
		jc.Fail("validate", fmt.Errorf("missing clutch_id"))
		return nil
	}
	dbc := dbctx.Context{Ctx: jc.Ctx}

	clutch, err := p.clutches.GetByID(dbc, clutchID)
	if err != nil {
		jc.Fail("load", err)
		return nil
	}
	if clutch == nil {
		jc.Fail("load", fmt.Errorf("clutch %s not found", clutchID))
		return nil
	}

	jc.Progress("flock", 10, "Calculating flock numbers")
	moved, err := p.clutches.SetStatus(dbc, clutchID, domain.StatusCalculatingFlock)
	if err != nil {
		jc.Fail("flock", err)
		return nil
	}
	if moved == nil {
		// Already past this stage; a duplicate consolidation enqueue.
		jc.Succeed("skipped", map[string]any{
			"clutch_id": clutchID.String(),
			"skipped":   true,
			"reason":    "clutch already consolidated",
		})
		return nil
	}

	eggs, err := p.eggs.ListByClutch(dbc, clutchID)
	if err != nil {
		jc.Fail("requery", err)
		return nil
	}

	total := len(eggs)
	viable := 0
	for _, egg := range eggs {
		if egg.HatchLikelihood >= domain.ViableThreshold {
			viable++
		}
	}

	var portraitKey string
	if viable > 0 {
		jc.Progress("portrait", 50, "Rendering flock portrait")
		portraitKey, err = p.renderFlockPortrait(jc.Ctx, clutchID, eggs)
		if err != nil {
			p.log.Warn("Flock portrait failed", "clutch_id", clutchID.String(), "error", err)
			portraitKey = ""
		}
	}

	jc.Progress("attest", 80, "Recording consolidation attestation")
	updates := map[string]any{
		"status":           domain.StatusCompleted,
		"total_egg_count":  total,
		"viable_egg_count": viable,
		"consolidated_at":  time.Now().UTC(),
	}
	if portraitKey != "" {
		updates["chicken_image_key"] = portraitKey
	}
	att, attErr := p.ledger.Record(jc.Ctx, clutchID.String(), "clutch_consolidation", map[string]any{
		"total_egg_count":  total,
		"viable_egg_count": viable,
	})
	if attErr != nil {
		p.log.Warn("Consolidation attestation failed", "clutch_id", clutchID.String(), "error", attErr)
	} else {
		updates["attestation_tx_id"] = att.TransactionID
		updates["attestation_tx_hash"] = att.TransactionHash
		updates["attestation_block"] = att.BlockNumber
	}

	if err := p.clutches.UpdateFields(dbc, clutchID, updates); err != nil {
		jc.Fail("finalize", err)
		return nil
	}

	jc.Succeed("done", map[string]any{
		"clutch_id":        clutchID.String(),
		"total_egg_count":  total,
		"viable_egg_count": viable,
		"portrait":         portraitKey != "",
		"attested":         attErr == nil,
	})
	return nil
}

func (p *Pipeline) renderFlockPortrait(ctx context.Context, clutchID uuid.UUID, eggs []*domain.Egg) (string, error) {
	prompt := flockPrompt(eggs)
	gen, err := p.ai.GenerateImage(ctx, prompt)
	if err != nil {
		return "", err
	}
	key := fmt.Sprintf("clutches/%s/chickens.png", clutchID)
	if err := p.buckets.UploadFile(dbctx.Context{Ctx: ctx}, gcs.BucketCategoryMedia, key, "image/png", bytes.NewReader(gen.Bytes)); err != nil {
		return "", err
	}
	return key, nil
}

// flockPrompt describes the expected flock grouped by predicted breed, e.g.
// "3 Rhode Island Reds and 2 Leghorns".
func flockPrompt(eggs []*domain.Egg) string {
	counts := map[string]int{}
	unknown := 0
	for _, egg := range eggs {
		if egg.HatchLikelihood < domain.ViableThreshold {
			continue
		}
		if egg.PredictedChickBreed == "" {
			unknown++
			continue
		}
		counts[egg.PredictedChickBreed]++
	}

	breeds := make([]string, 0, len(counts))
	for b := range counts {
		breeds = append(breeds, b)
	}
	sort.Strings(breeds)

	var groups []string
	for _, b := range breeds {
		groups = append(groups, fmt.Sprintf("%d %s", counts[b], pluralize(b, counts[b])))
	}
	if unknown > 0 {
		groups = append(groups, fmt.Sprintf("%d %s of mixed breed", unknown, pluralize("chicken", unknown)))
	}

	subject := "a small flock of healthy chickens"
	if len(groups) > 0 {
		subject = joinGroups(groups)
	}
	return "A sunny farmyard group portrait of " + subject + ", photorealistic, golden hour lighting."
}

func pluralize(name string, n int) string {
	if n == 1 {
		return name
	}
	if strings.HasSuffix(name, "s") {
		return name
	}
	return name + "s"
}

func joinGroups(groups []string) string {
	switch len(groups) {
	case 1:
		return groups[0]
	case 2:
		return groups[0] + " and " + groups[1]
	default:
		return strings.Join(groups[:len(groups)-1], ", ") + " and " + groups[len(groups)-1]
	}
}
