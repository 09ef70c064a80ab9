package vision_analyze

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"github.com/yungbote/hatchery-backend/internal/domain"
	jobrt "github.com/yungbote/hatchery-backend/internal/jobs/runtime"
	"github.com/yungbote/hatchery-backend/internal/platform/dbctx"
	"github.com/yungbote/hatchery-backend/internal/platform/gcs"
	"github.com/yungbote/hatchery-backend/internal/platform/openai"
	"github.com/yungbote/hatchery-backend/internal/stream"
)

// Extensions the vision pass accepts. Anything else fails the clutch without
// spending a model call.
var analyzableExtensions = map[string]struct{}{
	".jpg":  {},
	".jpeg": {},
	".png":  {},
	".tiff": {},
}

const (
	storeEggResultsTool = "store_egg_results"
	analyzeAttempts     = 3
	analyzeBackoff      = 1 * time.Second
)

type eggObservation struct {
	Color               string                 `json:"color"`
	Shape               string                 `json:"shape"`
	Size                string                 `json:"size"`
	ShellTexture        string                 `json:"shellTexture"`
	ShellIntegrity      string                 `json:"shellIntegrity"`
	Hardness            string                 `json:"hardness"`
	SpotsMarkings       string                 `json:"spotsMarkings"`
	Bloom               string                 `json:"bloom"`
	Cleanliness         string                 `json:"cleanliness"`
	Defects             string                 `json:"defects"`
	OverallGrade        string                 `json:"overallGrade"`
	HatchLikelihood     int                    `json:"hatchLikelihood"`
	PredictedChickBreed string                 `json:"predictedChickBreed"`
	BreedConfidence     float64                `json:"breedConfidence"`
	ChickAppearance     domain.ChickAppearance `json:"chickAppearance"`
	Notes               string                 `json:"notes,omitempty"`
}

type storeEggResultsArgs struct {
	Eggs []eggObservation `json:"eggs"`
}

func (p *Pipeline) Run(jc *jobrt.Context) error {
	if jc == nil || jc.Job == nil {
		return nil
	}
	started := time.Now()
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

	ext := strings.ToLower(path.Ext(clutch.ImageKey))
	if _, allowed := analyzableExtensions[ext]; !allowed {
		p.failClutch(dbc, clutchID, fmt.Sprintf("unsupported image extension %q", ext))
		jc.Succeed("skipped", map[string]any{
			"clutch_id": clutchID.String(),
			"skipped":   true,
			"reason":    "unsupported image extension",
		})
		return nil
	}

	jc.Progress("detect", 10, "Detecting eggs")
	if _, err := p.clutches.SetStatus(dbc, clutchID, domain.StatusDetectingEggs); err != nil {
		jc.Fail("detect", err)
		return nil
	}

	imageURL, err := p.loadImageDataURL(jc.Ctx, clutch.ImageKey)
	if err != nil {
		p.failClutch(dbc, clutchID, "failed to read clutch image")
		jc.Fail("download", err)
		return nil
	}

	eggs, err := p.analyze(jc.Ctx, dbc, clutchID, imageURL)
	if err != nil {
		p.failClutch(dbc, clutchID, "vision analysis failed")
		jc.Fail("analyze", err)
		return nil
	}

	jc.Progress("viability", 60, "Determining egg viability")
	if _, err := p.clutches.SetStatus(dbc, clutchID, domain.StatusDeterminingEggs); err != nil {
		jc.Fail("viability", err)
		return nil
	}

	// Every egg gets an analysis attestation, then the modify event that
	// drives enrichment routing. The attestation is best effort; when it (or
	// its patch) fails the event still goes out, it just carries no changed
	// attestation_hash.
	jc.Progress("attest", 80, "Recording analysis attestations")
	for _, egg := range eggs {
		var changed []string
		att, attErr := p.ledger.Record(jc.Ctx, egg.ID.String(), "egg_analysis", map[string]any{
			"clutch_id":        clutchID.String(),
			"hatch_likelihood": egg.HatchLikelihood,
			"overall_grade":    egg.OverallGrade,
		})
		if attErr != nil {
			p.log.Warn("Egg attestation failed", "egg_id", egg.ID.String(), "error", attErr)
		} else if err := p.eggs.UpdateFields(dbc, egg.ID, map[string]any{
			"attestation_hash": att.TransactionHash,
		}); err != nil {
			p.log.Warn("Egg attestation patch failed", "egg_id", egg.ID.String(), "error", err)
		} else {
			changed = []string{"attestation_hash"}
		}
		likelihood := egg.HatchLikelihood
		p.publish(jc.Ctx, stream.EggEvent{
			Kind:            stream.KindEggModify,
			ClutchID:        clutchID,
			EggID:           egg.ID,
			HatchLikelihood: &likelihood,
			ChangedFields:   changed,
		})
	}

	jc.Succeed("done", map[string]any{
		"clutch_id":  clutchID.String(),
		"egg_count":  len(eggs),
		"elapsed_ms": time.Since(started).Milliseconds(),
	})
	return nil
}

func (p *Pipeline) loadImageDataURL(ctx context.Context, key string) (string, error) {
	rc, err := p.buckets.DownloadFile(ctx, gcs.BucketCategoryClutch, key)
	if err != nil {
		return "", err
	}
	defer rc.Close()
	raw, err := io.ReadAll(rc)
	if err != nil {
		return "", err
	}
	mime := gcs.ContentTypeForKey(key)
	return "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(raw), nil
}

/*
analyze drives the vision conversation. The store_egg_results dispatch writes
the egg batch and publishes insert events synchronously, then reports the
stored count back so the model can close its turn. The whole round trip is
retried up to three times with exponential backoff; the retry only fires when
nothing was stored, so a half-finished conversation never duplicates eggs.
*/
func (p *Pipeline) analyze(ctx context.Context, dbc dbctx.Context, clutchID uuid.UUID, imageURL string) ([]*domain.Egg, error) {
	var created []*domain.Egg
	var lastErr error

	dispatch := func(ctx context.Context, call openai.ToolCall) (any, error) {
		if call.Name != storeEggResultsTool {
			return nil, fmt.Errorf("unknown tool %q", call.Name)
		}
		var args storeEggResultsArgs
		if err := json.Unmarshal(call.Arguments, &args); err != nil {
			return nil, fmt.Errorf("bad %s arguments: %w", storeEggResultsTool, err)
		}
		if len(args.Eggs) == 0 {
			return nil, fmt.Errorf("no eggs in %s call", storeEggResultsTool)
		}
		eggs := make([]*domain.Egg, 0, len(args.Eggs))
		for _, obs := range args.Eggs {
			appearance, _ := json.Marshal(obs.ChickAppearance)
			eggs = append(eggs, &domain.Egg{
				ID:                  uuid.New(),
				ClutchID:            clutchID,
				Color:               obs.Color,
				Shape:               obs.Shape,
				Size:                obs.Size,
				ShellTexture:        obs.ShellTexture,
				ShellIntegrity:      obs.ShellIntegrity,
				Hardness:            obs.Hardness,
				SpotsMarkings:       obs.SpotsMarkings,
				Bloom:               obs.Bloom,
				Cleanliness:         obs.Cleanliness,
				Defects:             obs.Defects,
				OverallGrade:        obs.OverallGrade,
				HatchLikelihood:     clampScore(obs.HatchLikelihood),
				PredictedChickBreed: obs.PredictedChickBreed,
				BreedConfidence:     obs.BreedConfidence,
				ChickAppearance:     datatypes.JSON(appearance),
				Notes:               obs.Notes,
			})
		}
		if _, err := p.eggs.CreateBatch(dbc, eggs); err != nil {
			return nil, err
		}
		for _, egg := range eggs {
			likelihood := egg.HatchLikelihood
			p.publish(ctx, stream.EggEvent{
				Kind:            stream.KindEggInsert,
				ClutchID:        clutchID,
				EggID:           egg.ID,
				HatchLikelihood: &likelihood,
			})
		}
		created = append(created, eggs...)
		return map[string]any{"stored": len(eggs)}, nil
	}

	for attempt := 0; attempt < analyzeAttempts; attempt++ {
		if attempt > 0 {
			delay := analyzeBackoff << (attempt - 1)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
		}

		_, err := p.ai.RunToolConversation(ctx, openai.ToolConversation{
			System: "You are a poultry hatchery vision analyst. Examine the supplied photograph " +
				"of an egg clutch and identify every distinct egg. For each egg report all physical " +
				"descriptors, score hatchLikelihood from 0 to 100 based on shell integrity, " +
				"cleanliness and defects, and predict the breed and appearance of the chick it " +
				"would produce. Report your findings once through the " + storeEggResultsTool + " tool.",
			User: "Analyze this clutch photograph and store one result per visible egg.",
			Images: []openai.ImageInput{
				{ImageURL: imageURL, Detail: "high"},
			},
			Tools:    []openai.ToolDef{storeEggResultsDef()},
			MaxTurns: 4,
			Dispatch: dispatch,
		})
		if len(created) > 0 {
			// Eggs landed; a late conversation error is not worth a rerun.
			return created, nil
		}
		if err != nil {
			lastErr = err
			p.log.Warn("Vision attempt failed", "clutch_id", clutchID.String(), "attempt", attempt+1, "error", err)
			continue
		}
		lastErr = fmt.Errorf("model finished without storing results")
	}

	return nil, fmt.Errorf("egg analysis exhausted %d attempts: %w", analyzeAttempts, lastErr)
}

func storeEggResultsDef() openai.ToolDef {
	str := map[string]any{"type": "string"}
	return openai.ToolDef{
		Name:        storeEggResultsTool,
		Description: "Store the per-egg analysis results for this clutch.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"eggs": map[string]any{
					"type": "array",
					"items": map[string]any{
						"type": "object",
						"properties": map[string]any{
							"color":               str,
							"shape":               str,
							"size":                str,
							"shellTexture":        str,
							"shellIntegrity":      str,
							"hardness":            str,
							"spotsMarkings":       str,
							"bloom":               str,
							"cleanliness":         str,
							"defects":             str,
							"overallGrade":        str,
							"hatchLikelihood":     map[string]any{"type": "integer", "minimum": 0, "maximum": 100},
							"predictedChickBreed": str,
							"breedConfidence":     map[string]any{"type": "number", "minimum": 0, "maximum": 100},
							"chickAppearance": map[string]any{
								"type": "object",
								"properties": map[string]any{
									"plumage_color":   str,
									"comb_type":       str,
									"body_type":       str,
									"feather_pattern": str,
									"leg_color":       str,
								},
							},
							"notes": str,
						},
						"required": []string{"hatchLikelihood"},
					},
				},
			},
			"required": []string{"eggs"},
		},
	}
}

func (p *Pipeline) failClutch(dbc dbctx.Context, clutchID uuid.UUID, msg string) {
	updated, err := p.clutches.SetStatus(dbc, clutchID, domain.StatusError)
	if err != nil {
		p.log.Error("Failed to mark clutch errored", "clutch_id", clutchID.String(), "error", err)
		return
	}
	if updated == nil {
		return
	}
	if err := p.clutches.UpdateFields(dbc, clutchID, map[string]any{"error_message": msg}); err != nil {
		p.log.Error("Failed to record clutch error message", "clutch_id", clutchID.String(), "error", err)
	}
}

func (p *Pipeline) publish(ctx context.Context, ev stream.EggEvent) {
	if err := p.bus.Publish(ctx, ev); err != nil {
		p.log.Warn("Egg event publish failed",
			"kind", string(ev.Kind),
			"egg_id", ev.EggID.String(),
			"error", err,
		)
	}
}

func clampScore(v int) int {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}
