package services

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/yungbote/hatchery-backend/internal/data/repos"
	"github.com/yungbote/hatchery-backend/internal/domain"
	"github.com/yungbote/hatchery-backend/internal/platform/apierr"
	"github.com/yungbote/hatchery-backend/internal/platform/dbctx"
	"github.com/yungbote/hatchery-backend/internal/platform/gcs"
	"github.com/yungbote/hatchery-backend/internal/platform/ledger"
	"github.com/yungbote/hatchery-backend/internal/platform/logger"
)

// EggView is the public projection of one egg. Storage keys are swapped for
// public URLs and internal bookkeeping columns are dropped.
type EggView struct {
	ID              uuid.UUID `json:"id"`
	Color           string    `json:"color,omitempty"`
	Shape           string    `json:"shape,omitempty"`
	Size            string    `json:"size,omitempty"`
	ShellTexture    string    `json:"shellTexture,omitempty"`
	ShellIntegrity  string    `json:"shellIntegrity,omitempty"`
	Hardness        string    `json:"hardness,omitempty"`
	SpotsMarkings   string    `json:"spotsMarkings,omitempty"`
	Bloom           string    `json:"bloom,omitempty"`
	Cleanliness     string    `json:"cleanliness,omitempty"`
	Defects         string    `json:"defects,omitempty"`
	OverallGrade    string    `json:"overallGrade,omitempty"`
	HatchLikelihood int       `json:"hatchLikelihood"`

	PredictedChickBreed string         `json:"predictedChickBreed,omitempty"`
	BreedConfidence     float64        `json:"breedConfidence,omitempty"`
	ChickAppearance     datatypes.JSON `json:"chickAppearance,omitempty"`

	ChickImageURL  string `json:"chickImageUrl,omitempty"`
	ChickAudioURL  string `json:"chickAudioUrl,omitempty"`
	ComfortSongURL string `json:"comfortSongUrl,omitempty"`

	IsCertified bool `json:"isCertified"`
}

type ClutchDetail struct {
	ID              uuid.UUID           `json:"id"`
	Status          domain.ClutchStatus `json:"status"`
	UploadTimestamp time.Time           `json:"uploadTimestamp"`
	ImageURL        string              `json:"imageUrl"`

	TotalEggCount  *int   `json:"totalEggCount,omitempty"`
	ViableEggCount *int   `json:"viableEggCount,omitempty"`
	ChickenImage   string `json:"chickenImageUrl,omitempty"`
	ErrorMessage   string `json:"errorMessage,omitempty"`

	ViabilityPercentage    float64 `json:"viabilityPercentage"`
	AverageHatchLikelihood float64 `json:"averageHatchLikelihood"`

	ConsolidatedAt *time.Time `json:"consolidatedAt,omitempty"`
	Eggs           []EggView  `json:"eggs"`
}

type ClutchSummary struct {
	ID                     uuid.UUID           `json:"id"`
	Status                 domain.ClutchStatus `json:"status"`
	UploadTimestamp        time.Time           `json:"uploadTimestamp"`
	ImageURL               string              `json:"imageUrl"`
	EggCount               int                 `json:"eggCount"`
	AverageHatchLikelihood float64             `json:"averageHatchLikelihood"`
}

type ClutchReadService interface {
	Get(dbc dbctx.Context, id uuid.UUID) (*ClutchDetail, error)
	List(dbc dbctx.Context, limit int) ([]*ClutchSummary, error)
}

type clutchReadService struct {
	db       *gorm.DB
	log      *logger.Logger
	clutches repos.ClutchRepo
	eggs     repos.EggRepo
	buckets  gcs.BucketService
	ledger   ledger.Client
}

func NewClutchReadService(
	db *gorm.DB,
	baseLog *logger.Logger,
	clutches repos.ClutchRepo,
	eggs repos.EggRepo,
	buckets gcs.BucketService,
	ledgerClient ledger.Client,
) ClutchReadService {
	return &clutchReadService{
		db:       db,
		log:      baseLog.With("service", "ClutchReadService"),
		clutches: clutches,
		eggs:     eggs,
		buckets:  buckets,
		ledger:   ledgerClient,
	}
}

func (s *clutchReadService) Get(dbc dbctx.Context, id uuid.UUID) (*ClutchDetail, error) {
	clutch, err := s.clutches.GetByID(dbc, id)
	if err != nil {
		return nil, apierr.Internal(err)
	}
	if clutch == nil {
		return nil, apierr.NotFound("CLUTCH_NOT_FOUND", fmt.Errorf("clutch %s not found", id))
	}

	eggs, err := s.eggs.ListByClutch(dbc, id)
	if err != nil {
		return nil, apierr.Internal(err)
	}

	detail := &ClutchDetail{
		ID:                     clutch.ID,
		Status:                 clutch.Status,
		UploadTimestamp:        clutch.UploadTimestamp,
		ImageURL:               s.buckets.GetPublicURL(gcs.BucketCategoryClutch, clutch.ImageKey),
		TotalEggCount:          clutch.TotalEggCount,
		ViableEggCount:         clutch.ViableEggCount,
		ErrorMessage:           clutch.ErrorMessage,
		ConsolidatedAt:         clutch.ConsolidatedAt,
		ViabilityPercentage:    viabilityPercentage(eggs),
		AverageHatchLikelihood: averageHatchLikelihood(eggs),
		Eggs:                   make([]EggView, 0, len(eggs)),
	}
	if clutch.ChickenImageKey != "" {
		detail.ChickenImage = s.buckets.GetPublicURL(gcs.BucketCategoryClutch, clutch.ChickenImageKey)
	}

	for _, egg := range eggs {
		if egg == nil {
			continue
		}
		detail.Eggs = append(detail.Eggs, s.projectEgg(dbc, egg))
	}
	return detail, nil
}

func (s *clutchReadService) List(dbc dbctx.Context, limit int) ([]*ClutchSummary, error) {
	clutches, err := s.clutches.List(dbc, limit)
	if err != nil {
		return nil, apierr.Internal(err)
	}
	out := make([]*ClutchSummary, 0, len(clutches))
	for _, clutch := range clutches {
		if clutch == nil {
			continue
		}
		eggs, err := s.eggs.ListByClutch(dbc, clutch.ID)
		if err != nil {
			return nil, apierr.Internal(err)
		}
		out = append(out, &ClutchSummary{
			ID:                     clutch.ID,
			Status:                 clutch.Status,
			UploadTimestamp:        clutch.UploadTimestamp,
			ImageURL:               s.buckets.GetPublicURL(gcs.BucketCategoryClutch, clutch.ImageKey),
			EggCount:               len(eggs),
			AverageHatchLikelihood: averageHatchLikelihood(eggs),
		})
	}
	return out, nil
}

func (s *clutchReadService) projectEgg(dbc dbctx.Context, egg *domain.Egg) EggView {
	v := EggView{
		ID:                  egg.ID,
		Color:               egg.Color,
		Shape:               egg.Shape,
		Size:                egg.Size,
		ShellTexture:        egg.ShellTexture,
		ShellIntegrity:      egg.ShellIntegrity,
		Hardness:            egg.Hardness,
		SpotsMarkings:       egg.SpotsMarkings,
		Bloom:               egg.Bloom,
		Cleanliness:         egg.Cleanliness,
		Defects:             egg.Defects,
		OverallGrade:        egg.OverallGrade,
		HatchLikelihood:     egg.HatchLikelihood,
		PredictedChickBreed: egg.PredictedChickBreed,
		BreedConfidence:     egg.BreedConfidence,
		ChickAppearance:     egg.ChickAppearance,
	}
	if egg.ChickImageKey != "" {
		v.ChickImageURL = s.buckets.GetPublicURL(gcs.BucketCategoryMedia, egg.ChickImageKey)
	}
	if egg.ChickAudioKey != "" {
		v.ChickAudioURL = s.buckets.GetPublicURL(gcs.BucketCategoryMedia, egg.ChickAudioKey)
	}
	if egg.ComfortSongKey != "" {
		v.ComfortSongURL = s.buckets.GetPublicURL(gcs.BucketCategoryMedia, egg.ComfortSongKey)
	}
	v.IsCertified = s.certified(dbc, egg)
	return v
}

// certified degrades to false on any ledger problem. Read responses never
// fail because the attestation backend is unreachable.
func (s *clutchReadService) certified(dbc dbctx.Context, egg *domain.Egg) bool {
	if egg.AttestationHash == "" || s.ledger == nil {
		return false
	}
	ok, err := s.ledger.Validate(dbc.Ctx, egg.AttestationHash)
	if err != nil {
		s.log.Warn("Attestation validation failed", "egg_id", egg.ID.String(), "error", err)
		return false
	}
	return ok
}

func viabilityPercentage(eggs []*domain.Egg) float64 {
	if len(eggs) == 0 {
		return 0
	}
	viable := 0
	for _, egg := range eggs {
		if egg != nil && egg.HatchLikelihood >= domain.ChickMediaThreshold {
			viable++
		}
	}
	return float64(viable) / float64(len(eggs)) * 100
}

func averageHatchLikelihood(eggs []*domain.Egg) float64 {
	if len(eggs) == 0 {
		return 0
	}
	sum := 0
	for _, egg := range eggs {
		if egg != nil {
			sum += egg.HatchLikelihood
		}
	}
	return float64(sum) / float64(len(eggs))
}
