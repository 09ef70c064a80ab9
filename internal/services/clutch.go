package services

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/yungbote/hatchery-backend/internal/data/repos"
	"github.com/yungbote/hatchery-backend/internal/domain"
	"github.com/yungbote/hatchery-backend/internal/platform/apierr"
	"github.com/yungbote/hatchery-backend/internal/platform/dbctx"
	"github.com/yungbote/hatchery-backend/internal/platform/gcs"
	"github.com/yungbote/hatchery-backend/internal/platform/logger"
)

const uploadURLTTL = 300 * time.Second

// extByContentType is the upload allow-list. Anything else is rejected
// before a clutch row is created.
var extByContentType = map[string]string{
	"image/jpeg": "jpg",
	"image/png":  "png",
	"image/gif":  "gif",
	"image/webp": "webp",
}

// UploadTicket is the response body of the upload gateway. The caller PUTs
// the image bytes to UploadURL; the backend never touches them directly.
type UploadTicket struct {
	ClutchID  uuid.UUID `json:"clutchId"`
	ObjectKey string    `json:"objectKey"`
	UploadURL string    `json:"uploadUrl"`
	ExpiresIn int       `json:"expiresIn"`
}

type ClutchService interface {
	// InitiateUpload registers a new clutch and hands back a signed PUT URL
	// for its image. The image itself arrives out of band.
	InitiateUpload(dbc dbctx.Context, fileName string, contentType string) (*UploadTicket, error)
	// HandleStorageEvent reacts to the store's object-finalized
	// notification: it starts vision analysis for the clutch the object key
	// belongs to.
	HandleStorageEvent(dbc dbctx.Context, bucket string, objectKey string) (*domain.JobRun, error)
}

type clutchService struct {
	db       *gorm.DB
	log      *logger.Logger
	clutches repos.ClutchRepo
	buckets  gcs.BucketService
	jobs     JobService
}

func NewClutchService(
	db *gorm.DB,
	baseLog *logger.Logger,
	clutches repos.ClutchRepo,
	buckets gcs.BucketService,
	jobs JobService,
) ClutchService {
	return &clutchService{
		db:       db,
		log:      baseLog.With("service", "ClutchService"),
		clutches: clutches,
		buckets:  buckets,
		jobs:     jobs,
	}
}

func (s *clutchService) InitiateUpload(dbc dbctx.Context, fileName string, contentType string) (*UploadTicket, error) {
	fileName = strings.TrimSpace(fileName)
	contentType = strings.ToLower(strings.TrimSpace(contentType))
	if fileName == "" {
		return nil, apierr.BadRequest("INVALID_REQUEST", fmt.Errorf("missing fileName"))
	}
	if contentType == "" {
		return nil, apierr.BadRequest("INVALID_REQUEST", fmt.Errorf("missing contentType"))
	}
	ext, ok := extByContentType[contentType]
	if !ok {
		return nil, apierr.BadRequest("INVALID_CONTENT_TYPE",
			fmt.Errorf("unsupported content type %q", contentType))
	}

	id := uuid.New()
	key := fmt.Sprintf("clutches/%s/upload.%s", id, ext)
	now := time.Now().UTC()

	clutch := &domain.Clutch{
		ID:              id,
		UploadTimestamp: now,
		ImageKey:        key,
		Status:          domain.StatusUploaded,
	}
	if _, err := s.clutches.Create(dbc, clutch); err != nil {
		return nil, apierr.Internal(fmt.Errorf("create clutch: %w", err))
	}

	url, err := s.buckets.SignedUploadURL(gcs.BucketCategoryClutch, key, contentType, uploadURLTTL)
	if err != nil {
		return nil, apierr.Internal(fmt.Errorf("sign upload url: %w", err))
	}

	s.log.Info("Clutch upload initiated", "clutch_id", id.String(), "object_key", key)
	return &UploadTicket{
		ClutchID:  id,
		ObjectKey: key,
		UploadURL: url,
		ExpiresIn: int(uploadURLTTL.Seconds()),
	}, nil
}

func (s *clutchService) HandleStorageEvent(dbc dbctx.Context, bucket string, objectKey string) (*domain.JobRun, error) {
	objectKey = strings.TrimSpace(objectKey)
	if objectKey == "" {
		return nil, apierr.BadRequest("INVALID_REQUEST", fmt.Errorf("missing objectKey"))
	}
	clutchID, err := clutchIDFromKey(objectKey)
	if err != nil {
		return nil, apierr.BadRequest("INVALID_CLUTCH_ID", err)
	}

	clutch, err := s.clutches.GetByID(dbc, clutchID)
	if err != nil {
		return nil, apierr.Internal(err)
	}
	if clutch == nil {
		return nil, apierr.NotFound("CLUTCH_NOT_FOUND", fmt.Errorf("clutch %s not found", clutchID))
	}

	ctx := dbc.Ctx
	job, err := s.jobs.Enqueue(ctx, domain.JobTypeVisionAnalyze, "clutch", clutchID, map[string]any{
		"clutch_id":  clutchID.String(),
		"object_key": objectKey,
	})
	if err != nil {
		return nil, apierr.Internal(fmt.Errorf("enqueue vision_analyze: %w", err))
	}

	if _, err := s.clutches.SetStatus(dbc, clutchID, domain.StatusDetectingEggs); err != nil {
		return nil, apierr.Internal(err)
	}

	s.log.Info("Storage event accepted", "clutch_id", clutchID.String(), "bucket", bucket, "object_key", objectKey)
	return job, nil
}

// clutchIDFromKey extracts the clutch id from an object key of the form
// clutches/<id>/....
func clutchIDFromKey(key string) (uuid.UUID, error) {
	parts := strings.Split(strings.TrimPrefix(key, "/"), "/")
	if len(parts) < 2 || parts[0] != "clutches" {
		return uuid.Nil, fmt.Errorf("object key %q is not a clutch upload", key)
	}
	id, err := uuid.Parse(parts[1])
	if err != nil {
		return uuid.Nil, fmt.Errorf("object key %q carries no clutch id", key)
	}
	return id, nil
}
