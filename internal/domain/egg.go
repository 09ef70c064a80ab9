package domain

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// Routing thresholds on hatch likelihood. Product decisions, not tunables:
// downstream media eligibility and the aggregate viable count both key off
// these exact boundaries.
const (
	ViableThreshold     = 50
	ChickMediaThreshold = 70
)

// RoutingClass partitions eggs by hatch likelihood for enrichment routing.
type RoutingClass string

const (
	// RoutingViableHigh eggs get a chick image and chick audio.
	RoutingViableHigh RoutingClass = "viable-high"
	// RoutingViableLow eggs count as viable but receive no generated media.
	RoutingViableLow RoutingClass = "viable-low"
	// RoutingNonViable eggs are eligible only for a comfort song.
	RoutingNonViable RoutingClass = "non-viable"
)

// ClassifyHatchLikelihood maps a 0-100 score to its routing class.
func ClassifyHatchLikelihood(score int) RoutingClass {
	switch {
	case score >= ChickMediaThreshold:
		return RoutingViableHigh
	case score >= ViableThreshold:
		return RoutingViableLow
	default:
		return RoutingNonViable
	}
}

// ChickAppearance is the model-predicted look of the chick an egg would
// produce. Stored as JSON on the egg record.
type ChickAppearance struct {
	PlumageColor   string `json:"plumage_color,omitempty"`
	CombType       string `json:"comb_type,omitempty"`
	BodyType       string `json:"body_type,omitempty"`
	FeatherPattern string `json:"feather_pattern,omitempty"`
	LegColor       string `json:"leg_color,omitempty"`
}

// Egg is one detected egg within a clutch. Descriptor fields and the hatch
// likelihood are written once by the vision invoker; enrichment workers each
// patch only their own media fields afterwards.
type Egg struct {
	ID       uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	ClutchID uuid.UUID `gorm:"type:uuid;not null;index" json:"clutch_id"`

	Color          string `gorm:"column:color" json:"color,omitempty"`
	Shape          string `gorm:"column:shape" json:"shape,omitempty"`
	Size           string `gorm:"column:size" json:"size,omitempty"`
	ShellTexture   string `gorm:"column:shell_texture" json:"shell_texture,omitempty"`
	ShellIntegrity string `gorm:"column:shell_integrity" json:"shell_integrity,omitempty"`
	Hardness       string `gorm:"column:hardness" json:"hardness,omitempty"`
	SpotsMarkings  string `gorm:"column:spots_markings" json:"spots_markings,omitempty"`
	Bloom          string `gorm:"column:bloom" json:"bloom,omitempty"`
	Cleanliness    string `gorm:"column:cleanliness" json:"cleanliness,omitempty"`
	Defects        string `gorm:"column:defects" json:"defects,omitempty"`
	OverallGrade   string `gorm:"column:overall_grade" json:"overall_grade,omitempty"`

	// Set once at creation, immutable afterwards. Sole routing key for all
	// downstream enrichment decisions.
	HatchLikelihood int `gorm:"column:hatch_likelihood;not null" json:"hatch_likelihood"`

	PredictedChickBreed string         `gorm:"column:predicted_chick_breed" json:"predicted_chick_breed,omitempty"`
	BreedConfidence     float64        `gorm:"column:breed_confidence" json:"breed_confidence,omitempty"`
	ChickAppearance     datatypes.JSON `gorm:"column:chick_appearance;type:jsonb" json:"chick_appearance,omitempty"`

	ChickImageKey    string     `gorm:"column:chick_image_key" json:"chick_image_key,omitempty"`
	ChickAudioKey    string     `gorm:"column:chick_audio_key" json:"chick_audio_key,omitempty"`
	MediaGeneratedAt *time.Time `gorm:"column:media_generated_at" json:"media_generated_at,omitempty"`

	ComfortSongKey         string     `gorm:"column:comfort_song_key" json:"comfort_song_key,omitempty"`
	ComfortSongPrompt      string     `gorm:"column:comfort_song_prompt" json:"comfort_song_prompt,omitempty"`
	ComfortSongGeneratedAt *time.Time `gorm:"column:comfort_song_generated_at" json:"comfort_song_generated_at,omitempty"`

	Notes           string `gorm:"column:notes" json:"notes,omitempty"`
	AttestationHash string `gorm:"column:attestation_hash" json:"attestation_hash,omitempty"`

	CreatedAt time.Time `gorm:"not null;index" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null" json:"updated_at"`
}

func (Egg) TableName() string { return "egg" }

// RoutingClass is the egg's derived enrichment class.
func (e *Egg) RoutingClass() RoutingClass {
	return ClassifyHatchLikelihood(e.HatchLikelihood)
}

// Enriched reports whether any enrichment artifact has been written. The
// change router refuses to re-route eggs for which this holds.
func (e *Egg) Enriched() bool {
	return e.ChickImageKey != "" || e.ComfortSongKey != ""
}
