package stream

import "github.com/google/uuid"

// Kind discriminates egg change events on the bus.
type Kind string

const (
	// KindEggInsert is published once per egg right after the vision pass
	// writes the batch.
	KindEggInsert Kind = "egg_insert"
	// KindEggModify is published whenever an existing egg row is patched.
	// ChangedFields carries the patched column names.
	KindEggModify Kind = "egg_modify"
	// KindEggCompleted signals that an enrichment worker finished with an
	// egg, whether or not it produced media.
	KindEggCompleted Kind = "egg_completed"
)

// EggEvent is the change-feed record for a single egg. HatchLikelihood is
// carried inline so the router can classify without a read on the hot path.
type EggEvent struct {
	Kind            Kind      `json:"kind"`
	ClutchID        uuid.UUID `json:"clutch_id"`
	EggID           uuid.UUID `json:"egg_id"`
	HatchLikelihood *int      `json:"hatch_likelihood,omitempty"`
	ChangedFields   []string  `json:"changed_fields,omitempty"`
}

var mediaFields = map[string]struct{}{
	"chick_image_key":  {},
	"chick_audio_key":  {},
	"comfort_song_key": {},
}

// TouchesMedia reports whether the event's changed fields include any
// generated-media column.
func (e EggEvent) TouchesMedia() bool {
	for _, f := range e.ChangedFields {
		if _, ok := mediaFields[f]; ok {
			return true
		}
	}
	return false
}
