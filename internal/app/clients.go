package app

import (
	"fmt"

	"github.com/yungbote/hatchery-backend/internal/platform/elevenlabs"
	"github.com/yungbote/hatchery-backend/internal/platform/gcs"
	"github.com/yungbote/hatchery-backend/internal/platform/ledger"
	"github.com/yungbote/hatchery-backend/internal/platform/logger"
	"github.com/yungbote/hatchery-backend/internal/platform/openai"
	"github.com/yungbote/hatchery-backend/internal/stream"
)

type Clients struct {
	AI      openai.Client
	Audio   elevenlabs.Client
	Buckets gcs.BucketService
	Ledger  ledger.Client
	Bus     stream.Bus
}

func wireClients(log *logger.Logger) (Clients, error) {
	log.Info("Wiring clients...")

	ai, err := openai.NewClient(log)
	if err != nil {
		return Clients{}, fmt.Errorf("init openai client: %w", err)
	}

	buckets, err := gcs.NewBucketService(log)
	if err != nil {
		return Clients{}, fmt.Errorf("init bucket service: %w", err)
	}

	bus, err := stream.NewRedisBus(log)
	if err != nil {
		return Clients{}, fmt.Errorf("init egg event bus: %w", err)
	}

	return Clients{
		AI:      ai,
		Audio:   elevenlabs.NewClient(log),
		Buckets: buckets,
		Ledger:  ledger.NewClient(log),
		Bus:     bus,
	}, nil
}
