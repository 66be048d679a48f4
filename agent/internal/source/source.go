package source

import (
	"context"
	"fmt"

	"github.com/cyberpulse/cyberpulse/agent/internal/config"
	"github.com/cyberpulse/cyberpulse/pkg/types"
)

// Source is the common interface implemented by every event source.
type Source interface {
	// ID returns the configured source id.
	ID() string

	// Collect returns the events observed since the previous call. A nil
	// slice with a nil error means nothing new.
	Collect(ctx context.Context) ([]types.Event, error)

	// Close releases the source's resources.
	Close() error
}

// New returns the Source for the given configuration.
func New(src config.Source) (Source, error) {
	switch src.Type {
	case config.SourceCSV:
		return NewCSV(src.ID, src.Path), nil
	case config.SourceDemo:
		return NewDemo(src.ID, src.Demo), nil
	case config.SourceKafka:
		return NewKafka(src.ID, src.Kafka), nil
	default:
		return nil, fmt.Errorf("source %q: unsupported type %q", src.ID, src.Type)
	}
}
