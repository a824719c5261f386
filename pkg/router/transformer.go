// Package router consumes decoded tracker events from the broker, resolves
// them to registered trackers and feeds resolved positions to persistence and
// the realtime fan-out.
package router

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/illmade-knight/go-trackflow/pkg/h02"
	"github.com/illmade-knight/go-trackflow/pkg/identity"
	"github.com/illmade-knight/go-trackflow/pkg/messagepipeline"
	"github.com/illmade-knight/go-trackflow/pkg/positions"
)

// NewPositionTransformer builds the pipeline transformer turning a broker
// delivery into a resolved position row.
//
// Skips, not errors: deliveries with an unparsable routing key, a foreign
// event type, an unregistered IMEI or an undecodable body are logged and
// dropped. Only infrastructure failures (the tracker store being down)
// surface as errors.
func NewPositionTransformer(cache *identity.Cache, logger zerolog.Logger) messagepipeline.MessageTransformer[positions.Position] {
	log := logger.With().Str("component", "PositionTransformer").Logger()
	now := time.Now

	return func(ctx context.Context, msg *messagepipeline.Message) (*positions.Position, bool, error) {
		key := msg.Attributes["routing_key"]
		protocol, eventType, imei, err := splitRoutingKey(key)
		if err != nil {
			log.Warn().Err(err).Str("message_id", msg.ID).Msg("Unroutable delivery skipped.")
			return nil, true, nil
		}

		if protocol != h02.Protocol || eventType != string(h02.EventLocation) {
			log.Debug().Str("routing_key", key).Msg("Event type not handled here, skipped.")
			return nil, true, nil
		}

		tracker, err := cache.Lookup(ctx, imei)
		if err != nil {
			if errors.Is(err, identity.ErrUnknownTracker) {
				log.Warn().Str("imei", imei).Str("message_id", msg.ID).
					Msg("Position from unregistered device discarded.")
				return nil, true, nil
			}
			return nil, false, fmt.Errorf("resolve imei %s: %w", imei, err)
		}

		var loc h02.LocationMessage
		if err := json.Unmarshal(msg.Payload, &loc); err != nil {
			log.Warn().Err(err).Str("message_id", msg.ID).
				Msg("Undecodable location payload skipped.")
			return nil, true, nil
		}

		return &positions.Position{
			TrackerID:  tracker.ID,
			Lat:        loc.Lat,
			Lng:        loc.Lng,
			Speed:      loc.Speed,
			Direction:  loc.Direction,
			Status:     loc.Status,
			EventTime:  loc.Timestamp,
			IngestTime: now().UTC(),
		}, false, nil
	}
}

// splitRoutingKey parses "{protocol}.{eventType}.{imei}", requiring exactly
// three non-empty segments.
func splitRoutingKey(key string) (protocol, eventType, imei string, err error) {
	segments := strings.Split(key, ".")
	if len(segments) != 3 {
		return "", "", "", fmt.Errorf("routing key %q has %d segments, want 3", key, len(segments))
	}
	for _, s := range segments {
		if s == "" {
			return "", "", "", fmt.Errorf("routing key %q has an empty segment", key)
		}
	}
	return segments[0], segments[1], segments[2], nil
}
