// Per-screen playback snapshots are cached here so the diagnostics UI
// can poll without hammering the remote platform API.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/doohlabs/playsync/internal/publish"
)

var Rdb *redis.Client

const playbackStateTTL = 30 * time.Second

func InitRedis(redisAddress string, redisUsername string, redisPassword string) {
	Rdb = redis.NewClient(&redis.Options{
		Addr:     redisAddress,
		Username: redisUsername,
		Password: redisPassword,
		DB:       0,
	})
}

// PlaybackCache implements publish.Cache on the shared client.
type PlaybackCache struct{}

var _ publish.Cache = PlaybackCache{}

func playbackKey(screenID int) string {
	return fmt.Sprintf("playback:screen:%d", screenID)
}

func (PlaybackCache) GetPlaybackState(ctx context.Context, screenID int) (*publish.PlaybackState, bool) {
	if Rdb == nil {
		return nil, false
	}
	raw, err := Rdb.Get(ctx, playbackKey(screenID)).Bytes()
	if err != nil {
		return nil, false
	}
	var state publish.PlaybackState
	if err := json.Unmarshal(raw, &state); err != nil {
		log.Warn().Err(err).Int("screen_id", screenID).Msg("[redis] corrupt playback snapshot, dropping")
		Rdb.Del(ctx, playbackKey(screenID))
		return nil, false
	}
	return &state, true
}

func (PlaybackCache) SetPlaybackState(ctx context.Context, screenID int, state *publish.PlaybackState) {
	if Rdb == nil {
		return
	}
	raw, err := json.Marshal(state)
	if err != nil {
		return
	}
	if err := Rdb.Set(ctx, playbackKey(screenID), raw, playbackStateTTL).Err(); err != nil {
		log.Warn().Err(err).Int("screen_id", screenID).Msg("[redis] failed to cache playback snapshot")
	}
}
