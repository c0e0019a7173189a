package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"slimcast/internal/core/domain"
	"slimcast/internal/core/ports"
)

const playersIndexKey = "slimcast:players"

type RedisPlayerRepository struct {
	client *redis.Client
	prefix string
}

func NewRedisPlayerRepository(client *redis.Client) ports.PlayerRepository {
	return &RedisPlayerRepository{
		client: client,
		prefix: "slimcast:player:",
	}
}

func (r *RedisPlayerRepository) playerKey(id domain.ClientID) string {
	return r.prefix + string(id)
}

func (r *RedisPlayerRepository) Save(ctx context.Context, player *domain.Player) error {
	data, err := json.Marshal(player)
	if err != nil {
		return fmt.Errorf("failed to marshal player: %w", err)
	}

	key := r.playerKey(player.ID)
	if err := r.client.Set(ctx, key, data, 0).Err(); err != nil {
		return fmt.Errorf("failed to set player in Redis: %w", err)
	}

	if err := r.client.SAdd(ctx, playersIndexKey, string(player.ID)).Err(); err != nil {
		return fmt.Errorf("failed to index player: %w", err)
	}

	return nil
}

func (r *RedisPlayerRepository) GetByID(ctx context.Context, id domain.ClientID) (*domain.Player, error) {
	data, err := r.client.Get(ctx, r.playerKey(id)).Result()
	if err == redis.Nil {
		return nil, domain.ErrPlayerNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get player from Redis: %w", err)
	}

	var player domain.Player
	if err := json.Unmarshal([]byte(data), &player); err != nil {
		return nil, fmt.Errorf("failed to unmarshal player: %w", err)
	}

	return &player, nil
}

func (r *RedisPlayerRepository) List(ctx context.Context) ([]*domain.Player, error) {
	ids, err := r.client.SMembers(ctx, playersIndexKey).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list players from Redis: %w", err)
	}

	players := make([]*domain.Player, 0, len(ids))
	for _, id := range ids {
		player, err := r.GetByID(ctx, domain.ClientID(id))
		if err == domain.ErrPlayerNotFound {
			// index entry outlived the player record; heal it
			r.client.SRem(ctx, playersIndexKey, id)
			continue
		}
		if err != nil {
			return nil, err
		}
		players = append(players, player)
	}

	return players, nil
}

func (r *RedisPlayerRepository) UpdateLatency(ctx context.Context, id domain.ClientID, latency time.Duration) error {
	player, err := r.GetByID(ctx, id)
	if err != nil {
		return err
	}

	player.Latency = latency
	player.LastSeen = time.Now()
	return r.Save(ctx, player)
}

func (r *RedisPlayerRepository) Remove(ctx context.Context, id domain.ClientID) error {
	if err := r.client.SRem(ctx, playersIndexKey, string(id)).Err(); err != nil {
		return fmt.Errorf("failed to unindex player: %w", err)
	}

	deleted, err := r.client.Del(ctx, r.playerKey(id)).Result()
	if err != nil {
		return fmt.Errorf("failed to delete player from Redis: %w", err)
	}
	if deleted == 0 {
		return domain.ErrPlayerNotFound
	}
	return nil
}
