package presence

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"projectchat/pkg/types"
)

// RedisStore keeps one hash per project: field userID, value username.
type RedisStore struct {
	client *redis.Client
	prefix string
}

func NewRedisStore(client *redis.Client, prefix string) *RedisStore {
	return &RedisStore{client: client, prefix: prefix}
}

func (s *RedisStore) key(projectID string) string {
	if s.prefix == "" {
		return "presence:project:" + projectID
	}
	return s.prefix + ":presence:project:" + projectID
}

func (s *RedisStore) Add(ctx context.Context, projectID string, user types.PresenceUser) error {
	if err := s.client.HSet(ctx, s.key(projectID), user.UserID, user.Username).Err(); err != nil {
		return fmt.Errorf("failed to add %s to project %s roster: %w", user.UserID, projectID, err)
	}
	return nil
}

func (s *RedisStore) Remove(ctx context.Context, projectID, userID string) error {
	if err := s.client.HDel(ctx, s.key(projectID), userID).Err(); err != nil {
		return fmt.Errorf("failed to remove %s from project %s roster: %w", userID, projectID, err)
	}
	return nil
}

func (s *RedisStore) Roster(ctx context.Context, projectID string) ([]types.PresenceUser, error) {
	entries, err := s.client.HGetAll(ctx, s.key(projectID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read project %s roster: %w", projectID, err)
	}

	users := make([]types.PresenceUser, 0, len(entries))
	for userID, username := range entries {
		users = append(users, types.PresenceUser{UserID: userID, Username: username})
	}
	sortUsers(users)
	return users, nil
}

// Clear drops every roster under the prefix. Called at startup since
// connections do not survive a restart.
func (s *RedisStore) Clear(ctx context.Context) error {
	iter := s.client.Scan(ctx, 0, s.key("*"), 100).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("failed to scan rosters: %w", err)
	}
	if len(keys) == 0 {
		return nil
	}
	return s.client.Del(ctx, keys...).Err()
}

// Ping checks the Redis connection.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
