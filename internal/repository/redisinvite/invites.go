// Package redisinvite stores private-circle invites in redis so multiple
// gateway instances share one invite list.
package redisinvite

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

type Store struct {
	client *redis.Client
}

func NewStore(url, password string, db int) (*Store, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     url,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, err
	}
	return &Store{client: client}, nil
}

func key(circleID uint64) string {
	return fmt.Sprintf("circle:%d:invites", circleID)
}

func (s *Store) Invite(ctx context.Context, circleID uint64, user uuid.UUID) error {
	return s.client.SAdd(ctx, key(circleID), user.String()).Err()
}

func (s *Store) IsInvited(ctx context.Context, circleID uint64, user uuid.UUID) (bool, error) {
	return s.client.SIsMember(ctx, key(circleID), user.String()).Result()
}

func (s *Store) Close() error {
	return s.client.Close()
}
