package repository

import (
	"github.com/go-redis/redis"
	"github.com/pkg/errors"
)

// RedisHealth reports store reachability for the health endpoint.
type RedisHealth struct {
	db redis.UniversalClient
}

func NewRedisHealth(db redis.UniversalClient) *RedisHealth {
	return &RedisHealth{db: db}
}

func (r *RedisHealth) Check() error {
	if r.db == nil {
		return errors.WithStack(&ErrNoConnection{Op: "Check"})
	}
	return errors.WithMessage(r.db.Ping().Err(), "redis ping failed")
}
