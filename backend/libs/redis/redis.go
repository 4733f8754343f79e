package redis

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// Options selects the redis instance. Zero timeouts fall back to defaults.
type Options struct {
	Addr        string
	Password    string
	DB          int
	DialTimeout time.Duration
	OpTimeout   time.Duration
}

func (o Options) withDefaults() Options {
	o.Addr = strings.TrimSpace(o.Addr)
	if o.DialTimeout <= 0 {
		o.DialTimeout = 5 * time.Second
	}
	if o.OpTimeout <= 0 {
		o.OpTimeout = 2 * time.Second
	}
	return o
}

// NewRedisClient connects and PINGs within ctx. The caller owns Close.
func NewRedisClient(ctx context.Context, opts Options) (*redis.Client, error) {
	opts = opts.withDefaults()
	if opts.Addr == "" {
		return nil, errors.New("redis: addr is empty")
	}

	client := redis.NewClient(&redis.Options{
		Addr:         opts.Addr,
		Password:     opts.Password,
		DB:           opts.DB,
		DialTimeout:  opts.DialTimeout,
		ReadTimeout:  opts.OpTimeout,
		WriteTimeout: opts.OpTimeout,
	})

	pingCtx, cancel := context.WithTimeout(ctx, opts.DialTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}
	return client, nil
}
