package kv

import (
	"github.com/pkg/errors"
	r "gopkg.in/redis.v5"
)

const prefix = "_DIGIMATE_"

// Redis is a Client backed by a Redis server.
type Redis struct {
	client *r.Client
}

var _ Client = (*Redis)(nil)

func NewRedis(url string) (*Redis, error) {
	opts, err := r.ParseURL(url)
	if err != nil {
		return nil, errors.Wrap(err, "parsing redis url")
	}
	return &Redis{client: r.NewClient(opts)}, nil
}

func (c *Redis) HGet(key, field string) ([]byte, error) {
	return missing(c.client.HGet(prefix+key, field).Bytes())
}

func (c *Redis) HSet(key, field string, value []byte) error {
	return c.client.HSet(prefix+key, field, value).Err()
}

func (c *Redis) HDel(key, field string) error {
	return c.client.HDel(prefix+key, field).Err()
}

func (c *Redis) Ping() error {
	return c.client.Ping().Err()
}

func (c *Redis) Close() error {
	return c.client.Close()
}

func missing(b []byte, err error) ([]byte, error) {
	if err == r.Nil {
		return nil, ErrMissing
	}
	return b, err
}
