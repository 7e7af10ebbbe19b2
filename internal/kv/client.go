// Package kv implements the conversation store on top of a small key-value
// client, the way the hosted KV deployments model chats: one hash of chat
// lists keyed by user and one hash of message lists keyed by chat.
package kv

import (
	"github.com/pkg/errors"
)

// ErrMissing is returned by a Client when a key or hash field is absent.
var ErrMissing = errors.New("kv: missing")

// Client is the subset of key-value operations the store relies on.
type Client interface {
	HGet(key, field string) ([]byte, error)
	HSet(key, field string, value []byte) error
	HDel(key, field string) error
	Ping() error
	Close() error
}
