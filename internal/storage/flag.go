package storage

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"
)

// Flag is a best-effort boolean persisted as "true"/"false".
type Flag struct {
	kv  KV
	key string
	def bool
}

func NewFlag(kv KV, key string, def bool) *Flag {
	return &Flag{kv: kv, key: key, def: def}
}

// Get returns the stored value; missing or unreadable values yield the
// default.
func (f *Flag) Get(ctx context.Context) bool {
	raw, err := f.kv.Get(ctx, f.key)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			log.Printf("read flag %s failed: %v", f.key, err)
		}
		return f.def
	}
	v, err := strconv.ParseBool(raw)
	if err != nil || (raw != "true" && raw != "false") {
		log.Printf("flag %s holds unreadable value %q, using default", f.key, raw)
		return f.def
	}
	return v
}

func (f *Flag) Set(ctx context.Context, v bool) error {
	if err := f.kv.Set(ctx, f.key, strconv.FormatBool(v)); err != nil {
		return fmt.Errorf("write flag %s: %w", f.key, err)
	}
	return nil
}
