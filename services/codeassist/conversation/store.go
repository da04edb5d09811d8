// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package conversation

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/mracul/code-assistant/services/codeassist/storage/badger"
)

// ErrInvalidKey is returned for keys that are empty or contain a path
// separator.
var ErrInvalidKey = errors.New("invalid conversation key")

// Store persists serialized conversations by key.
type Store interface {
	Save(ctx context.Context, key string, data []byte) error
	Load(ctx context.Context, key string) ([]byte, error)
}

func checkKey(key string) error {
	if key == "" || strings.ContainsAny(key, `/\`) || key == "." || key == ".." {
		return fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	return nil
}

// FileStore writes each conversation to <Dir>/<key>.json.
type FileStore struct {
	Dir string
}

func (s FileStore) path(key string) string {
	return filepath.Join(s.Dir, key+".json")
}

// Save writes data through a temporary file and rename so a crash never
// leaves a truncated record.
func (s FileStore) Save(_ context.Context, key string, data []byte) error {
	if err := checkKey(key); err != nil {
		return err
	}
	if err := os.MkdirAll(s.Dir, 0o750); err != nil {
		return fmt.Errorf("creating %s: %w", s.Dir, err)
	}
	tmp, err := os.CreateTemp(s.Dir, key+".*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("writing %s: %w", tmp.Name(), err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing %s: %w", tmp.Name(), err)
	}
	return os.Rename(tmp.Name(), s.path(key))
}

// Load reads the record for key.
func (s FileStore) Load(_ context.Context, key string) ([]byte, error) {
	if err := checkKey(key); err != nil {
		return nil, err
	}
	return os.ReadFile(s.path(key))
}

// badgerPrefix namespaces conversation keys in a shared database.
const badgerPrefix = "conv:"

// BadgerStore keeps conversations in a BadgerDB under "conv:<key>".
type BadgerStore struct {
	DB *badger.DB
}

// Save implements Store.
func (s BadgerStore) Save(ctx context.Context, key string, data []byte) error {
	if err := checkKey(key); err != nil {
		return err
	}
	return s.DB.Put(ctx, badgerPrefix+key, data)
}

// Load implements Store.
func (s BadgerStore) Load(ctx context.Context, key string) ([]byte, error) {
	if err := checkKey(key); err != nil {
		return nil, err
	}
	return s.DB.Get(ctx, badgerPrefix+key)
}

// Keys lists the stored conversation keys.
func (s BadgerStore) Keys(ctx context.Context) ([]string, error) {
	raw, err := s.DB.Keys(ctx, badgerPrefix)
	if err != nil {
		return nil, err
	}
	keys := make([]string, len(raw))
	for i, k := range raw {
		keys[i] = strings.TrimPrefix(k, badgerPrefix)
	}
	return keys, nil
}

var (
	_ Store = FileStore{}
	_ Store = BadgerStore{}
)
