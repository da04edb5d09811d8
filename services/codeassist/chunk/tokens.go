// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package chunk counts tokens and splits source files into retrieval chunks.
package chunk

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// DefaultEncoding is the BPE encoding used for conversation budgets.
const DefaultEncoding = "cl100k_base"

// charsPerToken is the divisor of the byte-based estimate.
const charsPerToken = 4

// TokenCounter counts tokens in text.
type TokenCounter interface {
	Count(text string) int
}

// Tokenizer is a TokenCounter that can also round-trip token ids, which
// token-window chunking needs.
type Tokenizer interface {
	TokenCounter
	Encode(text string) []int
	Decode(tokens []int) string
}

// TiktokenCounter counts with a tiktoken BPE encoding.
//
// Thread Safety: Safe for concurrent use.
type TiktokenCounter struct {
	enc *tiktoken.Tiktoken
}

// NewTiktokenCounter loads the named encoding.
func NewTiktokenCounter(encoding string) (*TiktokenCounter, error) {
	enc, err := tiktoken.GetEncoding(encoding)
	if err != nil {
		return nil, fmt.Errorf("loading %s encoding: %w", encoding, err)
	}
	return &TiktokenCounter{enc: enc}, nil
}

// Count implements TokenCounter.
func (c *TiktokenCounter) Count(text string) int {
	return len(c.enc.Encode(text, nil, nil))
}

// Encode implements Tokenizer.
func (c *TiktokenCounter) Encode(text string) []int {
	return c.enc.Encode(text, nil, nil)
}

// Decode implements Tokenizer.
func (c *TiktokenCounter) Decode(tokens []int) string {
	return c.enc.Decode(tokens)
}

// EstimateCounter approximates tokens as ceil(bytes/4). Empty text is 0.
type EstimateCounter struct{}

// Count implements TokenCounter.
func (EstimateCounter) Count(text string) int {
	n := len(text)
	if n == 0 {
		return 0
	}
	return (n + charsPerToken - 1) / charsPerToken
}

var (
	defaultCounterOnce sync.Once
	defaultCounter     TokenCounter
)

// DefaultCounter returns a cl100k_base counter, or EstimateCounter when the
// encoding cannot be loaded (for example without network access to fetch
// the BPE ranks). The choice is made once per process.
func DefaultCounter() TokenCounter {
	defaultCounterOnce.Do(func() {
		c, err := NewTiktokenCounter(DefaultEncoding)
		if err != nil {
			slog.Warn("tiktoken unavailable, falling back to byte estimate",
				slog.String("encoding", DefaultEncoding),
				slog.String("error", err.Error()))
			defaultCounter = EstimateCounter{}
			return
		}
		defaultCounter = c
	})
	return defaultCounter
}

var _ Tokenizer = (*TiktokenCounter)(nil)
