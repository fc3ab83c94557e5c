// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package nyschooldata

import (
	"context"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/AleutianAI/nyschooldata/internal/config"
	"github.com/AleutianAI/nyschooldata/pkg/bridge"
	"github.com/AleutianAI/nyschooldata/pkg/logging"
)

// defaultSession backs the package-level functions.
var defaultSession session

// session holds the process-wide Client. It moves from empty to set once;
// only Reset moves it back.
type session struct {
	mu     sync.Mutex
	client *Client
	group  singleflight.Group
}

func (s *session) get() *Client {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.client
}

// init returns the session client, building and initializing it on first
// use. Options are ignored once a client exists. Like Client.Initialize,
// the shared attempt outlives a canceled caller.
func (s *session) init(ctx context.Context, opts []Option) (*Client, error) {
	if c := s.get(); c != nil {
		return c, nil
	}
	shared := context.WithoutCancel(ctx)
	ch := s.group.DoChan("session", func() (any, error) {
		if c := s.get(); c != nil {
			return c, nil
		}
		c, err := newSessionClient(shared, applyOptions(opts))
		if err != nil {
			return nil, err
		}
		s.mu.Lock()
		s.client = c
		s.mu.Unlock()
		return c, nil
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*Client), nil
	case <-ctx.Done():
		return nil, initError(ctx.Err())
	}
}

func (s *session) reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.client = nil
}

// newSessionClient wires config, logger and runtime, then initializes.
func newSessionClient(ctx context.Context, o options) (*Client, error) {
	logger := o.logger
	var owned *logging.Logger

	rt := o.runtime
	if rt == nil {
		cfg, err := loadConfig(o.configPath)
		if err != nil {
			return nil, &InteropInitializationError{Step: StepConfig, Err: err}
		}
		if o.rscript != "" {
			cfg.Bridge.RscriptPath = o.rscript
		}
		if logger == nil {
			owned = logging.New(cfg.Logging.LoggerConfig())
			logger = owned
		}
		rt = bridge.NewRscriptRuntime(cfg.Bridge.RuntimeOptions(logger))
	}

	c := NewClient(rt, WithLogger(logger))
	if err := c.Initialize(ctx); err != nil {
		if owned != nil {
			_ = owned.Close()
		}
		return nil, err
	}
	return c, nil
}

func loadConfig(path string) (config.Config, error) {
	if path != "" {
		return config.LoadFile(path, false)
	}
	return config.Load()
}
