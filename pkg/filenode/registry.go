/*
 * Copyright 2025 The vrrctl Authors.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package filenode

import (
	"errors"
	"sync"

	"github.com/displaykit/vrrctl/pkg/logger"
)

// Registry hands out one shared Node per sysfs directory, so multiple
// displays pointing at the same device node share the writer and the
// last-written cache.
type Registry struct {
	mu sync.Mutex

	log   logger.Logger
	nodes map[string]*Node
}

func NewRegistry(log logger.Logger) *Registry {
	return &Registry{
		log:   log,
		nodes: make(map[string]*Node),
	}
}

// Node returns the Node for dir, creating it on first use.
func (r *Registry) Node(dir string) *Node {
	r.mu.Lock()
	defer r.mu.Unlock()

	if n, ok := r.nodes[dir]; ok {
		return n
	}

	n := New(dir, r.log)
	r.nodes[dir] = n

	return n
}

// Close closes every node the registry handed out.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var errs []error

	for _, n := range r.nodes {
		if err := n.Close(); err != nil && !errors.Is(err, ErrClosed) {
			errs = append(errs, err)
		}
	}

	r.nodes = map[string]*Node{}

	return errors.Join(errs...)
}
