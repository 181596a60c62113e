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

// Package filenode wraps the sysfs attribute files the controller
// writes refresh control values to. A Node keeps the files under one
// directory open across writes, remembers the last value written to
// each, and offers an asynchronous post path so hot paths never block
// on sysfs latency.
package filenode

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/displaykit/vrrctl/pkg/logger"
)

var ErrClosed = errors.New("file node closed")

type pendingWrite struct {
	name  string
	value string
}

// Node manages the attribute files under one sysfs directory.
type Node struct {
	mu sync.RWMutex

	log  logger.Logger
	root string

	files       map[string]*os.File
	lastWritten map[string]string

	pending chan pendingWrite
	done    chan struct{}
	wg      sync.WaitGroup
	closed  bool
}

// New returns a Node rooted at dir and starts its writer goroutine.
func New(dir string, log logger.Logger) *Node {
	n := &Node{
		log:         log,
		root:        dir,
		files:       make(map[string]*os.File),
		lastWritten: make(map[string]string),
		pending:     make(chan pendingWrite, 64),
		done:        make(chan struct{}),
	}

	n.wg.Add(1)

	go n.writeLoop()

	return n
}

func (n *Node) writeLoop() {
	defer n.wg.Done()

	for {
		select {
		case <-n.done:
			// Drain what was queued before the shutdown.
			for {
				select {
				case w := <-n.pending:
					n.flush(w)
				default:
					return
				}
			}
		case w := <-n.pending:
			n.flush(w)
		}
	}
}

// flush skips the closed check so writes queued before Close still
// land; Close only closes the files after the writer goroutine exits.
func (n *Node) flush(w pendingWrite) {
	n.mu.Lock()
	err := n.writeStringLocked(w.name, w.value)
	n.mu.Unlock()

	if err != nil {
		n.log.Error().
			Err(err).
			Str("node", w.name).
			Str("value", w.value).
			Msg("async sysfs write failed")
	}
}

// WriteString writes s to the named attribute file synchronously.
func (n *Node) WriteString(name, s string) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.closed {
		return ErrClosed
	}

	return n.writeStringLocked(name, s)
}

func (n *Node) writeStringLocked(name, s string) error {
	f, err := n.fileLocked(name)
	if err != nil {
		return err
	}

	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("seek %s: %w", n.path(name), err)
	}

	if _, err := f.WriteString(s); err != nil {
		return fmt.Errorf("write %q to %s: %w", s, n.path(name), err)
	}

	n.lastWritten[name] = s

	return nil
}

// WriteValue writes value in the decimal form sysfs attributes expect.
func (n *Node) WriteValue(name string, value uint32) error {
	return n.WriteString(name, strconv.FormatUint(uint64(value), 10))
}

// WriteInt writes a signed value, for timestamp attributes.
func (n *Node) WriteInt(name string, value int64) error {
	return n.WriteString(name, strconv.FormatInt(value, 10))
}

// PostValue queues an asynchronous write of value. Failures surface in
// the log only; callers that must observe errors use WriteValue.
func (n *Node) PostValue(name string, value uint32) {
	n.mu.RLock()
	closed := n.closed
	n.mu.RUnlock()

	if closed {
		return
	}

	select {
	case n.pending <- pendingWrite{name: name, value: strconv.FormatUint(uint64(value), 10)}:
	default:
		n.log.Warn().Str("node", name).Msg("sysfs write queue full, dropping value")
	}
}

// ReadString reads the named attribute file in full.
func (n *Node) ReadString(name string) (string, error) {
	b, err := os.ReadFile(n.path(name))
	if err != nil {
		return "", fmt.Errorf("read %s: %w", n.path(name), err)
	}

	return string(b), nil
}

// LastWritten returns the last string successfully written to name.
func (n *Node) LastWritten(name string) (string, bool) {
	n.mu.RLock()
	defer n.mu.RUnlock()

	s, ok := n.lastWritten[name]

	return s, ok
}

// LastWrittenValue returns the last written value of name parsed back
// as an unsigned integer, for read-modify-write of register-like
// attributes.
func (n *Node) LastWrittenValue(name string) (uint32, bool) {
	s, ok := n.LastWritten(name)
	if !ok {
		return 0, false
	}

	v, err := strconv.ParseUint(strings.TrimSpace(s), 10, 32)
	if err != nil {
		return 0, false
	}

	return uint32(v), true
}

// Dump renders the node's write history for debug output.
func (n *Node) Dump() string {
	n.mu.RLock()
	defer n.mu.RUnlock()

	var b strings.Builder

	fmt.Fprintf(&b, "FileNode: root path: %s\n", n.root)

	for name, value := range n.lastWritten {
		fmt.Fprintf(&b, "FileNode: sysfs node = %s, last written value = %s\n", name, value)
	}

	return b.String()
}

// Close stops the writer goroutine, flushes queued writes and closes
// every open file.
func (n *Node) Close() error {
	n.mu.Lock()

	if n.closed {
		n.mu.Unlock()
		return ErrClosed
	}

	n.closed = true
	n.mu.Unlock()

	close(n.done)
	n.wg.Wait()

	n.mu.Lock()
	defer n.mu.Unlock()

	var errs []error

	for name, f := range n.files {
		if err := f.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", name, err))
		}
	}

	n.files = map[string]*os.File{}

	return errors.Join(errs...)
}

func (n *Node) fileLocked(name string) (*os.File, error) {
	if f, ok := n.files[name]; ok {
		return f, nil
	}

	f, err := os.OpenFile(n.path(name), os.O_WRONLY, 0)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", n.path(name), err)
	}

	n.files[name] = f

	return f, nil
}

func (n *Node) path(name string) string {
	return filepath.Join(n.root, name)
}
