// Copyright 2025 Hivemind Labs
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published
// by the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.
//
// For commercial licensing, contact: licensing@hivemindlabs.io
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package vault

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func newTestWatcher(t *testing.T, root string) *Watcher {
	t.Helper()
	w, err := NewWatcher(WatcherConfig{Root: root, Debounce: 50 * time.Millisecond})
	if err != nil {
		t.Fatalf("NewWatcher failed: %v", err)
	}
	return w
}

func TestWatcher_CoalescesSamePath(t *testing.T) {
	w := newTestWatcher(t, t.TempDir())

	w.record("/v/a.md", EventCreated)
	w.record("/v/a.md", EventModified)
	w.record("/v/a.md", EventModified)

	// Created followed by writes stays created: the consumer has not seen
	// the file yet.
	if p := w.pending["/v/a.md"]; p.kind != EventCreated {
		t.Fatalf("expected created after create+modify, got %s", p.kind)
	}

	w.record("/v/a.md", EventDeleted)
	if p := w.pending["/v/a.md"]; p.kind != EventDeleted {
		t.Fatalf("expected latest state deleted, got %s", p.kind)
	}
	if len(w.pending) != 1 {
		t.Fatalf("expected a single pending entry, got %d", len(w.pending))
	}
}

func TestWatcher_FlushRespectsDebounce(t *testing.T) {
	w := newTestWatcher(t, t.TempDir())
	w.record("/v/a.md", EventModified)

	// Before the window elapses nothing is emitted.
	w.flush(time.Now())
	select {
	case ev := <-w.events:
		t.Fatalf("premature emit: %+v", ev)
	default:
	}

	w.flush(time.Now().Add(time.Second))
	select {
	case ev := <-w.events:
		if ev.Kind != EventModified || ev.Path != "/v/a.md" {
			t.Fatalf("unexpected event: %+v", ev)
		}
	default:
		t.Fatal("expected an event after the debounce window")
	}
	if len(w.pending) != 0 {
		t.Fatalf("entry not cleared after flush")
	}
}

func TestWatcher_SlowConsumerKeepsLatest(t *testing.T) {
	w := newTestWatcher(t, t.TempDir())
	// Fill the queue.
	for i := 0; i < cap(w.events); i++ {
		w.events <- Event{Kind: EventModified, Path: "/filler.md"}
	}
	w.record("/v/a.md", EventModified)
	w.flush(time.Now().Add(time.Second))

	// Entry must survive the failed send and still coalesce.
	if _, ok := w.pending["/v/a.md"]; !ok {
		t.Fatal("pending entry dropped while consumer was slow")
	}
	w.record("/v/a.md", EventDeleted)
	if w.pending["/v/a.md"].kind != EventDeleted {
		t.Fatal("coalescing stopped while consumer was slow")
	}
}

func TestWatcher_EndToEnd(t *testing.T) {
	if testing.Short() {
		t.Skip("filesystem watch test")
	}
	dir := t.TempDir()
	w := newTestWatcher(t, dir)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		_ = w.Run(ctx)
		close(done)
	}()

	// Give the watcher time to register the root.
	time.Sleep(200 * time.Millisecond)

	path := filepath.Join(dir, "note.md")
	if err := os.WriteFile(path, []byte("---\nid: n\n---\n"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}

	select {
	case ev := <-w.Events():
		if ev.Path != path {
			t.Fatalf("unexpected path: %s", ev.Path)
		}
		if ev.Kind != EventCreated && ev.Kind != EventModified {
			t.Fatalf("unexpected kind: %s", ev.Kind)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no event within 5s")
	}

	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("watcher did not stop on cancellation")
	}
}
