// Copyright (C) 2026 Tau Assistant Project (maintainers@tau-assistant.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package messagebus

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPointToPointDelivery(t *testing.T) {
	b := New()
	var got Message
	b.Subscribe("sub-1", func(m Message) { got = m })

	b.Publish(Message{FromID: "main", ToID: "sub-1", Content: "hello"})

	assert.Equal(t, "hello", got.Content)
	assert.Equal(t, "main", got.FromID)
}

func TestBroadcastExcludesSender(t *testing.T) {
	b := New()
	var mu sync.Mutex
	received := map[string]int{}
	record := func(id string) Handler {
		return func(Message) {
			mu.Lock()
			defer mu.Unlock()
			received[id]++
		}
	}
	b.Subscribe("sub-1", record("sub-1"))
	b.Subscribe("sub-2", record("sub-2"))
	b.Subscribe("sub-3", record("sub-3"))

	b.Publish(Message{FromID: "sub-1", ToID: Broadcast, Content: "hi all"})

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 0, received["sub-1"])
	assert.Equal(t, 1, received["sub-2"])
	assert.Equal(t, 1, received["sub-3"])
}

func TestHistoryAccumulatesAndResetClears(t *testing.T) {
	b := New()
	b.Publish(Message{FromID: "main", ToID: "sub-1", Content: "a"})
	b.Publish(Message{FromID: "main", ToID: "sub-1", Content: "b"})

	assert.Len(t, b.History(), 2)

	b.Reset()
	assert.Empty(t, b.History())
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	b := New()
	calls := 0
	b.Subscribe("sub-1", func(Message) { calls++ })
	b.Unsubscribe("sub-1")

	b.Publish(Message{FromID: "main", ToID: "sub-1", Content: "x"})
	assert.Equal(t, 0, calls)
}
