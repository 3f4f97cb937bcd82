// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package protocol

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/jeranaias/campuschat/internal/model"
	"github.com/jeranaias/campuschat/internal/registry"
)

func TestDecodeFrame(t *testing.T) {
	f, err := DecodeFrame([]byte(`{"type":"chat_chunk","message":"hello"}`))
	if err != nil {
		t.Fatalf("DecodeFrame() error: %v", err)
	}
	if f.Type != FrameChunk || f.Message != "hello" {
		t.Errorf("frame = %+v", f)
	}
}

func TestDecodeFrameErrors(t *testing.T) {
	tests := []struct {
		name string
		data string
		want error
	}{
		{"invalid json", `{"type":`, ErrMalformedFrame},
		{"missing type", `{"message":"x"}`, ErrMalformedFrame},
		{"unknown type", `{"type":"chat_exploded"}`, ErrUnknownFrameType},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeFrame([]byte(tt.data))
			if !errors.Is(err, tt.want) {
				t.Errorf("error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestIsLiveness(t *testing.T) {
	tests := []struct {
		frameType string
		want      bool
	}{
		{FrameStart, false},
		{FrameChunk, true},
		{FrameProgress, true},
		{FrameCitations, false},
		{FrameDone, false},
	}
	for _, tt := range tests {
		f := &Frame{Type: tt.frameType}
		if got := f.IsLiveness(); got != tt.want {
			t.Errorf("IsLiveness(%s) = %v, want %v", tt.frameType, got, tt.want)
		}
	}
}

func TestNormalizeTopic(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"CPSC 110", "cpsc110"},
		{"cpsc110", "cpsc110"},
		{"  Math 220  ", "math220"},
		{"PHYS\t170", "phys170"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := NormalizeTopic(tt.in); got != tt.want {
			t.Errorf("NormalizeTopic(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestDispatchPayloadWireFormat(t *testing.T) {
	p := NewDispatchPayload("when is hw1 due", "CPSC 110", "gpt-5", true, "tok123")
	data, err := json.Marshal(p)
	if err != nil {
		t.Fatal(err)
	}

	var decoded map[string]interface{}
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatal(err)
	}
	if decoded["action"] != "chat" {
		t.Errorf("action = %v", decoded["action"])
	}
	if decoded["class"] != "cpsc110" {
		t.Errorf("class = %v, want normalized topic", decoded["class"])
	}
	if decoded["prioritizeInstructor"] != true {
		t.Error("prioritizeInstructor not carried")
	}
	if decoded["token"] != "tok123" {
		t.Error("token not carried")
	}
}

// newTarget returns a registry, its sole session ID, and an in-flight
// placeholder message ID.
func newTarget(t *testing.T) (*registry.Registry, string, int64) {
	t.Helper()
	r := registry.New(5)
	id := r.ActiveID()
	placeholder, err := r.AppendExchange(id, "q")
	if err != nil {
		t.Fatal(err)
	}
	return r, id, placeholder.ID
}

func TestInterpreterChunkAccumulation(t *testing.T) {
	r, id, msgID := newTarget(t)
	in := NewInterpreter(r)

	in.Apply(id, msgID, &Frame{Type: FrameStart})
	in.Apply(id, msgID, &Frame{Type: FrameChunk, Message: "The homework "})
	done := in.Apply(id, msgID, &Frame{Type: FrameChunk, Message: "is due Friday."})
	if done {
		t.Error("chunk must not complete the request")
	}

	msg := r.Get(id).MessageByID(msgID)
	if msg.Text != "The homework is due Friday." {
		t.Errorf("text = %q", msg.Text)
	}
	if msg.IsLoading {
		t.Error("first chunk should clear the loading flag")
	}
	if !msg.IsStreaming {
		t.Error("message should still be streaming")
	}
}

func TestInterpreterProgressReplacesNotAppends(t *testing.T) {
	r, id, msgID := newTarget(t)
	in := NewInterpreter(r)

	in.Apply(id, msgID, &Frame{Type: FrameProgress, Message: "Searching posts..."})
	in.Apply(id, msgID, &Frame{Type: FrameProgress, Message: "Ranking answers..."})

	if got := r.Get(id).MessageByID(msgID).Text; got != "Ranking answers..." {
		t.Errorf("text = %q, progress must replace", got)
	}

	// Accumulated chunk content is not lost behind a progress interleave.
	in.Apply(id, msgID, &Frame{Type: FrameChunk, Message: "Answer: "})
	in.Apply(id, msgID, &Frame{Type: FrameChunk, Message: "Friday"})
	if got := r.Get(id).MessageByID(msgID).Text; got != "Answer: Friday" {
		t.Errorf("text = %q, chunks must accumulate across progress frames", got)
	}
}

func TestInterpreterChunkBeforeStart(t *testing.T) {
	r, id, msgID := newTarget(t)
	in := NewInterpreter(r)

	// No start frame arrived; the buffer behaves as empty.
	in.Apply(id, msgID, &Frame{Type: FrameChunk, Message: "early"})
	if got := r.Get(id).MessageByID(msgID).Text; got != "early" {
		t.Errorf("text = %q", got)
	}
}

func TestInterpreterDone(t *testing.T) {
	r, id, msgID := newTarget(t)
	in := NewInterpreter(r)

	in.Apply(id, msgID, &Frame{Type: FrameChunk, Message: "answer"})
	in.Apply(id, msgID, &Frame{Type: FrameCitations, Citations: []model.Citation{
		{Title: "HW1 thread", URL: "https://example.test/1", PostNumber: 12},
	}})
	done := in.Apply(id, msgID, &Frame{Type: FrameDone, LowConfidence: true})
	if !done {
		t.Fatal("done frame should complete the request")
	}

	msg := r.Get(id).MessageByID(msgID)
	if msg.Mutable() {
		t.Error("completed message must be immutable")
	}
	if !msg.LowConfidence {
		t.Error("lowConfidence flag not carried")
	}
	if len(msg.Citations) != 1 || msg.Citations[0].PostNumber != 12 {
		t.Errorf("citations = %+v", msg.Citations)
	}

	// A late chunk after done must change nothing.
	in.Apply(id, msgID, &Frame{Type: FrameChunk, Message: " stale"})
	if r.Get(id).MessageByID(msgID).Text != "answer" {
		t.Error("late chunk mutated a completed message")
	}
}

func TestInterpreterFail(t *testing.T) {
	r, id, msgID := newTarget(t)
	in := NewInterpreter(r)

	in.Apply(id, msgID, &Frame{Type: FrameChunk, Message: "part"})
	in.Fail(id, msgID, "The request timed out.")

	msg := r.Get(id).MessageByID(msgID)
	if !msg.IsError || msg.Mutable() {
		t.Error("failed message should be a terminal error")
	}
	if msg.Text != "The request timed out." {
		t.Errorf("text = %q", msg.Text)
	}
}

func TestInterpreterSessionIsolation(t *testing.T) {
	r := registry.New(5)
	firstID := r.ActiveID()
	firstMsg, _ := r.AppendExchange(firstID, "q1")
	second, _ := r.Create()
	secondMsg, _ := r.AppendExchange(second.ID, "q2")

	in := NewInterpreter(r)
	in.Apply(firstID, firstMsg.ID, &Frame{Type: FrameChunk, Message: "alpha"})
	in.Apply(second.ID, secondMsg.ID, &Frame{Type: FrameChunk, Message: "beta"})
	in.Apply(firstID, firstMsg.ID, &Frame{Type: FrameChunk, Message: " one"})

	if got := r.Get(firstID).MessageByID(firstMsg.ID).Text; got != "alpha one" {
		t.Errorf("first session text = %q", got)
	}
	if got := r.Get(second.ID).MessageByID(secondMsg.ID).Text; got != "beta" {
		t.Errorf("second session text = %q", got)
	}
}

func TestInterpreterStartResetsBuffer(t *testing.T) {
	r, id, msgID := newTarget(t)
	in := NewInterpreter(r)

	in.Apply(id, msgID, &Frame{Type: FrameChunk, Message: "left over"})
	in.Apply(id, msgID, &Frame{Type: FrameStart})
	in.Apply(id, msgID, &Frame{Type: FrameChunk, Message: "fresh"})

	if got := r.Get(id).MessageByID(msgID).Text; got != "fresh" {
		t.Errorf("text = %q, start must reset accumulation", got)
	}
}
