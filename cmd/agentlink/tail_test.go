package main

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/ashureev/agentlink/internal/conversation"
	"github.com/ashureev/agentlink/internal/domain"
	"github.com/ashureev/agentlink/internal/execstate"
)

func chat(msg string) conversation.Entry {
	return conversation.Entry{Event: domain.Event{Type: domain.EventOutputChat, Message: msg}}
}

func TestPrinterStreamsSuffixes(t *testing.T) {
	var buf bytes.Buffer
	p := &printer{w: &buf}

	p.update(p.resumeAt(), []conversation.Entry{chat("Hel")})
	p.update(p.resumeAt(), []conversation.Entry{chat("Hello")})
	p.update(p.resumeAt(), []conversation.Entry{
		chat("Hello!"),
		{Event: domain.Event{Type: domain.EventOutputInfo, Message: "done"}},
	})
	p.finish()

	assert.Equal(t, "[output.chat] Hello!\n[output.info] done\n", buf.String())
}

func TestPrinterSkipsAlreadyPrinted(t *testing.T) {
	var buf bytes.Buffer
	p := &printer{w: &buf}

	p.update(0, []conversation.Entry{chat("a"), chat("b"), chat("c")})
	p.update(0, []conversation.Entry{chat("a"), chat("b"), chat("c")})

	assert.Equal(t, "[output.chat] a\n[output.chat] b\n[output.chat] c", buf.String())
	assert.Equal(t, 2, p.resumeAt())
}

func TestFormatEntry(t *testing.T) {
	q := conversation.Entry{Event: domain.Event{
		Type:      domain.EventQuestionRequest,
		RequestID: "q1",
		Question:  &domain.Question{Type: domain.QuestionText, Label: "Name?"},
	}}
	assert.Equal(t, "[question q1] Name?", formatEntry(q))

	reset := conversation.Entry{Event: domain.Event{Type: domain.EventReset, What: []string{"context", "tools"}}}
	assert.Equal(t, "[reset] context, tools", formatEntry(reset))
}

func TestStatusLine(t *testing.T) {
	now := time.UnixMilli(10_000)
	busy := "building"
	assert.Equal(t, "waiting for execution state", statusLine(execstate.View{}, now))
	assert.Equal(t, "idle", statusLine(execstate.View{Received: true, Idle: true}, now))
	assert.Equal(t, "busy: building", statusLine(execstate.View{Received: true, BusyWith: &busy}, now))
	assert.Equal(t, "waiting on question q1 (2 pending)", statusLine(execstate.View{
		Received:  true,
		WaitingOn: &domain.QuestionRequest{RequestID: "q1"},
		Pending:   2,
	}, now))
}

func TestStatusLineCountdown(t *testing.T) {
	v := execstate.View{
		Received:  true,
		WaitingOn: &domain.QuestionRequest{RequestID: "q1", Timestamp: 10_000, AutoSubmitAfter: 15},
		Pending:   1,
	}
	assert.Equal(t, "waiting on question q1 (1 pending, auto-submit in 15s)", statusLine(v, time.UnixMilli(10_000)))
	assert.Equal(t, "waiting on question q1 (1 pending, auto-submit in 5s)", statusLine(v, time.UnixMilli(20_500)))
	assert.Equal(t, "waiting on question q1 (1 pending, auto-submit in 0s)", statusLine(v, time.UnixMilli(99_000)))
}
