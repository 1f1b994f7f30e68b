// Package feedback shows one user-facing message at a time. A new message
// replaces the current one and restarts its display timer.
package feedback

import (
	"time"

	"villagecraft.ai/internal/eventloop"
)

type Severity string

const (
	Info    Severity = "INFO"
	Success Severity = "SUCCESS"
	Warning Severity = "WARNING"
	Error   Severity = "ERROR"
)

const DefaultDuration = 3 * time.Second

type Message struct {
	Seq      uint64        `json:"seq"`
	Text     string        `json:"text"`
	Severity Severity      `json:"severity"`
	Duration time.Duration `json:"duration"`
	ShownAt  time.Time     `json:"shown_at"`
}

type EventKind string

const (
	Shown  EventKind = "SHOWN"
	Hidden EventKind = "HIDDEN"
)

type Event struct {
	Kind    EventKind
	Message Message
}

type Listener func(Event)

type Board struct {
	sched    eventloop.Scheduler
	duration time.Duration
	now      func() time.Time

	seq     uint64
	current *Message
	timer   eventloop.Timer

	listeners map[int]Listener
	order     []int
	nextID    int
}

func NewBoard(sched eventloop.Scheduler, duration time.Duration) *Board {
	if duration <= 0 {
		duration = DefaultDuration
	}
	return &Board{
		sched:     sched,
		duration:  duration,
		now:       time.Now,
		listeners: map[int]Listener{},
	}
}

func (b *Board) Show(sev Severity, text string) Message {
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
	b.seq++
	msg := Message{Seq: b.seq, Text: text, Severity: sev, Duration: b.duration, ShownAt: b.now()}
	b.current = &msg
	seq := msg.Seq
	b.timer = b.sched.AfterFunc(b.duration, func() { b.hide(seq) })
	b.emit(Event{Kind: Shown, Message: msg})
	return msg
}

func (b *Board) Current() (Message, bool) {
	if b.current == nil {
		return Message{}, false
	}
	return *b.current, true
}

// Dismiss hides the current message early.
func (b *Board) Dismiss() {
	if b.current == nil {
		return
	}
	if b.timer != nil {
		b.timer.Stop()
	}
	b.hide(b.current.Seq)
}

func (b *Board) hide(seq uint64) {
	if b.current == nil || b.current.Seq != seq {
		return
	}
	msg := *b.current
	b.current = nil
	b.timer = nil
	b.emit(Event{Kind: Hidden, Message: msg})
}

// Subscribe registers l and returns its unsubscribe func.
func (b *Board) Subscribe(l Listener) func() {
	b.nextID++
	id := b.nextID
	b.listeners[id] = l
	b.order = append(b.order, id)
	return func() {
		delete(b.listeners, id)
		for i, v := range b.order {
			if v == id {
				b.order = append(b.order[:i:i], b.order[i+1:]...)
				break
			}
		}
	}
}

func (b *Board) emit(ev Event) {
	for _, id := range append([]int(nil), b.order...) {
		if l, ok := b.listeners[id]; ok {
			l(ev)
		}
	}
}
