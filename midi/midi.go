// Package midi provides fixed-capacity MIDI event buffers for the render
// path. Events carry a sample offset relative to the start of the block
// they belong to.
package midi

import "fmt"

// Status bytes of channel voice messages.
const (
	StatusNoteOff         byte = 0x80
	StatusNoteOn          byte = 0x90
	StatusPolyPressure    byte = 0xA0
	StatusControlChange   byte = 0xB0
	StatusProgramChange   byte = 0xC0
	StatusChannelPressure byte = 0xD0
	StatusPitchBend       byte = 0xE0
)

// Event is a short MIDI message positioned within a block.
type Event struct {
	Offset int
	Data   [3]byte
	Size   uint8
}

// NoteOn returns note-on event.
func NoteOn(offset int, channel, note, velocity uint8) Event {
	return Event{Offset: offset, Data: [3]byte{StatusNoteOn | channel&0x0F, note & 0x7F, velocity & 0x7F}, Size: 3}
}

// NoteOff returns note-off event.
func NoteOff(offset int, channel, note, velocity uint8) Event {
	return Event{Offset: offset, Data: [3]byte{StatusNoteOff | channel&0x0F, note & 0x7F, velocity & 0x7F}, Size: 3}
}

// ControlChange returns control change event.
func ControlChange(offset int, channel, controller, value uint8) Event {
	return Event{Offset: offset, Data: [3]byte{StatusControlChange | channel&0x0F, controller & 0x7F, value & 0x7F}, Size: 3}
}

// ProgramChange returns program change event.
func ProgramChange(offset int, channel, program uint8) Event {
	return Event{Offset: offset, Data: [3]byte{StatusProgramChange | channel&0x0F, program & 0x7F}, Size: 2}
}

// PitchBend returns pitch bend event. Value is 14 bit, 8192 is center.
func PitchBend(offset int, channel uint8, value uint16) Event {
	return Event{Offset: offset, Data: [3]byte{StatusPitchBend | channel&0x0F, byte(value & 0x7F), byte(value >> 7 & 0x7F)}, Size: 3}
}

// Status returns status of the message without channel.
func (e Event) Status() byte {
	return e.Data[0] & 0xF0
}

// Channel returns channel of the message.
func (e Event) Channel() uint8 {
	return e.Data[0] & 0x0F
}

// IsNoteOn returns true for note-on with non-zero velocity.
func (e Event) IsNoteOn() bool {
	return e.Status() == StatusNoteOn && e.Data[2] > 0
}

// IsNoteOff returns true for note-off and note-on with zero velocity.
func (e Event) IsNoteOff() bool {
	return e.Status() == StatusNoteOff || (e.Status() == StatusNoteOn && e.Data[2] == 0)
}

// Note returns note number of note messages.
func (e Event) Note() uint8 {
	return e.Data[1]
}

// Velocity returns velocity of note messages.
func (e Event) Velocity() uint8 {
	return e.Data[2]
}

func (e Event) String() string {
	return fmt.Sprintf("midi{offset:%d, data:% X}", e.Offset, e.Data[:e.Size])
}

// Buffer is a fixed-capacity list of events. It never grows: events added
// to a full buffer are dropped and counted.
type Buffer struct {
	events  []Event
	dropped int
}

// NewBuffer allocates a buffer that can hold capacity events.
func NewBuffer(capacity int) *Buffer {
	return &Buffer{events: make([]Event, 0, capacity)}
}

// Add appends event to the buffer. False is returned if buffer is full.
func (b *Buffer) Add(e Event) bool {
	if len(b.events) == cap(b.events) {
		b.dropped++
		return false
	}
	b.events = append(b.events, e)
	return true
}

// Clear removes all events.
func (b *Buffer) Clear() {
	b.events = b.events[:0]
}

// Len returns number of events.
func (b *Buffer) Len() int {
	return len(b.events)
}

// Cap returns capacity of the buffer.
func (b *Buffer) Cap() int {
	return cap(b.events)
}

// At returns i-th event.
func (b *Buffer) At(i int) Event {
	return b.events[i]
}

// Events returns events in the buffer. The slice is valid until the next
// modification.
func (b *Buffer) Events() []Event {
	return b.events
}

// Dropped returns number of events dropped because of full buffer.
func (b *Buffer) Dropped() int {
	return b.dropped
}

// Merge appends events of all sources in order and sorts the buffer by
// offset. Events with the same offset keep the order of sources and the
// order within each source.
func (b *Buffer) Merge(sources ...*Buffer) {
	for _, src := range sources {
		if src == nil {
			continue
		}
		for _, e := range src.events {
			b.Add(e)
		}
	}
	b.sort()
}

// CopyRange appends events of src with offsets in [start, start+length),
// moving their offsets by shift.
func (b *Buffer) CopyRange(src *Buffer, start, length, shift int) {
	if src == nil {
		return
	}
	for _, e := range src.events {
		if e.Offset >= start && e.Offset < start+length {
			e.Offset += shift
			b.Add(e)
		}
	}
}

// sort is a stable insertion sort. Blocks carry few events and are mostly
// sorted already.
func (b *Buffer) sort() {
	for i := 1; i < len(b.events); i++ {
		e := b.events[i]
		j := i - 1
		for ; j >= 0 && b.events[j].Offset > e.Offset; j-- {
			b.events[j+1] = b.events[j]
		}
		b.events[j+1] = e
	}
}
