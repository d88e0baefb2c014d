package inotify

import (
	"strings"
	"testing"
	"unsafe"

	"github.com/davideuler/lsyncd/internal/event"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func newTestSource() *Source {
	return &Source{buf: make([]byte, initialBufSize)}
}

func collect(s *Source, records []rawRecord) []event.Event {
	var got []event.Event
	var overflowed int
	for _, r := range records {
		s.classify(r, func(e event.Event) { got = append(got, e) }, func() { overflowed++ }, nil)
	}
	return got
}

// Scenario 1: matched rename within one watch.
func TestMatchedRename(t *testing.T) {
	s := newTestSource()
	records := []rawRecord{
		{wd: 3, mask: unix.IN_MOVED_FROM, cookie: 42, name: "a"},
		{wd: 3, mask: unix.IN_MOVED_TO, cookie: 42, name: "b"},
	}
	got := collect(s, records)
	require.Len(t, got, 1)
	assert.Equal(t, event.Event{Kind: event.Move, Watch: 3, IsDir: false, Name: "a", Name2: "b"}, got[0])
	assert.False(t, s.Pending())
}

// Scenario 2: rename out of the watched region, unmatched moved-from,
// flushed at drain-end.
func TestRenameOutOfWatchedRegion(t *testing.T) {
	s := newTestSource()
	records := []rawRecord{
		{wd: 3, mask: unix.IN_MOVED_FROM, cookie: 42, name: "a"},
	}
	got := collect(s, records)
	assert.Empty(t, got, "no event before drain-end flush")
	assert.True(t, s.Pending())

	var flushed []event.Event
	s.FlushPending(func(e event.Event) { flushed = append(flushed, e) })
	require.Len(t, flushed, 1)
	assert.Equal(t, event.Event{Kind: event.Delete, Watch: 3, IsDir: false, Name: "a"}, flushed[0])
	assert.False(t, s.Pending())
}

// Scenario 3: rename into the watched region, unary moved-to is Create.
func TestRenameIntoWatchedRegion(t *testing.T) {
	s := newTestSource()
	records := []rawRecord{
		{wd: 3, mask: unix.IN_MOVED_TO, cookie: 42, name: "b"},
	}
	got := collect(s, records)
	require.Len(t, got, 1)
	assert.Equal(t, event.Event{Kind: event.Create, Watch: 3, IsDir: false, Name: "b"}, got[0])
	assert.False(t, s.Pending())
}

// Scenario 4: two interleaved renames, cookies mismatched.
func TestMismatchedCookies(t *testing.T) {
	s := newTestSource()
	records := []rawRecord{
		{wd: 3, mask: unix.IN_MOVED_FROM, cookie: 42, name: "a"},
		{wd: 3, mask: unix.IN_MOVED_TO, cookie: 99, name: "c"},
	}
	got := collect(s, records)
	require.Len(t, got, 2)
	assert.Equal(t, event.Event{Kind: event.Delete, Watch: 3, IsDir: false, Name: "a"}, got[0])
	assert.Equal(t, event.Event{Kind: event.Create, Watch: 3, IsDir: false, Name: "c"}, got[1])
	assert.False(t, s.Pending())
}

// Scenario 5: queue overflow.
func TestQueueOverflow(t *testing.T) {
	s := newTestSource()
	var overflowed int
	var got []event.Event
	s.classify(rawRecord{mask: unix.IN_Q_OVERFLOW}, func(e event.Event) { got = append(got, e) }, func() { overflowed++ }, nil)
	assert.Equal(t, 1, overflowed)
	assert.Empty(t, got)
}

func TestIgnoredEventsAreSilentlyDropped(t *testing.T) {
	s := newTestSource()
	got := collect(s, []rawRecord{{wd: 1, mask: unix.IN_IGNORED}})
	assert.Empty(t, got)
}

func TestUnmatchedMovedFromBufferedThenOverwrittenByAnotherMovedFrom(t *testing.T) {
	// moved-from set, buffer occupied -> flush buffered as Delete, retain
	// the new moved-from record, which is then itself buffered (since the
	// buffer is now empty again).
	s := newTestSource()
	records := []rawRecord{
		{wd: 3, mask: unix.IN_MOVED_FROM, cookie: 1, name: "a"},
		{wd: 3, mask: unix.IN_MOVED_FROM, cookie: 2, name: "b"},
	}
	got := collect(s, records)
	require.Len(t, got, 1)
	assert.Equal(t, event.Event{Kind: event.Delete, Watch: 3, Name: "a"}, got[0])
	assert.True(t, s.Pending(), "the second moved-from is now buffered")
}

func TestAttribAndCreateSameInodeEmitTwoEventsInArrivalOrder(t *testing.T) {
	s := newTestSource()
	records := []rawRecord{
		{wd: 5, mask: unix.IN_ATTRIB, name: "f"},
		{wd: 5, mask: unix.IN_CREATE, name: "f"},
	}
	got := collect(s, records)
	require.Len(t, got, 2)
	assert.Equal(t, event.Attrib, got[0].Kind)
	assert.Equal(t, event.Create, got[1].Kind)
}

func TestUnrecognizedMaskIsSkippedSilently(t *testing.T) {
	s := newTestSource()
	var debugCalls int
	s.classify(rawRecord{wd: 1, mask: unix.IN_ACCESS}, func(event.Event) {}, func() {}, func(string, ...interface{}) { debugCalls++ })
	assert.Equal(t, 1, debugCalls)
}

func TestClassificationIdempotence(t *testing.T) {
	records := []rawRecord{
		{wd: 3, mask: unix.IN_MOVED_FROM, cookie: 42, name: "a"},
		{wd: 3, mask: unix.IN_MOVED_TO, cookie: 42, name: "b"},
		{wd: 3, mask: unix.IN_CREATE, name: "c"},
	}
	got1 := collect(newTestSource(), records)
	got2 := collect(newTestSource(), records)
	assert.Equal(t, got1, got2)
}

func TestDecodeRecordsHandlesLongNameRequiringBufferGrowth(t *testing.T) {
	longName := strings.Repeat("x", 3000) // exceeds the 2 KiB initial buffer
	padded := longName
	if rem := len(padded) % 4; rem != 0 {
		padded += strings.Repeat("\x00", 4-rem)
	}
	buf := make([]byte, unix.SizeofInotifyEvent+len(padded))
	raw := unix.InotifyEvent{Wd: 7, Mask: unix.IN_CREATE, Cookie: 0, Len: uint32(len(padded))}
	*(*unix.InotifyEvent)(unsafe.Pointer(&buf[0])) = raw
	copy(buf[unix.SizeofInotifyEvent:], padded)

	records := decodeRecords(buf)
	require.Len(t, records, 1)
	assert.Equal(t, longName, records[0].name)
}
