// Package inotify drains raw inotify records and normalizes them into the
// canonical event vocabulary of internal/event, including the pairing of
// rename halves into atomic Move events. Grounded on
// _examples/rjeczalik-notify/watcher_inotify.go's process() for the raw
// record decoding, and on lsyncd.c:716-810's handle_event for the
// classification state machine.
package inotify

import (
	"bytes"
	"unsafe"

	"github.com/davideuler/lsyncd/internal/event"
	"golang.org/x/sys/unix"
)

// initialBufSize is the starting read buffer size; it doubles on demand
// when a read fails with EINVAL (the kernel's way of saying "the next
// record doesn't fit").
const initialBufSize = 2 * 1024

// rawRecord is one decoded, but not yet classified, inotify_event: the raw
// kernel record verbatim, since the pending-move buffer must hold the raw
// record until its rename partner arrives or it is flushed.
type rawRecord struct {
	wd     int32
	mask   uint32
	cookie uint32
	name   string
}

// Source owns one inotify file descriptor, its growable read buffer, and
// the single-slot pending-move buffer used to pair rename halves.
type Source struct {
	fd      int
	buf     []byte
	pending *rawRecord
}

// NewSource creates a new inotify instance. Failure to do so is fatal at
// the call site: NewSource returns the error so the caller can log and
// exit with the process's own exit-code conventions.
func NewSource() (*Source, error) {
	fd, err := unix.InotifyInit1(unix.IN_CLOEXEC)
	if err != nil {
		return nil, err
	}
	return &Source{fd: fd, buf: make([]byte, initialBufSize)}, nil
}

// Fd returns the underlying file descriptor, for use with unix.Poll in the
// master loop.
func (s *Source) Fd() int { return s.fd }

// Close releases the inotify instance.
func (s *Source) Close() error { return unix.Close(s.fd) }

// Pending reports whether the pending-move buffer is currently occupied.
func (s *Source) Pending() bool { return s.pending != nil }

// Poll reports whether the source has data ready within timeoutMillis
// (0 = return immediately, -1 = block indefinitely). It is the building
// block for both the master loop's timed/idle waits and its "is there more
// data" peek between drains.
func (s *Source) Poll(timeoutMillis int) (bool, error) {
	fds := []unix.PollFd{{Fd: int32(s.fd), Events: unix.POLLIN}}
	n, err := unix.Poll(fds, timeoutMillis)
	if err != nil {
		if err == unix.EINTR {
			return false, nil
		}
		return false, err
	}
	return n > 0, nil
}

// Drain performs exactly one read(2) on the inotify fd and classifies and
// dispatches everything decoded from it. It returns the number of raw
// records processed; 0 means the read produced nothing to do (EAGAIN).
//
// Drain does NOT flush the pending-move buffer; that only happens at
// drain-end, once the caller (internal/loop.Loop) has established there is
// no more immediately available data, via FlushPending. This keeps the
// flush decision with the master loop, not duplicated here.
func (s *Source) Drain(dispatch func(event.Event), overflow func(), debugf func(string, ...interface{})) (int, error) {
	records, err := s.readRecords()
	if err != nil {
		return 0, err
	}
	for _, r := range records {
		s.classify(r, dispatch, overflow, debugf)
	}
	return len(records), nil
}

// FlushPending emits a Delete for a still-occupied pending-move buffer,
// the only mechanism by which an unmatched rename-out becomes a deletion.
func (s *Source) FlushPending(dispatch func(event.Event)) {
	if s.pending == nil {
		return
	}
	buffered := *s.pending
	s.pending = nil
	dispatch(toDelete(buffered))
}

// readRecords performs one read(2), growing the buffer and retrying on
// EINVAL (a record too large for the current buffer), and decodes every
// record the kernel returned in that single call.
func (s *Source) readRecords() ([]rawRecord, error) {
	for {
		n, err := unix.Read(s.fd, s.buf)
		if err != nil {
			switch err {
			case unix.EINVAL:
				s.buf = make([]byte, len(s.buf)*2)
				continue
			case unix.EAGAIN, unix.EINTR:
				return nil, nil
			default:
				return nil, err
			}
		}
		if n <= 0 {
			return nil, nil
		}
		return decodeRecords(s.buf[:n]), nil
	}
}

func decodeRecords(buf []byte) []rawRecord {
	var records []rawRecord
	off := 0
	for off+unix.SizeofInotifyEvent <= len(buf) {
		raw := (*unix.InotifyEvent)(unsafe.Pointer(&buf[off]))
		off += unix.SizeofInotifyEvent
		name := ""
		if raw.Len > 0 {
			end := off + int(raw.Len)
			if end > len(buf) {
				break
			}
			name = string(bytes.TrimRight(buf[off:end], "\x00"))
			off = end
		}
		records = append(records, rawRecord{
			wd:     raw.Wd,
			mask:   raw.Mask,
			cookie: raw.Cookie,
			name:   name,
		})
	}
	return records
}

// classify is the per-record state machine, including the rename-pairing
// via the pending-move buffer. It recurses at most once per call, for the
// two "flush buffered, then reprocess this record as if the buffer had
// been empty" branches.
func (s *Source) classify(r rawRecord, dispatch func(event.Event), overflow func(), debugf func(string, ...interface{})) {
	if r.mask&unix.IN_Q_OVERFLOW != 0 {
		overflow()
		return
	}
	if r.mask&unix.IN_IGNORED != 0 {
		return
	}

	isDir := r.mask&unix.IN_ISDIR != 0
	movedFrom := r.mask&unix.IN_MOVED_FROM != 0
	movedTo := r.mask&unix.IN_MOVED_TO != 0

	if movedFrom {
		if s.pending == nil {
			pend := r
			s.pending = &pend
			return
		}
		buffered := *s.pending
		s.pending = nil
		dispatch(toDelete(buffered))
		s.classify(r, dispatch, overflow, debugf)
		return
	}

	if movedTo {
		if s.pending != nil {
			buffered := *s.pending
			if buffered.cookie == r.cookie {
				s.pending = nil
				dispatch(event.Event{
					Kind:  event.Move,
					Watch: buffered.wd,
					IsDir: isDir,
					Name:  buffered.name,
					Name2: r.name,
				})
				return
			}
			s.pending = nil
			dispatch(toDelete(buffered))
			s.classify(r, dispatch, overflow, debugf)
			return
		}
		dispatch(event.Event{Kind: event.Create, Watch: r.wd, IsDir: isDir, Name: r.name})
		return
	}

	switch {
	case r.mask&unix.IN_ATTRIB != 0:
		dispatch(event.Event{Kind: event.Attrib, Watch: r.wd, IsDir: isDir, Name: r.name})
	case r.mask&unix.IN_CLOSE_WRITE != 0:
		dispatch(event.Event{Kind: event.Modify, Watch: r.wd, IsDir: isDir, Name: r.name})
	case r.mask&unix.IN_CREATE != 0:
		dispatch(event.Event{Kind: event.Create, Watch: r.wd, IsDir: isDir, Name: r.name})
	case r.mask&(unix.IN_DELETE|unix.IN_DELETE_SELF) != 0:
		dispatch(event.Event{Kind: event.Delete, Watch: r.wd, IsDir: isDir, Name: r.name})
	default:
		if debugf != nil {
			debugf("skipped inotify event mask=0x%x", r.mask)
		}
	}
}

func toDelete(r rawRecord) event.Event {
	return event.Event{
		Kind:  event.Delete,
		Watch: r.wd,
		IsDir: r.mask&unix.IN_ISDIR != 0,
		Name:  r.name,
	}
}
