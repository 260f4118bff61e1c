// Package reactor turns a net.Conn's blocking Read/Write calls into the
// register/arm/deliver shape a single per-connection decision goroutine can
// select over, so that goroutine is the only place that ever touches a
// connection's buffers — no locks needed, since each buffer has exactly one
// owner.
//
// A Watcher runs two small pump goroutines, one per direction. The decision
// goroutine arms a read with ArmRead(n) exactly when the input buffer has
// room, and arms a write with Write(data) exactly when the output buffer has
// data — the same interest predicate an epoll-based reactor would recompute
// on every wakeup, just expressed as channel sends instead of interest bits.
package reactor

import "io"

// EventKind distinguishes the two kinds of event a Watcher delivers.
type EventKind int

const (
	// EventRead carries the result of an armed read.
	EventRead EventKind = iota
	// EventWriteDone carries the result of an armed write.
	EventWriteDone
)

// Event is delivered on a Watcher's Events channel, once per Arm call.
type Event struct {
	Kind EventKind

	// Data holds the bytes read, valid only for EventRead.
	Data []byte
	// N is the byte count: bytes read (EventRead) or bytes written
	// (EventWriteDone).
	N int
	// Err is non-nil on I/O failure, including a clean peer close
	// (io.EOF) on read.
	Err error
}

// Watcher wraps one connection's blocking reads and writes in two
// goroutines driven by unbuffered request channels, so arming a read or
// write never blocks the decision goroutine longer than a channel send.
type Watcher struct {
	readReq  chan int
	writeReq chan []byte
	events   chan Event

	maxRead int
}

// New starts a Watcher's pump goroutines over rw. maxRead bounds a single
// read's size (the connection core passes the buffer's capacity; each
// ArmRead call narrows an individual read to the room it names).
func New(rw io.ReadWriter, maxRead int) *Watcher {
	if maxRead <= 0 {
		maxRead = 65536
	}
	w := &Watcher{
		readReq:  make(chan int),
		writeReq: make(chan []byte),
		events:   make(chan Event, 1),
		maxRead:  maxRead,
	}
	go w.readPump(rw)
	go w.writePump(rw)
	return w
}

func (w *Watcher) readPump(r io.Reader) {
	scratch := make([]byte, w.maxRead)
	for want := range w.readReq {
		if want <= 0 || want > len(scratch) {
			want = len(scratch)
		}
		n, err := r.Read(scratch[:want])
		var data []byte
		if n > 0 {
			data = append([]byte(nil), scratch[:n]...)
		}
		w.events <- Event{Kind: EventRead, Data: data, N: n, Err: err}
		if err != nil {
			return
		}
	}
}

func (w *Watcher) writePump(wr io.Writer) {
	for data := range w.writeReq {
		total := 0
		var err error
		for total < len(data) {
			var n int
			n, err = wr.Write(data[total:])
			total += n
			if err != nil {
				break
			}
		}
		w.events <- Event{Kind: EventWriteDone, N: total, Err: err}
		if err != nil {
			return
		}
	}
}

// ArmRead requests the next read, sized to at most room bytes. It is the
// caller's responsibility never to have two reads in flight at once.
func (w *Watcher) ArmRead(room int) { w.readReq <- room }

// Write requests that data be written in full before the next
// EventWriteDone fires.
func (w *Watcher) Write(data []byte) { w.writeReq <- data }

// Events returns the channel events are delivered on.
func (w *Watcher) Events() <-chan Event { return w.events }

// Close stops both pump goroutines. The underlying conn's own Close is the
// caller's responsibility; Close here only unblocks goroutines waiting on
// readReq/writeReq that will never receive another request.
func (w *Watcher) Close() {
	close(w.readReq)
	close(w.writeReq)
}
