package prebuffer

import (
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jmylchreest/rebroadcastr/internal/demux"
	"github.com/jmylchreest/rebroadcastr/internal/metrics"
)

// Viewer drop reasons.
const (
	dropBackpressure = "backpressure"
	dropSessionEnded = "session_ended"
	dropDisconnected = "disconnected"
	dropWriteError   = "write_error"
)

// openServer binds a loopback listener that serves one viewer the backlog
// and live tail of container. The listener closes after the first
// connection or once AcceptTimeout passes.
func (c *Controller) openServer(session demux.Session, container demux.Container, backlog time.Duration) (string, error) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return "", err
	}

	go c.serve(ln, session, container, backlog)
	return "tcp://" + ln.Addr().String(), nil
}

func (c *Controller) serve(ln net.Listener, session demux.Session, container demux.Container, backlog time.Duration) {
	timer := time.AfterFunc(c.cfg.AcceptTimeout, func() { _ = ln.Close() })
	conn, err := ln.Accept()
	timer.Stop()
	_ = ln.Close()

	if err != nil {
		c.logger.Debug("rebroadcast server closed without a viewer", slog.String("container", string(container)))
		// A session started for this request may now have no audience.
		c.idleCheck()
		return
	}

	v := newViewer(conn, container, c.cfg.MaxBufferedBytes, c.logger)
	v.onClose = c.detach
	if !c.attach(v, session, backlog) {
		_ = conn.Close()
		return
	}

	go v.writeLoop()
	go v.readLoop()
}

// attach replays the backlog to v and subscribes it to live chunks. Both
// happen under the controller lock so no chunk is missed or duplicated.
func (c *Controller) attach(v *viewer, session demux.Session, backlog time.Duration) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed || c.session != session {
		return false
	}

	c.activeViewers++
	if c.idleTimer != nil {
		c.idleTimer.Stop()
		c.idleTimer = nil
	}

	if init, ok := c.inits[v.container]; ok {
		v.enqueue(init)
	}
	entries := c.rings[v.container].Snapshot(time.Now().Add(-backlog))
	if v.container == demux.ContainerMP4 {
		// An mdat is useless without the moof that precedes it.
		for len(entries) > 0 && entries[0].Chunk.Type == demux.ChunkMdat {
			entries = entries[1:]
		}
	}
	for _, e := range entries {
		v.enqueue(e.Chunk)
	}
	c.subs[v.container][v.id] = v

	metrics.Viewers.WithLabelValues(c.cam.ID(), c.streamID, string(v.container)).Inc()
	c.logger.Info("rebroadcast viewer connected",
		slog.String("viewer_id", v.id),
		slog.String("container", string(v.container)),
		slog.Int("replayed_chunks", len(entries)),
		slog.Int("viewers", c.activeViewers),
	)
	return true
}

// detach is the viewer's teardown callback.
func (c *Controller) detach(v *viewer, reason string) {
	c.mu.Lock()
	delete(c.subs[v.container], v.id)
	if c.activeViewers > 0 {
		c.activeViewers--
	}
	viewers := c.activeViewers
	c.idleCheckLocked()
	c.mu.Unlock()

	metrics.Viewers.WithLabelValues(c.cam.ID(), c.streamID, string(v.container)).Dec()
	metrics.ViewerDrops.WithLabelValues(c.cam.ID(), c.streamID, reason).Inc()
	c.logger.Info("prebuffer request ended",
		slog.String("viewer_id", v.id),
		slog.String("reason", reason),
		slog.Int("viewers", viewers),
	)
}

// viewer is one connected consumer. Chunks are queued without blocking the
// ingest path and drained by writeLoop.
type viewer struct {
	id        string
	container demux.Container
	conn      net.Conn
	limit     int64
	logger    *slog.Logger
	onClose   func(v *viewer, reason string)

	mu          sync.Mutex
	queue       [][]byte
	outstanding int64
	closed      bool
	wake        chan struct{}

	once sync.Once
}

func newViewer(conn net.Conn, container demux.Container, limit int64, logger *slog.Logger) *viewer {
	return &viewer{
		id:        uuid.NewString(),
		container: container,
		conn:      conn,
		limit:     limit,
		logger:    logger,
		wake:      make(chan struct{}, 1),
	}
}

// enqueue queues chunk and tears the viewer down once more than limit
// bytes are outstanding. It is a no-op after teardown.
func (v *viewer) enqueue(chunk demux.Chunk) {
	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return
	}
	for _, b := range chunk.Data {
		if len(b) == 0 {
			continue
		}
		v.queue = append(v.queue, b)
		v.outstanding += int64(len(b))
	}
	over := v.limit > 0 && v.outstanding > v.limit
	if over {
		v.closed = true
	}
	outstanding := v.outstanding
	v.mu.Unlock()

	if over {
		v.logger.Warn("viewer is not keeping up, killing connection",
			slog.String("viewer_id", v.id),
			slog.Int64("outstanding_bytes", outstanding),
		)
		// The caller may hold the controller lock.
		go v.teardown(dropBackpressure)
		return
	}

	select {
	case v.wake <- struct{}{}:
	default:
	}
}

// Outstanding returns the queued and in-flight bytes.
func (v *viewer) Outstanding() int64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.outstanding
}

func (v *viewer) writeLoop() {
	for range v.wake {
		v.mu.Lock()
		if v.closed {
			v.mu.Unlock()
			return
		}
		batch := v.queue
		v.queue = nil
		v.mu.Unlock()

		var n int64
		for _, b := range batch {
			n += int64(len(b))
		}
		bufs := net.Buffers(batch)
		_, err := bufs.WriteTo(v.conn)

		v.mu.Lock()
		v.outstanding -= n
		v.mu.Unlock()

		if err != nil {
			v.teardown(dropWriteError)
			return
		}
	}
}

// readLoop detects the peer hanging up. Viewers never send data.
func (v *viewer) readLoop() {
	_, _ = io.Copy(io.Discard, v.conn)
	v.teardown(dropDisconnected)
}

// teardown runs exactly once per viewer.
func (v *viewer) teardown(reason string) {
	v.once.Do(func() {
		v.mu.Lock()
		v.closed = true
		v.queue = nil
		v.mu.Unlock()

		_ = v.conn.Close()
		select {
		case v.wake <- struct{}{}:
		default:
		}

		if v.onClose != nil {
			v.onClose(v, reason)
		}
	})
}
