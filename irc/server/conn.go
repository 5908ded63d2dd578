package server

import (
	"bufio"
	"io"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	sendQueue    = 512
	writeTimeout = 30 * time.Second
	drainTimeout = 5 * time.Second
)

// conn is one socket with a dedicated writer goroutine. Writes never block
// the caller: a peer that stops reading overflows its queue and is dropped.
type conn struct {
	id     string
	nc     net.Conn
	remote string
	r      *bufio.Reader
	log    *zap.Logger

	// mu orders sends against the start of a drain, so nothing is queued
	// behind the final line.
	mu       sync.Mutex
	draining bool
	out      chan string
	drain    chan struct{}
	quit     chan struct{}
	quitOnce sync.Once

	lastSeen atomic.Int64
}

func newConn(nc net.Conn, log *zap.Logger) *conn {
	id := uuid.NewString()
	c := &conn{
		id:     id,
		nc:     nc,
		remote: nc.RemoteAddr().String(),
		r:      bufio.NewReader(nc),
		log:    log.With(zap.String("conn", id), zap.String("remote", nc.RemoteAddr().String())),
		out:    make(chan string, sendQueue),
		drain:  make(chan struct{}),
		quit:   make(chan struct{}),
	}
	c.touch()
	go c.writeLoop()
	return c
}

// send queues one line without its terminator. It reports false when the
// connection is closed or shutting down, or its queue overflowed.
func (c *conn) send(line string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.draining {
		return false
	}
	return c.enqueue(line)
}

func (c *conn) enqueue(line string) bool {
	select {
	case <-c.quit:
		return false
	default:
	}

	select {
	case c.out <- line:
		return true
	default:
		c.log.Warn("send queue exceeded, dropping connection")
		c.close()
		return false
	}
}

// shutdown writes whatever is queued, plus line when it is not empty, and
// closes the connection. Later sends are refused. It waits for the writer
// to finish.
func (c *conn) shutdown(line string) {
	c.mu.Lock()
	if !c.draining {
		c.draining = true
		if line != "" {
			c.enqueue(line)
		}
		close(c.drain)
	}
	c.mu.Unlock()
	<-c.quit
}

// close drops the connection immediately.
func (c *conn) close() {
	c.quitOnce.Do(func() {
		close(c.quit)
		c.nc.Close()
	})
}

func (c *conn) closed() bool {
	select {
	case <-c.quit:
		return true
	default:
		return false
	}
}

func (c *conn) writeLoop() {
	for {
		select {
		case line := <-c.out:
			if !c.write(line) {
				return
			}
		case <-c.drain:
			deadline := time.Now().Add(drainTimeout)
			for {
				select {
				case line := <-c.out:
					if !c.writeBy(line, deadline) {
						return
					}
				default:
					c.close()
					return
				}
			}
		case <-c.quit:
			return
		}
	}
}

func (c *conn) write(line string) bool {
	return c.writeBy(line, time.Now().Add(writeTimeout))
}

func (c *conn) writeBy(line string, deadline time.Time) bool {
	_ = c.nc.SetWriteDeadline(deadline)
	if _, err := io.WriteString(c.nc, line+"\r\n"); err != nil {
		c.log.Debug("write failed", zap.Error(err))
		c.close()
		return false
	}
	return true
}

// readLine returns the next non-empty line without its terminator.
func (c *conn) readLine() (string, error) {
	for {
		line, err := c.r.ReadString('\n')
		if err != nil {
			return "", err
		}
		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			continue
		}
		c.touch()
		return line, nil
	}
}

func (c *conn) touch() {
	c.lastSeen.Store(time.Now().UnixNano())
}

func (c *conn) idle() time.Duration {
	return time.Since(time.Unix(0, c.lastSeen.Load()))
}

// pingLoop pings the peer every interval and drops it once nothing has been
// read for timeout.
func (c *conn) pingLoop(origin string, interval, timeout time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if c.idle() > timeout {
				c.log.Info("ping timeout")
				go c.shutdown("ERROR :Closing link (Ping timeout)")
				return
			}
			c.send("PING :" + origin)
		case <-c.quit:
			return
		}
	}
}
