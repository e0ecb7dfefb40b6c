package ipc

import (
	"bufio"
	"context"
	"log/slog"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// dialRetryInterval is how often Connect retries while the binder has
// not yet appeared, matching spec.md §4.1's "a missing binder at
// start causes connect subscribers to queue silently — they begin
// receiving once the binder appears."
const dialRetryInterval = time.Second

// Client is the connector side of one logical channel: it dials a
// Broker, may Publish messages, and may Subscribe to topic prefixes.
// A single Client can do both, and may hold multiple independent
// Subscribe calls at once (each gets its own channel, filtered to its
// own prefixes); the orchestrator's downstream Client only publishes,
// most workers' Client only subscribes.
type Client struct {
	log  *slog.Logger
	conn net.Conn

	mu     sync.Mutex
	out    chan Message
	drops  atomic.Uint64
	closed atomic.Bool

	writerWG sync.WaitGroup

	subMu sync.RWMutex
	subs  map[chan Message]*subscription
}

// subscription pairs a Subscribe caller's channel with the prefix set
// that channel alone should receive, so one Client connection can
// multiplex several logically distinct subscribers.
type subscription struct {
	prefixes []string
	ch       chan Message
}

// Connect dials addr, retrying every dialRetryInterval until ctx is
// done. hwm bounds the client's own outbound publish queue.
func Connect(ctx context.Context, addr string, hwm int, log *slog.Logger) (*Client, error) {
	if log == nil {
		log = slog.Default()
	}
	if hwm <= 0 {
		hwm = 1000
	}

	var conn net.Conn
	for {
		var err error
		conn, err = net.Dial("tcp", addr)
		if err == nil {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(dialRetryInterval):
		}
	}

	c := &Client{
		log:  log,
		conn: conn,
		out:  make(chan Message, hwm),
		subs: make(map[chan Message]*subscription),
	}
	c.writerWG.Add(1)
	go c.writeLoop()
	go c.readLoop()
	return c, nil
}

// Publish sends topic/payload non-blocking. If the client's own
// outbound queue is at its high-water mark, the oldest queued message
// is dropped to make room and the drop counter is incremented.
func (c *Client) Publish(topic string, payload []byte) {
	if c.closed.Load() {
		return
	}
	msg := Message{Topic: topic, Payload: payload, Received: time.Now()}
	for {
		select {
		case c.out <- msg:
			return
		default:
		}
		select {
		case <-c.out:
			c.drops.Add(1)
		default:
			return
		}
	}
}

// DropCount returns how many messages this client dropped locally:
// published messages evicted because the outbound queue stayed full,
// plus received messages that a full subscriber channel could not take.
func (c *Client) DropCount() uint64 {
	return c.drops.Load()
}

// Subscribe registers topicPrefixes and returns a channel carrying
// only messages matching them. A Client may be subscribed to more
// than once, independently: each call gets its own channel, filtered
// to its own prefixes in readLoop. The broker's connection-wide
// prefix set is re-sent as the union of every local subscription's
// prefixes, so the single TCP connection's handshake always matches
// a superset of what any local channel needs.
func (c *Client) Subscribe(topicPrefixes ...string) <-chan Message {
	ch := make(chan Message, 256)

	c.subMu.Lock()
	c.subs[ch] = &subscription{prefixes: topicPrefixes, ch: ch}
	union := c.unionPrefixesLocked()
	c.subMu.Unlock()

	writeFrame(c.conn, controlTopic, []byte(strings.Join(union, ",")))
	return ch
}

// unionPrefixesLocked returns the combined prefix set across every
// current subscription. Callers must hold subMu.
func (c *Client) unionPrefixesLocked() []string {
	var union []string
	for _, sub := range c.subs {
		union = append(union, sub.prefixes...)
	}
	return union
}

func (c *Client) writeLoop() {
	defer c.writerWG.Done()
	for msg := range c.out {
		if err := writeFrame(c.conn, msg.Topic, msg.Payload); err != nil {
			return
		}
	}
}

func (c *Client) readLoop() {
	reader := bufio.NewReader(c.conn)
	for {
		topic, payload, err := readFrame(reader)
		if err != nil {
			c.closeSubs()
			return
		}
		msg := Message{Topic: topic, Payload: payload, Received: time.Now()}

		c.subMu.RLock()
		for _, sub := range c.subs {
			if !prefixesMatch(sub.prefixes, topic) {
				continue
			}
			select {
			case sub.ch <- msg:
			default:
				c.drops.Add(1)
			}
		}
		c.subMu.RUnlock()
	}
}

func (c *Client) closeSubs() {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	for ch, sub := range c.subs {
		close(sub.ch)
		delete(c.subs, ch)
	}
}

// Close shuts down the client's connection and all subscriber channels.
func (c *Client) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	close(c.out)
	err := c.conn.Close()
	c.writerWG.Wait()
	c.closeSubs()
	return err
}
