package ipc

import (
	"bufio"
	"log/slog"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// lingerDuration bounds how long Close waits for a peer's outbound
// queue to drain before dropping the connection, per spec.md §4.1's
// "every socket sets a short linger" requirement.
const lingerDuration = 200 * time.Millisecond

// Broker is the binder side of one logical channel. Exactly one
// process binds a given channel (typically the orchestrator, for
// both upstream and downstream); every other process connects to it
// with a Client. The broker accepts connections, reads subscription
// handshakes and published frames, and fans out each published
// message to every other connected peer whose subscription prefixes
// match.
type Broker struct {
	log *slog.Logger
	hwm int

	mu      sync.RWMutex
	ln      net.Listener
	peers   map[*brokerPeer]struct{}
	closing bool
	wg      sync.WaitGroup
}

// Bind starts listening on addr and returns a Broker ready to accept
// connector peers. hwm bounds each peer's outbound queue depth.
func Bind(addr string, hwm int, log *slog.Logger) (*Broker, error) {
	if log == nil {
		log = slog.Default()
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	b := &Broker{
		log:   log,
		hwm:   hwm,
		ln:    ln,
		peers: make(map[*brokerPeer]struct{}),
	}
	b.wg.Add(1)
	go b.acceptLoop()
	return b, nil
}

// Addr returns the bound listener address, useful when addr was
// "host:0" and the OS picked a port.
func (b *Broker) Addr() net.Addr {
	return b.ln.Addr()
}

func (b *Broker) acceptLoop() {
	defer b.wg.Done()
	for {
		conn, err := b.ln.Accept()
		if err != nil {
			b.mu.RLock()
			closing := b.closing
			b.mu.RUnlock()
			if closing {
				return
			}
			b.log.Warn("ipc broker accept error", "err", err)
			return
		}
		peer := newBrokerPeer(conn, b.hwm, b.log)
		b.mu.Lock()
		b.peers[peer] = struct{}{}
		b.mu.Unlock()

		b.wg.Add(1)
		go b.servePeer(peer)
	}
}

func (b *Broker) servePeer(p *brokerPeer) {
	defer b.wg.Done()
	defer func() {
		b.mu.Lock()
		delete(b.peers, p)
		b.mu.Unlock()
		p.close()
	}()

	p.writerWG.Add(1)
	go p.writeLoop()

	reader := bufio.NewReader(p.conn)
	for {
		topic, payload, err := readFrame(reader)
		if err != nil {
			return
		}
		if topic == controlTopic {
			p.setSubscriptions(strings.Split(string(payload), ","))
			continue
		}
		b.broadcast(p, topic, payload)
	}
}

// broadcast forwards a published message from src to every other
// connected peer whose subscription prefixes match topic.
func (b *Broker) broadcast(src *brokerPeer, topic string, payload []byte) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for peer := range b.peers {
		if peer == src {
			continue
		}
		if !peer.matches(topic) {
			continue
		}
		peer.enqueue(Message{Topic: topic, Payload: payload, Received: time.Now()})
	}
}

// Close stops accepting new connections, gives in-flight peer writes
// lingerDuration to drain, then forcibly closes every connection.
func (b *Broker) Close() error {
	b.mu.Lock()
	b.closing = true
	peers := make([]*brokerPeer, 0, len(b.peers))
	for p := range b.peers {
		peers = append(peers, p)
	}
	b.mu.Unlock()

	err := b.ln.Close()

	for _, p := range peers {
		p.lingerClose(lingerDuration)
	}
	b.wg.Wait()
	return err
}

// brokerPeer tracks one connected connector from the broker's side:
// its subscription prefixes, an outbound send queue with HWM drop,
// and a drop counter.
type brokerPeer struct {
	conn net.Conn
	log  *slog.Logger

	mu       sync.RWMutex
	prefixes []string

	out      chan Message
	drops    atomic.Uint64
	writerWG sync.WaitGroup
	closed   atomic.Bool
}

func newBrokerPeer(conn net.Conn, hwm int, log *slog.Logger) *brokerPeer {
	if hwm <= 0 {
		hwm = 1000
	}
	return &brokerPeer{
		conn: conn,
		log:  log,
		out:  make(chan Message, hwm),
	}
}

// setSubscriptions replaces the peer's subscription prefix set. A
// prefix of "" is kept, not stripped: strings.HasPrefix(topic, "") is
// always true, so an explicit Subscribe("") (the orchestrator's
// "every upstream topic" subscription) matches every topic rather
// than ending up with an empty, match-nothing prefix list.
func (p *brokerPeer) setSubscriptions(prefixes []string) {
	p.mu.Lock()
	p.prefixes = prefixes
	p.mu.Unlock()
}

func (p *brokerPeer) matches(topic string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return prefixesMatch(p.prefixes, topic)
}

// prefixesMatch reports whether topic starts with any prefix in
// prefixes. Shared between the broker's per-peer filtering and the
// client's per-subscription filtering so both sides agree on what
// Subscribe("") means.
func prefixesMatch(prefixes []string, topic string) bool {
	for _, pr := range prefixes {
		if strings.HasPrefix(topic, pr) {
			return true
		}
	}
	return false
}

// enqueue adds msg to the peer's outbound queue, dropping the oldest
// queued message to make room when the queue is at HWM (spec.md §4.1:
// "a subscriber slower than its high-water mark causes its inbound
// queue to drop oldest entries").
func (p *brokerPeer) enqueue(msg Message) {
	if p.closed.Load() {
		return
	}
	for {
		select {
		case p.out <- msg:
			return
		default:
		}
		select {
		case <-p.out:
			p.drops.Add(1)
		default:
			return
		}
	}
}

// DropCount returns the number of messages dropped for this peer due
// to a full outbound queue.
func (p *brokerPeer) DropCount() uint64 {
	return p.drops.Load()
}

func (p *brokerPeer) writeLoop() {
	defer p.writerWG.Done()
	for msg := range p.out {
		if err := writeFrame(p.conn, msg.Topic, msg.Payload); err != nil {
			return
		}
	}
}

func (p *brokerPeer) close() {
	if p.closed.CompareAndSwap(false, true) {
		close(p.out)
	}
	p.conn.Close()
}

func (p *brokerPeer) lingerClose(d time.Duration) {
	done := make(chan struct{})
	go func() {
		p.writerWG.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(d):
	}
	p.close()
}
