// Package relayermesh lets a cluster of relayer replicas gossip terminal
// request-record summaries to each other for observability and
// reconciliation. It never participates in
// admission decisions (those stay single-writer-per-record, see
// internal/relayer); it is purely a fan-out of already-decided outcomes,
// off by default.
//
// There is no chain to sync and no peer-discovery requirement beyond a
// configured bootstrap list, so the node is just a libp2p host joined to
// one GossipSub topic: no DHT, no mDNS, no extra protocols.
package relayermesh

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/libp2p/go-libp2p"
	pubsub "github.com/libp2p/go-libp2p-pubsub"
	"github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/sirupsen/logrus"
)

// Topic is the single gossip topic every relayer replica joins.
const Topic = "privacypool/relayer-mesh/v1"

// RecordSummary is the terminal-state snapshot gossiped after a relay
// request resolves, carrying only what's needed for cross-replica
// reconciliation, never the full request payload.
type RecordSummary struct {
	ID        string `json:"id"`
	Status    string `json:"status"` // store.StatusBroadcasted or store.StatusFailed
	TxHash    string `json:"txHash,omitempty"`
	Error     string `json:"error,omitempty"`
	Timestamp int64  `json:"timestampMs"`
}

// Config configures a Mesh node. Enabled defaults to false: a single
// relayer instance needs no mesh at all.
type Config struct {
	Enabled        bool
	ListenAddrs    []string
	BootstrapPeers []string
}

// DefaultConfig returns the mesh disabled, with one listener on all IPv4
// interfaces at a random TCP port for when it's turned on without further
// configuration.
func DefaultConfig() *Config {
	return &Config{
		Enabled:     false,
		ListenAddrs: []string{"/ip4/0.0.0.0/tcp/0"},
	}
}

// Mesh is one relayer replica's participation in the observability
// gossip, wrapping a libp2p host and its single GossipSub topic.
type Mesh struct {
	mu     sync.Mutex
	host   host.Host
	pubsub *pubsub.PubSub
	topic  *pubsub.Topic
	sub    *pubsub.Subscription
	log    *logrus.Logger
	cancel context.CancelFunc
}

// New brings up a libp2p host, joins Topic, and connects to every
// configured bootstrap peer (best-effort: unreachable peers warn, they
// never fail startup).
func New(ctx context.Context, cfg *Config, log *logrus.Logger) (*Mesh, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if log == nil {
		log = logrus.StandardLogger()
	}

	meshCtx, cancel := context.WithCancel(ctx)

	privKey, _, err := crypto.GenerateKeyPairWithReader(crypto.Ed25519, -1, rand.Reader)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("relayermesh: generate identity: %w", err)
	}

	h, err := libp2p.New(
		libp2p.Identity(privKey),
		libp2p.ListenAddrStrings(cfg.ListenAddrs...),
	)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("relayermesh: create host: %w", err)
	}

	ps, err := pubsub.NewGossipSub(meshCtx, h)
	if err != nil {
		h.Close()
		cancel()
		return nil, fmt.Errorf("relayermesh: create gossipsub: %w", err)
	}

	topic, err := ps.Join(Topic)
	if err != nil {
		h.Close()
		cancel()
		return nil, fmt.Errorf("relayermesh: join topic: %w", err)
	}
	sub, err := topic.Subscribe()
	if err != nil {
		h.Close()
		cancel()
		return nil, fmt.Errorf("relayermesh: subscribe: %w", err)
	}

	m := &Mesh{host: h, pubsub: ps, topic: topic, sub: sub, log: log, cancel: cancel}

	for _, addr := range cfg.BootstrapPeers {
		if err := m.connectPeer(meshCtx, addr); err != nil {
			log.WithError(err).WithField("peer", addr).Warn("relayermesh: bootstrap peer unreachable")
		}
	}

	return m, nil
}

func (m *Mesh) connectPeer(ctx context.Context, addr string) error {
	info, err := peer.AddrInfoFromString(addr)
	if err != nil {
		return fmt.Errorf("parse multiaddr: %w", err)
	}
	return m.host.Connect(ctx, *info)
}

// Publish gossips a terminal record summary to every peer subscribed to
// Topic. Best-effort: a publish failure is returned to the caller, who is
// expected to log and continue; gossip failures never affect the
// record's already-persisted terminal state.
func (m *Mesh) Publish(ctx context.Context, summary RecordSummary) error {
	payload, err := json.Marshal(summary)
	if err != nil {
		return fmt.Errorf("relayermesh: marshal summary: %w", err)
	}
	m.mu.Lock()
	topic := m.topic
	m.mu.Unlock()
	if err := topic.Publish(ctx, payload); err != nil {
		return fmt.Errorf("relayermesh: publish: %w", err)
	}
	return nil
}

// Listen runs until ctx is canceled, invoking onSummary for every
// well-formed RecordSummary received from a peer (GossipSub also delivers
// this node's own publishes locally; those are skipped). Malformed
// payloads are logged and skipped rather than terminating the loop.
func (m *Mesh) Listen(ctx context.Context, onSummary func(RecordSummary)) {
	for {
		msg, err := m.sub.Next(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			m.log.WithError(err).Warn("relayermesh: subscription read failed")
			continue
		}
		if msg.ReceivedFrom == m.host.ID() {
			continue
		}
		var summary RecordSummary
		if err := json.Unmarshal(msg.Data, &summary); err != nil {
			m.log.WithError(err).Warn("relayermesh: dropping malformed gossip message")
			continue
		}
		onSummary(summary)
	}
}

// Close tears down the subscription, topic, and host.
func (m *Mesh) Close() error {
	m.cancel()
	m.sub.Cancel()
	if err := m.topic.Close(); err != nil {
		return fmt.Errorf("relayermesh: close topic: %w", err)
	}
	return m.host.Close()
}

// PeerCount reports the number of peers currently connected to this
// node's host, for a /relayer/details-style observability surface.
func (m *Mesh) PeerCount() int {
	return len(m.host.Network().Peers())
}
