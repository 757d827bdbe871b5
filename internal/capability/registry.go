// Package capability advertises which backends a reader node runs and keeps
// track of the other readers on the same bus.
package capability

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/loqalabs/loqa-reader/internal/bus"
	"github.com/loqalabs/loqa-reader/internal/config"
	"github.com/loqalabs/loqa-reader/internal/protocol"
	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

// NodeInfo is the last known state of a reader node.
type NodeInfo struct {
	ID           string
	Capabilities []protocol.Capability
	LastSeen     time.Time
	Healthy      bool
}

const sweepInterval = time.Second

type Registry struct {
	cfg  config.NodeConfig
	caps []protocol.Capability
	log  *slog.Logger
	bus  *bus.Client

	mu    sync.RWMutex
	nodes map[string]*NodeInfo

	cancel context.CancelFunc
	wg     sync.WaitGroup
	subs   []*nats.Subscription
	reg    metric.Registration
}

// FromConfig lists the backends selected in cfg.
func FromConfig(cfg config.Config) []protocol.Capability {
	return []protocol.Capability{
		{Name: "tts." + cfg.TTS.Mode, Attributes: map[string]string{"voice": cfg.TTS.Voice}},
		{Name: "stt." + cfg.STT.Mode, Attributes: map[string]string{"language": cfg.STT.Language}},
		{Name: "llm." + cfg.LLM.Mode, Attributes: map[string]string{"model": cfg.LLM.Model}},
		{Name: "ocr." + cfg.OCR.Mode, Attributes: map[string]string{"model": cfg.OCR.Model}},
		{Name: "audio." + cfg.Audio.Sink},
	}
}

// NewRegistry subscribes to peer presence, announces caps and starts the
// heartbeat. Close stops it.
func NewRegistry(ctx context.Context, cfg config.NodeConfig, caps []protocol.Capability, busClient *bus.Client, log *slog.Logger) (*Registry, error) {
	ctx, cancel := context.WithCancel(ctx)
	r := &Registry{
		cfg:    cfg,
		caps:   caps,
		log:    log.With(slog.String("component", "capability-registry"), slog.String("node_id", cfg.ID)),
		bus:    busClient,
		nodes:  make(map[string]*NodeInfo),
		cancel: cancel,
	}
	if err := r.initMetrics(); err != nil {
		r.log.Warn("failed to initialize metrics", slogError(err))
	}

	subjects := map[string]nats.MsgHandler{
		protocol.SubjectNodeAnnounce:         r.handleAnnounce,
		protocol.SubjectNodeHeartbeat + ".*": r.handleHeartbeat,
	}
	for subject, handler := range subjects {
		sub, err := r.bus.Subscribe(subject, handler)
		if err != nil {
			r.Close()
			return nil, fmt.Errorf("subscribe %s: %w", subject, err)
		}
		r.subs = append(r.subs, sub)
	}

	if err := r.announce(); err != nil {
		r.log.Warn("failed to announce node", slogError(err))
	}
	r.wg.Add(1)
	go r.run(ctx)
	return r, nil
}

func (r *Registry) Close() {
	r.cancel()
	r.wg.Wait()
	for _, sub := range r.subs {
		_ = sub.Unsubscribe()
	}
	if r.reg != nil {
		_ = r.reg.Unregister()
	}
}

// run publishes heartbeats and sweeps silent peers until ctx ends.
func (r *Registry) run(ctx context.Context) {
	defer r.wg.Done()
	beat := time.NewTicker(time.Duration(r.cfg.HeartbeatInterval) * time.Millisecond)
	defer beat.Stop()
	sweep := time.NewTicker(sweepInterval)
	defer sweep.Stop()

	subject := protocol.SubjectNodeHeartbeat + "." + r.cfg.ID
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-beat.C:
			if err := r.bus.PublishJSON(subject, protocol.NodeHeartbeat{NodeID: r.cfg.ID, Timestamp: now.UTC()}); err != nil {
				r.log.Warn("failed to publish heartbeat", slogError(err))
			}
		case now := <-sweep.C:
			r.evaluateHealth(now)
		}
	}
}

func (r *Registry) announce() error {
	now := time.Now().UTC()
	if err := r.bus.PublishJSON(protocol.SubjectNodeAnnounce, protocol.NodeAnnounce{
		NodeID:       r.cfg.ID,
		Capabilities: r.caps,
		Timestamp:    now,
	}); err != nil {
		return err
	}
	r.updateNode(r.cfg.ID, r.caps, now)
	return nil
}

func (r *Registry) handleAnnounce(msg *nats.Msg) {
	var a protocol.NodeAnnounce
	if !r.decode(msg, &a) || a.NodeID == "" {
		return
	}
	r.updateNode(a.NodeID, a.Capabilities, stamp(a.Timestamp))
}

func (r *Registry) handleHeartbeat(msg *nats.Msg) {
	var hb protocol.NodeHeartbeat
	if !r.decode(msg, &hb) || hb.NodeID == "" {
		return
	}
	r.updateNode(hb.NodeID, nil, stamp(hb.Timestamp))
}

func (r *Registry) decode(msg *nats.Msg, v any) bool {
	if err := json.Unmarshal(msg.Data, v); err != nil {
		r.log.Warn("dropping malformed presence message", slog.String("subject", msg.Subject), slogError(err))
		return false
	}
	return true
}

func stamp(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t
}

func (r *Registry) updateNode(nodeID string, caps []protocol.Capability, seen time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()

	node, ok := r.nodes[nodeID]
	if !ok {
		node = &NodeInfo{ID: nodeID}
		r.nodes[nodeID] = node
		if nodeID != r.cfg.ID {
			r.log.Info("peer reader discovered", slog.String("peer", nodeID))
		}
	}
	if len(caps) > 0 {
		node.Capabilities = caps
	}
	node.LastSeen = seen
	node.Healthy = true
}

func (r *Registry) evaluateHealth(now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()

	timeout := time.Duration(r.cfg.HeartbeatTimeout) * time.Millisecond
	for _, node := range r.nodes {
		if node.ID == r.cfg.ID {
			// Self is judged by the bus connection in Healthy.
			continue
		}
		if node.Healthy && now.Sub(node.LastSeen) > timeout {
			node.Healthy = false
			r.log.Info("peer reader lost", slog.String("peer", node.ID))
		}
	}
}

// Healthy reports whether this node's own announcement made it through the
// bus.
func (r *Registry) Healthy() bool {
	if r == nil {
		return true
	}
	if !r.bus.Healthy() {
		return false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	node, ok := r.nodes[r.cfg.ID]
	return ok && node.Healthy
}

// Nodes returns known nodes sorted by id, filtered by filter when non-nil.
func (r *Registry) Nodes(filter func(NodeInfo) bool) []NodeInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var results []NodeInfo
	for _, node := range r.nodes {
		n := *node
		n.Capabilities = append([]protocol.Capability(nil), node.Capabilities...)
		if filter == nil || filter(n) {
			results = append(results, n)
		}
	}
	sort.Slice(results, func(i, j int) bool { return results[i].ID < results[j].ID })
	return results
}

// WithCapability matches nodes offering the named backend.
func WithCapability(name string) func(NodeInfo) bool {
	return func(node NodeInfo) bool {
		for _, c := range node.Capabilities {
			if c.Name == name {
				return true
			}
		}
		return false
	}
}

func (r *Registry) initMetrics() error {
	meter := otel.Meter("github.com/loqalabs/loqa-reader/internal/capability")
	nodes, err := meter.Int64ObservableGauge("reader.nodes.healthy", metric.WithDescription("Reader nodes with a recent heartbeat"))
	if err != nil {
		return err
	}
	r.reg, err = meter.RegisterCallback(func(_ context.Context, obs metric.Observer) error {
		obs.ObserveInt64(nodes, int64(len(r.Nodes(func(n NodeInfo) bool { return n.Healthy }))))
		return nil
	}, nodes)
	return err
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
