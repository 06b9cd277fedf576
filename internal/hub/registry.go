package hub

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"

	"github.com/garloon/meet-and-greet-server/internal/domain"
	"github.com/garloon/meet-and-greet-server/internal/metrics"
)

// --- Command types ---

type registryCmd interface{ isRegistryCmd() }

type baseRegistryCmd struct{}

func (baseRegistryCmd) isRegistryCmd() {}

type attachCmd struct {
	baseRegistryCmd
	connectionID string
	connection   *websocket.Conn
	errorChannel chan error
}

type detachCmd struct {
	baseRegistryCmd
	connectionID string
}

type joinGroupCmd struct {
	baseRegistryCmd
	connectionID string
	channelID    string
}

type leaveGroupCmd struct {
	baseRegistryCmd
	connectionID string
}

type sendCmd struct {
	baseRegistryCmd
	connectionID string
	data         []byte
}

type broadcastCmd struct {
	baseRegistryCmd
	channelID string
	data      []byte
}

type stopCmd struct {
	baseRegistryCmd
}

// Registry owns the local connection and broadcast-group maps. All state
// is confined to the run goroutine; callers interact through commands.
type Registry struct {
	cmdCh     chan registryCmd
	clock     clockwork.Clock
	writers   map[string]*clientWriter
	groups    map[string]map[string]struct{}
	channelOf map[string]string
	done      chan struct{}
}

func NewRegistry(clock clockwork.Clock) *Registry {
	r := &Registry{
		cmdCh:     make(chan registryCmd, 256),
		clock:     clock,
		writers:   make(map[string]*clientWriter),
		groups:    make(map[string]map[string]struct{}),
		channelOf: make(map[string]string),
		done:      make(chan struct{}),
	}
	go r.run()
	return r
}

// Attach registers a websocket connection under a connection id.
func (r *Registry) Attach(connectionID string, conn *websocket.Conn) error {
	errCh := make(chan error, 1)
	r.cmdCh <- attachCmd{connectionID: connectionID, connection: conn, errorChannel: errCh}
	return <-errCh
}

// Detach stops the writer and removes the connection from its group.
func (r *Registry) Detach(connectionID string) {
	r.cmdCh <- detachCmd{connectionID: connectionID}
}

func (r *Registry) JoinGroup(connectionID, channelID string) {
	r.cmdCh <- joinGroupCmd{connectionID: connectionID, channelID: channelID}
}

func (r *Registry) LeaveGroup(connectionID string) {
	r.cmdCh <- leaveGroupCmd{connectionID: connectionID}
}

// Send pushes an event to a single connection.
func (r *Registry) Send(connectionID string, event domain.Event) {
	data, err := json.Marshal(event)
	if err != nil {
		slog.Error("Failed to marshal event", "type", event.Type, "error", err)
		return
	}
	r.cmdCh <- sendCmd{connectionID: connectionID, data: data}
}

// Broadcast pushes an event to every local subscriber of a channel.
func (r *Registry) Broadcast(channelID string, event domain.Event) {
	data, err := json.Marshal(event)
	if err != nil {
		slog.Error("Failed to marshal event", "type", event.Type, "error", err)
		return
	}
	r.cmdCh <- broadcastCmd{channelID: channelID, data: data}
}

// Stop closes all client connections and exits the run loop.
func (r *Registry) Stop() {
	r.cmdCh <- stopCmd{}
	<-r.done
}

func (r *Registry) run() {
	defer close(r.done)

	for cmd := range r.cmdCh {
		switch c := cmd.(type) {
		case attachCmd:
			r.handleAttach(c)
		case detachCmd:
			r.handleDetach(c.connectionID)
		case joinGroupCmd:
			r.handleJoinGroup(c)
		case leaveGroupCmd:
			r.removeFromGroup(c.connectionID)
		case sendCmd:
			r.handleSend(c)
		case broadcastCmd:
			r.handleBroadcast(c)
		case stopCmd:
			r.handleStop()
			return
		default:
			slog.Warn("Registry received unknown command type", "command_type", fmt.Sprintf("%T", cmd))
		}
	}
}

func (r *Registry) handleAttach(c attachCmd) {
	if _, exists := r.writers[c.connectionID]; exists {
		c.errorChannel <- fmt.Errorf("connection %s already attached", c.connectionID)
		return
	}

	r.writers[c.connectionID] = newClientWriter(c.connection, r.clock)
	metrics.ConnectedClients.Set(float64(len(r.writers)))
	slog.Debug("Client attached", "connection_id", c.connectionID, "total_clients", len(r.writers))
	c.errorChannel <- nil
}

func (r *Registry) handleDetach(connectionID string) {
	cw, exists := r.writers[connectionID]
	if !exists {
		return
	}

	r.removeFromGroup(connectionID)
	cw.stop()
	delete(r.writers, connectionID)
	metrics.ConnectedClients.Set(float64(len(r.writers)))
	slog.Debug("Client detached", "connection_id", connectionID, "remaining_clients", len(r.writers))
}

func (r *Registry) handleJoinGroup(c joinGroupCmd) {
	if _, exists := r.writers[c.connectionID]; !exists {
		return
	}

	r.removeFromGroup(c.connectionID)

	group, exists := r.groups[c.channelID]
	if !exists {
		group = make(map[string]struct{})
		r.groups[c.channelID] = group
	}
	group[c.connectionID] = struct{}{}
	r.channelOf[c.connectionID] = c.channelID
	metrics.ActiveChannels.Set(float64(len(r.groups)))
}

func (r *Registry) removeFromGroup(connectionID string) {
	channelID, exists := r.channelOf[connectionID]
	if !exists {
		return
	}

	delete(r.channelOf, connectionID)
	group, exists := r.groups[channelID]
	if !exists {
		return
	}
	delete(group, connectionID)
	if len(group) == 0 {
		delete(r.groups, channelID)
	}
	metrics.ActiveChannels.Set(float64(len(r.groups)))
}

func (r *Registry) handleSend(c sendCmd) {
	cw, exists := r.writers[c.connectionID]
	if !exists {
		return
	}
	select {
	case cw.sendChannel <- c.data:
	default:
		r.evictSlow(c.connectionID)
	}
}

func (r *Registry) handleBroadcast(c broadcastCmd) {
	group, exists := r.groups[c.channelID]
	if !exists {
		return
	}

	var slow []string
	for connectionID := range group {
		cw, ok := r.writers[connectionID]
		if !ok {
			continue
		}
		select {
		case cw.sendChannel <- c.data:
		default:
			slow = append(slow, connectionID)
		}
	}

	for _, connectionID := range slow {
		r.evictSlow(connectionID)
	}
}

func (r *Registry) evictSlow(connectionID string) {
	slog.Warn("Disconnecting slow client", "connection_id", connectionID)
	metrics.SlowClientsEvicted.Inc()
	r.handleDetach(connectionID)
}

func (r *Registry) handleStop() {
	total := len(r.writers)
	for connectionID, cw := range r.writers {
		cw.stopGraceful("Server shutting down")
		delete(r.writers, connectionID)
	}
	r.groups = make(map[string]map[string]struct{})
	r.channelOf = make(map[string]string)
	metrics.ConnectedClients.Set(0)
	metrics.ActiveChannels.Set(0)
	slog.Info("Registry shutdown complete", "disconnected_clients", total)
}
