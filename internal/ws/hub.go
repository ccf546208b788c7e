package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"mindcare-realtime/internal/observability"
)

// Target is one receiver registered in a group, normally a websocket session.
type Target interface {
	ID() string
	// UserID is the authenticated user behind the receiver.
	UserID() int64
	// Deliver queues payload for the receiver. It returns false when the
	// receiver is gone or did not accept the payload within timeout.
	Deliver(payload []byte, timeout time.Duration) bool
	// Close ends the receiver with a close code and reason.
	Close(code int, reason string)
}

// Bridge relays broadcasts and evictions to the other instances of the service.
type Bridge interface {
	Publish(ctx context.Context, group string, payload []byte) error
	PublishEviction(ctx context.Context, group string, userID int64, code int, reason string) error
}

// ConversationGroup names the broadcast group of a conversation.
func ConversationGroup(conversationID int64) string {
	return fmt.Sprintf("conversation:%d", conversationID)
}

// NotificationGroup names the per-user notification group.
func NotificationGroup(userID int64) string {
	return fmt.Sprintf("user:%d:notifications", userID)
}

// ParseConversationGroup returns the conversation id named by group.
func ParseConversationGroup(group string) (int64, bool) {
	raw, ok := strings.CutPrefix(group, "conversation:")
	if !ok {
		return 0, false
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

const sendStripes = 64

// Hub maintains broadcast groups and fans events out to their members.
type Hub struct {
	mu          sync.RWMutex
	groups      map[string]map[string]Target
	memberships map[string]map[string]struct{}

	// sendLocks serialize sends per group so every member sees one order.
	sendLocks [sendStripes]sync.Mutex

	sendTimeout time.Duration
	bridge      Bridge
	log         *zap.Logger
}

// NewHub creates an empty hub.
func NewHub(sendTimeout time.Duration, log *zap.Logger) *Hub {
	if sendTimeout <= 0 {
		sendTimeout = 2 * time.Second
	}
	return &Hub{
		groups:      make(map[string]map[string]Target),
		memberships: make(map[string]map[string]struct{}),
		sendTimeout: sendTimeout,
		log:         log,
	}
}

// SetBridge enables cross-instance fan-out. Call before serving traffic.
func (h *Hub) SetBridge(b Bridge) {
	h.bridge = b
}

// Join registers target in group. Joining twice is harmless.
func (h *Hub) Join(group string, target Target) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.groups[group]; !ok {
		h.groups[group] = make(map[string]Target)
	}
	h.groups[group][target.ID()] = target
	if _, ok := h.memberships[target.ID()]; !ok {
		h.memberships[target.ID()] = make(map[string]struct{})
	}
	h.memberships[target.ID()][group] = struct{}{}
}

// Leave removes target from group. Unknown groups and targets are ignored.
func (h *Hub) Leave(group string, target Target) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.leaveLocked(group, target.ID())
}

// LeaveAll removes target from every group it joined.
func (h *Hub) LeaveAll(target Target) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for group := range h.memberships[target.ID()] {
		h.leaveLocked(group, target.ID())
	}
}

func (h *Hub) leaveLocked(group, targetID string) {
	if targets, ok := h.groups[group]; ok {
		delete(targets, targetID)
		if len(targets) == 0 {
			delete(h.groups, group)
		}
	}
	if groups, ok := h.memberships[targetID]; ok {
		delete(groups, group)
		if len(groups) == 0 {
			delete(h.memberships, targetID)
		}
	}
}

// Members returns how many targets are in group.
func (h *Hub) Members(group string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.groups[group])
}

// Send marshals event once and delivers it to every member of group on this
// instance, then hands it to the bridge when one is set. It returns the
// number of local members that accepted the event. Individual delivery
// failures never fail the send.
func (h *Hub) Send(ctx context.Context, group string, event any) (int, error) {
	payload, err := json.Marshal(event)
	if err != nil {
		return 0, fmt.Errorf("marshal event for %s: %w", group, err)
	}

	delivered := h.deliverLocal(group, payload)

	if h.bridge != nil {
		if err := h.bridge.Publish(ctx, group, payload); err != nil {
			observability.IncPublishError("bridge")
			h.log.Warn("bridge publish failed", zap.String("group", group), zap.Error(err))
		}
	}
	return delivered, nil
}

// EvictUser removes every target of userID from group and closes it with
// code, on this instance and, through the bridge, on the others. Events sent
// to group after EvictUser returns never reach the evicted targets here.
func (h *Hub) EvictUser(ctx context.Context, group string, userID int64, code int, reason string) int {
	evicted := h.evictLocal(group, userID, code, reason)
	if h.bridge != nil {
		if err := h.bridge.PublishEviction(ctx, group, userID, code, reason); err != nil {
			observability.IncPublishError("bridge")
			h.log.Warn("bridge eviction publish failed", zap.String("group", group), zap.Int64("user_id", userID), zap.Error(err))
		}
	}
	return evicted
}

// EvictParticipant drops userID's sessions from a conversation after the
// user stopped being a participant.
func (h *Hub) EvictParticipant(ctx context.Context, conversationID int64, userID int64) int {
	return h.EvictUser(ctx, ConversationGroup(conversationID), userID, CloseNotParticipant, "not a participant")
}

func (h *Hub) evictLocal(group string, userID int64, code int, reason string) int {
	// Holding the group's send stripe keeps an in-flight fan-out from
	// reaching a target after it was evicted.
	lock := h.stripe(group)
	lock.Lock()
	defer lock.Unlock()

	h.mu.Lock()
	var evicted []Target
	for id, target := range h.groups[group] {
		if target.UserID() == userID {
			evicted = append(evicted, target)
			h.leaveLocked(group, id)
		}
	}
	h.mu.Unlock()

	for _, target := range evicted {
		target.Close(code, reason)
		h.log.Info("evicted target", zap.String("group", group), zap.String("target", target.ID()), zap.Int64("user_id", userID))
	}
	return len(evicted)
}

// deliverLocal pushes an encoded payload to this instance's members. Targets
// that fail are pruned from the group.
func (h *Hub) deliverLocal(group string, payload []byte) int {
	lock := h.stripe(group)
	lock.Lock()
	defer lock.Unlock()

	h.mu.RLock()
	targets := make([]Target, 0, len(h.groups[group]))
	for _, target := range h.groups[group] {
		targets = append(targets, target)
	}
	h.mu.RUnlock()
	if len(targets) == 0 {
		return 0
	}

	start := time.Now()
	ok := make([]bool, len(targets))
	var wg sync.WaitGroup
	for i, target := range targets {
		wg.Add(1)
		go func(i int, target Target) {
			defer wg.Done()
			ok[i] = target.Deliver(payload, h.sendTimeout)
		}(i, target)
	}
	wg.Wait()

	delivered := 0
	for i, target := range targets {
		if ok[i] {
			delivered++
			continue
		}
		h.log.Info("pruning unresponsive target", zap.String("group", group), zap.String("target", target.ID()))
		h.Leave(group, target)
	}
	observability.ObserveFanout(delivered, len(targets)-delivered, time.Since(start))
	return delivered
}

func (h *Hub) stripe(group string) *sync.Mutex {
	hash := fnv.New32a()
	_, _ = hash.Write([]byte(group))
	return &h.sendLocks[hash.Sum32()%sendStripes]
}
