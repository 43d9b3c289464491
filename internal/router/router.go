// Package router dispatches decoded inbound envelopes to typed handlers and
// fans results out to the precise audience entitled to see them. The
// dispatch boundary is the isolation point: a failing or panicking handler
// costs its sender one error envelope and nothing else.
package router

import (
	"context"
	"errors"
	"log"
	"time"

	"teamchat/internal/editlock"
	"teamchat/internal/observability"
	"teamchat/internal/presence"
	"teamchat/internal/ratelimit"
	"teamchat/internal/websocket"
	"teamchat/pkg/interfaces"
	"teamchat/pkg/types"
)

// handlerFunc is the shape of every message handler: authorize against the
// target resource, act through collaborators, fan out the result.
type handlerFunc func(ctx context.Context, conn *websocket.Connection, env *types.Envelope) error

// Router owns the static type-tag → handler mapping.
type Router struct {
	registry *websocket.Registry
	verifier interfaces.TokenVerifier
	store    interfaces.ChatStore
	files    interfaces.FileStore
	presence *presence.Store
	locks    *editlock.Manager
	limiter  *ratelimit.Limiter
	metrics  *observability.Metrics

	opTimeout time.Duration

	handlers map[string]handlerFunc
}

// NewRouter builds the router and its handler table. Collaborators are
// injected so tests can swap them for stubs.
func NewRouter(
	registry *websocket.Registry,
	verifier interfaces.TokenVerifier,
	store interfaces.ChatStore,
	files interfaces.FileStore,
	presenceStore *presence.Store,
	locks *editlock.Manager,
	limiter *ratelimit.Limiter,
	metrics *observability.Metrics,
) *Router {
	r := &Router{
		registry:  registry,
		verifier:  verifier,
		store:     store,
		files:     files,
		presence:  presenceStore,
		locks:     locks,
		limiter:   limiter,
		metrics:   metrics,
		opTimeout: 30 * time.Second,
	}

	r.handlers = map[string]handlerFunc{
		types.MessageTypeJoin:                  r.handleJoin,
		types.MessageTypeMessage:               r.handleMessage,
		types.MessageTypeDirectMessage:         r.handleDirectMessage,
		types.MessageTypeJoinDirectMessage:     r.handleJoinDirectMessage,
		types.MessageTypePing:                  r.handlePing,
		types.MessageTypeSubscribeOnlineStatus: r.handleSubscribeOnlineStatus,
		types.MessageTypeSetStatus:             r.handleSetStatus,
		types.MessageTypeTyping:                r.handleTyping,
		types.MessageTypeMessageAck:            r.handleMessageAck,
		types.MessageTypeFetchHistory:          r.handleFetchHistory,
		types.MessageTypeRequestEditLock:       r.handleRequestEditLock,
		types.MessageTypeReleaseEditLock:       r.handleReleaseEditLock,
		types.MessageTypeUpdateFileContent:     r.handleUpdateFileContent,
	}

	return r
}

// Dispatch routes one inbound frame. Called synchronously from the
// connection's read loop, so a connection's frames are processed in arrival
// order.
func (r *Router) Dispatch(conn *websocket.Connection, frame []byte) {
	identity := conn.Identity()
	if identity == nil {
		_ = conn.CloseWithCode(websocket.CloseCodeUnauthorized, "not authenticated")
		return
	}

	// Credentials are re-verified on every frame so a revoked or expired
	// token stops working on the next message, not at reconnect.
	if _, err := r.verifier.VerifyToken(conn.Token()); err != nil {
		r.sendError(conn, "", types.ErrCodeUnauthorized, "credentials no longer valid")
		_ = conn.CloseWithCode(websocket.CloseCodeUnauthorized, "unauthorized: invalid or expired token")
		return
	}

	// Rate limit before decoding: a blocked identity costs no parsing and
	// causes no side effects.
	if !r.limiter.IsAllowed(identity.Username) {
		r.metrics.RateLimited()
		r.sendError(conn, "", types.ErrCodeRateLimited, ErrRateLimitExceeded.Error()+", message dropped")
		return
	}

	env, err := types.DecodeEnvelope(frame)
	if err != nil {
		r.sendError(conn, "", types.ErrCodeInvalidFrame, err.Error())
		return
	}

	r.metrics.InboundMessage(env.Type)

	handler, ok := r.handlers[env.Type]
	if !ok {
		r.sendError(conn, env.CorrelationID, types.ErrCodeUnknownType, ErrUnknownMessageType.Error()+": "+env.Type)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), r.opTimeout)
	defer cancel()

	defer func() {
		if rec := recover(); rec != nil {
			log.Printf("Handler panic: type=%s user=%s panic=%v", env.Type, identity.Username, rec)
			r.sendError(conn, env.CorrelationID, types.ErrCodeInternal, "internal error")
		}
	}()

	if err := handler(ctx, conn, env); err != nil {
		r.replyError(conn, env, err)
	}
}

// replyError converts a handler error into exactly one error envelope for
// the originating connection. Internal detail never reaches the client.
func (r *Router) replyError(conn *websocket.Connection, env *types.Envelope, err error) {
	var code, message string

	switch {
	case errors.Is(err, interfaces.ErrNotMember), errors.Is(err, ErrNotAuthorized):
		code, message = types.ErrCodeForbidden, err.Error()
	case errors.Is(err, interfaces.ErrNotFound):
		code, message = types.ErrCodeNotFound, err.Error()
	case errors.Is(err, interfaces.ErrInvalidToken), errors.Is(err, interfaces.ErrTokenExpired):
		code, message = types.ErrCodeUnauthorized, "unauthorized"
	case isValidationError(err):
		code, message = types.ErrCodeInvalidFrame, err.Error()
	default:
		log.Printf("Handler failed: type=%s user=%s err=%v", env.Type, conn.Username(), err)
		code, message = types.ErrCodeInternal, "internal error"
	}

	r.sendError(conn, env.CorrelationID, code, message)
}

func isValidationError(err error) bool {
	for _, v := range []error{
		types.ErrInvalidUsername,
		types.ErrInvalidStatus,
		types.ErrContentTooLarge,
		types.ErrEmptyContent,
		types.ErrInvalidResourceID,
		ErrMissingTeam,
		ErrMissingChannel,
		ErrMissingRecipient,
		ErrMissingMessageID,
		ErrMissingResource,
		ErrNoChannelContext,
	} {
		if errors.Is(err, v) {
			return true
		}
	}
	return false
}

func (r *Router) sendError(conn *websocket.Connection, correlationID, code, message string) {
	r.metrics.HandlerError(code)
	if err := conn.WriteJSON(types.NewErrorEnvelope(correlationID, code, message)); err != nil {
		log.Printf("Failed to send error envelope: session=%s err=%v", conn.SessionID(), err)
	}
}

// deliver fans one payload out to a set of connections, excluding any
// session in skip. Individual delivery failures are logged and do not stop
// the remaining recipients: fan-out makes no atomicity guarantee.
func (r *Router) deliver(conns []*websocket.Connection, payload interface{}, skip map[string]bool) {
	delivered := 0
	for _, c := range conns {
		if skip != nil && skip[c.SessionID()] {
			continue
		}
		if err := c.WriteJSON(payload); err != nil {
			log.Printf("Fan-out delivery failed: session=%s err=%v", c.SessionID(), err)
			continue
		}
		delivered++
	}
	r.metrics.FanoutDelivered(delivered)
}

// deliverToUsers fans a payload out to every open connection of the given
// usernames.
func (r *Router) deliverToUsers(usernames []string, payload interface{}) {
	r.deliver(r.registry.ConnectionsForUsers(usernames), payload, nil)
}

// BroadcastPresence pushes a committed presence change to every open
// connection of the changed user's team co-members, plus any connection that
// explicitly subscribed to the user's presence topic. Wired as the presence
// store's notify callback.
func (r *Router) BroadcastPresence(record *types.PresenceRecord) {
	r.metrics.PresenceTransition(record.Status)

	ctx, cancel := context.WithTimeout(context.Background(), r.opTimeout)
	defer cancel()

	audience := make(map[string]bool)
	teams, err := r.store.TeamsOf(ctx, record.Username)
	if err != nil {
		// Explicit subscribers still get the update below.
		log.Printf("Presence broadcast lookup failed: user=%s err=%v", record.Username, err)
	}
	for _, team := range teams {
		members, err := r.store.MembersOf(ctx, team)
		if err != nil {
			log.Printf("Presence broadcast member lookup failed: team=%s err=%v", team, err)
			continue
		}
		for _, m := range members {
			audience[m] = true
		}
	}
	delete(audience, record.Username)

	payload := &types.StatusUpdateEnvelope{
		Type:     types.MessageTypeStatusUpdate,
		Username: record.Username,
		Status:   record.Status,
		LastSeen: record.LastSeen,
	}

	delivered := 0
	r.registry.ForEachOpen(func(conn *websocket.Connection) bool {
		username := conn.Username()
		if username == record.Username {
			return false
		}
		return audience[username] || conn.SubscribedTo(record.Username)
	}, func(conn *websocket.Connection) {
		if err := conn.WriteJSON(payload); err != nil {
			log.Printf("Fan-out delivery failed: session=%s err=%v", conn.SessionID(), err)
			return
		}
		delivered++
	})
	r.metrics.FanoutDelivered(delivered)
}

// NotifyLock fans a lock state change out to the peers currently entitled to
// view the resource, derived from channel or conversation membership. Wired
// as the edit-lock manager's notifier, so TTL expiry and disconnect release
// produce the same notification as an explicit release.
func (r *Router) NotifyLock(lock *editlock.Lock, event string) {
	r.metrics.LockEvent(event)

	ctx, cancel := context.WithTimeout(context.Background(), r.opTimeout)
	defer cancel()

	audience, err := r.lockAudience(ctx, lock)
	if err != nil {
		log.Printf("Lock notification audience lookup failed: resource=%s err=%v", lock.ResourceID, err)
		return
	}

	envType := types.MessageTypeRequestEditLock
	if event != types.LockEventGranted {
		envType = types.MessageTypeReleaseEditLock
	}

	payload := &types.LockEnvelope{
		Type:       envType,
		ResourceID: lock.ResourceID,
		Event:      event,
		Granted:    event == types.LockEventGranted,
	}
	if event == types.LockEventGranted {
		payload.LockedBy = lock.Holder
		payload.AcquiredAt = lock.AcquiredAt
	}

	r.deliverToUsers(audience, payload)
}

func (r *Router) lockAudience(ctx context.Context, lock *editlock.Lock) ([]string, error) {
	if lock.ConversationID != "" {
		convo, err := r.store.GetConversation(ctx, lock.ConversationID)
		if err != nil {
			return nil, err
		}
		return convo.Participants, nil
	}
	if lock.Team != "" && lock.Channel != "" {
		return r.store.ChannelMembers(ctx, lock.Team, lock.Channel)
	}
	return nil, nil
}
