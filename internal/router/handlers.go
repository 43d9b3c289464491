package router

import (
	"context"
	"time"

	"github.com/google/uuid"

	"teamchat/internal/editlock"
	"teamchat/internal/websocket"
	"teamchat/pkg/types"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 200
)

// handleJoin authorizes the identity against the team/channel pair and makes
// it the connection's current fan-out context, replacing any previous one.
func (r *Router) handleJoin(ctx context.Context, conn *websocket.Connection, env *types.Envelope) error {
	if env.Team == "" {
		return ErrMissingTeam
	}
	if env.Channel == "" {
		return ErrMissingChannel
	}

	team, channel, err := r.store.FindTeamAndChannel(ctx, env.Team, env.Channel, conn.Identity())
	if err != nil {
		return err
	}

	conn.SetChannelContext(team, channel)

	return conn.WriteJSON(&types.AckEnvelope{
		Type:          types.MessageTypeJoin,
		CorrelationID: env.CorrelationID,
		OK:            true,
	})
}

// handleMessage sends a channel message. Membership is checked against the
// live store on every send, not against the cached join.
func (r *Router) handleMessage(ctx context.Context, conn *websocket.Connection, env *types.Envelope) error {
	teamName, channelName := env.Team, env.Channel
	if teamName == "" || channelName == "" {
		team, channel := conn.ChannelContext()
		if team == nil || channel == nil {
			return ErrNoChannelContext
		}
		teamName, channelName = team.Name, channel.Name
	}

	if err := types.ValidateContent(env.Content); err != nil {
		return err
	}

	team, channel, err := r.store.FindTeamAndChannel(ctx, teamName, channelName, conn.Identity())
	if err != nil {
		return err
	}

	msg := &types.ChatMessage{
		ID:        uuid.New().String(),
		ChannelID: channel.ID,
		FromUser:  conn.Username(),
		Content:   env.Content,
		Status:    types.MessageStatusSent,
		Timestamp: time.Now(),
	}
	if err := r.store.SendChannelMessage(ctx, msg); err != nil {
		return err
	}

	r.deliverToUsers(channel.Members, &types.MessageEnvelope{
		Type:          types.MessageTypeMessage,
		CorrelationID: env.CorrelationID,
		MessageID:     msg.ID,
		Team:          team.Name,
		Channel:       channel.Name,
		From:          msg.FromUser,
		Content:       msg.Content,
		Timestamp:     msg.Timestamp,
	})
	return nil
}

// handleDirectMessage sends to the two participants of a direct
// conversation and to no other connection.
func (r *Router) handleDirectMessage(ctx context.Context, conn *websocket.Connection, env *types.Envelope) error {
	if env.Team == "" {
		return ErrMissingTeam
	}
	if env.To == "" {
		return ErrMissingRecipient
	}
	if !types.IsValidUsername(env.To) {
		return types.ErrInvalidUsername
	}
	if err := types.ValidateContent(env.Content); err != nil {
		return err
	}

	convo, err := r.store.FindOrCreateDirectConversation(ctx, conn.Identity(), env.Team, env.To)
	if err != nil {
		return err
	}

	msg := &types.ChatMessage{
		ID:             uuid.New().String(),
		ConversationID: convo.ID,
		FromUser:       conn.Username(),
		Content:        env.Content,
		Status:         types.MessageStatusSent,
		Timestamp:      time.Now(),
	}
	if err := r.store.SendDirectMessage(ctx, msg); err != nil {
		return err
	}

	r.deliverToUsers(convo.Participants, &types.MessageEnvelope{
		Type:           types.MessageTypeDirectMessage,
		CorrelationID:  env.CorrelationID,
		MessageID:      msg.ID,
		ConversationID: convo.ID,
		From:           msg.FromUser,
		Content:        msg.Content,
		Timestamp:      msg.Timestamp,
	})
	return nil
}

// handleJoinDirectMessage resolves (or creates) the conversation with the
// peer and makes it the connection's current context.
func (r *Router) handleJoinDirectMessage(ctx context.Context, conn *websocket.Connection, env *types.Envelope) error {
	if env.Team == "" {
		return ErrMissingTeam
	}
	if env.To == "" {
		return ErrMissingRecipient
	}

	convo, err := r.store.FindOrCreateDirectConversation(ctx, conn.Identity(), env.Team, env.To)
	if err != nil {
		return err
	}

	conn.SetConversation(convo.ID)

	return conn.WriteJSON(&types.AckEnvelope{
		Type:          types.MessageTypeJoinDirectMessage,
		CorrelationID: env.CorrelationID,
		OK:            true,
	})
}

// handlePing answers an application-level ping. It also counts as a probe
// response for the health monitor.
func (r *Router) handlePing(_ context.Context, conn *websocket.Connection, env *types.Envelope) error {
	conn.MarkAlive()
	return conn.WriteJSON(&types.PongEnvelope{
		Type:          types.MessageTypePong,
		CorrelationID: env.CorrelationID,
		Timestamp:     time.Now(),
	})
}

// handleSubscribeOnlineStatus subscribes the connection to presence topics
// and replies with the current status of every requested user.
func (r *Router) handleSubscribeOnlineStatus(ctx context.Context, conn *websocket.Connection, env *types.Envelope) error {
	usernames := env.Usernames
	if len(usernames) == 0 {
		if env.Team == "" {
			return ErrMissingTeam
		}
		var err error
		usernames, err = r.presence.SubscribersOf(ctx, env.Team)
		if err != nil {
			return err
		}
	}

	conn.SubscribePresence(usernames)

	for _, record := range r.presence.StatusOf(usernames) {
		if err := conn.WriteJSON(&types.StatusUpdateEnvelope{
			Type:     types.MessageTypeStatusUpdate,
			Username: record.Username,
			Status:   record.Status,
			LastSeen: record.LastSeen,
		}); err != nil {
			return err
		}
	}
	return nil
}

// handleSetStatus applies an explicit presence override; the presence store
// broadcasts the change through the router's notify callback.
func (r *Router) handleSetStatus(_ context.Context, conn *websocket.Connection, env *types.Envelope) error {
	if err := r.presence.SetStatus(conn.Username(), env.Status); err != nil {
		return err
	}
	return conn.WriteJSON(&types.AckEnvelope{
		Type:          types.MessageTypeSetStatus,
		CorrelationID: env.CorrelationID,
		OK:            true,
		Status:        env.Status,
	})
}

// handleTyping fans a transient typing indicator out to the sender's current
// channel members or conversation peer. Never persisted, never echoed back.
func (r *Router) handleTyping(ctx context.Context, conn *websocket.Connection, env *types.Envelope) error {
	username := conn.Username()

	if convoID := conn.Conversation(); convoID != "" {
		convo, err := r.store.GetConversation(ctx, convoID)
		if err != nil {
			return err
		}
		r.fanoutExcludingSender(convo.Participants, &types.TypingEnvelope{
			Type:           types.MessageTypeTyping,
			ConversationID: convoID,
			Username:       username,
		}, conn)
		return nil
	}

	team, channel := conn.ChannelContext()
	if team == nil || channel == nil {
		return ErrNoChannelContext
	}
	r.fanoutExcludingSender(channel.Members, &types.TypingEnvelope{
		Type:     types.MessageTypeTyping,
		Team:     team.Name,
		Channel:  channel.Name,
		Username: username,
	}, conn)
	return nil
}

// handleMessageAck records a delivery-status transition and fans it out to
// the message's audience so senders see read receipts.
func (r *Router) handleMessageAck(ctx context.Context, conn *websocket.Connection, env *types.Envelope) error {
	if env.MessageID == "" {
		return ErrMissingMessageID
	}
	status := env.Status
	if status != types.MessageStatusDelivered && status != types.MessageStatusRead {
		return types.ErrInvalidStatus
	}

	if err := r.store.UpdateMessageStatus(ctx, env.MessageID, status); err != nil {
		return err
	}

	msg, err := r.store.GetMessage(ctx, env.MessageID)
	if err != nil {
		return err
	}

	audience, err := r.messageAudience(ctx, msg)
	if err != nil {
		return err
	}

	r.deliverToUsers(audience, &types.AckEnvelope{
		Type:          types.MessageTypeMessageAck,
		CorrelationID: env.CorrelationID,
		OK:            true,
		MessageID:     msg.ID,
		Status:        status,
	})
	return nil
}

// handleFetchHistory returns one page of persisted messages to the
// requesting connection only.
func (r *Router) handleFetchHistory(ctx context.Context, conn *websocket.Connection, env *types.Envelope) error {
	criteria := &types.HistoryCriteria{
		BeforeID: env.BeforeID,
		Limit:    env.Limit,
	}
	if criteria.Limit <= 0 {
		criteria.Limit = defaultHistoryLimit
	}
	if criteria.Limit > maxHistoryLimit {
		criteria.Limit = maxHistoryLimit
	}

	switch {
	case env.Team != "" && env.Channel != "":
		_, channel, err := r.store.FindTeamAndChannel(ctx, env.Team, env.Channel, conn.Identity())
		if err != nil {
			return err
		}
		criteria.ChannelID = channel.ID
	case conn.Conversation() != "":
		criteria.ConversationID = conn.Conversation()
	default:
		team, channel := conn.ChannelContext()
		if team == nil || channel == nil {
			return ErrNoChannelContext
		}
		criteria.ChannelID = channel.ID
	}

	messages, err := r.store.GetMessagesByCriteria(ctx, criteria)
	if err != nil {
		return err
	}

	return conn.WriteJSON(&types.HistoryResponseEnvelope{
		Type:          types.MessageTypeHistoryResponse,
		CorrelationID: env.CorrelationID,
		Messages:      messages,
		HasMore:       len(messages) == criteria.Limit,
	})
}

// handleRequestEditLock requests exclusive editing of a shared file
// resource. A conflict is a structured denial carrying the current holder,
// not a generic error.
func (r *Router) handleRequestEditLock(_ context.Context, conn *websocket.Connection, env *types.Envelope) error {
	if env.ResourceID == "" {
		return ErrMissingResource
	}
	if !types.IsValidResourceID(env.ResourceID) {
		return types.ErrInvalidResourceID
	}

	req := &editlock.Request{
		ResourceID:     env.ResourceID,
		Holder:         conn.Username(),
		FileName:       env.FileName,
		ConversationID: conn.Conversation(),
	}
	if team, channel := conn.ChannelContext(); team != nil && channel != nil {
		req.Team = team.Name
		req.Channel = channel.Name
	}

	result := r.locks.RequestLock(req)

	reply := &types.LockEnvelope{
		Type:          types.MessageTypeRequestEditLock,
		CorrelationID: env.CorrelationID,
		ResourceID:    env.ResourceID,
		Granted:       result.Granted,
		LockedBy:      result.Holder,
		AcquiredAt:    result.AcquiredAt,
	}
	return conn.WriteJSON(reply)
}

// handleReleaseEditLock releases a held lock; the ownership check lives in
// the lock manager. A failed release is an unsuccessful ack, not an error.
func (r *Router) handleReleaseEditLock(_ context.Context, conn *websocket.Connection, env *types.Envelope) error {
	if env.ResourceID == "" {
		return ErrMissingResource
	}

	released := r.locks.Release(env.ResourceID, conn.Username())

	return conn.WriteJSON(&types.AckEnvelope{
		Type:          types.MessageTypeReleaseEditLock,
		CorrelationID: env.CorrelationID,
		OK:            released,
	})
}

// handleUpdateFileContent persists new content for a shared file. Only the
// current lock holder may write; viewers get a fileEditHistory event.
func (r *Router) handleUpdateFileContent(ctx context.Context, conn *websocket.Connection, env *types.Envelope) error {
	if env.ResourceID == "" {
		return ErrMissingResource
	}
	if err := types.ValidateContent(env.FileContent); err != nil {
		return err
	}

	status := r.locks.IsLocked(env.ResourceID)
	if !status.Locked || status.Holder != conn.Username() {
		return ErrLockRequired
	}

	if err := r.files.SaveFile(ctx, env.FileName, []byte(env.FileContent)); err != nil {
		return err
	}

	edit := &types.FileEditEnvelope{
		Type:          types.MessageTypeFileEditHistory,
		CorrelationID: env.CorrelationID,
		ResourceID:    env.ResourceID,
		FileName:      env.FileName,
		EditedBy:      conn.Username(),
		Timestamp:     time.Now(),
	}

	if audience, err := r.lockAudience(ctx, r.lockRecordFor(conn, env)); err == nil && len(audience) > 0 {
		r.deliverToUsers(audience, edit)
	} else {
		// No shared context resolvable: at least confirm to the editor.
		if err := conn.WriteJSON(edit); err != nil {
			return err
		}
	}
	return nil
}

// lockRecordFor rebuilds the fan-out context of a file edit from the
// connection's current context.
func (r *Router) lockRecordFor(conn *websocket.Connection, env *types.Envelope) *editlock.Lock {
	lock := &editlock.Lock{
		ResourceID:     env.ResourceID,
		Holder:         conn.Username(),
		FileName:       env.FileName,
		ConversationID: conn.Conversation(),
	}
	if team, channel := conn.ChannelContext(); team != nil && channel != nil {
		lock.Team = team.Name
		lock.Channel = channel.Name
	}
	return lock
}

// messageAudience resolves who is entitled to events about a persisted
// message: its channel's members or its conversation's participants.
func (r *Router) messageAudience(ctx context.Context, msg *types.ChatMessage) ([]string, error) {
	if msg.ConversationID != "" {
		convo, err := r.store.GetConversation(ctx, msg.ConversationID)
		if err != nil {
			return nil, err
		}
		return convo.Participants, nil
	}
	if msg.ChannelID != "" {
		return r.store.ChannelMembersByID(ctx, msg.ChannelID)
	}
	return nil, nil
}

// fanoutExcludingSender delivers to every open connection of the usernames
// except the originating connection itself.
func (r *Router) fanoutExcludingSender(usernames []string, payload interface{}, sender *websocket.Connection) {
	skip := map[string]bool{sender.SessionID(): true}
	r.deliver(r.registry.ConnectionsForUsers(usernames), payload, skip)
}
