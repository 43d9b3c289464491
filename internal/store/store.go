// Package store implements the persistence collaborator on SQLite. Reads run
// concurrently through the pool; writes are serialized through a single
// writer goroutine, which keeps SQLite out of lock contention under fan-in.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"teamchat/pkg/interfaces"
	"teamchat/pkg/types"
)

const (
	writeQueueSize  = 100
	writeTimeout    = 30 * time.Second
	writeRetryDelay = 5 * time.Second
)

// Store implements interfaces.ChatStore on SQLite.
type Store struct {
	db *sql.DB

	writeCh  chan writeOp
	shutdown chan struct{}
	wg       sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

type writeOp struct {
	operation func(*sql.DB) error
	result    chan error
}

// Open opens (and creates, if needed) the database at path and applies the
// schema.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetConnMaxLifetime(time.Hour)

	if err := applySchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &Store{
		db:       db,
		writeCh:  make(chan writeOp, writeQueueSize),
		shutdown: make(chan struct{}),
	}

	s.wg.Add(1)
	go s.writeLoop()

	return s, nil
}

// writeLoop is the single writer. A failed write is retried exactly once.
func (s *Store) writeLoop() {
	defer s.wg.Done()

	for {
		select {
		case op := <-s.writeCh:
			err := op.operation(s.db)
			if err != nil {
				log.Printf("Database write failed, retrying: %v", err)
				time.Sleep(writeRetryDelay)
				err = op.operation(s.db)
				if err != nil {
					log.Printf("Database write failed after retry: %v", err)
				}
			}
			op.result <- err

		case <-s.shutdown:
			return
		}
	}
}

func (s *Store) executeWrite(operation func(*sql.DB) error) error {
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return ErrStoreClosed
	}
	s.mu.RUnlock()

	result := make(chan error, 1)
	select {
	case s.writeCh <- writeOp{operation: operation, result: result}:
		return <-result
	case <-time.After(writeTimeout):
		return ErrWriteTimeout
	case <-s.shutdown:
		return ErrStoreClosed
	}
}

// Close drains the writer and closes the pool.
func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	close(s.shutdown)
	s.wg.Wait()
	return s.db.Close()
}

// HealthCheck verifies the database answers a trivial query.
func (s *Store) HealthCheck(ctx context.Context) error {
	var one int
	if err := s.db.QueryRowContext(ctx, "SELECT 1").Scan(&one); err != nil {
		return fmt.Errorf("database health check failed: %w", err)
	}
	return nil
}

// --- Provisioning -----------------------------------------------------------

// CreateUser registers a username. Idempotent.
func (s *Store) CreateUser(ctx context.Context, username, role string) error {
	if role == "" {
		role = types.RoleUser
	}
	return s.executeWrite(func(db *sql.DB) error {
		_, err := db.ExecContext(ctx,
			"INSERT OR IGNORE INTO users (username, role) VALUES (?, ?)", username, role)
		return err
	})
}

// CreateTeam creates a team with the given members, creating missing users
// on the fly.
func (s *Store) CreateTeam(ctx context.Context, name string, members []string) (string, error) {
	teamID := uuid.New().String()
	err := s.executeWrite(func(db *sql.DB) error {
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer func() { _ = tx.Rollback() }()

		if _, err := tx.ExecContext(ctx, "INSERT INTO teams (id, name) VALUES (?, ?)", teamID, name); err != nil {
			return fmt.Errorf("failed to insert team: %w", err)
		}
		for _, member := range members {
			if _, err := tx.ExecContext(ctx,
				"INSERT OR IGNORE INTO users (username, role) VALUES (?, ?)", member, types.RoleUser); err != nil {
				return err
			}
			if _, err := tx.ExecContext(ctx,
				"INSERT INTO team_members (team_id, username) VALUES (?, ?)", teamID, member); err != nil {
				return err
			}
		}
		return tx.Commit()
	})
	if err != nil {
		return "", err
	}
	return teamID, nil
}

// CreateChannel creates a channel inside a team. Members default to the
// team's full membership when none are given.
func (s *Store) CreateChannel(ctx context.Context, teamName, channelName string, members []string) (string, error) {
	team, err := s.teamByName(ctx, teamName)
	if err != nil {
		return "", err
	}
	if len(members) == 0 {
		members = team.Members
	}

	channelID := uuid.New().String()
	err = s.executeWrite(func(db *sql.DB) error {
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer func() { _ = tx.Rollback() }()

		if _, err := tx.ExecContext(ctx,
			"INSERT INTO channels (id, team_id, name) VALUES (?, ?, ?)", channelID, team.ID, channelName); err != nil {
			return fmt.Errorf("failed to insert channel: %w", err)
		}
		for _, member := range members {
			if _, err := tx.ExecContext(ctx,
				"INSERT INTO channel_members (channel_id, username) VALUES (?, ?)", channelID, member); err != nil {
				return err
			}
		}
		return tx.Commit()
	})
	if err != nil {
		return "", err
	}
	return channelID, nil
}

// --- Lookups ----------------------------------------------------------------

func (s *Store) teamByName(ctx context.Context, name string) (*types.Team, error) {
	var team types.Team
	err := s.db.QueryRowContext(ctx, "SELECT id, name FROM teams WHERE name = ?", name).
		Scan(&team.ID, &team.Name)
	if err == sql.ErrNoRows {
		return nil, interfaces.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query team: %w", err)
	}

	team.Members, err = s.collectStrings(ctx,
		"SELECT username FROM team_members WHERE team_id = ? ORDER BY username", team.ID)
	if err != nil {
		return nil, err
	}
	return &team, nil
}

func (s *Store) channelMembersByID(ctx context.Context, channelID string) ([]string, error) {
	return s.collectStrings(ctx,
		"SELECT username FROM channel_members WHERE channel_id = ? ORDER BY username", channelID)
}

// FindTeamAndChannel resolves the pair and enforces channel membership.
func (s *Store) FindTeamAndChannel(ctx context.Context, teamName, channelName string, identity *types.Identity) (*types.Team, *types.Channel, error) {
	team, err := s.teamByName(ctx, teamName)
	if err != nil {
		return nil, nil, err
	}

	var channel types.Channel
	err = s.db.QueryRowContext(ctx,
		"SELECT id, team_id, name FROM channels WHERE team_id = ? AND name = ?", team.ID, channelName).
		Scan(&channel.ID, &channel.TeamID, &channel.Name)
	if err == sql.ErrNoRows {
		return nil, nil, interfaces.ErrNotFound
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to query channel: %w", err)
	}

	channel.Members, err = s.channelMembersByID(ctx, channel.ID)
	if err != nil {
		return nil, nil, err
	}

	for _, member := range channel.Members {
		if member == identity.Username {
			return team, &channel, nil
		}
	}
	return nil, nil, interfaces.ErrNotMember
}

// FindOrCreateDirectConversation returns the conversation between the caller
// and the peer inside a team, creating it on first use. Both sides must be
// team members. The participant pair is stored in lexical order so the two
// directions map to one row.
func (s *Store) FindOrCreateDirectConversation(ctx context.Context, identity *types.Identity, teamName, peerUsername string) (*types.Conversation, error) {
	team, err := s.teamByName(ctx, teamName)
	if err != nil {
		return nil, err
	}

	callerMember, peerMember := false, false
	for _, member := range team.Members {
		if member == identity.Username {
			callerMember = true
		}
		if member == peerUsername {
			peerMember = true
		}
	}
	if !callerMember || !peerMember {
		return nil, interfaces.ErrNotMember
	}

	userA, userB := identity.Username, peerUsername
	if userA > userB {
		userA, userB = userB, userA
	}

	convo := &types.Conversation{TeamID: team.ID, Participants: []string{userA, userB}}
	err = s.db.QueryRowContext(ctx,
		"SELECT id FROM conversations WHERE team_id = ? AND user_a = ? AND user_b = ?",
		team.ID, userA, userB).Scan(&convo.ID)
	if err == nil {
		return convo, nil
	}
	if err != sql.ErrNoRows {
		return nil, fmt.Errorf("failed to query conversation: %w", err)
	}

	convo.ID = uuid.New().String()
	err = s.executeWrite(func(db *sql.DB) error {
		_, err := db.ExecContext(ctx,
			"INSERT OR IGNORE INTO conversations (id, team_id, user_a, user_b) VALUES (?, ?, ?, ?)",
			convo.ID, team.ID, userA, userB)
		return err
	})
	if err != nil {
		return nil, err
	}

	// A concurrent creator may have won the INSERT OR IGNORE race; read back
	// the canonical row.
	err = s.db.QueryRowContext(ctx,
		"SELECT id FROM conversations WHERE team_id = ? AND user_a = ? AND user_b = ?",
		team.ID, userA, userB).Scan(&convo.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to read back conversation: %w", err)
	}
	return convo, nil
}

// TeamsOf returns the team names the username belongs to.
func (s *Store) TeamsOf(ctx context.Context, username string) ([]string, error) {
	return s.collectStrings(ctx, `
		SELECT t.name FROM teams t
		JOIN team_members tm ON tm.team_id = t.id
		WHERE tm.username = ? ORDER BY t.name`, username)
}

// MembersOf returns the usernames of all members of the named team.
func (s *Store) MembersOf(ctx context.Context, teamName string) ([]string, error) {
	team, err := s.teamByName(ctx, teamName)
	if err != nil {
		return nil, err
	}
	return team.Members, nil
}

// ChannelMembers returns the usernames entitled to the channel's traffic.
func (s *Store) ChannelMembers(ctx context.Context, teamName, channelName string) ([]string, error) {
	team, err := s.teamByName(ctx, teamName)
	if err != nil {
		return nil, err
	}

	var channelID string
	err = s.db.QueryRowContext(ctx,
		"SELECT id FROM channels WHERE team_id = ? AND name = ?", team.ID, channelName).Scan(&channelID)
	if err == sql.ErrNoRows {
		return nil, interfaces.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query channel: %w", err)
	}
	return s.channelMembersByID(ctx, channelID)
}

// ChannelMembersByID is ChannelMembers keyed by channel id.
func (s *Store) ChannelMembersByID(ctx context.Context, channelID string) ([]string, error) {
	members, err := s.channelMembersByID(ctx, channelID)
	if err != nil {
		return nil, err
	}
	if len(members) == 0 {
		return nil, interfaces.ErrNotFound
	}
	return members, nil
}

// GetConversation fetches a direct conversation by id.
func (s *Store) GetConversation(ctx context.Context, conversationID string) (*types.Conversation, error) {
	var convo types.Conversation
	var userA, userB string
	err := s.db.QueryRowContext(ctx,
		"SELECT id, team_id, user_a, user_b FROM conversations WHERE id = ?", conversationID).
		Scan(&convo.ID, &convo.TeamID, &userA, &userB)
	if err == sql.ErrNoRows {
		return nil, interfaces.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query conversation: %w", err)
	}
	convo.Participants = []string{userA, userB}
	return &convo, nil
}

// --- Messages ---------------------------------------------------------------

func (s *Store) insertMessage(ctx context.Context, msg *types.ChatMessage) error {
	return s.executeWrite(func(db *sql.DB) error {
		_, err := db.ExecContext(ctx, `
			INSERT INTO messages (id, channel_id, conversation_id, from_user, content, file_name, status, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			msg.ID,
			nullable(msg.ChannelID),
			nullable(msg.ConversationID),
			msg.FromUser,
			msg.Content,
			nullable(msg.FileName),
			msg.Status,
			msg.Timestamp,
		)
		if err != nil {
			return fmt.Errorf("failed to insert message: %w", err)
		}
		return nil
	})
}

// SendChannelMessage persists a channel message.
func (s *Store) SendChannelMessage(ctx context.Context, msg *types.ChatMessage) error {
	return s.insertMessage(ctx, msg)
}

// SendDirectMessage persists a direct message.
func (s *Store) SendDirectMessage(ctx context.Context, msg *types.ChatMessage) error {
	return s.insertMessage(ctx, msg)
}

// UpdateMessageStatus records a delivery-status transition.
func (s *Store) UpdateMessageStatus(ctx context.Context, messageID, status string) error {
	return s.executeWrite(func(db *sql.DB) error {
		res, err := db.ExecContext(ctx,
			"UPDATE messages SET status = ? WHERE id = ?", status, messageID)
		if err != nil {
			return fmt.Errorf("failed to update message status: %w", err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if affected == 0 {
			return interfaces.ErrNotFound
		}
		return nil
	})
}

// GetMessagesByCriteria returns one page of messages, newest first. BeforeID
// anchors the page at an earlier message for backwards pagination.
func (s *Store) GetMessagesByCriteria(ctx context.Context, criteria *types.HistoryCriteria) ([]*types.ChatMessage, error) {
	query := `
		SELECT id, COALESCE(channel_id, ''), COALESCE(conversation_id, ''), from_user, content,
		       COALESCE(file_name, ''), status, created_at
		FROM messages WHERE `
	var args []interface{}

	switch {
	case criteria.ChannelID != "":
		query += "channel_id = ?"
		args = append(args, criteria.ChannelID)
	case criteria.ConversationID != "":
		query += "conversation_id = ?"
		args = append(args, criteria.ConversationID)
	default:
		return nil, interfaces.ErrNotFound
	}

	if criteria.BeforeID != "" {
		query += " AND created_at < (SELECT created_at FROM messages WHERE id = ?)"
		args = append(args, criteria.BeforeID)
	}

	query += " ORDER BY created_at DESC, id DESC LIMIT ?"
	args = append(args, criteria.Limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer rows.Close()

	var messages []*types.ChatMessage
	for rows.Next() {
		var msg types.ChatMessage
		if err := rows.Scan(&msg.ID, &msg.ChannelID, &msg.ConversationID, &msg.FromUser,
			&msg.Content, &msg.FileName, &msg.Status, &msg.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		messages = append(messages, &msg)
	}
	return messages, rows.Err()
}

// GetMessage fetches one persisted message by id.
func (s *Store) GetMessage(ctx context.Context, messageID string) (*types.ChatMessage, error) {
	var msg types.ChatMessage
	err := s.db.QueryRowContext(ctx, `
		SELECT id, COALESCE(channel_id, ''), COALESCE(conversation_id, ''), from_user, content,
		       COALESCE(file_name, ''), status, created_at
		FROM messages WHERE id = ?`, messageID).
		Scan(&msg.ID, &msg.ChannelID, &msg.ConversationID, &msg.FromUser,
			&msg.Content, &msg.FileName, &msg.Status, &msg.Timestamp)
	if err == sql.ErrNoRows {
		return nil, interfaces.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query message: %w", err)
	}
	return &msg, nil
}

func (s *Store) collectStrings(ctx context.Context, query string, args ...interface{}) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func nullable(v string) interface{} {
	if v == "" {
		return nil
	}
	return v
}
