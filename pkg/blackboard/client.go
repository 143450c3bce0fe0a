package blackboard

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// maxTxAttempts bounds optimistic-lock retries on a contended session hash.
const maxTxAttempts = 5

// Client provides instance-scoped Redis operations for the blackboard.
// All keys and channels are automatically namespaced with the instance name.
// The client is thread-safe and can be used concurrently from multiple goroutines.
type Client struct {
	rdb          *redis.Client
	instanceName string
}

var _ Store = (*Client)(nil)

// NewClient creates a new blackboard client for the specified instance.
// Returns an error if instanceName is empty.
func NewClient(redisOpts *redis.Options, instanceName string) (*Client, error) {
	if instanceName == "" {
		return nil, fmt.Errorf("instance name cannot be empty")
	}

	return &Client{
		rdb:          redis.NewClient(redisOpts),
		instanceName: instanceName,
	}, nil
}

// InstanceName returns the namespace this client reads and writes.
func (c *Client) InstanceName() string {
	return c.instanceName
}

// Close closes the Redis connection. Implements io.Closer.
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Ping verifies Redis connectivity. Useful for health checks.
func (c *Client) Ping(ctx context.Context) error {
	if err := c.rdb.Ping(ctx).Err(); err != nil {
		return unavailable("ping Redis", err)
	}
	return nil
}

// PutExpert creates or replaces an expert and records its id in the expert index.
func (c *Client) PutExpert(ctx context.Context, e *Expert) error {
	if err := e.Validate(); err != nil {
		return fmt.Errorf("invalid expert: %w", err)
	}
	if e.CreatedAtMs == 0 {
		e.CreatedAtMs = time.Now().UnixMilli()
	}

	hash, err := ExpertToHash(e)
	if err != nil {
		return fmt.Errorf("failed to serialize expert: %w", err)
	}

	_, err = c.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, ExpertKey(c.instanceName, e.ID), hash)
		pipe.SAdd(ctx, ExpertsKey(c.instanceName), e.ID)
		return nil
	})
	if err != nil {
		return unavailable("write expert to Redis", err)
	}
	return nil
}

// GetExpert retrieves an expert by id.
func (c *Client) GetExpert(ctx context.Context, expertID string) (*Expert, error) {
	hashData, err := c.rdb.HGetAll(ctx, ExpertKey(c.instanceName, expertID)).Result()
	if err != nil {
		return nil, unavailable("read expert from Redis", err)
	}
	if len(hashData) == 0 {
		return nil, fmt.Errorf("expert %s: %w", expertID, ErrNotFound)
	}

	expert, err := HashToExpert(hashData)
	if err != nil {
		return nil, fmt.Errorf("failed to deserialize expert: %w", err)
	}
	return expert, nil
}

// ListExperts returns every known expert sorted by id.
func (c *Client) ListExperts(ctx context.Context) ([]*Expert, error) {
	ids, err := c.rdb.SMembers(ctx, ExpertsKey(c.instanceName)).Result()
	if err != nil {
		return nil, unavailable("list experts", err)
	}
	sort.Strings(ids)

	// Index entries without a hash are skipped.
	experts, _, err := c.fetchExperts(ctx, ids)
	if err != nil {
		return nil, err
	}
	return experts, nil
}

// fetchExperts loads experts in the given order. Ids without a stored hash are
// reported in missing rather than failing the whole read.
func (c *Client) fetchExperts(ctx context.Context, ids []string) ([]*Expert, []string, error) {
	if len(ids) == 0 {
		return []*Expert{}, nil, nil
	}

	cmds := make([]*redis.MapStringStringCmd, len(ids))
	_, err := c.rdb.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, id := range ids {
			cmds[i] = pipe.HGetAll(ctx, ExpertKey(c.instanceName, id))
		}
		return nil
	})
	if err != nil {
		return nil, nil, unavailable("read experts from Redis", err)
	}

	experts := make([]*Expert, 0, len(ids))
	var missing []string
	for i, cmd := range cmds {
		hashData := cmd.Val()
		if len(hashData) == 0 {
			missing = append(missing, ids[i])
			continue
		}
		expert, err := HashToExpert(hashData)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to deserialize expert %s: %w", ids[i], err)
		}
		experts = append(experts, expert)
	}
	return experts, missing, nil
}

// CreateSession stores a new session and indexes it by creation time.
// Returns ErrConflict if the id is taken and ErrNotFound if a roster id names no expert.
func (c *Client) CreateSession(ctx context.Context, s *Session) error {
	if err := s.Validate(); err != nil {
		return fmt.Errorf("invalid session: %w", err)
	}

	_, missing, err := c.fetchExperts(ctx, s.ExpertIDs)
	if err != nil {
		return err
	}
	if len(missing) > 0 {
		return fmt.Errorf("roster references unknown expert %s: %w", missing[0], ErrNotFound)
	}

	hash, err := SessionToHash(s)
	if err != nil {
		return fmt.Errorf("failed to serialize session: %w", err)
	}

	key := SessionKey(c.instanceName, s.ID)
	created, err := c.rdb.HSetNX(ctx, key, "id", s.ID).Result()
	if err != nil {
		return unavailable("write session to Redis", err)
	}
	if !created {
		return fmt.Errorf("session %s: %w", s.ID, ErrConflict)
	}

	_, err = c.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key, hash)
		pipe.ZAdd(ctx, SessionsKey(c.instanceName), redis.Z{Score: float64(s.CreatedAtMs), Member: s.ID})
		return nil
	})
	if err != nil {
		return unavailable("write session to Redis", err)
	}
	return nil
}

// getSession reads the session hash without resolving the roster.
func (c *Client) getSession(ctx context.Context, sessionID string) (*Session, error) {
	hashData, err := c.rdb.HGetAll(ctx, SessionKey(c.instanceName, sessionID)).Result()
	if err != nil {
		return nil, unavailable("read session from Redis", err)
	}
	if len(hashData) == 0 {
		return nil, fmt.Errorf("session %s: %w", sessionID, ErrNotFound)
	}

	session, err := HashToSession(hashData)
	if err != nil {
		return nil, fmt.Errorf("failed to deserialize session: %w", err)
	}
	return session, nil
}

// LoadSession retrieves a session and resolves its roster in join order.
func (c *Client) LoadSession(ctx context.Context, sessionID string) (*Session, error) {
	session, err := c.getSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	experts, missing, err := c.fetchExperts(ctx, session.ExpertIDs)
	if err != nil {
		return nil, err
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("session %s roster references unknown expert %s: %w", sessionID, missing[0], ErrNotFound)
	}
	session.Experts = experts

	return session, nil
}

// ListSessions returns all sessions of this instance, newest first.
func (c *Client) ListSessions(ctx context.Context) ([]*Session, error) {
	ids, err := c.rdb.ZRevRange(ctx, SessionsKey(c.instanceName), 0, -1).Result()
	if err != nil {
		return nil, unavailable("list sessions", err)
	}

	cmds := make([]*redis.MapStringStringCmd, len(ids))
	_, err = c.rdb.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, id := range ids {
			cmds[i] = pipe.HGetAll(ctx, SessionKey(c.instanceName, id))
		}
		return nil
	})
	if err != nil {
		return nil, unavailable("read sessions from Redis", err)
	}

	sessions := make([]*Session, 0, len(ids))
	for i, cmd := range cmds {
		if len(cmd.Val()) == 0 {
			continue
		}
		session, err := HashToSession(cmd.Val())
		if err != nil {
			return nil, fmt.Errorf("failed to deserialize session %s: %w", ids[i], err)
		}
		sessions = append(sessions, session)
	}
	return sessions, nil
}

// TransitionSessionStatus moves a session from one status to another under an
// optimistic lock on the session hash. The write only happens while the stored
// status still equals from, so two processes can never both move the same
// session out of PENDING.
func (c *Client) TransitionSessionStatus(ctx context.Context, sessionID string, from, to SessionStatus, consensusReached *bool) error {
	if err := to.Validate(); err != nil {
		return fmt.Errorf("invalid status: %w", err)
	}
	if !CanTransition(from, to) {
		return fmt.Errorf("session %s cannot move from %s to %s: %w", sessionID, from, to, ErrInvalidState)
	}

	key := SessionKey(c.instanceName, sessionID)
	txf := func(tx *redis.Tx) error {
		current, err := tx.HGet(ctx, key, "status").Result()
		if errors.Is(err, redis.Nil) {
			return fmt.Errorf("session %s: %w", sessionID, ErrNotFound)
		}
		if err != nil {
			return unavailable("read session status", err)
		}

		if SessionStatus(current) != from {
			return fmt.Errorf("session %s is %s, expected %s: %w", sessionID, current, from, ErrInvalidState)
		}

		fields := map[string]interface{}{
			"status":        string(to),
			"updated_at_ms": strconv.FormatInt(time.Now().UnixMilli(), 10),
		}
		if consensusReached != nil {
			fields["consensus_reached"] = strconv.FormatBool(*consensusReached)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, key, fields)
			return nil
		})
		return err
	}

	for attempt := 0; attempt < maxTxAttempts; attempt++ {
		err := c.rdb.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil && !errors.Is(err, ErrNotFound) && !errors.Is(err, ErrInvalidState) && !errors.Is(err, ErrUnavailable) {
			return unavailable("update session status", err)
		}
		return err
	}
	return fmt.Errorf("session %s status changed concurrently: %w", sessionID, ErrConflict)
}

// CreateMessage appends a message to its session and assigns the next sequence
// number. Returns ErrConflict if a message with the same id already exists.
func (c *Client) CreateMessage(ctx context.Context, m *Message) error {
	if err := m.Validate(); err != nil {
		return fmt.Errorf("invalid message: %w", err)
	}

	exists, err := c.rdb.Exists(ctx, SessionKey(c.instanceName, m.SessionID)).Result()
	if err != nil {
		return unavailable("check session existence", err)
	}
	if exists == 0 {
		return fmt.Errorf("session %s: %w", m.SessionID, ErrNotFound)
	}

	key := MessageKey(c.instanceName, m.ID)
	created, err := c.rdb.HSetNX(ctx, key, "id", m.ID).Result()
	if err != nil {
		return unavailable("write message to Redis", err)
	}
	if !created {
		return fmt.Errorf("message %s: %w", m.ID, ErrConflict)
	}

	seq, err := c.rdb.Incr(ctx, SessionSequenceKey(c.instanceName, m.SessionID)).Result()
	if err != nil {
		c.releaseMessageID(key)
		return unavailable("allocate message sequence", err)
	}
	m.Sequence = seq
	if m.CreatedAtMs == 0 {
		m.CreatedAtMs = time.Now().UnixMilli()
	}

	_, err = c.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key, MessageToHash(m))
		pipe.ZAdd(ctx, SessionMessagesKey(c.instanceName, m.SessionID), redis.Z{Score: float64(seq), Member: m.ID})
		return nil
	})
	if err != nil {
		c.releaseMessageID(key)
		return unavailable("write message to Redis", err)
	}
	return nil
}

// releaseMessageID removes the id reservation of a message that was never
// fully written. Best effort: the caller already reports the write failure.
func (c *Client) releaseMessageID(key string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	c.rdb.Del(ctx, key)
}

// CountMessages returns the number of persisted messages in a session.
func (c *Client) CountMessages(ctx context.Context, sessionID string) (int, error) {
	n, err := c.rdb.ZCard(ctx, SessionMessagesKey(c.instanceName, sessionID)).Result()
	if err != nil {
		return 0, unavailable("count messages", err)
	}
	return int(n), nil
}

// LatestMessages returns up to n most recent messages of a session, oldest first.
func (c *Client) LatestMessages(ctx context.Context, sessionID string, n int) ([]*Message, error) {
	if n <= 0 {
		return []*Message{}, nil
	}

	ids, err := c.rdb.ZRevRange(ctx, SessionMessagesKey(c.instanceName, sessionID), 0, int64(n-1)).Result()
	if err != nil {
		return nil, unavailable("read message index", err)
	}
	for i, j := 0, len(ids)-1; i < j; i, j = i+1, j-1 {
		ids[i], ids[j] = ids[j], ids[i]
	}
	return c.fetchMessages(ctx, ids)
}

// ListMessages returns the full transcript of a session in order.
func (c *Client) ListMessages(ctx context.Context, sessionID string) ([]*Message, error) {
	ids, err := c.rdb.ZRange(ctx, SessionMessagesKey(c.instanceName, sessionID), 0, -1).Result()
	if err != nil {
		return nil, unavailable("read message index", err)
	}
	return c.fetchMessages(ctx, ids)
}

func (c *Client) fetchMessages(ctx context.Context, ids []string) ([]*Message, error) {
	if len(ids) == 0 {
		return []*Message{}, nil
	}

	cmds := make([]*redis.MapStringStringCmd, len(ids))
	_, err := c.rdb.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, id := range ids {
			cmds[i] = pipe.HGetAll(ctx, MessageKey(c.instanceName, id))
		}
		return nil
	})
	if err != nil {
		return nil, unavailable("read messages from Redis", err)
	}

	messages := make([]*Message, 0, len(ids))
	for i, cmd := range cmds {
		if len(cmd.Val()) == 0 {
			continue
		}
		msg, err := HashToMessage(cmd.Val())
		if err != nil {
			return nil, fmt.Errorf("failed to deserialize message %s: %w", ids[i], err)
		}
		messages = append(messages, msg)
	}
	return messages, nil
}

// PublishEvent publishes a discussion event on its session's event channel.
// Delivery is at-most-once: observers that are not subscribed miss it.
func (c *Client) PublishEvent(ctx context.Context, ev Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	channel := SessionEventsChannel(c.instanceName, ev.SessionID)
	if err := c.rdb.Publish(ctx, channel, payload).Err(); err != nil {
		return unavailable("publish event", err)
	}
	return nil
}

// PublishIntervention hands an intervention to the process running the session.
// Returns the number of receivers; zero means no run is listening.
func (c *Client) PublishIntervention(ctx context.Context, sessionID string, in Intervention) (int64, error) {
	payload, err := json.Marshal(in)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal intervention: %w", err)
	}

	receivers, err := c.rdb.Publish(ctx, SessionInterventionsChannel(c.instanceName, sessionID), payload).Result()
	if err != nil {
		return 0, unavailable("publish intervention", err)
	}
	return receivers, nil
}

// SubscribeSessionEvents subscribes to the event channel of one session.
// The subscription is confirmed by Redis before this returns, so no event
// published afterwards is missed. Caller must call Close() when done.
func (c *Client) SubscribeSessionEvents(ctx context.Context, sessionID string) (*Subscription[Event], error) {
	return subscribe[Event](ctx, c.rdb, SessionEventsChannel(c.instanceName, sessionID), "event")
}

// SubscribeInterventions subscribes to the intervention channel of one session.
func (c *Client) SubscribeInterventions(ctx context.Context, sessionID string) (*Subscription[Intervention], error) {
	return subscribe[Intervention](ctx, c.rdb, SessionInterventionsChannel(c.instanceName, sessionID), "intervention")
}
