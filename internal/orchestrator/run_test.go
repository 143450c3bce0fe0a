package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/emilixs/Aicouncil/internal/provider"
	"github.com/emilixs/Aicouncil/internal/retry"
	"github.com/emilixs/Aicouncil/pkg/blackboard"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStart_ConsensusOnFourthMessage(t *testing.T) {
	chat := newScriptedClient(
		reply("Let's put a queue in front of the database."),
		reply("A queue helps, but we also need idempotent consumers."),
		reply("Then we shard the consumers by tenant."),
		reply("I agree with sharding by tenant behind the queue."),
	)
	engine, client, sink := setupTestEngine(t, chat)
	session := newSession(t, client, 6, "ada", "grace")

	final, err := engine.Start(context.Background(), session.ID)
	require.NoError(t, err)

	assert.Equal(t, blackboard.SessionStatusCompleted, final.Status)
	assert.True(t, final.ConsensusReached)

	assert.Equal(t, []blackboard.EventType{
		blackboard.EventExpertTurnStart, blackboard.EventMessageCreated,
		blackboard.EventExpertTurnStart, blackboard.EventMessageCreated,
		blackboard.EventExpertTurnStart, blackboard.EventMessageCreated,
		blackboard.EventExpertTurnStart, blackboard.EventMessageCreated,
		blackboard.EventConsensusReached,
		blackboard.EventSessionEnded,
	}, sink.types())

	ended := sink.last().Ended
	require.NotNil(t, ended)
	assert.Equal(t, blackboard.SessionEnd{Reason: blackboard.EndReasonConsensus, ConsensusReached: true, MessageCount: 4}, *ended)

	consensus := sink.ofType(blackboard.EventConsensusReached)[0]
	assert.Equal(t, "grace", consensus.Message.ExpertID)

	stored, err := client.LoadSession(context.Background(), session.ID)
	require.NoError(t, err)
	assert.Equal(t, blackboard.SessionStatusCompleted, stored.Status)
	assert.True(t, stored.ConsensusReached)

	msgs, err := client.ListMessages(context.Background(), session.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 4)
	for i, m := range msgs {
		assert.Equal(t, blackboard.RoleAssistant, m.Role)
		assert.Equal(t, int64(i+1), m.Sequence)
	}

	// The last call saw the three earlier messages, attributed by name.
	last := chat.call(3)
	require.Len(t, last, 4)
	assert.Equal(t, provider.RoleSystem, last[0].Role)
	assert.Equal(t, "[Ada] Let's put a queue in front of the database.", last[1].Content)
	assert.Equal(t, "[Grace] A queue helps, but we also need idempotent consumers.", last[2].Content)
	assert.Empty(t, engine.ActiveRuns())
}

func TestStart_RoundRobinInJoinOrder(t *testing.T) {
	engine, client, sink := setupTestEngine(t, newScriptedClient())
	session := newSession(t, client, 6, "linus", "ada", "grace")

	final, err := engine.Start(context.Background(), session.ID)
	require.NoError(t, err)

	assert.Equal(t, blackboard.SessionStatusCompleted, final.Status)
	assert.False(t, final.ConsensusReached)
	assert.Equal(t, []string{"linus", "ada", "grace", "linus", "ada", "grace"}, turnExperts(sink))

	turns := sink.ofType(blackboard.EventExpertTurnStart)
	for i, ev := range turns {
		assert.Equal(t, i+1, ev.TurnStart.TurnNumber)
	}

	ended := sink.last().Ended
	assert.Equal(t, blackboard.EndReasonMaxMessages, ended.Reason)
	assert.Equal(t, 6, ended.MessageCount)
}

func TestStart_EmptyReplyAdvancesToNextExpert(t *testing.T) {
	chat := newScriptedClient(
		reply("   \n"),
		reply("Grace speaks first after all."),
		reply("Ada follows."),
	)
	engine, client, sink := setupTestEngine(t, chat)
	session := newSession(t, client, 2, "ada", "grace")

	_, err := engine.Start(context.Background(), session.ID)
	require.NoError(t, err)

	assert.Equal(t, []string{"ada", "grace", "ada"}, turnExperts(sink))
	assert.Len(t, sink.ofType(blackboard.EventMessageCreated), 2)
	assert.Empty(t, sink.ofType(blackboard.EventError))

	msgs, err := client.ListMessages(context.Background(), session.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "grace", msgs[0].ExpertID)
	assert.Equal(t, "ada", msgs[1].ExpertID)
}

func TestStart_TransientFailureSkipsTurn(t *testing.T) {
	chat := newScriptedClient(
		failure(&provider.Error{Kind: provider.KindRateLimit, Provider: provider.Mock, StatusCode: 429}),
		reply("Grace carries on."),
		reply("Ada is back."),
	)
	engine, client, sink := setupTestEngine(t, chat)
	session := newSession(t, client, 2, "ada", "grace")

	final, err := engine.Start(context.Background(), session.ID)
	require.NoError(t, err)
	assert.Equal(t, blackboard.SessionStatusCompleted, final.Status)

	errs := sink.ofType(blackboard.EventError)
	require.Len(t, errs, 1)
	assert.Equal(t, "ada", errs[0].Failure.ExpertID)
	assert.Contains(t, errs[0].Failure.Message, "rate_limit")

	assert.Equal(t, []string{"ada", "grace", "ada"}, turnExperts(sink))
	assert.Equal(t, blackboard.EndReasonMaxMessages, sink.last().Ended.Reason)
}

func TestStart_TransientFailureIsRetriedFirst(t *testing.T) {
	rateLimited := &provider.Error{Kind: provider.KindRateLimit, Provider: provider.Mock, StatusCode: 429}
	chat := newScriptedClient(
		failure(rateLimited),
		failure(rateLimited),
		reply("Third time lucky."),
	)
	engine, client, sink := setupTestEngine(t, chat)
	engine.opts.Retry = retry.Options{MaxRetries: 3, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond}
	session := newSession(t, client, 1, "ada", "grace")

	_, err := engine.Start(context.Background(), session.ID)
	require.NoError(t, err)

	assert.Equal(t, 3, chat.callCount())
	assert.Empty(t, sink.ofType(blackboard.EventError))
	assert.Len(t, sink.ofType(blackboard.EventMessageCreated), 1)
}

func TestStart_FatalFailureCancelsSession(t *testing.T) {
	chat := newScriptedClient(
		reply("Opening remarks."),
		failure(&provider.Error{Kind: provider.KindAuthentication, Provider: provider.Mock, StatusCode: 401, Message: "bad key"}),
	)
	engine, client, sink := setupTestEngine(t, chat)
	session := newSession(t, client, 10, "ada", "grace")

	final, err := engine.Start(context.Background(), session.ID)
	require.Error(t, err)

	var perr *provider.Error
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, provider.KindAuthentication, perr.Kind)

	require.NotNil(t, final)
	assert.Equal(t, blackboard.SessionStatusCancelled, final.Status)
	assert.Equal(t, blackboard.SessionStatusCancelled, loadStatus(t, client, session.ID))

	errs := sink.ofType(blackboard.EventError)
	require.Len(t, errs, 1)
	assert.Equal(t, "grace", errs[0].Failure.ExpertID)

	ended := sink.last().Ended
	assert.Equal(t, blackboard.SessionEnd{Reason: blackboard.EndReasonCancelled, ConsensusReached: false, MessageCount: 1}, *ended)
	assert.Equal(t, 2, chat.callCount())
}

func TestStart_PersistenceFailureAborts(t *testing.T) {
	chat := newScriptedClient(reply("This will not be stored."))
	client := newTestClient(t, setupRedis(t))
	sink := &recordingSink{}
	factory := &fakeFactory{clients: map[provider.ID]provider.Client{provider.Mock: chat}}
	engine := NewEngine(&failingWriteStore{Client: client}, factory, sink, nil, testOptions())
	session := newSession(t, client, 4, "ada", "grace")

	final, err := engine.Start(context.Background(), session.ID)
	require.Error(t, err)
	assert.ErrorIs(t, err, blackboard.ErrUnavailable)
	assert.Equal(t, blackboard.SessionStatusCancelled, final.Status)
	assert.Equal(t, blackboard.EndReasonCancelled, sink.last().Ended.Reason)
}

func TestStart_FinalizeFailureKeepsOutcome(t *testing.T) {
	chat := newScriptedClient(reply("Consensus reached: ship it."))
	client := newTestClient(t, setupRedis(t))
	sink := &recordingSink{}
	factory := &fakeFactory{clients: map[provider.ID]provider.Client{provider.Mock: chat}}
	engine := NewEngine(&failingFinalizeStore{Client: client}, factory, sink, nil, testOptions())
	session := newSession(t, client, 4, "ada", "grace")

	final, err := engine.Start(context.Background(), session.ID)
	require.NoError(t, err)

	assert.Equal(t, blackboard.SessionStatusCompleted, final.Status)
	assert.True(t, final.ConsensusReached)
	assert.Equal(t, blackboard.SessionEnd{Reason: blackboard.EndReasonConsensus, ConsensusReached: true, MessageCount: 1}, *sink.last().Ended)

	// The write failed, so the store still shows the run as active.
	assert.Equal(t, blackboard.SessionStatusActive, loadStatus(t, client, session.ID))
}

func TestStart_ContextCancelledMidTurn(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	chat := newScriptedClient(failure(context.Canceled))
	chat.onCall = func(n int) { cancel() }
	engine, client, sink := setupTestEngine(t, chat)
	session := newSession(t, client, 4, "ada", "grace")

	final, err := engine.Start(ctx, session.ID)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)

	assert.Equal(t, blackboard.SessionStatusCancelled, final.Status)
	assert.Equal(t, blackboard.SessionStatusCancelled, loadStatus(t, client, session.ID))
	assert.Equal(t, blackboard.EndReasonCancelled, sink.last().Ended.Reason)
}

func TestStart_MidTurnInterventionDrainedBeforeNextTurn(t *testing.T) {
	chat := newScriptedClient(reply("Ada opens."), reply("Grace answers."))
	engine, client, sink := setupTestEngine(t, chat)
	session := newSession(t, client, 3, "ada", "grace")

	chat.onCall = func(n int) {
		if n == 1 {
			ok, err := engine.QueueIntervention(context.Background(), session.ID, "Please consider cost.", "user-7")
			assert.NoError(t, err)
			assert.True(t, ok)
		}
	}

	_, err := engine.Start(context.Background(), session.ID)
	require.NoError(t, err)

	msgs, err := client.ListMessages(context.Background(), session.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 3)

	assert.Equal(t, "ada", msgs[0].ExpertID)
	assert.True(t, msgs[1].IsIntervention)
	assert.Equal(t, blackboard.RoleUser, msgs[1].Role)
	assert.Equal(t, "user-7", msgs[1].SubmittedBy)
	assert.Equal(t, "grace", msgs[2].ExpertID)

	// Grace's context ends with the intervention, unprefixed.
	ctxMsgs := chat.call(1)
	assert.Equal(t, provider.ChatMessage{Role: provider.RoleUser, Content: "Please consider cost."}, ctxMsgs[len(ctxMsgs)-1])

	created := sink.ofType(blackboard.EventMessageCreated)
	require.Len(t, created, 3)
	assert.True(t, created[1].Message.IsIntervention)
}

func TestStart_HistoryWindow(t *testing.T) {
	engine, client, _ := setupTestEngine(t, newScriptedClient())
	chat := newScriptedClient()
	engine.providers = &fakeFactory{clients: map[provider.ID]provider.Client{provider.Mock: chat}}
	engine.opts.HistoryWindow = 3
	session := newSession(t, client, 6, "ada", "grace")

	_, err := engine.Start(context.Background(), session.ID)
	require.NoError(t, err)

	last := chat.call(5)
	require.Len(t, last, 4)
	assert.Equal(t, "[Ada] filler reply 3", last[1].Content)
	assert.Equal(t, "[Ada] filler reply 5", last[3].Content)
}

type failingWriteStore struct {
	*blackboard.Client
}

func (s *failingWriteStore) CreateMessage(ctx context.Context, m *blackboard.Message) error {
	return fmt.Errorf("failed to write message: %w", blackboard.ErrUnavailable)
}

type failingFinalizeStore struct {
	*blackboard.Client
}

func (s *failingFinalizeStore) TransitionSessionStatus(ctx context.Context, sessionID string, from, to blackboard.SessionStatus, consensusReached *bool) error {
	if to.IsTerminal() {
		return fmt.Errorf("failed to update session status: %w", blackboard.ErrUnavailable)
	}
	return s.Client.TransitionSessionStatus(ctx, sessionID, from, to, consensusReached)
}
