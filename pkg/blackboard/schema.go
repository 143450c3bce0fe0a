package blackboard

import "fmt"

// Redis key pattern helpers
//
// All Redis keys and Pub/Sub channels are namespaced by instance name so that
// several councils can share one Redis server.
//
// Key pattern: council:{instance_name}:{entity}:{id}
// Channel pattern: council:{instance_name}:session:{session_id}:{stream}

// ExpertKey returns the Redis key for an expert hash.
// Pattern: council:{instance_name}:expert:{expert_id}
func ExpertKey(instanceName, expertID string) string {
	return fmt.Sprintf("council:%s:expert:%s", instanceName, expertID)
}

// ExpertsKey returns the Redis key for the set of known expert ids.
// Pattern: council:{instance_name}:experts
func ExpertsKey(instanceName string) string {
	return fmt.Sprintf("council:%s:experts", instanceName)
}

// SessionKey returns the Redis key for a session hash.
// Pattern: council:{instance_name}:session:{session_id}
func SessionKey(instanceName, sessionID string) string {
	return fmt.Sprintf("council:%s:session:%s", instanceName, sessionID)
}

// SessionsKey returns the Redis key for the session index ZSET (score = created_at_ms).
// Pattern: council:{instance_name}:sessions
func SessionsKey(instanceName string) string {
	return fmt.Sprintf("council:%s:sessions", instanceName)
}

// SessionMessagesKey returns the Redis key for a session's message ZSET (score = sequence).
// Pattern: council:{instance_name}:session:{session_id}:messages
func SessionMessagesKey(instanceName, sessionID string) string {
	return fmt.Sprintf("council:%s:session:%s:messages", instanceName, sessionID)
}

// SessionSequenceKey returns the Redis key for a session's message sequence counter.
// Pattern: council:{instance_name}:session:{session_id}:seq
func SessionSequenceKey(instanceName, sessionID string) string {
	return fmt.Sprintf("council:%s:session:%s:seq", instanceName, sessionID)
}

// MessageKey returns the Redis key for a message hash.
// Pattern: council:{instance_name}:message:{message_id}
func MessageKey(instanceName, messageID string) string {
	return fmt.Sprintf("council:%s:message:%s", instanceName, messageID)
}

// SessionEventsChannel returns the Pub/Sub channel carrying a session's discussion events.
// Pattern: council:{instance_name}:session:{session_id}:events
func SessionEventsChannel(instanceName, sessionID string) string {
	return fmt.Sprintf("council:%s:session:%s:events", instanceName, sessionID)
}

// SessionInterventionsChannel returns the Pub/Sub channel on which interventions are
// handed to whichever process runs the session's discussion.
// Pattern: council:{instance_name}:session:{session_id}:interventions
func SessionInterventionsChannel(instanceName, sessionID string) string {
	return fmt.Sprintf("council:%s:session:%s:interventions", instanceName, sessionID)
}
