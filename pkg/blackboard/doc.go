// Package blackboard provides the shared records of an expert council and the
// Redis-backed store and event bus that every council component works through.
//
// # Overview
//
// The blackboard is the shared state all components (discussion engine, HTTP
// service, CLI) read and write. Sessions carry a problem statement and an
// ordered roster of experts; messages are appended to a session in strict
// order while a discussion runs; events describe the progress of a run and
// are fanned out to observers over Redis Pub/Sub.
//
// # Multi-Instance Support
//
// All Redis keys and Pub/Sub channels are namespaced by instance name so that
// several councils can share one Redis server without seeing each other's data
// or events.
//
// # Usage Example
//
//	client, err := blackboard.NewClient(&redis.Options{Addr: "localhost:6379"}, "default")
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer client.Close()
//
//	session := blackboard.NewSession("How should we shard the ledger?", []string{"ada", "grace"}, 12)
//	if err := client.CreateSession(ctx, session); err != nil {
//		log.Fatal(err)
//	}
//
//	sub, err := client.SubscribeSessionEvents(ctx, session.ID)
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer sub.Close()
//
//	for event := range sub.Events() {
//		fmt.Println(event.Type)
//	}
package blackboard
