// Package agent runs bounded reasoning-and-action turns with provider failover.
//
// Invariants:
// - A turn makes at most MaxRounds provider calls before finalizing.
// - Tool calls pass the risk gate before execution; gated calls suspend the turn.
// - The fallback provider switch happens at most once per turn.
// - An approval resumption is a new invocation, never a resumed call stack.
//
// Usage:
//
//	loop, _ := agent.NewLoop(agent.Config{...})
//	result, _ := loop.RunTurn(ctx, agent.TurnParams{
//		ConversationID: "c1",
//		UserID:         "u1",
//		Message:        "hello",
//	})
//	_ = result
package agent
