// Package dispatch routes events to the actions subscribed to them.
//
// A Registry maps an event id to an ordered list of actions. Sending an
// event looks up the id and performs each action with the payload, in
// subscription order, on the sender's goroutine. Sending therefore blocks
// until every action has finished, which is the only backpressure the
// system has. Sending to an id nobody subscribed to does nothing.
//
// Subscriptions can be added from any goroutine at any time, including
// while events for the same id are being delivered. A dispatch sees the
// subscriptions that existed when it started.
//
// Topics bind an id to a payload type:
//
//	ticks := dispatch.NewTopic[int]("tick")
//	dispatch.SubscribeFunc(reg, ticks, func(ctx context.Context, n int) error {
//		fmt.Println("tick", n)
//		return nil
//	})
//	ticks.Event(1).Send(ctx, reg)
package dispatch
