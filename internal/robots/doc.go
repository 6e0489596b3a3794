// Package robots ties an activity pool and a dispatch registry together into
// the two operations most programs are built from.
//
// A watcher produces values on the pool and sends each one as an event.
// Watch runs a blocking producer that yields exactly one value; Stream hands
// a push producer an emit function it may call any number of times. A
// reactor subscribes an action to a topic. Watchers and reactors only share
// topic names, never references to each other.
//
//	f := robots.New(activity.New(), dispatch.NewRegistry())
//	defer f.Close()
//
//	ticks := dispatch.NewTopic[clock.Tick]("tick")
//	r, _ := robots.ReactFunc(f, ticks, func(ctx context.Context, t clock.Tick) error {
//		fmt.Println("tick", t.Seq)
//		return nil
//	})
//	_ = r.Wait()
//
//	c, _ := clock.New(time.Second, clock.WithLimit(5))
//	robots.Stream(f, ticks, c.Start)
package robots
