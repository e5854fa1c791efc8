// Package kafka exports device events to a Kafka topic.
//
// The Publisher receives device row changes from the device store (it
// satisfies realtime.Notifier) and offline sweep results from the heartbeat
// scheduler (it satisfies heartbeat.Recorder). Each event is written as one
// JSON message keyed by owner id, so all events for one owner land on the
// same partition in order.
//
// Publishing never blocks the caller. Events are queued on a bounded buffer
// and written by a single background goroutine; when the buffer is full the
// event is dropped and a warning is logged.
//
// # Usage
//
//	pub, err := kafka.NewPublisher(cfg.Kafka)
//	if err != nil {
//	    return err
//	}
//	pub.Start(ctx)
//	defer pub.Close()
//
//	store.SetNotifier(realtime.Fanout{feed, pub})
package kafka
