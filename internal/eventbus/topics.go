package eventbus

import "fmt"

// Topic names, one per published event spec.md §4.8 lists, all under the
// "events." namespace so a single wildcard subscription (TopicAll) fans
// every one of them to a single subscriber — the same "events.>" wildcard
// convention as the teacher's natsbus/topics.go.
const (
	TopicMailSent     = "events.mail.sent"
	TopicMailReceived = "events.mail.received"
	TopicMailRouted   = "events.mail.routed"
	TopicMailFailed   = "events.mail.failed"
	TopicMailBounced  = "events.mail.bounced"
	TopicMailCounts   = "events.mail.counts"
	TopicBeeStatus    = "events.bee.status"
	TopicSwarmUpdated = "events.swarm.updated"

	// TopicAll is the wildcard subscription used by the Gateway's
	// events.subscribe operation to fan every topic to one subscriber.
	TopicAll = "events.>"

	// topicReconnectPrefix roots the per-subscriber control topic
	// published to when a subscription is evicted as a slow consumer
	// (spec.md §4.8: "dropped and notified to reconnect").
	topicReconnectPrefix = "control.reconnect."
)

func topicReconnect(subscriberID string) string {
	return fmt.Sprintf("%s%s", topicReconnectPrefix, subscriberID)
}
