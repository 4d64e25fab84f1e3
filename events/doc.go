// Package events defines the lifecycle event envelope, the publish/
// subscribe Bus contract implemented by stores, and Channel, a consumer
// that fans events out to registered callbacks in publish order.
//
// Delivery is at-least-once from the time of subscription: subscribers
// receive every event published after they attach, in publish order, and
// nothing before. There is no persistence beyond the subscriber's
// connected lifetime.
package events
