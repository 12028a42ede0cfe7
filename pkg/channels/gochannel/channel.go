// Package gochannel provides the in-process Watermill pub/sub used by single-node deployments and tests.
package gochannel

import (
	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
)

// CreateChannel returns one GoChannel acting as both publisher and subscriber.
//
// With blocking set, Publish waits until every subscriber acknowledged the
// message, which keeps run events in order for tests.
func CreateChannel(logger watermill.LoggerAdapter, blocking bool) (*gochannel.GoChannel, *gochannel.GoChannel) {
	buffer := int64(1000)
	if blocking {
		buffer = 10
	}

	pubSub := gochannel.NewGoChannel(
		gochannel.Config{
			OutputChannelBuffer:            buffer,
			Persistent:                     false,
			BlockPublishUntilSubscriberAck: blocking,
		},
		logger,
	)

	return pubSub, pubSub
}
