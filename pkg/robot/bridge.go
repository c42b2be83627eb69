package robot

import (
	"fmt"

	"github.com/teslashibe/go-navtest/pkg/protocol"
)

// Publisher is the part of the bridge client used for velocity output.
type Publisher interface {
	Advertise(topic, rosType string) error
	Publish(topic string, msg interface{}) error
}

// BridgeVelocity implements VelocityPublisher by publishing
// geometry_msgs/Twist on a bridge topic (default /cmd_vel).
type BridgeVelocity struct {
	pub   Publisher
	topic string
}

// NewBridgeVelocity advertises topic and returns a publisher for it.
// An empty topic means /cmd_vel.
func NewBridgeVelocity(pub Publisher, topic string) (*BridgeVelocity, error) {
	if topic == "" {
		topic = protocol.TopicCmdVel
	}
	if err := pub.Advertise(topic, protocol.TypeTwist); err != nil {
		return nil, fmt.Errorf("failed to advertise %s: %w", topic, err)
	}
	return &BridgeVelocity{pub: pub, topic: topic}, nil
}

// PublishVelocity sends cmd as a Twist.
func (b *BridgeVelocity) PublishVelocity(cmd Twist) error {
	return b.pub.Publish(b.topic, cmd.Msg())
}

// Ensure BridgeVelocity implements VelocityPublisher
var _ VelocityPublisher = (*BridgeVelocity)(nil)
