package webhook

import (
	"testing"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/require"

	"github.com/safe-global/safe-transaction-service-sub001/internal/config"
)

func TestRequiredAcks(t *testing.T) {
	require.Equal(t, kafka.RequireNone, requiredAcks("none"))
	require.Equal(t, kafka.RequireOne, requiredAcks("one"))
	require.Equal(t, kafka.RequireAll, requiredAcks("all"))
	require.Equal(t, kafka.RequireAll, requiredAcks(""), "unrecognized values default to the strictest ack level")
}

func TestNewPublisher_PrefixesTopic(t *testing.T) {
	p := NewPublisher(config.KafkaConfig{Brokers: []string{"localhost:9092"}, TopicPrefix: "dev", RequiredAcks: "all"}, nil)
	require.Equal(t, "dev_safe-events", p.writer.Topic)
}

func TestNewPublisher_NoPrefix(t *testing.T) {
	p := NewPublisher(config.KafkaConfig{Brokers: []string{"localhost:9092"}, RequiredAcks: "all"}, nil)
	require.Equal(t, "safe-events", p.writer.Topic)
}
