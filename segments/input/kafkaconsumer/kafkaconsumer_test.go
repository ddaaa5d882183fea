package kafkaconsumer

import (
	"testing"

	"github.com/Shopify/sarama"
)

func TestSegment_KafkaConsumer_instanciation(t *testing.T) {
	kafkaConsumer := &KafkaConsumer{}
	result := kafkaConsumer.New(map[string]string{})
	if result != nil {
		t.Error("Segment KafkaConsumer intiated successfully despite bad base config.")
	}

	result = kafkaConsumer.New(map[string]string{"server": "doh", "topic": "duh", "group": "yolo", "tls": "1"})
	if result != nil {
		t.Error("Segment KafkaConsumer intiated successfully despite bad auth config.")
	}

	result = kafkaConsumer.New(map[string]string{"server": "doh", "topic": "duh", "group": "yolo", "tls": "4", "auth": "maybe"})
	if result != nil {
		t.Error("Segment KafkaConsumer intiated successfully despite bad booleans in config.")
	}

	result = kafkaConsumer.New(map[string]string{"server": "doh", "topic": "duh", "group": "yolo", "auth": "0"})
	if result == nil {
		t.Error("Segment KafkaConsumer did not initiate successfully.")
	}
}

func TestSegment_KafkaConsumer_startat(t *testing.T) {
	kafkaConsumer := &KafkaConsumer{}
	result := kafkaConsumer.New(map[string]string{"server": "doh", "topic": "duh", "group": "yolo", "auth": "0", "tls": "0", "startat": "oldest"})
	if result == nil {
		t.Fatal("Segment KafkaConsumer did not initiate successfully.")
	}
	segment := result.(*KafkaConsumer)
	if segment.StartAt != "oldest" || segment.saramaConfig.Consumer.Offsets.Initial != sarama.OffsetOldest {
		t.Error("Segment KafkaConsumer did not apply 'startat'.")
	}
	if segment.saramaConfig.Net.TLS.Enable || segment.saramaConfig.Net.SASL.Enable {
		t.Error("Segment KafkaConsumer did not disable TLS and auth.")
	}
}
