package kafkaconsumer

import (
	"log"

	"github.com/Shopify/sarama"
	flow "github.com/bwNetFlow/protobuf/go"
	"google.golang.org/protobuf/proto"
)

// Handler represents a Sarama consumer group consumer
type Handler struct {
	ready chan bool
	flows chan *flow.FlowMessage
}

// Setup is run at the beginning of a new session, before ConsumeClaim
func (h *Handler) Setup(sarama.ConsumerGroupSession) error {
	close(h.ready)
	return nil
}

// Cleanup is run at the end of a session, once all ConsumeClaim goroutines have exited
func (h *Handler) Cleanup(sarama.ConsumerGroupSession) error {
	return nil
}

// ConsumeClaim must start a consumer loop of ConsumerGroupClaim's Messages().
func (h *Handler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	// ConsumeClaim already runs in its own goroutine
	for {
		select {
		case message, ok := <-claim.Messages():
			if !ok {
				return nil
			}
			session.MarkMessage(message, "")
			msg := &flow.FlowMessage{}
			if err := proto.Unmarshal(message.Value, msg); err != nil {
				log.Printf("[warning] KafkaConsumer: Skipping a flow, could not decode message at offset %d: %v", message.Offset, err)
				continue
			}
			select {
			case h.flows <- msg:
			case <-session.Context().Done():
				return nil
			}
		case <-session.Context().Done():
			return nil
		}
	}
}
