// Consumes flows from a Kafka instance and passes them to the following
// segments. Both bwNetFlow and plain goflow2 messages are accepted, as they
// share their field numbers.
package kafkaconsumer

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"log"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/Shopify/sarama"
	"github.com/bwNetFlow/flowanon/segments"
	flow "github.com/bwNetFlow/protobuf/go"
)

type KafkaConsumer struct {
	segments.BaseSegment
	Server  string // required
	Topic   string // required
	Group   string // required
	User    string // required if auth is true
	Pass    string // required if auth is true
	Tls     bool   // optional, default is true
	Auth    bool   // optional, default is true
	StartAt string // optional, one of "oldest" or "newest", default is "newest"

	saramaConfig *sarama.Config
}

func (segment KafkaConsumer) New(config map[string]string) segments.Segment {
	newsegment := &KafkaConsumer{}
	newsegment.saramaConfig = sarama.NewConfig()

	if config["server"] == "" || config["topic"] == "" || config["group"] == "" {
		log.Println("[error] KafkaConsumer: Missing required configuration parameters.")
		return nil
	}
	newsegment.Server = config["server"]
	newsegment.Topic = config["topic"]
	newsegment.Group = config["group"]

	newsegment.saramaConfig.Consumer.Group.Rebalance.Strategy = sarama.BalanceStrategySticky
	newsegment.saramaConfig.Version = sarama.V2_4_0_0

	var useTls bool = true
	if config["tls"] != "" {
		if parsedTls, err := strconv.ParseBool(config["tls"]); err == nil {
			useTls = parsedTls
		} else {
			log.Println("[error] KafkaConsumer: Could not parse 'tls' parameter, using default true.")
		}
	} else {
		log.Println("[info] KafkaConsumer: 'tls' set to default true.")
	}
	newsegment.Tls = useTls
	if newsegment.Tls {
		rootCAs, err := x509.SystemCertPool()
		if err != nil {
			log.Printf("[error] KafkaConsumer: TLS Error: %v", err)
			return nil
		}
		newsegment.saramaConfig.Net.TLS.Enable = true
		newsegment.saramaConfig.Net.TLS.Config = &tls.Config{RootCAs: rootCAs}
	} else {
		log.Println("[info] KafkaConsumer: Disabled TLS, operating unencrypted.")
	}

	var useAuth bool = true
	if config["auth"] != "" {
		if parsedAuth, err := strconv.ParseBool(config["auth"]); err == nil {
			useAuth = parsedAuth
		} else {
			log.Println("[error] KafkaConsumer: Could not parse 'auth' parameter, using default true.")
		}
	} else {
		log.Println("[info] KafkaConsumer: 'auth' set to default true.")
	}
	if useAuth && (config["user"] == "" || config["pass"] == "") {
		log.Println("[error] KafkaConsumer: Missing required configuration parameters for auth.")
		return nil
	}
	newsegment.User = config["user"]
	newsegment.Pass = config["pass"]
	newsegment.Auth = useAuth
	if newsegment.Auth {
		newsegment.saramaConfig.Net.SASL.Enable = true
		newsegment.saramaConfig.Net.SASL.User = newsegment.User
		newsegment.saramaConfig.Net.SASL.Password = newsegment.Pass
		log.Printf("[info] KafkaConsumer: Authenticating as user '%s'.", newsegment.User)
	} else {
		newsegment.saramaConfig.Net.SASL.Enable = false
		log.Println("[info] KafkaConsumer: Disabled auth.")
	}
	if newsegment.Auth && !newsegment.Tls {
		log.Println("[warning] KafkaConsumer: Authentication will be done in plain text!")
	}

	newsegment.StartAt = "newest"
	newsegment.saramaConfig.Consumer.Offsets.Initial = sarama.OffsetNewest
	switch strings.ToLower(config["startat"]) {
	case "":
		log.Println("[info] KafkaConsumer: 'startat' set to default 'newest'.")
	case "newest":
	case "oldest":
		newsegment.StartAt = "oldest"
		newsegment.saramaConfig.Consumer.Offsets.Initial = sarama.OffsetOldest
		log.Println("[info] KafkaConsumer: Starting at oldest flows.")
	default:
		log.Println("[error] KafkaConsumer: Could not parse 'startat' parameter, using default 'newest'.")
	}
	return newsegment
}

func (segment *KafkaConsumer) Run(wg *sync.WaitGroup) {
	defer func() {
		close(segment.Out)
		wg.Done()
	}()

	client, err := sarama.NewConsumerGroup(strings.Split(segment.Server, ","), segment.Group, segment.saramaConfig)
	if err != nil {
		log.Fatalf("[error] KafkaConsumer: Creating Kafka consumer group failed, this indicates an unreachable server or a TLS problem. Original error:\n  %v", err)
	}

	handlerCtx, handlerCancel := context.WithCancel(context.Background())
	var handler = &Handler{
		ready: make(chan bool),
		flows: make(chan *flow.FlowMessage),
	}
	handlerWg := sync.WaitGroup{}
	handlerWg.Add(1)
	go func() {
		defer handlerWg.Done()
		defer close(handler.flows)
		for {
			// recreates the consumer session after server side rebalances
			if err := client.Consume(handlerCtx, strings.Split(segment.Topic, ","), handler); err != nil {
				log.Printf("[error] KafkaConsumer: Could not create new consumer session, retry in 5s. Original error:\n  %v", err)
				time.Sleep(5 * time.Second)
			}
			if handlerCtx.Err() != nil {
				return
			}
			handler.ready = make(chan bool)
		}
	}()
	<-handler.ready
	log.Println("[info] KafkaConsumer: Connected and operational.")

	defer func() {
		handlerWg.Wait()
		if err = client.Close(); err != nil {
			log.Printf("[error] KafkaConsumer: Error closing Kafka client: %v", err)
		}
	}()

	in := segment.In
	for {
		select {
		case msg, ok := <-handler.flows:
			if !ok {
				return
			}
			segment.Out <- msg
		case msg, ok := <-in:
			if !ok {
				// stop consuming, remaining flows are forwarded until the handler is done
				handlerCancel()
				in = nil
				continue
			}
			segment.Out <- msg
		}
	}
}

func init() {
	segment := &KafkaConsumer{}
	segments.RegisterSegment("kafkaconsumer", segment)
}
