// Produces all received flows to a Kafka instance.
package kafkaproducer

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"log"
	"reflect"
	"strconv"
	"strings"
	"sync"

	"github.com/Shopify/sarama"
	"github.com/bwNetFlow/flowanon/segments"
	flow "github.com/bwNetFlow/protobuf/go"
	"google.golang.org/protobuf/proto"
)

// All configuration parameters are the same as in the kafkaconsumer segment,
// except for the 'topicsuffix' parameter. This parameter, if set, acts as a
// suffix that is appended to the topic that this segment will produce a given
// flow to. As a static suffix would not make much sense, it is interpreted as
// a flow message field name, which will be used to create different topics
// based on field contents. For instance, setting `topicsuffix: Proto` will
// yield separate topics for each different protocol number occuring in all
// flows.
type KafkaProducer struct {
	segments.BaseSegment
	Server      string // required
	Topic       string // required
	TopicSuffix string // optional, default is empty
	User        string // required if auth is true
	Pass        string // required if auth is true
	Tls         bool   // optional, default is true
	Auth        bool   // optional, default is true

	saramaConfig *sarama.Config
}

func (segment KafkaProducer) New(config map[string]string) segments.Segment {
	if config["server"] == "" || config["topic"] == "" {
		log.Println("[error] KafkaProducer: Missing required configuration parameters.")
		return nil
	}

	if config["topicsuffix"] != "" {
		if _, found := reflect.TypeOf(flow.FlowMessage{}).FieldByName(config["topicsuffix"]); !found {
			log.Println("[error] KafkaProducer: The 'topicsuffix' is not a valid FlowMessage field.")
			return nil
		}
	} else {
		log.Println("[info] KafkaProducer: 'topicsuffix' set to default disabled.")
	}

	var useTls bool = true
	if config["tls"] != "" {
		if parsedTls, err := strconv.ParseBool(config["tls"]); err == nil {
			useTls = parsedTls
		} else {
			log.Println("[error] KafkaProducer: Could not parse 'tls' parameter, using default true.")
		}
	} else {
		log.Println("[info] KafkaProducer: 'tls' set to default true.")
	}

	var useAuth bool = true
	if config["auth"] != "" {
		if parsedAuth, err := strconv.ParseBool(config["auth"]); err == nil {
			useAuth = parsedAuth
		} else {
			log.Println("[error] KafkaProducer: Could not parse 'auth' parameter, using default true.")
		}
	} else {
		log.Println("[info] KafkaProducer: 'auth' set to default true.")
	}
	if useAuth && (config["user"] == "" || config["pass"] == "") {
		log.Println("[error] KafkaProducer: Missing required configuration parameters for auth.")
		return nil
	}

	saramaConfig := sarama.NewConfig()
	saramaConfig.Version = sarama.V2_4_0_0
	saramaConfig.Producer.Return.Successes = false
	saramaConfig.Producer.Return.Errors = true
	if useTls {
		rootCAs, err := x509.SystemCertPool()
		if err != nil {
			log.Printf("[error] KafkaProducer: TLS Error: %v", err)
			return nil
		}
		saramaConfig.Net.TLS.Enable = true
		saramaConfig.Net.TLS.Config = &tls.Config{RootCAs: rootCAs}
	} else {
		log.Println("[info] KafkaProducer: Disabled TLS, operating unencrypted.")
	}
	if useAuth {
		saramaConfig.Net.SASL.Enable = true
		saramaConfig.Net.SASL.User = config["user"]
		saramaConfig.Net.SASL.Password = config["pass"]
		log.Printf("[info] KafkaProducer: Authenticating as user '%s'.", config["user"])
	} else {
		log.Println("[info] KafkaProducer: Disabled auth.")
	}
	if useAuth && !useTls {
		log.Println("[warning] KafkaProducer: Authentication will be done in plain text!")
	}

	return &KafkaProducer{
		Server:       config["server"],
		Topic:        config["topic"],
		TopicSuffix:  config["topicsuffix"],
		User:         config["user"],
		Pass:         config["pass"],
		Tls:          useTls,
		Auth:         useAuth,
		saramaConfig: saramaConfig,
	}
}

// returns the topic a flow is produced to
func (segment *KafkaProducer) topic(msg *flow.FlowMessage) string {
	if segment.TopicSuffix == "" {
		return segment.Topic
	}
	return segment.Topic + fmt.Sprint(reflect.ValueOf(msg).Elem().FieldByName(segment.TopicSuffix).Interface())
}

func (segment *KafkaProducer) Run(wg *sync.WaitGroup) {
	defer func() {
		close(segment.Out)
		wg.Done()
	}()

	producer, err := sarama.NewAsyncProducer(strings.Split(segment.Server, ","), segment.saramaConfig)
	if err != nil {
		log.Fatalf("[error] KafkaProducer: Creating Kafka producer failed, this indicates an unreachable server or a TLS problem. Original error:\n  %v", err)
	}
	errorsDone := make(chan struct{})
	go func() {
		for err := range producer.Errors() {
			log.Printf("[warning] KafkaProducer: Could not produce a flow: %v", err)
		}
		close(errorsDone)
	}()
	defer func() {
		producer.AsyncClose()
		<-errorsDone
	}()

	for msg := range segment.In {
		data, err := proto.Marshal(msg)
		if err != nil {
			log.Printf("[warning] KafkaProducer: Skipping a flow, failed to encode protobuf: %v", err)
			segment.Out <- msg
			continue
		}
		producer.Input() <- &sarama.ProducerMessage{
			Topic: segment.topic(msg),
			Value: sarama.ByteEncoder(data),
		}
		segment.Out <- msg
	}
}

func init() {
	segment := &KafkaProducer{}
	segments.RegisterSegment("kafkaproducer", segment)
}
