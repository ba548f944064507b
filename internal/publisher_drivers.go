package internal

import (
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/ThreeDotsLabs/watermill"
	wmamqp "github.com/ThreeDotsLabs/watermill-amqp/pkg/amqp"
	wmhttp "github.com/ThreeDotsLabs/watermill-http/v2/pkg/http"
	wmkafka "github.com/ThreeDotsLabs/watermill-kafka/pkg/kafka"
	wmnats "github.com/ThreeDotsLabs/watermill-nats/pkg/nats"
	wmsql "github.com/ThreeDotsLabs/watermill-sql/pkg/sql"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	stan "github.com/nats-io/stan.go"
)

// DriverBuilder builds the publisher behind one watermill.drivers entry.
type DriverBuilder func(cfg WatermillConfig, logger watermill.LoggerAdapter) (Publisher, error)

var driverBuilders = map[string]DriverBuilder{
	"gochannel":  buildGoChannel,
	"http":       buildHTTP,
	"kafka":      buildKafka,
	"nats":       buildNATS,
	"amqp":       buildAMQP,
	"sql":        buildSQL,
	"riverqueue": buildRiverQueue,
}

// RegisterDriver makes name usable in watermill.drivers. It replaces a
// builtin driver of the same name.
func RegisterDriver(name string, build DriverBuilder) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" || build == nil {
		return
	}
	driverBuilders[name] = build
}

func buildDriver(name string, cfg WatermillConfig, logger watermill.LoggerAdapter) (Publisher, error) {
	build, ok := driverBuilders[name]
	if !ok {
		return nil, fmt.Errorf("unsupported watermill driver: %s", name)
	}
	return build(cfg, logger)
}

func buildGoChannel(cfg WatermillConfig, logger watermill.LoggerAdapter) (Publisher, error) {
	pub := gochannel.NewGoChannel(gochannel.Config{
		OutputChannelBuffer:            cfg.GoChannel.OutputChannelBuffer,
		Persistent:                     cfg.GoChannel.Persistent,
		BlockPublishUntilSubscriberAck: cfg.GoChannel.BlockPublishUntilSubscriberAck,
	}, logger)
	return NewWatermillPublisher(pub, nil), nil
}

func buildHTTP(cfg WatermillConfig, logger watermill.LoggerAdapter) (Publisher, error) {
	target, err := httpTarget(cfg.HTTP)
	if err != nil {
		return nil, err
	}
	pub, err := wmhttp.NewPublisher(wmhttp.PublisherConfig{
		MarshalMessageFunc: func(topic string, msg *message.Message) (*http.Request, error) {
			url, err := target(topic)
			if err != nil {
				return nil, err
			}
			return wmhttp.DefaultMarshalMessageFunc(url, msg)
		},
	}, logger)
	if err != nil {
		return nil, err
	}
	return NewWatermillPublisher(pub, nil), nil
}

// httpTarget maps a topic to the request URL. In topic_url mode the topic
// is the URL; in base_url mode it is a path below base_url.
func httpTarget(cfg HTTPConfig) (func(topic string) (string, error), error) {
	switch strings.ToLower(cfg.Mode) {
	case "topic_url":
		return func(topic string) (string, error) {
			if topic == "" {
				return "", errors.New("http topic url is empty")
			}
			return topic, nil
		}, nil
	case "base_url":
		base := strings.TrimRight(cfg.BaseURL, "/")
		if base == "" {
			return nil, errors.New("http base_url is required for base_url mode")
		}
		return func(topic string) (string, error) {
			if topic = strings.TrimLeft(topic, "/"); topic == "" {
				return base, nil
			}
			return base + "/" + topic, nil
		}, nil
	default:
		return nil, fmt.Errorf("unsupported http mode: %q", cfg.Mode)
	}
}

func buildKafka(cfg WatermillConfig, logger watermill.LoggerAdapter) (Publisher, error) {
	if len(cfg.Kafka.Brokers) == 0 {
		return nil, errors.New("kafka brokers are required")
	}
	pub, err := wmkafka.NewPublisher(cfg.Kafka.Brokers, wmkafka.DefaultMarshaler{}, nil, logger)
	if err != nil {
		return nil, err
	}
	return NewWatermillPublisher(pub, nil), nil
}

func buildNATS(cfg WatermillConfig, logger watermill.LoggerAdapter) (Publisher, error) {
	if cfg.NATS.ClusterID == "" || cfg.NATS.ClientID == "" {
		return nil, errors.New("nats cluster_id and client_id are required")
	}
	natsCfg := wmnats.StreamingPublisherConfig{
		ClusterID: cfg.NATS.ClusterID,
		ClientID:  cfg.NATS.ClientID,
		Marshaler: wmnats.GobMarshaler{},
	}
	if cfg.NATS.URL != "" {
		natsCfg.StanOptions = []stan.Option{stan.NatsURL(cfg.NATS.URL)}
	}
	pub, err := wmnats.NewStreamingPublisher(natsCfg, logger)
	if err != nil {
		return nil, err
	}
	return NewWatermillPublisher(pub, nil), nil
}

var amqpModes = map[string]func(url string) wmamqp.Config{
	"":                  wmamqp.NewDurableQueueConfig,
	"durable_queue":     wmamqp.NewDurableQueueConfig,
	"nondurable_queue":  wmamqp.NewNonDurableQueueConfig,
	"durable_pubsub":    func(url string) wmamqp.Config { return wmamqp.NewDurablePubSubConfig(url, nil) },
	"nondurable_pubsub": func(url string) wmamqp.Config { return wmamqp.NewNonDurablePubSubConfig(url, nil) },
}

func amqpConfig(cfg AMQPConfig) (wmamqp.Config, error) {
	if cfg.URL == "" {
		return wmamqp.Config{}, errors.New("amqp url is required")
	}
	mode, ok := amqpModes[strings.ToLower(cfg.Mode)]
	if !ok {
		return wmamqp.Config{}, fmt.Errorf("unsupported amqp mode: %s", cfg.Mode)
	}
	return mode(cfg.URL), nil
}

func buildAMQP(cfg WatermillConfig, logger watermill.LoggerAdapter) (Publisher, error) {
	amqpCfg, err := amqpConfig(cfg.AMQP)
	if err != nil {
		return nil, err
	}
	pub, err := wmamqp.NewPublisher(amqpCfg, logger)
	if err != nil {
		return nil, err
	}
	return NewWatermillPublisher(pub, nil), nil
}

var sqlSchemas = map[string]wmsql.SchemaAdapter{
	"postgres":   wmsql.DefaultPostgreSQLSchema{},
	"postgresql": wmsql.DefaultPostgreSQLSchema{},
	"mysql":      wmsql.DefaultMySQLSchema{},
}

func buildSQL(cfg WatermillConfig, logger watermill.LoggerAdapter) (Publisher, error) {
	if cfg.SQL.Driver == "" || cfg.SQL.DSN == "" {
		return nil, errors.New("sql driver and dsn are required")
	}
	schema, ok := sqlSchemas[strings.ToLower(cfg.SQL.Dialect)]
	if !ok {
		return nil, fmt.Errorf("unsupported sql dialect: %s", cfg.SQL.Dialect)
	}
	db, err := sql.Open(cfg.SQL.Driver, cfg.SQL.DSN)
	if err != nil {
		return nil, err
	}
	pub, err := wmsql.NewPublisher(db, wmsql.PublisherConfig{
		SchemaAdapter:        schema,
		AutoInitializeSchema: cfg.SQL.AutoInitializeSchema,
	}, logger)
	if err != nil {
		return nil, errors.Join(err, db.Close())
	}
	return NewWatermillPublisher(pub, db.Close), nil
}

func buildRiverQueue(cfg WatermillConfig, _ watermill.LoggerAdapter) (Publisher, error) {
	return newRiverQueuePublisher(cfg.RiverQueue)
}
