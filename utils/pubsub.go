package utils

import (
	"context"
	"errors"
	"fmt"

	appconfig "cashback-referral-system/config"

	"cloud.google.com/go/pubsub"
	"github.com/sirupsen/logrus"
	"google.golang.org/api/option"
)

// PubSubPublisher sends referrer notifications to a Pub/Sub topic. A mailer
// subscribed to the topic does the actual delivery.
type PubSubPublisher struct {
	client *pubsub.Client
	topic  *pubsub.Topic
	log    *logrus.Logger
}

// NewPubSubPublisher uses PUBSUB_CREDENTIALS_JSON when set and Application
// Default Credentials otherwise. The topic is created if missing.
func NewPubSubPublisher(ctx context.Context, cfg appconfig.PubSubConfig, log *logrus.Logger) (*PubSubPublisher, error) {
	if cfg.ProjectID == "" {
		return nil, errors.New("PUBSUB_PROJECT_ID/GOOGLE_CLOUD_PROJECT not set")
	}
	if cfg.NotifyTopic == "" {
		return nil, errors.New("notification topic is required")
	}

	var opts []option.ClientOption
	if cfg.CredentialsJSON != "" {
		opts = append(opts, option.WithCredentialsJSON([]byte(cfg.CredentialsJSON)))
	}
	client, err := pubsub.NewClient(ctx, cfg.ProjectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("pubsub client: %w", err)
	}

	topic := client.Topic(cfg.NotifyTopic)
	ok, err := topic.Exists(ctx)
	if err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("check topic %q: %w", cfg.NotifyTopic, err)
	}
	if !ok {
		if topic, err = client.CreateTopic(ctx, cfg.NotifyTopic); err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("create topic %q: %w", cfg.NotifyTopic, err)
		}
	}

	log.WithFields(logrus.Fields{"project_id": cfg.ProjectID, "topic": cfg.NotifyTopic}).Info("📣 pubsub publisher ready")
	return &PubSubPublisher{client: client, topic: topic, log: log}, nil
}

// Publish blocks until the server assigns a message id.
func (p *PubSubPublisher) Publish(ctx context.Context, data []byte, attrs map[string]string) (string, error) {
	result := p.topic.Publish(ctx, &pubsub.Message{Data: data, Attributes: attrs})
	return result.Get(ctx)
}

// Close flushes pending messages and releases the client.
func (p *PubSubPublisher) Close() error {
	p.topic.Stop()
	return p.client.Close()
}
