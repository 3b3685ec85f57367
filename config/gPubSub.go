package config

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"sync"

	"cloud.google.com/go/pubsub"
	"github.com/sirupsen/logrus"
	"google.golang.org/api/option"
)

var (
	pubsubClient   *pubsub.Client
	pubsubClientMu sync.Mutex
)

func pubSubProjectID(s Settings) string {
	if s.PubSubProjectID != "" {
		return s.PubSubProjectID
	}
	if v := os.Getenv("GOOGLE_CLOUD_PROJECT"); v != "" {
		return v
	}
	return os.Getenv("GCP_PROJECT")
}

// GetPubSubClient returns the shared Pub/Sub client, creating it on first use.
// Uses Application Default Credentials unless PUBSUB_CREDENTIALS_JSON is set.
func GetPubSubClient(ctx context.Context, s Settings) (*pubsub.Client, error) {
	pubsubClientMu.Lock()
	defer pubsubClientMu.Unlock()
	if pubsubClient != nil {
		return pubsubClient, nil
	}

	projectID := pubSubProjectID(s)
	if projectID == "" {
		return nil, errors.New("PUBSUB_PROJECT_ID/GOOGLE_CLOUD_PROJECT not set")
	}
	var opts []option.ClientOption
	if s.PubSubCredentialsJSON != "" {
		opts = append(opts, option.WithCredentialsJSON([]byte(s.PubSubCredentialsJSON)))
	}
	c, err := pubsub.NewClient(ctx, projectID, opts...)
	if err != nil {
		return nil, err
	}
	pubsubClient = c
	logg.WithFields(logrus.Fields{"field": "PubSub", "project_id": projectID}).Info("pubsub client ready")
	return c, nil
}

func ClosePubSub() {
	pubsubClientMu.Lock()
	defer pubsubClientMu.Unlock()
	if pubsubClient != nil {
		_ = pubsubClient.Close()
		pubsubClient = nil
	}
}

// PublishJSON publishes obj to topic and waits for the server-assigned message id.
func PublishJSON(ctx context.Context, client *pubsub.Client, topicName string, obj interface{}, attrs map[string]string) (string, error) {
	if client == nil {
		return "", errors.New("pubsub client is nil")
	}
	if topicName == "" {
		return "", errors.New("topic is required")
	}
	data, err := json.Marshal(obj)
	if err != nil {
		return "", err
	}
	result := client.Topic(topicName).Publish(ctx, &pubsub.Message{
		Data:       data,
		Attributes: attrs,
	})
	return result.Get(ctx)
}
