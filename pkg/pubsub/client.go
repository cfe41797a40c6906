// Package pubsub resolves the settlement topics and subscriptions on Pub/Sub.
package pubsub

import (
	"context"
	"errors"
	"fmt"
	"strings"

	pubsub "cloud.google.com/go/pubsub/v2"
	"cloud.google.com/go/pubsub/v2/apiv1/pubsubpb"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/digistore1/digistore-backend/pkg/config"
	"github.com/digistore1/digistore-backend/pkg/logger"
)

type resourceKind string

const (
	kindTopic        resourceKind = "topics"
	kindSubscription resourceKind = "subscriptions"
)

var (
	errProjectIDRequired = errors.New("gcp project id is required")
	errNoTopics          = errors.New("pubsub topic name is required")
	errNotInitialized    = errors.New("pubsub client not initialized")
)

type Client struct {
	ps      *pubsub.Client
	project string
	topics  []string
	logg    *logger.Logger
}

// NewClient connects to Pub/Sub and fails if any configured topic is missing.
func NewClient(ctx context.Context, gcp config.GCPConfig, cfg config.PubSubConfig, logg *logger.Logger) (*Client, error) {
	project := strings.TrimSpace(gcp.ProjectID)
	if project == "" {
		return nil, errProjectIDRequired
	}
	topics := topicNames(cfg)
	if len(topics) == 0 {
		return nil, errNoTopics
	}

	ps, err := pubsub.NewClient(ctx, project, clientOptions(gcp)...)
	if err != nil {
		return nil, fmt.Errorf("pubsub client: %w", err)
	}
	if logg == nil {
		logg = logger.Nop()
	}
	c := &Client{ps: ps, project: project, topics: topics, logg: logg}
	if err := c.Ping(ctx); err != nil {
		_ = ps.Close()
		return nil, err
	}
	logg.Info(logg.WithField(ctx, "topics", strings.Join(topics, ",")), "pubsub ready")
	return c, nil
}

func clientOptions(gcp config.GCPConfig) []option.ClientOption {
	if raw := strings.TrimSpace(gcp.CredentialsJSON); raw != "" {
		return []option.ClientOption{option.WithCredentialsJSON([]byte(raw))}
	}
	if path := strings.TrimSpace(gcp.ApplicationCredentials); path != "" {
		return []option.ClientOption{option.WithCredentialsFile(path)}
	}
	return nil
}

func topicNames(cfg config.PubSubConfig) []string {
	var names []string
	for _, name := range []string{cfg.OrdersTopic, cfg.NotificationTopic, cfg.IncidentsTopic} {
		if trimmed := strings.TrimSpace(name); trimmed != "" {
			names = append(names, trimmed)
		}
	}
	return names
}

// Ping checks every configured topic still exists.
func (c *Client) Ping(ctx context.Context) error {
	if c == nil || c.ps == nil {
		return errNotInitialized
	}
	for _, name := range c.topics {
		_, err := c.ps.TopicAdminClient.GetTopic(ctx, &pubsubpb.GetTopicRequest{
			Topic: resourceName(c.project, kindTopic, name),
		})
		if err := describeLookup(kindTopic, name, err); err != nil {
			return err
		}
	}
	return nil
}

// Publisher returns a handle for a topic id or full resource name.
func (c *Client) Publisher(name string) *pubsub.Publisher {
	full := c.resolve(kindTopic, name)
	if full == "" {
		return nil
	}
	return c.ps.Publisher(full)
}

// Subscription returns a receiver for a subscription id or full resource name.
func (c *Client) Subscription(name string) *pubsub.Subscriber {
	full := c.resolve(kindSubscription, name)
	if full == "" {
		return nil
	}
	return c.ps.Subscriber(full)
}

// EnsureSubscription fails when the subscription is missing. Subscriptions
// without message ordering are accepted but logged, since outbox events are
// published with ordering keys.
func (c *Client) EnsureSubscription(ctx context.Context, name string) error {
	full := c.resolve(kindSubscription, name)
	if full == "" {
		if c == nil || c.ps == nil {
			return errNotInitialized
		}
		return fmt.Errorf("subscription %q not configured", name)
	}
	sub, err := c.ps.SubscriptionAdminClient.GetSubscription(ctx, &pubsubpb.GetSubscriptionRequest{Subscription: full})
	if err := describeLookup(kindSubscription, name, err); err != nil {
		return err
	}
	if !sub.GetEnableMessageOrdering() {
		c.logg.Warn(c.logg.WithField(ctx, "subscription", full), "subscription does not preserve ordering keys")
	}
	return nil
}

func (c *Client) Close() error {
	if c == nil || c.ps == nil {
		return nil
	}
	return c.ps.Close()
}

func (c *Client) resolve(kind resourceKind, name string) string {
	if c == nil || c.ps == nil {
		return ""
	}
	return resourceName(c.project, kind, name)
}

func describeLookup(kind resourceKind, name string, err error) error {
	switch {
	case err == nil:
		return nil
	case status.Code(err) == codes.NotFound:
		return fmt.Errorf("%s %q does not exist", strings.TrimSuffix(string(kind), "s"), name)
	default:
		return fmt.Errorf("lookup %s %q: %w", strings.TrimSuffix(string(kind), "s"), name, err)
	}
}

// resourceName expands a short id into projects/<project>/<kind>/<id>.
// Names that are already fully qualified pass through.
func resourceName(project string, kind resourceKind, name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return ""
	}
	if strings.HasPrefix(name, "projects/") && strings.Contains(name, "/"+string(kind)+"/") {
		return name
	}
	project = strings.TrimSpace(project)
	if project == "" {
		return ""
	}
	return "projects/" + project + "/" + string(kind) + "/" + name
}
