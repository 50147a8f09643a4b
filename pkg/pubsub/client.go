package pubsub

import (
	"context"
	"errors"
	"fmt"
	"strings"

	pubsub "cloud.google.com/go/pubsub/v2"
	"cloud.google.com/go/pubsub/v2/apiv1/pubsubpb"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/angelmondragon/flashmart-backend/pkg/config"
	"github.com/angelmondragon/flashmart-backend/pkg/logger"
)

var (
	errProjectIDRequired = errors.New("gcp project id is required")
	errNoTopics          = errors.New("at least one pubsub topic is required")
	errNotInitialized    = errors.New("pubsub client not initialized")
)

type resourceKind string

const (
	kindTopic        resourceKind = "topics"
	kindSubscription resourceKind = "subscriptions"
)

// Client owns the Pub/Sub connection shared by the outbox relay (publishing) and the worker
// (subscribing). Topics are checked once at startup and again on every Ping.
type Client struct {
	client    *pubsub.Client
	projectID string
	topics    []string
	orders    string
}

func NewClient(ctx context.Context, gcp config.GCPConfig, cfg config.PubSubConfig, logg *logger.Logger) (*Client, error) {
	projectID := strings.TrimSpace(gcp.ProjectID)
	if projectID == "" {
		return nil, errProjectIDRequired
	}
	topics := TopicNames(cfg)
	if len(topics) == 0 {
		return nil, errNoTopics
	}

	raw, err := pubsub.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("creating pubsub client: %w", err)
	}
	c := &Client{
		client:    raw,
		projectID: projectID,
		topics:    topics,
		orders:    strings.TrimSpace(cfg.OrdersSubscription),
	}
	if err := c.checkTopics(ctx); err != nil {
		_ = raw.Close()
		return nil, err
	}

	if logg != nil {
		logg.Info(logg.WithFields(ctx, map[string]any{
			"project": projectID,
			"topics":  topics,
		}), "pubsub client initialized")
	}
	return c, nil
}

// TopicNames lists the configured topic IDs, skipping blanks.
func TopicNames(cfg config.PubSubConfig) []string {
	var names []string
	for _, name := range []string{cfg.OrdersTopic, cfg.DealsTopic, cfg.EscrowTopic} {
		if name = strings.TrimSpace(name); name != "" {
			names = append(names, name)
		}
	}
	return names
}

// Publisher returns an ordering-enabled publisher; events are keyed by their aggregate so one
// order's events arrive in sequence. Nil when the client or name is unusable.
func (c *Client) Publisher(name string) *pubsub.Publisher {
	if c == nil || c.client == nil {
		return nil
	}
	full := resourceName(kindTopic, c.projectID, name)
	if full == "" {
		return nil
	}
	pub := c.client.Publisher(full)
	pub.EnableMessageOrdering = true
	return pub
}

// Subscription accepts a bare ID or a full resource name.
func (c *Client) Subscription(name string) *pubsub.Subscriber {
	if c == nil || c.client == nil {
		return nil
	}
	full := resourceName(kindSubscription, c.projectID, name)
	if full == "" {
		return nil
	}
	return c.client.Subscriber(full)
}

// OrdersSubscription is nil when FLASHMART_PUBSUB_ORDERS_SUBSCRIPTION is blank.
func (c *Client) OrdersSubscription() *pubsub.Subscriber {
	if c == nil {
		return nil
	}
	return c.Subscription(c.orders)
}

func (c *Client) EnsureSubscription(ctx context.Context, name string) error {
	if c == nil || c.client == nil {
		return errNotInitialized
	}
	return c.check(ctx, kindSubscription, name)
}

func (c *Client) Ping(ctx context.Context) error {
	if c == nil || c.client == nil {
		return errNotInitialized
	}
	return c.checkTopics(ctx)
}

func (c *Client) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Close()
}

func (c *Client) checkTopics(ctx context.Context) error {
	for _, name := range c.topics {
		if err := c.check(ctx, kindTopic, name); err != nil {
			return err
		}
	}
	return nil
}

// check asks the admin API whether a topic or subscription exists. Missing resources are
// reported separately from transport failures so operators see which one to create.
func (c *Client) check(ctx context.Context, kind resourceKind, name string) error {
	full := resourceName(kind, c.projectID, name)
	if full == "" {
		return fmt.Errorf("%s %q not configured", kind, name)
	}
	var err error
	switch kind {
	case kindTopic:
		_, err = c.client.TopicAdminClient.GetTopic(ctx, &pubsubpb.GetTopicRequest{Topic: full})
	case kindSubscription:
		_, err = c.client.SubscriptionAdminClient.GetSubscription(ctx, &pubsubpb.GetSubscriptionRequest{Subscription: full})
	}
	switch {
	case err == nil:
		return nil
	case status.Code(err) == codes.NotFound:
		return fmt.Errorf("%s %q does not exist", kind, name)
	default:
		return fmt.Errorf("checking %s %q: %w", kind, name, err)
	}
}

// resourceName expands an ID to projects/<p>/<kind>/<id>. Names that are already fully qualified
// for the same kind pass through untouched, even when they point at another project.
func resourceName(kind resourceKind, projectID, name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return ""
	}
	if strings.HasPrefix(name, "projects/") && strings.Contains(name, "/"+string(kind)+"/") {
		return name
	}
	projectID = strings.TrimSpace(projectID)
	if projectID == "" {
		return ""
	}
	return "projects/" + projectID + "/" + string(kind) + "/" + name
}
