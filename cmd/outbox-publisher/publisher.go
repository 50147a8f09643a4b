package main

import (
	"context"
	"errors"

	gcppubsub "cloud.google.com/go/pubsub/v2"
)

type publisher interface {
	Publish(context.Context, *gcppubsub.Message) publishResult
	Stop()
}

type publishResult interface {
	Get(context.Context) (string, error)
}

func newGCPPublisher(p *gcppubsub.Publisher) publisher {
	if p == nil {
		return nil
	}
	return &gcpPublisher{pub: p}
}

type gcpPublisher struct {
	pub *gcppubsub.Publisher
}

func (p *gcpPublisher) Publish(ctx context.Context, msg *gcppubsub.Message) publishResult {
	return &gcpPublishResult{
		result:      p.pub.Publish(ctx, msg),
		pub:         p.pub,
		orderingKey: msg.OrderingKey,
	}
}

func (p *gcpPublisher) Stop() {
	p.pub.Stop()
}

type gcpPublishResult struct {
	result      *gcppubsub.PublishResult
	pub         *gcppubsub.Publisher
	orderingKey string
}

// Get waits for the server ack. A failed ordered publish pauses its key in the client, so the
// key is resumed before the error is returned and the next batch can retry it.
func (r *gcpPublishResult) Get(ctx context.Context) (string, error) {
	if r == nil || r.result == nil {
		return "", errors.New("publish result is nil")
	}
	id, err := r.result.Get(ctx)
	if err != nil && r.orderingKey != "" {
		r.pub.ResumePublish(r.orderingKey)
	}
	return id, err
}
