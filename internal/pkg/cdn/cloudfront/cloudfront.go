// Package cloudfront implements the invalidation boundary on a CloudFront distribution.
package cloudfront

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudfront"
	"github.com/aws/aws-sdk-go-v2/service/cloudfront/types"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	cdn2 "github.com/unbasical/webship/pkg/cdn"
)

// defaultWildcardThreshold is the batch size above which individual paths
// are collapsed into a single wildcard invalidation. CloudFront bills per
// path, a wildcard counts as one.
const defaultWildcardThreshold = 30

// Invalidator submits invalidations to one CloudFront distribution.
type Invalidator struct {
	client            *cloudfront.Client
	distributionID    string
	wildcardThreshold int
}

// Option configures an Invalidator.
type Option func(*Invalidator)

// WithWildcardThreshold overrides the batch size above which the whole
// distribution is invalidated with a single wildcard.
func WithWildcardThreshold(n int) Option {
	return func(i *Invalidator) {
		if n > 0 {
			i.wildcardThreshold = n
		}
	}
}

// New returns an invalidator for the given distribution. Credentials come
// from the injected aws.Config only.
func New(awsCfg aws.Config, distributionID string, opts ...Option) *Invalidator {
	inv := &Invalidator{
		client:            cloudfront.NewFromConfig(awsCfg),
		distributionID:    distributionID,
		wildcardThreshold: defaultWildcardThreshold,
	}
	for _, opt := range opts {
		opt(inv)
	}
	return inv
}

func (i *Invalidator) Name() string {
	return fmt.Sprintf("cloudfront:%s", i.distributionID)
}

// Submit creates one invalidation for the batch. Every call uses a fresh
// caller reference, so resubmitting the same batch after a transient
// failure yields an independent, harmless invalidation.
func (i *Invalidator) Submit(ctx context.Context, paths []string) (string, error) {
	items := invalidationPaths(paths, i.wildcardThreshold)
	out, err := i.client.CreateInvalidation(ctx, &cloudfront.CreateInvalidationInput{
		DistributionId: aws.String(i.distributionID),
		InvalidationBatch: &types.InvalidationBatch{
			CallerReference: aws.String(uuid.NewString()),
			Paths: &types.Paths{
				Items:    items,
				Quantity: aws.Int32(int32(len(items))),
			},
		},
	})
	if err != nil {
		return "", fmt.Errorf("failed to create invalidation on %q: %w", i.distributionID, err)
	}
	id := aws.ToString(out.Invalidation.Id)
	log.Debugf("created invalidation %q with %d items", id, len(items))
	return id, nil
}

// Status polls one invalidation. CloudFront only reports InProgress and
// Completed; anything else is treated as still pending.
func (i *Invalidator) Status(ctx context.Context, id string) (cdn2.Status, error) {
	out, err := i.client.GetInvalidation(ctx, &cloudfront.GetInvalidationInput{
		DistributionId: aws.String(i.distributionID),
		Id:             aws.String(id),
	})
	if err != nil {
		return cdn2.StatusPending, fmt.Errorf("failed to get invalidation %q: %w", id, err)
	}
	if aws.ToString(out.Invalidation.Status) == "Completed" {
		return cdn2.StatusDone, nil
	}
	return cdn2.StatusPending, nil
}

// invalidationPaths maps published paths to CloudFront invalidation items.
// Items are "/"-prefixed; batches above the threshold collapse to "/*".
func invalidationPaths(paths []string, wildcardThreshold int) []string {
	if len(paths) > wildcardThreshold {
		return []string{"/*"}
	}
	items := make([]string, 0, len(paths))
	for _, p := range paths {
		items = append(items, "/"+p)
	}
	return items
}
