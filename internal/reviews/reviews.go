// Package reviews stores client ratings for providers. One review per
// client per provider, folded into the provider's listing aggregate.
package reviews

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/servly/servly-platform/pkg/logging"
)

// providerIndex is the GSI keyed on providerId.
const providerIndex = "provider-index"

const maxCommentLen = 1000

var (
	// ErrAlreadyReviewed indicates this user already reviewed this provider.
	ErrAlreadyReviewed = errors.New("reviews: provider already reviewed by this user")
	// ErrInvalidRating indicates a rating outside 1..5.
	ErrInvalidRating = errors.New("reviews: rating must be between 1 and 5")
)

// Review is one client's rating of a provider.
type Review struct {
	ID         string    `json:"id"`
	ProviderID string    `json:"providerId"`
	UserID     string    `json:"userId"`
	Rating     int       `json:"rating"`
	Comment    string    `json:"comment,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
}

// Validate checks the review fields.
func (r Review) Validate() error {
	if strings.TrimSpace(r.ProviderID) == "" {
		return errors.New("reviews: providerId is required")
	}
	if strings.TrimSpace(r.UserID) == "" {
		return errors.New("reviews: userId is required")
	}
	if r.Rating < 1 || r.Rating > 5 {
		return ErrInvalidRating
	}
	if len(r.Comment) > maxCommentLen {
		return fmt.Errorf("reviews: comment exceeds %d characters", maxCommentLen)
	}
	return nil
}

type reviewRecord struct {
	ID         string `dynamodbav:"id"`
	ProviderID string `dynamodbav:"providerId"`
	UserID     string `dynamodbav:"userId"`
	Rating     int    `dynamodbav:"rating"`
	Comment    string `dynamodbav:"comment,omitempty"`
	CreatedAt  string `dynamodbav:"createdAt"`
}

type dynamoAPI interface {
	PutItem(context.Context, *dynamodb.PutItemInput, ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	Query(context.Context, *dynamodb.QueryInput, ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
}

// Repository persists reviews to DynamoDB.
type Repository struct {
	client    dynamoAPI
	tableName string
	logger    *logging.Logger
}

// NewRepository builds a repository backed by the provided DynamoDB client.
func NewRepository(client dynamoAPI, tableName string, logger *logging.Logger) *Repository {
	if client == nil {
		panic("reviews: dynamodb client cannot be nil")
	}
	if tableName == "" {
		panic("reviews: table name cannot be empty")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Repository{client: client, tableName: tableName, logger: logger}
}

// reviewID derives the primary key. One review per user per provider
// falls out of the conditional insert on this key.
func reviewID(providerID, userID string) string {
	return providerID + "#" + userID
}

// Create validates and inserts a review.
func (r *Repository) Create(ctx context.Context, review *Review) error {
	if review == nil {
		return errors.New("reviews: review cannot be nil")
	}
	if err := review.Validate(); err != nil {
		return err
	}
	review.ID = reviewID(review.ProviderID, review.UserID)
	review.CreatedAt = time.Now().UTC()

	item, err := attributevalue.MarshalMap(reviewRecord{
		ID:         review.ID,
		ProviderID: review.ProviderID,
		UserID:     review.UserID,
		Rating:     review.Rating,
		Comment:    review.Comment,
		CreatedAt:  review.CreatedAt.Format(time.RFC3339Nano),
	})
	if err != nil {
		return fmt.Errorf("reviews: failed to marshal review: %w", err)
	}

	_, err = r.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(r.tableName),
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(id)"),
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return ErrAlreadyReviewed
		}
		return fmt.Errorf("reviews: failed to persist review: %w", err)
	}
	return nil
}

// ListByProvider returns a provider's reviews, newest first.
func (r *Repository) ListByProvider(ctx context.Context, providerID string) ([]Review, error) {
	if providerID == "" {
		return nil, errors.New("reviews: provider id required")
	}
	out, err := r.client.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(r.tableName),
		IndexName:              aws.String(providerIndex),
		KeyConditionExpression: aws.String("providerId = :pid"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pid": &types.AttributeValueMemberS{Value: providerID},
		},
		ScanIndexForward: aws.Bool(false),
	})
	if err != nil {
		return nil, fmt.Errorf("reviews: failed to list reviews: %w", err)
	}

	reviews := make([]Review, 0, len(out.Items))
	for _, item := range out.Items {
		var rec reviewRecord
		if err := attributevalue.UnmarshalMap(item, &rec); err != nil {
			return nil, fmt.Errorf("reviews: failed to decode review: %w", err)
		}
		created, _ := time.Parse(time.RFC3339Nano, rec.CreatedAt)
		reviews = append(reviews, Review{
			ID:         rec.ID,
			ProviderID: rec.ProviderID,
			UserID:     rec.UserID,
			Rating:     rec.Rating,
			Comment:    rec.Comment,
			CreatedAt:  created,
		})
	}
	return reviews, nil
}
