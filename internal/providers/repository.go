package providers

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
	"github.com/google/uuid"

	"github.com/servly/servly-platform/pkg/logging"
)

const (
	// userIndex is the GSI keyed on userId. One profile per user.
	userIndex = "user-index"
	// serviceIndex is the GSI keyed on the normalized service category.
	serviceIndex = "service-index"
)

// ErrProfileNotFound indicates the provider profile does not exist.
var ErrProfileNotFound = errors.New("providers: profile not found")

// ErrProfileExists indicates the user already has a provider profile.
var ErrProfileExists = errors.New("providers: user already has a profile")

type dynamoAPI interface {
	PutItem(context.Context, *dynamodb.PutItemInput, ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	GetItem(context.Context, *dynamodb.GetItemInput, ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	UpdateItem(context.Context, *dynamodb.UpdateItemInput, ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	Query(context.Context, *dynamodb.QueryInput, ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
}

type profileRecord struct {
	ID          string `dynamodbav:"id"`
	UserID      string `dynamodbav:"userId"`
	Name        string `dynamodbav:"name"`
	Service     string `dynamodbav:"service"`
	City        string `dynamodbav:"city"`
	Bio         string `dynamodbav:"bio,omitempty"`
	AvatarURL   string `dynamodbav:"avatarUrl,omitempty"`
	RatingSum   int    `dynamodbav:"ratingSum"`
	ReviewCount int    `dynamodbav:"reviewCount"`
	CreatedAt   string `dynamodbav:"createdAt"`
	UpdatedAt   string `dynamodbav:"updatedAt"`
}

// Repository persists provider profiles to DynamoDB.
type Repository struct {
	client    dynamoAPI
	tableName string
	logger    *logging.Logger
}

// NewRepository builds a repository backed by the provided DynamoDB client.
func NewRepository(client dynamoAPI, tableName string, logger *logging.Logger) *Repository {
	if client == nil {
		panic("providers: dynamodb client cannot be nil")
	}
	if tableName == "" {
		panic("providers: table name cannot be empty")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Repository{client: client, tableName: tableName, logger: logger}
}

// Create validates and inserts a new profile. A user gets at most one.
func (r *Repository) Create(ctx context.Context, profile *Profile) error {
	if profile == nil {
		return errors.New("providers: profile cannot be nil")
	}
	profile.Service = NormalizeService(profile.Service)
	if err := profile.Validate(); err != nil {
		return err
	}

	if existing, err := r.GetByUser(ctx, profile.UserID); err == nil && existing != nil {
		return ErrProfileExists
	} else if err != nil && !errors.Is(err, ErrProfileNotFound) {
		return err
	}

	if profile.ID == "" {
		profile.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	profile.CreatedAt = now
	profile.UpdatedAt = now

	item, err := attributevalue.MarshalMap(toRecord(*profile))
	if err != nil {
		return fmt.Errorf("providers: failed to marshal profile: %w", err)
	}

	_, err = r.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(r.tableName),
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(id)"),
	})
	if err != nil {
		return fmt.Errorf("providers: failed to persist profile: %w", err)
	}
	return nil
}

// Get fetches one profile by id.
func (r *Repository) Get(ctx context.Context, id string) (*Profile, error) {
	if id == "" {
		return nil, errors.New("providers: profile id required")
	}
	out, err := r.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(r.tableName),
		Key: map[string]types.AttributeValue{
			"id": &types.AttributeValueMemberS{Value: id},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("providers: failed to fetch profile: %w", err)
	}
	if out.Item == nil {
		return nil, ErrProfileNotFound
	}

	var rec profileRecord
	if err := attributevalue.UnmarshalMap(out.Item, &rec); err != nil {
		return nil, fmt.Errorf("providers: failed to decode profile: %w", err)
	}
	profile := fromRecord(rec)
	return &profile, nil
}

// GetByUser fetches the profile owned by a user, if any.
func (r *Repository) GetByUser(ctx context.Context, userID string) (*Profile, error) {
	if userID == "" {
		return nil, errors.New("providers: user id required")
	}
	out, err := r.client.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(r.tableName),
		IndexName:              aws.String(userIndex),
		KeyConditionExpression: aws.String("userId = :uid"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":uid": &types.AttributeValueMemberS{Value: userID},
		},
		Limit: aws.Int32(1),
	})
	if err != nil {
		return nil, fmt.Errorf("providers: failed to query profile by user: %w", err)
	}
	if len(out.Items) == 0 {
		return nil, ErrProfileNotFound
	}

	var rec profileRecord
	if err := attributevalue.UnmarshalMap(out.Items[0], &rec); err != nil {
		return nil, fmt.Errorf("providers: failed to decode profile: %w", err)
	}
	profile := fromRecord(rec)
	return &profile, nil
}

// Search lists profiles for a service category, optionally narrowed to a
// city. Matching is exact on the normalized category.
func (r *Repository) Search(ctx context.Context, service, city string) ([]Profile, error) {
	service = NormalizeService(service)
	if service == "" {
		return nil, errors.New("providers: service category required")
	}

	// "service" is a reserved word in expressions.
	input := &dynamodb.QueryInput{
		TableName:              aws.String(r.tableName),
		IndexName:              aws.String(serviceIndex),
		KeyConditionExpression: aws.String("#svc = :svc"),
		ExpressionAttributeNames: map[string]string{
			"#svc": "service",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":svc": &types.AttributeValueMemberS{Value: service},
		},
	}
	if city = strings.TrimSpace(city); city != "" {
		input.FilterExpression = aws.String("city = :city")
		input.ExpressionAttributeValues[":city"] = &types.AttributeValueMemberS{Value: city}
	}

	out, err := r.client.Query(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("providers: failed to search profiles: %w", err)
	}

	profiles := make([]Profile, 0, len(out.Items))
	for _, item := range out.Items {
		var rec profileRecord
		if err := attributevalue.UnmarshalMap(item, &rec); err != nil {
			return nil, fmt.Errorf("providers: failed to decode profile: %w", err)
		}
		profiles = append(profiles, fromRecord(rec))
	}
	return profiles, nil
}

// Update rewrites the mutable listing fields of an existing profile.
func (r *Repository) Update(ctx context.Context, profile *Profile) error {
	if profile == nil || profile.ID == "" {
		return errors.New("providers: profile id required")
	}
	profile.Service = NormalizeService(profile.Service)
	if err := profile.Validate(); err != nil {
		return err
	}
	profile.UpdatedAt = time.Now().UTC()

	_, err := r.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: aws.String(r.tableName),
		Key: map[string]types.AttributeValue{
			"id": &types.AttributeValueMemberS{Value: profile.ID},
		},
		UpdateExpression: aws.String(
			"SET #name = :name, #svc = :svc, city = :city, bio = :bio, avatarUrl = :avatar, updatedAt = :updated"),
		ExpressionAttributeNames: map[string]string{
			"#name": "name",
			"#svc":  "service",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":name":    &types.AttributeValueMemberS{Value: profile.Name},
			":svc":     &types.AttributeValueMemberS{Value: profile.Service},
			":city":    &types.AttributeValueMemberS{Value: profile.City},
			":bio":     &types.AttributeValueMemberS{Value: profile.Bio},
			":avatar":  &types.AttributeValueMemberS{Value: profile.AvatarURL},
			":updated": &types.AttributeValueMemberS{Value: profile.UpdatedAt.Format(time.RFC3339Nano)},
		},
		ConditionExpression: aws.String("attribute_exists(id)"),
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return ErrProfileNotFound
		}
		return fmt.Errorf("providers: failed to update profile: %w", err)
	}
	return nil
}

// AddRating folds one review rating into the profile's aggregate.
func (r *Repository) AddRating(ctx context.Context, profileID string, rating int) error {
	if profileID == "" {
		return errors.New("providers: profile id required")
	}
	_, err := r.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: aws.String(r.tableName),
		Key: map[string]types.AttributeValue{
			"id": &types.AttributeValueMemberS{Value: profileID},
		},
		UpdateExpression: aws.String(
			"ADD ratingSum :rating, reviewCount :one SET updatedAt = :updated"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":rating":  &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", rating)},
			":one":     &types.AttributeValueMemberN{Value: "1"},
			":updated": &types.AttributeValueMemberS{Value: time.Now().UTC().Format(time.RFC3339Nano)},
		},
		ConditionExpression: aws.String("attribute_exists(id)"),
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return ErrProfileNotFound
		}
		return fmt.Errorf("providers: failed to add rating: %w", err)
	}
	return nil
}

// ProviderOwner returns the user that owns a profile. Satisfies the
// messaging handler's directory.
func (r *Repository) ProviderOwner(ctx context.Context, providerID string) (string, error) {
	profile, err := r.Get(ctx, providerID)
	if err != nil {
		return "", err
	}
	return profile.UserID, nil
}

// OwnsProvider reports whether userID owns the given profile. Satisfies
// the availability handler's ownership check.
func (r *Repository) OwnsProvider(ctx context.Context, userID, providerID string) (bool, error) {
	profile, err := r.Get(ctx, providerID)
	if err != nil {
		if errors.Is(err, ErrProfileNotFound) {
			return false, nil
		}
		return false, err
	}
	return profile.UserID == userID, nil
}

func toRecord(p Profile) profileRecord {
	return profileRecord{
		ID:          p.ID,
		UserID:      p.UserID,
		Name:        p.Name,
		Service:     p.Service,
		City:        p.City,
		Bio:         p.Bio,
		AvatarURL:   p.AvatarURL,
		RatingSum:   p.RatingSum,
		ReviewCount: p.ReviewCount,
		CreatedAt:   p.CreatedAt.Format(time.RFC3339Nano),
		UpdatedAt:   p.UpdatedAt.Format(time.RFC3339Nano),
	}
}

func fromRecord(rec profileRecord) Profile {
	created, _ := time.Parse(time.RFC3339Nano, rec.CreatedAt)
	updated, _ := time.Parse(time.RFC3339Nano, rec.UpdatedAt)
	return Profile{
		ID:          rec.ID,
		UserID:      rec.UserID,
		Name:        rec.Name,
		Service:     rec.Service,
		City:        rec.City,
		Bio:         rec.Bio,
		AvatarURL:   rec.AvatarURL,
		RatingSum:   rec.RatingSum,
		ReviewCount: rec.ReviewCount,
		CreatedAt:   created,
		UpdatedAt:   updated,
	}
}
