package availability

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"
	"github.com/servly/servly-platform/pkg/logging"
)

// providerIndex is the GSI keyed on providerId.
const providerIndex = "provider-index"

// ErrTemplateNotFound indicates the referenced template no longer exists.
var ErrTemplateNotFound = errors.New("availability: template not found")

type dynamoAPI interface {
	PutItem(context.Context, *dynamodb.PutItemInput, ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	GetItem(context.Context, *dynamodb.GetItemInput, ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	UpdateItem(context.Context, *dynamodb.UpdateItemInput, ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	DeleteItem(context.Context, *dynamodb.DeleteItemInput, ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	Query(context.Context, *dynamodb.QueryInput, ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
}

// templateRecord is the document-store shape of a Template. The store is
// schemaless; this struct is the typed boundary.
type templateRecord struct {
	ID          string         `dynamodbav:"id"`
	ProviderID  string         `dynamodbav:"providerId"`
	DayOfWeek   string         `dynamodbav:"dayOfWeek"`
	StartTime   string         `dynamodbav:"startTime"`
	EndTime     string         `dynamodbav:"endTime"`
	BookedDates []DateOverride `dynamodbav:"bookedDates,omitempty"`
	CreatedAt   string         `dynamodbav:"createdAt"`
	UpdatedAt   string         `dynamodbav:"updatedAt"`
}

// Repository persists availability templates to DynamoDB.
type Repository struct {
	client    dynamoAPI
	tableName string
	logger    *logging.Logger
}

// NewRepository builds a repository backed by the provided DynamoDB client.
func NewRepository(client dynamoAPI, tableName string, logger *logging.Logger) *Repository {
	if client == nil {
		panic("availability: dynamodb client cannot be nil")
	}
	if tableName == "" {
		panic("availability: table name cannot be empty")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Repository{client: client, tableName: tableName, logger: logger}
}

// Create validates and inserts a new template, assigning its id and
// timestamps.
func (r *Repository) Create(ctx context.Context, tpl *Template) error {
	if tpl == nil {
		return errors.New("availability: template cannot be nil")
	}
	if err := tpl.Validate(); err != nil {
		return err
	}
	if tpl.ID == "" {
		tpl.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	tpl.CreatedAt = now
	tpl.UpdatedAt = now

	item, err := attributevalue.MarshalMap(toRecord(*tpl))
	if err != nil {
		return fmt.Errorf("availability: failed to marshal template: %w", err)
	}

	_, err = r.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(r.tableName),
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(id)"),
	})
	if err != nil {
		return fmt.Errorf("availability: failed to persist template: %w", err)
	}
	return nil
}

// Get fetches one template by id.
func (r *Repository) Get(ctx context.Context, id string) (*Template, error) {
	if id == "" {
		return nil, errors.New("availability: template id required")
	}
	out, err := r.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(r.tableName),
		Key: map[string]types.AttributeValue{
			"id": &types.AttributeValueMemberS{Value: id},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("availability: failed to fetch template: %w", err)
	}
	if out.Item == nil {
		return nil, ErrTemplateNotFound
	}

	var rec templateRecord
	if err := attributevalue.UnmarshalMap(out.Item, &rec); err != nil {
		return nil, fmt.Errorf("availability: failed to decode template: %w", err)
	}
	tpl := fromRecord(rec)
	return &tpl, nil
}

// ListByProvider returns every template belonging to the provider.
func (r *Repository) ListByProvider(ctx context.Context, providerID string) ([]Template, error) {
	if providerID == "" {
		return nil, errors.New("availability: provider id required")
	}
	out, err := r.client.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(r.tableName),
		IndexName:              aws.String(providerIndex),
		KeyConditionExpression: aws.String("providerId = :provider"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":provider": &types.AttributeValueMemberS{Value: providerID},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("availability: failed to query templates: %w", err)
	}

	templates := make([]Template, 0, len(out.Items))
	for _, item := range out.Items {
		var rec templateRecord
		if err := attributevalue.UnmarshalMap(item, &rec); err != nil {
			return nil, fmt.Errorf("availability: failed to decode template: %w", err)
		}
		templates = append(templates, fromRecord(rec))
	}
	return templates, nil
}

// SaveOverrides replaces the template's bookedDates attribute as a whole.
// The write is last-write-wins at the attribute level: concurrent callers
// race and the final state is whichever write lands last.
func (r *Repository) SaveOverrides(ctx context.Context, id string, overrides []DateOverride) error {
	if id == "" {
		return errors.New("availability: template id required")
	}
	overridesAttr, err := attributevalue.Marshal(overrides)
	if err != nil {
		return fmt.Errorf("availability: failed to marshal overrides: %w", err)
	}

	_, err = r.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: aws.String(r.tableName),
		Key: map[string]types.AttributeValue{
			"id": &types.AttributeValueMemberS{Value: id},
		},
		UpdateExpression: aws.String("SET bookedDates = :overrides, updatedAt = :updated"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":overrides": overridesAttr,
			":updated":   &types.AttributeValueMemberS{Value: time.Now().UTC().Format(time.RFC3339Nano)},
		},
		ConditionExpression: aws.String("attribute_exists(id)"),
	})
	if err != nil {
		var conditional *types.ConditionalCheckFailedException
		if errors.As(err, &conditional) {
			return ErrTemplateNotFound
		}
		return fmt.Errorf("availability: failed to update overrides for %s: %w", id, err)
	}
	return nil
}

// Delete removes a template. Historical appointments referencing it are
// unaffected.
func (r *Repository) Delete(ctx context.Context, id string) error {
	if id == "" {
		return errors.New("availability: template id required")
	}
	_, err := r.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(r.tableName),
		Key: map[string]types.AttributeValue{
			"id": &types.AttributeValueMemberS{Value: id},
		},
	})
	if err != nil {
		return fmt.Errorf("availability: failed to delete template %s: %w", id, err)
	}
	return nil
}

func toRecord(tpl Template) templateRecord {
	return templateRecord{
		ID:          tpl.ID,
		ProviderID:  tpl.ProviderID,
		DayOfWeek:   tpl.DayOfWeek,
		StartTime:   tpl.StartTime,
		EndTime:     tpl.EndTime,
		BookedDates: tpl.BookedDates,
		CreatedAt:   tpl.CreatedAt.Format(time.RFC3339Nano),
		UpdatedAt:   tpl.UpdatedAt.Format(time.RFC3339Nano),
	}
}

func fromRecord(rec templateRecord) Template {
	createdAt, _ := time.Parse(time.RFC3339Nano, rec.CreatedAt)
	updatedAt, _ := time.Parse(time.RFC3339Nano, rec.UpdatedAt)
	return Template{
		ID:          rec.ID,
		ProviderID:  rec.ProviderID,
		DayOfWeek:   rec.DayOfWeek,
		StartTime:   rec.StartTime,
		EndTime:     rec.EndTime,
		BookedDates: rec.BookedDates,
		CreatedAt:   createdAt,
		UpdatedAt:   updatedAt,
	}
}
