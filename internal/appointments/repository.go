package appointments

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

const (
	userIndex     = "user-index"
	providerIndex = "provider-index"
)

type dynamoAPI interface {
	PutItem(context.Context, *dynamodb.PutItemInput, ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	GetItem(context.Context, *dynamodb.GetItemInput, ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	UpdateItem(context.Context, *dynamodb.UpdateItemInput, ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	DeleteItem(context.Context, *dynamodb.DeleteItemInput, ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	Query(context.Context, *dynamodb.QueryInput, ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
}

type appointmentRecord struct {
	ID         string `dynamodbav:"id"`
	ProviderID string `dynamodbav:"providerId"`
	UserID     string `dynamodbav:"userId"`
	TemplateID string `dynamodbav:"templateId"`
	Date       string `dynamodbav:"date"`
	Service    string `dynamodbav:"service,omitempty"`
	Status     string `dynamodbav:"status"`
	CreatedAt  string `dynamodbav:"createdAt"`
}

// Repository persists appointments to DynamoDB.
type Repository struct {
	client    dynamoAPI
	tableName string
	logger    *logging.Logger
}

// NewRepository builds a repository backed by the provided DynamoDB client.
func NewRepository(client dynamoAPI, tableName string, logger *logging.Logger) *Repository {
	if client == nil {
		panic("appointments: dynamodb client cannot be nil")
	}
	if tableName == "" {
		panic("appointments: table name cannot be empty")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Repository{client: client, tableName: tableName, logger: logger}
}

// Create inserts a new appointment, assigning id and creation time. The
// conditional put keeps a retried create from duplicating the record.
func (r *Repository) Create(ctx context.Context, appt *Appointment) error {
	if appt == nil {
		return errors.New("appointments: appointment cannot be nil")
	}
	if appt.ID == "" {
		appt.ID = uuid.NewString()
	}
	if appt.Status == "" {
		appt.Status = StatusReserved
	}
	appt.CreatedAt = time.Now().UTC()

	item, err := attributevalue.MarshalMap(toRecord(*appt))
	if err != nil {
		return fmt.Errorf("appointments: failed to marshal appointment: %w", err)
	}

	_, err = r.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(r.tableName),
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(id)"),
	})
	if err != nil {
		return fmt.Errorf("appointments: failed to persist appointment: %w", err)
	}
	return nil
}

// Get fetches one appointment by id.
func (r *Repository) Get(ctx context.Context, id string) (*Appointment, error) {
	if id == "" {
		return nil, errors.New("appointments: appointment id required")
	}
	out, err := r.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(r.tableName),
		Key: map[string]types.AttributeValue{
			"id": &types.AttributeValueMemberS{Value: id},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("appointments: failed to fetch appointment: %w", err)
	}
	if out.Item == nil {
		return nil, ErrAppointmentNotFound
	}

	var rec appointmentRecord
	if err := attributevalue.UnmarshalMap(out.Item, &rec); err != nil {
		return nil, fmt.Errorf("appointments: failed to decode appointment: %w", err)
	}
	appt := fromRecord(rec)
	return &appt, nil
}

// UpdateStatus transitions an appointment's status.
func (r *Repository) UpdateStatus(ctx context.Context, id string, status Status) error {
	if id == "" {
		return errors.New("appointments: appointment id required")
	}
	_, err := r.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: aws.String(r.tableName),
		Key: map[string]types.AttributeValue{
			"id": &types.AttributeValueMemberS{Value: id},
		},
		UpdateExpression: aws.String("SET #status = :status"),
		ExpressionAttributeNames: map[string]string{
			"#status": "status",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":status": &types.AttributeValueMemberS{Value: string(status)},
		},
		ConditionExpression: aws.String("attribute_exists(id)"),
	})
	if err != nil {
		var conditional *types.ConditionalCheckFailedException
		if errors.As(err, &conditional) {
			return ErrAppointmentNotFound
		}
		return fmt.Errorf("appointments: failed to update status of %s: %w", id, err)
	}
	return nil
}

// Delete hard-deletes an appointment record.
func (r *Repository) Delete(ctx context.Context, id string) error {
	if id == "" {
		return errors.New("appointments: appointment id required")
	}
	_, err := r.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(r.tableName),
		Key: map[string]types.AttributeValue{
			"id": &types.AttributeValueMemberS{Value: id},
		},
		ConditionExpression: aws.String("attribute_exists(id)"),
	})
	if err != nil {
		var conditional *types.ConditionalCheckFailedException
		if errors.As(err, &conditional) {
			return ErrAppointmentNotFound
		}
		return fmt.Errorf("appointments: failed to delete appointment %s: %w", id, err)
	}
	return nil
}

// ListByUser returns a user's appointments, newest first.
func (r *Repository) ListByUser(ctx context.Context, userID string) ([]Appointment, error) {
	return r.listByIndex(ctx, userIndex, "userId = :key", userID)
}

// ListByProvider returns a provider's appointments, newest first.
func (r *Repository) ListByProvider(ctx context.Context, providerID string) ([]Appointment, error) {
	return r.listByIndex(ctx, providerIndex, "providerId = :key", providerID)
}

func (r *Repository) listByIndex(ctx context.Context, index, keyCondition, key string) ([]Appointment, error) {
	if key == "" {
		return nil, errors.New("appointments: query key required")
	}
	out, err := r.client.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(r.tableName),
		IndexName:              aws.String(index),
		KeyConditionExpression: aws.String(keyCondition),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":key": &types.AttributeValueMemberS{Value: key},
		},
		ScanIndexForward: aws.Bool(false),
	})
	if err != nil {
		return nil, fmt.Errorf("appointments: failed to query %s: %w", index, err)
	}

	appts := make([]Appointment, 0, len(out.Items))
	for _, item := range out.Items {
		var rec appointmentRecord
		if err := attributevalue.UnmarshalMap(item, &rec); err != nil {
			return nil, fmt.Errorf("appointments: failed to decode appointment: %w", err)
		}
		appts = append(appts, fromRecord(rec))
	}
	return appts, nil
}

func toRecord(appt Appointment) appointmentRecord {
	return appointmentRecord{
		ID:         appt.ID,
		ProviderID: appt.ProviderID,
		UserID:     appt.UserID,
		TemplateID: appt.TemplateID,
		Date:       appt.Date.UTC().Format(time.RFC3339),
		Service:    appt.Service,
		Status:     string(appt.Status),
		CreatedAt:  appt.CreatedAt.Format(time.RFC3339Nano),
	}
}

func fromRecord(rec appointmentRecord) Appointment {
	date, _ := time.Parse(time.RFC3339, rec.Date)
	createdAt, _ := time.Parse(time.RFC3339Nano, rec.CreatedAt)
	return Appointment{
		ID:         rec.ID,
		ProviderID: rec.ProviderID,
		UserID:     rec.UserID,
		TemplateID: rec.TemplateID,
		Date:       date,
		Service:    rec.Service,
		Status:     Status(rec.Status),
		CreatedAt:  createdAt,
	}
}
