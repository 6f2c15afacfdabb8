package messaging

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"

	"github.com/servly/servly-platform/pkg/logging"
)

const (
	// clientIndex is the GSI keyed on clientId.
	clientIndex = "client-index"
	// providerUserIndex is the GSI keyed on providerUserId.
	providerUserIndex = "provider-user-index"
	// threadIndex is the GSI on the messages table keyed on threadId with
	// createdAt as the sort key.
	threadIndex = "thread-index"
)

type dynamoAPI interface {
	PutItem(context.Context, *dynamodb.PutItemInput, ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	GetItem(context.Context, *dynamodb.GetItemInput, ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	UpdateItem(context.Context, *dynamodb.UpdateItemInput, ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	Query(context.Context, *dynamodb.QueryInput, ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
}

type threadRecord struct {
	ID           string `dynamodbav:"id"`
	ProviderID   string `dynamodbav:"providerId"`
	ClientID     string `dynamodbav:"clientId"`
	ProviderUser string `dynamodbav:"providerUserId"`
	LastPreview  string `dynamodbav:"lastPreview,omitempty"`
	LastActiveAt string `dynamodbav:"lastActiveAt"`
	CreatedAt    string `dynamodbav:"createdAt"`
}

type messageRecord struct {
	ID            string `dynamodbav:"id"`
	ThreadID      string `dynamodbav:"threadId"`
	SenderID      string `dynamodbav:"senderId"`
	Body          string `dynamodbav:"body,omitempty"`
	AttachmentURL string `dynamodbav:"attachmentUrl,omitempty"`
	CreatedAt     string `dynamodbav:"createdAt"`
}

// Repository persists chat threads and messages to DynamoDB. Threads
// and messages live in separate tables.
type Repository struct {
	client        dynamoAPI
	threadsTable  string
	messagesTable string
	logger        *logging.Logger
}

// NewRepository builds a repository backed by the provided DynamoDB client.
func NewRepository(client dynamoAPI, threadsTable, messagesTable string, logger *logging.Logger) *Repository {
	if client == nil {
		panic("messaging: dynamodb client cannot be nil")
	}
	if threadsTable == "" || messagesTable == "" {
		panic("messaging: table names cannot be empty")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Repository{client: client, threadsTable: threadsTable, messagesTable: messagesTable, logger: logger}
}

// threadID derives the thread key. One thread per client and provider.
func threadID(providerID, clientID string) string {
	return providerID + "#" + clientID
}

// EnsureThread creates the thread for a client and provider if it does
// not exist yet, and returns it either way.
func (r *Repository) EnsureThread(ctx context.Context, providerID, clientID, providerUserID string) (*Thread, error) {
	if providerID == "" || clientID == "" || providerUserID == "" {
		return nil, errors.New("messaging: provider, client and owner ids required")
	}

	now := time.Now().UTC()
	thread := &Thread{
		ID:           threadID(providerID, clientID),
		ProviderID:   providerID,
		ClientID:     clientID,
		ProviderUser: providerUserID,
		LastActiveAt: now,
		CreatedAt:    now,
	}

	item, err := attributevalue.MarshalMap(toThreadRecord(*thread))
	if err != nil {
		return nil, fmt.Errorf("messaging: failed to marshal thread: %w", err)
	}

	_, err = r.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(r.threadsTable),
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(id)"),
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if !errors.As(err, &ccf) {
			return nil, fmt.Errorf("messaging: failed to persist thread: %w", err)
		}
		return r.GetThread(ctx, thread.ID)
	}
	return thread, nil
}

// GetThread fetches one thread by id.
func (r *Repository) GetThread(ctx context.Context, id string) (*Thread, error) {
	if id == "" {
		return nil, errors.New("messaging: thread id required")
	}
	out, err := r.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(r.threadsTable),
		Key: map[string]types.AttributeValue{
			"id": &types.AttributeValueMemberS{Value: id},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("messaging: failed to fetch thread: %w", err)
	}
	if out.Item == nil {
		return nil, ErrThreadNotFound
	}

	var rec threadRecord
	if err := attributevalue.UnmarshalMap(out.Item, &rec); err != nil {
		return nil, fmt.Errorf("messaging: failed to decode thread: %w", err)
	}
	thread := fromThreadRecord(rec)
	return &thread, nil
}

// ListThreads returns every thread the user participates in, most
// recently active first. The user may appear as client on some threads
// and as provider owner on others, so both indexes are queried.
func (r *Repository) ListThreads(ctx context.Context, userID string) ([]Thread, error) {
	if userID == "" {
		return nil, errors.New("messaging: user id required")
	}

	asClient, err := r.queryThreads(ctx, clientIndex, "clientId", userID)
	if err != nil {
		return nil, err
	}
	asOwner, err := r.queryThreads(ctx, providerUserIndex, "providerUserId", userID)
	if err != nil {
		return nil, err
	}

	threads := append(asClient, asOwner...)
	sort.Slice(threads, func(i, j int) bool {
		return threads[i].LastActiveAt.After(threads[j].LastActiveAt)
	})
	return threads, nil
}

func (r *Repository) queryThreads(ctx context.Context, index, keyAttr, userID string) ([]Thread, error) {
	out, err := r.client.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(r.threadsTable),
		IndexName:              aws.String(index),
		KeyConditionExpression: aws.String(keyAttr + " = :uid"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":uid": &types.AttributeValueMemberS{Value: userID},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("messaging: failed to list threads: %w", err)
	}

	threads := make([]Thread, 0, len(out.Items))
	for _, item := range out.Items {
		var rec threadRecord
		if err := attributevalue.UnmarshalMap(item, &rec); err != nil {
			return nil, fmt.Errorf("messaging: failed to decode thread: %w", err)
		}
		threads = append(threads, fromThreadRecord(rec))
	}
	return threads, nil
}

// AppendMessage validates and stores a message, then refreshes the
// thread's activity fields. The thread update is best effort; the
// message is already durable when it runs.
func (r *Repository) AppendMessage(ctx context.Context, msg *Message) error {
	if msg == nil {
		return errors.New("messaging: message cannot be nil")
	}
	if err := msg.Validate(); err != nil {
		return err
	}
	if msg.ThreadID == "" || msg.SenderID == "" {
		return errors.New("messaging: thread and sender ids required")
	}
	msg.ID = uuid.NewString()
	msg.CreatedAt = time.Now().UTC()

	item, err := attributevalue.MarshalMap(messageRecord{
		ID:            msg.ID,
		ThreadID:      msg.ThreadID,
		SenderID:      msg.SenderID,
		Body:          msg.Body,
		AttachmentURL: msg.AttachmentURL,
		CreatedAt:     msg.CreatedAt.Format(time.RFC3339Nano),
	})
	if err != nil {
		return fmt.Errorf("messaging: failed to marshal message: %w", err)
	}

	_, err = r.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(r.messagesTable),
		Item:      item,
	})
	if err != nil {
		return fmt.Errorf("messaging: failed to persist message: %w", err)
	}

	_, err = r.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: aws.String(r.threadsTable),
		Key: map[string]types.AttributeValue{
			"id": &types.AttributeValueMemberS{Value: msg.ThreadID},
		},
		UpdateExpression: aws.String("SET lastPreview = :preview, lastActiveAt = :active"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":preview": &types.AttributeValueMemberS{Value: msg.Preview()},
			":active":  &types.AttributeValueMemberS{Value: msg.CreatedAt.Format(time.RFC3339Nano)},
		},
	})
	if err != nil {
		r.logger.Warn("failed to refresh thread activity", "error", err, "thread_id", msg.ThreadID)
	}
	return nil
}

// ListMessages returns a thread's messages, newest first.
func (r *Repository) ListMessages(ctx context.Context, threadID string) ([]Message, error) {
	if threadID == "" {
		return nil, errors.New("messaging: thread id required")
	}
	out, err := r.client.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(r.messagesTable),
		IndexName:              aws.String(threadIndex),
		KeyConditionExpression: aws.String("threadId = :tid"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":tid": &types.AttributeValueMemberS{Value: threadID},
		},
		ScanIndexForward: aws.Bool(false),
	})
	if err != nil {
		return nil, fmt.Errorf("messaging: failed to list messages: %w", err)
	}

	messages := make([]Message, 0, len(out.Items))
	for _, item := range out.Items {
		var rec messageRecord
		if err := attributevalue.UnmarshalMap(item, &rec); err != nil {
			return nil, fmt.Errorf("messaging: failed to decode message: %w", err)
		}
		created, _ := time.Parse(time.RFC3339Nano, rec.CreatedAt)
		messages = append(messages, Message{
			ID:            rec.ID,
			ThreadID:      rec.ThreadID,
			SenderID:      rec.SenderID,
			Body:          rec.Body,
			AttachmentURL: rec.AttachmentURL,
			CreatedAt:     created,
		})
	}
	return messages, nil
}

func toThreadRecord(t Thread) threadRecord {
	return threadRecord{
		ID:           t.ID,
		ProviderID:   t.ProviderID,
		ClientID:     t.ClientID,
		ProviderUser: t.ProviderUser,
		LastPreview:  t.LastPreview,
		LastActiveAt: t.LastActiveAt.Format(time.RFC3339Nano),
		CreatedAt:    t.CreatedAt.Format(time.RFC3339Nano),
	}
}

func fromThreadRecord(rec threadRecord) Thread {
	lastActive, _ := time.Parse(time.RFC3339Nano, rec.LastActiveAt)
	created, _ := time.Parse(time.RFC3339Nano, rec.CreatedAt)
	return Thread{
		ID:           rec.ID,
		ProviderID:   rec.ProviderID,
		ClientID:     rec.ClientID,
		ProviderUser: rec.ProviderUser,
		LastPreview:  rec.LastPreview,
		LastActiveAt: lastActive,
		CreatedAt:    created,
	}
}
