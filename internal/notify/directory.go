package notify

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/servly/servly-platform/pkg/logging"
)

type dynamoAPI interface {
	GetItem(context.Context, *dynamodb.GetItemInput, ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
}

type contactRecord struct {
	UserID string `dynamodbav:"userId"`
	Email  string `dynamodbav:"email"`
	Name   string `dynamodbav:"name,omitempty"`
}

// ContactDirectory resolves contacts from the user_contacts table, which the
// auth backend keeps in sync with its user pool. Returns nil when no table
// is configured, leaving notifications push-only.
type ContactDirectory struct {
	client    dynamoAPI
	tableName string
	logger    *logging.Logger
}

func NewContactDirectory(client dynamoAPI, tableName string, logger *logging.Logger) *ContactDirectory {
	if client == nil || tableName == "" {
		return nil
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &ContactDirectory{client: client, tableName: tableName, logger: logger}
}

// Lookup fetches the contact for a user. A missing record is not an error;
// it resolves to an empty contact and the caller skips email.
func (d *ContactDirectory) Lookup(ctx context.Context, userID string) (Contact, error) {
	if userID == "" {
		return Contact{}, nil
	}
	out, err := d.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(d.tableName),
		Key: map[string]types.AttributeValue{
			"userId": &types.AttributeValueMemberS{Value: userID},
		},
	})
	if err != nil {
		return Contact{}, fmt.Errorf("notify: failed to fetch contact: %w", err)
	}
	if out.Item == nil {
		return Contact{}, nil
	}

	var rec contactRecord
	if err := attributevalue.UnmarshalMap(out.Item, &rec); err != nil {
		return Contact{}, fmt.Errorf("notify: failed to decode contact: %w", err)
	}
	return Contact{Email: rec.Email, Name: rec.Name}, nil
}
