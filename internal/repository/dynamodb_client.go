package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"support-bridge/internal/domain"
)

const (
	pkPrefixUser = "USER#"
	skProfile    = "PROFILE"
)

// dynamodbAPI is the minimal DynamoDB interface required by Client.
// Defined here for testability.
type dynamodbAPI interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
}

// Client reads account profiles from a DynamoDB table keyed by email.
type Client struct {
	api       dynamodbAPI
	tableName string
}

// New creates a new repository Client.
func New(api dynamodbAPI, tableName string) (*Client, error) {
	if api == nil {
		return nil, errors.New("repository: api must not be nil")
	}
	if strings.TrimSpace(tableName) == "" {
		return nil, errors.New("repository: table name must not be empty")
	}
	return &Client{api: api, tableName: tableName}, nil
}

// accountPK returns the partition key for an email. Emails are matched
// case-insensitively.
func accountPK(email string) string {
	return pkPrefixUser + strings.ToLower(strings.TrimSpace(email))
}

// FindByEmail returns the account registered under email. found is false
// when no account exists.
func (c *Client) FindByEmail(ctx context.Context, email string) (account domain.Account, found bool, err error) {
	if strings.TrimSpace(email) == "" {
		return domain.Account{}, false, nil
	}
	out, err := c.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(c.tableName),
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: accountPK(email)},
			"SK": &types.AttributeValueMemberS{Value: skProfile},
		},
	})
	if err != nil {
		return domain.Account{}, false, fmt.Errorf("repository: FindByEmail get item: %w", err)
	}
	if out == nil || len(out.Item) == 0 {
		return domain.Account{}, false, nil
	}

	account, err = itemToAccount(out.Item)
	if err != nil {
		return domain.Account{}, false, fmt.Errorf("repository: FindByEmail unmarshal: %w", err)
	}
	return account, true, nil
}

// itemToAccount converts a DynamoDB attribute map to an Account.
func itemToAccount(item map[string]types.AttributeValue) (domain.Account, error) {
	id, err := strAttr(item, "userId")
	if err != nil {
		return domain.Account{}, err
	}
	email, err := strAttr(item, "email")
	if err != nil {
		return domain.Account{}, err
	}
	name, _ := strAttr(item, "name") // allow empty

	var createdAt time.Time
	if raw, err := strAttr(item, "createdAt"); err == nil && raw != "" {
		createdAt, err = time.Parse(time.RFC3339, raw)
		if err != nil {
			return domain.Account{}, fmt.Errorf("repository: parse attribute %q: %w", "createdAt", err)
		}
	}

	return domain.Account{
		ID:        id,
		Email:     email,
		Name:      name,
		CreatedAt: createdAt,
	}, nil
}

func strAttr(item map[string]types.AttributeValue, key string) (string, error) {
	v, ok := item[key]
	if !ok {
		return "", fmt.Errorf("repository: missing attribute %q", key)
	}
	s, ok := v.(*types.AttributeValueMemberS)
	if !ok {
		return "", fmt.Errorf("repository: attribute %q is not a string", key)
	}
	return s.Value, nil
}
