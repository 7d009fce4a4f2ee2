// Package dynamo implements a Directory backed by an AWS DynamoDB table.
package dynamo

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/shineum/smtp-gateway/internal/directory"
)

// Attribute names of a tenant item. The table's partition key is "id" (S).
const (
	attrID     = "id"
	attrSecret = "secret"
	attrEmail  = "email"
)

// Config holds the configuration for creating a Directory.
type Config struct {
	Table           string
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	// Endpoint overrides the service endpoint, e.g. for DynamoDB Local.
	Endpoint string
}

// GetItemAPI is the interface for the DynamoDB GetItem operation.
// Used for testing with mock implementations.
type GetItemAPI interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
}

// Directory looks tenants up with a strongly consistent GetItem.
type Directory struct {
	table  string
	client GetItemAPI
}

// New creates a Directory using the default AWS credential chain, or static
// credentials when both keys are set.
func New(ctx context.Context, cfg Config) (*Directory, error) {
	var opts []func(*awsconfig.LoadOptions) error

	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := dynamodb.NewFromConfig(awsCfg, func(o *dynamodb.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})

	return NewWithClient(cfg.Table, client), nil
}

// NewWithClient creates a Directory with a custom client, used for testing.
func NewWithClient(table string, client GetItemAPI) *Directory {
	return &Directory{
		table:  table,
		client: client,
	}
}

// Lookup fetches the item whose id equals the tenant id.
func (d *Directory) Lookup(ctx context.Context, id string) (directory.Tenant, error) {
	out, err := d.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(d.table),
		Key: map[string]types.AttributeValue{
			attrID: &types.AttributeValueMemberS{Value: id},
		},
		ConsistentRead:       aws.Bool(true),
		ProjectionExpression: aws.String("#s, #e"),
		ExpressionAttributeNames: map[string]string{
			"#s": attrSecret,
			"#e": attrEmail,
		},
	})
	if err != nil {
		return directory.Tenant{}, fmt.Errorf("dynamodb lookup of tenant %q: %w", id, err)
	}
	if len(out.Item) == 0 {
		return directory.Tenant{}, fmt.Errorf("tenant %q: %w", id, directory.ErrNotFound)
	}

	secret, err := stringAttr(out.Item, attrSecret)
	if err != nil {
		return directory.Tenant{}, fmt.Errorf("tenant %q: %w", id, err)
	}
	email, _ := stringAttr(out.Item, attrEmail)

	return directory.Tenant{
		ID:     id,
		Secret: secret,
		Email:  email,
	}, nil
}

// Name returns the backend name.
func (d *Directory) Name() string {
	return "dynamodb"
}

func stringAttr(item map[string]types.AttributeValue, name string) (string, error) {
	v, ok := item[name]
	if !ok {
		return "", fmt.Errorf("attribute %q missing", name)
	}
	s, ok := v.(*types.AttributeValueMemberS)
	if !ok {
		return "", fmt.Errorf("attribute %q is %T, want string", name, v)
	}
	return s.Value, nil
}
