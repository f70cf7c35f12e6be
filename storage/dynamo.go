package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/dynamodb"

	"github.com/keyfission/realm-backend/interfaces"
)

// DynamoBackend implements the secret store over a DynamoDB table. The table
// uses a single string partition key "pk"; record items carry a "version"
// number attribute that backs the conditional-write token natively through
// DynamoDB condition expressions.
type DynamoBackend struct {
	client      *dynamodb.DynamoDB
	table       string
	realm       interfaces.RealmID
	log         *slog.Logger
	locationURI string
}

const (
	dynamoAttrKey     = "pk"
	dynamoAttrVersion = "version"
	dynamoAttrRecord  = "record"
	dynamoAttrSecret  = "secret"
)

// NewDynamoBackend creates a backend for the given table. An empty endpoint
// uses the regular AWS endpoint for the region; a custom endpoint supports
// DynamoDB Local and compatible stores.
func NewDynamoBackend(table, region, endpoint string, realm interfaces.RealmID, log *slog.Logger) (*DynamoBackend, error) {
	cfg := aws.NewConfig().WithRegion(region)
	if endpoint != "" {
		cfg = cfg.WithEndpoint(endpoint)
	}

	sess, err := session.NewSession(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create AWS session: %w", err)
	}

	return &DynamoBackend{
		client:      dynamodb.New(sess),
		table:       table,
		realm:       realm,
		log:         log,
		locationURI: fmt.Sprintf("dynamodb://%s?region=%s", table, region),
	}, nil
}

// ResolveTenantKey reads the raw signing key item for (tenant, version).
func (b *DynamoBackend) ResolveTenantKey(ctx context.Context, tenant interfaces.TenantName, version string) ([]byte, error) {
	out, err := b.client.GetItemWithContext(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(b.table),
		ConsistentRead: aws.Bool(true),
		Key: map[string]*dynamodb.AttributeValue{
			dynamoAttrKey: {S: aws.String(TenantKeyID(tenant, version))},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", interfaces.ErrStoreUnavailable, err)
	}
	if out.Item == nil {
		return nil, interfaces.ErrTenantKeyNotFound
	}

	secret, ok := out.Item[dynamoAttrSecret]
	if !ok || secret.B == nil {
		return nil, fmt.Errorf("%w: tenant key item missing secret attribute", interfaces.ErrStoreUnavailable)
	}
	return secret.B, nil
}

// LoadRecord returns the stored record and its version token. Reads are
// strongly consistent: a stale read here could hand out a free guess.
func (b *DynamoBackend) LoadRecord(ctx context.Context, tenant interfaces.TenantName, user interfaces.UserID) (*interfaces.UserRecord, interfaces.RecordVersion, error) {
	out, err := b.client.GetItemWithContext(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(b.table),
		ConsistentRead: aws.Bool(true),
		Key: map[string]*dynamodb.AttributeValue{
			dynamoAttrKey: {S: aws.String(RecordKeyID(b.realm, tenant, user))},
		},
	})
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %v", interfaces.ErrStoreUnavailable, err)
	}
	if out.Item == nil {
		return nil, 0, interfaces.ErrRecordAbsent
	}

	versionAttr, ok := out.Item[dynamoAttrVersion]
	if !ok || versionAttr.N == nil {
		return nil, 0, fmt.Errorf("%w: record item missing version attribute", interfaces.ErrStoreUnavailable)
	}
	version, err := strconv.ParseUint(*versionAttr.N, 10, 64)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: corrupt record version: %v", interfaces.ErrStoreUnavailable, err)
	}

	recordAttr, ok := out.Item[dynamoAttrRecord]
	if !ok || recordAttr.B == nil {
		// Tombstone left by DeleteRecord: the version chain continues but no
		// record exists.
		return nil, interfaces.RecordVersion(version), interfaces.ErrRecordAbsent
	}

	var record interfaces.UserRecord
	if err := json.Unmarshal(recordAttr.B, &record); err != nil {
		return nil, 0, fmt.Errorf("%w: corrupt record: %v", interfaces.ErrStoreUnavailable, err)
	}
	return &record, interfaces.RecordVersion(version), nil
}

// CompareAndSwapRecord writes the record through a conditional PutItem.
// expected == 0 requires the item to not exist; otherwise the stored version
// attribute must still match.
func (b *DynamoBackend) CompareAndSwapRecord(ctx context.Context, tenant interfaces.TenantName, user interfaces.UserID, expected interfaces.RecordVersion, record *interfaces.UserRecord) error {
	payload, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("%w: encode record: %v", interfaces.ErrStoreUnavailable, err)
	}

	input := &dynamodb.PutItemInput{
		TableName: aws.String(b.table),
		Item: map[string]*dynamodb.AttributeValue{
			dynamoAttrKey:     {S: aws.String(RecordKeyID(b.realm, tenant, user))},
			dynamoAttrVersion: {N: aws.String(strconv.FormatUint(uint64(expected)+1, 10))},
			dynamoAttrRecord:  {B: payload},
		},
	}

	if expected == 0 {
		input.ConditionExpression = aws.String("attribute_not_exists(pk)")
	} else {
		input.ConditionExpression = aws.String("#v = :expected")
		input.ExpressionAttributeNames = map[string]*string{"#v": aws.String(dynamoAttrVersion)}
		input.ExpressionAttributeValues = map[string]*dynamodb.AttributeValue{
			":expected": {N: aws.String(strconv.FormatUint(uint64(expected), 10))},
		}
	}

	if _, err := b.client.PutItemWithContext(ctx, input); err != nil {
		var awsErr awserr.Error
		if errors.As(err, &awsErr) && awsErr.Code() == dynamodb.ErrCodeConditionalCheckFailedException {
			return interfaces.ErrRecordConflict
		}
		return fmt.Errorf("%w: %v", interfaces.ErrStoreUnavailable, err)
	}
	return nil
}

// DeleteRecord strips the record payload while advancing the version
// attribute in one conditional update, leaving a tombstone item. The
// condition makes an absent or already-deleted record a no-op.
func (b *DynamoBackend) DeleteRecord(ctx context.Context, tenant interfaces.TenantName, user interfaces.UserID) error {
	_, err := b.client.UpdateItemWithContext(ctx, &dynamodb.UpdateItemInput{
		TableName: aws.String(b.table),
		Key: map[string]*dynamodb.AttributeValue{
			dynamoAttrKey: {S: aws.String(RecordKeyID(b.realm, tenant, user))},
		},
		UpdateExpression:    aws.String("REMOVE #r ADD #v :one"),
		ConditionExpression: aws.String("attribute_exists(#r)"),
		ExpressionAttributeNames: map[string]*string{
			"#r": aws.String(dynamoAttrRecord),
			"#v": aws.String(dynamoAttrVersion),
		},
		ExpressionAttributeValues: map[string]*dynamodb.AttributeValue{
			":one": {N: aws.String("1")},
		},
	})
	if err != nil {
		var awsErr awserr.Error
		if errors.As(err, &awsErr) && awsErr.Code() == dynamodb.ErrCodeConditionalCheckFailedException {
			return nil
		}
		return fmt.Errorf("%w: %v", interfaces.ErrStoreUnavailable, err)
	}
	return nil
}

// LocationURI returns the URI this backend was created from.
func (b *DynamoBackend) LocationURI() string {
	return b.locationURI
}
