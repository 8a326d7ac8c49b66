package idempotency

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/smithy-go"

	"github.com/imrishuroy/go-idempotent-saga/internal/aws"
)

// ErrClaimLost is returned when a transition targets a record this caller no longer
// owns: it was deleted, re-claimed by someone else, or already left PROCESSING.
var ErrClaimLost = errors.New("idempotency claim no longer held")

// Store encapsulates idempotency operations against DynamoDB.
type Store struct {
	client    aws.DynamoDBAPI
	tableName string
	nowFunc   func() time.Time
}

// NewStore returns a configured Store.
// tableName: DynamoDB table name for idempotency entries (PK idempotency_key, TTL on expires_at).
func NewStore(client aws.DynamoDBAPI, tableName string) *Store {
	return &Store{
		client:    client,
		tableName: tableName,
		nowFunc:   time.Now,
	}
}

// TryCreate creates a PROCESSING record owned by token if the key does not exist.
// Returns (true, nil) if this call created it, (false, nil) if a record already exists.
func (s *Store) TryCreate(ctx context.Context, key, fingerprint, token string, expiresAt time.Time) (bool, error) {
	now := s.nowFunc().UTC()
	rec := IdempotencyRecord{
		IdempotencyKey:     key,
		Status:             StatusProcessing,
		RequestFingerprint: fingerprint,
		ClaimToken:         token,
		CreatedAt:          now,
		UpdatedAt:          now,
		ExpiresAt:          expiresAt.Unix(),
	}

	item, err := attributevalue.MarshalMap(rec)
	if err != nil {
		return false, fmt.Errorf("marshal record: %w", err)
	}

	_, err = s.client.PutItem(ctx, &dyn.PutItemInput{
		TableName:           &s.tableName,
		Item:                item,
		ConditionExpression: awsString("attribute_not_exists(idempotency_key)"),
	})
	if err != nil {
		if isConditionalCheckFailure(err) {
			return false, nil
		}
		return false, fmt.Errorf("put item: %w", err)
	}
	return true, nil
}

// Find retrieves an idempotency record by key. If not found, returns (nil, nil).
func (s *Store) Find(ctx context.Context, key string) (*IdempotencyRecord, error) {
	out, err := s.client.GetItem(ctx, &dyn.GetItemInput{
		TableName:      &s.tableName,
		Key:            keyAttr(key),
		ConsistentRead: awsBool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("get item: %w", err)
	}
	if len(out.Item) == 0 {
		return nil, nil
	}
	var rec IdempotencyRecord
	if err := attributevalue.UnmarshalMap(out.Item, &rec); err != nil {
		return nil, fmt.Errorf("unmarshal item: %w", err)
	}
	return &rec, nil
}

// Reclaim takes a record that is not PROCESSING back to PROCESSING under a new token
// and extends its expiry. It only succeeds while the record still has the same
// fingerprint and prevToken, so of several callers that read the same record one wins.
func (s *Store) Reclaim(ctx context.Context, key, fingerprint, prevToken, token string, expiresAt time.Time) (bool, error) {
	now := s.nowFunc().UTC()
	_, err := s.client.UpdateItem(ctx, &dyn.UpdateItemInput{
		TableName:           &s.tableName,
		Key:                 keyAttr(key),
		UpdateExpression:    awsString("SET #s = :processing, claim_token = :tok, updated_at = :ua, expires_at = :exp REMOVE cached_response, cached_status_code"),
		ConditionExpression: awsString("#s <> :processing AND request_fingerprint = :fp AND claim_token = :prev"),
		ExpressionAttributeNames: map[string]string{
			"#s": "status",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":processing": &types.AttributeValueMemberS{Value: string(StatusProcessing)},
			":fp":         &types.AttributeValueMemberS{Value: fingerprint},
			":prev":       &types.AttributeValueMemberS{Value: prevToken},
			":tok":        &types.AttributeValueMemberS{Value: token},
			":exp":        &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", expiresAt.Unix())},
			":ua":         &types.AttributeValueMemberS{Value: now.Format(time.RFC3339)},
		},
	})
	if err != nil {
		if isConditionalCheckFailure(err) {
			return false, nil
		}
		return false, fmt.Errorf("update item (reclaim): %w", err)
	}
	return true, nil
}

// MarkCompleted sets status to COMPLETED and stores the serialized response.
func (s *Store) MarkCompleted(ctx context.Context, key, token, responseBody string, statusCode int) error {
	now := s.nowFunc().UTC()
	_, err := s.client.UpdateItem(ctx, &dyn.UpdateItemInput{
		TableName:           &s.tableName,
		Key:                 keyAttr(key),
		UpdateExpression:    awsString("SET #s = :completed, cached_response = :rb, cached_status_code = :rs, updated_at = :ua"),
		ConditionExpression: awsString(ownedCondition),
		ExpressionAttributeNames: map[string]string{
			"#s": "status",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":processing": &types.AttributeValueMemberS{Value: string(StatusProcessing)},
			":tok":        &types.AttributeValueMemberS{Value: token},
			":completed":  &types.AttributeValueMemberS{Value: string(StatusCompleted)},
			":rb":         &types.AttributeValueMemberS{Value: responseBody},
			":rs":         &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", statusCode)},
			":ua":         &types.AttributeValueMemberS{Value: now.Format(time.RFC3339)},
		},
	})
	if err != nil {
		if isConditionalCheckFailure(err) {
			return fmt.Errorf("mark completed %s: %w", key, ErrClaimLost)
		}
		return fmt.Errorf("update item (mark completed): %w", err)
	}
	return nil
}

// MarkFailed marks the caller's PROCESSING record FAILED and drops any cached response.
func (s *Store) MarkFailed(ctx context.Context, key, token string) error {
	now := s.nowFunc().UTC()
	_, err := s.client.UpdateItem(ctx, &dyn.UpdateItemInput{
		TableName:           &s.tableName,
		Key:                 keyAttr(key),
		UpdateExpression:    awsString("SET #s = :failed, updated_at = :ua REMOVE cached_response, cached_status_code"),
		ConditionExpression: awsString(ownedCondition),
		ExpressionAttributeNames: map[string]string{
			"#s": "status",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":processing": &types.AttributeValueMemberS{Value: string(StatusProcessing)},
			":tok":        &types.AttributeValueMemberS{Value: token},
			":failed":     &types.AttributeValueMemberS{Value: string(StatusFailed)},
			":ua":         &types.AttributeValueMemberS{Value: now.Format(time.RFC3339)},
		},
	})
	if err != nil {
		if isConditionalCheckFailure(err) {
			return fmt.Errorf("mark failed %s: %w", key, ErrClaimLost)
		}
		return fmt.Errorf("update item (mark failed): %w", err)
	}
	return nil
}

// DeleteExpired removes every record whose expires_at is before now, regardless of status.
// DynamoDB TTL deletes lazily, so this pass keeps expiry prompt. Each delete is
// conditional so a key re-created after the scan is left alone.
func (s *Store) DeleteExpired(ctx context.Context, now time.Time) (int, error) {
	cutoff := &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", now.Unix())}
	p := dyn.NewScanPaginator(s.client, &dyn.ScanInput{
		TableName:                 &s.tableName,
		FilterExpression:          awsString("expires_at < :now"),
		ProjectionExpression:      awsString("idempotency_key"),
		ExpressionAttributeValues: map[string]types.AttributeValue{":now": cutoff},
	})

	deleted := 0
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return deleted, fmt.Errorf("scan expired: %w", err)
		}
		for _, item := range page.Items {
			k, ok := item["idempotency_key"].(*types.AttributeValueMemberS)
			if !ok {
				continue
			}
			_, err := s.client.DeleteItem(ctx, &dyn.DeleteItemInput{
				TableName:                 &s.tableName,
				Key:                       keyAttr(k.Value),
				ConditionExpression:       awsString("expires_at < :now"),
				ExpressionAttributeValues: map[string]types.AttributeValue{":now": cutoff},
			})
			if err != nil {
				if isConditionalCheckFailure(err) {
					continue
				}
				return deleted, fmt.Errorf("delete item %s: %w", k.Value, err)
			}
			deleted++
		}
	}
	return deleted, nil
}

// ownedCondition holds only while the record is PROCESSING under the caller's claim.
const ownedCondition = "#s = :processing AND claim_token = :tok"

func isConditionalCheckFailure(err error) bool {
	var apiErr smithy.APIError
	return errors.As(err, &apiErr) && apiErr.ErrorCode() == "ConditionalCheckFailedException"
}

func keyAttr(key string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"idempotency_key": &types.AttributeValueMemberS{Value: key},
	}
}

// Helpers
func awsString(s string) *string { return &s }
func awsBool(b bool) *bool       { return &b }
