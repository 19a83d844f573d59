package prescription

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/wolfman30/prescription-ai-platform/pkg/logging"
)

const (
	// counterID is the reserved item that hands out record ids.
	counterID    = 0
	userIndexGSI = "userId-createdAt-index"
)

type dynamoAPI interface {
	PutItem(context.Context, *dynamodb.PutItemInput, ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	UpdateItem(context.Context, *dynamodb.UpdateItemInput, ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	GetItem(context.Context, *dynamodb.GetItemInput, ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	Query(context.Context, *dynamodb.QueryInput, ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	DeleteItem(context.Context, *dynamodb.DeleteItemInput, ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
}

// DynamoStore persists prescription records to DynamoDB. Numeric ids come
// from an atomic counter item; ListByUser reads a userId/createdAt GSI.
type DynamoStore struct {
	client    dynamoAPI
	tableName string
	logger    *logging.Logger
}

var _ Store = (*DynamoStore)(nil)

// NewDynamoStore builds a store backed by the provided DynamoDB client.
func NewDynamoStore(client dynamoAPI, tableName string, logger *logging.Logger) *DynamoStore {
	if client == nil {
		panic("prescription: dynamodb client cannot be nil")
	}
	if tableName == "" {
		panic("prescription: table name cannot be empty")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &DynamoStore{client: client, tableName: tableName, logger: logger}
}

func idKey(id int64) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"id": &types.AttributeValueMemberN{Value: strconv.FormatInt(id, 10)},
	}
}

func (s *DynamoStore) nextID(ctx context.Context) (int64, error) {
	out, err := s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                 aws.String(s.tableName),
		Key:                       idKey(counterID),
		UpdateExpression:          aws.String("ADD #seq :one"),
		ExpressionAttributeNames:  map[string]string{"#seq": "seq"},
		ExpressionAttributeValues: map[string]types.AttributeValue{":one": &types.AttributeValueMemberN{Value: "1"}},
		ReturnValues:              types.ReturnValueUpdatedNew,
	})
	if err != nil {
		return 0, fmt.Errorf("prescription: failed to allocate id: %w", err)
	}
	seq, ok := out.Attributes["seq"].(*types.AttributeValueMemberN)
	if !ok {
		return 0, errors.New("prescription: id counter returned no sequence")
	}
	id, err := strconv.ParseInt(seq.Value, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("prescription: invalid id sequence %q: %w", seq.Value, err)
	}
	return id, nil
}

// Create inserts a pending record under a freshly allocated id.
func (s *DynamoStore) Create(ctx context.Context, rec *Record) error {
	if rec == nil {
		return errors.New("prescription: record cannot be nil")
	}
	if strings.TrimSpace(rec.UserID) == "" {
		return errors.New("prescription: user id required")
	}
	id, err := s.nextID(ctx)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	rec.ID = id
	rec.Status = StatusPending
	rec.CreatedAt = now
	rec.UpdatedAt = now

	item, err := attributevalue.MarshalMap(rec)
	if err != nil {
		return fmt.Errorf("prescription: failed to marshal record: %w", err)
	}
	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(s.tableName),
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(id)"),
	})
	if err != nil {
		return fmt.Errorf("prescription: failed to persist record: %w", err)
	}
	return nil
}

// Get fetches a record by id.
func (s *DynamoStore) Get(ctx context.Context, id int64) (*Record, error) {
	if id <= counterID {
		return nil, ErrNotFound
	}
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.tableName),
		Key:            idKey(id),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("prescription: failed to fetch record %d: %w", id, err)
	}
	if out.Item == nil {
		return nil, ErrNotFound
	}
	var rec Record
	if err := attributevalue.UnmarshalMap(out.Item, &rec); err != nil {
		return nil, fmt.Errorf("prescription: failed to decode record: %w", err)
	}
	return &rec, nil
}

// ListByUser returns the user's records, newest first.
func (s *DynamoStore) ListByUser(ctx context.Context, userID string) ([]Record, error) {
	input := &dynamodb.QueryInput{
		TableName:                 aws.String(s.tableName),
		IndexName:                 aws.String(userIndexGSI),
		KeyConditionExpression:    aws.String("userId = :user"),
		ExpressionAttributeValues: map[string]types.AttributeValue{":user": &types.AttributeValueMemberS{Value: userID}},
		ScanIndexForward:          aws.Bool(false),
	}

	var out []Record
	for {
		page, err := s.client.Query(ctx, input)
		if err != nil {
			return nil, fmt.Errorf("prescription: failed to list records: %w", err)
		}
		var recs []Record
		if err := attributevalue.UnmarshalListOfMaps(page.Items, &recs); err != nil {
			return nil, fmt.Errorf("prescription: failed to decode records: %w", err)
		}
		out = append(out, recs...)
		if len(page.LastEvaluatedKey) == 0 {
			break
		}
		input.ExclusiveStartKey = page.LastEvaluatedKey
	}
	return out, nil
}

// MarkCompleted stores the analysis unless the record is already completed.
func (s *DynamoStore) MarkCompleted(ctx context.Context, id int64, analysis string) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	return s.transition(ctx, id,
		"SET #status = :completed, #analysis = :analysis, #error = :empty, #updated = :now, #analyzed = :now",
		"attribute_exists(id) AND (#status = :pending OR #status = :failed)",
		map[string]types.AttributeValue{
			":completed": &types.AttributeValueMemberS{Value: string(StatusCompleted)},
			":pending":   &types.AttributeValueMemberS{Value: string(StatusPending)},
			":failed":    &types.AttributeValueMemberS{Value: string(StatusFailed)},
			":analysis":  &types.AttributeValueMemberS{Value: analysis},
			":empty":     &types.AttributeValueMemberS{Value: ""},
			":now":       &types.AttributeValueMemberS{Value: now},
		},
		map[string]string{
			"#status":   "status",
			"#analysis": "analysisText",
			"#error":    "errorMessage",
			"#updated":  "updatedAt",
			"#analyzed": "analyzedAt",
		},
	)
}

// MarkFailed records a failed attempt on a pending record.
func (s *DynamoStore) MarkFailed(ctx context.Context, id int64, reason string) error {
	return s.transition(ctx, id,
		"SET #status = :failed, #error = :reason, #updated = :now",
		"attribute_exists(id) AND #status = :pending",
		map[string]types.AttributeValue{
			":failed":  &types.AttributeValueMemberS{Value: string(StatusFailed)},
			":pending": &types.AttributeValueMemberS{Value: string(StatusPending)},
			":reason":  &types.AttributeValueMemberS{Value: reason},
			":now":     &types.AttributeValueMemberS{Value: time.Now().UTC().Format(time.RFC3339Nano)},
		},
		map[string]string{
			"#status":  "status",
			"#error":   "errorMessage",
			"#updated": "updatedAt",
		},
	)
}

// ResetForRetry moves a failed record back to pending.
func (s *DynamoStore) ResetForRetry(ctx context.Context, id int64) (bool, error) {
	_, err := s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:           aws.String(s.tableName),
		Key:                 idKey(id),
		UpdateExpression:    aws.String("SET #status = :pending, #error = :empty, #updated = :now"),
		ConditionExpression: aws.String("attribute_exists(id) AND #status = :failed"),
		ExpressionAttributeNames: map[string]string{
			"#status":  "status",
			"#error":   "errorMessage",
			"#updated": "updatedAt",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pending": &types.AttributeValueMemberS{Value: string(StatusPending)},
			":failed":  &types.AttributeValueMemberS{Value: string(StatusFailed)},
			":empty":   &types.AttributeValueMemberS{Value: ""},
			":now":     &types.AttributeValueMemberS{Value: time.Now().UTC().Format(time.RFC3339Nano)},
		},
	})
	if err == nil {
		return true, nil
	}
	if isConditionFailure(err) {
		if _, getErr := s.Get(ctx, id); getErr != nil {
			return false, getErr
		}
		return false, nil
	}
	return false, fmt.Errorf("prescription: failed to reset record %d: %w", id, err)
}

// Delete removes a record.
func (s *DynamoStore) Delete(ctx context.Context, id int64) error {
	if id <= counterID {
		return ErrNotFound
	}
	_, err := s.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName:           aws.String(s.tableName),
		Key:                 idKey(id),
		ConditionExpression: aws.String("attribute_exists(id)"),
	})
	if err != nil {
		if isConditionFailure(err) {
			return ErrNotFound
		}
		return fmt.Errorf("prescription: failed to delete record %d: %w", id, err)
	}
	return nil
}

// transition applies a conditional update. A failed condition is a no-op
// unless the record is missing.
func (s *DynamoStore) transition(ctx context.Context, id int64, update, condition string, values map[string]types.AttributeValue, names map[string]string) error {
	_, err := s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                 aws.String(s.tableName),
		Key:                       idKey(id),
		UpdateExpression:          aws.String(update),
		ConditionExpression:       aws.String(condition),
		ExpressionAttributeNames:  names,
		ExpressionAttributeValues: values,
	})
	if err == nil {
		return nil
	}
	if isConditionFailure(err) {
		rec, getErr := s.Get(ctx, id)
		if getErr != nil {
			return getErr
		}
		s.logger.Debug("prescription transition skipped", "prescription_id", id, "status", rec.Status)
		return nil
	}
	return fmt.Errorf("prescription: failed to update record %d: %w", id, err)
}

func isConditionFailure(err error) bool {
	var ccf *types.ConditionalCheckFailedException
	return errors.As(err, &ccf)
}
