package orders

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/imrishuroy/go-idempotent-saga/internal/aws"
)

// Secondary index names on the orders table.
const (
	CustomerIndex = "customer_id-index"
	StatusIndex   = "status-index"
)

// ErrAlreadyExists is returned when an order id is saved twice.
var ErrAlreadyExists = errors.New("order already exists")

// Store encapsulates operations on the orders table.
type Store struct {
	client    aws.DynamoDBAPI
	tableName string
	nowFunc   func() time.Time
}

// NewStore creates a new orders Store.
func NewStore(client aws.DynamoDBAPI, tableName string) *Store {
	return &Store{
		client:    client,
		tableName: tableName,
		nowFunc:   time.Now,
	}
}

// Save persists a terminal order. Order ids are generated per saga run, so an
// existing item with the same id is rejected rather than overwritten.
func (s *Store) Save(ctx context.Context, order Order) (Order, error) {
	if order.CreatedAt.IsZero() {
		order.CreatedAt = s.nowFunc().UTC()
	}
	item, err := attributevalue.MarshalMap(order)
	if err != nil {
		return Order{}, fmt.Errorf("marshal order item: %w", err)
	}

	_, err = s.client.PutItem(ctx, &dyn.PutItemInput{
		TableName:           &s.tableName,
		Item:                item,
		ConditionExpression: awsString("attribute_not_exists(order_id)"),
	})
	if err != nil {
		var cc *types.ConditionalCheckFailedException
		if errors.As(err, &cc) {
			return Order{}, fmt.Errorf("save order %s: %w", order.OrderID, ErrAlreadyExists)
		}
		return Order{}, fmt.Errorf("put item: %w", err)
	}
	return order, nil
}

// Get fetches an order by order_id. Returns (nil, nil) if not found.
func (s *Store) Get(ctx context.Context, orderID string) (*Order, error) {
	key := map[string]types.AttributeValue{
		"order_id": &types.AttributeValueMemberS{Value: orderID},
	}
	out, err := s.client.GetItem(ctx, &dyn.GetItemInput{
		TableName: &s.tableName,
		Key:       key,
	})
	if err != nil {
		return nil, fmt.Errorf("get item: %w", err)
	}
	if len(out.Item) == 0 {
		return nil, nil
	}
	var o Order
	if err := attributevalue.UnmarshalMap(out.Item, &o); err != nil {
		return nil, fmt.Errorf("unmarshal order: %w", err)
	}
	return &o, nil
}

// FindByCustomer returns every order placed by customerID.
func (s *Store) FindByCustomer(ctx context.Context, customerID string) ([]Order, error) {
	return s.query(ctx, &dyn.QueryInput{
		TableName:              &s.tableName,
		IndexName:              awsString(CustomerIndex),
		KeyConditionExpression: awsString("customer_id = :c"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":c": &types.AttributeValueMemberS{Value: customerID},
		},
	})
}

// FindByStatus returns every order with the given terminal status.
func (s *Store) FindByStatus(ctx context.Context, status Status) ([]Order, error) {
	return s.query(ctx, &dyn.QueryInput{
		TableName:                &s.tableName,
		IndexName:                awsString(StatusIndex),
		KeyConditionExpression:   awsString("#s = :s"),
		ExpressionAttributeNames: map[string]string{"#s": "status"},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":s": &types.AttributeValueMemberS{Value: string(status)},
		},
	})
}

func (s *Store) query(ctx context.Context, input *dyn.QueryInput) ([]Order, error) {
	var out []Order
	p := dyn.NewQueryPaginator(s.client, input)
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("query %s: %w", *input.IndexName, err)
		}
		var batch []Order
		if err := attributevalue.UnmarshalListOfMaps(page.Items, &batch); err != nil {
			return nil, fmt.Errorf("unmarshal orders: %w", err)
		}
		out = append(out, batch...)
	}
	return out, nil
}

func awsString(s string) *string { return &s }
