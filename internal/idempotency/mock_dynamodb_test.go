package idempotency

import (
	"context"
	"errors"
	"sort"
	"strconv"
	"strings"
	"sync"

	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// simpleMock is a small in-memory idempotency table for unit tests. It understands
// exactly the condition and update expressions the Store issues, and serialises
// all operations under one mutex so conditional writes are atomic.
type simpleMock struct {
	mu          sync.Mutex
	table       map[string]map[string]types.AttributeValue
	failOn      map[string]error // operation name -> injected error
	putCalls    int
	getCalls    int
	updateCalls int
	deleteCalls int
	scanCalls   int
}

func newSimpleMock() *simpleMock {
	return &simpleMock{
		table:  map[string]map[string]types.AttributeValue{},
		failOn: map[string]error{},
	}
}

func (m *simpleMock) fail(op string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failOn[op] = err
}

func (m *simpleMock) item(key string) map[string]types.AttributeValue {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.table[key]
}

func (m *simpleMock) PutItem(ctx context.Context, params *dyn.PutItemInput, optFns ...func(*dyn.Options)) (*dyn.PutItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.putCalls++
	if err := m.failOn["PutItem"]; err != nil {
		return nil, err
	}
	keyAttr := params.Item["idempotency_key"]
	if keyAttr == nil {
		return nil, errors.New("missing key")
	}
	k := keyAttr.(*types.AttributeValueMemberS).Value
	if params.ConditionExpression != nil && *params.ConditionExpression == "attribute_not_exists(idempotency_key)" {
		if _, ok := m.table[k]; ok {
			// simulate conditional failure
			return nil, &types.ConditionalCheckFailedException{}
		}
	}
	m.table[k] = copyItem(params.Item)
	return &dyn.PutItemOutput{}, nil
}

func (m *simpleMock) GetItem(ctx context.Context, params *dyn.GetItemInput, optFns ...func(*dyn.Options)) (*dyn.GetItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.getCalls++
	if err := m.failOn["GetItem"]; err != nil {
		return nil, err
	}
	k := params.Key["idempotency_key"].(*types.AttributeValueMemberS).Value
	item, ok := m.table[k]
	if !ok {
		return &dyn.GetItemOutput{}, nil
	}
	return &dyn.GetItemOutput{Item: copyItem(item)}, nil
}

func (m *simpleMock) UpdateItem(ctx context.Context, params *dyn.UpdateItemInput, optFns ...func(*dyn.Options)) (*dyn.UpdateItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.updateCalls++
	if err := m.failOn["UpdateItem"]; err != nil {
		return nil, err
	}
	k := params.Key["idempotency_key"].(*types.AttributeValueMemberS).Value
	item, ok := m.table[k]
	vals := params.ExpressionAttributeValues

	switch cond := *params.ConditionExpression; cond {
	case "#s = :processing AND claim_token = :tok":
		if !ok || strAttr(item, "status") != strAttr(vals, ":processing") || strAttr(item, "claim_token") != strAttr(vals, ":tok") {
			return nil, &types.ConditionalCheckFailedException{}
		}
	case "#s <> :processing AND request_fingerprint = :fp AND claim_token = :prev":
		if !ok || strAttr(item, "status") == strAttr(vals, ":processing") ||
			strAttr(item, "request_fingerprint") != strAttr(vals, ":fp") ||
			strAttr(item, "claim_token") != strAttr(vals, ":prev") {
			return nil, &types.ConditionalCheckFailedException{}
		}
	default:
		return nil, errors.New("unsupported condition: " + cond)
	}

	item["updated_at"] = vals[":ua"]
	switch update := *params.UpdateExpression; {
	case strings.HasPrefix(update, "SET #s = :processing"):
		item["status"] = vals[":processing"]
		item["claim_token"] = vals[":tok"]
		item["expires_at"] = vals[":exp"]
		delete(item, "cached_response")
		delete(item, "cached_status_code")
	case strings.HasPrefix(update, "SET #s = :completed"):
		item["status"] = vals[":completed"]
		item["cached_response"] = vals[":rb"]
		item["cached_status_code"] = vals[":rs"]
	case strings.HasPrefix(update, "SET #s = :failed"):
		item["status"] = vals[":failed"]
		delete(item, "cached_response")
		delete(item, "cached_status_code")
	default:
		return nil, errors.New("unsupported update: " + update)
	}
	m.table[k] = item
	return &dyn.UpdateItemOutput{}, nil
}

func (m *simpleMock) DeleteItem(ctx context.Context, params *dyn.DeleteItemInput, optFns ...func(*dyn.Options)) (*dyn.DeleteItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deleteCalls++
	if err := m.failOn["DeleteItem"]; err != nil {
		return nil, err
	}
	k := params.Key["idempotency_key"].(*types.AttributeValueMemberS).Value
	item, ok := m.table[k]
	if params.ConditionExpression != nil && *params.ConditionExpression == "expires_at < :now" {
		if !ok || numAttr(item, "expires_at") >= numAttr(params.ExpressionAttributeValues, ":now") {
			return nil, &types.ConditionalCheckFailedException{}
		}
	}
	delete(m.table, k)
	return &dyn.DeleteItemOutput{}, nil
}

func (m *simpleMock) Scan(ctx context.Context, params *dyn.ScanInput, optFns ...func(*dyn.Options)) (*dyn.ScanOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.scanCalls++
	if err := m.failOn["Scan"]; err != nil {
		return nil, err
	}
	cutoff := numAttr(params.ExpressionAttributeValues, ":now")
	keys := make([]string, 0, len(m.table))
	for k := range m.table {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var out []map[string]types.AttributeValue
	for _, k := range keys {
		if numAttr(m.table[k], "expires_at") < cutoff {
			out = append(out, map[string]types.AttributeValue{"idempotency_key": m.table[k]["idempotency_key"]})
		}
	}
	return &dyn.ScanOutput{Items: out}, nil
}

func (m *simpleMock) Query(ctx context.Context, params *dyn.QueryInput, optFns ...func(*dyn.Options)) (*dyn.QueryOutput, error) {
	return nil, errors.New("query not supported on idempotency table")
}

func copyItem(in map[string]types.AttributeValue) map[string]types.AttributeValue {
	out := make(map[string]types.AttributeValue, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func strAttr(item map[string]types.AttributeValue, name string) string {
	if v, ok := item[name].(*types.AttributeValueMemberS); ok {
		return v.Value
	}
	return ""
}

func numAttr(item map[string]types.AttributeValue, name string) int64 {
	if v, ok := item[name].(*types.AttributeValueMemberN); ok {
		n, _ := strconv.ParseInt(v.Value, 10, 64)
		return n
	}
	return 0
}
