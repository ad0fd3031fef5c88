// Package dynamotest provides an in-memory DynamoDB for unit tests. Every
// call is serialised by one mutex, so conditional writes are atomic the same
// way they are in DynamoDB.
package dynamotest

import (
	"context"
	"fmt"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

type table struct {
	key   string
	items map[string]map[string]types.AttributeValue
}

// Fake implements the DynamoDB client subset used by the stores.
type Fake struct {
	mu     sync.Mutex
	tables map[string]*table

	// FailNext, when set, is returned by the next write call and cleared.
	FailNext error

	Calls map[string]int
}

// New returns a Fake with the given table -> partition key definitions.
func New(tables map[string]string) *Fake {
	f := &Fake{tables: map[string]*table{}, Calls: map[string]int{}}
	for name, key := range tables {
		f.tables[name] = &table{key: key, items: map[string]map[string]types.AttributeValue{}}
	}
	return f
}

func (f *Fake) table(name *string) (*table, error) {
	if name == nil {
		return nil, fmt.Errorf("table name required")
	}
	t, ok := f.tables[*name]
	if !ok {
		return nil, &types.ResourceNotFoundException{Message: aws.String("table not found: " + *name)}
	}
	return t, nil
}

func (f *Fake) takeFailure() error {
	err := f.FailNext
	f.FailNext = nil
	return err
}

func keyOf(t *table, key map[string]types.AttributeValue) (string, error) {
	v, ok := key[t.key].(*types.AttributeValueMemberS)
	if !ok {
		return "", fmt.Errorf("missing string key %s", t.key)
	}
	return v.Value, nil
}

func conditionFailed() error {
	return &types.ConditionalCheckFailedException{Message: aws.String("The conditional request failed")}
}

func check(cond *string, item map[string]types.AttributeValue, names map[string]string, values map[string]types.AttributeValue) (bool, error) {
	if cond == nil || *cond == "" {
		return true, nil
	}
	return evalCondition(*cond, env{item: item, names: names, values: values})
}

// Seed writes an item directly, bypassing conditions.
func (f *Fake) Seed(tableName string, item map[string]types.AttributeValue) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t := f.tables[tableName]
	k, err := keyOf(t, item)
	if err != nil {
		panic(err)
	}
	t.items[k] = cloneItem(item)
}

// Item returns a copy of a stored item, or nil.
func (f *Fake) Item(tableName, key string) map[string]types.AttributeValue {
	f.mu.Lock()
	defer f.mu.Unlock()
	item, ok := f.tables[tableName].items[key]
	if !ok {
		return nil
	}
	return cloneItem(item)
}

// Len reports the number of items in a table.
func (f *Fake) Len(tableName string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.tables[tableName].items)
}

func (f *Fake) PutItem(ctx context.Context, in *dyn.PutItemInput, optFns ...func(*dyn.Options)) (*dyn.PutItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Calls["PutItem"]++
	if err := f.takeFailure(); err != nil {
		return nil, err
	}
	t, err := f.table(in.TableName)
	if err != nil {
		return nil, err
	}
	k, err := keyOf(t, in.Item)
	if err != nil {
		return nil, err
	}
	ok, err := check(in.ConditionExpression, t.items[k], in.ExpressionAttributeNames, in.ExpressionAttributeValues)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, conditionFailed()
	}
	t.items[k] = cloneItem(in.Item)
	return &dyn.PutItemOutput{}, nil
}

func (f *Fake) GetItem(ctx context.Context, in *dyn.GetItemInput, optFns ...func(*dyn.Options)) (*dyn.GetItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Calls["GetItem"]++
	t, err := f.table(in.TableName)
	if err != nil {
		return nil, err
	}
	k, err := keyOf(t, in.Key)
	if err != nil {
		return nil, err
	}
	item, ok := t.items[k]
	if !ok {
		return &dyn.GetItemOutput{}, nil
	}
	return &dyn.GetItemOutput{Item: cloneItem(item)}, nil
}

func (f *Fake) update(t *table, in *dyn.UpdateItemInput) (map[string]types.AttributeValue, error) {
	k, err := keyOf(t, in.Key)
	if err != nil {
		return nil, err
	}
	current, exists := t.items[k]
	ok, err := check(in.ConditionExpression, current, in.ExpressionAttributeNames, in.ExpressionAttributeValues)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, conditionFailed()
	}
	if !exists {
		current = map[string]types.AttributeValue{t.key: in.Key[t.key]}
	}
	if in.UpdateExpression == nil {
		return current, nil
	}
	return applyUpdate(*in.UpdateExpression, env{item: current, names: in.ExpressionAttributeNames, values: in.ExpressionAttributeValues})
}

func (f *Fake) UpdateItem(ctx context.Context, in *dyn.UpdateItemInput, optFns ...func(*dyn.Options)) (*dyn.UpdateItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Calls["UpdateItem"]++
	if err := f.takeFailure(); err != nil {
		return nil, err
	}
	t, err := f.table(in.TableName)
	if err != nil {
		return nil, err
	}
	next, err := f.update(t, in)
	if err != nil {
		return nil, err
	}
	k, _ := keyOf(t, in.Key)
	t.items[k] = next
	out := &dyn.UpdateItemOutput{}
	if in.ReturnValues != types.ReturnValueNone && in.ReturnValues != "" {
		out.Attributes = cloneItem(next)
	}
	return out, nil
}

func (f *Fake) TransactWriteItems(ctx context.Context, in *dyn.TransactWriteItemsInput, optFns ...func(*dyn.Options)) (*dyn.TransactWriteItemsOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Calls["TransactWriteItems"]++
	if err := f.takeFailure(); err != nil {
		return nil, err
	}

	type write struct {
		t    *table
		key  string
		item map[string]types.AttributeValue // nil deletes
	}
	var writes []write
	reasons := make([]types.CancellationReason, len(in.TransactItems))
	cancelled := false

	for i, it := range in.TransactItems {
		reasons[i] = types.CancellationReason{Code: aws.String("None")}
		switch {
		case it.Put != nil:
			t, err := f.table(it.Put.TableName)
			if err != nil {
				return nil, err
			}
			k, err := keyOf(t, it.Put.Item)
			if err != nil {
				return nil, err
			}
			ok, err := check(it.Put.ConditionExpression, t.items[k], it.Put.ExpressionAttributeNames, it.Put.ExpressionAttributeValues)
			if err != nil {
				return nil, err
			}
			if !ok {
				reasons[i].Code = aws.String("ConditionalCheckFailed")
				cancelled = true
				continue
			}
			writes = append(writes, write{t: t, key: k, item: cloneItem(it.Put.Item)})
		case it.Update != nil:
			t, err := f.table(it.Update.TableName)
			if err != nil {
				return nil, err
			}
			next, err := f.update(t, &dyn.UpdateItemInput{
				TableName:                 it.Update.TableName,
				Key:                       it.Update.Key,
				UpdateExpression:          it.Update.UpdateExpression,
				ConditionExpression:       it.Update.ConditionExpression,
				ExpressionAttributeNames:  it.Update.ExpressionAttributeNames,
				ExpressionAttributeValues: it.Update.ExpressionAttributeValues,
			})
			if err != nil {
				if _, ok := err.(*types.ConditionalCheckFailedException); ok {
					reasons[i].Code = aws.String("ConditionalCheckFailed")
					cancelled = true
					continue
				}
				return nil, err
			}
			k, _ := keyOf(t, it.Update.Key)
			writes = append(writes, write{t: t, key: k, item: next})
		case it.ConditionCheck != nil:
			t, err := f.table(it.ConditionCheck.TableName)
			if err != nil {
				return nil, err
			}
			k, err := keyOf(t, it.ConditionCheck.Key)
			if err != nil {
				return nil, err
			}
			ok, err := check(it.ConditionCheck.ConditionExpression, t.items[k], it.ConditionCheck.ExpressionAttributeNames, it.ConditionCheck.ExpressionAttributeValues)
			if err != nil {
				return nil, err
			}
			if !ok {
				reasons[i].Code = aws.String("ConditionalCheckFailed")
				cancelled = true
			}
		case it.Delete != nil:
			t, err := f.table(it.Delete.TableName)
			if err != nil {
				return nil, err
			}
			k, err := keyOf(t, it.Delete.Key)
			if err != nil {
				return nil, err
			}
			writes = append(writes, write{t: t, key: k})
		}
	}

	if cancelled {
		return nil, &types.TransactionCanceledException{
			Message:             aws.String("Transaction cancelled"),
			CancellationReasons: reasons,
		}
	}
	for _, w := range writes {
		if w.item == nil {
			delete(w.t.items, w.key)
			continue
		}
		w.t.items[w.key] = w.item
	}
	return &dyn.TransactWriteItemsOutput{}, nil
}

func (f *Fake) Scan(ctx context.Context, in *dyn.ScanInput, optFns ...func(*dyn.Options)) (*dyn.ScanOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Calls["Scan"]++
	t, err := f.table(in.TableName)
	if err != nil {
		return nil, err
	}
	out := &dyn.ScanOutput{}
	for _, item := range t.items {
		ok, err := check(in.FilterExpression, item, in.ExpressionAttributeNames, in.ExpressionAttributeValues)
		if err != nil {
			return nil, err
		}
		if ok {
			out.Items = append(out.Items, cloneItem(item))
		}
	}
	out.Count = int32(len(out.Items))
	return out, nil
}

func (f *Fake) CreateTable(ctx context.Context, in *dyn.CreateTableInput, optFns ...func(*dyn.Options)) (*dyn.CreateTableOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Calls["CreateTable"]++
	if _, ok := f.tables[*in.TableName]; ok {
		return nil, &types.ResourceInUseException{Message: aws.String("table exists")}
	}
	var key string
	for _, k := range in.KeySchema {
		if k.KeyType == types.KeyTypeHash {
			key = *k.AttributeName
		}
	}
	f.tables[*in.TableName] = &table{key: key, items: map[string]map[string]types.AttributeValue{}}
	return &dyn.CreateTableOutput{}, nil
}

// HasTable reports whether the table was defined or created.
func (f *Fake) HasTable(name string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.tables[name]
	return ok
}
