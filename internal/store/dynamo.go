package store

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"
	"github.com/wolfman30/smart-care-platform/pkg/logging"
)

const (
	dynamoPartitionKey = "collection"
	dynamoSortKey      = "id"
)

// DynamoAPI is the subset of the DynamoDB client used by DynamoStore.
type DynamoAPI interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
}

// DynamoStore keeps every collection in one table keyed by (collection, id).
// Subscriptions poll because the table is read without streams.
type DynamoStore struct {
	client       DynamoAPI
	table        string
	pollInterval time.Duration
	logger       *logging.Logger
}

// NewDynamoStore creates a store over table.
func NewDynamoStore(client DynamoAPI, table string, pollInterval time.Duration, logger *logging.Logger) *DynamoStore {
	if client == nil {
		panic("store: dynamodb client cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	if pollInterval <= 0 {
		pollInterval = 5 * time.Second
	}
	return &DynamoStore{client: client, table: table, pollInterval: pollInterval, logger: logger}
}

func (s *DynamoStore) key(collection, id string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		dynamoPartitionKey: &types.AttributeValueMemberS{Value: collection},
		dynamoSortKey:      &types.AttributeValueMemberS{Value: id},
	}
}

func (s *DynamoStore) Get(ctx context.Context, collection, id string) (Document, error) {
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.table),
		Key:            s.key(collection, id),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return Document{}, fmt.Errorf("store: get %s/%s: %w", collection, id, err)
	}
	if len(out.Item) == 0 {
		return Document{}, fmt.Errorf("%w: %s/%s", ErrNotFound, collection, id)
	}
	return decodeItem(out.Item)
}

func (s *DynamoStore) Create(ctx context.Context, collection string, fields Fields) (string, error) {
	plain, incs, err := normalize(fields)
	if err != nil {
		return "", err
	}
	item, err := attributevalue.MarshalMap(merge(nil, plain, incs))
	if err != nil {
		return "", fmt.Errorf("store: marshal %s: %w", collection, err)
	}
	id := uuid.NewString()
	for k, v := range s.key(collection, id) {
		item[k] = v
	}
	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:                aws.String(s.table),
		Item:                     item,
		ConditionExpression:      aws.String("attribute_not_exists(#id)"),
		ExpressionAttributeNames: map[string]string{"#id": dynamoSortKey},
	})
	if err != nil {
		return "", fmt.Errorf("store: create %s: %w", collection, err)
	}
	return id, nil
}

func (s *DynamoStore) Set(ctx context.Context, collection, id string, fields Fields) error {
	return s.update(ctx, collection, id, fields, false)
}

func (s *DynamoStore) Update(ctx context.Context, collection, id string, fields Fields) error {
	return s.update(ctx, collection, id, fields, true)
}

func (s *DynamoStore) update(ctx context.Context, collection, id string, fields Fields, mustExist bool) error {
	plain, incs, err := normalize(fields)
	if err != nil {
		return err
	}
	if len(plain) == 0 && len(incs) == 0 {
		if mustExist {
			_, err := s.Get(ctx, collection, id)
			return err
		}
		return nil
	}

	names := map[string]string{}
	values := map[string]types.AttributeValue{}
	var sets, adds []string
	i := 0
	for _, field := range sortedKeys(plain) {
		av, err := attributevalue.Marshal(plain[field])
		if err != nil {
			return fmt.Errorf("store: marshal %s.%s: %w", collection, field, err)
		}
		names[fmt.Sprintf("#f%d", i)] = field
		values[fmt.Sprintf(":v%d", i)] = av
		sets = append(sets, fmt.Sprintf("#f%d = :v%d", i, i))
		i++
	}
	for _, field := range sortedKeys(incs) {
		names[fmt.Sprintf("#f%d", i)] = field
		values[fmt.Sprintf(":v%d", i)] = &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", incs[field])}
		adds = append(adds, fmt.Sprintf("#f%d :v%d", i, i))
		i++
	}

	var expr []string
	if len(sets) > 0 {
		expr = append(expr, "SET "+strings.Join(sets, ", "))
	}
	if len(adds) > 0 {
		expr = append(expr, "ADD "+strings.Join(adds, ", "))
	}
	input := &dynamodb.UpdateItemInput{
		TableName:                 aws.String(s.table),
		Key:                       s.key(collection, id),
		UpdateExpression:          aws.String(strings.Join(expr, " ")),
		ExpressionAttributeNames:  names,
		ExpressionAttributeValues: values,
	}
	if mustExist {
		names["#id"] = dynamoSortKey
		input.ConditionExpression = aws.String("attribute_exists(#id)")
	}

	if _, err := s.client.UpdateItem(ctx, input); err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return fmt.Errorf("%w: %s/%s", ErrNotFound, collection, id)
		}
		return fmt.Errorf("store: update %s/%s: %w", collection, id, err)
	}
	return nil
}

func (s *DynamoStore) Query(ctx context.Context, collection string, filters []Filter, order *Order) ([]Document, error) {
	compiled, err := compileFilters(filters)
	if err != nil {
		return nil, err
	}
	names := map[string]string{"#pk": dynamoPartitionKey}
	values := map[string]types.AttributeValue{":pk": &types.AttributeValueMemberS{Value: collection}}
	var conds []string
	for i, f := range compiled {
		name := fmt.Sprintf("#f%d", i)
		names[name] = f.field
		if f.op == OpIn {
			if len(f.set) == 0 {
				return nil, nil
			}
			placeholders := make([]string, 0, len(f.set))
			for j, v := range f.set {
				av, err := attributevalue.Marshal(v)
				if err != nil {
					return nil, fmt.Errorf("%w: %v", ErrInvalidFilter, err)
				}
				ph := fmt.Sprintf(":v%d_%d", i, j)
				values[ph] = av
				placeholders = append(placeholders, ph)
			}
			conds = append(conds, fmt.Sprintf("%s IN (%s)", name, strings.Join(placeholders, ", ")))
			continue
		}
		av, err := attributevalue.Marshal(f.value)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidFilter, err)
		}
		ph := fmt.Sprintf(":v%d", i)
		values[ph] = av
		switch f.op {
		case OpEq:
			conds = append(conds, fmt.Sprintf("%s = %s", name, ph))
		case OpNe:
			conds = append(conds, fmt.Sprintf("(attribute_not_exists(%s) OR %s <> %s)", name, name, ph))
		case OpGte:
			conds = append(conds, fmt.Sprintf("%s >= %s", name, ph))
		case OpLte:
			conds = append(conds, fmt.Sprintf("%s <= %s", name, ph))
		}
	}

	input := &dynamodb.QueryInput{
		TableName:                 aws.String(s.table),
		KeyConditionExpression:    aws.String("#pk = :pk"),
		ExpressionAttributeNames:  names,
		ExpressionAttributeValues: values,
		ConsistentRead:            aws.Bool(true),
	}
	if len(conds) > 0 {
		input.FilterExpression = aws.String(strings.Join(conds, " AND "))
	}

	var docs []Document
	for {
		out, err := s.client.Query(ctx, input)
		if err != nil {
			return nil, fmt.Errorf("store: query %s: %w", collection, err)
		}
		for _, item := range out.Items {
			doc, err := decodeItem(item)
			if err != nil {
				return nil, err
			}
			docs = append(docs, doc)
		}
		if len(out.LastEvaluatedKey) == 0 {
			break
		}
		input.ExclusiveStartKey = out.LastEvaluatedKey
	}
	sortDocuments(docs, order)
	return docs, nil
}

// Subscribe polls the query and emits when the result set differs from the last emission.
func (s *DynamoStore) Subscribe(ctx context.Context, collection string, filters []Filter, order *Order, onChange ChangeFunc) (Unsubscribe, error) {
	if onChange == nil {
		return nil, fmt.Errorf("store: subscribe: nil callback")
	}
	if _, err := compileFilters(filters); err != nil {
		return nil, err
	}
	subCtx, cancel := context.WithCancel(ctx)

	go func() {
		var last []byte
		poll := func() {
			docs, err := s.Query(subCtx, collection, filters, order)
			if err != nil {
				if subCtx.Err() == nil {
					s.logger.Error("store: subscription poll failed", "error", err, "collection", collection)
				}
				return
			}
			fp := fingerprint(docs)
			if last != nil && bytes.Equal(fp, last) {
				return
			}
			last = fp
			onChange(docs)
		}

		poll()
		ticker := time.NewTicker(s.pollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-subCtx.Done():
				return
			case <-ticker.C:
				poll()
			}
		}
	}()

	return Unsubscribe(cancel), nil
}

func decodeItem(item map[string]types.AttributeValue) (Document, error) {
	var fields Fields
	if err := attributevalue.UnmarshalMap(item, &fields); err != nil {
		return Document{}, fmt.Errorf("store: unmarshal item: %w", err)
	}
	id, _ := fields[dynamoSortKey].(string)
	delete(fields, dynamoSortKey)
	delete(fields, dynamoPartitionKey)
	return Document{ID: id, Fields: fields}, nil
}

func fingerprint(docs []Document) []byte {
	type entry struct {
		ID     string `json:"id"`
		Fields Fields `json:"f"`
	}
	entries := make([]entry, len(docs))
	for i, d := range docs {
		entries[i] = entry{ID: d.ID, Fields: d.Fields}
	}
	raw, _ := json.Marshal(entries)
	if raw == nil {
		raw = []byte{}
	}
	return raw
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

var _ Store = (*DynamoStore)(nil)
