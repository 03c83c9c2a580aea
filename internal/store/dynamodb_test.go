package store

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/traffic-tacos/auth-api/internal/models"
)

// fakeDynamo understands just enough of the single-table layout to exercise DynamoDBStore.
type fakeDynamo struct {
	mu       sync.Mutex
	items    map[string]map[string]types.AttributeValue
	failWith error
}

func newFakeDynamo() *fakeDynamo {
	return &fakeDynamo{items: make(map[string]map[string]types.AttributeValue)}
}

func pkOf(item map[string]types.AttributeValue) string {
	return item[partitionKey].(*types.AttributeValueMemberS).Value
}

func (f *fakeDynamo) GetItem(_ context.Context, in *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWith != nil {
		return nil, f.failWith
	}
	return &dynamodb.GetItemOutput{Item: f.items[pkOf(in.Key)]}, nil
}

func (f *fakeDynamo) UpdateItem(_ context.Context, in *dynamodb.UpdateItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWith != nil {
		return nil, f.failWith
	}

	key := pkOf(in.Key)
	item, ok := f.items[key]
	if !ok {
		item = map[string]types.AttributeValue{partitionKey: in.Key[partitionKey]}
		f.items[key] = item
	}
	var seq int64
	if n, ok := item[sequenceAttr].(*types.AttributeValueMemberN); ok {
		seq, _ = strconv.ParseInt(n.Value, 10, 64)
	}
	seq++
	item[sequenceAttr] = &types.AttributeValueMemberN{Value: strconv.FormatInt(seq, 10)}

	return &dynamodb.UpdateItemOutput{Attributes: map[string]types.AttributeValue{sequenceAttr: item[sequenceAttr]}}, nil
}

func (f *fakeDynamo) TransactWriteItems(_ context.Context, in *dynamodb.TransactWriteItemsInput, _ ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWith != nil {
		return nil, f.failWith
	}

	reasons := make([]types.CancellationReason, len(in.TransactItems))
	canceled := false
	for i, ti := range in.TransactItems {
		reasons[i] = types.CancellationReason{Code: aws.String("None")}
		if _, exists := f.items[pkOf(ti.Put.Item)]; exists {
			reasons[i].Code = aws.String(conditionFailed)
			canceled = true
		}
	}
	if canceled {
		return nil, &types.TransactionCanceledException{
			Message:             aws.String("Transaction cancelled"),
			CancellationReasons: reasons,
		}
	}

	for _, ti := range in.TransactItems {
		f.items[pkOf(ti.Put.Item)] = ti.Put.Item
	}
	return &dynamodb.TransactWriteItemsOutput{}, nil
}

func (f *fakeDynamo) Scan(_ context.Context, in *dynamodb.ScanInput, _ ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWith != nil {
		return nil, f.failWith
	}

	prefix := in.ExpressionAttributeValues[":prefix"].(*types.AttributeValueMemberS).Value
	var out []map[string]types.AttributeValue
	for key, item := range f.items {
		if strings.HasPrefix(key, prefix) {
			out = append(out, item)
		}
	}
	return &dynamodb.ScanOutput{Items: out}, nil
}

func (f *fakeDynamo) DescribeTable(_ context.Context, _ *dynamodb.DescribeTableInput, _ ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error) {
	return &dynamodb.DescribeTableOutput{}, f.failWith
}

func TestDynamoDBStore_AddAndFind(t *testing.T) {
	ctx := context.Background()
	s := NewDynamoDBStore(newFakeDynamo(), "users")

	anna, err := s.Add(ctx, &models.User{Username: "anna", Password: "hash", RoleName: "student"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), anna.UserID)
	assert.False(t, anna.CreatedAt.IsZero())

	bob, err := s.Add(ctx, &models.User{Username: "bob", Password: "hash2", RoleName: "admin"})
	require.NoError(t, err)
	assert.Equal(t, int64(2), bob.UserID)

	got, err := s.FindByUsername(ctx, "anna")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, int64(1), got.UserID)
	assert.Equal(t, "hash", got.Password)
	assert.Equal(t, "student", got.RoleName)

	got, err = s.FindByID(ctx, 2)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "bob", got.Username)

	users, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, users, 2)
	assert.Equal(t, "anna", users[0].Username)
	assert.Equal(t, "bob", users[1].Username)
}

func TestDynamoDBStore_NotFound(t *testing.T) {
	ctx := context.Background()
	s := NewDynamoDBStore(newFakeDynamo(), "users")

	got, err := s.FindByUsername(ctx, "ghost")
	assert.NoError(t, err)
	assert.Nil(t, got)

	got, err = s.FindByID(ctx, 42)
	assert.NoError(t, err)
	assert.Nil(t, got)
}

func TestDynamoDBStore_DuplicateUsername(t *testing.T) {
	ctx := context.Background()
	s := NewDynamoDBStore(newFakeDynamo(), "users")

	_, err := s.Add(ctx, &models.User{Username: "anna", Password: "hash", RoleName: "student"})
	require.NoError(t, err)

	_, err = s.Add(ctx, &models.User{Username: "anna", Password: "other", RoleName: "student"})
	assert.ErrorIs(t, err, ErrDuplicateUsername)

	users, err := s.List(ctx)
	require.NoError(t, err)
	assert.Len(t, users, 1)
}

func TestDynamoDBStore_BackendErrors(t *testing.T) {
	ctx := context.Background()
	fake := newFakeDynamo()
	fake.failWith = errors.New("throttled")
	s := NewDynamoDBStore(fake, "users")

	_, err := s.FindByUsername(ctx, "anna")
	assert.ErrorContains(t, err, "throttled")

	_, err = s.Add(ctx, &models.User{Username: "anna"})
	assert.ErrorContains(t, err, "throttled")
	assert.NotErrorIs(t, err, ErrDuplicateUsername)

	_, err = s.List(ctx)
	assert.ErrorContains(t, err, "throttled")

	assert.Error(t, s.Ping(ctx))
}
