package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/sirupsen/logrus"

	"github.com/traffic-tacos/auth-api/internal/config"
	"github.com/traffic-tacos/auth-api/internal/models"
)

// Single-table layout keyed by "pk":
//
//	user#<id>        the user record
//	username#<name>  uniqueness guard pointing at user_id
//	counter#users    monotonic id sequence
const (
	partitionKey    = "pk"
	userKeyPrefix   = "user#"
	usernameKeyPfx  = "username#"
	userCounterKey  = "counter#users"
	sequenceAttr    = "seq"
	conditionFailed = "ConditionalCheckFailed"
)

// DynamoDBAPI is the subset of *dynamodb.Client used by DynamoDBStore.
type DynamoDBAPI interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	TransactWriteItems(ctx context.Context, params *dynamodb.TransactWriteItemsInput, optFns ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error)
	Scan(ctx context.Context, params *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
	DescribeTable(ctx context.Context, params *dynamodb.DescribeTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error)
}

// DynamoDBStore is a Store backed by a single DynamoDB table.
type DynamoDBStore struct {
	client    DynamoDBAPI
	tableName string
}

func NewDynamoDBStore(client DynamoDBAPI, tableName string) *DynamoDBStore {
	return &DynamoDBStore{client: client, tableName: tableName}
}

// NewDynamoDBClient loads AWS configuration and builds a DynamoDB client.
func NewDynamoDBClient(ctx context.Context, cfg *config.DynamoDBConfig, awsCfg *config.AWSConfig, logger *logrus.Logger) (*dynamodb.Client, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if awsCfg.Profile != "" {
		// Use specific profile for local development
		opts = append(opts, awsconfig.WithSharedConfigProfile(awsCfg.Profile))
	}

	loaded, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := dynamodb.NewFromConfig(loaded, func(o *dynamodb.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})

	logger.WithFields(logrus.Fields{
		"region":     cfg.Region,
		"table_name": cfg.UsersTableName,
		"endpoint":   cfg.Endpoint,
	}).Info("DynamoDB client initialized")

	return client, nil
}

func (s *DynamoDBStore) FindByUsername(ctx context.Context, username string) (*models.User, error) {
	guard, err := s.getItem(ctx, usernameKeyPfx+username)
	if err != nil || guard == nil {
		return nil, err
	}

	var ref struct {
		UserID int64 `dynamodbav:"user_id"`
	}
	if err := attributevalue.UnmarshalMap(guard, &ref); err != nil {
		return nil, fmt.Errorf("unmarshal failed: %w", err)
	}

	return s.FindByID(ctx, ref.UserID)
}

func (s *DynamoDBStore) FindByID(ctx context.Context, id int64) (*models.User, error) {
	item, err := s.getItem(ctx, userKey(id))
	if err != nil || item == nil {
		return nil, err
	}

	var user models.User
	if err := attributevalue.UnmarshalMap(item, &user); err != nil {
		return nil, fmt.Errorf("unmarshal failed: %w", err)
	}
	return &user, nil
}

func (s *DynamoDBStore) List(ctx context.Context) ([]models.User, error) {
	paginator := dynamodb.NewScanPaginator(s.client, &dynamodb.ScanInput{
		TableName:        aws.String(s.tableName),
		FilterExpression: aws.String("begins_with(#pk, :prefix)"),
		ExpressionAttributeNames: map[string]string{
			"#pk": partitionKey,
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":prefix": &types.AttributeValueMemberS{Value: userKeyPrefix},
		},
	})

	users := []models.User{}
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("scan failed: %w", err)
		}

		var batch []models.User
		if err := attributevalue.UnmarshalListOfMaps(page.Items, &batch); err != nil {
			return nil, fmt.Errorf("unmarshal failed: %w", err)
		}
		users = append(users, batch...)
	}

	sort.Slice(users, func(i, j int) bool { return users[i].UserID < users[j].UserID })
	return users, nil
}

func (s *DynamoDBStore) Add(ctx context.Context, user *models.User) (*models.User, error) {
	id, err := s.nextID(ctx)
	if err != nil {
		return nil, err
	}

	stored := *user
	stored.UserID = id
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = time.Now().UTC()
	}

	item, err := attributevalue.MarshalMap(stored)
	if err != nil {
		return nil, fmt.Errorf("marshal failed: %w", err)
	}
	item[partitionKey] = &types.AttributeValueMemberS{Value: userKey(id)}

	guard := map[string]types.AttributeValue{
		partitionKey: &types.AttributeValueMemberS{Value: usernameKeyPfx + stored.Username},
		"user_id":    &types.AttributeValueMemberN{Value: strconv.FormatInt(id, 10)},
	}

	notExists := aws.String("attribute_not_exists(#pk)")
	names := map[string]string{"#pk": partitionKey}

	_, err = s.client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems: []types.TransactWriteItem{
			{Put: &types.Put{
				TableName:                aws.String(s.tableName),
				Item:                     guard,
				ConditionExpression:      notExists,
				ExpressionAttributeNames: names,
			}},
			{Put: &types.Put{
				TableName:                aws.String(s.tableName),
				Item:                     item,
				ConditionExpression:      notExists,
				ExpressionAttributeNames: names,
			}},
		},
	})
	if err != nil {
		if isGuardConflict(err) {
			return nil, ErrDuplicateUsername
		}
		return nil, fmt.Errorf("put item failed: %w", err)
	}

	return &stored, nil
}

func (s *DynamoDBStore) Ping(ctx context.Context) error {
	_, err := s.client.DescribeTable(ctx, &dynamodb.DescribeTableInput{
		TableName: aws.String(s.tableName),
	})
	return err
}

func (s *DynamoDBStore) getItem(ctx context.Context, key string) (map[string]types.AttributeValue, error) {
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.tableName),
		Key: map[string]types.AttributeValue{
			partitionKey: &types.AttributeValueMemberS{Value: key},
		},
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("get item failed: %w", err)
	}
	if len(out.Item) == 0 {
		return nil, nil
	}
	return out.Item, nil
}

func (s *DynamoDBStore) nextID(ctx context.Context) (int64, error) {
	out, err := s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: aws.String(s.tableName),
		Key: map[string]types.AttributeValue{
			partitionKey: &types.AttributeValueMemberS{Value: userCounterKey},
		},
		UpdateExpression: aws.String("ADD #seq :one"),
		ExpressionAttributeNames: map[string]string{
			"#seq": sequenceAttr,
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":one": &types.AttributeValueMemberN{Value: "1"},
		},
		ReturnValues: types.ReturnValueUpdatedNew,
	})
	if err != nil {
		return 0, fmt.Errorf("update counter failed: %w", err)
	}

	seq, ok := out.Attributes[sequenceAttr].(*types.AttributeValueMemberN)
	if !ok {
		return 0, fmt.Errorf("counter returned no sequence")
	}
	return strconv.ParseInt(seq.Value, 10, 64)
}

// isGuardConflict reports whether the transaction failed because the
// username guard item already exists.
func isGuardConflict(err error) bool {
	var canceled *types.TransactionCanceledException
	if !errors.As(err, &canceled) {
		return false
	}
	if len(canceled.CancellationReasons) > 0 {
		return aws.ToString(canceled.CancellationReasons[0].Code) == conditionFailed
	}
	return strings.Contains(aws.ToString(canceled.Message), conditionFailed)
}

func userKey(id int64) string {
	return userKeyPrefix + strconv.FormatInt(id, 10)
}
