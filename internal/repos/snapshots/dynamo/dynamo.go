package snapshots

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/fastprodman/balancesync/internal/config"
	"github.com/fastprodman/balancesync/internal/repos/snapshots"
)

var _ snapshots.Store = (*snapshotsRepo)(nil)

// API is the subset of the DynamoDB client the store needs.
type API interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, opts ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, opts ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
}

type item struct {
	SessionID string    `dynamodbav:"session_id"`
	Version   int64     `dynamodbav:"version"`
	Record    string    `dynamodbav:"record"`
	UpdatedAt time.Time `dynamodbav:"updated_at"`
}

type snapshotsRepo struct {
	api   API
	table string
	now   func() time.Time
}

func New(api API, table string) *snapshotsRepo {
	return &snapshotsRepo{api: api, table: table, now: time.Now}
}

// NewClient builds a DynamoDB client from the default AWS credential chain.
// A non-empty endpoint points it at DynamoDB Local or LocalStack.
func NewClient(ctx context.Context, cfg config.DynamoConfig) (*dynamodb.Client, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	return dynamodb.NewFromConfig(awsCfg, func(o *dynamodb.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	}), nil
}

func (r *snapshotsRepo) Save(ctx context.Context, sessionID string, rec snapshots.Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}

	av, err := attributevalue.MarshalMap(item{
		SessionID: sessionID,
		Version:   rec.Snapshot.Version,
		Record:    string(data),
		UpdatedAt: r.now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("marshal item: %w", err)
	}

	_, err = r.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(r.table),
		Item:                av,
		ConditionExpression: aws.String("attribute_not_exists(session_id) OR #v <= :v"),
		ExpressionAttributeNames: map[string]string{
			"#v": "version",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":v": &types.AttributeValueMemberN{Value: strconv.FormatInt(rec.Snapshot.Version, 10)},
		},
	})
	if err != nil {
		var stale *types.ConditionalCheckFailedException
		if errors.As(err, &stale) {
			return nil
		}

		return fmt.Errorf("put snapshot: %w", err)
	}

	return nil
}

func (r *snapshotsRepo) Load(ctx context.Context, sessionID string) (snapshots.Record, error) {
	out, err := r.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(r.table),
		Key:            map[string]types.AttributeValue{"session_id": &types.AttributeValueMemberS{Value: sessionID}},
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return snapshots.Record{}, fmt.Errorf("get snapshot: %w", err)
	}

	if len(out.Item) == 0 {
		return snapshots.Record{}, snapshots.ErrNotFound
	}

	var it item

	err = attributevalue.UnmarshalMap(out.Item, &it)
	if err != nil {
		return snapshots.Record{}, fmt.Errorf("unmarshal item: %w", err)
	}

	var rec snapshots.Record

	err = json.Unmarshal([]byte(it.Record), &rec)
	if err != nil {
		return snapshots.Record{}, fmt.Errorf("decode snapshot: %w", err)
	}

	return rec, nil
}
