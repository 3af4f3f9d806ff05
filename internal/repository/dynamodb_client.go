package repository

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"groupbuy-bot/internal/domain"
)

const (
	pkPrefixParticipant = "PARTICIPANT#"
	pkShared            = "SHARED"
	skState             = "STATE"
	convAttrPrefix      = "conv#"
	ttlDuration         = 30 * 24 * time.Hour // retention for abandoned state
)

// dynamodbAPI is the minimal DynamoDB interface required by Client.
// Defined here for testability.
type dynamodbAPI interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	UpdateItem(ctx context.Context, in *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	Scan(ctx context.Context, in *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
}

// Client bridges one DynamoDB table to the conversation persistence
// contract. Each participant owns a single record carrying both the
// scratch mapping and a per-conversation state attribute, so every
// partial write merges into the record and never overwrites unrelated
// fields. One additional record holds the shared process data.
//
// The contract is deliberately forgiving: a failed load degrades to an
// empty result (equivalent to a fresh conversation) and a failed save
// is logged and dropped. The current request always completes; the next
// invocation may observe stale state, which the flow tolerates.
type Client struct {
	api       dynamodbAPI
	tableName string
	log       *slog.Logger
}

// New creates a new persistence Client.
func New(api dynamodbAPI, tableName string, log *slog.Logger) (*Client, error) {
	if api == nil {
		return nil, errors.New("repository: api must not be nil")
	}
	if strings.TrimSpace(tableName) == "" {
		return nil, errors.New("repository: table name must not be empty")
	}
	if log == nil {
		log = slog.Default()
	}
	return &Client{api: api, tableName: tableName, log: log}, nil
}

// participantPK returns the partition key for a participant record.
func participantPK(participantID string) string {
	return pkPrefixParticipant + participantID
}

// convAttr returns the attribute name holding the state of one named
// conversation on a participant record.
func convAttr(name string) string {
	return convAttrPrefix + name
}

// ttlValue returns a Unix timestamp 30 days in the future.
func ttlValue() int64 {
	return time.Now().Add(ttlDuration).Unix()
}

// LoadAllScratch returns the scratch mapping of every known
// participant. Records without a scratch attribute contribute an empty
// mapping, not an error.
func (c *Client) LoadAllScratch(ctx context.Context) map[string]domain.Scratch {
	out := make(map[string]domain.Scratch)
	items, err := c.scanParticipants(ctx)
	if err != nil {
		c.log.Error("load scratch failed, degrading to empty", "err", err)
		return out
	}
	for _, item := range items {
		id, ok := stringAttr(item, "participantId")
		if !ok {
			continue
		}
		out[id] = domain.Scratch(stringMapAttr(item, "scratch"))
	}
	return out
}

// SaveScratch upserts the scratch attribute on the participant record.
// Empty data overwrites with an empty mapping; the record itself, which
// also carries conversation state, is never deleted here.
func (c *Client) SaveScratch(ctx context.Context, participantID string, data domain.Scratch) {
	_, err := c.api.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:        aws.String(c.tableName),
		Key:              participantKey(participantID),
		UpdateExpression: aws.String("SET participantId = :id, scratch = :s, #ttl = :ttl"),
		ExpressionAttributeNames: map[string]string{
			"#ttl": "ttl",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":id":  &types.AttributeValueMemberS{Value: participantID},
			":s":   stringMapValue(data),
			":ttl": numberValue(ttlValue()),
		},
	})
	if err != nil {
		c.log.Error("save scratch failed, dropping write", "participant", participantID, "err", err)
	}
}

// LoadAllInstances returns the stored state of every participant with a
// live (or explicitly ended) instance of the named conversation.
// Records without the attribute contribute no entry.
func (c *Client) LoadAllInstances(ctx context.Context, name string) map[string]domain.State {
	out := make(map[string]domain.State)
	items, err := c.scanParticipants(ctx)
	if err != nil {
		c.log.Error("load instances failed, degrading to empty", "conversation", name, "err", err)
		return out
	}
	for _, item := range items {
		id, ok := stringAttr(item, "participantId")
		if !ok {
			continue
		}
		if st, ok := stringAttr(item, convAttr(name)); ok {
			out[id] = domain.State(st)
		}
	}
	return out
}

// SaveInstance upserts the conversation-state attribute for one
// participant. StateEnded is stored as a real value, distinct from
// "never started", so a later load cannot resurrect a stale state.
func (c *Client) SaveInstance(ctx context.Context, name, participantID string, state domain.State) {
	_, err := c.api.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:        aws.String(c.tableName),
		Key:              participantKey(participantID),
		UpdateExpression: aws.String("SET participantId = :id, #c = :st, #ttl = :ttl"),
		ExpressionAttributeNames: map[string]string{
			"#c":   convAttr(name),
			"#ttl": "ttl",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":id":  &types.AttributeValueMemberS{Value: participantID},
			":st":  &types.AttributeValueMemberS{Value: string(state)},
			":ttl": numberValue(ttlValue()),
		},
	})
	if err != nil {
		c.log.Error("save instance failed, dropping write",
			"conversation", name, "participant", participantID, "state", string(state), "err", err)
	}
}

// LoadShared returns the shared process data mapping. An absent record
// or a failed read degrades to an empty mapping.
func (c *Client) LoadShared(ctx context.Context) map[string]string {
	out, err := c.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(c.tableName),
		Key:            sharedKey(),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		c.log.Error("load shared failed, degrading to empty", "err", err)
		return map[string]string{}
	}
	if out == nil || len(out.Item) == 0 {
		return map[string]string{}
	}
	return stringMapAttr(out.Item, "entries")
}

// SaveShared overwrites the shared data mapping. Empty data writes an
// empty mapping rather than deleting the record.
func (c *Client) SaveShared(ctx context.Context, data map[string]string) {
	_, err := c.api.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:        aws.String(c.tableName),
		Key:              sharedKey(),
		UpdateExpression: aws.String("SET entries = :e, #ttl = :ttl"),
		ExpressionAttributeNames: map[string]string{
			"#ttl": "ttl",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":e":   stringMapValue(data),
			":ttl": numberValue(ttlValue()),
		},
	})
	if err != nil {
		c.log.Error("save shared failed, dropping write", "err", err)
	}
}

// DropParticipant resets the scratch mapping and removes the named
// conversation attribute, returning the participant to "never started"
// without touching unrelated fields on the record.
func (c *Client) DropParticipant(ctx context.Context, participantID, name string) {
	_, err := c.api.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:        aws.String(c.tableName),
		Key:              participantKey(participantID),
		UpdateExpression: aws.String("SET participantId = :id, scratch = :s, #ttl = :ttl REMOVE #c"),
		ExpressionAttributeNames: map[string]string{
			"#c":   convAttr(name),
			"#ttl": "ttl",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":id":  &types.AttributeValueMemberS{Value: participantID},
			":s":   stringMapValue(map[string]string{}),
			":ttl": numberValue(ttlValue()),
		},
	})
	if err != nil {
		c.log.Error("drop participant failed, dropping write", "participant", participantID, "err", err)
	}
}

// scanParticipants pages through all participant records.
func (c *Client) scanParticipants(ctx context.Context) ([]map[string]types.AttributeValue, error) {
	var items []map[string]types.AttributeValue
	var startKey map[string]types.AttributeValue
	for {
		out, err := c.api.Scan(ctx, &dynamodb.ScanInput{
			TableName:        aws.String(c.tableName),
			FilterExpression: aws.String("begins_with(PK, :p) AND SK = :sk"),
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":p":  &types.AttributeValueMemberS{Value: pkPrefixParticipant},
				":sk": &types.AttributeValueMemberS{Value: skState},
			},
			ExclusiveStartKey: startKey,
		})
		if err != nil {
			return nil, err
		}
		items = append(items, out.Items...)
		if len(out.LastEvaluatedKey) == 0 {
			return items, nil
		}
		startKey = out.LastEvaluatedKey
	}
}

func participantKey(participantID string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK": &types.AttributeValueMemberS{Value: participantPK(participantID)},
		"SK": &types.AttributeValueMemberS{Value: skState},
	}
}

func sharedKey() map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK": &types.AttributeValueMemberS{Value: pkShared},
		"SK": &types.AttributeValueMemberS{Value: skState},
	}
}

func stringMapValue[M ~map[string]string](data M) *types.AttributeValueMemberM {
	m := make(map[string]types.AttributeValue, len(data))
	for k, v := range data {
		m[k] = &types.AttributeValueMemberS{Value: v}
	}
	return &types.AttributeValueMemberM{Value: m}
}

func stringMapAttr(item map[string]types.AttributeValue, key string) map[string]string {
	out := map[string]string{}
	v, ok := item[key]
	if !ok {
		return out
	}
	m, ok := v.(*types.AttributeValueMemberM)
	if !ok {
		return out
	}
	for k, av := range m.Value {
		if s, ok := av.(*types.AttributeValueMemberS); ok {
			out[k] = s.Value
		}
	}
	return out
}

func stringAttr(item map[string]types.AttributeValue, key string) (string, bool) {
	v, ok := item[key]
	if !ok {
		return "", false
	}
	s, ok := v.(*types.AttributeValueMemberS)
	if !ok {
		return "", false
	}
	return s.Value, true
}

func numberValue(n int64) *types.AttributeValueMemberN {
	return &types.AttributeValueMemberN{Value: strconv.FormatInt(n, 10)}
}
