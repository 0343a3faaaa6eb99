package repository

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"voice-tutor/internal/domain"
)

const (
	skPrefixTurn      = "TURN#"
	skMeta            = "META#"
	maxAppendAttempts = 3
)

// ErrConcurrentAppend is returned when another writer kept winning the race
// for a session's turn counter.
var ErrConcurrentAppend = errors.New("repository: concurrent append to session")

// dynamodbAPI is the minimal DynamoDB interface required by DynamoClient.
// Defined here for testability.
type dynamodbAPI interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	DeleteItem(ctx context.Context, in *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	Query(ctx context.Context, in *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	TransactWriteItems(ctx context.Context, in *dynamodb.TransactWriteItemsInput, optFns ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error)
}

// DynamoClient stores sessions and turns in a single DynamoDB table. Each
// session is one partition: a META# item holding the session attributes and a
// turn counter, followed by TURN#<seq> items. The zero-padded sequence makes
// the sort key order the conversational order.
type DynamoClient struct {
	api       dynamodbAPI
	tableName string
	now       func() time.Time
}

// NewDynamo creates a DynamoDB-backed conversation store.
func NewDynamo(api dynamodbAPI, tableName string) (*DynamoClient, error) {
	if api == nil {
		return nil, errors.New("repository: api must not be nil")
	}
	if strings.TrimSpace(tableName) == "" {
		return nil, errors.New("repository: table name must not be empty")
	}
	return &DynamoClient{api: api, tableName: tableName, now: time.Now}, nil
}

// sessionPK returns the DynamoDB partition key for a session.
func sessionPK(sessionID string) string {
	return "SESSION#" + sessionID
}

// turnSK returns the sort key for the seq-th turn of a session.
func turnSK(seq int64) string {
	return fmt.Sprintf("%s%020d", skPrefixTurn, seq)
}

func (c *DynamoClient) metaKey(sessionID string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK": &types.AttributeValueMemberS{Value: sessionPK(sessionID)},
		"SK": &types.AttributeValueMemberS{Value: skMeta},
	}
}

// CreateSession writes the session META# item unless it already exists.
func (c *DynamoClient) CreateSession(ctx context.Context, sessionID string, userID *int64) (domain.Session, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return domain.Session{}, errors.New("repository: CreateSession: session id must not be empty")
	}

	sess := domain.Session{
		ID:        sessionID,
		UserID:    userID,
		Status:    domain.SessionStatusActive,
		CreatedAt: c.now().UTC(),
	}
	_, err := c.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(c.tableName),
		Item:                sessionItem(sess),
		ConditionExpression: aws.String("attribute_not_exists(PK) AND attribute_not_exists(SK)"),
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return domain.Session{}, &DuplicateKeyError{Table: "sessions", Key: sessionID, Err: err}
		}
		return domain.Session{}, fmt.Errorf("repository: CreateSession: %w", err)
	}
	return sess, nil
}

// GetSession returns ErrNotFound when the META# item is missing.
func (c *DynamoClient) GetSession(ctx context.Context, sessionID string) (domain.Session, error) {
	sess, _, err := c.readMeta(ctx, sessionID)
	return sess, err
}

func (c *DynamoClient) readMeta(ctx context.Context, sessionID string) (domain.Session, int64, error) {
	out, err := c.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(c.tableName),
		Key:            c.metaKey(sessionID),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return domain.Session{}, 0, fmt.Errorf("repository: GetSession get item: %w", err)
	}
	if out == nil || len(out.Item) == 0 {
		return domain.Session{}, 0, fmt.Errorf("repository: GetSession %q: %w", sessionID, ErrNotFound)
	}
	sess, err := itemToSession(out.Item)
	if err != nil {
		return domain.Session{}, 0, fmt.Errorf("repository: GetSession decode: %w", err)
	}
	turns, err := intAttr(out.Item, "turns")
	if err != nil {
		return domain.Session{}, 0, fmt.Errorf("repository: GetSession decode turns: %w", err)
	}
	return sess, int64(turns), nil
}

// AppendTurn appends a single turn.
func (c *DynamoClient) AppendTurn(ctx context.Context, turn domain.NewTurn) (domain.Turn, error) {
	out, err := c.AppendTurns(ctx, []domain.NewTurn{turn})
	if err != nil {
		return domain.Turn{}, err
	}
	return out[0], nil
}

// AppendTurns writes the turns and advances the session's turn counter in one
// transaction. The counter is guarded by a condition, so concurrent appends
// to a session serialize; a lost race is retried against the fresh counter.
// All turns must belong to the same session.
func (c *DynamoClient) AppendTurns(ctx context.Context, turns []domain.NewTurn) ([]domain.Turn, error) {
	if len(turns) == 0 {
		return nil, errors.New("repository: AppendTurns: no turns to append")
	}
	sessionID := turns[0].SessionID
	for _, t := range turns[1:] {
		if t.SessionID != sessionID {
			return nil, errors.New("repository: AppendTurns: turns span multiple sessions")
		}
	}

	for attempt := 0; attempt < maxAppendAttempts; attempt++ {
		_, current, err := c.readMeta(ctx, sessionID)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				return nil, &ForeignKeyError{Table: "turns", Ref: "sessions", Key: sessionID, Err: err}
			}
			return nil, fmt.Errorf("repository: AppendTurns: %w", err)
		}

		createdAt := c.now().UTC()
		out := make([]domain.Turn, 0, len(turns))
		items := make([]types.TransactWriteItem, 0, len(turns)+1)
		for i, t := range turns {
			turn := domain.Turn{
				ID:        current + int64(i) + 1,
				SessionID: sessionID,
				Role:      t.Role,
				Text:      t.Text,
				AudioURL:  t.AudioURL,
				STTMs:     t.STTMs,
				LLMMs:     t.LLMMs,
				TTSMs:     t.TTSMs,
				CreatedAt: createdAt,
			}
			out = append(out, turn)
			items = append(items, types.TransactWriteItem{
				Put: &types.Put{
					TableName:           aws.String(c.tableName),
					Item:                turnItem(turn),
					ConditionExpression: aws.String("attribute_not_exists(PK) AND attribute_not_exists(SK)"),
				},
			})
		}
		items = append(items, types.TransactWriteItem{
			Update: &types.Update{
				TableName:           aws.String(c.tableName),
				Key:                 c.metaKey(sessionID),
				UpdateExpression:    aws.String("SET turns = :next"),
				ConditionExpression: aws.String("attribute_exists(PK) AND turns = :cur"),
				ExpressionAttributeValues: map[string]types.AttributeValue{
					":cur":  numberAttr(current),
					":next": numberAttr(current + int64(len(turns))),
				},
			},
		})

		_, err = c.api.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{TransactItems: items})
		if err == nil {
			return out, nil
		}
		var canceled *types.TransactionCanceledException
		if !errors.As(err, &canceled) {
			return nil, fmt.Errorf("repository: AppendTurns: %w", err)
		}
	}
	return nil, fmt.Errorf("repository: AppendTurns %q: %w", sessionID, ErrConcurrentAppend)
}

// ListTurns queries every TURN# item for a session in ascending sort-key
// order. An unknown session yields an empty slice.
func (c *DynamoClient) ListTurns(ctx context.Context, sessionID string) ([]domain.Turn, error) {
	turns := make([]domain.Turn, 0)
	err := c.queryPartition(ctx, sessionID, skPrefixTurn, func(item map[string]types.AttributeValue) error {
		t, err := itemToTurn(item)
		if err != nil {
			return err
		}
		turns = append(turns, t)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("repository: ListTurns: %w", err)
	}
	return turns, nil
}

// DeleteSession removes the session's turns and then its META# item.
func (c *DynamoClient) DeleteSession(ctx context.Context, sessionID string) error {
	if _, _, err := c.readMeta(ctx, sessionID); err != nil {
		return err
	}

	var sortKeys []string
	err := c.queryPartition(ctx, sessionID, skPrefixTurn, func(item map[string]types.AttributeValue) error {
		sk, err := strAttr(item, "SK")
		if err != nil {
			return err
		}
		sortKeys = append(sortKeys, sk)
		return nil
	})
	if err != nil {
		return fmt.Errorf("repository: DeleteSession: %w", err)
	}
	sortKeys = append(sortKeys, skMeta)

	for _, sk := range sortKeys {
		_, err := c.api.DeleteItem(ctx, &dynamodb.DeleteItemInput{
			TableName: aws.String(c.tableName),
			Key: map[string]types.AttributeValue{
				"PK": &types.AttributeValueMemberS{Value: sessionPK(sessionID)},
				"SK": &types.AttributeValueMemberS{Value: sk},
			},
		})
		if err != nil {
			return fmt.Errorf("repository: DeleteSession delete %s: %w", sk, err)
		}
	}
	return nil
}

func (c *DynamoClient) queryPartition(ctx context.Context, sessionID, prefix string, fn func(map[string]types.AttributeValue) error) error {
	var startKey map[string]types.AttributeValue
	for {
		out, err := c.api.Query(ctx, &dynamodb.QueryInput{
			TableName:              aws.String(c.tableName),
			KeyConditionExpression: aws.String("PK = :pk AND begins_with(SK, :prefix)"),
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":pk":     &types.AttributeValueMemberS{Value: sessionPK(sessionID)},
				":prefix": &types.AttributeValueMemberS{Value: prefix},
			},
			ScanIndexForward:  aws.Bool(true),
			ConsistentRead:    aws.Bool(true),
			ExclusiveStartKey: startKey,
		})
		if err != nil {
			return fmt.Errorf("query: %w", err)
		}
		for _, item := range out.Items {
			if err := fn(item); err != nil {
				return fmt.Errorf("unmarshal: %w", err)
			}
		}
		if len(out.LastEvaluatedKey) == 0 {
			return nil
		}
		startKey = out.LastEvaluatedKey
	}
}

func sessionItem(sess domain.Session) map[string]types.AttributeValue {
	item := map[string]types.AttributeValue{
		"PK":        &types.AttributeValueMemberS{Value: sessionPK(sess.ID)},
		"SK":        &types.AttributeValueMemberS{Value: skMeta},
		"sessionId": &types.AttributeValueMemberS{Value: sess.ID},
		"status":    &types.AttributeValueMemberS{Value: sess.Status},
		"createdAt": &types.AttributeValueMemberS{Value: sess.CreatedAt.Format(time.RFC3339Nano)},
		"turns":     numberAttr(0),
	}
	if sess.UserID != nil {
		item["userId"] = numberAttr(*sess.UserID)
	}
	return item
}

func turnItem(t domain.Turn) map[string]types.AttributeValue {
	item := map[string]types.AttributeValue{
		"PK":        &types.AttributeValueMemberS{Value: sessionPK(t.SessionID)},
		"SK":        &types.AttributeValueMemberS{Value: turnSK(t.ID)},
		"sessionId": &types.AttributeValueMemberS{Value: t.SessionID},
		"seq":       numberAttr(t.ID),
		"role":      &types.AttributeValueMemberS{Value: t.Role},
		"text":      &types.AttributeValueMemberS{Value: t.Text},
		"createdAt": &types.AttributeValueMemberS{Value: t.CreatedAt.Format(time.RFC3339Nano)},
	}
	if t.AudioURL != nil {
		item["audioUrl"] = &types.AttributeValueMemberS{Value: *t.AudioURL}
	}
	if t.STTMs != nil {
		item["sttMs"] = numberAttr(*t.STTMs)
	}
	if t.LLMMs != nil {
		item["llmMs"] = numberAttr(*t.LLMMs)
	}
	if t.TTSMs != nil {
		item["ttsMs"] = numberAttr(*t.TTSMs)
	}
	return item
}

func itemToSession(item map[string]types.AttributeValue) (domain.Session, error) {
	id, err := strAttr(item, "sessionId")
	if err != nil {
		return domain.Session{}, err
	}
	status, err := strAttr(item, "status")
	if err != nil {
		return domain.Session{}, err
	}
	createdAt, err := timeAttr(item, "createdAt")
	if err != nil {
		return domain.Session{}, err
	}
	userID, err := optInt64Attr(item, "userId")
	if err != nil {
		return domain.Session{}, err
	}
	return domain.Session{ID: id, UserID: userID, Status: status, CreatedAt: createdAt}, nil
}

// itemToTurn converts a DynamoDB attribute map to a Turn.
func itemToTurn(item map[string]types.AttributeValue) (domain.Turn, error) {
	sessionID, err := strAttr(item, "sessionId")
	if err != nil {
		return domain.Turn{}, err
	}
	seq, err := intAttr(item, "seq")
	if err != nil {
		return domain.Turn{}, err
	}
	role, err := strAttr(item, "role")
	if err != nil {
		return domain.Turn{}, err
	}
	text, err := strAttr(item, "text")
	if err != nil {
		return domain.Turn{}, err
	}
	createdAt, err := timeAttr(item, "createdAt")
	if err != nil {
		return domain.Turn{}, err
	}

	t := domain.Turn{
		ID:        int64(seq),
		SessionID: sessionID,
		Role:      role,
		Text:      text,
		CreatedAt: createdAt,
	}
	if v, ok := item["audioUrl"].(*types.AttributeValueMemberS); ok {
		audioURL := v.Value
		t.AudioURL = &audioURL
	}
	if t.STTMs, err = optInt64Attr(item, "sttMs"); err != nil {
		return domain.Turn{}, err
	}
	if t.LLMMs, err = optInt64Attr(item, "llmMs"); err != nil {
		return domain.Turn{}, err
	}
	if t.TTSMs, err = optInt64Attr(item, "ttsMs"); err != nil {
		return domain.Turn{}, err
	}
	return t, nil
}

func numberAttr(n int64) *types.AttributeValueMemberN {
	return &types.AttributeValueMemberN{Value: strconv.FormatInt(n, 10)}
}

func strAttr(item map[string]types.AttributeValue, key string) (string, error) {
	v, ok := item[key]
	if !ok {
		return "", fmt.Errorf("repository: missing attribute %q", key)
	}
	s, ok := v.(*types.AttributeValueMemberS)
	if !ok {
		return "", fmt.Errorf("repository: attribute %q is not a string", key)
	}
	return s.Value, nil
}

func intAttr(item map[string]types.AttributeValue, key string) (int, error) {
	v, ok := item[key]
	if !ok {
		return 0, fmt.Errorf("repository: missing attribute %q", key)
	}
	n, ok := v.(*types.AttributeValueMemberN)
	if !ok {
		return 0, fmt.Errorf("repository: attribute %q is not a number", key)
	}
	parsed, err := strconv.Atoi(n.Value)
	if err != nil {
		return 0, fmt.Errorf("repository: parse attribute %q: %w", key, err)
	}
	return parsed, nil
}

func optInt64Attr(item map[string]types.AttributeValue, key string) (*int64, error) {
	if _, ok := item[key]; !ok {
		return nil, nil
	}
	n, err := intAttr(item, key)
	if err != nil {
		return nil, err
	}
	v := int64(n)
	return &v, nil
}

func timeAttr(item map[string]types.AttributeValue, key string) (time.Time, error) {
	raw, err := strAttr(item, key)
	if err != nil {
		return time.Time{}, err
	}
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("repository: parse attribute %q: %w", key, err)
	}
	return t, nil
}
