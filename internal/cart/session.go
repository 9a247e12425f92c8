package cart

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// Abandonment triggers reported by clients.
const (
	ReasonTabHidden  = "tab_hidden"
	ReasonNavigation = "navigation"
	ReasonTimeout    = "timeout"
)

// Touch refreshes the cached aggregates of a session from its current items.
// A converted session is left untouched.
func (s *Store) Touch(ctx context.Context, sessionID, userID, email string, items []Item) error {
	expr := "SET total_value = :tv, item_count = :ic, updated_at = :now, created_at = if_not_exists(created_at, :now)"
	values := map[string]types.AttributeValue{
		":tv":  &types.AttributeValueMemberN{Value: ComputeTotal(items).String()},
		":ic":  &types.AttributeValueMemberN{Value: strconv.Itoa(ItemCount(items))},
		":now": &types.AttributeValueMemberS{Value: s.timestamp()},
	}
	if userID != "" {
		expr += ", user_id = :uid"
		values[":uid"] = &types.AttributeValueMemberS{Value: userID}
	}
	if email != "" {
		expr += ", email = :email"
		values[":email"] = &types.AttributeValueMemberS{Value: email}
	}

	_, err := s.client.UpdateItem(ctx, &dyn.UpdateItemInput{
		TableName:                 &s.sessionsTable,
		Key:                       sessionKey(sessionID),
		UpdateExpression:          &expr,
		ConditionExpression:       awsString("attribute_not_exists(converted_at)"),
		ExpressionAttributeValues: values,
	})
	if err != nil {
		if isConditionFailure(err) {
			log.Printf("[cart] session %s already converted, aggregates not refreshed", sessionID)
			return nil
		}
		return fmt.Errorf("touch session: %w", err)
	}
	return nil
}

// GetSession returns a session, or (nil, nil) if it does not exist.
func (s *Store) GetSession(ctx context.Context, sessionID string) (*Session, error) {
	out, err := s.client.GetItem(ctx, &dyn.GetItemInput{
		TableName:      &s.sessionsTable,
		Key:            sessionKey(sessionID),
		ConsistentRead: awsBool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	if len(out.Item) == 0 {
		return nil, nil
	}
	var sess Session
	if err := attributevalue.UnmarshalMap(out.Item, &sess); err != nil {
		return nil, fmt.Errorf("unmarshal session: %w", err)
	}
	return &sess, nil
}

// TransitionAbandoned marks an active session abandoned. The first trigger wins;
// later triggers, converted sessions and unknown sessions are no-ops.
func (s *Store) TransitionAbandoned(ctx context.Context, sessionID, reason string) error {
	_, err := s.client.UpdateItem(ctx, &dyn.UpdateItemInput{
		TableName:        &s.sessionsTable,
		Key:              sessionKey(sessionID),
		UpdateExpression: awsString("SET abandoned_at = :now, abandon_reason = :r, updated_at = :now"),
		ConditionExpression: awsString("attribute_exists(session_id) AND attribute_not_exists(converted_at) " +
			"AND attribute_not_exists(abandoned_at)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":now": &types.AttributeValueMemberS{Value: s.timestamp()},
			":r":   &types.AttributeValueMemberS{Value: reason},
		},
	})
	if err != nil {
		if isConditionFailure(err) {
			return nil
		}
		return fmt.Errorf("mark session abandoned: %w", err)
	}
	log.Printf("[cart] session %s abandoned (%s)", sessionID, reason)
	return nil
}

// TransitionConverted marks a session converted by orderID and clears any abandonment.
// Conversion is terminal; converting twice keeps the first order id.
func (s *Store) TransitionConverted(ctx context.Context, sessionID, orderID string) error {
	_, err := s.client.UpdateItem(ctx, &dyn.UpdateItemInput{
		TableName: &s.sessionsTable,
		Key:       sessionKey(sessionID),
		UpdateExpression: awsString("SET converted_at = :now, order_id = :oid, updated_at = :now, " +
			"created_at = if_not_exists(created_at, :now) REMOVE abandoned_at, abandon_reason"),
		ConditionExpression: awsString("attribute_not_exists(converted_at)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":now": &types.AttributeValueMemberS{Value: s.timestamp()},
			":oid": &types.AttributeValueMemberS{Value: orderID},
		},
	})
	if err != nil {
		if isConditionFailure(err) {
			return nil
		}
		return fmt.Errorf("mark session converted: %w", err)
	}
	log.Printf("[cart] session %s converted by order %s", sessionID, orderID)
	return nil
}

func (s *Store) timestamp() string {
	return s.nowFunc().UTC().Format(time.RFC3339Nano)
}

func sessionKey(id string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{"session_id": &types.AttributeValueMemberS{Value: id}}
}

func isConditionFailure(err error) bool {
	var ccf *types.ConditionalCheckFailedException
	return errors.As(err, &ccf)
}
