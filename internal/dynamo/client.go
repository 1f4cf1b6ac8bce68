// Package dynamo stores help requests and knowledge entries in DynamoDB.
// Status changes use conditional updates so the first terminal transition
// wins across processes.
package dynamo

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"frontdesk/internal/domain"
)

// dynamodbAPI is the subset of *dynamodb.Client used here.
type dynamodbAPI interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	UpdateItem(ctx context.Context, in *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	Scan(ctx context.Context, in *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
}

type Client struct {
	api            dynamodbAPI
	requestsTable  string
	knowledgeTable string
}

func New(api dynamodbAPI, requestsTable, knowledgeTable string) (*Client, error) {
	if api == nil {
		return nil, errors.New("dynamo: api must not be nil")
	}
	if strings.TrimSpace(requestsTable) == "" || strings.TrimSpace(knowledgeTable) == "" {
		return nil, errors.New("dynamo: table names must not be empty")
	}
	return &Client{api: api, requestsTable: requestsTable, knowledgeTable: knowledgeTable}, nil
}

const tsLayout = "2006-01-02T15:04:05.000000000Z"

func ts(t time.Time) types.AttributeValue {
	return &types.AttributeValueMemberS{Value: t.UTC().Format(tsLayout)}
}

func str(v string) types.AttributeValue {
	return &types.AttributeValueMemberS{Value: v}
}

func isConditionFailed(err error) bool {
	var ccf *types.ConditionalCheckFailedException
	return errors.As(err, &ccf)
}

func requestKey(id string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{"id": str(id)}
}

func (c *Client) CreateRequest(ctx context.Context, req domain.HelpRequest) error {
	if req.Status != domain.StatusPending {
		return fmt.Errorf("%w: new help requests start pending, got %s", domain.ErrInvalidTransition, req.Status)
	}
	_, err := c.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(c.requestsTable),
		Item:                requestItem(req),
		ConditionExpression: aws.String("attribute_not_exists(id)"),
	})
	if err != nil {
		return fmt.Errorf("dynamo: CreateRequest: %w", err)
	}
	return nil
}

func (c *Client) GetRequest(ctx context.Context, id string) (domain.HelpRequest, error) {
	out, err := c.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(c.requestsTable),
		Key:            requestKey(id),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return domain.HelpRequest{}, fmt.Errorf("dynamo: GetRequest: %w", err)
	}
	if out == nil || len(out.Item) == 0 {
		return domain.HelpRequest{}, domain.ErrNotFound
	}
	return itemToRequest(out.Item)
}

// ListRequests scans the requests table and returns matches in creation
// order. Status is filtered server side.
func (c *Client) ListRequests(ctx context.Context, f domain.RequestFilter) ([]domain.HelpRequest, error) {
	in := &dynamodb.ScanInput{TableName: aws.String(c.requestsTable), ConsistentRead: aws.Bool(true)}
	if f.Status != "" {
		in.FilterExpression = aws.String("#s = :s")
		in.ExpressionAttributeNames = map[string]string{"#s": "status"}
		in.ExpressionAttributeValues = map[string]types.AttributeValue{":s": str(string(f.Status))}
	}
	var res []domain.HelpRequest
	err := c.scan(ctx, in, func(item map[string]types.AttributeValue) error {
		req, err := itemToRequest(item)
		if err != nil {
			return err
		}
		if f.Matches(req) {
			res = append(res, req)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("dynamo: ListRequests: %w", err)
	}
	sort.SliceStable(res, func(i, j int) bool {
		if !res[i].CreatedAt.Equal(res[j].CreatedAt) {
			return res[i].CreatedAt.Before(res[j].CreatedAt)
		}
		return res[i].ID < res[j].ID
	})
	return res, nil
}

// TransitionRequest applies t only while the item is still pending. A
// failed condition on an existing item reports false.
func (c *Client) TransitionRequest(ctx context.Context, t domain.Transition) (bool, error) {
	if err := domain.CanTransition(domain.StatusPending, t.To); err != nil {
		return false, err
	}
	update := "SET #s = :to, updatedAt = :at"
	values := map[string]types.AttributeValue{
		":to":      str(string(t.To)),
		":at":      ts(t.At),
		":pending": str(string(domain.StatusPending)),
	}
	if t.To == domain.StatusResolved {
		if strings.TrimSpace(t.ResolvedAnswer) == "" {
			return false, domain.Validation("resolved answer is required")
		}
		update += ", resolvedAnswer = :ans"
		values[":ans"] = str(t.ResolvedAnswer)
	}
	_, err := c.api.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                 aws.String(c.requestsTable),
		Key:                       requestKey(t.ID),
		UpdateExpression:          aws.String(update),
		ConditionExpression:       aws.String("attribute_exists(id) AND #s = :pending"),
		ExpressionAttributeNames:  map[string]string{"#s": "status"},
		ExpressionAttributeValues: values,
	})
	if err == nil {
		return true, nil
	}
	if !isConditionFailed(err) {
		return false, fmt.Errorf("dynamo: TransitionRequest: %w", err)
	}
	if _, err := c.GetRequest(ctx, t.ID); err != nil {
		return false, err
	}
	return false, nil
}

func (c *Client) SetSupervisorReply(ctx context.Context, id, reply string, at time.Time) error {
	_, err := c.api.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:           aws.String(c.requestsTable),
		Key:                 requestKey(id),
		UpdateExpression:    aws.String("SET supervisorReply = :r, updatedAt = :at"),
		ConditionExpression: aws.String("attribute_exists(id)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":r":  str(reply),
			":at": ts(at),
		},
	})
	if isConditionFailed(err) {
		return domain.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("dynamo: SetSupervisorReply: %w", err)
	}
	return nil
}

func (c *Client) scan(ctx context.Context, in *dynamodb.ScanInput, fn func(map[string]types.AttributeValue) error) error {
	for {
		out, err := c.api.Scan(ctx, in)
		if err != nil {
			return err
		}
		if out == nil {
			return nil
		}
		for _, item := range out.Items {
			if err := fn(item); err != nil {
				return err
			}
		}
		if len(out.LastEvaluatedKey) == 0 {
			return nil
		}
		in.ExclusiveStartKey = out.LastEvaluatedKey
	}
}

func requestItem(req domain.HelpRequest) map[string]types.AttributeValue {
	item := map[string]types.AttributeValue{
		"id":         str(req.ID),
		"question":   str(req.Question),
		"customerId": str(req.CustomerID),
		"status":     str(string(req.Status)),
		"createdAt":  ts(req.CreatedAt),
		"updatedAt":  ts(req.UpdatedAt),
		"dueAt":      ts(req.DueAt),
	}
	if req.ResolvedAnswer != nil {
		item["resolvedAnswer"] = str(*req.ResolvedAnswer)
	}
	if req.SupervisorReply != nil {
		item["supervisorReply"] = str(*req.SupervisorReply)
	}
	return item
}

func itemToRequest(item map[string]types.AttributeValue) (domain.HelpRequest, error) {
	var (
		req domain.HelpRequest
		err error
	)
	if req.ID, err = strAttr(item, "id"); err != nil {
		return req, err
	}
	if req.Question, err = strAttr(item, "question"); err != nil {
		return req, err
	}
	if req.CustomerID, err = strAttr(item, "customerId"); err != nil {
		return req, err
	}
	status, err := strAttr(item, "status")
	if err != nil {
		return req, err
	}
	if req.Status, err = domain.ParseStatus(status); err != nil {
		return req, err
	}
	if v, err := strAttr(item, "resolvedAnswer"); err == nil {
		req.ResolvedAnswer = &v
	}
	if v, err := strAttr(item, "supervisorReply"); err == nil {
		req.SupervisorReply = &v
	}
	if req.CreatedAt, err = timeAttr(item, "createdAt"); err != nil {
		return req, err
	}
	if req.UpdatedAt, err = timeAttr(item, "updatedAt"); err != nil {
		return req, err
	}
	if req.DueAt, err = timeAttr(item, "dueAt"); err != nil {
		return req, err
	}
	return req, nil
}

func strAttr(item map[string]types.AttributeValue, key string) (string, error) {
	v, ok := item[key]
	if !ok {
		return "", fmt.Errorf("dynamo: missing attribute %q", key)
	}
	s, ok := v.(*types.AttributeValueMemberS)
	if !ok {
		return "", fmt.Errorf("dynamo: attribute %q is not a string", key)
	}
	return s.Value, nil
}

func intAttr(item map[string]types.AttributeValue, key string) (int64, error) {
	v, ok := item[key]
	if !ok {
		return 0, nil
	}
	n, ok := v.(*types.AttributeValueMemberN)
	if !ok {
		return 0, fmt.Errorf("dynamo: attribute %q is not a number", key)
	}
	parsed, err := strconv.ParseInt(n.Value, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("dynamo: parse attribute %q: %w", key, err)
	}
	return parsed, nil
}

func timeAttr(item map[string]types.AttributeValue, key string) (time.Time, error) {
	s, err := strAttr(item, key)
	if err != nil {
		return time.Time{}, err
	}
	t, err := time.Parse(tsLayout, s)
	if err != nil {
		t, err = time.Parse(time.RFC3339Nano, s)
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("dynamo: parse attribute %q: %w", key, err)
	}
	return t, nil
}
