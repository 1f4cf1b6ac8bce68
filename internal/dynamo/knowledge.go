package dynamo

import (
	"context"
	"fmt"
	"sort"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"frontdesk/internal/domain"
)

// "key" is a DynamoDB reserved word, so every expression aliases it.
var knowledgeNames = map[string]string{"#k": "key"}

func knowledgeKey(key string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{"key": str(key)}
}

func (c *Client) FindAnswer(ctx context.Context, key string) (domain.KnowledgeEntry, error) {
	out, err := c.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(c.knowledgeTable),
		Key:       knowledgeKey(key),
	})
	if err != nil {
		return domain.KnowledgeEntry{}, fmt.Errorf("dynamo: FindAnswer: %w", err)
	}
	if out == nil || len(out.Item) == 0 {
		return domain.KnowledgeEntry{}, domain.ErrNotFound
	}
	return itemToKnowledge(out.Item)
}

func (c *Client) RecordHit(ctx context.Context, key string) error {
	_, err := c.api.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                 aws.String(c.knowledgeTable),
		Key:                       knowledgeKey(key),
		UpdateExpression:          aws.String("ADD hits :one"),
		ConditionExpression:       aws.String("attribute_exists(#k)"),
		ExpressionAttributeNames:  knowledgeNames,
		ExpressionAttributeValues: map[string]types.AttributeValue{":one": &types.AttributeValueMemberN{Value: "1"}},
	})
	if err != nil && !isConditionFailed(err) {
		return fmt.Errorf("dynamo: RecordHit: %w", err)
	}
	return nil
}

// UpsertAnswer overwrites question and answer in place; createdAt and hits
// are only set on first write.
func (c *Client) UpsertAnswer(ctx context.Context, e domain.KnowledgeEntry) error {
	_, err := c.api.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:        aws.String(c.knowledgeTable),
		Key:              knowledgeKey(e.Key),
		UpdateExpression: aws.String("SET #q = :q, #a = :a, updatedAt = :u, createdAt = if_not_exists(createdAt, :c), hits = if_not_exists(hits, :zero)"),
		ExpressionAttributeNames: map[string]string{
			"#q": "question",
			"#a": "answer",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":q":    str(e.Question),
			":a":    str(e.Answer),
			":u":    ts(e.UpdatedAt),
			":c":    ts(e.CreatedAt),
			":zero": &types.AttributeValueMemberN{Value: "0"},
		},
	})
	if err != nil {
		return fmt.Errorf("dynamo: UpsertAnswer: %w", err)
	}
	return nil
}

func (c *Client) ListAnswers(ctx context.Context) ([]domain.KnowledgeEntry, error) {
	var res []domain.KnowledgeEntry
	err := c.scan(ctx, &dynamodb.ScanInput{TableName: aws.String(c.knowledgeTable)}, func(item map[string]types.AttributeValue) error {
		e, err := itemToKnowledge(item)
		if err != nil {
			return err
		}
		res = append(res, e)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("dynamo: ListAnswers: %w", err)
	}
	sort.SliceStable(res, func(i, j int) bool {
		if !res[i].CreatedAt.Equal(res[j].CreatedAt) {
			return res[i].CreatedAt.Before(res[j].CreatedAt)
		}
		return res[i].Key < res[j].Key
	})
	return res, nil
}

func itemToKnowledge(item map[string]types.AttributeValue) (domain.KnowledgeEntry, error) {
	var (
		e   domain.KnowledgeEntry
		err error
	)
	if e.Key, err = strAttr(item, "key"); err != nil {
		return e, err
	}
	if e.Question, err = strAttr(item, "question"); err != nil {
		return e, err
	}
	if e.Answer, err = strAttr(item, "answer"); err != nil {
		return e, err
	}
	if e.Hits, err = intAttr(item, "hits"); err != nil {
		return e, err
	}
	if e.CreatedAt, err = timeAttr(item, "createdAt"); err != nil {
		return e, err
	}
	if e.UpdatedAt, err = timeAttr(item, "updatedAt"); err != nil {
		return e, err
	}
	return e, nil
}
