package s3

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	ddbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"

	"github.com/hupe1980/maildedup/blobstore"
)

// ErrConcurrentModification is returned when another writer committed a
// newer generation between read and write.
var ErrConcurrentModification = errors.New("s3: concurrent modification detected")

// DynamoDBClient is the subset of the DynamoDB API the commit store uses.
type DynamoDBClient interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
}

// DDBCommitStore layers a commit pointer on top of an S3-backed store.
// Each Put writes the payload to a fresh generation key and then flips a
// pointer row in DynamoDB with a conditional write, so readers always see
// either the old generation or the new one, never a partial write.
type DDBCommitStore struct {
	blobs Store
	ddb   DynamoDBClient
	table string
}

// NewDDBCommitStore wraps the given object store with a DynamoDB commit
// pointer stored in the named table. The table's partition key must be a
// string attribute named "name".
func NewDDBCommitStore(blobs *Store, ddb DynamoDBClient, table string) *DDBCommitStore {
	return &DDBCommitStore{blobs: *blobs, ddb: ddb, table: table}
}

type pointer struct {
	generation string
	version    int64
}

func (c *DDBCommitStore) getPointer(ctx context.Context, name string) (*pointer, error) {
	out, err := c.ddb.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(c.table),
		Key:            map[string]ddbtypes.AttributeValue{"name": &ddbtypes.AttributeValueMemberS{Value: name}},
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, err
	}
	if out.Item == nil {
		return nil, nil
	}

	gen, ok := out.Item["generation"].(*ddbtypes.AttributeValueMemberS)
	if !ok {
		return nil, fmt.Errorf("s3: commit row for %q has no generation attribute", name)
	}
	ver, ok := out.Item["version"].(*ddbtypes.AttributeValueMemberN)
	if !ok {
		return nil, fmt.Errorf("s3: commit row for %q has no version attribute", name)
	}
	v, err := strconv.ParseInt(ver.Value, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("s3: commit row for %q has malformed version: %w", name, err)
	}

	return &pointer{generation: gen.Value, version: v}, nil
}

// Get resolves the current generation pointer and reads its payload.
func (c *DDBCommitStore) Get(ctx context.Context, name string) ([]byte, error) {
	ptr, err := c.getPointer(ctx, name)
	if err != nil {
		return nil, err
	}
	if ptr == nil {
		return nil, blobstore.ErrNotFound
	}
	return c.blobs.Get(ctx, ptr.generation)
}

// Put writes a new generation and commits it. The conditional write fails
// with ErrConcurrentModification if another writer advanced the pointer
// since this writer last observed it.
func (c *DDBCommitStore) Put(ctx context.Context, name string, data []byte) error {
	prev, err := c.getPointer(ctx, name)
	if err != nil {
		return err
	}

	gen := name + ".gen-" + uuid.NewString()
	if err := c.blobs.Put(ctx, gen, data); err != nil {
		return err
	}

	item := map[string]ddbtypes.AttributeValue{
		"name":       &ddbtypes.AttributeValueMemberS{Value: name},
		"generation": &ddbtypes.AttributeValueMemberS{Value: gen},
	}

	input := &dynamodb.PutItemInput{
		TableName: aws.String(c.table),
		Item:      item,
	}

	if prev == nil {
		item["version"] = &ddbtypes.AttributeValueMemberN{Value: "1"}
		input.ConditionExpression = aws.String("attribute_not_exists(#n)")
		input.ExpressionAttributeNames = map[string]string{"#n": "name"}
	} else {
		item["version"] = &ddbtypes.AttributeValueMemberN{Value: strconv.FormatInt(prev.version+1, 10)}
		input.ConditionExpression = aws.String("version = :prev")
		input.ExpressionAttributeValues = map[string]ddbtypes.AttributeValue{
			":prev": &ddbtypes.AttributeValueMemberN{Value: strconv.FormatInt(prev.version, 10)},
		}
	}

	if _, err := c.ddb.PutItem(ctx, input); err != nil {
		var ccf *ddbtypes.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			// Orphaned generation blob, clean up on a best-effort basis.
			_ = c.blobs.Delete(ctx, gen)

			return ErrConcurrentModification
		}
		return err
	}

	if prev != nil {
		_ = c.blobs.Delete(ctx, prev.generation)
	}

	return nil
}

// Delete removes the pointer row and its current generation blob.
func (c *DDBCommitStore) Delete(ctx context.Context, name string) error {
	ptr, err := c.getPointer(ctx, name)
	if err != nil {
		return err
	}
	if ptr == nil {
		return nil
	}

	if _, err := c.ddb.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(c.table),
		Key:       map[string]ddbtypes.AttributeValue{"name": &ddbtypes.AttributeValueMemberS{Value: name}},
	}); err != nil {
		return err
	}

	return c.blobs.Delete(ctx, ptr.generation)
}

// List delegates to the underlying object store. Generation suffixes are
// visible here, which is intentional for debugging and garbage collection.
func (c *DDBCommitStore) List(ctx context.Context, prefix string) ([]string, error) {
	return c.blobs.List(ctx, prefix)
}
