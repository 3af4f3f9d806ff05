package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"groupbuy-bot/internal/domain"
)

// offerPutAPI is the minimal DynamoDB interface required by OfferStore.
type offerPutAPI interface {
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
}

// OfferStore writes confirmed offer records to the downstream offers
// table. Unlike the conversation adapter this surface does return
// errors: a failed publish must reach the organizer in the
// confirmation outcome message.
type OfferStore struct {
	api       offerPutAPI
	tableName string
}

// NewOfferStore creates a new OfferStore.
func NewOfferStore(api offerPutAPI, tableName string) (*OfferStore, error) {
	if api == nil {
		return nil, errors.New("repository: offer api must not be nil")
	}
	if strings.TrimSpace(tableName) == "" {
		return nil, errors.New("repository: offers table name must not be empty")
	}
	return &OfferStore{api: api, tableName: tableName}, nil
}

// Publish writes the record keyed by its generated id. The condition
// guards against a replayed confirmation creating a duplicate.
func (s *OfferStore) Publish(ctx context.Context, rec domain.OfferRecord) error {
	if strings.TrimSpace(rec.ID) == "" {
		return errors.New("repository: Publish: offer id is required")
	}
	_, err := s.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(s.tableName),
		Item:                offerItem(rec),
		ConditionExpression: aws.String("attribute_not_exists(id)"),
	})
	if err != nil {
		return fmt.Errorf("repository: Publish: %w", err)
	}
	return nil
}

func offerItem(rec domain.OfferRecord) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"id":                    &types.AttributeValueMemberS{Value: rec.ID},
		"itemName":              &types.AttributeValueMemberS{Value: rec.ItemName},
		"imageFileId":           &types.AttributeValueMemberS{Value: rec.ImageFileID},
		"price":                 &types.AttributeValueMemberS{Value: rec.Price},
		"moq":                   &types.AttributeValueMemberS{Value: rec.MOQ},
		"closingTime":           &types.AttributeValueMemberS{Value: rec.ClosingTime},
		"pickup":                &types.AttributeValueMemberS{Value: rec.Pickup},
		"paymentMethod":         &types.AttributeValueMemberS{Value: rec.PaymentMethod},
		"paymentDetails":        &types.AttributeValueMemberS{Value: rec.PaymentDetails},
		"paymentQrFileId":       &types.AttributeValueMemberS{Value: rec.PaymentQRFileID},
		"originScopeId":         numberValue(rec.OriginScopeID),
		"originName":            &types.AttributeValueMemberS{Value: rec.OriginName},
		"organizerId":           numberValue(rec.OrganizerID),
		"organizerName":         &types.AttributeValueMemberS{Value: rec.OrganizerName},
		"announcementMessageId": numberValue(rec.AnnouncementMessageID),
		"createdAt":             &types.AttributeValueMemberS{Value: rec.CreatedAt},
	}
}
