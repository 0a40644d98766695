package storage

import (
	"context"
	"errors"
	"time"

	pkgerrors "github.com/TheStatisticalMind/site-deployer/pkg/errors"
	"github.com/TheStatisticalMind/site-deployer/pkg/log"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

type (
	// DynamoDBClient keeps one record per deployment run.
	DynamoDBClient struct {
		client             *dynamodb.Client
		cfg                DynamoDBConfig
		resourcesValidated bool
	}

	DynamoDBConfig struct {
		TableName              string `mapstructure:"tableName" yaml:"tableName" validate:"required_if=Enabled true"`
		Region                 string `mapstructure:"region" yaml:"region"`
		Enabled                bool   `mapstructure:"enabled" yaml:"enabled"`
		CreateMissingResources bool   `mapstructure:"createMissingResources" yaml:"createMissingResources"`
	}

	DeploymentRecord struct {
		DeploymentID  string           `dynamodbav:"deployment-id" yaml:"deploymentId"`
		Target        string           `dynamodbav:"target" yaml:"target"`
		RemoteRoot    string           `dynamodbav:"remoteRoot" yaml:"remoteRoot"`
		Status        string           `dynamodbav:"status" yaml:"status"`
		Error         string           `dynamodbav:"error,omitempty" yaml:"error,omitempty"`
		Directories   []string         `dynamodbav:"directories,omitempty" yaml:"directories,omitempty"`
		Files         []UploadedObject `dynamodbav:"files,omitempty" yaml:"files,omitempty"`
		FilesUploaded int              `dynamodbav:"filesUploaded" yaml:"filesUploaded"`
		BytesUploaded int64            `dynamodbav:"bytesUploaded" yaml:"bytesUploaded"`
		StartedAt     int64            `dynamodbav:"startedAt" yaml:"startedAt"`
		FinishedAt    int64            `dynamodbav:"finishedAt" yaml:"finishedAt"`
	}

	UploadedObject struct {
		Local  string `dynamodbav:"local" yaml:"local"`
		Remote string `dynamodbav:"remote" yaml:"remote"`
		Size   int64  `dynamodbav:"size" yaml:"size"`
	}
)

const deploymentIDAttribute = "deployment-id"

func NewDynamoDBClient(ctx context.Context, cfg DynamoDBConfig) (*DynamoDBClient, error) {
	awscfg, err := newAwsConfig(ctx, cfg.Region)
	if err != nil {
		return nil, err
	}
	return &DynamoDBClient{
		client: newDynamoDBClient(awscfg),
		cfg:    cfg,
	}, nil
}

func (d *DynamoDBClient) Init(ctx context.Context) error {
	if !d.cfg.Enabled {
		return nil
	}

	// Validate required DynamoDB resources exist
	exist, err := d.checkIfTableExists(ctx)
	if err != nil {
		return err
	}
	if exist {
		d.resourcesValidated = true
		return nil
	}

	// If they do not exist, create them if config is enabled
	if !d.cfg.CreateMissingResources {
		return eris.Wrapf(pkgerrors.RemoteNotFoundError, "table %s", d.cfg.TableName)
	}
	err = d.createTable(ctx)
	if err != nil {
		return err
	}
	d.resourcesValidated = true

	return nil
}

func (d *DynamoDBClient) RecordDeployment(ctx context.Context, record DeploymentRecord) error {
	if !d.cfg.Enabled {
		return nil
	}

	item, err := attributevalue.MarshalMap(record)
	if err != nil {
		return eris.Wrap(err, "failed to marshal deployment record")
	}

	_, err = d.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(d.cfg.TableName),
		Item:      item,
	})
	if err != nil {
		log.FromCtx(ctx).Error("Failed to store deployment record", zap.Error(err), zap.String("deploymentId", record.DeploymentID))
		return eris.Wrap(err, "failed to store deployment record")
	}

	log.FromCtx(ctx).Info("Stored deployment record", zap.String("deploymentId", record.DeploymentID), zap.String("status", record.Status))
	return nil
}

// GetDeployment returns nil without error when no record has the id.
func (d *DynamoDBClient) GetDeployment(ctx context.Context, deploymentID string) (*DeploymentRecord, error) {
	if !d.cfg.Enabled {
		return nil, pkgerrors.HistoryDisabledError
	}

	result, err := d.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(d.cfg.TableName),
		Key: map[string]types.AttributeValue{
			deploymentIDAttribute: &types.AttributeValueMemberS{
				Value: deploymentID,
			},
		},
	})
	if err != nil {
		return nil, eris.Wrap(err, "failed to get deployment record")
	}

	if result.Item == nil {
		return nil, nil
	}

	var record DeploymentRecord
	err = attributevalue.UnmarshalMap(result.Item, &record)
	if err != nil {
		return nil, eris.Wrap(err, "failed to unmarshal deployment record")
	}

	return &record, nil
}

func (d *DynamoDBClient) checkIfTableExists(ctx context.Context) (bool, error) {
	_, err := d.client.DescribeTable(ctx, &dynamodb.DescribeTableInput{
		TableName: aws.String(d.cfg.TableName),
	})
	if err == nil {
		log.FromCtx(ctx).Info("DynamoDB table exists", zap.String("table", d.cfg.TableName))
		return true, nil
	}

	var resourceNotFoundErr *types.ResourceNotFoundException
	if errors.As(err, &resourceNotFoundErr) {
		return false, nil
	}
	return false, err
}

func (d *DynamoDBClient) createTable(ctx context.Context) error {
	_, err := d.client.CreateTable(ctx, &dynamodb.CreateTableInput{
		TableName: aws.String(d.cfg.TableName),
		AttributeDefinitions: []types.AttributeDefinition{
			{
				AttributeName: aws.String(deploymentIDAttribute),
				AttributeType: types.ScalarAttributeTypeS,
			},
		},
		KeySchema: []types.KeySchemaElement{
			{
				AttributeName: aws.String(deploymentIDAttribute),
				KeyType:       types.KeyTypeHash,
			},
		},
		BillingMode: types.BillingModePayPerRequest,
	})
	if err != nil {
		log.FromCtx(ctx).Error("Failed to create DynamoDB table", zap.String("table", d.cfg.TableName), zap.Error(err))
		return err
	}

	// Wait for table to be active
	waiter := dynamodb.NewTableExistsWaiter(d.client)
	err = waiter.Wait(ctx, &dynamodb.DescribeTableInput{
		TableName: aws.String(d.cfg.TableName),
	}, 5*time.Minute)
	if err != nil {
		log.FromCtx(ctx).Error("Failed to wait for table to be active", zap.String("table", d.cfg.TableName), zap.Error(err))
		return err
	}

	log.FromCtx(ctx).Info("Successfully created DynamoDB table", zap.String("table", d.cfg.TableName))
	return nil
}
