package database

import (
	"context"
	"fmt"

	sdkaws "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/yashrajoria/pix-payment-service/config"
	"github.com/yashrajoria/pix-payment-service/repository"
	"go.uber.org/zap"
)

// Stores bundles the order and sale repositories of the selected backend.
type Stores struct {
	Orders repository.OrderRepository
	Sales  repository.SaleRepository
	Close  func() error
}

// OpenStores connects to the backend named by cfg.StoreDriver and prepares
// its indexes or tables.
func OpenStores(ctx context.Context, cfg *config.Config, awsCfg sdkaws.Config, logger *zap.Logger) (*Stores, error) {
	switch cfg.StoreDriver {
	case config.StoreMongo:
		client, db, err := ConnectMongo(ctx, cfg.MongoURI, cfg.MongoDatabase, logger)
		if err != nil {
			return nil, err
		}
		orders := repository.NewMongoOrderRepository(db)
		sales := repository.NewMongoSaleRepository(db)
		if err := orders.EnsureIndexes(ctx); err != nil {
			return nil, fmt.Errorf("order indexes: %w", err)
		}
		if err := sales.EnsureIndexes(ctx); err != nil {
			return nil, fmt.Errorf("sale indexes: %w", err)
		}
		return &Stores{Orders: orders, Sales: sales, Close: func() error { return DisconnectMongo(client) }}, nil

	case config.StorePostgres:
		db, err := ConnectPostgres(ctx, cfg.PostgresDSN(), logger)
		if err != nil {
			return nil, err
		}
		return &Stores{
			Orders: repository.NewGormOrderRepository(db),
			Sales:  repository.NewGormSaleRepository(db),
			Close:  func() error { return ClosePostgres(db) },
		}, nil

	case config.StoreDynamoDB:
		client := dynamodb.NewFromConfig(awsCfg)
		logger.Info("Using DynamoDB store",
			zap.String("orders_table", cfg.DynamoOrdersTable),
			zap.String("sales_table", cfg.DynamoSalesTable),
		)
		return &Stores{
			Orders: repository.NewDynamoOrderRepository(client, cfg.DynamoOrdersTable),
			Sales:  repository.NewDynamoSaleRepository(client, cfg.DynamoSalesTable),
			Close:  func() error { return nil },
		}, nil
	}
	return nil, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
}
