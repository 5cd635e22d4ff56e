package repository

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yashrajoria/pix-payment-service/models"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo/integration/mtest"
)

func decimal128(t testing.TB, s string) primitive.Decimal128 {
	t.Helper()
	d, err := primitive.ParseDecimal128(s)
	require.NoError(t, err)
	return d
}

func orderDoc(t testing.TB, id uuid.UUID, status string) bson.D {
	expires := time.Date(2024, 5, 1, 10, 30, 0, 0, time.UTC)
	return bson.D{
		{Key: "_id", Value: id.String()},
		{Key: "amount", Value: decimal128(t, "50.00")},
		{Key: "description", Value: models.DefaultOrderDescription},
		{Key: "payer_email", Value: "buyer@example.com"},
		{Key: "status", Value: status},
		{Key: "pix", Value: bson.D{
			{Key: "copy_paste_code", Value: "00020126...6304ABCD"},
			{Key: "expires_in", Value: 1800},
			{Key: "expires_at", Value: expires},
		}},
		{Key: "external_payment_id", Value: "123456789"},
		{Key: "webhook_processed", Value: false},
		{Key: "created_at", Value: expires.Add(-30 * time.Minute)},
		{Key: "updated_at", Value: expires.Add(-30 * time.Minute)},
	}
}

func TestMongoOrderRepository(t *testing.T) {
	mt := mtest.New(t, mtest.NewOptions().ClientType(mtest.Mock))

	mt.Run("create", func(mt *mtest.T) {
		repo := NewMongoOrderRepository(mt.DB)
		mt.AddMockResponses(mtest.CreateSuccessResponse())

		err := repo.Create(context.Background(), &models.Order{
			ID:     uuid.New(),
			Amount: decimal.RequireFromString("50.00"),
			Status: models.OrderStatusPending,
			Items:  []models.OrderItem{{Name: "Curso", Quantity: 1, Price: decimal.RequireFromString("50.00")}},
		})
		assert.NoError(mt, err)
	})

	mt.Run("find by id", func(mt *mtest.T) {
		repo := NewMongoOrderRepository(mt.DB)
		id := uuid.New()
		ns := mt.DB.Name() + "." + ordersCollection
		mt.AddMockResponses(mtest.CreateCursorResponse(0, ns, mtest.FirstBatch, orderDoc(mt, id, "PENDING")))

		order, err := repo.FindByID(context.Background(), id)
		require.NoError(mt, err)
		assert.Equal(mt, id, order.ID)
		assert.Equal(mt, models.OrderStatusPending, order.Status)
		assert.True(mt, order.Amount.Equal(decimal.NewFromInt(50)))
		require.NotNil(mt, order.Pix)
		assert.Equal(mt, 1800, order.Pix.ExpiresIn)
		assert.Equal(mt, "123456789", order.ExternalPaymentID)
	})

	mt.Run("find by external id not found", func(mt *mtest.T) {
		repo := NewMongoOrderRepository(mt.DB)
		ns := mt.DB.Name() + "." + ordersCollection
		mt.AddMockResponses(mtest.CreateCursorResponse(0, ns, mtest.FirstBatch))

		_, err := repo.FindByExternalPaymentID(context.Background(), "missing")
		assert.ErrorIs(mt, err, ErrOrderNotFound)
	})

	mt.Run("update matches expected status", func(mt *mtest.T) {
		repo := NewMongoOrderRepository(mt.DB)
		mt.AddMockResponses(mtest.CreateSuccessResponse(
			bson.E{Key: "n", Value: 1},
			bson.E{Key: "nModified", Value: 1},
		))

		order := &models.Order{ID: uuid.New(), Amount: decimal.NewFromInt(50), Status: models.OrderStatusPaid}
		err := repo.Update(context.Background(), order, models.OrderStatusPending)
		assert.NoError(mt, err)
		assert.False(mt, order.UpdatedAt.IsZero())
	})

	mt.Run("update conflict", func(mt *mtest.T) {
		repo := NewMongoOrderRepository(mt.DB)
		id := uuid.New()
		ns := mt.DB.Name() + "." + ordersCollection
		mt.AddMockResponses(
			mtest.CreateSuccessResponse(bson.E{Key: "n", Value: 0}, bson.E{Key: "nModified", Value: 0}),
			mtest.CreateCursorResponse(0, ns, mtest.FirstBatch, orderDoc(mt, id, "PAID")),
		)

		order := &models.Order{ID: id, Amount: decimal.NewFromInt(50), Status: models.OrderStatusExpired}
		err := repo.Update(context.Background(), order, models.OrderStatusPending)
		assert.ErrorIs(mt, err, ErrStatusConflict)
	})

	mt.Run("update missing order", func(mt *mtest.T) {
		repo := NewMongoOrderRepository(mt.DB)
		ns := mt.DB.Name() + "." + ordersCollection
		mt.AddMockResponses(
			mtest.CreateSuccessResponse(bson.E{Key: "n", Value: 0}, bson.E{Key: "nModified", Value: 0}),
			mtest.CreateCursorResponse(0, ns, mtest.FirstBatch),
		)

		order := &models.Order{ID: uuid.New(), Amount: decimal.NewFromInt(50), Status: models.OrderStatusExpired}
		err := repo.Update(context.Background(), order, models.OrderStatusPending)
		assert.ErrorIs(mt, err, ErrOrderNotFound)
	})
}

func TestMongoSaleRepository(t *testing.T) {
	mt := mtest.New(t, mtest.NewOptions().ClientType(mtest.Mock))

	sale := func() *models.Sale {
		now := time.Now().UTC()
		return &models.Sale{
			ID:                uuid.New(),
			OrderID:           uuid.New(),
			Amount:            decimal.RequireFromString("50.00"),
			ExternalPaymentID: "123456789",
			Status:            models.SaleStatusCompleted,
			PaidAt:            now,
			CreatedAt:         now,
			UpdatedAt:         now,
		}
	}

	mt.Run("create", func(mt *mtest.T) {
		repo := NewMongoSaleRepository(mt.DB)
		mt.AddMockResponses(mtest.CreateSuccessResponse())

		assert.NoError(mt, repo.Create(context.Background(), sale()))
	})

	mt.Run("duplicate key is reported as duplicate sale", func(mt *mtest.T) {
		repo := NewMongoSaleRepository(mt.DB)
		mt.AddMockResponses(mtest.CreateWriteErrorsResponse(mtest.WriteError{
			Index:   0,
			Code:    11000,
			Message: "E11000 duplicate key error collection: sales index: external_payment_id_1",
		}))

		assert.ErrorIs(mt, repo.Create(context.Background(), sale()), ErrDuplicateSale)
	})

	mt.Run("find by external id", func(mt *mtest.T) {
		repo := NewMongoSaleRepository(mt.DB)
		ns := mt.DB.Name() + "." + salesCollection
		id, orderID := uuid.New(), uuid.New()
		paidAt := time.Date(2024, 5, 1, 10, 5, 0, 0, time.UTC)
		mt.AddMockResponses(mtest.CreateCursorResponse(0, ns, mtest.FirstBatch, bson.D{
			{Key: "_id", Value: id.String()},
			{Key: "order_id", Value: orderID.String()},
			{Key: "amount", Value: decimal128(mt, "50.00")},
			{Key: "external_payment_id", Value: "123456789"},
			{Key: "status", Value: "COMPLETED"},
			{Key: "paid_at", Value: paidAt},
			{Key: "created_at", Value: paidAt},
			{Key: "updated_at", Value: paidAt},
		}))

		got, err := repo.FindByExternalPaymentID(context.Background(), "123456789")
		require.NoError(mt, err)
		assert.Equal(mt, id, got.ID)
		assert.Equal(mt, orderID, got.OrderID)
		assert.Equal(mt, models.SaleStatusCompleted, got.Status)
		assert.True(mt, got.PaidAt.Equal(paidAt))
	})

	mt.Run("find by external id not found", func(mt *mtest.T) {
		repo := NewMongoSaleRepository(mt.DB)
		ns := mt.DB.Name() + "." + salesCollection
		mt.AddMockResponses(mtest.CreateCursorResponse(0, ns, mtest.FirstBatch))

		_, err := repo.FindByExternalPaymentID(context.Background(), "none")
		assert.ErrorIs(mt, err, ErrSaleNotFound)
	})
}
