package cart

import (
	"context"
	"testing"

	"github.com/angelmondragon/greenhouse/pkg/db/models"
	pkgerrors "github.com/angelmondragon/greenhouse/pkg/errors"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func newRemoteTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	conn, err := gorm.Open(sqlite.Open("file:"+uuid.NewString()+"?mode=memory&cache=shared"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, conn.AutoMigrate(&models.Product{}, &models.CartItem{}))
	return conn
}

func seedProduct(t *testing.T, conn *gorm.DB, name string, price string, stock *int) models.Product {
	t.Helper()
	image := "https://cdn.example/" + name + ".png"
	product := models.Product{
		Name:     name,
		Slug:     name + "-" + uuid.NewString()[:8],
		ImageURL: &image,
		Category: "Houseplants",
		Price:    decimal.RequireFromString(price),
		Stock:    stock,
		IsActive: true,
	}
	require.NoError(t, conn.Create(&product).Error)
	return product
}

func TestRemoteRepositoryReplaceThenFetch(t *testing.T) {
	conn := newRemoteTestDB(t)
	repo := NewRemoteRepository(conn)
	ctx := context.Background()
	userID := uuid.NewString()

	monstera := seedProduct(t, conn, "monstera", "24.00", intPtr(6))
	pothos := seedProduct(t, conn, "pothos", "9.50", nil)

	require.NoError(t, repo.ReplaceRows(ctx, userID, []RowInput{
		{ProductID: pothos.ID.String(), Quantity: 2},
		{ProductID: monstera.ID.String(), Quantity: 1},
	}))

	rows, err := repo.FetchRows(ctx, userID)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, pothos.ID.String(), rows[0].ProductID)
	assert.Equal(t, 2, rows[0].Quantity)
	assert.Nil(t, rows[0].Product.StockLimit)
	assert.Equal(t, monstera.ID.String(), rows[1].ProductID)
	assert.Equal(t, "monstera", rows[1].Product.Display.Name)
	assert.Equal(t, "https://cdn.example/monstera.png", rows[1].Product.Display.ImageURL)
	assert.True(t, rows[1].Product.Display.UnitPrice.Equal(decimal.RequireFromString("24.00")))
	require.NotNil(t, rows[1].Product.StockLimit)
	assert.Equal(t, 6, *rows[1].Product.StockLimit)
}

func TestRemoteRepositoryReplaceOverwritesPreviousRows(t *testing.T) {
	conn := newRemoteTestDB(t)
	repo := NewRemoteRepository(conn)
	ctx := context.Background()
	userID := uuid.NewString()
	otherUser := uuid.NewString()

	fern := seedProduct(t, conn, "fern", "7.00", nil)
	ivy := seedProduct(t, conn, "ivy", "5.00", nil)

	require.NoError(t, repo.ReplaceRows(ctx, userID, []RowInput{{ProductID: fern.ID.String(), Quantity: 3}}))
	require.NoError(t, repo.ReplaceRows(ctx, otherUser, []RowInput{{ProductID: fern.ID.String(), Quantity: 1}}))
	require.NoError(t, repo.ReplaceRows(ctx, userID, []RowInput{{ProductID: ivy.ID.String(), Quantity: 4}}))

	rows, err := repo.FetchRows(ctx, userID)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, ivy.ID.String(), rows[0].ProductID)

	others, err := repo.FetchRows(ctx, otherUser)
	require.NoError(t, err)
	require.Len(t, others, 1, "other users' rows are untouched")

	require.NoError(t, repo.ReplaceRows(ctx, userID, nil))
	rows, err = repo.FetchRows(ctx, userID)
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestRemoteRepositoryRejectsInvalidIDs(t *testing.T) {
	repo := NewRemoteRepository(newRemoteTestDB(t))
	ctx := context.Background()

	_, err := repo.FetchRows(ctx, "not-a-uuid")
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeValidation))

	err = repo.ReplaceRows(ctx, uuid.NewString(), []RowInput{{ProductID: "nope", Quantity: 1}})
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeValidation))
}
