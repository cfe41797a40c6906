package referrals

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/digistore1/digistore-backend/pkg/db/dbtest"
	"github.com/digistore1/digistore-backend/pkg/db/models"
	"github.com/digistore1/digistore-backend/pkg/enums"
	pkgerrors "github.com/digistore1/digistore-backend/pkg/errors"
)

var tenPercent = decimal.RequireFromString("0.10")

func TestCommissionRoundsHalfUp(t *testing.T) {
	if got := Commission(2500, tenPercent); got != 250 {
		t.Fatalf("expected 250, got %d", got)
	}
	if got := Commission(1005, tenPercent); got != 101 {
		t.Fatalf("expected 101, got %d", got)
	}
}

func TestConvertRecordsCommissionOnce(t *testing.T) {
	client := dbtest.Open(t)
	gdb := client.DB()
	referrer := &models.User{Email: "ref@example.com", FirstName: "Ref", LastName: "Errer", Role: enums.RoleCustomer, IsActive: true}
	require.NoError(t, gdb.Create(referrer).Error)
	referral := &models.Referral{ReferrerUserID: referrer.ID, Code: "FRIEND1", Status: enums.ReferralStatusPending}
	require.NoError(t, gdb.Create(referral).Error)

	svc, err := NewService(NewRepository(gdb))
	require.NoError(t, err)
	orderID := uuid.New()
	input := ConversionInput{Code: "friend1", OrderID: orderID, BuyerEmail: "buyer@example.com", TotalCents: 2500, Rate: tenPercent}

	conversion, err := svc.Convert(context.Background(), input)
	require.NoError(t, err)
	require.NotNil(t, conversion)
	assert.Equal(t, int64(250), conversion.CommissionCents)
	assert.Equal(t, enums.ConversionStatusConverted, conversion.Status)

	again, err := svc.Convert(context.Background(), input)
	require.NoError(t, err)
	assert.Nil(t, again)

	var stored models.Referral
	require.NoError(t, gdb.First(&stored, "id = ?", referral.ID).Error)
	assert.Equal(t, enums.ReferralStatusConverted, stored.Status)
}

func TestConvertSkipsSelfReferral(t *testing.T) {
	client := dbtest.Open(t)
	gdb := client.DB()
	referrer := &models.User{Email: "Ref@Example.com", FirstName: "Ref", LastName: "Errer", Role: enums.RoleCustomer, IsActive: true}
	require.NoError(t, gdb.Create(referrer).Error)
	require.NoError(t, gdb.Create(&models.Referral{ReferrerUserID: referrer.ID, Code: "SELF", Status: enums.ReferralStatusPending}).Error)

	svc, err := NewService(NewRepository(gdb))
	require.NoError(t, err)

	byID, err := svc.Convert(context.Background(), ConversionInput{Code: "SELF", OrderID: uuid.New(), BuyerUserID: &referrer.ID, TotalCents: 1000, Rate: tenPercent})
	require.NoError(t, err)
	assert.Nil(t, byID)

	byEmail, err := svc.Convert(context.Background(), ConversionInput{Code: "SELF", OrderID: uuid.New(), BuyerEmail: "ref@example.com", TotalCents: 1000, Rate: tenPercent})
	require.NoError(t, err)
	assert.Nil(t, byEmail)

	unknown, err := svc.Convert(context.Background(), ConversionInput{Code: "NOPE", OrderID: uuid.New(), TotalCents: 1000, Rate: tenPercent})
	require.NoError(t, err)
	assert.Nil(t, unknown)
}

func TestClick(t *testing.T) {
	client := dbtest.Open(t)
	gdb := client.DB()
	referral := &models.Referral{ReferrerUserID: uuid.New(), Code: "CLICKY", Status: enums.ReferralStatusPending}
	require.NoError(t, gdb.Create(referral).Error)

	svc, err := NewService(NewRepository(gdb))
	require.NoError(t, err)
	require.NoError(t, svc.Click(context.Background(), "clicky"))
	require.NoError(t, svc.Click(context.Background(), "CLICKY"))

	var stored models.Referral
	require.NoError(t, gdb.First(&stored, "id = ?", referral.ID).Error)
	assert.Equal(t, 2, stored.ClickCount)

	err = svc.Click(context.Background(), "missing")
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))
}
