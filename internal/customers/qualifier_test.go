package customers

import (
	"context"
	"testing"

	"github.com/google/uuid"

	"github.com/digistore1/digistore-backend/pkg/db/dbtest"
	"github.com/digistore1/digistore-backend/pkg/db/models"
	"github.com/digistore1/digistore-backend/pkg/enums"
)

func TestIsEligible(t *testing.T) {
	client := dbtest.Open(t)
	gdb := client.DB()

	registered := models.User{Email: "Ada@Example.com", FirstName: "Ada", LastName: "L", Role: enums.RoleCustomer, IsActive: true}
	if err := gdb.Create(&registered).Error; err != nil {
		t.Fatalf("seed user: %v", err)
	}
	buyer := uuid.New()
	orders := []models.Order{
		{OrderNumber: "ORD-1-AAAAAA", UserID: &buyer, BillingEmail: "buyer@example.com", Status: enums.OrderStatusCompleted, PaymentStatus: enums.PaymentStatusCaptured, PaymentMethod: enums.PaymentMethodStripe, Currency: "USD", CheckoutSessionID: uuid.New()},
		{OrderNumber: "ORD-2-BBBBBB", UserID: &registered.ID, BillingEmail: "other@example.com", Status: enums.OrderStatusProcessing, PaymentStatus: enums.PaymentStatusCaptured, PaymentMethod: enums.PaymentMethodStripe, Currency: "USD", CheckoutSessionID: uuid.New()},
		{OrderNumber: "ORD-3-CCCCCC", BillingEmail: "cancelled@example.com", Status: enums.OrderStatusCancelled, PaymentStatus: enums.PaymentStatusPending, PaymentMethod: enums.PaymentMethodStripe, Currency: "USD", CheckoutSessionID: uuid.New()},
	}
	for i := range orders {
		if err := gdb.Create(&orders[i]).Error; err != nil {
			t.Fatalf("seed order: %v", err)
		}
	}

	q, err := NewQualifier(NewRepository(gdb))
	if err != nil {
		t.Fatalf("new qualifier: %v", err)
	}
	stranger := uuid.New()
	cases := []struct {
		name     string
		identity Identity
		want     bool
	}{
		{name: "no identifiers", identity: Identity{}, want: true},
		{name: "same account", identity: Identity{UserID: &buyer}, want: false},
		{name: "billing email case-insensitive", identity: Identity{Email: "  BUYER@example.com"}, want: false},
		{name: "registered email of purchasing account", identity: Identity{Email: "ada@example.com"}, want: false},
		{name: "cancelled orders do not count", identity: Identity{Email: "cancelled@example.com"}, want: true},
		{name: "new customer", identity: Identity{UserID: &stranger, Email: "new@example.com"}, want: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := q.IsEligible(context.Background(), tc.identity)
			if err != nil {
				t.Fatalf("is eligible: %v", err)
			}
			if got != tc.want {
				t.Fatalf("expected %v, got %v", tc.want, got)
			}
		})
	}
}
