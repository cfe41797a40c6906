package models

// All returns every persisted model in dependency order for AutoMigrate.
func All() []any {
	return []any{
		&User{},
		&Product{},
		&VendorAccount{},
		&Coupon{},
		&GiftCard{},
		&GiftCardUsage{},
		&Referral{},
		&CheckoutSession{},
		&Order{},
		&OrderItem{},
		&ReferralConversion{},
		&DownloadGrant{},
		&LedgerEvent{},
		&SettlementIncident{},
		&OutboxEvent{},
		&OutboxDLQ{},
	}
}
