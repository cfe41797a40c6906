package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/digistore1/digistore-backend/pkg/db/dbtest"
	"github.com/digistore1/digistore-backend/pkg/db/models"
	"github.com/digistore1/digistore-backend/pkg/enums"
	"github.com/digistore1/digistore-backend/pkg/logger"
)

func TestEmitWritesEnvelope(t *testing.T) {
	client := dbtest.Open(t)
	svc := NewService(NewRepository(client.DB()), logger.Nop())
	orderID := uuid.New()

	err := client.WithTx(context.Background(), func(tx *gorm.DB) error {
		return svc.Emit(context.Background(), tx, DomainEvent{
			EventType:     enums.EventOrderSettled,
			AggregateType: enums.AggregateOrder,
			AggregateID:   orderID,
			Data:          map[string]string{"order_number": "ORD-1-AAAAAA"},
		})
	})
	if err != nil {
		t.Fatalf("emit: %v", err)
	}

	var row models.OutboxEvent
	if err := client.DB().First(&row).Error; err != nil {
		t.Fatalf("load row: %v", err)
	}
	if row.AggregateID != orderID || row.EventType != enums.EventOrderSettled {
		t.Fatalf("unexpected row %+v", row)
	}
	var env PayloadEnvelope
	if err := json.Unmarshal(row.Payload, &env); err != nil {
		t.Fatalf("decode envelope: %v", err)
	}
	if env.Version != 1 || env.EventID == "" || env.OccurredAt.IsZero() {
		t.Fatalf("envelope incomplete %+v", env)
	}
}

func TestEmitRollsBackWithTransaction(t *testing.T) {
	client := dbtest.Open(t)
	svc := NewService(NewRepository(client.DB()), nil)

	err := client.WithTx(context.Background(), func(tx *gorm.DB) error {
		if err := svc.Emit(context.Background(), tx, DomainEvent{
			EventType:     enums.EventNotificationRequested,
			AggregateType: enums.AggregateOrder,
			AggregateID:   uuid.New(),
			Data:          struct{}{},
		}); err != nil {
			return err
		}
		return errors.New("settlement failed")
	})
	if err == nil {
		t.Fatal("expected tx error")
	}

	var count int64
	client.DB().Model(&models.OutboxEvent{}).Count(&count)
	if count != 0 {
		t.Fatalf("expected rolled back outbox, got %d rows", count)
	}
}

func TestEmitIfNotExistsSkipsDuplicates(t *testing.T) {
	client := dbtest.Open(t)
	svc := NewService(NewRepository(client.DB()), nil)
	cardID := uuid.New()
	event := DomainEvent{
		EventType:     enums.EventGiftCardActivated,
		AggregateType: enums.AggregateGiftCard,
		AggregateID:   cardID,
		Data:          map[string]any{"code": "GC-AAAA-BBBB-CCCC"},
	}

	for i := 0; i < 2; i++ {
		if err := client.WithTx(context.Background(), func(tx *gorm.DB) error {
			return svc.EmitIfNotExists(context.Background(), tx, event)
		}); err != nil {
			t.Fatalf("emit %d: %v", i, err)
		}
	}

	var count int64
	client.DB().Model(&models.OutboxEvent{}).Where("aggregate_id = ?", cardID).Count(&count)
	if count != 1 {
		t.Fatalf("expected one row, got %d", count)
	}
}

func TestRepositoryPublishLifecycle(t *testing.T) {
	client := dbtest.Open(t)
	repo := NewRepository(client.DB())
	ctx := context.Background()

	first := models.OutboxEvent{EventType: enums.EventOrderSettled, AggregateType: enums.AggregateOrder, AggregateID: uuid.New(), Payload: json.RawMessage(`{}`)}
	second := models.OutboxEvent{EventType: enums.EventOrderSettled, AggregateType: enums.AggregateOrder, AggregateID: uuid.New(), Payload: json.RawMessage(`{}`)}
	if err := client.WithTx(ctx, func(tx *gorm.DB) error {
		if err := repo.Insert(tx, first); err != nil {
			return err
		}
		return repo.Insert(tx, second)
	}); err != nil {
		t.Fatalf("insert: %v", err)
	}

	var rows []models.OutboxEvent
	if err := client.WithTx(ctx, func(tx *gorm.DB) error {
		var err error
		rows, err = repo.FetchUnpublishedForPublish(tx, 10, 3)
		if err != nil {
			return err
		}
		if err := repo.MarkPublishedTx(tx, rows[0].ID); err != nil {
			return err
		}
		return repo.MarkTerminalTx(tx, rows[1].ID, errors.New("bad payload"), 3)
	}); err != nil {
		t.Fatalf("publish pass: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected 2 pending rows, got %d", len(rows))
	}

	if err := client.WithTx(ctx, func(tx *gorm.DB) error {
		var err error
		rows, err = repo.FetchUnpublishedForPublish(tx, 10, 3)
		return err
	}); err != nil {
		t.Fatalf("second fetch: %v", err)
	}
	if len(rows) != 0 {
		t.Fatalf("expected no rows after publish and terminal, got %d", len(rows))
	}

	deleted, err := repo.DeletePublishedBefore(nil, time.Now().Add(time.Minute), 0)
	if err != nil {
		t.Fatalf("prune: %v", err)
	}
	if deleted != 1 {
		t.Fatalf("expected one pruned row, got %d", deleted)
	}
}

func TestEmitRejectsUnknownTypesBeforeWriting(t *testing.T) {
	client := dbtest.Open(t)
	svc := NewService(NewRepository(client.DB()), nil)

	cases := []DomainEvent{
		{EventType: "order_shipped", AggregateType: enums.AggregateOrder, AggregateID: uuid.New()},
		{EventType: enums.EventOrderSettled, AggregateType: "cart", AggregateID: uuid.New()},
		{EventType: enums.EventOrderSettled, AggregateType: enums.AggregateOrder},
	}
	for _, event := range cases {
		err := client.WithTx(context.Background(), func(tx *gorm.DB) error {
			return svc.Emit(context.Background(), tx, event)
		})
		if err == nil {
			t.Fatalf("expected %+v to be rejected", event)
		}
	}
	if err := svc.Emit(context.Background(), nil, cases[0]); !errors.Is(err, errNoTx) {
		t.Fatalf("expected errNoTx, got %v", err)
	}

	var count int64
	client.DB().Model(&models.OutboxEvent{}).Count(&count)
	if count != 0 {
		t.Fatalf("expected no rows, got %d", count)
	}
}

func TestEmitStampsOccurredAtFromClock(t *testing.T) {
	client := dbtest.Open(t)
	svc := NewService(NewRepository(client.DB()), nil)
	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return fixed }

	err := client.WithTx(context.Background(), func(tx *gorm.DB) error {
		return svc.Emit(context.Background(), tx, DomainEvent{
			EventType:     enums.EventOrderRefunded,
			AggregateType: enums.AggregateOrder,
			AggregateID:   uuid.New(),
			Data:          map[string]string{"reason": "requested_by_customer"},
			Version:       2,
		})
	})
	if err != nil {
		t.Fatalf("emit: %v", err)
	}
	var row models.OutboxEvent
	if err := client.DB().First(&row).Error; err != nil {
		t.Fatalf("load row: %v", err)
	}
	var env PayloadEnvelope
	if err := json.Unmarshal(row.Payload, &env); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !env.OccurredAt.Equal(fixed) || env.Version != 2 {
		t.Fatalf("unexpected envelope %+v", env)
	}
}

func TestDeletePublishedBeforePrunesOldestFirstInBatches(t *testing.T) {
	client := dbtest.Open(t)
	repo := NewRepository(client.DB())
	base := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)

	var ids []uuid.UUID
	for i := range 3 {
		published := base.Add(time.Duration(i) * time.Hour)
		row := models.OutboxEvent{
			EventType:     enums.EventOrderSettled,
			AggregateType: enums.AggregateOrder,
			AggregateID:   uuid.New(),
			Payload:       json.RawMessage(`{}`),
			PublishedAt:   &published,
		}
		if err := client.DB().Create(&row).Error; err != nil {
			t.Fatalf("seed: %v", err)
		}
		ids = append(ids, row.ID)
	}
	pending := models.OutboxEvent{
		EventType:     enums.EventOrderSettled,
		AggregateType: enums.AggregateOrder,
		AggregateID:   uuid.New(),
		Payload:       json.RawMessage(`{}`),
	}
	if err := client.DB().Create(&pending).Error; err != nil {
		t.Fatalf("seed pending: %v", err)
	}

	cutoff := base.Add(24 * time.Hour)
	deleted, err := repo.DeletePublishedBefore(nil, cutoff, 2)
	if err != nil || deleted != 2 {
		t.Fatalf("first batch: deleted=%d err=%v", deleted, err)
	}
	var left []models.OutboxEvent
	if err := client.DB().Order("created_at").Find(&left).Error; err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(left) != 2 {
		t.Fatalf("expected newest published and pending rows left, got %d", len(left))
	}
	for _, row := range left {
		if row.ID == ids[0] || row.ID == ids[1] {
			t.Fatalf("oldest rows should go first, %s survived", row.ID)
		}
	}

	deleted, err = repo.DeletePublishedBefore(nil, cutoff, 2)
	if err != nil || deleted != 1 {
		t.Fatalf("second batch: deleted=%d err=%v", deleted, err)
	}
}
