package cart

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// ErrMigrationFailed wraps any failure of a guest-to-user migration. The guest
// session id is kept so the next login can retry.
var ErrMigrationFailed = errors.New("cart sync failed")

// MigrationSummary is the single audit record of one migration.
type MigrationSummary struct {
	GuestSessionID string `json:"guest_session_id,omitempty"`
	UserID         string `json:"user_id"`
	Merged         int    `json:"merged"`
	Migrated       int    `json:"migrated"`
	CleanedUp      int    `json:"cleaned_up"`
	Clamped        int    `json:"clamped"`
	Dropped        int    `json:"dropped"`
}

// Auditor receives the migration summary. Failures are logged, not returned.
type Auditor interface {
	RecordMigration(ctx context.Context, s MigrationSummary) error
}

// Migrator merges a guest cart into a user cart at login.
type Migrator struct {
	store   *Store
	audit   Auditor
	nowFunc func() time.Time
}

// NewMigrator returns a Migrator. audit may be nil.
func NewMigrator(store *Store, audit Auditor) *Migrator {
	return &Migrator{store: store, audit: audit, nowFunc: time.Now}
}

// Migrate moves the guest cart named by ids into userID's cart. Lines for a product the
// user already has are merged by summing quantities, capped at MaxQuantity; the rest are
// re-parented while the user cart has fewer than MaxLines lines, and dropped after that.
// All row changes commit in one transaction, so a failure leaves both carts as they were.
func (m *Migrator) Migrate(ctx context.Context, userID string, ids SessionIdentityProvider) (MigrationSummary, error) {
	summary := MigrationSummary{UserID: userID}
	guestID, ok := ids.GuestSessionID(ctx)
	if !ok {
		return summary, nil
	}
	summary.GuestSessionID = guestID
	guest, user := SessionOwner(guestID), UserOwner(userID)

	guestItems, err := m.store.Items(ctx, guest)
	if err != nil {
		return summary, fmt.Errorf("%w: %w", ErrMigrationFailed, err)
	}
	if len(guestItems) == 0 {
		return summary, nil
	}
	userItems, err := m.store.Items(ctx, user)
	if err != nil {
		return summary, fmt.Errorf("%w: %w", ErrMigrationFailed, err)
	}
	owned := make(map[string]int, len(userItems))
	for _, it := range userItems {
		owned[it.ProductID] = it.Quantity
	}
	lines := len(userItems)

	now := m.nowFunc().UTC()
	tx := make([]types.TransactWriteItem, 0, 2*len(guestItems))
	for _, it := range guestItems {
		if seen, ok := owned[it.ProductID]; ok {
			qty := seen + it.Quantity
			if qty > MaxQuantity {
				qty = MaxQuantity
				summary.Clamped++
			}
			// the condition fails the transaction if the user line moved since it was read
			tx = append(tx, types.TransactWriteItem{Update: &types.Update{
				TableName:           &m.store.itemsTable,
				Key:                 itemKey(user, it.ProductID),
				UpdateExpression:    awsString("SET quantity = :q, updated_at = :now"),
				ConditionExpression: awsString("quantity = :seen"),
				ExpressionAttributeValues: map[string]types.AttributeValue{
					":now":  &types.AttributeValueMemberS{Value: now.Format(time.RFC3339Nano)},
					":q":    &types.AttributeValueMemberN{Value: strconv.Itoa(qty)},
					":seen": &types.AttributeValueMemberN{Value: strconv.Itoa(seen)},
				},
			}})
			summary.Merged++
		} else if lines >= MaxLines {
			log.Printf("[cart] migration %s -> %s: cart full, dropping %s", guest, user, it.ProductID)
			summary.Dropped++
		} else {
			moved := it
			moved.OwnerKey = user.Key()
			moved.SessionID = ""
			moved.UserID = userID
			moved.UpdatedAt = now
			av, err := attributevalue.MarshalMap(moved)
			if err != nil {
				return summary, fmt.Errorf("%w: marshal %s: %w", ErrMigrationFailed, it.ProductID, err)
			}
			tx = append(tx, types.TransactWriteItem{Put: &types.Put{
				TableName: &m.store.itemsTable,
				Item:      av,
			}})
			summary.Migrated++
			lines++
		}
		tx = append(tx, types.TransactWriteItem{Delete: &types.Delete{
			TableName: &m.store.itemsTable,
			Key:       itemKey(guest, it.ProductID),
		}})
	}

	if _, err := m.store.client.TransactWriteItems(ctx, &dyn.TransactWriteItemsInput{TransactItems: tx}); err != nil {
		log.Printf("[cart] migration %s -> %s failed: %v", guest, user, err)
		return MigrationSummary{UserID: userID, GuestSessionID: guestID}, fmt.Errorf("%w: %w", ErrMigrationFailed, err)
	}

	// rows added to the guest cart while the transaction ran
	leftovers, err := m.store.Items(ctx, guest)
	if err != nil {
		return summary, fmt.Errorf("%w: cleanup: %w", ErrMigrationFailed, err)
	}
	for _, it := range leftovers {
		if err := m.store.RemoveItem(ctx, guest, it.ProductID); err != nil {
			return summary, fmt.Errorf("%w: cleanup: %w", ErrMigrationFailed, err)
		}
		summary.CleanedUp++
	}

	if m.audit != nil {
		if err := m.audit.RecordMigration(ctx, summary); err != nil {
			log.Printf("[cart] migration audit failed: %v", err)
		}
	}
	log.Printf("[cart] migrated %s -> %s merged=%d migrated=%d cleaned=%d clamped=%d dropped=%d",
		guest, user, summary.Merged, summary.Migrated, summary.CleanedUp, summary.Clamped, summary.Dropped)

	if err := ids.ClearGuestSession(ctx); err != nil {
		return summary, fmt.Errorf("clear guest session: %w", err)
	}
	return summary, nil
}

// Metrics is the counter sink used by MetricsAuditor.
type Metrics interface {
	Record(ctx context.Context, values map[string]float64, dimensions map[string]string) error
}

// MetricsAuditor publishes migration summaries as one batch of counters.
type MetricsAuditor struct {
	Metrics Metrics
}

func (a MetricsAuditor) RecordMigration(ctx context.Context, s MigrationSummary) error {
	return a.Metrics.Record(ctx, map[string]float64{
		"CartMigrations":      1,
		"CartItemsMerged":     float64(s.Merged),
		"CartItemsReparented": float64(s.Migrated),
		"CartItemsCleanedUp":  float64(s.CleanedUp),
		"CartItemsClamped":    float64(s.Clamped),
		"CartItemsDropped":    float64(s.Dropped),
	}, nil)
}
