package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/google/uuid"
	"github.com/jingfee/sungrow-scheduler/pkg/log"
	"github.com/jingfee/sungrow-scheduler/pkg/types"
	"github.com/levenlabs/go-lflag"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// FirestoreProvider persists state values and the message queue to Google
// Cloud Firestore under sites/{site}.
type FirestoreProvider struct {
	client    *firestore.Client
	projectID string
	database  string
	site      string
}

// configuredFirestore sets up the Firestore provider.
// It registers flags for configuration.
func configuredFirestore() *FirestoreProvider {
	projectID := lflag.String("firestore-project-id", "", "Google Cloud Project ID for Firestore")
	database := lflag.String("firestore-database", "", "Google Cloud Firestore Database")
	emulator := lflag.String("firestore-emulator", "", "Use Firestore emulator")
	site := lflag.String("firestore-site", "default", "Document under sites/ holding this installation's data")

	f := &FirestoreProvider{}

	lflag.Do(func() {
		f.projectID = *projectID
		f.database = *database
		f.site = *site

		// set this because that's how firestore client expects it
		if *emulator != "" {
			os.Setenv("FIRESTORE_EMULATOR_HOST", *emulator)
		}
	})

	return f
}

// Validate checks if the provider is properly configured.
func (f *FirestoreProvider) Validate() error {
	if f.site == "" {
		return fmt.Errorf("firestore-site cannot be empty")
	}
	return nil
}

// Init initializes the Firestore client.
// This must be called before using the provider methods.
func (f *FirestoreProvider) Init(ctx context.Context) error {
	projectID := f.projectID
	if projectID == "" {
		projectID = firestore.DetectProjectID
	}
	database := f.database
	if database == "" {
		database = firestore.DefaultDatabaseID
	}
	client, err := firestore.NewClientWithDatabase(ctx, projectID, database)
	if err != nil {
		return fmt.Errorf("failed to create firestore client (project=%s, database=%s): %w", projectID, database, err)
	}
	f.client = client
	return nil
}

// Close closes the Firestore client connection.
func (f *FirestoreProvider) Close() error {
	if f.client != nil {
		return f.client.Close()
	}
	return nil
}

func (f *FirestoreProvider) collection(name string) *firestore.CollectionRef {
	return f.client.Collection("sites").Doc(f.site).Collection(name)
}

func (f *FirestoreProvider) getValue(ctx context.Context, key string) (string, bool, error) {
	doc, err := f.collection("state").Doc(key).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return "", false, nil
		}
		return "", false, fmt.Errorf("failed to fetch state doc: %w", err)
	}

	val, err := doc.DataAt("json")
	if err != nil {
		log.Ctx(ctx).WarnContext(ctx, "state doc missing json", slog.String("key", key))
		return "", false, fmt.Errorf("state document %s missing 'json' field: %w", key, err)
	}
	jsonStr, ok := val.(string)
	if !ok {
		log.Ctx(ctx).WarnContext(ctx, "state doc json not string", slog.String("key", key))
		return "", false, fmt.Errorf("state document %s 'json' field is not a string", key)
	}
	return jsonStr, true, nil
}

func (f *FirestoreProvider) setValue(ctx context.Context, key, value string) error {
	_, err := f.collection("state").Doc(key).Set(ctx, map[string]interface{}{
		"json":      value,
		"timestamp": time.Now(),
	})
	if err != nil {
		return fmt.Errorf("failed to save state %s: %w", key, err)
	}
	return nil
}

// Enqueue stores msg in the "operations" collection keyed by a new uuid.
func (f *FirestoreProvider) Enqueue(ctx context.Context, msg types.Message, at time.Time) (string, error) {
	sm := types.ScheduledMessage{
		SequenceID:  uuid.NewString(),
		ScheduledAt: at,
		Message:     msg,
	}
	jsonBytes, err := json.Marshal(sm)
	if err != nil {
		return "", fmt.Errorf("failed to marshal message: %w", err)
	}
	_, err = f.collection("operations").Doc(sm.SequenceID).Create(ctx, map[string]interface{}{
		"json":        string(jsonBytes),
		"scheduledAt": at,
		"operation":   msg.Operation.String(),
	})
	if err != nil {
		return "", fmt.Errorf("failed to enqueue message: %w", err)
	}
	return sm.SequenceID, nil
}

// PeekPending returns pending messages ordered by scheduled time.
func (f *FirestoreProvider) PeekPending(ctx context.Context, limit int) ([]types.ScheduledMessage, error) {
	q := f.collection("operations").OrderBy("scheduledAt", firestore.Asc)
	if limit > 0 {
		q = q.Limit(limit)
	}
	iter := q.Documents(ctx)
	defer iter.Stop()

	var msgs []types.ScheduledMessage
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("error iterating operations: %w", err)
		}
		sm, err := decodeMessage(ctx, doc)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, sm)
	}
	return msgs, nil
}

// Cancel deletes a pending message. It returns ErrNotFound if it was already
// claimed or cancelled.
func (f *FirestoreProvider) Cancel(ctx context.Context, sequenceID string) error {
	_, err := f.collection("operations").Doc(sequenceID).Delete(ctx, firestore.Exists)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return fmt.Errorf("%w: %s", ErrNotFound, sequenceID)
		}
		return fmt.Errorf("failed to cancel %s: %w", sequenceID, err)
	}
	return nil
}

// ClaimDue reads and deletes due messages in a single transaction so two
// dispatchers never deliver the same message.
func (f *FirestoreProvider) ClaimDue(ctx context.Context, now time.Time, limit int) ([]types.ScheduledMessage, error) {
	q := f.collection("operations").
		Where("scheduledAt", "<=", now).
		OrderBy("scheduledAt", firestore.Asc)
	if limit > 0 {
		q = q.Limit(limit)
	}

	var msgs []types.ScheduledMessage
	err := f.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		msgs = msgs[:0]
		docs, err := tx.Documents(q).GetAll()
		if err != nil {
			return fmt.Errorf("failed to query due operations: %w", err)
		}
		for _, doc := range docs {
			sm, err := decodeMessage(ctx, doc)
			if err != nil {
				return err
			}
			msgs = append(msgs, sm)
		}
		for _, doc := range docs {
			if err := tx.Delete(doc.Ref); err != nil {
				return fmt.Errorf("failed to delete operation %s: %w", doc.Ref.ID, err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to claim due operations: %w", err)
	}
	return msgs, nil
}

func decodeMessage(ctx context.Context, doc *firestore.DocumentSnapshot) (types.ScheduledMessage, error) {
	val, err := doc.DataAt("json")
	if err != nil {
		log.Ctx(ctx).WarnContext(ctx, "operation doc missing json", slog.String("docID", doc.Ref.ID), slog.Any("err", err))
		return types.ScheduledMessage{}, fmt.Errorf("operation document %s missing 'json' field: %w", doc.Ref.ID, err)
	}
	jsonStr, ok := val.(string)
	if !ok {
		log.Ctx(ctx).WarnContext(ctx, "operation doc json not string", slog.String("docID", doc.Ref.ID))
		return types.ScheduledMessage{}, fmt.Errorf("operation document %s 'json' field is not string", doc.Ref.ID)
	}
	var sm types.ScheduledMessage
	if err := json.Unmarshal([]byte(jsonStr), &sm); err != nil {
		log.Ctx(ctx).WarnContext(ctx, "failed to unmarshal operation", slog.String("docID", doc.Ref.ID), slog.Any("err", err))
		return types.ScheduledMessage{}, fmt.Errorf("failed to unmarshal operation (id=%s): %w", doc.Ref.ID, err)
	}
	sm.SequenceID = doc.Ref.ID
	return sm, nil
}
