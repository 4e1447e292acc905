package registry

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/blazehooks/internal/secrets"
	"github.com/mattjoyce/blazehooks/internal/storage"
	"github.com/mattjoyce/blazehooks/internal/webhook"
)

func newTestRegistry(t *testing.T, opts Options) *Registry {
	t.Helper()
	db, err := storage.OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "state.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	key, err := secrets.NewKey()
	require.NoError(t, err)
	box, err := secrets.NewBox(key)
	require.NoError(t, err)
	return New(db, box, opts)
}

func createEndpoint(t *testing.T, r *Registry, tenant string, events ...string) (*webhook.Endpoint, string) {
	t.Helper()
	if len(events) == 0 {
		events = []string{webhook.EventCommentAdded}
	}
	ep, secret, err := r.Create(context.Background(), tenant, CreateInput{
		URL:    "https://hooks.example.com/blaze",
		Events: events,
	})
	require.NoError(t, err)
	return ep, secret
}

func boolPtr(b bool) *bool { return &b }
func strPtr(s string) *string { return &s }

func TestCreateAndGet(t *testing.T) {
	ctx := context.Background()
	r := newTestRegistry(t, Options{})

	ep, secret, err := r.Create(ctx, "tenant-a", CreateInput{
		URL:         "https://hooks.example.com/blaze",
		Events:      []string{"comment.added", "newsletter.subscribed", "comment.added"},
		Description: "crm sync",
	})
	require.NoError(t, err)
	assert.Len(t, secret, 43)
	assert.Equal(t, secrets.Fingerprint(secret), ep.SecretFingerprint)
	assert.Equal(t, []string{"comment.added", "newsletter.subscribed"}, ep.Events)
	assert.True(t, ep.IsActive)
	assert.Nil(t, ep.AutoDisabledAt)
	assert.Equal(t, "crm sync", ep.Description)
	assert.Zero(t, ep.FailureRate)

	got, err := r.Get(ctx, "tenant-a", ep.ID)
	require.NoError(t, err)
	assert.Equal(t, ep.URL, got.URL)

	_, err = r.Get(ctx, "tenant-b", ep.ID)
	assert.ErrorIs(t, err, webhook.ErrNotFound)

	list, err := r.List(ctx, "tenant-b")
	require.NoError(t, err)
	assert.Empty(t, list)

	list, err = r.List(ctx, "tenant-a")
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestCreateInactive(t *testing.T) {
	r := newTestRegistry(t, Options{})
	ep, _, err := r.Create(context.Background(), "t", CreateInput{
		URL:      "https://hooks.example.com",
		Events:   []string{webhook.EventCommentAdded},
		IsActive: boolPtr(false),
	})
	require.NoError(t, err)
	assert.False(t, ep.IsActive)
}

func TestCreateValidation(t *testing.T) {
	r := newTestRegistry(t, Options{})
	tests := []struct {
		name  string
		in    CreateInput
		field string
	}{
		{name: "plain http", in: CreateInput{URL: "http://hooks.example.com", Events: []string{"comment.added"}}, field: "url"},
		{name: "relative url", in: CreateInput{URL: "/hooks", Events: []string{"comment.added"}}, field: "url"},
		{name: "ftp", in: CreateInput{URL: "ftp://hooks.example.com", Events: []string{"comment.added"}}, field: "url"},
		{name: "empty url", in: CreateInput{Events: []string{"comment.added"}}, field: "url"},
		{name: "no events", in: CreateInput{URL: "https://hooks.example.com", Events: []string{}}, field: "events"},
		{name: "unknown event", in: CreateInput{URL: "https://hooks.example.com", Events: []string{"post.deleted"}}, field: "events"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := r.Create(context.Background(), "t", tt.in)
			ve, ok := webhook.AsValidation(err)
			require.True(t, ok, "expected validation error, got %v", err)
			assert.Equal(t, tt.field, ve.Field)
		})
	}
}

func TestCreateAllowsHTTPWhenConfigured(t *testing.T) {
	r := newTestRegistry(t, Options{AllowInsecureURLs: true})
	_, _, err := r.Create(context.Background(), "t", CreateInput{
		URL:    "http://127.0.0.1:9090/webhooks",
		Events: []string{webhook.EventCommentAdded},
	})
	assert.NoError(t, err)
}

func TestCustomVocabulary(t *testing.T) {
	r := newTestRegistry(t, Options{Vocabulary: webhook.NewVocabulary("post.published")})
	_, _, err := r.Create(context.Background(), "t", CreateInput{
		URL:    "https://hooks.example.com",
		Events: []string{"post.published"},
	})
	assert.NoError(t, err)
}

func TestUpdatePartial(t *testing.T) {
	ctx := context.Background()
	r := newTestRegistry(t, Options{})
	ep, _ := createEndpoint(t, r, "t")

	updated, err := r.Update(ctx, "t", ep.ID, UpdateInput{Description: strPtr("new")})
	require.NoError(t, err)
	assert.Equal(t, "new", updated.Description)
	assert.Equal(t, ep.URL, updated.URL)
	assert.Equal(t, ep.Events, updated.Events)
	assert.Equal(t, ep.SecretFingerprint, updated.SecretFingerprint)

	updated, err = r.Update(ctx, "t", ep.ID, UpdateInput{
		URL:    strPtr("https://other.example.com/in"),
		Events: []string{"newsletter.subscribed"},
	})
	require.NoError(t, err)
	assert.Equal(t, "https://other.example.com/in", updated.URL)
	assert.Equal(t, []string{"newsletter.subscribed"}, updated.Events)

	_, err = r.Update(ctx, "t", ep.ID, UpdateInput{Events: []string{}})
	_, ok := webhook.AsValidation(err)
	assert.True(t, ok)

	_, err = r.Update(ctx, "other", ep.ID, UpdateInput{Description: strPtr("x")})
	assert.ErrorIs(t, err, webhook.ErrNotFound)
}

func TestRotateSecret(t *testing.T) {
	ctx := context.Background()
	r := newTestRegistry(t, Options{})
	ep, oldSecret := createEndpoint(t, r, "t")

	snap, err := r.Snapshot(ctx, ep.ID)
	require.NoError(t, err)
	assert.Equal(t, oldSecret, snap.Secret)

	newSecret, err := r.RotateSecret(ctx, "t", ep.ID)
	require.NoError(t, err)
	assert.NotEqual(t, oldSecret, newSecret)

	snap, err = r.Snapshot(ctx, ep.ID)
	require.NoError(t, err)
	assert.Equal(t, newSecret, snap.Secret)

	got, err := r.Get(ctx, "t", ep.ID)
	require.NoError(t, err)
	assert.Equal(t, secrets.Fingerprint(newSecret), got.SecretFingerprint)

	_, err = r.RotateSecret(ctx, "other", ep.ID)
	assert.ErrorIs(t, err, webhook.ErrNotFound)
}

func TestDelete(t *testing.T) {
	ctx := context.Background()
	r := newTestRegistry(t, Options{})
	ep, _ := createEndpoint(t, r, "t")

	require.NoError(t, r.Delete(ctx, "other", ep.ID))
	_, err := r.Get(ctx, "t", ep.ID)
	require.NoError(t, err, "delete from another tenant must not remove the endpoint")

	require.NoError(t, r.Delete(ctx, "t", ep.ID))
	require.NoError(t, r.Delete(ctx, "t", ep.ID))

	_, err = r.Snapshot(ctx, ep.ID)
	assert.ErrorIs(t, err, webhook.ErrNotFound)

	tripped, err := r.RecordOutcome(ctx, ep.ID, false)
	require.NoError(t, err)
	assert.False(t, tripped)
}

func TestRecordOutcomeAutoDisables(t *testing.T) {
	ctx := context.Background()
	r := newTestRegistry(t, Options{})
	ep, _ := createEndpoint(t, r, "t")

	for i := 0; i < 9; i++ {
		tripped, err := r.RecordOutcome(ctx, ep.ID, false)
		require.NoError(t, err)
		require.False(t, tripped, "tripped below min samples at %d", i+1)
	}

	got, err := r.Get(ctx, "t", ep.ID)
	require.NoError(t, err)
	assert.True(t, got.IsActive)
	assert.Equal(t, 1.0, got.FailureRate)

	tripped, err := r.RecordOutcome(ctx, ep.ID, false)
	require.NoError(t, err)
	assert.True(t, tripped)

	got, err = r.Get(ctx, "t", ep.ID)
	require.NoError(t, err)
	assert.False(t, got.IsActive)
	require.NotNil(t, got.AutoDisabledAt)

	tripped, err = r.RecordOutcome(ctx, ep.ID, false)
	require.NoError(t, err)
	assert.False(t, tripped, "already disabled endpoint must not trip again")
}

func TestRecordOutcomeThresholdIsStrict(t *testing.T) {
	ctx := context.Background()
	r := newTestRegistry(t, Options{})
	ep, _ := createEndpoint(t, r, "t")

	for i := 0; i < 10; i++ {
		tripped, err := r.RecordOutcome(ctx, ep.ID, i%2 == 0)
		require.NoError(t, err)
		require.False(t, tripped)
	}

	got, err := r.Get(ctx, "t", ep.ID)
	require.NoError(t, err)
	assert.True(t, got.IsActive)
	assert.InDelta(t, 0.5, got.FailureRate, 1e-9)
}

func TestRecordOutcomeIgnoresOldOutcomes(t *testing.T) {
	ctx := context.Background()
	r := newTestRegistry(t, Options{})
	ep, _ := createEndpoint(t, r, "t")

	base := time.Now()
	r.now = func() time.Time { return base }
	for i := 0; i < 5; i++ {
		_, err := r.RecordOutcome(ctx, ep.ID, false)
		require.NoError(t, err)
	}

	r.now = func() time.Time { return base.Add(49 * time.Hour) }
	for i := 0; i < 10; i++ {
		tripped, err := r.RecordOutcome(ctx, ep.ID, i%2 == 0)
		require.NoError(t, err)
		require.False(t, tripped, "outcomes outside the window were counted")
	}
}

func TestReactivateClearsWindow(t *testing.T) {
	ctx := context.Background()
	r := newTestRegistry(t, Options{Policy: Policy{Window: time.Hour, Threshold: 0.5, MinSamples: 2}})
	ep, _ := createEndpoint(t, r, "t")

	_, err := r.RecordOutcome(ctx, ep.ID, false)
	require.NoError(t, err)
	tripped, err := r.RecordOutcome(ctx, ep.ID, false)
	require.NoError(t, err)
	require.True(t, tripped)

	got, err := r.Update(ctx, "t", ep.ID, UpdateInput{IsActive: boolPtr(true)})
	require.NoError(t, err)
	assert.True(t, got.IsActive)
	assert.Nil(t, got.AutoDisabledAt)
	assert.Zero(t, got.FailureRate)

	tripped, err = r.RecordOutcome(ctx, ep.ID, false)
	require.NoError(t, err)
	assert.False(t, tripped)
}

func TestManualDeactivateKeepsAutoDisabledAtNil(t *testing.T) {
	ctx := context.Background()
	r := newTestRegistry(t, Options{})
	ep, _ := createEndpoint(t, r, "t")

	got, err := r.Update(ctx, "t", ep.ID, UpdateInput{IsActive: boolPtr(false)})
	require.NoError(t, err)
	assert.False(t, got.IsActive)
	assert.Nil(t, got.AutoDisabledAt)

	snap, err := r.Snapshot(ctx, ep.ID)
	require.NoError(t, err)
	assert.False(t, snap.IsActive)
}

func TestRecordOutcomeConcurrentTripsOnce(t *testing.T) {
	ctx := context.Background()
	r := newTestRegistry(t, Options{Policy: Policy{Window: time.Hour, Threshold: 0.5, MinSamples: 5}})
	ep, _ := createEndpoint(t, r, "t")

	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		trips int
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tripped, err := r.RecordOutcome(ctx, ep.ID, false)
			assert.NoError(t, err)
			if tripped {
				mu.Lock()
				trips++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, trips)
}

func TestSubscribers(t *testing.T) {
	ctx := context.Background()
	r := newTestRegistry(t, Options{})

	comments, _ := createEndpoint(t, r, "t", webhook.EventCommentAdded)
	both, _ := createEndpoint(t, r, "t", webhook.EventCommentAdded, webhook.EventNewsletterSubscribed)
	inactive, _ := createEndpoint(t, r, "t", webhook.EventCommentAdded)
	_, err := r.Update(ctx, "t", inactive.ID, UpdateInput{IsActive: boolPtr(false)})
	require.NoError(t, err)
	createEndpoint(t, r, "other", webhook.EventCommentAdded)

	subs, err := r.Subscribers(ctx, "t", webhook.EventCommentAdded)
	require.NoError(t, err)
	ids := []string{}
	for _, s := range subs {
		ids = append(ids, s.ID)
	}
	assert.ElementsMatch(t, []string{comments.ID, both.ID}, ids)

	subs, err = r.Subscribers(ctx, "t", webhook.EventNewsletterSubscribed)
	require.NoError(t, err)
	require.Len(t, subs, 1)
	assert.Equal(t, both.ID, subs[0].ID)

	subs, err = r.Subscribers(ctx, "t", "post.published")
	require.NoError(t, err)
	assert.Empty(t, subs)
}

func TestRotateSecretInvalidatesOldSignatures(t *testing.T) {
	ctx := context.Background()
	r := newTestRegistry(t, Options{})
	ep, oldSecret := createEndpoint(t, r, "t")

	newSecret, err := r.RotateSecret(ctx, "t", ep.ID)
	require.NoError(t, err)

	body := []byte(`{"event":"comment.added","data":{}}`)
	ts := time.Now().Unix()
	snap, err := r.Snapshot(ctx, ep.ID)
	require.NoError(t, err)

	stale := webhook.SignatureFor(oldSecret, ts, body)
	assert.False(t, webhook.Verify(snap.Secret, stale, body, webhook.DefaultTolerance))

	fresh := webhook.SignatureFor(newSecret, ts, body)
	assert.True(t, webhook.Verify(snap.Secret, fresh, body, webhook.DefaultTolerance))
}

func TestAutoDisabledEndpointLosesSubscriptions(t *testing.T) {
	ctx := context.Background()
	r := newTestRegistry(t, Options{})
	ep, _ := createEndpoint(t, r, "t")

	subs, err := r.Subscribers(ctx, "t", webhook.EventCommentAdded)
	require.NoError(t, err)
	require.Len(t, subs, 1)

	for i := 0; i < 10; i++ {
		_, err := r.RecordOutcome(ctx, ep.ID, false)
		require.NoError(t, err)
	}

	subs, err = r.Subscribers(ctx, "t", webhook.EventCommentAdded)
	require.NoError(t, err)
	assert.Empty(t, subs)
}
