package licensing

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func date(y int, m time.Month, d int) *time.Time {
	t := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	return &t
}

type recordingEmitter struct {
	mu     sync.Mutex
	events []Event
}

func (r *recordingEmitter) EmitLicenseEvent(_ context.Context, e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recordingEmitter) types() []EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]EventType, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Type)
	}
	return out
}

type fixture struct {
	svc    *Service
	store  *MemoryStore
	events *recordingEmitter
	acme   Brand
	globex Brand
}

// newFixture seeds two brands: acme (core, addon) and globex (suite).
func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	ctx := context.Background()
	store := NewMemoryStore()
	events := &recordingEmitter{}
	base := []Option{
		WithClock(ClockFunc(func() time.Time { return testNow })),
		WithEventEmitter(events),
	}
	svc := NewService(store, append(base, opts...)...)

	acme, err := svc.CreateBrand(ctx, "acme", "Acme Corp")
	require.NoError(t, err)
	globex, err := svc.CreateBrand(ctx, "globex", "Globex")
	require.NoError(t, err)
	for _, code := range []string{"core", "addon"} {
		_, err := svc.CreateProduct(ctx, *acme, code, "Acme "+code)
		require.NoError(t, err)
	}
	_, err = svc.CreateProduct(ctx, *globex, "suite", "Globex Suite")
	require.NoError(t, err)

	return &fixture{svc: svc, store: store, events: events, acme: *acme, globex: *globex}
}

func (f *fixture) provision(t *testing.T, brand Brand, email string, reqs ...LicenseRequest) *LicenseKey {
	t.Helper()
	key, err := f.svc.Provision(context.Background(), brand, ProvisionRequest{CustomerEmail: email, Licenses: reqs})
	require.NoError(t, err)
	return key
}

func (f *fixture) activationRows(t *testing.T, keyID string) int {
	t.Helper()
	n, err := f.store.CountActivations(context.Background(), keyID)
	require.NoError(t, err)
	return n
}

// --- Provisioning ---

func TestProvision_NewKey(t *testing.T) {
	f := newFixture(t)

	key := f.provision(t, f.acme, "user@example.com", LicenseRequest{ProductCode: "core", ExpiresAt: date(2026, 1, 1)})

	assert.Regexp(t, `^[A-Z0-9]{4}-[A-Z0-9]{4}-[A-Z0-9]{4}$`, key.Key)
	assert.Equal(t, f.acme.ID, key.BrandID)
	assert.Equal(t, "user@example.com", key.CustomerEmail)
	require.Len(t, key.Licenses, 1)
	assert.Equal(t, StatusValid, key.Licenses[0].Status)
	assert.Equal(t, "core", key.Licenses[0].Product.Code)
	assert.Equal(t, date(2026, 1, 1), key.Licenses[0].ExpiresAt)
	assert.Equal(t, []EventType{EventKeyProvisioned}, f.events.types())
}

func TestProvision_ExistingKeyAttachesProduct(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	first := f.provision(t, f.acme, "user@example.com", LicenseRequest{ProductCode: "core", ExpiresAt: date(2026, 1, 1)})

	second, err := f.svc.Provision(ctx, f.acme, ProvisionRequest{
		ExistingKeyID: first.ID,
		Licenses:      []LicenseRequest{{ProductCode: "addon", ExpiresAt: date(2026, 1, 1)}},
	})
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, first.Key, second.Key)
	require.Len(t, second.Licenses, 2)
	assert.Equal(t, "core", second.Licenses[0].Product.Code)
	assert.Equal(t, "addon", second.Licenses[1].Product.Code)
}

func TestProvision_IdempotentAttach(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	key := f.provision(t, f.acme, "user@example.com", LicenseRequest{ProductCode: "core", ExpiresAt: date(2026, 1, 1)})
	original := key.Licenses[0]

	again, err := f.svc.Provision(ctx, f.acme, ProvisionRequest{
		ExistingKeyID: key.ID,
		Licenses:      []LicenseRequest{{ProductCode: "core", ExpiresAt: date(2030, 1, 1)}},
	})
	require.NoError(t, err)

	require.Len(t, again.Licenses, 1)
	assert.Equal(t, original.ID, again.Licenses[0].ID)
	assert.Equal(t, date(2026, 1, 1), again.Licenses[0].ExpiresAt, "second payload must be ignored")
}

func TestProvision_DuplicateProductInOneRequest(t *testing.T) {
	f := newFixture(t)

	key := f.provision(t, f.acme, "user@example.com",
		LicenseRequest{ProductCode: "core", ExpiresAt: date(2026, 1, 1)},
		LicenseRequest{ProductCode: "core", ExpiresAt: date(2027, 1, 1)},
	)

	require.Len(t, key.Licenses, 1)
	assert.Equal(t, date(2026, 1, 1), key.Licenses[0].ExpiresAt)
}

func TestProvision_PerpetualLicense(t *testing.T) {
	f := newFixture(t)

	key := f.provision(t, f.acme, "user@example.com", LicenseRequest{ProductCode: "core"})

	require.Len(t, key.Licenses, 1)
	assert.Nil(t, key.Licenses[0].ExpiresAt)
}

func TestProvision_UnknownProductPersistsNothing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Provision(ctx, f.acme, ProvisionRequest{
		CustomerEmail: "user@example.com",
		Licenses: []LicenseRequest{
			{ProductCode: "core", ExpiresAt: date(2026, 1, 1)},
			{ProductCode: "missing", ExpiresAt: date(2026, 1, 1)},
		},
	})
	require.ErrorIs(t, err, ErrProductNotFound)
	assert.Contains(t, err.Error(), "missing")

	keys, err := f.store.ListLicenseKeysByEmail(ctx, "user@example.com")
	require.NoError(t, err)
	assert.Empty(t, keys, "failed provisioning must not leave a key behind")
	assert.Empty(t, f.events.types())
}

func TestProvision_UnknownProductOnExistingKeyLeavesKeyUnchanged(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	key := f.provision(t, f.acme, "user@example.com", LicenseRequest{ProductCode: "core", ExpiresAt: date(2026, 1, 1)})

	_, err := f.svc.Provision(ctx, f.acme, ProvisionRequest{
		ExistingKeyID: key.ID,
		Licenses: []LicenseRequest{
			{ProductCode: "addon", ExpiresAt: date(2026, 1, 1)},
			{ProductCode: "missing", ExpiresAt: date(2026, 1, 1)},
		},
	})
	require.ErrorIs(t, err, ErrProductNotFound)

	reloaded, err := f.store.GetLicenseKey(ctx, key.ID)
	require.NoError(t, err)
	assert.Len(t, reloaded.Licenses, 1)
}

func TestProvision_ProductFromOtherBrand(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Provision(context.Background(), f.acme, ProvisionRequest{
		CustomerEmail: "user@example.com",
		Licenses:      []LicenseRequest{{ProductCode: "suite"}},
	})
	assert.ErrorIs(t, err, ErrProductNotFound)
}

func TestProvision_CrossTenantKey(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	globexKey := f.provision(t, f.globex, "user@example.com", LicenseRequest{ProductCode: "suite"})

	_, err := f.svc.Provision(ctx, f.acme, ProvisionRequest{
		ExistingKeyID: globexKey.ID,
		Licenses:      []LicenseRequest{{ProductCode: "core"}},
	})
	require.ErrorIs(t, err, ErrCrossTenantKey)

	reloaded, err := f.store.GetLicenseKey(ctx, globexKey.ID)
	require.NoError(t, err)
	assert.Len(t, reloaded.Licenses, 1)
}

func TestProvision_UnknownExistingKey(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Provision(context.Background(), f.acme, ProvisionRequest{
		ExistingKeyID: "lk_missing",
		Licenses:      []LicenseRequest{{ProductCode: "core"}},
	})
	assert.ErrorIs(t, err, ErrLicenseKeyNotFound)
}

func TestProvision_RegeneratesCollidingToken(t *testing.T) {
	tokens := []string{"AAAA-AAAA-AAAA", "AAAA-AAAA-AAAA", "BBBB-BBBB-BBBB"}
	var mu sync.Mutex
	gen := TokenGeneratorFunc(func() (string, error) {
		mu.Lock()
		defer mu.Unlock()
		tok := tokens[0]
		tokens = tokens[1:]
		return tok, nil
	})
	f := newFixture(t, WithTokenGenerator(gen))

	first := f.provision(t, f.acme, "a@example.com", LicenseRequest{ProductCode: "core"})
	second := f.provision(t, f.acme, "b@example.com", LicenseRequest{ProductCode: "core"})

	assert.Equal(t, "AAAA-AAAA-AAAA", first.Key)
	assert.Equal(t, "BBBB-BBBB-BBBB", second.Key)
}

func TestProvision_GivesUpAfterRepeatedCollisions(t *testing.T) {
	gen := TokenGeneratorFunc(func() (string, error) { return "SAME-SAME-SAME", nil })
	f := newFixture(t, WithTokenGenerator(gen))
	f.provision(t, f.acme, "a@example.com", LicenseRequest{ProductCode: "core"})

	_, err := f.svc.Provision(context.Background(), f.acme, ProvisionRequest{
		CustomerEmail: "b@example.com",
		Licenses:      []LicenseRequest{{ProductCode: "core"}},
	})
	assert.ErrorIs(t, err, ErrKeyTokenTaken)
}

func TestProvision_TokenGeneratorFailure(t *testing.T) {
	boom := errors.New("entropy exhausted")
	f := newFixture(t, WithTokenGenerator(TokenGeneratorFunc(func() (string, error) { return "", boom })))

	_, err := f.svc.Provision(context.Background(), f.acme, ProvisionRequest{
		CustomerEmail: "a@example.com",
		Licenses:      []LicenseRequest{{ProductCode: "core"}},
	})
	assert.ErrorIs(t, err, boom)
}

// --- Lifecycle ---

func TestChangeStatus_SuspendThenValidateInvalid(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	key := f.provision(t, f.acme, "user@example.com", LicenseRequest{ProductCode: "core", ExpiresAt: date(2026, 1, 1)})

	lic, err := f.svc.ChangeStatus(ctx, f.acme, key.Licenses[0].ID, ActionSuspend, nil)
	require.NoError(t, err)
	assert.Equal(t, StatusSuspended, lic.Status)
	assert.Equal(t, date(2026, 1, 1), lic.ExpiresAt)

	res, err := f.svc.Validate(ctx, key.Key, "")
	require.NoError(t, err)
	assert.Equal(t, ValidationInvalid, res.Status)
	assert.Empty(t, res.Licenses)
}

func TestChangeStatus_RenewSetsExpiryAndRevalidates(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	key := f.provision(t, f.acme, "user@example.com", LicenseRequest{ProductCode: "core", ExpiresAt: date(2026, 1, 1)})
	licID := key.Licenses[0].ID

	_, err := f.svc.ChangeStatus(ctx, f.acme, licID, ActionSuspend, nil)
	require.NoError(t, err)

	lic, err := f.svc.ChangeStatus(ctx, f.acme, licID, ActionRenew, date(2027, 6, 30))
	require.NoError(t, err)
	assert.Equal(t, StatusValid, lic.Status)
	assert.Equal(t, date(2027, 6, 30), lic.ExpiresAt)
	assert.Equal(t, testNow, lic.UpdatedAt)
}

func TestChangeStatus_RenewWithoutExpiryLeavesLicense(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	key := f.provision(t, f.acme, "user@example.com", LicenseRequest{ProductCode: "core", ExpiresAt: date(2026, 1, 1)})
	licID := key.Licenses[0].ID

	_, err := f.svc.ChangeStatus(ctx, f.acme, licID, ActionRenew, nil)
	require.ErrorIs(t, err, ErrMissingExpiry)

	got, err := f.store.GetLicense(ctx, licID)
	require.NoError(t, err)
	assert.Equal(t, StatusValid, got.License.Status)
	assert.Equal(t, date(2026, 1, 1), got.License.ExpiresAt)
}

func TestChangeStatus_CancelledIsTerminal(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	key := f.provision(t, f.acme, "user@example.com", LicenseRequest{ProductCode: "core", ExpiresAt: date(2026, 1, 1)})
	licID := key.Licenses[0].ID

	_, err := f.svc.ChangeStatus(ctx, f.acme, licID, ActionCancel, nil)
	require.NoError(t, err)

	for _, action := range []Action{ActionRenew, ActionSuspend, ActionResume, ActionCancel, "delete"} {
		_, err := f.svc.ChangeStatus(ctx, f.acme, licID, action, date(2030, 1, 1))
		assert.ErrorIs(t, err, ErrImmutable, "action %s", action)
	}

	got, err := f.store.GetLicense(ctx, licID)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, got.License.Status)
	assert.Equal(t, date(2026, 1, 1), got.License.ExpiresAt)
}

func TestChangeStatus_CrossTenantAccess(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	key := f.provision(t, f.globex, "user@example.com", LicenseRequest{ProductCode: "suite"})
	licID := key.Licenses[0].ID

	_, err := f.svc.ChangeStatus(ctx, f.acme, licID, ActionSuspend, nil)
	require.ErrorIs(t, err, ErrCrossTenantAccess)

	got, err := f.store.GetLicense(ctx, licID)
	require.NoError(t, err)
	assert.Equal(t, StatusValid, got.License.Status)
}

func TestChangeStatus_UnknownLicense(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.ChangeStatus(context.Background(), f.acme, "lic_missing", ActionSuspend, nil)
	assert.ErrorIs(t, err, ErrLicenseNotFound)
}

func TestChangeStatus_EmitsEvent(t *testing.T) {
	f := newFixture(t)
	key := f.provision(t, f.acme, "user@example.com", LicenseRequest{ProductCode: "core"})

	_, err := f.svc.ChangeStatus(context.Background(), f.acme, key.Licenses[0].ID, ActionSuspend, nil)
	require.NoError(t, err)

	f.events.mu.Lock()
	defer f.events.mu.Unlock()
	require.Len(t, f.events.events, 2)
	ev := f.events.events[1]
	assert.Equal(t, EventStatusChanged, ev.Type)
	assert.Equal(t, f.acme.ID, ev.BrandID)
	assert.Equal(t, "valid", ev.Data["from"])
	assert.Equal(t, "suspended", ev.Data["to"])
}

// --- Activation ---

func TestActivate_IdempotentPerInstance(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	key := f.provision(t, f.acme, "user@example.com",
		LicenseRequest{ProductCode: "core", ExpiresAt: date(2026, 1, 1)},
		LicenseRequest{ProductCode: "addon"},
	)

	first, err := f.svc.Activate(ctx, key.Key, "https://site.example")
	require.NoError(t, err)
	second, err := f.svc.Activate(ctx, key.Key, "https://site.example")
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, []Entitlement{
		{ProductCode: "core", Status: StatusValid, ExpiresAt: date(2026, 1, 1)},
		{ProductCode: "addon", Status: StatusValid},
	}, first)
	assert.Equal(t, 1, f.activationRows(t, key.ID))
	assert.Equal(t, []EventType{EventKeyProvisioned, EventActivated}, f.events.types())
}

func TestActivate_SeparateInstancesEachRecorded(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	key := f.provision(t, f.acme, "user@example.com", LicenseRequest{ProductCode: "core"})

	for i := 0; i < 3; i++ {
		_, err := f.svc.Activate(ctx, key.Key, fmt.Sprintf("instance-%d", i))
		require.NoError(t, err)
	}
	assert.Equal(t, 3, f.activationRows(t, key.ID))

	res, err := f.svc.Validate(ctx, key.Key, "")
	require.NoError(t, err)
	assert.Equal(t, 3, res.Seats.Used)
	assert.Nil(t, res.Seats.Remaining)
}

func TestActivate_ConcurrentSameInstance(t *testing.T) {
	f := newFixture(t)
	key := f.provision(t, f.acme, "user@example.com", LicenseRequest{ProductCode: "core"})

	var wg sync.WaitGroup
	errs := make(chan error, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.Activate(context.Background(), key.Key, "same-instance")
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		assert.NoError(t, err)
	}
	assert.Equal(t, 1, f.activationRows(t, key.ID))
}

func TestActivate_UnknownKey(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Activate(context.Background(), "NOPE-NOPE-NOPE", "i-1")
	assert.ErrorIs(t, err, ErrInvalidKey)
}

func TestActivate_TokenIsCaseSensitive(t *testing.T) {
	f := newFixture(t, WithTokenGenerator(TokenGeneratorFunc(func() (string, error) { return "ABCD-EFGH-1234", nil })))
	f.provision(t, f.acme, "user@example.com", LicenseRequest{ProductCode: "core"})

	_, err := f.svc.Activate(context.Background(), "abcd-efgh-1234", "i-1")
	assert.ErrorIs(t, err, ErrInvalidKey)
}

func TestActivate_NoUsableLicenses(t *testing.T) {
	tests := []struct {
		name    string
		expires *time.Time
		action  Action
	}{
		{name: "expired", expires: date(2025, 1, 1)},
		{name: "expires exactly now", expires: &testNow},
		{name: "suspended", expires: date(2026, 1, 1), action: ActionSuspend},
		{name: "cancelled", expires: date(2026, 1, 1), action: ActionCancel},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			ctx := context.Background()
			key := f.provision(t, f.acme, "user@example.com", LicenseRequest{ProductCode: "core", ExpiresAt: tc.expires})
			if tc.action != "" {
				_, err := f.svc.ChangeStatus(ctx, f.acme, key.Licenses[0].ID, tc.action, nil)
				require.NoError(t, err)
			}

			_, err := f.svc.Activate(ctx, key.Key, "i-1")
			require.ErrorIs(t, err, ErrNoValidLicenses)
			assert.Equal(t, 0, f.activationRows(t, key.ID), "rejected activation must not be recorded")

			res, err := f.svc.Validate(ctx, key.Key, "i-1")
			require.NoError(t, err)
			assert.Equal(t, ValidationInvalid, res.Status)
			assert.Empty(t, res.Licenses)
		})
	}
}

func TestActivate_OnlyUsableLicensesReported(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	key := f.provision(t, f.acme, "user@example.com",
		LicenseRequest{ProductCode: "core", ExpiresAt: date(2024, 1, 1)},
		LicenseRequest{ProductCode: "addon", ExpiresAt: date(2026, 1, 1)},
	)

	ents, err := f.svc.Activate(ctx, key.Key, "i-1")
	require.NoError(t, err)
	require.Len(t, ents, 1)
	assert.Equal(t, "addon", ents[0].ProductCode)
}

func TestActivate_DeactivatedInstanceStaysIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	key := f.provision(t, f.acme, "user@example.com", LicenseRequest{ProductCode: "core"})
	deactivated := testNow.Add(-time.Hour)
	require.NoError(t, f.store.CreateActivation(ctx, &Activation{
		ID: "act_old", LicenseKeyID: key.ID, InstanceID: "i-1",
		ActivatedAt: testNow.Add(-48 * time.Hour), DeactivatedAt: &deactivated,
	}))

	ents, err := f.svc.Activate(ctx, key.Key, "i-1")
	require.NoError(t, err)
	assert.Len(t, ents, 1)
	assert.Equal(t, 1, f.activationRows(t, key.ID))
}

// --- Validation ---

func TestValidate_KeyWideIgnoresInstance(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	key := f.provision(t, f.acme, "user@example.com", LicenseRequest{ProductCode: "core", ExpiresAt: date(2026, 1, 1)})
	_, err := f.svc.Activate(ctx, key.Key, "i-1")
	require.NoError(t, err)

	withInstance, err := f.svc.Validate(ctx, key.Key, "never-activated")
	require.NoError(t, err)
	without, err := f.svc.Validate(ctx, key.Key, "")
	require.NoError(t, err)

	assert.Equal(t, without, withInstance)
	assert.Equal(t, ValidationValid, without.Status)
	assert.Equal(t, 1, without.Seats.Used)
	assert.Equal(t, []Entitlement{{ProductCode: "core", Status: StatusValid, ExpiresAt: date(2026, 1, 1)}}, without.Licenses)
}

func TestValidate_CountsDeactivatedSeats(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	key := f.provision(t, f.acme, "user@example.com", LicenseRequest{ProductCode: "core"})
	gone := testNow
	require.NoError(t, f.store.CreateActivation(ctx, &Activation{
		ID: "act_1", LicenseKeyID: key.ID, InstanceID: "old", ActivatedAt: testNow, DeactivatedAt: &gone,
	}))
	_, err := f.svc.Activate(ctx, key.Key, "new")
	require.NoError(t, err)

	res, err := f.svc.Validate(ctx, key.Key, "")
	require.NoError(t, err)
	assert.Equal(t, 2, res.Seats.Used)
}

func TestValidate_UnknownKey(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Validate(context.Background(), "NOPE-NOPE-NOPE", "")
	assert.ErrorIs(t, err, ErrInvalidKey)
}

// --- Query ---

func TestListByCustomerEmail_SpansBrands(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	acmeKey := f.provision(t, f.acme, "user@example.com", LicenseRequest{ProductCode: "core", ExpiresAt: date(2026, 1, 1)})
	globexKey := f.provision(t, f.globex, "user@example.com", LicenseRequest{ProductCode: "suite"})
	f.provision(t, f.acme, "other@example.com", LicenseRequest{ProductCode: "addon"})
	_, err := f.svc.ChangeStatus(ctx, f.globex, globexKey.Licenses[0].ID, ActionSuspend, nil)
	require.NoError(t, err)

	got, err := f.svc.ListByCustomerEmail(ctx, "user@example.com")
	require.NoError(t, err)
	require.Len(t, got, 2)

	assert.Equal(t, "acme", got[0].Brand.Code)
	assert.Equal(t, "Acme Corp", got[0].Brand.Name)
	assert.Equal(t, "core", got[0].Product.Code)
	assert.Equal(t, acmeKey.Key, got[0].LicenseKey)
	assert.Equal(t, date(2026, 1, 1), got[0].ExpiresAt)

	assert.Equal(t, "globex", got[1].Brand.Code)
	assert.Equal(t, "suite", got[1].Product.Code)
	assert.Equal(t, StatusSuspended, got[1].Status, "all statuses are listed")
	assert.Nil(t, got[1].ExpiresAt)
}

func TestListByCustomerEmail_ExactMatch(t *testing.T) {
	f := newFixture(t)
	f.provision(t, f.acme, "user@example.com", LicenseRequest{ProductCode: "core"})

	got, err := f.svc.ListByCustomerEmail(context.Background(), "USER@example.com")
	require.NoError(t, err)
	assert.NotNil(t, got)
	assert.Empty(t, got)
}

// --- Catalog ---

func TestCreateBrand_DuplicateCode(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.CreateBrand(context.Background(), "acme", "Another Acme")
	assert.ErrorIs(t, err, ErrBrandCodeTaken)
}

func TestCreateProduct_DuplicateCodeScopedToBrand(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.CreateProduct(ctx, f.acme, "core", "Again")
	assert.ErrorIs(t, err, ErrProductCodeTaken)

	_, err = f.svc.CreateProduct(ctx, f.globex, "core", "Globex Core")
	assert.NoError(t, err)
}

func TestGetKeyForBrand(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	key := f.provision(t, f.acme, "user@example.com", LicenseRequest{ProductCode: "core"})
	_, err := f.svc.Activate(ctx, key.Key, "i-1")
	require.NoError(t, err)

	detail, err := f.svc.GetKeyForBrand(ctx, f.acme, key.ID)
	require.NoError(t, err)
	assert.Equal(t, key.Key, detail.Key.Key)
	assert.Len(t, detail.Activations, 1)
	assert.Equal(t, 1, detail.Seats.Used)

	_, err = f.svc.GetKeyForBrand(ctx, f.globex, key.ID)
	assert.ErrorIs(t, err, ErrCrossTenantKey)
}
