package licensing

import (
	"context"
	"maps"
	"slices"
	"sort"
	"sync"
)

// MemoryStore is an in-memory licensing store for development and tests.
// Transactions run against a private copy of the data that replaces the
// shared copy on commit, so readers never see partial writes.
type MemoryStore struct {
	mu   sync.Mutex
	data *memoryData
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: newMemoryData()}
}

type memoryData struct {
	brands     map[string]Brand
	brandCodes map[string]string // code → ID

	products     map[string]Product
	productCodes map[string]string // brandID/code → ID

	keys      map[string]LicenseKey // Licenses left empty
	keyTokens map[string]string     // token → ID
	keyOrder  []string

	licenses     map[string]License // Product left empty
	licensePairs map[string]string  // keyID/productID → ID
	keyLicenses  map[string][]string

	activations    map[string]Activation
	activationKeys map[string]string // keyID/instanceID → ID
	keyActivations map[string][]string
}

func newMemoryData() *memoryData {
	return &memoryData{
		brands:         make(map[string]Brand),
		brandCodes:     make(map[string]string),
		products:       make(map[string]Product),
		productCodes:   make(map[string]string),
		keys:           make(map[string]LicenseKey),
		keyTokens:      make(map[string]string),
		licenses:       make(map[string]License),
		licensePairs:   make(map[string]string),
		keyLicenses:    make(map[string][]string),
		activations:    make(map[string]Activation),
		activationKeys: make(map[string]string),
		keyActivations: make(map[string][]string),
	}
}

func (d *memoryData) clone() *memoryData {
	cloneLists := func(src map[string][]string) map[string][]string {
		dst := make(map[string][]string, len(src))
		for k, v := range src {
			dst[k] = slices.Clone(v)
		}
		return dst
	}
	return &memoryData{
		brands:         maps.Clone(d.brands),
		brandCodes:     maps.Clone(d.brandCodes),
		products:       maps.Clone(d.products),
		productCodes:   maps.Clone(d.productCodes),
		keys:           maps.Clone(d.keys),
		keyTokens:      maps.Clone(d.keyTokens),
		keyOrder:       slices.Clone(d.keyOrder),
		licenses:       maps.Clone(d.licenses),
		licensePairs:   maps.Clone(d.licensePairs),
		keyLicenses:    cloneLists(d.keyLicenses),
		activations:    maps.Clone(d.activations),
		activationKeys: maps.Clone(d.activationKeys),
		keyActivations: cloneLists(d.keyActivations),
	}
}

func pairKey(a, b string) string { return a + "/" + b }

func (d *memoryData) CreateBrand(_ context.Context, b *Brand) error {
	if _, taken := d.brandCodes[b.Code]; taken {
		return ErrBrandCodeTaken
	}
	d.brands[b.ID] = *b
	d.brandCodes[b.Code] = b.ID
	return nil
}

func (d *memoryData) GetBrand(_ context.Context, id string) (*Brand, error) {
	b, ok := d.brands[id]
	if !ok {
		return nil, ErrBrandNotFound
	}
	return &b, nil
}

func (d *memoryData) GetBrandByCode(ctx context.Context, code string) (*Brand, error) {
	id, ok := d.brandCodes[code]
	if !ok {
		return nil, ErrBrandNotFound
	}
	return d.GetBrand(ctx, id)
}

func (d *memoryData) CreateProduct(_ context.Context, p *Product) error {
	if _, ok := d.brands[p.BrandID]; !ok {
		return ErrBrandNotFound
	}
	k := pairKey(p.BrandID, p.Code)
	if _, taken := d.productCodes[k]; taken {
		return ErrProductCodeTaken
	}
	d.products[p.ID] = *p
	d.productCodes[k] = p.ID
	return nil
}

func (d *memoryData) FindProduct(_ context.Context, brandID, code string) (*Product, error) {
	id, ok := d.productCodes[pairKey(brandID, code)]
	if !ok {
		return nil, ErrProductNotFound
	}
	p := d.products[id]
	return &p, nil
}

func (d *memoryData) ListProducts(_ context.Context, brandID string) ([]Product, error) {
	out := []Product{}
	for _, p := range d.products {
		if p.BrandID == brandID {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out, nil
}

func (d *memoryData) CreateLicenseKey(_ context.Context, k *LicenseKey) error {
	if _, taken := d.keyTokens[k.Key]; taken {
		return ErrKeyTokenTaken
	}
	cp := *k
	cp.Licenses = nil
	d.keys[k.ID] = cp
	d.keyTokens[k.Key] = k.ID
	d.keyOrder = append(d.keyOrder, k.ID)
	return nil
}

func (d *memoryData) populate(k LicenseKey) *LicenseKey {
	ids := d.keyLicenses[k.ID]
	k.Licenses = make([]License, 0, len(ids))
	for _, id := range ids {
		l := d.licenses[id]
		l.Product = d.products[l.ProductID]
		k.Licenses = append(k.Licenses, l)
	}
	return &k
}

func (d *memoryData) GetLicenseKey(_ context.Context, id string) (*LicenseKey, error) {
	k, ok := d.keys[id]
	if !ok {
		return nil, ErrLicenseKeyNotFound
	}
	return d.populate(k), nil
}

func (d *memoryData) FindLicenseKeyByToken(ctx context.Context, token string) (*LicenseKey, error) {
	id, ok := d.keyTokens[token]
	if !ok {
		return nil, ErrLicenseKeyNotFound
	}
	return d.GetLicenseKey(ctx, id)
}

func (d *memoryData) ListLicenseKeysByEmail(_ context.Context, email string) ([]LicenseKey, error) {
	out := []LicenseKey{}
	for _, id := range d.keyOrder {
		k := d.keys[id]
		if k.CustomerEmail == email {
			out = append(out, *d.populate(k))
		}
	}
	return out, nil
}

func (d *memoryData) CreateLicense(_ context.Context, l *License) error {
	if _, ok := d.keys[l.LicenseKeyID]; !ok {
		return ErrLicenseKeyNotFound
	}
	pk := pairKey(l.LicenseKeyID, l.ProductID)
	if _, exists := d.licensePairs[pk]; exists {
		return ErrLicenseExists
	}
	cp := *l
	cp.Product = Product{}
	d.licenses[l.ID] = cp
	d.licensePairs[pk] = l.ID
	d.keyLicenses[l.LicenseKeyID] = append(d.keyLicenses[l.LicenseKeyID], l.ID)
	return nil
}

func (d *memoryData) GetLicense(_ context.Context, id string) (*LicenseWithKey, error) {
	l, ok := d.licenses[id]
	if !ok {
		return nil, ErrLicenseNotFound
	}
	l.Product = d.products[l.ProductID]
	return &LicenseWithKey{License: l, Key: d.keys[l.LicenseKeyID]}, nil
}

func (d *memoryData) UpdateLicense(_ context.Context, l *License) error {
	cur, ok := d.licenses[l.ID]
	if !ok {
		return ErrLicenseNotFound
	}
	cur.Status = l.Status
	cur.ExpiresAt = l.ExpiresAt
	cur.UpdatedAt = l.UpdatedAt
	d.licenses[l.ID] = cur
	return nil
}

func (d *memoryData) FindActiveActivation(_ context.Context, licenseKeyID, instanceID string) (*Activation, error) {
	id, ok := d.activationKeys[pairKey(licenseKeyID, instanceID)]
	if !ok {
		return nil, ErrActivationNotFound
	}
	a := d.activations[id]
	if a.DeactivatedAt != nil {
		return nil, ErrActivationNotFound
	}
	return &a, nil
}

func (d *memoryData) CreateActivation(_ context.Context, a *Activation) error {
	pk := pairKey(a.LicenseKeyID, a.InstanceID)
	if _, exists := d.activationKeys[pk]; exists {
		return ErrActivationExists
	}
	d.activations[a.ID] = *a
	d.activationKeys[pk] = a.ID
	d.keyActivations[a.LicenseKeyID] = append(d.keyActivations[a.LicenseKeyID], a.ID)
	return nil
}

func (d *memoryData) CountActivations(_ context.Context, licenseKeyID string) (int, error) {
	return len(d.keyActivations[licenseKeyID]), nil
}

func (d *memoryData) ListActivations(_ context.Context, licenseKeyID string) ([]Activation, error) {
	ids := d.keyActivations[licenseKeyID]
	out := make([]Activation, 0, len(ids))
	for _, id := range ids {
		out = append(out, d.activations[id])
	}
	return out, nil
}

// memoryTx is the Store handed to WithTx callbacks. Nested WithTx calls join
// the enclosing transaction.
type memoryTx struct {
	*memoryData
}

func (t memoryTx) WithTx(_ context.Context, fn func(tx Store) error) error {
	return fn(t)
}

// WithTx copies the whole store per call, reads included: O(n) in stored rows.
func (m *MemoryStore) WithTx(_ context.Context, fn func(tx Store) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	work := m.data.clone()
	if err := fn(memoryTx{work}); err != nil {
		return err
	}
	m.data = work
	return nil
}

func (m *MemoryStore) CreateBrand(ctx context.Context, b *Brand) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data.CreateBrand(ctx, b)
}

func (m *MemoryStore) GetBrand(ctx context.Context, id string) (*Brand, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data.GetBrand(ctx, id)
}

func (m *MemoryStore) GetBrandByCode(ctx context.Context, code string) (*Brand, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data.GetBrandByCode(ctx, code)
}

func (m *MemoryStore) CreateProduct(ctx context.Context, p *Product) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data.CreateProduct(ctx, p)
}

func (m *MemoryStore) FindProduct(ctx context.Context, brandID, code string) (*Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data.FindProduct(ctx, brandID, code)
}

func (m *MemoryStore) ListProducts(ctx context.Context, brandID string) ([]Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data.ListProducts(ctx, brandID)
}

func (m *MemoryStore) CreateLicenseKey(ctx context.Context, k *LicenseKey) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data.CreateLicenseKey(ctx, k)
}

func (m *MemoryStore) GetLicenseKey(ctx context.Context, id string) (*LicenseKey, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data.GetLicenseKey(ctx, id)
}

func (m *MemoryStore) FindLicenseKeyByToken(ctx context.Context, token string) (*LicenseKey, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data.FindLicenseKeyByToken(ctx, token)
}

func (m *MemoryStore) ListLicenseKeysByEmail(ctx context.Context, email string) ([]LicenseKey, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data.ListLicenseKeysByEmail(ctx, email)
}

func (m *MemoryStore) CreateLicense(ctx context.Context, l *License) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data.CreateLicense(ctx, l)
}

func (m *MemoryStore) GetLicense(ctx context.Context, id string) (*LicenseWithKey, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data.GetLicense(ctx, id)
}

func (m *MemoryStore) UpdateLicense(ctx context.Context, l *License) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data.UpdateLicense(ctx, l)
}

func (m *MemoryStore) FindActiveActivation(ctx context.Context, licenseKeyID, instanceID string) (*Activation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data.FindActiveActivation(ctx, licenseKeyID, instanceID)
}

func (m *MemoryStore) CreateActivation(ctx context.Context, a *Activation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data.CreateActivation(ctx, a)
}

func (m *MemoryStore) CountActivations(ctx context.Context, licenseKeyID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data.CountActivations(ctx, licenseKeyID)
}

func (m *MemoryStore) ListActivations(ctx context.Context, licenseKeyID string) ([]Activation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data.ListActivations(ctx, licenseKeyID)
}

var (
	_ Store = (*MemoryStore)(nil)
	_ Store = memoryTx{}
)
