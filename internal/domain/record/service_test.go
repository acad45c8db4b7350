package record

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/patientx/patientx/internal/platform/ledger"
)

type mockRepo struct {
	mu      sync.Mutex
	nextID  int64
	records map[int64]*Record
}

func newMockRepo() *mockRepo {
	return &mockRepo{nextID: 1, records: make(map[int64]*Record)}
}

func (m *mockRepo) Create(_ context.Context, r *Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.records {
		if existing.PatientID == r.PatientID && existing.DataHash == r.DataHash {
			return ErrDuplicate
		}
	}
	r.ID = m.nextID
	m.nextID++
	r.CreatedAt = time.Now()
	cp := *r
	m.records[r.ID] = &cp
	return nil
}

func (m *mockRepo) GetByID(_ context.Context, id int64) (*Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.records[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *r
	return &cp, nil
}

func (m *mockRepo) GetByDataHash(_ context.Context, dataHash string) (*Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.records {
		if r.DataHash == dataHash {
			cp := *r
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (m *mockRepo) GetByOwnerAndHash(_ context.Context, ownerID int64, dataHash string) (*Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.records {
		if r.PatientID == ownerID && r.DataHash == dataHash {
			cp := *r
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (m *mockRepo) ListByPatient(_ context.Context, patientID int64, limit, offset int) ([]*Record, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var all []*Record
	for _, r := range m.records {
		if r.PatientID == patientID {
			cp := *r
			all = append(all, &cp)
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ID > all[j].ID })
	return page(all, limit, offset)
}

func (m *mockRepo) ListAll(_ context.Context, limit, offset int) ([]*Record, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var all []*Record
	for _, r := range m.records {
		cp := *r
		all = append(all, &cp)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ID > all[j].ID })
	return page(all, limit, offset)
}

func page(all []*Record, limit, offset int) ([]*Record, int, error) {
	total := len(all)
	if offset >= total {
		return nil, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return all[offset:end], total, nil
}

type fakeOracle struct {
	mu     sync.Mutex
	err    error
	calls  []common.Hash
	nextTx int
}

func (f *fakeOracle) RegisterHash(_ context.Context, _ ledger.Binding, dataHash common.Hash) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	f.calls = append(f.calls, dataHash)
	f.nextTx++
	return fmt.Sprintf("0xtx%d", f.nextTx), nil
}

type fakeResolver struct {
	err error
}

func (f *fakeResolver) Resolve(_ context.Context, userID int64) (ledger.Binding, error) {
	if f.err != nil {
		return ledger.Binding{}, f.err
	}
	return ledger.Binding{
		UserID:  userID,
		Index:   int(userID - 1),
		Address: common.HexToAddress(fmt.Sprintf("0x%040x", userID)),
	}, nil
}

type fakeFunder struct {
	err   error
	calls int
}

func (f *fakeFunder) EnsureFunded(_ context.Context, _ ledger.Binding) error {
	f.calls++
	return f.err
}

type fakeConsent struct {
	allowed map[string]bool
	err     error
}

func (f *fakeConsent) CheckAccess(_ context.Context, ownerID, requesterID int64, dataHash string) (bool, error) {
	if f.err != nil {
		return false, f.err
	}
	return f.allowed[fmt.Sprintf("%d:%d:%s", ownerID, requesterID, dataHash)], nil
}

func testService(t *testing.T) (*Service, *mockRepo, *fakeOracle, *fakeFunder) {
	t.Helper()
	repo := newMockRepo()
	oracle := &fakeOracle{}
	funder := &fakeFunder{}
	svc := NewService(repo, oracle, &fakeResolver{}, funder, zerolog.Nop())
	return svc, repo, oracle, funder
}

var digestRe = regexp.MustCompile(`^0x[0-9a-f]{64}$`)

func TestDigest(t *testing.T) {
	d := Digest("blood panel 2026-01")
	if !digestRe.MatchString(d) {
		t.Fatalf("Digest format = %q", d)
	}
	if d != Digest("blood panel 2026-01") {
		t.Error("Digest not deterministic")
	}
	if d == Digest("blood panel 2026-02") {
		t.Error("distinct content produced identical digests")
	}
}

func TestStore(t *testing.T) {
	svc, repo, oracle, funder := testService(t)

	rec, err := svc.Store(context.Background(), 1, StoreInput{
		Title:   "Blood panel",
		Content: "hemoglobin 13.2",
		Amount:  decimal.NewFromInt(500),
	})
	if err != nil {
		t.Fatalf("Store: %v", err)
	}
	if !digestRe.MatchString(rec.DataHash) {
		t.Errorf("DataHash = %q", rec.DataHash)
	}
	if rec.TxHash == "" {
		t.Error("TxHash not recorded")
	}
	if funder.calls != 1 {
		t.Errorf("funder calls = %d, want 1", funder.calls)
	}
	if len(oracle.calls) != 1 {
		t.Fatalf("oracle calls = %d, want 1", len(oracle.calls))
	}
	if oracle.calls[0] != ledger.HashPayload(rec.DataHash) {
		t.Error("on-chain hash is not derived from the stored digest")
	}
	if rec.OwnerAddr == "" {
		t.Error("owner address not recorded")
	}
	if _, err := repo.GetByID(context.Background(), rec.ID); err != nil {
		t.Errorf("record not persisted: %v", err)
	}
}

func TestStoreOracleFailureAborts(t *testing.T) {
	svc, repo, oracle, _ := testService(t)
	oracle.err = ledger.ErrUnavailable

	_, err := svc.Store(context.Background(), 1, StoreInput{
		Title: "X", Content: "y", Amount: decimal.Zero,
	})
	if !errors.Is(err, ledger.ErrUnavailable) {
		t.Fatalf("err = %v, want ErrUnavailable", err)
	}
	if len(repo.records) != 0 {
		t.Error("record persisted despite oracle failure")
	}
}

func TestStoreResolverFailureAborts(t *testing.T) {
	repo := newMockRepo()
	oracle := &fakeOracle{}
	svc := NewService(repo, oracle, &fakeResolver{err: ledger.ErrNoAccount}, nil, zerolog.Nop())

	_, err := svc.Store(context.Background(), 999, StoreInput{
		Title: "X", Content: "y",
	})
	if !errors.Is(err, ledger.ErrNoAccount) {
		t.Fatalf("err = %v, want ErrNoAccount", err)
	}
	if len(oracle.calls) != 0 {
		t.Error("oracle called despite unresolved account")
	}
}

func TestStoreFunderFailureTolerated(t *testing.T) {
	svc, _, _, funder := testService(t)
	funder.err = errors.New("faucet dry")

	if _, err := svc.Store(context.Background(), 1, StoreInput{
		Title: "X", Content: "y",
	}); err != nil {
		t.Fatalf("Store failed on funder error: %v", err)
	}
}

func TestStoreDuplicateContent(t *testing.T) {
	svc, _, oracle, _ := testService(t)
	in := StoreInput{Title: "X", Content: "same bytes"}

	if _, err := svc.Store(context.Background(), 1, in); err != nil {
		t.Fatalf("first store: %v", err)
	}
	_, err := svc.Store(context.Background(), 1, in)
	if !errors.Is(err, ErrDuplicate) {
		t.Fatalf("err = %v, want ErrDuplicate", err)
	}
	if len(oracle.calls) != 1 {
		t.Errorf("oracle calls = %d, want 1 (duplicate must not re-register)", len(oracle.calls))
	}
	// A different owner may store identical content.
	if _, err := svc.Store(context.Background(), 2, in); err != nil {
		t.Fatalf("second owner store: %v", err)
	}
}

func TestStoreValidation(t *testing.T) {
	svc, _, _, _ := testService(t)

	tests := []struct {
		name string
		in   StoreInput
	}{
		{"missing title", StoreInput{Content: "x"}},
		{"missing content", StoreInput{Title: "x"}},
		{"negative amount", StoreInput{Title: "x", Content: "y", Amount: decimal.NewFromInt(-1)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Store(context.Background(), 1, tt.in)
			if !errors.Is(err, ErrInvalidArgument) {
				t.Errorf("err = %v, want ErrInvalidArgument", err)
			}
		})
	}
}

func TestGetOwner(t *testing.T) {
	svc, _, _, _ := testService(t)
	rec, err := svc.Store(context.Background(), 1, StoreInput{Title: "X", Content: "y"})
	if err != nil {
		t.Fatalf("store: %v", err)
	}

	got, err := svc.GetByHash(context.Background(), 1, rec.DataHash)
	if err != nil {
		t.Fatalf("owner GetByHash: %v", err)
	}
	if got.Content != "y" {
		t.Errorf("Content = %q, want y", got.Content)
	}
}

func TestGetRequiresConsent(t *testing.T) {
	svc, _, _, _ := testService(t)
	rec, err := svc.Store(context.Background(), 1, StoreInput{Title: "X", Content: "y"})
	if err != nil {
		t.Fatalf("store: %v", err)
	}

	// No checker wired: deny.
	if _, err := svc.GetByHash(context.Background(), 2, rec.DataHash); !errors.Is(err, ErrAccessDenied) {
		t.Fatalf("err = %v, want ErrAccessDenied", err)
	}

	// Checker says no: deny.
	svc.SetConsentChecker(&fakeConsent{allowed: map[string]bool{}})
	if _, err := svc.GetByHash(context.Background(), 2, rec.DataHash); !errors.Is(err, ErrAccessDenied) {
		t.Fatalf("err = %v, want ErrAccessDenied", err)
	}

	// Checker fails: deny, never allow on error.
	svc.SetConsentChecker(&fakeConsent{err: errors.New("rpc down")})
	if _, err := svc.GetByHash(context.Background(), 2, rec.DataHash); !errors.Is(err, ErrAccessDenied) {
		t.Fatalf("err = %v, want ErrAccessDenied on checker failure", err)
	}

	// Checker says yes: allow.
	svc.SetConsentChecker(&fakeConsent{allowed: map[string]bool{
		"1:2:" + rec.DataHash: true,
	}})
	got, err := svc.GetByHash(context.Background(), 2, rec.DataHash)
	if err != nil {
		t.Fatalf("consented Get: %v", err)
	}
	if got.Content == "" {
		t.Error("consented read returned no content")
	}
}

func TestBrowseStripsContent(t *testing.T) {
	svc, _, _, _ := testService(t)
	if _, err := svc.Store(context.Background(), 1, StoreInput{Title: "X", Content: "secret"}); err != nil {
		t.Fatalf("store: %v", err)
	}

	items, total, err := svc.Browse(context.Background(), 0, 10, 0)
	if err != nil {
		t.Fatalf("Browse: %v", err)
	}
	if total != 1 || len(items) != 1 {
		t.Fatalf("total = %d len = %d", total, len(items))
	}
	if items[0].DataHash == "" {
		t.Error("metadata missing data hash")
	}
}

func TestExistsAndAmount(t *testing.T) {
	svc, _, _, _ := testService(t)
	rec, err := svc.Store(context.Background(), 1, StoreInput{
		Title: "X", Content: "y", Amount: decimal.NewFromInt(750),
	})
	if err != nil {
		t.Fatalf("store: %v", err)
	}

	ok, err := svc.Exists(context.Background(), 1, rec.DataHash)
	if err != nil || !ok {
		t.Fatalf("Exists = %v, %v, want true", ok, err)
	}
	ok, err = svc.Exists(context.Background(), 2, rec.DataHash)
	if err != nil || ok {
		t.Fatalf("Exists for wrong owner = %v, %v, want false", ok, err)
	}

	amt, err := svc.Amount(context.Background(), 1, rec.DataHash)
	if err != nil {
		t.Fatalf("Amount: %v", err)
	}
	if !amt.Equal(decimal.NewFromInt(750)) {
		t.Errorf("Amount = %s, want 750", amt)
	}
	if _, err := svc.Amount(context.Background(), 2, rec.DataHash); !errors.Is(err, ErrNotFound) {
		t.Errorf("Amount for wrong owner err = %v, want ErrNotFound", err)
	}
}
