//go:build integration

package repositories

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/empiworks/empi-engine/pkg/apperrors"
	"github.com/empiworks/empi-engine/pkg/models"
	"github.com/empiworks/empi-engine/pkg/testhelpers"
)

type demographicTestContext struct {
	t        *testing.T
	engineDB *testhelpers.EngineDB
	ids      IDRepository
	repo     DemographicRepository
}

func setupDemographicTest(t *testing.T) *demographicTestContext {
	engineDB := testhelpers.GetEngineDB(t)
	return &demographicTestContext{
		t:        t,
		engineDB: engineDB,
		ids:      NewIDRepository(engineDB.DB, "test"),
		repo:     NewDemographicRepository(engineDB.DB),
	}
}

func (tc *demographicTestContext) cleanup() {
	tc.t.Helper()
	ctx := context.Background()
	_, _ = tc.engineDB.DB.Exec(ctx, "DELETE FROM telecom")
	_, _ = tc.engineDB.DB.Exec(ctx, "DELETE FROM archive_demographic")
	_, _ = tc.engineDB.DB.Exec(ctx, "DELETE FROM demographic")
}

func (tc *demographicTestContext) mintID(ctx context.Context) int64 {
	tc.t.Helper()
	id, err := tc.ids.NextID(ctx, "demographic_test")
	if err != nil {
		tc.t.Fatalf("failed to mint id: %v", err)
	}
	return id
}

// newTestDemographic builds a derivation-complete row ready for insert.
func (tc *demographicTestContext) newTestDemographic(ctx context.Context, given, family, postal string) *models.Demographic {
	tc.t.Helper()
	d := &models.Demographic{
		RecordID:        tc.mintID(ctx),
		OrganizationKey: "stmarys",
		SystemKey:       "ehr",
		SystemID:        "sys-9",
		GivenName:       given,
		FamilyName:      family,
		Gender:          "F",
		NameDay:         time.Date(1961, 4, 12, 0, 0, 0, 0, time.UTC),
		Address1:        "100 Main St",
		City:            "Springfield",
		State:           "IL",
		PostalCode:      postal,
		TransactionKey:  "1_2",
	}
	models.ApplyDerived(d, "demographic_test", time.Now().UTC())
	return d
}

func (tc *demographicTestContext) insert(ctx context.Context, d *models.Demographic) {
	tc.t.Helper()
	if err := tc.repo.Insert(ctx, d); err != nil {
		tc.t.Fatalf("failed to insert demographic: %v", err)
	}
}

// ============================================================================
// Insert / Get Tests
// ============================================================================

func TestDemographicRepository_Insert_Success(t *testing.T) {
	tc := setupDemographicTest(t)
	tc.cleanup()
	ctx := context.Background()

	d := tc.newTestDemographic(ctx, "VALENTINA", "TERESHKOVA", "62701")
	tc.insert(ctx, d)

	retrieved, err := tc.repo.GetByID(ctx, d.RecordID)
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if retrieved.GivenName != "VALENTINA" {
		t.Errorf("expected given name 'VALENTINA', got %q", retrieved.GivenName)
	}
	if retrieved.UqHash != d.UqHash {
		t.Errorf("expected uq_hash %q, got %q", d.UqHash, retrieved.UqHash)
	}
	if retrieved.CompositeName != "VALEN:TERESHKOVA" {
		t.Errorf("expected composite name 'VALEN:TERESHKOVA', got %q", retrieved.CompositeName)
	}
	if retrieved.IsActive {
		t.Error("expected fresh row to be inactive until activation")
	}
	if !retrieved.NameDay.Equal(d.NameDay) {
		t.Errorf("expected name_day %v, got %v", d.NameDay, retrieved.NameDay)
	}
}

func TestDemographicRepository_Insert_DuplicateHash(t *testing.T) {
	tc := setupDemographicTest(t)
	tc.cleanup()
	ctx := context.Background()

	first := tc.newTestDemographic(ctx, "SALLY", "RIDE", "62701")
	tc.insert(ctx, first)

	// Same person, same content: the hash collides.
	second := tc.newTestDemographic(ctx, "SALLY", "RIDE", "62701")
	err := tc.repo.Insert(ctx, second)
	if !errors.Is(err, apperrors.ErrDuplicateRecord) {
		t.Errorf("expected ErrDuplicateRecord, got %v", err)
	}
}

func TestDemographicRepository_GetByID_NotFound(t *testing.T) {
	tc := setupDemographicTest(t)
	tc.cleanup()
	ctx := context.Background()

	_, err := tc.repo.GetByID(ctx, 999999999)
	if !errors.Is(err, apperrors.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestDemographicRepository_SetActive(t *testing.T) {
	tc := setupDemographicTest(t)
	tc.cleanup()
	ctx := context.Background()

	d := tc.newTestDemographic(ctx, "MAE", "JEMISON", "62701")
	tc.insert(ctx, d)

	if err := tc.repo.SetActive(ctx, d.RecordID, true, "demographic_test"); err != nil {
		t.Fatalf("SetActive failed: %v", err)
	}

	retrieved, err := tc.repo.GetByID(ctx, d.RecordID)
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if !retrieved.IsActive {
		t.Error("expected record to be active")
	}
}

func TestDemographicRepository_Delete(t *testing.T) {
	tc := setupDemographicTest(t)
	tc.cleanup()
	ctx := context.Background()

	d := tc.newTestDemographic(ctx, "KATHERINE", "JOHNSON", "62701")
	tc.insert(ctx, d)

	if err := tc.repo.Delete(ctx, d.RecordID); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}

	_, err := tc.repo.GetByID(ctx, d.RecordID)
	if !errors.Is(err, apperrors.ErrNotFound) {
		t.Errorf("expected ErrNotFound after delete, got %v", err)
	}
}

// ============================================================================
// Coarse Candidate Tests
// ============================================================================

func TestDemographicRepository_ListCoarseCandidates(t *testing.T) {
	tc := setupDemographicTest(t)
	tc.cleanup()
	ctx := context.Background()

	seed := tc.newTestDemographic(ctx, "ADA", "LOVELACE", "62701")
	tc.insert(ctx, seed)

	samePostal := tc.newTestDemographic(ctx, "GRACE", "HOPPER", "62701")
	tc.insert(ctx, samePostal)

	sameFamily := tc.newTestDemographic(ctx, "WILLIAM", "LOVELACE", "10001")
	sameFamily.NameDay = time.Date(1915, 8, 3, 0, 0, 0, 0, time.UTC)
	models.ApplyDerived(sameFamily, "demographic_test", time.Now().UTC())
	tc.insert(ctx, sameFamily)

	unrelated := tc.newTestDemographic(ctx, "ALAN", "TURING", "99999")
	unrelated.NameDay = time.Date(1912, 6, 23, 0, 0, 0, 0, time.UTC)
	models.ApplyDerived(unrelated, "demographic_test", time.Now().UTC())
	tc.insert(ctx, unrelated)

	candidates, err := tc.repo.ListCoarseCandidates(ctx, seed)
	if err != nil {
		t.Fatalf("ListCoarseCandidates failed: %v", err)
	}

	ids := make(map[int64]bool, len(candidates))
	for _, c := range candidates {
		ids[c.RecordID] = true
	}
	if ids[seed.RecordID] {
		t.Error("expected the seed record to be excluded from its own candidates")
	}
	if !ids[samePostal.RecordID] {
		t.Error("expected postal-code block to include the same-postal record")
	}
	if !ids[sameFamily.RecordID] {
		t.Error("expected family-name block to include the same-family record")
	}
	if ids[unrelated.RecordID] {
		t.Error("expected no block to include the unrelated record")
	}
}

// ============================================================================
// Archive Tests
// ============================================================================

func TestDemographicRepository_Archive_RoundTrip(t *testing.T) {
	tc := setupDemographicTest(t)
	tc.cleanup()
	ctx := context.Background()

	d := tc.newTestDemographic(ctx, "MARGARET", "HAMILTON", "02139")
	tc.insert(ctx, d)

	archive := &models.DemographicArchive{
		RecordID:                   d.RecordID,
		OrganizationKey:            d.OrganizationKey,
		SystemKey:                  d.SystemKey,
		SystemID:                   d.SystemID,
		GivenName:                  d.GivenName,
		MiddleName:                 d.MiddleName,
		FamilyName:                 d.FamilyName,
		Gender:                     d.Gender,
		NameDay:                    d.NameDay,
		SocialSecurityNumber:       d.SocialSecurityNumber,
		Address1:                   d.Address1,
		Address2:                   d.Address2,
		City:                       d.City,
		State:                      d.State,
		PostalCode:                 d.PostalCode,
		UqHash:                     d.UqHash,
		CompositeKey:               d.CompositeKey,
		CompositeName:              d.CompositeName,
		CompositeNameDayPostalCode: d.CompositeNameDayPostalCode,
		IsActive:                   d.IsActive,
		TransactionKey:             "3_4",
		ArchiveTransactionKey:      d.TransactionKey,
		TouchedBy:                  "demographic_test",
	}
	if err := tc.repo.InsertArchive(ctx, archive); err != nil {
		t.Fatalf("InsertArchive failed: %v", err)
	}

	// The snapshot never destroys the source row.
	if _, err := tc.repo.GetByID(ctx, d.RecordID); err != nil {
		t.Fatalf("expected source row to survive archiving: %v", err)
	}

	retrieved, err := tc.repo.GetArchive(ctx, d.RecordID)
	if err != nil {
		t.Fatalf("GetArchive failed: %v", err)
	}
	if retrieved.ArchiveTransactionKey != d.TransactionKey {
		t.Errorf("expected archive to keep the source transaction key %q, got %q",
			d.TransactionKey, retrieved.ArchiveTransactionKey)
	}
	if retrieved.TransactionKey != "3_4" {
		t.Errorf("expected archiving transaction key '3_4', got %q", retrieved.TransactionKey)
	}
	if retrieved.UqHash != d.UqHash {
		t.Errorf("expected uq_hash %q, got %q", d.UqHash, retrieved.UqHash)
	}

	if err := tc.repo.DeleteArchive(ctx, d.RecordID); err != nil {
		t.Fatalf("DeleteArchive failed: %v", err)
	}
	_, err = tc.repo.GetArchive(ctx, d.RecordID)
	if !errors.Is(err, apperrors.ErrNotFound) {
		t.Errorf("expected ErrNotFound after archive delete, got %v", err)
	}
}
