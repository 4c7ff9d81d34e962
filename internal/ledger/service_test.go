package ledger_test

import (
	"context"
	"testing"
	"time"

	"github.com/joshu-sajeev/migrateq/common"
	"github.com/joshu-sajeev/migrateq/internal/config"
	"github.com/joshu-sajeev/migrateq/internal/ledger"
	"github.com/joshu-sajeev/migrateq/internal/mocks"
	"github.com/joshu-sajeev/migrateq/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func strPtr(s string) *string { return &s }
func intPtr(i int) *int       { return &i }

func TestService_CreateBatchJob(t *testing.T) {
	tests := []struct {
		name       string
		batchID    string
		parentID   string
		totalItems int
		setupMock  func(*mocks.JobLedgerRepoMock)
		wantKind   common.Kind
	}{
		{
			name:       "success",
			batchID:    "batch-001",
			parentID:   "migration-1",
			totalItems: 100,
			setupMock: func(m *mocks.JobLedgerRepoMock) {
				m.On("Create", mock.Anything, mock.MatchedBy(func(rec *models.JobRecord) bool {
					return rec.CorrelationID == "batch-001" &&
						rec.JobType == string(config.JobTypeBatch) &&
						rec.ParentJobID != nil && *rec.ParentJobID == "migration-1" &&
						rec.TotalItems == 100
				})).Return(nil)
			},
		},
		{
			name:       "empty batch id",
			batchID:    "",
			totalItems: 100,
			wantKind:   common.KindValidation,
		},
		{
			name:       "zero items",
			batchID:    "batch-002",
			totalItems: 0,
			wantKind:   common.KindValidation,
		},
		{
			name:       "duplicate surfaces repo error",
			batchID:    "batch-003",
			totalItems: 10,
			setupMock: func(m *mocks.JobLedgerRepoMock) {
				m.On("Create", mock.Anything, mock.Anything).
					Return(common.DuplicateJobErrf("job already exists"))
			},
			wantKind: common.KindDuplicateJob,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := new(mocks.JobLedgerRepoMock)
			if tt.setupMock != nil {
				tt.setupMock(repo)
			}

			svc := ledger.NewService(repo)
			err := svc.CreateBatchJob(context.Background(), tt.batchID, tt.parentID, tt.totalItems, nil)

			if tt.wantKind != "" {
				require.Error(t, err)
				assert.Equal(t, tt.wantKind, common.KindOf(err))
			} else {
				require.NoError(t, err)
			}
			repo.AssertExpectations(t)
		})
	}
}

func TestService_UpdateJob(t *testing.T) {
	tests := []struct {
		name      string
		existing  *models.JobRecord
		upd       ledger.JobUpdate
		wantKind  common.Kind
		wantPatch func(t *testing.T, patch map[string]any)
	}{
		{
			name:     "status change sets end time on terminal",
			existing: &models.JobRecord{CorrelationID: "batch-001", Status: "processing", JobType: "batch", TotalItems: 100},
			upd:      ledger.JobUpdate{Status: config.JobStatusCompleted, ProcessedItems: intPtr(100)},
			wantPatch: func(t *testing.T, patch map[string]any) {
				assert.Equal(t, "completed", patch["status"])
				assert.Equal(t, 100, patch["processed_items"])
				assert.Equal(t, 100, patch["progress"])
				assert.Contains(t, patch, "end_time")
			},
		},
		{
			name:     "progress rounds to the nearest percent",
			existing: &models.JobRecord{CorrelationID: "batch-005", Status: "processing", JobType: "batch", TotalItems: 250},
			upd:      ledger.JobUpdate{ProcessedItems: intPtr(249)},
			wantPatch: func(t *testing.T, patch map[string]any) {
				assert.Equal(t, 100, patch["progress"])
			},
		},
		{
			name:     "terminal record rejects new status",
			existing: &models.JobRecord{CorrelationID: "batch-002", Status: "completed", JobType: "batch"},
			upd:      ledger.JobUpdate{Status: config.JobStatusProcessing},
			wantKind: common.KindInvalidState,
		},
		{
			name:     "failed record may enter dead letter reprocessing",
			existing: &models.JobRecord{CorrelationID: "batch-003", Status: "failed", JobType: "batch"},
			upd:      ledger.JobUpdate{Status: config.JobStatusDeadLetterProcessing},
			wantPatch: func(t *testing.T, patch map[string]any) {
				assert.Equal(t, "dead_letter_processing", patch["status"])
			},
		},
		{
			name:     "unknown status rejected",
			existing: &models.JobRecord{CorrelationID: "batch-004", Status: "pending", JobType: "batch"},
			upd:      ledger.JobUpdate{Status: config.JobStatus("exploded")},
			wantKind: common.KindValidation,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := new(mocks.JobLedgerRepoMock)
			repo.On("GetByCorrelationID", mock.Anything, tt.existing.CorrelationID).
				Return(tt.existing, nil)

			var captured map[string]any
			if tt.wantKind == "" {
				repo.On("Update", mock.Anything, tt.existing.CorrelationID, mock.Anything).
					Run(func(args mock.Arguments) {
						captured = args.Get(2).(map[string]any)
					}).
					Return(int64(1), nil)
			}

			svc := ledger.NewService(repo)
			err := svc.UpdateJob(context.Background(), tt.existing.CorrelationID, tt.upd)

			if tt.wantKind != "" {
				require.Error(t, err)
				assert.Equal(t, tt.wantKind, common.KindOf(err))
				return
			}
			require.NoError(t, err)
			if tt.wantPatch != nil {
				tt.wantPatch(t, captured)
			}
		})
	}
}

func TestService_UpdateJob_NotFound(t *testing.T) {
	repo := new(mocks.JobLedgerRepoMock)
	repo.On("GetByCorrelationID", mock.Anything, "missing").
		Return(nil, common.NotFoundErrf("job not found"))

	svc := ledger.NewService(repo)
	err := svc.UpdateJob(context.Background(), "missing", ledger.JobUpdate{Status: config.JobStatusFailed})

	require.Error(t, err)
	assert.Equal(t, common.KindNotFound, common.KindOf(err))
}

func TestService_NextBatchID(t *testing.T) {
	tests := []struct {
		seq  int64
		want string
	}{
		{seq: 1, want: "batch-001"},
		{seq: 42, want: "batch-042"},
		{seq: 999, want: "batch-999"},
		{seq: 1234, want: "batch-1234"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			repo := new(mocks.JobLedgerRepoMock)
			repo.On("NextSequence", mock.Anything, "batchId").Return(tt.seq, nil)

			svc := ledger.NewService(repo)
			got, err := svc.NextBatchID(context.Background())

			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func migrationRecord(total, batches int) *models.JobRecord {
	return &models.JobRecord{
		CorrelationID: "migration-1",
		Status:        "processing",
		JobType:       "migration",
		TotalItems:    total,
		TotalBatches:  batches,
	}
}

func batchRecord(id, status string, processed int) models.JobRecord {
	return models.JobRecord{
		CorrelationID:  id,
		Status:         status,
		JobType:        "batch",
		ParentJobID:    strPtr("migration-1"),
		ProcessedItems: processed,
	}
}

func TestService_ReconcileMigrationStatus(t *testing.T) {
	tests := []struct {
		name       string
		migration  *models.JobRecord
		children   []models.JobRecord
		wantUpdate bool
		wantPatch  func(t *testing.T, patch map[string]any)
	}{
		{
			name:      "all batches completed marks migration completed",
			migration: migrationRecord(250, 3),
			children: []models.JobRecord{
				batchRecord("batch-001", "completed", 100),
				batchRecord("batch-002", "completed", 100),
				batchRecord("batch-003", "completed", 50),
			},
			wantUpdate: true,
			wantPatch: func(t *testing.T, patch map[string]any) {
				assert.Equal(t, "completed", patch["status"])
				assert.Equal(t, 3, patch["completed_batches"])
				assert.Equal(t, 250, patch["processed_items"])
				assert.Equal(t, 100, patch["progress"])
				assert.Contains(t, patch, "end_time")
			},
		},
		{
			name:      "any failed batch wins over completed",
			migration: migrationRecord(250, 3),
			children: []models.JobRecord{
				batchRecord("batch-001", "completed", 100),
				batchRecord("batch-002", "failed", 0),
				batchRecord("batch-003", "completed", 50),
			},
			wantUpdate: true,
			wantPatch: func(t *testing.T, patch map[string]any) {
				assert.Equal(t, "failed", patch["status"])
				assert.Equal(t, 1, patch["failed_batches"])
				assert.Equal(t, "1 of 3 batches failed", patch["error"])
			},
		},
		{
			name:      "failed batch fails migration while peers are in flight",
			migration: migrationRecord(250, 3),
			children: []models.JobRecord{
				batchRecord("batch-001", "failed", 0),
				batchRecord("batch-002", "processing", 0),
				batchRecord("batch-003", "pending", 0),
			},
			wantUpdate: true,
			wantPatch: func(t *testing.T, patch map[string]any) {
				assert.Equal(t, "failed", patch["status"])
				assert.Equal(t, 1, patch["failed_batches"])
				assert.Equal(t, "1 of 3 batches failed", patch["error"])
				assert.Contains(t, patch, "end_time")
			},
		},
		{
			name:      "failed batch fails half published migration",
			migration: migrationRecord(250, 0),
			children: []models.JobRecord{
				batchRecord("batch-001", "failed", 0),
				batchRecord("batch-002", "completed", 100),
			},
			wantUpdate: true,
			wantPatch: func(t *testing.T, patch map[string]any) {
				assert.Equal(t, "failed", patch["status"])
				assert.Equal(t, "1 of 2 batches failed", patch["error"])
			},
		},
		{
			name:      "unsettled batches keep migration processing",
			migration: migrationRecord(250, 3),
			children: []models.JobRecord{
				batchRecord("batch-001", "completed", 100),
				batchRecord("batch-002", "processing", 0),
				batchRecord("batch-003", "pending", 0),
			},
			wantUpdate: true,
			wantPatch: func(t *testing.T, patch map[string]any) {
				assert.NotContains(t, patch, "status")
				assert.Equal(t, 1, patch["completed_batches"])
				assert.Equal(t, 100, patch["processed_items"])
			},
		},
		{
			name:      "half published migration never completes",
			migration: migrationRecord(250, 0),
			children: []models.JobRecord{
				batchRecord("batch-001", "completed", 100),
			},
			wantUpdate: true,
			wantPatch: func(t *testing.T, patch map[string]any) {
				assert.NotContains(t, patch, "status")
			},
		},
		{
			name: "no change writes nothing",
			migration: &models.JobRecord{
				CorrelationID:    "migration-1",
				Status:           "processing",
				JobType:          "migration",
				TotalItems:       250,
				TotalBatches:     3,
				CompletedBatches: 1,
				ProcessedItems:   100,
				Progress:         40,
			},
			children: []models.JobRecord{
				batchRecord("batch-001", "completed", 100),
				batchRecord("batch-002", "processing", 0),
				batchRecord("batch-003", "pending", 0),
			},
			wantUpdate: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := new(mocks.JobLedgerRepoMock)
			repo.On("GetByCorrelationID", mock.Anything, "migration-1").Return(tt.migration, nil)
			repo.On("ListByParent", mock.Anything, "migration-1").Return(tt.children, nil)

			var captured map[string]any
			if tt.wantUpdate {
				repo.On("Update", mock.Anything, "migration-1", mock.Anything).
					Run(func(args mock.Arguments) {
						captured = args.Get(2).(map[string]any)
					}).
					Return(int64(1), nil)
			}

			svc := ledger.NewService(repo)
			err := svc.ReconcileMigrationStatus(context.Background(), "migration-1")

			require.NoError(t, err)
			if tt.wantUpdate {
				repo.AssertExpectations(t)
				if tt.wantPatch != nil {
					tt.wantPatch(t, captured)
				}
			} else {
				repo.AssertNotCalled(t, "Update", mock.Anything, mock.Anything, mock.Anything)
			}
		})
	}
}

func TestService_ReconcileMigrationStatus_NotAMigration(t *testing.T) {
	repo := new(mocks.JobLedgerRepoMock)
	repo.On("GetByCorrelationID", mock.Anything, "batch-001").
		Return(&models.JobRecord{CorrelationID: "batch-001", JobType: "batch"}, nil)

	svc := ledger.NewService(repo)
	err := svc.ReconcileMigrationStatus(context.Background(), "batch-001")

	require.Error(t, err)
	assert.Equal(t, common.KindValidation, common.KindOf(err))
}

func TestService_RepairStuckJobs(t *testing.T) {
	repo := new(mocks.JobLedgerRepoMock)

	stale := []models.JobRecord{
		batchRecord("batch-007", "processing", 0),
		batchRecord("batch-008", "processing", 0),
	}
	repo.On("ListStaleProcessing", mock.Anything, mock.Anything).Return(stale, nil)
	repo.On("Update", mock.Anything, "batch-007", mock.Anything).Return(int64(1), nil)
	repo.On("Update", mock.Anything, "batch-008", mock.Anything).Return(int64(1), nil)

	// Both stale batches share one parent, so it is reconciled once, and the
	// open-migration sweep skips it.
	repo.On("GetByCorrelationID", mock.Anything, "migration-1").
		Return(migrationRecord(250, 3), nil).Once()
	repo.On("ListByParent", mock.Anything, "migration-1").
		Return([]models.JobRecord{}, nil).Once()
	repo.On("List", mock.Anything, ledger.JobFilter{Status: "processing", JobType: "migration"}).
		Return([]models.JobRecord{*migrationRecord(250, 3)}, nil)

	svc := ledger.NewService(repo)
	repaired, err := svc.RepairStuckJobs(context.Background(), 5*time.Minute)

	require.NoError(t, err)
	assert.Equal(t, 2, repaired)
	repo.AssertExpectations(t)
}

func TestService_RepairStuckJobs_ReconcilesOpenMigrations(t *testing.T) {
	repo := new(mocks.JobLedgerRepoMock)

	// No stale batches, but a migration whose last reconciliation never
	// landed is still sitting in processing with every child settled.
	repo.On("ListStaleProcessing", mock.Anything, mock.Anything).
		Return([]models.JobRecord{}, nil)

	open := &models.JobRecord{
		CorrelationID: "migration-9",
		Status:        "processing",
		JobType:       "migration",
		TotalItems:    100,
		TotalBatches:  1,
	}
	repo.On("List", mock.Anything, ledger.JobFilter{Status: "processing", JobType: "migration"}).
		Return([]models.JobRecord{*open}, nil)
	repo.On("GetByCorrelationID", mock.Anything, "migration-9").Return(open, nil)
	repo.On("ListByParent", mock.Anything, "migration-9").Return([]models.JobRecord{
		{CorrelationID: "batch-001", Status: "completed", JobType: "batch", ProcessedItems: 100},
	}, nil)

	var captured map[string]any
	repo.On("Update", mock.Anything, "migration-9", mock.Anything).
		Run(func(args mock.Arguments) {
			captured = args.Get(2).(map[string]any)
		}).
		Return(int64(1), nil)

	svc := ledger.NewService(repo)
	repaired, err := svc.RepairStuckJobs(context.Background(), 5*time.Minute)

	require.NoError(t, err)
	assert.Equal(t, 0, repaired)
	assert.Equal(t, "completed", captured["status"])
	repo.AssertExpectations(t)
}
