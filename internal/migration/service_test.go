package migration_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/joshu-sajeev/migrateq/common"
	"github.com/joshu-sajeev/migrateq/internal/config"
	"github.com/joshu-sajeev/migrateq/internal/dto"
	"github.com/joshu-sajeev/migrateq/internal/ledger"
	"github.com/joshu-sajeev/migrateq/internal/migration"
	"github.com/joshu-sajeev/migrateq/internal/mocks"
	"github.com/joshu-sajeev/migrateq/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakeDocRepo drives the cursor callback from an in-memory slice and records
// the status filter each call asked for.
type fakeDocRepo struct {
	docs           []models.Document
	countErr       error
	streamErr      error
	countStatuses  []string
	streamStatuses []string
	created        []models.Document
	summary        map[string]int64
}

func (f *fakeDocRepo) CountByStatus(ctx context.Context, statuses []string) (int64, error) {
	f.countStatuses = statuses
	return int64(len(f.docs)), f.countErr
}

func (f *fakeDocRepo) StreamByStatus(ctx context.Context, statuses []string, fn func(models.Document) error) error {
	f.streamStatuses = statuses
	if f.streamErr != nil {
		return f.streamErr
	}
	for _, d := range f.docs {
		if err := fn(d); err != nil {
			return err
		}
	}
	return nil
}

func (f *fakeDocRepo) CreateBatch(ctx context.Context, docs []models.Document) error {
	f.created = append(f.created, docs...)
	return nil
}

func (f *fakeDocRepo) GroupCountByStatus(ctx context.Context) (map[string]int64, error) {
	return f.summary, nil
}

func pendingDocs(n int) []models.Document {
	docs := make([]models.Document, n)
	for i := range docs {
		docs[i] = models.Document{
			ID:     uint(i + 1),
			Name:   fmt.Sprintf("user-%d", i+1),
			Email:  fmt.Sprintf("user-%d@example.com", i+1),
			Status: "pending",
		}
	}
	return docs
}

func newLedgerMock() *mocks.LedgerServiceMock {
	l := new(mocks.LedgerServiceMock)
	l.On("CreateMigrationJob", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil)
	l.On("UpdateJob", mock.Anything, mock.Anything, mock.Anything).Return(nil)
	return l
}

func TestService_StartMigration_BatchSlicing(t *testing.T) {
	docs := &fakeDocRepo{docs: pendingDocs(250)}
	l := newLedgerMock()
	p := new(mocks.PublisherServiceMock)

	var batchSizes []int
	p.On("PublishBatch", mock.Anything, mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			req := args.Get(1).(dto.PublishBatchDTO)
			batchSizes = append(batchSizes, len(req.Items))
			assert.Equal(t, "processing", req.QueueType)
		}).
		Return(&dto.PublishResponseDTO{BatchID: "batch-001"}, nil)

	svc := migration.NewService(docs, l, p, 100, zap.NewNop())
	resp, err := svc.StartMigration(context.Background(), dto.MigrationStartDTO{BatchSize: 100})

	require.NoError(t, err)
	assert.Equal(t, []int{100, 100, 50}, batchSizes)
	assert.Equal(t, 3, resp.TotalBatches)
	assert.Equal(t, int64(250), resp.TotalItems)
	assert.Equal(t, "processing", resp.Status)

	l.AssertCalled(t, "CreateMigrationJob", mock.Anything, resp.MigrationID, 250, mock.Anything)
	l.AssertCalled(t, "UpdateJob", mock.Anything, resp.MigrationID,
		mock.MatchedBy(func(upd ledger.JobUpdate) bool {
			return upd.Status == config.JobStatusProcessing &&
				upd.TotalBatches != nil && *upd.TotalBatches == 3
		}))
}

func TestService_StartMigration_ExactMultiple(t *testing.T) {
	docs := &fakeDocRepo{docs: pendingDocs(200)}
	l := newLedgerMock()
	p := new(mocks.PublisherServiceMock)

	var batchSizes []int
	p.On("PublishBatch", mock.Anything, mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			batchSizes = append(batchSizes, len(args.Get(1).(dto.PublishBatchDTO).Items))
		}).
		Return(&dto.PublishResponseDTO{}, nil)

	svc := migration.NewService(docs, l, p, 100, zap.NewNop())
	resp, err := svc.StartMigration(context.Background(), dto.MigrationStartDTO{})

	require.NoError(t, err)
	assert.Equal(t, []int{100, 100}, batchSizes)
	assert.Equal(t, 2, resp.TotalBatches)
}

func TestService_StartMigration_DryRun(t *testing.T) {
	docs := &fakeDocRepo{docs: pendingDocs(250)}
	l := newLedgerMock()
	p := new(mocks.PublisherServiceMock)

	svc := migration.NewService(docs, l, p, 100, zap.NewNop())
	resp, err := svc.StartMigration(context.Background(), dto.MigrationStartDTO{BatchSize: 100, DryRun: true})

	require.NoError(t, err)
	assert.True(t, resp.DryRun)
	assert.Equal(t, 3, resp.TotalBatches)
	assert.Equal(t, int64(250), resp.TotalItems)
	assert.Equal(t, "completed", resp.Status)
	p.AssertNotCalled(t, "PublishBatch", mock.Anything, mock.Anything, mock.Anything)
}

func TestService_StartMigration_NoDocuments(t *testing.T) {
	docs := &fakeDocRepo{}
	l := newLedgerMock()
	p := new(mocks.PublisherServiceMock)

	svc := migration.NewService(docs, l, p, 100, zap.NewNop())
	resp, err := svc.StartMigration(context.Background(), dto.MigrationStartDTO{})

	require.NoError(t, err)
	assert.Equal(t, "completed", resp.Status)
	assert.Equal(t, "no documents to migrate", resp.Message)
	assert.Empty(t, resp.MigrationID)
	p.AssertNotCalled(t, "PublishBatch", mock.Anything, mock.Anything, mock.Anything)
	// An empty sweep leaves no trace in the ledger.
	l.AssertNotCalled(t, "CreateMigrationJob", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestService_StartMigration_ProgressAdvancesWhilePublishing(t *testing.T) {
	docs := &fakeDocRepo{docs: pendingDocs(250)}
	p := new(mocks.PublisherServiceMock)
	p.On("PublishBatch", mock.Anything, mock.Anything, mock.Anything).
		Return(&dto.PublishResponseDTO{}, nil)

	l := new(mocks.LedgerServiceMock)
	l.On("CreateMigrationJob", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil)

	var enqueued []int
	l.On("UpdateJob", mock.Anything, mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			upd := args.Get(2).(ledger.JobUpdate)
			if upd.ProcessedItems != nil && upd.TotalBatches == nil {
				enqueued = append(enqueued, *upd.ProcessedItems)
			}
		}).
		Return(nil)

	svc := migration.NewService(docs, l, p, 100, zap.NewNop())
	_, err := svc.StartMigration(context.Background(), dto.MigrationStartDTO{BatchSize: 100})

	require.NoError(t, err)
	assert.Equal(t, []int{100, 200, 250}, enqueued)
}

func TestService_StartMigration_PublishFailureFailsMigration(t *testing.T) {
	docs := &fakeDocRepo{docs: pendingDocs(150)}
	p := new(mocks.PublisherServiceMock)

	l := new(mocks.LedgerServiceMock)
	l.On("CreateMigrationJob", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil)

	p.On("PublishBatch", mock.Anything, mock.Anything, mock.Anything).
		Return(nil, errors.New("broker gone")).Once()
	l.On("UpdateJob", mock.Anything, mock.Anything, mock.MatchedBy(func(upd ledger.JobUpdate) bool {
		return upd.Status == config.JobStatusFailed && upd.Error == "broker gone"
	})).Return(nil)

	svc := migration.NewService(docs, l, p, 100, zap.NewNop())
	_, err := svc.StartMigration(context.Background(), dto.MigrationStartDTO{})

	require.Error(t, err)
	l.AssertExpectations(t)
}

func TestService_StartArchiveMigration(t *testing.T) {
	docs := &fakeDocRepo{docs: pendingDocs(10)}
	l := newLedgerMock()
	p := new(mocks.PublisherServiceMock)

	p.On("PublishBatch", mock.Anything, mock.MatchedBy(func(req dto.PublishBatchDTO) bool {
		return req.QueueType == "archive"
	}), mock.Anything).Return(&dto.PublishResponseDTO{}, nil)

	svc := migration.NewService(docs, l, p, 100, zap.NewNop())
	resp, err := svc.StartArchiveMigration(context.Background(), dto.MigrationStartDTO{})

	require.NoError(t, err)
	assert.Equal(t, 1, resp.TotalBatches)
	p.AssertExpectations(t)
}

func TestService_SweepFilters(t *testing.T) {
	tests := []struct {
		name         string
		start        func(svc *migration.Service, ctx context.Context) error
		wantStatuses []string
	}{
		{
			name: "retry failed targets only failed documents",
			start: func(svc *migration.Service, ctx context.Context) error {
				_, err := svc.RetryFailed(ctx)
				return err
			},
			wantStatuses: []string{"failed"},
		},
		{
			name: "complete processing targets abandoned documents",
			start: func(svc *migration.Service, ctx context.Context) error {
				_, err := svc.CompleteProcessing(ctx)
				return err
			},
			wantStatuses: []string{"processing"},
		},
		{
			name: "process all pending covers every unmigrated status",
			start: func(svc *migration.Service, ctx context.Context) error {
				_, err := svc.ProcessAllPending(ctx)
				return err
			},
			wantStatuses: []string{"pending", "processing", "failed"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			docs := &fakeDocRepo{docs: pendingDocs(5)}
			l := newLedgerMock()
			p := new(mocks.PublisherServiceMock)
			p.On("PublishBatch", mock.Anything, mock.Anything, mock.Anything).
				Return(&dto.PublishResponseDTO{}, nil)

			svc := migration.NewService(docs, l, p, 100, zap.NewNop())
			require.NoError(t, tt.start(svc, context.Background()))

			// The sweeps vary only the document filter; they never rewrite
			// document statuses before publishing.
			assert.Equal(t, tt.wantStatuses, docs.countStatuses)
			assert.Equal(t, tt.wantStatuses, docs.streamStatuses)
		})
	}
}

func TestService_CancelMigration(t *testing.T) {
	tests := []struct {
		name     string
		job      *dto.JobStatusResponseDTO
		wantKind common.Kind
	}{
		{
			name: "cancels processing migration",
			job:  &dto.JobStatusResponseDTO{CorrelationID: "migration-1", Status: "processing", JobType: "migration"},
		},
		{
			name:     "rejects completed migration",
			job:      &dto.JobStatusResponseDTO{CorrelationID: "migration-1", Status: "completed", JobType: "migration"},
			wantKind: common.KindInvalidState,
		},
		{
			name:     "rejects batch job",
			job:      &dto.JobStatusResponseDTO{CorrelationID: "migration-1", Status: "pending", JobType: "batch"},
			wantKind: common.KindValidation,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := new(mocks.LedgerServiceMock)
			l.On("GetJob", mock.Anything, "migration-1").Return(tt.job, nil)
			if tt.wantKind == "" {
				l.On("UpdateJob", mock.Anything, "migration-1",
					mock.MatchedBy(func(upd ledger.JobUpdate) bool {
						return upd.Status == config.JobStatusCancelled
					})).Return(nil)
			}

			svc := migration.NewService(&fakeDocRepo{}, l, new(mocks.PublisherServiceMock), 100, zap.NewNop())
			err := svc.CancelMigration(context.Background(), "migration-1")

			if tt.wantKind != "" {
				require.Error(t, err)
				assert.Equal(t, tt.wantKind, common.KindOf(err))
				return
			}
			require.NoError(t, err)
			l.AssertExpectations(t)
		})
	}
}

func TestService_CancelMigration_NotFound(t *testing.T) {
	l := new(mocks.LedgerServiceMock)
	l.On("GetJob", mock.Anything, "missing").Return(nil, common.NotFoundErrf("job not found"))

	svc := migration.NewService(&fakeDocRepo{}, l, new(mocks.PublisherServiceMock), 100, zap.NewNop())
	err := svc.CancelMigration(context.Background(), "missing")

	require.Error(t, err)
	assert.Equal(t, common.KindNotFound, common.KindOf(err))
}

func TestService_SeedDocuments(t *testing.T) {
	docs := &fakeDocRepo{}
	svc := migration.NewService(docs, new(mocks.LedgerServiceMock), new(mocks.PublisherServiceMock), 100, zap.NewNop())

	require.NoError(t, svc.SeedDocuments(context.Background(), 25))
	assert.Len(t, docs.created, 25)
	assert.Equal(t, "pending", docs.created[0].Status)

	err := svc.SeedDocuments(context.Background(), 0)
	require.Error(t, err)
	assert.Equal(t, common.KindValidation, common.KindOf(err))
}
