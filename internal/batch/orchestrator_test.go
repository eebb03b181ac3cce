package batch

import (
	"context"
	"errors"
	"strings"
	"testing"

	"leadtrack_backend/internal/ingest"
	"leadtrack_backend/platform/logger"

	"github.com/google/uuid"
)

type fakeIngestor struct {
	chunks            [][][]string
	eventFunnelCalls  int
	gotCandidates     []uuid.UUID
	failChunk         int // 0-based chunk call to fail, -1 for none
	panicChunk        int // 0-based chunk call to panic, -1 for none
	touchedPerChunk   [][]uuid.UUID
	nextTouchedResult int
}

func newFakeIngestor() *fakeIngestor {
	return &fakeIngestor{failChunk: -1, panicChunk: -1}
}

func (f *fakeIngestor) PrepareBatch(ctx context.Context, workspaceID uuid.UUID, header []string, overrides map[string]string) (*ingest.Batch, error) {
	return &ingest.Batch{WorkspaceID: workspaceID}, nil
}

func (f *fakeIngestor) EventFunnels(ctx context.Context, workspaceID uuid.UUID, campaignID *uuid.UUID) ([]uuid.UUID, error) {
	f.eventFunnelCalls++
	return []uuid.UUID{uuid.New()}, nil
}

func (f *fakeIngestor) runChunk(records [][]string) (ingest.Summary, []uuid.UUID, error) {
	call := len(f.chunks)
	f.chunks = append(f.chunks, records)
	if call == f.panicChunk {
		panic("chunk blew up")
	}
	if call == f.failChunk {
		return ingest.Summary{}, nil, errors.New("store unavailable")
	}

	var touched []uuid.UUID
	if f.nextTouchedResult < len(f.touchedPerChunk) {
		touched = f.touchedPerChunk[f.nextTouchedResult]
		f.nextTouchedResult++
	}
	return ingest.Summary{TotalRows: len(records), Imported: len(records)}, touched, nil
}

func (f *fakeIngestor) ImportContactsChunk(ctx context.Context, b *ingest.Batch, funnelID, stageID uuid.UUID, records [][]string) (ingest.Summary, []uuid.UUID, error) {
	return f.runChunk(records)
}

func (f *fakeIngestor) BackfillChunk(ctx context.Context, b *ingest.Batch, funnelID, stageID uuid.UUID, records [][]string) (ingest.Summary, []uuid.UUID, error) {
	return f.runChunk(records)
}

func (f *fakeIngestor) EventChunk(ctx context.Context, b *ingest.Batch, eventName string, candidateFunnels []uuid.UUID, records [][]string) (ingest.Summary, []uuid.UUID, error) {
	f.gotCandidates = candidateFunnels
	return f.runChunk(records)
}

func (f *fakeIngestor) SaleChunk(ctx context.Context, b *ingest.Batch, platform string, records [][]string) (ingest.Summary, []uuid.UUID, error) {
	return f.runChunk(records)
}

type fakeRecalculator struct {
	calls   int
	leadIDs []uuid.UUID
}

func (f *fakeRecalculator) Recalculate(ctx context.Context, leadIDs []uuid.UUID) error {
	f.calls++
	f.leadIDs = append(f.leadIDs, leadIDs...)
	return nil
}

type fakeProgress struct {
	updates [][2]int
}

func (f *fakeProgress) SetProgress(ctx context.Context, jobID uuid.UUID, processedRows, totalRows int) error {
	f.updates = append(f.updates, [2]int{processedRows, totalRows})
	return nil
}

func contactCSV(rows int) string {
	var sb strings.Builder
	sb.WriteString("email\n")
	for i := 0; i < rows; i++ {
		sb.WriteString("lead")
		sb.WriteByte(byte('0' + i))
		sb.WriteString("@example.com\n")
	}
	return sb.String()
}

func testLogger() *logger.Logger {
	return logger.New("development")
}

func TestRunSplitsRecordsIntoChunks(t *testing.T) {
	ingestor := newFakeIngestor()
	progress := &fakeProgress{}
	o := NewOrchestrator(ingestor, &fakeRecalculator{}, progress, 2, testLogger())

	summary, err := o.Run(context.Background(), Job{
		ID:          uuid.New(),
		WorkspaceID: uuid.New(),
		Mode:        ModeFunnel,
		CSVText:     contactCSV(5),
		FunnelID:    uuid.New(),
		StageID:     uuid.New(),
	})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if len(ingestor.chunks) != 3 {
		t.Fatalf("expected 3 chunks, got %d", len(ingestor.chunks))
	}
	if len(ingestor.chunks[0]) != 2 || len(ingestor.chunks[2]) != 1 {
		t.Fatalf("unexpected chunk sizes: %d, %d, %d",
			len(ingestor.chunks[0]), len(ingestor.chunks[1]), len(ingestor.chunks[2]))
	}
	if summary.TotalRows != 5 || summary.Imported != 5 {
		t.Fatalf("unexpected summary: %+v", summary)
	}

	want := [][2]int{{2, 5}, {4, 5}, {5, 5}}
	if len(progress.updates) != len(want) {
		t.Fatalf("expected %d progress updates, got %d", len(want), len(progress.updates))
	}
	for i, u := range progress.updates {
		if u != want[i] {
			t.Fatalf("progress update %d = %v, want %v", i, u, want[i])
		}
	}
}

func TestRunFailedChunkIsIsolated(t *testing.T) {
	ingestor := newFakeIngestor()
	ingestor.failChunk = 1
	o := NewOrchestrator(ingestor, &fakeRecalculator{}, nil, 2, testLogger())

	summary, err := o.Run(context.Background(), Job{
		ID:          uuid.New(),
		WorkspaceID: uuid.New(),
		Mode:        ModeFunnel,
		CSVText:     contactCSV(6),
		FunnelID:    uuid.New(),
		StageID:     uuid.New(),
	})
	if err != nil {
		t.Fatalf("expected the job to survive a failed chunk, got %v", err)
	}

	if len(ingestor.chunks) != 3 {
		t.Fatalf("expected all 3 chunks attempted, got %d", len(ingestor.chunks))
	}
	if summary.TotalRows != 6 {
		t.Fatalf("expected all rows accounted for, got %d", summary.TotalRows)
	}
	if summary.Ignored != 2 {
		t.Fatalf("expected the failed chunk's rows ignored, got %d", summary.Ignored)
	}
	if summary.Imported != 4 {
		t.Fatalf("expected the surviving chunks' rows imported, got %d", summary.Imported)
	}
}

func TestRunPanickingChunkIsRecovered(t *testing.T) {
	ingestor := newFakeIngestor()
	ingestor.panicChunk = 0
	o := NewOrchestrator(ingestor, &fakeRecalculator{}, nil, 3, testLogger())

	summary, err := o.Run(context.Background(), Job{
		ID:          uuid.New(),
		WorkspaceID: uuid.New(),
		Mode:        ModeBackfill,
		CSVText:     contactCSV(5),
		FunnelID:    uuid.New(),
		StageID:     uuid.New(),
	})
	if err != nil {
		t.Fatalf("expected the job to survive a panicking chunk, got %v", err)
	}
	if summary.Ignored != 3 || summary.Imported != 2 {
		t.Fatalf("expected ignored=3 imported=2, got %+v", summary)
	}
}

func TestRunSaleModeRecalculatesTouchedLeadsOnce(t *testing.T) {
	shared := uuid.New()
	other := uuid.New()
	ingestor := newFakeIngestor()
	ingestor.touchedPerChunk = [][]uuid.UUID{
		{shared, other},
		{shared},
	}
	recalc := &fakeRecalculator{}
	o := NewOrchestrator(ingestor, recalc, nil, 2, testLogger())

	_, err := o.Run(context.Background(), Job{
		ID:          uuid.New(),
		WorkspaceID: uuid.New(),
		Mode:        ModeSale,
		CSVText:     contactCSV(4),
		Platform:    "kiwify",
	})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if recalc.calls != 1 {
		t.Fatalf("expected one recalculation pass, got %d", recalc.calls)
	}
	if len(recalc.leadIDs) != 2 {
		t.Fatalf("expected touched leads deduplicated to 2, got %v", recalc.leadIDs)
	}
}

func TestRunNonSaleModeSkipsRecalculation(t *testing.T) {
	ingestor := newFakeIngestor()
	ingestor.touchedPerChunk = [][]uuid.UUID{{uuid.New()}}
	recalc := &fakeRecalculator{}
	o := NewOrchestrator(ingestor, recalc, nil, 10, testLogger())

	_, err := o.Run(context.Background(), Job{
		ID:          uuid.New(),
		WorkspaceID: uuid.New(),
		Mode:        ModeFunnel,
		CSVText:     contactCSV(2),
		FunnelID:    uuid.New(),
		StageID:     uuid.New(),
	})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if recalc.calls != 0 {
		t.Fatalf("expected no recalculation for contact imports, got %d", recalc.calls)
	}
}

func TestRunEventModeResolvesCandidateFunnelsOnce(t *testing.T) {
	ingestor := newFakeIngestor()
	o := NewOrchestrator(ingestor, &fakeRecalculator{}, nil, 2, testLogger())

	_, err := o.Run(context.Background(), Job{
		ID:          uuid.New(),
		WorkspaceID: uuid.New(),
		Mode:        ModeEventOnly,
		CSVText:     contactCSV(5),
		EventName:   "compareceu",
	})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if ingestor.eventFunnelCalls != 1 {
		t.Fatalf("expected candidate funnels resolved once per job, got %d", ingestor.eventFunnelCalls)
	}
	if len(ingestor.gotCandidates) == 0 {
		t.Fatal("expected candidate funnels passed to every chunk")
	}
}

func TestRunUnknownModeCountsEverythingIgnored(t *testing.T) {
	ingestor := newFakeIngestor()
	o := NewOrchestrator(ingestor, &fakeRecalculator{}, nil, 10, testLogger())

	summary, err := o.Run(context.Background(), Job{
		ID:          uuid.New(),
		WorkspaceID: uuid.New(),
		Mode:        Mode("bogus"),
		CSVText:     contactCSV(3),
	})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if summary.Ignored != 3 {
		t.Fatalf("expected all rows ignored for an unknown mode, got %+v", summary)
	}
}

func TestRunRejectsEmptyCSV(t *testing.T) {
	o := NewOrchestrator(newFakeIngestor(), &fakeRecalculator{}, nil, 10, testLogger())
	if _, err := o.Run(context.Background(), Job{Mode: ModeFunnel, CSVText: ""}); err == nil {
		t.Fatal("expected error for empty csv")
	}
}
