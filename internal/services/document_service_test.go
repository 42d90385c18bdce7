package services_test

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/hestia-immo/parapheur/internal/db/models"
	"github.com/hestia-immo/parapheur/internal/services"
	"github.com/hestia-immo/parapheur/pkg/metrics"
)

func newDocumentService(t *testing.T) (*services.DocumentService, *orchestratorFixture) {
	t.Helper()
	fx := newOrchestratorFixture(t)
	return fx.documents, fx
}

func TestCreateDocumentValidation(t *testing.T) {
	ds, _ := newDocumentService(t)

	_, err := ds.CreateDocument("passport", "Titre", []byte("%PDF-1.7"))
	require.ErrorIs(t, err, services.ErrInvalidKind)

	_, err = ds.CreateDocument(models.KindLease, "Titre", nil)
	require.ErrorIs(t, err, services.ErrEmptyDocument)

	doc, err := ds.CreateDocument(models.KindLease, "Bail 12 rue des Lilas", []byte("%PDF-1.7"))
	require.NoError(t, err)
	require.Equal(t, models.StatusDraft, doc.Status)
	require.NotEmpty(t, doc.ID)
}

func TestUpdateDocumentLockedAfterFlowStart(t *testing.T) {
	ds, fx := newDocumentService(t)

	doc, err := ds.CreateDocument(models.KindInventory, "État des lieux", []byte("%PDF-1.7"))
	require.NoError(t, err)

	// Editable while DRAFT.
	updated, err := ds.UpdateDocument(doc.ID, "État des lieux - entrée", nil)
	require.NoError(t, err)
	require.Equal(t, "État des lieux - entrée", updated.Title)

	requests, err := fx.orchestrator.CreateFlow(doc.ID, twoSigners())
	require.NoError(t, err)
	_, _, err = fx.orchestrator.RequestOTP(requests[0].LinkToken)
	require.NoError(t, err)

	// SIGNING locks edits.
	_, err = ds.UpdateDocument(doc.ID, "nouvelle version", nil)
	require.ErrorIs(t, err, services.ErrDocumentLocked)
}

func TestCancelDocumentRules(t *testing.T) {
	ds, fx := newDocumentService(t)

	doc, err := ds.CreateDocument(models.KindLease, "Bail", []byte("%PDF-1.7"))
	require.NoError(t, err)

	cancelled, err := ds.CancelDocument(doc.ID)
	require.NoError(t, err)
	require.Equal(t, models.StatusCancelled, cancelled.Status)
	require.NotNil(t, cancelled.CancelledAt)

	// Cancelling again is a no-op.
	again, err := ds.CancelDocument(doc.ID)
	require.NoError(t, err)
	require.Equal(t, models.StatusCancelled, again.Status)

	// A fully signed document can never be cancelled.
	doc2, err := ds.CreateDocument(models.KindLease, "Bail signé", []byte("%PDF-1.7"))
	require.NoError(t, err)
	requests, err := fx.orchestrator.CreateFlow(doc2.ID, twoSigners())
	require.NoError(t, err)
	fx.signOne(t, requests[0].LinkToken)
	fx.signOne(t, requests[1].LinkToken)

	_, err = ds.CancelDocument(doc2.ID)
	require.ErrorIs(t, err, services.ErrDocumentFinalized)
}

func TestListDocumentsByStatus(t *testing.T) {
	database := newTestDB(t)
	ds := services.NewDocumentService(database, &fakeEngine{}, zap.NewNop(), metrics.NewMetricsCollector())

	_, err := ds.CreateDocument(models.KindLease, "Bail A", []byte("%PDF-1.7"))
	require.NoError(t, err)
	doc, err := ds.CreateDocument(models.KindReceipt, "Quittance", []byte("%PDF-1.7"))
	require.NoError(t, err)
	_, err = ds.CancelDocument(doc.ID)
	require.NoError(t, err)

	all, err := ds.ListDocuments("")
	require.NoError(t, err)
	require.Len(t, all, 2)

	drafts, err := ds.ListDocuments(models.StatusDraft)
	require.NoError(t, err)
	require.Len(t, drafts, 1)
	require.Equal(t, "Bail A", drafts[0].Title)
}

func TestGetDocumentNotFound(t *testing.T) {
	ds, _ := newDocumentService(t)

	_, err := ds.GetDocument("missing")
	require.ErrorIs(t, err, services.ErrDocumentNotFound)
}
