package api

import (
	"errors"
	"net/http"

	"github.com/google/uuid"

	"github.com/covebase/cove/pkg/audit"
	"github.com/covebase/cove/pkg/documents"
	"github.com/covebase/cove/pkg/httputil"
	"github.com/covebase/cove/pkg/limits"
	"github.com/covebase/cove/pkg/objstore"
	"github.com/covebase/cove/pkg/observability"
	"github.com/covebase/cove/pkg/orgs"
	"github.com/covebase/cove/pkg/tenant"
	"github.com/covebase/cove/pkg/usage"
)

// maxUploadBytes caps a single document upload.
const maxUploadBytes = 32 << 20

type documentHandlers struct {
	store    *documents.Store
	pipeline *documents.Pipeline
	objects  objstore.Store
	resolver *orgs.Resolver
	ledger   *usage.Ledger
	enforcer *limits.Enforcer
	audit    *auditRecorder
	logger   *observability.Logger
}

func newDocumentHandlers(deps Deps) *documentHandlers {
	return &documentHandlers{
		store:    deps.Documents,
		pipeline: deps.Pipeline,
		objects:  deps.Objects,
		resolver: deps.Resolver,
		ledger:   deps.Ledger,
		enforcer: deps.Enforcer,
		audit:    &auditRecorder{logger: deps.Audit, log: deps.Logger},
		logger:   deps.Logger.WithComponent("document_handlers"),
	}
}

// upload handles POST /documents. The document is stored and queued for
// indexing; the response is 202 with the document in processing state.
func (h *documentHandlers) upload(w http.ResponseWriter, r *http.Request) {
	tc, err := tenant.From(r.Context())
	if err != nil {
		httputil.WriteUnauthorized(w, "authentication required")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		httputil.WriteValidationError(w, "invalid multipart upload")
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		httputil.WriteValidationError(w, "file field is required")
		return
	}
	defer file.Close()

	if header.Size <= 0 {
		httputil.WriteValidationError(w, "file is empty")
		return
	}

	org, err := h.resolver.Resolve(r.Context(), tc.OrgID)
	if err != nil {
		httputil.WriteInternalError(w, err)
		return
	}
	counter, err := currentUsage(r.Context(), h.ledger)
	if err != nil {
		httputil.WriteInternalError(w, err)
		return
	}
	if err := h.enforcer.Check(r.Context(), org, counter, usage.KindDocuments); err != nil {
		writeDomainError(w, err)
		return
	}

	contentType := header.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	// The object is written before the row so the pipeline never sees
	// a document without content. The key is org-prefixed.
	key := objstore.DocumentKey(tc.OrgID, uuid.New(), header.Filename)
	if err := h.objects.Put(r.Context(), key, file, contentType); err != nil {
		httputil.WriteInternalError(w, err)
		return
	}

	doc, err := h.store.Create(r.Context(), documents.CreateRequest{
		Filename:    header.Filename,
		ContentType: contentType,
		SizeBytes:   header.Size,
		StorageKey:  key,
	})
	if err != nil {
		if delErr := h.objects.Delete(r.Context(), key); delErr != nil {
			h.logger.WithError(delErr).Warn("Failed to clean up orphaned object")
		}
		writeDomainError(w, err)
		return
	}

	if err := h.ledger.Increment(r.Context(), usage.CurrentPeriod(), usage.KindDocuments, 1); err != nil {
		h.logger.WithError(err).Warn("Failed to increment document counter")
	}
	h.audit.record(r.Context(), audit.ActionDocumentUploaded, map[string]interface{}{
		"document_id": doc.ID.String(),
		"filename":    doc.Filename,
		"size_bytes":  doc.SizeBytes,
	})

	h.pipeline.Dispatch(doc)
	httputil.WriteJSON(w, http.StatusAccepted, doc)
}

// list handles GET /documents.
func (h *documentHandlers) list(w http.ResponseWriter, r *http.Request) {
	docs, err := h.store.List(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	httputil.WriteSuccess(w, docs)
}

// get handles GET /documents/{id}: metadata plus indexing status.
func (h *documentHandlers) get(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		httputil.WriteValidationError(w, "invalid document id")
		return
	}

	doc, err := h.store.Get(r.Context(), id)
	if errors.Is(err, documents.ErrNotFound) {
		httputil.WriteNotFoundError(w, "document not found")
		return
	}
	if err != nil {
		writeDomainError(w, err)
		return
	}
	httputil.WriteSuccess(w, doc)
}

// delete handles DELETE /documents/{id}: removes the row, the stored
// object, and releases the quota slot.
func (h *documentHandlers) delete(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		httputil.WriteValidationError(w, "invalid document id")
		return
	}

	doc, err := h.store.Delete(r.Context(), id)
	if errors.Is(err, documents.ErrNotFound) {
		httputil.WriteNotFoundError(w, "document not found")
		return
	}
	if err != nil {
		writeDomainError(w, err)
		return
	}

	if err := h.objects.Delete(r.Context(), doc.StorageKey); err != nil {
		h.logger.WithError(err).WithField("document_id", doc.ID.String()).
			Warn("Failed to delete stored object")
	}
	// documents_uploaded stays put: the counter is monotonic within a
	// period, so deleting does not refund upload quota.
	h.audit.record(r.Context(), audit.ActionDocumentDeleted, map[string]interface{}{
		"document_id": doc.ID.String(),
		"filename":    doc.Filename,
	})

	httputil.WriteNoContent(w)
}
