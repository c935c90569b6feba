package server

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/cognidesk/cognidesk/pkg/document"
	"github.com/cognidesk/cognidesk/pkg/fault"
	"github.com/cognidesk/cognidesk/pkg/indexing"
	"github.com/cognidesk/cognidesk/pkg/llm"
	"github.com/cognidesk/cognidesk/pkg/search"
)

// handleUploadDocument accepts a multipart file, extracts its text and
// queues it for indexing.
func (s *Server) handleUploadDocument(w http.ResponseWriter, r *http.Request) {
	if s.deps.Indexing == nil {
		respondError(w, fault.Unavailable("server", "indexing is not enabled"))
		return
	}

	if err := r.ParseMultipartForm(s.cfg.MaxUploadBytes); err != nil {
		respondError(w, fault.Validation("server", "invalid multipart request: %v", err))
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		respondError(w, fault.Validation("server", "file field is required: %v", err))
		return
	}
	defer file.Close()

	// The extractors work on paths, so spool the upload to a temp file with
	// the original extension intact.
	tmp, err := os.CreateTemp("", "upload-*"+filepath.Ext(header.Filename))
	if err != nil {
		respondError(w, fmt.Errorf("spool upload: %w", err))
		return
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, file); err != nil {
		tmp.Close()
		respondError(w, fmt.Errorf("spool upload: %w", err))
		return
	}
	tmp.Close()

	extracted, err := s.deps.Extractor.Extract(r.Context(), tmp.Name())
	if err != nil {
		respondError(w, fault.Validation("server", "extract %s: %v", header.Filename, err))
		return
	}

	metadata := map[string]interface{}{"filename": header.Filename}
	for k, v := range extracted.Metadata {
		metadata[k] = v
	}
	if extracted.Title != "" {
		metadata["title"] = extracted.Title
	}

	doc := document.Document{
		ID:        r.FormValue("document_id"),
		Content:   extracted.Content,
		Source:    header.Filename,
		Metadata:  metadata,
		CreatedAt: time.Now(),
	}
	if doc.ID == "" {
		doc.ID = uuid.NewString()
	}

	jobID, err := s.deps.Indexing.IndexDocument(r.Context(), doc)
	if err != nil {
		respondError(w, err)
		return
	}
	if s.deps.Metrics != nil {
		s.deps.Metrics.DocumentsIndexed.Inc()
	}
	respondJSON(w, http.StatusAccepted, map[string]interface{}{
		"document_id": doc.ID,
		"job_id":      jobID,
	})
}

type indexTextRequest struct {
	ID       string                 `json:"id,omitempty"`
	Content  string                 `json:"content"`
	Source   string                 `json:"source,omitempty"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

func (s *Server) handleIndexText(w http.ResponseWriter, r *http.Request) {
	if s.deps.Indexing == nil {
		respondError(w, fault.Unavailable("server", "indexing is not enabled"))
		return
	}

	var req indexTextRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, err)
		return
	}
	if strings.TrimSpace(req.Content) == "" {
		respondError(w, fault.Validation("server", "content is required"))
		return
	}

	doc := document.Document{
		ID:        req.ID,
		Content:   req.Content,
		Source:    req.Source,
		Metadata:  req.Metadata,
		CreatedAt: time.Now(),
	}
	if doc.ID == "" {
		doc.ID = uuid.NewString()
	}
	if doc.Source == "" {
		doc.Source = "api"
	}

	jobID, err := s.deps.Indexing.IndexDocument(r.Context(), doc)
	if err != nil {
		respondError(w, err)
		return
	}
	if s.deps.Metrics != nil {
		s.deps.Metrics.DocumentsIndexed.Inc()
	}
	respondJSON(w, http.StatusAccepted, map[string]interface{}{
		"document_id": doc.ID,
		"job_id":      jobID,
	})
}

func (s *Server) handleListDocuments(w http.ResponseWriter, r *http.Request) {
	if s.deps.Indexing == nil {
		respondError(w, fault.Unavailable("server", "indexing is not enabled"))
		return
	}

	limit := queryInt(r, "limit", 50)
	offset := queryInt(r, "offset", 0)
	status := indexing.Status(r.URL.Query().Get("status"))

	docs, err := s.deps.Indexing.ListDocuments(r.Context(), limit, offset, status)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"documents": docs,
		"limit":     limit,
		"offset":    offset,
	})
}

func (s *Server) handleDeleteDocument(w http.ResponseWriter, r *http.Request) {
	if s.deps.Indexing == nil {
		respondError(w, fault.Unavailable("server", "indexing is not enabled"))
		return
	}
	if err := s.deps.Indexing.DeleteDocument(r.Context(), chi.URLParam(r, "id")); err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusNoContent, nil)
}

type searchRequest struct {
	Query     string                 `json:"query"`
	TopK      int                    `json:"top_k,omitempty"`
	Type      string                 `json:"type,omitempty"`
	Threshold float64                `json:"threshold,omitempty"`
	Filters   map[string]interface{} `json:"filters,omitempty"`
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	if s.deps.Searcher == nil {
		respondError(w, fault.Unavailable("server", "search is not enabled"))
		return
	}

	var req searchRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, err)
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		respondError(w, fault.Validation("server", "query is required"))
		return
	}

	opts := search.Options{
		TopK:      req.TopK,
		Threshold: req.Threshold,
		Filters:   req.Filters,
	}
	if req.Type != "" {
		opts.Type = search.Type(req.Type)
	}

	results, err := s.deps.Searcher.Search(r.Context(), req.Query, opts)
	if err != nil {
		respondError(w, err)
		return
	}
	if s.deps.Metrics != nil {
		searchType := string(opts.Type)
		if searchType == "" {
			searchType = "default"
		}
		s.deps.Metrics.SearchQueries.WithLabelValues(searchType).Inc()
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"query":   req.Query,
		"results": results,
		"count":   len(results),
	})
}

type ragRequest struct {
	Question string `json:"question"`
	TopK     int    `json:"top_k,omitempty"`
}

// handleRAG answers a question from the indexed knowledge, with citations.
func (s *Server) handleRAG(w http.ResponseWriter, r *http.Request) {
	if s.deps.Searcher == nil {
		respondError(w, fault.Unavailable("server", "search is not enabled"))
		return
	}

	var req ragRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, err)
		return
	}
	if strings.TrimSpace(req.Question) == "" {
		respondError(w, fault.Validation("server", "question is required"))
		return
	}
	if req.TopK <= 0 {
		req.TopK = 5
	}

	results, err := s.deps.Searcher.Search(r.Context(), req.Question, search.Options{
		TopK: req.TopK,
		Type: search.TypeHybrid,
	})
	if err != nil {
		respondError(w, err)
		return
	}

	var citations interface{}
	if s.deps.Citations != nil {
		citations = s.deps.Citations.Generate(results, req.Question)
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"question":  req.Question,
		"answer":    s.answerFrom(r, req.Question, results),
		"citations": citations,
		"count":     len(results),
	})
}

// answerFrom asks the model when one is wired, otherwise returns the best
// snippet.
func (s *Server) answerFrom(r *http.Request, question string, results []search.Result) string {
	if len(results) == 0 {
		return "No relevant documents were found for this question."
	}

	if s.deps.Provider == nil {
		return results[0].Content
	}

	var b strings.Builder
	b.WriteString("Answer the question using only the context below.\n\nContext:")
	limit := 3
	if len(results) < limit {
		limit = len(results)
	}
	for i := 0; i < limit; i++ {
		snippet := results[i].Content
		if len(snippet) > 500 {
			end := 500
			for end > 0 && !utf8.RuneStart(snippet[end]) {
				end--
			}
			snippet = snippet[:end]
		}
		fmt.Fprintf(&b, "\n[%d] %s", i+1, snippet)
	}
	fmt.Fprintf(&b, "\n\nQuestion: %s", question)

	resp, err := s.deps.Provider.Complete(r.Context(), llm.Request{
		Messages: []llm.Message{
			{Role: "system", Content: "You answer questions from provided context. Cite the snippet numbers you use."},
			{Role: "user", Content: b.String()},
		},
	})
	if err != nil {
		return results[0].Content
	}
	return resp.Content
}

type embeddingsRequest struct {
	Texts []string `json:"texts"`
	Kind  string   `json:"kind,omitempty"`
}

func (s *Server) handleEmbeddings(w http.ResponseWriter, r *http.Request) {
	if s.deps.Engine == nil {
		respondError(w, fault.Unavailable("server", "embeddings are not enabled"))
		return
	}

	var req embeddingsRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, err)
		return
	}
	if len(req.Texts) == 0 {
		respondError(w, fault.Validation("server", "texts are required"))
		return
	}

	var vectors [][]float32
	var err error
	if req.Kind == "query" {
		vectors = make([][]float32, len(req.Texts))
		for i, text := range req.Texts {
			vectors[i], err = s.deps.Engine.EncodeQuery(r.Context(), text)
			if err != nil {
				break
			}
		}
	} else {
		vectors, err = s.deps.Engine.EncodeDocuments(r.Context(), req.Texts)
	}
	if err != nil {
		respondError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"model":      s.deps.Engine.ModelName(),
		"dimension":  s.deps.Engine.Dimension(),
		"embeddings": vectors,
	})
}
