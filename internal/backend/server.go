/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"ophthograph/internal/domain"
	applog "ophthograph/internal/log"
	"ophthograph/internal/version"
)

// DevSecret signs tokens when no secret is configured. Never use it outside development.
const DevSecret = "dev-secret-change-me"

const maxUploadBytes = 32 << 20

// Server serves the library API over an ItemStore.
type Server struct {
	store  ItemStore
	secret string
	log    *slog.Logger
	now    func() time.Time
}

func NewServer(store ItemStore, secret string) *Server {
	l := applog.WithComponent("backend")
	if secret == "" {
		secret = DevSecret
		l.Warn("auth secret not set; using insecure dev secret")
	}
	return &Server{store: store, secret: secret, log: l, now: time.Now}
}

// Handler returns the routes:
//
//	GET  /healthz, /readyz, /version
//	POST /api/auth/token           {subject, ttl_seconds} -> {token, expires_at}
//	GET  /api/library              item array, newest first
//	POST /api/library/upload       one item or an array (auth) -> {success, count}
//	POST /api/library/delete       {ids} (auth) -> {success, count}
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("GET /readyz", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.store.Ping(ctx); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("db not ready"))
			return
		}
		_, _ = w.Write([]byte("ready"))
	})
	mux.HandleFunc("GET /version", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte(version.String()))
	})
	mux.HandleFunc("POST /api/auth/token", s.handleToken)
	mux.HandleFunc("GET /api/library", s.handleList)
	mux.HandleFunc("POST /api/library/upload", s.withAuth(s.handleUpload))
	mux.HandleFunc("POST /api/library/delete", s.withAuth(s.handleDelete))
	return mux
}

func (s *Server) handleToken(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Subject    string `json:"subject"`
		TTLSeconds int64  `json:"ttl_seconds"`
	}
	b, _ := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	_ = json.Unmarshal(b, &req)
	if req.Subject == "" {
		req.Subject = "dev"
	}
	if req.TTLSeconds <= 0 || req.TTLSeconds > 24*3600 {
		req.TTLSeconds = 3600
	}
	exp := s.now().Add(time.Duration(req.TTLSeconds) * time.Second)
	tok, err := signToken(s.secret, req.Subject, exp)
	if err != nil {
		writeResult(w, http.StatusInternalServerError, false, 0, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"token":      tok,
		"expires_at": exp.UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	items, err := s.store.List(r.Context())
	if err != nil {
		s.log.Error("list items", slog.Any("err", err))
		writeResult(w, http.StatusInternalServerError, false, 0, "list failed")
		return
	}
	if items == nil {
		items = []domain.LibraryItem{}
	}
	writeJSON(w, http.StatusOK, items)
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request, subject string) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxUploadBytes+1))
	if err != nil {
		writeResult(w, http.StatusBadRequest, false, 0, "read body")
		return
	}
	if len(body) > maxUploadBytes {
		writeResult(w, http.StatusRequestEntityTooLarge, false, 0, "payload too large")
		return
	}
	items, err := decodeUpload(body)
	if err != nil {
		writeResult(w, http.StatusBadRequest, false, 0, err.Error())
		return
	}
	if err := s.store.Upsert(r.Context(), items, subject); err != nil {
		s.log.Error("upsert items", slog.Any("err", err))
		writeResult(w, http.StatusInternalServerError, false, 0, "store failed")
		return
	}
	s.log.Info("items uploaded", slog.Int("count", len(items)), slog.String("subject", subject))
	writeResult(w, http.StatusOK, true, len(items), "")
}

// decodeUpload accepts one item or an array of items. Every element must satisfy the item
// schema; one bad element rejects the whole request.
func decodeUpload(body []byte) ([]domain.LibraryItem, error) {
	body = bytes.TrimSpace(body)
	var raws []json.RawMessage
	switch {
	case len(body) == 0:
		return nil, errors.New("empty body")
	case body[0] == '[':
		if err := json.Unmarshal(body, &raws); err != nil {
			return nil, fmt.Errorf("decode items: %w", err)
		}
	default:
		raws = []json.RawMessage{body}
	}
	items := make([]domain.LibraryItem, 0, len(raws))
	for i, raw := range raws {
		problems, err := domain.ValidateItem(raw)
		if err != nil {
			return nil, fmt.Errorf("item %d: %w", i, err)
		}
		if len(problems) > 0 {
			return nil, fmt.Errorf("item %d: %s", i, strings.Join(problems, "; "))
		}
		var it domain.LibraryItem
		if err := json.Unmarshal(raw, &it); err != nil {
			return nil, fmt.Errorf("item %d: %w", i, err)
		}
		it.ServerSynced = false
		items = append(items, it)
	}
	return items, nil
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request, subject string) {
	var req struct {
		IDs []string `json:"ids"`
	}
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		writeResult(w, http.StatusBadRequest, false, 0, "decode ids")
		return
	}
	n, err := s.store.Delete(r.Context(), req.IDs)
	if err != nil {
		s.log.Error("delete items", slog.Any("err", err))
		writeResult(w, http.StatusInternalServerError, false, 0, "delete failed")
		return
	}
	s.log.Info("items deleted", slog.Int("count", n), slog.String("subject", subject))
	writeResult(w, http.StatusOK, true, n, "")
}

// ListenAndServe serves h on addr until ctx is cancelled, then shuts down gracefully.
func ListenAndServe(ctx context.Context, addr string, h http.Handler) error {
	srv := &http.Server{Addr: addr, Handler: h, ReadHeaderTimeout: 10 * time.Second}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	applog.WithComponent("backend").Info("server listening", slog.String("addr", addr))
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(sctx)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeResult(w http.ResponseWriter, status int, ok bool, count int, msg string) {
	body := map[string]any{"success": ok, "count": count}
	if msg != "" {
		body["error"] = msg
	}
	writeJSON(w, status, body)
}
