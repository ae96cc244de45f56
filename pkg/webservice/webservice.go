/*
 Licensed to the Apache Software Foundation (ASF) under one
 or more contributor license agreements.  See the NOTICE file
 distributed with this work for additional information
 regarding copyright ownership.  The ASF licenses this file
 to you under the Apache License, Version 2.0 (the
 "License"); you may not use this file except in compliance
 with the License.  You may obtain a copy of the License at

     http://www.apache.org/licenses/LICENSE-2.0

 Unless required by applicable law or agreed to in writing, software
 distributed under the License is distributed on an "AS IS" BASIS,
 WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 See the License for the specific language governing permissions and
 limitations under the License.
*/

package webservice

import (
	"compress/gzip"
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/julienschmidt/httprouter"
	"go.uber.org/zap"

	"github.com/apache/yunikorn-radb/pkg/common/configs"
	"github.com/apache/yunikorn-radb/pkg/fitter"
	"github.com/apache/yunikorn-radb/pkg/log"
	"github.com/apache/yunikorn-radb/pkg/radb"
)

const apiPrefix = "/radb/v1"

type WebService struct {
	httpServer *http.Server
	listener   net.Listener
	db         *radb.Database
	checker    *fitter.Checker
	limiter    *RequestLimiter
	conf       configs.WebServiceConfig
}

func NewWebApp(db *radb.Database, conf configs.WebServiceConfig) *WebService {
	return &WebService{
		db:      db,
		checker: fitter.NewChecker(db),
		limiter: NewRequestLimiter(conf.MaxHeavyRequests, conf.MaxHeavyRequestsPerHost),
		conf:    conf,
	}
}

func (m *WebService) newRouter() *httprouter.Router {
	router := httprouter.New()
	for _, webRoute := range m.routes() {
		var handler http.Handler = webRoute.HandlerFunc
		if webRoute.Heavy {
			handler = m.limited(handler)
		}
		handler = loggingHandler(handler, webRoute.Name)
		if !webRoute.Compressed {
			handler = gzipHandler(handler)
		}
		router.Handler(webRoute.Method, webRoute.Pattern, handler)
	}
	router.NotFound = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeHeaders(w)
		buildJSONErrorResponse(w, "no such endpoint: "+r.URL.Path, http.StatusNotFound)
	})
	return router
}

type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (rw *statusRecorder) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func loggingHandler(inner http.Handler, name string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", requestID)
		rw := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}
		inner.ServeHTTP(rw, r)
		log.Log(log.REST).Debug("web request",
			zap.String("requestID", requestID),
			zap.String("method", r.Method),
			zap.String("uri", r.RequestURI),
			zap.String("route", name),
			zap.Int("status", rw.statusCode),
			zap.Duration("duration", time.Since(start)))
	})
}

type gzipResponseWriter struct {
	io.Writer
	http.ResponseWriter
}

func (w gzipResponseWriter) Write(b []byte) (int, error) {
	return w.Writer.Write(b)
}

func gzipHandler(fn http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.Header.Get("Accept-Encoding"), "gzip") {
			fn.ServeHTTP(w, r)
			return
		}
		w.Header().Set("Content-Encoding", "gzip")
		w.Header().Del("Content-Length")
		gz := gzip.NewWriter(w)
		defer func() {
			if err := gz.Close(); err != nil {
				log.Log(log.REST).Error("failed to close gzip writer", zap.Error(err))
			}
		}()
		fn.ServeHTTP(gzipResponseWriter{Writer: gz, ResponseWriter: w}, r)
	})
}

// StartWebApp binds the configured address and serves in the background. The bound address is
// returned by Addr, which matters when the configured port is 0.
func (m *WebService) StartWebApp() error {
	listener, err := net.Listen("tcp", m.conf.Address)
	if err != nil {
		return err
	}
	m.listener = listener
	m.httpServer = &http.Server{
		Handler:           m.newRouter(),
		ReadHeaderTimeout: m.conf.ReadTimeout,
		ReadTimeout:       m.conf.ReadTimeout,
		WriteTimeout:      m.conf.WriteTimeout,
	}
	log.Log(log.REST).Info("web-app started", zap.String("address", listener.Addr().String()))
	go func() {
		httpError := m.httpServer.Serve(listener)
		if httpError != nil && !errors.Is(httpError, http.ErrServerClosed) {
			log.Log(log.REST).Error("HTTP serving error",
				zap.Error(httpError))
		}
	}()
	return nil
}

func (m *WebService) Addr() string {
	if m.listener == nil {
		return ""
	}
	return m.listener.Addr().String()
}

func (m *WebService) StopWebApp() error {
	if m.httpServer != nil {
		// graceful shutdown in 5 seconds
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return m.httpServer.Shutdown(ctx)
	}
	return nil
}
