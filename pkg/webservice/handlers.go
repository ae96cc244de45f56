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
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/julienschmidt/httprouter"
	"go.uber.org/zap"

	"github.com/apache/yunikorn-radb/pkg/common"
	"github.com/apache/yunikorn-radb/pkg/common/configs"
	"github.com/apache/yunikorn-radb/pkg/log"
	"github.com/apache/yunikorn-radb/pkg/metrics"
	"github.com/apache/yunikorn-radb/pkg/objects"
	"github.com/apache/yunikorn-radb/pkg/webservice/dao"
	"github.com/apache/yunikorn-radb/pkg/webservice/healthcheck"
)

const maxBodySize = 16 << 20

func writeHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json; charset=UTF-8")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Credentials", "true")
	w.Header().Set("Access-Control-Allow-Methods", "GET,POST,PUT,PATCH,DELETE,HEAD,OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "X-Requested-With,Content-Type,Accept,Origin,X-Request-ID")
}

func buildJSONErrorResponse(w http.ResponseWriter, detail string, code int) {
	w.WriteHeader(code)
	errorInfo := dao.NewYAPIError(errors.New(http.StatusText(code)), code, detail)
	if jsonErr := json.NewEncoder(w).Encode(errorInfo); jsonErr != nil {
		log.Log(log.REST).Error("failed to encode error response",
			zap.String("detail", detail),
			zap.Error(jsonErr))
	}
}

// errorStatus maps the error taxonomy on http status codes.
func errorStatus(err error) int {
	switch {
	case errors.Is(err, common.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, common.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, common.ErrDuplicate), errors.Is(err, common.ErrReference), errors.Is(err, common.ErrInvalidTransition):
		return http.StatusConflict
	case errors.Is(err, common.ErrConcurrentWrite), errors.Is(err, common.ErrDatabaseClosed):
		return http.StatusServiceUnavailable
	case errors.Is(err, common.ErrCouldNotFindClaim), errors.Is(err, common.ErrClaimDoesNotFit):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := errorStatus(err)
	if code == http.StatusInternalServerError {
		log.Log(log.REST).Error("request failed",
			zap.String("uri", r.RequestURI),
			zap.Error(err))
	}
	buildJSONErrorResponse(w, err.Error(), code)
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	if code != http.StatusOK {
		w.WriteHeader(code)
	}
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Log(log.REST).Error("failed to encode response", zap.Error(err))
	}
}

func decodeBody(r *http.Request, v interface{}) error {
	decoder := json.NewDecoder(io.LimitReader(r.Body, maxBodySize))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(v); err != nil {
		if errors.Is(err, common.ErrValidation) {
			return err
		}
		return common.NewValidationError("invalid request body: %v", err)
	}
	return nil
}

func pathID(r *http.Request) (int64, error) {
	return parseID(httprouter.ParamsFromContext(r.Context()).ByName("id"))
}

// queryList splits the comma separated values of a repeated query parameter. A missing parameter
// gives nil, a present but empty one an empty list.
func queryList(r *http.Request, key string) []string {
	values, ok := r.URL.Query()[key]
	if !ok {
		return nil
	}
	result := []string{}
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				result = append(result, part)
			}
		}
	}
	return result
}

func queryEnums[T any](r *http.Request, key string, parse func(string) (T, error)) ([]T, error) {
	names := queryList(r, key)
	if names == nil {
		return nil, nil
	}
	result := make([]T, 0, len(names))
	for _, name := range names {
		value, err := parse(name)
		if err != nil {
			return nil, err
		}
		result = append(result, value)
	}
	return result, nil
}

func parseID(value string) (int64, error) {
	id, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return 0, common.NewValidationError("invalid id '%s'", value)
	}
	return id, nil
}

func queryIDs(r *http.Request, key string) ([]int64, error) {
	return queryEnums(r, key, parseID)
}

func queryTime(r *http.Request, key string) (*time.Time, error) {
	value := r.URL.Query().Get(key)
	if value == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return nil, common.NewValidationError("invalid %s '%s', expected RFC 3339", key, value)
	}
	return &t, nil
}

// queryWindow returns both bounds, they are required.
func queryWindow(r *http.Request) (time.Time, time.Time, error) {
	start, err := queryTime(r, "lower_bound")
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	end, err := queryTime(r, "upper_bound")
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	if start == nil || end == nil {
		return time.Time{}, time.Time{}, common.NewValidationError("lower_bound and upper_bound are required")
	}
	return *start, *end, nil
}

func (m *WebService) getEnums(w http.ResponseWriter, r *http.Request) {
	writeHeaders(w)
	writeJSON(w, http.StatusOK, dao.EnumsDAOInfo{
		TaskStatuses:  m.db.GetTaskStatuses(),
		TaskTypes:     m.db.GetTaskTypes(),
		ClaimStatuses: m.db.GetResourceClaimStatuses(),
		ResourceTypes: m.db.GetResourceTypes(),
	})
}

func (m *WebService) getConfig(w http.ResponseWriter, r *http.Request) {
	writeHeaders(w)
	ratios, err := m.db.GetResourceAllocationConfig(r.Context(), r.URL.Query().Get("prefix"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, dao.ConfigDAOInfo{
		RADBConfig:    configs.ConfigContext.Get(),
		InstanceID:    m.db.InstanceID(),
		MaxFillRatios: ratios,
	})
}

func validateConf(w http.ResponseWriter, r *http.Request) {
	writeHeaders(w)
	requestBytes, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		buildJSONErrorResponse(w, err.Error(), http.StatusBadRequest)
		return
	}
	result := dao.ValidateConfResponse{Allowed: true}
	if _, err = configs.ParseAndValidateConfig(requestBytes); err != nil {
		result = dao.ValidateConfResponse{Allowed: false, Reason: err.Error()}
	}
	writeJSON(w, http.StatusOK, result)
}

func (m *WebService) getHealth(w http.ResponseWriter, r *http.Request) {
	writeHeaders(w)
	result := healthcheck.GetHealthStatus(r.Context(), m.db, metrics.GetRADBMetrics())
	code := http.StatusOK
	if !result.Healthy {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, result)
}

func (m *WebService) postFit(w http.ResponseWriter, r *http.Request) {
	writeHeaders(w)
	var request dao.FitDAOInfo
	if err := decodeBody(r, &request); err != nil {
		writeError(w, r, err)
		return
	}
	claims, err := m.checker.GetIsClaimable(r.Context(), request.Estimates, request.StartTime, request.EndTime)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if claims == nil {
		claims = []*objects.ResourceClaim{}
	}
	writeJSON(w, http.StatusOK, claims)
}
