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
	"net"
	"net/http"
	"sync"

	"go.uber.org/zap"

	"github.com/apache/yunikorn-radb/pkg/log"
)

// RequestLimiter bounds the number of heavy requests in flight, in total and per client host.
type RequestLimiter struct {
	perHost      map[string]uint64 // number of requests per host
	total        uint64            // total number of requests
	limitTotal   uint64
	limitPerHost uint64
	sync.Mutex
}

func NewRequestLimiter(total, perHost uint64) *RequestLimiter {
	return &RequestLimiter{
		perHost:      make(map[string]uint64),
		limitTotal:   total,
		limitPerHost: perHost,
	}
}

func (rl *RequestLimiter) AddHost(host string) bool {
	rl.Lock()
	defer rl.Unlock()

	if rl.total >= rl.limitTotal {
		log.Log(log.REST).Info("Number of total heavy requests reached",
			zap.Uint64("limit", rl.limitTotal),
			zap.String("host", host))
		return false
	}
	if rl.perHost[host] >= rl.limitPerHost {
		log.Log(log.REST).Info("Per host heavy request limit reached",
			zap.Uint64("limit", rl.limitPerHost),
			zap.String("host", host))
		return false
	}

	rl.total++
	rl.perHost[host]++
	return true
}

func (rl *RequestLimiter) RemoveHost(host string) {
	rl.Lock()
	defer rl.Unlock()

	count, ok := rl.perHost[host]
	if !ok {
		log.Log(log.REST).Warn("Tried to remove a non-existing host from tracking",
			zap.String("host", host))
		return
	}

	rl.total--
	if count == 1 {
		delete(rl.perHost, host)
		return
	}
	rl.perHost[host]--
}

func (m *WebService) limited(inner http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		host, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			host = r.RemoteAddr
		}
		if !m.limiter.AddHost(host) {
			writeHeaders(w)
			buildJSONErrorResponse(w, "too many concurrent requests", http.StatusServiceUnavailable)
			return
		}
		defer m.limiter.RemoveHost(host)
		inner.ServeHTTP(w, r)
	})
}
