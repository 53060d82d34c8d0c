// Copyright 2026 The Cargolift Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package http

import (
	"net/http"
	"strings"

	"github.com/cargolift/cargolift/internal/session"
)

// requestSource derives the fingerprint inputs from the request. The IP
// may come from X-Forwarded-For; the fingerprint is a soft signal, so a
// spoofable header is acceptable here.
func requestSource(r *http.Request) session.Source {
	return session.Source{
		IP:             getClientIP(r),
		UserAgent:      r.UserAgent(),
		AcceptLanguage: r.Header.Get("Accept-Language"),
	}
}

// accessTokenFromRequest extracts the access token from the Authorization
// bearer header. Which transport carried it is irrelevant to validation.
func accessTokenFromRequest(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if after, ok := strings.CutPrefix(auth, "Bearer "); ok {
		return after
	}
	return ""
}
