// SPDX-FileCopyrightText: 2023 SAP SE or an SAP affiliate company and IronCore contributors
// SPDX-License-Identifier: Apache-2.0

package inventory

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPClientListDomains(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/domains", r.URL.Path)
		_ = json.NewEncoder(w).Encode([]DomainRecord{{ID: "d1", Name: "vm-1", HostID: "h1"}})
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, nil)
	domains, err := c.ListDomains(context.Background())
	require.NoError(t, err)
	require.Len(t, domains, 1)
	assert.Equal(t, "vm-1", domains[0].Name)
}

func TestHTTPClientStartDomainPropagatesErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, nil)
	err := c.StartDomain(context.Background(), "d1")
	require.Error(t, err)
}

func TestHTTPClientBindUserSendsJSONBody(t *testing.T) {
	var received map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/domains/d1/bind-user", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, nil)
	require.NoError(t, c.BindUser(context.Background(), "d1", "user-42"))
	assert.Equal(t, "user-42", received["user_id"])
}
