// SPDX-FileCopyrightText: 2023 SAP SE or an SAP affiliate company and IronCore contributors
// SPDX-License-Identifier: Apache-2.0

package healthcheck

import (
	"fmt"
	"net/http"

	"github.com/go-logr/logr"

	"github.com/wooveep/atp-runner/internal/hostpool"
)

// HealthCheck reports whether the host pool has at least one live
// connection to every registered host. The teacher's original checked a
// single global *libvirt.Libvirt; that collapses to nothing once
// connections are pooled per host, so this reports healthy only when
// every host the pool knows about has at least one active connection.
type HealthCheck struct {
	Pool *hostpool.Pool
	Log  logr.Logger
}

func (h HealthCheck) HealthCheckHandler(w http.ResponseWriter, r *http.Request) {
	hosts := h.Pool.ListHosts()
	if len(hosts) == 0 {
		w.WriteHeader(http.StatusOK)
		return
	}

	for _, host := range hosts {
		active, err := h.Pool.ActiveConnectionCount(host)
		if err != nil {
			h.Log.V(1).Error(err, "failed to inspect host connection count", "host", host)
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		if active == 0 {
			h.Log.V(1).Info("host has no active connections", "host", host)
			w.WriteHeader(http.StatusInternalServerError)
			fmt.Fprintf(w, "host %s has no active connections\n", host)
			return
		}
	}

	w.WriteHeader(http.StatusOK)
}
