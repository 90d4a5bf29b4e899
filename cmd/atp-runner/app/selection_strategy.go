// SPDX-FileCopyrightText: 2023 SAP SE or an SAP affiliate company and IronCore contributors
// SPDX-License-Identifier: Apache-2.0

package app

import (
	"reflect"

	"github.com/wooveep/atp-runner/internal/hostpool"
)

// SelectionStrategyValue adapts hostpool.SelectionStrategy into a
// pflag.Value, the same shape as the teacher's dropped GuestAgentOption
// (option_types.go): a named type over the domain enum with
// String/Set/Type.
type SelectionStrategyValue hostpool.SelectionStrategy

func (v *SelectionStrategyValue) String() string {
	return hostpool.SelectionStrategy(*v).String()
}

func (v *SelectionStrategyValue) Set(value string) error {
	s, err := hostpool.ParseSelectionStrategy(value)
	if err != nil {
		return err
	}
	*v = SelectionStrategyValue(s)
	return nil
}

func (v *SelectionStrategyValue) Type() string {
	return reflect.TypeOf(*v).String()
}

func (v *SelectionStrategyValue) Strategy() hostpool.SelectionStrategy {
	return hostpool.SelectionStrategy(*v)
}

func selectionStrategyOptionsAvailable() []string {
	return []string{
		hostpool.RoundRobin.String(),
		hostpool.LeastConnections.String(),
		hostpool.Random.String(),
	}
}
