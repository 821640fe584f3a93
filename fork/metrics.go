// Copyright 2025 The go-ethereum Authors
// This file is part of the go-ethereum library.
//
// The go-ethereum library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The go-ethereum library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the go-ethereum library. If not, see <http://www.gnu.org/licenses/>.

package fork

import "github.com/ethereum/go-ethereum/metrics"

var (
	// createMeter counts the creation tasks started, createFailMeter the ones
	// that failed.
	createMeter     = metrics.NewRegisteredMeter("fork/create", nil)
	createFailMeter = metrics.NewRegisteredMeter("fork/create/fail", nil)
	createTimer     = metrics.NewRegisteredTimer("fork/create/time", nil)

	reuseMeter   = metrics.NewRegisteredMeter("fork/reuse", nil)   // requests served by an existing fork
	waiterMeter  = metrics.NewRegisteredMeter("fork/waiter", nil)  // requests joining an in-flight creation
	unknownMeter = metrics.NewRegisteredMeter("fork/unknown", nil) // rolls of unknown forks

	forksGauge   = metrics.NewRegisteredGauge("fork/forks", nil)
	pendingGauge = metrics.NewRegisteredGauge("fork/pending", nil)
	workersGauge = metrics.NewRegisteredGauge("fork/workers", nil)

	flushTimer = metrics.NewRegisteredResettingTimer("fork/flush/time", nil)
)
