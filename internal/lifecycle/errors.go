/*
 * Copyright © 2025 Kaleido, Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with
 * the License. You may obtain a copy of the License at
 *
 * http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on
 * an "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied. See the License for the
 * specific language governing permissions and limitations under the License.
 *
 * SPDX-License-Identifier: Apache-2.0
 */

package lifecycle

import (
	"context"

	"github.com/hyperledger/firefly-common/pkg/i18n"
	"github.com/kaleido-io/matternode/internal/msgs"
)

// UninitializedDependencyError reports use of a component that has not
// finished (or was cancelled before finishing) initialization.
type UninitializedDependencyError struct {
	error
	Name   string
	Status Status
}

// IncapacitatedDependencyError reports use of a component whose
// initialization failed, carrying the original cause.
type IncapacitatedDependencyError struct {
	error
	Name  string
	Cause error
}

func (e *IncapacitatedDependencyError) Unwrap() error { return e.Cause }

func newNotReadyError(name string, status Status) error {
	return &UninitializedDependencyError{
		error:  i18n.NewError(context.Background(), msgs.MsgLifecycleNotReady, name, status),
		Name:   name,
		Status: status,
	}
}

func newIncapacitatedError(name string, cause error) error {
	return &IncapacitatedDependencyError{
		error: i18n.WrapError(context.Background(), cause, msgs.MsgLifecycleIncapacitated, name),
		Name:  name,
		Cause: cause,
	}
}

func newSecondStartError(name string) error {
	return i18n.NewError(context.Background(), msgs.MsgLifecycleSecondStart, name)
}
