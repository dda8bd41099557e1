// SPDX-License-Identifier: Apache-2.0

package domain

import "errors"

var ErrPresetNotFound = errors.New("client preset not found")
var ErrWorkflowNotFound = errors.New("workflow not found")
var ErrInvalidAlias = errors.New("invalid alias")
